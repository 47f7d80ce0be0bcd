package conversation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"healthai/internal/domain"
)

// Style selects the system instruction.
type Style string

const (
	StyleDefault  Style = "default"
	StyleDetailed Style = "detailed"
	StyleConcise  Style = "concise"
)

// DefaultContextLimit is the prompt budget in characters.
const DefaultContextLimit = 12000

const contextPlaceholder = "{context}"

// NoContextMarker replaces the context block when nothing was retrieved.
const NoContextMarker = "NO SUPPORTING CONTEXT FOUND. The knowledge base has no material on this question. " +
	"Say so plainly, do not guess or state medical facts from memory, " +
	"and recommend consulting a healthcare professional."

// WelcomeMessage greets users of interactive front ends.
const WelcomeMessage = "Welcome to HealthAI Assistant! I'm here to help you find " +
	"reliable health information based on trusted medical references.\n\n" +
	"How can I assist you today?"

var templates = map[Style]string{
	StyleDefault: `You are HealthAI Assistant, a knowledgeable and empathetic health information specialist. Your role is to provide accurate, helpful responses based on the medical reference materials in your knowledge base.

GUIDELINES:
- Provide clear, concise answers using the retrieved context
- If information is not available in the context, acknowledge limitations honestly
- Always encourage users to consult healthcare professionals for medical decisions
- Maintain a warm, supportive tone while remaining professional
- Keep responses focused and under 3-4 sentences when possible

RETRIEVED CONTEXT:
{context}

Remember: You provide health information for educational purposes only. You do not diagnose conditions or prescribe treatments.`,

	StyleDetailed: `You are HealthAI Assistant, specialized in providing comprehensive health information. Based on the reference materials provided, give a thorough yet accessible explanation.

GUIDELINES:
- Structure your response with clear sections if needed
- Use simple language to explain complex medical concepts
- Include relevant details from the source materials
- Provide context to help users understand the information better

REFERENCE MATERIALS:
{context}

Important: This information is for educational purposes. Always recommend consulting qualified healthcare providers for personal medical advice.`,

	StyleConcise: `You are HealthAI Assistant. Provide a brief, direct answer based on the available information.

Available Information:
{context}

Respond in 1-2 sentences maximum. Be accurate and helpful.`,
}

// ParseStyle validates a configured prompt style. Empty means default.
func ParseStyle(s string) (Style, error) {
	if s == "" {
		return StyleDefault, nil
	}
	st := Style(strings.ToLower(s))
	if _, ok := templates[st]; !ok {
		return "", fmt.Errorf("%w: unknown prompt style %q", domain.ErrInvalidConfiguration, s)
	}
	return st, nil
}

// PromptBuilder assembles prompts deterministically within a character budget.
type PromptBuilder struct {
	template string
	limit    int
}

func NewPromptBuilder(style Style, limit int) (*PromptBuilder, error) {
	if style == "" {
		style = StyleDefault
	}
	tmpl, ok := templates[style]
	if !ok {
		return nil, fmt.Errorf("%w: unknown prompt style %q", domain.ErrInvalidConfiguration, style)
	}
	if limit < 0 {
		return nil, fmt.Errorf("%w: context limit must not be negative", domain.ErrInvalidConfiguration)
	}
	if limit == 0 {
		limit = DefaultContextLimit
	}
	return &PromptBuilder{template: tmpl, limit: limit}, nil
}

// Limit returns the prompt budget in characters.
func (b *PromptBuilder) Limit() int { return b.limit }

// Build assembles the prompt from results (most similar first), history
// (oldest first) and the query. While over budget it drops the least similar
// result, then the oldest turn. It returns the results that made it in.
func (b *PromptBuilder) Build(query string, results []domain.SearchResult, history []domain.ConversationTurn) (domain.Prompt, []domain.SearchResult, error) {
	for {
		p := b.assemble(query, results, history)
		if p.Len() <= b.limit {
			return p, results, nil
		}
		switch {
		case len(results) > 0:
			results = results[:len(results)-1]
		case len(history) > 0:
			history = history[1:]
		default:
			return domain.Prompt{}, nil, fmt.Errorf("%w: system instruction and query need %d characters, limit is %d",
				domain.ErrInvalidInput, p.Len(), b.limit)
		}
	}
}

func (b *PromptBuilder) assemble(query string, results []domain.SearchResult, history []domain.ConversationTurn) domain.Prompt {
	block := NoContextMarker
	var texts []string
	if len(results) > 0 {
		var sb strings.Builder
		for i, r := range results {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			rec := r.Record
			title := rec.Title
			if title == "" {
				title = rec.Chunk.DocumentID
			}
			fmt.Fprintf(&sb, "[%d] %s (chunk %s)\n%s", i+1, title, rec.Chunk.ID, rec.Chunk.Text)
			texts = append(texts, rec.Chunk.Text)
		}
		block = sb.String()
	}
	p := domain.Prompt{
		System:   strings.Replace(b.template, contextPlaceholder, block, 1),
		Messages: make([]domain.Message, 0, 2*len(history)+1),
		Context:  texts,
	}
	for _, t := range history {
		p.Messages = append(p.Messages,
			domain.Message{Role: domain.RoleUser, Content: t.Query},
			domain.Message{Role: domain.RoleAssistant, Content: t.Answer},
		)
	}
	p.Messages = append(p.Messages, domain.Message{Role: domain.RoleUser, Content: query})
	return p
}

// preview returns the first n characters of s.
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
