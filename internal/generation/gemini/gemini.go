// Package gemini generates answers with Google's Gemini chat models.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"healthai/internal/domain"
	"healthai/internal/generation"
	"healthai/internal/provider"
)

const DefaultModel = "gemini-1.5-flash-002"

type sendFunc func(ctx context.Context, system string, history []*genai.Content, message string, opts generation.Options) (*genai.GenerateContentResponse, error)

type Generator struct {
	model string
	send  sendFunc
}

var _ generation.Generator = (*Generator)(nil)

// New creates a Generator on an authenticated client. Each call starts a
// fresh chat seeded with the prompt's history.
func New(client *genai.Client, model string) *Generator {
	if model == "" {
		model = DefaultModel
	}
	return &Generator{model: model, send: func(ctx context.Context, system string, history []*genai.Content, message string, opts generation.Options) (*genai.GenerateContentResponse, error) {
		m := client.GenerativeModel(model)
		m.SetCandidateCount(1)
		m.SetTemperature(float32(opts.Temperature))
		m.SetMaxOutputTokens(int32(opts.MaxTokens))
		if system != "" {
			m.SystemInstruction = &genai.Content{
				Role:  "system",
				Parts: []genai.Part{genai.Text(system)},
			}
		}
		cs := m.StartChat()
		cs.History = history
		return cs.SendMessage(ctx, genai.Text(message))
	}}
}

func (g *Generator) ModelName() string { return g.model }

func (g *Generator) Generate(ctx context.Context, prompt domain.Prompt, opts generation.Options) (string, error) {
	n := len(prompt.Messages)
	if n == 0 || prompt.Messages[n-1].Role != domain.RoleUser {
		return "", fmt.Errorf("%w: prompt must end with a user message", domain.ErrInvalidInput)
	}
	history := make([]*genai.Content, 0, n-1)
	for _, m := range prompt.Messages[:n-1] {
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	resp, err := g.send(ctx, prompt.System, history, prompt.Messages[n-1].Content, opts)
	if err != nil {
		return "", provider.MapGeminiError(err, domain.ErrGenerationUnavailable)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: gemini returned no candidates", domain.ErrGenerationUnavailable)
	}
	c := resp.Candidates[0]
	switch c.FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return "", fmt.Errorf("%w: gemini finish reason %s", domain.ErrGenerationRejected, c.FinishReason)
	}
	if c.Content == nil {
		return "", fmt.Errorf("%w: gemini candidate has no content", domain.ErrGenerationUnavailable)
	}
	var b strings.Builder
	for _, part := range c.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}
