package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"healthai/internal/conversation"
	"healthai/internal/domain"
)

// TurnTimeout bounds a single answer, generation included.
const TurnTimeout = 2 * time.Minute

// ChatPort is the TUI-facing subset of the RAG service.
type ChatPort interface {
	SubmitTurn(ctx context.Context, sessionID, query string) (domain.TurnResult, error)
	Reset(sessionID string)
}

type exchange struct {
	query  string
	result domain.TurnResult
	err    error
}

// turnMsg carries a finished turn back into Update.
type turnMsg exchange

// Model is the Bubble Tea model for the chat application.
type Model struct {
	service    ChatPort
	sessionID  string
	input      textinput.Model
	viewport   viewport.Model
	transcript []exchange
	summary    string
	status     string
	cursor     int // selected source of the latest answer
	ready      bool
	busy       bool
}

// New creates a new TUI model bound to one conversation session.
func New(service ChatPort, sessionID, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a health question and press Enter (/reset clears the conversation)"
	ti.Focus()
	ti.CharLimit = conversation.DefaultMaxQueryChars
	vp := viewport.New(0, 0)
	return Model{service: service, sessionID: sessionID, input: ti, viewport: vp, summary: summary, status: "Ready."}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and turn events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around transcript and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		totalHeaderLines := 2                                    // header + summary
		totalFooterLines := 1                                    // status
		reserved := totalHeaderLines + totalFooterLines + qh + 1 // 1 spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.refresh()
		return m, nil
	case turnMsg:
		m.busy = false
		m.transcript = append(m.transcript, exchange(msg))
		m.cursor = 0
		if msg.err != nil {
			m.status = fmt.Sprintf("Failed (%s)", domain.KindOf(msg.err))
		} else {
			m.status = fmt.Sprintf("Answered with %d sources. Up/Down browses them.", len(msg.result.Sources))
		}
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		// Global quits
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.input.SetValue("")
			if q == "/reset" {
				m.service.Reset(m.sessionID)
				m.transcript = nil
				m.status = "Conversation cleared."
				m.refresh()
				return m, nil
			}
			m.busy = true
			m.status = "Thinking..."
			return m, m.ask(q)
		case "down":
			if n := len(m.latestSources()); n > 0 {
				m.cursor = (m.cursor + 1) % n
				m.refresh()
				return m, nil
			}
		case "up":
			if n := len(m.latestSources()); n > 0 {
				m.cursor = (m.cursor - 1 + n) % n
				m.refresh()
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(query string) tea.Cmd {
	service, session := m.service, m.sessionID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), TurnTimeout)
		defer cancel()
		res, err := service.SubmitTurn(ctx, session, query)
		return turnMsg{query: query, result: res, err: err}
	}
}

// View renders the TUI layout and the conversation.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("HealthAI Assistant")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) latestSources() []domain.Attribution {
	if len(m.transcript) == 0 {
		return nil
	}
	return m.transcript[len(m.transcript)-1].result.Sources
}

func (m Model) renderTranscript() string {
	if len(m.transcript) == 0 {
		return conversation.WelcomeMessage
	}
	var b strings.Builder
	for i, ex := range m.transcript {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(userStyle.Render("You: "))
		b.WriteString(ex.query)
		b.WriteString("\n")
		if ex.err != nil {
			b.WriteString(errorStyle.Render("Error: " + ex.err.Error()))
			continue
		}
		b.WriteString(assistantStyle.Render("HealthAI: "))
		b.WriteString(ex.result.Answer)
	}
	if sources := m.latestSources(); len(sources) > 0 {
		last := m.transcript[len(m.transcript)-1]
		b.WriteString("\n\nSources:")
		for i, s := range sources {
			line := fmt.Sprintf("[%d] %s  score=%.3f", i+1, s.Title, s.Score)
			if i == m.cursor {
				line = highlightStyle.Render(line)
			}
			b.WriteString("\n" + line)
		}
		b.WriteString("\n\n")
		b.WriteString(highlightBestSentence(sources[m.cursor].Preview, last.query))
	}
	return b.String()
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// highlightBestSentence marks the sentence of text sharing most words with query.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx := 0
	bestScore := -1
	for i, s := range sentences {
		score := tokenOverlapScore(qTokens, s)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
