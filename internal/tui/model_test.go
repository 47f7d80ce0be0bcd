package tui

import (
	"context"
	"fmt"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthai/internal/conversation"
	"healthai/internal/domain"
)

type fakeChat struct {
	result domain.TurnResult
	err    error
	asked  []string
	resets int
}

func (f *fakeChat) SubmitTurn(_ context.Context, sessionID, query string) (domain.TurnResult, error) {
	f.asked = append(f.asked, sessionID+":"+query)
	return f.result, f.err
}

func (f *fakeChat) Reset(string) { f.resets++ }

func sized(t *testing.T, m Model) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(Model)
}

// submit types query, presses enter and feeds the finished turn back.
func submit(t *testing.T, m Model, query string) Model {
	t.Helper()
	m.input.SetValue(query)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	require.True(t, m.busy)
	require.NotNil(t, cmd)
	next, _ = m.Update(cmd())
	return next.(Model)
}

func TestViewBeforeResize(t *testing.T) {
	m := New(&fakeChat{}, "s1", "")
	assert.Equal(t, "Loading...", m.View())
}

func TestWelcomeMessageShownFirst(t *testing.T) {
	m := sized(t, New(&fakeChat{}, "s1", "Diabetes affects blood sugar."))
	assert.Contains(t, m.renderTranscript(), "Welcome to HealthAI Assistant")
	assert.Contains(t, m.View(), "Diabetes affects blood sugar.")
	assert.Equal(t, conversation.WelcomeMessage, m.renderTranscript())
}

func TestEnterRunsTurn(t *testing.T) {
	chat := &fakeChat{result: domain.TurnResult{
		Answer: "Diabetes is a chronic condition.",
		Sources: []domain.Attribution{
			{ChunkID: "diabetes:0", Title: "Diabetes", Score: 0.33, Preview: "Diabetes is a chronic condition."},
			{ChunkID: "diabetes:1", Title: "Diabetes", Score: 0.10, Preview: "Insulin moves glucose."},
		},
	}}
	m := submit(t, sized(t, New(chat, "s1", "")), "What is diabetes?")

	assert.False(t, m.busy)
	assert.Equal(t, []string{"s1:What is diabetes?"}, chat.asked)
	assert.Empty(t, m.input.Value())
	out := m.renderTranscript()
	assert.Contains(t, out, "What is diabetes?")
	assert.Contains(t, out, "Diabetes is a chronic condition.")
	assert.Contains(t, out, "[2] Diabetes")
	assert.Contains(t, m.status, "2 sources")
}

func TestUpDownCycleSources(t *testing.T) {
	chat := &fakeChat{result: domain.TurnResult{Answer: "a", Sources: []domain.Attribution{
		{Title: "A", Preview: "alpha."}, {Title: "B", Preview: "beta."}, {Title: "C", Preview: "gamma."},
	}}}
	m := submit(t, sized(t, New(chat, "s1", "")), "q")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Equal(t, 1, m.cursor)
	assert.Contains(t, m.renderTranscript(), "beta.")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	next, _ = next.(Model).Update(tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 2, next.(Model).cursor)
}

func TestFailedTurnShowsKind(t *testing.T) {
	chat := &fakeChat{err: fmt.Errorf("%w: embed query: timeout", domain.ErrRetrievalUnavailable)}
	m := submit(t, sized(t, New(chat, "s1", "")), "What is asthma?")
	assert.Contains(t, m.status, "RetrievalUnavailable")
	assert.Contains(t, m.renderTranscript(), "Error: retrieval unavailable")
}

func TestBlankAndBusyInputIgnored(t *testing.T) {
	chat := &fakeChat{}
	m := sized(t, New(chat, "s1", ""))
	m.input.SetValue("   ")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)

	m.busy = true
	m.input.SetValue("q")
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Empty(t, chat.asked)
}

func TestResetCommand(t *testing.T) {
	chat := &fakeChat{result: domain.TurnResult{Answer: "a"}}
	m := submit(t, sized(t, New(chat, "s1", "")), "q")
	require.Len(t, m.transcript, 1)

	m.input.SetValue("/reset")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	assert.Nil(t, cmd)
	assert.Equal(t, 1, chat.resets)
	assert.Empty(t, m.transcript)
}

func TestCtrlCQuits(t *testing.T) {
	_, cmd := New(&fakeChat{}, "s1", "").Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestTokenOverlapScore(t *testing.T) {
	q := toTokenSet("What is Diabetes?")
	assert.Equal(t, 2, tokenOverlapScore(q, "Diabetes is common. Diabetes"))
	assert.Equal(t, 0, tokenOverlapScore(q, "Insulin moves glucose."))
	assert.Equal(t, "", highlightBestSentence("", "q"))
}
