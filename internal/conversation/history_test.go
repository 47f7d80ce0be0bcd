package conversation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthai/internal/domain"
)

func TestHistoryNeverExceedsBound(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 7; i++ {
		h.Append("s", domain.ConversationTurn{ID: fmt.Sprint(i)})
		assert.LessOrEqual(t, len(h.Turns("s")), 3)
	}
	got := h.Turns("s")
	require.Len(t, got, 3)
	assert.Equal(t, "5", got[0].ID)
	assert.Equal(t, "7", got[2].ID)
}

func TestHistoryEvictsFirstTurn(t *testing.T) {
	h := NewHistory(2)
	h.Append("s", domain.ConversationTurn{ID: "1"})
	h.Append("s", domain.ConversationTurn{ID: "2"})
	h.Append("s", domain.ConversationTurn{ID: "3"})
	got := h.Turns("s")
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
}

func TestHistoryDefaultsAndIsolation(t *testing.T) {
	h := NewHistory(0)
	assert.Equal(t, DefaultHistoryMaxTurns, h.MaxTurns())

	h.Append("a", domain.ConversationTurn{ID: "a1"})
	assert.Nil(t, h.Turns("b"))
	assert.Equal(t, 1, h.Sessions())

	turns := h.Turns("a")
	turns[0].ID = "mutated"
	assert.Equal(t, "a1", h.Turns("a")[0].ID)

	h.Reset("a")
	assert.Empty(t, h.Turns("a"))
	h.Reset("unknown")
}

func TestHistoryDropForgetsSession(t *testing.T) {
	h := NewHistory(2)
	h.Append("a", domain.ConversationTurn{ID: "a1"})
	h.Append("b", domain.ConversationTurn{ID: "b1"})

	h.Drop("a")
	h.Drop("missing")
	assert.Nil(t, h.Turns("a"))
	assert.Len(t, h.Turns("b"), 1)
	assert.Equal(t, 1, h.Sessions())
}

func TestHistoryDropWaitsForTurnInProgress(t *testing.T) {
	h := NewHistory(2)
	s := h.acquire("a")
	done := make(chan struct{})
	go func() {
		h.Drop("a")
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Drop returned while a turn held the session")
	case <-time.After(20 * time.Millisecond):
	}
	s.push(domain.ConversationTurn{ID: "a1"}, h.MaxTurns())
	s.mu.Unlock()
	<-done

	assert.Zero(t, h.Sessions())
	h.Append("a", domain.ConversationTurn{ID: "a2"})
	got := h.Turns("a")
	require.Len(t, got, 1)
	assert.Equal(t, "a2", got[0].ID)
}
