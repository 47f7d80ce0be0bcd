package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthai/internal/chunker"
	"healthai/internal/domain"
	"healthai/internal/embedding"
	"healthai/internal/embedding/local"
	"healthai/internal/extract"
	"healthai/internal/generation"
	"healthai/internal/generation/extractive"
	"healthai/internal/ingest"
	"healthai/internal/summarizer"
	"healthai/internal/vectorstore/memory"
)

type fakeEmbedder struct {
	err   error
	calls atomic.Int32
}

func (f *fakeEmbedder) Embed(ctx context.Context, _ string) (domain.Vector, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return domain.Vector{1, 0}, nil
}

type fakeIndex struct {
	results []domain.SearchResult
	err     error
	delay   time.Duration
	gotK    int
}

func (f *fakeIndex) Query(ctx context.Context, _ domain.Vector, k int, _ domain.Filter) ([]domain.SearchResult, error) {
	f.gotK = k
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, ctx.Err())
		}
	}
	return f.results, f.err
}

type fakeGenerator struct {
	answer  string
	err     error
	onCall  func()
	prompts []domain.Prompt

	mu       sync.Mutex
	inFlight int
	peak     int
}

func (f *fakeGenerator) Generate(_ context.Context, p domain.Prompt) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, p)
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall()
	}
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	return f.answer, f.err
}

func result(docID string, index int, score float64, text string) domain.SearchResult {
	return domain.SearchResult{
		Score: score,
		Record: domain.IndexedRecord{
			Chunk: domain.Chunk{ID: chunker.ChunkID(docID, index), DocumentID: docID, Index: index, Text: text},
			Title: strings.ToUpper(docID[:1]) + docID[1:],
		},
	}
}

func newEngine(t *testing.T, emb Embedder, idx Index, gen Generator, cfg Config) *Engine {
	t.Helper()
	e, err := New(emb, idx, gen, cfg)
	require.NoError(t, err)
	return e
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, &fakeIndex{}, &fakeGenerator{}, Config{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	_, err = New(&fakeEmbedder{}, &fakeIndex{}, &fakeGenerator{}, Config{TopK: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	_, err = New(&fakeEmbedder{}, &fakeIndex{}, &fakeGenerator{}, Config{Style: "poetic"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestSubmitTurnCompletes(t *testing.T) {
	idx := &fakeIndex{results: []domain.SearchResult{
		result("diabetes", 0, 0.9, "Diabetes is a chronic condition affecting blood sugar regulation."),
		result("diabetes", 1, 0.4, "Insulin moves glucose into cells."),
	}}
	gen := &fakeGenerator{answer: "Diabetes affects blood sugar."}
	e := newEngine(t, &fakeEmbedder{}, idx, gen, Config{})

	res, err := e.SubmitTurn(context.Background(), "s1", "  What is diabetes?  ")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, res.State)
	assert.Equal(t, []domain.TurnState{
		domain.StateReceivedQuery, domain.StateEmbedded, domain.StateRetrieved,
		domain.StatePromptAssembled, domain.StateGenerated, domain.StateCompleted,
	}, res.Trace)
	assert.Equal(t, "Diabetes affects blood sugar.", res.Answer)
	assert.False(t, res.NoContext)
	assert.Equal(t, DefaultTopK, idx.gotK)
	require.Len(t, res.Sources, 2)
	assert.Equal(t, "diabetes:0", res.Sources[0].ChunkID)
	assert.Equal(t, "Diabetes", res.Sources[0].Title)
	assert.Equal(t, 0.9, res.Sources[0].Score)
	assert.NotEmpty(t, res.TurnID)

	history := e.History("s1")
	require.Len(t, history, 1)
	assert.Equal(t, "What is diabetes?", history[0].Query)
	assert.Equal(t, []string{"diabetes:0", "diabetes:1"}, history[0].ChunkIDs)
	assert.Equal(t, res.TurnID, history[0].ID)

	require.Len(t, gen.prompts, 1)
	p := gen.prompts[0]
	assert.Contains(t, p.System, "(chunk diabetes:0)")
	assert.Equal(t, "What is diabetes?", p.Query())
}

func TestEmptyQueryFailsBeforeBackends(t *testing.T) {
	emb := &fakeEmbedder{}
	gen := &fakeGenerator{answer: "x"}
	e := newEngine(t, emb, &fakeIndex{}, gen, Config{})

	for _, q := range []string{"", "   \n\t"} {
		res, err := e.SubmitTurn(context.Background(), "s1", q)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Equal(t, domain.StateFailed, res.State)
		assert.Equal(t, domain.KindInvalidInput, res.ErrorKind)
		assert.Equal(t, []domain.TurnState{domain.StateReceivedQuery, domain.StateFailed}, res.Trace)
	}
	assert.Zero(t, emb.calls.Load())
	assert.Empty(t, gen.prompts)
	assert.Empty(t, e.History("s1"))
}

func TestQueryTooLong(t *testing.T) {
	e := newEngine(t, &fakeEmbedder{}, &fakeIndex{}, &fakeGenerator{answer: "x"}, Config{MaxQueryChars: 10})
	_, err := e.SubmitTurn(context.Background(), "s1", strings.Repeat("é", 11))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = e.SubmitTurn(context.Background(), "s1", strings.Repeat("é", 10))
	assert.NoError(t, err)
}

func TestEmbeddingFailureIsRetrievalUnavailable(t *testing.T) {
	gen := &fakeGenerator{answer: "x"}
	e := newEngine(t, &fakeEmbedder{err: fmt.Errorf("%w: timeout", domain.ErrBackendUnavailable)}, &fakeIndex{}, gen, Config{})

	res, err := e.SubmitTurn(context.Background(), "s1", "What is asthma?")
	assert.ErrorIs(t, err, domain.ErrRetrievalUnavailable)
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
	assert.Equal(t, domain.KindRetrievalUnavailable, res.ErrorKind)
	assert.Equal(t, []domain.TurnState{domain.StateReceivedQuery, domain.StateFailed}, res.Trace)
	assert.Empty(t, gen.prompts)
	assert.Empty(t, e.History("s1"))
}

func TestNoContextMarker(t *testing.T) {
	gen := &fakeGenerator{answer: "I don't know."}
	e := newEngine(t, &fakeEmbedder{}, &fakeIndex{}, gen, Config{})

	res, err := e.SubmitTurn(context.Background(), "s1", "What is gout?")
	require.NoError(t, err)
	assert.True(t, res.NoContext)
	assert.Empty(t, res.Sources)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0].System, NoContextMarker)
	require.Len(t, e.History("s1"), 1)
}

func TestMinScoreFiltersWeakMatches(t *testing.T) {
	idx := &fakeIndex{results: []domain.SearchResult{
		result("asthma", 0, 0.5, "Asthma affects the airways."),
		result("gout", 0, 0.05, "Gout is a form of arthritis."),
		result("flu", 0, 0, "Influenza is viral."),
	}}
	e := newEngine(t, &fakeEmbedder{}, idx, &fakeGenerator{answer: "x"}, Config{MinScore: 0.1})
	res, err := e.SubmitTurn(context.Background(), "s1", "asthma?")
	require.NoError(t, err)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "asthma:0", res.Sources[0].ChunkID)
}

func TestIndexFailures(t *testing.T) {
	e := newEngine(t, &fakeEmbedder{}, &fakeIndex{err: fmt.Errorf("%w: 503", domain.ErrIndexUnavailable)}, &fakeGenerator{answer: "x"}, Config{})
	res, err := e.SubmitTurn(context.Background(), "s1", "q")
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
	assert.Equal(t, []domain.TurnState{domain.StateReceivedQuery, domain.StateEmbedded, domain.StateFailed}, res.Trace)

	e = newEngine(t, &fakeEmbedder{}, &fakeIndex{delay: time.Second}, &fakeGenerator{answer: "x"}, Config{QueryTimeout: 20 * time.Millisecond})
	_, err = e.SubmitTurn(context.Background(), "s1", "q")
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
	assert.Empty(t, e.History("s1"))
}

func TestGenerationFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind domain.Kind
	}{
		{"rejected", fmt.Errorf("%w: content_filtered", domain.ErrGenerationRejected), domain.KindGenerationRejected},
		{"unavailable", fmt.Errorf("%w: 503", domain.ErrGenerationUnavailable), domain.KindGenerationUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, &fakeEmbedder{}, &fakeIndex{}, &fakeGenerator{err: tt.err}, Config{})
			res, err := e.SubmitTurn(context.Background(), "s1", "q")
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.kind, res.ErrorKind)
			assert.Equal(t, domain.StateFailed, res.State)
			assert.Empty(t, res.Answer)
			assert.Empty(t, e.History("s1"))
		})
	}
}

func TestCancelledDuringGenerationCommitsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &fakeGenerator{answer: "late answer", onCall: cancel}
	e := newEngine(t, &fakeEmbedder{}, &fakeIndex{}, gen, Config{})

	res, err := e.SubmitTurn(ctx, "s1", "What is asthma?")
	assert.ErrorIs(t, err, domain.ErrCancelled)
	assert.Equal(t, domain.KindCancelled, res.ErrorKind)
	assert.Equal(t, domain.StateFailed, res.State)
	assert.Empty(t, res.Answer)
	assert.Empty(t, e.History("s1"))
}

func TestCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	emb := &fakeEmbedder{}
	e := newEngine(t, emb, &fakeIndex{}, &fakeGenerator{answer: "x"}, Config{})
	_, err := e.SubmitTurn(ctx, "s1", "q")
	assert.ErrorIs(t, err, domain.ErrCancelled)
	assert.Zero(t, emb.calls.Load())
}

func TestHistoryFIFOAndPromptHistory(t *testing.T) {
	gen := &fakeGenerator{answer: "ok"}
	e := newEngine(t, &fakeEmbedder{}, &fakeIndex{}, gen, Config{HistoryMaxTurns: 2})

	for i := 1; i <= 3; i++ {
		_, err := e.SubmitTurn(context.Background(), "s1", fmt.Sprintf("question %d", i))
		require.NoError(t, err)
	}
	history := e.History("s1")
	require.Len(t, history, 2)
	assert.Equal(t, "question 2", history[0].Query)
	assert.Equal(t, "question 3", history[1].Query)

	// The third prompt carried the two earlier turns, oldest first.
	third := gen.prompts[2]
	require.Len(t, third.Messages, 5)
	assert.Equal(t, "question 1", third.Messages[0].Content)
	assert.Equal(t, domain.RoleAssistant, third.Messages[1].Role)
	assert.Equal(t, "question 3", third.Messages[4].Content)

	assert.Empty(t, e.History("other"))
	e.Reset("s1")
	assert.Empty(t, e.History("s1"))
}

func TestSameSessionTurnsAreSerialised(t *testing.T) {
	gen := &fakeGenerator{answer: "ok", onCall: func() { time.Sleep(5 * time.Millisecond) }}
	e := newEngine(t, &fakeEmbedder{}, &fakeIndex{}, gen, Config{HistoryMaxTurns: 10})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.SubmitTurn(context.Background(), "shared", fmt.Sprintf("q%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, gen.peak)
	assert.Len(t, e.History("shared"), 6)
}

func TestSessionsAreIndependent(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var first atomic.Bool
	gen := &fakeGenerator{answer: "ok"}
	gen.onCall = func() {
		if first.CompareAndSwap(false, true) {
			started <- struct{}{}
			<-release
		}
	}
	e := newEngine(t, &fakeEmbedder{}, &fakeIndex{}, gen, Config{})

	done := make(chan struct{})
	go func() {
		_, _ = e.SubmitTurn(context.Background(), "slow", "q")
		close(done)
	}()
	<-started

	// Another session completes while the first still holds its lock.
	res, err := e.SubmitTurn(context.Background(), "fast", "q")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, res.State)

	close(release)
	<-done
	assert.Len(t, e.History("slow"), 1)
}

func TestTurnIDsAreUnique(t *testing.T) {
	e := newEngine(t, &fakeEmbedder{}, &fakeIndex{}, &fakeGenerator{answer: "x"}, Config{})
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id := e.newID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}

const diabetesText = "Diabetes is a chronic condition affecting blood sugar regulation. " +
	"Insulin moves glucose from the bloodstream into cells for energy. " +
	"Regular exercise and balanced meals help maintain healthy glucose..."

func TestDiabetesScenarioEndToEnd(t *testing.T) {
	ctx := context.Background()
	client, err := embedding.NewClient(local.NewEmbedder(512), embedding.Options{})
	require.NoError(t, err)
	ch, err := chunker.New(chunker.Options{MaxSize: 80, Overlap: 20})
	require.NoError(t, err)
	proc, err := ingest.NewProcessor(extract.NewRegistry(), ch, client, ingest.Options{})
	require.NoError(t, err)
	store := memory.NewStorage("kb")
	require.NoError(t, store.EnsureCollection(ctx, 512))

	res, err := proc.Ingest(ctx, domain.RawDocument{ID: "diabetes", Title: "Diabetes", Source: "diabetes.txt", Content: []byte(diabetesText)})
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, res.Records))

	gen, err := generation.NewClient(extractive.New(summarizer.NewFrequencySummarizer(), 1), generation.Options{}, 0)
	require.NoError(t, err)
	e := newEngine(t, client, store, gen, Config{TopK: 3})

	turn, err := e.SubmitTurn(ctx, "s1", "What is diabetes?")
	require.NoError(t, err)
	require.NotEmpty(t, turn.Sources)
	assert.Equal(t, "diabetes:0", turn.Sources[0].ChunkID)
	assert.True(t, strings.HasPrefix(turn.Answer, "Diabetes is a chronic condition"), turn.Answer)
	assert.Contains(t, turn.Answer, extractive.Disclaimer)

	// An unrelated question finds nothing and the offline backend says so.
	turn, err = e.SubmitTurn(ctx, "s1", "How do I fix a bicycle chain?")
	require.NoError(t, err)
	assert.True(t, turn.NoContext)
	assert.Equal(t, extractive.NoContextAnswer, turn.Answer)
}

func TestFailedResultMessage(t *testing.T) {
	e := newEngine(t, &fakeEmbedder{err: errors.New("connection refused")}, &fakeIndex{}, &fakeGenerator{}, Config{})
	res, err := e.SubmitTurn(context.Background(), "s1", "q")
	require.Error(t, err)
	assert.Contains(t, res.Message, "connection refused")
}
