// Package conversation runs grounded question answering turns over the
// vector index and keeps a short per-session history.
package conversation

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"healthai/internal/domain"
	"healthai/internal/logger"
)

const (
	DefaultTopK          = 3
	DefaultMaxQueryChars = 2000
	DefaultQueryTimeout  = 10 * time.Second
	// PreviewChars is the length of source previews in attributions.
	PreviewChars = 200
)

// Embedder embeds the user's query.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.Vector, error)
}

// Index answers nearest-neighbour queries. vectorstore.Storage satisfies it.
type Index interface {
	Query(ctx context.Context, vector domain.Vector, k int, filter domain.Filter) ([]domain.SearchResult, error)
}

// Generator produces the answer. generation.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, prompt domain.Prompt) (string, error)
}

type Config struct {
	TopK            int
	HistoryMaxTurns int
	ContextLimit    int
	MaxQueryChars   int
	// MinScore drops retrieved records scoring at or below it.
	MinScore     float64
	QueryTimeout time.Duration
	Style        Style
	Filter       domain.Filter
}

// Engine runs turns. It is safe for concurrent use; turns on the same
// session are serialised.
type Engine struct {
	embedder  Embedder
	index     Index
	generator Generator
	prompts   *PromptBuilder
	history   *History
	cfg       Config
	now       func() time.Time

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func New(embedder Embedder, index Index, generator Generator, cfg Config) (*Engine, error) {
	if embedder == nil || index == nil || generator == nil {
		return nil, fmt.Errorf("%w: engine needs an embedder, an index and a generator", domain.ErrInvalidConfiguration)
	}
	if cfg.TopK < 0 || cfg.HistoryMaxTurns < 0 || cfg.MaxQueryChars < 0 {
		return nil, fmt.Errorf("%w: top_k, history_max_turns and max_query_chars must not be negative", domain.ErrInvalidConfiguration)
	}
	if cfg.TopK == 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.MaxQueryChars == 0 {
		cfg.MaxQueryChars = DefaultMaxQueryChars
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	prompts, err := NewPromptBuilder(cfg.Style, cfg.ContextLimit)
	if err != nil {
		return nil, err
	}
	return &Engine{
		embedder:  embedder,
		index:     index,
		generator: generator,
		prompts:   prompts,
		history:   NewHistory(cfg.HistoryMaxTurns),
		cfg:       cfg,
		now:       time.Now,
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// History returns a session's completed turns, oldest first.
func (e *Engine) History(sessionID string) []domain.ConversationTurn {
	return e.history.Turns(sessionID)
}

// Reset clears a session's history.
func (e *Engine) Reset(sessionID string) {
	e.history.Reset(sessionID)
}

// Drop releases a finished session.
func (e *Engine) Drop(sessionID string) {
	e.history.Drop(sessionID)
}

// turn tracks one run of the state machine.
type turn struct {
	result domain.TurnResult
}

func (t *turn) advance(s domain.TurnState) {
	t.result.State = s
	t.result.Trace = append(t.result.Trace, s)
}

func (t *turn) fail(err error) (domain.TurnResult, error) {
	t.advance(domain.StateFailed)
	t.result.ErrorKind = domain.KindOf(err)
	t.result.Message = err.Error()
	t.result.Answer = ""
	logger.Warn("turn %s failed: %s: %v", t.result.TurnID, t.result.ErrorKind, err)
	return t.result, err
}

// SubmitTurn answers query within a session. The returned result always
// carries the state trace; on failure it is in StateFailed with the error
// kind, err is non-nil and the session history is unchanged.
func (e *Engine) SubmitTurn(ctx context.Context, sessionID, query string) (domain.TurnResult, error) {
	t := &turn{result: domain.TurnResult{SessionID: sessionID, TurnID: e.newID()}}
	t.advance(domain.StateReceivedQuery)
	logger.Section("Turn " + t.result.TurnID)

	query = strings.TrimSpace(query)
	if query == "" {
		return t.fail(fmt.Errorf("%w: query is empty", domain.ErrInvalidInput))
	}
	if n := utf8.RuneCountInString(query); n > e.cfg.MaxQueryChars {
		return t.fail(fmt.Errorf("%w: query has %d characters, limit is %d", domain.ErrInvalidInput, n, e.cfg.MaxQueryChars))
	}
	if strings.TrimSpace(sessionID) == "" {
		return t.fail(fmt.Errorf("%w: session id is empty", domain.ErrInvalidInput))
	}

	s := e.history.acquire(sessionID)
	defer s.mu.Unlock()

	if err := checkCancelled(ctx); err != nil {
		return t.fail(err)
	}
	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		if cerr := checkCancelled(ctx); cerr != nil {
			return t.fail(cerr)
		}
		return t.fail(fmt.Errorf("%w: embed query: %w", domain.ErrRetrievalUnavailable, err))
	}
	t.advance(domain.StateEmbedded)

	if err := checkCancelled(ctx); err != nil {
		return t.fail(err)
	}
	results, err := e.retrieve(ctx, vector)
	if err != nil {
		return t.fail(err)
	}
	t.advance(domain.StateRetrieved)
	logger.Info("retrieved %d records", len(results))

	prompt, used, err := e.prompts.Build(query, results, s.snapshot())
	if err != nil {
		return t.fail(err)
	}
	t.result.NoContext = len(used) == 0
	t.advance(domain.StatePromptAssembled)
	logger.Debug("prompt: %d chars, %d sources, %d messages", prompt.Len(), len(used), len(prompt.Messages))

	if err := checkCancelled(ctx); err != nil {
		return t.fail(err)
	}
	answer, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		if cerr := checkCancelled(ctx); cerr != nil {
			return t.fail(cerr)
		}
		return t.fail(err)
	}
	t.advance(domain.StateGenerated)

	// A turn cancelled while generation was in flight is not committed.
	if err := checkCancelled(ctx); err != nil {
		return t.fail(err)
	}
	chunkIDs := make([]string, len(used))
	sources := make([]domain.Attribution, len(used))
	for i, r := range used {
		chunkIDs[i] = r.Record.Chunk.ID
		sources[i] = domain.Attribution{
			ChunkID:    r.Record.Chunk.ID,
			DocumentID: r.Record.Chunk.DocumentID,
			Title:      r.Record.Title,
			Score:      r.Score,
			Preview:    preview(r.Record.Chunk.Text, PreviewChars),
		}
	}
	s.push(domain.ConversationTurn{
		ID:        t.result.TurnID,
		Query:     query,
		ChunkIDs:  chunkIDs,
		Answer:    answer,
		CreatedAt: e.now(),
	}, e.history.MaxTurns())

	t.result.Answer = answer
	t.result.Sources = sources
	t.advance(domain.StateCompleted)
	return t.result, nil
}

func (e *Engine) retrieve(ctx context.Context, vector domain.Vector) ([]domain.SearchResult, error) {
	qctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()
	results, err := e.index.Query(qctx, vector, e.cfg.TopK, e.cfg.Filter)
	if err != nil {
		if cerr := checkCancelled(ctx); cerr != nil {
			return nil, cerr
		}
		if errors.Is(qctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: query timed out after %s: %v", domain.ErrIndexUnavailable, e.cfg.QueryTimeout, err)
		}
		return nil, err
	}
	kept := results[:0:0]
	for _, r := range results {
		if r.Score > e.cfg.MinScore {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	}
	return nil
}

func (e *Engine) newID() string {
	e.idMu.Lock()
	defer e.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(e.now()), e.entropy).String()
}
