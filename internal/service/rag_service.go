// Package service is the public surface of the RAG core: it ingests
// documents into the vector index and answers conversation turns, retrying
// transient failures at this edge only.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"healthai/internal/conversation"
	"healthai/internal/domain"
	"healthai/internal/ingest"
	"healthai/internal/logger"
	"healthai/internal/retry"
	"healthai/internal/source"
	"healthai/internal/vectorstore"
)

// sizingText is embedded once to learn the backend's vector size.
const sizingText = "vector size check"

var errIncomplete = fmt.Errorf("%w: some chunks are still unembedded", domain.ErrBackendUnavailable)

type Options struct {
	SummaryMaxSentences int
	Retry               retry.Policy
	// S3 loads s3:// locations in IngestPaths. Nil disables them.
	S3 *source.S3Loader
}

type RAGService struct {
	processor           *ingest.Processor
	embedder            conversation.Embedder
	store               vectorstore.Storage
	engine              *conversation.Engine
	summarizer          domain.Summarizer
	summaryMaxSentences int
	retry               retry.Policy
	s3                  *source.S3Loader

	mu        sync.Mutex
	summaries map[string]string // document id -> summary
}

func NewRAGService(processor *ingest.Processor, embedder conversation.Embedder, store vectorstore.Storage, engine *conversation.Engine, summarizer domain.Summarizer, opts Options) *RAGService {
	if opts.Retry.Attempts <= 0 {
		opts.Retry = retry.Default()
	}
	return &RAGService{
		processor:           processor,
		embedder:            embedder,
		store:               store,
		engine:              engine,
		summarizer:          summarizer,
		summaryMaxSentences: opts.SummaryMaxSentences,
		retry:               opts.Retry,
		s3:                  opts.S3,
		summaries:           make(map[string]string),
	}
}

// EnsureIndex creates the collection sized to the embedding backend.
func (s *RAGService) EnsureIndex(ctx context.Context) (int, error) {
	vec, err := retry.Do(ctx, s.retry, func(ctx context.Context) (domain.Vector, error) {
		return s.embedder.Embed(ctx, sizingText)
	})
	if err != nil {
		return 0, fmt.Errorf("detect embedding dimension: %w", err)
	}
	_, err = retry.Do(ctx, s.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.EnsureCollection(ctx, len(vec))
	})
	if err != nil {
		return 0, err
	}
	logger.Info("collection ready with %d dimensions", len(vec))
	return len(vec), nil
}

// IngestDocument extracts, chunks and embeds raw, then replaces the
// document's records in the index. Chunks that keep failing after retries
// are reported in the result; when none embedded the index is left as it was.
func (s *RAGService) IngestDocument(ctx context.Context, raw domain.RawDocument) (domain.IngestResult, error) {
	res, err := s.process(ctx, raw)
	if err != nil {
		return domain.IngestResult{DocumentID: raw.ID}, err
	}
	out := res.IngestResult()
	if len(res.Records) == 0 {
		logger.Warn("document %s: nothing embedded, index unchanged", raw.ID)
		return out, nil
	}

	// Write the new records before pruning, so a failed write leaves the
	// previous version searchable. Earlier records of chunks that failed
	// this time are kept until a later run replaces them.
	_, err = retry.Do(ctx, s.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.Upsert(ctx, res.Records)
	})
	if err != nil {
		return out, fmt.Errorf("index %s: %w", res.Document.ID, err)
	}
	keep := make([]string, 0, len(res.Records)+len(res.Failed))
	for _, r := range res.Records {
		keep = append(keep, r.Chunk.ID)
	}
	for _, f := range res.Failed {
		keep = append(keep, f.ChunkID)
	}
	_, err = retry.Do(ctx, s.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.DeleteDocument(ctx, res.Document.ID, keep...)
	})
	if err != nil {
		return out, fmt.Errorf("prune stale records of %s: %w", res.Document.ID, err)
	}

	if s.summarizer != nil {
		summary, err := s.summarizer.Summarize(res.Document.Text, s.summaryMaxSentences)
		if err != nil {
			logger.Warn("summarize %s: %v", res.Document.ID, err)
		} else {
			out.Summary = summary
			s.mu.Lock()
			s.summaries[res.Document.ID] = summary
			s.mu.Unlock()
		}
	}
	logger.Info("document %s: indexed %d of %d chunks", out.DocumentID, len(out.Indexed), out.Chunks)
	return out, nil
}

// process runs the pipeline and re-embeds transiently failed chunks under
// the retry policy.
func (s *RAGService) process(ctx context.Context, raw domain.RawDocument) (ingest.Result, error) {
	var (
		res     ingest.Result
		started bool
	)
	_, err := retry.Do(ctx, s.retry, func(ctx context.Context) (struct{}, error) {
		if !started {
			first, err := s.processor.Ingest(ctx, raw)
			if err != nil {
				return struct{}{}, err
			}
			res, started = first, true
		} else {
			again, err := s.processor.IngestChunks(ctx, res.Document, retryableIndices(res.Failed))
			if err != nil {
				return struct{}{}, err
			}
			res = merge(res, again)
		}
		if len(retryableIndices(res.Failed)) > 0 {
			return struct{}{}, errIncomplete
		}
		return struct{}{}, nil
	})
	if err != nil && !errors.Is(err, errIncomplete) {
		return ingest.Result{}, err
	}
	if cerr := ctx.Err(); cerr != nil {
		return ingest.Result{}, fmt.Errorf("%w: ingest %s: %v", domain.ErrCancelled, raw.ID, cerr)
	}
	return res, nil
}

func retryableIndices(failed []domain.ChunkFailure) []int {
	var out []int
	for _, f := range failed {
		switch f.Kind {
		case domain.KindBackendUnavailable, domain.KindRateLimited:
			out = append(out, f.Index)
		}
	}
	return out
}

// merge folds a partial re-run into an earlier result.
func merge(prev, again ingest.Result) ingest.Result {
	retried := make(map[int]bool)
	for _, r := range again.Records {
		retried[r.Chunk.Index] = true
	}
	for _, f := range again.Failed {
		retried[f.Index] = true
	}
	var failed []domain.ChunkFailure
	for _, f := range prev.Failed {
		if !retried[f.Index] {
			failed = append(failed, f)
		}
	}
	failed = append(failed, again.Failed...)
	sort.Slice(failed, func(i, j int) bool { return failed[i].Index < failed[j].Index })

	records := append(append([]domain.IndexedRecord(nil), prev.Records...), again.Records...)
	sort.Slice(records, func(i, j int) bool { return records[i].Chunk.Index < records[j].Chunk.Index })

	prev.Records = records
	prev.Failed = failed
	return prev
}

// IngestPaths loads local paths, globs, directories and s3:// locations and
// ingests every document found. A document that fails does not stop the
// others; the failures are joined into the returned error.
func (s *RAGService) IngestPaths(ctx context.Context, paths []string) ([]domain.IngestResult, error) {
	var (
		docs  []domain.RawDocument
		local []string
	)
	for _, p := range paths {
		if !source.IsS3URI(p) {
			local = append(local, p)
			continue
		}
		if s.s3 == nil {
			return nil, fmt.Errorf("%w: %s: S3 source is not configured", domain.ErrInvalidConfiguration, p)
		}
		found, err := s.s3.Load(ctx, p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, found...)
	}
	if len(local) > 0 {
		found, err := source.LoadPaths(local)
		if err != nil {
			return nil, err
		}
		docs = append(docs, found...)
	}

	results := make([]domain.IngestResult, 0, len(docs))
	var errs []error
	for _, raw := range docs {
		res, err := s.IngestDocument(ctx, raw)
		if err != nil {
			if errors.Is(err, domain.ErrCancelled) || ctx.Err() != nil {
				return results, err
			}
			logger.Warn("ingest %s: %v", raw.Source, err)
			errs = append(errs, fmt.Errorf("%s: %w", raw.Source, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// Purge removes every record of a document.
func (s *RAGService) Purge(ctx context.Context, documentID string) error {
	if strings.TrimSpace(documentID) == "" {
		return fmt.Errorf("%w: document id is empty", domain.ErrInvalidInput)
	}
	_, err := retry.Do(ctx, s.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.DeleteDocument(ctx, documentID)
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.summaries, documentID)
	s.mu.Unlock()
	return nil
}

// SubmitTurn answers a query within a session. Transient failures are
// retried; a failed turn never touches the session history, so retrying is
// safe.
func (s *RAGService) SubmitTurn(ctx context.Context, sessionID, query string) (domain.TurnResult, error) {
	var last domain.TurnResult
	_, err := retry.Do(ctx, s.retry, func(ctx context.Context) (struct{}, error) {
		res, err := s.engine.SubmitTurn(ctx, sessionID, query)
		last = res
		return struct{}{}, err
	})
	return last, err
}

// History returns a session's completed turns.
func (s *RAGService) History(sessionID string) []domain.ConversationTurn {
	return s.engine.History(sessionID)
}

// Reset clears a session's history.
func (s *RAGService) Reset(sessionID string) {
	s.engine.Reset(sessionID)
}

// Drop releases a session that will not be used again.
func (s *RAGService) Drop(sessionID string) {
	s.engine.Drop(sessionID)
}

// KnowledgeSummary summarises the documents ingested by this process.
func (s *RAGService) KnowledgeSummary() (string, error) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.summaries))
	for id := range s.summaries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(s.summaries[id])
		b.WriteString("\n")
	}
	s.mu.Unlock()
	if s.summarizer == nil || b.Len() == 0 {
		return "", nil
	}
	return s.summarizer.Summarize(b.String(), s.summaryMaxSentences)
}

// Close releases the vector store.
func (s *RAGService) Close() error {
	return s.store.Close()
}
