// Package ingest turns raw documents into embedded records ready for the
// vector index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"healthai/internal/domain"
	"healthai/internal/logger"
)

const (
	DefaultBatchSize   = 16
	DefaultConcurrency = 4
)

// Embedder produces one vector per text, in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([]domain.Vector, error)
}

// Extractor builds a Document from a raw source.
type Extractor interface {
	Document(ctx context.Context, raw domain.RawDocument) (domain.Document, error)
}

type Options struct {
	BatchSize   int
	Concurrency int
}

// Processor runs extract, chunk and embed. It does not write to the index.
type Processor struct {
	extractor   Extractor
	chunker     domain.Chunker
	embedder    Embedder
	batchSize   int
	concurrency int
}

// Result is the outcome of processing one document. Records holds the
// chunks that embedded successfully, ordered by chunk index. Skipped lists
// whitespace-only chunks, which have nothing to embed.
type Result struct {
	Document domain.Document
	Chunks   []domain.Chunk
	Records  []domain.IndexedRecord
	Failed   []domain.ChunkFailure
	Skipped  []int
}

// IngestResult summarises r for callers outside the pipeline.
func (r Result) IngestResult() domain.IngestResult {
	indexed := make([]int, len(r.Records))
	for i, rec := range r.Records {
		indexed[i] = rec.Chunk.Index
	}
	return domain.IngestResult{
		DocumentID: r.Document.ID,
		Title:      r.Document.Title,
		Chunks:     len(r.Chunks),
		Indexed:    indexed,
		Failed:     r.Failed,
		Skipped:    r.Skipped,
	}
}

// FailedIndices returns the chunk indices that failed to embed.
func (r Result) FailedIndices() []int {
	out := make([]int, len(r.Failed))
	for i, f := range r.Failed {
		out[i] = f.Index
	}
	return out
}

func NewProcessor(extractor Extractor, chunker domain.Chunker, embedder Embedder, opts Options) (*Processor, error) {
	if extractor == nil || chunker == nil || embedder == nil {
		return nil, fmt.Errorf("%w: processor needs an extractor, a chunker and an embedder", domain.ErrInvalidConfiguration)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Processor{
		extractor:   extractor,
		chunker:     chunker,
		embedder:    embedder,
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
	}, nil
}

// Ingest extracts raw and processes the resulting document.
func (p *Processor) Ingest(ctx context.Context, raw domain.RawDocument) (Result, error) {
	if raw.ID == "" {
		return Result{}, fmt.Errorf("%w: document id is required", domain.ErrInvalidInput)
	}
	doc, err := p.extractor.Document(ctx, raw)
	if err != nil {
		return Result{}, err
	}
	return p.Process(ctx, doc)
}

// Process chunks and embeds an extracted document.
func (p *Processor) Process(ctx context.Context, doc domain.Document) (Result, error) {
	chunks, err := p.chunker.Chunk(doc)
	if err != nil {
		return Result{}, fmt.Errorf("chunk %s: %w", doc.ID, err)
	}
	indices := make([]int, len(chunks))
	for i := range chunks {
		indices[i] = i
	}
	return p.embed(ctx, doc, chunks, indices)
}

// IngestChunks re-embeds only the listed chunk indices of doc, typically
// the failures of an earlier run. Chunking is deterministic so the indices
// refer to the same spans. Repeated indices are embedded once.
func (p *Processor) IngestChunks(ctx context.Context, doc domain.Document, indices []int) (Result, error) {
	chunks, err := p.chunker.Chunk(doc)
	if err != nil {
		return Result{}, fmt.Errorf("chunk %s: %w", doc.ID, err)
	}
	for _, i := range indices {
		if i < 0 || i >= len(chunks) {
			return Result{}, fmt.Errorf("%w: chunk index %d out of range [0,%d)", domain.ErrInvalidInput, i, len(chunks))
		}
	}
	return p.embed(ctx, doc, chunks, indices)
}

func (p *Processor) embed(ctx context.Context, doc domain.Document, chunks []domain.Chunk, indices []int) (Result, error) {
	res := Result{Document: doc, Chunks: chunks}

	// Each index owns one slot below, so it must appear once.
	indices = slices.Compact(slices.Sorted(slices.Values(indices)))
	var pending []int
	for _, i := range indices {
		if strings.TrimSpace(chunks[i].Text) == "" {
			res.Skipped = append(res.Skipped, i)
			continue
		}
		pending = append(pending, i)
	}
	indices = pending

	logger.Section("Ingest " + doc.ID)
	logger.Info("document %q: %d chunks, embedding %d", doc.Title, len(chunks), len(indices))
	if len(res.Skipped) > 0 {
		logger.Debug("document %s: skipped blank chunks %v", doc.ID, res.Skipped)
	}

	// Slots are written by index so no locking is needed.
	vectors := make([]domain.Vector, len(chunks))
	failures := make([]error, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for start := 0; start < len(indices); start += p.batchSize {
		batch := indices[start:min(start+p.batchSize, len(indices))]
		g.Go(func() error {
			p.embedBatch(gctx, chunks, batch, vectors, failures)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: ingest %s: %v", domain.ErrCancelled, doc.ID, err)
	}

	for _, i := range indices {
		c := chunks[i]
		if err := failures[i]; err != nil {
			res.Failed = append(res.Failed, domain.ChunkFailure{
				Index:   i,
				ChunkID: c.ID,
				Kind:    domain.KindOf(err),
				Message: err.Error(),
			})
			continue
		}
		res.Records = append(res.Records, domain.IndexedRecord{
			Chunk:      c,
			Vector:     vectors[i],
			Title:      doc.Title,
			SourceType: doc.SourceType,
		})
	}
	if len(res.Failed) > 0 {
		logger.Warn("document %s: %d of %d chunks failed to embed", doc.ID, len(res.Failed), len(indices))
	}
	return res, nil
}

func (p *Processor) embedBatch(ctx context.Context, chunks []domain.Chunk, batch []int, vectors []domain.Vector, failures []error) {
	texts := make([]string, len(batch))
	for j, i := range batch {
		texts[j] = chunks[i].Text
	}
	out, err := p.embedder.EmbedBatch(ctx, texts)
	if err == nil {
		for j, i := range batch {
			vectors[i] = out[j]
		}
		return
	}
	// One bad input rejects the whole call; embed individually to find it.
	if errors.Is(err, domain.ErrInvalidInput) && len(batch) > 1 {
		for _, i := range batch {
			p.embedBatch(ctx, chunks, []int{i}, vectors, failures)
		}
		return
	}
	logger.Debug("batch %v failed: %v", batch, err)
	for _, i := range batch {
		failures[i] = err
	}
}
