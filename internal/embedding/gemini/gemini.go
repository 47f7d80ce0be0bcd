// Package gemini embeds text with Google's Gemini embedding models.
package gemini

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"

	"healthai/internal/domain"
	"healthai/internal/provider"
)

const (
	DefaultModel = "text-embedding-004"
	// maxBatch is the API limit on requests per batchEmbedContents call.
	maxBatch = 100
)

type batchFunc func(ctx context.Context, texts []string) ([][]float32, error)

// Embedder calls batchEmbedContents in groups of at most 100 texts.
type Embedder struct {
	model string
	batch batchFunc
}

// New creates an Embedder on an authenticated client.
func New(client *genai.Client, model string) *Embedder {
	if model == "" {
		model = DefaultModel
	}
	em := client.EmbeddingModel(model)
	em.TaskType = genai.TaskTypeRetrievalDocument
	return &Embedder{model: model, batch: func(ctx context.Context, texts []string) ([][]float32, error) {
		b := em.NewBatch()
		for _, t := range texts {
			b.AddContent(genai.Text(t))
		}
		resp, err := em.BatchEmbedContents(ctx, b)
		if err != nil {
			return nil, err
		}
		out := make([][]float32, len(resp.Embeddings))
		for i, e := range resp.Embeddings {
			if e != nil {
				out[i] = e.Values
			}
		}
		return out, nil
	}}
}

// ModelName returns the Gemini model name.
func (e *Embedder) ModelName() string { return e.model }

// Embed returns one vector per text, in order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([]domain.Vector, error) {
	out := make([]domain.Vector, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))
		values, err := e.batch(ctx, texts[start:end])
		if err != nil {
			return nil, provider.MapGeminiError(err, domain.ErrBackendUnavailable)
		}
		if len(values) != end-start {
			return nil, fmt.Errorf("%w: gemini returned %d embeddings for %d inputs",
				domain.ErrBackendUnavailable, len(values), end-start)
		}
		for _, v := range values {
			out = append(out, domain.Vector(v))
		}
	}
	return out, nil
}
