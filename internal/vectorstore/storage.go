// Package vectorstore defines the vector index contract and the ranking rules
// shared by its backends.
package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"

	"healthai/internal/domain"
)

// Storage persists indexed records in a named collection and answers
// nearest-neighbour queries by cosine similarity.
//
// Operations on a collection that was never created fail with
// domain.ErrNotFound; only EnsureCollection creates one.
//
// DeleteDocument removes the document's records except the chunk ids listed
// in keep.
type Storage interface {
	EnsureCollection(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, records []domain.IndexedRecord) error
	Query(ctx context.Context, vector domain.Vector, k int, filter domain.Filter) ([]domain.SearchResult, error)
	DeleteDocument(ctx context.Context, documentID string, keep ...string) error
	Close() error
}

// Candidate is a scored record together with its insertion sequence.
type Candidate struct {
	Result domain.SearchResult
	Seq    int64
}

// Rank orders candidates by score descending, then by insertion recency, then
// by chunk id, and keeps at most k.
func Rank(candidates []Candidate, k int) []domain.SearchResult {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Result.Score != b.Result.Score {
			return a.Result.Score > b.Result.Score
		}
		if a.Seq != b.Seq {
			return a.Seq > b.Seq
		}
		return a.Result.Record.Chunk.ID < b.Result.Record.Chunk.ID
	})
	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]domain.SearchResult, k)
	for i := 0; i < k; i++ {
		out[i] = candidates[i].Result
	}
	return out
}

// Cosine returns the cosine similarity of two equally sized vectors, or 0 when
// either has zero norm.
func Cosine(a, b domain.Vector) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ValidateQuery checks k and the query dimension against the collection.
func ValidateQuery(vector domain.Vector, k, dimension int) error {
	if k <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidInput, k)
	}
	if len(vector) != dimension {
		return fmt.Errorf("%w: query has %d dimensions, collection has %d",
			domain.ErrDimensionMismatch, len(vector), dimension)
	}
	return nil
}

// ValidateRecord checks that a record can be stored in a collection of the
// given dimension.
func ValidateRecord(r domain.IndexedRecord, dimension int) error {
	if r.Chunk.ID == "" {
		return fmt.Errorf("%w: record has no chunk id", domain.ErrInvalidInput)
	}
	if len(r.Vector) != dimension {
		return fmt.Errorf("%w: record %s has %d dimensions, collection has %d",
			domain.ErrDimensionMismatch, r.Chunk.ID, len(r.Vector), dimension)
	}
	return nil
}

// ValidateDimension rejects non-positive collection dimensions.
func ValidateDimension(dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: invalid dimension %d", domain.ErrInvalidConfiguration, dimension)
	}
	return nil
}
