// Package storetest is a conformance suite run against every vector store
// backend.
package storetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthai/internal/domain"
	"healthai/internal/vectorstore"
)

// Factory returns an empty store bound to the named collection.
type Factory func(t *testing.T, collection string) vectorstore.Storage

// Record builds a test record for documentID with the given chunk index.
func Record(documentID string, index int, vector ...float32) domain.IndexedRecord {
	return domain.IndexedRecord{
		Chunk: domain.Chunk{
			ID:         fmt.Sprintf("%s:%d", documentID, index),
			DocumentID: documentID,
			Index:      index,
			Start:      index * 10,
			End:        index*10 + 10,
			Text:       fmt.Sprintf("chunk %d of %s", index, documentID),
		},
		Vector:     vector,
		Title:      "Title " + documentID,
		SourceType: domain.SourceTypePlainText,
	}
}

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("MissingCollection", func(t *testing.T) { testMissingCollection(t, newStore) })
	t.Run("EnsureCollection", func(t *testing.T) { testEnsureCollection(t, newStore) })
	t.Run("QueryOrdering", func(t *testing.T) { testQueryOrdering(t, newStore) })
	t.Run("TopKOfFive", func(t *testing.T) { testTopKOfFive(t, newStore) })
	t.Run("DimensionMismatch", func(t *testing.T) { testDimensionMismatch(t, newStore) })
	t.Run("UpsertReplaces", func(t *testing.T) { testUpsertReplaces(t, newStore) })
	t.Run("TieBreakByRecency", func(t *testing.T) { testTieBreak(t, newStore) })
	t.Run("Filter", func(t *testing.T) { testFilter(t, newStore) })
	t.Run("DeleteDocument", func(t *testing.T) { testDeleteDocument(t, newStore) })
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newStore) })
}

func ready(t *testing.T, newStore Factory, dimension int) vectorstore.Storage {
	t.Helper()
	s := newStore(t, "medical")
	require.NoError(t, s.EnsureCollection(context.Background(), dimension))
	return s
}

func testMissingCollection(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, "missing")

	_, err := s.Query(ctx, domain.Vector{1, 0}, 3, domain.Filter{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	err = s.Upsert(ctx, []domain.IndexedRecord{Record("d", 0, 1, 0)})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.DeleteDocument(ctx, "d"), domain.ErrNotFound)
}

func testEnsureCollection(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, "medical")
	assert.ErrorIs(t, s.EnsureCollection(ctx, 0), domain.ErrInvalidConfiguration)
	require.NoError(t, s.EnsureCollection(ctx, 3))
	require.NoError(t, s.EnsureCollection(ctx, 3))
	assert.ErrorIs(t, s.EnsureCollection(ctx, 4), domain.ErrDimensionMismatch)
}

func testQueryOrdering(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := ready(t, newStore, 2)
	require.NoError(t, s.Upsert(ctx, []domain.IndexedRecord{
		Record("d", 0, 0, 1),
		Record("d", 1, 1, 0),
		Record("d", 2, 1, 1),
	}))

	results, err := s.Query(ctx, domain.Vector{1, 0.1}, 10, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "d:1", results[0].Record.Chunk.ID)
	assert.Equal(t, "d:2", results[1].Record.Chunk.ID)
	assert.Equal(t, "d:0", results[2].Record.Chunk.ID)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	assert.InDelta(t, 1.0, results[0].Score, 0.01)

	_, err = s.Query(ctx, domain.Vector{1, 0}, 0, domain.Filter{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func testTopKOfFive(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := ready(t, newStore, 3)
	records := make([]domain.IndexedRecord, 5)
	for i := range records {
		records[i] = Record("doc", i, float32(i+1), 1, 0.5)
	}
	require.NoError(t, s.Upsert(ctx, records))

	results, err := s.Query(ctx, domain.Vector{1, 1, 1}, 3, domain.Filter{})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func testDimensionMismatch(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := ready(t, newStore, 3)

	_, err := s.Query(ctx, domain.Vector{1, 0}, 3, domain.Filter{})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	err = s.Upsert(ctx, []domain.IndexedRecord{Record("d", 0, 1, 0, 0), Record("d", 1, 1, 0)})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func testUpsertReplaces(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := ready(t, newStore, 2)
	require.NoError(t, s.Upsert(ctx, []domain.IndexedRecord{Record("d", 0, 1, 0)}))

	updated := Record("d", 0, 0, 1)
	updated.Chunk.Text = "updated"
	require.NoError(t, s.Upsert(ctx, []domain.IndexedRecord{updated}))

	results, err := s.Query(ctx, domain.Vector{0, 1}, 5, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "updated", results[0].Record.Chunk.Text)
	assert.InDelta(t, 1.0, results[0].Score, 0.001)
}

func testTieBreak(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := ready(t, newStore, 2)
	require.NoError(t, s.Upsert(ctx, []domain.IndexedRecord{Record("b", 0, 1, 1)}))
	require.NoError(t, s.Upsert(ctx, []domain.IndexedRecord{Record("a", 0, 1, 1)}))

	results, err := s.Query(ctx, domain.Vector{1, 1}, 2, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a:0", results[0].Record.Chunk.ID, "most recently inserted wins a tie")
	assert.Equal(t, "b:0", results[1].Record.Chunk.ID)
}

func testFilter(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := ready(t, newStore, 2)
	pdf := Record("p", 0, 1, 0)
	pdf.SourceType = domain.SourceTypePDF
	require.NoError(t, s.Upsert(ctx, []domain.IndexedRecord{pdf, Record("t", 0, 1, 0)}))

	results, err := s.Query(ctx, domain.Vector{1, 0}, 5, domain.Filter{SourceTypes: []domain.SourceType{domain.SourceTypePDF}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p:0", results[0].Record.Chunk.ID)

	results, err = s.Query(ctx, domain.Vector{1, 0}, 5, domain.Filter{DocumentIDs: []string{"t"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "t:0", results[0].Record.Chunk.ID)
}

func testDeleteDocument(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := ready(t, newStore, 2)
	require.NoError(t, s.Upsert(ctx, []domain.IndexedRecord{
		Record("keep", 0, 1, 0),
		Record("drop", 0, 1, 0),
		Record("drop", 1, 0, 1),
	}))
	require.NoError(t, s.DeleteDocument(ctx, "drop"))

	results, err := s.Query(ctx, domain.Vector{1, 0}, 5, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "keep", results[0].Record.Chunk.DocumentID)

	require.NoError(t, s.Upsert(ctx, []domain.IndexedRecord{
		Record("drop", 0, 1, 0),
		Record("drop", 1, 0, 1),
		Record("drop", 2, 1, 1),
	}))
	require.NoError(t, s.DeleteDocument(ctx, "drop", "drop:0", "drop:2"))
	results, err = s.Query(ctx, domain.Vector{1, 0}, 5, domain.Filter{DocumentIDs: []string{"drop"}})
	require.NoError(t, err)
	var ids []string
	for _, r := range results {
		ids = append(ids, r.Record.Chunk.ID)
	}
	assert.ElementsMatch(t, []string{"drop:0", "drop:2"}, ids)
}

func testRoundTrip(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := ready(t, newStore, 2)
	want := Record("doc", 3, 0.6, 0.8)
	want.Chunk.Overlap = 4
	want.SourceType = domain.SourceTypeMedicalReference
	require.NoError(t, s.Upsert(ctx, []domain.IndexedRecord{want}))

	results, err := s.Query(ctx, domain.Vector{0.6, 0.8}, 1, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	got := results[0].Record
	assert.Equal(t, want.Chunk, got.Chunk)
	assert.Equal(t, want.Title, got.Title)
	assert.Equal(t, want.SourceType, got.SourceType)
	assert.InDeltaSlice(t, []float32(want.Vector), []float32(got.Vector), 1e-6)
}
