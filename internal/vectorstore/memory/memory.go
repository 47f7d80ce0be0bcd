package memory

import (
	"context"
	"fmt"
	"sync"

	"healthai/internal/domain"
	"healthai/internal/vectorstore"
)

// Storage is a simple in-memory vector store using brute-force cosine similarity.
type Storage struct {
	mu         sync.RWMutex
	collection string
	created    bool
	dimension  int
	seq        int64
	records    map[string]entry
}

type entry struct {
	record domain.IndexedRecord
	seq    int64
}

var _ vectorstore.Storage = (*Storage)(nil)

func NewStorage(collection string) *Storage {
	return &Storage{collection: collection, records: make(map[string]entry)}
}

func (s *Storage) EnsureCollection(_ context.Context, dimension int) error {
	if err := vectorstore.ValidateDimension(dimension); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.created {
		if s.dimension != dimension {
			return fmt.Errorf("%w: collection %s has %d dimensions, requested %d",
				domain.ErrDimensionMismatch, s.collection, s.dimension, dimension)
		}
		return nil
	}
	s.created = true
	s.dimension = dimension
	return nil
}

// Upsert validates every record before storing any, so a record is either
// fully indexed or not at all. Re-upserting an id refreshes its recency.
func (s *Storage) Upsert(_ context.Context, records []domain.IndexedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.exists(); err != nil {
		return err
	}
	for _, r := range records {
		if err := vectorstore.ValidateRecord(r, s.dimension); err != nil {
			return err
		}
	}
	for _, r := range records {
		s.seq++
		r.Vector = append(domain.Vector(nil), r.Vector...)
		s.records[r.Chunk.ID] = entry{record: r, seq: s.seq}
	}
	return nil
}

func (s *Storage) Query(ctx context.Context, vector domain.Vector, k int, filter domain.Filter) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.exists(); err != nil {
		return nil, err
	}
	if err := vectorstore.ValidateQuery(vector, k, s.dimension); err != nil {
		return nil, err
	}
	candidates := make([]vectorstore.Candidate, 0, len(s.records))
	for _, e := range s.records {
		if !filter.Match(e.record) {
			continue
		}
		candidates = append(candidates, vectorstore.Candidate{
			Result: domain.SearchResult{Record: e.record, Score: vectorstore.Cosine(vector, e.record.Vector)},
			Seq:    e.seq,
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return vectorstore.Rank(candidates, k), nil
}

func (s *Storage) DeleteDocument(_ context.Context, documentID string, keep ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.exists(); err != nil {
		return err
	}
	kept := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		kept[id] = struct{}{}
	}
	for id, e := range s.records {
		if _, ok := kept[id]; ok {
			continue
		}
		if e.record.Chunk.DocumentID == documentID {
			delete(s.records, id)
		}
	}
	return nil
}

// Len returns the number of stored records.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Storage) Close() error { return nil }

func (s *Storage) exists() error {
	if !s.created {
		return fmt.Errorf("%w: collection %s", domain.ErrNotFound, s.collection)
	}
	return nil
}
