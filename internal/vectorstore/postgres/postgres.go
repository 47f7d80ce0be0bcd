// Package postgres stores records in PostgreSQL using the pgvector extension.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"healthai/internal/domain"
	"healthai/internal/logger"
	"healthai/internal/vectorstore"
)

// Storage implements vectorstore.Storage on a pgx connection pool.
type Storage struct {
	pool       *pgxpool.Pool
	collection string
}

var _ vectorstore.Storage = (*Storage)(nil)

// NewStorage connects to dsn and prepares the schema.
func NewStorage(ctx context.Context, dsn, collection string) (*Storage, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: connect postgres: %v", domain.ErrInvalidConfiguration, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable("ping", err)
	}
	s := &Storage{pool: pool, collection: collection}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		logger.Warn("create pgvector extension: %v (may require superuser if not installed)", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS healthai_collections (
		name      TEXT PRIMARY KEY,
		dimension INTEGER NOT NULL
	);
	CREATE SEQUENCE IF NOT EXISTS healthai_record_seq;
	CREATE TABLE IF NOT EXISTS healthai_records (
		collection  TEXT NOT NULL REFERENCES healthai_collections(name) ON DELETE CASCADE,
		chunk_id    TEXT NOT NULL,
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		start_pos   INTEGER NOT NULL,
		end_pos     INTEGER NOT NULL,
		overlap     INTEGER NOT NULL,
		text        TEXT NOT NULL,
		title       TEXT NOT NULL DEFAULT '',
		source_type TEXT NOT NULL DEFAULT '',
		embedding   vector NOT NULL,
		seq         BIGINT NOT NULL,
		PRIMARY KEY (collection, chunk_id)
	);
	CREATE INDEX IF NOT EXISTS idx_healthai_records_document ON healthai_records(collection, document_id);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return unavailable("migrate", err)
	}
	return nil
}

func (s *Storage) EnsureCollection(ctx context.Context, dimension int) error {
	if err := vectorstore.ValidateDimension(dimension); err != nil {
		return err
	}
	existing, err := s.dimension(ctx)
	switch {
	case err == nil:
		if existing != dimension {
			return fmt.Errorf("%w: collection %s has %d dimensions, requested %d",
				domain.ErrDimensionMismatch, s.collection, existing, dimension)
		}
		return nil
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO healthai_collections (name, dimension) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		s.collection, dimension); err != nil {
		return unavailable("create collection", err)
	}
	return nil
}

func (s *Storage) Upsert(ctx context.Context, records []domain.IndexedRecord) error {
	dim, err := s.dimension(ctx)
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := vectorstore.ValidateRecord(r, dim); err != nil {
			return err
		}
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		c := r.Chunk
		batch.Queue(`
			INSERT INTO healthai_records
				(collection, chunk_id, document_id, chunk_index, start_pos, end_pos, overlap, text, title, source_type, embedding, seq)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::vector, nextval('healthai_record_seq'))
			ON CONFLICT (collection, chunk_id) DO UPDATE SET
				document_id = EXCLUDED.document_id,
				chunk_index = EXCLUDED.chunk_index,
				start_pos   = EXCLUDED.start_pos,
				end_pos     = EXCLUDED.end_pos,
				overlap     = EXCLUDED.overlap,
				text        = EXCLUDED.text,
				title       = EXCLUDED.title,
				source_type = EXCLUDED.source_type,
				embedding   = EXCLUDED.embedding,
				seq         = EXCLUDED.seq`,
			s.collection, c.ID, c.DocumentID, c.Index, c.Start, c.End, c.Overlap, c.Text, r.Title,
			string(r.SourceType), pgvector.NewVector(r.Vector))
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for _, r := range records {
		if _, err := results.Exec(); err != nil {
			return unavailable("upsert "+r.Chunk.ID, err)
		}
	}
	return nil
}

func (s *Storage) Query(ctx context.Context, vector domain.Vector, k int, filter domain.Filter) ([]domain.SearchResult, error) {
	dim, err := s.dimension(ctx)
	if err != nil {
		return nil, err
	}
	if err := vectorstore.ValidateQuery(vector, k, dim); err != nil {
		return nil, err
	}

	query := `
		SELECT chunk_id, document_id, chunk_index, start_pos, end_pos, overlap, text, title, source_type,
			embedding::text, seq, 1 - (embedding <=> $1::vector) AS score
		FROM healthai_records
		WHERE collection = $2`
	args := []any{pgvector.NewVector(vector), s.collection}
	if len(filter.DocumentIDs) > 0 {
		args = append(args, filter.DocumentIDs)
		query += fmt.Sprintf(" AND document_id = ANY($%d)", len(args))
	}
	if len(filter.SourceTypes) > 0 {
		types := make([]string, len(filter.SourceTypes))
		for i, st := range filter.SourceTypes {
			types[i] = string(st)
		}
		args = append(args, types)
		query += fmt.Sprintf(" AND source_type = ANY($%d)", len(args))
	}
	args = append(args, k)
	query += fmt.Sprintf(" ORDER BY embedding <=> $1::vector, seq DESC, chunk_id LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query", err)
	}
	defer rows.Close()

	var candidates []vectorstore.Candidate
	for rows.Next() {
		var (
			r          domain.IndexedRecord
			sourceType string
			embedding  string
			seq        int64
			score      float64
		)
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.DocumentID, &r.Chunk.Index, &r.Chunk.Start, &r.Chunk.End,
			&r.Chunk.Overlap, &r.Chunk.Text, &r.Title, &sourceType, &embedding, &seq, &score); err != nil {
			return nil, unavailable("scan", err)
		}
		var v pgvector.Vector
		if err := v.Scan(embedding); err != nil {
			return nil, unavailable("decode embedding", err)
		}
		r.Vector = v.Slice()
		r.SourceType = domain.SourceType(sourceType)
		candidates = append(candidates, vectorstore.Candidate{
			Result: domain.SearchResult{Record: r, Score: score},
			Seq:    seq,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate", err)
	}
	return vectorstore.Rank(candidates, k), nil
}

func (s *Storage) DeleteDocument(ctx context.Context, documentID string, keep ...string) error {
	if _, err := s.dimension(ctx); err != nil {
		return err
	}
	if keep == nil {
		keep = []string{}
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM healthai_records WHERE collection = $1 AND document_id = $2 AND NOT (chunk_id = ANY($3))`,
		s.collection, documentID, keep); err != nil {
		return unavailable("delete document", err)
	}
	return nil
}

// Drop removes the collection and its records. Used by tests.
func (s *Storage) Drop(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM healthai_collections WHERE name = $1`, s.collection); err != nil {
		return unavailable("drop collection", err)
	}
	return nil
}

func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

func (s *Storage) dimension(ctx context.Context) (int, error) {
	var dim int
	err := s.pool.QueryRow(ctx, `SELECT dimension FROM healthai_collections WHERE name = $1`, s.collection).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: collection %s", domain.ErrNotFound, s.collection)
	}
	if err != nil {
		return 0, unavailable("read collection", err)
	}
	return dim, nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: postgres %s: %v", domain.ErrIndexUnavailable, op, err)
}
