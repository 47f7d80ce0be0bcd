// Package sqlite is a durable single-file vector store. Similarity is
// computed in process over the filtered rows of one collection.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"healthai/internal/domain"
	"healthai/internal/vectorstore"
)

// Storage implements vectorstore.Storage on SQLite.
type Storage struct {
	db         *sql.DB
	collection string
}

var _ vectorstore.Storage = (*Storage)(nil)

// NewStorage opens or creates the database at dbPath.
func NewStorage(dbPath, collection string) (*Storage, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrIndexUnavailable, err)
	}
	s := &Storage{db: db, collection: collection}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrIndexUnavailable, err)
	}
	return s, nil
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		name      TEXT PRIMARY KEY,
		dimension INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS records (
		collection  TEXT NOT NULL REFERENCES collections(name) ON DELETE CASCADE,
		chunk_id    TEXT NOT NULL,
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		start_pos   INTEGER NOT NULL,
		end_pos     INTEGER NOT NULL,
		overlap     INTEGER NOT NULL,
		text        TEXT NOT NULL,
		title       TEXT NOT NULL DEFAULT '',
		source_type TEXT NOT NULL DEFAULT '',
		vector      BLOB NOT NULL,
		seq         INTEGER NOT NULL,
		PRIMARY KEY (collection, chunk_id)
	);
	CREATE INDEX IF NOT EXISTS idx_records_document ON records(collection, document_id);
	`
	_, err := s.db.Exec(schema)
	return err
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
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (name, dimension) VALUES (?, ?)`, s.collection, dimension); err != nil {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM records WHERE collection = ?`, s.collection).Scan(&seq); err != nil {
		return unavailable("read sequence", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (collection, chunk_id, document_id, chunk_index, start_pos, end_pos, overlap, text, title, source_type, vector, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, chunk_id) DO UPDATE SET
			document_id = excluded.document_id,
			chunk_index = excluded.chunk_index,
			start_pos   = excluded.start_pos,
			end_pos     = excluded.end_pos,
			overlap     = excluded.overlap,
			text        = excluded.text,
			title       = excluded.title,
			source_type = excluded.source_type,
			vector      = excluded.vector,
			seq         = excluded.seq`)
	if err != nil {
		return unavailable("prepare upsert", err)
	}
	defer stmt.Close()

	for _, r := range records {
		seq++
		c := r.Chunk
		if _, err := stmt.ExecContext(ctx, s.collection, c.ID, c.DocumentID, c.Index, c.Start, c.End, c.Overlap,
			c.Text, r.Title, string(r.SourceType), encodeVector(r.Vector), seq); err != nil {
			return unavailable("upsert "+c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
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

	query := `SELECT chunk_id, document_id, chunk_index, start_pos, end_pos, overlap, text, title, source_type, vector, seq
		FROM records WHERE collection = ?`
	args := []any{s.collection}
	if len(filter.DocumentIDs) > 0 {
		query += " AND document_id IN (" + placeholders(len(filter.DocumentIDs)) + ")"
		for _, id := range filter.DocumentIDs {
			args = append(args, id)
		}
	}
	if len(filter.SourceTypes) > 0 {
		query += " AND source_type IN (" + placeholders(len(filter.SourceTypes)) + ")"
		for _, st := range filter.SourceTypes {
			args = append(args, string(st))
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query", err)
	}
	defer rows.Close()

	var candidates []vectorstore.Candidate
	for rows.Next() {
		var (
			r          domain.IndexedRecord
			sourceType string
			blob       []byte
			seq        int64
		)
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.DocumentID, &r.Chunk.Index, &r.Chunk.Start, &r.Chunk.End,
			&r.Chunk.Overlap, &r.Chunk.Text, &r.Title, &sourceType, &blob, &seq); err != nil {
			return nil, unavailable("scan", err)
		}
		r.SourceType = domain.SourceType(sourceType)
		r.Vector = decodeVector(blob)
		candidates = append(candidates, vectorstore.Candidate{
			Result: domain.SearchResult{Record: r, Score: vectorstore.Cosine(vector, r.Vector)},
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
	query := `DELETE FROM records WHERE collection = ? AND document_id = ?`
	args := []any{s.collection, documentID}
	if len(keep) > 0 {
		query += ` AND chunk_id NOT IN (?` + strings.Repeat(",?", len(keep)-1) + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return unavailable("delete document", err)
	}
	return nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) dimension(ctx context.Context) (int, error) {
	var dim int
	err := s.db.QueryRowContext(ctx, `SELECT dimension FROM collections WHERE name = ?`, s.collection).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
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
	return fmt.Errorf("%w: sqlite %s: %v", domain.ErrIndexUnavailable, op, err)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// encodeVector stores float32 values little-endian.
func encodeVector(v domain.Vector) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) domain.Vector {
	v := make(domain.Vector, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}
