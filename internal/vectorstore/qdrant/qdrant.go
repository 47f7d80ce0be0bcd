package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"healthai/internal/domain"
	"healthai/internal/provider"
	"healthai/internal/vectorstore"
)

// Storage is a minimal REST client to Qdrant using cosine distance.
// Collections are only created by EnsureCollection.
type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
	now        func() time.Time

	mu        sync.Mutex
	dimension int
	lastSeq   int64
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

var _ vectorstore.Storage = (*Storage)(nil)

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// pointID maps a chunk id to the UUID Qdrant requires, stable per collection.
func (s *Storage) pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(s.collection+"/"+chunkID)).String()
}

func (s *Storage) EnsureCollection(ctx context.Context, dimension int) error {
	if err := vectorstore.ValidateDimension(dimension); err != nil {
		return err
	}
	existing, err := s.loadDimension(ctx)
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
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil); err != nil {
		return err
	}
	index := map[string]any{"field_name": "document_id", "field_schema": "keyword"}
	if err := s.do(ctx, http.MethodPut, s.collectionURL("/index?wait=true"), index, nil); err != nil {
		return err
	}
	s.mu.Lock()
	s.dimension = dimension
	s.mu.Unlock()
	return nil
}

func (s *Storage) Upsert(ctx context.Context, records []domain.IndexedRecord) error {
	dim, err := s.loadDimension(ctx)
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := vectorstore.ValidateRecord(r, dim); err != nil {
			return err
		}
	}
	if len(records) == 0 {
		return nil
	}
	base := s.nextSeq(len(records))
	points := make([]map[string]any, len(records))
	for i, r := range records {
		c := r.Chunk
		points[i] = map[string]any{
			"id":     s.pointID(c.ID),
			"vector": r.Vector,
			"payload": map[string]any{
				"chunk_id":    c.ID,
				"document_id": c.DocumentID,
				"index":       c.Index,
				"start":       c.Start,
				"end":         c.End,
				"overlap":     c.Overlap,
				"text":        c.Text,
				"title":       r.Title,
				"source_type": string(r.SourceType),
				"seq":         base + int64(i),
			},
		}
	}
	body := map[string]any{"points": points}
	return s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), body, nil)
}

type payload struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Overlap    int    `json:"overlap"`
	Text       string `json:"text"`
	Title      string `json:"title"`
	SourceType string `json:"source_type"`
	Seq        int64  `json:"seq"`
}

func (s *Storage) Query(ctx context.Context, vector domain.Vector, k int, filter domain.Filter) ([]domain.SearchResult, error) {
	dim, err := s.loadDimension(ctx)
	if err != nil {
		return nil, err
	}
	if err := vectorstore.ValidateQuery(vector, k, dim); err != nil {
		return nil, err
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"with_vector":  true,
	}
	if f := buildFilter(filter); f != nil {
		req["filter"] = f
	}
	var resp struct {
		Result []struct {
			Score   float64       `json:"score"`
			Payload payload       `json:"payload"`
			Vector  domain.Vector `json:"vector"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	candidates := make([]vectorstore.Candidate, 0, len(resp.Result))
	for _, r := range resp.Result {
		p := r.Payload
		record := domain.IndexedRecord{
			Chunk: domain.Chunk{
				ID:         p.ChunkID,
				DocumentID: p.DocumentID,
				Index:      p.Index,
				Start:      p.Start,
				End:        p.End,
				Text:       p.Text,
				Overlap:    p.Overlap,
			},
			Vector:     r.Vector,
			Title:      p.Title,
			SourceType: domain.SourceType(p.SourceType),
		}
		candidates = append(candidates, vectorstore.Candidate{
			Result: domain.SearchResult{Record: record, Score: r.Score},
			Seq:    p.Seq,
		})
	}
	return vectorstore.Rank(candidates, k), nil
}

func (s *Storage) DeleteDocument(ctx context.Context, documentID string, keep ...string) error {
	f := map[string]any{
		"must": []any{matchAny("document_id", []string{documentID})},
	}
	if len(keep) > 0 {
		f["must_not"] = []any{matchAny("chunk_id", keep)}
	}
	body := map[string]any{"filter": f}
	return s.do(ctx, http.MethodPost, s.collectionURL("/points/delete?wait=true"), body, nil)
}

func (s *Storage) Close() error { return nil }

func buildFilter(f domain.Filter) map[string]any {
	var must []any
	if len(f.DocumentIDs) > 0 {
		must = append(must, matchAny("document_id", f.DocumentIDs))
	}
	if len(f.SourceTypes) > 0 {
		types := make([]string, len(f.SourceTypes))
		for i, st := range f.SourceTypes {
			types[i] = string(st)
		}
		must = append(must, matchAny("source_type", types))
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func matchAny(key string, values []string) map[string]any {
	return map[string]any{"key": key, "match": map[string]any{"any": values}}
}

// nextSeq reserves n insertion sequence numbers. Sequences are microsecond
// timestamps so they keep increasing across processes.
func (s *Storage) nextSeq(n int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := s.now().UnixMicro()
	if base <= s.lastSeq {
		base = s.lastSeq + 1
	}
	s.lastSeq = base + int64(n) - 1
	return base
}

// loadDimension returns the collection's vector size, fetching it once.
func (s *Storage) loadDimension(ctx context.Context) (int, error) {
	s.mu.Lock()
	dim := s.dimension
	s.mu.Unlock()
	if dim > 0 {
		return dim, nil
	}
	var resp struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, s.collectionURL(""), nil, &resp); err != nil {
		return 0, err
	}
	dim = resp.Result.Config.Params.Vectors.Size
	if dim <= 0 {
		return 0, fmt.Errorf("%w: qdrant collection %s reports no vector size", domain.ErrIndexUnavailable, s.collection)
	}
	s.mu.Lock()
	s.dimension = dim
	s.mu.Unlock()
	return dim, nil
}

func (s *Storage) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

func (s *Storage) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("%w: qdrant request: %v", domain.ErrInvalidConfiguration, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: qdrant %s %s: %v", domain.ErrIndexUnavailable, method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: qdrant collection %s", domain.ErrNotFound, s.collection)
	}
	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		return provider.MapHTTPStatus("qdrant "+method, resp, payload, domain.ErrIndexUnavailable)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode qdrant response: %v", domain.ErrIndexUnavailable, err)
		}
	}
	return nil
}
