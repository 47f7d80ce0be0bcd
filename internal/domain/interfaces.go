package domain

import "context"

// SourceType labels the format a document was ingested from.
type SourceType string

const (
	SourceTypePlainText        SourceType = "plain_text"
	SourceTypeMarkdown         SourceType = "markdown"
	SourceTypeHTML             SourceType = "html"
	SourceTypePDF              SourceType = "pdf"
	SourceTypeMedicalReference SourceType = "medical_reference"
)

// RawDocument is a source document before text extraction.
type RawDocument struct {
	ID         string
	Title      string
	Source     string // path or URI the document was read from
	SourceType SourceType
	Content    []byte
}

// Document is a unit of the knowledge base after text extraction.
// It is never mutated once chunked.
type Document struct {
	ID         string
	Title      string
	Source     string
	SourceType SourceType
	Text       string
}

// Chunk is a contiguous span of a document's text used for indexing.
// Start and End are character (rune) offsets into Document.Text.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Start      int
	End        int
	Text       string
	// Overlap is the number of leading characters shared with the previous chunk.
	Overlap int
}

// Vector is an embedding produced by an embedding backend.
type Vector []float32

// IndexedRecord pairs a chunk with its embedding and retrievable metadata.
type IndexedRecord struct {
	Chunk      Chunk
	Vector     Vector
	Title      string
	SourceType SourceType
}

// SearchResult represents a matching record with its cosine similarity.
type SearchResult struct {
	Record IndexedRecord
	Score  float64
}

// Filter restricts a vector query. Empty fields match everything.
type Filter struct {
	DocumentIDs []string
	SourceTypes []SourceType
}

// Match reports whether a record passes the filter.
func (f Filter) Match(r IndexedRecord) bool {
	if len(f.DocumentIDs) > 0 && !contains(f.DocumentIDs, r.Chunk.DocumentID) {
		return false
	}
	if len(f.SourceTypes) > 0 && !contains(f.SourceTypes, r.SourceType) {
		return false
	}
	return true
}

func contains[T comparable](items []T, v T) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}

// TextExtractor turns a raw source document into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, raw RawDocument) (string, error)
}
