// Package extract turns raw source documents into plain text ready for
// chunking.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"healthai/internal/domain"
)

// Titler is implemented by extractors that can read a title from the source.
type Titler interface {
	Title(raw domain.RawDocument) string
}

// Registry selects an extractor by source type.
type Registry struct {
	extractors map[domain.SourceType]domain.TextExtractor
}

// NewRegistry returns a registry with the built-in extractors.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[domain.SourceType]domain.TextExtractor)}
	r.Register(domain.SourceTypePlainText, PlainText{})
	r.Register(domain.SourceTypeMedicalReference, PlainText{})
	r.Register(domain.SourceTypeMarkdown, Markdown{})
	r.Register(domain.SourceTypeHTML, HTML{})
	r.Register(domain.SourceTypePDF, PDF{})
	return r
}

// Register adds or replaces the extractor for a source type.
func (r *Registry) Register(t domain.SourceType, e domain.TextExtractor) {
	r.extractors[t] = e
}

// Extract implements domain.TextExtractor by dispatching on raw.SourceType.
// An empty source type is detected from raw.Source.
func (r *Registry) Extract(ctx context.Context, raw domain.RawDocument) (string, error) {
	e, err := r.lookup(raw)
	if err != nil {
		return "", err
	}
	return e.Extract(ctx, raw)
}

// Document extracts raw into a Document, filling in the title and source type.
func (r *Registry) Document(ctx context.Context, raw domain.RawDocument) (domain.Document, error) {
	if raw.SourceType == "" {
		raw.SourceType = DetectSourceType(raw.Source)
	}
	e, err := r.lookup(raw)
	if err != nil {
		return domain.Document{}, err
	}
	text, err := e.Extract(ctx, raw)
	if err != nil {
		return domain.Document{}, fmt.Errorf("extract %s: %w", raw.Source, err)
	}
	title := raw.Title
	if title == "" {
		if t, ok := e.(Titler); ok {
			title = t.Title(raw)
		}
	}
	if title == "" {
		title = TitleFromPath(raw.Source)
	}
	return domain.Document{
		ID:         raw.ID,
		Title:      title,
		Source:     raw.Source,
		SourceType: raw.SourceType,
		Text:       text,
	}, nil
}

func (r *Registry) lookup(raw domain.RawDocument) (domain.TextExtractor, error) {
	t := raw.SourceType
	if t == "" {
		t = DetectSourceType(raw.Source)
	}
	e, ok := r.extractors[t]
	if !ok {
		return nil, fmt.Errorf("%w: no extractor for source type %q", domain.ErrInvalidInput, t)
	}
	return e, nil
}

// DetectSourceType maps a file extension to a source type. Unknown
// extensions are treated as plain text.
func DetectSourceType(path string) domain.SourceType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return domain.SourceTypeMarkdown
	case ".html", ".htm", ".xhtml":
		return domain.SourceTypeHTML
	case ".pdf":
		return domain.SourceTypePDF
	default:
		return domain.SourceTypePlainText
	}
}

// Supported reports whether path has an extension the registry can read.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".text", ".md", ".markdown", ".html", ".htm", ".xhtml", ".pdf":
		return true
	}
	return false
}

// TitleFromPath derives a readable title from a file name.
func TitleFromPath(path string) string {
	filename := filepath.Base(path)
	if ext := filepath.Ext(filename); ext != "" {
		filename = strings.TrimSuffix(filename, ext)
	}
	filename = strings.ReplaceAll(filename, "_", " ")
	filename = strings.ReplaceAll(filename, "-", " ")
	return strings.TrimSpace(filename)
}
