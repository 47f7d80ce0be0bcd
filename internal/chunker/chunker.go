// Package chunker splits document text into bounded, overlapping windows.
package chunker

import (
	"fmt"
	"strconv"
	"unicode"

	"healthai/internal/domain"
)

const (
	DefaultMaxSize  = 500
	DefaultOverlap  = 50
	DefaultLookback = 32
)

// Options configures the window chunker. Sizes are in characters.
type Options struct {
	MaxSize int
	Overlap int
	// Lookback is how far back from a window's end the chunker searches for
	// whitespace to avoid cutting a word. Zero selects DefaultLookback,
	// a negative value disables the search.
	Lookback int
}

// Chunker splits text into windows of at most MaxSize characters where every
// window after the first repeats the last Overlap characters of its predecessor.
type Chunker struct {
	maxSize  int
	overlap  int
	lookback int
}

var _ domain.Chunker = (*Chunker)(nil)

// New validates opts and returns a Chunker.
func New(opts Options) (*Chunker, error) {
	if opts.MaxSize <= 0 || opts.Overlap <= 0 {
		return nil, fmt.Errorf("%w: chunk size (%d) and overlap (%d) must be positive",
			domain.ErrInvalidConfiguration, opts.MaxSize, opts.Overlap)
	}
	if opts.Overlap >= opts.MaxSize {
		return nil, fmt.Errorf("%w: overlap (%d) must be smaller than chunk size (%d)",
			domain.ErrInvalidConfiguration, opts.Overlap, opts.MaxSize)
	}
	lookback := opts.Lookback
	switch {
	case lookback == 0:
		lookback = DefaultLookback
	case lookback < 0:
		lookback = 0
	}
	// A cut must leave more than Overlap characters in the chunk or the next
	// window would not advance.
	if limit := opts.MaxSize - opts.Overlap - 1; lookback > limit {
		lookback = limit
	}
	return &Chunker{maxSize: opts.MaxSize, overlap: opts.Overlap, lookback: lookback}, nil
}

// Split chunks bare text with the default lookback.
func Split(text string, maxSize, overlap int) ([]domain.Chunk, error) {
	c, err := New(Options{MaxSize: maxSize, Overlap: overlap})
	if err != nil {
		return nil, err
	}
	return c.split("", text)
}

// Chunk splits the document's text. Chunk IDs are derived from the document ID.
func (c *Chunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	chunks, err := c.split(document.ID, document.Text)
	if err != nil {
		return nil, fmt.Errorf("chunk document %q: %w", document.ID, err)
	}
	return chunks, nil
}

// MaxSize returns the configured maximum chunk size.
func (c *Chunker) MaxSize() int { return c.maxSize }

func (c *Chunker) split(docID, text string) ([]domain.Chunk, error) {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil, domain.ErrEmptyInput
	}

	chunks := make([]domain.Chunk, 0, n/(c.maxSize-c.overlap)+1)
	start, overlap := 0, 0
	for idx := 0; ; idx++ {
		end := start + c.maxSize
		if end >= n {
			end = n
		} else {
			end = c.boundary(runes, start, end)
		}
		chunks = append(chunks, domain.Chunk{
			ID:         ChunkID(docID, idx),
			DocumentID: docID,
			Index:      idx,
			Start:      start,
			End:        end,
			Text:       string(runes[start:end]),
			Overlap:    overlap,
		})
		if end == n {
			break
		}
		start = end - c.overlap
		overlap = c.overlap
	}
	return chunks, nil
}

// boundary returns the cut position for the window runes[start:end], moving
// it back to just after the nearest whitespace when one is close enough.
func (c *Chunker) boundary(runes []rune, start, end int) int {
	if unicode.IsSpace(runes[end]) || unicode.IsSpace(runes[end-1]) {
		return end
	}
	lowest := end - c.lookback
	if floor := start + c.overlap + 1; lowest < floor {
		lowest = floor
	}
	for j := end - 1; j >= lowest; j-- {
		if unicode.IsSpace(runes[j-1]) {
			return j
		}
	}
	return end
}

// ChunkID derives a chunk identifier from its document and sequence index.
func ChunkID(documentID string, index int) string {
	return documentID + ":" + strconv.Itoa(index)
}
