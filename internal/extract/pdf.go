package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"healthai/internal/domain"
)

var _ domain.TextExtractor = PDF{}

// PDF extracts the text layer page by page. Scanned pages without a text
// layer produce no text.
type PDF struct{}

func (PDF) Extract(ctx context.Context, raw domain.RawDocument) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(raw.Content), int64(len(raw.Content)))
	if err != nil {
		return "", fmt.Errorf("%w: read pdf: %v", domain.ErrInvalidInput, err)
	}
	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: pdf page %d: %v", domain.ErrInvalidInput, i, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}
	return normalize(strings.Join(pages, "\n\n")), nil
}
