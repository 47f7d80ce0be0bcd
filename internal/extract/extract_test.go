package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthai/internal/domain"
)

func TestDetectSourceType(t *testing.T) {
	tests := []struct {
		path string
		want domain.SourceType
	}{
		{"notes/diabetes.md", domain.SourceTypeMarkdown},
		{"notes/DIABETES.MARKDOWN", domain.SourceTypeMarkdown},
		{"site/index.html", domain.SourceTypeHTML},
		{"leaflet.htm", domain.SourceTypeHTML},
		{"guideline.pdf", domain.SourceTypePDF},
		{"plain.txt", domain.SourceTypePlainText},
		{"no-extension", domain.SourceTypePlainText},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectSourceType(tt.path))
		})
	}
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("a.md"))
	assert.True(t, Supported("a.PDF"))
	assert.False(t, Supported("a.png"))
	assert.False(t, Supported("Makefile"))
}

func TestTitleFromPath(t *testing.T) {
	assert.Equal(t, "type 2 diabetes", TitleFromPath("/kb/type_2-diabetes.md"))
}

func TestPlainTextNormalizes(t *testing.T) {
	raw := domain.RawDocument{Content: []byte("\uFEFFline one\r\nline two\rline three\n\n")}
	text, err := PlainText{}.Extract(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\nline three", text)
}

func TestPlainTextInvalidUTF8(t *testing.T) {
	raw := domain.RawDocument{Content: []byte{'o', 'k', 0xff, 'x'}}
	text, err := PlainText{}.Extract(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "ok�x", text)
}

func TestMarkdown(t *testing.T) {
	src := "# Diabetes\n\nDiabetes is a **chronic** condition. See [the guide](http://x/guide).\n\n" +
		"![chart](chart.png)\n\n- Thirst\n- Fatigue\n\n1. Test glucose\n\n> Consult a doctor.\n\n---\n\nUse `metformin` as prescribed."
	raw := domain.RawDocument{Source: "diabetes.md", Content: []byte(src)}

	text, err := Markdown{}.Extract(context.Background(), raw)
	require.NoError(t, err)
	assert.Contains(t, text, "Diabetes is a chronic condition. See the guide.")
	assert.Contains(t, text, "Thirst\nFatigue")
	assert.Contains(t, text, "Test glucose")
	assert.Contains(t, text, "Consult a doctor.")
	assert.Contains(t, text, "Use metformin as prescribed.")
	assert.NotContains(t, text, "#")
	assert.NotContains(t, text, "chart.png")
	assert.NotContains(t, text, "**")

	assert.Equal(t, "Diabetes", Markdown{}.Title(raw))
}

func TestHTML(t *testing.T) {
	src := `<html><head><title>Asthma &amp; You</title><style>p{color:red}</style></head>
<body><script>alert(1)</script><h1>Asthma</h1><p>Asthma affects the  airways.</p>
<ul><li>Wheezing</li><li>Cough</li></ul><!-- hidden --></body></html>`
	raw := domain.RawDocument{Source: "asthma.html", Content: []byte(src)}

	text, err := HTML{}.Extract(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "Asthma\nAsthma affects the airways.\nWheezing\nCough", text)
	assert.Equal(t, "Asthma & You", HTML{}.Title(raw))
}

func TestPDFRejectsGarbage(t *testing.T) {
	_, err := PDF{}.Extract(context.Background(), domain.RawDocument{Content: []byte("not a pdf")})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRegistryDocument(t *testing.T) {
	r := NewRegistry()

	doc, err := r.Document(context.Background(), domain.RawDocument{
		ID:      "asthma",
		Source:  "kb/asthma.html",
		Content: []byte("<title>Asthma</title><p>Airways.</p>"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SourceTypeHTML, doc.SourceType)
	assert.Equal(t, "Asthma", doc.Title)
	assert.Equal(t, "Airways.", doc.Text)

	doc, err = r.Document(context.Background(), domain.RawDocument{
		ID:         "ref",
		Source:     "kb/first_aid.txt",
		SourceType: domain.SourceTypeMedicalReference,
		Content:    []byte("Apply pressure."),
	})
	require.NoError(t, err)
	assert.Equal(t, "first aid", doc.Title)
	assert.Equal(t, domain.SourceTypeMedicalReference, doc.SourceType)

	doc, err = r.Document(context.Background(), domain.RawDocument{
		ID: "x", Title: "Explicit", Source: "x.md", Content: []byte("# Heading\nbody"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Explicit", doc.Title)
}

func TestRegistryUnknownType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Extract(context.Background(), domain.RawDocument{SourceType: "docx", Content: []byte("x")})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

type upperExtractor struct{}

func (upperExtractor) Extract(_ context.Context, raw domain.RawDocument) (string, error) {
	return "CUSTOM:" + string(raw.Content), nil
}

func TestRegistryRegisterOverrides(t *testing.T) {
	r := NewRegistry()
	r.Register(domain.SourceTypePlainText, upperExtractor{})
	text, err := r.Extract(context.Background(), domain.RawDocument{Source: "a.txt", Content: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "CUSTOM:x", text)
}
