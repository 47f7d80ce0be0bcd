package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthai/internal/domain"
)

const diabetesText = "Diabetes is a chronic condition affecting blood sugar regulation. " +
	"Insulin moves glucose from the bloodstream into cells for energy. " +
	"Regular exercise and balanced meals help maintain healthy glucose..."

// reconstruct joins chunks back together by dropping each chunk's overlap.
func reconstruct(chunks []domain.Chunk) string {
	var b strings.Builder
	for _, ch := range chunks {
		b.WriteString(string([]rune(ch.Text)[ch.Overlap:]))
	}
	return b.String()
}

func assertChunkInvariants(t *testing.T, text string, chunks []domain.Chunk, maxSize, overlap int) {
	t.Helper()
	require.NotEmpty(t, chunks)
	assert.Equal(t, text, reconstruct(chunks))
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, len([]rune(text)), chunks[len(chunks)-1].End)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.LessOrEqual(t, len([]rune(ch.Text)), maxSize, "chunk %d too long", i)
		assert.Equal(t, string([]rune(text)[ch.Start:ch.End]), ch.Text)
		if i == 0 {
			assert.Equal(t, 0, ch.Overlap)
			continue
		}
		prev := []rune(chunks[i-1].Text)
		cur := []rune(ch.Text)
		assert.Equal(t, overlap, ch.Overlap)
		assert.Equal(t, string(prev[len(prev)-overlap:]), string(cur[:overlap]), "chunk %d overlap", i)
	}
}

func TestNew_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"overlap equals size", Options{MaxSize: 50, Overlap: 50}},
		{"overlap exceeds size", Options{MaxSize: 50, Overlap: 80}},
		{"zero size", Options{MaxSize: 0, Overlap: 1}},
		{"zero overlap", Options{MaxSize: 10, Overlap: 0}},
		{"negative overlap", Options{MaxSize: 10, Overlap: -2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
		})
	}
}

func TestSplit_EmptyInput(t *testing.T) {
	_, err := Split("", 80, 20)
	assert.ErrorIs(t, err, domain.ErrEmptyInput)
}

func TestSplit_ShortText(t *testing.T) {
	chunks, err := Split("Short note.", 80, 20)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Short note.", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Overlap)
}

func TestSplit_DiabetesScenario(t *testing.T) {
	require.Len(t, []rune(diabetesText), 200)

	chunks, err := Split(diabetesText, 80, 20)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assertChunkInvariants(t, diabetesText, chunks, 80, 20)
	assert.True(t, strings.HasPrefix(chunks[0].Text, "Diabetes is a chronic condition"))
}

func TestSplit_PrefersWhitespaceBoundary(t *testing.T) {
	text := "alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu"
	chunks, err := Split(text, 20, 5)
	require.NoError(t, err)
	assertChunkInvariants(t, text, chunks, 20, 5)
	runes := []rune(text)
	for _, ch := range chunks[:len(chunks)-1] {
		atBoundary := runes[ch.End-1] == ' ' || runes[ch.End] == ' '
		assert.True(t, atBoundary, "chunk %q should end on a word boundary", ch.Text)
	}
}

func TestSplit_HardCutWithoutWhitespace(t *testing.T) {
	text := strings.Repeat("x", 95)
	chunks, err := Split(text, 40, 10)
	require.NoError(t, err)
	assertChunkInvariants(t, text, chunks, 40, 10)
	assert.Len(t, chunks[0].Text, 40)
	assert.Equal(t, 30, chunks[1].Start)
}

func TestSplit_FinalChunkNeverDropped(t *testing.T) {
	// 41 characters with size 40: the last window holds overlap + 1 character.
	text := strings.Repeat("y", 41)
	chunks, err := Split(text, 40, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 11, len(chunks[1].Text))
}

func TestSplit_MultibyteCharacters(t *testing.T) {
	text := strings.Repeat("é glucémie ", 20)
	chunks, err := Split(text, 30, 7)
	require.NoError(t, err)
	assertChunkInvariants(t, text, chunks, 30, 7)
}

func TestSplit_Properties(t *testing.T) {
	texts := []string{
		diabetesText,
		strings.Repeat("Hypertension raises cardiovascular risk. ", 17),
		strings.Repeat("abc", 101),
		"word",
	}
	configs := []struct{ size, overlap int }{{80, 20}, {50, 1}, {10, 9}, {2, 1}, {300, 150}}
	for _, text := range texts {
		for _, cfg := range configs {
			chunks, err := Split(text, cfg.size, cfg.overlap)
			require.NoError(t, err)
			assertChunkInvariants(t, text, chunks, cfg.size, cfg.overlap)
		}
	}
}

func TestChunker_Chunk_UsesDocumentID(t *testing.T) {
	c, err := New(Options{MaxSize: 80, Overlap: 20})
	require.NoError(t, err)

	chunks, err := c.Chunk(domain.Document{ID: "diabetes", Text: diabetesText})
	require.NoError(t, err)
	for i, ch := range chunks {
		assert.Equal(t, "diabetes", ch.DocumentID)
		assert.Equal(t, ChunkID("diabetes", i), ch.ID)
	}
	assert.Equal(t, "diabetes:0", chunks[0].ID)
}

func TestChunker_Chunk_EmptyDocument(t *testing.T) {
	c, err := New(Options{MaxSize: 80, Overlap: 20})
	require.NoError(t, err)

	_, err = c.Chunk(domain.Document{ID: "empty"})
	assert.ErrorIs(t, err, domain.ErrEmptyInput)
}
