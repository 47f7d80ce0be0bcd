package local

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthai/internal/domain"
)

func dot(a, b domain.Vector) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestEmbed_Deterministic(t *testing.T) {
	e := NewEmbedder(0)
	assert.Equal(t, DefaultDimension, e.Dimension())

	first, err := e.Embed(context.Background(), []string{"Insulin regulates blood glucose."})
	require.NoError(t, err)
	second, err := NewEmbedder(0).Embed(context.Background(), []string{"Insulin regulates blood glucose."})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEmbed_Normalized(t *testing.T) {
	e := NewEmbedder(128)
	vecs, err := e.Embed(context.Background(), []string{"hypertension hypertension kidney disease"})
	require.NoError(t, err)
	require.Len(t, vecs[0], 128)
	assert.InDelta(t, 1.0, math.Sqrt(dot(vecs[0], vecs[0])), 1e-6)
}

func TestEmbed_StopwordsOnly(t *testing.T) {
	e := NewEmbedder(64)
	vecs, err := e.Embed(context.Background(), []string{"what is the"})
	require.NoError(t, err)
	for _, v := range vecs[0] {
		assert.Zero(t, v)
	}
}

func TestEmbed_SharedTermsScoreHigher(t *testing.T) {
	e := NewEmbedder(512)
	vecs, err := e.Embed(context.Background(), []string{
		"What is diabetes?",
		"Diabetes is a chronic condition affecting blood sugar regulation.",
		"Regular exercise and balanced meals help maintain healthy weight.",
	})
	require.NoError(t, err)
	assert.Greater(t, dot(vecs[0], vecs[1]), dot(vecs[0], vecs[2]))
}

func TestEmbed_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEmbedder(0).Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}
