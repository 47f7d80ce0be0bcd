package summarizer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const text = "Diabetes is a chronic condition affecting blood sugar regulation. " +
	"Insulin moves glucose from the bloodstream into cells for energy. " +
	"Regular exercise and balanced meals help maintain healthy glucose levels. " +
	"Hypertension is high blood pressure."

func TestSummarizeKeepsOrderAndLimit(t *testing.T) {
	s := NewFrequencySummarizer()
	out, err := s.Summarize(text, 2)
	require.NoError(t, err)

	parts := strings.SplitAfter(out, ". ")
	assert.Len(t, parts, 2)
	for _, p := range parts {
		assert.Contains(t, text, strings.TrimSpace(p))
	}
	// Original order is preserved among selected sentences.
	first := strings.Index(text, strings.TrimSpace(parts[0]))
	second := strings.Index(text, strings.TrimSpace(parts[1]))
	assert.Less(t, first, second)
}

func TestSummarizeForPrefersQueryTerms(t *testing.T) {
	s := NewFrequencySummarizer()
	out, err := s.SummarizeFor("What is hypertension?", text, 1)
	require.NoError(t, err)
	assert.Equal(t, "Hypertension is high blood pressure.", out)
}

func TestSummarizeShortAndEmpty(t *testing.T) {
	s := NewFrequencySummarizer()
	out, err := s.Summarize("No punctuation here", 3)
	require.NoError(t, err)
	assert.Equal(t, "No punctuation here", out)

	out, err = s.Summarize("   ", 3)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSummarizeDefaultLimit(t *testing.T) {
	s := NewFrequencySummarizer()
	var b strings.Builder
	for i := 0; i < 8; i++ {
		fmt.Fprintf(&b, "Glucose reading %d rises after meals. ", i)
	}
	out, err := s.Summarize(b.String(), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxSentences, strings.Count(out, "."))
}

func TestSummarizeDropsRepeatedSentences(t *testing.T) {
	s := NewFrequencySummarizer()
	out, err := s.Summarize("Insulin lowers glucose. Insulin lowers glucose. Exercise helps.", 5)
	require.NoError(t, err)
	assert.Equal(t, "Insulin lowers glucose. Exercise helps.", out)
}
