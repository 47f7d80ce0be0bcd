// Package extractive answers offline by quoting the most relevant sentences
// of the retrieved context. It needs no model service and is the demo
// backend.
package extractive

import (
	"context"
	"strings"

	"healthai/internal/domain"
	"healthai/internal/generation"
)

const (
	NoContextAnswer = "I couldn't find specific information about that in my knowledge base. " +
		"For accurate information on this topic, please consult a healthcare professional."
	Disclaimer = "This information is for educational purposes only. " +
		"Please consult a healthcare professional for personal medical advice."

	DefaultMaxSentences = 3
)

// Summarizer is satisfied by summarizer.FrequencySummarizer.
type Summarizer interface {
	SummarizeFor(query, text string, maxSentences int) (string, error)
}

type Generator struct {
	summarizer   Summarizer
	maxSentences int
}

var _ generation.Generator = (*Generator)(nil)

func New(s Summarizer, maxSentences int) *Generator {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	return &Generator{summarizer: s, maxSentences: maxSentences}
}

func (g *Generator) ModelName() string { return "extractive" }

func (g *Generator) Generate(ctx context.Context, prompt domain.Prompt, _ generation.Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(prompt.Context) == 0 {
		return NoContextAnswer, nil
	}
	summary, err := g.summarizer.SummarizeFor(prompt.Query(), strings.Join(prompt.Context, "\n"), g.maxSentences)
	if err != nil {
		return "", err
	}
	if summary == "" {
		return NoContextAnswer, nil
	}
	return summary + "\n\n" + Disclaimer, nil
}
