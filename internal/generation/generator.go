// Package generation produces answers from assembled prompts through a
// pluggable language model backend.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"healthai/internal/domain"
	"healthai/internal/logger"
)

const (
	DefaultMaxTokens = 1024
	DefaultTimeout   = 60 * time.Second
)

// Options tunes a single generation call. A zero Temperature is passed to
// the backend as is.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// Generator is a language model backend.
type Generator interface {
	Generate(ctx context.Context, prompt domain.Prompt, opts Options) (string, error)
	ModelName() string
}

// Client applies defaults and a per-call timeout around a Generator and
// classifies its failures. It never retries.
type Client struct {
	backend Generator
	opts    Options
	timeout time.Duration
}

func NewClient(backend Generator, opts Options, timeout time.Duration) (*Client, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: generation backend is required", domain.ErrInvalidConfiguration)
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Temperature < 0 || opts.Temperature > 2 {
		return nil, fmt.Errorf("%w: temperature %.2f outside [0,2]", domain.ErrInvalidConfiguration, opts.Temperature)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{backend: backend, opts: opts, timeout: timeout}, nil
}

func (c *Client) ModelName() string { return c.backend.ModelName() }

// Generate returns the backend's answer. Empty answers are reported as
// GenerationUnavailable.
func (c *Client) Generate(ctx context.Context, prompt domain.Prompt) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	answer, err := c.backend.Generate(callCtx, prompt, c.opts)
	logger.Debug("generate model=%s prompt_chars=%d took=%s err=%v", c.backend.ModelName(), prompt.Len(), time.Since(start), err)
	if err != nil {
		return "", classify(ctx, callCtx, err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", fmt.Errorf("%w: %s returned an empty answer", domain.ErrGenerationUnavailable, c.backend.ModelName())
	}
	return answer, nil
}

func classify(parent, callCtx context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if callCtx.Err() != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: call timed out: %v", domain.ErrGenerationUnavailable, err)
	}
	if domain.KindOf(err) == domain.KindUnknown {
		return fmt.Errorf("%w: %v", domain.ErrGenerationUnavailable, err)
	}
	return err
}
