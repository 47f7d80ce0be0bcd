// Package embedding turns chunk texts and queries into vectors through a
// pluggable backend.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"healthai/internal/domain"
	"healthai/internal/logger"
)

const (
	DefaultMaxInputChars = 8000
	DefaultTimeout       = 30 * time.Second
)

// Options configures the Client.
type Options struct {
	// MaxInputChars is the largest text accepted per input.
	MaxInputChars int
	// Timeout bounds every backend call.
	Timeout time.Duration
	// RequestsPerSecond throttles backend calls when positive.
	RequestsPerSecond float64
	Burst             int
}

// Client validates inputs and enforces timeouts, throttling and dimensional
// consistency around a Backend. It never retries.
type Client struct {
	backend  Backend
	maxChars int
	timeout  time.Duration
	limiter  *rate.Limiter

	mu        sync.Mutex
	dimension int
}

// NewClient wraps backend with the given options.
func NewClient(backend Backend, opts Options) (*Client, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: embedding backend is required", domain.ErrInvalidConfiguration)
	}
	if opts.MaxInputChars <= 0 {
		opts.MaxInputChars = DefaultMaxInputChars
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	c := &Client{backend: backend, maxChars: opts.MaxInputChars, timeout: opts.Timeout}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c, nil
}

// ModelName returns the backend's model identifier.
func (c *Client) ModelName() string { return c.backend.ModelName() }

// Dimension returns the vector size observed so far, or 0 before the first call.
func (c *Client) Dimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dimension
}

// Embed returns the vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) (domain.Vector, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per text, in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([]domain.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if err := c.validate(text); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: throttle: %v", domain.ErrBackendUnavailable, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	vectors, err := c.backend.Embed(callCtx, texts)
	if err != nil {
		return nil, c.classify(ctx, callCtx, err)
	}
	logger.Debug("embedded %d texts with %s in %s", len(texts), c.backend.ModelName(), time.Since(start))

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: %s returned %d vectors for %d inputs",
			domain.ErrBackendUnavailable, c.backend.ModelName(), len(vectors), len(texts))
	}
	for i, v := range vectors {
		if err := c.checkDimension(v); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
	}
	return vectors, nil
}

func (c *Client) validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: text is empty", domain.ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(text); n > c.maxChars {
		return fmt.Errorf("%w: text has %d characters, limit is %d", domain.ErrInvalidInput, n, c.maxChars)
	}
	return nil
}

// classify turns a per-call deadline into BackendUnavailable while letting
// caller cancellation through unchanged.
func (c *Client) classify(parent, callCtx context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s timed out after %s", domain.ErrBackendUnavailable, c.backend.ModelName(), c.timeout)
	}
	if domain.KindOf(err) == domain.KindUnknown {
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	return err
}

func (c *Client) checkDimension(v domain.Vector) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: %s returned an empty vector", domain.ErrBackendUnavailable, c.backend.ModelName())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dimension == 0 {
		c.dimension = len(v)
		return nil
	}
	if len(v) != c.dimension {
		return fmt.Errorf("%w: got %d dimensions, expected %d", domain.ErrDimensionMismatch, len(v), c.dimension)
	}
	return nil
}
