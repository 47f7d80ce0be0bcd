package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"healthai/internal/domain"
	"healthai/internal/provider"
)

// Client is an OpenAI-compatible embeddings client. It also understands the
// response shapes of Ollama's /api/embeddings and /api/embed endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	client     *http.Client
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	// Dimensions requests shortened vectors from text-embedding-3 models.
	Dimensions int
	Timeout    time.Duration
}

// NewClient creates a new embeddings client using the provided configuration.
// An empty APIKeyEnv is allowed for local servers such as Ollama.
func NewClient(cfg Config) (*Client, error) {
	var key string
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("%w: missing API key in env %s", domain.ErrInvalidConfiguration, cfg.APIKeyEnv)
		}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     key,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: t},
	}, nil
}

// ModelName returns the configured embedding model.
func (c *Client) ModelName() string { return c.model }

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// Embed returns one embedding vector per text, ordered like texts.
func (c *Client) Embed(ctx context.Context, texts []string) ([]domain.Vector, error) {
	data, err := json.Marshal(embeddingRequest{Model: c.model, Input: texts, Dimensions: c.dimensions})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	url := fmt.Sprintf("%s/embeddings", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", domain.ErrInvalidConfiguration, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: openai embeddings: %v", domain.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrBackendUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		return nil, provider.MapHTTPStatus("openai embeddings", resp, payload, domain.ErrBackendUnavailable)
	}
	return decode(payload, len(texts))
}

func decode(payload []byte, n int) ([]domain.Vector, error) {
	// Try OpenAI-compatible response first
	var openaiOut struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		// Ollama /api/embed
		Embeddings [][]float64 `json:"embeddings"`
		// Ollama /api/embeddings, single input only
		Embedding []float64 `json:"embedding"`
	}
	if err := json.Unmarshal(payload, &openaiOut); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrBackendUnavailable, err)
	}

	out := make([]domain.Vector, n)
	switch {
	case len(openaiOut.Data) > 0:
		for _, d := range openaiOut.Data {
			if d.Index < 0 || d.Index >= n {
				return nil, fmt.Errorf("%w: embedding index %d out of range", domain.ErrBackendUnavailable, d.Index)
			}
			out[d.Index] = toFloat32(d.Embedding)
		}
	case len(openaiOut.Embeddings) > 0:
		for i := 0; i < n && i < len(openaiOut.Embeddings); i++ {
			out[i] = toFloat32(openaiOut.Embeddings[i])
		}
	case len(openaiOut.Embedding) > 0 && n == 1:
		out[0] = toFloat32(openaiOut.Embedding)
	default:
		return nil, fmt.Errorf("%w: no embedding returned", domain.ErrBackendUnavailable)
	}
	for i, v := range out {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: no embedding returned for input %d", domain.ErrBackendUnavailable, i)
		}
	}
	return out, nil
}

func toFloat32(v []float64) domain.Vector {
	out := make(domain.Vector, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
