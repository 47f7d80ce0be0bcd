// Package bedrock embeds text with Amazon Titan text embedding models served
// by Amazon Bedrock.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"healthai/internal/domain"
	"healthai/internal/provider"
)

const DefaultModel = "amazon.titan-embed-text-v2:0"

// InvokeModelAPI is the subset of the Bedrock runtime client used here.
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Config selects the Titan model and output size.
type Config struct {
	Model string
	// Dimensions is 256, 512 or 1024 for Titan v2; zero keeps the model default.
	Dimensions int
	Normalize  bool
}

// Embedder calls InvokeModel once per text; Titan has no batch input.
type Embedder struct {
	api   InvokeModelAPI
	model string
	dims  int
	norm  bool
}

// New creates an Embedder backed by api.
func New(api InvokeModelAPI, cfg Config) *Embedder {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Embedder{api: api, model: cfg.Model, dims: cfg.Dimensions, norm: cfg.Normalize}
}

// NewFromConfig creates an Embedder using a Bedrock runtime client.
func NewFromConfig(awsCfg aws.Config, cfg Config) *Embedder {
	return New(bedrockruntime.NewFromConfig(awsCfg), cfg)
}

// ModelName returns the Bedrock model id.
func (e *Embedder) ModelName() string { return e.model }

type titanRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
	Normalize  bool   `json:"normalize"`
}

type titanResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// Embed returns one vector per text, in order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([]domain.Vector, error) {
	out := make([]domain.Vector, len(texts))
	for i, text := range texts {
		body, err := json.Marshal(titanRequest{InputText: text, Dimensions: e.dims, Normalize: e.norm})
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		resp, err := e.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(e.model),
			Body:        body,
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
		})
		if err != nil {
			return nil, provider.MapAWSError("bedrock embeddings", err, domain.ErrBackendUnavailable)
		}
		var decoded titanResponse
		if err := json.Unmarshal(resp.Body, &decoded); err != nil {
			return nil, fmt.Errorf("%w: decode titan response: %v", domain.ErrBackendUnavailable, err)
		}
		out[i] = domain.Vector(decoded.Embedding)
	}
	return out, nil
}
