package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"healthai/internal/domain"
)

// NewGeminiClient creates a Gemini API client authenticated with an API key.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini API key is required", domain.ErrInvalidConfiguration)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("%w: create gemini client: %v", domain.ErrInvalidConfiguration, err)
	}
	return client, nil
}

// MapGeminiError classifies errors from the Gemini client. Blocked prompts and
// safety stops become domain.ErrGenerationRejected.
func MapGeminiError(err error, unavailable error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return fmt.Errorf("%w: gemini: %v", domain.ErrGenerationRejected, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusTooManyRequests:
			return fmt.Errorf("gemini: %w: %v", &RateLimitError{Backend: "gemini"}, err)
		case http.StatusBadRequest:
			return fmt.Errorf("%w: gemini: %v", domain.ErrInvalidInput, err)
		}
		return fmt.Errorf("%w: gemini: %v", unavailable, err)
	}
	switch status.Code(err) {
	case codes.ResourceExhausted:
		return fmt.Errorf("gemini: %w: %v", &RateLimitError{Backend: "gemini"}, err)
	case codes.InvalidArgument:
		return fmt.Errorf("%w: gemini: %v", domain.ErrInvalidInput, err)
	}
	return fmt.Errorf("%w: gemini: %v", unavailable, err)
}
