package domain

import (
	"context"
	"errors"
)

// Sentinel errors for every failure kind the core reports. Adapters wrap
// them with fmt.Errorf("...: %w", ...) so callers can test with errors.Is.
var (
	// ErrInvalidConfiguration indicates a component was constructed with bad settings.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInvalidInput indicates malformed input, such as an empty query or oversized text.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmptyInput indicates there was no text to work on.
	ErrEmptyInput = errors.New("empty input")

	// ErrDimensionMismatch indicates a vector does not match the index dimensionality.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrBackendUnavailable indicates the embedding backend could not be reached.
	ErrBackendUnavailable = errors.New("embedding backend unavailable")

	// ErrIndexUnavailable indicates the vector store failed or timed out.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrGenerationUnavailable indicates the generation backend failed transiently.
	ErrGenerationUnavailable = errors.New("generation backend unavailable")

	// ErrRateLimited indicates a backend throttled the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrGenerationRejected indicates the generation backend refused the prompt,
	// typically on content policy. Not retried.
	ErrGenerationRejected = errors.New("generation rejected")

	// ErrNotFound indicates the named collection or entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRetrievalUnavailable indicates a turn could not be grounded because the
	// query could not be embedded.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrCancelled indicates the caller cancelled the operation.
	ErrCancelled = errors.New("cancelled")
)

// Kind names a failure category in results and logs.
type Kind string

const (
	KindNone                  Kind = ""
	KindInvalidConfiguration  Kind = "InvalidConfiguration"
	KindInvalidInput          Kind = "InvalidInput"
	KindEmptyInput            Kind = "EmptyInput"
	KindDimensionMismatch     Kind = "DimensionMismatch"
	KindBackendUnavailable    Kind = "BackendUnavailable"
	KindIndexUnavailable      Kind = "IndexUnavailable"
	KindGenerationUnavailable Kind = "GenerationUnavailable"
	KindRateLimited           Kind = "RateLimited"
	KindGenerationRejected    Kind = "GenerationRejected"
	KindNotFound              Kind = "NotFound"
	KindRetrievalUnavailable  Kind = "RetrievalUnavailable"
	KindCancelled             Kind = "Cancelled"
	KindUnknown               Kind = "Unknown"
)

// Order matters: wrapping kinds (retrieval, cancellation) are checked before
// the backend errors they usually wrap.
var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrCancelled, KindCancelled},
	{ErrRetrievalUnavailable, KindRetrievalUnavailable},
	{ErrInvalidConfiguration, KindInvalidConfiguration},
	{ErrInvalidInput, KindInvalidInput},
	{ErrEmptyInput, KindEmptyInput},
	{ErrDimensionMismatch, KindDimensionMismatch},
	{ErrRateLimited, KindRateLimited},
	{ErrBackendUnavailable, KindBackendUnavailable},
	{ErrIndexUnavailable, KindIndexUnavailable},
	{ErrGenerationRejected, KindGenerationRejected},
	{ErrGenerationUnavailable, KindGenerationUnavailable},
	{ErrNotFound, KindNotFound},
}

// KindOf classifies err. Context cancellation that was not wrapped by the
// core is reported as KindCancelled.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindUnknown
}

// Retryable reports whether err is transient and safe to retry with backoff.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindBackendUnavailable, KindIndexUnavailable, KindGenerationUnavailable,
		KindRateLimited, KindRetrievalUnavailable:
		return true
	}
	return false
}
