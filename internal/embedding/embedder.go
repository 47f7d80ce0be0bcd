package embedding

import (
	"context"

	"healthai/internal/domain"
)

// Backend converts text into vectors through a concrete embedding provider.
// Implementations return exactly one vector per input, in input order, and
// map provider failures to the domain error kinds.
type Backend interface {
	Embed(ctx context.Context, texts []string) ([]domain.Vector, error)
	ModelName() string
}
