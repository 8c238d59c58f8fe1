package port

import (
	"context"

	"medrag/internal/domain"
)

// Retriever returns the chunks most relevant to a free-text query.
type Retriever interface {
	// Retrieve returns at most k chunks sorted by descending score.
	Retrieve(ctx context.Context, query string) ([]domain.ScoredChunk, error)
}
