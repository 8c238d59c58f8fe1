package port

import (
	"context"

	"medrag/internal/domain"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates embeddings for the given texts.
	// Returns a slice of vectors, one per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// VectorSearcher finds the chunks nearest to a query vector.
type VectorSearcher interface {
	// Search returns up to k chunks sorted by descending score.
	Search(query []float32, k int) ([]domain.ScoredChunk, error)

	// Count returns the number of indexed vectors.
	Count() int
}

// VectorItem is a chunk paired with its embedding.
type VectorItem struct {
	Chunk  domain.Chunk
	Vector []float32
}
