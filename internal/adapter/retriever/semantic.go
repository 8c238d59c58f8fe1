package retriever

import (
	"context"
	"fmt"
	"time"

	"medrag/internal/domain"
	"medrag/internal/port"
)

// SemanticRetriever embeds the query and returns the nearest chunks from the
// vector index. k is fixed at construction.
type SemanticRetriever struct {
	searcher port.VectorSearcher
	embedder port.Embedder
	k        int
	minScore float64 // Filter results below this score (0 = disabled)
	timeout  time.Duration
}

func NewSemanticRetriever(
	searcher port.VectorSearcher,
	embedder port.Embedder,
	k int,
	minScore float64,
	timeout time.Duration,
) *SemanticRetriever {
	if k <= 0 {
		k = 3
	}
	return &SemanticRetriever{
		searcher: searcher,
		embedder: embedder,
		k:        k,
		minScore: minScore,
		timeout:  timeout,
	}
}

func (r *SemanticRetriever) K() int { return r.k }

// Retrieve returns at most k chunks sorted by descending score. Every failure
// is an ErrRetrieval that still matches its underlying kind.
func (r *SemanticRetriever) Retrieve(ctx context.Context, query string) ([]domain.ScoredChunk, error) {
	if r.searcher == nil || r.embedder == nil {
		return nil, domain.NewError(domain.ErrRetrieval, "retrieve", domain.ErrNotInitialized)
	}

	vector, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, domain.NewError(domain.ErrRetrieval, "embed query", err)
	}

	results, err := r.searcher.Search(vector, r.k)
	if err != nil {
		return nil, domain.NewError(domain.ErrRetrieval, "vector search", err)
	}

	if r.minScore > 0 {
		results = r.filterByThreshold(results)
	}
	return results, nil
}

func (r *SemanticRetriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(embeddings) != 1 {
		return nil, domain.NewError(domain.ErrEmbedding, "embed query",
			fmt.Errorf("expected 1 embedding, got %d", len(embeddings)))
	}
	return embeddings[0], nil
}

// filterByThreshold removes results below the minimum score threshold.
func (r *SemanticRetriever) filterByThreshold(results []domain.ScoredChunk) []domain.ScoredChunk {
	filtered := make([]domain.ScoredChunk, 0, len(results))
	for _, res := range results {
		if res.Score >= r.minScore {
			filtered = append(filtered, res)
		}
	}
	return filtered
}
