package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"medrag/internal/adapter/analyzer"
	"medrag/internal/domain"
)

const gramSize = 3

// HashEmbedder is an offline embedder that projects word and character
// trigram features into a fixed number of buckets. It needs no model server
// and gives the same vector for the same text on every machine.
type HashEmbedder struct {
	dimension int
	maxTokens int
	tokenizer *analyzer.Tokenizer
	counter   *analyzer.Tokenizer
}

func NewHashEmbedder(dimension, maxTokens int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 384
	}
	return &HashEmbedder{
		dimension: dimension,
		maxTokens: maxTokens,
		tokenizer: analyzer.NewTokenizer(true),
		counter:   analyzer.NewTokenizer(false),
	}
}

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateInputs(texts, e.counter, e.maxTokens); err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, domain.NewError(domain.ErrEmbedding, "embed", err)
		}
		embeddings[i] = e.vector(text)
	}
	return embeddings, nil
}

func (e *HashEmbedder) vector(text string) []float32 {
	v := make([]float64, e.dimension)

	tokens := e.tokenizer.Tokenize(text)
	if len(tokens) == 0 {
		tokens = e.counter.Tokenize(text)
	}
	if len(tokens) == 0 {
		tokens = []string{strings.ToLower(strings.TrimSpace(text))}
	}

	for _, tok := range tokens {
		e.add(v, "w:"+tok, 1.0)
		for _, g := range analyzer.Grams(tok, gramSize) {
			e.add(v, "g:"+g, 0.5)
		}
	}

	var norm float64
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		// features cancelled out; any fixed unit vector keeps the result non-zero
		v[0], norm = 1, 1
	}

	out := make([]float32, e.dimension)
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out
}

// add hashes feature into a bucket with a hash-derived sign.
func (e *HashEmbedder) add(v []float64, feature string, weight float64) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dimension))
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}

func (e *HashEmbedder) Dimension() int {
	return e.dimension
}

func (e *HashEmbedder) ModelName() string {
	return fmt.Sprintf("hash-trigram-%d", e.dimension)
}
