package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"medrag/internal/domain"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(384, 0)
	a, err := e.Embed(context.Background(), []string{"allergic rhinitis symptoms"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewHashEmbedder(384, 0).Embed(context.Background(), []string{"allergic rhinitis symptoms"})
	if err != nil {
		t.Fatal(err)
	}
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatalf("vectors differ at %d", i)
		}
	}
	if len(a[0]) != 384 {
		t.Errorf("expected 384 dims, got %d", len(a[0]))
	}
}

func TestHashEmbedder_Similarity(t *testing.T) {
	e := NewHashEmbedder(384, 0)
	vecs, err := e.Embed(context.Background(), []string{
		"symptoms of allergic rhinitis",
		"Allergic rhinitis with sneezing and nasal congestion, symptom onset in spring.",
		"Laparoscopic cholecystectomy performed under general anesthesia.",
	})
	if err != nil {
		t.Fatal(err)
	}

	related := cosine(vecs[0], vecs[1])
	unrelated := cosine(vecs[0], vecs[2])
	if related <= unrelated {
		t.Errorf("expected related text to score higher: related=%f unrelated=%f", related, unrelated)
	}
}

func TestHashEmbedder_UnitNorm(t *testing.T) {
	vecs, err := NewHashEmbedder(64, 0).Embed(context.Background(), []string{"the", "?!", "kidney stones"})
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range vecs {
		var n float64
		for _, x := range v {
			n += float64(x) * float64(x)
		}
		if math.Abs(n-1) > 1e-5 {
			t.Errorf("vector %d: expected unit norm, got %f", i, n)
		}
	}
}

func TestHashEmbedder_RejectsEmpty(t *testing.T) {
	_, err := NewHashEmbedder(64, 0).Embed(context.Background(), []string{""})
	if !errors.Is(err, domain.ErrEmbedding) {
		t.Errorf("expected ErrEmbedding, got %v", err)
	}
}
