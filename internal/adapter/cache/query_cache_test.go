package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"medrag/internal/domain"
)

type countingRetriever struct {
	calls int
	err   error
}

func (r *countingRetriever) Retrieve(ctx context.Context, query string) ([]domain.ScoredChunk, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return []domain.ScoredChunk{{Chunk: domain.Chunk{ID: query}, Score: 0.9}}, nil
}

func TestQueryCache_GetPut(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	results := []domain.ScoredChunk{{Chunk: domain.Chunk{ID: "a"}, Score: 1}}

	if _, hit := c.Get("allergic rhinitis", 3); hit {
		t.Fatal("empty cache should miss")
	}
	c.Put("allergic rhinitis", 3, results)

	got, hit := c.Get("  allergic   rhinitis ", 3)
	if !hit {
		t.Fatal("whitespace variant should hit")
	}
	if _, hit := c.Get("Allergic Rhinitis", 3); hit {
		t.Error("case variant should miss")
	}
	if len(got) != 1 || got[0].Chunk.ID != "a" {
		t.Errorf("unexpected results: %+v", got)
	}
	if _, hit := c.Get("allergic rhinitis", 5); hit {
		t.Error("different k should miss")
	}

	// callers may not mutate cached slices
	got[0].Score = 0
	again, _ := c.Get("allergic rhinitis", 3)
	if again[0].Score != 1 {
		t.Error("cached results were mutated through a returned slice")
	}
}

func TestQueryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewQueryCache(2, time.Minute)
	c.Put("a", 3, nil)
	c.Put("b", 3, nil)
	c.Get("a", 3)
	c.Put("c", 3, nil)

	if c.Size() != 2 {
		t.Fatalf("expected size 2, got %d", c.Size())
	}
	if _, hit := c.Get("b", 3); hit {
		t.Error("b should have been evicted")
	}
	if _, hit := c.Get("a", 3); !hit {
		t.Error("a should still be cached")
	}
}

func TestQueryCache_TTL(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Put("q", 3, nil)
	now = now.Add(2 * time.Minute)
	if _, hit := c.Get("q", 3); hit {
		t.Error("expired entry should miss")
	}
	if c.Size() != 0 {
		t.Errorf("expired entry should be removed, size %d", c.Size())
	}
}

func TestQueryCache_Invalidate(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	c.Put("q", 3, nil)
	c.Invalidate()
	if _, hit := c.Get("q", 3); hit {
		t.Error("invalidated entry should miss")
	}
}

func TestCachedRetriever(t *testing.T) {
	inner := &countingRetriever{}
	r := NewCachedRetriever(inner, NewQueryCache(10, time.Minute), 3)

	for i := 0; i < 3; i++ {
		if _, err := r.Retrieve(context.Background(), "kidney stones"); err != nil {
			t.Fatal(err)
		}
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 inner call, got %d", inner.calls)
	}

	got, err := r.Retrieve(context.Background(), "  HIV   viral load ")
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Chunk.ID != "HIV viral load" {
		t.Errorf("inner retriever should see the whitespace-folded query, got %q", got[0].Chunk.ID)
	}
	got, err = r.Retrieve(context.Background(), "hiv viral load")
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Chunk.ID != "hiv viral load" || inner.calls != 3 {
		t.Errorf("case variants should be retrieved separately, got %q after %d calls", got[0].Chunk.ID, inner.calls)
	}

	failing := &countingRetriever{err: errors.New("boom")}
	r = NewCachedRetriever(failing, NewQueryCache(10, time.Minute), 3)
	r.Retrieve(context.Background(), "q")
	r.Retrieve(context.Background(), "q")
	if failing.calls != 2 {
		t.Errorf("errors should not be cached, got %d calls", failing.calls)
	}
}
