package store

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"medrag/internal/domain"
	"medrag/internal/port"
)

// VectorIndex is a flat, brute-force cosine index held in memory and
// persisted to a bbolt file. Entry keys are insertion positions and break
// score ties in Search. Safe for concurrent readers.
type VectorIndex struct {
	mu        sync.RWMutex
	dimension int
	model     string
	chunkSize int
	overlap   int
	entries   []vectorEntry
	ids       map[string]struct{}
	meta      domain.IndexMeta
	closed    bool
}

type vectorEntry struct {
	chunk  domain.Chunk
	vector []float32
	norm   float64
}

// NewVectorIndex creates an empty index for vectors of the given dimension
// produced by model.
func NewVectorIndex(dimension int, model string) *VectorIndex {
	return &VectorIndex{
		dimension: dimension,
		model:     model,
		ids:       make(map[string]struct{}),
	}
}

// SetChunking records the chunker settings in the index metadata.
func (ix *VectorIndex) SetChunking(size, overlap int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.chunkSize = size
	ix.overlap = overlap
}

// Build appends items in batches of batchSize. Every item is validated before
// any is added, so a rejected call leaves the index unchanged and the result
// does not depend on batchSize.
func (ix *VectorIndex) Build(items []port.VectorItem, batchSize int) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return errors.New("index is closed")
	}

	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		if len(item.Vector) != ix.dimension {
			return fmt.Errorf("item %d: vector dimension mismatch: expected %d, got %d", i, ix.dimension, len(item.Vector))
		}
		if item.Chunk.ID == "" {
			return fmt.Errorf("item %d: empty chunk id", i)
		}
		if _, dup := ix.ids[item.Chunk.ID]; dup {
			return fmt.Errorf("item %d: chunk %s already indexed", i, item.Chunk.ID)
		}
		if _, dup := seen[item.Chunk.ID]; dup {
			return fmt.Errorf("item %d: duplicate chunk %s", i, item.Chunk.ID)
		}
		seen[item.Chunk.ID] = struct{}{}
	}

	if batchSize <= 0 {
		batchSize = len(items)
	}
	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		for _, item := range items[i:end] {
			ix.append(item.Chunk, item.Vector)
		}
	}
	return nil
}

func (ix *VectorIndex) append(chunk domain.Chunk, vector []float32) {
	ix.entries = append(ix.entries, vectorEntry{
		chunk:  chunk,
		vector: append([]float32(nil), vector...),
		norm:   vectorNorm(vector),
	})
	ix.ids[chunk.ID] = struct{}{}
}

// Has reports whether a chunk with id is indexed.
func (ix *VectorIndex) Has(id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.ids[id]
	return ok
}

// Search returns the k entries most similar to query by cosine similarity,
// sorted by descending score with ties going to the earlier insertion.
func (ix *VectorIndex) Search(query []float32, k int) ([]domain.ScoredChunk, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.closed {
		return nil, errors.New("index is closed")
	}
	if len(ix.entries) == 0 {
		return nil, domain.NewError(domain.ErrIndexEmpty, "search", nil)
	}
	if len(query) != ix.dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", ix.dimension, len(query))
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	type scored struct {
		key   int
		score float64
	}

	qnorm := vectorNorm(query)
	scores := make([]scored, len(ix.entries))
	for i := range ix.entries {
		scores[i] = scored{key: i, score: cosineSimilarity(query, qnorm, &ix.entries[i])}
	}

	// Sort by score descending, then insertion key ascending
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].key < scores[j].key
	})

	if k > len(scores) {
		k = len(scores)
	}

	results := make([]domain.ScoredChunk, k)
	for i := 0; i < k; i++ {
		results[i] = domain.ScoredChunk{
			Chunk: ix.entries[scores[i].key].chunk,
			Score: scores[i].score,
		}
	}
	return results, nil
}

// Count returns the number of indexed vectors.
func (ix *VectorIndex) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Meta returns the metadata of the last save or load, with the current
// entry count.
func (ix *VectorIndex) Meta() domain.IndexMeta {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	m := ix.meta
	m.SchemaVersion = CurrentSchemaVersion
	m.Metric = MetricCosine
	m.Dimension = ix.dimension
	m.EmbeddingModel = ix.model
	m.ChunkSize = ix.chunkSize
	m.ChunkOverlap = ix.overlap
	m.Entries = len(ix.entries)
	return m
}

// Close releases the in-memory entries. Further searches fail.
func (ix *VectorIndex) Close() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries = nil
	ix.ids = nil
	ix.closed = true
}

// Save writes the index to dir/index.db. The file is written into a
// temporary sibling directory which then replaces dir, so readers never see
// a partially written index.
func (ix *VectorIndex) Save(dir string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return errors.New("index is closed")
	}

	dir = filepath.Clean(dir)
	parent, base := filepath.Dir(dir), filepath.Base(dir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("failed to create index parent: %w", err)
	}

	buildID := uuid.NewString()
	tmp := filepath.Join(parent, "."+base+".tmp-"+buildID)
	if err := os.Mkdir(tmp, 0755); err != nil {
		return fmt.Errorf("failed to create temp index dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	meta := domain.IndexMeta{
		SchemaVersion:  CurrentSchemaVersion,
		BuildID:        buildID,
		BuiltAt:        time.Now().Unix(),
		Metric:         MetricCosine,
		Dimension:      ix.dimension,
		EmbeddingModel: ix.model,
		ChunkSize:      ix.chunkSize,
		ChunkOverlap:   ix.overlap,
		Entries:        len(ix.entries),
	}
	if err := ix.writeFile(filepath.Join(tmp, IndexFile), meta); err != nil {
		return err
	}

	if err := swapDir(tmp, dir, parent, base, buildID); err != nil {
		return err
	}
	ix.meta = meta
	return nil
}

func (ix *VectorIndex) writeFile(path string, meta domain.IndexMeta) error {
	st, err := CreateBoltStore(path)
	if err != nil {
		return err
	}

	chunks := make([]domain.Chunk, len(ix.entries))
	vectors := make([][]float32, len(ix.entries))
	for i, e := range ix.entries {
		chunks[i] = e.chunk
		vectors[i] = e.vector
	}

	if err := st.PutEntries(0, chunks, vectors, 1000); err != nil {
		st.Close()
		return fmt.Errorf("failed to write entries: %w", err)
	}
	if err := st.PutMeta(meta); err != nil {
		st.Close()
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return st.Close()
}

// swapDir moves tmp into place at dir. An existing dir is moved aside first
// and restored if the final rename fails.
func swapDir(tmp, dir, parent, base, buildID string) error {
	old := ""
	if _, err := os.Stat(dir); err == nil {
		old = filepath.Join(parent, "."+base+".old-"+buildID)
		if err := os.Rename(dir, old); err != nil {
			return fmt.Errorf("failed to move previous index aside: %w", err)
		}
	}

	if err := os.Rename(tmp, dir); err != nil {
		if old != "" {
			_ = os.Rename(old, dir)
		}
		return fmt.Errorf("failed to move index into place: %w", err)
	}

	if old != "" {
		_ = os.RemoveAll(old)
	}
	return nil
}

// Exists reports whether dir holds a saved index file.
func Exists(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, IndexFile))
	return err == nil && info.Mode().IsRegular()
}

// LoadVectorIndex reads dir/index.db fully into memory. A missing index is an
// ErrIndexCorrupt wrapping fs.ErrNotExist; any structural problem is an
// ErrIndexCorrupt.
func LoadVectorIndex(dir string) (*VectorIndex, error) {
	path := filepath.Join(dir, IndexFile)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.NewError(domain.ErrIndexCorrupt, "load index",
				fmt.Errorf("no index at %s: %w", dir, fs.ErrNotExist))
		}
		return nil, domain.NewError(domain.ErrIndexCorrupt, "load index", err)
	}

	st, err := OpenBoltStore(path)
	if err != nil {
		return nil, domain.NewError(domain.ErrIndexCorrupt, "load index", err)
	}
	defer st.Close()

	meta, err := st.GetMeta()
	if err != nil {
		return nil, domain.NewError(domain.ErrIndexCorrupt, "load index", err)
	}
	if err := CheckSchema(meta); err != nil {
		return nil, domain.NewError(domain.ErrIndexCorrupt, "load index", err)
	}

	ix := NewVectorIndex(meta.Dimension, meta.EmbeddingModel)
	ix.chunkSize = meta.ChunkSize
	ix.overlap = meta.ChunkOverlap
	ix.meta = meta
	ix.entries = make([]vectorEntry, 0, meta.Entries)

	var next uint64
	err = st.ForEach(func(key uint64, chunk domain.Chunk, vector []float32) error {
		if key != next {
			return fmt.Errorf("entry key %d out of sequence, expected %d", key, next)
		}
		next++
		if len(vector) != meta.Dimension {
			return fmt.Errorf("entry %d: vector has %d dimensions, expected %d", key, len(vector), meta.Dimension)
		}
		if _, dup := ix.ids[chunk.ID]; dup {
			return fmt.Errorf("entry %d: duplicate chunk %s", key, chunk.ID)
		}
		ix.append(chunk, vector)
		return nil
	})
	if err != nil {
		return nil, domain.NewError(domain.ErrIndexCorrupt, "load index", err)
	}

	if len(ix.entries) != meta.Entries {
		return nil, domain.NewError(domain.ErrIndexCorrupt, "load index",
			fmt.Errorf("metadata lists %d entries, found %d", meta.Entries, len(ix.entries)))
	}
	return ix, nil
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity scores query against e. Zero-magnitude vectors score 0.
func cosineSimilarity(query []float32, qnorm float64, e *vectorEntry) float64 {
	if qnorm == 0 || e.norm == 0 {
		return 0
	}

	var dotProduct float64
	for i := range query {
		dotProduct += float64(query[i]) * float64(e.vector[i])
	}
	return dotProduct / (qnorm * e.norm)
}
