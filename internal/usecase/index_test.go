package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"medrag/internal/adapter/chunker"
	"medrag/internal/adapter/embedding"
	"medrag/internal/adapter/store"
	"medrag/internal/domain"
)

const testDim = 256

type staticLoader struct {
	records []domain.Record
	err     error
}

func (l staticLoader) Load() ([]domain.Record, error) {
	return l.records, l.err
}

// failingEmbedder fails every call after the first okCalls.
type failingEmbedder struct {
	*embedding.HashEmbedder
	okCalls int32
	calls   int32
}

func (f *failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if atomic.AddInt32(&f.calls, 1) > f.okCalls {
		return nil, domain.NewError(domain.ErrEmbedding, "embed", errors.New("model server unavailable"))
	}
	return f.HashEmbedder.Embed(ctx, texts)
}

var testTranscriptions = []struct {
	specialty, name, text string
}{
	{"Cardiovascular / Pulmonary", "Chest Pain Evaluation",
		"The patient presents with intermittent chest pain radiating to the left arm. " +
			"An electrocardiogram showed ST depression in the lateral leads. " +
			"Troponin levels were mildly elevated and cardiology was consulted."},
	{"Orthopedic", "Knee Arthroscopy",
		"Arthroscopic examination of the right knee revealed a complex tear of the medial meniscus. " +
			"Partial meniscectomy was performed without complication and the portals were closed."},
	{"Neurology", "Migraine Follow-up",
		"The patient reports fewer migraine episodes since starting topiramate. " +
			"Neurological examination is nonfocal and the headache diary shows improvement."},
	{"Gastroenterology", "Colonoscopy",
		"Colonoscopy to the cecum showed two small sessile polyps in the sigmoid colon which were removed with cold snare."},
}

func testRecords(n int) []domain.Record {
	recs := make([]domain.Record, 0, n)
	for i := 0; i < n && i < len(testTranscriptions); i++ {
		tr := testTranscriptions[i]
		recs = append(recs, domain.Record{
			SourceID:      fmt.Sprintf("rec-%d", i),
			Row:           i + 2,
			Specialty:     tr.specialty,
			SampleName:    tr.name,
			Transcription: tr.text,
		})
	}
	return recs
}

func testSettings(dir string) IndexSettings {
	return IndexSettings{
		Path:           filepath.Join(dir, "index"),
		ChunkSize:      120,
		ChunkOverlap:   30,
		EmbedBatchSize: 2,
		Concurrency:    3,
		WriteBatchSize: 4,
	}
}

func newTestIndexUseCase(records []domain.Record, settings IndexSettings) *IndexUseCase {
	return NewIndexUseCase(
		staticLoader{records: records},
		chunker.NewRecursiveChunker(settings.ChunkSize, settings.ChunkOverlap),
		embedding.NewHashEmbedder(testDim, 0),
		settings,
		nil,
	)
}

func countChunks(records []domain.Record, settings IndexSettings) int {
	c := chunker.NewRecursiveChunker(settings.ChunkSize, settings.ChunkOverlap)
	n := 0
	for _, r := range records {
		n += len(c.Chunk(r))
	}
	return n
}

func TestIndexUseCase_Build(t *testing.T) {
	settings := testSettings(t.TempDir())
	records := testRecords(4)
	want := countChunks(records, settings)
	if want <= len(records) {
		t.Fatalf("test corpus should produce more chunks than records, got %d", want)
	}

	var mu sync.Mutex
	last := map[string]int{}
	uc := newTestIndexUseCase(records, settings)
	result, err := uc.Build(context.Background(), BuildOptions{
		Progress: func(stage string, done, total int) {
			mu.Lock()
			defer mu.Unlock()
			if done > total {
				t.Errorf("%s progress %d exceeds total %d", stage, done, total)
			}
			last[stage] = done
		},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if result.Records != 4 {
		t.Errorf("expected 4 records, got %d", result.Records)
	}
	if result.ChunksCreated != want || result.Entries != want {
		t.Errorf("expected %d chunks, got created=%d entries=%d", want, result.ChunksCreated, result.Entries)
	}
	if last[StageChunking] != 4 {
		t.Errorf("expected chunking progress to reach 4, got %d", last[StageChunking])
	}
	if last[StageEmbedding] != want {
		t.Errorf("expected embedding progress to reach %d, got %d", want, last[StageEmbedding])
	}
	if result.Meta.BuildID == "" {
		t.Error("expected build id in metadata")
	}

	ix, err := store.LoadVectorIndex(settings.Path)
	if err != nil {
		t.Fatalf("LoadVectorIndex failed: %v", err)
	}
	defer ix.Close()

	meta := ix.Meta()
	if meta.Entries != want || meta.Dimension != testDim {
		t.Errorf("unexpected metadata: %+v", meta)
	}
	if meta.ChunkSize != 120 || meta.ChunkOverlap != 30 {
		t.Errorf("chunk settings not recorded: %+v", meta)
	}
	if meta.EmbeddingModel != embedding.NewHashEmbedder(testDim, 0).ModelName() {
		t.Errorf("unexpected model %q", meta.EmbeddingModel)
	}
}

func TestIndexUseCase_BuildKeepsVectorsWithTheirChunks(t *testing.T) {
	settings := testSettings(t.TempDir())
	settings.EmbedBatchSize = 1
	settings.Concurrency = 8

	records := testRecords(4)
	uc := newTestIndexUseCase(records, settings)
	if _, err := uc.Build(context.Background(), BuildOptions{}); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	ix, err := store.LoadVectorIndex(settings.Path)
	if err != nil {
		t.Fatalf("LoadVectorIndex failed: %v", err)
	}
	defer ix.Close()

	emb := embedding.NewHashEmbedder(testDim, 0)
	c := chunker.NewRecursiveChunker(settings.ChunkSize, settings.ChunkOverlap)
	for _, rec := range records {
		for _, ch := range c.Chunk(rec) {
			vecs, err := emb.Embed(context.Background(), []string{ch.Content})
			if err != nil {
				t.Fatal(err)
			}
			results, err := ix.Search(vecs[0], 1)
			if err != nil {
				t.Fatal(err)
			}
			if results[0].Chunk.ID != ch.ID {
				t.Errorf("chunk %s: own vector retrieved %s", ch.ID, results[0].Chunk.ID)
			}
		}
	}
}

func TestIndexUseCase_BuildRefusesExistingIndex(t *testing.T) {
	settings := testSettings(t.TempDir())
	uc := newTestIndexUseCase(testRecords(2), settings)

	if _, err := uc.Build(context.Background(), BuildOptions{}); err != nil {
		t.Fatalf("first Build failed: %v", err)
	}
	_, err := uc.Build(context.Background(), BuildOptions{Mode: ModeCreate})
	if !errors.Is(err, domain.ErrIndexExists) {
		t.Fatalf("expected ErrIndexExists, got %v", err)
	}
}

func TestIndexUseCase_BuildAppend(t *testing.T) {
	settings := testSettings(t.TempDir())
	first := testRecords(2)
	all := testRecords(4)

	if _, err := newTestIndexUseCase(first, settings).Build(context.Background(), BuildOptions{}); err != nil {
		t.Fatalf("initial Build failed: %v", err)
	}

	result, err := newTestIndexUseCase(all, settings).Build(context.Background(), BuildOptions{Mode: ModeAppend})
	if err != nil {
		t.Fatalf("append Build failed: %v", err)
	}

	oldChunks := countChunks(first, settings)
	total := countChunks(all, settings)
	if result.ChunksSkipped != oldChunks {
		t.Errorf("expected %d skipped chunks, got %d", oldChunks, result.ChunksSkipped)
	}
	if result.ChunksCreated != total-oldChunks {
		t.Errorf("expected %d new chunks, got %d", total-oldChunks, result.ChunksCreated)
	}
	if result.Entries != total {
		t.Errorf("expected %d entries, got %d", total, result.Entries)
	}

	// appending the same corpus again is a no-op
	again, err := newTestIndexUseCase(all, settings).Build(context.Background(), BuildOptions{Mode: ModeAppend})
	if err != nil {
		t.Fatalf("second append failed: %v", err)
	}
	if again.ChunksCreated != 0 || again.Entries != total {
		t.Errorf("expected no new chunks, got created=%d entries=%d", again.ChunksCreated, again.Entries)
	}
}

func TestIndexUseCase_BuildAppendIncompatible(t *testing.T) {
	settings := testSettings(t.TempDir())
	if _, err := newTestIndexUseCase(testRecords(2), settings).Build(context.Background(), BuildOptions{}); err != nil {
		t.Fatalf("initial Build failed: %v", err)
	}

	settings.ChunkSize = 200
	_, err := newTestIndexUseCase(testRecords(3), settings).Build(context.Background(), BuildOptions{Mode: ModeAppend})
	if !errors.Is(err, domain.ErrConfig) {
		t.Fatalf("expected ErrConfig for mismatched chunk size, got %v", err)
	}
}

func TestIndexUseCase_BuildOverwrite(t *testing.T) {
	settings := testSettings(t.TempDir())
	if _, err := newTestIndexUseCase(testRecords(4), settings).Build(context.Background(), BuildOptions{}); err != nil {
		t.Fatalf("initial Build failed: %v", err)
	}

	one := testRecords(1)
	result, err := newTestIndexUseCase(one, settings).Build(context.Background(), BuildOptions{Mode: ModeOverwrite})
	if err != nil {
		t.Fatalf("overwrite Build failed: %v", err)
	}
	if want := countChunks(one, settings); result.Entries != want {
		t.Errorf("expected %d entries after overwrite, got %d", want, result.Entries)
	}

	ix, err := store.LoadVectorIndex(settings.Path)
	if err != nil {
		t.Fatalf("LoadVectorIndex failed: %v", err)
	}
	defer ix.Close()
	if ix.Count() != result.Entries {
		t.Errorf("saved index has %d entries, want %d", ix.Count(), result.Entries)
	}
}

func TestIndexUseCase_BuildEmptyCorpus(t *testing.T) {
	blank := []domain.Record{{SourceID: "blank", Specialty: "Neurology", Transcription: "   "}}

	for name, records := range map[string][]domain.Record{"none": nil, "blank": blank} {
		t.Run(name, func(t *testing.T) {
			settings := testSettings(t.TempDir())
			result, err := newTestIndexUseCase(records, settings).Build(context.Background(), BuildOptions{})
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			if result.Entries != 0 || result.ChunksCreated != 0 {
				t.Errorf("expected an empty index, got %d entries and %d new chunks", result.Entries, result.ChunksCreated)
			}
			if !store.Exists(settings.Path) {
				t.Fatal("an empty index should still be saved")
			}

			ix, err := store.LoadVectorIndex(settings.Path)
			if err != nil {
				t.Fatalf("LoadVectorIndex failed: %v", err)
			}
			defer ix.Close()
			if ix.Meta().Dimension != testDim {
				t.Errorf("expected dimension %d, got %d", testDim, ix.Meta().Dimension)
			}
			if _, err := ix.Search(make([]float32, testDim), 3); !errors.Is(err, domain.ErrIndexEmpty) {
				t.Errorf("expected ErrIndexEmpty from search, got %v", err)
			}
		})
	}
}

func TestIndexUseCase_BuildLoaderError(t *testing.T) {
	settings := testSettings(t.TempDir())
	uc := NewIndexUseCase(
		staticLoader{err: domain.NewError(domain.ErrCorpus, "load corpus", errors.New("no files matched"))},
		chunker.NewRecursiveChunker(settings.ChunkSize, settings.ChunkOverlap),
		embedding.NewHashEmbedder(testDim, 0),
		settings,
		nil,
	)

	_, err := uc.Build(context.Background(), BuildOptions{})
	if !errors.Is(err, domain.ErrCorpus) {
		t.Fatalf("expected ErrCorpus, got %v", err)
	}
}

func TestIndexUseCase_BuildEmbeddingFailureKeepsPreviousIndex(t *testing.T) {
	settings := testSettings(t.TempDir())
	if _, err := newTestIndexUseCase(testRecords(2), settings).Build(context.Background(), BuildOptions{}); err != nil {
		t.Fatalf("initial Build failed: %v", err)
	}
	before := countChunks(testRecords(2), settings)

	uc := NewIndexUseCase(
		staticLoader{records: testRecords(4)},
		chunker.NewRecursiveChunker(settings.ChunkSize, settings.ChunkOverlap),
		&failingEmbedder{HashEmbedder: embedding.NewHashEmbedder(testDim, 0), okCalls: 1},
		settings,
		nil,
	)
	_, err := uc.Build(context.Background(), BuildOptions{Mode: ModeOverwrite})
	if !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
	if !strings.Contains(err.Error(), "model server unavailable") {
		t.Errorf("expected cause in error, got %v", err)
	}

	ix, err := store.LoadVectorIndex(settings.Path)
	if err != nil {
		t.Fatalf("previous index should still load: %v", err)
	}
	defer ix.Close()
	if ix.Count() != before {
		t.Errorf("previous index changed: %d entries, want %d", ix.Count(), before)
	}
}

func TestIndexUseCase_BuildCancelled(t *testing.T) {
	settings := testSettings(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestIndexUseCase(testRecords(4), settings).Build(ctx, BuildOptions{})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if store.Exists(settings.Path) {
		t.Error("cancelled build should not write an index")
	}
}
