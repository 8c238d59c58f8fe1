package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"medrag/internal/adapter/store"
	"medrag/internal/domain"
	"medrag/internal/port"
)

// BuildMode selects what Build does when an index already exists.
type BuildMode int

const (
	// ModeCreate refuses to replace an existing index.
	ModeCreate BuildMode = iota
	// ModeAppend loads the existing index and adds chunks it does not hold yet.
	ModeAppend
	// ModeOverwrite builds from scratch and replaces the existing index.
	ModeOverwrite
)

func (m BuildMode) String() string {
	switch m {
	case ModeAppend:
		return "append"
	case ModeOverwrite:
		return "overwrite"
	default:
		return "create"
	}
}

// Build stages reported to ProgressFunc.
const (
	StageChunking  = "chunking"
	StageEmbedding = "embedding"
)

// ProgressFunc receives progress for a build stage. Calls are serialized.
type ProgressFunc func(stage string, done, total int)

// BuildOptions controls one Build call.
type BuildOptions struct {
	Mode     BuildMode
	Progress ProgressFunc
}

// IndexSettings fixes where and how the index is built.
type IndexSettings struct {
	Path           string
	ChunkSize      int
	ChunkOverlap   int
	EmbedBatchSize int
	Concurrency    int
	WriteBatchSize int
}

// IndexUseCase runs the offline build phase: load, chunk, embed, save.
type IndexUseCase struct {
	loader   port.CorpusLoader
	chunker  port.Chunker
	embedder port.Embedder
	settings IndexSettings
	logger   *zap.Logger
}

// NewIndexUseCase creates a new index use case.
func NewIndexUseCase(
	loader port.CorpusLoader,
	chunker port.Chunker,
	embedder port.Embedder,
	settings IndexSettings,
	logger *zap.Logger,
) *IndexUseCase {
	if settings.EmbedBatchSize <= 0 {
		settings.EmbedBatchSize = 64
	}
	if settings.Concurrency <= 0 {
		settings.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexUseCase{
		loader:   loader,
		chunker:  chunker,
		embedder: embedder,
		settings: settings,
		logger:   logger,
	}
}

// IndexResult contains the results of a build.
type IndexResult struct {
	Mode          BuildMode
	Records       int
	ChunksCreated int
	ChunksSkipped int // already present when appending
	Entries       int
	Meta          domain.IndexMeta
	Duration      time.Duration
	Path          string
}

// Build runs the build phase. Any error aborts the build and leaves the
// index at the configured path untouched.
func (u *IndexUseCase) Build(ctx context.Context, opts BuildOptions) (*IndexResult, error) {
	start := time.Now()
	progress := serialize(opts.Progress)
	result := &IndexResult{Mode: opts.Mode, Path: u.settings.Path}

	ix, err := u.target(opts.Mode)
	if err != nil {
		return nil, err
	}
	existing := ix.Count()

	records, err := u.loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}
	result.Records = len(records)
	u.logger.Info("corpus loaded", zap.Int("records", len(records)), zap.String("mode", opts.Mode.String()))

	var chunks []domain.Chunk
	for i, rec := range records {
		for _, c := range u.chunker.Chunk(rec) {
			if ix.Has(c.ID) {
				result.ChunksSkipped++
				continue
			}
			chunks = append(chunks, c)
		}
		progress(StageChunking, i+1, len(records))
	}
	result.ChunksCreated = len(chunks)

	if len(chunks) == 0 {
		if existing > 0 {
			// nothing new to append
			result.Entries = existing
			result.Meta = ix.Meta()
			result.Duration = time.Since(start)
			return result, nil
		}
		// an empty corpus still yields a valid index; searches on it
		// report ErrIndexEmpty
		u.logger.Warn("corpus produced no chunks, saving an empty index", zap.Int("records", len(records)))
	} else {
		vectors, err := u.embedAll(ctx, chunks, progress)
		if err != nil {
			return nil, err
		}

		items := make([]port.VectorItem, len(chunks))
		for i := range chunks {
			items[i] = port.VectorItem{Chunk: chunks[i], Vector: vectors[i]}
		}
		if err := ix.Build(items, u.settings.WriteBatchSize); err != nil {
			return nil, domain.NewError(domain.ErrEmbedding, "build index", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ix.Save(u.settings.Path); err != nil {
		return nil, fmt.Errorf("failed to save index: %w", err)
	}

	result.Entries = ix.Count()
	result.Meta = ix.Meta()
	result.Duration = time.Since(start)
	u.logger.Info("index saved",
		zap.String("path", u.settings.Path),
		zap.Int("entries", result.Entries),
		zap.Int("new_chunks", result.ChunksCreated),
		zap.String("build_id", result.Meta.BuildID),
		zap.Duration("took", result.Duration))
	return result, nil
}

// target returns the index to add entries to, according to mode.
func (u *IndexUseCase) target(mode BuildMode) (*store.VectorIndex, error) {
	fresh := func() *store.VectorIndex {
		ix := store.NewVectorIndex(u.embedder.Dimension(), u.embedder.ModelName())
		ix.SetChunking(u.settings.ChunkSize, u.settings.ChunkOverlap)
		return ix
	}

	if !store.Exists(u.settings.Path) {
		return fresh(), nil
	}

	switch mode {
	case ModeOverwrite:
		return fresh(), nil
	case ModeAppend:
		ix, err := store.LoadVectorIndex(u.settings.Path)
		if err != nil {
			return nil, err
		}
		compat := store.CheckCompatibility(ix.Meta(), u.embedder.Dimension(), u.embedder.ModelName(),
			u.settings.ChunkSize, u.settings.ChunkOverlap)
		if !compat.Compatible {
			return nil, domain.NewError(domain.ErrConfig, "append to index",
				fmt.Errorf("existing index is incompatible: %s", compat.Reason))
		}
		return ix, nil
	default:
		return nil, domain.NewError(domain.ErrIndexExists, "build index",
			fmt.Errorf("%s already holds an index; use append or overwrite", u.settings.Path))
	}
}

// embedAll embeds chunk contents in batches, at most Concurrency batches in
// flight, keeping vectors in chunk order.
func (u *IndexUseCase) embedAll(ctx context.Context, chunks []domain.Chunk, progress ProgressFunc) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	batch := u.settings.EmbedBatchSize

	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.settings.Concurrency)

	for start := 0; start < len(chunks); start += batch {
		start := start
		end := start + batch
		if end > len(chunks) {
			end = len(chunks)
		}

		g.Go(func() error {
			texts := make([]string, end-start)
			for i := start; i < end; i++ {
				texts[i-start] = chunks[i].Content
			}

			embs, err := u.embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("embedding chunks %d-%d: %w", start, end-1, err)
			}
			if len(embs) != len(texts) {
				return domain.NewError(domain.ErrEmbedding, "embed chunks",
					fmt.Errorf("expected %d vectors, got %d", len(texts), len(embs)))
			}
			copy(vectors[start:end], embs)

			// report under the lock so counts arrive in order
			mu.Lock()
			done += len(texts)
			progress(StageEmbedding, done, len(chunks))
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// serialize wraps fn so concurrent callers never overlap. A nil fn is a no-op.
func serialize(fn ProgressFunc) ProgressFunc {
	if fn == nil {
		return func(string, int, int) {}
	}
	var mu sync.Mutex
	return func(stage string, done, total int) {
		mu.Lock()
		defer mu.Unlock()
		fn(stage, done, total)
	}
}
