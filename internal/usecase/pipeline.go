package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"medrag/internal/adapter/cache"
	"medrag/internal/adapter/retriever"
	"medrag/internal/adapter/store"
	"medrag/internal/domain"
	"medrag/internal/port"
)

// PipelineOptions configures the query phase.
type PipelineOptions struct {
	IndexPath    string
	TopK         int
	MinScore     float64
	EmbedTimeout time.Duration
	CacheSize    int // 0 disables the retrieval cache
	CacheTTL     time.Duration
}

// Pipeline answers questions against a loaded index: retrieve, assemble,
// generate. Init loads the index once; Answer and Invoke are safe for
// concurrent use afterwards.
type Pipeline struct {
	embedder  port.Embedder
	generator port.LLM
	assembler *PromptAssembler
	opts      PipelineOptions
	logger    *zap.Logger

	mu        sync.RWMutex
	index     *store.VectorIndex
	retriever port.Retriever
	cache     *cache.QueryCache
}

func NewPipeline(
	embedder port.Embedder,
	generator port.LLM,
	assembler *PromptAssembler,
	opts PipelineOptions,
	logger *zap.Logger,
) *Pipeline {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		embedder:  embedder,
		generator: generator,
		assembler: assembler,
		opts:      opts,
		logger:    logger,
	}
}

// Init loads the index and checks it against the configured embedder. It
// fails on a missing or corrupt index. An empty index loads, and queries on
// it fail with ErrIndexEmpty.
func (p *Pipeline) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ix, err := store.LoadVectorIndex(p.opts.IndexPath)
	if err != nil {
		return err
	}

	meta := ix.Meta()
	compat := store.CheckCompatibility(meta, p.embedder.Dimension(), p.embedder.ModelName(), 0, 0)
	if !compat.Compatible {
		ix.Close()
		return domain.NewError(domain.ErrConfig, "init pipeline",
			fmt.Errorf("index at %s does not match the embedder: %s", p.opts.IndexPath, compat.Reason))
	}
	if ix.Count() == 0 {
		p.logger.Warn("loaded index has no entries, queries will report an empty index",
			zap.String("path", p.opts.IndexPath))
	}

	var r port.Retriever = retriever.NewSemanticRetriever(ix, p.embedder, p.opts.TopK, p.opts.MinScore, p.opts.EmbedTimeout)
	var qc *cache.QueryCache
	if p.opts.CacheSize > 0 {
		qc = cache.NewQueryCache(p.opts.CacheSize, p.opts.CacheTTL)
		r = cache.NewCachedRetriever(r, qc, p.opts.TopK)
	}

	p.mu.Lock()
	old := p.index
	p.index, p.retriever, p.cache = ix, r, qc
	p.mu.Unlock()
	if old != nil {
		old.Close()
	}

	p.logger.Info("index loaded",
		zap.String("path", p.opts.IndexPath),
		zap.Int("entries", meta.Entries),
		zap.String("model", meta.EmbeddingModel),
		zap.String("build_id", meta.BuildID))
	return nil
}

// Ready reports whether queries can be served.
func (p *Pipeline) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.index != nil
}

// Meta returns the metadata of the loaded index.
func (p *Pipeline) Meta() (domain.IndexMeta, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.index == nil {
		return domain.IndexMeta{}, domain.NewError(domain.ErrNotInitialized, "index meta", nil)
	}
	return p.index.Meta(), nil
}

func (p *Pipeline) currentRetriever() (port.Retriever, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.retriever == nil {
		return nil, domain.NewError(domain.ErrNotInitialized, "query", nil)
	}
	return p.retriever, nil
}

// Retrieve returns the chunks the pipeline would ground an answer on.
func (p *Pipeline) Retrieve(ctx context.Context, query string) ([]domain.ScoredChunk, error) {
	r, err := p.currentRetriever()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, domain.NewError(domain.ErrRetrieval, "query", errors.New("query is empty"))
	}
	return r.Retrieve(ctx, query)
}

// Prompt retrieves context for query and returns the assembled prompt
// without calling the generator.
func (p *Pipeline) Prompt(ctx context.Context, query string) (domain.Prompt, []domain.ScoredChunk, error) {
	chunks, err := p.Retrieve(ctx, query)
	if err != nil {
		return domain.Prompt{}, nil, err
	}
	prompt, err := p.assembler.Assemble(query, chunks)
	if err != nil {
		return domain.Prompt{}, nil, err
	}
	return prompt, chunks, nil
}

// Answer runs retrieval, prompt assembly and generation. When nothing is
// retrieved the fallback phrase is returned without calling the generator.
func (p *Pipeline) Answer(ctx context.Context, query string) (domain.Answer, error) {
	start := time.Now()

	chunks, err := p.Retrieve(ctx, query)
	if err != nil {
		return domain.Answer{}, err
	}
	if len(chunks) == 0 {
		p.logger.Debug("no context retrieved, using fallback", zap.Int("query_len", len(query)))
		return domain.Answer{Text: p.assembler.Fallback()}, nil
	}

	prompt, err := p.assembler.Assemble(query, chunks)
	if err != nil {
		return domain.Answer{}, domain.NewError(domain.ErrGeneration, "assemble prompt", err)
	}

	if err := ctx.Err(); err != nil {
		return domain.Answer{}, domain.NewError(domain.ErrGeneration, "generate", err)
	}
	text, err := p.generator.Generate(ctx, prompt.System, prompt.User)
	if err != nil {
		return domain.Answer{}, err
	}

	p.logger.Info("query answered",
		zap.Int("query_len", len(query)),
		zap.Int("citations", len(chunks)),
		zap.Float64("top_score", chunks[0].Score),
		zap.Duration("took", time.Since(start)))
	return domain.Answer{Text: text, Citations: chunks}, nil
}

// Invoke answers query and never fails: errors become an explanatory answer
// with no context and a short error code.
func (p *Pipeline) Invoke(ctx context.Context, query string) domain.Response {
	answer, err := p.Answer(ctx, query)
	if err != nil {
		p.logger.Warn("query failed", zap.Error(err), zap.Bool("retryable", domain.IsRetryable(err)))
		return domain.Response{
			Answer:  UserMessage(err),
			Context: []domain.ResponseContext{},
			Error:   ErrorCode(err),
		}
	}
	return domain.NewResponse(answer)
}

// Shutdown releases the index. Later queries fail with ErrNotInitialized.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	ix, qc := p.index, p.cache
	p.index, p.retriever, p.cache = nil, nil, nil
	p.mu.Unlock()

	if qc != nil {
		qc.Invalidate()
	}
	if ix != nil {
		ix.Close()
		p.logger.Info("index released")
	}
	return ctx.Err()
}

// UserMessage renders err as a message fit for people asking questions.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "The request was cancelled before an answer was ready."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out before an answer was ready. Please try again."
	case errors.Is(err, domain.ErrNotInitialized):
		return "The medical records index is not loaded. Please try again shortly."
	case errors.Is(err, domain.ErrIndexEmpty):
		return "The medical records index is empty."
	case errors.Is(err, domain.ErrRetrieval):
		return "I could not search the medical records for this question. Please try again."
	case errors.Is(err, domain.ErrGeneration) && domain.IsRetryable(err):
		return "The answer service is temporarily unavailable. Please try again."
	case errors.Is(err, domain.ErrGeneration):
		return "I could not generate an answer for this question."
	default:
		return "Something went wrong while answering this question."
	}
}

// ErrorCode is the machine-readable error kind of err.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, domain.ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, domain.ErrIndexEmpty):
		return "index_empty"
	case errors.Is(err, domain.ErrRetrieval):
		return "retrieval_error"
	case errors.Is(err, domain.ErrGeneration):
		return "generation_error"
	case errors.Is(err, domain.ErrConfig):
		return "config_error"
	default:
		return "internal_error"
	}
}
