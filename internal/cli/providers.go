package cli

import (
	"context"
	"fmt"

	"medrag/config"
	"medrag/internal/adapter/analyzer"
	"medrag/internal/adapter/embedding"
	"medrag/internal/adapter/llm"
	"medrag/internal/port"
	"medrag/internal/usecase"
)

// newEmbedder creates the embedder named by embedding.provider.
func newEmbedder(cfg *config.Config) (port.Embedder, error) {
	ec := cfg.Embedding
	opts := embedding.Options{
		Dimension:  ec.Dimension,
		MaxTokens:  ec.MaxTokens,
		MaxRetries: ec.MaxRetries,
		Timeout:    ec.Timeout,
		Tokenizer:  analyzer.NewTokenizer(false),
	}

	var embedder port.Embedder
	var err error

	switch ec.Provider {
	case "openai":
		embedder, err = embedding.NewOpenAIEmbedder(ec.APIKeyEnv, ec.Model, opts)
	case "deepseek":
		embedder, err = embedding.NewDeepSeekEmbedder(ec.APIKeyEnv, ec.Model, opts)
	case "jina":
		embedder, err = embedding.NewJinaEmbedder(ec.APIKeyEnv, ec.Model, opts)
	case "ollama":
		embedder, err = embedding.NewOllamaEmbedder(ec.Model, ec.BaseURL, opts)
	case "compatible":
		embedder, err = embedding.NewOpenAICompatibleEmbedder(ec.APIKeyEnv, ec.Model, ec.BaseURL, opts)
	case "hash":
		embedder = embedding.NewHashEmbedder(ec.Dimension, ec.MaxTokens)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", ec.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}

func newGenerator(cfg *config.Config) (port.LLM, error) {
	gc := cfg.Generation
	gen, err := llm.NewChatGenerator(gc.APIKeyEnv, gc.Model, llm.Options{
		BaseURL:     gc.BaseURL,
		Temperature: gc.Temperature,
		MaxTokens:   gc.MaxTokens,
		MaxRetries:  gc.MaxRetries,
		Timeout:     gc.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}
	return gen, nil
}

// openPipeline builds and initializes the query pipeline. With generate
// false no generator is created, so only Retrieve and Prompt may be used.
func openPipeline(ctx context.Context, generate bool) (*usecase.Pipeline, error) {
	cfg := GetConfig()

	validate := cfg.ValidateRetrieve
	if generate {
		validate = cfg.ValidateQuery
	}
	if err := validate(); err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	var gen port.LLM
	if generate {
		if gen, err = newGenerator(cfg); err != nil {
			return nil, err
		}
	}

	assembler, err := usecase.NewPromptAssembler(cfg.Prompt.Fallback)
	if err != nil {
		return nil, err
	}

	p := usecase.NewPipeline(embedder, gen, assembler, usecase.PipelineOptions{
		IndexPath:    cfg.ResolveIndexPath(GetRootDir()),
		TopK:         cfg.Retrieve.TopK,
		MinScore:     cfg.Retrieve.MinScore,
		EmbedTimeout: cfg.Embedding.Timeout,
		CacheSize:    cfg.Retrieve.CacheSize,
		CacheTTL:     cfg.Retrieve.CacheTTL,
	}, GetLogger())

	if err := p.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to load index (run 'medrag index' first): %w", err)
	}
	return p, nil
}
