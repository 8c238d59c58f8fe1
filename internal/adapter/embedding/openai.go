package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"medrag/internal/domain"
	"medrag/internal/port"
)

const maxBatch = 100

type OpenAIEmbedder struct {
	apiKey     string
	model      string
	baseURL    string
	dimension  int
	maxTokens  int
	maxRetries int
	timeout    time.Duration
	tokenizer  port.Tokenizer
	client     *http.Client
	backoff    func(attempt int) time.Duration
}

// Options tune an OpenAIEmbedder. Zero values keep the defaults.
type Options struct {
	Dimension  int
	MaxTokens  int
	MaxRetries int
	Timeout    time.Duration
	Tokenizer  port.Tokenizer
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Usage embeddingUsage  `json:"usage"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func NewOpenAIEmbedder(apiKeyEnv, model string, opts Options) (*OpenAIEmbedder, error) {
	return NewOpenAICompatibleEmbedder(apiKeyEnv, model, "https://api.openai.com/v1", opts)
}

func NewDeepSeekEmbedder(apiKeyEnv, model string, opts Options) (*OpenAIEmbedder, error) {
	return NewOpenAICompatibleEmbedder(apiKeyEnv, model, "https://api.deepseek.com/v1", opts)
}

func NewJinaEmbedder(apiKeyEnv, model string, opts Options) (*OpenAIEmbedder, error) {
	return NewOpenAICompatibleEmbedder(apiKeyEnv, model, "https://api.jina.ai/v1", opts)
}

// NewOllamaEmbedder talks to a local Ollama server. No API key is needed.
func NewOllamaEmbedder(model, baseURL string, opts Options) (*OpenAIEmbedder, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	return newEmbedder("ollama", model, baseURL, opts), nil
}

func NewOpenAICompatibleEmbedder(apiKeyEnv, model, baseURL string, opts Options) (*OpenAIEmbedder, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, domain.NewError(domain.ErrConfig, "create embedder",
			fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv))
	}
	return newEmbedder(apiKey, model, baseURL, opts), nil
}

func newEmbedder(apiKey, model, baseURL string, opts Options) *OpenAIEmbedder {
	dimension := KnownDimension(model)
	if dimension == 0 {
		dimension = opts.Dimension
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &OpenAIEmbedder{
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		dimension:  dimension,
		maxTokens:  opts.MaxTokens,
		maxRetries: opts.MaxRetries,
		timeout:    opts.Timeout,
		tokenizer:  opts.Tokenizer,
		client:     &http.Client{},
		backoff:    retryDelay,
	}
}

// KnownDimension returns the output dimension of well-known embedding
// models, or 0 when the model is not in the table.
func KnownDimension(model string) int {
	switch model {
	case "all-minilm", "all-minilm:l6-v2", "all-MiniLM-L6-v2", "sentence-transformers/all-MiniLM-L6-v2":
		return 384
	case "nomic-embed-text":
		return 768
	case "mxbai-embed-large":
		return 1024
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	case "jina-embeddings-v3":
		return 1024
	case "jina-embeddings-v4":
		return 2048
	}
	return 0
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := validateInputs(texts, e.tokenizer, e.maxTokens); err != nil {
		return nil, err
	}

	allEmbeddings := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += maxBatch {
		end := i + maxBatch
		if end > len(texts) {
			end = len(texts)
		}

		embeddings, err := e.embedWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		allEmbeddings = append(allEmbeddings, embeddings...)
	}

	return allEmbeddings, nil
}

func (e *OpenAIEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		embeddings, wait, err := e.embedBatch(ctx, texts)
		if err == nil {
			return embeddings, nil
		}
		if ctx.Err() != nil {
			return nil, domain.NewError(domain.ErrEmbedding, "embed", ctx.Err())
		}
		if !domain.IsRetryable(err) || attempt == e.maxRetries {
			return nil, err
		}
		lastErr = err

		if wait <= 0 {
			wait = e.backoff(attempt)
		}
		select {
		case <-ctx.Done():
			return nil, domain.NewError(domain.ErrEmbedding, "embed", ctx.Err())
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

// embedBatch performs one request. The returned duration is the server's
// Retry-After hint, if any.
func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reqBody := embeddingRequest{
		Input: texts,
		Model: e.model,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, 0, domain.NewError(domain.ErrEmbedding, "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(jsonData))
	if err != nil {
		return nil, 0, domain.NewError(domain.ErrEmbedding, "create request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, domain.NewRetryableError(domain.ErrEmbedding, "request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, domain.NewRetryableError(domain.ErrEmbedding, "read response", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, retryAfter(resp.Header.Get("Retry-After")), domain.NewRetryableError(domain.ErrEmbedding, "embed",
			fmt.Errorf("API returned status %d: %s", resp.StatusCode, preview(body)))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, domain.NewError(domain.ErrEmbedding, "embed",
			fmt.Errorf("API returned status %d: %s", resp.StatusCode, preview(body)))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, 0, domain.NewError(domain.ErrEmbedding, "parse response",
			fmt.Errorf("body: %s: %w", preview(body), err))
	}

	if embResp.Error != nil {
		return nil, 0, domain.NewError(domain.ErrEmbedding, "embed",
			fmt.Errorf("API error: %s", embResp.Error.Message))
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range embResp.Data {
		if data.Index >= 0 && data.Index < len(embeddings) {
			embeddings[data.Index] = data.Embedding
		}
	}

	for i, v := range embeddings {
		if v == nil {
			return nil, 0, domain.NewError(domain.ErrEmbedding, "embed",
				fmt.Errorf("no embedding returned for input %d", i))
		}
		if e.dimension > 0 && len(v) != e.dimension {
			return nil, 0, domain.NewError(domain.ErrEmbedding, "embed",
				fmt.Errorf("model %s returned %d dimensions, expected %d", e.model, len(v), e.dimension))
		}
	}

	return embeddings, 0, nil
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

// validateInputs rejects texts that cannot yield a meaningful vector.
func validateInputs(texts []string, tok port.Tokenizer, maxTokens int) error {
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return domain.NewError(domain.ErrEmbedding, "embed", fmt.Errorf("input %d is empty", i))
		}
		if tok != nil && maxTokens > 0 {
			if n := tok.CountTokens(t); n > maxTokens {
				return domain.NewError(domain.ErrEmbedding, "embed",
					fmt.Errorf("input %d has about %d tokens, limit is %d", i, n, maxTokens))
			}
		}
	}
	return nil
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second || d <= 0 {
		d = 5 * time.Second
	}
	return d
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

