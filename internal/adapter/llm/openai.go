package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"medrag/internal/domain"
)

// ChatGenerator produces answers through an OpenAI-compatible chat
// completions endpoint such as Cohere's compatibility API.
type ChatGenerator struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	maxRetries  int
	timeout     time.Duration
	backoff     func(attempt int) time.Duration
}

// Options tune a ChatGenerator. Zero values keep the defaults.
type Options struct {
	BaseURL     string
	Temperature float64
	MaxTokens   int
	MaxRetries  int
	Timeout     time.Duration
}

// NewChatGenerator creates a generator using the API key in apiKeyEnv.
func NewChatGenerator(apiKeyEnv, model string, opts Options) (*ChatGenerator, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, domain.NewError(domain.ErrConfig, "create generator",
			fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv))
	}
	return newChatGenerator(apiKey, model, opts), nil
}

func newChatGenerator(apiKey, model string, opts Options) *ChatGenerator {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// retries are handled here so each attempt gets its own deadline
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(strings.TrimRight(opts.BaseURL, "/")+"/"))
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	return &ChatGenerator{
		client:      openai.NewClient(reqOpts...),
		model:       model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		maxRetries:  opts.MaxRetries,
		timeout:     opts.Timeout,
		backoff:     retryDelay,
	}
}

func (g *ChatGenerator) ModelName() string {
	return g.model
}

// Generate sends the system instruction and user message and returns the
// reply text. Transient failures are retried; caller cancellation is not.
func (g *ChatGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		text, err := g.complete(ctx, system, user)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", domain.NewError(domain.ErrGeneration, "generate", ctx.Err())
		}
		if !domain.IsRetryable(err) || attempt == g.maxRetries {
			return "", err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return "", domain.NewError(domain.ErrGeneration, "generate", ctx.Err())
		case <-time.After(g.backoff(attempt)):
		}
	}
	return "", lastErr
}

func (g *ChatGenerator) complete(ctx context.Context, system, user string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model:       openai.ChatModel(g.model),
		Temperature: openai.Float(g.temperature),
	}
	if g.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(g.maxTokens))
	}

	resp, err := g.client.Chat.Completions.New(attemptCtx, params)
	if err != nil {
		return "", classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.NewError(domain.ErrGeneration, "generate", errors.New("no choices returned"))
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", domain.NewError(domain.ErrGeneration, "generate", errors.New("empty completion"))
	}
	return text, nil
}

// classify marks rate limits, server errors, attempt timeouts and network
// failures as retryable. Errors caused by the caller's context are not.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return domain.NewError(domain.ErrGeneration, "generate", ctx.Err())
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return domain.NewRetryableError(domain.ErrGeneration, "generate", err)
		}
		return domain.NewError(domain.ErrGeneration, "generate", err)
	}

	// timeouts of this attempt and transport failures
	return domain.NewRetryableError(domain.ErrGeneration, "generate", err)
}

func retryDelay(attempt int) time.Duration {
	d := 500 * time.Millisecond << attempt
	if d > 5*time.Second || d <= 0 {
		d = 5 * time.Second
	}
	return d
}
