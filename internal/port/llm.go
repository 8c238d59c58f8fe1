package port

import "context"

// LLM represents a language model for text generation.
type LLM interface {
	// Generate returns the model's reply to a system instruction and a user message.
	Generate(ctx context.Context, system, user string) (string, error)

	// ModelName returns the name of the model.
	ModelName() string
}
