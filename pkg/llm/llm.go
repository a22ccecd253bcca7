// Package llm wraps chat-completion providers behind a single-call Generator.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyCompletion is returned when the provider answers without content.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Request is one generation call.
type Request struct {
	// System is the system prompt.
	System string
	// User is the end-user message.
	User string
	// Temperature is the sampling temperature.
	Temperature float32
	// MaxTokens caps the completion length.
	MaxTokens int
}

// Generator produces a completion for a request. Implementations do not retry.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// ModelSetter is implemented by generators whose model can change at runtime.
type ModelSetter interface {
	SetModel(model string)
	Model() string
}
