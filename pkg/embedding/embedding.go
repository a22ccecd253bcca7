// Package embedding turns text into vectors and memoizes the results.
package embedding

import (
	"context"
	"errors"
)

// ErrUnavailable is returned once the provider failed every retry attempt.
// Callers skip the operation that needed the vector.
var ErrUnavailable = errors.New("embedding: service unavailable")

// Service converts text to a fixed-width vector.
type Service interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, text string) ([]float32, error)

// Embed calls f.
func (f ServiceFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}
