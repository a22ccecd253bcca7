package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to the wrapped generator.
type RateLimited struct {
	next    Generator
	limiter *rate.Limiter
}

// NewRateLimited wraps next with a token bucket of rps requests per second.
// A non-positive rps returns next unchanged.
func NewRateLimited(next Generator, rps float64, burst int) Generator {
	if rps <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Generate waits for a token, then delegates.
func (r *RateLimited) Generate(ctx context.Context, req Request) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limit: %w", err)
	}
	return r.next.Generate(ctx, req)
}

// SetModel forwards to the wrapped generator when it supports model changes.
func (r *RateLimited) SetModel(model string) {
	if ms, ok := r.next.(ModelSetter); ok {
		ms.SetModel(model)
	}
}

// Model returns the wrapped generator's model, if known.
func (r *RateLimited) Model() string {
	if ms, ok := r.next.(ModelSetter); ok {
		return ms.Model()
	}
	return ""
}
