package embedding

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ellachat/ella/pkg/logger"
	"github.com/ellachat/ella/pkg/retry"
	"golang.org/x/sync/singleflight"
)

// Lookup outcomes reported to a Recorder.
const (
	OutcomeHit     = "hit"
	OutcomeMiss    = "miss"
	OutcomeFailure = "failure"
)

// Recorder observes cache lookups.
type Recorder interface {
	ObserveEmbedding(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveEmbedding(string) {}

// Cache memoizes a Service by exact input text for the life of the process.
// Entries are never evicted. Concurrent misses on the same text share one
// provider call.
type Cache struct {
	svc    Service
	policy retry.Policy
	log    logger.Logger
	rec    Recorder

	mu      sync.RWMutex
	entries map[string][]float32

	group singleflight.Group
	calls atomic.Int64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithLogger sets the logger used for provider failures.
func WithLogger(log logger.Logger) CacheOption {
	return func(c *Cache) { c.log = log }
}

// WithRecorder sets the lookup recorder.
func WithRecorder(rec Recorder) CacheOption {
	return func(c *Cache) { c.rec = rec }
}

// NewCache wraps svc. Misses are retried under policy.
func NewCache(svc Service, policy retry.Policy, opts ...CacheOption) *Cache {
	c := &Cache{
		svc:     svc,
		policy:  policy,
		log:     logger.Nop(),
		rec:     nopRecorder{},
		entries: make(map[string][]float32),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Embed returns the vector for text, calling the provider only on a miss.
// Repeated calls with identical text return bit-identical vectors. After the
// retry policy is exhausted the error wraps ErrUnavailable.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.lookup(text); ok {
		c.rec.ObserveEmbedding(OutcomeHit)
		return clone(vec), nil
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(text, func() (any, error) {
		if vec, ok := c.lookup(text); ok {
			return vec, nil
		}
		vec, err := retry.DoValue(shared, c.policy, func(ctx context.Context) ([]float32, error) {
			c.calls.Add(1)
			return c.svc.Embed(ctx, text)
		})
		if err != nil {
			return nil, err
		}

		stored := clone(vec)
		c.mu.Lock()
		c.entries[text] = stored
		c.mu.Unlock()
		return stored, nil
	})

	var (
		v   any
		err error
	)
	select {
	case res := <-ch:
		v, err = res.Val, res.Err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		c.rec.ObserveEmbedding(OutcomeFailure)
		c.log.WarnContext(ctx, "embedding unavailable", "text_len", len(text), "error", err)
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	c.rec.ObserveEmbedding(OutcomeMiss)
	return clone(v.([]float32)), nil
}

// Len returns the number of cached texts.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Calls returns the number of provider attempts made so far.
func (c *Cache) Calls() int64 {
	return c.calls.Load()
}

func (c *Cache) lookup(text string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vec, ok := c.entries[text]
	return vec, ok
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
