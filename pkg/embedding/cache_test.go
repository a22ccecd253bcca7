package embedding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ellachat/ella/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = retry.Policy{MaxAttempts: 3, Delay: time.Millisecond}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *countingRecorder) ObserveEmbedding(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[outcome]++
}

func TestCache_Idempotent(t *testing.T) {
	var calls atomic.Int32
	svc := ServiceFunc(func(ctx context.Context, text string) ([]float32, error) {
		calls.Add(1)
		return NewHash(8).Embed(ctx, text)
	})
	rec := &countingRecorder{}
	cache := NewCache(svc, fastRetry, WithRecorder(rec))

	first, err := cache.Embed(context.Background(), "my name is Asha")
	require.NoError(t, err)
	second, err := cache.Embed(context.Background(), "my name is Asha")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, 1, rec.outcomes[OutcomeMiss])
	assert.Equal(t, 1, rec.outcomes[OutcomeHit])
}

func TestCache_ExactTextKey(t *testing.T) {
	var calls atomic.Int32
	svc := ServiceFunc(func(ctx context.Context, text string) ([]float32, error) {
		calls.Add(1)
		return []float32{1}, nil
	})
	cache := NewCache(svc, fastRetry)

	for _, text := range []string{"hi", "Hi", "hi ", "hi"} {
		_, err := cache.Embed(context.Background(), text)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, 3, cache.Len())
}

func TestCache_ReturnsCopies(t *testing.T) {
	svc := ServiceFunc(func(context.Context, string) ([]float32, error) { return []float32{1, 2, 3}, nil })
	cache := NewCache(svc, fastRetry)

	v, err := cache.Embed(context.Background(), "x")
	require.NoError(t, err)
	v[0] = 99

	again, err := cache.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, again)
}

func TestCache_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	svc := ServiceFunc(func(context.Context, string) ([]float32, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("rate limited")
		}
		return []float32{0.5}, nil
	})
	cache := NewCache(svc, fastRetry)

	v, err := cache.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5}, v)
	assert.EqualValues(t, 3, cache.Calls())
}

func TestCache_Unavailable(t *testing.T) {
	svc := ServiceFunc(func(context.Context, string) ([]float32, error) { return nil, errors.New("down") })
	rec := &countingRecorder{}
	cache := NewCache(svc, fastRetry, WithRecorder(rec))

	_, err := cache.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.EqualValues(t, 3, cache.Calls())
	assert.Zero(t, cache.Len(), "failures are not cached")
	assert.Equal(t, 1, rec.outcomes[OutcomeFailure])
}

func TestCache_ConcurrentMissesShareOneCall(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	svc := ServiceFunc(func(context.Context, string) ([]float32, error) {
		calls.Add(1)
		<-release
		return []float32{1, 1}, nil
	})
	cache := NewCache(svc, fastRetry)

	var wg sync.WaitGroup
	results := make([][]float32, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := cache.Embed(context.Background(), "same text")
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, r := range results {
		assert.Equal(t, []float32{1, 1}, r)
	}
}

func TestHash_Embed(t *testing.T) {
	h := NewHash(64)
	a, err := h.Embed(context.Background(), "I love pizza")
	require.NoError(t, err)
	b, err := h.Embed(context.Background(), "i LOVE pizza!")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	empty, err := h.Embed(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, empty, 64)
	assert.Equal(t, DefaultHashDimensions, NewHash(0).Dimensions())
}

func TestCache_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	svc := ServiceFunc(func(ctx context.Context, _ string) ([]float32, error) {
		close(started)
		select {
		case <-release:
			return []float32{3, 4}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	cache := NewCache(svc, fastRetry)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.Embed(firstCtx, "shared")
		firstErr <- err
	}()
	<-started

	second := make(chan []float32, 1)
	go func() {
		v, err := cache.Embed(context.Background(), "shared")
		assert.NoError(t, err)
		second <- v
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	err := <-firstErr
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	select {
	case v := <-second:
		assert.Equal(t, []float32{3, 4}, v)
	case <-time.After(time.Second):
		t.Fatal("waiter did not receive the shared result")
	}
	assert.EqualValues(t, 1, cache.Calls())
	assert.Equal(t, 1, cache.Len())
}
