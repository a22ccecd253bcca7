package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ellachat/ella/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsJobs(t *testing.T) {
	p := New("test", 3, 16, logger.Nop())
	p.Start()
	defer p.Stop()

	var count atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func(context.Context) {
			defer wg.Done()
			count.Add(1)
		}))
	}
	wg.Wait()

	assert.Equal(t, int32(10), count.Load())
	assert.Eventually(t, func() bool { return p.Processed() == 10 }, time.Second, 5*time.Millisecond)
}

func TestPool_StopDrainsQueue(t *testing.T) {
	p := New("drain", 1, 8, logger.Nop())
	p.Start()

	release := make(chan struct{})
	var count atomic.Int32
	require.NoError(t, p.Submit(func(context.Context) { <-release; count.Add(1) }))
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(func(context.Context) { count.Add(1) }))
	}

	close(release)
	p.Stop()

	assert.Equal(t, int32(6), count.Load())
	assert.False(t, p.IsRunning())
	assert.ErrorIs(t, p.Submit(func(context.Context) {}), ErrStopped)
	p.Stop()
}

func TestPool_QueueFull(t *testing.T) {
	p := New("full", 1, 1, logger.Nop())
	p.Start()

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func(context.Context) { close(started); <-block }))
	<-started
	require.NoError(t, p.Submit(func(context.Context) {}))

	assert.ErrorIs(t, p.Submit(func(context.Context) {}), ErrQueueFull)
	assert.Equal(t, int64(1), p.Dropped())

	close(block)
	p.Stop()
}

func TestPool_RecoversPanics(t *testing.T) {
	p := New("panic", 1, 4, logger.Nop())
	p.Start()

	done := make(chan struct{})
	require.NoError(t, p.Submit(func(context.Context) { panic("boom") }))
	require.NoError(t, p.Submit(func(context.Context) { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking job")
	}
	p.Stop()
	assert.Equal(t, int64(1), p.Panics())
}

func TestPool_SubmitBeforeStart(t *testing.T) {
	p := New("idle", 0, 0, nil)
	assert.ErrorIs(t, p.Submit(func(context.Context) {}), ErrStopped)
	assert.Equal(t, 1, p.workers)
	assert.Equal(t, 1, cap(p.jobs))
}
