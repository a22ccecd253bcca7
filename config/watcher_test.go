package config

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ellachat/ella/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const watchedConfig = `llm:
  api_key: sk-test
  temperature: 0.7
embedding:
  provider: hash
log:
  level: info
`

func TestNewWatcher(t *testing.T) {
	loader := NewLoader()

	t.Run("valid config path", func(t *testing.T) {
		path := writeConfig(t, "config.yaml", watchedConfig)

		watcher, err := NewWatcher(path, loader, WithDebounce(100*time.Millisecond), WithLogger(logger.Nop()))
		require.NoError(t, err)
		defer watcher.Stop()

		assert.Equal(t, path, watcher.ConfigPath())
		assert.Equal(t, 100*time.Millisecond, watcher.debounce)
	})

	t.Run("empty config path", func(t *testing.T) {
		_, err := NewWatcher("", loader)
		assert.Error(t, err)
	})
}

func TestWatcher_DetectsChanges(t *testing.T) {
	path := writeConfig(t, "config.yaml", watchedConfig)

	watcher, err := NewWatcher(path, NewLoader(), WithLogger(logger.Nop()))
	require.NoError(t, err)
	defer watcher.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	received := make(chan *Config, 4)
	watcher.OnChange(func(cfg *Config) { received <- cfg })

	go func() { _ = watcher.Watch(ctx) }()
	require.Eventually(t, watcher.IsRunning, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	updated := `llm:
  api_key: sk-test
  temperature: 0.3
embedding:
  provider: hash
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case cfg := <-received:
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, 0.3, cfg.LLM.Temperature)
	case <-ctx.Done():
		t.Fatal("callback was not invoked after config change")
	}
}

func TestWatcher_InvalidReloadKeepsCallbacksQuiet(t *testing.T) {
	path := writeConfig(t, "config.yaml", watchedConfig)

	watcher, err := NewWatcher(path, NewLoader(), WithLogger(logger.Nop()))
	require.NoError(t, err)
	defer watcher.Stop()

	var calls int
	var mu sync.Mutex
	watcher.OnChange(func(*Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644))
	watcher.reloadConfig(context.Background())
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}

func TestWatcher_StopsOnContextCancel(t *testing.T) {
	path := writeConfig(t, "config.yaml", watchedConfig)

	watcher, err := NewWatcher(path, NewLoader(), WithLogger(logger.Nop()))
	require.NoError(t, err)
	defer watcher.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	watchErr := make(chan error, 1)
	go func() { watchErr <- watcher.Watch(ctx) }()

	require.Eventually(t, watcher.IsRunning, time.Second, 10*time.Millisecond)
	assert.Error(t, watcher.Watch(ctx), "second Watch must be rejected")

	cancel()
	select {
	case err := <-watchErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop on context cancel")
	}
}

func TestWatcher_Stop(t *testing.T) {
	path := writeConfig(t, "config.yaml", watchedConfig)

	watcher, err := NewWatcher(path, NewLoader(), WithLogger(logger.Nop()))
	require.NoError(t, err)

	go func() { _ = watcher.Watch(context.Background()) }()
	require.Eventually(t, watcher.IsRunning, time.Second, 10*time.Millisecond)

	require.NoError(t, watcher.Stop())
	assert.NoError(t, watcher.Stop(), "stop is idempotent")
	assert.Eventually(t, func() bool { return !watcher.IsRunning() }, time.Second, 10*time.Millisecond)
}

func TestWatcher_NonExistentFile(t *testing.T) {
	watcher, err := NewWatcher("/nonexistent/config.yaml", NewLoader(), WithLogger(logger.Nop()))
	require.NoError(t, err)
	defer watcher.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	assert.Error(t, watcher.Watch(ctx))
}

func TestHotReloadableConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = "debug"
	cfg.LLM.Temperature = 0.4
	cfg.Composer.PlayfulProbability = 0.1

	hot := ExtractHotReloadable(cfg)
	assert.Equal(t, "debug", hot.LogLevel)
	assert.Equal(t, 0.4, hot.Temperature)
	assert.Equal(t, 150, hot.MaxTokens)
	assert.Equal(t, 0.1, hot.PlayfulProbability)

	same := hot
	assert.False(t, hot.Changed(same))

	changed := hot
	changed.Model = "gpt-4o"
	assert.True(t, hot.Changed(changed))
}
