package companion

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ellachat/ella/config"
	"github.com/ellachat/ella/pkg/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreDimension(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   int
	}{
		{"storage wins", func(c *config.Config) {
			c.Storage.Dimension = 32
			c.Embedding.Dimensions = 64
		}, 32},
		{"embedding dimensions", func(c *config.Config) { c.Embedding.Dimensions = 64 }, 64},
		{"hash default", func(c *config.Config) { c.Embedding.Provider = "hash" }, embedding.DefaultHashDimensions},
		{"known model", func(c *config.Config) { c.Embedding.Model = "text-embedding-3-large" }, 3072},
		{"unknown model adopts first write", func(c *config.Config) { c.Embedding.Model = "custom" }, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			assert.Equal(t, tt.want, storeDimension(cfg))
		})
	}
}

func TestBuild_Backends(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config, dir string)
	}{
		{"memory", func(*config.Config, string) {}},
		{"badger", func(c *config.Config, dir string) {
			c.Storage.Type = "badger"
			c.Storage.Badger.Path = filepath.Join(dir, "badger")
		}},
		{"sqlite", func(c *config.Config, dir string) {
			c.Storage.Type = "sqlite"
			c.Storage.SQLite.Path = filepath.Join(dir, "ella.db")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg, t.TempDir())

			svc, err := Build(context.Background(), cfg, nil, nil, WithGenerator(&scriptedGenerator{reply: "hey"}))
			require.NoError(t, err)
			defer svc.Close()

			_, err = svc.GenerateReply(context.Background(), "u1", "my name is asha")
			require.NoError(t, err)

			out, err := svc.ExportUser(context.Background(), "u1")
			require.NoError(t, err)
			assert.Len(t, out.Turns, 1)
			assert.Equal(t, "Asha", out.Profile.Name)
		})
	}
}

func TestBuild_OpenAIGenerator(t *testing.T) {
	svc, err := Build(context.Background(), testConfig(), nil, nil)
	require.NoError(t, err)
	defer svc.Close()
	assert.Equal(t, "gpt-4o-mini", svc.Model())
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"missing llm key", func(c *config.Config) { c.LLM.APIKey = "" }},
		{"missing embedding key", func(c *config.Config) {
			c.Embedding.Provider = "openai"
			c.Embedding.APIKey = ""
		}},
		{"unknown embedding provider", func(c *config.Config) { c.Embedding.Provider = "word2vec" }},
		{"unknown storage", func(c *config.Config) { c.Storage.Type = "mongo" }},
		{"postgres without dimension", func(c *config.Config) {
			c.Storage.Type = "postgres"
			c.Storage.Postgres.DSN = "postgres://localhost:1/ella"
			c.Embedding.Provider = "openai"
			c.Embedding.APIKey = "sk-test"
			c.Embedding.Model = "custom"
			c.Embedding.Dimensions = 0
		}},
		{"unreachable redis", func(c *config.Config) {
			c.Facts.Store = "redis"
			c.Facts.Redis.Address = "127.0.0.1:1"
		}},
		{"unknown fact strategy", func(c *config.Config) { c.Facts.Strategy = "regex" }},
		{"invalid composer settings", func(c *config.Config) { c.Composer.FallbackReply = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			_, err := Build(context.Background(), cfg, nil, nil)
			assert.Error(t, err)
		})
	}
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	s := settingsFromConfig(cfg)

	assert.Equal(t, config.DefaultPersona, s.Persona)
	assert.Equal(t, cfg.LLM.Temperature, s.Temperature)
	assert.Equal(t, cfg.LLM.MaxTokens, s.MaxTokens)
	assert.Equal(t, cfg.Composer.TopK, s.TopK)
	assert.Equal(t, config.DefaultFallbackReply, s.FallbackReply)
	assert.NoError(t, s.Validate())
}
