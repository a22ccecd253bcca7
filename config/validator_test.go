package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validationFields(t *testing.T, err error) []string {
	t.Helper()
	var details ValidationErrors
	require.ErrorAs(t, err, &details)
	fields := make([]string, 0, len(details))
	for _, d := range details {
		fields = append(fields, d.Field)
	}
	return fields
}

func TestValidateWithDetails_StorageBackends(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"badger needs a path", func(c *Config) {
			c.Storage.Type = "badger"
			c.Storage.Badger.Path = ""
		}, "Config.Storage.Badger.Path"},
		{"sqlite needs a path", func(c *Config) {
			c.Storage.Type = "sqlite"
			c.Storage.SQLite.Path = ""
		}, "Config.Storage.SQLite.Path"},
		{"postgres needs a dsn", func(c *Config) {
			c.Storage.Type = "postgres"
		}, "Config.Storage.Postgres.DSN"},
		{"redis fact store needs an address", func(c *Config) {
			c.Facts.Store = "redis"
			c.Facts.Redis.Address = ""
		}, "Config.Facts.Redis.Address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Contains(t, validationFields(t, ValidateWithDetails(cfg)), tt.wantField)
		})
	}
}

func TestValidateWithDetails_ProbabilitySum(t *testing.T) {
	cfg := validConfig()
	cfg.Composer.PlayfulProbability = 0.6
	cfg.Composer.FollowUpProbability = 0.6

	err := ValidateWithDetails(cfg)
	assert.Contains(t, validationFields(t, err), "Config.Composer.FollowUpProbability")
	assert.Contains(t, err.Error(), "sum to at most 1")
}

func TestValidateWithDetails_PostgresTable(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Type = "postgres"
	cfg.Storage.Postgres.DSN = "postgres://localhost/ella"

	cfg.Storage.Postgres.Table = "memory_vectors"
	assert.NoError(t, ValidateWithDetails(cfg))

	cfg.Storage.Postgres.Table = "vectors; DROP TABLE users"
	assert.Contains(t, validationFields(t, ValidateWithDetails(cfg)), "Config.Storage.Postgres.Table")
}

func TestValidateWithDetails_Messages(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.APIKey = ""
	cfg.Retry.MaxAttempts = 0

	err := ValidateWithDetails(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required when Provider openai")
	assert.Contains(t, err.Error(), "must be at least 1")
}
