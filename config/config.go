// Package config provides configuration management for Ella.
package config

import (
	"fmt"
	"time"
)

// Config is the global configuration for Ella.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the HTTP server configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Storage selects and configures the long-term vector store.
	Storage StorageConfig `mapstructure:"storage"`

	// Facts configures fact extraction and the durable fact store.
	Facts FactsConfig `mapstructure:"facts"`

	// Embedding configures the text embedding provider.
	Embedding EmbeddingConfig `mapstructure:"embedding"`

	// LLM configures the generation provider.
	LLM LLMConfig `mapstructure:"llm"`

	// Retry is the bounded retry policy shared by every external call.
	Retry RetryConfig `mapstructure:"retry"`

	// Persona is the companion persona injected into every prompt.
	Persona PersonaConfig `mapstructure:"persona"`

	// Composer tunes reply composition.
	Composer ComposerConfig `mapstructure:"composer"`

	// Memory configures the memory write-back path.
	Memory MemoryConfig `mapstructure:"memory"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"env"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// HTTP is the HTTP server configuration.
	HTTP HTTPConfig `mapstructure:"http"`

	// CORS is the CORS configuration.
	CORS CORSConfig `mapstructure:"cors"`
}

// HTTPConfig holds HTTP-specific settings.
type HTTPConfig struct {
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// RequestTimeout bounds a single API request, including generation retries.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`

	// MaxWebSocketConnections caps concurrent /ws/chat sessions.
	MaxWebSocketConnections int `mapstructure:"max_ws_connections" validate:"min=0"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	// MaxAge is the preflight cache lifetime in seconds.
	MaxAge int `mapstructure:"max_age"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`

	// RedactFields lists log attribute names whose values are masked.
	RedactFields []string `mapstructure:"redact_fields"`
}

// StorageConfig holds long-term memory persistence settings.
type StorageConfig struct {
	// Type is the vector store backend.
	Type string `mapstructure:"type" validate:"oneof=memory badger sqlite postgres"`

	// Dimension pins the vector width. Zero adopts the width of the first write.
	Dimension int `mapstructure:"dimension" validate:"min=0"`

	// Badger is the BadgerDB configuration.
	Badger BadgerConfig `mapstructure:"badger"`

	// SQLite is the embedded SQL configuration.
	SQLite SQLiteConfig `mapstructure:"sqlite"`

	// Postgres is the pgvector configuration.
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// BadgerConfig holds BadgerDB-specific settings.
type BadgerConfig struct {
	// Path is the database directory path.
	Path string `mapstructure:"path"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`

	// ValueLogFileSize is the maximum size of value log files in bytes.
	ValueLogFileSize int64 `mapstructure:"value_log_file_size"`

	// NumVersionsToKeep is the number of versions to keep per key.
	NumVersionsToKeep int `mapstructure:"num_versions_to_keep"`
}

// SQLiteConfig holds SQLite settings.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string `mapstructure:"path"`
}

// PostgresConfig holds Postgres + pgvector settings.
type PostgresConfig struct {
	// DSN is the connection string.
	DSN string `mapstructure:"dsn"`

	// Table is the table that holds turn vectors.
	Table string `mapstructure:"table" validate:"omitempty,sqlident"`
}

// FactsConfig selects the fact extraction strategy and durable fact store.
type FactsConfig struct {
	// Strategy is heuristic (keyword rules) or llm (delegated extraction).
	Strategy string `mapstructure:"strategy" validate:"oneof=heuristic llm"`

	// Store is the durable user fact store backing session memory.
	Store string `mapstructure:"store" validate:"oneof=none redis"`

	// Redis is the Redis configuration used when Store is redis.
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	// Address is the Redis server address.
	Address string `mapstructure:"address"`

	// Password is the Redis password.
	Password string `mapstructure:"password"`

	// DB is the Redis database number.
	DB int `mapstructure:"db" validate:"min=0"`

	// KeyPrefix namespaces profile keys.
	KeyPrefix string `mapstructure:"key_prefix"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is openai (remote) or hash (local feature hashing).
	Provider string `mapstructure:"provider" validate:"oneof=openai hash"`

	// Model is the provider model name.
	Model string `mapstructure:"model"`

	// Dimensions is the requested vector width.
	Dimensions int `mapstructure:"dimensions" validate:"min=0"`

	// APIKey authenticates against the provider.
	APIKey string `mapstructure:"api_key" validate:"required_if=Provider openai"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `mapstructure:"base_url"`
}

// LLMConfig configures the generation provider.
type LLMConfig struct {
	// Provider is the generation backend. Only openai-compatible APIs are supported.
	Provider string `mapstructure:"provider" validate:"oneof=openai"`

	// Model is the chat completion model name.
	Model string `mapstructure:"model" validate:"required"`

	// APIKey authenticates against the provider.
	APIKey string `mapstructure:"api_key" validate:"required_if=Provider openai"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `mapstructure:"base_url"`

	// Temperature is the sampling temperature.
	Temperature float64 `mapstructure:"temperature" validate:"gte=0,lte=2"`

	// MaxTokens caps the generated reply length.
	MaxTokens int `mapstructure:"max_tokens" validate:"min=1"`

	// RateLimit is the steady-state request rate per second. Zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" validate:"gte=0"`

	// Burst is the limiter bucket size.
	Burst int `mapstructure:"burst" validate:"min=0"`
}

// RetryConfig is the bounded fixed-delay retry policy.
type RetryConfig struct {
	// MaxAttempts is the total number of tries per call.
	MaxAttempts int `mapstructure:"max_attempts" validate:"min=1,max=10"`

	// Delay is the pause between attempts.
	Delay time.Duration `mapstructure:"delay" validate:"gte=0"`
}

// PersonaConfig describes the companion persona.
type PersonaConfig struct {
	// Name is the persona display name.
	Name string `mapstructure:"name" validate:"required"`

	// Description is the system prompt preamble.
	Description string `mapstructure:"description" validate:"required"`
}

// ComposerConfig tunes reply composition.
type ComposerConfig struct {
	// TopK is the number of past turns recalled per reply.
	TopK int `mapstructure:"top_k" validate:"min=1,max=50"`

	// CallbackMinScore is the similarity a past line needs to be called back.
	CallbackMinScore float64 `mapstructure:"callback_min_score" validate:"gte=0,lte=1"`

	// PlayfulProbability is the chance of appending a playful tag.
	PlayfulProbability float64 `mapstructure:"playful_probability" validate:"gte=0,lte=1"`

	// FollowUpProbability is the chance of appending a follow-up question.
	FollowUpProbability float64 `mapstructure:"follow_up_probability" validate:"gte=0,lte=1"`

	// InputTokenRate is the cost per prompt token.
	InputTokenRate float64 `mapstructure:"input_token_rate" validate:"gte=0"`

	// OutputTokenRate is the cost per completion token.
	OutputTokenRate float64 `mapstructure:"output_token_rate" validate:"gte=0"`

	// FallbackReply is returned when generation is unavailable.
	FallbackReply string `mapstructure:"fallback_reply" validate:"required"`
}

// MemoryConfig configures the write-back path.
type MemoryConfig struct {
	// AsyncWrite runs write-back on a background worker pool.
	AsyncWrite bool `mapstructure:"async_write"`

	// Workers is the number of background writers.
	Workers int `mapstructure:"workers" validate:"min=1"`

	// QueueSize bounds pending write-backs.
	QueueSize int `mapstructure:"queue_size" validate:"min=1"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig holds distributed tracing settings.
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is the span exporter kind.
	Exporter string `mapstructure:"exporter" validate:"omitempty,oneof=otlpgrpc"`

	// Endpoint is the collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// Timeout bounds a single export.
	Timeout time.Duration `mapstructure:"timeout"`

	// Headers are sent with every export.
	Headers map[string]string `mapstructure:"headers"`

	// Sampler is always_on, always_off, or parentbased_traceidratio.
	Sampler string `mapstructure:"sampler"`

	// SampleRate is the fraction of traces to sample (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Env: %s, Storage: %s, LLM: %s}",
		c.App.Name, c.Server.Port, c.App.Environment, c.Storage.Type, c.LLM.Model)
}
