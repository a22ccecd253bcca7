package config

import "time"

// DefaultPersona is the system prompt preamble used when none is configured.
const DefaultPersona = "You are Ella, a friendly and empathetic AI companion. " +
	"You remember details about the people you talk to and bring them up naturally. " +
	"Keep responses concise and natural, as if chatting with a friend."

// DefaultFallbackReply is returned when the generation provider is unavailable.
const DefaultFallbackReply = "I apologize, but I'm having trouble processing your message right now. Please try again in a moment."

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "ella",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			HTTP: HTTPConfig{
				ReadTimeout:             30 * time.Second,
				WriteTimeout:            90 * time.Second,
				IdleTimeout:             120 * time.Second,
				RequestTimeout:          75 * time.Second,
				ShutdownTimeout:         30 * time.Second,
				MaxHeaderBytes:          1 << 20, // 1MB
				MaxWebSocketConnections: 100,
			},
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
				ExposedHeaders: []string{"X-Request-ID"},
				MaxAge:         300,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Storage: StorageConfig{
			Type: "memory",
			Badger: BadgerConfig{
				Path:              "./data/badger",
				SyncWrites:        true,
				ValueLogFileSize:  64 << 20, // 64MB
				NumVersionsToKeep: 1,
			},
			SQLite: SQLiteConfig{
				Path: "./data/ella.db",
			},
			Postgres: PostgresConfig{
				Table: "memory_vectors",
			},
		},
		Facts: FactsConfig{
			Strategy: "heuristic",
			Store:    "none",
			Redis: RedisConfig{
				Address:   "localhost:6379",
				DB:        0,
				KeyPrefix: "ella:profile:",
			},
		},
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			Dimensions: 0,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   150,
			RateLimit:   0,
			Burst:       1,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			Delay:       10 * time.Second,
		},
		Persona: PersonaConfig{
			Name:        "Ella",
			Description: DefaultPersona,
		},
		Composer: ComposerConfig{
			TopK:                5,
			CallbackMinScore:    0.75,
			PlayfulProbability:  0.2,
			FollowUpProbability: 0.3,
			// gpt-4o-mini list prices per token.
			InputTokenRate:  0.15 / 1_000_000,
			OutputTokenRate: 0.60 / 1_000_000,
			FallbackReply:   DefaultFallbackReply,
		},
		Memory: MemoryConfig{
			AsyncWrite: true,
			Workers:    2,
			QueueSize:  256,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlpgrpc",
			Endpoint:   "localhost:4317",
			Timeout:    5 * time.Second,
			Sampler:    "parentbased_traceidratio",
			SampleRate: 0.1,
		},
	}
}
