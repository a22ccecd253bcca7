package companion

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ellachat/ella/config"
	"github.com/ellachat/ella/pkg/composer"
	"github.com/ellachat/ella/pkg/embedding"
	"github.com/ellachat/ella/pkg/facts"
	"github.com/ellachat/ella/pkg/llm"
	"github.com/ellachat/ella/pkg/logger"
	"github.com/ellachat/ella/pkg/memory"
	"github.com/ellachat/ella/pkg/retry"
	"github.com/ellachat/ella/pkg/vectorstore"
	vsbadger "github.com/ellachat/ella/pkg/vectorstore/badger"
	vsmemory "github.com/ellachat/ella/pkg/vectorstore/memory"
	vspostgres "github.com/ellachat/ella/pkg/vectorstore/postgres"
	vssqlite "github.com/ellachat/ella/pkg/vectorstore/sqlite"
	"github.com/redis/go-redis/v9"
)

// Recorder receives every observation the companion pipeline emits.
type Recorder interface {
	embedding.Recorder
	memory.WriteRecorder
	composer.Recorder
}

type nopRecorder struct{}

func (nopRecorder) ObserveEmbedding(string)            {}
func (nopRecorder) ObserveMemoryWrite(string)          {}
func (nopRecorder) ObserveReply(string, time.Duration) {}
func (nopRecorder) SetRunningCost(float64)             {}

var knownModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// BuildOption overrides a component Build would otherwise create from config.
type BuildOption func(*buildOptions)

type buildOptions struct {
	generator llm.Generator
	embedder  embedding.Service
	store     vectorstore.Store
	facts     memory.FactStore
}

// WithGenerator replaces the configured generation provider.
func WithGenerator(g llm.Generator) BuildOption {
	return func(o *buildOptions) { o.generator = g }
}

// WithEmbedder replaces the configured embedding provider. It is still wrapped
// in the embedding cache.
func WithEmbedder(e embedding.Service) BuildOption {
	return func(o *buildOptions) { o.embedder = e }
}

// WithVectorStore replaces the configured long-term store.
func WithVectorStore(s vectorstore.Store) BuildOption {
	return func(o *buildOptions) { o.store = s }
}

// WithFactStore replaces the configured durable fact store.
func WithFactStore(s memory.FactStore) BuildOption {
	return func(o *buildOptions) { o.facts = s }
}

// Build wires a Service from configuration. Resources opened along the way are
// released if a later step fails.
func Build(ctx context.Context, cfg *config.Config, log logger.Logger, rec Recorder, opts ...BuildOption) (svc *Service, err error) {
	if log == nil {
		log = logger.Nop()
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	var closers []io.Closer
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i].Close()
			}
		}
	}()

	policy := retry.Policy{MaxAttempts: cfg.Retry.MaxAttempts, Delay: cfg.Retry.Delay}

	gen := bo.generator
	if gen == nil {
		openaiGen, err := llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("llm: %w", err)
		}
		gen = openaiGen
	}
	gen = llm.NewRateLimited(gen, cfg.LLM.RateLimit, cfg.LLM.Burst)

	provider := bo.embedder
	if provider == nil {
		if provider, err = newEmbedder(cfg.Embedding); err != nil {
			return nil, err
		}
	}
	embeddings := embedding.NewCache(provider, policy,
		embedding.WithLogger(log.With("component", "embedding")),
		embedding.WithRecorder(rec),
	)

	store := bo.store
	if store == nil {
		if store, err = openStore(ctx, cfg, storeDimension(cfg)); err != nil {
			return nil, err
		}
	}
	closers = append(closers, store)

	factStore := bo.facts
	if factStore == nil && cfg.Facts.Store == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Facts.Redis.Address,
			Password: cfg.Facts.Redis.Password,
			DB:       cfg.Facts.Redis.DB,
		})
		closers = append(closers, client)
		if err = client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis fact store %s: %w", cfg.Facts.Redis.Address, err)
		}
		factStore = memory.NewRedisFactStore(client, cfg.Facts.Redis.KeyPrefix)
	}

	extractor, err := facts.New(cfg.Facts.Strategy, gen, policy, log.With("component", "facts"))
	if err != nil {
		return nil, err
	}

	session := memory.NewSessionMemory(factStore, log.With("component", "session"))
	longTerm := memory.NewLongTermMemory(store, log.With("component", "longterm"))

	writerOpts := []memory.WriterOption{
		memory.WithWriterLogger(log.With("component", "writer")),
		memory.WithWriteRecorder(rec),
	}
	if cfg.Memory.AsyncWrite {
		writerOpts = append(writerOpts, memory.WithAsync(cfg.Memory.Workers, cfg.Memory.QueueSize))
	}
	writer := memory.NewWriter(session, longTerm, extractor, embeddings, writerOpts...)

	comp, err := composer.New(composer.Deps{
		Generator: gen,
		Embedder:  embeddings,
		Extractor: extractor,
		Session:   session,
		LongTerm:  longTerm,
		Writer:    writer,
	}, settingsFromConfig(cfg),
		composer.WithRetryPolicy(policy),
		composer.WithLogger(log.With("component", "composer")),
		composer.WithRecorder(rec),
	)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("composer: %w", err)
	}

	log.Info("companion: built",
		"storage", cfg.Storage.Type,
		"embedding", cfg.Embedding.Provider,
		"facts", cfg.Facts.Strategy,
		"fact_store", cfg.Facts.Store,
		"async_write", writer.Async(),
	)

	return New(Components{
		Composer:   comp,
		Session:    session,
		LongTerm:   longTerm,
		Writer:     writer,
		Embeddings: embeddings,
		Generator:  gen,
		Logger:     log,
		Closers:    closers,
	}), nil
}

func settingsFromConfig(cfg *config.Config) composer.Settings {
	return composer.Settings{
		Persona:             cfg.Persona.Description,
		Temperature:         cfg.LLM.Temperature,
		MaxTokens:           cfg.LLM.MaxTokens,
		TopK:                cfg.Composer.TopK,
		CallbackMinScore:    cfg.Composer.CallbackMinScore,
		PlayfulProbability:  cfg.Composer.PlayfulProbability,
		FollowUpProbability: cfg.Composer.FollowUpProbability,
		InputTokenRate:      cfg.Composer.InputTokenRate,
		OutputTokenRate:     cfg.Composer.OutputTokenRate,
		FallbackReply:       cfg.Composer.FallbackReply,
	}
}

func newEmbedder(cfg config.EmbeddingConfig) (embedding.Service, error) {
	switch cfg.Provider {
	case "hash":
		return embedding.NewHash(cfg.Dimensions), nil
	case "openai":
		svc, err := embedding.NewOpenAI(embedding.OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("embedding: %w", err)
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}
}

// storeDimension resolves the vector width the store is created with. Zero
// lets the store adopt the width of its first record.
func storeDimension(cfg *config.Config) int {
	switch {
	case cfg.Storage.Dimension > 0:
		return cfg.Storage.Dimension
	case cfg.Embedding.Dimensions > 0:
		return cfg.Embedding.Dimensions
	case cfg.Embedding.Provider == "hash":
		return embedding.DefaultHashDimensions
	default:
		return knownModelDimensions[cfg.Embedding.Model]
	}
}

func openStore(ctx context.Context, cfg *config.Config, dimension int) (vectorstore.Store, error) {
	switch cfg.Storage.Type {
	case "memory":
		return vsmemory.New(dimension), nil
	case "badger":
		return vsbadger.New(&vsbadger.Config{
			Path:              cfg.Storage.Badger.Path,
			SyncWrites:        cfg.Storage.Badger.SyncWrites,
			ValueLogFileSize:  cfg.Storage.Badger.ValueLogFileSize,
			NumVersionsToKeep: cfg.Storage.Badger.NumVersionsToKeep,
			Dimension:         dimension,
		})
	case "sqlite":
		return vssqlite.New(ctx, &vssqlite.Config{Path: cfg.Storage.SQLite.Path, Dimension: dimension})
	case "postgres":
		if dimension <= 0 {
			return nil, fmt.Errorf("postgres storage needs storage.dimension or embedding.dimensions for model %q", cfg.Embedding.Model)
		}
		return vspostgres.New(ctx, &vspostgres.Config{
			DSN:       cfg.Storage.Postgres.DSN,
			Table:     cfg.Storage.Postgres.Table,
			Dimension: dimension,
		})
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}
