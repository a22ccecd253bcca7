// Package postgres provides a pgvector-backed vector store. Similarity is
// computed by the database with the cosine distance operator and metadata
// filters use JSONB containment.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ellachat/ella/pkg/vectorstore"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "memory_vectors"

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Config holds configuration for Store.
type Config struct {
	DSN   string
	Table string
	// Dimension is the width of the vector column and is required.
	Dimension int
}

// Store implements vectorstore.Store on PostgreSQL with pgvector.
type Store struct {
	pool      *pgxpool.Pool
	table     string
	dimension int
}

var _ vectorstore.Store = (*Store)(nil)

// New connects, then creates the extension, table and HNSW index if missing.
func New(ctx context.Context, config *Config) (*Store, error) {
	table := config.Table
	if table == "" {
		table = DefaultTable
	}
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("vectorstore postgres: invalid table name %q", table)
	}
	if config.Dimension <= 0 {
		return nil, errors.New("vectorstore postgres: dimension is required")
	}

	pool, err := pgxpool.New(ctx, strings.TrimSpace(config.DSN))
	if err != nil {
		return nil, &vectorstore.StoreUnavailableError{Backend: "postgres", Cause: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &vectorstore.StoreUnavailableError{Backend: "postgres", Cause: err}
	}

	s := &Store{pool: pool, table: table, dimension: config.Dimension}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, &vectorstore.StoreUnavailableError{Backend: "postgres", Cause: err}
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table, s.dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_metadata_idx ON %s USING gin (metadata jsonb_path_ops)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Upsert inserts or replaces a record.
func (s *Store) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	if err := vectorstore.ValidateRecord(id, vector, s.dimension); err != nil {
		return err
	}
	metadataJSON, err := vectorstore.EncodeMetadata(metadata)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, embedding, metadata, updated_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at`, s.table),
		id, pgvector.NewVector(vector), string(metadataJSON),
	)
	if err != nil {
		return &vectorstore.StoreUnavailableError{Backend: "postgres", Cause: fmt.Errorf("upsert: %w", err)}
	}
	return nil
}

func filterJSON(filter vectorstore.Filter) (string, error) {
	if filter == nil {
		filter = vectorstore.Filter{}
	}
	data, err := json.Marshal(filter)
	if err != nil {
		return "", &vectorstore.SerializationError{Operation: "marshal filter", Cause: err}
	}
	return string(data), nil
}

// Query orders by cosine distance and reports 1 - distance as the score.
func (s *Store) Query(ctx context.Context, vector []float32, topK int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	if err := vectorstore.CheckDimension(vector, s.dimension); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}
	containment, err := filterJSON(filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE metadata @> $2::jsonb
		ORDER BY embedding <=> $1, id
		LIMIT $3`, s.table),
		pgvector.NewVector(vector), containment, topK,
	)
	if err != nil {
		return nil, &vectorstore.StoreUnavailableError{Backend: "postgres", Cause: fmt.Errorf("query: %w", err)}
	}
	defer rows.Close()

	var matches []vectorstore.Match
	for rows.Next() {
		var (
			id       string
			metadata []byte
			score    float64
		)
		if err := rows.Scan(&id, &metadata, &score); err != nil {
			return nil, &vectorstore.StoreUnavailableError{Backend: "postgres", Cause: fmt.Errorf("scan: %w", err)}
		}
		decoded, err := vectorstore.DecodeMetadata(metadata)
		if err != nil {
			continue
		}
		matches = append(matches, vectorstore.Match{ID: id, Score: score, Metadata: decoded})
	}
	if err := rows.Err(); err != nil {
		return nil, &vectorstore.StoreUnavailableError{Backend: "postgres", Cause: err}
	}
	return matches, nil
}

// List returns matching rows ordered by id.
func (s *Store) List(ctx context.Context, filter vectorstore.Filter, limit int) ([]vectorstore.Match, error) {
	containment, err := filterJSON(filter)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT id, metadata FROM %s WHERE metadata @> $1::jsonb ORDER BY id`, s.table)
	args := []any{containment}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &vectorstore.StoreUnavailableError{Backend: "postgres", Cause: fmt.Errorf("list: %w", err)}
	}
	defer rows.Close()

	var matches []vectorstore.Match
	for rows.Next() {
		var (
			id       string
			metadata []byte
		)
		if err := rows.Scan(&id, &metadata); err != nil {
			return nil, &vectorstore.StoreUnavailableError{Backend: "postgres", Cause: fmt.Errorf("scan: %w", err)}
		}
		decoded, err := vectorstore.DecodeMetadata(metadata)
		if err != nil {
			continue
		}
		matches = append(matches, vectorstore.Match{ID: id, Metadata: decoded})
	}
	if err := rows.Err(); err != nil {
		return nil, &vectorstore.StoreUnavailableError{Backend: "postgres", Cause: err}
	}
	return matches, nil
}

// Delete removes every row whose metadata contains filter.
func (s *Store) Delete(ctx context.Context, filter vectorstore.Filter) (int, error) {
	containment, err := filterJSON(filter)
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE metadata @> $1::jsonb`, s.table), containment)
	if err != nil {
		return 0, &vectorstore.StoreUnavailableError{Backend: "postgres", Cause: fmt.Errorf("delete: %w", err)}
	}
	return int(tag.RowsAffected()), nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
