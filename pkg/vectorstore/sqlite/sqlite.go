// Package sqlite provides a SQLite-backed vector store. Embeddings and
// metadata are stored as JSON; metadata filters run through JSON1 and cosine
// similarity is computed in Go.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ellachat/ella/pkg/vectorstore"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS memory_vectors (
	id         TEXT PRIMARY KEY,
	embedding  TEXT NOT NULL,
	dimension  INTEGER NOT NULL,
	metadata   TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

var filterKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds configuration for Store.
type Config struct {
	// Path is the database file. ":memory:" keeps everything in process.
	Path string
	// Dimension fixes the vector width. Zero adopts the width of the first record.
	Dimension int
	Logger    *slog.Logger
}

// Store implements vectorstore.Store using SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu        sync.Mutex
	dimension int
}

var _ vectorstore.Store = (*Store)(nil)

// New opens the database and creates the table if needed.
func New(ctx context.Context, config *Config) (*Store, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if config.Path != ":memory:" {
		if dir := filepath.Dir(config.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, &vectorstore.StoreUnavailableError{Backend: "sqlite", Cause: err}
			}
		}
	}

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, &vectorstore.StoreUnavailableError{Backend: "sqlite", Cause: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, &vectorstore.StoreUnavailableError{Backend: "sqlite", Cause: fmt.Errorf("set pragma: %w", err)}
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, &vectorstore.StoreUnavailableError{Backend: "sqlite", Cause: fmt.Errorf("create schema: %w", err)}
	}

	s := &Store{db: db, logger: logger, dimension: config.Dimension}
	if s.dimension == 0 {
		err := db.QueryRowContext(ctx, `SELECT dimension FROM memory_vectors LIMIT 1`).Scan(&s.dimension)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			db.Close()
			return nil, &vectorstore.StoreUnavailableError{Backend: "sqlite", Cause: err}
		}
	}
	return s, nil
}

// Upsert inserts or replaces a record.
func (s *Store) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := vectorstore.ValidateRecord(id, vector, s.dimension); err != nil {
		return err
	}
	embeddingJSON, err := json.Marshal(vector)
	if err != nil {
		return &vectorstore.SerializationError{Operation: "marshal embedding", Cause: err}
	}
	metadataJSON, err := vectorstore.EncodeMetadata(metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_vectors (id, embedding, dimension, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		id, string(embeddingJSON), len(vector), string(metadataJSON),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return &vectorstore.StoreUnavailableError{Backend: "sqlite", Cause: fmt.Errorf("upsert: %w", err)}
	}
	if s.dimension == 0 {
		s.dimension = len(vector)
	}
	return nil
}

// where renders filter as JSON1 clauses over the metadata column.
func where(filter vectorstore.Filter) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}
	clauses := make([]string, 0, len(filter))
	args := make([]any, 0, len(filter)*3)
	for key, value := range filter {
		if !filterKeyPattern.MatchString(key) {
			return "", nil, fmt.Errorf("%w: key %q", vectorstore.ErrInvalidFilter, key)
		}
		path := "$." + key
		clauses = append(clauses, "(json_type(metadata, ?) = 'text' AND json_extract(metadata, ?) = ?)")
		args = append(args, path, path, value)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

// Query loads matching rows and ranks them by cosine similarity.
func (s *Store) Query(ctx context.Context, vector []float32, topK int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	s.mu.Lock()
	dimension := s.dimension
	s.mu.Unlock()

	if err := vectorstore.CheckDimension(vector, dimension); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	clause, args, err := where(filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT id, embedding, metadata FROM memory_vectors"+clause, args...)
	if err != nil {
		return nil, &vectorstore.StoreUnavailableError{Backend: "sqlite", Cause: fmt.Errorf("query: %w", err)}
	}
	defer rows.Close()

	var matches []vectorstore.Match
	for rows.Next() {
		var id, embeddingJSON, metadataJSON string
		if err := rows.Scan(&id, &embeddingJSON, &metadataJSON); err != nil {
			s.logger.Warn("vectorstore sqlite: skip malformed row", "err", err)
			continue
		}
		var embedding []float32
		if err := json.Unmarshal([]byte(embeddingJSON), &embedding); err != nil {
			s.logger.Warn("vectorstore sqlite: skip malformed row", "id", id, "err", err)
			continue
		}
		metadata, err := vectorstore.DecodeMetadata([]byte(metadataJSON))
		if err != nil {
			s.logger.Warn("vectorstore sqlite: skip malformed row", "id", id, "err", err)
			continue
		}
		matches = append(matches, vectorstore.Match{
			ID:       id,
			Score:    vectorstore.CosineSimilarity(vector, embedding),
			Metadata: metadata,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &vectorstore.StoreUnavailableError{Backend: "sqlite", Cause: fmt.Errorf("iterate rows: %w", err)}
	}
	return vectorstore.Rank(matches, topK), nil
}

// List returns matching rows ordered by id.
func (s *Store) List(ctx context.Context, filter vectorstore.Filter, limit int) ([]vectorstore.Match, error) {
	clause, args, err := where(filter)
	if err != nil {
		return nil, err
	}
	query := "SELECT id, metadata FROM memory_vectors" + clause + " ORDER BY id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &vectorstore.StoreUnavailableError{Backend: "sqlite", Cause: fmt.Errorf("list: %w", err)}
	}
	defer rows.Close()

	var matches []vectorstore.Match
	for rows.Next() {
		var id, metadataJSON string
		if err := rows.Scan(&id, &metadataJSON); err != nil {
			s.logger.Warn("vectorstore sqlite: skip malformed row", "err", err)
			continue
		}
		metadata, err := vectorstore.DecodeMetadata([]byte(metadataJSON))
		if err != nil {
			s.logger.Warn("vectorstore sqlite: skip malformed row", "id", id, "err", err)
			continue
		}
		matches = append(matches, vectorstore.Match{ID: id, Metadata: metadata})
	}
	if err := rows.Err(); err != nil {
		return nil, &vectorstore.StoreUnavailableError{Backend: "sqlite", Cause: fmt.Errorf("iterate rows: %w", err)}
	}
	return matches, nil
}

// Delete removes every row matching filter.
func (s *Store) Delete(ctx context.Context, filter vectorstore.Filter) (int, error) {
	clause, args, err := where(filter)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM memory_vectors"+clause, args...)
	if err != nil {
		return 0, &vectorstore.StoreUnavailableError{Backend: "sqlite", Cause: fmt.Errorf("delete: %w", err)}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &vectorstore.StoreUnavailableError{Backend: "sqlite", Cause: err}
	}
	return int(n), nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
