// Package badger provides a Badger-backed vector store. Records are persisted
// as JSON and an in-memory index, rebuilt on open, answers queries.
package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/ellachat/ella/pkg/vectorstore"
	"github.com/ellachat/ella/pkg/vectorstore/memory"
)

const keyPrefix = "vector:"

// Config holds configuration for Store.
type Config struct {
	Path              string
	SyncWrites        bool
	ValueLogFileSize  int64
	NumVersionsToKeep int
	// Dimension fixes the vector width. Zero adopts the width of the first record.
	Dimension int
}

// Store implements vectorstore.Store using Badger.
type Store struct {
	db    *badger.DB
	index *memory.Store
	// writeMu keeps disk and index in the same order.
	writeMu sync.Mutex
}

var _ vectorstore.Store = (*Store)(nil)

type storedRecord struct {
	Vector   []float32       `json:"vector"`
	Metadata json.RawMessage `json:"metadata"`
}

// New opens the database at config.Path and loads every record into memory.
func New(config *Config) (*Store, error) {
	opts := badger.DefaultOptions(config.Path)
	opts.SyncWrites = config.SyncWrites
	if config.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = config.ValueLogFileSize
	}
	if config.NumVersionsToKeep > 0 {
		opts.NumVersionsToKeep = config.NumVersionsToKeep
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &vectorstore.StoreUnavailableError{Backend: "badger", Cause: err}
	}

	s := &Store{db: db, index: memory.New(config.Dimension)}
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func recordKey(id string) []byte {
	return []byte(keyPrefix + id)
}

// load rebuilds the index. Undecodable records are skipped.
func (s *Store) load() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id := string(item.Key()[len(keyPrefix):])
			err := item.Value(func(val []byte) error {
				var rec storedRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return &vectorstore.SerializationError{Operation: "unmarshal record", Cause: err}
				}
				meta, err := vectorstore.DecodeMetadata(rec.Metadata)
				if err != nil {
					return err
				}
				return s.index.Load(id, rec.Vector, meta)
			})
			if err != nil {
				slog.Warn("vectorstore: skipping unreadable record", "backend", "badger", "id", id, "error", err)
			}
		}
		return nil
	})
}

// Upsert writes the record to disk, then to the index.
func (s *Store) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := vectorstore.ValidateRecord(id, vector, s.index.Dimension()); err != nil {
		return err
	}
	raw, err := vectorstore.EncodeMetadata(metadata)
	if err != nil {
		return err
	}
	data, err := json.Marshal(storedRecord{Vector: vector, Metadata: raw})
	if err != nil {
		return &vectorstore.SerializationError{Operation: "marshal record", Cause: err}
	}
	meta, err := vectorstore.DecodeMetadata(raw)
	if err != nil {
		return err
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(id), data)
	}); err != nil {
		return &vectorstore.StoreUnavailableError{Backend: "badger", Cause: err}
	}
	return s.index.Load(id, vector, meta)
}

// Query delegates to the in-memory index.
func (s *Store) Query(ctx context.Context, vector []float32, topK int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	return s.index.Query(ctx, vector, topK, filter)
}

// List delegates to the in-memory index.
func (s *Store) List(ctx context.Context, filter vectorstore.Filter, limit int) ([]vectorstore.Match, error) {
	return s.index.List(ctx, filter, limit)
}

// Delete removes matching records from disk and the index.
func (s *Store) Delete(ctx context.Context, filter vectorstore.Filter) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ids := s.index.Matching(filter)
	if len(ids) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, id := range ids {
		if err := wb.Delete(recordKey(id)); err != nil {
			return 0, &vectorstore.StoreUnavailableError{Backend: "badger", Cause: err}
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, &vectorstore.StoreUnavailableError{Backend: "badger", Cause: err}
	}

	s.index.Remove(ids...)
	return len(ids), nil
}

// Len returns the number of indexed records.
func (s *Store) Len() int {
	return s.index.Len()
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}
