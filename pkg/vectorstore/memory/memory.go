// Package memory provides an in-process vector store with brute-force cosine
// search. Records live only as long as the process.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/ellachat/ella/pkg/vectorstore"
)

type record struct {
	vector   []float32
	metadata map[string]any
}

// Store implements vectorstore.Store over a map.
type Store struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]record
}

var _ vectorstore.Store = (*Store)(nil)

// New creates an empty store. A zero dimension is fixed by the first upsert.
func New(dimension int) *Store {
	return &Store{
		dimension: dimension,
		records:   make(map[string]record),
	}
}

// Upsert inserts or replaces a record. Metadata is normalized to its JSON
// shape so callers see the same values a durable backend would return.
func (s *Store) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	meta, err := vectorstore.NormalizeMetadata(metadata)
	if err != nil {
		return err
	}
	return s.put(id, vector, meta)
}

// put stores already-normalized metadata without copying it.
func (s *Store) put(id string, vector []float32, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := vectorstore.ValidateRecord(id, vector, s.dimension); err != nil {
		return err
	}
	if s.dimension == 0 {
		s.dimension = len(vector)
	}
	s.records[id] = record{vector: slices.Clone(vector), metadata: metadata}
	return nil
}

// Load inserts a record decoded from durable storage.
func (s *Store) Load(id string, vector []float32, metadata map[string]any) error {
	return s.put(id, vector, metadata)
}

// Query returns the topK most similar records matching filter.
func (s *Store) Query(ctx context.Context, vector []float32, topK int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := vectorstore.CheckDimension(vector, s.dimension); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	matches := make([]vectorstore.Match, 0, len(s.records))
	for id, rec := range s.records {
		if !vectorstore.MatchesFilter(rec.metadata, filter) {
			continue
		}
		matches = append(matches, vectorstore.Match{
			ID:       id,
			Score:    vectorstore.CosineSimilarity(vector, rec.vector),
			Metadata: cloneMetadata(rec.metadata),
		})
	}
	return vectorstore.Rank(matches, topK), nil
}

// List returns matching records ordered by id.
func (s *Store) List(ctx context.Context, filter vectorstore.Filter, limit int) ([]vectorstore.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []vectorstore.Match
	for id, rec := range s.records {
		if vectorstore.MatchesFilter(rec.metadata, filter) {
			matches = append(matches, vectorstore.Match{ID: id, Metadata: cloneMetadata(rec.metadata)})
		}
	}
	return vectorstore.SortByID(matches, limit), nil
}

// Matching returns the ids of records matching filter.
func (s *Store) Matching(filter vectorstore.Filter) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, rec := range s.records {
		if vectorstore.MatchesFilter(rec.metadata, filter) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Remove deletes records by id.
func (s *Store) Remove(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.records, id)
	}
}

// Delete removes every record matching filter.
func (s *Store) Delete(ctx context.Context, filter vectorstore.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, rec := range s.records {
		if vectorstore.MatchesFilter(rec.metadata, filter) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Dimension returns the fixed vector width, or zero before the first upsert.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// cloneMetadata copies the top level and any list values so results cannot
// alias stored state.
func cloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if list, ok := v.([]any); ok {
			v = slices.Clone(list)
		}
		out[k] = v
	}
	return out
}
