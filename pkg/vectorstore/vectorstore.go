// Package vectorstore defines the long-term similarity store for conversation
// turns and the helpers its backends share.
package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrDimensionMismatch is returned when a vector width differs from the store's.
	ErrDimensionMismatch = errors.New("vectorstore: dimension mismatch")
	// ErrInvalidID is returned for an empty record id.
	ErrInvalidID = errors.New("vectorstore: invalid id")
	// ErrEmptyVector is returned for a zero-length vector.
	ErrEmptyVector = errors.New("vectorstore: empty vector")
	// ErrInvalidFilter is returned for filter keys a backend cannot express.
	ErrInvalidFilter = errors.New("vectorstore: invalid filter")
)

// Filter restricts results to records whose metadata has every key equal to
// the given string value.
type Filter map[string]string

// Match is one query result.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// Store persists vectors with metadata and answers cosine-similarity queries.
// Constructors create any index or table they need; doing so again is a no-op.
type Store interface {
	// Upsert inserts or replaces the record with id.
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error
	// Query returns up to topK records matching filter, most similar first.
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error)
	// List returns records matching filter ordered by id with a zero score.
	// A non-positive limit returns every match.
	List(ctx context.Context, filter Filter, limit int) ([]Match, error)
	// Delete removes every record matching filter and reports how many went.
	Delete(ctx context.Context, filter Filter) (int, error)
	// Close releases backend resources.
	Close() error
}

// StoreUnavailableError indicates that the backend could not be reached.
type StoreUnavailableError struct {
	Backend string
	Cause   error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("vector store %s unavailable: %v", e.Backend, e.Cause)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Cause }

// SerializationError indicates a failure encoding or decoding a record.
type SerializationError struct {
	Operation string
	Cause     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error during %s: %v", e.Operation, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }

// ValidateRecord checks the arguments of an Upsert against the store
// dimension. A zero dimension accepts any width.
func ValidateRecord(id string, vector []float32, dimension int) error {
	if id == "" {
		return ErrInvalidID
	}
	if len(vector) == 0 {
		return ErrEmptyVector
	}
	return CheckDimension(vector, dimension)
}

// CheckDimension reports ErrDimensionMismatch when dimension is set and the
// vector width differs.
func CheckDimension(vector []float32, dimension int) error {
	if dimension > 0 && len(vector) != dimension {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dimension, len(vector))
	}
	return nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// the widths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// MatchesFilter reports whether metadata satisfies every filter clause.
func MatchesFilter(metadata map[string]any, filter Filter) bool {
	for k, want := range filter {
		got, ok := metadata[k].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Rank sorts matches by descending score, ties broken by id, and keeps topK.
func Rank(matches []Match, topK int) []Match {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if topK < 0 {
		topK = 0
	}
	if topK < len(matches) {
		matches = matches[:topK]
	}
	return matches
}

// SortByID orders matches by id and keeps at most limit when limit is positive.
func SortByID(matches []Match, limit int) []Match {
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	if limit > 0 && limit < len(matches) {
		matches = matches[:limit]
	}
	return matches
}

// EncodeMetadata serializes metadata as JSON.
func EncodeMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, &SerializationError{Operation: "marshal metadata", Cause: err}
	}
	return data, nil
}

// DecodeMetadata parses JSON metadata.
func DecodeMetadata(data []byte) (map[string]any, error) {
	var metadata map[string]any
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, &SerializationError{Operation: "unmarshal metadata", Cause: err}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return metadata, nil
}

// NormalizeMetadata round-trips metadata through JSON so every backend hands
// back the same shapes: strings, float64 numbers, []any lists and nested maps.
func NormalizeMetadata(metadata map[string]any) (map[string]any, error) {
	data, err := EncodeMetadata(metadata)
	if err != nil {
		return nil, err
	}
	return DecodeMetadata(data)
}
