package vectorstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}

func TestMatchesFilter(t *testing.T) {
	meta := map[string]any{"user_key": "u1", "count": 2.0}

	assert.True(t, MatchesFilter(meta, nil))
	assert.True(t, MatchesFilter(meta, Filter{"user_key": "u1"}))
	assert.False(t, MatchesFilter(meta, Filter{"user_key": "u2"}))
	assert.False(t, MatchesFilter(meta, Filter{"missing": "x"}))
	assert.False(t, MatchesFilter(meta, Filter{"count": "2"}), "only string values match")
}

func TestRank(t *testing.T) {
	matches := []Match{
		{ID: "b", Score: 0.5},
		{ID: "a", Score: 0.9},
		{ID: "c", Score: 0.5},
	}

	ranked := Rank(matches, 2)
	require.Len(t, ranked, 2)
	assert.Equal(t, "a", ranked[0].ID)
	assert.Equal(t, "b", ranked[1].ID)

	assert.Empty(t, Rank([]Match{{ID: "a"}}, -1))
}

func TestValidateRecord(t *testing.T) {
	assert.ErrorIs(t, ValidateRecord("", []float32{1}, 0), ErrInvalidID)
	assert.ErrorIs(t, ValidateRecord("a", nil, 0), ErrEmptyVector)
	assert.ErrorIs(t, ValidateRecord("a", []float32{1, 2}, 3), ErrDimensionMismatch)
	assert.NoError(t, ValidateRecord("a", []float32{1, 2}, 0))
	assert.NoError(t, ValidateRecord("a", []float32{1, 2}, 2))
}

func TestNormalizeMetadata(t *testing.T) {
	got, err := NormalizeMetadata(map[string]any{"likes": []string{"tea"}, "n": 3})
	require.NoError(t, err)
	assert.Equal(t, []any{"tea"}, got["likes"])
	assert.Equal(t, 3.0, got["n"])

	empty, err := NormalizeMetadata(nil)
	require.NoError(t, err)
	assert.NotNil(t, empty)

	_, err = NormalizeMetadata(map[string]any{"bad": make(chan int)})
	var serr *SerializationError
	assert.True(t, errors.As(err, &serr))
}

func TestStoreUnavailableError(t *testing.T) {
	cause := errors.New("connection refused")
	err := &StoreUnavailableError{Backend: "postgres", Cause: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "postgres")
}
