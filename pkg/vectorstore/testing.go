package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite defines a test suite that can be run against any Store
// implementation. NewStore must return an empty store accepting
// three-dimensional vectors.
type StoreTestSuite struct {
	NewStore func(t *testing.T) Store
}

// RunAllTests runs all store tests against the provided implementation.
func (s *StoreTestSuite) RunAllTests(t *testing.T) {
	t.Run("UpsertAndQuery", s.TestUpsertAndQuery)
	t.Run("UpsertReplaces", s.TestUpsertReplaces)
	t.Run("FilterIsolation", s.TestFilterIsolation)
	t.Run("TopKBounds", s.TestTopKBounds)
	t.Run("MetadataRoundTrip", s.TestMetadataRoundTrip)
	t.Run("InvalidInput", s.TestInvalidInput)
	t.Run("DimensionMismatch", s.TestDimensionMismatch)
	t.Run("List", s.TestList)
	t.Run("DeleteByFilter", s.TestDeleteByFilter)
	t.Run("ConcurrentUpserts", s.TestConcurrentUpserts)
}

func (s *StoreTestSuite) open(t *testing.T) Store {
	t.Helper()
	store := s.NewStore(t)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func userMeta(user, message string) map[string]any {
	return map[string]any{"user_key": user, "message": message}
}

// TestUpsertAndQuery checks ordering by similarity.
func (s *StoreTestSuite) TestUpsertAndQuery(t *testing.T) {
	store := s.open(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "a", []float32{1, 0, 0}, userMeta("u1", "pizza")))
	require.NoError(t, store.Upsert(ctx, "b", []float32{0.8, 0.6, 0}, userMeta("u1", "pasta")))
	require.NoError(t, store.Upsert(ctx, "c", []float32{0, 0, 1}, userMeta("u1", "rain")))

	matches, err := store.Query(ctx, []float32{1, 0, 0}, 2, Filter{"user_key": "u1"})
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "a", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-5)
	assert.Equal(t, "pizza", matches[0].Metadata["message"])
	assert.Equal(t, "b", matches[1].ID)
	assert.InDelta(t, 0.8, matches[1].Score, 1e-5)
}

// TestUpsertReplaces checks that a second upsert with the same id wins.
func (s *StoreTestSuite) TestUpsertReplaces(t *testing.T) {
	store := s.open(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "a", []float32{1, 0, 0}, userMeta("u1", "first")))
	require.NoError(t, store.Upsert(ctx, "a", []float32{0, 1, 0}, userMeta("u1", "second")))

	matches, err := store.Query(ctx, []float32{0, 1, 0}, 10, Filter{"user_key": "u1"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "second", matches[0].Metadata["message"])
	assert.InDelta(t, 1.0, matches[0].Score, 1e-5)
}

// TestFilterIsolation checks that a filter never leaks other users' records.
func (s *StoreTestSuite) TestFilterIsolation(t *testing.T) {
	store := s.open(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "u1-1", []float32{1, 0, 0}, userMeta("u1", "mine")))
	require.NoError(t, store.Upsert(ctx, "u2-1", []float32{1, 0, 0}, userMeta("u2", "theirs")))

	matches, err := store.Query(ctx, []float32{1, 0, 0}, 10, Filter{"user_key": "u1"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "u1-1", matches[0].ID)

	matches, err = store.Query(ctx, []float32{1, 0, 0}, 10, Filter{"user_key": "nobody"})
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = store.Query(ctx, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

// TestTopKBounds checks result counts around topK.
func (s *StoreTestSuite) TestTopKBounds(t *testing.T) {
	store := s.open(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, store.Upsert(ctx, fmt.Sprintf("t%d", i), []float32{1, float32(i), 0}, userMeta("u1", "x")))
	}

	matches, err := store.Query(ctx, []float32{1, 0, 0}, 10, Filter{"user_key": "u1"})
	require.NoError(t, err)
	assert.Len(t, matches, 4)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
	}

	matches, err = store.Query(ctx, []float32{1, 0, 0}, 0, Filter{"user_key": "u1"})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

// TestMetadataRoundTrip checks the shapes metadata comes back in.
func (s *StoreTestSuite) TestMetadataRoundTrip(t *testing.T) {
	store := s.open(t)
	ctx := context.Background()

	meta := map[string]any{
		"user_key":  "u1",
		"name":      "Priya",
		"likes":     []string{"chai", "jazz"},
		"dislikes":  []string{},
		"timestamp": "2026-01-02T03:04:05Z",
	}
	require.NoError(t, store.Upsert(ctx, "a", []float32{1, 1, 0}, meta))

	matches, err := store.Query(ctx, []float32{1, 1, 0}, 1, Filter{"user_key": "u1"})
	require.NoError(t, err)
	require.Len(t, matches, 1)

	got := matches[0].Metadata
	assert.Equal(t, "Priya", got["name"])
	assert.Equal(t, []any{"chai", "jazz"}, got["likes"])
	assert.Equal(t, []any{}, got["dislikes"])
	assert.Equal(t, "2026-01-02T03:04:05Z", got["timestamp"])
}

// TestInvalidInput checks argument validation.
func (s *StoreTestSuite) TestInvalidInput(t *testing.T) {
	store := s.open(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.Upsert(ctx, "", []float32{1, 0, 0}, nil), ErrInvalidID)
	assert.ErrorIs(t, store.Upsert(ctx, "a", nil, nil), ErrEmptyVector)
}

// TestDimensionMismatch checks that widths must agree.
func (s *StoreTestSuite) TestDimensionMismatch(t *testing.T) {
	store := s.open(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "a", []float32{1, 0, 0}, userMeta("u1", "x")))
	assert.ErrorIs(t, store.Upsert(ctx, "b", []float32{1, 0}, userMeta("u1", "y")), ErrDimensionMismatch)

	_, err := store.Query(ctx, []float32{1, 0, 0, 0}, 3, Filter{"user_key": "u1"})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

// TestList checks enumeration by filter.
func (s *StoreTestSuite) TestList(t *testing.T) {
	store := s.open(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "u1-b", []float32{1, 0, 0}, userMeta("u1", "b")))
	require.NoError(t, store.Upsert(ctx, "u1-a", []float32{0, 1, 0}, userMeta("u1", "a")))
	require.NoError(t, store.Upsert(ctx, "u2-a", []float32{0, 0, 1}, userMeta("u2", "c")))

	matches, err := store.List(ctx, Filter{"user_key": "u1"}, 0)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "u1-a", matches[0].ID)
	assert.Equal(t, "a", matches[0].Metadata["message"])
	assert.Equal(t, "u1-b", matches[1].ID)

	matches, err = store.List(ctx, Filter{"user_key": "u1"}, 1)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	matches, err = store.List(ctx, nil, 0)
	require.NoError(t, err)
	assert.Len(t, matches, 3)
}

// TestDeleteByFilter checks that only matching records are removed.
func (s *StoreTestSuite) TestDeleteByFilter(t *testing.T) {
	store := s.open(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "u1-1", []float32{1, 0, 0}, userMeta("u1", "a")))
	require.NoError(t, store.Upsert(ctx, "u1-2", []float32{0, 1, 0}, userMeta("u1", "b")))
	require.NoError(t, store.Upsert(ctx, "u2-1", []float32{1, 0, 0}, userMeta("u2", "c")))

	n, err := store.Delete(ctx, Filter{"user_key": "u1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	matches, err := store.Query(ctx, []float32{1, 0, 0}, 10, Filter{"user_key": "u1"})
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = store.Query(ctx, []float32{1, 0, 0}, 10, Filter{"user_key": "u2"})
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	n, err = store.Delete(ctx, Filter{"user_key": "u1"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestConcurrentUpserts checks that parallel writers do not lose records.
func (s *StoreTestSuite) TestConcurrentUpserts(t *testing.T) {
	store := s.open(t)
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- store.Upsert(ctx, fmt.Sprintf("c%d", i), []float32{1, float32(i), 1}, userMeta("u1", "x"))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	matches, err := store.Query(ctx, []float32{1, 0, 1}, writers*2, Filter{"user_key": "u1"})
	require.NoError(t, err)
	assert.Len(t, matches, writers)
}
