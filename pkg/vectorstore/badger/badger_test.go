package badger

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/ellachat/ella/pkg/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	return &Config{
		Path:              t.TempDir(),
		SyncWrites:        false,   // Faster for tests
		ValueLogFileSize:  1 << 20, // 1MB
		NumVersionsToKeep: 1,
	}
}

// TestBadgerStoreSuite runs the shared store suite against Store.
func TestBadgerStoreSuite(t *testing.T) {
	suite := &vectorstore.StoreTestSuite{
		NewStore: func(t *testing.T) vectorstore.Store {
			s, err := New(testConfig(t))
			require.NoError(t, err)
			return s
		},
	}
	suite.RunAllTests(t)
}

func TestStore_SurvivesReopen(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	s, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, "u1-a", []float32{1, 0, 0}, map[string]any{"user_key": "u1", "message": "hello"}))
	require.NoError(t, s.Upsert(ctx, "u1-b", []float32{0, 1, 0}, map[string]any{"user_key": "u1", "message": "bye"}))
	_, err = s.Delete(ctx, vectorstore.Filter{"message": "bye"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := New(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 1, reopened.Len())
	matches, err := reopened.Query(ctx, []float32{1, 0, 0}, 5, vectorstore.Filter{"user_key": "u1"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "hello", matches[0].Metadata["message"])

	err = reopened.Upsert(ctx, "u1-c", []float32{1, 0}, nil)
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch, "width is restored from disk")
}

func TestStore_SkipsCorruptRecords(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	s, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, "good", []float32{1, 0}, map[string]any{"user_key": "u1"}))
	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey("bad"), []byte("{not json"))
	}))
	require.NoError(t, s.Close())

	reopened, err := New(cfg)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 1, reopened.Len())
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New(&Config{Path: "/dev/null/badger"})
	var unavailable *vectorstore.StoreUnavailableError
	assert.ErrorAs(t, err, &unavailable)
}
