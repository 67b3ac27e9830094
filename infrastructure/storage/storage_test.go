package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"increment/infrastructure/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.db")
	s, err := storage.Open(path, "testhash", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetMissingKeyIsAbsentNotError(t *testing.T) {
	s := openTestStore(t)
	err := s.View(func(b *storage.Batch) error {
		v, ok, err := b.GetValue(`{"head":"a","args":[]}`)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, v)
		return nil
	})
	require.NoError(t, err)
}

func TestPutThenGetWithinSameBatch(t *testing.T) {
	s := openTestStore(t)
	err := s.Update(func(b *storage.Batch) error {
		require.NoError(t, b.PutValue("k", 42.0))
		v, ok, err := b.GetValue("k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 42.0, v)
		return nil
	})
	require.NoError(t, err)
}

func TestCommitPersistsAcrossTransactions(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Update(func(b *storage.Batch) error {
		return b.PutFreshness("k", storage.FreshnessUpToDate)
	}))

	err := s.View(func(b *storage.Batch) error {
		f, ok, err := b.GetFreshness("k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, storage.FreshnessUpToDate, f)
		return nil
	})
	require.NoError(t, err)
}

func TestRollbackOnError(t *testing.T) {
	s := openTestStore(t)

	err := s.Update(func(b *storage.Batch) error {
		require.NoError(t, b.PutValue("k", "staged"))
		return assert.AnError
	})
	require.Error(t, err)

	err = s.View(func(b *storage.Batch) error {
		_, ok, err := b.GetValue("k")
		require.NoError(t, err)
		assert.False(t, ok, "value written before the error must not survive rollback")
		return nil
	})
	require.NoError(t, err)
}

func TestRevdepsAreMonotoneAndDeduplicated(t *testing.T) {
	s := openTestStore(t)
	err := s.Update(func(b *storage.Batch) error {
		require.NoError(t, b.AddRevdep("a", "b"))
		require.NoError(t, b.AddRevdep("a", "b"))
		require.NoError(t, b.AddRevdep("a", "c"))

		deps, err := b.GetRevdeps("a")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"b", "c"}, deps)
		return nil
	})
	require.NoError(t, err)
}

func TestKeysPrefixIteration(t *testing.T) {
	s := openTestStore(t)
	err := s.Update(func(b *storage.Batch) error {
		require.NoError(t, b.PutValue(`{"head":"a","args":[1]}`, 1.0))
		require.NoError(t, b.PutValue(`{"head":"a","args":[2]}`, 2.0))
		require.NoError(t, b.PutValue(`{"head":"b","args":[1]}`, 3.0))

		keys, err := b.Keys(storage.SublevelValues, `{"head":"a"`)
		require.NoError(t, err)
		assert.Len(t, keys, 2)
		return nil
	})
	require.NoError(t, err)
}

func TestReopenAfterClosePreservesState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.db")

	s1, err := storage.Open(path, "hash", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s1.Update(func(b *storage.Batch) error {
		return b.PutCounter("k", 7)
	}))
	require.NoError(t, s1.Close())

	s2, err := storage.Open(path, "hash", zap.NewNop())
	require.NoError(t, err)
	defer s2.Close()

	err = s2.View(func(b *storage.Batch) error {
		c, ok, err := b.GetCounter("k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint64(7), c)
		return nil
	})
	require.NoError(t, err)
}
