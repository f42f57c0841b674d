package bst

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embedkv/ignite/internal/manager"
	"github.com/embedkv/ignite/internal/value"
	"github.com/embedkv/ignite/pkg/logger"
	"github.com/embedkv/ignite/pkg/options"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	dir := t.TempDir()
	opts := options.NewDefaultOptions()
	mgr, err := manager.Open(dir, opts, logger.Noop())
	require.NoError(t, err)
	store := value.NewStore(mgr, 10, 10, nil)
	return New(store)
}

func TestSetGetBeforePersist(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.Set(5, "five"))
	require.NoError(t, idx.Set(3, "three"))
	require.NoError(t, idx.Set(8, "eight"))

	v, ok, err := idx.Get(5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "five", v)

	_, ok, err = idx.Get(99)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKeysAreAscending(t *testing.T) {
	idx := newTestIndex(t)
	for _, k := range []int64{5, 3, 8, 1, 4, 7, 9} {
		require.NoError(t, idx.Set(k, k*10))
	}

	keys, err := idx.Keys()
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3, 4, 5, 7, 8, 9}, keys)
}

func TestOverwriteExistingKey(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Set(1, "a"))
	require.NoError(t, idx.Set(1, "b"))

	v, ok, err := idx.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", v)
}

func TestPersistMovesValuesToDiskAndGetStillWorks(t *testing.T) {
	idx := newTestIndex(t)
	for _, k := range []int64{5, 3, 8} {
		require.NoError(t, idx.Set(k, k*10))
	}

	n, err := idx.Persist()
	require.NoError(t, err)
	require.Equal(t, 3, n)

	// A second persist with no new keys has nothing left to do.
	n2, err := idx.Persist()
	require.NoError(t, err)
	require.Equal(t, 0, n2)

	v, ok, err := idx.Get(8)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(80), v)
}

func TestRemoveLeafNode(t *testing.T) {
	idx := newTestIndex(t)
	for _, k := range []int64{5, 3, 8} {
		require.NoError(t, idx.Set(k, k))
	}

	removed, err := idx.Remove(3)
	require.NoError(t, err)
	require.True(t, removed)

	_, ok, err := idx.Get(3)
	require.NoError(t, err)
	require.False(t, ok)

	keys, err := idx.Keys()
	require.NoError(t, err)
	require.Equal(t, []int64{5, 8}, keys)
}

func TestRemoveNodeWithTwoChildrenPromotesPredecessor(t *testing.T) {
	idx := newTestIndex(t)
	for _, k := range []int64{5, 3, 8, 1, 4, 7, 9} {
		require.NoError(t, idx.Set(k, k))
	}

	removed, err := idx.Remove(5)
	require.NoError(t, err)
	require.True(t, removed)

	keys, err := idx.Keys()
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3, 4, 7, 8, 9}, keys)

	_, ok, err := idx.Get(5)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRemoveMissingKeyIsNoop(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Set(1, "a"))

	removed, err := idx.Remove(42)
	require.NoError(t, err)
	require.False(t, removed)
}

func TestCheckoutByVersionAndBackoff(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Set(1, "v1"))
	require.NoError(t, idx.Set(1, "v2"))
	require.NoError(t, idx.Set(1, "v3"))
	require.Equal(t, 3, idx.History())

	v0 := 0
	old, err := idx.Checkout(&v0, nil)
	require.NoError(t, err)
	v, ok, err := old.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", v)

	backoff := 0
	latest, err := idx.Checkout(nil, &backoff)
	require.NoError(t, err)
	v, ok, err = latest.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v3", v)
}

func TestCheckoutRejectsOutOfRangeVersion(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Set(1, "v1"))

	bad := 99
	_, err := idx.Checkout(&bad, nil)
	require.Error(t, err)
}

func TestCheckoutRequiresVersionOrBackoff(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Set(1, "v1"))

	_, err := idx.Checkout(nil, nil)
	require.Error(t, err)
}

func TestClearResetsRootButKeepsHistory(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Set(1, "a"))
	idx.Clear()

	keys, err := idx.Keys()
	require.NoError(t, err)
	require.Empty(t, keys)
	require.Equal(t, 1, idx.History())
}
