package btree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embedkv/ignite/internal/manager"
	"github.com/embedkv/ignite/internal/value"
	"github.com/embedkv/ignite/pkg/logger"
	"github.com/embedkv/ignite/pkg/options"
)

func newTestIndex(t *testing.T, rank int) *Index {
	t.Helper()
	dir := t.TempDir()
	opts := options.NewDefaultOptions()
	mgr, err := manager.Open(dir, opts, logger.Noop())
	require.NoError(t, err)
	store := value.NewStore(mgr, 10, 10, nil)
	return New(store, rank)
}

func TestSetGetBeforeAnySplit(t *testing.T) {
	idx := newTestIndex(t, 5)

	require.NoError(t, idx.Set(5, "five"))
	require.NoError(t, idx.Set(3, "three"))

	v, ok, err := idx.Get(5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "five", v)

	_, ok, err = idx.Get(99)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOverwriteExistingKey(t *testing.T) {
	idx := newTestIndex(t, 5)
	require.NoError(t, idx.Set(1, "a"))
	require.NoError(t, idx.Set(1, "b"))

	v, ok, err := idx.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", v)
}

func TestKeysAscendingAcrossManySplits(t *testing.T) {
	idx := newTestIndex(t, 3)

	keys := []int64{50, 30, 80, 10, 40, 70, 90, 20, 60, 100, 5, 15, 25, 35, 45, 55, 65, 75, 85, 95}
	for _, k := range keys {
		require.NoError(t, idx.Set(k, k))
	}

	got, err := idx.Keys()
	require.NoError(t, err)

	want := make([]int64, len(keys))
	copy(want, keys)
	for i := 0; i < len(want); i++ {
		for j := i + 1; j < len(want); j++ {
			if want[j] < want[i] {
				want[i], want[j] = want[j], want[i]
			}
		}
	}
	require.Equal(t, want, got)

	for _, k := range keys {
		v, ok, err := idx.Get(k)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, k, v)
	}
}

func TestRemoveAfterManySplitsPreservesOrderAndMembership(t *testing.T) {
	idx := newTestIndex(t, 3)

	keys := []int64{50, 30, 80, 10, 40, 70, 90, 20, 60, 100, 5, 15, 25, 35, 45, 55, 65, 75, 85, 95}
	for _, k := range keys {
		require.NoError(t, idx.Set(k, k))
	}

	toRemove := []int64{50, 10, 95, 60, 5}
	for _, k := range toRemove {
		removed, err := idx.Remove(k)
		require.NoError(t, err)
		require.True(t, removed)
	}

	for _, k := range toRemove {
		_, ok, err := idx.Get(k)
		require.NoError(t, err)
		require.False(t, ok)
	}

	remaining := make(map[int64]bool)
	for _, k := range keys {
		remaining[k] = true
	}
	for _, k := range toRemove {
		delete(remaining, k)
	}

	got, err := idx.Keys()
	require.NoError(t, err)
	require.Len(t, got, len(remaining))

	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1], got[i])
	}
	for _, k := range got {
		require.True(t, remaining[k])
	}
}

func TestRemoveMissingKeyIsNoop(t *testing.T) {
	idx := newTestIndex(t, 5)
	require.NoError(t, idx.Set(1, "a"))

	removed, err := idx.Remove(42)
	require.NoError(t, err)
	require.False(t, removed)
}

func TestRemoveDownToEmpty(t *testing.T) {
	idx := newTestIndex(t, 3)
	keys := []int64{1, 2, 3, 4, 5, 6, 7}
	for _, k := range keys {
		require.NoError(t, idx.Set(k, k))
	}
	for _, k := range keys {
		removed, err := idx.Remove(k)
		require.NoError(t, err)
		require.True(t, removed)
	}

	got, err := idx.Keys()
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestClearResetsToEmptyRoot(t *testing.T) {
	idx := newTestIndex(t, 5)
	require.NoError(t, idx.Set(1, "a"))
	idx.Clear()

	keys, err := idx.Keys()
	require.NoError(t, err)
	require.Empty(t, keys)
}
