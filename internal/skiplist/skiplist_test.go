package skiplist

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
	return New(store, 64)
}

func TestSetGetEagerlyPersists(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.Set(5, "five"))
	v, ok, err := idx.Get(5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "five", v)

	_, ok, err = idx.Get(99)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOverwriteUpdatesEveryLevel(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Set(1, "a"))
	require.NoError(t, idx.Set(1, "b"))

	v, ok, err := idx.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", v)
}

func TestKeysAreAscending(t *testing.T) {
	idx := newTestIndex(t)
	for _, k := range []int64{5, 3, 8, 1, 4, 7, 9, 2, 6} {
		require.NoError(t, idx.Set(k, k))
	}

	keys, err := idx.Keys()
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9}, keys)
}

func TestRemoveUnlinksAtEveryLevel(t *testing.T) {
	idx := newTestIndex(t)
	for _, k := range []int64{5, 3, 8, 1, 4} {
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
	require.Equal(t, []int64{1, 4, 5, 8}, keys)
}

func TestRemoveMissingKeyIsNoop(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Set(1, "a"))

	removed, err := idx.Remove(42)
	require.NoError(t, err)
	require.False(t, removed)
}

func TestHeightStartsAtOne(t *testing.T) {
	idx := newTestIndex(t)
	require.Equal(t, 1, idx.Height())
}

func TestClearResetsToSingleLevel(t *testing.T) {
	idx := newTestIndex(t)
	for _, k := range []int64{1, 2, 3, 4, 5, 6, 7, 8} {
		require.NoError(t, idx.Set(k, k))
	}
	idx.Clear()

	keys, err := idx.Keys()
	require.NoError(t, err)
	require.Empty(t, keys)
	require.Equal(t, 1, idx.Height())
}

func TestCompactPreservesKeyValuePairs(t *testing.T) {
	idx := newTestIndex(t)
	for _, k := range []int64{5, 3, 8, 1, 4, 7, 9} {
		require.NoError(t, idx.Set(k, k*100))
	}

	// Overwrite a few keys so their earlier records become fragmentation
	// Compact should reclaim.
	require.NoError(t, idx.Set(5, int64(555)))
	require.NoError(t, idx.Set(3, int64(333)))

	before, err := idx.KeyValuePairs()
	require.NoError(t, err)

	require.NoError(t, idx.Compact())

	after, err := idx.KeyValuePairs()
	require.NoError(t, err)
	require.Equal(t, before, after)

	v, ok, err := idx.Get(5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(555), v)
}

// TestCompactUpdatesPromotedLevels guards against a regression where a key
// promoted above level 0 keeps resolving to a stale Address after Compact
// rewrites its block, because Get stops at the first level it finds a match
// on (top to bottom) rather than always consulting level 0.
func TestCompactUpdatesPromotedLevels(t *testing.T) {
	idx := newTestIndex(t)

	for k := int64(0); k < 200; k++ {
		require.NoError(t, idx.Set(k, k*10))
	}

	var promoted int64 = -1
	for n := idx.heads[1].right; n != nil; n = n.right {
		promoted = n.key
		break
	}
	require.NotEqual(t, int64(-1), promoted, "expected at least one key promoted above level 0 across 200 inserts")

	// Overwrite the promoted key and its right neighbor so their earlier
	// records fragment the block Compact will rewrite.
	require.NoError(t, idx.Set(promoted, promoted*999))
	require.NoError(t, idx.Set(promoted+1, (promoted+1)*999))

	require.NoError(t, idx.Compact())

	v, ok, err := idx.Get(promoted)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, promoted*999, v)
}
