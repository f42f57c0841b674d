package value

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embedkv/ignite/internal/manager"
	"github.com/embedkv/ignite/pkg/logger"
	"github.com/embedkv/ignite/pkg/options"
)

func newTestManager(t *testing.T) *manager.Manager {
	t.Helper()
	dir := t.TempDir()
	opts := options.NewDefaultOptions()
	opts.Pool.Size = 4096
	m, err := manager.Open(dir, opts, logger.Noop())
	require.NoError(t, err)
	return m
}

func TestPutGetRoundTripsAString(t *testing.T) {
	store := NewStore(newTestManager(t), 10, 10, nil)

	loc, err := store.Put("hello storage engine")
	require.NoError(t, err)

	got, err := store.Get(loc)
	require.NoError(t, err)
	require.Equal(t, "hello storage engine", got)
}

func TestPutAllocatesAmortizedSpillBlockByScale(t *testing.T) {
	store := NewStore(newTestManager(t), 10, 4, nil)

	loc1, err := store.Put("abc")
	require.NoError(t, err)
	loc2, err := store.Put("def")
	require.NoError(t, err)

	// Same-sized records should share the same spill block while it has room.
	require.Equal(t, loc1.BlockID, loc2.BlockID)

	v1, err := store.Get(loc1)
	require.NoError(t, err)
	v2, err := store.Get(loc2)
	require.NoError(t, err)
	require.Equal(t, "abc", v1)
	require.Equal(t, "def", v2)
}

func TestRawRecordReturnsFramedBytes(t *testing.T) {
	store := NewStore(newTestManager(t), 10, 10, nil)

	loc, err := store.Put("xyz")
	require.NoError(t, err)

	payload, err := GobCodec{}.Encode("xyz")
	require.NoError(t, err)

	raw, err := store.RawRecord(loc)
	require.NoError(t, err)
	require.Equal(t, store.HeaderLength()+len(payload), len(raw))
	require.Equal(t, payload, raw[store.HeaderLength():])
}

func TestGetOnUnknownBlockReturnsCorruptionError(t *testing.T) {
	store := NewStore(newTestManager(t), 10, 10, nil)

	_, err := store.Get(Locator{BlockID: 9999, Address: 0})
	require.Error(t, err)
}

func TestLocatorString(t *testing.T) {
	loc := Locator{BlockID: 3, Address: 42}
	require.Contains(t, loc.String(), "block_id: 3")
	require.Contains(t, loc.String(), "address: 42")
}
