package manager

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embedkv/ignite/pkg/logger"
	"github.com/embedkv/ignite/pkg/options"
)

func testOptions() options.Options {
	opts := options.NewDefaultOptions()
	opts.Pool.Size = 50
	opts.Pool.AllocateOffsetHeader = 10
	return opts
}

func TestOpenBootstrapsEmptyDirectory(t *testing.T) {
	dir := t.TempDir()

	m, err := Open(dir, testOptions(), logger.Noop())
	require.NoError(t, err)
	require.Empty(t, m.Pools())
	require.Empty(t, m.Blocks())
}

func TestAllocateBlockSpansMultiplePools(t *testing.T) {
	dir := t.TempDir()

	m, err := Open(dir, testOptions(), logger.Noop())
	require.NoError(t, err)

	// Pool payload is 40 bytes (50 - 10 header); a 100-byte block must span
	// three pools (40 + 40 + 20).
	blk, err := m.AllocateBlock(100)
	require.NoError(t, err)
	require.Equal(t, int64(100), blk.Size())
	require.Len(t, blk.Segments(), 3)
	require.Len(t, m.Pools(), 3)

	n, err := blk.Write(make([]byte, 100))
	require.NoError(t, err)
	require.Equal(t, 100, n)
}

func TestBlockByIDLooksUpAllocatedBlock(t *testing.T) {
	dir := t.TempDir()

	m, err := Open(dir, testOptions(), logger.Noop())
	require.NoError(t, err)

	blk, err := m.AllocateBlock(10)
	require.NoError(t, err)

	found, ok := m.BlockByID(blk.ID())
	require.True(t, ok)
	require.Equal(t, blk.ID(), found.ID())

	_, ok = m.BlockByID(blk.ID() + 1)
	require.False(t, ok)
}

func TestReopenReconstitutesPoolsAndBlocksIdentically(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()

	m, err := Open(dir, opts, logger.Noop())
	require.NoError(t, err)

	blk, err := m.AllocateBlock(100)
	require.NoError(t, err)
	_, err = blk.Write([]byte(strings.Repeat("0123456789", 10)))
	require.NoError(t, err)

	require.NoError(t, m.Close())

	reopened, err := Open(dir, opts, logger.Noop())
	require.NoError(t, err)

	require.Len(t, reopened.Pools(), len(m.Pools()))
	require.Len(t, reopened.Blocks(), 1)

	reblk, ok := reopened.BlockByID(blk.ID())
	require.True(t, ok)
	require.Equal(t, blk.Size(), reblk.Size())
	require.Len(t, reblk.Segments(), len(blk.Segments()))

	out, err := reblk.Read(0, 10)
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(out))
}

func TestAllocateBlockRejectsNonPositiveSize(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, testOptions(), logger.Noop())
	require.NoError(t, err)

	_, err = m.AllocateBlock(0)
	require.Error(t, err)
}

func TestDestroyRemovesPoolFolderAndManifest(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()

	m, err := Open(dir, opts, logger.Noop())
	require.NoError(t, err)

	_, err = m.AllocateBlock(10)
	require.NoError(t, err)

	require.NoError(t, m.Destroy())

	_, err = os.Stat(m.poolFolder)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(m.blockFile)
	require.True(t, os.IsNotExist(err))

	reopened, err := Open(dir, opts, logger.Noop())
	require.NoError(t, err)
	require.Empty(t, reopened.Pools())
	require.Empty(t, reopened.Blocks())
}
