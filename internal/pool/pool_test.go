package pool

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embedkv/ignite/pkg/logger"
)

func TestOpenFreshPoolStartsAtHeaderWatermark(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool_0")

	p, err := Open(path, 1024, 10, logger.Noop())
	require.NoError(t, err)

	require.Equal(t, uint64(0), p.ID())
	require.Equal(t, int64(10), p.Watermark())
	require.Equal(t, int64(1024-10), p.AllocateLimit())
}

func TestAllocateAdvancesWatermarkAndPersistsHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool_1")

	p, err := Open(path, 1024, 10, logger.Noop())
	require.NoError(t, err)

	seg, err := p.Allocate(50)
	require.NoError(t, err)
	require.Equal(t, int64(10), seg.Start)
	require.Equal(t, int64(60), seg.End)
	require.Equal(t, int64(60), p.Watermark())

	require.NoError(t, p.Unmap())

	reopened, err := Open(path, 1024, 10, logger.Noop())
	require.NoError(t, err)
	require.Equal(t, int64(60), reopened.Watermark())
}

func TestAllocateRejectsOversizedRequest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool_2")

	p, err := Open(path, 100, 10, logger.Noop())
	require.NoError(t, err)

	_, err = p.Allocate(1000)
	require.Error(t, err)
}

func TestWriteAndReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool_3")

	p, err := Open(path, 1024, 10, logger.Noop())
	require.NoError(t, err)

	seg, err := p.Allocate(20)
	require.NoError(t, err)

	require.NoError(t, p.Write(seg.Start, []byte("hello world")))

	out, err := p.Read(seg.Start, 11, false)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(out))
}

func TestWriteOutOfBoundsRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool_4")

	p, err := Open(path, 1024, 10, logger.Noop())
	require.NoError(t, err)

	err = p.Write(5, []byte("x"))
	require.Error(t, err)
}

func TestCloseRemovesBackingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool_5")

	p, err := Open(path, 1024, 10, logger.Noop())
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = Open(path, 1024, 10, logger.Noop())
	require.NoError(t, err) // fresh create succeeds since the old file is gone
}
