package block

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embedkv/ignite/internal/pool"
	"github.com/embedkv/ignite/internal/segment"
	"github.com/embedkv/ignite/pkg/logger"
)

func TestReadWriteWithinSingleSegment(t *testing.T) {
	dir := t.TempDir()
	p, err := pool.Open(filepath.Join(dir, "pool_0"), 1024, 10, logger.Noop())
	require.NoError(t, err)

	seg, err := p.Allocate(100)
	require.NoError(t, err)

	b := New(1, 100, []segment.Segment{seg})
	n, err := b.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	out, err := b.Read(0, 5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(out))
	require.Equal(t, int64(5), b.CurrentOffset())
	require.Equal(t, int64(95), b.FreeMemory())
}

func TestWriteSpansMultipleSegmentsAcrossPools(t *testing.T) {
	dir := t.TempDir()
	p1, err := pool.Open(filepath.Join(dir, "pool_0"), 2048, 10, logger.Noop())
	require.NoError(t, err)
	p2, err := pool.Open(filepath.Join(dir, "pool_1"), 1024, 10, logger.Noop())
	require.NoError(t, err)

	// Exhaust most of p1 first so the segment allocated for this block does
	// not start at p1's header - exercising the segment.Start offset
	// translation in Read.
	_, err = p1.Allocate(1000)
	require.NoError(t, err)

	seg1, err := p1.Allocate(10)
	require.NoError(t, err)
	seg2, err := p2.Allocate(10)
	require.NoError(t, err)

	b := New(1, 20, []segment.Segment{seg1, seg2})
	payload := []byte("abcdefghijklmnopqrst") // 20 bytes
	n, err := b.Write(payload)
	require.NoError(t, err)
	require.Equal(t, 20, n)

	out, err := b.Read(0, 20)
	require.NoError(t, err)
	require.Equal(t, string(payload), string(out))

	// The tail half must have actually landed in the second pool.
	tail, err := seg2.Pool.Read(seg2.Start, 10, false)
	require.NoError(t, err)
	require.Equal(t, "klmnopqrst", string(tail))
}

func TestRewindRepositionsCursorForOverwrite(t *testing.T) {
	dir := t.TempDir()
	p, err := pool.Open(filepath.Join(dir, "pool_0"), 1024, 10, logger.Noop())
	require.NoError(t, err)

	seg, err := p.Allocate(50)
	require.NoError(t, err)

	b := New(1, 50, []segment.Segment{seg})
	_, err = b.Write([]byte("0123456789"))
	require.NoError(t, err)

	require.NoError(t, b.Rewind(2))
	_, err = b.Write([]byte("XYZ"))
	require.NoError(t, err)

	out, err := b.Read(0, 10)
	require.NoError(t, err)
	require.Equal(t, "01XYZ56789", string(out))
}

func TestWriteExceedingFreeMemoryRejected(t *testing.T) {
	dir := t.TempDir()
	p, err := pool.Open(filepath.Join(dir, "pool_0"), 1024, 10, logger.Noop())
	require.NoError(t, err)

	seg, err := p.Allocate(5)
	require.NoError(t, err)

	b := New(1, 5, []segment.Segment{seg})
	_, err = b.Write([]byte("too long"))
	require.Error(t, err)
}
