package segment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakePool struct{ id uint64 }

func (f *fakePool) ID() uint64                                  { return f.id }
func (f *fakePool) Write(offset int64, data []byte) error       { return nil }
func (f *fakePool) Read(offset int64, length int, skipHeader bool) ([]byte, error) { return nil, nil }

func TestNewValidatesLengthInvariant(t *testing.T) {
	p := &fakePool{id: 3}

	seg, err := New(p, 10, 20, 10)
	require.NoError(t, err)
	require.Equal(t, int64(10), seg.Start)
	require.Equal(t, int64(20), seg.End)
	require.Equal(t, int64(10), seg.Length)

	_, err = New(p, 10, 20, 5)
	require.Error(t, err)
}

func TestString(t *testing.T) {
	p := &fakePool{id: 7}
	seg, err := New(p, 0, 100, 100)
	require.NoError(t, err)
	require.Contains(t, seg.String(), "pool=7")
	require.Contains(t, seg.String(), "start=0")
	require.Contains(t, seg.String(), "end=100")
}
