// Package segment defines MemorySegment, the smallest unit of allocation in
// the storage substrate: a contiguous, half-open byte range inside exactly
// one pool.
package segment

import "fmt"

// Pool is the subset of *pool.Pool that a Segment needs in order to perform
// reads and writes against the bytes it names. Defined here rather than
// imported from the pool package to avoid a pool <-> segment import cycle;
// pool.Pool satisfies it structurally.
type Pool interface {
	ID() uint64
	Write(offset int64, data []byte) error
	Read(offset int64, length int, skipHeader bool) ([]byte, error)
}

// Segment is a contiguous [Start, End) region inside one pool, handed out by
// Pool.Allocate. It is a trivial value object: all the interesting behavior
// (bounds checking, the actual mmap read/write) lives in the owning Pool.
type Segment struct {
	Pool   Pool
	Start  int64
	End    int64
	Length int64
}

// New constructs a Segment, validating the invariant End - Start == Length.
func New(pool Pool, start, end, length int64) (Segment, error) {
	if end-start != length {
		return Segment{}, fmt.Errorf("segment length mismatch: end-start=%d, length=%d", end-start, length)
	}
	return Segment{Pool: pool, Start: start, End: end, Length: length}, nil
}

func (s Segment) String() string {
	return fmt.Sprintf("pool=%d start=%d end=%d length=%d", s.Pool.ID(), s.Start, s.End, s.Length)
}
