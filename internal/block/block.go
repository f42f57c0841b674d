// Package block implements MemoryBlock: a logical, append-only byte stream
// assembled from one or more segments, possibly spanning several pools. A
// block is the unit indexes persist values into - see spec §4.2.
package block

import (
	"sync"

	kverrors "github.com/embedkv/ignite/pkg/errors"
	"github.com/embedkv/ignite/internal/segment"
)

// cursor identifies the next byte to be written: which segment, and the
// absolute (pool-relative) offset within it.
type cursor struct {
	segmentIndex int
	offset       int64
}

// Block stitches segment.Segment values into one logical append-only byte
// sequence. Its prefix-sum index over segment lengths lets Read/Rewind
// translate a logical block offset into a (segment, segment-local offset)
// pair via binary search, exactly as spec §4.2 describes.
type Block struct {
	mu sync.Mutex

	id          uint64
	size        int64
	segments    []segment.Segment
	prefixSums  []int64
	cur         cursor
}

// New constructs a Block from an ordered list of segments, computing the
// cumulative prefix sums and starting the write cursor at the very first
// byte of the first segment.
func New(id uint64, size int64, segments []segment.Segment) *Block {
	prefix := make([]int64, len(segments))
	var running int64
	for i, seg := range segments {
		running += seg.Length
		prefix[i] = running
	}

	return &Block{
		id:         id,
		size:       size,
		segments:   segments,
		prefixSums: prefix,
		cur:        cursor{segmentIndex: 0, offset: firstSegmentStart(segments)},
	}
}

func firstSegmentStart(segments []segment.Segment) int64 {
	if len(segments) == 0 {
		return 0
	}
	return segments[0].Start
}

// ID returns the block's identifier.
func (b *Block) ID() uint64 { return b.id }

// Size returns the block's total logical size B.
func (b *Block) Size() int64 { return b.size }

// Segments returns the ordered segments backing this block.
func (b *Block) Segments() []segment.Segment {
	return b.segments
}

// UsedMemory returns how many bytes have been written (i.e. the current
// logical write offset).
func (b *Block) UsedMemory() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentOffsetLocked()
}

// FreeMemory returns how many bytes remain before the block is full.
func (b *Block) FreeMemory() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size - b.currentOffsetLocked()
}

// CurrentOffset returns the block's current logical write position.
func (b *Block) CurrentOffset() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentOffsetLocked()
}

func (b *Block) currentOffsetLocked() int64 {
	if b.cur.segmentIndex >= len(b.segments) {
		return b.size
	}
	var base int64
	if b.cur.segmentIndex > 0 {
		base = b.prefixSums[b.cur.segmentIndex-1]
	}
	seg := b.segments[b.cur.segmentIndex]
	return base + (b.cur.offset - seg.Start)
}

// Write appends data to the block, spilling across segment boundaries (and
// therefore possibly pool boundaries) as needed. Requires
// len(data) <= FreeMemory(); returns the number of bytes written.
func (b *Block) Write(data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	free := b.size - b.currentOffsetLocked()
	if int64(len(data)) > free {
		return 0, kverrors.NewPreconditionError("block", "Write",
			"write exceeds block free memory").
			WithDetail("requested", len(data)).WithDetail("free", free)
	}

	written := 0
	remaining := len(data)
	for remaining > 0 && b.cur.segmentIndex < len(b.segments) {
		seg := b.segments[b.cur.segmentIndex]
		segFree := seg.End - b.cur.offset

		chunk := remaining
		if int64(chunk) > segFree {
			chunk = int(segFree)
		}

		if err := seg.Pool.Write(b.cur.offset, data[written:written+chunk]); err != nil {
			return written, err
		}

		b.cur.offset += int64(chunk)
		written += chunk
		remaining -= chunk

		if b.cur.offset >= seg.End {
			b.cur.segmentIndex++
			if b.cur.segmentIndex < len(b.segments) {
				b.cur.offset = b.segments[b.cur.segmentIndex].Start
			} else {
				b.cur.offset = 0
			}
		}
	}

	return written, nil
}

// Read gathers length bytes starting at the logical offset, binary-searching
// the prefix-sum index to find the starting segment and then walking
// forward through subsequent segments until length bytes have been
// collected or the block is exhausted.
func (b *Block) Read(offset int64, length int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if offset < 0 || length < 0 {
		return nil, kverrors.NewPreconditionError("block", "Read", "offset and length must be non-negative").
			WithDetail("offset", offset).WithDetail("length", length)
	}

	idx := b.locate(offset)
	localOffset := offset
	if idx > 0 {
		localOffset -= b.prefixSums[idx-1]
	}

	out := make([]byte, 0, length)
	remaining := length
	for idx < len(b.segments) && remaining > 0 {
		seg := b.segments[idx]
		// localOffset is relative to this segment's start; translate to an
		// absolute pool offset so Pool.Read (skipHeader=false) addresses the
		// right bytes regardless of where in the pool this segment sits.
		data, err := seg.Pool.Read(seg.Start+localOffset, remaining, false)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
		idx++
		localOffset = 0
		remaining -= len(data)
		if len(data) == 0 {
			break
		}
	}
	return out, nil
}

// Rewind repositions the write cursor to the logical position offset,
// enabling in-place overwrite (used by SkipListIndex.Compact). It does not
// zero any bytes beyond the new cursor.
func (b *Block) Rewind(offset int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if offset < 0 || offset >= b.size {
		return kverrors.NewPreconditionError("block", "Rewind", "rewind offset out of range").
			WithDetail("offset", offset).WithDetail("size", b.size)
	}

	idx := b.locate(offset)
	localOffset := offset
	if idx > 0 {
		localOffset -= b.prefixSums[idx-1]
	}

	b.cur.segmentIndex = idx
	b.cur.offset = b.segments[idx].Start + localOffset
	return nil
}

// locate returns the index of the first segment whose running prefix sum
// is >= offset+1, i.e. the segment containing the logical byte at offset.
func (b *Block) locate(offset int64) int {
	low, high := 0, len(b.prefixSums)
	for low < high {
		mid := low + (high-low)/2
		if b.prefixSums[mid] < offset+1 {
			low = mid + 1
		} else {
			high = mid
		}
	}
	if low >= len(b.segments) {
		low = len(b.segments) - 1
	}
	return low
}
