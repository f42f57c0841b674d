// Package pool implements MemoryPool: a single file, fixed at size P,
// memory-mapped read-write, with a fixed-width decimal watermark header
// tracking the pool's next allocation offset. Pools are the bottom layer of
// the storage substrate (see spec §4.1); segments (package
// internal/segment) are carved out of a pool's payload region by
// Pool.Allocate, and blocks (package internal/block) stitch segments -
// possibly from several pools - into one logical append-only byte stream.
package pool

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/edsrzf/mmap-go"
	"go.uber.org/zap"

	kverrors "github.com/embedkv/ignite/pkg/errors"
	"github.com/embedkv/ignite/internal/segment"
)

var poolIDPattern = regexp.MustCompile(`pool_(\d+)`)

// Pool maps one fixed-size file read-write via mmap and hands out segments
// by bumping an in-header watermark. Exactly one mapping exists per file,
// matching spec §5's single-writer, single-mapping-per-file resource policy.
type Pool struct {
	mu sync.Mutex

	id      uint64
	path    string
	size    int64
	header  int
	offset  int64
	file    *os.File
	mapping mmap.MMap
	log     *zap.SugaredLogger
}

// Open bootstraps a pool backed by path. If the file is missing or empty it
// is created at the configured size with its payload filled with ASCII '0'
// bytes and the watermark
// pinned at the header width; otherwise the watermark is read back from the
// existing header. Either way the whole file is then mapped read-write.
func Open(path string, size int64, headerWidth int, log *zap.SugaredLogger) (*Pool, error) {
	if size <= int64(headerWidth) {
		return nil, kverrors.NewPreconditionError("pool", "Open",
			"pool size must be greater than the header width").
			WithDetail("size", size).WithDetail("headerWidth", headerWidth)
	}

	id := extractPoolID(path)

	info, statErr := os.Stat(path)
	fresh := statErr != nil || info.Size() == 0

	if fresh {
		if err := createPoolFile(path, size, headerWidth); err != nil {
			return nil, kverrors.NewStorageError(err, kverrors.ErrorCodeIO, "failed to create pool file").
				WithPath(path)
		}
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, kverrors.NewStorageError(err, kverrors.ErrorCodeIO, "failed to open pool file").WithPath(path)
	}

	mapping, err := mmap.Map(file, mmap.RDWR, 0)
	if err != nil {
		file.Close()
		return nil, kverrors.NewStorageError(err, kverrors.ErrorCodeIO, "failed to mmap pool file").WithPath(path)
	}

	offset := int64(headerWidth)
	if !fresh {
		offset, err = readWatermark(mapping, headerWidth)
		if err != nil {
			mapping.Unmap()
			return nil, kverrors.NewCorruptionError("pool", "Open", "failed to parse pool watermark header", err).
				WithDetail("path", path)
		}
	}

	p := &Pool{
		id:      id,
		path:    path,
		size:    size,
		header:  headerWidth,
		offset:  offset,
		file:    file,
		mapping: mapping,
		log:     log,
	}

	log.Infow("opened pool", "id", id, "path", path, "size", size, "watermark", offset, "fresh", fresh)
	return p, nil
}

func createPoolFile(path string, size int64, headerWidth int) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	placeholder := make([]byte, size)
	watermark := []byte(fmt.Sprintf("%0*d", headerWidth, headerWidth))
	copy(placeholder, watermark)
	for i := headerWidth; i < len(placeholder); i++ {
		placeholder[i] = '0'
	}

	_, err = f.Write(placeholder)
	return err
}

func readWatermark(mapping mmap.MMap, headerWidth int) (int64, error) {
	raw := strings.TrimSpace(string(mapping[:headerWidth]))
	return strconv.ParseInt(raw, 10, 64)
}

func extractPoolID(path string) uint64 {
	match := poolIDPattern.FindStringSubmatch(path)
	if match == nil {
		return 0
	}
	id, _ := strconv.ParseUint(match[1], 10, 64)
	return id
}

// ID returns the pool's identifier, extracted from its filename (pool_<id>).
func (p *Pool) ID() uint64 { return p.id }

// Path returns the backing file's path.
func (p *Pool) Path() string { return p.path }

// Size returns the pool's fixed total size P.
func (p *Pool) Size() int64 { return p.size }

// HeaderWidth returns the width, in bytes, of the watermark header.
func (p *Pool) HeaderWidth() int { return p.header }

// Watermark returns the current allocation offset w.
func (p *Pool) Watermark() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offset
}

// AllocateLimit returns how many more bytes this pool can hand out before
// it is full (P - w).
func (p *Pool) AllocateLimit() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size - p.offset
}

// Allocate carves a new segment of n bytes from the pool's free region,
// advancing the watermark and persisting it to the header in place.
func (p *Pool) Allocate(n int64) (segment.Segment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n <= 0 {
		return segment.Segment{}, kverrors.NewPreconditionError("pool", "Allocate",
			"allocation size must be positive").WithDetail("requested", n)
	}
	if p.offset+n > p.size {
		return segment.Segment{}, kverrors.NewPreconditionError("pool", "Allocate",
			"allocation would exceed pool size").
			WithDetail("watermark", p.offset).WithDetail("requested", n).WithDetail("poolSize", p.size)
	}

	start := p.offset
	end := start + n
	p.offset = end
	p.writeWatermarkLocked()

	seg, err := segment.New(p, start, end, n)
	if err != nil {
		return segment.Segment{}, err
	}
	return seg, nil
}

func (p *Pool) writeWatermarkLocked() {
	encoded := fmt.Sprintf("%0*d", p.header, p.offset)
	copy(p.mapping[:p.header], []byte(encoded))
}

// Write stores data at offset, requiring header <= offset and
// offset+len(data) <= watermark - callers may only write into already
// allocated space.
func (p *Pool) Write(offset int64, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if offset < int64(p.header) || offset+int64(len(data)) > p.offset {
		return kverrors.NewPreconditionError("pool", "Write",
			"write out of allocated bounds").
			WithDetail("offset", offset).WithDetail("length", len(data)).WithDetail("watermark", p.offset)
	}

	copy(p.mapping[offset:], data)
	return nil
}

// Read returns up to length bytes starting at offset. If skipHeader is
// true, offset is first shifted past the watermark header before bounds
// checking - the caller is reasoning in coordinates relative to the start of
// the payload region, not raw file coordinates.
func (p *Pool) Read(offset int64, length int, skipHeader bool) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if skipHeader {
		offset += int64(p.header)
	}
	if offset < int64(p.header) || offset >= p.offset {
		return nil, kverrors.NewPreconditionError("pool", "Read",
			"read offset out of allocated bounds").
			WithDetail("offset", offset).WithDetail("watermark", p.offset).WithDetail("header", p.header)
	}

	limit := p.offset - offset
	if int64(length) > limit {
		length = int(limit)
	}

	out := make([]byte, length)
	copy(out, p.mapping[offset:offset+int64(length)])
	return out, nil
}

// Unmap releases the mapping and closes the file descriptor without
// deleting the backing file, leaving it on disk for a later Open to pick
// back up. This is what normal manager/engine shutdown calls.
func (p *Pool) Unmap() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.mapping.Unmap(); err != nil {
		return kverrors.NewStorageError(err, kverrors.ErrorCodeIO, "failed to unmap pool").WithPath(p.path)
	}
	if err := p.file.Close(); err != nil {
		return kverrors.NewStorageError(err, kverrors.ErrorCodeIO, "failed to close pool file").WithPath(p.path)
	}
	return nil
}

// Close unmaps the pool and removes its backing file, permanently
// destroying it. Bootstrap never calls this; it is the explicit destroy
// operation, distinct from the Unmap a graceful shutdown performs.
func (p *Pool) Close() error {
	if err := p.Unmap(); err != nil {
		return err
	}
	if err := os.Remove(p.path); err != nil {
		return kverrors.NewStorageError(err, kverrors.ErrorCodeIO, "failed to remove pool file").WithPath(p.path)
	}
	return nil
}
