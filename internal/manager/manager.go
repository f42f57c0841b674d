// Package manager implements MemoryManager: it owns every pool and block the
// storage engine has allocated, bootstraps them from a pool folder and a
// block manifest file on construction, and is the only thing indexes ever
// ask for fresh storage.
package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/embedkv/ignite/internal/block"
	"github.com/embedkv/ignite/internal/pool"
	"github.com/embedkv/ignite/internal/segment"
	kverrors "github.com/embedkv/ignite/pkg/errors"
	"github.com/embedkv/ignite/pkg/filesys"
	"github.com/embedkv/ignite/pkg/options"
)

var poolFilePattern = regexp.MustCompile(`^pool_(\d+)$`)

// Manager bootstraps and owns every pool and block backing one storage
// directory. Invariants (spec §4.3): at most one pool has allocate_limit > 0,
// and if one exists it is the last element of the pool list; block_dict[id]
// always matches the block of that id in the block list.
type Manager struct {
	mu sync.Mutex

	opts options.Options
	log  *zap.SugaredLogger

	poolFolder string
	blockFile  string

	pools   []*pool.Pool
	poolMap map[uint64]*pool.Pool

	blocks   []*block.Block
	blockMap map[uint64]*block.Block

	nextPoolID  uint64
	nextBlockID uint64
}

// Open bootstraps a Manager rooted at dir, creating the pool folder and
// manifest file if they don't already exist, or reconstituting every pool
// and block they already describe otherwise.
func Open(dir string, opts options.Options, log *zap.SugaredLogger) (*Manager, error) {
	poolFolder := opts.Manager.PoolFolder
	if !filepath.IsAbs(poolFolder) {
		poolFolder = filepath.Join(dir, poolFolder)
	}
	blockFile := opts.Manager.BlockFile
	if !filepath.IsAbs(blockFile) {
		blockFile = filepath.Join(dir, blockFile)
	}

	m := &Manager{
		opts:       opts,
		log:        log,
		poolFolder: poolFolder,
		blockFile:  blockFile,
		poolMap:    make(map[uint64]*pool.Pool),
		blockMap:   make(map[uint64]*block.Block),
	}

	if err := m.bootstrapPools(); err != nil {
		return nil, err
	}
	if err := m.bootstrapBlocks(); err != nil {
		return nil, err
	}

	log.Infow("manager bootstrapped",
		"poolFolder", poolFolder, "blockFile", blockFile,
		"pools", len(m.pools), "blocks", len(m.blocks),
	)
	return m, nil
}

func (m *Manager) bootstrapPools() error {
	if err := filesys.CreateDir(m.poolFolder, 0755, true); err != nil {
		return kverrors.NewStorageError(err, kverrors.ErrorCodeIO, "failed to create pool folder").
			WithPath(m.poolFolder)
	}

	entries, err := os.ReadDir(m.poolFolder)
	if err != nil {
		return kverrors.NewStorageError(err, kverrors.ErrorCodeIO, "failed to read pool folder").
			WithPath(m.poolFolder)
	}

	var maxPoolID int64 = -1
	var notFull *pool.Pool
	full := make([]*pool.Pool, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := poolFilePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}

		id, _ := strconv.ParseUint(match[1], 10, 64)
		path := filepath.Join(m.poolFolder, entry.Name())
		p, err := pool.Open(path, m.opts.Pool.Size, m.opts.Pool.AllocateOffsetHeader, m.log)
		if err != nil {
			return err
		}

		if p.AllocateLimit() > 0 {
			if notFull != nil {
				return kverrors.NewCorruptionError("manager", "bootstrapPools",
					"more than one pool has remaining allocate capacity", nil).
					WithDetail("poolFolder", m.poolFolder)
			}
			notFull = p
		} else {
			full = append(full, p)
		}

		if int64(id) > maxPoolID {
			maxPoolID = int64(id)
		}
	}

	m.pools = full
	if notFull != nil {
		m.pools = append(m.pools, notFull)
	}
	for _, p := range m.pools {
		m.poolMap[p.ID()] = p
	}
	m.nextPoolID = uint64(maxPoolID + 1)
	return nil
}

func (m *Manager) bootstrapBlocks() error {
	if _, err := os.Stat(m.blockFile); os.IsNotExist(err) {
		f, err := os.Create(m.blockFile)
		if err != nil {
			return kverrors.NewStorageError(err, kverrors.ErrorCodeIO, "failed to create manifest file").
				WithPath(m.blockFile)
		}
		f.Close()
	}

	raw, err := os.ReadFile(m.blockFile)
	if err != nil {
		return kverrors.NewStorageError(err, kverrors.ErrorCodeIO, "failed to read manifest file").
			WithPath(m.blockFile)
	}

	m.blocks = nil
	header := m.opts.Manager.BlockHeaderLength

	var index int
	for index < len(raw) {
		if index+header > len(raw) {
			return kverrors.NewCorruptionError("manager", "bootstrapBlocks",
				"manifest truncated mid-record-header", nil).WithDetail("path", m.blockFile)
		}

		lengthField := strings.TrimSpace(string(raw[index : index+header]))
		recordLength, err := strconv.Atoi(lengthField)
		if err != nil {
			return kverrors.NewCorruptionError("manager", "bootstrapBlocks",
				"manifest record length header unparsable", err).WithDetail("path", m.blockFile)
		}

		start := index + header
		end := start + recordLength
		if end > len(raw) {
			return kverrors.NewCorruptionError("manager", "bootstrapBlocks",
				"manifest record body truncated", nil).WithDetail("path", m.blockFile)
		}

		b, err := m.decodeBlockRecord(raw[start:end])
		if err != nil {
			return err
		}

		m.blocks = append(m.blocks, b)
		m.blockMap[b.ID()] = b
		if b.ID()+1 > m.nextBlockID {
			m.nextBlockID = b.ID() + 1
		}

		index = end
	}

	return nil
}

// encodeBlockRecord deterministically captures (block_id, block_size,
// segments) as plain decimal text, naming segments by pool id rather than by
// mapping handle so the record can be replayed against freshly opened pools.
// Layout: "<id>,<size>,<nsegments>;<pool_id>,<start>,<end>,<length>|..."
func encodeBlockRecord(id uint64, size int64, segments []segment.Segment) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d,%d,%d;", id, size, len(segments))
	for i, seg := range segments {
		if i > 0 {
			sb.WriteByte('|')
		}
		fmt.Fprintf(&sb, "%d,%d,%d,%d", seg.Pool.ID(), seg.Start, seg.End, seg.Length)
	}
	return []byte(sb.String())
}

func (m *Manager) decodeBlockRecord(raw []byte) (*block.Block, error) {
	text := string(raw)
	head, rest, ok := strings.Cut(text, ";")
	if !ok {
		return nil, kverrors.NewCorruptionError("manager", "decodeBlockRecord",
			"manifest record missing header/segment separator", nil)
	}

	fields := strings.Split(head, ",")
	if len(fields) != 3 {
		return nil, kverrors.NewCorruptionError("manager", "decodeBlockRecord",
			"manifest record header malformed", nil).WithDetail("header", head)
	}

	id, err1 := strconv.ParseUint(fields[0], 10, 64)
	size, err2 := strconv.ParseInt(fields[1], 10, 64)
	nsegments, err3 := strconv.Atoi(fields[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, kverrors.NewCorruptionError("manager", "decodeBlockRecord",
			"manifest record header contains unparsable integers", nil).WithDetail("header", head)
	}

	segments := make([]segment.Segment, 0, nsegments)
	if rest != "" {
		for _, part := range strings.Split(rest, "|") {
			sfields := strings.Split(part, ",")
			if len(sfields) != 4 {
				return nil, kverrors.NewCorruptionError("manager", "decodeBlockRecord",
					"manifest segment entry malformed", nil).WithDetail("entry", part)
			}
			poolID, e1 := strconv.ParseUint(sfields[0], 10, 64)
			start, e2 := strconv.ParseInt(sfields[1], 10, 64)
			end, e3 := strconv.ParseInt(sfields[2], 10, 64)
			length, e4 := strconv.ParseInt(sfields[3], 10, 64)
			if e1 != nil || e2 != nil || e3 != nil || e4 != nil {
				return nil, kverrors.NewCorruptionError("manager", "decodeBlockRecord",
					"manifest segment entry contains unparsable integers", nil).WithDetail("entry", part)
			}

			p, found := m.poolMap[poolID]
			if !found {
				return nil, kverrors.NewCorruptionError("manager", "decodeBlockRecord",
					"block references a pool id that does not exist", nil).WithDetail("poolId", poolID)
			}

			seg, err := segment.New(p, start, end, length)
			if err != nil {
				return nil, kverrors.NewCorruptionError("manager", "decodeBlockRecord",
					"segment length invariant violated", err)
			}
			segments = append(segments, seg)
		}
	}

	if len(segments) != nsegments {
		return nil, kverrors.NewCorruptionError("manager", "decodeBlockRecord",
			"manifest segment count mismatch", nil).
			WithDetail("declared", nsegments).WithDetail("actual", len(segments))
	}

	return block.New(id, size, segments), nil
}

// Pools returns every pool the manager currently owns, in bootstrap order.
func (m *Manager) Pools() []*pool.Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*pool.Pool, len(m.pools))
	copy(out, m.pools)
	return out
}

// Blocks returns every block the manager currently owns, in allocation order.
func (m *Manager) Blocks() []*block.Block {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*block.Block, len(m.blocks))
	copy(out, m.blocks)
	return out
}

// BlockByID looks up a previously allocated block, returning ok=false if no
// block with that id exists.
func (m *Manager) BlockByID(id uint64) (*block.Block, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blockMap[id]
	return b, ok
}

// AllocateBlock carves out a new block of exactly size bytes, greedily
// consuming whatever room remains in the last pool before opening fresh
// pools for the remainder, then appends the block's encoded metadata to the
// manifest file (spec §4.3). The block is never freed once allocated.
func (m *Manager) AllocateBlock(size int64) (*block.Block, error) {
	if size <= 0 {
		return nil, kverrors.NewPreconditionError("manager", "AllocateBlock",
			"block size must be positive").WithDetail("size", size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var segments []segment.Segment
	remaining := size

	for remaining > 0 {
		if len(m.pools) == 0 || m.pools[len(m.pools)-1].AllocateLimit() == 0 {
			if err := m.allocateNewPoolLocked(); err != nil {
				return nil, err
			}
		}

		current := m.pools[len(m.pools)-1]
		limit := current.AllocateLimit()

		if remaining <= limit {
			seg, err := current.Allocate(remaining)
			if err != nil {
				return nil, err
			}
			segments = append(segments, seg)
			remaining = 0
		} else {
			seg, err := current.Allocate(limit)
			if err != nil {
				return nil, err
			}
			segments = append(segments, seg)
			remaining -= limit
			if err := m.allocateNewPoolLocked(); err != nil {
				return nil, err
			}
		}
	}

	id := m.nextBlockID
	m.nextBlockID++

	b := block.New(id, size, segments)
	if err := m.appendManifestRecordLocked(b); err != nil {
		return nil, err
	}

	m.blocks = append(m.blocks, b)
	m.blockMap[id] = b

	m.log.Infow("allocated block", "blockId", id, "size", size, "segments", len(segments))
	return b, nil
}

func (m *Manager) allocateNewPoolLocked() error {
	path := filepath.Join(m.poolFolder, fmt.Sprintf("pool_%d", m.nextPoolID))
	p, err := pool.Open(path, m.opts.Pool.Size, m.opts.Pool.AllocateOffsetHeader, m.log)
	if err != nil {
		return err
	}
	m.pools = append(m.pools, p)
	m.poolMap[p.ID()] = p
	m.nextPoolID++
	return nil
}

func (m *Manager) appendManifestRecordLocked(b *block.Block) error {
	record := encodeBlockRecord(b.ID(), b.Size(), b.Segments())

	f, err := os.OpenFile(m.blockFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return kverrors.NewStorageError(err, kverrors.ErrorCodeIO, "failed to open manifest file for append").
			WithPath(m.blockFile)
	}
	defer f.Close()

	header := fmt.Sprintf("%0*d", m.opts.Manager.BlockHeaderLength, len(record))
	if _, err := f.WriteString(header); err != nil {
		return kverrors.NewStorageError(err, kverrors.ErrorCodeIO, "failed to write manifest record header").
			WithPath(m.blockFile)
	}
	if _, err := f.Write(record); err != nil {
		return kverrors.NewStorageError(err, kverrors.ErrorCodeIO, "failed to write manifest record body").
			WithPath(m.blockFile)
	}
	return nil
}

// Close unmaps every pool this manager owns without deleting any backing
// file, so a subsequent Open against the same directory reconstitutes the
// same pools and blocks (spec §9's reboot-identical-state guarantee).
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.pools {
		if err := p.Unmap(); err != nil {
			return err
		}
	}
	return nil
}

// Destroy permanently removes every pool file, the pool folder itself, and
// the block manifest this manager owns. Unlike Close, a subsequent Open
// against the same directory starts from nothing. This mirrors Pool's own
// Unmap/Close split one level up.
func (m *Manager) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.pools {
		if err := p.Close(); err != nil {
			return err
		}
	}

	if err := filesys.DeleteDir(m.poolFolder); err != nil {
		return kverrors.NewStorageError(err, kverrors.ErrorCodeIO, "failed to remove pool folder").
			WithPath(m.poolFolder)
	}
	if err := os.Remove(m.blockFile); err != nil && !os.IsNotExist(err) {
		return kverrors.NewStorageError(err, kverrors.ErrorCodeIO, "failed to remove manifest file").
			WithPath(m.blockFile)
	}
	return nil
}
