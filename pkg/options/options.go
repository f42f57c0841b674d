// Package options provides the typed configuration surface for the storage
// engine and its three index implementations. Parsing an actual INI file
// into this struct is an external collaborator's job (this package only
// describes the parameters it validates and defaults); see spec §6 for the
// section/key/value table this mirrors.
package options

import (
	kverrors "github.com/embedkv/ignite/pkg/errors"
)

// ManagerOptions configures the MemoryManager: where pool files and the
// block manifest live, and how wide the manifest's record-length prefix is.
type ManagerOptions struct {
	// PoolFolder is the directory holding pool_<id> files.
	PoolFolder string `json:"poolFolder"`

	// BlockFile is the path to the append-only block manifest.
	BlockFile string `json:"blockFile"`

	// BlockHeaderLength is the width, in bytes, of the decimal length
	// prefix in front of each manifest record. Default 10.
	BlockHeaderLength int `json:"blockHeaderLength"`
}

// PoolOptions configures every MemoryPool the manager allocates.
type PoolOptions struct {
	// Size is the fixed size, in bytes, of a pool file (P in spec §4.1).
	Size int64 `json:"poolSize"`

	// AllocateOffsetHeader is the width, in bytes, of the in-pool
	// watermark header (H in spec §4.1). Must satisfy Size > header width.
	AllocateOffsetHeader int `json:"poolAllocateOffsetHeader"`
}

// TreeIndexOptions configures BSTIndex's value persistence policy.
type TreeIndexOptions struct {
	// ValueHeaderLength is the width of a persisted value's decimal length
	// prefix.
	ValueHeaderLength int `json:"valueHeaderLength"`

	// MemoryAllocateScale multiplies an encoded value's size when a fresh
	// spill block is needed.
	MemoryAllocateScale int `json:"memoryAllocateScale"`
}

// SkipListIndexOptions configures SkipListIndex's value persistence policy
// and compaction behavior.
type SkipListIndexOptions struct {
	ValueHeaderLength   int `json:"valueHeaderLength"`
	MemoryAllocateScale int `json:"memoryAllocateScale"`

	// CompactBufferLength is the flush threshold, in bytes, Compact uses
	// when rewriting a block in address order.
	CompactBufferLength int `json:"blockCompactBufferLength"`
}

// BTreeIndexOptions configures BTreeIndex's value persistence policy and
// branching factor.
type BTreeIndexOptions struct {
	ValueHeaderLength int `json:"valueHeaderLength"`

	// Rank is the B-tree order r (spec §4.6): any node, the root included,
	// splits as soon as it holds Rank keys, so at most Rank-1 keys remain
	// in a node between operations. Default 5.
	Rank int `json:"rank"`
}

// Options aggregates every configuration section the storage engine and its
// indexes consume.
type Options struct {
	Manager       ManagerOptions       `json:"manager"`
	Pool          PoolOptions          `json:"pool"`
	TreeIndex     TreeIndexOptions     `json:"treeIndex"`
	SkipListIndex SkipListIndexOptions `json:"skipListIndex"`
	BTreeIndex    BTreeIndexOptions    `json:"btreeIndex"`
}

// OptionFunc mutates an Options in place; used to layer overrides onto
// NewDefaultOptions() the way the teacher's functional-options pattern does.
type OptionFunc func(*Options)

// WithPoolFolder overrides the directory pool files are stored in.
func WithPoolFolder(folder string) OptionFunc {
	return func(o *Options) {
		if folder != "" {
			o.Manager.PoolFolder = folder
		}
	}
}

// WithBlockFile overrides the manifest file path.
func WithBlockFile(path string) OptionFunc {
	return func(o *Options) {
		if path != "" {
			o.Manager.BlockFile = path
		}
	}
}

// WithPoolSize overrides the fixed pool file size.
func WithPoolSize(size int64) OptionFunc {
	return func(o *Options) {
		if size > 0 {
			o.Pool.Size = size
		}
	}
}

// WithBTreeRank overrides BTreeIndex's branching factor.
func WithBTreeRank(rank int) OptionFunc {
	return func(o *Options) {
		if rank >= 3 {
			o.BTreeIndex.Rank = rank
		}
	}
}

// Validate checks the numeric invariants spec §4.1 and §4.6 require,
// returning a descriptive error instead of letting a misconfigured Options
// surface as a confusing panic deep inside the storage substrate.
func (o Options) Validate() error {
	if o.Pool.Size <= int64(o.Pool.AllocateOffsetHeader) {
		return kverrors.NewFieldRangeError(
			"pool.size", o.Pool.Size, int64(o.Pool.AllocateOffsetHeader)+1, nil,
		).WithMessage("pool size must be greater than the pool header size")
	}
	if o.Manager.BlockHeaderLength <= 0 {
		return kverrors.NewConfigurationValidationError(
			"manager.blockHeaderLength", "must be positive",
		).WithProvided(o.Manager.BlockHeaderLength)
	}
	if o.BTreeIndex.Rank < 3 {
		return kverrors.NewFieldRangeError(
			"btreeIndex.rank", o.BTreeIndex.Rank, 3, nil,
		).WithMessage("btree rank must be at least 3")
	}
	return nil
}
