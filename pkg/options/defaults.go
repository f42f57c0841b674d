package options

const (
	// DefaultPoolFolder names the subdirectory under a manager's data
	// directory where pool files live.
	DefaultPoolFolder = "pools"

	// DefaultBlockFile names the manifest file recording every allocated
	// block's metadata.
	DefaultBlockFile = "blocks.manifest"

	// DefaultBlockHeaderLength is the width, in bytes, of the decimal
	// length prefix in front of each manifest record.
	DefaultBlockHeaderLength = 10

	// DefaultPoolSize is the size, in bytes, of a newly allocated pool file.
	DefaultPoolSize int64 = 4 * 1024 * 1024

	// DefaultPoolAllocateOffsetHeader is the width, in bytes, of a pool
	// file's watermark header.
	DefaultPoolAllocateOffsetHeader = 10

	// DefaultValueHeaderLength is the width, in bytes, of the decimal
	// length prefix in front of every persisted value record.
	DefaultValueHeaderLength = 10

	// DefaultMemoryAllocateScale multiplies a value's encoded size when an
	// index needs to allocate a fresh spill block.
	DefaultMemoryAllocateScale = 10

	// DefaultCompactBufferLength is the flush threshold, in bytes, used by
	// SkipListIndex.Compact when rewriting a block in address order.
	DefaultCompactBufferLength = 512

	// DefaultBTreeRank is the order of a newly constructed BTreeIndex.
	DefaultBTreeRank = 5
)

// NewDefaultOptions returns an Options populated with every default from
// this file, ready to be overridden selectively via OptionFunc values.
func NewDefaultOptions() Options {
	return Options{
		Manager: ManagerOptions{
			PoolFolder:        DefaultPoolFolder,
			BlockFile:         DefaultBlockFile,
			BlockHeaderLength: DefaultBlockHeaderLength,
		},
		Pool: PoolOptions{
			Size:                 DefaultPoolSize,
			AllocateOffsetHeader: DefaultPoolAllocateOffsetHeader,
		},
		TreeIndex: TreeIndexOptions{
			ValueHeaderLength:   DefaultValueHeaderLength,
			MemoryAllocateScale: DefaultMemoryAllocateScale,
		},
		SkipListIndex: SkipListIndexOptions{
			ValueHeaderLength:   DefaultValueHeaderLength,
			MemoryAllocateScale: DefaultMemoryAllocateScale,
			CompactBufferLength: DefaultCompactBufferLength,
		},
		BTreeIndex: BTreeIndexOptions{
			ValueHeaderLength: DefaultValueHeaderLength,
			Rank:              DefaultBTreeRank,
		},
	}
}
