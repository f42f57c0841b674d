// Package skiplist implements SkipListIndex: a probabilistic ordered map
// whose entries are eagerly persisted to disk (unlike BSTIndex, there is
// no in-memory-until-persist() stage here) and which
// supports compacting a block's fragmented records back into contiguous
// storage.
package skiplist

import (
	"math/rand"
	"sort"

	"github.com/embedkv/ignite/internal/index"
	"github.com/embedkv/ignite/internal/manager"
	"github.com/embedkv/ignite/internal/value"
	kverrors "github.com/embedkv/ignite/pkg/errors"
)

// sentinelKey marks a level's dummy head node; no real key ever equals it.
const sentinelKey = -1

// node.value is a pointer shared by every per-level node inserted for the
// same key, mirroring the Python original where node_value is a single
// shared object reference across levels. Compact mutates the pointee
// in place so a rewrite is visible from every level without re-walking them.
type node struct {
	key   int64
	value *value.Locator
	right *node
	down  *node
}

// Index is a SkipListIndex instance.
type Index struct {
	store *value.Store
	heads []*node // heads[0] is the bottom level's dummy head, heads[len-1] the top.

	compactBufferLength int
}

var _ index.Index = (*Index)(nil)

// New constructs an empty, single-level SkipListIndex persisting values
// through store, flushing compaction buffers at compactBufferLength bytes.
func New(store *value.Store, compactBufferLength int) *Index {
	return &Index{
		store:               store,
		heads:               []*node{{key: sentinelKey}},
		compactBufferLength: compactBufferLength,
	}
}

// NewWithManager is a convenience constructor building its own Store from
// the given header length and allocate scale, with the default codec.
func NewWithManager(mgr *manager.Manager, headerLength, allocateScale, compactBufferLength int) *Index {
	return New(value.NewStore(mgr, headerLength, allocateScale, nil), compactBufferLength)
}

func (idx *Index) randomLevel() int {
	level := 0
	for rand.Float64() <= 0.5 {
		level++
	}
	return level
}

// Set persists value, then descends from the top level recording the
// rightmost node whose key is less than key at each level (top to bottom). If key
// already exists at the bottom level, every level holding it has its value
// overwritten. Otherwise a new node is spliced in at levels 0..L, drawing
// fresh dummy head levels as needed when L reaches a new height.
func (idx *Index) Set(key int64, val any) error {
	loc, err := idx.store.Put(val)
	if err != nil {
		return err
	}

	predecessors := idx.search(key)

	if predecessors[0].right != nil && predecessors[0].right.key == key {
		*predecessors[0].right.value = loc
		return nil
	}

	level := idx.randomLevel()
	shared := &loc
	var previous *node
	for lvl := 0; lvl <= level; lvl++ {
		n := &node{key: key, value: shared}
		if lvl < len(predecessors) {
			n.right = predecessors[lvl].right
			predecessors[lvl].right = n
		} else {
			newHead := &node{key: sentinelKey}
			newHead.right = n
			newHead.down = idx.heads[len(idx.heads)-1]
			idx.heads = append(idx.heads, newHead)
		}
		if previous != nil {
			n.down = previous
		}
		previous = n
	}
	return nil
}

// search descends from the top head, walking right while the next node's
// key is less than key, and records the rightmost-not-past node at each
// level (top to bottom in iteration order, then reversed so index 0 is the
// bottom level).
func (idx *Index) search(key int64) []*node {
	var predecessors []*node
	current := idx.heads[len(idx.heads)-1]
	for current != nil {
		for current.right != nil && current.right.key < key {
			current = current.right
		}
		predecessors = append(predecessors, current)
		current = current.down
	}
	for i, j := 0, len(predecessors)-1; i < j; i, j = i+1, j-1 {
		predecessors[i], predecessors[j] = predecessors[j], predecessors[i]
	}
	return predecessors
}

// Get performs a standard skip-list search from the top head, decoding the
// matching node's persisted value.
func (idx *Index) Get(key int64) (any, bool, error) {
	current := idx.heads[len(idx.heads)-1]
	for current != nil {
		for current.right != nil && current.right.key < key {
			current = current.right
		}
		if current.right != nil && current.right.key == key {
			v, err := idx.store.Get(*current.right.value)
			if err != nil {
				return nil, false, err
			}
			return v, true, nil
		}
		current = current.down
	}
	return nil, false, nil
}

// Remove unlinks key at every level it appears in, then pops empty top
// levels until the topmost level has a real entry or only one level
// remains.
func (idx *Index) Remove(key int64) (bool, error) {
	current := idx.heads[len(idx.heads)-1]
	var predecessors []*node
	for current != nil {
		for current.right != nil && current.right.key < key {
			current = current.right
		}
		predecessors = append(predecessors, current)
		current = current.down
	}

	found := false
	for _, pred := range predecessors {
		if pred.right != nil && pred.right.key == key {
			pred.right = pred.right.right
			found = true
		}
	}

	for idx.heads[len(idx.heads)-1].right == nil && len(idx.heads) > 1 {
		idx.heads = idx.heads[:len(idx.heads)-1]
	}

	return found, nil
}

// Keys walks the bottom level left to right, returning every key in
// ascending order.
func (idx *Index) Keys() ([]int64, error) {
	var keys []int64
	for n := idx.heads[0].right; n != nil; n = n.right {
		keys = append(keys, n.key)
	}
	return keys, nil
}

// KeyValuePairs walks the bottom level, decoding each entry's persisted
// value.
func (idx *Index) KeyValuePairs() ([]index.KeyValuePair, error) {
	var pairs []index.KeyValuePair
	for n := idx.heads[0].right; n != nil; n = n.right {
		v, err := idx.store.Get(*n.value)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, index.KeyValuePair{Key: n.key, Value: v})
	}
	return pairs, nil
}

// Clear resets the index to a single, empty level.
func (idx *Index) Clear() {
	idx.heads = []*node{{key: sentinelKey}}
}

// Height returns the current number of levels.
func (idx *Index) Height() int {
	return len(idx.heads)
}

// compactEntry wraps a bottom-level node for sorting by its record's
// current address within one block.
type compactEntry struct {
	n *node
}

// Compact rewrites every block referenced at level 0, in address-ascending
// order of its live records, back to a contiguous prefix, reclaiming
// space fragmented by overwritten or removed entries. Entries removed from
// level 0 are simply never rewritten; bytes beyond the new cursor are left
// for a later allocation to overwrite. Compaction never moves a value to a
// different block.
func (idx *Index) Compact() error {
	byBlock := make(map[uint64][]*compactEntry)
	for n := idx.heads[0].right; n != nil; n = n.right {
		byBlock[n.value.BlockID] = append(byBlock[n.value.BlockID], &compactEntry{n: n})
	}

	mgr := idx.store.Manager()
	header := idx.store.HeaderLength()

	for blockID, entries := range byBlock {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].n.value.Address < entries[j].n.value.Address
		})

		blk, ok := mgr.BlockByID(blockID)
		if !ok {
			return kverrors.NewStructureError(nil, kverrors.ErrorCodeCorruption,
				"compact encountered an entry referencing a missing block").
				WithDetail("blockId", blockID)
		}

		if err := blk.Rewind(0); err != nil {
			return err
		}

		var buffer []byte
		for _, entry := range entries {
			record, err := idx.store.RawRecord(*entry.n.value)
			if err != nil {
				return err
			}

			newAddress := blk.CurrentOffset() + int64(len(buffer))
			buffer = append(buffer, record...)
			// Mutate the pointee, not the field: every level's node for this
			// key shares this *value.Locator, so this rewrite is visible
			// from whichever level Get happens to resolve the key at.
			*entry.n.value = value.Locator{BlockID: blockID, Address: newAddress}

			if len(buffer) >= idx.compactBufferLength {
				if _, err := blk.Write(buffer); err != nil {
					return err
				}
				buffer = buffer[:0]
			}
		}

		if len(buffer) > 0 {
			if _, err := blk.Write(buffer); err != nil {
				return err
			}
		}
	}

	return nil
}
