// Package bst implements BSTIndex: a path-copying, versioned binary search
// tree. Every mutation that changes the root allocates only the nodes along
// the search path - everything else is shared structurally with earlier
// versions - and pushes the new root onto a history list that checkout can
// later rewind to.
package bst

import (
	"container/list"

	"github.com/embedkv/ignite/internal/index"
	"github.com/embedkv/ignite/internal/manager"
	"github.com/embedkv/ignite/internal/value"
	kverrors "github.com/embedkv/ignite/pkg/errors"
)

// node is one BST node. value holds either an in-memory payload (not yet
// persisted) or a value.Locator once persist has copied it to disk.
type node struct {
	key         int64
	value       any
	isLocator   bool
	left, right *node
}

// Index is a BSTIndex instance. Index values are cheap to construct
// (checkout does so repeatedly) and share immutable node structure with
// whatever instance they were checked out from.
type Index struct {
	store   *value.Store
	root    *node
	history []*node
}

// New constructs an empty BSTIndex persisting values through store.
func New(store *value.Store) *Index {
	return &Index{store: store}
}

// NewWithManager is a convenience constructor building a store from the
// given header length and allocate scale, with the default codec, for
// callers that don't need to share a Store across several indexes.
func NewWithManager(mgr *manager.Manager, headerLength, allocateScale int) *Index {
	return New(value.NewStore(mgr, headerLength, allocateScale, nil))
}

var _ index.Index = (*Index)(nil)

// Set inserts or overwrites key via path-copying descent, pushing the new
// root onto history if it differs from the current one.
func (idx *Index) Set(key int64, val any) error {
	newRoot := setTraverse(idx.root, key, val)
	idx.updateRoot(newRoot)
	return nil
}

func setTraverse(n *node, key int64, val any) *node {
	if n == nil {
		return &node{key: key, value: val}
	}
	if key == n.key {
		return &node{key: n.key, value: val, left: n.left, right: n.right}
	}
	if key < n.key {
		return &node{key: n.key, value: n.value, isLocator: n.isLocator, left: setTraverse(n.left, key, val), right: n.right}
	}
	return &node{key: n.key, value: n.value, isLocator: n.isLocator, left: n.left, right: setTraverse(n.right, key, val)}
}

func (idx *Index) updateRoot(newRoot *node) {
	if newRoot != idx.root {
		idx.history = append(idx.history, newRoot)
		idx.root = newRoot
	}
}

// Get resolves key's value by iterative descent on the current root,
// loading it from disk if it has already been persisted.
func (idx *Index) Get(key int64) (any, bool, error) {
	n := idx.root
	for n != nil {
		switch {
		case n.key == key:
			return idx.resolve(n)
		case key < n.key:
			n = n.left
		default:
			n = n.right
		}
	}
	return nil, false, nil
}

func (idx *Index) resolve(n *node) (any, bool, error) {
	if !n.isLocator {
		return n.value, true, nil
	}
	v, err := idx.store.Get(n.value.(value.Locator))
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Remove deletes key via path-copying BST deletion, promoting the
// in-order predecessor when a node with two children is removed. The
// deletion path is copied the same way Set's insertion path is; untouched
// subtrees remain shared.
func (idx *Index) Remove(key int64) (bool, error) {
	newRoot, removed := removeTraverse(idx.root, key)
	if !removed {
		return false, nil
	}
	idx.updateRoot(newRoot)
	return true, nil
}

func removeTraverse(n *node, key int64) (*node, bool) {
	if n == nil {
		return nil, false
	}
	if key < n.key {
		left, removed := removeTraverse(n.left, key)
		if !removed {
			return n, false
		}
		return &node{key: n.key, value: n.value, isLocator: n.isLocator, left: left, right: n.right}, true
	}
	if key > n.key {
		right, removed := removeTraverse(n.right, key)
		if !removed {
			return n, false
		}
		return &node{key: n.key, value: n.value, isLocator: n.isLocator, left: n.left, right: right}, true
	}

	// Found the node to remove.
	switch {
	case n.left == nil && n.right == nil:
		return nil, true
	case n.left == nil:
		return n.right, true
	case n.right == nil:
		return n.left, true
	default:
		pred := maxNode(n.left)
		newLeft, _ := removeTraverse(n.left, pred.key)
		return &node{key: pred.key, value: pred.value, isLocator: pred.isLocator, left: newLeft, right: n.right}, true
	}
}

func maxNode(n *node) *node {
	for n.right != nil {
		n = n.right
	}
	return n
}

// Persist does a breadth-first walk of the current root and, for every
// node whose value has not yet been persisted, encodes and writes it to
// disk via the store, replacing the node's value with the resulting
// Locator in place. It returns how many nodes were newly persisted and
// does not push to history.
func (idx *Index) Persist() (int, error) {
	if idx.root == nil {
		return 0, nil
	}

	queue := list.New()
	queue.PushBack(idx.root)

	total := 0
	for queue.Len() > 0 {
		front := queue.Remove(queue.Front()).(*node)

		if !front.isLocator {
			loc, err := idx.store.Put(front.value)
			if err != nil {
				return total, err
			}
			front.value = loc
			front.isLocator = true
			total++
		}

		if front.left != nil {
			queue.PushBack(front.left)
		}
		if front.right != nil {
			queue.PushBack(front.right)
		}
	}
	return total, nil
}

// Checkout returns a fresh, independent BSTIndex whose history is
// history[0..=version] and whose root is that history's last entry. Exactly
// one of version or backoff must be supplied; backoff=k is equivalent to
// version=len(history)-1-k.
func (idx *Index) Checkout(version *int, backoff *int) (*Index, error) {
	var v int
	switch {
	case version != nil:
		v = *version
	case backoff != nil:
		v = len(idx.history) - 1 - *backoff
	default:
		return nil, kverrors.NewPreconditionError("bst", "Checkout",
			"must specify either version or backoff")
	}
	if v < 0 || v >= len(idx.history) {
		return nil, kverrors.NewPreconditionError("bst", "Checkout",
			"version out of range").WithDetail("version", v).WithDetail("historyLength", len(idx.history))
	}

	out := &Index{store: idx.store}
	out.history = append(out.history, idx.history[:v+1]...)
	out.root = out.history[len(out.history)-1]
	return out, nil
}

// Keys returns every key in ascending order via iterative in-order
// traversal.
func (idx *Index) Keys() ([]int64, error) {
	var keys []int64
	var stack []*node
	n := idx.root
	for n != nil {
		stack = append(stack, n)
		n = n.left
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		keys = append(keys, top.key)
		n = top.right
		for n != nil {
			stack = append(stack, n)
			n = n.left
		}
	}
	return keys, nil
}

// KeyValuePairs returns every (key, value) pair in ascending key order,
// decoding any still-disk-resident values along the way.
func (idx *Index) KeyValuePairs() ([]index.KeyValuePair, error) {
	var pairs []index.KeyValuePair
	var stack []*node
	n := idx.root
	for n != nil {
		stack = append(stack, n)
		n = n.left
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		v, _, err := idx.resolve(top)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, index.KeyValuePair{Key: top.key, Value: v})

		n = top.right
		for n != nil {
			stack = append(stack, n)
			n = n.left
		}
	}
	return pairs, nil
}

// Clear resets the index to empty. History is left untouched so previously
// checked-out versions remain valid.
func (idx *Index) Clear() {
	idx.root = nil
}

// History returns the number of roots in the version history (one per
// mutating call that changed the root), exposed for tests asserting on
// version count.
func (idx *Index) History() int {
	return len(idx.history)
}
