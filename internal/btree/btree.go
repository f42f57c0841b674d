// Package btree implements BTreeIndex: a B-tree of order `rank`, represented
// not as arrays of keys and children but as a woven doubly-linked list where
// ChildSlot and KeyCell elements alternate - ...slot, key, slot, key, slot...
// - with each ChildSlot optionally pointing down to a child btreeNode. This
// mirrors the original Python's TreeListNode/KeyListNode split rather than a
// conventional fixed-arity node.
package btree

import (
	"github.com/embedkv/ignite/internal/index"
	"github.com/embedkv/ignite/internal/manager"
	"github.com/embedkv/ignite/internal/value"
	kverrors "github.com/embedkv/ignite/pkg/errors"
)

// element is one link in a node's woven list. isKey distinguishes a KeyCell
// (key/value populated) from a ChildSlot (owner/child populated).
type element struct {
	prev, next *element
	isKey      bool

	owner *btreeNode // ChildSlot only: the node this slot is a member of.
	child *btreeNode // ChildSlot only: the subtree below this slot, nil at a leaf.

	key   int64
	value value.Locator // KeyCell only.
}

// btreeNode is one node of the tree: a dummy head followed by an alternating
// ChildSlot/KeyCell chain, plus the ChildSlot in its parent's list that
// points down to it (nil for the root).
type btreeNode struct {
	head       *element
	parentSlot *element
	size       int // number of key cells
}

func newLeafNode(parentSlot *element) *btreeNode {
	n := &btreeNode{head: &element{}, parentSlot: parentSlot}
	slot := &element{owner: n}
	n.head.next = slot
	slot.prev = n.head
	return n
}

// refresh recomputes size (the number of key cells) and stamps owner on
// every ChildSlot, after a structural change has made them stale.
func (n *btreeNode) refresh() {
	count := 0
	for el := n.head.next.next; el != nil; el = el.next.next {
		count++
	}
	for el := n.head.next; el != nil; {
		el.owner = n
		if el.next == nil {
			break
		}
		el = el.next.next
	}
	n.size = count
}

func (n *btreeNode) isRoot() bool { return n.parentSlot == nil }

func (n *btreeNode) firstKeyNode() *element { return n.head.next.next }
func (n *btreeNode) firstTreeNode() *element { return n.head.next }

func (n *btreeNode) lastKeyNode() *element {
	var ans *element
	for el := n.head.next.next; el != nil; el = el.next.next {
		ans = el
	}
	return ans
}
func (n *btreeNode) lastTreeNode() *element {
	if keyNode := n.lastKeyNode(); keyNode != nil {
		return keyNode.next
	}
	return n.head.next
}

func (n *btreeNode) findKeyNode(key int64) *element {
	el := n.head.next.next
	for el != nil && el.key != key {
		el = el.next.next
	}
	return el
}

func (n *btreeNode) leftSibling() *btreeNode {
	if n.parentSlot == nil {
		return nil
	}
	slot := n.parentSlot.prev.prev
	if slot == nil {
		return nil
	}
	return slot.child
}

func (n *btreeNode) rightSibling() *btreeNode {
	if n.parentSlot == nil || n.parentSlot.next == nil {
		return nil
	}
	slot := n.parentSlot.next.next
	if slot == nil {
		return nil
	}
	return slot.child
}

// popLastKey detaches this node's last key cell and its trailing child
// slot, refreshing size/owner afterward, for stealing by a deficient
// sibling.
func (n *btreeNode) popLastKey() (*element, *element) {
	keyNode := n.lastKeyNode()
	slot := n.lastTreeNode()
	keyNode.prev.next = nil
	keyNode.prev, keyNode.next = nil, nil
	slot.prev, slot.next = nil, nil
	n.refresh()
	return keyNode, slot
}

// popFirstKey is popLastKey's mirror image at the front of the list.
func (n *btreeNode) popFirstKey() (*element, *element) {
	keyNode := n.firstKeyNode()
	slot := n.firstTreeNode()
	n.head.next = keyNode.next
	n.head.next.prev = n.head
	keyNode.prev, keyNode.next = nil, nil
	slot.prev, slot.next = nil, nil
	n.refresh()
	return keyNode, slot
}

func (n *btreeNode) appendKey(keyNode, slot *element) {
	last := n.lastTreeNode()
	keyNode.next = slot
	slot.prev = keyNode
	last.next = keyNode
	keyNode.prev = last
	slot.next = nil
	n.refresh()
}

func (n *btreeNode) addKeyAhead(keyNode, slot *element) {
	next := n.head.next
	slot.next = keyNode
	keyNode.prev = slot
	slot.prev = n.head
	n.head.next = slot
	keyNode.next = next
	next.prev = keyNode
	n.refresh()
}

// merge appends keyNode followed by other's entire list onto the end of n,
// absorbing other into n.
func (n *btreeNode) merge(keyNode *element, other *btreeNode) {
	last := n.lastTreeNode()
	last.next = keyNode
	keyNode.prev = last
	last = keyNode
	for el := other.head.next; el != nil; el = el.next {
		last.next = el
		el.prev = last
		last = el
	}
	last.next = nil
	n.refresh()
}

func replaceNextWithNodes(anchor *element, nodes ...*element) {
	removeListNode(anchor.next)
	cur := anchor
	for _, n := range nodes {
		insertAfter(cur, n)
		cur = n
	}
}

func insertAfter(node, insert *element) {
	insert.next = node.next
	insert.prev = node
	node.next = insert
	if insert.next != nil {
		insert.next.prev = insert
	}
}

func removeListNode(n *element) {
	n.prev.next = n.next
	if n.next != nil {
		n.next.prev = n.prev
	}
}

// splitNode splits a full node into two, promoting its middle key to the
// caller so it can be inserted into (or become) the parent.
func splitNode(n *btreeNode) (*btreeNode, int64, value.Locator, *btreeNode) {
	// ceil((size+1)/2) for odd size; floors by one key for even size.
	steps := (n.size + 1) / 2
	pivot := n.head.next.next
	for steps > 1 {
		pivot = pivot.next.next
		steps--
	}

	rightHead := &element{next: pivot.next}
	rightHead.next.prev = rightHead
	pivot.prev.next = nil

	left := &btreeNode{head: n.head}
	right := &btreeNode{head: rightHead}
	left.refresh()
	right.refresh()

	return left, pivot.key, pivot.value, right
}

// Index is a BTreeIndex instance of the configured rank: a non-root node
// splits once it holds rank key cells, and is rebalanced (borrow or merge)
// once it drops below (rank+1)/2 - 1.
type Index struct {
	store *value.Store
	root  *btreeNode
	rank  int
}

var _ index.Index = (*Index)(nil)

// New constructs an empty BTreeIndex of the given rank, persisting values
// through store.
func New(store *value.Store, rank int) *Index {
	return &Index{store: store, root: newLeafNode(nil), rank: rank}
}

// NewWithManager is a convenience constructor building its own Store from
// the given header length and allocate scale, with the default codec.
func NewWithManager(mgr *manager.Manager, headerLength, allocateScale, rank int) *Index {
	return New(value.NewStore(mgr, headerLength, allocateScale, nil), rank)
}

// Set persists value, then descends the tree looking for key; an existing
// key cell has its value overwritten in place. Otherwise a new key cell
// (bracketed by two empty child slots) is spliced into the leaf where key
// belongs, and any node that now holds rank keys is split, promoting its
// middle key upward - repeating until no ancestor is overfull, growing a
// new root if the split reaches the top.
func (idx *Index) Set(key int64, val any) error {
	loc, err := idx.store.Put(val)
	if err != nil {
		return err
	}

	current := idx.root
	var insertionSlot *element

	for current != nil {
		keyNode := current.head.next.next
		prevSlot := current.head.next
		for keyNode != nil && keyNode.key < key {
			prevSlot = keyNode.next
			keyNode = keyNode.next.next
		}
		if keyNode != nil && keyNode.key == key {
			keyNode.value = loc
			return nil
		}
		if prevSlot.child != nil {
			current = prevSlot.child
			continue
		}
		insertionSlot = prevSlot
		break
	}

	leftSlot := &element{owner: current}
	rightSlot := &element{owner: current}
	keyNode := &element{isKey: true, key: key, value: loc}
	replaceNextWithNodes(insertionSlot.prev, leftSlot, keyNode, rightSlot)
	current.refresh()

	for current.size == idx.rank {
		parentSlot := current.parentSlot
		var parentNode *btreeNode
		if parentSlot != nil {
			parentNode = parentSlot.owner
		}

		left, pivotKey, pivotVal, right := splitNode(current)

		newLeftSlot := &element{owner: parentNode, child: left}
		newRightSlot := &element{owner: parentNode, child: right}
		left.parentSlot = newLeftSlot
		right.parentSlot = newRightSlot
		promoted := &element{isKey: true, key: pivotKey, value: pivotVal}

		if parentSlot != nil {
			replaceNextWithNodes(parentSlot.prev, newLeftSlot, promoted, newRightSlot)
			current = parentNode
			current.size++
		} else {
			root := newLeafNode(nil)
			replaceNextWithNodes(root.head, newLeftSlot, promoted, newRightSlot)
			idx.root = root
			root.refresh()
			break
		}
	}
	return nil
}

// Get descends the tree comparing key against each node's key cells in
// order, decoding the matching cell's persisted value.
func (idx *Index) Get(key int64) (any, bool, error) {
	current := idx.root
	for current != nil {
		keyNode := current.head.next.next
		prevSlot := current.head.next
		for keyNode != nil {
			if keyNode.key == key {
				v, err := idx.store.Get(keyNode.value)
				if err != nil {
					return nil, false, err
				}
				return v, true, nil
			}
			if keyNode.key > key {
				break
			}
			prevSlot = keyNode.next
			keyNode = keyNode.next.next
		}
		current = prevSlot.child
	}
	return nil, false, nil
}

func (idx *Index) findNodeWithKey(key int64) *btreeNode {
	current := idx.root
	for current != nil {
		keyNode := current.head.next.next
		prevSlot := current.head.next
		for keyNode != nil && keyNode.key < key {
			prevSlot = keyNode.next
			keyNode = keyNode.next.next
		}
		if keyNode != nil && keyNode.key == key {
			return current
		}
		current = prevSlot.child
	}
	return nil
}

func findPredecessorKeyNode(keyNode *element) *element {
	current := keyNode.prev
	for current != nil && current.child != nil {
		current = current.child.lastTreeNode()
	}
	if current != nil && current.prev != nil && current.prev.isKey {
		return current.prev
	}
	return nil
}

func findSuccessorKeyNode(keyNode *element) *element {
	current := keyNode.next
	for current != nil && current.child != nil {
		current = current.child.firstTreeNode()
	}
	if current == nil {
		return nil
	}
	return current.next
}

// removeKeyAndFollowingSlot unlinks keyNode together with the ChildSlot
// immediately after it, collapsing the pair out of the list.
func removeKeyAndFollowingSlot(keyNode *element) {
	keyNode.prev.next = keyNode.next.next
	if keyNode.prev.next != nil {
		keyNode.prev.next.prev = keyNode.prev
	}
}

// Remove finds key's node, promotes its in-order predecessor (or failing
// that, successor) into the vacated cell, and rebalances every ancestor
// that drops below the minimum occupancy by borrowing a key from a sibling
// or, failing that, merging with one - repeating up the tree until no
// ancestor remains deficient.
func (idx *Index) Remove(key int64) (bool, error) {
	node := idx.findNodeWithKey(key)
	if node == nil {
		return false, nil
	}

	keyNode := node.findKeyNode(key)
	var current *btreeNode

	if pred := findPredecessorKeyNode(keyNode); pred != nil {
		current = pred.prev.owner
		keyNode.key, keyNode.value = pred.key, pred.value
		removeKeyAndFollowingSlot(pred)
	} else if succ := findSuccessorKeyNode(keyNode); succ != nil {
		current = succ.prev.owner
		keyNode.key, keyNode.value = succ.key, succ.value
		removeKeyAndFollowingSlot(succ)
	} else {
		keyNode.prev.next = nil
		current = keyNode.prev.owner
	}
	current.refresh()

	threshold := (idx.rank+1)/2 - 1
	for !current.isRoot() && current.size < threshold {
		leftSib := current.leftSibling()
		if leftSib != nil && leftSib.size > threshold {
			leftKeyCell := current.parentSlot.prev
			borrowed, slot := leftSib.popLastKey()
			leftKeyCell.key, borrowed.key = borrowed.key, leftKeyCell.key
			leftKeyCell.value, borrowed.value = borrowed.value, leftKeyCell.value
			current.addKeyAhead(borrowed, slot)
			break
		}

		rightSib := current.rightSibling()
		if rightSib != nil && rightSib.size > threshold {
			rightKeyCell := current.parentSlot.next
			borrowed, slot := rightSib.popFirstKey()
			rightKeyCell.key, borrowed.key = borrowed.key, rightKeyCell.key
			rightKeyCell.value, borrowed.value = borrowed.value, rightKeyCell.value
			current.appendKey(borrowed, slot)
			break
		}

		switch {
		case leftSib != nil:
			leftKeyCell := current.parentSlot.prev
			parentNode := current.parentSlot.owner
			removeKeyAndFollowingSlot(leftKeyCell)
			leftSib.merge(leftKeyCell, current)
			parentNode.refresh()
			leftSib.refresh()
			if parentNode.size == 0 && parentNode.isRoot() {
				leftSib.parentSlot = nil
				idx.root = leftSib
				current = leftSib
			} else {
				current = parentNode
			}
		case rightSib != nil:
			rightKeyCell := current.parentSlot.next
			parentNode := current.parentSlot.owner
			removeKeyAndFollowingSlot(rightKeyCell)
			current.merge(rightKeyCell, rightSib)
			parentNode.refresh()
			current.refresh()
			if parentNode.size == 0 && parentNode.isRoot() {
				current.parentSlot = nil
				idx.root = current
			} else {
				current = parentNode
			}
		default:
			return false, kverrors.NewStructureError(nil, kverrors.ErrorCodeCorruption,
				"no sibling available to rebalance an underfull btree node")
		}
	}

	return true, nil
}

// KeyValuePairs walks every level with an explicit stack, descending into a
// ChildSlot's subtree when encountered and yielding a KeyCell's decoded
// value directly, preserving ascending key order throughout.
func (idx *Index) KeyValuePairs() ([]index.KeyValuePair, error) {
	var pairs []index.KeyValuePair
	stack := collectForward(idx.root)

	for len(stack) > 0 {
		el := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !el.isKey {
			if el.child != nil {
				stack = append(stack, collectForward(el.child)...)
			}
			continue
		}

		v, err := idx.store.Get(el.value)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, index.KeyValuePair{Key: el.key, Value: v})
	}
	return pairs, nil
}

// collectForward returns node's list elements in forward order, reversed so
// that pushing them onto a LIFO stack and popping yields them forward again.
func collectForward(n *btreeNode) []*element {
	var fwd []*element
	for el := n.head.next; el != nil; el = el.next {
		fwd = append(fwd, el)
	}
	for i, j := 0, len(fwd)-1; i < j; i, j = i+1, j-1 {
		fwd[i], fwd[j] = fwd[j], fwd[i]
	}
	return fwd
}

// Keys returns every key in ascending order.
func (idx *Index) Keys() ([]int64, error) {
	pairs, err := idx.KeyValuePairs()
	if err != nil {
		return nil, err
	}
	keys := make([]int64, len(pairs))
	for i, p := range pairs {
		keys[i] = p.Key
	}
	return keys, nil
}

// Clear resets the index to a single empty root node.
func (idx *Index) Clear() {
	idx.root = newLeafNode(nil)
}
