// Package engine wires a MemoryManager to one of the three ordered-map
// index implementations and exposes the result as a single lifecycle-
// managed component, the way the teacher's engine package coordinates its
// own storage and index subsystems.
package engine

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/embedkv/ignite/internal/bst"
	"github.com/embedkv/ignite/internal/btree"
	"github.com/embedkv/ignite/internal/index"
	"github.com/embedkv/ignite/internal/manager"
	"github.com/embedkv/ignite/internal/skiplist"
	"github.com/embedkv/ignite/internal/value"
	kverrors "github.com/embedkv/ignite/pkg/errors"
	"github.com/embedkv/ignite/pkg/options"
)

// Kind selects which ordered-map index implementation an Engine uses.
type Kind string

const (
	KindBST      Kind = "bst"
	KindSkipList Kind = "skiplist"
	KindBTree    Kind = "btree"
)

// ErrEngineClosed is returned when attempting to perform operations on a
// closed engine.
var ErrEngineClosed = kverrors.NewStructureError(nil, kverrors.ErrorCodePrecondition,
	"operation failed: cannot access closed engine")

// ErrUnsupportedOperation is returned when a caller invokes an operation
// only one of the three index kinds supports (Persist/Checkout on BSTIndex,
// Compact/Height on SkipListIndex) against an Engine of a different kind.
var ErrUnsupportedOperation = kverrors.NewStructureError(nil, kverrors.ErrorCodePrecondition,
	"operation unsupported by this engine's index kind")

// Engine coordinates a MemoryManager and one selected Index implementation,
// giving callers a single Set/Get/Remove/Keys/KeyValuePairs/Clear surface
// regardless of which structure backs it. Loading and dumping a whole
// index to one file - the client-facing facade - is an external
// collaborator's job; Engine only manages what lives under dir while open.
type Engine struct {
	opts options.Options
	log  *zap.SugaredLogger

	closed atomic.Bool

	kind Kind
	mgr  *manager.Manager
	idx  index.Index
}

// Config holds everything needed to construct an Engine.
type Config struct {
	Dir     string
	Kind    Kind
	Options options.Options
	Logger  *zap.SugaredLogger
}

// New bootstraps the manager at config.Dir and constructs the selected
// index kind over it.
func New(_ context.Context, config *Config) (*Engine, error) {
	if err := config.Options.Validate(); err != nil {
		return nil, kverrors.NewPreconditionError("engine", "New", err.Error())
	}

	mgr, err := manager.Open(config.Dir, config.Options, config.Logger)
	if err != nil {
		return nil, err
	}

	idx, err := buildIndex(config.Kind, mgr, config.Options)
	if err != nil {
		return nil, err
	}

	return &Engine{opts: config.Options, log: config.Logger, kind: config.Kind, mgr: mgr, idx: idx}, nil
}

func buildIndex(kind Kind, mgr *manager.Manager, opts options.Options) (index.Index, error) {
	switch kind {
	case KindBST:
		store := value.NewStore(mgr, opts.TreeIndex.ValueHeaderLength, opts.TreeIndex.MemoryAllocateScale, nil)
		return bst.New(store), nil
	case KindSkipList:
		store := value.NewStore(mgr, opts.SkipListIndex.ValueHeaderLength, opts.SkipListIndex.MemoryAllocateScale, nil)
		return skiplist.New(store, opts.SkipListIndex.CompactBufferLength), nil
	case KindBTree:
		// BTreeIndexOptions carries no allocate scale; the default applies.
		store := value.NewStore(mgr, opts.BTreeIndex.ValueHeaderLength, options.DefaultMemoryAllocateScale, nil)
		return btree.New(store, opts.BTreeIndex.Rank), nil
	default:
		return nil, kverrors.NewPreconditionError("engine", "New", "unknown index kind").
			WithDetail("kind", string(kind))
	}
}

func (e *Engine) checkOpen() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return nil
}

// Set inserts or overwrites key's value.
func (e *Engine) Set(key int64, val any) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	return e.idx.Set(key, val)
}

// Get returns key's value, or ok=false if it is absent.
func (e *Engine) Get(key int64) (any, bool, error) {
	if err := e.checkOpen(); err != nil {
		return nil, false, err
	}
	return e.idx.Get(key)
}

// Remove deletes key if present.
func (e *Engine) Remove(key int64) (bool, error) {
	if err := e.checkOpen(); err != nil {
		return false, err
	}
	return e.idx.Remove(key)
}

// Keys returns every key in ascending order.
func (e *Engine) Keys() ([]int64, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.idx.Keys()
}

// KeyValuePairs returns every (key, value) pair in ascending key order.
func (e *Engine) KeyValuePairs() ([]index.KeyValuePair, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.idx.KeyValuePairs()
}

// Clear removes every entry.
func (e *Engine) Clear() error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	e.idx.Clear()
	return nil
}

// Persist is only valid for a KindBST engine: it copies every still-
// in-memory value of the current root's reachable nodes to disk, returning
// how many were newly persisted.
func (e *Engine) Persist() (int, error) {
	if err := e.checkOpen(); err != nil {
		return 0, err
	}
	bstIdx, ok := e.idx.(*bst.Index)
	if !ok {
		return 0, ErrUnsupportedOperation
	}
	return bstIdx.Persist()
}

// Checkout is only valid for a KindBST engine: it returns a fresh Engine
// sharing this one's manager and value store, rooted at a historical
// version. Exactly one of version or backoff must be non-nil.
func (e *Engine) Checkout(version *int, backoff *int) (*Engine, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	bstIdx, ok := e.idx.(*bst.Index)
	if !ok {
		return nil, ErrUnsupportedOperation
	}

	checkedOut, err := bstIdx.Checkout(version, backoff)
	if err != nil {
		return nil, err
	}

	return &Engine{opts: e.opts, log: e.log, kind: e.kind, mgr: e.mgr, idx: checkedOut}, nil
}

// Compact is only valid for a KindSkipList engine: it rewrites every block
// referenced at the bottom level back to a contiguous prefix.
func (e *Engine) Compact() error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	slIdx, ok := e.idx.(*skiplist.Index)
	if !ok {
		return ErrUnsupportedOperation
	}
	return slIdx.Compact()
}

// Height is only valid for a KindSkipList engine: it returns the current
// number of levels.
func (e *Engine) Height() (int, error) {
	if err := e.checkOpen(); err != nil {
		return 0, err
	}
	slIdx, ok := e.idx.(*skiplist.Index)
	if !ok {
		return 0, ErrUnsupportedOperation
	}
	return slIdx.Height(), nil
}

// Close unmaps every pool the manager owns. A Checkout'd Engine shares its
// parent's manager, so closing one closes the underlying storage for both;
// callers that checkout should close only the original.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrEngineClosed
	}
	return e.mgr.Close()
}
