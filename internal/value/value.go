// Package value implements the value-persistence contract shared by all
// three ordered-map indexes: encoding a value as a length-prefixed record,
// spilling it into manager-allocated blocks, and later loading it back from
// a (block_id, address) locator. Index packages embed a *Store rather than
// reimplementing this bookkeeping themselves.
package value

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/embedkv/ignite/internal/manager"
	kverrors "github.com/embedkv/ignite/pkg/errors"
)

// Locator identifies a persisted value's position: which block holds it,
// and at what offset within that block its length-prefixed record begins.
// This is TreeValue / NodeValue from spec §3.
type Locator struct {
	BlockID uint64
	Address int64
}

func (l Locator) String() string {
	return fmt.Sprintf("(block_id: %d, address: %d)", l.BlockID, l.Address)
}

// Codec converts between a caller-supplied value and its on-disk byte
// representation. Choosing how application values are serialized is an
// external collaborator's job (spec's out-of-scope "value serialization");
// Store only needs something that round-trips bytes. GobCodec below is the
// default implementation for callers that don't provide their own.
type Codec interface {
	Encode(value any) ([]byte, error)
	Decode(data []byte) (any, error)
}

func init() {
	// gob refuses to (de)serialize a concrete type through an interface{}
	// value unless it has been registered first, even for builtins - these
	// cover the common case so callers storing plain Go values don't each
	// need their own gob.Register call.
	gob.Register("")
	gob.Register(0)
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register(false)
	gob.Register([]byte(nil))
}

// GobCodec serializes values with encoding/gob. It is the default Codec:
// adequate for any concrete, registered Go type, and asks nothing of the
// caller beyond what gob.Register already requires for interface values.
type GobCodec struct{}

func (GobCodec) Encode(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&value); err != nil {
		return nil, kverrors.NewStructureError(err, kverrors.ErrorCodeCorruption, "failed to encode value")
	}
	return buf.Bytes(), nil
}

func (GobCodec) Decode(data []byte) (any, error) {
	var value any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&value); err != nil {
		return nil, kverrors.NewStructureError(err, kverrors.ErrorCodeCorruption, "failed to decode value")
	}
	return value, nil
}

// Store owns one index's amortized spill-block allocation policy: values
// are framed as [fixed-width decimal length header][payload] and appended
// to a "current" block until it has no room for the next record, at which
// point a fresh block of size len(record)*scale is allocated (spec's
// generalized MEMORY_ALLOCATE_SCALE policy, shared across BSTIndex,
// SkipListIndex and BTreeIndex rather than BTree allocating one dedicated
// block per value).
type Store struct {
	mu sync.Mutex

	mgr   *manager.Manager
	codec Codec

	headerLength int
	scale        int

	current *currentBlock
}

type currentBlock struct {
	id uint64
}

// NewStore constructs a Store backed by mgr, framing records with a
// headerLength-wide decimal length prefix and sizing fresh spill blocks at
// a record's encoded length times scale. A nil codec defaults to GobCodec.
func NewStore(mgr *manager.Manager, headerLength, scale int, codec Codec) *Store {
	if codec == nil {
		codec = GobCodec{}
	}
	return &Store{mgr: mgr, codec: codec, headerLength: headerLength, scale: scale}
}

// Put encodes value, frames it with its decimal length header, and appends
// it to the store's current spill block - allocating a fresh one first if
// the current block has no room left - returning a Locator that Get can
// later resolve back to the same value.
func (s *Store) Put(val any) (Locator, error) {
	payload, err := s.codec.Encode(val)
	if err != nil {
		return Locator{}, err
	}

	record := make([]byte, 0, s.headerLength+len(payload))
	record = append(record, []byte(fmt.Sprintf("%0*d", s.headerLength, len(payload)))...)
	record = append(record, payload...)

	s.mu.Lock()
	defer s.mu.Unlock()

	blk, err := s.currentBlockLocked(int64(len(record)))
	if err != nil {
		return Locator{}, err
	}

	address := blk.CurrentOffset()
	n, err := blk.Write(record)
	if err != nil {
		return Locator{}, err
	}
	if n != len(record) {
		return Locator{}, kverrors.NewStorageError(nil, kverrors.ErrorCodeIO,
			"short write persisting value record").WithDetail("wrote", n).WithDetail("want", len(record))
	}

	return Locator{BlockID: blk.ID(), Address: address}, nil
}

func (s *Store) currentBlockLocked(need int64) (block, error) {
	if s.current != nil {
		if blk, ok := s.mgr.BlockByID(s.current.id); ok && blk.FreeMemory() >= need {
			return blk, nil
		}
	}

	size := need * int64(s.scale)
	if size < need {
		size = need
	}
	blk, err := s.mgr.AllocateBlock(size)
	if err != nil {
		return nil, err
	}
	s.current = &currentBlock{id: blk.ID()}
	return blk, nil
}

// Manager returns the manager.Manager this store persists into, for
// callers (like SkipListIndex.Compact) that need to read or rewrite raw
// block bytes directly rather than going through Put/Get.
func (s *Store) Manager() *manager.Manager {
	return s.mgr
}

// HeaderLength returns the width, in bytes, of the decimal length prefix
// this store frames every record with.
func (s *Store) HeaderLength() int {
	return s.headerLength
}

// RawRecord reads the full framed record (header and payload) a Locator
// points at, without decoding the payload - used by compaction, which
// rewrites bytes verbatim rather than round-tripping through the codec.
func (s *Store) RawRecord(loc Locator) ([]byte, error) {
	blk, ok := s.mgr.BlockByID(loc.BlockID)
	if !ok {
		return nil, kverrors.NewStructureError(nil, kverrors.ErrorCodeCorruption,
			"value locator references a block that does not exist").
			WithDetail("blockId", loc.BlockID)
	}

	header, err := blk.Read(loc.Address, s.headerLength)
	if err != nil {
		return nil, err
	}
	length, err := strconv.Atoi(strings.TrimSpace(string(header)))
	if err != nil {
		return nil, kverrors.NewStructureError(err, kverrors.ErrorCodeCorruption,
			"value record length header unparsable").WithDetail("locator", loc.String())
	}

	return blk.Read(loc.Address, s.headerLength+length)
}

// Get resolves a Locator back to the value persisted there, reading its
// length-prefixed record from the owning block and decoding it.
func (s *Store) Get(loc Locator) (any, error) {
	blk, ok := s.mgr.BlockByID(loc.BlockID)
	if !ok {
		return nil, kverrors.NewStructureError(nil, kverrors.ErrorCodeCorruption,
			"value locator references a block that does not exist").
			WithDetail("blockId", loc.BlockID)
	}

	header, err := blk.Read(loc.Address, s.headerLength)
	if err != nil {
		return nil, err
	}

	length, err := strconv.Atoi(strings.TrimSpace(string(header)))
	if err != nil {
		return nil, kverrors.NewStructureError(err, kverrors.ErrorCodeCorruption,
			"value record length header unparsable").WithDetail("locator", loc.String())
	}

	payload, err := blk.Read(loc.Address+int64(s.headerLength), length)
	if err != nil {
		return nil, err
	}

	return s.codec.Decode(payload)
}

// block is the subset of *block.Block a Store needs, named locally to keep
// this package's public surface independent of the block package's full API.
type block interface {
	ID() uint64
	CurrentOffset() int64
	FreeMemory() int64
	Write(data []byte) (int, error)
	Read(offset int64, length int) ([]byte, error)
}
