// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package block

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Store persists block payloads into a File and publishes a descriptor on
// every commit. Blocks written or freed since the last commit only take
// effect once Commit returns; until then the previous commit stays intact on
// disk.
//
// ReadBlock may be called concurrently. Writes, frees and commits are
// serialized by the store.
type Store[F File] struct {
	mutex sync.Mutex
	open  atomic.Bool

	file     F
	log      *zap.Logger
	codec    codec
	magic    [4]byte
	size     int
	readOnly bool

	meta    Meta
	base    *bitmap // as of the last commit
	bitmap  *bitmap
	fresh   map[BlockID]uint32
	pending []extent

	leaf, node Compression

	reads, writes atomic.Uint64
}

// Stats is a snapshot of the store counters.
type Stats struct {
	Generation uint64
	Reads      uint64
	Writes     uint64
	BlockSize  int
	BlockCount uint32
	FreeBlocks uint32
	Fresh      int // runs written since the last commit
	Pending    int // runs released by the next commit
}

// Load opens file, initializing it when it is empty and writable.
func (s *Store[F]) Load(file F, opt Option) (err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.open.Load() {
		panic("block.Load: already open")
	}

	s.log = getLogger(opt)
	s.magic = opt.MagicCode()
	s.readOnly = opt.ReadOnly()

	meta, err := s.load(file, opt.BlockSize())
	if errors.Is(err, ErrFileEmpty) && !s.readOnly {
		meta, err = s.init(file, opt.BlockSize())
	}
	if err != nil {
		err = errors.Wrap(err, "block.Load")
		return
	}

	s.file = file
	s.size = int(meta.BlockSize)
	s.meta = *meta
	if meta.Bitmap.IsPlaceholder() {
		s.base = newBitmap()
		s.base.count = max(s.base.count, meta.BlockCount)
	} else {
		var data []byte
		if data, err = s.read(meta.Bitmap); err != nil {
			err = errors.Wrap(err, "block.Load: bitmap")
			return
		}
		if s.base, err = decodeBitmap(data, meta.BlockCount); err != nil {
			err = errors.Wrap(err, "block.Load")
			return
		}
	}
	s.bitmap = s.base.clone()
	s.fresh = make(map[BlockID]uint32)
	s.pending = nil
	s.open.Store(true)

	s.log.Debug("block store loaded",
		zap.Uint64("generation", meta.Generation),
		zap.Uint32("blockSize", meta.BlockSize),
		zap.Uint32("blockCount", meta.BlockCount),
		zap.Bool("readOnly", s.readOnly))
	return
}

func (s *Store[F]) load(file F, blockSize int) (meta *Meta, err error) {
	var probe [1]byte
	if n, err := file.ReadAt(probe[:], 0); n == 0 && errors.Is(err, io.EOF) {
		return nil, ErrFileEmpty
	}

	metaA, errA := readMeta(file, 0, s.magic)
	if metaA != nil {
		blockSize = int(metaA.BlockSize)
	} else if err = validBlockSize(blockSize); err != nil {
		return
	}
	metaB, errB := readMeta(file, int64(blockSize), s.magic)
	if metaB != nil && metaA != nil && metaB.BlockSize != metaA.BlockSize {
		metaB, errB = nil, errors.Wrap(ErrInvalidMeta, "block size differs between slots")
	}

	switch {
	case metaA == nil && metaB == nil:
		err = ErrInvalidMeta
		for _, e := range []error{errA, errB} {
			if e != nil && !errors.Is(e, io.EOF) {
				err = e
				break
			}
		}
	case metaB == nil || (metaA != nil && metaA.Generation >= metaB.Generation):
		meta = metaA
	default:
		meta = metaB
	}
	return
}

func (s *Store[F]) init(file F, blockSize int) (meta *Meta, err error) {
	if err = validBlockSize(blockSize); err != nil {
		return
	}
	meta = &Meta{
		Version:    metaVersion,
		BlockSize:  uint32(blockSize),
		BlockCount: firstDataBlock,
		UpdateTime: time.Now().UnixMilli(),
	}
	slot, err := encodeMeta(s.magic, meta, blockSize)
	if err != nil {
		return
	}
	if err = file.Truncate(firstDataBlock * int64(blockSize)); err != nil {
		return
	}
	if _, err = file.WriteAt(slot, 0); err != nil {
		return
	}
	err = file.Sync()
	return
}

// Close releases the store and closes the file.
func (s *Store[F]) Close() (err error) {
	if file, ok := s.release(); ok {
		err = file.Close()
	}
	return
}

// Release releases the store like Close but leaves the file open.
func (s *Store[F]) Release() (file F) {
	file, _ = s.release()
	return
}

func (s *Store[F]) release() (file F, ok bool) {
	if !s.open.Swap(false) {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.codec.close()
	s.codec = codec{}
	s.base, s.bitmap, s.fresh, s.pending = nil, nil, nil, nil
	file, ok = s.file, true
	var nilFile F
	s.file = nilFile
	return
}

// File returns the underlying file.
func (s *Store[F]) File() F {
	return s.file
}

// BlockSize returns the size of one block.
func (s *Store[F]) BlockSize() int {
	return s.size
}

// ReadOnly reports whether writes are rejected.
func (s *Store[F]) ReadOnly() bool {
	return s.readOnly
}

// SetCompressors selects the algorithms for leaf and interior payloads.
func (s *Store[F]) SetCompressors(leaf, node Compression) {
	s.mutex.Lock()
	s.leaf, s.node = leaf, node
	s.mutex.Unlock()
}

// Descriptor returns the descriptor published by the last commit.
func (s *Store[F]) Descriptor() []byte {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return bytes.Clone(s.meta.Descriptor)
}

// Generation returns the generation of the last commit.
func (s *Store[F]) Generation() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.meta.Generation
}

func (s *Store[F]) Stats() (stats Stats) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stats.Generation = s.meta.Generation
	stats.Reads = s.reads.Load()
	stats.Writes = s.writes.Load()
	stats.BlockSize = s.size
	if s.bitmap != nil {
		stats.BlockCount = s.bitmap.count
		stats.FreeBlocks = s.bitmap.free()
	}
	stats.Fresh = len(s.fresh)
	stats.Pending = len(s.pending)
	return
}

// Allocated reports whether every block of ptr is marked in use.
func (s *Store[F]) Allocated(ptr Pointer) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.bitmap == nil || ptr.IsPlaceholder() {
		return false
	}
	for i := range ptr.Blocks {
		if !s.bitmap.used(ptr.Block + i) {
			return false
		}
	}
	return true
}

// ReadBlock returns the verified, decompressed payload of ptr.
// Only leaf, interior and hole pointers are accepted.
func (s *Store[F]) ReadBlock(ptr Pointer) (data []byte, err error) {
	if !s.open.Load() {
		err = ErrClosed
		return
	}
	switch ptr.Type {
	case BlockHole, BlockLeaf, BlockInterior:
	default:
		err = errors.Wrapf(ErrInvalidPointer, "block.ReadBlock: unexpected %v block", ptr.Type)
		return
	}
	if data, err = s.read(ptr); err != nil {
		err = errors.Wrapf(err, "block.ReadBlock(%v)", ptr)
	}
	return
}

func (s *Store[F]) read(ptr Pointer) (data []byte, err error) {
	if err = ptr.validate(s.size); err != nil {
		return
	}
	if ptr.Type == BlockHole {
		data = make([]byte, ptr.Size)
		return
	}

	stored := make([]byte, ptr.Stored)
	if _, err = s.file.ReadAt(stored, int64(ptr.Block)*int64(s.size)); err != nil {
		if errors.Is(err, io.EOF) {
			err = ErrFileTruncated
		}
		return
	}
	s.reads.Add(1)
	if xxhash.Sum64(stored) != ptr.Checksum {
		err = ErrInvalidChecksum
		return
	}
	return s.codec.decompress(ptr.Compression, stored, int(ptr.Size))
}

func (s *Store[F]) writable() error {
	if !s.open.Load() {
		return ErrClosed
	}
	if s.readOnly {
		return ErrReadOnly
	}
	return nil
}

// WriteBlock stores payload in a fresh run of blocks.
func (s *Store[F]) WriteBlock(payload []byte, level uint8, typ BlockType) (ptr Pointer, err error) {
	if err = s.writable(); err != nil {
		return
	}

	if typ != BlockLeaf && typ != BlockInterior {
		err = errors.Wrapf(ErrInvalidPointer, "block.WriteBlock: unexpected %v block", typ)
		return
	}
	s.mutex.Lock()
	algo := s.node
	if typ == BlockLeaf {
		algo = s.leaf
	}
	s.mutex.Unlock()

	stored, algo, err := s.codec.compress(algo, payload)
	if err != nil {
		return
	}

	n := s.blocks(len(stored))
	s.mutex.Lock()
	id := s.bitmap.allocate(n)
	s.fresh[id] = n
	gen := s.meta.Generation + 1
	s.mutex.Unlock()

	ptr = Pointer{
		Generation:  gen,
		Block:       id,
		Blocks:      n,
		Size:        uint32(len(payload)),
		Type:        typ,
		Level:       level,
		Compression: algo,
	}
	if err = s.writeRun(&ptr, stored); err != nil {
		s.mutex.Lock()
		delete(s.fresh, id)
		s.bitmap.release(id, n)
		s.mutex.Unlock()
		ptr = Pointer{}
		err = errors.Wrap(err, "block.WriteBlock")
	}
	return
}

func (s *Store[F]) blocks(size int) uint32 {
	return uint32(max(1, (size+s.size-1)/s.size))
}

func (s *Store[F]) writeRun(ptr *Pointer, stored []byte) (err error) {
	ptr.Stored = uint32(len(stored))
	ptr.Checksum = xxhash.Sum64(stored)
	if _, err = s.file.WriteAt(stored, int64(ptr.Block)*int64(s.size)); err == nil {
		s.writes.Add(1)
	}
	return
}

// FreeBlock releases the blocks of ptr. Blocks written since the last commit
// are reusable at once; the others after the next commit.
func (s *Store[F]) FreeBlock(ptr Pointer) (err error) {
	if ptr.IsPlaceholder() {
		return
	}
	if err = s.writable(); err != nil {
		return
	}
	if err = ptr.validate(s.size); err != nil {
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if n, ok := s.fresh[ptr.Block]; ok && n == ptr.Blocks {
		delete(s.fresh, ptr.Block)
		s.bitmap.release(ptr.Block, ptr.Blocks)
		return
	}
	if !s.bitmap.used(ptr.Block) {
		err = errors.Wrapf(ErrInvalidPointer, "block.FreeBlock: %v is not allocated", ptr)
		return
	}
	s.pending = append(s.pending, extent{ptr.Block, ptr.Blocks})
	return
}

// Commit makes every write and free since the last commit durable and
// publishes descriptor.
func (s *Store[F]) Commit(descriptor []byte) (err error) {
	if err = s.writable(); err != nil {
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	meta := Meta{
		Descriptor: bytes.Clone(descriptor),
		Generation: s.meta.Generation + 1,
		UpdateTime: time.Now().UnixMilli(),
		BlockSize:  uint32(s.size),
		Version:    metaVersion,
	}

	pending := s.pending
	if old := s.meta.Bitmap; !old.IsPlaceholder() {
		pending = append(pending, extent{old.Block, old.Blocks})
	}

	var next *bitmap
	n := s.blocks(encodedSize(s.bitmap.count + 64))
	for {
		id := s.bitmap.allocate(n)
		next = s.bitmap.clone()
		for _, e := range pending {
			next.release(e.id, e.n)
		}
		var data []byte
		if data, err = next.encode(); err != nil {
			s.bitmap.release(id, n)
			err = errors.Wrap(err, "block.Commit: encode bitmap")
			return
		}
		if need := s.blocks(len(data)); need > n {
			s.bitmap.release(id, n)
			n = need
			continue
		}
		meta.Bitmap = Pointer{
			Generation: meta.Generation,
			Block:      id,
			Blocks:     n,
			Size:       uint32(len(data)),
			Type:       BlockBitmap,
		}
		if err = s.writeRun(&meta.Bitmap, data); err != nil {
			s.bitmap.release(id, n)
			err = errors.Wrap(err, "block.Commit: write bitmap")
			return
		}
		break
	}
	meta.BlockCount = next.count

	if err = s.publish(&meta); err != nil {
		s.bitmap.release(meta.Bitmap.Block, meta.Bitmap.Blocks)
		err = errors.Wrap(err, "block.Commit")
		return
	}

	s.log.Debug("block store committed",
		zap.Uint64("generation", meta.Generation),
		zap.Int("written", len(s.fresh)),
		zap.Int("released", len(pending)),
		zap.Uint32("blockCount", meta.BlockCount),
		zap.Uint32("freeBlocks", next.free()))

	s.meta = meta
	s.bitmap = next
	s.base = next.clone()
	clear(s.fresh)
	s.pending = nil
	return
}

// publish flushes the written runs, then writes the meta slot of the new
// generation.
func (s *Store[F]) publish(meta *Meta) (err error) {
	if err = s.file.Sync(); err != nil {
		return
	}
	slot, err := encodeMeta(s.magic, meta, s.size)
	if err != nil {
		return
	}
	if _, err = s.file.WriteAt(slot, int64(meta.Generation%2)*int64(s.size)); err != nil {
		return
	}
	return s.file.Sync()
}

// Rollback forgets every write and free since the last commit.
func (s *Store[F]) Rollback() (err error) {
	if !s.open.Load() {
		err = ErrClosed
		return
	}
	if s.readOnly {
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(s.fresh) > 0 || len(s.pending) > 0 {
		s.log.Warn("block store rolled back",
			zap.Uint64("generation", s.meta.Generation),
			zap.Int("discarded", len(s.fresh)),
			zap.Int("kept", len(s.pending)))
	}
	s.bitmap = s.base.clone()
	clear(s.fresh)
	s.pending = nil
	return
}
