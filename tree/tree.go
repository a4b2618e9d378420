// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package tree implements a B-tree of ArrayMap nodes persisted through a
// block store.
//
// Mutations are applied to leaves in place. Nodes that cross their size
// thresholds are only scheduled; splits and merges run level by level, from
// the leaves upward, when the tree is flushed or committed. Commit then
// writes every modified node, children before parents, and publishes the new
// root through the store.
//
// A Tree has a single logical writer. Callers serialize Put, Remove and
// Commit; concurrent misuse is detected at commit time, not prevented.
package tree

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dacapoday/amtree/arraymap"
	"github.com/dacapoday/amtree/block"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxLevels bounds the height of a tree.
const MaxLevels = 10

// Store is the block collaborator of a tree. *block.Store implements it.
type Store interface {
	ReadBlock(ptr block.Pointer) ([]byte, error)
	WriteBlock(payload []byte, level uint8, typ block.BlockType) (block.Pointer, error)
	FreeBlock(ptr block.Pointer) error
	Commit(descriptor []byte) error
	Rollback() error
	Descriptor() []byte
	SetCompressors(leaf, node block.Compression)
}

type Tree struct {
	store  Store
	config Config
	log    *zap.Logger
	id     uuid.UUID

	mutex  sync.Mutex
	closed atomic.Bool

	arena    arena
	root     handle
	schedule [MaxLevels]levelSet
	entries  int64

	// modCount counts mutations; epoch also counts structural changes and
	// invalidates iterators.
	modCount  atomic.Uint64
	epoch     atomic.Uint64
	committed uint64 // modCount as of the last commit
}

type levelSet struct {
	mutex sync.Mutex
	nodes map[handle]struct{}
}

type Option func(*Tree)

// WithLogger sets the logger; the default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(t *Tree) {
		if log != nil {
			t.log = log
		}
	}
}

// WithConfig sets the configuration of a new tree. A tree opened from a
// descriptor keeps its persisted configuration.
func WithConfig(c Config) Option {
	return func(t *Tree) {
		t.config = c
	}
}

func newTree(store Store, opts []Option) (t *Tree, err error) {
	t = &Tree{store: store, log: zap.NewNop(), config: DefaultConfig()}
	for _, opt := range opts {
		opt(t)
	}
	t.config = t.config.WithDefaults()
	if err = t.config.Validate(); err != nil {
		t = nil
	}
	return
}

// New returns an empty tree whose root is a single leaf.
func New(store Store, opts ...Option) (t *Tree, err error) {
	if t, err = newTree(store, opts); err != nil {
		err = errors.Wrap(err, "tree.New")
		return
	}
	t.id = uuid.New()
	t.reset()
	t.store.SetCompressors(t.config.compressors())
	t.log.Debug("tree created", zap.Stringer("id", t.id))
	return
}

// Open loads the tree published by the last commit of store, or returns an
// empty tree when nothing was committed yet.
func Open(store Store, opts ...Option) (t *Tree, err error) {
	raw := store.Descriptor()
	if len(raw) == 0 {
		return New(store, opts...)
	}
	if t, err = newTree(store, opts); err != nil {
		err = errors.Wrap(err, "tree.Open")
		return
	}
	if err = t.restore(raw); err != nil {
		t = nil
		err = errors.Wrap(err, "tree.Open")
		return
	}
	t.store.SetCompressors(t.config.compressors())
	t.log.Debug("tree opened",
		zap.Stringer("id", t.id),
		zap.Int64("entries", t.entries),
		zap.Stringer("root", t.node(t.root).ptr))
	return
}

// reset installs an empty leaf root.
func (t *Tree) reset() {
	t.arena.reset()
	for i := range t.schedule {
		t.schedule[i].swap()
	}
	t.root = t.newNode(leaf, 0, noParent, arraymap.New(t.config.LeafSize))
	t.entries = 0
}

func (t *Tree) restore(raw []byte) (err error) {
	desc, err := DecodeDescriptor(raw)
	if err != nil {
		return
	}
	config := desc.Config.WithDefaults()
	if err = config.Validate(); err != nil {
		return errors.Wrap(ErrCorrupted, err.Error())
	}
	t.config = config
	t.id = desc.ID
	if desc.Root.IsPlaceholder() {
		t.reset()
		return
	}

	n, err := t.load(desc.Root, desc.Height-1)
	if err != nil {
		return
	}
	t.arena.reset()
	for i := range t.schedule {
		t.schedule[i].swap()
	}
	t.root = t.arena.alloc(n)
	t.entries = int64(desc.Entries)
	return
}

// Close releases the nodes. Every later call fails with ErrClosed.
func (t *Tree) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.arena.reset()
	for i := range t.schedule {
		t.schedule[i].swap()
	}
	t.store = nil
	t.epoch.Add(1)
	return nil
}

func (t *Tree) ID() uuid.UUID {
	return t.id
}

func (t *Tree) Config() Config {
	return t.config
}

// Len returns the number of entries.
func (t *Tree) Len() int {
	return int(t.entries)
}

// Height returns the number of levels, 1 for a leaf root.
func (t *Tree) Height() int {
	if t.closed.Load() {
		return 0
	}
	return int(t.node(t.root).level) + 1
}

// Get looks up the key of e.
func (t *Tree) Get(e arraymap.Entry) (r arraymap.Result, err error) {
	if t.closed.Load() {
		err = ErrClosed
		return
	}
	h, err := t.findLeaf(e.KeyType, e.Key, true)
	if err != nil {
		return
	}
	r = t.node(h).data.Get(e)
	return
}

// Put inserts or replaces e. A leaf crossing its size threshold is scheduled
// for the next flush.
func (t *Tree) Put(e arraymap.Entry) (r arraymap.Result, err error) {
	if t.closed.Load() {
		err = ErrClosed
		return
	}
	switch e.KeyType {
	case arraymap.TypeFirst, arraymap.TypePointer:
		err = errors.Wrapf(ErrUnsupported, "tree.Put: key type %v is reserved", e.KeyType)
		return
	}
	if size := e.Size() - arraymap.EntryPointerSize; size > t.config.LimitEntrySize {
		err = errors.Wrapf(ErrEntryTooLarge, "tree.Put: entry of %d bytes exceeds %d", size, t.config.LimitEntrySize)
		return
	}
	if size, limit := len(e.Key), t.config.MaxKeySize(); size > limit {
		err = errors.Wrapf(ErrEntryTooLarge, "tree.Put: key of %d bytes exceeds %d", size, limit)
		return
	}

	h, err := t.findLeaf(e.KeyType, e.Key, true)
	if err != nil {
		return
	}
	n := t.node(h)
	if r = t.put(n, e); r.State == arraymap.Overflow {
		// the leaf holds the maximum number of entries: split it now
		t.scheduleNode(h)
		if err = t.Flush(); err != nil {
			return
		}
		if h, err = t.findLeaf(e.KeyType, e.Key, true); err != nil {
			return
		}
		n = t.node(h)
		if r = t.put(n, e); r.State == arraymap.Overflow {
			panic(errors.AssertionFailedf("tree.Put: leaf overflows after flush"))
		}
	}

	if r.State == arraymap.Insert {
		t.entries++
	}
	t.changed()
	n.modified = true
	if t.full(n) {
		t.scheduleNode(h)
	}
	return
}

// Remove deletes the key of e. A non-root leaf falling under a quarter of
// its threshold is scheduled for merging.
func (t *Tree) Remove(e arraymap.Entry) (r arraymap.Result, err error) {
	if t.closed.Load() {
		err = ErrClosed
		return
	}
	h, err := t.findLeaf(e.KeyType, e.Key, true)
	if err != nil {
		return
	}
	n := t.node(h)
	if r = n.data.Remove(e); r.State != arraymap.Removed {
		return
	}
	t.entries--
	t.changed()
	n.modified = true
	if n.parent != noParent && t.underfull(n) {
		t.scheduleNode(h)
	}
	return
}

func (t *Tree) changed() {
	t.modCount.Add(1)
	t.epoch.Add(1)
}

// findLeaf descends to the leaf covering key, or to the leftmost leaf when
// byKey is false.
func (t *Tree) findLeaf(keyType arraymap.Type, key []byte, byKey bool) (h handle, err error) {
	h = t.root
	for n := t.node(h); n.kind == interior; n = t.node(h) {
		i := 0
		if byKey {
			i = max(0, n.data.Floor(keyType, key))
		}
		if h, err = t.resolve(h, i); err != nil {
			return
		}
	}
	return
}
