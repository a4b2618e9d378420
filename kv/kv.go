// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package kv is a file-backed key/value database on top of the tree.
//
// Changes stay in memory until Commit. A crash or Rollback returns the
// database to the last commit.
package kv

import (
	"bytes"
	"iter"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dacapoday/amtree"
	"github.com/dacapoday/amtree/arraymap"
	"github.com/dacapoday/amtree/block"
	"github.com/dacapoday/amtree/internal/flock"
	"github.com/dacapoday/amtree/tree"
	"go.uber.org/zap"
)

var (
	ErrClosed   = amtree.ErrClosed
	ErrReadOnly = amtree.ErrReadOnly
	ErrLocked   = amtree.ErrLocked
)

type File = block.File

type DB = KV[*os.File]

// Open opens or creates the database file at path and locks it: exclusively
// for writing, shared when opts.ReadOnly is set. opts may be nil.
func Open(path string, opts *Options) (db *DB, err error) {
	if opts == nil {
		opts = new(Options)
	}
	flag := os.O_RDWR | os.O_CREATE
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flag, 0600)
	if err != nil {
		return
	}
	if err = flock.Lock(file, opts.ReadOnly); err != nil {
		file.Close()
		return
	}

	db = new(DB)
	if err = db.Load(file, opts); err != nil {
		file.Close()
		db = nil
		return
	}
	opts.logger().Info("database opened",
		zap.String("path", path),
		zap.Bool("readOnly", opts.ReadOnly),
		zap.Int("entries", db.tree.Len()))
	return
}

// KV is a database over any File. The methods are safe for concurrent use;
// iterators are not.
type KV[F File] struct {
	mutex sync.Mutex
	block block.Store[F]
	tree  *tree.Tree
	opts  Options
	log   *zap.Logger
}

// Load opens the database stored in file. opts may be nil. On failure the
// file is left open for the caller.
func (kv *KV[F]) Load(file F, opts *Options) (err error) {
	if opts == nil {
		opts = new(Options)
	}
	kv.opts = *opts
	kv.log = opts.logger()
	if err = kv.block.Load(file, opt{&kv.opts}); err != nil {
		return
	}
	kv.tree, err = tree.Open(&kv.block,
		tree.WithConfig(opts.Tree),
		tree.WithLogger(kv.log))
	if err != nil {
		kv.block.Release()
	}
	return
}

func (kv *KV[F]) File() F {
	return kv.block.File()
}

// Close drops uncommitted changes and closes the file.
func (kv *KV[F]) Close() (err error) {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	if kv.tree == nil {
		return
	}
	kv.tree.Close()
	kv.tree = nil
	err = kv.block.Close()
	kv.log.Info("database closed")
	return
}

// Get returns a copy of the value of key, or nil when it is absent.
// An empty value is returned as a non-nil empty slice.
func (kv *KV[F]) Get(key []byte) (val []byte, err error) {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	t := kv.tree
	if t == nil {
		err = ErrClosed
		return
	}
	r, err := t.Get(arraymap.BytesEntry(key, nil))
	if err != nil || r.State != arraymap.Match {
		return
	}
	val = append([]byte{}, r.Value...)
	return
}

// Set stores val under key. A nil val deletes the key.
func (kv *KV[F]) Set(key, val []byte) (err error) {
	if val == nil {
		return kv.Delete(key)
	}
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	t, err := kv.writable()
	if err != nil {
		return
	}
	_, err = t.Put(arraymap.BytesEntry(key, val))
	return
}

// Delete removes key. Deleting an absent key is not an error.
func (kv *KV[F]) Delete(key []byte) (err error) {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	t, err := kv.writable()
	if err != nil {
		return
	}
	_, err = t.Remove(arraymap.BytesEntry(key, nil))
	return
}

func (kv *KV[F]) writable() (t *tree.Tree, err error) {
	if t = kv.tree; t == nil {
		err = ErrClosed
	} else if kv.opts.ReadOnly {
		err = ErrReadOnly
	}
	return
}

// Batch applies changes in order and commits them. A nil value deletes.
// On error, everything since the last commit is rolled back.
func (kv *KV[F]) Batch(changes iter.Seq2[[]byte, []byte]) (err error) {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	t, err := kv.writable()
	if err != nil {
		return
	}
	for key, val := range changes {
		if val == nil {
			_, err = t.Remove(arraymap.BytesEntry(key, nil))
		} else {
			_, err = t.Put(arraymap.BytesEntry(key, val))
		}
		if err != nil {
			break
		}
	}
	if err == nil {
		err = t.Commit()
	}
	if err != nil {
		if rerr := t.Rollback(); rerr != nil {
			err = errors.WithSecondaryError(err, rerr)
		}
	}
	return
}

// Commit makes every change durable.
func (kv *KV[F]) Commit() (err error) {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	t, err := kv.writable()
	if err != nil {
		return
	}
	return t.Commit()
}

// Rollback drops every change since the last commit.
func (kv *KV[F]) Rollback() (err error) {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	t := kv.tree
	if t == nil {
		return ErrClosed
	}
	return t.Rollback()
}

// Len returns the number of keys, including uncommitted changes.
func (kv *KV[F]) Len() int {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	if t := kv.tree; t != nil {
		return t.Len()
	}
	return 0
}

// Iter returns an iterator over the current state, uncommitted changes
// included. Any write invalidates it.
func (kv *KV[F]) Iter() *tree.EntryIterator {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	if t := kv.tree; t != nil {
		return t.Iter()
	}
	return nil
}

// All yields copies of every key and value in key order.
func (kv *KV[F]) All() iter.Seq2[[]byte, []byte] {
	return func(yield func([]byte, []byte) bool) {
		it := kv.Iter()
		if it == nil {
			return
		}
		for it.SeekFirst(); it.Valid(); it.Next() {
			if !yield(bytes.Clone(it.Key()), bytes.Clone(it.Val())) {
				return
			}
		}
	}
}

type Stats struct {
	Tree  tree.Stats
	Block block.Stats
}

func (kv *KV[F]) Stats() (s Stats) {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	if t := kv.tree; t != nil {
		s.Tree = t.Stats()
		s.Block = kv.block.Stats()
	}
	return
}

// Config returns the configuration of the tree.
func (kv *KV[F]) Config() (c tree.Config) {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	if t := kv.tree; t != nil {
		c = t.Config()
	}
	return
}

// Verify checks every block of the last commit.
func (kv *KV[F]) Verify() (s tree.Summary, err error) {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	if kv.tree == nil {
		err = ErrClosed
		return
	}
	raw := kv.block.Descriptor()
	if len(raw) == 0 {
		s.Height = 1
		return
	}
	desc, err := tree.DecodeDescriptor(raw)
	if err != nil {
		return
	}
	return tree.Verify(&kv.block, desc)
}

// Truncate removes every key and commits, releasing the blocks of the
// previous tree. Uncommitted changes are dropped.
func (kv *KV[F]) Truncate() (err error) {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	t, err := kv.writable()
	if err != nil {
		return
	}
	if err = t.Rollback(); err != nil {
		return
	}

	config := t.Config()
	var nodes int
	if raw := kv.block.Descriptor(); len(raw) != 0 {
		var desc tree.Descriptor
		if desc, err = tree.DecodeDescriptor(raw); err != nil {
			return
		}
		if nodes, err = tree.Recycle(&kv.block, desc); err != nil {
			err = errors.CombineErrors(err, kv.block.Rollback())
			return
		}
	}

	fresh, err := tree.New(&kv.block, tree.WithConfig(config), tree.WithLogger(kv.log))
	if err == nil {
		err = fresh.Commit()
	}
	if err != nil {
		// the old tree is still the committed one
		err = errors.CombineErrors(err, kv.block.Rollback())
		return
	}
	t.Close()
	kv.tree = fresh
	kv.log.Info("database truncated", zap.Int("nodes", nodes))
	return
}
