// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dacapoday/amtree/arraymap"
	"github.com/dacapoday/amtree/block"
	"github.com/dacapoday/amtree/internal/task"
)

// BlockReader is the read side of a Store.
type BlockReader interface {
	ReadBlock(ptr block.Pointer) ([]byte, error)
}

// allocation is implemented by stores that can tell whether a block run
// is in use.
type allocation interface {
	Allocated(ptr block.Pointer) bool
}

// Summary counts what Verify visited.
type Summary struct {
	Nodes   int
	Leaves  int
	Entries int
	Height  int
	Stored  int64 // bytes on disk
	Payload int64 // bytes before compression
}

// Verify reads every node reachable from the committed descriptor, without
// materializing a Tree, and checks the same invariants as IntegrityCheck.
// Subtrees are read in parallel.
func Verify(store BlockReader, desc Descriptor) (s Summary, err error) {
	s.Height = int(desc.Height)
	if desc.Root.IsPlaceholder() {
		if desc.Entries != 0 {
			err = errors.Wrapf(ErrCorrupted, "empty tree claims %d entries", desc.Entries)
		}
		return
	}

	v := &verifier{store: store, group: task.WithLimit(16)}
	v.alloc, _ = store.(allocation)
	v.group.Go(func() error {
		return v.visit(desc.Root, desc.Height-1, bound{}, bound{})
	})
	if err = v.group.Wait(); err != nil {
		err = errors.Wrap(err, "tree.Verify")
		return
	}

	s.Nodes = int(v.nodes.Load())
	s.Leaves = int(v.leaves.Load())
	s.Entries = int(v.entries.Load())
	s.Stored = v.stored.Load()
	s.Payload = v.payload.Load()
	if uint64(s.Entries) != desc.Entries {
		err = errors.Wrapf(ErrCorrupted, "tree.Verify: descriptor claims %d entries, found %d", desc.Entries, s.Entries)
	}
	return
}

type verifier struct {
	store BlockReader
	alloc allocation
	group *task.Group

	nodes, leaves, entries atomic.Int64
	stored, payload        atomic.Int64
}

func (v *verifier) visit(ptr block.Pointer, level uint8, lo, hi bound) (err error) {
	if ptr.IsPlaceholder() {
		return errors.Wrapf(ErrCorrupted, "level %d child was never written", level)
	}
	typ := block.BlockLeaf
	if level > 0 {
		typ = block.BlockInterior
	}
	if ptr.Type != typ || ptr.Level != level {
		return errors.Wrapf(ErrCorrupted, "%v: expected %v at level %d", ptr, typ, level)
	}
	if v.alloc != nil && !v.alloc.Allocated(ptr) {
		return errors.Wrapf(ErrCorrupted, "%v: blocks are not allocated", ptr)
	}

	data, err := v.store.ReadBlock(ptr)
	if err != nil {
		return errors.Wrapf(err, "%v", ptr)
	}
	m, err := arraymap.Open(data)
	if err != nil {
		return errors.Wrapf(err, "%v", ptr)
	}
	if err = m.IntegrityCheck(); err != nil {
		return errors.Wrapf(err, "%v", ptr)
	}
	v.nodes.Add(1)
	v.stored.Add(int64(ptr.Stored))
	v.payload.Add(int64(ptr.Size))

	count := m.Len()
	if count > 0 {
		first, last := m.Entry(0), m.Entry(count-1)
		if !first.First() && lo.below(first.KeyType, first.Key) {
			return errors.Wrapf(ErrCorrupted, "%v: key %v/%q below its range", ptr, first.KeyType, first.Key)
		}
		if hi.atOrAbove(last.KeyType, last.Key) {
			return errors.Wrapf(ErrCorrupted, "%v: key %v/%q beyond its range", ptr, last.KeyType, last.Key)
		}
	}
	if level == 0 {
		v.leaves.Add(1)
		v.entries.Add(int64(count))
		return
	}

	if err = checkFirst(m); err != nil {
		return errors.Wrapf(err, "%v", ptr)
	}
	for i := range count {
		e := m.Entry(i)
		if e.ValueType != arraymap.TypePointer {
			return errors.Wrapf(ErrCorrupted, "%v: entry %d holds a %v value", ptr, i, e.ValueType)
		}
		child, err := block.DecodePointer(e.Value)
		if err != nil {
			return errors.Wrapf(err, "%v: entry %d", ptr, i)
		}
		clo, chi := lo, hi
		if i > 0 {
			clo = bound{e.KeyType, e.Key, true}
		}
		if i+1 < count {
			chi = bound{m.KeyType(i + 1), m.Key(i + 1), true}
		}
		v.group.Go(func() error {
			return v.visit(child, level-1, clo, chi)
		})
	}
	return
}

// BlockRecycler reads and frees blocks.
type BlockRecycler interface {
	BlockReader
	FreeBlock(ptr block.Pointer) error
}

// Recycle frees every block of the committed tree behind desc and returns
// the number of nodes released. The blocks become reusable after the next
// store commit.
func Recycle(store BlockRecycler, desc Descriptor) (nodes int, err error) {
	if desc.Root.IsPlaceholder() {
		return
	}
	stack := []block.Pointer{desc.Root}
	for len(stack) > 0 {
		ptr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if ptr.Type == block.BlockInterior {
			var data []byte
			if data, err = store.ReadBlock(ptr); err != nil {
				return
			}
			var m *arraymap.ArrayMap
			if m, err = arraymap.Open(data); err != nil {
				return
			}
			for _, e := range m.All() {
				var child block.Pointer
				if child, err = block.DecodePointer(e.Value); err != nil {
					return
				}
				stack = append(stack, child)
			}
		}
		if err = store.FreeBlock(ptr); err != nil {
			return
		}
		nodes++
	}
	return
}
