// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"iter"

	"github.com/cockroachdb/errors"
	"github.com/dacapoday/amtree/arraymap"
	"github.com/dacapoday/amtree/block"
	"github.com/dacapoday/amtree/iterator"
)

// EntryIterator walks the entries of a tree in key order. Any mutation or
// rebalancing of the tree invalidates it; the next call then fails with
// ErrConcurrentModification.
type EntryIterator struct {
	tree  *Tree
	path  []frame
	err   error
	epoch uint64
	valid bool
}

type frame struct {
	h handle
	i int
}

var _ iterator.Typed[arraymap.Type] = (*EntryIterator)(nil)

// Iter returns an unpositioned iterator.
func (t *Tree) Iter() *EntryIterator {
	return &EntryIterator{tree: t, epoch: t.epoch.Load()}
}

func (it *EntryIterator) Valid() bool {
	return it.valid
}

func (it *EntryIterator) Error() error {
	return it.err
}

func (it *EntryIterator) leaf() *arraymap.ArrayMap {
	top := it.path[len(it.path)-1]
	return it.tree.node(top.h).data
}

func (it *EntryIterator) index() int {
	return it.path[len(it.path)-1].i
}

func (it *EntryIterator) Key() []byte {
	return it.leaf().Key(it.index())
}

func (it *EntryIterator) Val() []byte {
	return it.leaf().Value(it.index())
}

func (it *EntryIterator) KeyType() arraymap.Type {
	return it.leaf().KeyType(it.index())
}

func (it *EntryIterator) ValType() arraymap.Type {
	return it.leaf().ValueType(it.index())
}

// Entry returns the current entry; its slices alias the leaf buffer.
func (it *EntryIterator) Entry() arraymap.Entry {
	return it.leaf().Entry(it.index())
}

// check reports whether the tree is still the one the path was built on.
func (it *EntryIterator) check() bool {
	if it.err != nil {
		return false
	}
	if it.tree.closed.Load() {
		it.fail(ErrClosed)
		return false
	}
	if it.tree.epoch.Load() != it.epoch {
		it.fail(errors.Wrap(ErrConcurrentModification, "tree changed under the iterator"))
		return false
	}
	return true
}

func (it *EntryIterator) fail(err error) bool {
	it.err = err
	it.valid = false
	it.path = it.path[:0]
	return false
}

// restart drops an error caused by an earlier modification, so that seeking
// again starts over on the current tree.
func (it *EntryIterator) restart() bool {
	if errors.Is(it.err, ErrConcurrentModification) {
		it.err = nil
	}
	if it.err != nil {
		return false
	}
	if it.tree.closed.Load() {
		return it.fail(ErrClosed)
	}
	it.epoch = it.tree.epoch.Load()
	it.path = it.path[:0]
	it.valid = false
	return true
}

// descend pushes frames from h down to a leaf, taking the first child
// (or the last one when last is set) at every interior node.
func (it *EntryIterator) descend(h handle, last bool) bool {
	t := it.tree
	for {
		n := t.node(h)
		i := 0
		if last {
			i = n.data.Len() - 1
		}
		it.path = append(it.path, frame{h, i})
		if n.kind == leaf {
			return true
		}
		var err error
		if h, err = t.resolve(h, i); err != nil {
			return it.fail(err)
		}
	}
}

func (it *EntryIterator) SeekFirst() bool {
	if !it.restart() || !it.descend(it.tree.root, false) {
		return false
	}
	return it.forward()
}

func (it *EntryIterator) SeekLast() bool {
	if !it.restart() || !it.descend(it.tree.root, true) {
		return false
	}
	return it.backward()
}

// Seek positions at the first key not less than the given bytes key.
func (it *EntryIterator) Seek(key []byte) bool {
	return it.SeekTyped(arraymap.TypeBytes, key)
}

func (it *EntryIterator) SeekTyped(keyType arraymap.Type, key []byte) bool {
	if !it.restart() {
		return false
	}
	t := it.tree
	h := t.root
	for {
		n := t.node(h)
		if n.kind == leaf {
			i, _ := n.data.NearestIndex(keyType, key)
			it.path = append(it.path, frame{h, i})
			return it.forward()
		}
		i := max(0, n.data.Floor(keyType, key))
		it.path = append(it.path, frame{h, i})
		var err error
		if h, err = t.resolve(h, i); err != nil {
			return it.fail(err)
		}
	}
}

func (it *EntryIterator) Next() bool {
	if !it.valid || !it.check() {
		return false
	}
	it.path[len(it.path)-1].i++
	return it.forward()
}

func (it *EntryIterator) Prev() bool {
	if !it.valid || !it.check() {
		return false
	}
	it.path[len(it.path)-1].i--
	return it.backward()
}

// forward settles on the first entry at or after the current position,
// skipping exhausted and empty leaves.
func (it *EntryIterator) forward() bool {
	t := it.tree
	for {
		top := it.path[len(it.path)-1]
		if top.i < t.node(top.h).data.Len() {
			it.valid = true
			return true
		}
		// climb to the first ancestor with a next child
		for {
			it.path = it.path[:len(it.path)-1]
			if len(it.path) == 0 {
				it.valid = false
				return false
			}
			up := &it.path[len(it.path)-1]
			up.i++
			if up.i < t.node(up.h).data.Len() {
				c, err := t.resolve(up.h, up.i)
				if err != nil {
					return it.fail(err)
				}
				if !it.descend(c, false) {
					return false
				}
				break
			}
		}
	}
}

// backward settles on the last entry at or before the current position.
func (it *EntryIterator) backward() bool {
	t := it.tree
	for {
		top := it.path[len(it.path)-1]
		if top.i >= 0 && top.i < t.node(top.h).data.Len() {
			it.valid = true
			return true
		}
		for {
			it.path = it.path[:len(it.path)-1]
			if len(it.path) == 0 {
				it.valid = false
				return false
			}
			up := &it.path[len(it.path)-1]
			up.i--
			if up.i >= 0 {
				c, err := t.resolve(up.h, up.i)
				if err != nil {
					return it.fail(err)
				}
				if !it.descend(c, true) {
					return false
				}
				break
			}
		}
	}
}

// All yields every entry in key order. Entries alias the leaf buffers.
func (t *Tree) All() iter.Seq2[arraymap.Entry, error] {
	return func(yield func(arraymap.Entry, error) bool) {
		it := t.Iter()
		for it.SeekFirst(); it.Valid(); it.Next() {
			if !yield(it.Entry(), nil) {
				return
			}
		}
		if err := it.Error(); err != nil {
			yield(arraymap.Entry{}, err)
		}
	}
}

// NodeInfo describes one node of the tree.
type NodeInfo struct {
	Pointer  block.Pointer
	Level    uint8
	Count    int
	Used     int
	Capacity int
	Modified bool
}

// NodeIterator walks every node depth-first, parents before children,
// loading nodes that are not materialized yet.
type NodeIterator struct {
	tree  *Tree
	stack []handle
	cur   NodeInfo
	err   error
	epoch uint64
}

func (t *Tree) NodeIter() *NodeIterator {
	it := &NodeIterator{tree: t, epoch: t.epoch.Load()}
	if t.closed.Load() {
		it.err = ErrClosed
		return it
	}
	it.stack = append(it.stack, t.root)
	return it
}

// Next moves to the next node.
func (it *NodeIterator) Next() bool {
	if it.err != nil || len(it.stack) == 0 {
		return false
	}
	t := it.tree
	if t.closed.Load() {
		it.err = ErrClosed
		return false
	}
	if t.epoch.Load() != it.epoch {
		it.err = errors.Wrap(ErrConcurrentModification, "tree changed under the node iterator")
		return false
	}

	h := it.stack[len(it.stack)-1]
	it.stack = it.stack[:len(it.stack)-1]
	n := t.node(h)
	if n.kind == interior {
		for i := n.data.Len() - 1; i >= 0; i-- {
			c, err := t.resolve(h, i)
			if err != nil {
				it.err = err
				return false
			}
			it.stack = append(it.stack, c)
		}
	}
	it.cur = NodeInfo{
		Pointer:  n.ptr,
		Level:    n.level,
		Count:    n.data.Len(),
		Used:     n.data.UsedSpace(),
		Capacity: n.data.Capacity(),
		Modified: n.modified,
	}
	return true
}

func (it *NodeIterator) Node() NodeInfo {
	return it.cur
}

func (it *NodeIterator) Error() error {
	return it.err
}

// Nodes yields every node depth-first. Check NodeIter for errors.
func (t *Tree) Nodes() iter.Seq[NodeInfo] {
	return func(yield func(NodeInfo) bool) {
		for it := t.NodeIter(); it.Next(); {
			if !yield(it.Node()) {
				return
			}
		}
	}
}
