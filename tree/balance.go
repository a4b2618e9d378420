// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"maps"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/dacapoday/amtree/arraymap"
	"go.uber.org/zap"
)

func (s *levelSet) add(h handle) {
	s.mutex.Lock()
	if s.nodes == nil {
		s.nodes = make(map[handle]struct{})
	}
	s.nodes[h] = struct{}{}
	s.mutex.Unlock()
}

// swap empties the set and returns its members in handle order.
func (s *levelSet) swap() []handle {
	s.mutex.Lock()
	nodes := s.nodes
	s.nodes = nil
	s.mutex.Unlock()
	return slices.Sorted(maps.Keys(nodes))
}

func (s *levelSet) len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.nodes)
}

// scheduleNode defers the split or merge of h to the next flush.
func (t *Tree) scheduleNode(h handle) {
	t.schedule[t.node(h).level].add(h)
}

// Flush runs the scheduled splits and merges without persisting anything.
func (t *Tree) Flush() error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.balance()
}

// balance makes one pass over the schedule, from the leaves upward. Work a
// split or merge schedules at the level above is handled in the same pass;
// anything left over waits for the next flush.
func (t *Tree) balance() (err error) {
	for level := range MaxLevels {
		for _, h := range t.schedule[level].swap() {
			n := t.node(h)
			if n == nil || int(n.level) != level {
				continue
			}
			switch {
			case t.full(n) && n.data.Len() >= 2:
				if n.kind == leaf {
					err = t.splitLeaf(h)
				} else {
					err = t.splitNode(h)
				}
			case n.parent != noParent && t.underfull(n):
				err = t.merge(h)
			}
			if err != nil {
				return
			}
		}
	}
	return t.shrink()
}

// splitLeaf spreads an over-full leaf over new siblings. A root leaf is
// upgraded under a new interior root instead.
func (t *Tree) splitLeaf(h handle) (err error) {
	n := t.node(h)
	if n.parent == noParent {
		return t.upgrade(h)
	}

	parts := t.partition(n, false)
	if len(parts) < 2 {
		return
	}
	t.epoch.Add(1)
	n.data = parts[0]
	n.modified = true
	assertNode(n)

	p := t.node(n.parent)
	for _, part := range parts[1:] {
		c := t.newNode(leaf, 0, n.parent, part)
		t.link(p, c)
	}
	p.modified = true
	t.log.Debug("split leaf", zap.Int("parts", len(parts)), zap.Int("parentEntries", p.data.Len()))
	if t.full(p) {
		t.scheduleNode(n.parent)
	}
	return
}

// upgrade turns the root leaf into the first child of a new interior root
// and fills further leaves until each would overflow.
func (t *Tree) upgrade(h handle) (err error) {
	n := t.node(h)
	parts := t.partition(n, true)
	if len(parts) < 2 {
		return
	}
	t.epoch.Add(1)

	root := t.newNode(interior, 1, noParent, arraymap.New(t.config.NodeSize))
	r := t.node(root)
	t.put(r, arraymap.FirstEntry(placeholder, arraymap.TypePointer))
	r.children[firstKey] = h

	n.data = parts[0]
	n.parent = root
	n.modified = true
	for _, part := range parts[1:] {
		t.link(r, t.newNode(leaf, 0, root, part))
	}
	t.root = root
	assertNode(r)
	t.log.Debug("upgrade root leaf", zap.Int("leaves", len(parts)))
	if t.full(r) {
		t.scheduleNode(root)
	}
	return
}

// partition divides the buffer of n by its size threshold, or in halves when
// only the entry count is at its maximum.
func (t *Tree) partition(n *node, tail bool) []*arraymap.ArrayMap {
	limit := t.limit(n)
	var parts []*arraymap.ArrayMap
	if tail {
		parts = n.data.SplitManyTail(limit)
	} else {
		parts = n.data.SplitMany(limit)
	}
	if len(parts) < 2 && n.data.Len() >= arraymap.MaxEntryCount {
		left, right := n.data.Split(limit)
		parts = []*arraymap.ArrayMap{left, right}
	}
	return parts
}

// link adds a routing entry for the new child c, keyed by its first key.
func (t *Tree) link(p *node, c handle) {
	e := t.node(c).data.Entry(0)
	if r := t.put(p, routing(e.KeyType, e.Key)); r.State != arraymap.Insert {
		panic(errors.AssertionFailedf("link: routing key %v/%q already present (%v)", e.KeyType, e.Key, r.State))
	}
	p.children[childKey(e.KeyType, e.Key)] = c
}

// splitNode spreads an over-full interior node over new siblings. The first
// key of every new sibling moves up into the parent and is replaced by the
// first key in the sibling itself.
func (t *Tree) splitNode(h handle) (err error) {
	n := t.node(h)
	parts := t.partition(n, false)
	if len(parts) < 2 {
		return
	}
	if n.parent == noParent {
		if err = t.grow(h); err != nil {
			return
		}
	}
	t.epoch.Add(1)

	// partition the cached children by the part covering their key
	caches := make([]map[string]handle, len(parts))
	for i := range caches {
		caches[i] = make(map[string]handle)
	}
	for k, c := range n.children {
		keyType, key := parseChildKey(k)
		i := len(parts) - 1
		for i > 0 && arraymap.Compare(keyType, key, parts[i].KeyType(0), parts[i].Key(0)) < 0 {
			i--
		}
		caches[i][k] = c
	}

	n.data = parts[0]
	n.children = caches[0]
	n.modified = true
	p := t.node(n.parent)
	for i, part := range parts[1:] {
		promoted := part.Entry(0).Clone()
		part.RemoveAt(0)
		if r := part.Put(arraymap.FirstEntry(promoted.Value, arraymap.TypePointer)); r.State != arraymap.Insert {
			panic(errors.AssertionFailedf("splitNode: first key replacement %v", r.State))
		}

		c := t.newNode(interior, n.level, n.parent, part)
		sibling := t.node(c)
		for k, child := range caches[i+1] {
			if k == childKey(promoted.KeyType, promoted.Key) {
				k = firstKey
			}
			sibling.children[k] = child
			t.node(child).parent = c
		}
		if r := t.put(p, routing(promoted.KeyType, promoted.Key)); r.State != arraymap.Insert {
			panic(errors.AssertionFailedf("splitNode: promoted key already present (%v)", r.State))
		}
		p.children[childKey(promoted.KeyType, promoted.Key)] = c
		assertNode(sibling)
	}
	assertNode(n)
	p.modified = true
	t.log.Debug("split node", zap.Uint8("level", n.level), zap.Int("parts", len(parts)))
	if t.full(p) {
		t.scheduleNode(n.parent)
	}
	return
}

// grow puts a new single-entry root above the current root h.
func (t *Tree) grow(h handle) (err error) {
	n := t.node(h)
	if int(n.level)+1 >= MaxLevels {
		return errors.Wrapf(ErrOutOfSpace, "tree height limit %d reached", MaxLevels)
	}
	root := t.newNode(interior, n.level+1, noParent, arraymap.New(t.config.NodeSize))
	r := t.node(root)
	t.put(r, arraymap.FirstEntry(placeholder, arraymap.TypePointer))
	r.children[firstKey] = h
	n.parent = root
	t.root = root
	t.epoch.Add(1)
	t.log.Debug("grow", zap.Uint8("height", r.level+1))
	return
}

// merge folds an under-full node into its right sibling, or its left one
// when it is the last child, if both fit within one node. The right node of
// the pair is freed.
func (t *Tree) merge(h handle) (err error) {
	n := t.node(h)
	p := t.node(n.parent)
	if p.data.Len() < 2 {
		return
	}
	i, err := t.indexOf(h)
	if err != nil {
		return
	}
	left, right := i, i+1
	if right == p.data.Len() {
		left, right = i-1, i
	}

	lh, err := t.resolve(n.parent, left)
	if err != nil {
		return
	}
	rh, err := t.resolve(n.parent, right)
	if err != nil {
		return
	}
	l, r := t.node(lh), t.node(rh)

	sep := p.data.Entry(right).Clone()
	combined := l.data.UsedSpace() + r.data.UsedSpace() - arraymap.HeaderSize
	if r.kind == interior {
		combined += len(sep.Key)
	}
	if combined > t.limit(n) || l.data.Len()+r.data.Len() > arraymap.MaxEntryCount {
		return
	}
	t.epoch.Add(1)

	src := r.data
	if r.kind == interior {
		// the first key of the right node takes the separator it had in the parent
		src = r.data.Clone()
		if err = src.Resize(src.Capacity() + len(sep.Key) + 1); err != nil {
			return
		}
		first := src.RemoveAt(0)
		src.Put(arraymap.Entry{Key: sep.Key, KeyType: sep.KeyType, Value: first.Value, ValueType: arraymap.TypePointer})
		for k, c := range r.children {
			if k == firstKey {
				k = childKey(sep.KeyType, sep.Key)
			}
			l.children[k] = c
			t.node(c).parent = lh
		}
	}
	merged := l.data.Clone()
	merged.AppendAll(src)
	if merged.Capacity() < t.limit(n) {
		if err = merged.Resize(t.limit(n)); err != nil {
			return
		}
	}
	l.data = merged
	l.modified = true
	assertNode(l)

	p.data.RemoveAt(right)
	delete(p.children, childKey(sep.KeyType, sep.Key))
	p.modified = true
	if err = t.store.FreeBlock(r.ptr); err != nil {
		return
	}
	t.arena.release(rh)

	t.log.Debug("merge", zap.Uint8("level", n.level), zap.Int("entries", l.data.Len()))
	if t.underfull(l) {
		t.scheduleNode(lh)
	}
	if p.parent != noParent && t.underfull(p) {
		t.scheduleNode(l.parent)
	}
	return
}

// shrink replaces interior roots that have a single child by that child.
func (t *Tree) shrink() (err error) {
	for {
		r := t.node(t.root)
		if r.kind != interior || r.data.Len() != 1 {
			return
		}
		c, err := t.resolve(t.root, 0)
		if err != nil {
			return err
		}
		if err = t.store.FreeBlock(r.ptr); err != nil {
			return err
		}
		t.arena.release(t.root)
		t.node(c).parent = noParent
		t.root = c
		t.epoch.Add(1)
		t.log.Debug("shrink", zap.Int("height", t.Height()))
	}
}
