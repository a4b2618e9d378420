// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/dacapoday/amtree/arraymap"
	"github.com/dacapoday/amtree/block"
)

// handle addresses a node in the arena.
type handle uint32

const noParent handle = math.MaxUint32

type kind uint8

const (
	leaf kind = iota
	interior
)

func (k kind) String() string {
	if k == leaf {
		return "leaf"
	}
	return "interior"
}

func (k kind) blockType() block.BlockType {
	if k == leaf {
		return block.BlockLeaf
	}
	return block.BlockInterior
}

// node is a materialized tree node. Interior nodes carry a cache of the
// children loaded so far, keyed by childKey of their routing entry. The
// ArrayMap stays authoritative; the cache only saves block reads.
type node struct {
	data     *arraymap.ArrayMap
	children map[string]handle
	ptr      block.Pointer
	parent   handle
	level    uint8
	kind     kind
	modified bool
}

// arena owns every materialized node. Freed slots are reused.
type arena struct {
	nodes []*node
	free  []handle
}

func (a *arena) alloc(n *node) (h handle) {
	if l := len(a.free); l > 0 {
		h = a.free[l-1]
		a.free = a.free[:l-1]
		a.nodes[h] = n
		return
	}
	h = handle(len(a.nodes))
	a.nodes = append(a.nodes, n)
	return
}

func (a *arena) get(h handle) *node {
	if int(h) >= len(a.nodes) {
		return nil
	}
	return a.nodes[h]
}

func (a *arena) release(h handle) {
	a.nodes[h] = nil
	a.free = append(a.free, h)
}

func (a *arena) live() (n int) {
	return len(a.nodes) - len(a.free)
}

func (a *arena) reset() {
	a.nodes, a.free = nil, nil
}

func childKey(keyType arraymap.Type, key []byte) string {
	b := make([]byte, 0, len(key)+1)
	b = append(b, byte(keyType))
	return string(append(b, key...))
}

func parseChildKey(k string) (arraymap.Type, []byte) {
	return arraymap.Type(k[0]), []byte(k[1:])
}

var firstKey = childKey(arraymap.TypeFirst, nil)

var placeholder = block.Placeholder().Encode()

// routing returns the interior entry that points at a child not yet written.
func routing(keyType arraymap.Type, key []byte) arraymap.Entry {
	return arraymap.Entry{Key: key, KeyType: keyType, Value: placeholder, ValueType: arraymap.TypePointer}
}

func (t *Tree) node(h handle) *node {
	return t.arena.get(h)
}

func (t *Tree) newNode(k kind, level uint8, parent handle, data *arraymap.ArrayMap) handle {
	n := &node{data: data, parent: parent, level: level, kind: k, modified: true}
	if k == interior {
		n.children = make(map[string]handle)
	}
	return t.arena.alloc(n)
}

// resolve returns the child behind entry i of the interior node h, loading
// it from the store on a cache miss.
func (t *Tree) resolve(h handle, i int) (c handle, err error) {
	p := t.node(h)
	k := childKey(p.data.KeyType(i), p.data.Key(i))
	if c, ok := p.children[k]; ok {
		return c, nil
	}

	if p.data.ValueType(i) != arraymap.TypePointer {
		err = errors.Wrapf(ErrCorrupted, "entry %d of level %d node holds a %v value", i, p.level, p.data.ValueType(i))
		return
	}
	ptr, err := block.DecodePointer(p.data.Value(i))
	if err != nil {
		return
	}
	n, err := t.load(ptr, p.level-1)
	if err != nil {
		return
	}
	n.parent = h
	c = t.arena.alloc(n)
	p.children[k] = c
	return
}

// load reads the node stored at ptr and checks it against the expected level.
func (t *Tree) load(ptr block.Pointer, level uint8) (n *node, err error) {
	if ptr.IsPlaceholder() {
		err = errors.Wrapf(ErrCorrupted, "level %d child was never written", level)
		return
	}
	k := leaf
	if level > 0 {
		k = interior
	}
	if ptr.Type != k.blockType() || ptr.Level != level {
		err = errors.Wrapf(ErrCorrupted, "expected %v at level %d, found %v at level %d", k, level, ptr.Type, ptr.Level)
		return
	}
	data, err := t.store.ReadBlock(ptr)
	if err != nil {
		return
	}
	m, err := arraymap.Open(data)
	if err != nil {
		return
	}
	if k == interior {
		if err = checkFirst(m); err != nil {
			return
		}
	}
	n = &node{data: m, ptr: ptr, parent: noParent, level: level, kind: k}
	if k == interior {
		n.children = make(map[string]handle)
	}
	return
}

func checkFirst(m *arraymap.ArrayMap) error {
	if m.Len() == 0 {
		return errors.Wrap(ErrCorrupted, "interior node without entries")
	}
	if !m.Entry(0).First() {
		return errors.Wrap(ErrCorrupted, "interior node does not start with the first key")
	}
	return nil
}

// indexOf returns the index of the routing entry of child c in its parent.
func (t *Tree) indexOf(c handle) (i int, err error) {
	n := t.node(c)
	p := t.node(n.parent)
	for k, h := range p.children {
		if h != c {
			continue
		}
		keyType, key := parseChildKey(k)
		var found bool
		if i, found = p.data.NearestIndex(keyType, key); found {
			return
		}
		break
	}
	err = errors.AssertionFailedf("level %d node is not cached by its parent", n.level)
	return
}

func (t *Tree) limit(n *node) int {
	if n.kind == leaf {
		return t.config.LeafSize
	}
	return t.config.NodeSize
}

func (t *Tree) overfull(n *node) bool {
	return n.data.UsedSpace() > t.limit(n)
}

// full reports whether n needs a split: over its size threshold or holding
// the maximum number of entries.
func (t *Tree) full(n *node) bool {
	return t.overfull(n) || n.data.Len() >= arraymap.MaxEntryCount
}

func (t *Tree) underfull(n *node) bool {
	return n.data.UsedSpace() < t.limit(n)/4
}

// put inserts into a node buffer, growing it once when the entry does not fit.
func (t *Tree) put(n *node, e arraymap.Entry) (r arraymap.Result) {
	if r = n.data.Put(e); r.State != arraymap.Overflow {
		return
	}
	if n.data.Len() >= arraymap.MaxEntryCount {
		return
	}
	if err := n.data.Resize(n.data.Capacity() + e.Size()); err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "resize level %d node", n.level))
	}
	if r = n.data.Put(e); r.State == arraymap.Overflow {
		panic(errors.AssertionFailedf("level %d node overflows after resize to %d", n.level, n.data.Capacity()))
	}
	return
}
