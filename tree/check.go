// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"github.com/cockroachdb/errors"
	"github.com/dacapoday/amtree/arraymap"
)

type Stats struct {
	Entries   int
	Height    int
	Leaves    int // materialized
	Interiors int // materialized
	Modified  int
	Scheduled int
}

// Stats reports the in-memory state of the tree. Only materialized nodes are
// counted.
func (t *Tree) Stats() (s Stats) {
	if t.closed.Load() {
		return
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()
	s.Entries = int(t.entries)
	s.Height = int(t.node(t.root).level) + 1
	for _, n := range t.arena.nodes {
		if n == nil {
			continue
		}
		if n.kind == leaf {
			s.Leaves++
		} else {
			s.Interiors++
		}
		if n.modified {
			s.Modified++
		}
	}
	for i := range t.schedule {
		s.Scheduled += t.schedule[i].len()
	}
	return
}

// bound is an optional key limit.
type bound struct {
	keyType arraymap.Type
	key     []byte
	set     bool
}

func (b bound) below(keyType arraymap.Type, key []byte) bool {
	return b.set && arraymap.Compare(keyType, key, b.keyType, b.key) < 0
}

func (b bound) atOrAbove(keyType arraymap.Type, key []byte) bool {
	return b.set && arraymap.Compare(keyType, key, b.keyType, b.key) >= 0
}

// IntegrityCheck walks the whole tree, loading every node, and verifies
// buffer layouts, routing entries, levels, parent links and key ranges.
func (t *Tree) IntegrityCheck() (err error) {
	if t.closed.Load() {
		return ErrClosed
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()

	r := t.node(t.root)
	if r.parent != noParent {
		return errors.AssertionFailedf("root has a parent")
	}
	entries, err := t.check(t.root, bound{}, bound{})
	if err != nil {
		return
	}
	if entries != int(t.entries) {
		return errors.Wrapf(ErrCorrupted, "tree holds %d entries, counted %d", entries, t.entries)
	}
	return
}

// check verifies the subtree at h against the key range [lo, hi) and
// returns the number of leaf entries below it.
func (t *Tree) check(h handle, lo, hi bound) (entries int, err error) {
	n := t.node(h)
	if err = n.data.IntegrityCheck(); err != nil {
		return 0, errors.Wrapf(err, "level %d %v", n.level, n.kind)
	}
	count := n.data.Len()
	if count > 0 {
		first, last := n.data.Entry(0), n.data.Entry(count-1)
		if n.kind == leaf || !first.First() {
			if lo.below(first.KeyType, first.Key) {
				return 0, errors.Wrapf(ErrCorrupted, "level %d %v: key %v/%q below its range", n.level, n.kind, first.KeyType, first.Key)
			}
		}
		if hi.atOrAbove(last.KeyType, last.Key) {
			return 0, errors.Wrapf(ErrCorrupted, "level %d %v: key %v/%q beyond its range", n.level, n.kind, last.KeyType, last.Key)
		}
	}
	if n.kind == leaf {
		if n.level != 0 {
			return 0, errors.Wrapf(ErrCorrupted, "leaf at level %d", n.level)
		}
		return count, nil
	}

	if err = checkFirst(n.data); err != nil {
		return 0, errors.Wrapf(err, "level %d", n.level)
	}
	for i := range count {
		e := n.data.Entry(i)
		if e.ValueType != arraymap.TypePointer {
			return 0, errors.Wrapf(ErrCorrupted, "level %d entry %d holds a %v value", n.level, i, e.ValueType)
		}
		var c handle
		if c, err = t.resolve(h, i); err != nil {
			return
		}
		child := t.node(c)
		if child.level+1 != n.level {
			return 0, errors.Wrapf(ErrCorrupted, "level %d node has a child at level %d", n.level, child.level)
		}
		if child.parent != h {
			return 0, errors.AssertionFailedf("level %d child %d has a stale parent link", child.level, i)
		}

		clo, chi := lo, hi
		if i > 0 {
			clo = bound{e.KeyType, e.Key, true}
		}
		if i+1 < count {
			chi = bound{n.data.KeyType(i + 1), n.data.Key(i + 1), true}
		}
		var sub int
		if sub, err = t.check(c, clo, chi); err != nil {
			return
		}
		entries += sub
	}
	return
}
