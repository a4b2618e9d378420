// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"github.com/cockroachdb/errors"
	"github.com/dacapoday/amtree/arraymap"
	"go.uber.org/zap"
)

// Commit rebalances the tree, writes every modified node and publishes the
// new root. A mutation racing with Commit is reported as an assertion
// failure wrapping ErrConcurrentModification.
func (t *Tree) Commit() (err error) {
	if t.closed.Load() {
		return ErrClosed
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()

	before := t.modCount.Load()
	if err = t.balance(); err != nil {
		return errors.Wrap(err, "tree.Commit")
	}

	root := t.node(t.root)
	if root.ptr.IsPlaceholder() {
		root.modified = true
	}
	var stats persistStats
	if _, err = t.persist(t.root, &stats); err != nil {
		return errors.Wrap(err, "tree.Commit")
	}

	desc, err := t.descriptor().Encode()
	if err != nil {
		return errors.Wrap(err, "tree.Commit")
	}
	if err = t.store.Commit(desc); err != nil {
		return errors.Wrap(err, "tree.Commit")
	}

	if after := t.modCount.Load(); after != before {
		return errors.WithAssertionFailure(errors.Wrapf(ErrConcurrentModification,
			"tree.Commit: %d mutations during commit", after-before))
	}
	t.committed = before
	t.log.Debug("tree committed",
		zap.Int("written", stats.written),
		zap.Int("freed", stats.freed),
		zap.Int64("entries", t.entries),
		zap.Int("height", int(t.node(t.root).level)+1),
		zap.Stringer("root", t.node(t.root).ptr))
	return
}

func (t *Tree) descriptor() Descriptor {
	root := t.node(t.root)
	return Descriptor{
		ID:      t.id,
		Root:    root.ptr,
		Entries: uint64(max(t.entries, 0)),
		Height:  root.level + 1,
		Config:  t.config,
	}
}

type persistStats struct {
	written, freed int
}

// persist writes the modified nodes of the subtree at h, children first,
// and reports whether h got a new block.
func (t *Tree) persist(h handle, stats *persistStats) (written bool, err error) {
	n := t.node(h)
	if n.kind == interior {
		for k, c := range n.children {
			if written, err = t.persist(c, stats); err != nil {
				return
			}
			if !written {
				continue
			}
			keyType, key := parseChildKey(k)
			e := arraymap.Entry{Key: key, KeyType: keyType, Value: t.node(c).ptr.Encode(), ValueType: arraymap.TypePointer}
			if r := n.data.Put(e); r.State != arraymap.Update {
				panic(errors.AssertionFailedf("persist: routing entry %v/%q not found (%v)", keyType, key, r.State))
			}
			n.modified = true
		}
	}
	if !n.modified {
		return false, nil
	}

	ptr, err := t.store.WriteBlock(n.data.Bytes(), n.level, n.kind.blockType())
	if err != nil {
		return
	}
	if !n.ptr.IsPlaceholder() {
		if err = t.store.FreeBlock(n.ptr); err != nil {
			return
		}
		stats.freed++
	}
	stats.written++
	n.ptr = ptr
	n.modified = false
	return true, nil
}

// Rollback drops every change since the last commit and reloads the
// committed tree.
func (t *Tree) Rollback() (err error) {
	if t.closed.Load() {
		return ErrClosed
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()

	dirty := t.modCount.Load() - t.committed
	if err = t.store.Rollback(); err != nil {
		return errors.Wrap(err, "tree.Rollback")
	}
	raw := t.store.Descriptor()
	if len(raw) == 0 {
		t.reset()
	} else if err = t.restore(raw); err != nil {
		return errors.Wrap(err, "tree.Rollback")
	}
	t.changed()
	t.committed = t.modCount.Load()
	if dirty > 0 {
		t.log.Warn("tree rolled back",
			zap.Uint64("discarded", dirty),
			zap.Int64("entries", t.entries))
	}
	return
}
