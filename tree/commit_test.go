// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/dacapoday/amtree/arraymap"
	"github.com/dacapoday/amtree/mem"
	"github.com/stretchr/testify/require"
)

func seq(beg, end int) (keys []int) {
	for i := beg; i < end; i++ {
		keys = append(keys, i)
	}
	return
}

func TestCommitReopen(t *testing.T) {
	file := new(mem.File)
	tr, store := openTestTree(t, file, Config{LeafSize: 256, NodeSize: 512, LeafCompressor: "s2", NodeCompressor: "zstd"})
	id := tr.ID()

	putAll(t, tr, seq(0, 500))
	require.NoError(t, tr.Commit())
	height := tr.Height()
	snapshot := file.Clone()

	// a new tree over the committed file keeps the persisted config
	tr2, _ := openTestTree(t, snapshot, Config{LeafSize: 4096})
	require.Equal(t, id, tr2.ID())
	require.Equal(t, 500, tr2.Len())
	require.Equal(t, height, tr2.Height())
	require.Equal(t, 256, tr2.Config().LeafSize)
	require.Equal(t, "zstd", tr2.Config().NodeCompressor)
	requireAll(t, tr2, seq(0, 500))
	require.NoError(t, tr2.IntegrityCheck())

	// only the nodes on the path are materialized after a lookup
	tr3, _ := openTestTree(t, snapshot.Clone(), Config{})
	requireAll(t, tr3, []int{250})
	stats := tr3.Stats()
	require.Equal(t, 1, stats.Leaves)
	require.Equal(t, height-1, stats.Interiors)

	require.Positive(t, store.Stats().Generation)
}

func TestCommitFreesReplacedBlocks(t *testing.T) {
	file := new(mem.File)
	tr, store := openTestTree(t, file, smallConfig)

	putAll(t, tr, seq(0, 300))
	require.NoError(t, tr.Commit())
	count := store.Stats().BlockCount

	// rewriting the same keys over and over must reuse the blocks
	for round := range 10 {
		for _, i := range seq(0, 300) {
			_, err := tr.Put(arraymap.BytesEntry(testKey(i), arraymap.EncodeInt64(int64(i+round))))
			require.NoError(t, err)
		}
		require.NoError(t, tr.Commit())
	}
	require.LessOrEqual(t, store.Stats().BlockCount, 3*count)
	require.Zero(t, store.Stats().Pending)
	require.NoError(t, tr.IntegrityCheck())

	desc, err := DecodeDescriptor(store.Descriptor())
	require.NoError(t, err)
	s, err := Verify(store, desc)
	require.NoError(t, err)
	require.Equal(t, 300, s.Entries)
}

func TestRollback(t *testing.T) {
	file := new(mem.File)
	tr, _ := openTestTree(t, file, smallConfig)

	putAll(t, tr, seq(0, 100))
	require.NoError(t, tr.Commit())

	putAll(t, tr, seq(100, 400))
	for _, i := range seq(0, 50) {
		_, err := tr.Remove(testEntry(i))
		require.NoError(t, err)
	}
	require.NoError(t, tr.Flush())
	require.Equal(t, 350, tr.Len())

	require.NoError(t, tr.Rollback())
	require.Equal(t, 100, tr.Len())
	requireAll(t, tr, seq(0, 100))
	r, err := tr.Get(testEntry(200))
	require.NoError(t, err)
	require.Equal(t, arraymap.NoMatch, r.State)
	require.NoError(t, tr.IntegrityCheck())

	// the tree stays usable after a rollback
	putAll(t, tr, seq(100, 200))
	require.NoError(t, tr.Commit())
	requireAll(t, tr, seq(0, 200))
}

func TestRollbackBeforeFirstCommit(t *testing.T) {
	tr, _ := openTestTree(t, new(mem.File), smallConfig)
	putAll(t, tr, seq(0, 100))
	require.NoError(t, tr.Rollback())
	require.Zero(t, tr.Len())
	require.Equal(t, 1, tr.Height())
}

func TestCorruptedLeaf(t *testing.T) {
	file := new(mem.File)
	tr, store := openTestTree(t, file, smallConfig)

	putAll(t, tr, seq(0, 100))
	require.NoError(t, tr.Commit())

	// break the order of the first leaf behind the tree's back
	h, err := tr.findLeaf(arraymap.TypeFirst, nil, false)
	require.NoError(t, err)
	n := tr.node(h)
	copy(n.data.Key(0), "zzz")
	n.modified = true
	require.NoError(t, tr.Commit())

	err = tr.IntegrityCheck()
	require.ErrorIs(t, err, ErrCorrupted)
	require.ErrorContains(t, err, "keys are out of order")

	desc, err := DecodeDescriptor(store.Descriptor())
	require.NoError(t, err)
	_, err = Verify(store, desc)
	require.ErrorIs(t, err, ErrCorrupted)
	require.ErrorContains(t, err, "keys are out of order")
}

// hookStore runs a callback in the middle of a store commit.
type hookStore struct {
	Store
	hook func()
}

func (s *hookStore) Commit(descriptor []byte) error {
	if s.hook != nil {
		s.hook()
	}
	return s.Store.Commit(descriptor)
}

func TestConcurrentModification(t *testing.T) {
	store := openTestStore(t, new(mem.File))
	defer store.Close()
	hooked := &hookStore{Store: store}
	tr, err := New(hooked, WithConfig(smallConfig))
	require.NoError(t, err)
	defer tr.Close()

	putAll(t, tr, seq(0, 10))
	hooked.hook = func() {
		putAll(t, tr, []int{10})
	}
	err = tr.Commit()
	require.ErrorIs(t, err, ErrConcurrentModification)
	require.True(t, errors.HasAssertionFailure(err))

	hooked.hook = nil
	require.NoError(t, tr.Commit())
	requireAll(t, tr, seq(0, 11))
}
