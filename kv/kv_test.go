// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"fmt"
	"maps"
	"path/filepath"
	"testing"

	"github.com/dacapoday/amtree/mem"
	"github.com/dacapoday/amtree/tree"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testOptions(t *testing.T) *Options {
	return &Options{
		Tree:      tree.Config{LeafSize: 512, NodeSize: 512},
		BlockSize: 512,
		Logger:    zaptest.NewLogger(t),
	}
}

func loadTestKV(t *testing.T, file *mem.File, opts *Options) *KV[*mem.File] {
	t.Helper()
	kv := new(KV[*mem.File])
	require.NoError(t, kv.Load(file, opts))
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestKVLoadFailureKeepsFile(t *testing.T) {
	file := new(mem.File)
	kv := loadTestKV(t, file, testOptions(t))
	require.NoError(t, kv.Set([]byte("hello"), []byte("world")))
	require.NoError(t, kv.Commit())

	copied := file.Clone()
	size := copied.Size()
	bad := &Options{BlockSize: 512, Tree: tree.Config{LeafSize: 1}}
	require.Error(t, new(KV[*mem.File]).Load(copied, bad))
	require.Equal(t, size, copied.Size())

	got, err := loadTestKV(t, copied, testOptions(t)).Get([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, []byte("world"), got)
}

// TestKVSetGet sets a single key-value pair and reads it back.
func TestKVSetGet(t *testing.T) {
	kv := loadTestKV(t, new(mem.File), testOptions(t))

	key := []byte("hello")
	val := []byte("world")
	require.NoError(t, kv.Set(key, val))

	got, err := kv.Get(key)
	require.NoError(t, err)
	require.Equal(t, val, got)

	got, err = kv.Get([]byte("missing"))
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, kv.Set([]byte("empty"), []byte{}))
	got, err = kv.Get([]byte("empty"))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)

	require.NoError(t, kv.Set(key, nil))
	got, err = kv.Get(key)
	require.NoError(t, err)
	require.Nil(t, got)
	require.Equal(t, 1, kv.Len())
}

// TestKVReload commits 1000 keys and reads them from a copy of the file.
func TestKVReload(t *testing.T) {
	file := new(mem.File)
	opts := testOptions(t)
	kv := loadTestKV(t, file, opts)

	for i := range 1000 {
		require.NoError(t, kv.Set(fmt.Appendf(nil, "key-%04d", i), fmt.Appendf(nil, "value-%d", i)))
	}
	require.NoError(t, kv.Commit())
	require.NoError(t, kv.Set([]byte("uncommitted"), []byte("x")))

	kv2 := loadTestKV(t, file.Clone(), &Options{Logger: opts.Logger})
	require.Equal(t, 1000, kv2.Len())
	require.Equal(t, 512, kv2.Config().LeafSize)
	for i := range 1000 {
		got, err := kv2.Get(fmt.Appendf(nil, "key-%04d", i))
		require.NoError(t, err)
		require.Equal(t, fmt.Appendf(nil, "value-%d", i), got)
	}
	got, err := kv2.Get([]byte("uncommitted"))
	require.NoError(t, err)
	require.Nil(t, got)

	s, err := kv2.Verify()
	require.NoError(t, err)
	require.Equal(t, 1000, s.Entries)
}

func TestKVRollback(t *testing.T) {
	kv := loadTestKV(t, new(mem.File), testOptions(t))
	require.NoError(t, kv.Set([]byte("a"), []byte("1")))
	require.NoError(t, kv.Commit())

	require.NoError(t, kv.Set([]byte("a"), []byte("2")))
	require.NoError(t, kv.Delete([]byte("a")))
	require.NoError(t, kv.Set([]byte("b"), []byte("3")))
	require.NoError(t, kv.Rollback())

	got, err := kv.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)
	require.Equal(t, 1, kv.Len())
}

func TestKVBatch(t *testing.T) {
	kv := loadTestKV(t, new(mem.File), testOptions(t))

	changes := map[string][]byte{}
	for i := range 100 {
		changes[fmt.Sprintf("k%02d", i)] = []byte("v")
	}
	require.NoError(t, kv.Batch(func(yield func([]byte, []byte) bool) {
		for k, v := range changes {
			if !yield([]byte(k), v) {
				return
			}
		}
	}))
	require.Equal(t, 100, kv.Len())
	require.Zero(t, kv.Stats().Tree.Modified)

	// an oversized entry fails the whole batch
	err := kv.Batch(func(yield func([]byte, []byte) bool) {
		yield([]byte("k00"), nil)
		yield([]byte("big"), make([]byte, tree.DefaultLimitEntrySize))
	})
	require.ErrorIs(t, err, tree.ErrEntryTooLarge)
	require.Equal(t, 100, kv.Len())

	got := map[string][]byte{}
	for k, v := range kv.All() {
		got[string(k)] = v
	}
	require.True(t, maps.EqualFunc(changes, got, func(a, b []byte) bool { return string(a) == string(b) }))
}

func TestKVTruncate(t *testing.T) {
	kv := loadTestKV(t, new(mem.File), testOptions(t))
	for i := range 500 {
		require.NoError(t, kv.Set(fmt.Appendf(nil, "key-%04d", i), make([]byte, 32)))
	}
	require.NoError(t, kv.Commit())
	before := kv.Stats().Block

	require.NoError(t, kv.Truncate())
	require.Zero(t, kv.Len())
	after := kv.Stats().Block
	require.Greater(t, after.FreeBlocks, before.FreeBlocks)
	require.Zero(t, after.Pending)

	s, err := kv.Verify()
	require.NoError(t, err)
	require.Zero(t, s.Entries)

	require.NoError(t, kv.Set([]byte("again"), []byte("1")))
	require.NoError(t, kv.Commit())
	require.Equal(t, 1, kv.Len())
}

func TestKVClosed(t *testing.T) {
	kv := loadTestKV(t, new(mem.File), testOptions(t))
	require.NoError(t, kv.Close())
	require.NoError(t, kv.Close())

	_, err := kv.Get([]byte("a"))
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, kv.Set([]byte("a"), []byte("b")), ErrClosed)
	require.ErrorIs(t, kv.Commit(), ErrClosed)
	require.ErrorIs(t, kv.Rollback(), ErrClosed)
	require.Nil(t, kv.Iter())
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	opts := testOptions(t)

	db, err := Open(path, opts)
	require.NoError(t, err)
	require.NoError(t, db.Set([]byte("a"), []byte("1")))
	require.NoError(t, db.Commit())

	_, err = Open(path, opts)
	require.ErrorIs(t, err, ErrLocked)
	require.NoError(t, db.Close())

	ro := *opts
	ro.ReadOnly = true
	db, err = Open(path, &ro)
	require.NoError(t, err)
	defer db.Close()
	got, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)
	require.ErrorIs(t, db.Set([]byte("b"), []byte("2")), ErrReadOnly)

	// readers share the lock
	db2, err := Open(path, &ro)
	require.NoError(t, err)
	require.NoError(t, db2.Close())
}

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions([]byte("blockSize: 8192\nreadOnly: true\ntree:\n  leafSize: 1024\n  nodeCompressor: s2\n"))
	require.NoError(t, err)
	require.Equal(t, 8192, opts.BlockSize)
	require.True(t, opts.ReadOnly)
	require.Equal(t, 1024, opts.Tree.LeafSize)
	require.Equal(t, tree.DefaultNodeSize, opts.Tree.NodeSize)
	require.Equal(t, "s2", opts.Tree.NodeCompressor)

	_, err = ParseOptions([]byte("pageSize: 1\n"))
	require.Error(t, err)
	_, err = ParseOptions([]byte("tree:\n  leafCompressor: gzip\n"))
	require.Error(t, err)

	opts, err = ParseOptions(nil)
	require.NoError(t, err)
	require.Equal(t, tree.DefaultConfig(), opts.Tree)

	_, err = LoadOptions(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
