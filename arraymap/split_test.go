// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package arraymap

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func requireConserved(t *testing.T, original *ArrayMap, parts []*ArrayMap) {
	t.Helper()
	var keys [][]byte
	for _, part := range parts {
		require.NoError(t, part.IntegrityCheck())
		for _, e := range part.All() {
			keys = append(keys, e.Key)
		}
	}
	require.Len(t, keys, original.Len())
	for i, e := range original.All() {
		require.Equal(t, e.Key, keys[i], "entry %d", i)
	}
}

func TestSplitConservation(t *testing.T) {
	testCases := []struct {
		count, keyLen, valLen, capacity int
	}{
		{10, 4, 4, 64},
		{200, 8, 16, 256},
		{500, 12, 40, 1024},
		{50, 4, 200, 256},
		{3, 4, 300, 128},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%d_%d_%d_%d", tc.count, tc.keyLen, tc.valLen, tc.capacity), func(t *testing.T) {
			m := New(1 << 20)
			require.Equal(t, tc.count, fill(m, shuffled(newMockEntries(tc.count, tc.keyLen, tc.valLen))))

			many := m.SplitMany(tc.capacity)
			requireConserved(t, m, many)
			if len(many) > 1 {
				require.GreaterOrEqual(t, many[len(many)-1].Len(), 2)
			}

			tail := m.SplitManyTail(tc.capacity)
			requireConserved(t, m, tail)
			for _, part := range tail {
				if part.Len() > 1 {
					require.LessOrEqual(t, part.UsedSpace(), tc.capacity)
				}
			}

			left, right := m.Split(tc.capacity)
			requireConserved(t, m, []*ArrayMap{left, right})
			require.Positive(t, left.Len())
			require.Positive(t, right.Len())
		})
	}
}

func TestSplitManyBalance(t *testing.T) {
	m := New(1 << 16)
	fill(m, newMockEntries(300, 8, 24))

	parts := m.SplitMany(1024)
	require.Greater(t, len(parts), 1)
	for _, part := range parts {
		require.LessOrEqual(t, part.UsedSpace(), 1024)
		require.Equal(t, 1024, part.Capacity())
	}
	// byte budget balancing keeps parts within one entry of each other
	first, last := parts[0].UsedSpace(), parts[len(parts)-1].UsedSpace()
	require.InDelta(t, first, last, float64(2*(EntryHeaderSize+8+24+EntryPointerSize)))
}

func TestSplitManyTailFillsEachPart(t *testing.T) {
	m := New(1 << 16)
	fill(m, newMockEntries(300, 8, 24))
	fp := EntryHeaderSize + 8 + 24 + EntryPointerSize

	parts := m.SplitManyTail(1024)
	for _, part := range parts[:len(parts)-1] {
		require.Less(t, part.FreeSpace(), fp)
	}
}

func TestSplitSingleEntry(t *testing.T) {
	m := New(256)
	m.Put(StringEntry("only", []byte("one")))
	left, right := m.Split(256)
	require.Nil(t, right)
	require.Equal(t, 1, left.Len())
	require.Len(t, m.SplitMany(256), 1)
	require.Len(t, m.SplitManyTail(256), 1)
}

func TestAppendAll(t *testing.T) {
	entries := newMockEntries(60, 4, 10)
	a, b := New(256), New(2048)
	for _, e := range entries[:10] {
		require.Equal(t, Insert, a.Put(e).State)
	}
	for _, e := range entries[10:] {
		require.Equal(t, Insert, b.Put(e).State)
	}
	a.AppendAll(b)
	require.NoError(t, a.IntegrityCheck())
	require.Equal(t, 60, a.Len())
	require.Zero(t, a.FreeSpace())
}
