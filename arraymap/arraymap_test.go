// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package arraymap

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	m := New(4096)
	entries := newMockEntries(100, 8, 16)
	for _, e := range shuffled(entries) {
		require.Equal(t, Insert, m.Put(e).State)
	}
	require.NoError(t, m.IntegrityCheck())
	require.Equal(t, 100, m.Len())

	for _, e := range entries {
		r := m.Get(e)
		require.Equal(t, Match, r.State)
		require.Equal(t, e.Value, r.Value)
		require.Equal(t, e.ValueType, r.ValueType)
	}
	for i := 1; i < m.Len(); i++ {
		require.Negative(t, Compare(m.KeyType(i-1), m.Key(i-1), m.KeyType(i), m.Key(i)))
	}
}

func TestRandomPutRemove(t *testing.T) {
	m := New(8192)
	model := map[string][]byte{}
	for range 5000 {
		key := fmt.Sprintf("k%03d", rand.IntN(300))
		if rand.IntN(3) == 0 {
			r := m.Remove(StringEntry(key, nil))
			if _, ok := model[key]; ok {
				require.Equal(t, Removed, r.State)
				require.Equal(t, model[key], r.Value)
				delete(model, key)
			} else {
				require.Equal(t, NoMatch, r.State)
			}
		} else {
			val := bytes.Repeat([]byte{byte(rand.IntN(256))}, rand.IntN(24))
			r := m.Put(StringEntry(key, val))
			if r.State == Overflow {
				continue
			}
			if old, ok := model[key]; ok {
				require.Equal(t, Update, r.State)
				require.Equal(t, old, r.Value)
			} else {
				require.Equal(t, Insert, r.State)
			}
			model[key] = val
		}
		require.NoError(t, m.IntegrityCheck())
	}

	require.Equal(t, len(model), m.Len())
	for key, val := range model {
		r := m.Get(StringEntry(key, nil))
		require.Equal(t, Match, r.State, key)
		require.Equal(t, val, r.Value, key)
	}
}

func TestUpdateInPlace(t *testing.T) {
	m := New(256)
	require.Equal(t, Insert, m.Put(StringEntry("a", []byte("1111"))).State)
	require.Equal(t, Insert, m.Put(StringEntry("b", []byte("2222"))).State)
	free := m.FreeSpace()

	r := m.Put(StringEntry("a", []byte("9999")))
	require.Equal(t, Update, r.State)
	require.Equal(t, []byte("1111"), r.Value)
	require.Equal(t, free, m.FreeSpace())

	r = m.Put(StringEntry("a", []byte("123456")))
	require.Equal(t, Update, r.State)
	require.Equal(t, free-2, m.FreeSpace())
	require.NoError(t, m.IntegrityCheck())
	require.Equal(t, []byte("123456"), m.Get(StringEntry("a", nil)).Value)
	require.Equal(t, []byte("2222"), m.Get(StringEntry("b", nil)).Value)
}

func TestIdempotentRemove(t *testing.T) {
	m := New(1024)
	fill(m, newMockEntries(20, 4, 8))
	key := StringEntry("0007", nil)

	require.Equal(t, Removed, m.Remove(key).State)
	require.Equal(t, NoMatch, m.Remove(key).State)
	require.Equal(t, 19, m.Len())
	require.NoError(t, m.IntegrityCheck())
}

func TestCapacityBoundary(t *testing.T) {
	for _, capacity := range []int{64, 512, 4096} {
		t.Run(fmt.Sprint(capacity), func(t *testing.T) {
			limit := capacity - HeaderSize - EntryHeaderSize - EntryPointerSize

			m := New(capacity)
			key := []byte("k")
			r := m.Put(BytesEntry(key, make([]byte, limit-len(key))))
			require.Equal(t, Insert, r.State)
			require.Zero(t, m.FreeSpace())
			require.NoError(t, m.IntegrityCheck())

			m = New(capacity)
			before := bytes.Clone(m.Bytes())
			r = m.Put(BytesEntry(key, make([]byte, limit-len(key)+1)))
			require.Equal(t, Overflow, r.State)
			require.Zero(t, m.Len())
			require.Equal(t, before, m.Bytes())
			require.NoError(t, m.IntegrityCheck())
		})
	}
}

func TestOverflowOnReplaceLeavesBufferUnchanged(t *testing.T) {
	m := New(128)
	fill(m, newMockEntries(4, 4, 8))
	before := bytes.Clone(m.Bytes())

	r := m.Put(StringEntry("0001", make([]byte, 100)))
	require.Equal(t, Overflow, r.State)
	require.Equal(t, before, m.Bytes())
}

func TestOversizedKey(t *testing.T) {
	m := New(1 << 18)
	r := m.Put(BytesEntry(make([]byte, MaxKeySize+1), nil))
	require.Equal(t, Overflow, r.State)
	r = m.Put(BytesEntry([]byte("k"), make([]byte, MaxValueSize+1)))
	require.Equal(t, Overflow, r.State)
	require.Zero(t, m.Len())
}

func TestCompositeOrder(t *testing.T) {
	m := New(1024)
	u := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	puts := []Entry{
		UUIDEntry(u, []byte("u")),
		Int64Entry(-5, []byte("neg")),
		Int64Entry(7, []byte("pos")),
		StringEntry("", []byte("empty string")),
		BytesEntry([]byte("zzz"), []byte("bytes")),
		FirstEntry([]byte("first"), TypeBytes),
	}
	for _, e := range puts {
		require.Equal(t, Insert, m.Put(e).State)
	}
	require.NoError(t, m.IntegrityCheck())

	want := []Type{TypeFirst, TypeBytes, TypeString, TypeInt64, TypeInt64, TypeUUID}
	for i, typ := range want {
		require.Equal(t, typ, m.KeyType(i), "index %d", i)
	}
	require.EqualValues(t, -5, DecodeInt64(m.Key(3)))
	require.EqualValues(t, 7, DecodeInt64(m.Key(4)))
	require.True(t, m.Entry(0).First())
}

func TestNearestIndex(t *testing.T) {
	m := New(1024)
	for _, k := range []string{"b", "d", "f"} {
		m.Put(StringEntry(k, nil))
	}

	testCases := []struct {
		key   string
		index int
		found bool
		floor int
		after int
	}{
		{"a", 0, false, -1, 0},
		{"b", 0, true, 0, 1},
		{"c", 1, false, 0, 1},
		{"f", 2, true, 2, 3},
		{"g", 3, false, 2, 3},
	}
	for _, tc := range testCases {
		index, found := m.NearestIndex(TypeString, []byte(tc.key))
		if index != tc.index || found != tc.found {
			t.Errorf("NearestIndex(%q) = %d,%v want %d,%v", tc.key, index, found, tc.index, tc.found)
		}
		if floor := m.Floor(TypeString, []byte(tc.key)); floor != tc.floor {
			t.Errorf("Floor(%q) = %d want %d", tc.key, floor, tc.floor)
		}
		if after := m.FindEntryAfter(StringEntry(tc.key, nil)); after != tc.after {
			t.Errorf("FindEntryAfter(%q) = %d want %d", tc.key, after, tc.after)
		}
		if index := m.FindEntry(StringEntry(tc.key, nil)); index != tc.index {
			t.Errorf("FindEntry(%q) = %d want %d", tc.key, index, tc.index)
		}
	}
}

func TestResize(t *testing.T) {
	m := New(512)
	n := fill(m, newMockEntries(100, 6, 10))
	require.Less(t, n, 100)

	require.NoError(t, m.Resize(4096))
	require.NoError(t, m.IntegrityCheck())
	require.Equal(t, n, m.Len())
	require.Equal(t, 100, n+fill(m, newMockEntries(100, 6, 10)[n:]))
	require.NoError(t, m.IntegrityCheck())

	used := m.UsedSpace()
	require.Error(t, m.Resize(used-1))
	require.NoError(t, m.Resize(used))
	require.Zero(t, m.FreeSpace())
	require.NoError(t, m.IntegrityCheck())
	for _, e := range newMockEntries(100, 6, 10) {
		require.Equal(t, e.Value, m.Get(e).Value)
	}
}

func TestOpenPersisted(t *testing.T) {
	m := New(1024)
	fill(m, newMockEntries(30, 5, 7))

	reopened, err := Open(bytes.Clone(m.Bytes()))
	require.NoError(t, err)
	require.NoError(t, reopened.IntegrityCheck())
	require.Equal(t, m.Len(), reopened.Len())
	require.Equal(t, Match, reopened.Get(StringEntry("00012", nil)).State)

	_, err = Open(make([]byte, 3))
	require.ErrorIs(t, err, ErrCorrupted)

	bad := bytes.Clone(m.Bytes())
	bad[0], bad[1] = 0xff, 0xff
	_, err = Open(bad)
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestIntegrityCheckKeysOutOfOrder(t *testing.T) {
	m := New(256)
	m.Put(StringEntry("key1", []byte("a")))
	m.Put(StringEntry("key2", []byte("b")))

	buf := m.Bytes()
	off := HeaderSize + EntryHeaderSize - 1
	require.Equal(t, []byte("key1"), buf[off:off+4])
	buf[off+3] = '3'

	err := m.IntegrityCheck()
	require.ErrorIs(t, err, ErrCorrupted)
	require.Contains(t, err.Error(), "keys are out of order")
}

func TestIntegrityCheckDirtyFreeSpace(t *testing.T) {
	m := New(256)
	m.Put(StringEntry("key1", []byte("a")))
	m.Bytes()[100] = 1
	require.ErrorIs(t, m.IntegrityCheck(), ErrCorrupted)
}
