// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package arraymap implements the packed, fixed-capacity sorted buffer used as
// the node format of the B-tree.
//
// The buffer is its own serialization: the bytes returned by Bytes are written
// to a block as-is and wrapped again with Open after a read.
package arraymap

import (
	"bytes"
	"encoding/binary"
	"iter"
	"math"

	"github.com/cockroachdb/errors"
)

// ArrayMap uses LittleEndian encoding.
//
//	[0:2)  entry count
//	[2:6)  free-space end minus HeaderSize
//	[6:F)  records, in key order: {keyLen u16, valLen u16, keyType u8, key, valType u8, val}
//	[F:P)  free space, always zero
//	[P:C)  pointer table: absolute record offsets, slot i at C-4*(i+1)
//
// The capacity C is not recorded; the owner supplies it by the length of the
// slice handed to Open.
type ArrayMap struct {
	buf []byte
}

const (
	HeaderSize       = 6
	EntryHeaderSize  = 6 // keyLen + valLen + keyType + valType
	EntryPointerSize = 4

	MaxEntryCount = math.MaxUint16
	MaxKeySize    = math.MaxUint16
	MaxValueSize  = math.MaxUint16
)

// New returns an empty ArrayMap of the given capacity.
func New(capacity int) *ArrayMap {
	if capacity < HeaderSize {
		panic(errors.AssertionFailedf("arraymap.New: capacity %d < %d", capacity, HeaderSize))
	}
	return &ArrayMap{buf: make([]byte, capacity)}
}

// Open wraps a persisted buffer without copying it.
// Only the header is validated; use IntegrityCheck for a full scan.
func Open(buf []byte) (*ArrayMap, error) {
	if len(buf) < HeaderSize {
		return nil, errors.Wrapf(ErrCorrupted, "buffer size %d < header size", len(buf))
	}
	m := &ArrayMap{buf: buf}
	freeEnd := uint64(binary.LittleEndian.Uint32(buf[2:])) + HeaderSize
	if uint64(m.count())*EntryPointerSize+freeEnd > uint64(len(buf)) {
		return nil, errors.Wrapf(ErrCorrupted, "header count %d free %d exceeds capacity %d", m.count(), freeEnd, len(buf))
	}
	return m, nil
}

// Bytes returns the backing buffer, which is also the block payload.
func (m *ArrayMap) Bytes() []byte {
	return m.buf
}

// Capacity returns the fixed size of the buffer.
func (m *ArrayMap) Capacity() int {
	return len(m.buf)
}

// Len returns the number of entries.
func (m *ArrayMap) Len() int {
	return m.count()
}

// FreeSpace returns the bytes between the records and the pointer table.
func (m *ArrayMap) FreeSpace() int {
	return m.pointerStart() - m.freeEnd()
}

// UsedSpace returns the bytes taken by the header, records and pointer table.
func (m *ArrayMap) UsedSpace() int {
	return len(m.buf) - m.FreeSpace()
}

// Key returns the key at index i.
// The slice aliases the buffer and is valid until the next mutation.
func (m *ArrayMap) Key(i int) []byte {
	off := m.offset(i)
	klen := int(binary.LittleEndian.Uint16(m.buf[off:]))
	off += EntryHeaderSize - 1
	return m.buf[off : off+klen : off+klen]
}

// KeyType returns the key tag at index i.
func (m *ArrayMap) KeyType(i int) Type {
	return Type(m.buf[m.offset(i)+4])
}

// Value returns the value at index i.
// The slice aliases the buffer and is valid until the next mutation.
func (m *ArrayMap) Value(i int) []byte {
	off := m.offset(i)
	klen := int(binary.LittleEndian.Uint16(m.buf[off:]))
	vlen := int(binary.LittleEndian.Uint16(m.buf[off+2:]))
	off += EntryHeaderSize + klen
	return m.buf[off : off+vlen : off+vlen]
}

// ValueType returns the value tag at index i.
func (m *ArrayMap) ValueType(i int) Type {
	off := m.offset(i)
	klen := int(binary.LittleEndian.Uint16(m.buf[off:]))
	return Type(m.buf[off+EntryHeaderSize-1+klen])
}

// Entry returns the entry at index i; its slices alias the buffer.
func (m *ArrayMap) Entry(i int) Entry {
	return Entry{
		Key:       m.Key(i),
		KeyType:   m.KeyType(i),
		Value:     m.Value(i),
		ValueType: m.ValueType(i),
	}
}

// All iterates entries in key order. Entries alias the buffer.
func (m *ArrayMap) All() iter.Seq2[int, Entry] {
	return func(yield func(int, Entry) bool) {
		for i := range m.count() {
			if !yield(i, m.Entry(i)) {
				return
			}
		}
	}
}

// Get copies the value stored under e's key.
func (m *ArrayMap) Get(e Entry) (result Result) {
	i, found := m.search(e.KeyType, e.Key)
	if !found {
		result.State = NoMatch
		return
	}
	result.State = Match
	result.Value = bytes.Clone(m.Value(i))
	result.ValueType = m.ValueType(i)
	if result.Value == nil {
		result.Value = []byte{}
	}
	return
}

// Put inserts or replaces e.
//
// A replacement with a value of the same length is written in place. Any
// other replacement removes the old record and inserts the new one. Overflow
// is returned, with the buffer untouched, when the key or value exceeds 65535
// bytes, the entry count would exceed 65535, or the record does not fit.
func (m *ArrayMap) Put(e Entry) (result Result) {
	if len(e.Key) > MaxKeySize || len(e.Value) > MaxValueSize {
		result.State = Overflow
		return
	}
	size := recordSize(len(e.Key), len(e.Value))
	i, found := m.search(e.KeyType, e.Key)
	if !found {
		if m.count() >= MaxEntryCount || size+EntryPointerSize > m.FreeSpace() {
			result.State = Overflow
			return
		}
		m.insert(i, e, size)
		result.State = Insert
		return
	}

	off := m.offset(i)
	klen := int(binary.LittleEndian.Uint16(m.buf[off:]))
	vlen := int(binary.LittleEndian.Uint16(m.buf[off+2:]))
	if vlen != len(e.Value) && size-recordSize(klen, vlen) > m.FreeSpace() {
		result.State = Overflow
		return
	}

	result.State = Update
	result.Value = bytes.Clone(m.Value(i))
	result.ValueType = m.ValueType(i)
	if result.Value == nil {
		result.Value = []byte{}
	}

	if vlen == len(e.Value) {
		pos := off + EntryHeaderSize - 1 + klen
		m.buf[pos] = byte(e.ValueType)
		copy(m.buf[pos+1:pos+1+vlen], e.Value)
		return
	}
	m.removeAt(i)
	m.insert(i, e, size)
	return
}

// Remove deletes the entry with e's key.
func (m *ArrayMap) Remove(e Entry) (result Result) {
	i, found := m.search(e.KeyType, e.Key)
	if !found {
		result.State = NoMatch
		return
	}
	return m.RemoveAt(i)
}

// RemoveAt deletes the entry at index i.
func (m *ArrayMap) RemoveAt(i int) (result Result) {
	result.State = Removed
	result.Value = bytes.Clone(m.Value(i))
	result.ValueType = m.ValueType(i)
	if result.Value == nil {
		result.Value = []byte{}
	}
	m.removeAt(i)
	return
}

// NearestIndex returns the index of key, or the index of the next greater key
// with found set to false. Len() means after the last entry.
func (m *ArrayMap) NearestIndex(keyType Type, key []byte) (index int, found bool) {
	return m.search(keyType, key)
}

// FindEntry returns the index of e's key or of the next greater key.
func (m *ArrayMap) FindEntry(e Entry) int {
	i, _ := m.search(e.KeyType, e.Key)
	return i
}

// FindEntryAfter returns the index of the first key strictly greater than e's key.
func (m *ArrayMap) FindEntryAfter(e Entry) int {
	i, found := m.search(e.KeyType, e.Key)
	if found {
		i++
	}
	return i
}

// Floor returns the index of the greatest key less than or equal to the given
// key, or -1 when every key is greater.
func (m *ArrayMap) Floor(keyType Type, key []byte) int {
	i, found := m.search(keyType, key)
	if found {
		return i
	}
	return i - 1
}

// Resize moves the entries into a buffer of the new capacity. The pointer
// table is re-anchored at the new end; record offsets do not change.
func (m *ArrayMap) Resize(capacity int) error {
	old := len(m.buf)
	if capacity < old && old-capacity > m.FreeSpace() {
		return errors.Wrapf(ErrOutOfSpace, "arraymap.Resize: shrink by %d > free %d", old-capacity, m.FreeSpace())
	}
	if capacity < HeaderSize {
		return errors.Wrapf(ErrOutOfSpace, "arraymap.Resize: capacity %d", capacity)
	}
	buf := make([]byte, capacity)
	copy(buf, m.buf[:m.freeEnd()])
	table := m.count() * EntryPointerSize
	copy(buf[capacity-table:], m.buf[old-table:])
	m.buf = buf
	return nil
}

// Clone returns a deep copy.
func (m *ArrayMap) Clone() *ArrayMap {
	return &ArrayMap{buf: bytes.Clone(m.buf)}
}

func recordSize(klen, vlen int) int {
	return EntryHeaderSize + klen + vlen
}

func (m *ArrayMap) count() int {
	return int(binary.LittleEndian.Uint16(m.buf))
}

func (m *ArrayMap) setCount(n int) {
	binary.LittleEndian.PutUint16(m.buf, uint16(n))
}

func (m *ArrayMap) freeEnd() int {
	return int(binary.LittleEndian.Uint32(m.buf[2:])) + HeaderSize
}

func (m *ArrayMap) setFreeEnd(end int) {
	binary.LittleEndian.PutUint32(m.buf[2:], uint32(end-HeaderSize))
}

func (m *ArrayMap) pointerStart() int {
	return len(m.buf) - m.count()*EntryPointerSize
}

func (m *ArrayMap) slot(i int) int {
	return len(m.buf) - (i+1)*EntryPointerSize
}

func (m *ArrayMap) offset(i int) int {
	return int(binary.LittleEndian.Uint32(m.buf[m.slot(i):]))
}

func (m *ArrayMap) setOffset(i, off int) {
	binary.LittleEndian.PutUint32(m.buf[m.slot(i):], uint32(off))
}

func (m *ArrayMap) recordEnd(i int) int {
	if i+1 < m.count() {
		return m.offset(i + 1)
	}
	return m.freeEnd()
}

func (m *ArrayMap) search(keyType Type, key []byte) (int, bool) {
	i, j := 0, m.count()
	for i < j {
		h := int(uint(i+j) >> 1)
		if Compare(m.KeyType(h), m.Key(h), keyType, key) < 0 {
			i = h + 1
		} else {
			j = h
		}
	}
	return i, i < m.count() && Compare(m.KeyType(i), m.Key(i), keyType, key) == 0
}

// insert writes e at index i; the caller has checked the free space.
func (m *ArrayMap) insert(i int, e Entry, size int) {
	count := m.count()
	freeEnd := m.freeEnd()
	off := freeEnd
	if i < count {
		off = m.offset(i)
		copy(m.buf[off+size:freeEnd+size], m.buf[off:freeEnd])
	}

	start := m.pointerStart()
	copy(m.buf[start-EntryPointerSize:], m.buf[start:m.slot(i)+EntryPointerSize])
	m.setCount(count + 1)
	for j := i + 1; j <= count; j++ {
		m.setOffset(j, m.offset(j)+size)
	}
	m.setOffset(i, off)
	m.setFreeEnd(freeEnd + size)
	m.writeRecord(off, e)
}

func (m *ArrayMap) writeRecord(off int, e Entry) {
	rec := m.buf[off:]
	binary.LittleEndian.PutUint16(rec, uint16(len(e.Key)))
	binary.LittleEndian.PutUint16(rec[2:], uint16(len(e.Value)))
	rec[4] = byte(e.KeyType)
	n := copy(rec[5:], e.Key) + 5
	rec[n] = byte(e.ValueType)
	copy(rec[n+1:], e.Value)
}

func (m *ArrayMap) removeAt(i int) {
	count := m.count()
	freeEnd := m.freeEnd()
	off := m.offset(i)
	size := m.recordEnd(i) - off

	copy(m.buf[off:], m.buf[off+size:freeEnd])
	clear(m.buf[freeEnd-size : freeEnd])

	start := m.pointerStart()
	copy(m.buf[start+EntryPointerSize:], m.buf[start:m.slot(i)])
	clear(m.buf[start : start+EntryPointerSize])

	count--
	m.setCount(count)
	m.setFreeEnd(freeEnd - size)
	for j := range count {
		if o := m.offset(j); o >= off {
			m.setOffset(j, o-size)
		}
	}
}

// append adds e after the last entry without searching.
func (m *ArrayMap) append(e Entry) bool {
	size := recordSize(len(e.Key), len(e.Value))
	if m.count() >= MaxEntryCount || size+EntryPointerSize > m.FreeSpace() {
		return false
	}
	m.insert(m.count(), e, size)
	return true
}
