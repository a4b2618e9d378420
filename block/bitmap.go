// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package block

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/cockroachdb/errors"
)

// bitmap tracks which blocks of the file are in use. Bits past count are
// free; blocks 0 and 1 are always in use.
type bitmap struct {
	bits  *bitset.BitSet
	count uint32
}

type extent struct {
	id BlockID
	n  uint32
}

func newBitmap() *bitmap {
	bits := bitset.New(64)
	bits.Set(0).Set(1)
	return &bitmap{bits: bits, count: firstDataBlock}
}

func decodeBitmap(data []byte, count uint32) (m *bitmap, err error) {
	bits := new(bitset.BitSet)
	if err = bits.UnmarshalBinary(data); err != nil {
		err = errors.Wrapf(ErrInvalidMeta, "bitmap: %v", err)
		return
	}
	if !bits.Test(0) || !bits.Test(1) {
		err = errors.Wrap(ErrInvalidMeta, "bitmap does not reserve meta blocks")
		return
	}
	if last, ok := lastSet(bits); ok && last >= uint(count) {
		err = errors.Wrapf(ErrInvalidMeta, "bitmap marks block %d beyond count %d", last, count)
		return
	}
	m = &bitmap{bits: bits, count: count}
	return
}

func lastSet(bits *bitset.BitSet) (last uint, ok bool) {
	for i, found := bits.NextSet(0); found; i, found = bits.NextSet(i + 1) {
		last, ok = i, true
	}
	return
}

func (m *bitmap) encode() ([]byte, error) {
	return m.bits.MarshalBinary()
}

// encodedSize bounds the encoding of a bitmap covering count blocks.
func encodedSize(count uint32) int {
	return 8 + 8*int((count+63)/64)
}

func (m *bitmap) clone() *bitmap {
	return &bitmap{bits: m.bits.Clone(), count: m.count}
}

// allocate reserves the first run of n free blocks, extending count when no
// run inside the file is long enough.
func (m *bitmap) allocate(n uint32) BlockID {
	limit := uint(m.count)
	for at := uint(firstDataBlock); at < limit; {
		free, ok := m.bits.NextClear(at)
		if !ok || free >= limit {
			break
		}
		end := limit
		if used, ok := m.bits.NextSet(free); ok && used < end {
			end = used
		}
		if end-free >= uint(n) {
			m.mark(BlockID(free), n)
			return BlockID(free)
		}
		at = end
	}

	start := m.count
	for start > firstDataBlock && !m.bits.Test(uint(start-1)) {
		start--
	}
	m.count = start + n
	m.mark(start, n)
	return start
}

func (m *bitmap) mark(id BlockID, n uint32) {
	for i := range n {
		m.bits.Set(uint(id + i))
	}
}

func (m *bitmap) release(id BlockID, n uint32) {
	for i := range n {
		m.bits.Clear(uint(id + i))
	}
}

func (m *bitmap) used(id BlockID) bool {
	return m.bits.Test(uint(id))
}

// free returns the number of unused data blocks below count.
func (m *bitmap) free() uint32 {
	return m.count - uint32(m.bits.Count())
}
