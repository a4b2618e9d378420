// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package arraymap

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// IntegrityCheck validates the layout invariants. It scans the whole buffer
// and is meant for assertions and tests.
func (m *ArrayMap) IntegrityCheck() error {
	capacity := len(m.buf)
	if capacity < HeaderSize {
		return errors.Wrapf(ErrCorrupted, "capacity %d < header size", capacity)
	}
	count := m.count()
	freeEnd := m.freeEnd()
	if freeEnd+count*EntryPointerSize > capacity {
		return errors.Wrapf(ErrCorrupted, "free space end %d with %d pointers exceeds capacity %d", freeEnd, count, capacity)
	}

	expect := HeaderSize
	for i := range count {
		off := m.offset(i)
		if off != expect {
			return errors.Wrapf(ErrCorrupted, "entry %d offset %d, expected %d", i, off, expect)
		}
		if off+EntryHeaderSize > freeEnd {
			return errors.Wrapf(ErrCorrupted, "entry %d header overruns record region", i)
		}
		klen := int(binary.LittleEndian.Uint16(m.buf[off:]))
		vlen := int(binary.LittleEndian.Uint16(m.buf[off+2:]))
		expect = off + recordSize(klen, vlen)
		if expect > freeEnd {
			return errors.Wrapf(ErrCorrupted, "entry %d overruns record region", i)
		}
		if i > 0 && Compare(m.KeyType(i-1), m.Key(i-1), m.KeyType(i), m.Key(i)) >= 0 {
			return errors.Wrapf(ErrCorrupted, "keys are out of order at index %d", i)
		}
	}
	if expect != freeEnd {
		return errors.Wrapf(ErrCorrupted, "records end at %d, free space starts at %d", expect, freeEnd)
	}

	for i, b := range m.buf[freeEnd:m.pointerStart()] {
		if b != 0 {
			return errors.Wrapf(ErrCorrupted, "free space not zero at %d", freeEnd+i)
		}
	}
	return nil
}
