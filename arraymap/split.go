// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package arraymap

// footprint returns the bytes entry i takes: record plus pointer slot.
func (m *ArrayMap) footprint(i int) int {
	return m.recordEnd(i) - m.offset(i) + EntryPointerSize
}

// payload returns the bytes taken by all entries.
func (m *ArrayMap) payload() int {
	return m.UsedSpace() - HeaderSize
}

// Slice copies entries [beg, end) into a new ArrayMap of at least the given
// capacity. Records are copied as one block.
func (m *ArrayMap) Slice(beg, end, capacity int) *ArrayMap {
	if end <= beg {
		return New(capacity)
	}
	from := m.offset(beg)
	to := m.recordEnd(end - 1)
	capacity = max(capacity, HeaderSize+to-from+(end-beg)*EntryPointerSize)

	out := New(capacity)
	copy(out.buf[HeaderSize:], m.buf[from:to])
	delta := HeaderSize - from
	for i := beg; i < end; i++ {
		out.setOffset(i-beg, m.offset(i)+delta)
	}
	out.setCount(end - beg)
	out.setFreeEnd(HeaderSize + to - from)
	return out
}

// Split moves the entries into two new buffers holding about half the bytes
// each. right is nil when there are fewer than two entries.
func (m *ArrayMap) Split(capacity int) (left, right *ArrayMap) {
	count := m.count()
	if count < 2 {
		return m.Slice(0, count, capacity), nil
	}
	half := m.payload() / 2
	at, size := 0, 0
	for at < count-1 {
		size += m.footprint(at)
		at++
		if size >= half {
			break
		}
	}
	return m.Slice(0, at, capacity), m.Slice(at, count, capacity)
}

// SplitMany spreads the entries over as many buffers as the byte budget of
// capacity requires, filling each one up to about an even share of the total.
// The last buffer never receives fewer than two entries, so a buffer may end
// up larger than capacity when entries are large.
func (m *ArrayMap) SplitMany(capacity int) []*ArrayMap {
	count := m.count()
	limit := capacity - HeaderSize
	total := m.payload()
	n := max(1, (total+limit-1)/limit)
	budget := (total + n - 1) / n

	var out []*ArrayMap
	beg, size := 0, 0
	for i := range count {
		fp := m.footprint(i)
		if i > beg && count-i >= 2 && (size+fp/2 > budget || size+fp > limit) {
			out = append(out, m.Slice(beg, i, capacity))
			beg, size = i, 0
		}
		size += fp
	}
	return append(out, m.Slice(beg, count, capacity))
}

// SplitManyTail fills a buffer of the given capacity until the next entry
// overflows it, then starts a new one.
func (m *ArrayMap) SplitManyTail(capacity int) []*ArrayMap {
	count := m.count()
	limit := capacity - HeaderSize

	var out []*ArrayMap
	beg, size := 0, 0
	for i := range count {
		fp := m.footprint(i)
		if i > beg && size+fp > limit {
			out = append(out, m.Slice(beg, i, capacity))
			beg, size = i, 0
		}
		size += fp
	}
	return append(out, m.Slice(beg, count, capacity))
}

// AppendAll copies every entry of src after the last entry of m, growing m
// when needed. The first key of src must sort after the last key of m.
func (m *ArrayMap) AppendAll(src *ArrayMap) {
	if need := src.payload(); need > m.FreeSpace() {
		if err := m.Resize(m.Capacity() + need - m.FreeSpace()); err != nil {
			panic(err)
		}
	}
	for _, e := range src.All() {
		m.append(e)
	}
}
