// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package arraymap

import (
	"fmt"
	"math/rand/v2"
)

// newMockEntries creates string-keyed entries with sorted zero-padded keys.
func newMockEntries(count, keyLen, valLen int) []Entry {
	entries := make([]Entry, 0, count)
	for i := range count {
		key := fmt.Sprintf("%0*d", keyLen, i)
		val := make([]byte, valLen)
		for j := range val {
			val[j] = byte((i + j) % 256)
		}
		entries = append(entries, StringEntry(key, val))
	}
	return entries
}

// fill puts entries until the first overflow and returns how many fit.
func fill(m *ArrayMap, entries []Entry) int {
	for i, e := range entries {
		if m.Put(e).State == Overflow {
			return i
		}
	}
	return len(entries)
}

func shuffled(entries []Entry) []Entry {
	out := append([]Entry(nil), entries...)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
