// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package iterator defines the cursor interface shared by the tree and the
// key/value database.
package iterator

// Iterator represents a cursor over a sorted key-value dataset.
//
// Usage:
//
//	for iter.SeekFirst(); iter.Valid(); iter.Next() {
//	    key, val := iter.Key(), iter.Val()
//	    // process key, val
//	}
//	if err := iter.Error(); err != nil {
//	    // handle error
//	}
type Iterator interface {
	// Valid returns true if positioned at a valid key-value pair.
	// Returns false when not positioned; check Error() to distinguish the cause.
	Valid() bool

	// Error returns the error that stopped the iterator, or nil when it is
	// unpositioned for a normal reason (initial state, boundary, empty dataset).
	Error() error

	// Key returns the key at the current position.
	// The slice is valid only until the next iterator operation.
	Key() []byte

	// Val returns the value at the current position.
	// The slice is valid only until the next iterator operation.
	Val() []byte

	// Next advances in ascending key order.
	Next() bool

	// Prev moves back in descending key order.
	Prev() bool

	// SeekFirst positions at the smallest key.
	SeekFirst() bool

	// SeekLast positions at the largest key.
	SeekLast() bool

	// Seek positions at the first key greater than or equal to key.
	Seek(key []byte) bool
}

// Typed is an Iterator over tagged keys and values.
type Typed[T any] interface {
	Iterator

	KeyType() T
	ValType() T

	// SeekTyped is Seek for a key carrying an explicit tag.
	SeekTyped(keyType T, key []byte) bool
}

// Collect drains iter from its first entry, copying keys and values.
func Collect(iter Iterator) (keys, vals [][]byte, err error) {
	for iter.SeekFirst(); iter.Valid(); iter.Next() {
		keys = append(keys, append([]byte(nil), iter.Key()...))
		vals = append(vals, append([]byte(nil), iter.Val()...))
	}
	err = iter.Error()
	return
}
