// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package arraymap

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"strconv"

	"github.com/google/uuid"
)

// Type is the one-byte tag stored in front of every key and value.
// Keys order by tag first, then by raw bytes.
type Type uint8

const (
	// TypeFirst tags the empty key at index 0 of every interior node.
	// It sorts before every other key.
	TypeFirst Type = iota
	TypeBytes
	TypeString
	TypeInt64
	TypeUUID
	// TypePointer tags values that hold an encoded block pointer.
	TypePointer
)

func (t Type) String() string {
	switch t {
	case TypeFirst:
		return "first"
	case TypeBytes:
		return "bytes"
	case TypeString:
		return "string"
	case TypeInt64:
		return "int64"
	case TypeUUID:
		return "uuid"
	case TypePointer:
		return "pointer"
	default:
		return "type(" + strconv.Itoa(int(t)) + ")"
	}
}

// Compare orders two keys by type tag, then by bytes.
func Compare(aType Type, a []byte, bType Type, b []byte) int {
	if aType != bType {
		return cmp.Compare(aType, bType)
	}
	return bytes.Compare(a, b)
}

// Entry is the parameter of ArrayMap operations.
type Entry struct {
	Key       []byte
	Value     []byte
	KeyType   Type
	ValueType Type
}

// Compare orders entry keys with the same rules as Compare.
func (e Entry) Compare(o Entry) int {
	return Compare(e.KeyType, e.Key, o.KeyType, o.Key)
}

// First reports whether e carries the reserved first key.
func (e Entry) First() bool {
	return e.KeyType == TypeFirst && len(e.Key) == 0
}

// Size returns the marshalled footprint of e, pointer slot included.
func (e Entry) Size() int {
	return recordSize(len(e.Key), len(e.Value)) + EntryPointerSize
}

// Clone returns a deep copy of e.
func (e Entry) Clone() Entry {
	return Entry{
		Key:       bytes.Clone(e.Key),
		Value:     bytes.Clone(e.Value),
		KeyType:   e.KeyType,
		ValueType: e.ValueType,
	}
}

func BytesEntry(key, val []byte) Entry {
	return Entry{Key: key, KeyType: TypeBytes, Value: val, ValueType: TypeBytes}
}

func StringEntry(key string, val []byte) Entry {
	return Entry{Key: []byte(key), KeyType: TypeString, Value: val, ValueType: TypeBytes}
}

// Int64Entry encodes key so that byte order matches numeric order.
func Int64Entry(key int64, val []byte) Entry {
	return Entry{Key: EncodeInt64(key), KeyType: TypeInt64, Value: val, ValueType: TypeBytes}
}

func UUIDEntry(key uuid.UUID, val []byte) Entry {
	return Entry{Key: key[:], KeyType: TypeUUID, Value: val, ValueType: TypeBytes}
}

// FirstEntry returns the reserved first key with the given value.
func FirstEntry(val []byte, valType Type) Entry {
	return Entry{KeyType: TypeFirst, Value: val, ValueType: valType}
}

func EncodeInt64(v int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(v)^(1<<63))
}

func DecodeInt64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b) ^ (1 << 63))
}

// State is the outcome of an ArrayMap operation.
type State uint8

const (
	NoMatch State = iota
	Match
	Insert
	Update
	Removed
	Overflow
)

func (s State) String() string {
	switch s {
	case NoMatch:
		return "NO_MATCH"
	case Match:
		return "MATCH"
	case Insert:
		return "INSERT"
	case Update:
		return "UPDATE"
	case Removed:
		return "REMOVED"
	case Overflow:
		return "OVERFLOW"
	default:
		return "STATE(" + strconv.Itoa(int(s)) + ")"
	}
}

// Result is returned by value from Get, Put and Remove.
//
// Value and ValueType hold the matched value for Match, the replaced value
// for Update and the removed value for Removed. Value is always a copy.
type Result struct {
	Value     []byte
	State     State
	ValueType Type
}

// Changed reports whether the operation mutated the buffer.
func (r Result) Changed() bool {
	switch r.State {
	case Insert, Update, Removed:
		return true
	}
	return false
}
