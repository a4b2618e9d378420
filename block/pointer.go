// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package block

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"
)

// BlockType tags what a Pointer refers to.
type BlockType uint8

const (
	// BlockHole is an unwritten block; the zero Pointer is a hole.
	BlockHole BlockType = iota
	BlockLeaf
	BlockInterior
	BlockBitmap
)

func (t BlockType) String() string {
	switch t {
	case BlockHole:
		return "hole"
	case BlockLeaf:
		return "leaf"
	case BlockInterior:
		return "interior"
	case BlockBitmap:
		return "bitmap"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Pointer describes a persisted payload: where it lives, how it was encoded
// and which commit generation wrote it.
type Pointer struct {
	Generation  uint64
	Checksum    uint64 // xxhash64 of the stored bytes
	Block       BlockID
	Blocks      uint32 // length of the run starting at Block
	Size        uint32 // payload size before compression
	Stored      uint32 // bytes written to the run
	Type        BlockType
	Level       uint8
	Compression Compression
}

// PointerSize is the length of an encoded Pointer.
const PointerSize = 8 + 8 + 4 + 4 + 4 + 4 + 1 + 1 + 1

// Placeholder returns the pointer stored for children that were never written.
func Placeholder() Pointer {
	return Pointer{}
}

// IsPlaceholder reports whether p points at nothing.
func (p Pointer) IsPlaceholder() bool {
	return p.Type == BlockHole && p.Blocks == 0
}

func (p Pointer) String() string {
	if p.IsPlaceholder() {
		return "placeholder"
	}
	return fmt.Sprintf("%s@%d+%d(level=%d gen=%d size=%d/%d %s)",
		p.Type, p.Block, p.Blocks, p.Level, p.Generation, p.Stored, p.Size, p.Compression)
}

// AppendBinary appends the fixed-size encoding of p to b.
func (p Pointer) AppendBinary(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint64(b, p.Generation)
	b = binary.LittleEndian.AppendUint64(b, p.Checksum)
	b = binary.LittleEndian.AppendUint32(b, p.Block)
	b = binary.LittleEndian.AppendUint32(b, p.Blocks)
	b = binary.LittleEndian.AppendUint32(b, p.Size)
	b = binary.LittleEndian.AppendUint32(b, p.Stored)
	b = append(b, byte(p.Type), p.Level, byte(p.Compression))
	return b, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p Pointer) MarshalBinary() ([]byte, error) {
	return p.AppendBinary(make([]byte, 0, PointerSize))
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *Pointer) UnmarshalBinary(b []byte) error {
	if len(b) != PointerSize {
		return errors.Wrapf(ErrInvalidPointer, "encoded size %d", len(b))
	}
	p.Generation = binary.LittleEndian.Uint64(b)
	p.Checksum = binary.LittleEndian.Uint64(b[8:])
	p.Block = binary.LittleEndian.Uint32(b[16:])
	p.Blocks = binary.LittleEndian.Uint32(b[20:])
	p.Size = binary.LittleEndian.Uint32(b[24:])
	p.Stored = binary.LittleEndian.Uint32(b[28:])
	p.Type = BlockType(b[32])
	p.Level = b[33]
	p.Compression = Compression(b[34])
	return nil
}

// Encode returns the fixed-size encoding of p.
func (p Pointer) Encode() []byte {
	b, _ := p.MarshalBinary()
	return b
}

// DecodePointer parses an encoded Pointer.
func DecodePointer(b []byte) (p Pointer, err error) {
	err = p.UnmarshalBinary(b)
	return
}

func (p Pointer) validate(blockSize int) error {
	switch p.Type {
	case BlockHole, BlockLeaf, BlockInterior, BlockBitmap:
	default:
		return errors.Wrapf(ErrInvalidPointer, "block type %d", p.Type)
	}
	if p.IsPlaceholder() {
		return nil
	}
	if p.Block < firstDataBlock {
		return errors.Wrapf(ErrInvalidPointer, "block %d overlaps meta", p.Block)
	}
	if uint64(p.Stored) > uint64(p.Blocks)*uint64(blockSize) {
		return errors.Wrapf(ErrInvalidPointer, "stored %d exceeds %d blocks", p.Stored, p.Blocks)
	}
	return nil
}
