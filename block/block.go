// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package block provides the block store the B-tree persists its nodes into.
//
// A file is an array of fixed-size blocks. Blocks 0 and 1 hold alternating
// meta records; every commit writes the other slot, so the last committed
// state survives a torn write. Node payloads are stored as runs of
// contiguous blocks described by a Pointer.
package block

import (
	"hash/crc32"

	"github.com/dacapoday/amtree"
	"go.uber.org/zap"
)

type File = amtree.File
type BlockID = uint32

var (
	ErrClosed            = amtree.ErrClosed
	ErrReadOnly          = amtree.ErrReadOnly
	ErrInvalidBlockSize  = amtree.ErrInvalidBlockSize
	ErrInvalidChecksum   = amtree.ErrInvalidChecksum
	ErrInvalidMeta       = amtree.ErrInvalidMeta
	ErrInvalidPointer    = amtree.ErrInvalidPointer
	ErrUnknownMagicCode  = amtree.ErrUnknownMagicCode
	ErrUnknownCompressor = amtree.ErrUnknownCompressor
	ErrFileEmpty         = amtree.ErrFileEmpty
	ErrFileTruncated     = amtree.ErrFileTruncated
	ErrOutOfSpace        = amtree.ErrOutOfSpace
)

// Option configures Store.Load.
type Option interface {
	MagicCode() [4]byte
	ReadOnly() bool
	BlockSize() int
}

// Logger is an optional Option extension.
type Logger interface {
	Logger() *zap.Logger
}

func getLogger(opt any) *zap.Logger {
	if o, ok := opt.(Logger); ok {
		if log := o.Logger(); log != nil {
			return log
		}
	}
	return zap.NewNop()
}

const (
	MinBlockSize = 512
	MaxBlockSize = 1 << 20

	firstDataBlock = 2
)

var castagnoliCrcTable = crc32.MakeTable(crc32.Castagnoli)

func checksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoliCrcTable)
}
