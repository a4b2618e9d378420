// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package amtree

import "github.com/cockroachdb/errors"

var (
	ErrClosed                 = errors.New("closed")
	ErrReadOnly               = errors.New("read-only")
	ErrInvalidBlockSize       = errors.New("invalid block size")
	ErrInvalidChecksum        = errors.New("invalid checksum")
	ErrInvalidMeta            = errors.New("invalid meta")
	ErrInvalidPointer         = errors.New("invalid block pointer")
	ErrUnknownMagicCode       = errors.New("unknown magic code")
	ErrUnknownCompressor      = errors.New("unknown compressor")
	ErrFileEmpty              = errors.New("empty file")
	ErrFileTruncated          = errors.New("file truncated")
	ErrUnsupported            = errors.New("unsupported")
	ErrOutOfSpace             = errors.New("out of space")
	ErrEntryTooLarge          = errors.New("entry too large")
	ErrCorrupted              = errors.New("corrupted")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrLocked                 = errors.New("locked by another process")
)
