// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package tree

import "github.com/dacapoday/amtree"

var (
	ErrClosed                 = amtree.ErrClosed
	ErrCorrupted              = amtree.ErrCorrupted
	ErrEntryTooLarge          = amtree.ErrEntryTooLarge
	ErrConcurrentModification = amtree.ErrConcurrentModification
	ErrUnsupported            = amtree.ErrUnsupported
	ErrOutOfSpace             = amtree.ErrOutOfSpace
	ErrInvalidPointer         = amtree.ErrInvalidPointer
)
