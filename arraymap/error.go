// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package arraymap

import "github.com/dacapoday/amtree"

var (
	ErrCorrupted  = amtree.ErrCorrupted
	ErrOutOfSpace = amtree.ErrOutOfSpace
)
