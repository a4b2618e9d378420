//go:build debug

// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package tree

import "fmt"

// assertNode panics if the buffer of n breaks its layout invariants.
// Only enabled with -tags debug.
func assertNode(n *node) {
	if err := n.data.IntegrityCheck(); err != nil {
		panic(fmt.Sprintf("level %d %v: %v", n.level, n.kind, err))
	}
	if n.kind == interior {
		if err := checkFirst(n.data); err != nil {
			panic(fmt.Sprintf("level %d %v: %v", n.level, n.kind, err))
		}
	}
}
