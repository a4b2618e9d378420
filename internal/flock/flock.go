// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package flock takes advisory locks on open files.
package flock

import (
	"os"

	"github.com/dacapoday/amtree"
)

var ErrLocked = amtree.ErrLocked

// Lock takes an exclusive lock on file without blocking, or a shared one
// when shared is set. It fails with ErrLocked when another process holds a
// conflicting lock.
func Lock(file *os.File, shared bool) error {
	return lock(file, shared)
}

// Unlock releases the lock taken by Lock. Closing the file also releases it.
func Unlock(file *os.File) error {
	return unlock(file)
}
