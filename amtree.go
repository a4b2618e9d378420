// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package amtree defines the storage contract shared by the block store, the
// B-tree and the key-value facade.
//
// The B-tree keeps its nodes in fixed-capacity packed buffers (see package
// arraymap) that are persisted verbatim as block payloads (see package block).
package amtree

import "io"

// File provides access to a storage backend for the block store.
// The File interface is the minimum implementation required.
//
// The *os.File type satisfies this interface.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer

	// Truncate changes the size of the file.
	Truncate(size int64) error

	// Sync commits the current contents of the file to stable storage.
	Sync() error
}
