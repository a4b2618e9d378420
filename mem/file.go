// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package mem provides an in-memory amtree.File for tests and tools.
package mem

import (
	"io"
	"maps"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dacapoday/amtree"
)

const pageSize = 16 * 1024

// File is a sparse in-memory file. Pages are materialized on first write;
// unwritten ranges read as zero. It is safe for concurrent use.
//
// The zero value is an empty file:
//
//	var f File
//	f.WriteAt([]byte("hello"), 0)
type File struct {
	mu    sync.RWMutex
	pages map[int64]*[pageSize]byte
	size  int64
	syncs int
}

var _ amtree.File = new(File)

// Size returns the current file size in bytes.
func (file *File) Size() int64 {
	file.mu.RLock()
	defer file.mu.RUnlock()
	return file.size
}

// Syncs returns how many times Sync was called.
func (file *File) Syncs() int {
	file.mu.RLock()
	defer file.mu.RUnlock()
	return file.syncs
}

// Pages returns the number of materialized pages.
func (file *File) Pages() int {
	file.mu.RLock()
	defer file.mu.RUnlock()
	return len(file.pages)
}

// ReadAt implements io.ReaderAt. Reads past the end return io.EOF.
func (file *File) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, errors.Newf("mem.ReadAt: negative offset %d", off)
	}
	file.mu.RLock()
	defer file.mu.RUnlock()

	if off >= file.size {
		return 0, io.EOF
	}
	if rest := file.size - off; int64(len(p)) > rest {
		p = p[:rest]
		err = io.EOF
	}
	for len(p) > 0 {
		idx, at := off/pageSize, off%pageSize
		var c int
		if page := file.pages[idx]; page != nil {
			c = copy(p, page[at:])
		} else {
			c = len(p)
			if room := int(pageSize - at); c > room {
				c = room
			}
			clear(p[:c])
		}
		n += c
		off += int64(c)
		p = p[c:]
	}
	return
}

// WriteAt implements io.WriterAt, growing the file as needed.
func (file *File) WriteAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, errors.Newf("mem.WriteAt: negative offset %d", off)
	}
	file.mu.Lock()
	defer file.mu.Unlock()

	if file.pages == nil {
		file.pages = make(map[int64]*[pageSize]byte)
	}
	file.size = max(file.size, off+int64(len(p)))
	for len(p) > 0 {
		idx, at := off/pageSize, off%pageSize
		page := file.pages[idx]
		if page == nil {
			page = new([pageSize]byte)
			file.pages[idx] = page
		}
		c := copy(page[at:], p)
		n += c
		off += int64(c)
		p = p[c:]
	}
	return
}

// Truncate changes the file size. Shrinking discards data; growing reads as zero.
func (file *File) Truncate(size int64) error {
	if size < 0 {
		return errors.Newf("mem.Truncate: negative size %d", size)
	}
	file.mu.Lock()
	defer file.mu.Unlock()

	if size < file.size {
		for idx, page := range file.pages {
			switch beg := idx * pageSize; {
			case beg >= size:
				delete(file.pages, idx)
			case beg+pageSize > size:
				clear(page[size-beg:])
			}
		}
	}
	file.size = size
	return nil
}

// Sync only counts calls.
func (file *File) Sync() error {
	file.mu.Lock()
	file.syncs++
	file.mu.Unlock()
	return nil
}

// Close drops the content. The file can be written again afterwards.
func (file *File) Close() error {
	file.mu.Lock()
	file.pages = nil
	file.size = 0
	file.mu.Unlock()
	return nil
}

// Clone returns an independent copy, as the content would be found after a
// crash at this point.
func (file *File) Clone() *File {
	file.mu.RLock()
	defer file.mu.RUnlock()

	clone := &File{size: file.size, pages: make(map[int64]*[pageSize]byte, len(file.pages))}
	for idx, page := range file.pages {
		dup := *page
		clone.pages[idx] = &dup
	}
	return clone
}

// WriteTo implements io.WriterTo.
func (file *File) WriteTo(w io.Writer) (n int64, err error) {
	file.mu.RLock()
	defer file.mu.RUnlock()

	var zero [pageSize]byte
	count := (file.size + pageSize - 1) / pageSize
	for idx := range count {
		data := zero[:]
		if page := file.pages[idx]; page != nil {
			data = page[:]
		}
		if rest := file.size - idx*pageSize; rest < pageSize {
			data = data[:rest]
		}
		c, err := w.Write(data)
		n += int64(c)
		if err != nil {
			return n, err
		}
	}
	return
}

// ReadFrom implements io.ReaderFrom, replacing the whole content.
func (file *File) ReadFrom(r io.Reader) (n int64, err error) {
	file.mu.Lock()
	defer file.mu.Unlock()

	file.pages = make(map[int64]*[pageSize]byte)
	file.size = 0
	for {
		page := new([pageSize]byte)
		c, err := io.ReadFull(r, page[:])
		if c > 0 {
			file.pages[n/pageSize] = page
			n += int64(c)
			file.size = n
		}
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				err = nil
			}
			return n, err
		}
	}
}

// pageIndexes returns materialized page indexes in order.
func (file *File) pageIndexes() []int64 {
	file.mu.RLock()
	defer file.mu.RUnlock()
	return slices.Sorted(maps.Keys(file.pages))
}
