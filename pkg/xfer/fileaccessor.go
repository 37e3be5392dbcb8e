// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package xfer

import (
	"os"
	"sync"
)

// FileAccessor provides positional read/write to local files shared across
// concurrent parts, via a registry of lazily-opened handles keyed by path.
// A single handle is shared by every TransferPart writing to (or reading
// from) the same path; os.File's ReadAt/WriteAt are safe for concurrent use
// on non-overlapping regions, so the registry only needs to serialize the
// lazy-open, not the I/O itself.
type FileAccessor struct {
	mu      sync.Mutex
	handles map[string]*os.File
}

// NewFileAccessor returns an empty registry.
func NewFileAccessor() *FileAccessor {
	return &FileAccessor{handles: make(map[string]*os.File)}
}

func (f *FileAccessor) handle(path string, forWrite bool) (*os.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.handles[path]; ok {
		return h, nil
	}
	flags := os.O_RDONLY
	if forWrite {
		flags = os.O_RDWR | os.O_CREATE
	}
	h, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, err
	}
	f.handles[path] = h
	return h, nil
}

// Write writes bytes at absolute offset in path, opening (create-or-open)
// the handle lazily on first access.
func (f *FileAccessor) Write(path string, offset int64, bytes []byte) error {
	h, err := f.handle(path, true)
	if err != nil {
		return err
	}
	_, err = h.WriteAt(bytes, offset)
	return err
}

// Read reads up to len(buf) bytes from path starting at offset, returning
// the number of bytes actually read (which may be fewer at EOF).
func (f *FileAccessor) Read(path string, offset int64, buf []byte) (int, error) {
	h, err := f.handle(path, false)
	if err != nil {
		return 0, err
	}
	return h.ReadAt(buf, offset)
}

// Close closes every open handle. Safe to call once at pipeline teardown,
// including on the failure path. Errors from individual closes are
// collected and the first one returned; all handles are attempted
// regardless.
func (f *FileAccessor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for path, h := range f.handles {
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(f.handles, path)
	}
	return firstErr
}
