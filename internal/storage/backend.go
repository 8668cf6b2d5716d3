// Package storage provides the random-access byte store that backs one
// logging session, plus the directory of session files it lives in.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	// ErrStorage wraps every I/O failure reported by a Backend.
	ErrStorage = errors.New("storage error")
	// ErrNoBackend is returned when an operation needs a store before one
	// has been acquired.
	ErrNoBackend = errors.New("storage backend not initialized")
	// ErrLocked means another process owns the session directory.
	ErrLocked = errors.New("session directory locked by another process")
)

// Backend is a synchronous random-access byte store. Writes are visible to
// subsequent reads on return; Flush makes them durable. Failures are never
// retried internally.
type Backend interface {
	ReadAt(off uint64, buf []byte) (int, error)
	WriteAt(off uint64, data []byte) (int, error)
	Size() (uint64, error)
	Truncate(size uint64) error
	Flush() error
	Close() error
}

// FileBackend stores bytes in a regular file using positional I/O.
type FileBackend struct {
	f    *os.File
	path string
}

// OpenFile opens (creating if needed) path for read-write positional access.
func OpenFile(path string) (*FileBackend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStorage, path, err)
	}
	return &FileBackend{f: f, path: path}, nil
}

// OpenReadOnly opens an existing file for reading. Writes fail.
func OpenReadOnly(path string) (*FileBackend, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStorage, path, err)
	}
	return &FileBackend{f: f, path: path}, nil
}

// Path returns the file path backing the store.
func (b *FileBackend) Path() string { return b.path }

// ReadAt reads up to len(buf) bytes at off. A read that reaches end of file
// returns the short count without error.
func (b *FileBackend) ReadAt(off uint64, buf []byte) (int, error) {
	n, err := b.f.ReadAt(buf, int64(off))
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("%w: read %d bytes at %d: %w", ErrStorage, len(buf), off, err)
	}
	return n, nil
}

func (b *FileBackend) WriteAt(off uint64, data []byte) (int, error) {
	n, err := b.f.WriteAt(data, int64(off))
	if err != nil {
		return n, fmt.Errorf("%w: write %d bytes at %d: %w", ErrStorage, len(data), off, err)
	}
	return n, nil
}

func (b *FileBackend) Size() (uint64, error) {
	st, err := b.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %w", ErrStorage, b.path, err)
	}
	return uint64(st.Size()), nil
}

func (b *FileBackend) Truncate(size uint64) error {
	if err := b.f.Truncate(int64(size)); err != nil {
		return fmt.Errorf("%w: truncate %s: %w", ErrStorage, b.path, err)
	}
	return nil
}

func (b *FileBackend) Flush() error {
	if err := b.f.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", ErrStorage, b.path, err)
	}
	return nil
}

func (b *FileBackend) Close() error {
	if err := b.f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrStorage, b.path, err)
	}
	return nil
}

// MemBackend is an in-memory Backend for ephemeral runs and tests.
type MemBackend struct {
	mu     sync.RWMutex
	data   []byte
	closed bool
}

// NewMemBackend returns a store pre-filled with a copy of initial.
func NewMemBackend(initial []byte) *MemBackend {
	return &MemBackend{data: append([]byte(nil), initial...)}
}

func (m *MemBackend) ReadAt(off uint64, buf []byte) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, fmt.Errorf("%w: read on closed backend", ErrStorage)
	}
	if off >= uint64(len(m.data)) {
		return 0, nil
	}
	return copy(buf, m.data[off:]), nil
}

func (m *MemBackend) WriteAt(off uint64, data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, fmt.Errorf("%w: write on closed backend", ErrStorage)
	}
	end := off + uint64(len(data))
	if end > uint64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	return copy(m.data[off:], data), nil
}

func (m *MemBackend) Size() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.data)), nil
}

func (m *MemBackend) Truncate(size uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size <= uint64(len(m.data)) {
		m.data = m.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, m.data)
	m.data = grown
	return nil
}

func (m *MemBackend) Flush() error { return nil }

func (m *MemBackend) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Bytes returns a copy of the stored bytes.
func (m *MemBackend) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.data...)
}
