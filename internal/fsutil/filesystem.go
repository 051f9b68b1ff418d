// Package fsutil abstracts the small set of filesystem operations the
// configuration controller needs, so its atomic-write logic can be
// exercised without touching disk in tests.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileSystem abstracts reading and atomically writing a single file.
// Use OSFileSystem in production, MemoryFileSystem in tests.
type FileSystem interface {
	// ReadFile reads the named file's contents. Returns os.ErrNotExist
	// (wrapped) if the file is missing.
	ReadFile(name string) ([]byte, error)

	// WriteFileAtomic writes data to name such that concurrent readers
	// never observe a partial write: the implementation writes to a
	// temporary sibling file and renames it into place.
	WriteFileAtomic(name string, data []byte, perm os.FileMode) error

	// Exists reports whether name exists.
	Exists(name string) bool
}

// OSFileSystem implements FileSystem against the real filesystem.
type OSFileSystem struct{}

func (OSFileSystem) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

func (OSFileSystem) WriteFileAtomic(name string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(name)
	tmp, err := os.CreateTemp(dir, filepath.Base(name)+".tmp-*")
	if err != nil {
		return fmt.Errorf("fsutil: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("fsutil: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("fsutil: close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("fsutil: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, name); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("fsutil: rename into place: %w", err)
	}
	return nil
}

func (OSFileSystem) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// MemoryFileSystem is an in-memory FileSystem for tests: WriteFileAtomic
// replaces the whole file's bytes in one step, modelling the atomicity
// guarantee without touching disk.
type MemoryFileSystem struct {
	mu    sync.RWMutex
	files map[string][]byte

	// WriteCount tracks how many WriteFileAtomic calls have completed,
	// for tests asserting the writer coalesced a burst of updates.
	WriteCount int
}

func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{files: make(map[string][]byte)}
}

func (m *MemoryFileSystem) ReadFile(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[name]
	if !ok {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemoryFileSystem) WriteFileAtomic(name string, data []byte, _ os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.files[name] = cp
	m.WriteCount++
	return nil
}

func (m *MemoryFileSystem) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[name]
	return ok
}
