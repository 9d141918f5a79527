package mmap

import (
	"os"
	"sync/atomic"
)

// Mapping represents a memory mapping, either of a file or anonymous.
// It owns the underlying byte slice and is responsible for unmapping it.
type Mapping struct {
	data   []byte
	size   int
	closed atomic.Bool
	// f is the backing file for file mappings, kept open for locking.
	f *os.File
	// unmap is the platform-specific function to unmap the memory.
	unmap func([]byte) error
}

// Open maps the existing file at path read-write and shared, so stores
// through the mapping are visible to every other mapping of the file.
func Open(path string) (*Mapping, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	size := fi.Size()
	if size <= 0 || int64(int(size)) != size {
		f.Close()
		return nil, ErrInvalidSize
	}

	return mapFile(f, int(size))
}

// Create creates (or truncates) the file at path to size bytes and maps it
// read-write and shared. The new contents are zero.
func Create(path string, size int) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, err
	}

	return mapFile(f, size)
}

func mapFile(f *os.File, size int) (*Mapping, error) {
	data, unmapFunc, err := osMap(f, size)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Mapping{
		data:  data,
		size:  size,
		f:     f,
		unmap: unmapFunc,
	}, nil
}

// MapAnon creates a zeroed read-write anonymous mapping. When shared is true
// the pages are shared with processes forked after the call.
func MapAnon(size int, shared bool) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	data, unmapFunc, err := osMapAnon(size, shared)
	if err != nil {
		return nil, err
	}

	return &Mapping{
		data:  data,
		size:  size,
		unmap: unmapFunc,
	}, nil
}

// Close unmaps the memory and closes the backing file. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil // Already closed
	}

	var err error
	if m.unmap != nil && m.data != nil {
		err = m.unmap(m.data)
	}

	if m.f != nil {
		if closeErr := m.f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}

	return err
}

// Bytes returns the underlying byte slice.
// Warning: The slice is valid only until Close() is called.
// Accessing the slice after Close() results in undefined behavior (likely a crash).
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the size of the mapping in bytes.
func (m *Mapping) Size() int {
	return m.size
}

// Name returns the backing file name, or "" for anonymous mappings.
func (m *Mapping) Name() string {
	if m.f == nil {
		return ""
	}
	return m.f.Name()
}

// Advise provides hints to the kernel about how the memory will be accessed.
func (m *Mapping) Advise(pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return osAdvise(m.data, pattern)
}

// Sync flushes dirty pages of a file-backed mapping to the file.
func (m *Mapping) Sync() error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.f == nil {
		return ErrNotFileBacked
	}
	return osSync(m.data)
}

// Lock takes an exclusive advisory lock on the backing file. Anonymous
// mappings have nothing to lock and return nil.
func (m *Mapping) Lock() error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.f == nil {
		return nil
	}
	return osLock(m.f)
}

// Unlock releases the lock taken by Lock.
func (m *Mapping) Unlock() error {
	if m.f == nil || m.closed.Load() {
		return nil
	}
	return osUnlock(m.f)
}
