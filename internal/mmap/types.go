package mmap

import "errors"

// AccessPattern is an madvise hint for a whole mapping.
type AccessPattern int

const (
	// AccessDefault clears any previous hint.
	AccessDefault AccessPattern = iota
	// AccessRandom disables read-ahead. Workspaces use it for hash chain walks.
	AccessRandom
	// AccessWillNeed asks the kernel to fault the pages in early.
	AccessWillNeed
)

var (
	// ErrClosed is returned by every method once the mapping is unmapped.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned for zero or oversized lengths.
	ErrInvalidSize = errors.New("mmap: invalid size")
	// ErrNotFileBacked is returned by Sync on anonymous mappings.
	ErrNotFileBacked = errors.New("mmap: mapping is not file backed")
	// ErrUnsupported is returned on platforms without MAP_SHARED and flock.
	ErrUnsupported = errors.New("mmap: unsupported platform")
)
