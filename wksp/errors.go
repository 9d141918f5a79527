package wksp

import "errors"

var (
	// ErrBadMagic is returned when a region does not carry a workspace header.
	ErrBadMagic = errors.New("wksp: bad magic")
	// ErrInvalidSize is returned when a region is too small or too large.
	ErrInvalidSize = errors.New("wksp: invalid size")
	// ErrInvalidAlign is returned for an alignment that is not a power of two
	// or exceeds the page size.
	ErrInvalidAlign = errors.New("wksp: invalid alignment")
	// ErrInvalidTag is returned when an allocation is requested with tag 0.
	ErrInvalidTag = errors.New("wksp: invalid tag")
	// ErrNoSpace is returned when no free partition can hold an allocation.
	ErrNoSpace = errors.New("wksp: out of space")
	// ErrNoPartitions is returned when splitting a partition would overflow the partition table.
	ErrNoPartitions = errors.New("wksp: partition table full")
	// ErrNotAllocated is returned when freeing an address that does not start an allocation.
	ErrNotAllocated = errors.New("wksp: address not allocated")
	// ErrClosed is returned when using a closed workspace.
	ErrClosed = errors.New("wksp: workspace is closed")
)
