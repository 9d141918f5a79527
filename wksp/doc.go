// Package wksp provides workspaces: fixed-size memory regions that can be
// shared between processes, together with a tagged block allocator.
//
// A workspace never grows. Everything a store needs is carved out of it once
// at creation time, and every reference between blocks is a global address
// (a byte offset from the start of the region) rather than a pointer, so the
// same bytes are valid in every process that maps them.
//
// # Backings
//
//   - New: process-private heap memory, page aligned. Useful for tests.
//   - NewAnonymous: anonymous MAP_SHARED memory, inherited by forked children.
//   - Create / Open: a file mapped MAP_SHARED, attachable by path.
//
// # Allocation
//
// Alloc carves an aligned block out of the first free partition that fits and
// stamps it with a caller-chosen non-zero tag. Free returns the block and
// coalesces it with free neighbours. The partition table has a fixed number
// of entries chosen at format time.
//
// # Concurrency
//
// Alloc and Free are serialized inside a process and, for file-backed
// workspaces, across processes via an advisory file lock. Reads of allocated
// blocks are not synchronized by the workspace.
package wksp
