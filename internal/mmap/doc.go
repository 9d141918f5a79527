// Package mmap provides the memory mappings that back shared workspaces.
//
// # Overview
//
// A workspace must live in memory that every attached process can address
// through its own mapping. Two kinds of mappings are supported:
//
//   - File-backed MAP_SHARED mappings, which any process can attach to by
//     path and which outlive the creating process.
//   - Anonymous MAP_SHARED mappings, which are visible to children forked
//     after the mapping was created.
//
// # Usage
//
//	m, err := mmap.Create("funk.wksp", 64<<20)
//	if err != nil { ... }
//	defer m.Close()
//
//	data := m.Bytes() // read-write, shared with other mappings of the file
//
//	// Serialize structural changes across processes
//	if err := m.Lock(); err != nil { ... }
//	defer m.Unlock()
//
// # Platform Support
//
// Unix platforms use mmap(2), madvise(2), msync(2) and flock(2). Other
// platforms report ErrUnsupported.
//
// # Thread Safety
//
// Close is idempotent and protected by atomic operations. Callers must ensure
// no goroutines access Bytes() after Close() returns.
package mmap
