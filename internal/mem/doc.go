// Package mem provides memory allocation utilities.
//
// # Aligned Allocation
//
// Provides page-aligned heap allocation for process-private workspaces, so
// that heap-backed and mmap-backed regions share the same alignment
// guarantees.
package mem
