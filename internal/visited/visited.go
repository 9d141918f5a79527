// Package visited provides pooled visited sets and traversal stacks for
// walks over index-linked structures.
package visited

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
)

const (
	// DefaultCapacity is the initial bit capacity of pooled sets.
	DefaultCapacity = 4096

	// maxPooledCapacity bounds how large a set may grow and still be pooled.
	maxPooledCapacity = 1 << 24
)

// Set tracks visited uint32 indices. It is not safe for concurrent use.
//
// Reset only clears the bits set since the last reset, so reusing a large
// set for a short walk stays cheap.
type Set struct {
	bits  *bitset.BitSet
	dirty []uint32

	// Stack is scratch space for iterative depth-first walks.
	Stack []uint32
}

// New creates a set with room for capacity indices.
func New(capacity int) *Set {
	return &Set{
		bits:  bitset.New(uint(capacity)),
		dirty: make([]uint32, 0, 64),
		Stack: make([]uint32, 0, 64),
	}
}

// Visit marks idx and reports whether it was newly marked.
func (s *Set) Visit(idx uint32) bool {
	if s.bits.Test(uint(idx)) {
		return false
	}
	s.bits.Set(uint(idx))
	s.dirty = append(s.dirty, idx)
	return true
}

// Visited reports whether idx has been marked since the last reset.
func (s *Set) Visited(idx uint32) bool {
	return s.bits.Test(uint(idx))
}

// Len returns the number of marked indices.
func (s *Set) Len() int { return len(s.dirty) }

// Reset clears all marks and empties the stack.
func (s *Set) Reset() {
	for _, idx := range s.dirty {
		s.bits.Clear(uint(idx))
	}
	s.dirty = s.dirty[:0]
	s.Stack = s.Stack[:0]
}

// Push appends idx to the stack.
func (s *Set) Push(idx uint32) { s.Stack = append(s.Stack, idx) }

// Pop removes and returns the top of the stack.
func (s *Set) Pop() (uint32, bool) {
	n := len(s.Stack)
	if n == 0 {
		return 0, false
	}
	idx := s.Stack[n-1]
	s.Stack = s.Stack[:n-1]
	return idx, true
}

var pool = sync.Pool{
	New: func() any {
		return New(DefaultCapacity)
	},
}

// Get returns an empty set from the pool.
func Get() *Set {
	s := pool.Get().(*Set) //nolint:errcheck // pool only holds *Set
	s.Reset()
	return s
}

// Put returns s to the pool.
func Put(s *Set) {
	if s == nil || s.bits.Len() > maxPooledCapacity {
		return
	}
	s.Reset()
	pool.Put(s)
}
