package testutil

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/funk/wksp"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)), //nolint:gosec // deterministic test randomness
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Chance returns true with probability p.
func (r *RNG) Chance(p float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64() < p
}

// UniqueUint64s returns n distinct non-zero pseudo-random values.
func (r *RNG) UniqueUint64s(n int) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[uint64]struct{}, n)
	out := make([]uint64, 0, n)
	for len(out) < n {
		v := r.rand.Uint64()
		if _, dup := seen[v]; dup || v == 0 {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Pick returns a pseudo-random element of s. s must not be empty.
func Pick[T any](r *RNG, s []T) T {
	return s[r.Intn(len(s))]
}

// NewWorkspace returns a process-private workspace of size bytes that is
// closed when the test finishes.
func NewWorkspace(tb testing.TB, size int, optFns ...wksp.Option) *wksp.Workspace {
	tb.Helper()

	ws, err := wksp.New(size, optFns...)
	require.NoError(tb, err)
	tb.Cleanup(func() { _ = ws.Close() })
	return ws
}
