package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRNG_Deterministic(t *testing.T) {
	a := NewRNG(4711)
	b := NewRNG(4711)

	for range 16 {
		assert.Equal(t, a.Uint64(), b.Uint64())
	}

	first := NewRNG(1).Uint64()
	r := NewRNG(1)
	r.Uint64()
	r.Reset()
	assert.Equal(t, first, r.Uint64())
	assert.Equal(t, int64(1), r.Seed())
}

func TestRNG_UniqueUint64s(t *testing.T) {
	rng := NewRNG(4711)

	v := rng.UniqueUint64s(256)

	assert.Len(t, v, 256)
	seen := make(map[uint64]bool)
	for _, x := range v {
		assert.NotZero(t, x)
		assert.False(t, seen[x])
		seen[x] = true
	}
}

func TestPick(t *testing.T) {
	rng := NewRNG(1)
	s := []int{3, 5, 7}

	for range 32 {
		assert.Contains(t, s, Pick(rng, s))
	}
}

func TestNewWorkspace(t *testing.T) {
	ws := NewWorkspace(t, 1<<16)

	gaddr, err := ws.Alloc(8, 64, 1)
	assert.NoError(t, err)
	assert.NotZero(t, gaddr)
}
