// Package testutil provides testing utilities for funk.
//
// This package is intended for use in tests and benchmarks only.
//
// # Random Operations
//
//	rng := testutil.NewRNG(seed)
//	if rng.Chance(0.1) { ... }
//	keys := rng.UniqueUint64s(64)
//
// # Workspaces
//
//	ws := testutil.NewWorkspace(t, 1<<20) // closed on test cleanup
package testutil
