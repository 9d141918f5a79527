// Package hashmap implements a fixed-capacity chained hash map that lives
// entirely inside a caller-provided block of (possibly shared) memory.
//
// The block holds a header, one chain head per bucket, one chain link per
// element and the element array itself. Links are uint32 element indices
// with math.MaxUint32 as NULL, so the block can be mapped at different
// addresses in different processes.
//
// An element keeps its index for as long as its key stays in the map. Callers
// rely on this to build their own index-linked structures (lists, trees) over
// the element array.
//
// Element types must not contain Go pointers, and key types must not contain
// padding: keys are hashed and compared by their raw bytes.
package hashmap
