package mem

import (
	"unsafe"
)

// PageSize is the default alignment for workspace regions.
const PageSize = 4096

// AllocAligned allocates a zeroed byte slice of the given size whose first
// byte sits at an address divisible by align.
//
// align must be a power of two. A non-positive size or an invalid alignment
// yields nil. The underlying array is kept alive by the returned slice.
func AllocAligned(size, align int) []byte {
	if size <= 0 || !IsPow2(align) {
		return nil
	}

	buf := make([]byte, size+align)

	addr := uintptr(unsafe.Pointer(&buf[0])) //nolint:gosec // unsafe is required for memory alignment
	offset := AlignUp(addr, uintptr(align)) - addr

	return buf[offset : offset+uintptr(size) : offset+uintptr(size)]
}

// AllocPages allocates size bytes aligned to PageSize.
func AllocPages(size int) []byte {
	return AllocAligned(size, PageSize)
}

// IsPow2 reports whether v is a positive power of two.
func IsPow2[T ~int | ~uint | ~uint32 | ~uint64 | ~uintptr](v T) bool {
	return v > 0 && v&(v-1) == 0
}

// AlignUp rounds v up to the next multiple of align (a power of two).
func AlignUp[T ~int | ~uint | ~uint32 | ~uint64 | ~uintptr](v, align T) T {
	return (v + align - 1) &^ (align - 1)
}

// IsAligned reports whether v is a multiple of align (a power of two).
func IsAligned[T ~int | ~uint | ~uint32 | ~uint64 | ~uintptr](v, align T) bool {
	return v&(align-1) == 0
}
