package hashmap

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"math/bits"
	"sync/atomic"
	"unsafe"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
)

const (
	// Magic identifies a formatted map block.
	Magic = uint64(0xf173da2ce77e6a90)

	// Null is the index value used for "no element".
	Null = uint32(math.MaxUint32)

	// MaxKeys is the largest supported capacity.
	MaxKeys = int(Null)

	// Align is the required alignment of a map block.
	Align = 64
)

var (
	// ErrFull is returned by Insert when every element is in use.
	ErrFull = errors.New("hashmap: full")
	// ErrExists is returned by Insert when the key is already present.
	ErrExists = errors.New("hashmap: key exists")
	// ErrBadMagic is returned by Join for a block that was never formatted.
	ErrBadMagic = errors.New("hashmap: bad magic")
	// ErrInvalid is returned for unusable geometry or memory.
	ErrInvalid = errors.New("hashmap: invalid argument")
)

type header struct {
	magic    uint64
	seed     uint64
	keyMax   uint64
	keyCnt   uint64
	chainCnt uint64
	elemSize uint64
	freeHead uint32
	_        uint32
}

// Map is a local join to a map block.
type Map[K comparable, E any] struct {
	hdr   *header
	heads []uint32
	next  []uint32
	elems []E
	key   func(*E) *K
}

type layout struct {
	chainCnt  int
	headsOff  int
	nextOff   int
	elemsOff  int
	footprint int
}

func alignUp(v, a int) int { return (v + a - 1) &^ (a - 1) }

func chainCnt(keyMax int) int {
	if keyMax <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(keyMax-1))
}

func layoutOf[E any](keyMax int) layout {
	var e E
	l := layout{chainCnt: chainCnt(keyMax)}
	l.headsOff = int(unsafe.Sizeof(header{}))
	l.nextOff = l.headsOff + 4*l.chainCnt
	l.elemsOff = alignUp(l.nextOff+4*keyMax, max(int(unsafe.Alignof(e)), 8))
	l.footprint = alignUp(l.elemsOff+keyMax*int(unsafe.Sizeof(e)), Align)
	return l
}

// Footprint returns the block size needed for a map of keyMax elements of type E.
func Footprint[E any](keyMax int) int {
	if keyMax < 0 || keyMax > MaxKeys {
		return 0
	}
	return layoutOf[E](keyMax).footprint
}

// New formats mem as an empty map with room for keyMax elements and joins it.
// key returns the address of the key stored inside an element.
func New[K comparable, E any](mem []byte, keyMax int, seed uint64, key func(*E) *K) (*Map[K, E], error) {
	if keyMax < 0 || keyMax > MaxKeys || key == nil {
		return nil, fmt.Errorf("%w: key max %d", ErrInvalid, keyMax)
	}
	l := layoutOf[E](keyMax)
	if err := checkMem(mem, l.footprint); err != nil {
		return nil, err
	}

	clear(mem[:l.footprint])

	m := bind[K, E](mem, l, keyMax, key)
	m.hdr.seed = seed
	m.hdr.keyMax = uint64(keyMax)
	m.hdr.chainCnt = uint64(l.chainCnt)
	m.hdr.elemSize = uint64(unsafe.Sizeof(*new(E)))

	for i := range m.heads {
		m.heads[i] = Null
	}
	// Free list threads through the chain links in index order.
	for i := range m.next {
		m.next[i] = uint32(i + 1)
	}
	if keyMax > 0 {
		m.next[keyMax-1] = Null
		m.hdr.freeHead = 0
	} else {
		m.hdr.freeHead = Null
	}

	atomic.StoreUint64(&m.hdr.magic, Magic)
	return m, nil
}

// Join attaches to a map previously formatted by New.
func Join[K comparable, E any](mem []byte, key func(*E) *K) (*Map[K, E], error) {
	if key == nil {
		return nil, ErrInvalid
	}
	if err := checkMem(mem, int(unsafe.Sizeof(header{}))); err != nil {
		return nil, err
	}

	hdr := (*header)(unsafe.Pointer(&mem[0])) //nolint:gosec // map header lives in block memory
	if atomic.LoadUint64(&hdr.magic) != Magic {
		return nil, ErrBadMagic
	}
	if hdr.elemSize != uint64(unsafe.Sizeof(*new(E))) {
		return nil, fmt.Errorf("%w: element size %d, expected %d", ErrBadMagic, hdr.elemSize, unsafe.Sizeof(*new(E)))
	}
	if hdr.keyMax > uint64(MaxKeys) {
		return nil, fmt.Errorf("%w: key max %d", ErrBadMagic, hdr.keyMax)
	}

	keyMax := int(hdr.keyMax)
	l := layoutOf[E](keyMax)
	if uint64(l.chainCnt) != hdr.chainCnt {
		return nil, fmt.Errorf("%w: chain count %d", ErrBadMagic, hdr.chainCnt)
	}
	if len(mem) < l.footprint {
		return nil, fmt.Errorf("%w: block of %d bytes, need %d", ErrInvalid, len(mem), l.footprint)
	}

	return bind[K, E](mem, l, keyMax, key), nil
}

func checkMem(mem []byte, need int) error {
	if len(mem) < need || len(mem) == 0 {
		return fmt.Errorf("%w: block of %d bytes, need %d", ErrInvalid, len(mem), need)
	}
	if uintptr(unsafe.Pointer(&mem[0]))%Align != 0 { //nolint:gosec // alignment check
		return fmt.Errorf("%w: misaligned block", ErrInvalid)
	}
	return nil
}

func bind[K comparable, E any](mem []byte, l layout, keyMax int, key func(*E) *K) *Map[K, E] {
	m := &Map[K, E]{
		hdr: (*header)(unsafe.Pointer(&mem[0])), //nolint:gosec // map header lives in block memory
		key: key,
	}
	m.heads = unsafe.Slice((*uint32)(unsafe.Pointer(&mem[l.headsOff])), l.chainCnt) //nolint:gosec // block memory
	if keyMax > 0 {
		m.next = unsafe.Slice((*uint32)(unsafe.Pointer(&mem[l.nextOff])), keyMax) //nolint:gosec // block memory
		m.elems = unsafe.Slice((*E)(unsafe.Pointer(&mem[l.elemsOff])), keyMax)    //nolint:gosec // block memory
	}
	return m
}

// Delete unformats the block. The join must not be used afterwards.
func (m *Map[K, E]) Delete() {
	atomic.StoreUint64(&m.hdr.magic, 0)
}

// Seed returns the hash seed.
func (m *Map[K, E]) Seed() uint64 { return m.hdr.seed }

// KeyMax returns the element capacity.
func (m *Map[K, E]) KeyMax() int { return int(m.hdr.keyMax) }

// KeyCnt returns the number of keys in the map.
func (m *Map[K, E]) KeyCnt() int { return int(m.hdr.keyCnt) }

// IsFull reports whether every element is in use.
func (m *Map[K, E]) IsFull() bool { return m.hdr.freeHead == Null }

func (m *Map[K, E]) chain(k *K) uint64 {
	var d xxhash.Digest
	d.ResetWithSeed(m.hdr.seed)
	_, _ = d.Write(unsafe.Slice((*byte)(unsafe.Pointer(k)), unsafe.Sizeof(*k))) //nolint:gosec // keys are hashed by their raw bytes
	return d.Sum64() & (m.hdr.chainCnt - 1)
}

// Query returns the index of the element holding k.
func (m *Map[K, E]) Query(k K) (uint32, bool) {
	idx := m.heads[m.chain(&k)]
	for idx != Null {
		if int(idx) >= len(m.elems) {
			return Null, false
		}
		if *m.key(&m.elems[idx]) == k {
			return idx, true
		}
		idx = m.next[idx]
	}
	return Null, false
}

// Insert adds k and returns the index of its element. The element is zeroed
// except for its key.
func (m *Map[K, E]) Insert(k K) (uint32, error) {
	if _, ok := m.Query(k); ok {
		return Null, ErrExists
	}
	idx := m.hdr.freeHead
	if idx == Null {
		return Null, ErrFull
	}
	m.hdr.freeHead = m.next[idx]

	var zero E
	m.elems[idx] = zero
	*m.key(&m.elems[idx]) = k

	c := m.chain(&k)
	m.next[idx] = m.heads[c]
	m.heads[c] = idx
	m.hdr.keyCnt++
	return idx, nil
}

// Remove deletes k. It reports whether k was present. The element contents
// are left in place until the index is reused.
func (m *Map[K, E]) Remove(k K) bool {
	c := m.chain(&k)
	prev := Null
	idx := m.heads[c]
	for idx != Null {
		if *m.key(&m.elems[idx]) == k {
			if prev == Null {
				m.heads[c] = m.next[idx]
			} else {
				m.next[prev] = m.next[idx]
			}
			m.next[idx] = m.hdr.freeHead
			m.hdr.freeHead = idx
			m.hdr.keyCnt--
			return true
		}
		prev = idx
		idx = m.next[idx]
	}
	return false
}

// Elem returns the element at idx, or nil if idx is out of range. The
// element may or may not be in use.
func (m *Map[K, E]) Elem(idx uint32) *E {
	if int64(idx) >= int64(len(m.elems)) {
		return nil
	}
	return &m.elems[idx]
}

// Index returns the index of e when e points exactly at an element of this map.
func (m *Map[K, E]) Index(e *E) (uint32, bool) {
	if e == nil || len(m.elems) == 0 {
		return Null, false
	}
	size := unsafe.Sizeof(*e)
	base := uintptr(unsafe.Pointer(&m.elems[0])) //nolint:gosec // address arithmetic on block memory
	p := uintptr(unsafe.Pointer(e))              //nolint:gosec // address arithmetic on block memory
	if p < base {
		return Null, false
	}
	off := p - base
	if off%size != 0 || off/size >= uintptr(len(m.elems)) {
		return Null, false
	}
	return uint32(off / size), true
}

// IsLive reports whether idx holds a key currently in the map.
func (m *Map[K, E]) IsLive(idx uint32) bool {
	e := m.Elem(idx)
	if e == nil {
		return false
	}
	got, ok := m.Query(*m.key(e))
	return ok && got == idx
}

// All iterates over the elements in use. The map must not be modified
// during iteration.
func (m *Map[K, E]) All() iter.Seq2[uint32, *E] {
	return func(yield func(uint32, *E) bool) {
		for _, idx := range m.heads {
			for idx != Null && int(idx) < len(m.elems) {
				next := m.next[idx]
				if !yield(idx, &m.elems[idx]) {
					return
				}
				idx = next
			}
		}
	}
}

// Verify checks chain and free list integrity.
func (m *Map[K, E]) Verify() error {
	if atomic.LoadUint64(&m.hdr.magic) != Magic {
		return ErrBadMagic
	}
	keyMax := uint64(len(m.elems))
	if m.hdr.keyMax != keyMax {
		return fmt.Errorf("hashmap: key max %d, join has %d", m.hdr.keyMax, keyMax)
	}
	if m.hdr.keyCnt > keyMax {
		return fmt.Errorf("hashmap: key count %d exceeds key max %d", m.hdr.keyCnt, keyMax)
	}

	seen := bitset.New(uint(keyMax))

	var used uint64
	for c, idx := range m.heads {
		for idx != Null {
			if uint64(idx) >= keyMax {
				return fmt.Errorf("hashmap: chain %d holds out of range index %d", c, idx)
			}
			if seen.Test(uint(idx)) {
				return fmt.Errorf("hashmap: index %d reached twice", idx)
			}
			seen.Set(uint(idx))
			if m.chain(m.key(&m.elems[idx])) != uint64(c) {
				return fmt.Errorf("hashmap: index %d is on chain %d but hashes elsewhere", idx, c)
			}
			used++
			idx = m.next[idx]
		}
	}
	if used != m.hdr.keyCnt {
		return fmt.Errorf("hashmap: %d keys on chains, header says %d", used, m.hdr.keyCnt)
	}

	var free uint64
	for idx := m.hdr.freeHead; idx != Null; idx = m.next[idx] {
		if uint64(idx) >= keyMax {
			return fmt.Errorf("hashmap: free list holds out of range index %d", idx)
		}
		if seen.Test(uint(idx)) {
			return fmt.Errorf("hashmap: index %d is both free and used, or free twice", idx)
		}
		seen.Set(uint(idx))
		free++
	}
	if used+free != keyMax {
		return fmt.Errorf("hashmap: %d used + %d free != %d", used, free, keyMax)
	}
	return nil
}
