package wksp

import (
	"fmt"
	"iter"
	"sort"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/hupe1980/funk/internal/mem"
	"github.com/hupe1980/funk/internal/mmap"
)

const (
	// Magic identifies a formatted workspace region.
	Magic = uint64(0xf17eda2c3a7f5b00)

	// Version is the layout version written at format time.
	Version = uint64(1)

	// DefaultPartMax is the default number of partition table entries.
	DefaultPartMax = 256

	// DefaultAlign is used when Alloc is called with align 0.
	DefaultAlign = 8

	// MaxAlign is the largest supported allocation alignment. Regions start
	// on a page boundary, so aligned global addresses are aligned local
	// addresses up to this value.
	MaxAlign = mem.PageSize

	dataAlign = 64
)

// header is the persisted workspace header at global address 0.
type header struct {
	magic   uint64
	version uint64
	size    uint64
	partMax uint64
	partCnt uint64
	dataLo  uint64
}

// partition describes the half-open global address range [lo, hi).
// A tag of 0 marks the partition free.
type partition struct {
	lo  uint64
	hi  uint64
	tag uint64
}

// Allocation describes one used partition.
type Allocation struct {
	GAddr uint64
	Size  uint64
	Tag   uint64
}

// Usage summarizes workspace occupancy.
type Usage struct {
	Size           uint64 // Region bytes including header and partition table
	DataBytes      uint64 // Bytes available to allocations
	UsedBytes      uint64 // Bytes held by allocations, including alignment padding they absorbed
	FreeBytes      uint64 // Bytes in free partitions
	LargestFree    uint64 // Largest free partition
	Partitions     int    // Partition table entries in use
	PartitionMax   int    // Partition table capacity
	AllocatedCount int    // Used partitions
}

// Workspace is a local handle to a workspace region.
type Workspace struct {
	mu      sync.Mutex
	mapping *mmap.Mapping // nil for heap-backed workspaces
	data    []byte
	hdr     *header
	parts   []partition
	closed  atomic.Bool
}

type options struct {
	partMax int
}

// Option configures workspace formatting.
type Option func(*options)

// WithPartMax sets the number of partition table entries. Every allocation
// costs at most two entries; freeing coalesces them back.
func WithPartMax(n int) Option {
	return func(o *options) {
		o.partMax = n
	}
}

func applyOptions(optFns []Option) options {
	o := options{partMax: DefaultPartMax}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.partMax < 1 {
		o.partMax = 1
	}
	return o
}

// Footprint returns the bytes taken by the header and the partition table.
func Footprint(partMax int) int {
	return mem.AlignUp(int(unsafe.Sizeof(header{}))+partMax*int(unsafe.Sizeof(partition{})), dataAlign)
}

// New formats a process-private workspace of size bytes on the Go heap.
func New(size int, optFns ...Option) (*Workspace, error) {
	o := applyOptions(optFns)
	if size <= Footprint(o.partMax) {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidSize, size)
	}

	w := &Workspace{data: mem.AllocPages(size)}
	w.format(o)
	return w, nil
}

// NewAnonymous formats a workspace in anonymous shared memory. Processes
// forked after the call share the region.
func NewAnonymous(size int, optFns ...Option) (*Workspace, error) {
	o := applyOptions(optFns)
	if size <= Footprint(o.partMax) {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidSize, size)
	}

	m, err := mmap.MapAnon(size, true)
	if err != nil {
		return nil, err
	}

	w := &Workspace{mapping: m, data: m.Bytes()}
	w.format(o)
	return w, nil
}

// Create creates a file-backed workspace at path, truncating any existing file.
func Create(path string, size int, optFns ...Option) (*Workspace, error) {
	o := applyOptions(optFns)
	if size <= Footprint(o.partMax) {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidSize, size)
	}

	m, err := mmap.Create(path, size)
	if err != nil {
		return nil, err
	}

	w := &Workspace{mapping: m, data: m.Bytes()}
	w.format(o)

	if err := m.Sync(); err != nil {
		m.Close()
		return nil, err
	}
	return w, nil
}

// Open attaches to the file-backed workspace at path.
func Open(path string) (*Workspace, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}

	w := &Workspace{mapping: m, data: m.Bytes()}
	if err := w.attach(); err != nil {
		m.Close()
		return nil, err
	}

	// Joined stores walk hash chains in no particular order.
	if err := m.Advise(mmap.AccessRandom); err != nil {
		m.Close()
		return nil, err
	}
	return w, nil
}

func (w *Workspace) format(o options) {
	w.hdr = (*header)(unsafe.Pointer(&w.data[0])) //nolint:gosec // workspace header lives in region memory

	size := uint64(len(w.data))
	dataLo := uint64(Footprint(o.partMax))

	w.hdr.version = Version
	w.hdr.size = size
	w.hdr.partMax = uint64(o.partMax)
	w.hdr.dataLo = dataLo
	w.hdr.partCnt = 1

	w.bindParts()
	w.parts[0] = partition{lo: dataLo, hi: size}

	atomic.StoreUint64(&w.hdr.magic, Magic)
}

func (w *Workspace) attach() error {
	if len(w.data) < int(unsafe.Sizeof(header{})) {
		return ErrBadMagic
	}
	w.hdr = (*header)(unsafe.Pointer(&w.data[0])) //nolint:gosec // workspace header lives in region memory

	if atomic.LoadUint64(&w.hdr.magic) != Magic {
		return ErrBadMagic
	}
	if w.hdr.version != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrBadMagic, w.hdr.version)
	}
	if w.hdr.size != uint64(len(w.data)) {
		return fmt.Errorf("%w: header size %d, region size %d", ErrInvalidSize, w.hdr.size, len(w.data))
	}
	if w.hdr.partMax == 0 || w.hdr.dataLo != uint64(Footprint(int(w.hdr.partMax))) || w.hdr.dataLo >= w.hdr.size {
		return fmt.Errorf("%w: bad partition table geometry", ErrBadMagic)
	}
	if w.hdr.partCnt == 0 || w.hdr.partCnt > w.hdr.partMax {
		return fmt.Errorf("%w: bad partition count %d", ErrBadMagic, w.hdr.partCnt)
	}

	w.bindParts()
	return nil
}

func (w *Workspace) bindParts() {
	off := unsafe.Sizeof(header{})
	w.parts = unsafe.Slice((*partition)(unsafe.Pointer(&w.data[off])), w.hdr.partMax) //nolint:gosec // partition table lives in region memory
}

// Close releases the local handle and unmaps the region. Allocated blocks
// stay in the region for other attached processes.
func (w *Workspace) Close() error {
	if w.closed.Swap(true) {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.data = nil
	w.parts = nil
	w.hdr = nil

	if w.mapping != nil {
		return w.mapping.Close()
	}
	return nil
}

// Size returns the region size in bytes.
func (w *Workspace) Size() uint64 {
	if w.closed.Load() {
		return 0
	}
	return w.hdr.size
}

// Path returns the backing file of a file-backed workspace, or "".
func (w *Workspace) Path() string {
	if w.mapping == nil {
		return ""
	}
	return w.mapping.Name()
}

// Sync flushes a file-backed workspace to its file. Other backings return nil.
func (w *Workspace) Sync() error {
	if w.closed.Load() {
		return ErrClosed
	}
	if w.mapping == nil || w.mapping.Name() == "" {
		return nil
	}
	return w.mapping.Sync()
}

func (w *Workspace) lock() error {
	w.mu.Lock()
	if w.closed.Load() {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.mapping != nil {
		if err := w.mapping.Lock(); err != nil {
			w.mu.Unlock()
			return err
		}
	}
	return nil
}

func (w *Workspace) unlock() {
	if w.mapping != nil {
		_ = w.mapping.Unlock()
	}
	w.mu.Unlock()
}

// Alloc allocates size bytes aligned to align and stamps the block with tag.
// It returns the global address of the block. The block contents are not
// cleared.
func (w *Workspace) Alloc(align, size, tag uint64) (uint64, error) {
	if align == 0 {
		align = DefaultAlign
	}
	if !mem.IsPow2(align) || align > MaxAlign {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAlign, align)
	}
	if tag == 0 {
		return 0, ErrInvalidTag
	}
	if size == 0 {
		return 0, fmt.Errorf("%w: zero-size allocation", ErrInvalidSize)
	}

	if err := w.lock(); err != nil {
		return 0, err
	}
	defer w.unlock()

	cnt := int(w.hdr.partCnt)
	partMax := int(w.hdr.partMax)
	tableFull := false

	for i := 0; i < cnt; i++ {
		p := w.parts[i]
		if p.tag != 0 {
			continue
		}

		start := mem.AlignUp(p.lo, align)
		end := start + size
		if start < p.lo || end < start || end > p.hi {
			continue
		}

		var pieces [3]partition
		n := 0
		if start > p.lo {
			pieces[n] = partition{lo: p.lo, hi: start}
			n++
		}
		pieces[n] = partition{lo: start, hi: end, tag: tag}
		used := n
		n++
		if end < p.hi {
			pieces[n] = partition{lo: end, hi: p.hi}
			n++
		}

		if cnt+n-1 > partMax {
			tableFull = true
			continue
		}

		// Shift the tail right to make room for the extra pieces.
		copy(w.parts[i+n:cnt+n-1], w.parts[i+1:cnt])
		copy(w.parts[i:i+n], pieces[:n])
		w.hdr.partCnt = uint64(cnt + n - 1)

		return w.parts[i+used].lo, nil
	}

	if tableFull {
		return 0, ErrNoPartitions
	}
	return 0, fmt.Errorf("%w: %d bytes aligned to %d", ErrNoSpace, size, align)
}

// Free releases the allocation starting at gaddr.
func (w *Workspace) Free(gaddr uint64) error {
	if err := w.lock(); err != nil {
		return err
	}
	defer w.unlock()

	cnt := int(w.hdr.partCnt)
	i := w.find(gaddr)
	if i < 0 || w.parts[i].lo != gaddr || w.parts[i].tag == 0 {
		return fmt.Errorf("%w: %#x", ErrNotAllocated, gaddr)
	}

	w.parts[i].tag = 0

	// Coalesce with the right neighbour, then with the left one.
	if i+1 < cnt && w.parts[i+1].tag == 0 {
		w.parts[i].hi = w.parts[i+1].hi
		copy(w.parts[i+1:cnt-1], w.parts[i+2:cnt])
		cnt--
	}
	if i > 0 && w.parts[i-1].tag == 0 {
		w.parts[i-1].hi = w.parts[i].hi
		copy(w.parts[i:cnt-1], w.parts[i+1:cnt])
		cnt--
	}

	w.hdr.partCnt = uint64(cnt)
	return nil
}

// find returns the index of the partition containing gaddr, or -1.
func (w *Workspace) find(gaddr uint64) int {
	cnt := int(w.hdr.partCnt)
	i := sort.Search(cnt, func(i int) bool { return w.parts[i].hi > gaddr })
	if i >= cnt || w.parts[i].lo > gaddr {
		return -1
	}
	return i
}

// Tag returns the tag of the allocation containing gaddr, or 0 when gaddr
// is not inside an allocation.
func (w *Workspace) Tag(gaddr uint64) uint64 {
	if w.closed.Load() {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	i := w.find(gaddr)
	if i < 0 {
		return 0
	}
	return w.parts[i].tag
}

// Laddr translates a global address into a pointer in this process, or nil
// if gaddr is outside the region.
func (w *Workspace) Laddr(gaddr uint64) unsafe.Pointer {
	if w.closed.Load() || gaddr == 0 || gaddr >= uint64(len(w.data)) {
		return nil
	}
	return unsafe.Pointer(&w.data[gaddr]) //nolint:gosec // translating into region memory
}

// Bytes returns the n bytes at gaddr, or nil if the range is outside the region.
func (w *Workspace) Bytes(gaddr, n uint64) []byte {
	if w.closed.Load() || gaddr == 0 || gaddr > uint64(len(w.data)) || n > uint64(len(w.data))-gaddr {
		return nil
	}
	return w.data[gaddr : gaddr+n : gaddr+n]
}

// Gaddr translates a pointer into the region into its global address, or 0
// if ptr does not point into the region.
func (w *Workspace) Gaddr(ptr unsafe.Pointer) uint64 {
	if w.closed.Load() || ptr == nil || len(w.data) == 0 {
		return 0
	}
	base := uintptr(unsafe.Pointer(&w.data[0])) //nolint:gosec // address arithmetic on region memory
	p := uintptr(ptr)
	if p < base || p >= base+uintptr(len(w.data)) {
		return 0
	}
	return uint64(p - base)
}

// Contains reports whether ptr points into the region.
func (w *Workspace) Contains(ptr unsafe.Pointer) bool {
	return w.Gaddr(ptr) != 0
}

// Allocations iterates over the used partitions in address order.
func (w *Workspace) Allocations() iter.Seq[Allocation] {
	return func(yield func(Allocation) bool) {
		if w.closed.Load() {
			return
		}
		w.mu.Lock()
		snapshot := make([]Allocation, 0, w.hdr.partCnt)
		for _, p := range w.parts[:w.hdr.partCnt] {
			if p.tag != 0 {
				snapshot = append(snapshot, Allocation{GAddr: p.lo, Size: p.hi - p.lo, Tag: p.tag})
			}
		}
		w.mu.Unlock()

		for _, a := range snapshot {
			if !yield(a) {
				return
			}
		}
	}
}

// Usage returns a snapshot of the workspace occupancy.
func (w *Workspace) Usage() Usage {
	if w.closed.Load() {
		return Usage{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	u := Usage{
		Size:         w.hdr.size,
		DataBytes:    w.hdr.size - w.hdr.dataLo,
		Partitions:   int(w.hdr.partCnt),
		PartitionMax: int(w.hdr.partMax),
	}
	for _, p := range w.parts[:w.hdr.partCnt] {
		sz := p.hi - p.lo
		if p.tag == 0 {
			u.FreeBytes += sz
			u.LargestFree = max(u.LargestFree, sz)
			continue
		}
		u.UsedBytes += sz
		u.AllocatedCount++
	}
	return u
}

// Verify checks the partition table for consistency.
func (w *Workspace) Verify() error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if atomic.LoadUint64(&w.hdr.magic) != Magic {
		return ErrBadMagic
	}
	cnt := w.hdr.partCnt
	if cnt == 0 || cnt > w.hdr.partMax {
		return fmt.Errorf("wksp: bad partition count %d", cnt)
	}

	next := w.hdr.dataLo
	for i, p := range w.parts[:cnt] {
		if p.lo != next || p.hi <= p.lo {
			return fmt.Errorf("wksp: partition %d [%#x,%#x) breaks the tiling at %#x", i, p.lo, p.hi, next)
		}
		if i > 0 && p.tag == 0 && w.parts[i-1].tag == 0 {
			return fmt.Errorf("wksp: adjacent free partitions at %d", i)
		}
		next = p.hi
	}
	if next != w.hdr.size {
		return fmt.Errorf("wksp: partitions end at %#x, region ends at %#x", next, w.hdr.size)
	}
	return nil
}
