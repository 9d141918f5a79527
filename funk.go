package funk

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/time/rate"

	"github.com/hupe1980/funk/internal/hashmap"
	"github.com/hupe1980/funk/wksp"
)

const (
	// Magic identifies a formatted store header.
	Magic = uint64(0xf17eda2ce7fc2c00)

	// Align is the alignment of the store header allocation.
	Align = 64
)

// header is the persisted store state at the store's global address.
type header struct {
	magic       uint64
	gaddr       uint64
	wkspTag     uint64
	seed        uint64
	txnMax      uint64
	recMax      uint64
	txnMapGaddr uint64
	recMapGaddr uint64
	root        XID
	lastPublish XID
	childHead   uint32
	childTail   uint32
	recHead     uint32
	recTail     uint32
	policy      uint32
	publishing  uint32
}

const headerSize = uint64(unsafe.Sizeof(header{}))

// Store is a local join to a store in a workspace.
//
// A Store does no locking of its own; see the package documentation for
// the concurrency rules.
type Store struct {
	ws      *wksp.Workspace
	gaddr   uint64
	hdr     *header
	txns    *hashmap.Map[XID, Txn]
	recs    *hashmap.Map[Pair, Record]
	logger  *Logger
	metrics MetricsCollector
	verbose bool
	warn    *rate.Sometimes
}

func txnKey(t *Txn) *XID     { return &t.xid }
func recKey(r *Record) *Pair { return &r.pair }
func txnFootprint(n int) int { return hashmap.Footprint[Txn](n) }
func recFootprint(n int) int { return hashmap.Footprint[Record](n) }

// New creates a store in ws with room for txnMax in-preparation
// transactions and recMax records, and returns a join to it.
//
// Every allocation the store makes carries tag, which must be non-zero.
// seed seeds the hash of both maps.
func New(ws *wksp.Workspace, tag, seed uint64, txnMax, recMax int, optFns ...Option) (*Store, error) {
	if ws == nil {
		return nil, fmt.Errorf("%w: nil workspace", ErrInvalid)
	}
	if tag == 0 {
		return nil, fmt.Errorf("%w: zero workspace tag", ErrInvalid)
	}
	if txnMax < 0 || txnMax > int(NullIndex) {
		return nil, &CapacityError{Field: "txn_max", Value: txnMax, Limit: int(NullIndex), cause: ErrInvalid}
	}
	if recMax < 0 || recMax > int(NullIndex) {
		return nil, &CapacityError{Field: "rec_max", Value: recMax, Limit: int(NullIndex), cause: ErrInvalid}
	}

	o := applyOptions(optFns)
	if o.policy > RootFrozenDuringPublish {
		return nil, fmt.Errorf("%w: root frozen policy %d", ErrInvalid, o.policy)
	}

	gaddr, err := ws.Alloc(Align, headerSize, tag)
	if err != nil {
		return nil, fmt.Errorf("funk: allocating header: %w", err)
	}
	txnGaddr, err := ws.Alloc(hashmap.Align, uint64(txnFootprint(txnMax)), tag)
	if err != nil {
		_ = ws.Free(gaddr)
		return nil, fmt.Errorf("funk: allocating transaction map: %w", err)
	}
	recGaddr, err := ws.Alloc(hashmap.Align, uint64(recFootprint(recMax)), tag)
	if err != nil {
		_ = ws.Free(txnGaddr)
		_ = ws.Free(gaddr)
		return nil, fmt.Errorf("funk: allocating record map: %w", err)
	}

	txns, err := hashmap.New[XID](ws.Bytes(txnGaddr, uint64(txnFootprint(txnMax))), txnMax, seed, txnKey)
	if err == nil {
		var recs *hashmap.Map[Pair, Record]
		recs, err = hashmap.New[Pair](ws.Bytes(recGaddr, uint64(recFootprint(recMax))), recMax, seed, recKey)
		if err == nil {
			hdr := (*header)(ws.Laddr(gaddr))
			*hdr = header{
				gaddr:       gaddr,
				wkspTag:     tag,
				seed:        seed,
				txnMax:      uint64(txnMax),
				recMax:      uint64(recMax),
				txnMapGaddr: txnGaddr,
				recMapGaddr: recGaddr,
				childHead:   NullIndex,
				childTail:   NullIndex,
				recHead:     NullIndex,
				recTail:     NullIndex,
				policy:      uint32(o.policy),
			}
			atomic.StoreUint64(&hdr.magic, Magic)

			s := newStore(ws, gaddr, hdr, txns, recs, o)
			s.logger.Info("store created",
				"tag", tag,
				"txn_max", txnMax,
				"rec_max", recMax,
				"policy", o.policy.String(),
			)
			return s, nil
		}
		txns.Delete()
	}

	_ = ws.Free(recGaddr)
	_ = ws.Free(txnGaddr)
	_ = ws.Free(gaddr)
	return nil, fmt.Errorf("funk: formatting maps: %w", err)
}

// Join attaches to the store whose header is at gaddr in ws.
func Join(ws *wksp.Workspace, gaddr uint64, optFns ...Option) (*Store, error) {
	if ws == nil {
		return nil, fmt.Errorf("%w: nil workspace", ErrInvalid)
	}
	b := ws.Bytes(gaddr, headerSize)
	if b == nil {
		return nil, fmt.Errorf("%w: gaddr %#x is not in the workspace", ErrInvalid, gaddr)
	}
	if uintptr(unsafe.Pointer(&b[0]))%8 != 0 { //nolint:gosec // alignment check
		return nil, fmt.Errorf("%w: misaligned gaddr %#x", ErrInvalid, gaddr)
	}

	hdr := (*header)(unsafe.Pointer(&b[0])) //nolint:gosec // header lives in workspace memory
	if atomic.LoadUint64(&hdr.magic) != Magic {
		return nil, ErrBadMagic
	}
	if hdr.gaddr != gaddr || ws.Tag(gaddr) != hdr.wkspTag {
		return nil, fmt.Errorf("%w: header at %#x belongs elsewhere", ErrBadMagic, gaddr)
	}
	if hdr.txnMax > uint64(NullIndex) || hdr.recMax > uint64(NullIndex) {
		return nil, fmt.Errorf("%w: geometry txn_max %d rec_max %d", ErrBadMagic, hdr.txnMax, hdr.recMax)
	}

	txnMax, recMax := int(hdr.txnMax), int(hdr.recMax)
	txns, err := hashmap.Join[XID](ws.Bytes(hdr.txnMapGaddr, uint64(txnFootprint(txnMax))), txnKey)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction map: %w", ErrBadMagic, err)
	}
	recs, err := hashmap.Join[Pair](ws.Bytes(hdr.recMapGaddr, uint64(recFootprint(recMax))), recKey)
	if err != nil {
		return nil, fmt.Errorf("%w: record map: %w", ErrBadMagic, err)
	}
	if txns.KeyMax() != txnMax || recs.KeyMax() != recMax {
		return nil, fmt.Errorf("%w: map capacities disagree with header", ErrBadMagic)
	}

	return newStore(ws, gaddr, hdr, txns, recs, applyOptions(optFns)), nil
}

func newStore(ws *wksp.Workspace, gaddr uint64, hdr *header, txns *hashmap.Map[XID, Txn], recs *hashmap.Map[Pair, Record], o options) *Store {
	return &Store{
		ws:      ws,
		gaddr:   gaddr,
		hdr:     hdr,
		txns:    txns,
		recs:    recs,
		logger:  o.logger.WithStore(gaddr),
		metrics: o.metricsCollector,
		verbose: o.verbose,
		warn:    &rate.Sometimes{Interval: o.warnInterval},
	}
}

// Locate returns the global address of the first store in ws created
// with tag.
func Locate(ws *wksp.Workspace, tag uint64) (uint64, bool) {
	if ws == nil || tag == 0 {
		return 0, false
	}
	for a := range ws.Allocations() {
		if a.Tag != tag || a.Size < headerSize {
			continue
		}
		b := ws.Bytes(a.GAddr, headerSize)
		if b == nil {
			continue
		}
		hdr := (*header)(unsafe.Pointer(&b[0])) //nolint:gosec // header lives in workspace memory
		if atomic.LoadUint64(&hdr.magic) == Magic && hdr.gaddr == a.GAddr {
			return a.GAddr, true
		}
	}
	return 0, false
}

// Leave drops the local join. The store itself is untouched and s must not
// be used afterwards.
func (s *Store) Leave() {
	s.hdr = nil
	s.txns = nil
	s.recs = nil
	s.ws = nil
}

// Delete destroys the store at gaddr and frees its allocations. Every
// other join to it becomes invalid.
func Delete(ws *wksp.Workspace, gaddr uint64, optFns ...Option) error {
	s, err := Join(ws, gaddr, optFns...)
	if err != nil {
		return err
	}
	defer s.Leave()

	txnGaddr, recGaddr := s.hdr.txnMapGaddr, s.hdr.recMapGaddr
	s.txns.Delete()
	s.recs.Delete()
	atomic.StoreUint64(&s.hdr.magic, 0)

	err = errors.Join(ws.Free(recGaddr), ws.Free(txnGaddr), ws.Free(gaddr))
	s.logger.Info("store deleted", "error", err)
	return err
}

// Workspace returns the workspace the store lives in.
func (s *Store) Workspace() *wksp.Workspace { return s.ws }

// GAddr returns the global address of the store header.
func (s *Store) GAddr() uint64 { return s.gaddr }

// WkspTag returns the tag of the store's workspace allocations.
func (s *Store) WkspTag() uint64 { return s.hdr.wkspTag }

// Seed returns the hash seed of both maps.
func (s *Store) Seed() uint64 { return s.hdr.seed }

// TxnMax returns the in-preparation transaction capacity.
func (s *Store) TxnMax() int { return int(s.hdr.txnMax) }

// RecMax returns the record capacity.
func (s *Store) RecMax() int { return int(s.hdr.recMax) }

// TxnCnt returns the number of in-preparation transactions.
func (s *Store) TxnCnt() int { return s.txns.KeyCnt() }

// TxnIsFull reports whether Prepare would fail with ErrTxnFull.
func (s *Store) TxnIsFull() bool { return s.txns.IsFull() }

// RecCnt returns the number of records, tombstones included.
func (s *Store) RecCnt() int { return s.recs.KeyCnt() }

// RecIsFull reports whether Insert of a new record would fail with ErrRecFull.
func (s *Store) RecIsFull() bool { return s.recs.IsFull() }

// Root returns the root xid.
func (s *Store) Root() XID { return s.hdr.root }

// LastPublish returns the xid of the most recently published transaction,
// or the root xid if nothing was published yet.
func (s *Store) LastPublish() XID { return s.hdr.lastPublish }

// Policy returns the canonical-state freezing policy chosen at creation.
func (s *Store) Policy() RootFrozenPolicy { return RootFrozenPolicy(s.hdr.policy) }

// LastPublishIsFrozen reports whether the canonical state currently rejects
// record mutations.
func (s *Store) LastPublishIsFrozen() bool {
	if s.Policy() == RootFrozenDuringPublish {
		return atomic.LoadUint32(&s.hdr.publishing) != 0
	}
	return s.hdr.childHead != NullIndex
}

// reject returns err, warning about it first when verbose.
func (s *Store) reject(op string, err error) error {
	if s.verbose {
		s.warn.Do(func() {
			s.logger.Warn("operation rejected", "op", op, "error", err)
		})
	}
	return err
}
