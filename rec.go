package funk

import (
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/hupe1980/funk/internal/visited"
)

// FlagErase marks an in-preparation record as a tombstone: publishing its
// transaction deletes the canonical record with the same key.
const FlagErase = uint32(1 << 0)

// Val describes the value attached to a record. The store keeps it with the
// record and copies it on publish and merge but never interprets it.
type Val struct {
	GAddr uint64
	Size  uint32
	Max   uint32
}

// Record is one version of one logical record. It lives in the record map;
// *Record values point into workspace memory and stay valid until the
// record is removed, or its transaction is published or cancelled.
type Record struct {
	pair    Pair
	prev    uint32
	next    uint32
	txnCidx uint32
	flags   uint32
	val     Val
}

// Pair returns the composite key of r.
func (r *Record) Pair() Pair { return r.pair }

// XID returns the xid of the transaction owning r, root for canonical records.
func (r *Record) XID() XID { return r.pair.XID }

// Key returns the record key.
func (r *Record) Key() Key { return r.pair.Key }

// Flags returns the record flags.
func (r *Record) Flags() uint32 { return r.flags }

// IsErase reports whether r is a tombstone.
func (r *Record) IsErase() bool { return r.flags&FlagErase != 0 }

// Val returns the value descriptor.
func (r *Record) Val() Val { return r.val }

// Mut is a mutable handle to a record, obtained from Modify.
type Mut struct {
	rec *Record
}

// Record returns the record behind m.
func (m Mut) Record() *Record { return m.rec }

// SetVal replaces the value descriptor.
func (m Mut) SetVal(v Val) { m.rec.val = v }

func (s *Store) recAt(op string, idx uint32) *Record {
	r := s.recs.Elem(idx)
	if r == nil {
		s.corrupt(op, "record index %d out of range", idx)
	}
	return r
}

func (s *Store) recOrNil(op string, idx uint32) *Record {
	if idx == NullIndex {
		return nil
	}
	return s.recAt(op, idx)
}

// recList returns the record list ends of the transaction at idx, or of
// the canonical state for NullIndex.
func (s *Store) recList(op string, idx uint32) (head, tail *uint32) {
	if idx == NullIndex {
		return &s.hdr.recHead, &s.hdr.recTail
	}
	t := s.txnAt(op, idx)
	return &t.recHead, &t.recTail
}

// appendRecord links the record at idx to the tail of the list of the
// transaction at txnIdx.
func (s *Store) appendRecord(op string, txnIdx, idx uint32) {
	head, tail := s.recList(op, txnIdx)

	r := s.recAt(op, idx)
	r.txnCidx = txnIdx
	r.prev = *tail
	r.next = NullIndex

	if *tail == NullIndex {
		*head = idx
	} else {
		s.recAt(op, *tail).next = idx
	}
	*tail = idx
}

// destroyRecord unlinks the record at idx from its list and unmaps it.
func (s *Store) destroyRecord(op string, idx uint32) {
	r := s.recAt(op, idx)
	head, tail := s.recList(op, r.txnCidx)
	prev, next := r.prev, r.next

	recMax := uint32(s.RecMax())
	if (prev != NullIndex && prev >= recMax) || (next != NullIndex && next >= recMax) {
		s.corrupt(op, "record %d links out of range (prev %d, next %d)", idx, prev, next)
	}

	if prev == NullIndex {
		*head = next
	} else {
		s.recAt(op, prev).next = next
	}
	if next == NullIndex {
		*tail = prev
	} else {
		s.recAt(op, next).prev = prev
	}

	if !s.recs.Remove(r.pair) {
		s.corrupt(op, "record %d on a list but not in the map", idx)
	}
}

// moveRecord rekeys the record at idx into the transaction at txnIdx and
// appends it there. The caller is consuming the old owner's list.
func (s *Store) moveRecord(op string, idx, txnIdx uint32, xid XID) {
	r := s.recAt(op, idx)
	val, flags, key := r.val, r.flags, r.pair.Key

	if !s.recs.Remove(r.pair) {
		s.corrupt(op, "record %d on a list but not in the map", idx)
	}
	nidx, err := s.recs.Insert(Pair{XID: xid, Key: key})
	if err != nil {
		s.corrupt(op, "rekeying record %d: %v", idx, err)
	}

	nr := s.recAt(op, nidx)
	nr.val = val
	nr.flags = flags
	s.appendRecord(op, txnIdx, nidx)
}

// dropRecords unmaps every record of t and empties its list.
func (s *Store) dropRecords(op string, t *Txn) {
	steps := 0
	for idx := t.recHead; idx != NullIndex; {
		if steps++; steps > s.RecMax() {
			s.corrupt(op, "record list cycle in transaction %s", t.xid)
		}
		r := s.recAt(op, idx)
		next := r.next
		if !s.recs.Remove(r.pair) {
			s.corrupt(op, "record %d on a list but not in the map", idx)
		}
		idx = next
	}
	t.recHead = NullIndex
	t.recTail = NullIndex
}

// applyRecords moves the records of t, a child of the canonical state, into
// the canonical state. Tombstones delete their canonical counterpart.
func (s *Store) applyRecords(op string, t *Txn) {
	steps := 0
	for idx := t.recHead; idx != NullIndex; {
		if steps++; steps > s.RecMax() {
			s.corrupt(op, "record list cycle in transaction %s", t.xid)
		}
		r := s.recAt(op, idx)
		next := r.next
		root := Pair{Key: r.pair.Key}

		ridx, has := s.recs.Query(root)
		switch {
		case r.flags&FlagErase != 0:
			if !has {
				s.corrupt(op, "tombstone for %s has no canonical record", r.pair.Key)
			}
			s.destroyRecord(op, ridx)
			s.recs.Remove(r.pair)
		case has:
			s.recAt(op, ridx).val = r.val
			s.recs.Remove(r.pair)
		default:
			s.moveRecord(op, idx, NullIndex, RootXID)
		}
		idx = next
	}
	t.recHead = NullIndex
	t.recTail = NullIndex
}

// scope resolves txn to its map index and xid. A nil txn is the canonical
// state.
func (s *Store) scope(txn *Txn) (uint32, XID, bool) {
	if txn == nil {
		return NullIndex, RootXID, true
	}
	idx, ok := s.txnIndex(txn)
	if !ok {
		return NullIndex, RootXID, false
	}
	return idx, txn.xid, true
}

// Query returns the record for key held by txn itself, or nil. Tombstones
// are returned too.
func (s *Store) Query(txn *Txn, key Key) *Record {
	_, xid, ok := s.scope(txn)
	if !ok {
		return nil
	}
	idx, ok := s.recs.Query(Pair{XID: xid, Key: key})
	if !ok {
		return nil
	}
	return s.recs.Elem(idx)
}

// QueryGlobal returns the record for key as seen from txn: the copy held by
// txn or by its nearest ancestor that has one, ending with the canonical
// state. The caller must check IsErase on the result.
func (s *Store) QueryGlobal(txn *Txn, key Key) *Record {
	idx, _, ok := s.scope(txn)
	if !ok {
		return nil
	}
	return s.queryGlobal("query_global", idx, key)
}

func (s *Store) queryGlobal(op string, idx uint32, key Key) *Record {
	v := visited.Get()
	defer visited.Put(v)

	for idx != NullIndex {
		if !v.Visit(idx) {
			s.corrupt(op, "transaction tree cycle at %d", idx)
		}
		t := s.txnAt(op, idx)
		if ridx, ok := s.recs.Query(Pair{XID: t.xid, Key: key}); ok {
			return s.recs.Elem(ridx)
		}
		idx = t.parent
	}
	if ridx, ok := s.recs.Query(Pair{Key: key}); ok {
		return s.recs.Elem(ridx)
	}
	return nil
}

// Test reports whether rec is a live record that may be modified. It
// returns ErrInvalid if rec does not point at a record slot, ErrKey if the
// slot is not live, ErrXID if its owner is not in preparation and
// ErrFrozen if its owner is frozen.
func (s *Store) Test(rec *Record) error {
	idx, ok := s.recs.Index(rec)
	if !ok {
		return fmt.Errorf("%w: not a record of this store", ErrInvalid)
	}
	if !s.recs.IsLive(idx) {
		return fmt.Errorf("%w: record is not live", ErrKey)
	}

	if rec.txnCidx == NullIndex {
		if s.LastPublishIsFrozen() {
			return fmt.Errorf("%w: canonical state", ErrFrozen)
		}
		return nil
	}

	t := s.txns.Elem(rec.txnCidx)
	if t == nil || t.xid != rec.pair.XID {
		return fmt.Errorf("%w: owner %s is not in preparation", ErrXID, rec.pair.XID)
	}
	if t.childHead != NullIndex {
		return fmt.Errorf("%w: transaction %s", ErrFrozen, t.xid)
	}
	return nil
}

// Modify returns a mutable handle to rec if Test passes. A live record
// whose owner is not in preparation is corruption.
func (s *Store) Modify(rec *Record) (Mut, error) {
	if err := s.Test(rec); err != nil {
		if errors.Is(err, ErrXID) {
			s.corrupt("modify", "record %s owned by %d, which does not hold it", rec.pair, rec.txnCidx)
		}
		return Mut{}, s.reject("modify", err)
	}
	return Mut{rec: rec}, nil
}

// Insert creates the record for key in txn (nil txn: the canonical state)
// and appends it to the transaction's record list.
//
// Inserting over a tombstone of the same transaction clears its erase flag
// and returns it. Inserting over a live record fails with ErrKey.
func (s *Store) Insert(txn *Txn, key Key) (rec *Record, err error) {
	const op = "insert"

	start := time.Now()
	defer func() { s.metrics.RecordInsert(time.Since(start), err) }()

	txnIdx, xid, ok := s.scope(txn)
	if !ok {
		return nil, s.reject(op, fmt.Errorf("%w: transaction is not in preparation", ErrInvalid))
	}
	if s.recs.IsFull() {
		return nil, s.reject(op, fmt.Errorf("%w: %d records", ErrRecFull, s.RecMax()))
	}
	if s.IsFrozen(txn) {
		return nil, s.reject(op, fmt.Errorf("%w: cannot insert into %s", ErrFrozen, xid))
	}

	pair := Pair{XID: xid, Key: key}
	if idx, ok := s.recs.Query(pair); ok {
		r := s.recs.Elem(idx)
		if txnIdx == NullIndex {
			if r.flags&FlagErase != 0 {
				s.corrupt(op, "canonical record %s carries the erase flag", key)
			}
			return nil, s.reject(op, fmt.Errorf("%w: %s exists", ErrKey, pair))
		}
		if r.flags&FlagErase == 0 {
			return nil, s.reject(op, fmt.Errorf("%w: %s exists", ErrKey, pair))
		}
		r.flags &^= FlagErase
		return r, nil
	}

	idx, err := s.recs.Insert(pair)
	if err != nil {
		s.corrupt(op, "inserting %s: %v", pair, err)
	}
	s.appendRecord(op, txnIdx, idx)
	return s.recs.Elem(idx), nil
}

// Remove removes rec from its transaction.
//
// For an in-preparation record, erase false discards the transaction's
// change to the key. Erase true deletes the key as seen by the
// transaction: if an ancestor still holds a live copy, rec becomes a
// tombstone, otherwise it is discarded. Erasing a tombstone is a no-op.
//
// A canonical record can only be erased, never reverted; erase false
// fails with ErrXID.
func (s *Store) Remove(rec *Record, erase bool) (err error) {
	const op = "remove"

	start := time.Now()
	defer func() { s.metrics.RecordRemove(time.Since(start), err) }()

	idx, ok := s.recs.Index(rec)
	if !ok {
		return s.reject(op, fmt.Errorf("%w: not a record of this store", ErrInvalid))
	}
	if !s.recs.IsLive(idx) {
		return s.reject(op, fmt.Errorf("%w: record is not live", ErrKey))
	}

	if rec.txnCidx == NullIndex {
		if s.LastPublishIsFrozen() {
			return s.reject(op, fmt.Errorf("%w: canonical state", ErrFrozen))
		}
		if rec.flags&FlagErase != 0 {
			s.corrupt(op, "canonical record %s carries the erase flag", rec.pair.Key)
		}
		if !erase {
			return s.reject(op, fmt.Errorf("%w: cannot revert canonical record %s", ErrXID, rec.pair.Key))
		}
		if s.Policy() == RootFrozenDuringPublish {
			s.dropTombstones(op, rec.pair.Key)
		}
		s.destroyRecord(op, idx)
		return nil
	}

	txnIdx := rec.txnCidx
	if txnIdx >= uint32(s.TxnMax()) {
		s.corrupt(op, "record %d owned by out of range transaction %d", idx, txnIdx)
	}
	if s.txnAt(op, txnIdx).childHead != NullIndex {
		return s.reject(op, fmt.Errorf("%w: transaction %s", ErrFrozen, rec.pair.XID))
	}

	if erase {
		if rec.flags&FlagErase != 0 {
			return nil
		}
		if s.shadowsLiveCopy(op, txnIdx, rec.pair.Key) {
			rec.flags |= FlagErase
			return nil
		}
	}

	s.destroyRecord(op, idx)
	return nil
}

// shadowsLiveCopy reports whether the nearest ancestor copy of key above
// the transaction at txnIdx exists and is live.
func (s *Store) shadowsLiveCopy(op string, txnIdx uint32, key Key) bool {
	above := s.queryGlobal(op, s.txnAt(op, txnIdx).parent, key)
	if above == nil {
		return false
	}
	if above.txnCidx == NullIndex && above.flags&FlagErase != 0 {
		s.corrupt(op, "canonical record %s carries the erase flag", key)
	}
	return above.flags&FlagErase == 0
}

// dropTombstones discards every tombstone for key whose nearest ancestor
// copy is the canonical record.
func (s *Store) dropTombstones(op string, key Key) {
	for _, t := range s.txns.All() {
		ridx, ok := s.recs.Query(Pair{XID: t.xid, Key: key})
		if !ok || s.recAt(op, ridx).flags&FlagErase == 0 {
			continue
		}
		if above := s.queryGlobal(op, t.parent, key); above != nil && above.txnCidx == NullIndex {
			s.destroyRecord(op, ridx)
		}
	}
}

// RecHead returns the oldest record of txn (nil txn: of the canonical state).
func (s *Store) RecHead(txn *Txn) *Record {
	idx, _, ok := s.scope(txn)
	if !ok {
		return nil
	}
	head, _ := s.recList("rec_head", idx)
	return s.recOrNil("rec_head", *head)
}

// RecTail returns the youngest record of txn (nil txn: of the canonical state).
func (s *Store) RecTail(txn *Txn) *Record {
	idx, _, ok := s.scope(txn)
	if !ok {
		return nil
	}
	_, tail := s.recList("rec_tail", idx)
	return s.recOrNil("rec_tail", *tail)
}

// Next returns the record inserted after rec in the same transaction.
func (s *Store) Next(rec *Record) *Record {
	if _, ok := s.recs.Index(rec); !ok {
		return nil
	}
	return s.recOrNil("rec_next", rec.next)
}

// Prev returns the record inserted before rec in the same transaction.
func (s *Store) Prev(rec *Record) *Record {
	if _, ok := s.recs.Index(rec); !ok {
		return nil
	}
	return s.recOrNil("rec_prev", rec.prev)
}

// Records iterates over the records of txn (nil txn: of the canonical
// state) oldest first. The store must not be modified during iteration.
func (s *Store) Records(txn *Txn) iter.Seq[*Record] {
	const op = "records"

	return func(yield func(*Record) bool) {
		idx, _, ok := s.scope(txn)
		if !ok {
			return
		}
		head, _ := s.recList(op, idx)
		steps := 0
		for ridx := *head; ridx != NullIndex; {
			if steps++; steps > s.RecMax() {
				s.corrupt(op, "record list cycle")
			}
			r := s.recAt(op, ridx)
			if !yield(r) {
				return
			}
			ridx = r.next
		}
	}
}

// Txn returns the transaction owning rec, or nil for canonical records.
func (s *Store) Txn(rec *Record) *Txn {
	if _, ok := s.recs.Index(rec); !ok || rec.txnCidx == NullIndex {
		return nil
	}
	return s.txns.Elem(rec.txnCidx)
}
