package funk

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sync/errgroup"
)

func verifyFail(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

// Verify audits the whole store and returns nil or an error wrapping
// ErrCorrupt that names the first failed check. It never modifies the
// store, and must not run concurrently with a mutation.
func (s *Store) Verify() (err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordVerify(time.Since(start), err)
		s.logger.LogVerify(s.txns.KeyCnt(), s.recs.KeyCnt(), err)
	}()

	if err := s.verifyHeader(); err != nil {
		return err
	}

	var g errgroup.Group
	g.Go(func() error {
		if err := s.txns.Verify(); err != nil {
			return verifyFail("transaction map: %v", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.recs.Verify(); err != nil {
			return verifyFail("record map: %v", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if err := s.verifyTxns(); err != nil {
		return err
	}
	return s.verifyRecs()
}

func (s *Store) verifyHeader() error {
	h := s.hdr
	switch {
	case atomic.LoadUint64(&h.magic) != Magic:
		return verifyFail("bad magic %#x", h.magic)
	case h.gaddr != s.gaddr:
		return verifyFail("header gaddr %#x, joined at %#x", h.gaddr, s.gaddr)
	case h.wkspTag == 0:
		return verifyFail("zero workspace tag")
	case s.ws.Tag(s.gaddr) != h.wkspTag:
		return verifyFail("header allocation tag %d, expected %d", s.ws.Tag(s.gaddr), h.wkspTag)
	case s.ws.Tag(h.txnMapGaddr) != h.wkspTag:
		return verifyFail("transaction map allocation tag %d, expected %d", s.ws.Tag(h.txnMapGaddr), h.wkspTag)
	case s.ws.Tag(h.recMapGaddr) != h.wkspTag:
		return verifyFail("record map allocation tag %d, expected %d", s.ws.Tag(h.recMapGaddr), h.wkspTag)
	case h.txnMax > uint64(NullIndex) || uint64(s.txns.KeyMax()) != h.txnMax:
		return verifyFail("txn_max %d, map holds %d", h.txnMax, s.txns.KeyMax())
	case h.recMax > uint64(NullIndex) || uint64(s.recs.KeyMax()) != h.recMax:
		return verifyFail("rec_max %d, map holds %d", h.recMax, s.recs.KeyMax())
	case s.txns.Seed() != h.seed || s.recs.Seed() != h.seed:
		return verifyFail("map seeds differ from %#x", h.seed)
	case !h.root.IsRoot():
		return verifyFail("root xid %s", h.root)
	case RootFrozenPolicy(h.policy) > RootFrozenDuringPublish:
		return verifyFail("policy %d", h.policy)
	case (h.childHead == NullIndex) != (h.childTail == NullIndex):
		return verifyFail("canonical child list head %d, tail %d", h.childHead, h.childTail)
	case (h.recHead == NullIndex) != (h.recTail == NullIndex):
		return verifyFail("canonical record list head %d, tail %d", h.recHead, h.recTail)
	}
	if !h.lastPublish.IsRoot() {
		if _, ok := s.txns.Query(h.lastPublish); ok {
			return verifyFail("last published xid %s is in preparation", h.lastPublish)
		}
	}
	return nil
}

// verifyTxns walks the transaction tree oldest to youngest and again
// youngest to oldest, checking every link and that the walk reaches each
// map entry exactly once.
func (s *Store) verifyTxns() error {
	txnMax := uint32(s.TxnMax())
	want := uint64(s.txns.KeyCnt())

	for _, forward := range []bool{true, false} {
		seen := roaring.New()
		stack := []uint32{NullIndex}

		for len(stack) > 0 {
			parent := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			head, tail := s.hdr.childHead, s.hdr.childTail
			if parent != NullIndex {
				p := s.txns.Elem(parent)
				head, tail = p.childHead, p.childTail
				if (head == NullIndex) != (tail == NullIndex) {
					return verifyFail("transaction %d child list head %d, tail %d", parent, head, tail)
				}
			}

			first, last := head, tail
			if !forward {
				first, last = tail, head
			}

			prev := NullIndex
			for c := first; c != NullIndex; {
				if c >= txnMax {
					return verifyFail("child index %d out of range under %d", c, parent)
				}
				if seen.Contains(c) {
					return verifyFail("transaction %d reached twice", c)
				}
				if !s.txns.IsLive(c) {
					return verifyFail("transaction %d is linked but not in the map", c)
				}
				t := s.txns.Elem(c)
				if t.xid == s.hdr.lastPublish {
					return verifyFail("transaction %d carries the last published xid", c)
				}
				if t.parent != parent {
					return verifyFail("transaction %d has parent %d, listed under %d", c, t.parent, parent)
				}

				back, next := t.siblingPrev, t.siblingNext
				if !forward {
					back, next = t.siblingNext, t.siblingPrev
				}
				if back != prev {
					return verifyFail("transaction %d sibling link %d, expected %d", c, back, prev)
				}

				seen.Add(c)
				stack = append(stack, c)
				prev = c
				c = next
			}
			if prev != last {
				return verifyFail("child list of %d ends at %d, expected %d", parent, prev, last)
			}
		}

		if seen.GetCardinality() != want {
			return verifyFail("reached %d transactions, map holds %d", seen.GetCardinality(), want)
		}
	}
	return nil
}

// verifyRecs checks record ownership, tombstone placement and every record
// list in both directions.
func (s *Store) verifyRecs() error {
	txnMax := uint32(s.TxnMax())

	for idx, r := range s.recs.All() {
		if r.txnCidx == NullIndex {
			if !r.pair.XID.IsRoot() {
				return verifyFail("canonical record %d has xid %s", idx, r.pair.XID)
			}
			if r.flags&FlagErase != 0 {
				return verifyFail("canonical record %d carries the erase flag", idx)
			}
			continue
		}

		if r.txnCidx >= txnMax {
			return verifyFail("record %d owned by out of range transaction %d", idx, r.txnCidx)
		}
		tidx, ok := s.txns.Query(r.pair.XID)
		if !ok || tidx != r.txnCidx {
			return verifyFail("record %d owned by %d, which does not hold xid %s", idx, r.txnCidx, r.pair.XID)
		}
		if r.flags&FlagErase != 0 {
			above := s.queryGlobal("verify", s.txns.Elem(tidx).parent, r.pair.Key)
			if above == nil || above.flags&FlagErase != 0 {
				return verifyFail("tombstone %d has no live ancestor copy", idx)
			}
		}
	}

	recMax := uint(s.RecMax())
	want := s.recs.KeyCnt()

	for _, forward := range []bool{true, false} {
		seen := bitset.New(recMax)
		cnt := 0

		walk := func(txnIdx, head, tail uint32) error {
			first, last := head, tail
			if !forward {
				first, last = tail, head
			}
			prev := NullIndex
			for idx := first; idx != NullIndex; {
				if uint(idx) >= recMax {
					return verifyFail("record index %d out of range", idx)
				}
				if seen.Test(uint(idx)) {
					return verifyFail("record %d reached twice", idx)
				}
				if !s.recs.IsLive(idx) {
					return verifyFail("record %d is linked but not in the map", idx)
				}
				r := s.recs.Elem(idx)
				if r.txnCidx != txnIdx {
					return verifyFail("record %d owned by %d, listed under %d", idx, r.txnCidx, txnIdx)
				}

				back, next := r.prev, r.next
				if !forward {
					back, next = r.next, r.prev
				}
				if back != prev {
					return verifyFail("record %d link %d, expected %d", idx, back, prev)
				}

				seen.Set(uint(idx))
				cnt++
				prev = idx
				idx = next
			}
			if prev != last {
				return verifyFail("record list of %d ends at %d, expected %d", txnIdx, prev, last)
			}
			return nil
		}

		if err := walk(NullIndex, s.hdr.recHead, s.hdr.recTail); err != nil {
			return err
		}
		for tidx, t := range s.txns.All() {
			if err := walk(tidx, t.recHead, t.recTail); err != nil {
				return err
			}
		}

		if cnt != want {
			return verifyFail("reached %d records, map holds %d", cnt, want)
		}
	}
	return nil
}
