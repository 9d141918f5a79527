package funk

import (
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/hupe1980/funk/internal/visited"
)

// Txn is an in-preparation transaction. It lives in the transaction map;
// *Txn values handed out by a Store point into workspace memory and stay
// valid until the transaction is published or cancelled.
//
// A nil *Txn denotes the canonical state throughout the API.
type Txn struct {
	xid         XID
	parent      uint32
	childHead   uint32
	childTail   uint32
	siblingPrev uint32
	siblingNext uint32
	recHead     uint32
	recTail     uint32
	_           uint32
}

// XID returns the transaction id.
func (t *Txn) XID() XID { return t.xid }

// txnIndex returns the map index of t if t is a live transaction of s.
func (s *Store) txnIndex(t *Txn) (uint32, bool) {
	if t == nil {
		return NullIndex, false
	}
	idx, ok := s.txns.Index(t)
	if !ok || !s.txns.IsLive(idx) {
		return NullIndex, false
	}
	return idx, true
}

func (s *Store) txnAt(op string, idx uint32) *Txn {
	t := s.txns.Elem(idx)
	if t == nil {
		s.corrupt(op, "transaction index %d out of range", idx)
	}
	return t
}

// txnOrNil maps NullIndex to nil.
func (s *Store) txnOrNil(op string, idx uint32) *Txn {
	if idx == NullIndex {
		return nil
	}
	return s.txnAt(op, idx)
}

// children returns the child list ends of the transaction at idx, or of
// the canonical state for NullIndex.
func (s *Store) children(op string, idx uint32) (head, tail *uint32) {
	if idx == NullIndex {
		return &s.hdr.childHead, &s.hdr.childTail
	}
	t := s.txnAt(op, idx)
	return &t.childHead, &t.childTail
}

// Prepare forks a new transaction xid from parent, or from the canonical
// state when parent is nil. parent becomes frozen.
func (s *Store) Prepare(parent *Txn, xid XID) (txn *Txn, err error) {
	const op = "prepare"

	start := time.Now()
	parentXID := RootXID
	if parent != nil {
		parentXID = parent.xid
	}
	defer func() {
		s.metrics.RecordPrepare(time.Since(start), err)
		s.logger.LogPrepare(parentXID, xid, err)
	}()

	if s.txns.IsFull() {
		return nil, s.reject(op, fmt.Errorf("%w: %d transactions in preparation", ErrTxnFull, s.TxnMax()))
	}

	parentIdx := NullIndex
	if parent != nil {
		idx, ok := s.txnIndex(parent)
		if !ok {
			return nil, s.reject(op, fmt.Errorf("%w: parent is not in preparation", ErrInvalid))
		}
		parentIdx = idx
	}

	switch {
	case xid.IsRoot():
		return nil, s.reject(op, fmt.Errorf("%w: root xid", ErrXID))
	case xid == s.hdr.lastPublish:
		return nil, s.reject(op, fmt.Errorf("%w: %s is the last published xid", ErrXID, xid))
	}

	idx, err := s.txns.Insert(xid)
	if err != nil {
		return nil, s.reject(op, fmt.Errorf("%w: %s already in preparation", ErrXID, xid))
	}

	head, tail := s.children(op, parentIdx)

	t := s.txns.Elem(idx)
	t.parent = parentIdx
	t.childHead = NullIndex
	t.childTail = NullIndex
	t.siblingPrev = *tail
	t.siblingNext = NullIndex
	t.recHead = NullIndex
	t.recTail = NullIndex

	if *tail == NullIndex {
		*head = idx
	} else {
		s.txnAt(op, *tail).siblingNext = idx
	}
	*tail = idx

	return t, nil
}

// Cancel discards txn and every transaction descended from it together
// with their records. It returns the number of transactions cancelled.
func (s *Store) Cancel(txn *Txn) (cnt int, err error) {
	const op = "cancel"

	start := time.Now()
	defer func() {
		s.metrics.RecordCancel(cnt, time.Since(start), err)
		s.logger.LogCancel(op, cnt, err)
	}()

	idx, ok := s.txnIndex(txn)
	if !ok {
		return 0, s.reject(op, fmt.Errorf("%w: transaction is not in preparation", ErrInvalid))
	}
	return s.cancelFamily(op, idx), nil
}

// CancelSiblings cancels every sibling of txn along with its descendants.
func (s *Store) CancelSiblings(txn *Txn) (cnt int, err error) {
	const op = "cancel_siblings"

	start := time.Now()
	defer func() {
		s.metrics.RecordCancel(cnt, time.Since(start), err)
		s.logger.LogCancel(op, cnt, err)
	}()

	idx, ok := s.txnIndex(txn)
	if !ok {
		return 0, s.reject(op, fmt.Errorf("%w: transaction is not in preparation", ErrInvalid))
	}
	head, _ := s.children(op, txn.parent)
	return s.cancelList(op, *head, idx), nil
}

// CancelChildren cancels every child of txn along with its descendants.
// A nil txn cancels every in-preparation transaction.
func (s *Store) CancelChildren(txn *Txn) (cnt int, err error) {
	const op = "cancel_children"

	start := time.Now()
	defer func() {
		s.metrics.RecordCancel(cnt, time.Since(start), err)
		s.logger.LogCancel(op, cnt, err)
	}()

	first := s.hdr.childHead
	if txn != nil {
		if _, ok := s.txnIndex(txn); !ok {
			return 0, s.reject(op, fmt.Errorf("%w: transaction is not in preparation", ErrInvalid))
		}
		first = txn.childHead
	}
	return s.cancelList(op, first, NullIndex), nil
}

// cancelList cancels the families of the sibling list starting at first,
// oldest first, skipping keep.
func (s *Store) cancelList(op string, first, keep uint32) int {
	cnt := 0
	steps := 0
	for idx := first; idx != NullIndex; {
		if steps++; steps > s.TxnMax() {
			s.corrupt(op, "sibling list cycle")
		}
		next := s.txnAt(op, idx).siblingNext
		if idx != keep {
			cnt += s.cancelFamily(op, idx)
		}
		idx = next
	}
	return cnt
}

// cancelFamily cancels the transaction at idx and its descendants,
// youngest first, and returns the number cancelled.
func (s *Store) cancelFamily(op string, idx uint32) int {
	v := visited.Get()
	defer visited.Put(v)

	v.Visit(idx)
	cnt := 0
	for {
		t := s.txnAt(op, idx)

		if youngest := t.childTail; youngest != NullIndex {
			if s.txnAt(op, youngest).parent != idx {
				s.corrupt(op, "transaction %d lists child %d with another parent", idx, youngest)
			}
			if !v.Visit(youngest) {
				s.corrupt(op, "transaction tree cycle at %d", youngest)
			}
			v.Push(idx)
			idx = youngest
			continue
		}

		s.dropRecords(op, t)
		s.unlinkTxn(op, idx)
		s.txns.Remove(t.xid)
		cnt++

		parent, ok := v.Pop()
		if !ok {
			return cnt
		}
		idx = parent
	}
}

// unlinkTxn removes the transaction at idx from its parent's child list.
func (s *Store) unlinkTxn(op string, idx uint32) {
	t := s.txnAt(op, idx)
	head, tail := s.children(op, t.parent)
	prev, next := t.siblingPrev, t.siblingNext

	if prev == NullIndex {
		if *head != idx {
			s.corrupt(op, "transaction %d has no previous sibling but is not the oldest child", idx)
		}
		*head = next
	} else {
		s.txnAt(op, prev).siblingNext = next
	}

	if next == NullIndex {
		if *tail != idx {
			s.corrupt(op, "transaction %d has no next sibling but is not the youngest child", idx)
		}
		*tail = prev
	} else {
		s.txnAt(op, next).siblingPrev = prev
	}

	t.siblingPrev = NullIndex
	t.siblingNext = NullIndex
}

// Publish makes txn the canonical state. Ancestors of txn are published
// first, oldest first. Every competing history is cancelled and the
// children of txn become children of the canonical state. It returns the
// number of transactions published.
func (s *Store) Publish(txn *Txn) (cnt int, err error) {
	const op = "publish"

	start := time.Now()
	var xid XID
	if txn != nil {
		xid = txn.xid
	}
	defer func() {
		s.metrics.RecordPublish(cnt, time.Since(start), err)
		s.logger.LogPublish(xid, cnt, err)
	}()

	idx, ok := s.txnIndex(txn)
	if !ok {
		return 0, s.reject(op, fmt.Errorf("%w: transaction is not in preparation", ErrInvalid))
	}

	v := visited.Get()
	defer visited.Put(v)

	for cur := idx; cur != NullIndex; cur = s.txnAt(op, cur).parent {
		if !v.Visit(cur) {
			s.corrupt(op, "transaction tree cycle at %d", cur)
		}
		v.Push(cur)
	}

	atomic.StoreUint32(&s.hdr.publishing, 1)
	defer atomic.StoreUint32(&s.hdr.publishing, 0)

	for {
		cur, ok := v.Pop()
		if !ok {
			break
		}
		s.publishChild(op, cur)
		cnt++
	}
	return cnt, nil
}

// publishChild publishes a child of the canonical state.
func (s *Store) publishChild(op string, idx uint32) {
	t := s.txnAt(op, idx)
	if t.parent != NullIndex {
		s.corrupt(op, "transaction %d is not a child of the canonical state", idx)
	}

	s.applyRecords(op, t)
	s.cancelList(op, s.hdr.childHead, idx)

	steps := 0
	for c := t.childHead; c != NullIndex; c = s.txnAt(op, c).siblingNext {
		if steps++; steps > s.TxnMax() {
			s.corrupt(op, "child list cycle under %d", idx)
		}
		s.txnAt(op, c).parent = NullIndex
	}
	s.hdr.childHead = t.childHead
	s.hdr.childTail = t.childTail
	s.hdr.lastPublish = t.xid

	s.txns.Remove(t.xid)
}

// Merge folds txn into its parent: the parent takes over txn's records and
// tombstones, and txn is destroyed, leaving the parent unfrozen. txn must be
// the only child of an in-preparation parent and must have no children.
func (s *Store) Merge(txn *Txn) (err error) {
	const op = "merge"

	var (
		xid     XID
		records int
	)
	if txn != nil {
		xid = txn.xid
	}
	defer func() { s.logger.LogMerge(xid, records, err) }()

	idx, ok := s.txnIndex(txn)
	if !ok {
		return s.reject(op, fmt.Errorf("%w: transaction is not in preparation", ErrInvalid))
	}
	switch {
	case txn.parent == NullIndex:
		return s.reject(op, fmt.Errorf("%w: parent is the canonical state", ErrInvalid))
	case txn.childHead != NullIndex:
		return s.reject(op, fmt.Errorf("%w: transaction has children", ErrInvalid))
	case txn.siblingPrev != NullIndex || txn.siblingNext != NullIndex:
		return s.reject(op, fmt.Errorf("%w: transaction has siblings", ErrInvalid))
	}

	parentIdx := txn.parent
	parent := s.txnAt(op, parentIdx)

	steps := 0
	for ridx := txn.recHead; ridx != NullIndex; {
		if steps++; steps > s.RecMax() {
			s.corrupt(op, "record list cycle in transaction %d", idx)
		}
		r := s.recAt(op, ridx)
		next := r.next
		s.mergeRecord(op, ridx, parentIdx, parent)
		records++
		ridx = next
	}
	txn.recHead = NullIndex
	txn.recTail = NullIndex

	s.unlinkTxn(op, idx)
	s.txns.Remove(txn.xid)
	return nil
}

// mergeRecord moves the record at ridx into the parent transaction.
func (s *Store) mergeRecord(op string, ridx, parentIdx uint32, parent *Txn) {
	r := s.recAt(op, ridx)
	key := r.pair.Key
	erase := r.flags&FlagErase != 0

	pidx, has := s.recs.Query(Pair{XID: parent.xid, Key: key})
	if !has {
		s.moveRecord(op, ridx, parentIdx, parent.xid)
		return
	}

	pr := s.recAt(op, pidx)
	val := r.val
	s.recs.Remove(r.pair)

	if !erase {
		pr.val = val
		pr.flags &^= FlagErase
		return
	}
	if pr.flags&FlagErase != 0 {
		return
	}
	if above := s.queryGlobal(op, parent.parent, key); above != nil && above.flags&FlagErase == 0 {
		pr.flags |= FlagErase
		return
	}
	s.destroyRecord(op, pidx)
}

// QueryTxn returns the in-preparation transaction xid, or nil.
func (s *Store) QueryTxn(xid XID) *Txn {
	if xid.IsRoot() {
		return nil
	}
	idx, ok := s.txns.Query(xid)
	if !ok {
		return nil
	}
	return s.txns.Elem(idx)
}

// Parent returns the parent of txn, or nil if txn is a child of the
// canonical state (or not in preparation).
func (s *Store) Parent(txn *Txn) *Txn {
	if _, ok := s.txnIndex(txn); !ok {
		return nil
	}
	return s.txnOrNil("parent", txn.parent)
}

// ChildHead returns the oldest child of txn (nil txn: of the canonical state).
func (s *Store) ChildHead(txn *Txn) *Txn {
	if txn == nil {
		return s.txnOrNil("child_head", s.hdr.childHead)
	}
	if _, ok := s.txnIndex(txn); !ok {
		return nil
	}
	return s.txnOrNil("child_head", txn.childHead)
}

// ChildTail returns the youngest child of txn (nil txn: of the canonical state).
func (s *Store) ChildTail(txn *Txn) *Txn {
	if txn == nil {
		return s.txnOrNil("child_tail", s.hdr.childTail)
	}
	if _, ok := s.txnIndex(txn); !ok {
		return nil
	}
	return s.txnOrNil("child_tail", txn.childTail)
}

// SiblingPrev returns the next older sibling of txn.
func (s *Store) SiblingPrev(txn *Txn) *Txn {
	if _, ok := s.txnIndex(txn); !ok {
		return nil
	}
	return s.txnOrNil("sibling_prev", txn.siblingPrev)
}

// SiblingNext returns the next younger sibling of txn.
func (s *Store) SiblingNext(txn *Txn) *Txn {
	if _, ok := s.txnIndex(txn); !ok {
		return nil
	}
	return s.txnOrNil("sibling_next", txn.siblingNext)
}

// IsFrozen reports whether txn has children. A nil txn asks about the
// canonical state, following the store's RootFrozenPolicy.
func (s *Store) IsFrozen(txn *Txn) bool {
	if txn == nil {
		return s.LastPublishIsFrozen()
	}
	return txn.childHead != NullIndex
}

// IsOnlyChild reports whether txn has no siblings.
func (s *Store) IsOnlyChild(txn *Txn) bool {
	if _, ok := s.txnIndex(txn); !ok {
		return false
	}
	return txn.siblingPrev == NullIndex && txn.siblingNext == NullIndex
}

// Ancestor returns the youngest transaction among txn and its ancestors
// that has siblings, or nil when the history from txn up to the canonical
// state is linear.
func (s *Store) Ancestor(txn *Txn) *Txn {
	const op = "ancestor"

	if _, ok := s.txnIndex(txn); !ok {
		return nil
	}

	v := visited.Get()
	defer visited.Put(v)

	for cur := txn; ; {
		idx, _ := s.txns.Index(cur)
		if !v.Visit(idx) {
			s.corrupt(op, "transaction tree cycle at %d", idx)
		}
		if cur.siblingPrev != NullIndex || cur.siblingNext != NullIndex {
			return cur
		}
		if cur.parent == NullIndex {
			return nil
		}
		cur = s.txnAt(op, cur.parent)
	}
}

// Descendant returns the end of the only-child chain starting at txn: the
// deepest transaction reached by repeatedly stepping to a child that has no
// siblings. It returns nil if txn itself has siblings.
func (s *Store) Descendant(txn *Txn) *Txn {
	if !s.IsOnlyChild(txn) {
		return nil
	}
	return s.descend("descendant", txn)
}

func (s *Store) descend(op string, txn *Txn) *Txn {
	v := visited.Get()
	defer visited.Put(v)

	for {
		idx, _ := s.txns.Index(txn)
		if !v.Visit(idx) {
			s.corrupt(op, "transaction tree cycle at %d", idx)
		}
		if txn.childHead == NullIndex {
			return txn
		}
		child := s.txnAt(op, txn.childHead)
		if child.siblingPrev != NullIndex || child.siblingNext != NullIndex {
			return txn
		}
		txn = child
	}
}

// LastPublishDescendant returns Descendant of the oldest child of the
// canonical state, or nil.
func (s *Store) LastPublishDescendant() *Txn {
	head := s.txnOrNil("last_publish_descendant", s.hdr.childHead)
	if head == nil {
		return nil
	}
	return s.Descendant(head)
}

// Txns iterates over the in-preparation transactions in no particular
// order. The store must not be modified during iteration.
func (s *Store) Txns() iter.Seq[*Txn] {
	return func(yield func(*Txn) bool) {
		for _, t := range s.txns.All() {
			if !yield(t) {
				return
			}
		}
	}
}
