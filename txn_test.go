package funk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func childXIDs(s *Store, txn *Txn) []XID {
	var out []XID
	for c := s.ChildHead(txn); c != nil; c = s.SiblingNext(c) {
		out = append(out, c.XID())
	}
	return out
}

func setVal(t *testing.T, s *Store, rec *Record, size uint32) {
	t.Helper()
	mut, err := s.Modify(rec)
	require.NoError(t, err)
	mut.SetVal(Val{GAddr: uint64(size) * 64, Size: size, Max: size})
}

func TestPrepare(t *testing.T) {
	s := newTestStore(t, 4, 16)

	t1 := mustPrepare(t, s, nil, 1)
	assert.Equal(t, xid(1), t1.XID())
	assert.True(t, s.IsFrozen(nil))
	assert.False(t, s.IsFrozen(t1))
	assert.Nil(t, s.Parent(t1))

	t2 := mustPrepare(t, s, t1, 2)
	t3 := mustPrepare(t, s, t1, 3)

	assert.True(t, s.IsFrozen(t1))
	assert.Same(t, t1, s.Parent(t2))
	assert.Same(t, t2, s.ChildHead(t1))
	assert.Same(t, t3, s.ChildTail(t1))
	assert.Same(t, t3, s.SiblingNext(t2))
	assert.Same(t, t2, s.SiblingPrev(t3))
	assert.Nil(t, s.SiblingPrev(t2))
	assert.Nil(t, s.SiblingNext(t3))
	assert.Equal(t, []XID{xid(2), xid(3)}, childXIDs(s, t1))
	assert.Equal(t, []XID{xid(1)}, childXIDs(s, nil))
	assert.Equal(t, 3, s.TxnCnt())
	require.NoError(t, s.Verify())
}

func TestPrepare_Errors(t *testing.T) {
	s := newTestStore(t, 3, 16)

	t1 := mustPrepare(t, s, nil, 1)

	_, err := s.Prepare(nil, RootXID)
	assert.ErrorIs(t, err, ErrXID)

	_, err = s.Prepare(nil, xid(1))
	assert.ErrorIs(t, err, ErrXID)

	t2 := mustPrepare(t, s, t1, 2)
	_, err = s.Cancel(t2)
	require.NoError(t, err)

	_, err = s.Prepare(t2, xid(9))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.Prepare(&Txn{}, xid(9))
	assert.ErrorIs(t, err, ErrInvalid)

	mustPrepare(t, s, t1, 3)
	mustPrepare(t, s, nil, 4)
	assert.True(t, s.TxnIsFull())

	_, err = s.Prepare(nil, xid(5))
	assert.ErrorIs(t, err, ErrTxnFull)
	assert.Equal(t, 3, s.TxnCnt())
	require.NoError(t, s.Verify())
}

func TestPrepare_LastPublishedXIDIsReserved(t *testing.T) {
	s := newTestStore(t, 4, 16)

	t1 := mustPrepare(t, s, nil, 1)
	_, err := s.Publish(t1)
	require.NoError(t, err)

	_, err = s.Prepare(nil, xid(1))
	assert.ErrorIs(t, err, ErrXID)

	t2 := mustPrepare(t, s, nil, 2)
	_, err = s.Publish(t2)
	require.NoError(t, err)

	mustPrepare(t, s, nil, 1)
}

func TestCancel(t *testing.T) {
	s := newTestStore(t, 8, 16)

	t1 := mustPrepare(t, s, nil, 1)
	mustInsert(t, s, t1, 1)
	t2 := mustPrepare(t, s, t1, 2)
	mustInsert(t, s, t2, 2)
	mustInsert(t, s, t2, 3)
	t4 := mustPrepare(t, s, t2, 4)
	mustInsert(t, s, t4, 4)
	mustPrepare(t, s, t1, 3)
	s5 := mustPrepare(t, s, nil, 5)
	mustInsert(t, s, s5, 5)

	n, err := s.Cancel(t1)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 1, s.TxnCnt())
	assert.Equal(t, 1, s.RecCnt())
	assert.Equal(t, []XID{xid(5)}, childXIDs(s, nil))
	assert.Nil(t, s.QueryTxn(xid(4)))
	require.NoError(t, s.Verify())

	_, err = s.Cancel(t1)
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = s.Cancel(nil)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestCancelSiblings(t *testing.T) {
	s := newTestStore(t, 8, 16)

	t1 := mustPrepare(t, s, nil, 1)
	t2 := mustPrepare(t, s, t1, 2)
	mustPrepare(t, s, t2, 4)
	t3 := mustPrepare(t, s, t1, 3)
	mustInsert(t, s, t3, 3)
	t5 := mustPrepare(t, s, t1, 5)
	mustInsert(t, s, t5, 5)

	n, err := s.CancelSiblings(t3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Same(t, t3, s.ChildHead(t1))
	assert.Same(t, t3, s.ChildTail(t1))
	assert.True(t, s.IsOnlyChild(t3))
	assert.Equal(t, 1, s.RecCnt())
	require.NoError(t, s.Verify())

	n, err = s.CancelSiblings(t1)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCancelChildren(t *testing.T) {
	s := newTestStore(t, 8, 16)

	t1 := mustPrepare(t, s, nil, 1)
	t2 := mustPrepare(t, s, t1, 2)
	mustPrepare(t, s, t2, 3)
	mustPrepare(t, s, t1, 4)
	mustPrepare(t, s, nil, 5)

	n, err := s.CancelChildren(t1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.False(t, s.IsFrozen(t1))
	assert.Nil(t, s.ChildHead(t1))
	require.NoError(t, s.Verify())

	n, err = s.CancelChildren(nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, s.TxnCnt())
	assert.False(t, s.IsFrozen(nil))

	_, err = s.CancelChildren(t1)
	assert.ErrorIs(t, err, ErrInvalid)
	require.NoError(t, s.Verify())
}

func TestPublish_Chain(t *testing.T) {
	s := newTestStore(t, 8, 16)

	t1 := mustPrepare(t, s, nil, 1)
	mustInsert(t, s, t1, 1)
	s10 := mustPrepare(t, s, nil, 10)
	mustInsert(t, s, s10, 1)
	t2 := mustPrepare(t, s, t1, 2)
	mustInsert(t, s, t2, 2)
	mustPrepare(t, s, t1, 20)
	t3 := mustPrepare(t, s, t2, 3)
	mustInsert(t, s, t3, 3)
	c := mustPrepare(t, s, t3, 4)

	n, err := s.Publish(t3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, xid(3), s.LastPublish())
	assert.Equal(t, 1, s.TxnCnt())
	assert.Nil(t, s.QueryTxn(xid(10)))
	assert.Nil(t, s.QueryTxn(xid(20)))
	assert.Nil(t, s.Parent(c))
	assert.Same(t, c, s.ChildHead(nil))
	assert.True(t, s.IsFrozen(nil))

	var keys []Key
	for r := range s.Records(nil) {
		assert.True(t, r.XID().IsRoot())
		assert.Nil(t, s.Txn(r))
		keys = append(keys, r.Key())
	}
	assert.Equal(t, []Key{key(1), key(2), key(3)}, keys)
	assert.Equal(t, 3, s.RecCnt())
	require.NoError(t, s.Verify())

	_, err = s.Publish(t3)
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = s.Publish(nil)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestPublish_ReplacesAndErases(t *testing.T) {
	s := newTestStore(t, 4, 16)

	setVal(t, s, mustInsert(t, s, nil, 1), 1)
	setVal(t, s, mustInsert(t, s, nil, 2), 2)

	txn := mustPrepare(t, s, nil, 1)
	setVal(t, s, mustInsert(t, s, txn, 1), 100)
	r2 := mustInsert(t, s, txn, 2)
	require.NoError(t, s.Remove(r2, true))
	assert.True(t, r2.IsErase())
	setVal(t, s, mustInsert(t, s, txn, 3), 3)

	n, err := s.Publish(txn)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.False(t, s.IsFrozen(nil))
	assert.Equal(t, 2, s.RecCnt())

	r1 := s.Query(nil, key(1))
	require.NotNil(t, r1)
	assert.Equal(t, uint32(100), r1.Val().Size)
	assert.Nil(t, s.Query(nil, key(2)))

	r3 := s.Query(nil, key(3))
	require.NotNil(t, r3)
	assert.Equal(t, uint32(3), r3.Val().Size)
	assert.False(t, r3.IsErase())

	assert.Same(t, r1, s.RecHead(nil))
	assert.Same(t, r3, s.RecTail(nil))
	require.NoError(t, s.Verify())
}

func TestMerge(t *testing.T) {
	s := newTestStore(t, 4, 32)

	setVal(t, s, mustInsert(t, s, nil, 4), 4)
	setVal(t, s, mustInsert(t, s, nil, 7), 7)
	setVal(t, s, mustInsert(t, s, nil, 8), 8)

	p := mustPrepare(t, s, nil, 1)
	setVal(t, s, mustInsert(t, s, p, 1), 1)
	setVal(t, s, mustInsert(t, s, p, 2), 2)
	require.NoError(t, s.Remove(mustInsert(t, s, p, 4), true))
	setVal(t, s, mustInsert(t, s, p, 7), 70)

	c := mustPrepare(t, s, p, 2)
	setVal(t, s, mustInsert(t, s, c, 6), 6)
	setVal(t, s, mustInsert(t, s, c, 1), 11)
	setVal(t, s, mustInsert(t, s, c, 4), 44)
	for _, k := range []uint64{7, 2, 8} {
		rec := mustInsert(t, s, c, k)
		require.NoError(t, s.Remove(rec, true))
		require.True(t, rec.IsErase(), "key %d", k)
	}
	require.NoError(t, s.Verify())

	require.NoError(t, s.Merge(c))

	assert.Nil(t, s.QueryTxn(xid(2)))
	assert.False(t, s.IsFrozen(p))
	assert.Equal(t, 1, s.TxnCnt())

	r6 := s.Query(p, key(6))
	require.NotNil(t, r6)
	assert.Equal(t, uint32(6), r6.Val().Size)
	assert.Same(t, p, s.Txn(r6))

	r1 := s.Query(p, key(1))
	require.NotNil(t, r1)
	assert.Equal(t, uint32(11), r1.Val().Size)

	r4 := s.Query(p, key(4))
	require.NotNil(t, r4)
	assert.False(t, r4.IsErase())
	assert.Equal(t, uint32(44), r4.Val().Size)

	r7 := s.Query(p, key(7))
	require.NotNil(t, r7)
	assert.True(t, r7.IsErase())

	assert.Nil(t, s.Query(p, key(2)))

	r8 := s.Query(p, key(8))
	require.NotNil(t, r8)
	assert.True(t, r8.IsErase())
	require.NoError(t, s.Verify())

	_, err := s.Publish(p)
	require.NoError(t, err)

	assert.Equal(t, 3, s.RecCnt())
	assert.Equal(t, uint32(44), s.Query(nil, key(4)).Val().Size)
	assert.Equal(t, uint32(11), s.Query(nil, key(1)).Val().Size)
	assert.Equal(t, uint32(6), s.Query(nil, key(6)).Val().Size)
	assert.Nil(t, s.Query(nil, key(7)))
	assert.Nil(t, s.Query(nil, key(8)))
	require.NoError(t, s.Verify())
}

func TestMerge_Errors(t *testing.T) {
	s := newTestStore(t, 8, 16)

	p := mustPrepare(t, s, nil, 1)
	c1 := mustPrepare(t, s, p, 2)
	c2 := mustPrepare(t, s, p, 3)
	gc := mustPrepare(t, s, c2, 4)

	assert.ErrorIs(t, s.Merge(nil), ErrInvalid)
	assert.ErrorIs(t, s.Merge(p), ErrInvalid)
	assert.ErrorIs(t, s.Merge(c1), ErrInvalid)
	assert.ErrorIs(t, s.Merge(c2), ErrInvalid)

	require.NoError(t, s.Merge(gc))
	assert.False(t, s.IsFrozen(c2))
	require.NoError(t, s.Verify())
}

func TestAncestorAndDescendant(t *testing.T) {
	s := newTestStore(t, 8, 16)

	assert.Nil(t, s.LastPublishDescendant())

	t1 := mustPrepare(t, s, nil, 1)
	t2 := mustPrepare(t, s, t1, 2)
	t3 := mustPrepare(t, s, t2, 3)

	assert.Nil(t, s.Ancestor(t3))
	assert.Same(t, t3, s.Descendant(t1))
	assert.Same(t, t3, s.Descendant(t3))
	assert.Same(t, t3, s.LastPublishDescendant())

	t22 := mustPrepare(t, s, t1, 22)
	assert.Same(t, t2, s.Ancestor(t3))
	assert.Same(t, t22, s.Ancestor(t22))
	assert.Same(t, t1, s.Descendant(t1))
	assert.Nil(t, s.Descendant(t2))
	assert.Same(t, t1, s.LastPublishDescendant())

	mustPrepare(t, s, nil, 9)
	assert.Same(t, t1, s.Ancestor(t1))
	assert.False(t, s.IsOnlyChild(t1))
	assert.Nil(t, s.LastPublishDescendant())

	assert.Nil(t, s.Ancestor(nil))
	assert.Nil(t, s.Descendant(nil))
}

func TestQueryTxnAndTxns(t *testing.T) {
	s := newTestStore(t, 8, 16)

	assert.Nil(t, s.QueryTxn(RootXID))
	assert.Nil(t, s.QueryTxn(xid(1)))

	t1 := mustPrepare(t, s, nil, 1)
	mustPrepare(t, s, t1, 2)
	x := NewXID()
	t3, err := s.Prepare(nil, x)
	require.NoError(t, err)

	assert.Same(t, t1, s.QueryTxn(xid(1)))
	assert.Same(t, t3, s.QueryTxn(x))

	seen := map[XID]bool{}
	for txn := range s.Txns() {
		seen[txn.XID()] = true
	}
	assert.Equal(t, map[XID]bool{xid(1): true, xid(2): true, x: true}, seen)

	cnt := 0
	for range s.Txns() {
		cnt++
		break
	}
	assert.Equal(t, 1, cnt)
}
