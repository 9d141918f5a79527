package funk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_InsertQuery(t *testing.T) {
	s := newTestStore(t, 4, 16)

	canon := mustInsert(t, s, nil, 1)
	assert.Same(t, canon, s.Query(nil, key(1)))
	assert.Equal(t, Pair{Key: key(1)}, canon.Pair())
	assert.True(t, canon.XID().IsRoot())
	assert.Zero(t, canon.Flags())
	assert.Equal(t, Val{}, canon.Val())
	assert.Nil(t, s.Txn(canon))

	txn := mustPrepare(t, s, nil, 1)
	assert.Nil(t, s.Query(txn, key(1)))
	assert.Same(t, canon, s.QueryGlobal(txn, key(1)))

	rec := mustInsert(t, s, txn, 1)
	assert.NotSame(t, canon, rec)
	assert.Equal(t, txn.XID(), rec.XID())
	assert.Equal(t, key(1), rec.Key())
	assert.Same(t, txn, s.Txn(rec))
	assert.Same(t, rec, s.Query(txn, key(1)))
	assert.Same(t, rec, s.QueryGlobal(txn, key(1)))
	assert.Same(t, canon, s.QueryGlobal(nil, key(1)))

	child := mustPrepare(t, s, txn, 2)
	assert.Same(t, rec, s.QueryGlobal(child, key(1)))
	assert.Nil(t, s.QueryGlobal(child, key(2)))
	assert.Equal(t, 2, s.RecCnt())
	require.NoError(t, s.Verify())
}

func TestRecord_FrozenTransactionsRejectMutation(t *testing.T) {
	s := newTestStore(t, 4, 16)

	canon := mustInsert(t, s, nil, 1)
	txn := mustPrepare(t, s, nil, 1)
	rec := mustInsert(t, s, txn, 2)
	mustPrepare(t, s, txn, 2)

	_, err := s.Insert(nil, key(3))
	assert.ErrorIs(t, err, ErrFrozen)
	assert.ErrorIs(t, s.Test(canon), ErrFrozen)
	_, err = s.Modify(canon)
	assert.ErrorIs(t, err, ErrFrozen)
	assert.ErrorIs(t, s.Remove(canon, true), ErrFrozen)

	_, err = s.Insert(txn, key(3))
	assert.ErrorIs(t, err, ErrFrozen)
	assert.ErrorIs(t, s.Test(rec), ErrFrozen)
	_, err = s.Modify(rec)
	assert.ErrorIs(t, err, ErrFrozen)
	assert.ErrorIs(t, s.Remove(rec, false), ErrFrozen)

	assert.Equal(t, 2, s.RecCnt())
	require.NoError(t, s.Verify())
}

func TestRecord_InsertErrors(t *testing.T) {
	s := newTestStore(t, 4, 2)

	mustInsert(t, s, nil, 1)
	_, err := s.Insert(nil, key(1))
	assert.ErrorIs(t, err, ErrKey)

	txn := mustPrepare(t, s, nil, 1)
	mustInsert(t, s, txn, 1)
	_, err = s.Insert(txn, key(1))
	assert.ErrorIs(t, err, ErrRecFull)
	assert.True(t, s.RecIsFull())

	_, err = s.Cancel(txn)
	require.NoError(t, err)
	_, err = s.Insert(txn, key(2))
	assert.ErrorIs(t, err, ErrInvalid)

	txn = mustPrepare(t, s, nil, 2)
	mustInsert(t, s, txn, 1)
	_, err = s.Insert(txn, key(1))
	assert.ErrorIs(t, err, ErrRecFull)
}

func TestRecord_Test(t *testing.T) {
	s := newTestStore(t, 4, 16)

	assert.ErrorIs(t, s.Test(&Record{}), ErrInvalid)
	assert.ErrorIs(t, s.Test(nil), ErrInvalid)

	txn := mustPrepare(t, s, nil, 1)
	rec := mustInsert(t, s, txn, 1)
	require.NoError(t, s.Test(rec))

	require.NoError(t, s.Remove(rec, false))
	assert.ErrorIs(t, s.Test(rec), ErrKey)
	assert.ErrorIs(t, s.Remove(rec, false), ErrKey)

	rec = mustInsert(t, s, txn, 2)
	_, err := s.Cancel(txn)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Test(rec), ErrKey)
}

func TestRecord_ModifySetsVal(t *testing.T) {
	s := newTestStore(t, 4, 16)

	rec := mustInsert(t, s, nil, 1)
	mut, err := s.Modify(rec)
	require.NoError(t, err)
	assert.Same(t, rec, mut.Record())

	v := Val{GAddr: 0x1000, Size: 12, Max: 64}
	mut.SetVal(v)
	assert.Equal(t, v, s.Query(nil, key(1)).Val())
}

func TestRecord_EraseCreatesTombstone(t *testing.T) {
	s := newTestStore(t, 4, 16)

	canon := mustInsert(t, s, nil, 1)
	setVal(t, s, canon, 1)
	txn := mustPrepare(t, s, nil, 1)

	rec := mustInsert(t, s, txn, 1)
	setVal(t, s, rec, 5)
	require.NoError(t, s.Remove(rec, true))
	assert.True(t, rec.IsErase())
	assert.Equal(t, FlagErase, rec.Flags())
	assert.Same(t, rec, s.QueryGlobal(txn, key(1)))
	assert.Equal(t, 2, s.RecCnt())
	require.NoError(t, s.Verify())

	// Erasing a tombstone again changes nothing.
	require.NoError(t, s.Remove(rec, true))
	assert.True(t, rec.IsErase())
	assert.Equal(t, 2, s.RecCnt())

	again, err := s.Insert(txn, key(1))
	require.NoError(t, err)
	assert.Same(t, rec, again)
	assert.False(t, again.IsErase())
	assert.Equal(t, uint32(5), again.Val().Size)
	assert.Equal(t, 2, s.RecCnt())

	require.NoError(t, s.Remove(again, true))
	require.NoError(t, s.Remove(again, false))
	assert.Same(t, canon, s.QueryGlobal(txn, key(1)))
	assert.Equal(t, 1, s.RecCnt())
	require.NoError(t, s.Verify())
}

func TestRecord_EraseWithoutLiveAncestorCopy(t *testing.T) {
	s := newTestStore(t, 4, 16)

	mustInsert(t, s, nil, 1)
	p := mustPrepare(t, s, nil, 1)
	require.NoError(t, s.Remove(mustInsert(t, s, p, 1), true))
	fresh := mustInsert(t, s, p, 2)

	c := mustPrepare(t, s, p, 2)

	// The nearest copy above c is p's tombstone.
	rec := mustInsert(t, s, c, 1)
	require.NoError(t, s.Remove(rec, true))
	assert.Nil(t, s.Query(c, key(1)))
	assert.True(t, s.QueryGlobal(c, key(1)).IsErase())

	// Nothing above holds key 3.
	rec = mustInsert(t, s, c, 3)
	require.NoError(t, s.Remove(rec, true))
	assert.Nil(t, s.QueryGlobal(c, key(3)))

	rec = mustInsert(t, s, c, 2)
	require.NoError(t, s.Remove(rec, true))
	assert.True(t, rec.IsErase())
	assert.Same(t, fresh, s.QueryGlobal(p, key(2)))

	assert.Equal(t, 4, s.RecCnt())
	require.NoError(t, s.Verify())
}

func TestRecord_RemoveCanonical(t *testing.T) {
	s := newTestStore(t, 4, 16)

	rec := mustInsert(t, s, nil, 1)
	other := mustInsert(t, s, nil, 2)

	assert.ErrorIs(t, s.Remove(rec, false), ErrXID)
	require.NoError(t, s.Remove(rec, true))
	assert.Nil(t, s.Query(nil, key(1)))
	assert.Same(t, other, s.RecHead(nil))
	assert.Same(t, other, s.RecTail(nil))
	assert.Equal(t, 1, s.RecCnt())

	assert.ErrorIs(t, s.Remove(&Record{}, true), ErrInvalid)
	require.NoError(t, s.Verify())
}

func TestRecord_Iteration(t *testing.T) {
	s := newTestStore(t, 4, 16)

	txn := mustPrepare(t, s, nil, 1)
	recs := make([]*Record, 0, 5)
	for k := uint64(1); k <= 5; k++ {
		recs = append(recs, mustInsert(t, s, txn, k))
	}

	assert.Same(t, recs[0], s.RecHead(txn))
	assert.Same(t, recs[4], s.RecTail(txn))
	assert.Same(t, recs[1], s.Next(recs[0]))
	assert.Same(t, recs[0], s.Prev(recs[1]))
	assert.Nil(t, s.Prev(recs[0]))
	assert.Nil(t, s.Next(recs[4]))

	require.NoError(t, s.Remove(recs[2], false))
	assert.Same(t, recs[3], s.Next(recs[1]))
	assert.Same(t, recs[1], s.Prev(recs[3]))

	var keys []Key
	for r := range s.Records(txn) {
		keys = append(keys, r.Key())
	}
	assert.Equal(t, []Key{key(1), key(2), key(4), key(5)}, keys)

	keys = keys[:0]
	for r := range s.Records(txn) {
		keys = append(keys, r.Key())
		if len(keys) == 2 {
			break
		}
	}
	assert.Len(t, keys, 2)

	require.NoError(t, s.Remove(recs[0], false))
	require.NoError(t, s.Remove(recs[4], false))
	assert.Same(t, recs[1], s.RecHead(txn))
	assert.Same(t, recs[3], s.RecTail(txn))

	_, err := s.Cancel(txn)
	require.NoError(t, err)
	assert.Nil(t, s.RecHead(txn))
	for range s.Records(txn) {
		t.Fatal("cancelled transaction yielded a record")
	}
	require.NoError(t, s.Verify())
}

func TestRecord_DuringPublishPolicy(t *testing.T) {
	s := newTestStore(t, 8, 32, WithRootFrozenPolicy(RootFrozenDuringPublish))

	canon := mustInsert(t, s, nil, 1)
	setVal(t, s, canon, 1)

	p := mustPrepare(t, s, nil, 1)
	assert.False(t, s.IsFrozen(nil))
	assert.False(t, s.LastPublishIsFrozen())

	setVal(t, s, mustInsert(t, s, p, 1), 10)
	require.NoError(t, s.Remove(mustInsert(t, s, p, 9), true))

	c := mustPrepare(t, s, p, 2)
	shadowed := mustInsert(t, s, c, 1)
	require.NoError(t, s.Remove(shadowed, true))
	require.True(t, shadowed.IsErase())

	u := mustPrepare(t, s, nil, 3)
	tomb := mustInsert(t, s, u, 1)
	require.NoError(t, s.Remove(tomb, true))
	require.True(t, tomb.IsErase())

	// The canonical state stays writable while transactions are open.
	setVal(t, s, mustInsert(t, s, nil, 2), 2)
	require.NoError(t, s.Verify())

	require.NoError(t, s.Remove(canon, true))
	assert.Nil(t, s.Query(nil, key(1)))
	assert.Nil(t, s.Query(u, key(1)))
	assert.Same(t, shadowed, s.Query(c, key(1)))
	assert.True(t, shadowed.IsErase())
	require.NoError(t, s.Verify())

	n, err := s.Publish(c)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, s.IsFrozen(nil))
	assert.Nil(t, s.Query(nil, key(1)))
	assert.NotNil(t, s.Query(nil, key(2)))
	assert.Equal(t, 1, s.RecCnt())
	require.NoError(t, s.Verify())

	j, err := Join(s.Workspace(), s.GAddr())
	require.NoError(t, err)
	assert.Equal(t, RootFrozenDuringPublish, j.Policy())
}
