package state

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

// newDatabase returns a new in-memory test database.
func newDatabase(t *testing.T) db.Database {
	return metadb.NewTest(t)
}

func TestNewStore(t *testing.T) {
	t.Parallel()
	st, err := New(newDatabase(t))
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, st.Seq(), qt.Equals, uint64(0))
	qt.Assert(t, st.LeafCount(), qt.Equals, uint64(0))

	// The genesis journal entry must hold the empty tree root.
	root, err := st.RootAsBigInt()
	qt.Assert(t, err, qt.IsNil)
	genesis, err := st.RootAt(0)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, root.Cmp(genesis), qt.Equals, 0)
}

func TestAppendBatch(t *testing.T) {
	t.Parallel()
	st, err := New(newDatabase(t))
	qt.Assert(t, err, qt.IsNil)
	oldRoot, err := st.RootAsBigInt()
	qt.Assert(t, err, qt.IsNil)

	// A mint-style batch carries leaves but no nullifiers.
	transition, err := st.AppendBatch(
		[]*big.Int{big.NewInt(1001), big.NewInt(1002)}, nil)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, transition.Seq, qt.Equals, uint64(1))
	qt.Assert(t, transition.FirstLeaf, qt.Equals, uint64(0))
	qt.Assert(t, transition.OldRoot.Cmp(oldRoot), qt.Equals, 0)
	qt.Assert(t, transition.NewRoot.Cmp(oldRoot), qt.Not(qt.Equals), 0)
	qt.Assert(t, st.Seq(), qt.Equals, uint64(1))
	qt.Assert(t, st.LeafCount(), qt.Equals, uint64(2))

	journal, err := st.RootAt(1)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, journal.Cmp(transition.NewRoot), qt.Equals, 0)

	// A spend-style batch consumes nullifiers and creates new leaves.
	nf := big.NewInt(555)
	transition2, err := st.AppendBatch(
		[]*big.Int{big.NewInt(1003), big.NewInt(1004)}, []*big.Int{nf})
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, transition2.Seq, qt.Equals, uint64(2))
	qt.Assert(t, transition2.FirstLeaf, qt.Equals, uint64(2))
	qt.Assert(t, transition2.OldRoot.Cmp(transition.NewRoot), qt.Equals, 0)

	spent, err := st.HasNullifier(nf)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, spent, qt.IsTrue)
	spent, err = st.HasNullifier(big.NewInt(556))
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, spent, qt.IsFalse)

	count, err := st.NullifierCount()
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, count, qt.Equals, uint64(1))
}

func TestAppendBatchDuplicateNullifier(t *testing.T) {
	t.Parallel()
	st, err := New(newDatabase(t))
	qt.Assert(t, err, qt.IsNil)

	nf := big.NewInt(777)
	_, err = st.AppendBatch([]*big.Int{big.NewInt(1)}, []*big.Int{nf})
	qt.Assert(t, err, qt.IsNil)
	rootBefore, err := st.RootAsBigInt()
	qt.Assert(t, err, qt.IsNil)

	// Replaying the same nullifier must reject the batch and keep the root.
	_, err = st.AppendBatch([]*big.Int{big.NewInt(2)}, []*big.Int{nf})
	qt.Assert(t, err, qt.ErrorIs, ErrDuplicateNullifier)
	rootAfter, err := st.RootAsBigInt()
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, rootAfter.Cmp(rootBefore), qt.Equals, 0)
	qt.Assert(t, st.Seq(), qt.Equals, uint64(1))
	qt.Assert(t, st.LeafCount(), qt.Equals, uint64(1))

	// A collision inside the batch itself is rejected as well.
	dup := big.NewInt(778)
	_, err = st.AppendBatch([]*big.Int{big.NewInt(3)}, []*big.Int{dup, dup})
	qt.Assert(t, err, qt.ErrorIs, ErrDuplicateNullifier)
}

func TestAppendBatchEmpty(t *testing.T) {
	t.Parallel()
	st, err := New(newDatabase(t))
	qt.Assert(t, err, qt.IsNil)
	_, err = st.AppendBatch(nil, nil)
	qt.Assert(t, err, qt.Not(qt.IsNil))
	qt.Assert(t, err.Error(), qt.Contains, "nothing to append")
}

func TestAppendBatchTreeFull(t *testing.T) {
	t.Parallel()
	st, err := NewWithLevels(newDatabase(t), 4)
	qt.Assert(t, err, qt.IsNil)

	// Fill the 16 slots of a depth-4 tree.
	leaves := []*big.Int{}
	for i := 0; i < 16; i++ {
		leaves = append(leaves, big.NewInt(int64(2000+i)))
	}
	_, err = st.AppendBatch(leaves, nil)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, st.LeafCount(), qt.Equals, uint64(16))

	_, err = st.AppendBatch([]*big.Int{big.NewInt(3000)}, nil)
	qt.Assert(t, err, qt.ErrorIs, ErrTreeFull)
	_, err = st.Preview([]*big.Int{big.NewInt(3000)})
	qt.Assert(t, err, qt.ErrorIs, ErrTreeFull)
}

func TestMembershipPath(t *testing.T) {
	t.Parallel()
	st, err := New(newDatabase(t))
	qt.Assert(t, err, qt.IsNil)

	commitments := []*big.Int{big.NewInt(4001), big.NewInt(4002), big.NewInt(4003)}
	_, err = st.AppendBatch(commitments, nil)
	qt.Assert(t, err, qt.IsNil)
	root, err := st.RootAsBigInt()
	qt.Assert(t, err, qt.IsNil)

	for i, cm := range commitments {
		path, err := st.MembershipPath(uint64(i))
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, path.Index, qt.Equals, uint64(i))
		qt.Assert(t, path.Commitment().Cmp(cm), qt.Equals, 0)
		qt.Assert(t, path.RootAsBigInt().Cmp(root), qt.Equals, 0)
		valid, err := path.Verify()
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, valid, qt.IsTrue)
	}

	// Out-of-range indexes are not found.
	_, err = st.MembershipPath(3)
	qt.Assert(t, err, qt.ErrorIs, ErrNotFound)

	// A tampered leaf value must not verify.
	path, err := st.MembershipPath(0)
	qt.Assert(t, err, qt.IsNil)
	path.Value = leafValue(big.NewInt(9999))
	valid, err := path.Verify()
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, valid, qt.IsFalse)
}

func TestPreview(t *testing.T) {
	t.Parallel()
	st, err := New(newDatabase(t))
	qt.Assert(t, err, qt.IsNil)
	_, err = st.AppendBatch([]*big.Int{big.NewInt(5001)}, nil)
	qt.Assert(t, err, qt.IsNil)
	rootBefore, err := st.RootAsBigInt()
	qt.Assert(t, err, qt.IsNil)

	leaves := []*big.Int{big.NewInt(5002), big.NewInt(5003)}
	previewed, err := st.Preview(leaves)
	qt.Assert(t, err, qt.IsNil)

	// Previewing must not move the committed state.
	rootAfter, err := st.RootAsBigInt()
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, rootAfter.Cmp(rootBefore), qt.Equals, 0)
	qt.Assert(t, st.Seq(), qt.Equals, uint64(1))
	qt.Assert(t, st.LeafCount(), qt.Equals, uint64(1))

	// The previewed root must match the root of the real append.
	transition, err := st.AppendBatch(leaves, nil)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, transition.NewRoot.Cmp(previewed), qt.Equals, 0)
}

func TestPersistenceAcrossStoreInstances(t *testing.T) {
	t.Parallel()
	database := newDatabase(t)
	st1, err := New(database)
	qt.Assert(t, err, qt.IsNil)
	transition, err := st1.AppendBatch(
		[]*big.Int{big.NewInt(6001), big.NewInt(6002)}, []*big.Int{big.NewInt(6100)})
	qt.Assert(t, err, qt.IsNil)

	// A second instance over the same database must pass verification and
	// see the committed state.
	st2, err := New(database)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, st2.Seq(), qt.Equals, uint64(1))
	qt.Assert(t, st2.LeafCount(), qt.Equals, uint64(2))
	root, err := st2.RootAsBigInt()
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, root.Cmp(transition.NewRoot), qt.Equals, 0)
	spent, err := st2.HasNullifier(big.NewInt(6100))
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, spent, qt.IsTrue)
}

func TestStartupVerificationDetectsCorruption(t *testing.T) {
	t.Parallel()
	database := newDatabase(t)
	st, err := New(database)
	qt.Assert(t, err, qt.IsNil)
	_, err = st.AppendBatch([]*big.Int{big.NewInt(7001)}, nil)
	qt.Assert(t, err, qt.IsNil)

	// Overwrite the journal entry of the last batch with a bogus root.
	wTx := prefixeddb.NewPrefixedWriteTx(database.WriteTx(), rootsPrefix)
	err = wTx.Set(seqBytes(1), []byte("bogus"))
	qt.Assert(t, err, qt.IsNil)
	err = wTx.Commit()
	qt.Assert(t, err, qt.IsNil)

	_, err = New(database)
	qt.Assert(t, err, qt.Not(qt.IsNil))
	qt.Assert(t, err.Error(), qt.Contains, "startup verification")
}

func TestRootAtNotFound(t *testing.T) {
	t.Parallel()
	st, err := New(newDatabase(t))
	qt.Assert(t, err, qt.IsNil)
	_, err = st.RootAt(99)
	qt.Assert(t, err, qt.ErrorIs, ErrNotFound)
}
