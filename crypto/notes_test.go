package crypto

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestNoteCommitment(t *testing.T) {
	c := qt.New(t)
	sk, err := GenSpendKey()
	c.Assert(err, qt.IsNil)
	owner := sk.OwnerKey()
	n := NewNote(owner, 42)
	cm := n.Commitment()
	c.Assert(cm.Sign(), qt.Equals, 1)
	// same opening, same commitment
	again := (&Note{Owner: owner, Value: 42, Salt: n.Salt}).Commitment()
	c.Assert(cm.Cmp(again), qt.Equals, 0)
	// any change to the opening moves the commitment
	other := (&Note{Owner: owner, Value: 43, Salt: n.Salt}).Commitment()
	c.Assert(cm.Cmp(other), qt.Not(qt.Equals), 0)
}

func TestNullifier(t *testing.T) {
	c := qt.New(t)
	sk, err := GenSpendKey()
	c.Assert(err, qt.IsNil)
	sk2, err := GenSpendKey()
	c.Assert(err, qt.IsNil)
	n := NewNote(sk.OwnerKey(), 10)
	cm := n.Commitment()
	nf := Nullifier(cm, sk)
	c.Assert(nf.Cmp(Nullifier(cm, sk)), qt.Equals, 0)
	c.Assert(nf.Cmp(Nullifier(cm, sk2)), qt.Not(qt.Equals), 0)
}

func TestSpendKeyRoundTrip(t *testing.T) {
	c := qt.New(t)
	sk, err := GenSpendKey()
	c.Assert(err, qt.IsNil)
	restored := SpendKeyFromBigInt(sk.BigInt())
	c.Assert(restored.OwnerKey().X.Cmp(sk.OwnerKey().X), qt.Equals, 0)
	c.Assert(restored.OwnerKey().Y.Cmp(sk.OwnerKey().Y), qt.Equals, 0)
}

func TestSentinelOwner(t *testing.T) {
	c := qt.New(t)
	s := SentinelOwner()
	c.Assert(s.X.Sign(), qt.Equals, 0)
	c.Assert(s.Y.Cmp(big.NewInt(1)), qt.Equals, 0)
}
