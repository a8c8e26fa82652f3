package verifier

import (
	"context"
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/veilpay/rollup/circuits"
	"github.com/veilpay/rollup/crypto/ethereum"
	"github.com/veilpay/rollup/settlement"
	"github.com/veilpay/rollup/state"
	"github.com/veilpay/rollup/storage"
	"github.com/veilpay/rollup/types"
	"go.vocdoni.io/dvote/db/metadb"
)

func newTestVerifier(t *testing.T, cfg Config) (*Verifier, *storage.Storage, *state.Store) {
	c := qt.New(t)
	stg := storage.New(metadb.NewTest(t))
	t.Cleanup(stg.Close)
	replica, err := state.New(metadb.NewTest(t))
	c.Assert(err, qt.IsNil)
	t.Cleanup(func() { _ = replica.Close() })
	v := &Verifier{
		stg:     stg,
		replica: replica,
		settler: settlement.NewJournal(stg),
		cfg:     cfg,
	}
	return v, stg, replica
}

func bigInts(values ...int64) []*types.BigInt {
	out := make([]*types.BigInt, len(values))
	for i, v := range values {
		out[i] = (*types.BigInt)(big.NewInt(v))
	}
	return out
}

// entryFor builds one effect entry with its hash derived from its contents,
// the way a committed round would have stored it.
func entryFor(c *qt.C, root *big.Int, minted, fee int64, nfs, cms []*types.BigInt) *storage.BatchTransfer {
	e := &storage.BatchTransfer{
		Minted:      (*types.BigInt)(big.NewInt(minted)),
		Fee:         (*types.BigInt)(big.NewInt(fee)),
		Nullifiers:  nfs,
		Commitments: cms,
	}
	st, err := e.Statement((*types.BigInt)(root))
	c.Assert(err, qt.IsNil)
	e.TransferHash = (*types.BigInt)(circuits.TransferHash(st))
	return e
}

// batchFor assembles a batch whose declared hash is consistent with its
// entries, carrying a placeholder proof.
func batchFor(seq uint64, oldRoot, newRoot *big.Int, entries ...*storage.BatchTransfer) *storage.Batch {
	var hashes []*big.Int
	for _, e := range entries {
		hashes = append(hashes, e.TransferHash.MathBigInt())
	}
	return &storage.Batch{
		Seq:            seq,
		OldRoot:        (*types.BigInt)(oldRoot),
		NewRoot:        (*types.BigInt)(newRoot),
		BatchHash:      (*types.BigInt)(circuits.BatchHash(oldRoot, newRoot, hashes)),
		ValidTransfers: len(entries),
		Transfers:      entries,
		Proof:          []byte("placeholder proof"),
	}
}

func TestValidateMalformed(t *testing.T) {
	c := qt.New(t)
	v, _, replica := newTestVerifier(t, Config{})
	ctx := context.Background()
	root, err := replica.RootAsBigInt()
	c.Assert(err, qt.IsNil)

	entry := entryFor(c, root, 7, 0, bigInts(0, 0), bigInts(11, 0))

	// effect list shorter than the declared count
	b := batchFor(1, root, root, entry)
	b.ValidTransfers = 2
	verdict, err := v.Validate(ctx, b)
	c.Assert(err, qt.IsNil)
	c.Assert(verdict.Code, qt.Equals, storage.VerdictMalformedBatch)
	c.Assert(verdict.Reason, qt.Matches, "effect list holds 1 transfers.*")

	// missing proof
	b = batchFor(2, root, root, entry)
	b.Proof = nil
	verdict, err = v.Validate(ctx, b)
	c.Assert(err, qt.IsNil)
	c.Assert(verdict.Code, qt.Equals, storage.VerdictMalformedBatch)
	c.Assert(verdict.Reason, qt.Equals, "missing batch proof")

	// a nullifier spent twice across the batch
	spendA := entryFor(c, root, 0, 0, bigInts(5, 0), bigInts(21, 0))
	spendB := entryFor(c, root, 0, 0, bigInts(5, 0), bigInts(22, 0))
	verdict, err = v.Validate(ctx, batchFor(3, root, root, spendA, spendB))
	c.Assert(err, qt.IsNil)
	c.Assert(verdict.Code, qt.Equals, storage.VerdictMalformedBatch)
	c.Assert(verdict.Reason, qt.Matches, "nullifier 5 spent twice.*")

	// an entry hash that does not match its contents
	tampered := entryFor(c, root, 7, 0, bigInts(0, 0), bigInts(11, 0))
	tampered.Minted = (*types.BigInt)(big.NewInt(9))
	verdict, err = v.Validate(ctx, batchFor(4, root, root, tampered))
	c.Assert(err, qt.IsNil)
	c.Assert(verdict.Code, qt.Equals, storage.VerdictMalformedBatch)
	c.Assert(verdict.Reason, qt.Matches, "transfer 0 hash does not match.*")

	// a declared batch hash that does not match the entries
	b = batchFor(5, root, root, entry)
	b.BatchHash = (*types.BigInt)(big.NewInt(123))
	verdict, err = v.Validate(ctx, b)
	c.Assert(err, qt.IsNil)
	c.Assert(verdict.Code, qt.Equals, storage.VerdictMalformedBatch)
	c.Assert(verdict.Reason, qt.Equals, "declared batch hash does not match its contents")

	// all sentinel slots
	empty := entryFor(c, root, 0, 0, bigInts(0, 0), bigInts(0, 0))
	verdict, err = v.Validate(ctx, batchFor(6, root, root, empty))
	c.Assert(err, qt.IsNil)
	c.Assert(verdict.Code, qt.Equals, storage.VerdictMalformedBatch)
	c.Assert(verdict.Reason, qt.Equals, "batch has no ledger effects")
}

func TestValidateRootChain(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	// old root off the chain
	v, _, _ := newTestVerifier(t, Config{})
	entry := entryFor(c, big.NewInt(99), 7, 0, bigInts(0, 0), bigInts(11, 0))
	verdict, err := v.Validate(ctx, batchFor(1, big.NewInt(99), big.NewInt(100), entry))
	c.Assert(err, qt.IsNil)
	c.Assert(verdict.Code, qt.Equals, storage.VerdictRootMismatch)
	c.Assert(verdict.Reason, qt.Matches, "declared old root .* does not match .*")

	// sequence ahead of the chain
	v, _, replica := newTestVerifier(t, Config{})
	root, err := replica.RootAsBigInt()
	c.Assert(err, qt.IsNil)
	entry = entryFor(c, root, 7, 0, bigInts(0, 0), bigInts(11, 0))
	verdict, err = v.Validate(ctx, batchFor(5, root, big.NewInt(100), entry))
	c.Assert(err, qt.IsNil)
	c.Assert(verdict.Code, qt.Equals, storage.VerdictRootMismatch)
	c.Assert(verdict.Reason, qt.Matches, "sequence 5 is ahead of the verified chain.*")

	// a declared new root the effects do not produce
	v, _, replica = newTestVerifier(t, Config{})
	root, err = replica.RootAsBigInt()
	c.Assert(err, qt.IsNil)
	entry = entryFor(c, root, 7, 0, bigInts(0, 0), bigInts(11, 0))
	verdict, err = v.Validate(ctx, batchFor(1, root, big.NewInt(100), entry))
	c.Assert(err, qt.IsNil)
	c.Assert(verdict.Code, qt.Equals, storage.VerdictRootMismatch)
	c.Assert(verdict.Reason, qt.Matches, "declared new root .* does not follow .*")

	// everything consistent up to the proof, which does not decode
	v, _, replica = newTestVerifier(t, Config{})
	root, err = replica.RootAsBigInt()
	c.Assert(err, qt.IsNil)
	entry = entryFor(c, root, 7, 0, bigInts(0, 0), bigInts(11, 0))
	derived, err := replica.Preview([]*big.Int{big.NewInt(11)})
	c.Assert(err, qt.IsNil)
	verdict, err = v.Validate(ctx, batchFor(1, root, derived, entry))
	c.Assert(err, qt.IsNil)
	c.Assert(verdict.Code, qt.Equals, storage.VerdictMalformedBatch)
	c.Assert(verdict.Reason, qt.Matches, "batch proof does not decode.*")
	c.Assert(replica.Seq(), qt.Equals, uint64(0)) // nothing was applied
}

func TestValidateIdempotent(t *testing.T) {
	c := qt.New(t)
	v, stg, replica := newTestVerifier(t, Config{})
	ctx := context.Background()
	root, err := replica.RootAsBigInt()
	c.Assert(err, qt.IsNil)

	entry := entryFor(c, root, 7, 0, bigInts(0, 0), bigInts(11, 0))
	b := batchFor(1, root, root, entry)
	b.Proof = nil

	first, err := v.Validate(ctx, b)
	c.Assert(err, qt.IsNil)
	c.Assert(first.Code, qt.Equals, storage.VerdictMalformedBatch)

	// the second validation returns the stored verdict unchanged, even if
	// the caller fixed the batch in the meantime
	b.Proof = []byte("placeholder proof")
	second, err := v.Validate(ctx, b)
	c.Assert(err, qt.IsNil)
	c.Assert(second.Code, qt.Equals, first.Code)
	c.Assert(second.Reason, qt.Equals, first.Reason)
	c.Assert(second.BatchSeq, qt.Equals, first.BatchSeq)

	stored, err := stg.Verdict(1)
	c.Assert(err, qt.IsNil)
	c.Assert(stored.Code, qt.Equals, first.Code)
}

func TestValidateAttestation(t *testing.T) {
	c := qt.New(t)
	operator := new(ethereum.SignKeys)
	c.Assert(operator.Generate(), qt.IsNil)
	v, _, replica := newTestVerifier(t, Config{Operator: operator.Address()})
	ctx := context.Background()
	root, err := replica.RootAsBigInt()
	c.Assert(err, qt.IsNil)

	entry := entryFor(c, root, 7, 0, bigInts(0, 0), bigInts(11, 0))

	// missing attestation
	verdict, err := v.Validate(ctx, batchFor(1, root, root, entry))
	c.Assert(err, qt.IsNil)
	c.Assert(verdict.Code, qt.Equals, storage.VerdictMalformedBatch)
	c.Assert(verdict.Reason, qt.Equals, "missing operator attestation")

	// attested by somebody else
	stranger := new(ethereum.SignKeys)
	c.Assert(stranger.Generate(), qt.IsNil)
	b := batchFor(2, root, root, entry)
	digest, err := b.Digest()
	c.Assert(err, qt.IsNil)
	b.Attestation, err = stranger.SignEthereum(digest)
	c.Assert(err, qt.IsNil)
	verdict, err = v.Validate(ctx, b)
	c.Assert(err, qt.IsNil)
	c.Assert(verdict.Code, qt.Equals, storage.VerdictMalformedBatch)
	c.Assert(verdict.Reason, qt.Matches, "attested by .*")

	// the operator's own attestation passes the screening and validation
	// proceeds to the chain checks
	v, _, replica = newTestVerifier(t, Config{Operator: operator.Address()})
	root, err = replica.RootAsBigInt()
	c.Assert(err, qt.IsNil)
	entry = entryFor(c, root, 7, 0, bigInts(0, 0), bigInts(11, 0))
	derived, err := replica.Preview([]*big.Int{big.NewInt(11)})
	c.Assert(err, qt.IsNil)
	b = batchFor(1, root, derived, entry)
	digest, err = b.Digest()
	c.Assert(err, qt.IsNil)
	b.Attestation, err = operator.SignEthereum(digest)
	c.Assert(err, qt.IsNil)
	verdict, err = v.Validate(ctx, b)
	c.Assert(err, qt.IsNil)
	c.Assert(verdict.Code, qt.Equals, storage.VerdictMalformedBatch)
	c.Assert(verdict.Reason, qt.Matches, "batch proof does not decode.*")
}
