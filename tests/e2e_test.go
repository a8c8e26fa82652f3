package tests

import (
	"os"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/veilpay/rollup/circuits"
	"github.com/veilpay/rollup/crypto"
	"github.com/veilpay/rollup/prover"
	"github.com/veilpay/rollup/storage"
)

// TestTransferLifecycle drives a node over HTTP through the full flow: two
// mints fold into the first batch, spending one of the minted notes folds
// into the second, and replaying the spent proof is rejected on its
// nullifier without touching the ledger.
func TestTransferLifecycle(t *testing.T) {
	if os.Getenv("RUN_CIRCUIT_TESTS") == "" || os.Getenv("RUN_CIRCUIT_TESTS") == "false" {
		t.Skip("skipping circuit tests (set RUN_CIRCUIT_TESTS=true to run)")
	}
	c := qt.New(t)
	circuits.BaseDir = t.TempDir()

	node := startTestNode(t, 5*time.Second)
	cli := node.cli

	pv, err := prover.New()
	c.Assert(err, qt.IsNil)

	alice, err := crypto.GenSpendKey()
	c.Assert(err, qt.IsNil)
	bob, err := crypto.GenSpendKey()
	c.Assert(err, qt.IsNil)

	genesis, err := cli.LedgerRoot()
	c.Assert(err, qt.IsNil)
	c.Assert(genesis.Seq, qt.Equals, uint64(0))
	c.Assert(genesis.LeafCount, qt.Equals, uint64(0))
	rootZero := genesis.Root.MathBigInt()

	// mint two notes for alice against the empty ledger, proving both before
	// submitting so they land in the same collecting window
	note10 := crypto.NewNote(alice.OwnerKey(), 10)
	note5 := crypto.NewNote(alice.OwnerKey(), 5)
	mint10 := mintRequest(c, cli, pv, rootZero, note10)
	mint5 := mintRequest(c, cli, pv, rootZero, note5)

	_, err = cli.SubmitTransfer(mint10)
	c.Assert(err, qt.IsNil)
	_, err = cli.SubmitTransfer(mint5)
	c.Assert(err, qt.IsNil)

	waitFor(c, 10*time.Minute, "the mint batch", func() bool {
		seqs, err := cli.Batches()
		return err == nil && len(seqs) >= 1
	})
	batch1, err := cli.Batch(1)
	c.Assert(err, qt.IsNil)
	c.Assert(batch1.ValidTransfers, qt.Equals, 2)
	c.Assert(batch1.OldRoot.String(), qt.Equals, genesis.Root.String())
	c.Assert(len(batch1.Attestation), qt.Not(qt.Equals), 0)

	waitFor(c, 5*time.Minute, "the mint batch verdict", func() bool {
		b, err := cli.Batch(1)
		return err == nil && b.Verdict != nil && b.Settlement != nil
	})
	batch1, err = cli.Batch(1)
	c.Assert(err, qt.IsNil)
	c.Assert(batch1.Verdict.Code, qt.Equals, storage.VerdictAccept)
	c.Assert(batch1.Settlement.NewRoot.String(), qt.Equals, batch1.NewRoot.String())

	rootOne, err := cli.LedgerRoot()
	c.Assert(err, qt.IsNil)
	c.Assert(rootOne.Seq, qt.Equals, uint64(1))
	c.Assert(rootOne.LeafCount, qt.Equals, uint64(2))
	c.Assert(rootOne.Root.String(), qt.Equals, batch1.NewRoot.String())

	// spend the 10 note into 7 for bob and 3 change for alice
	path10 := leafPathOf(c, cli, note10.Commitment())
	spend, err := pv.Prove(prover.Witness{
		Root:     rootOne.Root.MathBigInt(),
		SpendKey: alice,
		In:       []prover.SpentNote{{Note: note10, Path: path10}},
		Out: []*crypto.Note{
			crypto.NewNote(bob.OwnerKey(), 7),
			crypto.NewNote(alice.OwnerKey(), 3),
		},
	})
	c.Assert(err, qt.IsNil)
	spendReq, err := spend.Request()
	c.Assert(err, qt.IsNil)
	_, err = cli.SubmitTransfer(spendReq)
	c.Assert(err, qt.IsNil)

	waitFor(c, 10*time.Minute, "the spend batch", func() bool {
		seqs, err := cli.Batches()
		return err == nil && len(seqs) >= 2
	})
	batch2, err := cli.Batch(2)
	c.Assert(err, qt.IsNil)
	c.Assert(batch2.ValidTransfers, qt.Equals, 1)
	c.Assert(batch2.OldRoot.String(), qt.Equals, batch1.NewRoot.String())

	waitFor(c, 5*time.Minute, "the spend batch verdict", func() bool {
		b, err := cli.Batch(2)
		return err == nil && b.Verdict != nil && b.Settlement != nil
	})
	batch2, err = cli.Batch(2)
	c.Assert(err, qt.IsNil)
	c.Assert(batch2.Verdict.Code, qt.Equals, storage.VerdictAccept)

	rootTwo, err := cli.LedgerRoot()
	c.Assert(err, qt.IsNil)
	c.Assert(rootTwo.Seq, qt.Equals, uint64(2))
	c.Assert(rootTwo.LeafCount, qt.Equals, uint64(4))
	c.Assert(rootTwo.Nullifiers, qt.Equals, uint64(1))
	c.Assert(rootTwo.Root.String(), qt.Equals, batch2.NewRoot.String())

	nf10 := crypto.Nullifier(note10.Commitment(), alice)
	spent, err := node.ledger.HasNullifier(nf10)
	c.Assert(err, qt.IsNil)
	c.Assert(spent, qt.IsTrue)

	// replay the identical spend request: admission must reject it on the
	// published nullifier and leave both queues drained and the ledger alone
	_, err = cli.SubmitTransfer(spendReq)
	c.Assert(err, qt.IsNil)
	waitFor(c, time.Minute, "the replay to drain", func() bool {
		return node.stg.CountPendingTransfers() == 0 && node.stg.CountVerifiedTransfers() == 0
	})
	seqs, err := cli.Batches()
	c.Assert(err, qt.IsNil)
	c.Assert(seqs, qt.HasLen, 2)
	finalRoot, err := cli.LedgerRoot()
	c.Assert(err, qt.IsNil)
	c.Assert(finalRoot.Root.String(), qt.Equals, rootTwo.Root.String())
	c.Assert(finalRoot.Seq, qt.Equals, uint64(2))
}
