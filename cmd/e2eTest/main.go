// Command e2eTest drives a running rollup node through the full transfer
// flow over its HTTP API: it registers two deposits, mints two notes, spends
// one of them and finally replays the spend to confirm the node drops it.
// The node must allow minting and share the artifact cache directory so the
// local prover and the sequencer agree on the circuit keys.
package main

import (
	"math/big"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/veilpay/rollup/api"
	"github.com/veilpay/rollup/api/client"
	"github.com/veilpay/rollup/crypto"
	"github.com/veilpay/rollup/log"
	"github.com/veilpay/rollup/prover"
	"github.com/veilpay/rollup/state"
	"github.com/veilpay/rollup/storage"
	"github.com/veilpay/rollup/types"
)

func main() {
	apiURL := flag.String("api", "http://localhost:9090", "base URL of the rollup API")
	batchTimeout := flag.Duration("batchTimeout", 20*time.Minute, "maximum time to wait for a batch")
	logLevel := flag.String("logLevel", "debug", "log level (debug, info, warn, error)")
	flag.Parse()
	log.Init(*logLevel, "stdout", nil)

	cli, err := client.New(*apiURL)
	if err != nil {
		log.Fatal(err)
	}

	log.Info("loading transfer circuit artifacts")
	pv, err := prover.New()
	if err != nil {
		log.Fatal(err)
	}

	alice, err := crypto.GenSpendKey()
	if err != nil {
		log.Fatal(err)
	}
	bob, err := crypto.GenSpendKey()
	if err != nil {
		log.Fatal(err)
	}

	baseRoot, err := cli.LedgerRoot()
	if err != nil {
		log.Fatal(err)
	}
	baseline, err := cli.Batches()
	if err != nil {
		log.Fatal(err)
	}
	log.Infow("node state",
		"root", baseRoot.Root.String(),
		"seq", baseRoot.Seq,
		"batches", len(baseline))

	// mint two notes for alice, proving both against the current root before
	// submitting so they land in the same collecting window
	note10 := crypto.NewNote(alice.OwnerKey(), 10)
	note5 := crypto.NewNote(alice.OwnerKey(), 5)
	mint10 := mint(cli, pv, baseRoot.Root.MathBigInt(), note10)
	mint5 := mint(cli, pv, baseRoot.Root.MathBigInt(), note5)
	if _, err := cli.SubmitTransfer(mint10); err != nil {
		log.Fatal(err)
	}
	if _, err := cli.SubmitTransfer(mint5); err != nil {
		log.Fatal(err)
	}
	log.Info("mint transfers submitted, waiting for the batch")

	mintSeq := waitForBatches(cli, len(baseline)+1, *batchTimeout)
	mintBatch, err := cli.Batch(mintSeq)
	if err != nil {
		log.Fatal(err)
	}
	if mintBatch.ValidTransfers != 2 {
		log.Fatalf("mint batch folded %d transfers, expected 2", mintBatch.ValidTransfers)
	}
	log.Infow("mint batch committed",
		"seq", mintSeq,
		"newRoot", mintBatch.NewRoot.String())
	waitForAcceptance(cli, mintSeq, *batchTimeout)

	// spend the 10 note into 7 for bob and 3 change for alice
	spendRoot, err := cli.LedgerRoot()
	if err != nil {
		log.Fatal(err)
	}
	spend, err := pv.Prove(prover.Witness{
		Root:     spendRoot.Root.MathBigInt(),
		SpendKey: alice,
		In:       []prover.SpentNote{{Note: note10, Path: findLeaf(cli, note10.Commitment())}},
		Out: []*crypto.Note{
			crypto.NewNote(bob.OwnerKey(), 7),
			crypto.NewNote(alice.OwnerKey(), 3),
		},
	})
	if err != nil {
		log.Fatal(err)
	}
	spendReq, err := spend.Request()
	if err != nil {
		log.Fatal(err)
	}
	if _, err := cli.SubmitTransfer(spendReq); err != nil {
		log.Fatal(err)
	}
	log.Info("spend transfer submitted, waiting for the batch")

	spendSeq := waitForBatches(cli, len(baseline)+2, *batchTimeout)
	spendBatch, err := cli.Batch(spendSeq)
	if err != nil {
		log.Fatal(err)
	}
	if spendBatch.OldRoot.String() != mintBatch.NewRoot.String() {
		log.Fatalf("spend batch does not extend the mint batch: %s -> %s",
			mintBatch.NewRoot.String(), spendBatch.OldRoot.String())
	}
	waitForAcceptance(cli, spendSeq, *batchTimeout)
	log.Infow("spend batch committed", "seq", spendSeq, "newRoot", spendBatch.NewRoot.String())

	// replaying the spent proof must not move the chain again
	if _, err := cli.SubmitTransfer(spendReq); err != nil {
		log.Fatal(err)
	}
	log.Info("spend replayed, confirming the node drops it")
	time.Sleep(15 * time.Second)
	seqs, err := cli.Batches()
	if err != nil {
		log.Fatal(err)
	}
	if len(seqs) != len(baseline)+2 {
		log.Fatalf("replayed spend produced a batch: %d batches, expected %d",
			len(seqs), len(baseline)+2)
	}
	finalRoot, err := cli.LedgerRoot()
	if err != nil {
		log.Fatal(err)
	}
	if finalRoot.Root.String() != spendBatch.NewRoot.String() {
		log.Fatalf("replayed spend moved the root: %s -> %s",
			spendBatch.NewRoot.String(), finalRoot.Root.String())
	}
	log.Infow("end-to-end flow completed",
		"root", finalRoot.Root.String(),
		"batches", len(seqs))
}

// mint registers a deposit ticket for the note owner and returns the proved
// minting transfer carrying it.
func mint(cli *client.HTTPclient, pv *prover.Prover, root *big.Int, note *crypto.Note) *storage.TransferRequest {
	ticket, err := cli.RegisterDeposit(&api.DepositRequest{
		OwnerX: (*types.BigInt)(note.Owner.X),
		OwnerY: (*types.BigInt)(note.Owner.Y),
		Amount: (*types.BigInt)(new(big.Int).SetUint64(note.Value)),
	})
	if err != nil {
		log.Fatal(err)
	}
	proof, err := pv.Prove(prover.Witness{
		Root:   root,
		Minted: note.Value,
		Out:    []*crypto.Note{note},
	})
	if err != nil {
		log.Fatal(err)
	}
	req, err := proof.Request()
	if err != nil {
		log.Fatal(err)
	}
	req.DepositID = ticket.ID
	return req
}

// waitForBatches polls until the node holds at least want batches and returns
// the latest sequence.
func waitForBatches(cli *client.HTTPclient, want int, timeout time.Duration) uint64 {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		seqs, err := cli.Batches()
		if err == nil && len(seqs) >= want {
			return seqs[len(seqs)-1]
		}
		time.Sleep(2 * time.Second)
	}
	log.Fatalf("timed out waiting for batch %d", want)
	return 0
}

// waitForAcceptance polls until the batch has its verdict and settlement
// record, failing hard if the verifier rejected it.
func waitForAcceptance(cli *client.HTTPclient, seq uint64, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		b, err := cli.Batch(seq)
		if err == nil && b.Verdict != nil && b.Settlement != nil {
			if b.Verdict.Code != storage.VerdictAccept {
				log.Fatalf("batch %d rejected: %s (%s)", seq, b.Verdict.Code, b.Verdict.Reason)
			}
			log.Infow("batch accepted and settled", "seq", seq)
			return
		}
		time.Sleep(2 * time.Second)
	}
	log.Fatalf("timed out waiting for the verdict of batch %d", seq)
}

// findLeaf scans the commitment tree for the leaf holding the commitment.
func findLeaf(cli *client.HTTPclient, commitment *big.Int) *state.MembershipPath {
	root, err := cli.LedgerRoot()
	if err != nil {
		log.Fatal(err)
	}
	for i := uint64(0); i < root.LeafCount; i++ {
		path, err := cli.LeafPath(i)
		if err != nil {
			log.Fatal(err)
		}
		if path.Commitment().Cmp(commitment) == 0 {
			return path
		}
	}
	log.Fatalf("no leaf holds commitment %s", commitment.String())
	return nil
}
