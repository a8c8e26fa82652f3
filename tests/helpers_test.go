package tests

import (
	"context"
	"math/big"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/veilpay/rollup/api"
	"github.com/veilpay/rollup/api/client"
	"github.com/veilpay/rollup/crypto"
	"github.com/veilpay/rollup/crypto/ethereum"
	"github.com/veilpay/rollup/log"
	"github.com/veilpay/rollup/prover"
	"github.com/veilpay/rollup/sequencer"
	"github.com/veilpay/rollup/service"
	"github.com/veilpay/rollup/state"
	"github.com/veilpay/rollup/storage"
	"github.com/veilpay/rollup/types"
	"github.com/veilpay/rollup/verifier"
	"go.vocdoni.io/dvote/db/metadb"
)

func init() {
	log.Init(log.LogLevelDebug, "stdout", nil)
}

// testNode is a full rollup node running in-process: sequencer, verifier and
// API over a shared storage, each ledger in its own database, plus an HTTP
// client connected to the API.
type testNode struct {
	stg     *storage.Storage
	ledger  *state.Store
	replica *state.Store
	signer  *ethereum.SignKeys
	cli     *client.HTTPclient
}

// startTestNode wires the full service stack the way cmd/rollupd does and
// waits for it to come up. Loading the circuit artifacts on a cold cache
// dominates the startup time.
func startTestNode(t *testing.T, roundDeadline time.Duration) *testNode {
	c := qt.New(t)

	stg := storage.New(metadb.NewTest(t))
	t.Cleanup(stg.Close)
	ledger, err := state.New(metadb.NewTest(t))
	c.Assert(err, qt.IsNil)
	t.Cleanup(func() { _ = ledger.Close() })
	replica, err := state.New(metadb.NewTest(t))
	c.Assert(err, qt.IsNil)
	t.Cleanup(func() { _ = replica.Close() })

	signer := ethereum.NewSignKeys()
	c.Assert(signer.Generate(), qt.IsNil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sequencerService := service.NewSequencer(stg, ledger, sequencer.Config{
		RoundDeadline:      roundDeadline,
		Signer:             signer,
		AllowSupplyChanges: true,
	})
	c.Assert(sequencerService.Start(ctx), qt.IsNil)
	t.Cleanup(sequencerService.Stop)

	verifierService := service.NewVerifier(stg, replica, verifier.Config{
		Operator: signer.Address(),
	})
	c.Assert(verifierService.Start(ctx), qt.IsNil)
	t.Cleanup(verifierService.Stop)

	apiService := service.NewAPI(stg, ledger, "127.0.0.1", 0)
	c.Assert(apiService.Start(ctx), qt.IsNil)
	t.Cleanup(apiService.Stop)

	cli, err := client.New("http://" + apiService.Addr().String())
	c.Assert(err, qt.IsNil)

	return &testNode{
		stg:     stg,
		ledger:  ledger,
		replica: replica,
		signer:  signer,
		cli:     cli,
	}
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(c *qt.C, timeout time.Duration, what string, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(250 * time.Millisecond)
	}
	c.Fatalf("timed out waiting for %s", what)
}

// mintRequest registers a deposit ticket for the note owner and proves the
// matching minting transfer against the given root.
func mintRequest(c *qt.C, cli *client.HTTPclient, pv *prover.Prover, root *big.Int, note *crypto.Note) *storage.TransferRequest {
	ticket, err := cli.RegisterDeposit(&api.DepositRequest{
		OwnerX: (*types.BigInt)(note.Owner.X),
		OwnerY: (*types.BigInt)(note.Owner.Y),
		Amount: (*types.BigInt)(new(big.Int).SetUint64(note.Value)),
	})
	c.Assert(err, qt.IsNil)

	proof, err := pv.Prove(prover.Witness{
		Root:   root,
		Minted: note.Value,
		Out:    []*crypto.Note{note},
	})
	c.Assert(err, qt.IsNil)
	req, err := proof.Request()
	c.Assert(err, qt.IsNil)
	req.DepositID = ticket.ID
	return req
}

// leafPathOf scans the ledger for the leaf holding the given commitment and
// returns its membership path.
func leafPathOf(c *qt.C, cli *client.HTTPclient, commitment *big.Int) *state.MembershipPath {
	root, err := cli.LedgerRoot()
	c.Assert(err, qt.IsNil)
	for i := uint64(0); i < root.LeafCount; i++ {
		path, err := cli.LeafPath(i)
		c.Assert(err, qt.IsNil)
		if path.Commitment().Cmp(commitment) == 0 {
			return path
		}
	}
	c.Fatalf("no leaf holds commitment %s", commitment.String())
	return nil
}
