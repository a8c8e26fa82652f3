package transfer_test

import (
	"math/big"
	"os"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/logger"
	"github.com/consensys/gnark/test"
	"github.com/rs/zerolog"
	"github.com/veilpay/rollup/circuits/transfer"
	"github.com/veilpay/rollup/crypto"
	"github.com/veilpay/rollup/state"
	"go.vocdoni.io/dvote/db/metadb"
)

func TestTransferCircuitCompile(t *testing.T) {
	if os.Getenv("RUN_CIRCUIT_TESTS") == "" || os.Getenv("RUN_CIRCUIT_TESTS") == "false" {
		t.Skip("skipping circuit tests...")
	}
	// enable log to see nbConstraints
	logger.Set(zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}).With().Timestamp().Logger())

	if _, err := frontend.Compile(ecc.BLS12_377.ScalarField(), r1cs.NewBuilder,
		&transfer.Circuit{},
	); err != nil {
		panic(err)
	}
}

func TestTransferCircuitProve(t *testing.T) {
	if os.Getenv("RUN_CIRCUIT_TESTS") == "" || os.Getenv("RUN_CIRCUIT_TESTS") == "false" {
		t.Skip("skipping circuit tests...")
	}
	sk, err := crypto.GenSpendKey()
	if err != nil {
		t.Fatal(err)
	}
	owner := sk.OwnerKey()
	note10 := crypto.NewNote(owner, 10)
	note5 := crypto.NewNote(owner, 5)

	st, err := state.New(metadb.NewTest(t))
	if err != nil {
		t.Fatal(err)
	}
	emptyRoot, err := st.RootAsBigInt()
	if err != nil {
		t.Fatal(err)
	}

	// mint transfer, both input slots disabled
	mint := transfer.Inputs{
		Root:   emptyRoot,
		Minted: 15,
		Out:    []*crypto.Note{note10, note5},
	}
	assignment, err := mint.Assignment()
	if err != nil {
		t.Fatal(err)
	}
	assert := test.NewAssert(t)
	assert.ProverSucceeded(
		&transfer.Circuit{},
		assignment,
		test.WithCurves(ecc.BLS12_377),
		test.WithBackends(backend.GROTH16))

	// commit the minted notes and spend one of them
	if _, err := st.AppendBatch(
		[]*big.Int{note10.Commitment(), note5.Commitment()}, nil); err != nil {
		t.Fatal(err)
	}
	root, err := st.RootAsBigInt()
	if err != nil {
		t.Fatal(err)
	}
	path, err := st.MembershipPath(0)
	if err != nil {
		t.Fatal(err)
	}

	recipient, err := crypto.GenSpendKey()
	if err != nil {
		t.Fatal(err)
	}
	spend := transfer.Inputs{
		Root:     root,
		SpendKey: sk,
		In: []transfer.SpentNote{{
			Note:      note10,
			LeafIndex: 0,
			Siblings:  path.Siblings,
		}},
		Out: []*crypto.Note{
			crypto.NewNote(recipient.OwnerKey(), 7),
			crypto.NewNote(owner, 3),
		},
	}
	assignment, err = spend.Assignment()
	if err != nil {
		t.Fatal(err)
	}
	assert.ProverSucceeded(
		&transfer.Circuit{},
		assignment,
		test.WithCurves(ecc.BLS12_377),
		test.WithBackends(backend.GROTH16))
}

func TestTransferCircuitProveFailures(t *testing.T) {
	if os.Getenv("RUN_CIRCUIT_TESTS") == "" || os.Getenv("RUN_CIRCUIT_TESTS") == "false" {
		t.Skip("skipping circuit tests...")
	}
	sk, err := crypto.GenSpendKey()
	if err != nil {
		t.Fatal(err)
	}
	owner := sk.OwnerKey()
	note10 := crypto.NewNote(owner, 10)

	st, err := state.New(metadb.NewTest(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.AppendBatch([]*big.Int{note10.Commitment()}, nil); err != nil {
		t.Fatal(err)
	}
	root, err := st.RootAsBigInt()
	if err != nil {
		t.Fatal(err)
	}
	path, err := st.MembershipPath(0)
	if err != nil {
		t.Fatal(err)
	}
	spent := []transfer.SpentNote{{Note: note10, LeafIndex: 0, Siblings: path.Siblings}}
	outs := []*crypto.Note{crypto.NewNote(owner, 7), crypto.NewNote(owner, 3)}

	assert := test.NewAssert(t)

	// unbalanced transfer, the declared fee leaves value unaccounted for
	unbalanced := transfer.Inputs{Root: root, Fee: 1, SpendKey: sk, In: spent, Out: outs}
	assignment, err := unbalanced.Assignment()
	if err != nil {
		t.Fatal(err)
	}
	assert.ProverFailed(
		&transfer.Circuit{},
		assignment,
		test.WithCurves(ecc.BLS12_377),
		test.WithBackends(backend.GROTH16))

	// membership path against a root the note does not live under
	wrongRoot := transfer.Inputs{Root: big.NewInt(12345), SpendKey: sk, In: spent, Out: outs}
	assignment, err = wrongRoot.Assignment()
	if err != nil {
		t.Fatal(err)
	}
	assert.ProverFailed(
		&transfer.Circuit{},
		assignment,
		test.WithCurves(ecc.BLS12_377),
		test.WithBackends(backend.GROTH16))

	// spend attempt with a key that does not own the note
	thief, err := crypto.GenSpendKey()
	if err != nil {
		t.Fatal(err)
	}
	unauthorized := transfer.Inputs{Root: root, SpendKey: thief, In: spent, Out: outs}
	assignment, err = unauthorized.Assignment()
	if err != nil {
		t.Fatal(err)
	}
	assert.ProverFailed(
		&transfer.Circuit{},
		assignment,
		test.WithCurves(ecc.BLS12_377),
		test.WithBackends(backend.GROTH16))
}
