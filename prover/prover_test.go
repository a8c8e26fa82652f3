package prover

import (
	"math"
	"math/big"
	"os"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	stdgroth16 "github.com/consensys/gnark/std/recursion/groth16"
	qt "github.com/frankban/quicktest"
	"github.com/veilpay/rollup/circuits"
	"github.com/veilpay/rollup/circuits/aggregator"
	"github.com/veilpay/rollup/circuits/transfer"
	"github.com/veilpay/rollup/crypto"
	"github.com/veilpay/rollup/state"
	"go.vocdoni.io/dvote/db/metadb"
)

func TestWitnessChecks(t *testing.T) {
	c := qt.New(t)

	sk, err := crypto.GenSpendKey()
	c.Assert(err, qt.IsNil)
	owner := sk.OwnerKey()
	note10 := crypto.NewNote(owner, 10)
	note5 := crypto.NewNote(owner, 5)

	// a balanced mint needs no paths and no spend key
	mint := Witness{
		Root:   big.NewInt(1),
		Minted: 15,
		Out:    []*crypto.Note{note10, note5},
	}
	c.Assert(mint.check(), qt.IsNil)

	unbalanced := mint
	unbalanced.Fee = 1
	c.Assert(unbalanced.check(), qt.ErrorIs, ErrInsufficientFunds)

	// conservation holds at both value bounds
	zero := Witness{Root: big.NewInt(1), Out: []*crypto.Note{crypto.NewNote(owner, 0)}}
	c.Assert(zero.check(), qt.IsNil)
	capped := Witness{
		Root:   big.NewInt(1),
		Minted: math.MaxUint64,
		Out:    []*crypto.Note{crypto.NewNote(owner, math.MaxUint64)},
	}
	c.Assert(capped.check(), qt.IsNil)

	// sums that would wrap 64-bit arithmetic do not balance
	wrapped := Witness{
		Root:   big.NewInt(1),
		Minted: 1,
		Out:    []*crypto.Note{crypto.NewNote(owner, math.MaxUint64), crypto.NewNote(owner, 2)},
	}
	c.Assert(wrapped.check(), qt.ErrorIs, ErrInsufficientFunds)

	empty := Witness{Root: big.NewInt(1)}
	c.Assert(empty.check(), qt.IsNotNil)

	// commit the notes so spends have real membership paths
	ledger, err := state.New(metadb.NewTest(t))
	c.Assert(err, qt.IsNil)
	_, err = ledger.AppendBatch([]*big.Int{note10.Commitment(), note5.Commitment()}, nil)
	c.Assert(err, qt.IsNil)
	path, err := ledger.MembershipPath(0)
	c.Assert(err, qt.IsNil)
	root, err := ledger.RootAsBigInt()
	c.Assert(err, qt.IsNil)

	spend := Witness{
		Root:     root,
		SpendKey: sk,
		In:       []SpentNote{{Note: note10, Path: path}},
		Out:      []*crypto.Note{crypto.NewNote(owner, 7), crypto.NewNote(owner, 3)},
	}
	c.Assert(spend.check(), qt.IsNil)

	thief, err := crypto.GenSpendKey()
	c.Assert(err, qt.IsNil)
	stolen := spend
	stolen.SpendKey = thief
	c.Assert(stolen.check(), qt.ErrorIs, ErrInvalidAuthorization)

	noKey := spend
	noKey.SpendKey = nil
	c.Assert(noKey.check(), qt.ErrorIs, ErrInvalidAuthorization)

	stale := spend
	stale.Root = big.NewInt(12345)
	c.Assert(stale.check(), qt.ErrorIs, ErrStaleRoot)

	// a tampered path no longer verifies against its root
	tampered, err := ledger.MembershipPath(0)
	c.Assert(err, qt.IsNil)
	tampered.Value = append([]byte{}, tampered.Value...)
	tampered.Value[0] ^= 0xff
	broken := spend
	broken.In = []SpentNote{{Note: note10, Path: tampered}}
	c.Assert(broken.check(), qt.ErrorIs, ErrStaleRoot)

	// a valid path for a different commitment does not open the note
	path1, err := ledger.MembershipPath(1)
	c.Assert(err, qt.IsNil)
	mismatched := spend
	mismatched.In = []SpentNote{{Note: note10, Path: path1}}
	c.Assert(mismatched.check(), qt.ErrorMatches, ".*does not open the spent note commitment.*")
}

func TestProveAndRequest(t *testing.T) {
	if os.Getenv("RUN_CIRCUIT_TESTS") == "" || os.Getenv("RUN_CIRCUIT_TESTS") == "false" {
		t.Skip("skipping circuit tests...")
	}
	c := qt.New(t)
	circuits.BaseDir = t.TempDir()

	p, err := New()
	c.Assert(err, qt.IsNil)

	sk, err := crypto.GenSpendKey()
	c.Assert(err, qt.IsNil)
	owner := sk.OwnerKey()

	ledger, err := state.New(metadb.NewTest(t))
	c.Assert(err, qt.IsNil)
	root, err := ledger.RootAsBigInt()
	c.Assert(err, qt.IsNil)

	proof, err := p.Prove(Witness{
		Root:   root,
		Minted: 15,
		Out:    []*crypto.Note{crypto.NewNote(owner, 10), crypto.NewNote(owner, 5)},
	})
	c.Assert(err, qt.IsNil)

	// the proof must verify natively against the recomputed statement
	pubWitness, err := aggregator.TransferPublicWitness(proof.TransferHash)
	c.Assert(err, qt.IsNil)
	err = groth16.Verify(proof.Proof, transfer.Artifacts.VerifyingKey(), pubWitness,
		stdgroth16.GetNativeVerifierOptions(ecc.BW6_761.ScalarField(), ecc.BLS12_377.ScalarField()))
	c.Assert(err, qt.IsNil)

	req, err := proof.Request()
	c.Assert(err, qt.IsNil)
	hash, err := req.TransferHash()
	c.Assert(err, qt.IsNil)
	c.Assert(hash.String(), qt.Equals, proof.TransferHash.String())

	decoded, err := circuits.DecodeProof(ecc.BLS12_377, req.Proof)
	c.Assert(err, qt.IsNil)
	err = groth16.Verify(decoded, transfer.Artifacts.VerifyingKey(), pubWitness,
		stdgroth16.GetNativeVerifierOptions(ecc.BW6_761.ScalarField(), ecc.BLS12_377.ScalarField()))
	c.Assert(err, qt.IsNil)
}
