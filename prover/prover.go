// Package prover assembles transfer witnesses and generates the inner proofs
// clients submit to the sequencer. A Prover loads the transfer circuit
// artifacts once and is safe for concurrent use; each Prove call reads only
// its own snapshot of ledger state (a root and the membership paths fetched
// for it) and never blocks on another prover.
package prover

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	stdgroth16 "github.com/consensys/gnark/std/recursion/groth16"
	"github.com/veilpay/rollup/circuits"
	"github.com/veilpay/rollup/circuits/transfer"
	"github.com/veilpay/rollup/crypto"
	"github.com/veilpay/rollup/log"
	"github.com/veilpay/rollup/state"
	"github.com/veilpay/rollup/storage"
	"github.com/veilpay/rollup/types"
)

var (
	// ErrInsufficientFunds is returned when the witness values cannot
	// balance: spent plus minted must equal created plus fee.
	ErrInsufficientFunds = errors.New("transfer values do not balance")
	// ErrStaleRoot is returned when a membership path does not verify
	// against the declared root. The caller should re-fetch the root and
	// paths and retry; under concurrent activity this is expected, not
	// fatal.
	ErrStaleRoot = errors.New("membership path does not match the declared root")
	// ErrInvalidAuthorization is returned when the spend key does not own
	// every spent note.
	ErrInvalidAuthorization = errors.New("spend key does not own a spent note")
)

// SpentNote pairs a note opening with the membership path of its commitment
// in the ledger tree.
type SpentNote struct {
	Note *crypto.Note
	Path *state.MembershipPath
}

// Witness is everything needed to prove one transfer: the ledger root the
// client observed, the notes it spends with their paths, the notes it
// creates, and the declared minted and fee amounts. The witness never leaves
// the prover; only the proof and its statement do.
type Witness struct {
	Root     *big.Int
	Minted   uint64
	Fee      uint64
	SpendKey *crypto.SpendKey
	In       []SpentNote
	Out      []*crypto.Note
}

// check runs the native pre-checks that map witness defects to typed errors
// before any proving time is spent. A witness that passes still proves the
// same relations in-circuit.
func (w Witness) check() error {
	if len(w.In) == 0 && len(w.Out) == 0 {
		return fmt.Errorf("transfer has no notes")
	}
	if len(w.In) > circuits.InputsPerTransfer {
		return fmt.Errorf("too many spent notes: %d of %d", len(w.In), circuits.InputsPerTransfer)
	}
	if len(w.Out) > circuits.OutputsPerTransfer {
		return fmt.Errorf("too many created notes: %d of %d", len(w.Out), circuits.OutputsPerTransfer)
	}
	if w.Root == nil {
		return fmt.Errorf("missing declared root")
	}

	spent := new(big.Int).SetUint64(w.Minted)
	for _, in := range w.In {
		if in.Note == nil || in.Path == nil {
			return fmt.Errorf("spent note slot without note or path")
		}
		spent.Add(spent, new(big.Int).SetUint64(in.Note.Value))
	}
	created := new(big.Int).SetUint64(w.Fee)
	for _, note := range w.Out {
		if note == nil {
			return fmt.Errorf("nil created note")
		}
		created.Add(created, new(big.Int).SetUint64(note.Value))
	}
	if spent.Cmp(created) != 0 {
		return fmt.Errorf("%w: spends %s, creates %s", ErrInsufficientFunds, spent, created)
	}

	if len(w.In) > 0 {
		if w.SpendKey == nil {
			return fmt.Errorf("%w: missing spend key", ErrInvalidAuthorization)
		}
		owner := w.SpendKey.OwnerKey()
		for i, in := range w.In {
			if in.Note.Owner == nil ||
				in.Note.Owner.X.Cmp(owner.X) != 0 ||
				in.Note.Owner.Y.Cmp(owner.Y) != 0 {
				return fmt.Errorf("%w: spent note %d", ErrInvalidAuthorization, i)
			}
		}
	}

	for i, in := range w.In {
		if in.Path.RootAsBigInt().Cmp(w.Root) != 0 {
			return fmt.Errorf("%w: path %d targets root %s", ErrStaleRoot, i, in.Path.RootAsBigInt().String())
		}
		valid, err := in.Path.Verify()
		if err != nil {
			return fmt.Errorf("verify membership path %d: %w", i, err)
		}
		if !valid {
			return fmt.Errorf("%w: path %d does not verify", ErrStaleRoot, i)
		}
		if in.Path.Commitment().Cmp(in.Note.Commitment()) != 0 {
			return fmt.Errorf("membership path %d does not open the spent note commitment", i)
		}
	}
	return nil
}

// inputs converts the witness into the circuit input form.
func (w Witness) inputs() transfer.Inputs {
	in := transfer.Inputs{
		Root:     w.Root,
		Minted:   w.Minted,
		Fee:      w.Fee,
		SpendKey: w.SpendKey,
		Out:      w.Out,
	}
	for _, spent := range w.In {
		in.In = append(in.In, transfer.SpentNote{
			Note:      spent.Note,
			LeafIndex: spent.Path.Index,
			Siblings:  spent.Path.Siblings,
		})
	}
	return in
}

// Proof is the result of proving one transfer: the inner proof plus the
// statement it binds, ready for submission.
type Proof struct {
	Proof        groth16.Proof
	Statement    circuits.Statement[*big.Int]
	TransferHash *big.Int
}

// Request packages the proof as a submission artifact. Mint requests must
// attach their deposit ticket id on the returned request before submitting.
func (p *Proof) Request() (*storage.TransferRequest, error) {
	raw, err := circuits.EncodeProof(p.Proof)
	if err != nil {
		return nil, err
	}
	req := &storage.TransferRequest{
		Root:   (*types.BigInt)(p.Statement.Root),
		Minted: (*types.BigInt)(p.Statement.Minted),
		Fee:    (*types.BigInt)(p.Statement.Fee),
		Proof:  types.HexBytes(raw),
	}
	for _, nf := range p.Statement.Nullifiers {
		req.Nullifiers = append(req.Nullifiers, (*types.BigInt)(nf))
	}
	for _, cm := range p.Statement.Commitments {
		req.Commitments = append(req.Commitments, (*types.BigInt)(cm))
	}
	return req, nil
}

// Prover generates inner transfer proofs with the process-wide transfer
// circuit artifacts.
type Prover struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
}

// New loads (or compiles) the transfer circuit artifacts and returns a
// prover ready to use.
func New() (*Prover, error) {
	if err := transfer.Artifacts.LoadAll(); err != nil {
		return nil, fmt.Errorf("load transfer artifacts: %w", err)
	}
	return &Prover{
		ccs: transfer.Artifacts.CircuitDefinition(),
		pk:  transfer.Artifacts.ProvingKey(),
	}, nil
}

// Prove runs the witness pre-checks and generates the inner proof. The proof
// is generated with the recursion-aware prover options so the sequencer can
// later fold it into an outer proof.
func (p *Prover) Prove(w Witness) (*Proof, error) {
	if err := w.check(); err != nil {
		return nil, err
	}
	inputs := w.inputs()
	st, err := inputs.Statement()
	if err != nil {
		return nil, err
	}
	assignment, err := inputs.Assignment()
	if err != nil {
		return nil, err
	}
	witness, err := frontend.NewWitness(assignment, ecc.BLS12_377.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("create witness: %w", err)
	}
	startTime := time.Now()
	opts := stdgroth16.GetNativeProverOptions(ecc.BW6_761.ScalarField(), ecc.BLS12_377.ScalarField())
	proof, err := groth16.Prove(p.ccs, p.pk, witness, opts)
	if err != nil {
		return nil, fmt.Errorf("generate transfer proof: %w", err)
	}
	transferHash := circuits.TransferHash(st)
	log.Debugw("transfer proved",
		"transferHash", transferHash.String(),
		"duration", time.Since(startTime).String(),
	)
	return &Proof{
		Proof:        proof,
		Statement:    st,
		TransferHash: transferHash,
	}, nil
}
