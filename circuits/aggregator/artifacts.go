package aggregator

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/algebra/native/sw_bls12377"
	stdgroth16 "github.com/consensys/gnark/std/recursion/groth16"

	"github.com/veilpay/rollup/circuits"
	"github.com/veilpay/rollup/circuits/transfer"
)

// DummyArtifacts holds the cached constraint system and keys of the dummy
// circuit. The dummy verification key is baked into the aggregator circuit,
// so the same setup must be reused across restarts; wiping the artifact
// cache directory replaces it together with the aggregator compilation.
var DummyArtifacts = circuits.NewCircuitArtifacts("transfer-dummy", ecc.BLS12_377,
	func() (constraint.ConstraintSystem, error) {
		if err := transfer.Artifacts.LoadAll(); err != nil {
			return nil, fmt.Errorf("load transfer artifacts: %w", err)
		}
		return frontend.Compile(ecc.BLS12_377.ScalarField(), r1cs.NewBuilder,
			DummyPlaceholder(transfer.Artifacts.CircuitDefinition()))
	})

// Artifacts holds the cached constraint system and keys of the aggregator
// circuit, compiled with the transfer and dummy verification keys fixed.
var Artifacts = circuits.NewCircuitArtifacts("aggregator", ecc.BW6_761,
	func() (constraint.ConstraintSystem, error) {
		placeholder, err := Placeholder()
		if err != nil {
			return nil, err
		}
		return frontend.Compile(ecc.BW6_761.ScalarField(), r1cs.NewBuilder, placeholder)
	})

// Placeholder returns the aggregator circuit shape: proof and witness
// placeholders derived from the transfer constraint system plus the two
// fixed verification keys. It loads (or builds) the transfer and dummy
// artifacts on the way.
func Placeholder() (*AggregatorCircuit, error) {
	if err := transfer.Artifacts.LoadAll(); err != nil {
		return nil, fmt.Errorf("load transfer artifacts: %w", err)
	}
	if err := DummyArtifacts.LoadAll(); err != nil {
		return nil, fmt.Errorf("load dummy artifacts: %w", err)
	}
	transferCCS := transfer.Artifacts.CircuitDefinition()
	placeholder := &AggregatorCircuit{}
	for i := range placeholder.Proofs {
		placeholder.Proofs[i] = stdgroth16.PlaceholderProof[sw_bls12377.G1Affine, sw_bls12377.G2Affine](transferCCS)
		placeholder.PublicInputs[i] = stdgroth16.PlaceholderWitness[sw_bls12377.ScalarField](transferCCS)
	}
	var err error
	placeholder.VerificationKeys[0], err = stdgroth16.ValueOfVerifyingKeyFixed[sw_bls12377.G1Affine, sw_bls12377.G2Affine, sw_bls12377.GT](DummyArtifacts.VerifyingKey())
	if err != nil {
		return nil, fmt.Errorf("fix dummy vk: %w", err)
	}
	placeholder.VerificationKeys[1], err = stdgroth16.ValueOfVerifyingKeyFixed[sw_bls12377.G1Affine, sw_bls12377.G2Affine, sw_bls12377.GT](transfer.Artifacts.VerifyingKey())
	if err != nil {
		return nil, fmt.Errorf("fix transfer vk: %w", err)
	}
	return placeholder, nil
}
