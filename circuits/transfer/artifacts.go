package transfer

import (
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/veilpay/rollup/circuits"
)

// Artifacts bundles the compiled transfer circuit and its Groth16 keys,
// cached on disk across runs.
var Artifacts = circuits.NewCircuitArtifacts("transfer", ecc.BLS12_377,
	func() (constraint.ConstraintSystem, error) {
		return frontend.Compile(ecc.BLS12_377.ScalarField(), r1cs.NewBuilder, &Circuit{})
	})
