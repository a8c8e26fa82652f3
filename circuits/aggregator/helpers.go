package aggregator

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/algebra/native/sw_bls12377"
	stdgroth16 "github.com/consensys/gnark/std/recursion/groth16"
)

// EncodeProofsSelector function returns a number whose base2 representation
// contains the first nValidProofs bits set to one. It encodes the valid
// slots of a batch as the selector that switches between the transfer
// circuit vk and the dummy one.
func EncodeProofsSelector(nValidProofs int) *big.Int {
	// no valid number if nValidProofs <= 0
	if nValidProofs <= 0 {
		return big.NewInt(0)
	}
	// (1 << nValidProofs) - 1 gives a binary number with nValidProofs ones
	maxNum := big.NewInt(1)
	maxNum.Lsh(maxNum, uint(nValidProofs))
	return maxNum.Sub(maxNum, big.NewInt(1))
}

// dummyFill caches the dummy proof and its witness in recursion form. The
// dummy statement never changes, so a single proof serves every batch of
// the process lifetime.
var dummyFill struct {
	once    sync.Once
	proof   stdgroth16.Proof[sw_bls12377.G1Affine, sw_bls12377.G2Affine]
	witness stdgroth16.Witness[sw_bls12377.ScalarField]
	err     error
}

func dummyProofAndWitness() (stdgroth16.Proof[sw_bls12377.G1Affine, sw_bls12377.G2Affine],
	stdgroth16.Witness[sw_bls12377.ScalarField], error,
) {
	dummyFill.once.Do(func() {
		if dummyFill.err = DummyArtifacts.LoadAll(); dummyFill.err != nil {
			return
		}
		fullWitness, err := frontend.NewWitness(DummyAssignment(), ecc.BLS12_377.ScalarField())
		if err != nil {
			dummyFill.err = fmt.Errorf("dummy witness error: %w", err)
			return
		}
		proof, err := groth16.Prove(
			DummyArtifacts.CircuitDefinition(), DummyArtifacts.ProvingKey(), fullWitness,
			stdgroth16.GetNativeProverOptions(ecc.BW6_761.ScalarField(), ecc.BLS12_377.ScalarField()))
		if err != nil {
			dummyFill.err = fmt.Errorf("dummy proof error: %w", err)
			return
		}
		dummyFill.proof, err = stdgroth16.ValueOfProof[sw_bls12377.G1Affine, sw_bls12377.G2Affine](proof)
		if err != nil {
			dummyFill.err = fmt.Errorf("dummy proof value error: %w", err)
			return
		}
		pubWitness, err := fullWitness.Public()
		if err != nil {
			dummyFill.err = fmt.Errorf("dummy public witness error: %w", err)
			return
		}
		dummyFill.witness, err = stdgroth16.ValueOfWitness[sw_bls12377.ScalarField](pubWitness)
		if err != nil {
			dummyFill.err = fmt.Errorf("dummy witness value error: %w", err)
		}
	})
	return dummyFill.proof, dummyFill.witness, dummyFill.err
}

// FillWithDummy function fills the assignment slots from the index provided
// on with the cached dummy proof and witness. Returns an error if the dummy
// artifacts are not available.
func (assignments *AggregatorCircuit) FillWithDummy(fromIdx int) error {
	proof, wit, err := dummyProofAndWitness()
	if err != nil {
		return err
	}
	for i := fromIdx; i < len(assignments.Proofs); i++ {
		assignments.TransferHashes[i] = 0
		assignments.Proofs[i] = proof
		assignments.PublicInputs[i] = wit
	}
	return nil
}
