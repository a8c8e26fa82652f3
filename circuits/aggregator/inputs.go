package aggregator

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/algebra/native/sw_bls12377"
	stdgroth16 "github.com/consensys/gnark/std/recursion/groth16"

	"github.com/veilpay/rollup/circuits"
	"github.com/veilpay/rollup/circuits/transfer"
)

// Assignment builds the aggregator circuit assignment of one batch: the
// declared roots, the transfer statement hashes and the proofs converted to
// recursion form. The slots beyond the provided proofs are filled with the
// cached dummy proof, and the batch hash and valid-slot selector are derived
// on the way.
func Assignment(oldRoot, newRoot *big.Int, hashes []*big.Int,
	proofs []groth16.Proof,
) (*AggregatorCircuit, error) {
	if len(hashes) != len(proofs) {
		return nil, fmt.Errorf("got %d transfer hashes for %d proofs", len(hashes), len(proofs))
	}
	if len(proofs) > circuits.TransfersPerBatch {
		return nil, fmt.Errorf("too many proofs: %d of %d", len(proofs), circuits.TransfersPerBatch)
	}
	assignment := &AggregatorCircuit{
		BatchHash:      circuits.BatchHash(oldRoot, newRoot, hashes),
		ValidTransfers: EncodeProofsSelector(len(proofs)),
		OldRoot:        oldRoot,
		NewRoot:        newRoot,
	}
	for i, h := range circuits.BigIntArrayToN(hashes, circuits.TransfersPerBatch) {
		assignment.TransferHashes[i] = h
	}
	for i := range proofs {
		proof, err := stdgroth16.ValueOfProof[sw_bls12377.G1Affine, sw_bls12377.G2Affine](proofs[i])
		if err != nil {
			return nil, fmt.Errorf("proof %d value error: %w", i, err)
		}
		assignment.Proofs[i] = proof
		pubWitness, err := TransferPublicWitness(hashes[i])
		if err != nil {
			return nil, fmt.Errorf("witness %d error: %w", i, err)
		}
		assignment.PublicInputs[i], err = stdgroth16.ValueOfWitness[sw_bls12377.ScalarField](pubWitness)
		if err != nil {
			return nil, fmt.Errorf("witness %d value error: %w", i, err)
		}
	}
	return assignment, assignment.FillWithDummy(len(proofs))
}

// TransferPublicWitness rebuilds the public witness of a transfer proof from
// its statement hash, which is the only public input of the transfer
// circuit.
func TransferPublicWitness(transferHash *big.Int) (witness.Witness, error) {
	return frontend.NewWitness(
		&transfer.Circuit{TransferHash: transferHash},
		ecc.BLS12_377.ScalarField(), frontend.PublicOnly())
}

// PublicWitness returns the outer public witness of a batch from its
// statement hash and its valid-slot selector. Batch validators rebuild it
// independently from the batch contents before checking the proof.
func PublicWitness(batchHash, validTransfers *big.Int) (witness.Witness, error) {
	return frontend.NewWitness(
		&AggregatorCircuit{BatchHash: batchHash, ValidTransfers: validTransfers},
		ecc.BW6_761.ScalarField(), frontend.PublicOnly())
}
