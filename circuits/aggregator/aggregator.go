// Package aggregator contains the gnark circuit definition that folds a
// window of transfer proofs into a single proof for the whole batch. The
// circuit verifies every slot against the transfer verification key,
// replacing the proofs of unused slots with proofs of a dummy circuit
// verified under its own key. Which key applies to which slot is decided by
// the bits of ValidTransfers.
//
// The batch statement is bound by a single public hash of:
//   - OldRoot
//   - NewRoot
//   - TransferHashes
//
// Every transfer proof exposes its own statement hash as its only public
// input, and the circuit forces that value to match the declared entry of
// TransferHashes for every valid slot. The root transition itself is checked
// natively by sequencer and verifier, both of which recompute NewRoot from
// the batch contents before trusting it.
package aggregator

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/algebra/native/sw_bls12377"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/consensys/gnark/std/math/bits"
	"github.com/consensys/gnark/std/recursion/groth16"
	"github.com/vocdoni/gnark-crypto-primitives/utils"

	"github.com/veilpay/rollup/circuits"
)

type AggregatorCircuit struct {
	BatchHash      frontend.Variable `gnark:",public"`
	ValidTransfers frontend.Variable `gnark:",public"`
	// The following variables are priv-public inputs, so they are hashed and
	// compared with the BatchHash. All the variables are hashed in the same
	// order as they are defined here.
	OldRoot        frontend.Variable                             // Part of BatchHash
	NewRoot        frontend.Variable                             // Part of BatchHash
	TransferHashes [circuits.TransfersPerBatch]frontend.Variable // Part of BatchHash
	// Transfer circuit proofs and their public witnesses
	Proofs       [circuits.TransfersPerBatch]groth16.Proof[sw_bls12377.G1Affine, sw_bls12377.G2Affine]
	PublicInputs [circuits.TransfersPerBatch]groth16.Witness[sw_bls12377.ScalarField]
	// VerificationKeys should contain the dummy circuit and the transfer
	// circuit verification keys in that particular order
	VerificationKeys [2]groth16.VerifyingKey[sw_bls12377.G1Affine, sw_bls12377.G2Affine, sw_bls12377.GT] `gnark:"-"`
}

func checkBatchHash(api frontend.API, batchHash, oldRoot, newRoot frontend.Variable,
	transferHashes []frontend.Variable,
) error {
	// group all the inputs to hash them
	inputs := []frontend.Variable{oldRoot, newRoot}
	inputs = append(inputs, transferHashes...)
	// hash the inputs
	hFn, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	hFn.Write(inputs...)
	// compare the hash with the provided BatchHash
	api.AssertIsEqual(batchHash, hFn.Sum())
	return nil
}

func (c *AggregatorCircuit) Define(api frontend.API) error {
	// check the statement hash of the batch
	if err := checkBatchHash(api, c.BatchHash, c.OldRoot, c.NewRoot,
		c.TransferHashes[:]); err != nil {
		return err
	}
	// initialize the verifier
	verifier, err := groth16.NewVerifier[sw_bls12377.ScalarField, sw_bls12377.G1Affine, sw_bls12377.G2Affine, sw_bls12377.GT](api)
	if err != nil {
		return err
	}
	// verify each proof with the provided public inputs and the fixed
	// verification key of its slot
	validProofs := bits.ToBinary(api, c.ValidTransfers,
		bits.WithNbDigits(circuits.TransfersPerBatch))
	for i := 0; i < len(c.Proofs); i++ {
		vk, err := verifier.SwitchVerificationKey(validProofs[i], c.VerificationKeys[:])
		if err != nil {
			return err
		}
		if err := verifier.AssertProof(vk, c.Proofs[i], c.PublicInputs[i]); err != nil {
			return err
		}
		// the proved statement hash must match the declared one on valid
		// slots; dummy slots carry an unrelated public input and stay free
		api.AssertIsEqual(len(c.PublicInputs[i].Public), 1)
		provedHash, err := utils.PackScalarToVar(api, c.PublicInputs[i].Public[0])
		if err != nil {
			return err
		}
		api.AssertIsEqual(
			api.Mul(validProofs[i], api.Sub(c.TransferHashes[i], provedHash)), 0)
	}
	return nil
}
