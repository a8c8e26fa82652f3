// Package transfer contains the Gnark circuit definition that proves a single
// shielded transfer. A transfer spends up to InputsPerTransfer notes from the
// commitment tree and creates up to OutputsPerTransfer new ones. The proof is
// valid if:
//   - Every spent note is a member of the commitment tree under the declared
//     root.
//   - Every declared nullifier is derived from the spent note commitment and
//     the spend key, so the same note cannot be spent twice without reusing a
//     nullifier.
//   - The spender knows the spend key of the owner of every spent note.
//   - Every declared output commitment is well formed for the note it hides.
//   - Value is conserved: spent value plus minted value equals created value
//     plus the declared fee, with every amount range checked.
//
// Unused input and output slots are sentinels: their values are forced to
// zero and their declared nullifiers and commitments are the literal zero, so
// a reader of the public statement learns nothing about how many slots a
// transfer really used.
//
// The only public input is the MiMC hash of the statement, which keeps the
// public witness a single field element for the recursive aggregation step.
package transfer

import (
	tedwards "github.com/consensys/gnark-crypto/ecc/twistededwards"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/algebra/native/twistededwards"
	"github.com/vocdoni/gnark-crypto-primitives/tree/smt"
	"github.com/vocdoni/gnark-crypto-primitives/utils"
	"github.com/veilpay/rollup/circuits"
)

// HashFn is the hash function used for commitments, nullifiers, tree nodes
// and the statement hash. Its native counterpart is crypto.HashBLS12377.
var HashFn = utils.MiMCHasher

type Circuit struct {
	// ---------------------------------------------------------------------------------------------
	// PUBLIC INPUTS

	TransferHash frontend.Variable `gnark:",public"`

	// ---------------------------------------------------------------------------------------------
	// SECRET INPUTS

	// Statement holds the values the transfer hash commits to. The sequencer
	// and the verifier learn them from the transfer request and re-derive the
	// hash natively.
	Statement circuits.Statement[frontend.Variable]

	// Spent note slots. Inactive slots carry zero values and are excluded
	// from the membership check.
	InActive      [circuits.InputsPerTransfer]frontend.Variable
	InValues      [circuits.InputsPerTransfer]frontend.Variable
	InSalts       [circuits.InputsPerTransfer]frontend.Variable
	InLeafIndexes [circuits.InputsPerTransfer]frontend.Variable
	InSiblings    [circuits.InputsPerTransfer][circuits.StateProofMaxLevels]frontend.Variable

	// Created note slots. Inactive slots carry zero values and a zero
	// commitment.
	OutActive [circuits.OutputsPerTransfer]frontend.Variable
	OutOwnerX [circuits.OutputsPerTransfer]frontend.Variable
	OutOwnerY [circuits.OutputsPerTransfer]frontend.Variable
	OutValues [circuits.OutputsPerTransfer]frontend.Variable
	OutSalts  [circuits.OutputsPerTransfer]frontend.Variable

	// SpendKey is the private key whose public key owns every spent note.
	SpendKey frontend.Variable
}

// Define declares the circuit's constraints
func (c Circuit) Define(api frontend.API) error {
	c.VerifyActiveFlags(api)
	ownerX, ownerY := c.OwnerKey(api)
	c.VerifySpentNotes(api, ownerX, ownerY)
	c.VerifyCreatedNotes(api)
	c.VerifyConservation(api)
	c.VerifyTransferHash(api)
	return nil
}

// VerifyActiveFlags asserts that the slot flags are booleans and that every
// inactive slot carries a zero value, so sentinel slots cannot move value in
// or out of the transfer.
func (c Circuit) VerifyActiveFlags(api frontend.API) {
	for i := range c.InActive {
		api.AssertIsBoolean(c.InActive[i])
		api.AssertIsEqual(api.Mul(api.Sub(1, c.InActive[i]), c.InValues[i]), 0)
	}
	for i := range c.OutActive {
		api.AssertIsBoolean(c.OutActive[i])
		api.AssertIsEqual(api.Mul(api.Sub(1, c.OutActive[i]), c.OutValues[i]), 0)
	}
}

// OwnerKey derives the public key of the spend key over the twisted edwards
// companion curve. Every spent note commitment is recomputed with this key,
// which is what makes the membership check double as spend authorization.
func (c Circuit) OwnerKey(api frontend.API) (frontend.Variable, frontend.Variable) {
	curve, err := twistededwards.NewEdCurve(api, tedwards.BLS12_377)
	if err != nil {
		circuits.FrontendError(api, "failed to create twisted edwards curve", err)
	}
	base := twistededwards.Point{X: curve.Params().Base[0], Y: curve.Params().Base[1]}
	owner := curve.ScalarMul(base, c.SpendKey)
	return owner.X, owner.Y
}

// VerifySpentNotes recomputes the commitment of every active spent note,
// checks its membership in the commitment tree and binds the declared
// nullifier to it. Inactive slots skip the membership check and must declare
// a zero nullifier.
func (c Circuit) VerifySpentNotes(api frontend.API, ownerX, ownerY frontend.Variable) {
	for i := 0; i < circuits.InputsPerTransfer; i++ {
		cmIn, err := HashFn(api, ownerX, ownerY, c.InValues[i], c.InSalts[i])
		if err != nil {
			circuits.FrontendError(api, "failed to hash spent note commitment", err)
		}
		leafHash := smt.Hash1(api, HashFn, c.InLeafIndexes[i], cmIn)
		smt.VerifierWithLeafHash(api, HashFn,
			c.InActive[i],
			c.Statement.Root,
			c.InSiblings[i][:],
			c.InLeafIndexes[i],
			leafHash,
			0,
			c.InLeafIndexes[i],
			leafHash,
			0, // inclusion
		)
		nf, err := HashFn(api, cmIn, c.SpendKey)
		if err != nil {
			circuits.FrontendError(api, "failed to hash nullifier", err)
		}
		api.AssertIsEqual(c.Statement.Nullifiers[i], api.Select(c.InActive[i], nf, 0))
	}
	// active slots must spend distinct notes
	for i := 0; i < circuits.InputsPerTransfer; i++ {
		for j := i + 1; j < circuits.InputsPerTransfer; j++ {
			bothActive := api.Mul(c.InActive[i], c.InActive[j])
			sameNullifier := api.IsZero(api.Sub(c.Statement.Nullifiers[i], c.Statement.Nullifiers[j]))
			api.AssertIsEqual(api.Mul(bothActive, sameNullifier), 0)
		}
	}
}

// VerifyCreatedNotes recomputes the commitment of every active created note
// and asserts it matches the declared one. Inactive slots must declare a zero
// commitment.
func (c Circuit) VerifyCreatedNotes(api frontend.API) {
	for i := 0; i < circuits.OutputsPerTransfer; i++ {
		cmOut, err := HashFn(api, c.OutOwnerX[i], c.OutOwnerY[i], c.OutValues[i], c.OutSalts[i])
		if err != nil {
			circuits.FrontendError(api, "failed to hash created note commitment", err)
		}
		api.AssertIsEqual(c.Statement.Commitments[i], api.Select(c.OutActive[i], cmOut, 0))
	}
}

// VerifyConservation range checks every amount and asserts that spent value
// plus minted value equals created value plus the fee. The range checks keep
// the sums far below the field modulus, so the equation cannot be satisfied
// by wrapping around it.
func (c Circuit) VerifyConservation(api frontend.API) {
	api.ToBinary(c.Statement.Minted, circuits.ValueBits)
	api.ToBinary(c.Statement.Fee, circuits.ValueBits)
	sumIn := c.Statement.Minted
	for i := range c.InValues {
		api.ToBinary(c.InValues[i], circuits.ValueBits)
		sumIn = api.Add(sumIn, c.InValues[i])
	}
	sumOut := c.Statement.Fee
	for i := range c.OutValues {
		api.ToBinary(c.OutValues[i], circuits.ValueBits)
		sumOut = api.Add(sumOut, c.OutValues[i])
	}
	api.AssertIsEqual(sumIn, sumOut)
}

// VerifyTransferHash recomputes the statement hash and asserts it matches the
// public input.
func (c Circuit) VerifyTransferHash(api frontend.API) {
	hash, err := HashFn(api, c.Statement.Serialize()...)
	if err != nil {
		circuits.FrontendError(api, "failed to hash statement", err)
	}
	api.AssertIsEqual(c.TransferHash, hash)
}
