package circuits

import (
	"math/big"

	"github.com/consensys/gnark/frontend"
	"github.com/veilpay/rollup/types"
)

// Statement contains the values bound by a single transfer proof. It is a
// generic struct used with native big.Int values on the prover and verifier
// side and with frontend.Variable values inside the transfer circuit, so both
// sides share the serialization order. The transfer hash, the only public
// input of the transfer circuit, is the MiMC hash of the serialized
// statement.
type Statement[T any] struct {
	Root        T
	Minted      T
	Fee         T
	Nullifiers  [types.InputsPerTransfer]T
	Commitments [types.OutputsPerTransfer]T
}

// Serialize returns the statement values in the fixed order hashed to produce
// the transfer hash:
//
//	Root
//	Minted
//	Fee
//	Nullifiers
//	Commitments
func (s Statement[T]) Serialize() []T {
	list := []T{s.Root, s.Minted, s.Fee}
	list = append(list, s.Nullifiers[:]...)
	list = append(list, s.Commitments[:]...)
	return list
}

var _ types.Serializer[*big.Int] = Statement[*big.Int]{}

// Vars converts a native statement into its in-circuit form.
func (s Statement[T]) Vars() Statement[frontend.Variable] {
	vars := Statement[frontend.Variable]{
		Root:   s.Root,
		Minted: s.Minted,
		Fee:    s.Fee,
	}
	for i := range s.Nullifiers {
		vars.Nullifiers[i] = s.Nullifiers[i]
	}
	for i := range s.Commitments {
		vars.Commitments[i] = s.Commitments[i]
	}
	return vars
}
