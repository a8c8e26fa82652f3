package crypto

import (
	"math/big"

	bls12377fr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	bls12377mimc "github.com/consensys/gnark-crypto/ecc/bls12-377/fr/mimc"
	bw6761fr "github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	bw6761mimc "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
)

// HashBLS12377 computes the MiMC hash of the inputs over the BLS12-377 scalar
// field. It matches the in-circuit MiMC of the transfer circuit, so a value
// hashed here equals the same hash recomputed inside a proof.
func HashBLS12377(inputs ...*big.Int) *big.Int {
	h := bls12377mimc.NewMiMC()
	for _, input := range inputs {
		var e bls12377fr.Element
		e.SetBigInt(input)
		b := e.Bytes()
		if _, err := h.Write(b[:]); err != nil {
			panic(err)
		}
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}

// HashBW6761 computes the MiMC hash of the inputs over the BW6-761 scalar
// field, matching the in-circuit MiMC of the batch aggregation circuit.
func HashBW6761(inputs ...*big.Int) *big.Int {
	h := bw6761mimc.NewMiMC()
	for _, input := range inputs {
		var e bw6761fr.Element
		e.SetBigInt(input)
		b := e.Bytes()
		if _, err := h.Write(b[:]); err != nil {
			panic(err)
		}
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}
