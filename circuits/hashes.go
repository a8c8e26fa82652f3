package circuits

import (
	"math/big"

	"github.com/veilpay/rollup/crypto"
)

// TransferHash calculates the public input of the transfer circuit for the
// provided statement, hashing its serialization over the BLS12-377 scalar
// field.
func TransferHash(s Statement[*big.Int]) *big.Int {
	return crypto.HashBLS12377(s.Serialize()...)
}

// BatchHash calculates the public input of the aggregator circuit, hashing
// the commitment tree transition and the transfer hashes of the batch over
// the BW6-761 scalar field. The hashes slice is padded with zeros up to
// TransfersPerBatch, matching the dummy slots of the aggregated proof.
func BatchHash(oldRoot, newRoot *big.Int, hashes []*big.Int) *big.Int {
	inputs := []*big.Int{oldRoot, newRoot}
	inputs = append(inputs, BigIntArrayToN(hashes, TransfersPerBatch)...)
	return crypto.HashBW6761(inputs...)
}
