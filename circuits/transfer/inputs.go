package transfer

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark/frontend"
	"github.com/vocdoni/arbo"
	"github.com/veilpay/rollup/circuits"
	"github.com/veilpay/rollup/crypto"
)

// SpentNote is the native witness of one spent note slot: the note opening,
// the leaf index where its commitment lives in the commitment tree and the
// unpacked merkle path to it.
type SpentNote struct {
	Note      *crypto.Note
	LeafIndex uint64
	Siblings  [][]byte
}

// Inputs contains the native values needed to build a transfer circuit
// assignment. The statement is derived from the notes themselves, so an
// assignment can never declare nullifiers or commitments that disagree with
// its private witness.
type Inputs struct {
	Root     *big.Int
	Minted   uint64
	Fee      uint64
	SpendKey *crypto.SpendKey
	In       []SpentNote
	Out      []*crypto.Note
}

// Statement derives the native statement of the transfer. Unused slots yield
// literal zero nullifiers and commitments.
func (in Inputs) Statement() (circuits.Statement[*big.Int], error) {
	st := circuits.Statement[*big.Int]{
		Root:   in.Root,
		Minted: new(big.Int).SetUint64(in.Minted),
		Fee:    new(big.Int).SetUint64(in.Fee),
	}
	if len(in.In) > circuits.InputsPerTransfer {
		return st, fmt.Errorf("too many spent notes: %d of %d", len(in.In), circuits.InputsPerTransfer)
	}
	if len(in.In) > 0 && in.SpendKey == nil {
		return st, fmt.Errorf("spending notes requires the spend key")
	}
	if len(in.Out) > circuits.OutputsPerTransfer {
		return st, fmt.Errorf("too many created notes: %d of %d", len(in.Out), circuits.OutputsPerTransfer)
	}
	for i := range st.Nullifiers {
		st.Nullifiers[i] = big.NewInt(0)
	}
	for i := range st.Commitments {
		st.Commitments[i] = big.NewInt(0)
	}
	for i, spent := range in.In {
		st.Nullifiers[i] = crypto.Nullifier(spent.Note.Commitment(), in.SpendKey)
	}
	for i, note := range in.Out {
		st.Commitments[i] = note.Commitment()
	}
	return st, nil
}

// Assignment builds the circuit assignment of the transfer, deriving the
// statement and the transfer hash on the way.
func (in Inputs) Assignment() (*Circuit, error) {
	st, err := in.Statement()
	if err != nil {
		return nil, err
	}
	// mint-only transfers spend nothing, so any scalar works as the key
	sk := big.NewInt(0)
	if in.SpendKey != nil {
		sk = in.SpendKey.BigInt()
	}
	assignment := &Circuit{
		TransferHash: circuits.TransferHash(st),
		Statement:    st.Vars(),
		SpendKey:     sk,
	}
	for i := 0; i < circuits.InputsPerTransfer; i++ {
		assignment.InActive[i] = 0
		assignment.InValues[i] = 0
		assignment.InSalts[i] = 0
		assignment.InLeafIndexes[i] = 0
		assignment.InSiblings[i] = padSiblings(nil)
	}
	for i := 0; i < circuits.OutputsPerTransfer; i++ {
		assignment.OutActive[i] = 0
		assignment.OutOwnerX[i] = 0
		assignment.OutOwnerY[i] = 0
		assignment.OutValues[i] = 0
		assignment.OutSalts[i] = 0
	}
	for i, spent := range in.In {
		assignment.InActive[i] = 1
		assignment.InValues[i] = spent.Note.Value
		assignment.InSalts[i] = spent.Note.Salt
		assignment.InLeafIndexes[i] = spent.LeafIndex
		assignment.InSiblings[i] = padSiblings(spent.Siblings)
	}
	for i, note := range in.Out {
		assignment.OutActive[i] = 1
		assignment.OutOwnerX[i] = note.Owner.X
		assignment.OutOwnerY[i] = note.Owner.Y
		assignment.OutValues[i] = note.Value
		assignment.OutSalts[i] = note.Salt
	}
	return assignment, nil
}

func padSiblings(unpackedSiblings [][]byte) [circuits.StateProofMaxLevels]frontend.Variable {
	paddedSiblings := [circuits.StateProofMaxLevels]frontend.Variable{}
	for i := range circuits.StateProofMaxLevels {
		if i < len(unpackedSiblings) {
			paddedSiblings[i] = arbo.BytesToBigInt(unpackedSiblings[i])
		} else {
			paddedSiblings[i] = big.NewInt(0)
		}
	}
	return paddedSiblings
}
