package api

import (
	"github.com/veilpay/rollup/state"
	"github.com/veilpay/rollup/storage"
	"github.com/veilpay/rollup/types"
)

// SubmitTransferResponse is the response to a transfer submission. The hash
// identifies the transfer through admission, folding and batch inclusion.
type SubmitTransferResponse struct {
	TransferHash *types.BigInt `json:"transferHash"`
}

// LedgerRoot is the response to a ledger root request. Seq is the sequence of
// the last committed batch, LeafCount the number of appended commitments and
// Nullifiers the number of spent notes.
type LedgerRoot struct {
	Root       *types.BigInt `json:"root"`
	Seq        uint64        `json:"seq"`
	LeafCount  uint64        `json:"leafCount"`
	Nullifiers uint64        `json:"nullifiers"`
}

// LeafPath is the response to a membership path request.
type LeafPath struct {
	Index          uint64           `json:"index"`
	Key            types.HexBytes   `json:"key"`
	Value          types.HexBytes   `json:"value"`
	Root           types.HexBytes   `json:"root"`
	Siblings       []types.HexBytes `json:"siblings"`
	PackedSiblings types.HexBytes   `json:"packedSiblings"`
}

// leafPathFrom maps a tree membership path to its wire form.
func leafPathFrom(p *state.MembershipPath) *LeafPath {
	siblings := make([]types.HexBytes, len(p.Siblings))
	for i, s := range p.Siblings {
		siblings[i] = s
	}
	return &LeafPath{
		Index:          p.Index,
		Key:            p.Key,
		Value:          p.Value,
		Root:           p.Root,
		Siblings:       siblings,
		PackedSiblings: p.PackedSiblings,
	}
}

// MembershipPath converts the wire form back into a path that can be verified
// locally or assigned to a transfer witness.
func (p *LeafPath) MembershipPath() *state.MembershipPath {
	siblings := make([][]byte, len(p.Siblings))
	for i, s := range p.Siblings {
		siblings[i] = s
	}
	return &state.MembershipPath{
		Index:          p.Index,
		Key:            p.Key,
		Value:          p.Value,
		Root:           p.Root,
		Siblings:       siblings,
		PackedSiblings: p.PackedSiblings,
	}
}

// DepositRequest asks the operator to authorize minting Amount to the given
// owner key. The returned ticket must ride in the minting transfer request.
type DepositRequest struct {
	OwnerX *types.BigInt `json:"ownerX"`
	OwnerY *types.BigInt `json:"ownerY"`
	Amount *types.BigInt `json:"amount"`
}

// DepositList is the response to a deposit listing request.
type DepositList struct {
	Deposits []*storage.DepositTicket `json:"deposits"`
}

// BatchList is the response to a batch listing request, sequence numbers in
// ascending order.
type BatchList struct {
	Seqs []uint64 `json:"seqs"`
}

// BatchStatus is the response to a batch status request. Verdict and
// Settlement stay empty until the verifier has processed the batch.
type BatchStatus struct {
	*storage.Batch
	Verdict    *storage.Verdict          `json:"verdict,omitempty"`
	Settlement *storage.SettlementRecord `json:"settlement,omitempty"`
}
