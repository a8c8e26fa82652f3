package storage

import (
	"fmt"
	"math/big"

	"github.com/veilpay/rollup/circuits"
	"github.com/veilpay/rollup/crypto/ethereum"
	"github.com/veilpay/rollup/types"
)

// TransferRequest is a transfer as submitted by a client: the serialized
// inner proof plus the statement values it claims to bind. Everything in it
// is untrusted until the admission loop has screened it.
type TransferRequest struct {
	Root        *types.BigInt   `json:"root"`
	Minted      *types.BigInt   `json:"minted"`
	Fee         *types.BigInt   `json:"fee"`
	Nullifiers  []*types.BigInt `json:"nullifiers"`
	Commitments []*types.BigInt `json:"commitments"`
	DepositID   types.HexBytes  `json:"depositId,omitempty"`
	Proof       types.HexBytes  `json:"proof"`
}

// Statement rebuilds the native statement the request declares. It fails if
// the request is structurally off (missing values or wrong slot counts).
func (t *TransferRequest) Statement() (circuits.Statement[*big.Int], error) {
	return statementFrom(t.Root, t.Minted, t.Fee, t.Nullifiers, t.Commitments)
}

// TransferHash recomputes the public input the inner proof must have been
// generated for, from the declared statement values.
func (t *TransferRequest) TransferHash() (*big.Int, error) {
	st, err := t.Statement()
	if err != nil {
		return nil, err
	}
	return circuits.TransferHash(st), nil
}

// VerifiedTransfer is a transfer that passed admission: statement hash
// recomputed, inner proof verified and nullifiers screened against the
// ledger. Seq is the arrival number assigned when it entered the verified
// queue; rounds order their batch by it.
type VerifiedTransfer struct {
	Seq          uint64          `json:"seq"`
	TransferHash *types.BigInt   `json:"transferHash"`
	Root         *types.BigInt   `json:"root"`
	Minted       *types.BigInt   `json:"minted"`
	Fee          *types.BigInt   `json:"fee"`
	Nullifiers   []*types.BigInt `json:"nullifiers"`
	Commitments  []*types.BigInt `json:"commitments"`
	Proof        types.HexBytes  `json:"proof"`
}

// Statement rebuilds the native statement of the verified transfer.
func (v *VerifiedTransfer) Statement() (circuits.Statement[*big.Int], error) {
	return statementFrom(v.Root, v.Minted, v.Fee, v.Nullifiers, v.Commitments)
}

// Effects returns the part of the transfer that ends up in the batch
// artifact and its settlement effect list.
func (v *VerifiedTransfer) Effects() *BatchTransfer {
	return &BatchTransfer{
		TransferHash: v.TransferHash,
		Minted:       v.Minted,
		Fee:          v.Fee,
		Nullifiers:   v.Nullifiers,
		Commitments:  v.Commitments,
	}
}

// BatchTransfer is one entry of a batch's ordered effect list.
type BatchTransfer struct {
	TransferHash *types.BigInt   `json:"transferHash"`
	Minted       *types.BigInt   `json:"minted"`
	Fee          *types.BigInt   `json:"fee"`
	Nullifiers   []*types.BigInt `json:"nullifiers"`
	Commitments  []*types.BigInt `json:"commitments"`
}

// Statement rebuilds the entry's statement against the root its round folded
// under, which is the old root of the enclosing batch.
func (e *BatchTransfer) Statement(root *types.BigInt) (circuits.Statement[*big.Int], error) {
	return statementFrom(root, e.Minted, e.Fee, e.Nullifiers, e.Commitments)
}

// Batch is a committed round: the outer proof over the folded transfers and
// the root transition it produced on the commitment tree.
type Batch struct {
	Seq            uint64           `json:"seq"`
	OldRoot        *types.BigInt    `json:"oldRoot"`
	NewRoot        *types.BigInt    `json:"newRoot"`
	BatchHash      *types.BigInt    `json:"batchHash"`
	ValidTransfers int              `json:"validTransfers"`
	Transfers      []*BatchTransfer `json:"transfers"`
	Proof          types.HexBytes   `json:"proof"`
	Attestation    types.HexBytes   `json:"attestation,omitempty"`
}

// Digest is the canonical identity of the batch: the keccak hash of its
// deterministic encoding with the attestation stripped, so the digest itself
// can be signed and the signature checked against it.
func (b *Batch) Digest() (types.HexBytes, error) {
	bare := *b
	bare.Attestation = nil
	data, err := encodeArtifact(&bare)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return ethereum.HashRaw(data), nil
}

// VerdictCode classifies the verifier's decision on a batch.
type VerdictCode string

const (
	VerdictAccept         VerdictCode = "accept"
	VerdictRootMismatch   VerdictCode = "root-mismatch"
	VerdictProofInvalid   VerdictCode = "proof-invalid"
	VerdictMalformedBatch VerdictCode = "malformed-batch"
)

// Verdict is the verifier's persisted decision for one batch.
type Verdict struct {
	BatchSeq uint64        `json:"batchSeq"`
	Code     VerdictCode   `json:"code"`
	Reason   string        `json:"reason,omitempty"`
	OldRoot  *types.BigInt `json:"oldRoot"`
	NewRoot  *types.BigInt `json:"newRoot"`
}

// Accepted reports whether the verdict authorizes settlement.
func (v *Verdict) Accepted() bool {
	return v.Code == VerdictAccept
}

// DepositTicket is a registered external deposit: a single-use authorization
// to mint the deposited amount to the depositor's owner key.
type DepositTicket struct {
	ID     types.HexBytes `json:"id"`
	OwnerX *types.BigInt  `json:"ownerX"`
	OwnerY *types.BigInt  `json:"ownerY"`
	Amount *types.BigInt  `json:"amount"`
	Nonce  types.HexBytes `json:"nonce"`
	Spent  bool           `json:"spent"`
}

// SettlementRecord marks a batch as finalized by the settlement collaborator.
type SettlementRecord struct {
	BatchSeq uint64         `json:"batchSeq"`
	OldRoot  *types.BigInt  `json:"oldRoot"`
	NewRoot  *types.BigInt  `json:"newRoot"`
	Digest   types.HexBytes `json:"digest"`
}

func statementFrom(root, minted, fee *types.BigInt, nullifiers, commitments []*types.BigInt) (circuits.Statement[*big.Int], error) {
	var st circuits.Statement[*big.Int]
	if root == nil || minted == nil || fee == nil {
		return st, fmt.Errorf("missing statement values")
	}
	if len(nullifiers) != types.InputsPerTransfer {
		return st, fmt.Errorf("expected %d nullifiers, got %d", types.InputsPerTransfer, len(nullifiers))
	}
	if len(commitments) != types.OutputsPerTransfer {
		return st, fmt.Errorf("expected %d commitments, got %d", types.OutputsPerTransfer, len(commitments))
	}
	st.Root = root.MathBigInt()
	st.Minted = minted.MathBigInt()
	st.Fee = fee.MathBigInt()
	for i, nf := range nullifiers {
		if nf == nil {
			return st, fmt.Errorf("nil nullifier at slot %d", i)
		}
		st.Nullifiers[i] = nf.MathBigInt()
	}
	for i, cm := range commitments {
		if cm == nil {
			return st, fmt.Errorf("nil commitment at slot %d", i)
		}
		st.Commitments[i] = cm.MathBigInt()
	}
	return st, nil
}
