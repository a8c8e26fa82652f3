package verifier

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/veilpay/rollup/circuits"
	"github.com/veilpay/rollup/circuits/aggregator"
	"github.com/veilpay/rollup/crypto/ethereum"
	"github.com/veilpay/rollup/log"
	"github.com/veilpay/rollup/settlement"
	"github.com/veilpay/rollup/state"
	"github.com/veilpay/rollup/storage"
)

const (
	finalizeAttempts = 3
	finalizeBackoff  = 200 * time.Millisecond
)

// batchContents holds everything Validate re-derived from the batch itself:
// the per-transfer statement hashes, the batch hash over them, and the flat
// effect lists in batch order.
type batchContents struct {
	hashes     []*big.Int
	leaves     []*big.Int
	nullifiers []*big.Int
	batchHash  *big.Int
}

// Validate checks one committed batch and persists the verdict. It is
// idempotent: a batch that has a verdict gets the stored one back, and
// re-validating a batch the replica already applied does not apply it again.
// Every statement is re-derived from the batch contents before the proof is
// checked against it, so a batch cannot claim effects its proof does not
// cover. A non-nil error means the validation could not complete and no
// verdict was stored; the caller retries later.
func (v *Verifier) Validate(ctx context.Context, batch *storage.Batch) (*storage.Verdict, error) {
	if batch == nil {
		return nil, fmt.Errorf("batch cannot be nil")
	}
	if verdict, err := v.stg.Verdict(batch.Seq); err == nil {
		log.Debugw("batch already has a verdict", "seq", batch.Seq, "code", string(verdict.Code))
		return verdict, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to read the verdict store: %w", err)
	}

	contents, reason := v.screenBatch(batch)
	if reason != nil {
		return v.reject(batch, storage.VerdictMalformedBatch, reason)
	}

	// chain position on the replica
	alreadyApplied := false
	replicaSeq := v.replica.Seq()
	switch {
	case batch.Seq <= replicaSeq:
		prevRoot, perr := v.replica.RootAt(batch.Seq - 1)
		appliedRoot, aerr := v.replica.RootAt(batch.Seq)
		if perr != nil || aerr != nil ||
			prevRoot.Cmp(batch.OldRoot.MathBigInt()) != 0 ||
			appliedRoot.Cmp(batch.NewRoot.MathBigInt()) != 0 {
			return v.reject(batch, storage.VerdictRootMismatch,
				fmt.Errorf("conflicts with the verified chain at sequence %d", batch.Seq))
		}
		alreadyApplied = true
	case batch.Seq > replicaSeq+1:
		return v.reject(batch, storage.VerdictRootMismatch,
			fmt.Errorf("sequence %d is ahead of the verified chain at %d", batch.Seq, replicaSeq))
	default:
		chainRoot, err := v.replica.RootAsBigInt()
		if err != nil {
			return nil, fmt.Errorf("failed to read the replica root: %w", err)
		}
		if chainRoot.Cmp(batch.OldRoot.MathBigInt()) != 0 {
			return v.reject(batch, storage.VerdictRootMismatch,
				fmt.Errorf("declared old root %s does not match the verified chain root %s",
					batch.OldRoot.String(), chainRoot.String()))
		}
		for _, nf := range contents.nullifiers {
			spent, err := v.replica.HasNullifier(nf)
			if err != nil {
				return nil, fmt.Errorf("failed to check nullifier: %w", err)
			}
			if spent {
				return v.reject(batch, storage.VerdictMalformedBatch,
					fmt.Errorf("nullifier %s is already spent", nf.String()))
			}
		}
		derivedRoot, err := v.replica.Preview(contents.leaves)
		if err != nil {
			if errors.Is(err, state.ErrTreeFull) {
				return v.reject(batch, storage.VerdictMalformedBatch,
					fmt.Errorf("batch does not fit the commitment tree"))
			}
			return nil, fmt.Errorf("failed to derive the new root: %w", err)
		}
		if derivedRoot.Cmp(batch.NewRoot.MathBigInt()) != 0 {
			return v.reject(batch, storage.VerdictRootMismatch,
				fmt.Errorf("declared new root %s does not follow from the batch effects, derived %s",
					batch.NewRoot.String(), derivedRoot.String()))
		}
	}

	// outer proof against the re-derived statement
	proof, err := circuits.DecodeProof(ecc.BW6_761, batch.Proof)
	if err != nil {
		return v.reject(batch, storage.VerdictMalformedBatch,
			fmt.Errorf("batch proof does not decode: %v", err))
	}
	pubWitness, err := aggregator.PublicWitness(contents.batchHash,
		aggregator.EncodeProofsSelector(batch.ValidTransfers))
	if err != nil {
		return nil, fmt.Errorf("failed to build the batch public witness: %w", err)
	}
	if err := groth16.Verify(proof, v.aggregateVk, pubWitness); err != nil {
		return v.reject(batch, storage.VerdictProofInvalid,
			fmt.Errorf("batch proof does not verify: %v", err))
	}

	// hand off to settlement before touching the replica, so an incomplete
	// run can always be retried from the same chain position. Finalize is
	// idempotent on the settlement side.
	var ferr error
	for attempt := 1; attempt <= finalizeAttempts; attempt++ {
		ferr = v.settler.Finalize(ctx, batch)
		if ferr == nil || errors.Is(ferr, settlement.ErrMalformed) {
			break
		}
		log.Warnw("settlement hand-off failed",
			"seq", batch.Seq, "attempt", attempt, "error", ferr.Error())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(finalizeBackoff):
		}
	}
	if errors.Is(ferr, settlement.ErrMalformed) {
		return v.reject(batch, storage.VerdictMalformedBatch,
			fmt.Errorf("settlement rejected the batch: %v", ferr))
	}
	if ferr != nil {
		return nil, fmt.Errorf("settlement hand-off failed after %d attempts: %w", finalizeAttempts, ferr)
	}

	if !alreadyApplied {
		transition, err := v.replica.AppendBatch(contents.leaves, contents.nullifiers)
		if err != nil {
			return nil, fmt.Errorf("failed to apply the batch to the replica: %w", err)
		}
		if transition.NewRoot.Cmp(batch.NewRoot.MathBigInt()) != 0 {
			panic(fmt.Sprintf("replica root %s does not match the previewed root %s",
				transition.NewRoot.String(), batch.NewRoot.String()))
		}
	}

	verdict := &storage.Verdict{
		BatchSeq: batch.Seq,
		Code:     storage.VerdictAccept,
		OldRoot:  batch.OldRoot,
		NewRoot:  batch.NewRoot,
	}
	if err := v.stg.SetVerdict(verdict); err != nil {
		return nil, fmt.Errorf("failed to store the verdict: %w", err)
	}
	log.Infow("batch accepted",
		"seq", batch.Seq,
		"transfers", batch.ValidTransfers,
		"newRoot", batch.NewRoot.String())
	return verdict, nil
}

// screenBatch runs every check that needs nothing but the batch itself,
// re-deriving the per-transfer hashes and the batch hash from the declared
// effects on the way.
func (v *Verifier) screenBatch(batch *storage.Batch) (*batchContents, error) {
	if batch.Seq == 0 {
		return nil, fmt.Errorf("batch sequence zero is the genesis state")
	}
	if batch.OldRoot == nil || batch.NewRoot == nil {
		return nil, fmt.Errorf("missing root transition")
	}
	if batch.BatchHash == nil {
		return nil, fmt.Errorf("missing batch hash")
	}
	if len(batch.Proof) == 0 {
		return nil, fmt.Errorf("missing batch proof")
	}
	if batch.ValidTransfers <= 0 || batch.ValidTransfers > circuits.TransfersPerBatch {
		return nil, fmt.Errorf("valid transfer count %d out of range", batch.ValidTransfers)
	}
	if len(batch.Transfers) != batch.ValidTransfers {
		return nil, fmt.Errorf("effect list holds %d transfers, the batch declares %d",
			len(batch.Transfers), batch.ValidTransfers)
	}

	contents := &batchContents{}
	seen := make(map[string]struct{})
	for i, entry := range batch.Transfers {
		st, err := entry.Statement(batch.OldRoot)
		if err != nil {
			return nil, fmt.Errorf("transfer %d: %v", i, err)
		}
		if entry.TransferHash == nil {
			return nil, fmt.Errorf("transfer %d is missing its hash", i)
		}
		hash := circuits.TransferHash(st)
		if hash.Cmp(entry.TransferHash.MathBigInt()) != 0 {
			return nil, fmt.Errorf("transfer %d hash does not match its contents", i)
		}
		contents.hashes = append(contents.hashes, hash)
		for _, nf := range st.Nullifiers {
			if nf.Sign() == 0 {
				continue
			}
			if _, dup := seen[nf.String()]; dup {
				return nil, fmt.Errorf("nullifier %s spent twice in the batch", nf.String())
			}
			seen[nf.String()] = struct{}{}
			contents.nullifiers = append(contents.nullifiers, nf)
		}
		for _, cm := range st.Commitments {
			if cm.Sign() != 0 {
				contents.leaves = append(contents.leaves, cm)
			}
		}
	}
	if len(contents.leaves) == 0 && len(contents.nullifiers) == 0 {
		return nil, fmt.Errorf("batch has no ledger effects")
	}

	contents.batchHash = circuits.BatchHash(
		batch.OldRoot.MathBigInt(), batch.NewRoot.MathBigInt(), contents.hashes)
	if contents.batchHash.Cmp(batch.BatchHash.MathBigInt()) != 0 {
		return nil, fmt.Errorf("declared batch hash does not match its contents")
	}

	if v.cfg.Operator != (ethcommon.Address{}) {
		if len(batch.Attestation) == 0 {
			return nil, fmt.Errorf("missing operator attestation")
		}
		digest, err := batch.Digest()
		if err != nil {
			return nil, fmt.Errorf("could not digest the batch: %v", err)
		}
		addr, err := ethereum.AddrFromSignature(digest, batch.Attestation)
		if err != nil {
			return nil, fmt.Errorf("attestation does not recover: %v", err)
		}
		if addr != v.cfg.Operator {
			return nil, fmt.Errorf("attested by %s, expected %s", addr.Hex(), v.cfg.Operator.Hex())
		}
	}
	return contents, nil
}

// reject persists and returns a rejecting verdict.
func (v *Verifier) reject(batch *storage.Batch, code storage.VerdictCode, reason error) (*storage.Verdict, error) {
	verdict := &storage.Verdict{
		BatchSeq: batch.Seq,
		Code:     code,
		Reason:   reason.Error(),
		OldRoot:  batch.OldRoot,
		NewRoot:  batch.NewRoot,
	}
	if err := v.stg.SetVerdict(verdict); err != nil {
		return nil, fmt.Errorf("failed to store the verdict: %w", err)
	}
	log.Warnw("batch rejected",
		"seq", batch.Seq,
		"code", string(code),
		"reason", reason.Error())
	return verdict, nil
}
