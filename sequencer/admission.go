package sequencer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	stdgroth16 "github.com/consensys/gnark/std/recursion/groth16"
	"github.com/veilpay/rollup/circuits"
	"github.com/veilpay/rollup/circuits/aggregator"
	"github.com/veilpay/rollup/log"
	"github.com/veilpay/rollup/storage"
	"github.com/veilpay/rollup/types"
)

// startAdmissionProcessor starts the background goroutine that screens
// submitted transfers. Transfers that pass move to the verified queue with an
// arrival number, the rest are dropped with a warning.
func (s *Sequencer) startAdmissionProcessor() error {
	const tickInterval = time.Second
	ticker := time.NewTicker(tickInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			default:
				req, key, err := s.stg.NextTransfer()
				if err != nil {
					if !errors.Is(err, storage.ErrNoMoreElements) {
						log.Errorw(err, "failed to get next transfer")
					}
					// wait for the next tick to avoid busy waiting
					select {
					case <-s.ctx.Done():
						return
					case <-ticker.C:
					}
					continue
				}

				startTime := time.Now()
				hash, err := s.screenTransfer(req)
				if err != nil {
					log.Warnw("transfer rejected at admission",
						"transfer", hex.EncodeToString(key),
						"reason", err.Error())
					if err := s.stg.MarkTransferRejected(key); err != nil {
						log.Errorw(err, "failed to mark transfer rejected")
					}
					continue
				}

				vt := &storage.VerifiedTransfer{
					TransferHash: (*types.BigInt)(hash),
					Root:         req.Root,
					Minted:       req.Minted,
					Fee:          req.Fee,
					Nullifiers:   req.Nullifiers,
					Commitments:  req.Commitments,
					Proof:        req.Proof,
				}
				if err := s.stg.MarkTransferVerified(key, vt); err != nil {
					log.Errorw(err, "failed to move transfer to verified queue")
					continue
				}

				log.Debugw("transfer admitted",
					"transferHash", hash.String(),
					"seq", vt.Seq,
					"duration", time.Since(startTime).String())
			}
		}
	}()
	return nil
}

// screenTransfer runs the admission checks on a submitted transfer and
// returns its recomputed statement hash. The inner proof is verified against
// that hash, so every declared statement value is bound by the proof; the
// declared root is accepted as-is here and checked against the round root
// during folding. The deposit ticket of a minting transfer is consumed last,
// once everything else passed.
func (s *Sequencer) screenTransfer(req *storage.TransferRequest) (*big.Int, error) {
	st, err := req.Statement()
	if err != nil {
		return nil, fmt.Errorf("malformed transfer: %w", err)
	}
	for i, nf := range st.Nullifiers {
		if nf.Sign() == 0 {
			continue // sentinel slot, nothing is spent
		}
		for j := i + 1; j < len(st.Nullifiers); j++ {
			if nf.Cmp(st.Nullifiers[j]) == 0 {
				return nil, fmt.Errorf("transfer spends nullifier %s twice", nf.String())
			}
		}
		spent, err := s.ledger.HasNullifier(nf)
		if err != nil {
			return nil, fmt.Errorf("failed to check nullifier: %w", err)
		}
		if spent {
			return nil, fmt.Errorf("nullifier %s is already spent", nf.String())
		}
	}

	minting := st.Minted.Sign() > 0
	if minting {
		if !s.cfg.AllowSupplyChanges {
			return nil, fmt.Errorf("minting transfers are not accepted")
		}
		if len(req.DepositID) == 0 {
			return nil, fmt.Errorf("minting transfer carries no deposit ticket")
		}
	}

	hash := circuits.TransferHash(st)
	proof, err := circuits.DecodeProof(ecc.BLS12_377, req.Proof)
	if err != nil {
		return nil, fmt.Errorf("failed to decode transfer proof: %w", err)
	}
	pubWitness, err := aggregator.TransferPublicWitness(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to build public witness: %w", err)
	}
	if err := groth16.Verify(proof, s.transferVk, pubWitness,
		stdgroth16.GetNativeVerifierOptions(ecc.BW6_761.ScalarField(),
			ecc.BLS12_377.ScalarField()),
	); err != nil {
		return nil, fmt.Errorf("transfer proof does not verify: %w", err)
	}

	if minting {
		if err := s.stg.ConsumeDeposit(req.DepositID, st.Minted); err != nil {
			return nil, fmt.Errorf("deposit ticket rejected: %w", err)
		}
	}
	return hash, nil
}
