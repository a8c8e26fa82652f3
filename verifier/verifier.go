// Package verifier validates committed batches independently of the
// sequencer. It re-derives every statement from the batch contents, checks
// the outer proof against its own verifying key and tracks the root chain on
// a private replica of the commitment store, so a batch is only accepted if
// its declared transition actually follows from its effects. Accepted batches
// are handed to the settlement collaborator.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/consensys/gnark/backend/groth16"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/veilpay/rollup/circuits/aggregator"
	"github.com/veilpay/rollup/log"
	"github.com/veilpay/rollup/settlement"
	"github.com/veilpay/rollup/state"
	"github.com/veilpay/rollup/storage"
)

// Config tunes the verifier.
type Config struct {
	// Operator is the address expected to have attested the batches. The
	// zero address disables the attestation check.
	Operator ethcommon.Address
}

// Verifier validates batches and extends its replica chain with the accepted
// ones. It reads batches from storage and writes verdicts back, but it never
// touches the sequencer's commitment store: the replica is its own.
type Verifier struct {
	stg     *storage.Storage
	replica *state.Store
	settler settlement.Finalizer
	cfg     Config
	ctx     context.Context
	cancel  context.CancelFunc

	aggregateVk groth16.VerifyingKey
}

// New creates a Verifier over the given storage, replica store and settlement
// collaborator. The replica must be opened over its own database with the
// same tree depth as the sequencer's store, or the derived roots cannot
// match.
func New(stg *storage.Storage, replica *state.Store, settler settlement.Finalizer, cfg Config) (*Verifier, error) {
	if stg == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if replica == nil {
		return nil, fmt.Errorf("replica store cannot be nil")
	}
	if settler == nil {
		return nil, fmt.Errorf("settlement collaborator cannot be nil")
	}
	if err := aggregator.Artifacts.LoadAll(); err != nil {
		return nil, fmt.Errorf("failed to load aggregator artifacts: %w", err)
	}
	log.Debugw("verifier initialized",
		"replicaSeq", replica.Seq(),
		"operator", cfg.Operator.Hex(),
	)
	return &Verifier{
		stg:         stg,
		replica:     replica,
		settler:     settler,
		cfg:         cfg,
		aggregateVk: aggregator.Artifacts.VerifyingKey(),
	}, nil
}

// Start begins the background routine that validates committed batches in
// sequence order.
func (v *Verifier) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("context cannot be nil")
	}
	v.ctx, v.cancel = context.WithCancel(ctx)

	if err := v.startValidationProcessor(); err != nil {
		v.cancel()
		return fmt.Errorf("failed to start validation processor: %w", err)
	}

	log.Infow("verifier started successfully")
	return nil
}

// Stop gracefully shuts down the verifier. It's safe to call multiple times.
func (v *Verifier) Stop() error {
	if v.cancel != nil {
		v.cancel()
		log.Infow("verifier stopped")
	}
	return nil
}

// startValidationProcessor starts the goroutine that walks the batch store in
// ascending sequence order and validates every batch without a verdict yet.
// A batch whose validation fails transiently keeps its slot and is retried on
// a later tick; the chain never advances past it.
func (v *Verifier) startValidationProcessor() error {
	const tickInterval = time.Second
	ticker := time.NewTicker(tickInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-v.ctx.Done():
				return
			case <-ticker.C:
				seqs, err := v.stg.ListBatches()
				if err != nil {
					log.Errorw(err, "failed to list batches")
					continue
				}
				for _, seq := range seqs {
					if _, err := v.stg.Verdict(seq); err == nil {
						continue
					} else if !errors.Is(err, storage.ErrNotFound) {
						log.Errorw(err, "failed to read verdict")
						break
					}
					batch, err := v.stg.Batch(seq)
					if err != nil {
						log.Errorw(err, "failed to read batch")
						break
					}
					startTime := time.Now()
					verdict, err := v.Validate(v.ctx, batch)
					if err != nil {
						log.Warnw("batch validation did not complete",
							"seq", seq, "error", err.Error())
						break
					}
					log.Debugw("batch validated",
						"seq", seq,
						"code", string(verdict.Code),
						"duration", time.Since(startTime).String())
				}
			}
		}
	}()
	return nil
}
