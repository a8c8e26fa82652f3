// Package sequencer turns submitted transfers into committed batches. An
// admission loop screens client submissions into the verified queue, and a
// round loop drains that queue through the Collecting, Ordering, Folding and
// Committed phases, producing one outer proof and one ledger transition per
// round.
package sequencer

import (
	"context"
	"fmt"
	"time"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/veilpay/rollup/circuits/aggregator"
	"github.com/veilpay/rollup/circuits/transfer"
	"github.com/veilpay/rollup/crypto/ethereum"
	"github.com/veilpay/rollup/log"
	"github.com/veilpay/rollup/state"
	"github.com/veilpay/rollup/storage"
)

// Config tunes the sequencer.
type Config struct {
	// RoundDeadline is the maximum age of the Collecting window before a
	// non-empty round is closed without being full.
	RoundDeadline time.Duration
	// Signer attests committed batches. Optional; without it batches carry
	// no attestation.
	Signer *ethereum.SignKeys
	// AllowSupplyChanges admits transfers that mint against a deposit
	// ticket. Without it any transfer declaring a mint is rejected.
	AllowSupplyChanges bool
}

// Sequencer is the worker that admits transfers and aggregates them into
// batches. There is at most one round in flight: the round loop is the only
// caller of the ledger's append.
type Sequencer struct {
	stg    *storage.Storage
	ledger *state.Store
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	transferVk   groth16.VerifyingKey        // key to screen inner proofs
	aggregateCcs constraint.ConstraintSystem // constraint system for batch proofs
	aggregatePk  groth16.ProvingKey          // key for generating batch proofs
}

// New creates a new Sequencer instance over the given storage and ledger.
// It loads (or compiles) all circuit artifacts needed for proof verification
// and batch proof generation, which on a cold cache takes a while.
func New(stg *storage.Storage, ledger *state.Store, cfg Config) (*Sequencer, error) {
	if stg == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if cfg.RoundDeadline <= 0 {
		return nil, fmt.Errorf("round deadline must be positive")
	}

	if err := transfer.Artifacts.LoadAll(); err != nil {
		return nil, fmt.Errorf("failed to load transfer artifacts: %w", err)
	}
	if err := aggregator.Artifacts.LoadAll(); err != nil {
		return nil, fmt.Errorf("failed to load aggregator artifacts: %w", err)
	}

	log.Debugw("sequencer initialized",
		"roundDeadline", cfg.RoundDeadline.String(),
		"allowSupplyChanges", cfg.AllowSupplyChanges,
	)

	return &Sequencer{
		stg:          stg,
		ledger:       ledger,
		cfg:          cfg,
		transferVk:   transfer.Artifacts.VerifyingKey(),
		aggregateCcs: aggregator.Artifacts.CircuitDefinition(),
		aggregatePk:  aggregator.Artifacts.ProvingKey(),
	}, nil
}

// Start begins the admission and round processing routines. It creates a new
// context derived from the provided one and starts the background goroutines.
func (s *Sequencer) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("context cannot be nil")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.startAdmissionProcessor(); err != nil {
		s.cancel()
		return fmt.Errorf("failed to start admission processor: %w", err)
	}

	if err := s.startRoundProcessor(); err != nil {
		s.cancel()
		return fmt.Errorf("failed to start round processor: %w", err)
	}

	log.Infow("sequencer started successfully")
	return nil
}

// Stop gracefully shuts down the sequencer by canceling its context. A round
// already past Collecting still runs to completion. It's safe to call Stop
// multiple times.
func (s *Sequencer) Stop() error {
	if s.cancel != nil {
		s.cancel()
		log.Infow("sequencer stopped")
	}
	return nil
}
