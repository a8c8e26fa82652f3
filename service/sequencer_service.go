package service

import (
	"context"

	"github.com/veilpay/rollup/log"
	"github.com/veilpay/rollup/sequencer"
	"github.com/veilpay/rollup/state"
	"github.com/veilpay/rollup/storage"
)

// SequencerService represents a service that handles background transfer
// admission and round processing.
type SequencerService struct {
	sequencer *sequencer.Sequencer
}

// NewSequencer creates a new sequencer instance. It screens submitted
// transfers, collects the admitted ones into rounds, folds each round into a
// single batch proof and appends the batch to the ledger. The round deadline
// in cfg defines how long a round can wait before it is closed short of a
// full batch.
func NewSequencer(stg *storage.Storage, ledger *state.Store, cfg sequencer.Config) *SequencerService {
	s, err := sequencer.New(stg, ledger, cfg)
	if err != nil {
		log.Fatalf("failed to create sequencer: %v", err)
	}
	return &SequencerService{
		sequencer: s,
	}
}

// Start begins the transfer processing service. It returns an error if the
// service is already running.
func (ss *SequencerService) Start(ctx context.Context) error {
	return ss.sequencer.Start(ctx)
}

// Stop halts the transfer processing service.
func (ss *SequencerService) Stop() {
	if err := ss.sequencer.Stop(); err != nil {
		log.Warnw("sequencer service stopped", "error", err)
	}
}
