package service

import (
	"context"

	"github.com/veilpay/rollup/log"
	"github.com/veilpay/rollup/settlement"
	"github.com/veilpay/rollup/state"
	"github.com/veilpay/rollup/storage"
	"github.com/veilpay/rollup/verifier"
)

// VerifierService represents a service that validates committed batches
// against its own replica of the ledger and hands the accepted ones to
// settlement.
type VerifierService struct {
	verifier *verifier.Verifier
}

// NewVerifier creates a new verifier instance over the given replica store.
// The replica must live in its own database, the verifier advances it
// batch by batch as validation succeeds. Settlement records are kept in the
// shared storage through the journal.
func NewVerifier(stg *storage.Storage, replica *state.Store, cfg verifier.Config) *VerifierService {
	v, err := verifier.New(stg, replica, settlement.NewJournal(stg), cfg)
	if err != nil {
		log.Fatalf("failed to create verifier: %v", err)
	}
	return &VerifierService{
		verifier: v,
	}
}

// Start begins the batch validation service. It returns an error if the
// service is already running.
func (vs *VerifierService) Start(ctx context.Context) error {
	return vs.verifier.Start(ctx)
}

// Stop halts the batch validation service.
func (vs *VerifierService) Stop() {
	if err := vs.verifier.Stop(); err != nil {
		log.Warnw("verifier service stopped", "error", err)
	}
}
