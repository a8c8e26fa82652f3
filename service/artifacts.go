package service

import (
	"context"
	"time"

	"github.com/veilpay/rollup/circuits/aggregator"
	"github.com/veilpay/rollup/circuits/transfer"
	"golang.org/x/sync/errgroup"
)

// PrepareArtifacts loads all the circuit artifacts concurrently, compiling
// and caching them on first run. The sequencer and the verifier load the same
// artifacts at construction, preparing them up front keeps the long first
// compile out of the processing loops. The timeout only bounds the wait, a
// compile that is already running finishes and lands in the cache anyway.
func PrepareArtifacts(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		return transfer.Artifacts.LoadAll()
	})
	g.Go(func() error {
		return aggregator.Artifacts.LoadAll()
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
