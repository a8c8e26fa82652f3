// Package settlement hands accepted batches off to the settlement
// collaborator. The core never retries a failed hand-off indefinitely; it
// surfaces the failure to the caller.
package settlement

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/veilpay/rollup/log"
	"github.com/veilpay/rollup/storage"
)

// ErrMalformed is returned when the hand-off rejects the batch structurally.
// Callers treat it as a malformed batch and never retry it.
var ErrMalformed = errors.New("settlement rejected the batch structure")

// Finalizer consumes an accepted batch: its root transition, outer proof and
// ordered effect list. Implementations must be idempotent, so finalizing the
// same batch twice reports the first outcome.
type Finalizer interface {
	Finalize(ctx context.Context, batch *storage.Batch) error
}

// Journal is a local Finalizer that records finalized batches in the storage
// settlement journal. It stands in for an on-chain settlement contract: the
// digest recorded per batch is what such a contract would acknowledge.
type Journal struct {
	stg *storage.Storage
}

// NewJournal creates a journal-backed finalizer on top of the storage.
func NewJournal(stg *storage.Storage) *Journal {
	return &Journal{stg: stg}
}

// Finalize records the batch in the journal. Batches finalize in sequence
// order: each old root must extend the previously finalized new root.
// Structural defects, including out-of-order or conflicting repeats, fail
// with ErrMalformed.
func (j *Journal) Finalize(ctx context.Context, batch *storage.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if batch == nil || batch.OldRoot == nil || batch.NewRoot == nil ||
		len(batch.Proof) == 0 || len(batch.Transfers) == 0 {
		return ErrMalformed
	}
	digest, err := batch.Digest()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	// repeat of an already finalized batch: accept only the exact same one
	if rec, err := j.stg.Settlement(batch.Seq); err == nil {
		if !bytes.Equal(rec.Digest, digest) {
			return fmt.Errorf("%w: batch %d already finalized with a different digest", ErrMalformed, batch.Seq)
		}
		log.Debugw("batch already finalized", "seq", batch.Seq)
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("read settlement journal: %w", err)
	}

	if batch.Seq > 1 {
		prev, err := j.stg.Settlement(batch.Seq - 1)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: batch %d finalized out of order", ErrMalformed, batch.Seq)
			}
			return fmt.Errorf("read settlement journal: %w", err)
		}
		if !prev.NewRoot.Equal(batch.OldRoot) {
			return fmt.Errorf("%w: batch %d does not extend the finalized root", ErrMalformed, batch.Seq)
		}
	}

	rec := &storage.SettlementRecord{
		BatchSeq: batch.Seq,
		OldRoot:  batch.OldRoot,
		NewRoot:  batch.NewRoot,
		Digest:   digest,
	}
	if err := j.stg.SetSettlement(rec); err != nil {
		return fmt.Errorf("write settlement journal: %w", err)
	}
	log.Infow("batch finalized",
		"seq", batch.Seq,
		"newRoot", batch.NewRoot.String(),
		"digest", digest.String(),
	)
	return nil
}
