package storage

import (
	"encoding/binary"
	"fmt"

	"go.vocdoni.io/dvote/db/prefixeddb"
)

// PushBatch stores a committed batch keyed by its sequence number.
func (s *Storage) PushBatch(b *Batch) error {
	return s.setArtifact(batchPrefix, seqKey(b.Seq), b)
}

// Batch loads the batch committed at the given sequence. Returns ErrNotFound
// if no batch was committed there.
func (s *Storage) Batch(seq uint64) (*Batch, error) {
	b := &Batch{}
	if err := s.getArtifact(batchPrefix, seqKey(seq), b); err != nil {
		return nil, err
	}
	return b, nil
}

// ListBatches returns the sequence numbers of every committed batch in
// ascending order.
func (s *Storage) ListBatches() ([]uint64, error) {
	rd := prefixeddb.NewPrefixedReader(s.db, batchPrefix)
	var seqs []uint64
	if err := rd.Iterate(nil, func(k, _ []byte) bool {
		if len(k) == 8 {
			seqs = append(seqs, binary.BigEndian.Uint64(k))
		}
		return true
	}); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return seqs, nil
}

// SetVerdict persists the verifier's decision for a batch. Writing the same
// verdict twice is harmless, which keeps Validate idempotent.
func (s *Storage) SetVerdict(v *Verdict) error {
	return s.setArtifact(verdictPrefix, seqKey(v.BatchSeq), v)
}

// Verdict loads the verdict for a batch sequence. Returns ErrNotFound if the
// verifier has not ruled on it yet.
func (s *Storage) Verdict(seq uint64) (*Verdict, error) {
	v := &Verdict{}
	if err := s.getArtifact(verdictPrefix, seqKey(seq), v); err != nil {
		return nil, err
	}
	return v, nil
}

// SetSettlement records the settlement hand-off of an accepted batch.
func (s *Storage) SetSettlement(rec *SettlementRecord) error {
	return s.setArtifact(settlementPrefix, seqKey(rec.BatchSeq), rec)
}

// Settlement loads the settlement record of a batch sequence. Returns
// ErrNotFound if the batch has not been finalized.
func (s *Storage) Settlement(seq uint64) (*SettlementRecord, error) {
	rec := &SettlementRecord{}
	if err := s.getArtifact(settlementPrefix, seqKey(seq), rec); err != nil {
		return nil, err
	}
	return rec, nil
}
