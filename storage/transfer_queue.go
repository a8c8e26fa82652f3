package storage

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/veilpay/rollup/log"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

// PushTransfer stores a submitted transfer into the pending queue. The key
// is derived from the artifact itself, so resubmitting the same transfer
// overwrites the previous copy instead of queueing a duplicate.
func (s *Storage) PushTransfer(t *TransferRequest) error {
	val, err := encodeArtifact(t)
	if err != nil {
		return fmt.Errorf("encode transfer: %w", err)
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), transferPrefix)
	key := hashKey(val)
	if err := wTx.Set(key, val); err != nil {
		wTx.Discard()
		return err
	}
	return wTx.Commit()
}

// NextTransfer returns the next non-reserved submitted transfer, creates a
// reservation, and returns it along with its queue key. It returns
// ErrNoMoreElements when every pending transfer is drained or reserved. The
// key is handed back through MarkTransferVerified or MarkTransferRejected
// once admission has screened the transfer.
func (s *Storage) NextTransfer() (*TransferRequest, []byte, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	pr := prefixeddb.NewPrefixedReader(s.db, transferPrefix)
	var chosenKey, chosenVal []byte
	if err := pr.Iterate(nil, func(k, v []byte) bool {
		// check if reserved
		if s.isReserved(transferReservPrefix, k) {
			return true
		}
		chosenKey = k
		chosenVal = v
		return false
	}); err != nil {
		return nil, nil, fmt.Errorf("iterate transfers: %w", err)
	}
	if chosenVal == nil {
		return nil, nil, ErrNoMoreElements
	}

	var t TransferRequest
	if err := decodeArtifact(chosenVal, &t); err != nil {
		return nil, nil, fmt.Errorf("decode transfer: %w", err)
	}

	// set reservation
	if err := s.setReservation(transferReservPrefix, chosenKey); err != nil {
		return nil, nil, ErrNoMoreElements
	}

	return &t, chosenKey, nil
}

// MarkTransferVerified moves a screened transfer from the pending queue to
// the verified queue, stamping it with the next arrival sequence number. The
// verified queue is keyed by that number, so draining it yields arrival
// order.
func (s *Storage) MarkTransferVerified(k []byte, vt *VerifiedTransfer) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	// remove reservation
	if err := s.deleteArtifact(transferReservPrefix, k); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete reservation: %w", err)
	}

	// remove from pending queue
	if err := s.deleteArtifact(transferPrefix, k); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete pending transfer: %w", err)
	}

	seq, err := s.nextTransferSeq()
	if err != nil {
		return fmt.Errorf("assign arrival sequence: %w", err)
	}
	vt.Seq = seq

	// store verified transfer
	val, err := encodeArtifact(vt)
	if err != nil {
		return fmt.Errorf("encode verified transfer: %w", err)
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), verifiedPrefix)
	if err := wTx.Set(seqKey(seq), val); err != nil {
		wTx.Discard()
		return err
	}
	return wTx.Commit()
}

// CountPendingTransfers returns the number of submitted transfers waiting
// for admission, reserved ones included.
func (s *Storage) CountPendingTransfers() int {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	rd := prefixeddb.NewPrefixedReader(s.db, transferPrefix)
	count := 0
	if err := rd.Iterate(nil, func(_, _ []byte) bool {
		count++
		return true
	}); err != nil {
		log.Warnw("failed to count pending transfers", "error", err.Error())
	}
	return count
}

// MarkTransferRejected drops a transfer that failed admission from the
// pending queue.
func (s *Storage) MarkTransferRejected(k []byte) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	if err := s.deleteArtifact(transferReservPrefix, k); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete reservation: %w", err)
	}
	if err := s.deleteArtifact(transferPrefix, k); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete pending transfer: %w", err)
	}
	return nil
}

// PullVerifiedTransfers returns up to maxCount non-reserved verified
// transfers in arrival order and creates reservations for them. If none are
// available, returns ErrNotFound.
func (s *Storage) PullVerifiedTransfers(maxCount int) ([]*VerifiedTransfer, [][]byte, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	if maxCount == 0 {
		return []*VerifiedTransfer{}, nil, nil
	}

	rd := prefixeddb.NewPrefixedReader(s.db, verifiedPrefix)
	var res []*VerifiedTransfer
	var keys [][]byte
	if err := rd.Iterate(nil, func(k, v []byte) bool {
		if maxCount > 0 && len(res) >= maxCount {
			return false
		}
		// Skip if already reserved
		if s.isReserved(verifiedReservPrefix, k) {
			return true
		}
		var vt VerifiedTransfer
		if err := decodeArtifact(v, &vt); err != nil {
			log.Warnw("failed to decode verified transfer", "key", hex.EncodeToString(k), "error", err.Error())
			return true
		}
		// Set reservation before adding to results
		if err := s.setReservation(verifiedReservPrefix, k); err != nil {
			log.Warnw("failed to set reservation for verified transfer", "key", hex.EncodeToString(k), "error", err.Error())
			return true
		}
		// Make a copy of the key to avoid any potential modification
		keyCopy := make([]byte, len(k))
		copy(keyCopy, k)
		res = append(res, &vt)
		keys = append(keys, keyCopy)
		return true
	}); err != nil {
		return nil, nil, fmt.Errorf("iterate verified transfers: %w", err)
	}

	// Return ErrNotFound if we found no transfers at all
	if len(res) == 0 {
		return nil, nil, ErrNotFound
	}

	return res, keys, nil
}

// CountVerifiedTransfers returns the number of verified transfers waiting
// for a round, reserved ones included.
func (s *Storage) CountVerifiedTransfers() int {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	rd := prefixeddb.NewPrefixedReader(s.db, verifiedPrefix)
	count := 0
	if err := rd.Iterate(nil, func(_, _ []byte) bool {
		count++
		return true
	}); err != nil {
		log.Warnw("failed to count verified transfers", "error", err.Error())
	}
	return count
}

// MarkVerifiedTransferDone removes the reservation and the verified transfer
// once a round has folded it into a committed batch, or dropped it.
func (s *Storage) MarkVerifiedTransferDone(k []byte) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	// remove reservation
	if err := s.deleteArtifact(verifiedReservPrefix, k); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete verified transfer reservation: %w", err)
	}

	// remove from verified queue
	if err := s.deleteArtifact(verifiedPrefix, k); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete verified transfer: %w", err)
	}

	return nil
}

// ReleaseVerifiedTransfer removes only the reservation, returning the
// transfer to the queue. Rounds that fail before commit release their
// survivors so the next round picks them up again.
func (s *Storage) ReleaseVerifiedTransfer(k []byte) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	if err := s.deleteArtifact(verifiedReservPrefix, k); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete verified transfer reservation: %w", err)
	}
	return nil
}
