package storage

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

// Artifact encoding/decoding
func encodeArtifact(a any) ([]byte, error) {
	encOpts := cbor.CoreDetEncOptions()
	em, err := encOpts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return em.Marshal(a)
}

func decodeArtifact(data []byte, out any) error {
	return cbor.Unmarshal(data, out)
}

func hashKey(data []byte) []byte {
	hash := sha256.Sum256(data)
	return hash[:maxKeySize]
}

// seqKey encodes a sequence number as a fixed-width big-endian key, so
// iterating a prefix keyed by it yields ascending sequence order.
func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func (s *Storage) isReserved(prefix, key []byte) bool {
	rd := prefixeddb.NewPrefixedReader(s.db, prefix)
	_, err := rd.Get(key)
	return err == nil
}

func (s *Storage) setReservation(prefix, key []byte) error {
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	if err := wTx.Set(key, []byte{1}); err != nil {
		wTx.Discard()
		return err
	}
	return wTx.Commit()
}

func (s *Storage) getArtifact(prefix, key []byte, out any) error {
	rd := prefixeddb.NewPrefixedReader(s.db, prefix)
	data, err := rd.Get(key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return decodeArtifact(data, out)
}

func (s *Storage) setArtifact(prefix, key []byte, a any) error {
	data, err := encodeArtifact(a)
	if err != nil {
		return err
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	if err := wTx.Set(key, data); err != nil {
		wTx.Discard()
		return err
	}
	return wTx.Commit()
}

func (s *Storage) deleteArtifact(prefix, key []byte) error {
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	if err := wTx.Delete(key); err != nil {
		wTx.Discard()
		if errors.Is(err, db.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return wTx.Commit()
}

// nextTransferSeq increments and persists the transfer arrival counter.
// Callers must hold the global lock.
func (s *Storage) nextTransferSeq() (uint64, error) {
	rd := prefixeddb.NewPrefixedReader(s.db, metaPrefix)
	var seq uint64
	if data, err := rd.Get(transferSeqKey); err == nil && len(data) == 8 {
		seq = binary.BigEndian.Uint64(data)
	}
	seq++
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), metaPrefix)
	if err := wTx.Set(transferSeqKey, seqKey(seq)); err != nil {
		wTx.Discard()
		return 0, err
	}
	if err := wTx.Commit(); err != nil {
		return 0, err
	}
	return seq, nil
}
