// storage package contains all the artifacts that are stored in the database,
// but also is an abstraction of a queue for the processing of them by the
// different services: the API pushes submitted transfers, the sequencer's
// admission loop moves them to the verified queue, batch rounds drain the
// verified queue into committed batches and the verifier rules a verdict per
// batch. The storage package includes a prefixed key-value store that allows
// to store the different types of artifacts in the database. The following
// prefixes are used:
//   - 'm/' for metadata (the transfer arrival counter)
//   - 'pt/' for submitted transfers (queued)
//   - 'vt/' for verified transfers (queued)
//   - 'b/' for committed batches
//   - 'vd/' for batch verdicts
//   - 'd/' for deposit tickets
//   - 'sj/' for settlement records
//
// Queued prefixes have a reservation companion prefix so an artifact handed
// to a worker is not handed out twice while it is being processed.
package storage

import (
	"errors"
	"sync"

	"go.vocdoni.io/dvote/db"
)

var (
	// Prefixes for the keys in the database.
	metaPrefix           = []byte("m/")
	transferPrefix       = []byte("pt/")
	transferReservPrefix = []byte("ptr/")
	verifiedPrefix       = []byte("vt/")
	verifiedReservPrefix = []byte("vtr/")
	batchPrefix          = []byte("b/")
	verdictPrefix        = []byte("vd/")
	depositPrefix        = []byte("d/")
	settlementPrefix     = []byte("sj/")

	// transferSeqKey is the metadata key of the arrival counter stamped on
	// verified transfers.
	transferSeqKey = []byte("transferseq")
)

const (
	// maxKeySize is the maximum size of the key in bytes. It is used to
	// generate the key of the artifacts stored in the database by truncating
	// the hash of the artifact itself.
	maxKeySize = 12
)

var (
	// ErrNotFound is returned when the requested artifact does not exist.
	ErrNotFound = errors.New("artifact not found")
	// ErrNoMoreElements is returned by the queue getters when every queued
	// artifact is drained or reserved.
	ErrNoMoreElements = errors.New("no more elements")
	// ErrDepositSpent is returned when consuming a deposit ticket twice.
	ErrDepositSpent = errors.New("deposit ticket already consumed")
	// ErrDepositAmount is returned when a mint does not match its ticket.
	ErrDepositAmount = errors.New("deposit ticket amount mismatch")
)

// Storage wraps the database and the lock that serializes queue reservations
// across services.
type Storage struct {
	db         db.Database
	globalLock sync.Mutex
}

// New creates a new Storage instance.
func New(db db.Database) *Storage {
	return &Storage{db: db}
}

// Close closes the storage.
func (s *Storage) Close() {
	s.db.Close()
}
