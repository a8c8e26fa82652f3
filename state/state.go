// Package state implements the commitment and nullifier store: an append-only
// merkle tree over note commitments plus the set of published nullifiers,
// both living in the same key-value database. AppendBatch is the only
// mutator and advances tree, nullifier set and root journal in one atomic
// transaction; everything else is a read.
//
// The store refuses to open if the persisted tree does not verify: every
// stored leaf must prove membership under the current root and the current
// root must match the last entry of the root journal.
package state

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	fr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/veilpay/rollup/crypto"
	"github.com/veilpay/rollup/log"
	"github.com/veilpay/rollup/types"
	"github.com/vocdoni/arbo"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

const (
	// size of the inclusion proofs
	MaxLevels = types.StateTreeMaxLevels
	// MaxKeyLen is ceil(MaxLevels/8)
	MaxKeyLen = (MaxLevels + 7) / 8
)

// HashFunc is the hash function used in the commitment tree. Its in-circuit
// counterpart is the MiMC hasher of the transfer circuit.
var HashFunc = arbo.HashMiMC_BLS12_377{}

var (
	// Prefixes for the keys in the database.
	treePrefix       = []byte("t/")
	nullifiersPrefix = []byte("n/")
	metaPrefix       = []byte("m/")
	rootsPrefix      = []byte("r/")

	leafCountKey = []byte("leafcount")
	seqKey       = []byte("seq")
)

// Store is the commitment and nullifier store.
type Store struct {
	db       db.Database
	tree     *arbo.Tree
	capacity uint64
	keyLen   int

	// mtx serializes AppendBatch and Preview, so at most one staged root
	// computation is in flight at a time.
	mtx       sync.Mutex
	leafCount uint64
	seq       uint64
}

// New creates or opens a Store in the passed database, using the protocol
// tree depth.
func New(database db.Database) (*Store, error) {
	return NewWithLevels(database, MaxLevels)
}

// NewWithLevels creates or opens a Store with a custom tree depth. Smaller
// depths keep the capacity low enough to exercise the tree-full behavior in
// tests; production stores use New.
func NewWithLevels(database db.Database, levels int) (*Store, error) {
	tree, err := arbo.NewTree(arbo.Config{
		Database:     prefixeddb.NewPrefixedDatabase(database, treePrefix),
		MaxLevels:    levels,
		HashFunction: HashFunc,
	})
	if err != nil {
		return nil, fmt.Errorf("could not open commitment tree: %w", err)
	}
	o := &Store{
		db:       database,
		tree:     tree,
		capacity: uint64(1) << uint(levels),
		keyLen:   (levels + 7) / 8,
	}
	if err := o.bootstrap(); err != nil {
		return nil, err
	}
	if err := o.verify(); err != nil {
		return nil, fmt.Errorf("commitment store did not pass startup verification: %w", err)
	}
	return o, nil
}

// bootstrap loads the persisted counters, seeding them and the genesis
// journal entry on first open.
func (o *Store) bootstrap() error {
	meta := prefixeddb.NewPrefixedReader(o.db, metaPrefix)
	count, err := meta.Get(leafCountKey)
	switch err {
	case nil:
		o.leafCount = binary.BigEndian.Uint64(count)
	case db.ErrKeyNotFound:
		o.leafCount = 0
	default:
		return err
	}
	seq, err := meta.Get(seqKey)
	switch err {
	case nil:
		o.seq = binary.BigEndian.Uint64(seq)
	case db.ErrKeyNotFound:
		o.seq = 0
	default:
		return err
	}
	// seed the genesis journal entry with the empty tree root
	if _, err := o.rootAt(0); err == db.ErrKeyNotFound {
		root, err := o.tree.Root()
		if err != nil {
			return err
		}
		wTx := prefixeddb.NewPrefixedWriteTx(o.db.WriteTx(), rootsPrefix)
		if err := wTx.Set(seqBytes(0), root); err != nil {
			wTx.Discard()
			return err
		}
		return wTx.Commit()
	} else if err != nil {
		return err
	}
	return nil
}

// verify re-checks the persisted state: the current root must equal the last
// journal entry and every stored leaf must prove membership under it. The
// cost is one log-sized proof per leaf.
func (o *Store) verify() error {
	root, err := o.tree.Root()
	if err != nil {
		return err
	}
	journalRoot, err := o.rootAt(o.seq)
	if err != nil {
		return fmt.Errorf("missing journal entry for batch %d: %w", o.seq, err)
	}
	if arbo.BytesToBigInt(root).Cmp(arbo.BytesToBigInt(journalRoot)) != 0 {
		return fmt.Errorf("tree root %x does not match journal root %x for batch %d",
			root, journalRoot, o.seq)
	}
	for i := uint64(0); i < o.leafCount; i++ {
		k := o.leafKey(i)
		leafK, leafV, packedSiblings, existence, err := o.tree.GenProof(k)
		if err != nil {
			return fmt.Errorf("could not prove leaf %d: %w", i, err)
		}
		if !existence {
			return fmt.Errorf("leaf %d is missing from the tree", i)
		}
		valid, err := arbo.CheckProof(HashFunc, leafK, leafV, root, packedSiblings)
		if err != nil {
			return fmt.Errorf("could not check leaf %d: %w", i, err)
		}
		if !valid {
			return fmt.Errorf("leaf %d does not hash to the current root", i)
		}
	}
	log.Debugw("commitment store verified", "leaves", o.leafCount, "batch", o.seq,
		"root", arbo.BytesToBigInt(root).String())
	return nil
}

// Close the database, no more operations can be done after this.
func (o *Store) Close() error {
	return o.db.Close()
}

// Root returns the current root of the commitment tree.
func (o *Store) Root() ([]byte, error) {
	return o.tree.Root()
}

// RootAsBigInt returns the current root of the commitment tree as a big.Int.
func (o *Store) RootAsBigInt() (*big.Int, error) {
	root, err := o.tree.Root()
	if err != nil {
		return nil, err
	}
	return arbo.BytesToBigInt(root), nil
}

// Seq returns the sequence number of the last committed batch, zero when no
// batch has been committed yet.
func (o *Store) Seq() uint64 {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	return o.seq
}

// LeafCount returns the number of note commitments appended so far.
func (o *Store) LeafCount() uint64 {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	return o.leafCount
}

// RootAt returns the root the tree had right after the batch with the given
// sequence number was committed. Sequence zero is the empty tree root. Fails
// with ErrNotFound for sequences that have not been committed.
func (o *Store) RootAt(seq uint64) (*big.Int, error) {
	root, err := o.rootAt(seq)
	if err == db.ErrKeyNotFound {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return arbo.BytesToBigInt(root), nil
}

func (o *Store) rootAt(seq uint64) ([]byte, error) {
	return prefixeddb.NewPrefixedReader(o.db, rootsPrefix).Get(seqBytes(seq))
}

// HasNullifier reports whether the nullifier has already been recorded.
func (o *Store) HasNullifier(nullifier *big.Int) (bool, error) {
	_, err := prefixeddb.NewPrefixedReader(o.db, nullifiersPrefix).Get(nullifierKey(nullifier))
	if err == db.ErrKeyNotFound {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

// NullifierCount returns the number of nullifiers recorded so far.
func (o *Store) NullifierCount() (uint64, error) {
	count := uint64(0)
	err := prefixeddb.NewPrefixedReader(o.db, nullifiersPrefix).Iterate(nil, func(_, _ []byte) bool {
		count++
		return true
	})
	return count, err
}

// leafKey returns the tree key of the leaf with the given append index.
func (o *Store) leafKey(index uint64) []byte {
	return arbo.BigIntToBytes(o.keyLen, new(big.Int).SetUint64(index))
}

// leafValue returns the tree value encoding of a note commitment.
func leafValue(commitment *big.Int) []byte {
	return arbo.BigIntToBytes(HashFunc.Len(), commitment)
}

// nullifierKey returns the canonical database key of a nullifier, its
// reduced big-endian field representation.
func nullifierKey(nullifier *big.Int) []byte {
	return crypto.BigIntToFFBytes(nullifier, fr.Modulus())
}

func seqBytes(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
