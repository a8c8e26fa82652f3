package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/veilpay/rollup/log"
	"github.com/vocdoni/arbo"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

var (
	// ErrDuplicateNullifier is returned by AppendBatch when a nullifier was
	// already recorded, either by a previous batch or earlier in the same
	// batch.
	ErrDuplicateNullifier = errors.New("nullifier already spent")
	// ErrTreeFull is returned by AppendBatch when the commitment tree has no
	// room left for the new leaves.
	ErrTreeFull = errors.New("commitment tree is full")
	// ErrNotFound is returned when a leaf index or batch sequence does not
	// exist in the store.
	ErrNotFound = errors.New("not found")
)

// Transition describes one committed batch: the journal sequence it was
// assigned, the roots before and after, and the index of its first new leaf.
type Transition struct {
	Seq       uint64
	OldRoot   *big.Int
	NewRoot   *big.Int
	FirstLeaf uint64
}

// AppendBatch appends the note commitments as new leaves and records the
// nullifiers as spent, all in a single database transaction. Leaves take
// consecutive indexes starting at the current leaf count. If any nullifier
// collides, or the leaves do not fit, nothing is written and the root does
// not move.
func (o *Store) AppendBatch(leaves, nullifiers []*big.Int) (*Transition, error) {
	o.mtx.Lock()
	defer o.mtx.Unlock()

	if len(leaves) == 0 && len(nullifiers) == 0 {
		return nil, fmt.Errorf("nothing to append")
	}
	if o.leafCount+uint64(len(leaves)) > o.capacity {
		return nil, ErrTreeFull
	}
	// check nullifiers against the committed set and within the batch before
	// touching the database
	seen := make(map[string]struct{}, len(nullifiers))
	committed := prefixeddb.NewPrefixedReader(o.db, nullifiersPrefix)
	for _, nf := range nullifiers {
		k := nullifierKey(nf)
		if _, ok := seen[string(k)]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNullifier, nf.String())
		}
		seen[string(k)] = struct{}{}
		if _, err := committed.Get(k); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNullifier, nf.String())
		} else if err != db.ErrKeyNotFound {
			return nil, err
		}
	}

	oldRoot, err := o.tree.Root()
	if err != nil {
		return nil, err
	}
	seq := o.seq + 1
	firstLeaf := o.leafCount

	wTx := o.db.WriteTx()
	defer wTx.Discard()

	treeTx := prefixeddb.NewPrefixedWriteTx(wTx, treePrefix)
	for i, cm := range leaves {
		if err := o.tree.AddWithTx(treeTx, o.leafKey(firstLeaf+uint64(i)), leafValue(cm)); err != nil {
			return nil, fmt.Errorf("could not add leaf %d: %w", firstLeaf+uint64(i), err)
		}
	}
	newRoot, err := o.tree.RootWithTx(treeTx)
	if err != nil {
		return nil, err
	}

	nfTx := prefixeddb.NewPrefixedWriteTx(wTx, nullifiersPrefix)
	for _, nf := range nullifiers {
		if err := nfTx.Set(nullifierKey(nf), seqBytes(seq)); err != nil {
			return nil, err
		}
	}

	metaTx := prefixeddb.NewPrefixedWriteTx(wTx, metaPrefix)
	if err := metaTx.Set(leafCountKey, seqBytes(firstLeaf+uint64(len(leaves)))); err != nil {
		return nil, err
	}
	if err := metaTx.Set(seqKey, seqBytes(seq)); err != nil {
		return nil, err
	}
	if err := prefixeddb.NewPrefixedWriteTx(wTx, rootsPrefix).Set(seqBytes(seq), newRoot); err != nil {
		return nil, err
	}
	if err := wTx.Commit(); err != nil {
		return nil, err
	}
	o.leafCount = firstLeaf + uint64(len(leaves))
	o.seq = seq

	log.Infow("batch committed", "batch", seq, "leaves", len(leaves),
		"nullifiers", len(nullifiers), "root", arbo.BytesToBigInt(newRoot).String())
	return &Transition{
		Seq:       seq,
		OldRoot:   arbo.BytesToBigInt(oldRoot),
		NewRoot:   arbo.BytesToBigInt(newRoot),
		FirstLeaf: firstLeaf,
	}, nil
}

// Preview computes the root the tree would have after appending the leaves,
// without committing anything. The sequencer folds this root into the batch
// statement before the batch is actually applied.
func (o *Store) Preview(leaves []*big.Int) (*big.Int, error) {
	o.mtx.Lock()
	defer o.mtx.Unlock()

	if o.leafCount+uint64(len(leaves)) > o.capacity {
		return nil, ErrTreeFull
	}
	wTx := o.db.WriteTx()
	defer wTx.Discard()

	treeTx := prefixeddb.NewPrefixedWriteTx(wTx, treePrefix)
	for i, cm := range leaves {
		if err := o.tree.AddWithTx(treeTx, o.leafKey(o.leafCount+uint64(i)), leafValue(cm)); err != nil {
			return nil, fmt.Errorf("could not stage leaf %d: %w", o.leafCount+uint64(i), err)
		}
	}
	newRoot, err := o.tree.RootWithTx(treeTx)
	if err != nil {
		return nil, err
	}
	return arbo.BytesToBigInt(newRoot), nil
}
