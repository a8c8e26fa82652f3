package state

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/arbo"
)

// MembershipPath is the merkle inclusion proof of one commitment leaf under
// a specific root. Key and Value hold the exact tree bytes, Siblings the
// unpacked list ready for circuit assignment, PackedSiblings the compact
// form that travels over the wire.
type MembershipPath struct {
	Index          uint64
	Key            []byte
	Value          []byte
	Root           []byte
	Siblings       [][]byte
	PackedSiblings []byte
}

// MembershipPath generates the inclusion proof of the leaf at the given
// append index under the current root. Fails with ErrNotFound when the index
// has not been appended yet.
func (o *Store) MembershipPath(index uint64) (*MembershipPath, error) {
	o.mtx.Lock()
	count := o.leafCount
	o.mtx.Unlock()
	if index >= count {
		return nil, fmt.Errorf("%w: leaf index %d", ErrNotFound, index)
	}
	root, err := o.tree.Root()
	if err != nil {
		return nil, err
	}
	leafK, leafV, packedSiblings, existence, err := o.tree.GenProof(o.leafKey(index))
	if err != nil {
		return nil, err
	}
	if !existence {
		return nil, fmt.Errorf("%w: leaf index %d", ErrNotFound, index)
	}
	unpackedSiblings, err := arbo.UnpackSiblings(HashFunc, packedSiblings)
	if err != nil {
		return nil, err
	}
	return &MembershipPath{
		Index:          index,
		Key:            leafK,
		Value:          leafV,
		Root:           root,
		Siblings:       unpackedSiblings,
		PackedSiblings: packedSiblings,
	}, nil
}

// Commitment returns the note commitment the proved leaf holds.
func (p *MembershipPath) Commitment() *big.Int {
	return arbo.BytesToBigInt(p.Value)
}

// RootAsBigInt returns the root the proof was generated under.
func (p *MembershipPath) RootAsBigInt() *big.Int {
	return arbo.BytesToBigInt(p.Root)
}

// Verify re-checks the proof natively against its own root.
func (p *MembershipPath) Verify() (bool, error) {
	return arbo.CheckProof(HashFunc, p.Key, p.Value, p.Root, p.PackedSiblings)
}
