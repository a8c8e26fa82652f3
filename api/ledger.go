package api

import (
	"errors"
	"net/http"

	"github.com/veilpay/rollup/state"
	"github.com/veilpay/rollup/types"
)

// ledgerRoot handles the current root request. The root, batch sequence and
// leaf count are read together so clients can prove against a consistent
// snapshot.
func (a *API) ledgerRoot(w http.ResponseWriter, r *http.Request) {
	root, err := a.ledger.RootAsBigInt()
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	nullifiers, err := a.ledger.NullifierCount()
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, &LedgerRoot{
		Root:       (*types.BigInt)(root),
		Seq:        a.ledger.Seq(),
		LeafCount:  a.ledger.LeafCount(),
		Nullifiers: nullifiers,
	})
}

// leafPath handles the membership path request for a commitment leaf index.
func (a *API) leafPath(w http.ResponseWriter, r *http.Request) {
	index, err := uint64URLParam(r, LeafIndexURLParam)
	if err != nil {
		ErrMalformedParam.WithErr(err).Write(w)
		return
	}
	path, err := a.ledger.MembershipPath(index)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			ErrResourceNotFound.Withf("no leaf at index %d", index).Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, leafPathFrom(path))
}
