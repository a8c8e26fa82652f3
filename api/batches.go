package api

import (
	"errors"
	"net/http"

	"github.com/veilpay/rollup/storage"
)

// listBatches handles the batch listing request.
func (a *API) listBatches(w http.ResponseWriter, r *http.Request) {
	seqs, err := a.storage.ListBatches()
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, &BatchList{Seqs: seqs})
}

// batchStatus handles the batch status request, joining the batch with its
// verdict and settlement record when the verifier has produced them.
func (a *API) batchStatus(w http.ResponseWriter, r *http.Request) {
	seq, err := uint64URLParam(r, BatchSeqURLParam)
	if err != nil {
		ErrMalformedParam.WithErr(err).Write(w)
		return
	}
	batch, err := a.storage.Batch(seq)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			ErrResourceNotFound.Withf("no batch with sequence %d", seq).Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	status := &BatchStatus{Batch: batch}
	if verdict, err := a.storage.Verdict(seq); err == nil {
		status.Verdict = verdict
	} else if !errors.Is(err, storage.ErrNotFound) {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	if rec, err := a.storage.Settlement(seq); err == nil {
		status.Settlement = rec
	} else if !errors.Is(err, storage.ErrNotFound) {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, status)
}
