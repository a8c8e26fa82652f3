package api

import (
	"encoding/json"
	"net/http"

	"github.com/veilpay/rollup/log"
	"github.com/veilpay/rollup/storage"
	"github.com/veilpay/rollup/types"
)

// submitTransfer handles the transfer submission. It checks the shape of the
// request, derives the transfer hash from the statement and enqueues the
// transfer for admission. Proof verification happens asynchronously in the
// sequencer, so a 200 here means accepted for screening, not admitted.
func (a *API) submitTransfer(w http.ResponseWriter, r *http.Request) {
	req := &storage.TransferRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if len(req.Proof) == 0 {
		ErrMalformedTransfer.With("missing transfer proof").Write(w)
		return
	}
	hash, err := req.TransferHash()
	if err != nil {
		ErrMalformedTransfer.WithErr(err).Write(w)
		return
	}
	if err := a.storage.PushTransfer(req); err != nil {
		log.Warnw("failed to enqueue transfer", "error", err)
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	log.Debugw("transfer enqueued", "transferHash", hash.String())
	httpWriteJSON(w, &SubmitTransferResponse{TransferHash: (*types.BigInt)(hash)})
}
