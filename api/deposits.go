package api

import (
	"encoding/json"
	"net/http"

	"github.com/veilpay/rollup/log"
)

// registerDeposit handles the deposit registration. The returned ticket is
// single use and authorizes one minting transfer for the exact amount.
func (a *API) registerDeposit(w http.ResponseWriter, r *http.Request) {
	req := &DepositRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if req.OwnerX == nil || req.OwnerY == nil {
		ErrMalformedDeposit.With("missing owner key").Write(w)
		return
	}
	if req.Amount == nil || req.Amount.MathBigInt().Sign() <= 0 {
		ErrMalformedDeposit.With("amount must be positive").Write(w)
		return
	}
	ticket, err := a.storage.RegisterDeposit(
		req.OwnerX.MathBigInt(),
		req.OwnerY.MathBigInt(),
		req.Amount.MathBigInt(),
	)
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	log.Infow("deposit registered", "ticket", ticket.ID.String(), "amount", ticket.Amount.String())
	httpWriteJSON(w, ticket)
}

// listDeposits handles the deposit listing, spent tickets included.
func (a *API) listDeposits(w http.ResponseWriter, r *http.Request) {
	tickets, err := a.storage.ListDeposits()
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, &DepositList{Deposits: tickets})
}
