package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/veilpay/rollup/api"
	"github.com/veilpay/rollup/state"
	"github.com/veilpay/rollup/storage"
	"github.com/veilpay/rollup/types"
)

// SubmitTransfer submits a proved transfer for admission and returns the
// transfer hash the sequencer will track it by.
func (c *HTTPclient) SubmitTransfer(req *storage.TransferRequest) (*types.BigInt, error) {
	data, status, err := c.Request(HTTPPOST, req, nil, api.TransfersEndpoint)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%s: %d (%s)", errCodeNot200, status, data)
	}
	resp := &api.SubmitTransferResponse{}
	if err := json.Unmarshal(data, resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transfer response: %w", err)
	}
	return resp.TransferHash, nil
}

// LedgerRoot fetches the current commitment tree root along with the last
// committed batch sequence and the leaf count.
func (c *HTTPclient) LedgerRoot() (*api.LedgerRoot, error) {
	data, status, err := c.Request(HTTPGET, nil, nil, api.LedgerRootEndpoint)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%s: %d (%s)", errCodeNot200, status, data)
	}
	root := &api.LedgerRoot{}
	if err := json.Unmarshal(data, root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ledger root: %w", err)
	}
	return root, nil
}

// LeafPath fetches the membership path of the commitment leaf at the given
// append index, ready for witness assignment.
func (c *HTTPclient) LeafPath(index uint64) (*state.MembershipPath, error) {
	data, status, err := c.Request(HTTPGET, nil, nil,
		"ledger", "paths", strconv.FormatUint(index, 10))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%s: %d (%s)", errCodeNot200, status, data)
	}
	lp := &api.LeafPath{}
	if err := json.Unmarshal(data, lp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal leaf path: %w", err)
	}
	return lp.MembershipPath(), nil
}

// RegisterDeposit registers a deposit and returns the single-use ticket that
// authorizes the matching mint.
func (c *HTTPclient) RegisterDeposit(req *api.DepositRequest) (*storage.DepositTicket, error) {
	data, status, err := c.Request(HTTPPOST, req, nil, api.DepositsEndpoint)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%s: %d (%s)", errCodeNot200, status, data)
	}
	ticket := &storage.DepositTicket{}
	if err := json.Unmarshal(data, ticket); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deposit ticket: %w", err)
	}
	return ticket, nil
}

// Batches lists the committed batch sequence numbers in ascending order.
func (c *HTTPclient) Batches() ([]uint64, error) {
	data, status, err := c.Request(HTTPGET, nil, nil, api.BatchesEndpoint)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%s: %d (%s)", errCodeNot200, status, data)
	}
	list := &api.BatchList{}
	if err := json.Unmarshal(data, list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch list: %w", err)
	}
	return list.Seqs, nil
}

// Batch fetches a committed batch along with its verdict and settlement
// record, when the verifier has produced them.
func (c *HTTPclient) Batch(seq uint64) (*api.BatchStatus, error) {
	data, status, err := c.Request(HTTPGET, nil, nil,
		api.BatchesEndpoint, strconv.FormatUint(seq, 10))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%s: %d (%s)", errCodeNot200, status, data)
	}
	batch := &api.BatchStatus{}
	if err := json.Unmarshal(data, batch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch status: %w", err)
	}
	return batch, nil
}
