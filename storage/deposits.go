package storage

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
	"github.com/veilpay/rollup/log"
	"github.com/veilpay/rollup/types"
	"github.com/veilpay/rollup/util"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

// RegisterDeposit registers an external deposit as a single-use mint ticket
// for the given owner key and amount, and returns the stored ticket. The
// ticket id is the Poseidon hash of the owner key, the amount and a random
// nonce.
func (s *Storage) RegisterDeposit(ownerX, ownerY, amount *big.Int) (*DepositTicket, error) {
	if ownerX == nil || ownerY == nil || amount == nil {
		return nil, fmt.Errorf("missing deposit values")
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive")
	}
	nonce := util.RandomBytes(8)
	id, err := poseidon.Hash([]*big.Int{ownerX, ownerY, amount, new(big.Int).SetBytes(nonce)})
	if err != nil {
		return nil, fmt.Errorf("hash deposit ticket: %w", err)
	}
	ticket := &DepositTicket{
		ID:     id.Bytes(),
		OwnerX: (*types.BigInt)(ownerX),
		OwnerY: (*types.BigInt)(ownerY),
		Amount: (*types.BigInt)(amount),
		Nonce:  nonce,
	}
	if err := s.setArtifact(depositPrefix, ticket.ID, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

// Deposit loads a deposit ticket by id. Returns ErrNotFound if the ticket
// does not exist.
func (s *Storage) Deposit(id []byte) (*DepositTicket, error) {
	ticket := &DepositTicket{}
	if err := s.getArtifact(depositPrefix, id, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

// ConsumeDeposit atomically spends the ticket backing a mint. It fails with
// ErrNotFound if the ticket does not exist, ErrDepositSpent if it was
// already consumed and ErrDepositAmount if the minted amount does not equal
// the deposited one.
func (s *Storage) ConsumeDeposit(id []byte, amount *big.Int) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	ticket := &DepositTicket{}
	if err := s.getArtifact(depositPrefix, id, ticket); err != nil {
		return err
	}
	if ticket.Spent {
		return ErrDepositSpent
	}
	if amount == nil || ticket.Amount == nil || ticket.Amount.MathBigInt().Cmp(amount) != 0 {
		return ErrDepositAmount
	}
	ticket.Spent = true
	return s.setArtifact(depositPrefix, id, ticket)
}

// ListDeposits returns every registered deposit ticket.
func (s *Storage) ListDeposits() ([]*DepositTicket, error) {
	rd := prefixeddb.NewPrefixedReader(s.db, depositPrefix)
	var tickets []*DepositTicket
	if err := rd.Iterate(nil, func(_, v []byte) bool {
		ticket := &DepositTicket{}
		if err := decodeArtifact(v, ticket); err != nil {
			log.Warnw("failed to decode deposit ticket", "error", err.Error())
			return true
		}
		tickets = append(tickets, ticket)
		return true
	}); err != nil {
		return nil, fmt.Errorf("iterate deposits: %w", err)
	}
	return tickets, nil
}
