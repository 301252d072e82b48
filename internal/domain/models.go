package domain

import (
	"time"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// PayeeType is the reward destination of a Staker.
type PayeeType string

const (
	PayeeStaked     PayeeType = "Staked"
	PayeeStash      PayeeType = "Stash"
	PayeeController PayeeType = "Controller"
	PayeeAccount    PayeeType = "Account"
	PayeeNone       PayeeType = "None"
)

var ErrUnknownDestination = errors.New("unknown payee type")

// ParsePayeeType validates a destination name coming off the chain.
func ParsePayeeType(s string) (PayeeType, error) {
	switch p := PayeeType(s); p {
	case PayeeStaked, PayeeStash, PayeeController, PayeeAccount, PayeeNone:
		return p, nil
	}
	return "", errors.Wrapf(ErrUnknownDestination, "%q", s)
}

type BondType string

const (
	BondTypeBond   BondType = "Bond"
	BondTypeUnbond BondType = "Unbond"
)

// Account is a chain identity with its running bonded total.
type Account struct {
	ID         string       `json:"id"`
	ActiveBond *uint256.Int `json:"active_bond"`
}

// NewAccount returns an account with a zero active bond.
func NewAccount(id string) *Account {
	return &Account{ID: id, ActiveBond: new(uint256.Int)}
}

// Staker is keyed by its stash identity.
type Staker struct {
	ID           string    `json:"id"`
	StashID      string    `json:"stash_id"`
	ControllerID string    `json:"controller_id"`
	PayeeID      *string   `json:"payee_id"`
	PayeeType    PayeeType `json:"payee_type"`
}

// Bond is one immutable ledger effect.
// Total is the account's active bond right after the effect was applied.
type Bond struct {
	ID            string       `json:"id"`
	Timestamp     time.Time    `json:"timestamp"`
	BlockNumber   uint64       `json:"block_number"`
	ExtrinsicHash string       `json:"extrinsic_hash,omitempty"`
	AccountID     string       `json:"account_id"`
	CandidateID   *string      `json:"candidate_id,omitempty"`
	Amount        *uint256.Int `json:"amount"`
	Total         *uint256.Int `json:"total"`
	Type          BondType     `json:"type"`
	Success       bool         `json:"success"`
}

// Meta is the chain position a ledger effect originates from.
type Meta struct {
	Timestamp     time.Time
	BlockNumber   uint64
	ExtrinsicHash string
}

// Checkpoint is the last block whose effects were committed.
type Checkpoint struct {
	Height    uint64    `json:"height"`
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updated_at"`
}
