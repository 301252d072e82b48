// Package store persists the staking ledger.
package store

import (
	"context"

	"github.com/punchamoorthee/stakeledger/internal/domain"
)

// Tx is the unit of work one block is applied in. Reads observe the writes
// made earlier in the same Tx; nothing is visible outside until Commit.
type Tx interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	GetStakerByController(ctx context.Context, controllerID string) (*domain.Staker, error)
	HasBond(ctx context.Context, id string) (bool, error)

	SaveAccounts(ctx context.Context, accounts ...*domain.Account) error
	SaveStaker(ctx context.Context, s *domain.Staker) error
	SaveBonds(ctx context.Context, bonds ...*domain.Bond) error
	SetCheckpoint(ctx context.Context, cp domain.Checkpoint) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
