package store

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/stakeledger/internal/domain"
)

func TestMemoryTxIsolation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveAccounts(ctx, &domain.Account{ID: "a", ActiveBond: uint256.NewInt(5)}))

	// visible inside, invisible outside
	a, err := tx.GetAccount(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, a)
	got, err := m.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, tx.Rollback(ctx))
	got, err = m.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got)

	tx, err = m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveAccounts(ctx, &domain.Account{ID: "a", ActiveBond: uint256.NewInt(5)}))
	require.NoError(t, tx.SetCheckpoint(ctx, domain.Checkpoint{Height: 7, Hash: "0x07"}))
	require.NoError(t, tx.Commit(ctx))

	got, err = m.GetAccount(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(5), got.ActiveBond.Uint64())

	cp, err := m.Checkpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, uint64(7), cp.Height)
	assert.Equal(t, "0x07", cp.Hash)

	assert.ErrorIs(t, tx.Commit(ctx), ErrTxDone)
	assert.NoError(t, tx.Rollback(ctx))
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveAccounts(ctx, &domain.Account{ID: "a", ActiveBond: uint256.NewInt(5)}))
	require.NoError(t, tx.Commit(ctx))

	a, err := m.GetAccount(ctx, "a")
	require.NoError(t, err)
	a.ActiveBond.SetUint64(99)

	again, err := m.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), again.ActiveBond.Uint64())
}

func TestMemoryStakerByController(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveStaker(ctx, &domain.Staker{ID: "s1", StashID: "s1", ControllerID: "c1", PayeeType: domain.PayeeNone}))
	s, err := tx.GetStakerByController(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "s1", s.ID)
	require.NoError(t, tx.Commit(ctx))

	tx, err = m.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	s, err = tx.GetStakerByController(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, s)

	// moving the controller inside the tx hides the committed mapping
	require.NoError(t, tx.SaveStaker(ctx, &domain.Staker{ID: "s1", StashID: "s1", ControllerID: "c2", PayeeType: domain.PayeeNone}))
	s, err = tx.GetStakerByController(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = tx.GetStakerByController(ctx, "c2")
	require.NoError(t, err)
	require.NotNil(t, s)
}

func TestMemoryStakerByControllerSkipsShadowedMatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveStaker(ctx, &domain.Staker{ID: "s1", StashID: "s1", ControllerID: "c1", PayeeType: domain.PayeeNone}))
	require.NoError(t, tx.SaveStaker(ctx, &domain.Staker{ID: "s2", StashID: "s2", ControllerID: "c1", PayeeType: domain.PayeeNone}))
	require.NoError(t, tx.Commit(ctx))

	tx, err = m.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	require.NoError(t, tx.SaveStaker(ctx, &domain.Staker{ID: "s1", StashID: "s1", ControllerID: "c2", PayeeType: domain.PayeeNone}))
	s, err := tx.GetStakerByController(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "s2", s.ID)

	// a committed match with a lower id than the tx's own match wins
	require.NoError(t, tx.SaveStaker(ctx, &domain.Staker{ID: "s3", StashID: "s3", ControllerID: "c1", PayeeType: domain.PayeeNone}))
	s, err = tx.GetStakerByController(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "s2", s.ID)
}

func TestMemoryListBonds(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	for _, b := range []*domain.Bond{
		{ID: "1-1", BlockNumber: 1, AccountID: "a", Amount: uint256.NewInt(1), Total: uint256.NewInt(1)},
		{ID: "3-1", BlockNumber: 3, AccountID: "a", Amount: uint256.NewInt(1), Total: uint256.NewInt(1)},
		{ID: "2-1", BlockNumber: 2, AccountID: "a", Amount: uint256.NewInt(1), Total: uint256.NewInt(1)},
		{ID: "2-2", BlockNumber: 2, AccountID: "b", Amount: uint256.NewInt(1), Total: uint256.NewInt(1)},
	} {
		require.NoError(t, tx.SaveBonds(ctx, b))
	}
	has, err := tx.HasBond(ctx, "2-2")
	require.NoError(t, err)
	assert.True(t, has)
	require.NoError(t, tx.Commit(ctx))

	bonds, err := m.ListBonds(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, bonds, 2)
	assert.Equal(t, "3-1", bonds[0].ID)
	assert.Equal(t, "2-1", bonds[1].ID)
}
