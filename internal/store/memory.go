package store

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/punchamoorthee/stakeledger/internal/domain"
)

var ErrTxDone = errors.New("transaction already finished")

// Memory is an in-process ledger with the same transactional behaviour as
// Store. Only one Tx may be open at a time.
type Memory struct {
	writer sync.Mutex

	mu         sync.RWMutex
	accounts   map[string]domain.Account
	stakers    map[string]domain.Staker
	bonds      map[string]domain.Bond
	checkpoint *domain.Checkpoint
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]domain.Account),
		stakers:  make(map[string]domain.Staker),
		bonds:    make(map[string]domain.Bond),
	}
}

func (m *Memory) Begin(context.Context) (Tx, error) {
	m.writer.Lock()
	return &memTx{
		m:        m,
		accounts: make(map[string]domain.Account),
		stakers:  make(map[string]domain.Staker),
		bonds:    make(map[string]domain.Bond),
	}, nil
}

func (m *Memory) Checkpoint(context.Context) (*domain.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.checkpoint == nil {
		return nil, nil
	}
	cp := *m.checkpoint
	return &cp, nil
}

func (m *Memory) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	return cloneAccount(a), nil
}

func (m *Memory) GetStaker(_ context.Context, stashID string) (*domain.Staker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stakers[stashID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) ListBonds(_ context.Context, accountID string, limit int) ([]domain.Bond, error) {
	m.mu.RLock()
	var bonds []domain.Bond
	for _, b := range m.bonds {
		if b.AccountID == accountID {
			bonds = append(bonds, b)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(bonds, func(a, b domain.Bond) int {
		if c := cmp.Compare(b.BlockNumber, a.BlockNumber); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(bonds) > limit {
		bonds = bonds[:limit]
	}
	return bonds, nil
}

// Bond returns a committed bond by id.
func (m *Memory) Bond(id string) (domain.Bond, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bonds[id]
	return b, ok
}

// BondCount returns the number of committed bonds.
func (m *Memory) BondCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bonds)
}

type memTx struct {
	m          *Memory
	done       bool
	accounts   map[string]domain.Account
	stakers    map[string]domain.Staker
	bonds      map[string]domain.Bond
	checkpoint *domain.Checkpoint
}

func (t *memTx) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	if a, ok := t.accounts[id]; ok {
		return cloneAccount(a), nil
	}
	return t.m.GetAccount(ctx, id)
}

// GetStakerByController returns the lowest-id staker over the tx's view:
// its own writes plus the committed stakers it has not overwritten.
func (t *memTx) GetStakerByController(_ context.Context, controllerID string) (*domain.Staker, error) {
	found, ok := findByController(t.stakers, controllerID, nil)
	t.m.mu.RLock()
	committed, cok := findByController(t.m.stakers, controllerID, t.stakers)
	t.m.mu.RUnlock()
	if cok && (!ok || committed.ID < found.ID) {
		found, ok = committed, true
	}
	if !ok {
		return nil, nil
	}
	return &found, nil
}

func (t *memTx) HasBond(_ context.Context, id string) (bool, error) {
	if _, ok := t.bonds[id]; ok {
		return true, nil
	}
	_, ok := t.m.Bond(id)
	return ok, nil
}

func (t *memTx) SaveAccounts(_ context.Context, accounts ...*domain.Account) error {
	if t.done {
		return ErrTxDone
	}
	for _, a := range accounts {
		t.accounts[a.ID] = *cloneAccount(*a)
	}
	return nil
}

func (t *memTx) SaveStaker(_ context.Context, s *domain.Staker) error {
	if t.done {
		return ErrTxDone
	}
	t.stakers[s.ID] = *s
	return nil
}

func (t *memTx) SaveBonds(_ context.Context, bonds ...*domain.Bond) error {
	if t.done {
		return ErrTxDone
	}
	for _, b := range bonds {
		t.bonds[b.ID] = *b
	}
	return nil
}

func (t *memTx) SetCheckpoint(_ context.Context, cp domain.Checkpoint) error {
	if t.done {
		return ErrTxDone
	}
	cp.UpdatedAt = time.Now().UTC()
	t.checkpoint = &cp
	return nil
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	defer t.m.writer.Unlock()

	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for id, a := range t.accounts {
		t.m.accounts[id] = a
	}
	for id, s := range t.stakers {
		t.m.stakers[id] = s
	}
	for id, b := range t.bonds {
		t.m.bonds[id] = b
	}
	if t.checkpoint != nil {
		t.m.checkpoint = t.checkpoint
	}
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.m.writer.Unlock()
	return nil
}

// findByController returns the lowest-id match whose id is not in shadow.
func findByController(stakers map[string]domain.Staker, controllerID string, shadow map[string]domain.Staker) (domain.Staker, bool) {
	var (
		found domain.Staker
		ok    bool
	)
	for _, s := range stakers {
		if _, hidden := shadow[s.ID]; hidden {
			continue
		}
		if s.ControllerID == controllerID && (!ok || s.ID < found.ID) {
			found, ok = s, true
		}
	}
	return found, ok
}

func cloneAccount(a domain.Account) *domain.Account {
	c := a
	if a.ActiveBond != nil {
		c.ActiveBond = a.ActiveBond.Clone()
	}
	return &c
}
