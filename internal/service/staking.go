package service

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/punchamoorthee/stakeledger/internal/chainstate"
	"github.com/punchamoorthee/stakeledger/internal/codec"
	"github.com/punchamoorthee/stakeledger/internal/domain"
)

var ErrMissingStakingInfo = errors.New("missing staking info")

// Ledger is the entity access the projector needs within one unit of work.
// Getters return nil, nil for absent entities.
type Ledger interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	GetStakerByController(ctx context.Context, controllerID string) (*domain.Staker, error)
	HasBond(ctx context.Context, id string) (bool, error)
	SaveAccounts(ctx context.Context, accounts ...*domain.Account) error
	SaveStaker(ctx context.Context, s *domain.Staker) error
	SaveBonds(ctx context.Context, bonds ...*domain.Bond) error
}

// IDEncoder renders raw account bytes as identities.
type IDEncoder interface {
	Encode(raw []byte) string
}

// StakedPayeeMode decides how set_payee(Staked) is recorded.
type StakedPayeeMode int

const (
	// StakedAsStash records Staked with the stash as payee.
	StakedAsStash StakedPayeeMode = iota
	// StakedAsController reproduces earlier indexer output, where Staked
	// ended up stored as Controller with the controller as payee.
	StakedAsController
)

// ParseStakedPayeeMode accepts "stash" or "controller".
func ParseStakedPayeeMode(s string) (StakedPayeeMode, error) {
	switch s {
	case "", "stash":
		return StakedAsStash, nil
	case "controller":
		return StakedAsController, nil
	}
	return 0, errors.Errorf("unknown staked payee mode %q", s)
}

// StakingService projects canonical staking records onto the ledger.
type StakingService struct {
	ids        IDEncoder
	stakedMode StakedPayeeMode
}

func NewStakingService(ids IDEncoder, mode StakedPayeeMode) *StakingService {
	return &StakingService{ids: ids, stakedMode: mode}
}

// ApplyBond records a Staking.bond call signed by stash.
func (s *StakingService) ApplyBond(ctx context.Context, l Ledger, id string, call codec.BondCall, stash string, success bool, meta domain.Meta) error {
	if done, err := l.HasBond(ctx, id); err != nil || done {
		return err
	}

	controllerID := s.ids.Encode(call.Controller)

	staker := &domain.Staker{ID: stash, StashID: stash, ControllerID: controllerID}
	var payeeAccount string
	switch p := call.Payee.(type) {
	case codec.PayeeAccount:
		payeeAccount = s.ids.Encode(p.Account)
		staker.PayeeType, staker.PayeeID = domain.PayeeAccount, ref(payeeAccount)
	default:
		destination, err := domain.ParsePayeeType(string(p.Destination()))
		if err != nil {
			return err
		}
		staker.PayeeType = destination
		switch destination {
		case domain.PayeeAccount:
			return codec.ErrMissingPayeeAccount
		case domain.PayeeStash, domain.PayeeStaked:
			staker.PayeeID = ref(staker.StashID)
		case domain.PayeeController:
			staker.PayeeID = ref(staker.ControllerID)
		}
	}

	stashAccount, err := s.getOrCreateAccount(ctx, l, stash)
	if err != nil {
		return err
	}
	if success {
		stashAccount.ActiveBond = domain.SaturatingAdd(stashAccount.ActiveBond, call.Amount)
	}

	accounts := []*domain.Account{stashAccount}
	for _, other := range []string{controllerID, payeeAccount} {
		if other == "" || other == stash {
			continue
		}
		a, err := s.getOrCreateAccount(ctx, l, other)
		if err != nil {
			return err
		}
		accounts = append(accounts, a)
	}
	if err := l.SaveAccounts(ctx, accounts...); err != nil {
		return err
	}
	if err := l.SaveStaker(ctx, staker); err != nil {
		return err
	}

	return l.SaveBonds(ctx, &domain.Bond{
		ID:            id,
		Timestamp:     meta.Timestamp,
		BlockNumber:   meta.BlockNumber,
		ExtrinsicHash: meta.ExtrinsicHash,
		AccountID:     stash,
		Amount:        call.Amount.Clone(),
		Total:         stashAccount.ActiveBond.Clone(),
		Type:          domain.BondTypeBond,
		Success:       success,
	})
}

// ApplyChangePayee records a Staking.set_payee call signed by controller.
func (s *StakingService) ApplyChangePayee(ctx context.Context, l Ledger, call codec.ChangePayeeCall, controller string) error {
	staker, err := l.GetStakerByController(ctx, controller)
	if err != nil {
		return err
	}
	if staker == nil {
		return errors.Wrapf(ErrMissingStakingInfo, "controller %s", controller)
	}

	destination, err := domain.ParsePayeeType(string(call.Payee.Destination()))
	if err != nil {
		return err
	}

	switch destination {
	case domain.PayeeAccount:
		staker.PayeeType, staker.PayeeID = domain.PayeeAccount, nil
		if p, ok := call.Payee.(codec.PayeeAccount); ok {
			account, err := s.getOrCreateAccount(ctx, l, s.ids.Encode(p.Account))
			if err != nil {
				return err
			}
			if err := l.SaveAccounts(ctx, account); err != nil {
				return err
			}
			staker.PayeeID = ref(account.ID)
		}
	case domain.PayeeStash:
		staker.PayeeType, staker.PayeeID = domain.PayeeStash, ref(staker.StashID)
	case domain.PayeeStaked:
		if s.stakedMode == StakedAsController {
			staker.PayeeType, staker.PayeeID = domain.PayeeController, ref(staker.ControllerID)
			break
		}
		staker.PayeeType, staker.PayeeID = domain.PayeeStaked, ref(staker.StashID)
	case domain.PayeeController:
		staker.PayeeType, staker.PayeeID = domain.PayeeController, ref(staker.ControllerID)
	case domain.PayeeNone:
		staker.PayeeType, staker.PayeeID = domain.PayeeNone, nil
	}

	return l.SaveStaker(ctx, staker)
}

// ApplyCollatorLeft records a candidate leaving. The candidate's own Unbond is
// written first with the event's new total, then every backer is unbonded in
// order. The candidate's own active bond is not touched.
func (s *StakingService) ApplyCollatorLeft(ctx context.Context, l Ledger, id string, ev codec.CollatorLeftEvent, backers []chainstate.Backer, meta domain.Meta) error {
	if done, err := l.HasBond(ctx, id); err != nil || done {
		return err
	}

	candidateID := s.ids.Encode(ev.Account)
	candidate, err := s.getOrCreateAccount(ctx, l, candidateID)
	if err != nil {
		return err
	}
	if err := l.SaveAccounts(ctx, candidate); err != nil {
		return err
	}
	if err := l.SaveBonds(ctx, &domain.Bond{
		ID:            id,
		Timestamp:     meta.Timestamp,
		BlockNumber:   meta.BlockNumber,
		ExtrinsicHash: meta.ExtrinsicHash,
		AccountID:     candidateID,
		Amount:        ev.Amount.Clone(),
		Total:         ev.NewTotal.Clone(),
		Type:          domain.BondTypeUnbond,
		Success:       true,
	}); err != nil {
		return err
	}

	if len(backers) == 0 {
		return nil
	}

	// a backer may appear in both lists; keep one live value per account
	delegators := make(map[string]*domain.Account, len(backers))
	order := make([]*domain.Account, 0, len(backers))
	bonds := make([]*domain.Bond, len(backers))
	for i, b := range backers {
		account, ok := delegators[b.ID]
		if !ok {
			if account, err = s.getOrCreateAccount(ctx, l, b.ID); err != nil {
				return err
			}
			delegators[b.ID] = account
			order = append(order, account)
		}
		account.ActiveBond = domain.SaturatingSub(account.ActiveBond, b.Amount)

		bonds[i] = &domain.Bond{
			ID:            fmt.Sprintf("%s-%04d", id, i),
			Timestamp:     meta.Timestamp,
			BlockNumber:   meta.BlockNumber,
			ExtrinsicHash: meta.ExtrinsicHash,
			AccountID:     b.ID,
			CandidateID:   &candidateID,
			Amount:        b.Amount.Clone(),
			Total:         account.ActiveBond.Clone(),
			Type:          domain.BondTypeUnbond,
			Success:       true,
		}
	}

	if err := l.SaveAccounts(ctx, order...); err != nil {
		return err
	}
	return l.SaveBonds(ctx, bonds...)
}

// ApplyNomination records a delegator bonding to a candidate.
func (s *StakingService) ApplyNomination(ctx context.Context, l Ledger, id string, ev codec.NominationEvent, meta domain.Meta) error {
	if done, err := l.HasBond(ctx, id); err != nil || done {
		return err
	}

	delegator, err := s.getOrCreateAccount(ctx, l, s.ids.Encode(ev.Account))
	if err != nil {
		return err
	}
	delegator.ActiveBond = domain.SaturatingAdd(delegator.ActiveBond, ev.Amount)
	if err := l.SaveAccounts(ctx, delegator); err != nil {
		return err
	}

	candidateID := s.ids.Encode(ev.Candidate)
	return l.SaveBonds(ctx, &domain.Bond{
		ID:            id,
		Timestamp:     meta.Timestamp,
		BlockNumber:   meta.BlockNumber,
		ExtrinsicHash: meta.ExtrinsicHash,
		AccountID:     delegator.ID,
		CandidateID:   &candidateID,
		Amount:        ev.Amount.Clone(),
		Total:         delegator.ActiveBond.Clone(),
		Type:          domain.BondTypeBond,
		Success:       true,
	})
}

func (s *StakingService) getOrCreateAccount(ctx context.Context, l Ledger, id string) (*domain.Account, error) {
	account, err := l.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return domain.NewAccount(id), nil
	}
	if account.ActiveBond == nil {
		account.ActiveBond = new(uint256.Int)
	}
	return account, nil
}

func ref(s string) *string { return &s }
