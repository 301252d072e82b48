package chainstate

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// ErrMissingAmount is returned when a stored delegation has no amount.
var ErrMissingAmount = errors.New("delegation has no amount")

// Backer is a delegator bonded to a candidate.
type Backer struct {
	ID     string
	Amount *uint256.Int
}

// IDEncoder renders raw account bytes as identities.
type IDEncoder interface {
	Encode(raw []byte) string
}

type bond struct {
	Owner  hexutil.Bytes `json:"owner"`
	Amount *uint256.Int  `json:"amount"`
}

type delegations struct {
	Delegations []bond `json:"delegations"`
}

// collatorState covers both legacy layouts: the oldest one kept a single
// nominators list, its successor split it into top and bottom.
type collatorState struct {
	Nominators       []bond `json:"nominators"`
	TopNominators    []bond `json:"topNominators"`
	BottomNominators []bond `json:"bottomNominators"`
}

// Resolver finds the backers of a candidate as of a given height.
type Resolver struct {
	state   Accessor
	encoder IDEncoder
}

func NewResolver(state Accessor, encoder IDEncoder) *Resolver {
	return &Resolver{state: state, encoder: encoder}
}

// Backers returns top then bottom backers of candidate at height. The split
// top/bottom items are preferred; when either is absent the legacy collator
// state is used. No data at all yields an empty list.
func (r *Resolver) Backers(ctx context.Context, candidate string, height uint64) ([]Backer, error) {
	top, topOK, err := r.delegations(ctx, height, ItemTopDelegations, candidate)
	if err != nil {
		return nil, err
	}
	bottom, bottomOK, err := r.delegations(ctx, height, ItemBottomDelegations, candidate)
	if err != nil {
		return nil, err
	}

	if !topOK || !bottomOK {
		raw, ok, err := r.state.Get(ctx, height, ItemCollatorState, candidate)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", ItemCollatorState)
		}
		if !ok {
			return nil, nil
		}
		var state collatorState
		if err := json.Unmarshal(raw, &state); err != nil {
			return nil, errors.Wrapf(err, "decode %s", ItemCollatorState)
		}
		top, bottom = state.TopNominators, state.BottomNominators
		if top == nil && bottom == nil {
			top = state.Nominators
		}
	}

	backers := make([]Backer, 0, len(top)+len(bottom))
	for _, list := range [][]bond{top, bottom} {
		for _, b := range list {
			if b.Amount == nil {
				return nil, errors.Wrapf(ErrMissingAmount, "decode backers of %s: owner %s", candidate, b.Owner)
			}
			backers = append(backers, Backer{ID: r.encoder.Encode(b.Owner), Amount: b.Amount})
		}
	}
	return backers, nil
}

func (r *Resolver) delegations(ctx context.Context, height uint64, item, candidate string) ([]bond, bool, error) {
	raw, ok, err := r.state.Get(ctx, height, item, candidate)
	if err != nil {
		return nil, false, errors.Wrapf(err, "read %s", item)
	}
	if !ok {
		return nil, false, nil
	}
	var d delegations
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, false, errors.Wrapf(err, "decode %s", item)
	}
	return d.Delegations, true, nil
}
