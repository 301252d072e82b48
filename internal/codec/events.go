package codec

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/punchamoorthee/stakeledger/internal/models"
)

// CollatorLeftEvent is the canonical departure of a collator. The legacy
// CollatorLeft layout does not carry the new total, so NewTotal is zero there;
// CollatorLeftCollator carries it.
type CollatorLeftEvent struct {
	Account  []byte
	Amount   *uint256.Int
	NewTotal *uint256.Int
}

// NominationEvent is the canonical legacy ParachainStaking.Nomination event.
type NominationEvent struct {
	Account   []byte
	Amount    *uint256.Int
	Candidate []byte
}

var collatorLeftVersions = versions[CollatorLeftEvent]{
	"v49": func() variant[CollatorLeftEvent] { return new(collatorLeftV49) },
}

var collatorLeftCollatorVersions = versions[CollatorLeftEvent]{
	"v1001": func() variant[CollatorLeftEvent] { return new(collatorLeftCollatorV1001) },
}

var nominationVersions = versions[NominationEvent]{
	"v49":  func() variant[NominationEvent] { return new(nominationV49) },
	"v53":  func() variant[NominationEvent] { return new(nominationV53) },
	"v155": func() variant[NominationEvent] { return new(nominationV155) },
	"v900": func() variant[NominationEvent] { return new(nominationV900) },
}

func DecodeCollatorLeft(rec models.Record) (CollatorLeftEvent, error) {
	return decode(rec, collatorLeftVersions)
}

func DecodeCollatorLeftCollator(rec models.Record) (CollatorLeftEvent, error) {
	return decode(rec, collatorLeftCollatorVersions)
}

func DecodeNomination(rec models.Record) (NominationEvent, error) {
	return decode(rec, nominationVersions)
}

// tuple unpacks a positional event payload into its fields.
func tuple(data []byte, fields ...any) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != len(fields) {
		return errors.Errorf("expected %d fields, got %d", len(fields), len(parts))
	}
	for i, part := range parts {
		if err := json.Unmarshal(part, fields[i]); err != nil {
			return errors.Wrapf(err, "field %d", i)
		}
	}
	return nil
}

type collatorLeftV49 struct {
	Account hexutil.Bytes
	Amount  uint256.Int
}

func (e *collatorLeftV49) UnmarshalJSON(data []byte) error {
	return tuple(data, &e.Account, &e.Amount)
}

func (e *collatorLeftV49) canonical() (CollatorLeftEvent, error) {
	return CollatorLeftEvent{
		Account:  e.Account,
		Amount:   e.Amount.Clone(),
		NewTotal: new(uint256.Int),
	}, nil
}

type collatorLeftCollatorV1001 struct {
	Account  hexutil.Bytes
	Amount   uint256.Int
	NewTotal uint256.Int
}

func (e *collatorLeftCollatorV1001) UnmarshalJSON(data []byte) error {
	return tuple(data, &e.Account, &e.Amount, &e.NewTotal)
}

func (e *collatorLeftCollatorV1001) canonical() (CollatorLeftEvent, error) {
	return CollatorLeftEvent{
		Account:  e.Account,
		Amount:   e.Amount.Clone(),
		NewTotal: e.NewTotal.Clone(),
	}, nil
}

// nominationV49 through nominationV900 only differ in the runtime types behind
// the same three positional fields.
type nominationV49 struct {
	Account   hexutil.Bytes
	Amount    uint256.Int
	Candidate hexutil.Bytes
}

func (e *nominationV49) UnmarshalJSON(data []byte) error {
	return tuple(data, &e.Account, &e.Amount, &e.Candidate)
}

func (e *nominationV49) canonical() (NominationEvent, error) {
	return NominationEvent{Account: e.Account, Amount: e.Amount.Clone(), Candidate: e.Candidate}, nil
}

type nominationV53 struct {
	Account   hexutil.Bytes
	Amount    uint256.Int
	Candidate hexutil.Bytes
}

func (e *nominationV53) UnmarshalJSON(data []byte) error {
	return tuple(data, &e.Account, &e.Amount, &e.Candidate)
}

func (e *nominationV53) canonical() (NominationEvent, error) {
	return NominationEvent{Account: e.Account, Amount: e.Amount.Clone(), Candidate: e.Candidate}, nil
}

type nominationV155 struct {
	Account   hexutil.Bytes
	Amount    uint256.Int
	Candidate hexutil.Bytes
}

func (e *nominationV155) UnmarshalJSON(data []byte) error {
	return tuple(data, &e.Account, &e.Amount, &e.Candidate)
}

func (e *nominationV155) canonical() (NominationEvent, error) {
	return NominationEvent{Account: e.Account, Amount: e.Amount.Clone(), Candidate: e.Candidate}, nil
}

type nominationV900 struct {
	Account   hexutil.Bytes
	Amount    uint256.Int
	Candidate hexutil.Bytes
}

func (e *nominationV900) UnmarshalJSON(data []byte) error {
	return tuple(data, &e.Account, &e.Amount, &e.Candidate)
}

func (e *nominationV900) canonical() (NominationEvent, error) {
	return NominationEvent{Account: e.Account, Amount: e.Amount.Clone(), Candidate: e.Candidate}, nil
}
