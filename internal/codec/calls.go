package codec

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/punchamoorthee/stakeledger/internal/models"
)

var ErrMissingAmount = errors.New("missing amount")

// BondCall is the canonical Staking.bond call.
type BondCall struct {
	Amount     *uint256.Int
	Controller []byte
	Payee      Payee
}

// ChangePayeeCall is the canonical Staking.set_payee call.
type ChangePayeeCall struct {
	Payee Payee
}

var bondVersions = versions[BondCall]{
	"v0":    func() variant[BondCall] { return new(bondV0) },
	"v28":   func() variant[BondCall] { return new(bondV28) },
	"v9110": func() variant[BondCall] { return new(bondV9110) },
}

var setPayeeVersions = versions[ChangePayeeCall]{
	"v0":    func() variant[ChangePayeeCall] { return new(setPayeeV0) },
	"v9110": func() variant[ChangePayeeCall] { return new(setPayeeV9110) },
}

func DecodeBond(rec models.Record) (BondCall, error) {
	return decode(rec, bondVersions)
}

func DecodeChangePayee(rec models.Record) (ChangePayeeCall, error) {
	return decode(rec, setPayeeVersions)
}

type bondV0 struct {
	Controller hexutil.Bytes `json:"controller"`
	Value      *uint256.Int  `json:"value"`
	Payee      rawPayee      `json:"payee"`
}

func (b *bondV0) canonical() (BondCall, error) {
	return bondCall(b.Value, b.Controller, b.Payee)
}

type bondV28 struct {
	Controller multiAddress `json:"controller"`
	Value      *uint256.Int `json:"value"`
	Payee      rawPayee     `json:"payee"`
}

func (b *bondV28) canonical() (BondCall, error) {
	controller, err := b.Controller.accountID()
	if err != nil {
		return BondCall{}, err
	}
	return bondCall(b.Value, controller, b.Payee)
}

// bondV9110 keeps the v28 JSON layout; only the runtime types behind it moved.
type bondV9110 struct {
	Controller multiAddress `json:"controller"`
	Value      *uint256.Int `json:"value"`
	Payee      rawPayee     `json:"payee"`
}

func (b *bondV9110) canonical() (BondCall, error) {
	controller, err := b.Controller.accountID()
	if err != nil {
		return BondCall{}, err
	}
	return bondCall(b.Value, controller, b.Payee)
}

func bondCall(amount *uint256.Int, controller []byte, raw rawPayee) (BondCall, error) {
	if amount == nil {
		return BondCall{}, ErrMissingAmount
	}
	payee, err := raw.payee()
	if err != nil {
		return BondCall{}, err
	}
	return BondCall{Amount: amount, Controller: controller, Payee: payee}, nil
}

type setPayeeV0 struct {
	Payee rawPayee `json:"payee"`
}

func (s *setPayeeV0) canonical() (ChangePayeeCall, error) {
	payee, err := s.Payee.payee()
	return ChangePayeeCall{Payee: payee}, err
}

type setPayeeV9110 struct {
	Payee rawPayee `json:"payee"`
}

func (s *setPayeeV9110) canonical() (ChangePayeeCall, error) {
	payee, err := s.Payee.payee()
	return ChangePayeeCall{Payee: payee}, err
}
