package codec

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/punchamoorthee/stakeledger/internal/domain"
)

var (
	ErrMissingPayeeAccount = errors.New("account payee without account")
	ErrUnsupportedAddress  = errors.New("unsupported address kind")
)

// Payee is a reward destination. Only PayeeAccount carries an identity.
type Payee interface {
	Destination() domain.PayeeType
}

// PayeeAccount sends rewards to an arbitrary account.
type PayeeAccount struct {
	Account []byte
}

func (PayeeAccount) Destination() domain.PayeeType { return domain.PayeeAccount }

// PayeeKind is any destination without an embedded account. The kind is not
// validated here; the projector rejects names it does not know.
type PayeeKind domain.PayeeType

func (p PayeeKind) Destination() domain.PayeeType { return domain.PayeeType(p) }

// rawPayee is the enum encoding shared by every runtime version so far.
type rawPayee struct {
	Kind  string        `json:"kind"`
	Value hexutil.Bytes `json:"value,omitempty"`
}

func (r rawPayee) payee() (Payee, error) {
	if r.Kind == string(domain.PayeeAccount) {
		if len(r.Value) == 0 {
			return nil, ErrMissingPayeeAccount
		}
		return PayeeAccount{Account: r.Value}, nil
	}
	return PayeeKind(r.Kind), nil
}

// multiAddress replaced plain account ids in later runtimes.
type multiAddress struct {
	Kind  string        `json:"kind"`
	Value hexutil.Bytes `json:"value"`
}

func (m multiAddress) accountID() ([]byte, error) {
	if m.Kind != "Id" {
		return nil, errors.Wrapf(ErrUnsupportedAddress, "%q", m.Kind)
	}
	return m.Value, nil
}
