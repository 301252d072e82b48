// Package identity turns raw chain account bytes into canonical address strings.
package identity

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

var (
	ErrUnsupportedOrigin = errors.New("unsupported origin")
	ErrInvalidPrefix     = errors.New("ss58 prefix out of range")
)

var ss58Pre = []byte("SS58PRE")

// Codec encodes account ids. 20-byte ids are rendered as checksummed hex
// addresses, anything else as SS58 under the configured network prefix.
type Codec struct {
	prefix []byte
}

func NewCodec(prefix uint16) (*Codec, error) {
	switch {
	case prefix < 64:
		return &Codec{prefix: []byte{byte(prefix)}}, nil
	case prefix < 16384:
		return &Codec{prefix: []byte{
			byte((prefix&0xfc)>>2) | 0x40,
			byte(prefix>>8) | byte((prefix&0x03)<<6),
		}}, nil
	}
	return nil, errors.Wrapf(ErrInvalidPrefix, "%d", prefix)
}

func (c *Codec) Encode(raw []byte) string {
	if len(raw) == common.AddressLength {
		return common.BytesToAddress(raw).Hex()
	}

	payload := make([]byte, 0, len(c.prefix)+len(raw)+2)
	payload = append(payload, c.prefix...)
	payload = append(payload, raw...)

	h, _ := blake2b.New512(nil)
	h.Write(ss58Pre)
	h.Write(payload)
	sum := h.Sum(nil)

	return base58.Encode(append(payload, sum[:checksumLen(len(raw))]...))
}

func checksumLen(n int) int {
	switch n {
	case 1, 2, 4, 8:
		return 1
	}
	return 2
}

type originKind struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// ResolveOrigin extracts the signer of a system/Signed origin.
func (c *Codec) ResolveOrigin(origin json.RawMessage) (string, error) {
	if len(origin) == 0 {
		return "", errors.Wrap(ErrUnsupportedOrigin, "missing origin")
	}

	var outer originKind
	if err := json.Unmarshal(origin, &outer); err != nil {
		return "", errors.Wrap(err, "decode origin")
	}
	if outer.Kind != "system" {
		return "", errors.Wrapf(ErrUnsupportedOrigin, "kind %q", outer.Kind)
	}

	var inner originKind
	if err := json.Unmarshal(outer.Value, &inner); err != nil {
		return "", errors.Wrap(err, "decode system origin")
	}
	if inner.Kind != "Signed" {
		return "", errors.Wrapf(ErrUnsupportedOrigin, "system origin %q", inner.Kind)
	}

	var signer hexutil.Bytes
	if err := json.Unmarshal(inner.Value, &signer); err != nil {
		return "", errors.Wrap(err, "decode signer")
	}
	return c.Encode(signer), nil
}
