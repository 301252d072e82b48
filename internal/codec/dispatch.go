// Package codec normalizes versioned chain records into canonical records.
//
// Every record kind keeps a closed table of the runtime versions it is known
// in. Each version has its own payload type which must implement the
// conversion to the kind's canonical shape, so a version cannot be registered
// without saying how it maps. A version missing from the table is fatal: the
// ledger cannot be projected from a payload whose shape is unknown.
package codec

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/pkg/errors"
	"github.com/punchamoorthee/stakeledger/internal/models"
)

// Record kind names as emitted by the chain.
const (
	KindBond                 = "Staking.bond"
	KindSetPayee             = "Staking.set_payee"
	KindCollatorLeft         = "ParachainStaking.CollatorLeft"
	KindCollatorLeftCollator = "ParachainStaking.CollatorLeftCollator"
	KindNomination           = "ParachainStaking.Nomination"
)

// UnknownVersionError reports a record whose version tag is not enumerated.
type UnknownVersionError struct {
	Kind    string
	Version string
}

func (e *UnknownVersionError) Error() string {
	return fmt.Sprintf("unknown version %q of %s", e.Version, e.Kind)
}

func IsUnknownVersion(err error) bool {
	var target *UnknownVersionError
	return errors.As(err, &target)
}

type variant[T any] interface {
	canonical() (T, error)
}

type versions[T any] map[string]func() variant[T]

func decode[T any](rec models.Record, table versions[T]) (T, error) {
	var zero T
	newVariant, ok := table[rec.Version]
	if !ok {
		return zero, &UnknownVersionError{Kind: rec.Name, Version: rec.Version}
	}
	v := newVariant()
	if err := json.Unmarshal(rec.Payload, v); err != nil {
		return zero, errors.Wrapf(err, "decode %s %s payload", rec.Name, rec.Version)
	}
	out, err := v.canonical()
	if err != nil {
		return zero, errors.Wrapf(err, "%s %s", rec.Name, rec.Version)
	}
	return out, nil
}

// Versions lists the version tags known for a record kind.
func Versions(kind string) []string {
	var tags []string
	switch kind {
	case KindBond:
		tags = keys(bondVersions)
	case KindSetPayee:
		tags = keys(setPayeeVersions)
	case KindCollatorLeft:
		tags = keys(collatorLeftVersions)
	case KindCollatorLeftCollator:
		tags = keys(collatorLeftCollatorVersions)
	case KindNomination:
		tags = keys(nominationVersions)
	}
	return tags
}

func keys[T any](table versions[T]) []string {
	return slices.Sorted(maps.Keys(table))
}
