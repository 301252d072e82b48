package service

import (
	"github.com/punchamoorthee/stakeledger/internal/codec"
	"github.com/punchamoorthee/stakeledger/internal/models"
)

// Suppressor skips legacy records that a refined record in the same
// extrinsic already accounts for.
type Suppressor struct {
	refined map[string]string
}

func NewSuppressor() *Suppressor {
	return &Suppressor{refined: map[string]string{
		codec.KindCollatorLeft: codec.KindCollatorLeftCollator,
	}}
}

// Skip reports whether current is superseded within its extrinsic. Records
// outside any extrinsic are never skipped.
func (s *Suppressor) Skip(block []models.Record, current models.Record) bool {
	refined, ok := s.refined[current.Name]
	if !ok || current.ExtrinsicID == "" {
		return false
	}
	for _, rec := range block {
		if rec.ExtrinsicID == current.ExtrinsicID && rec.Name == refined {
			return true
		}
	}
	return false
}
