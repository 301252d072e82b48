// Package processor applies the block stream to the ledger, one block per
// transaction, strictly in chain order.
package processor

import (
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/punchamoorthee/stakeledger/internal/chainstate"
	"github.com/punchamoorthee/stakeledger/internal/codec"
	"github.com/punchamoorthee/stakeledger/internal/domain"
	"github.com/punchamoorthee/stakeledger/internal/models"
	"github.com/punchamoorthee/stakeledger/internal/service"
	"github.com/punchamoorthee/stakeledger/internal/store"
	"github.com/punchamoorthee/stakeledger/internal/stream"
)

var (
	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staking_records_total",
		Help: "Records seen by the processor, labeled by kind and outcome",
	}, []string{"kind", "outcome"})

	indexedHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "staking_indexed_height",
		Help: "Height of the last committed block",
	})

	blockDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "staking_block_duration_seconds",
		Help:    "Time spent applying one block",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)

const (
	outcomeApplied    = "applied"
	outcomeSuppressed = "suppressed"
	outcomeIgnored    = "ignored"
)

// Store is the ledger storage the processor writes through.
type Store interface {
	Begin(ctx context.Context) (store.Tx, error)
	Checkpoint(ctx context.Context) (*domain.Checkpoint, error)
}

// Identities encodes raw ids and resolves call origins.
type Identities interface {
	Encode(raw []byte) string
	ResolveOrigin(origin json.RawMessage) (string, error)
}

type handler func(ctx context.Context, tx store.Tx, block models.Block, rec models.Record) (string, error)

type Processor struct {
	store      Store
	staking    *service.StakingService
	suppressor *service.Suppressor
	backers    *chainstate.Resolver
	ids        Identities
	logger     *zap.Logger
	handlers   map[string]handler
}

func New(st Store, staking *service.StakingService, backers *chainstate.Resolver, ids Identities, logger *zap.Logger) *Processor {
	p := &Processor{
		store:      st,
		staking:    staking,
		suppressor: service.NewSuppressor(),
		backers:    backers,
		ids:        ids,
		logger:     logger,
	}
	p.handlers = map[string]handler{
		codec.KindBond:                 p.handleBond,
		codec.KindSetPayee:             p.handleSetPayee,
		codec.KindCollatorLeft:         p.handleCollatorLeft,
		codec.KindCollatorLeftCollator: p.handleCollatorLeftCollator,
		codec.KindNomination:           p.handleNomination,
	}
	return p
}

// Run applies every block of src above the committed checkpoint. It stops at
// the end of the stream or at the first error; the failing block is rolled back.
func (p *Processor) Run(ctx context.Context, src stream.Source) error {
	cp, err := p.store.Checkpoint(ctx)
	if err != nil {
		return err
	}
	if cp != nil {
		p.logger.Info("resuming from checkpoint", zap.Uint64("height", cp.Height), zap.String("hash", cp.Hash))
		indexedHeight.Set(float64(cp.Height))
	}

	var applied int
	for {
		block, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			p.logger.Info("stream exhausted", zap.Int("blocks", applied))
			return nil
		}
		if err != nil {
			return err
		}

		if cp != nil && block.Height <= cp.Height {
			p.logger.Debug("skipping committed block", zap.Uint64("height", block.Height))
			continue
		}
		if err := p.ProcessBlock(ctx, block); err != nil {
			return err
		}
		cp = &domain.Checkpoint{Height: block.Height, Hash: block.Hash}
		applied++
	}
}

// ProcessBlock applies all records of block and advances the checkpoint in
// one transaction.
func (p *Processor) ProcessBlock(ctx context.Context, block models.Block) (err error) {
	timer := prometheus.NewTimer(blockDuration)
	defer timer.ObserveDuration()

	tx, err := p.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				p.logger.Error("rollback failed", zap.Uint64("height", block.Height), zap.Error(rbErr))
			}
		}
	}()

	for _, rec := range block.Records {
		h, ok := p.handlers[rec.Name]
		if !ok {
			recordsTotal.WithLabelValues("other", outcomeIgnored).Inc()
			continue
		}
		outcome, err := h(ctx, tx, block, rec)
		if err != nil {
			p.logger.Error("record failed",
				zap.Uint64("height", block.Height),
				zap.String("record", rec.ID),
				zap.String("kind", rec.Name),
				zap.String("version", rec.Version),
				zap.Error(err))
			return errors.Wrapf(err, "block %d record %s", block.Height, rec.ID)
		}
		recordsTotal.WithLabelValues(rec.Name, outcome).Inc()
	}

	if err := tx.SetCheckpoint(ctx, domain.Checkpoint{Height: block.Height, Hash: block.Hash}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	indexedHeight.Set(float64(block.Height))
	p.logger.Debug("block committed", zap.Uint64("height", block.Height), zap.Int("records", len(block.Records)))
	return nil
}

func meta(block models.Block, rec models.Record) domain.Meta {
	return domain.Meta{
		Timestamp:     block.Timestamp,
		BlockNumber:   block.Height,
		ExtrinsicHash: rec.ExtrinsicHash,
	}
}

func (p *Processor) handleBond(ctx context.Context, tx store.Tx, block models.Block, rec models.Record) (string, error) {
	call, err := codec.DecodeBond(rec)
	if err != nil {
		return "", err
	}
	stash, err := p.ids.ResolveOrigin(rec.Origin)
	if err != nil {
		return "", err
	}
	return outcomeApplied, p.staking.ApplyBond(ctx, tx, rec.ID, call, stash, rec.Success, meta(block, rec))
}

func (p *Processor) handleSetPayee(ctx context.Context, tx store.Tx, _ models.Block, rec models.Record) (string, error) {
	call, err := codec.DecodeChangePayee(rec)
	if err != nil {
		return "", err
	}
	controller, err := p.ids.ResolveOrigin(rec.Origin)
	if err != nil {
		return "", err
	}
	return outcomeApplied, p.staking.ApplyChangePayee(ctx, tx, call, controller)
}

func (p *Processor) handleCollatorLeft(ctx context.Context, tx store.Tx, block models.Block, rec models.Record) (string, error) {
	ev, err := codec.DecodeCollatorLeft(rec)
	if err != nil {
		return "", err
	}
	if p.suppressor.Skip(block.Records, rec) {
		p.logger.Debug("superseded record skipped", zap.String("record", rec.ID), zap.String("extrinsic", rec.ExtrinsicID))
		return outcomeSuppressed, nil
	}
	return p.applyDeparture(ctx, tx, block, rec, ev)
}

func (p *Processor) handleCollatorLeftCollator(ctx context.Context, tx store.Tx, block models.Block, rec models.Record) (string, error) {
	ev, err := codec.DecodeCollatorLeftCollator(rec)
	if err != nil {
		return "", err
	}
	return p.applyDeparture(ctx, tx, block, rec, ev)
}

func (p *Processor) applyDeparture(ctx context.Context, tx store.Tx, block models.Block, rec models.Record, ev codec.CollatorLeftEvent) (string, error) {
	// backers are already removed on chain once the event is observed
	var backers []chainstate.Backer
	if block.Height > 0 {
		var err error
		backers, err = p.backers.Backers(ctx, p.ids.Encode(ev.Account), block.Height-1)
		if err != nil {
			return "", err
		}
	}
	return outcomeApplied, p.staking.ApplyCollatorLeft(ctx, tx, rec.ID, ev, backers, meta(block, rec))
}

func (p *Processor) handleNomination(ctx context.Context, tx store.Tx, block models.Block, rec models.Record) (string, error) {
	ev, err := codec.DecodeNomination(rec)
	if err != nil {
		return "", err
	}
	return outcomeApplied, p.staking.ApplyNomination(ctx, tx, rec.ID, ev, meta(block, rec))
}
