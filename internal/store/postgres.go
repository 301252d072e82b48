package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/stakeledger/internal/domain"
)

//go:embed schema.sql
var schema string

type Store struct {
	Db *pgxpool.Pool
}

func NewStore(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// Migrate creates the ledger tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}

// Begin opens the transaction one block is applied in.
func (s *Store) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

// Checkpoint returns the last committed block, or nil before the first one.
func (s *Store) Checkpoint(ctx context.Context) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	var height int64
	err := s.Db.QueryRow(ctx, "SELECT height, hash, updated_at FROM indexer_status WHERE id = 1").
		Scan(&height, &cp.Hash, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint query failed: %w", err)
	}
	cp.Height = uint64(height)
	return &cp, nil
}

// GetAccount retrieves a single account by ID.
func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return getAccount(ctx, s.Db, id)
}

// GetStaker retrieves a staker by its stash ID.
func (s *Store) GetStaker(ctx context.Context, stashID string) (*domain.Staker, error) {
	return getStaker(ctx, s.Db, "SELECT id, stash_id, controller_id, payee_id, payee_type FROM stakers WHERE id = $1", stashID)
}

// ListBonds retrieves the most recent bonds of an account.
func (s *Store) ListBonds(ctx context.Context, accountID string, limit int) ([]domain.Bond, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT id, timestamp, block_number, COALESCE(extrinsic_hash, ''), account_id, candidate_id,
		        amount::text, total::text, type, success
		 FROM bonds WHERE account_id = $1 ORDER BY block_number DESC, id DESC LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("bonds query failed: %w", err)
	}
	defer rows.Close()

	var bonds []domain.Bond
	for rows.Next() {
		var (
			b             domain.Bond
			block         int64
			amount, total string
			bondType      string
		)
		if err := rows.Scan(&b.ID, &b.Timestamp, &block, &b.ExtrinsicHash, &b.AccountID, &b.CandidateID,
			&amount, &total, &bondType, &b.Success); err != nil {
			return nil, fmt.Errorf("bond scan failed: %w", err)
		}
		b.BlockNumber = uint64(block)
		b.Type = domain.BondType(bondType)
		if b.Amount, err = uint256.FromDecimal(amount); err != nil {
			return nil, fmt.Errorf("bond %s amount: %w", b.ID, err)
		}
		if b.Total, err = uint256.FromDecimal(total); err != nil {
			return nil, fmt.Errorf("bond %s total: %w", b.ID, err)
		}
		bonds = append(bonds, b)
	}
	return bonds, rows.Err()
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getAccount(ctx context.Context, q querier, id string) (*domain.Account, error) {
	var account domain.Account
	var activeBond string
	err := q.QueryRow(ctx, "SELECT id, active_bond::text FROM accounts WHERE id = $1", id).Scan(&account.ID, &activeBond)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("account query failed: %w", err)
	}
	if account.ActiveBond, err = uint256.FromDecimal(activeBond); err != nil {
		return nil, fmt.Errorf("account %s active bond: %w", id, err)
	}
	return &account, nil
}

func getStaker(ctx context.Context, q querier, sql, arg string) (*domain.Staker, error) {
	var s domain.Staker
	var payeeType string
	err := q.QueryRow(ctx, sql, arg).Scan(&s.ID, &s.StashID, &s.ControllerID, &s.PayeeID, &payeeType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("staker query failed: %w", err)
	}
	s.PayeeType = domain.PayeeType(payeeType)
	return &s, nil
}

// pgTx applies one block. Writes are queued in batches; reads observe them.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return getAccount(ctx, t.tx, id)
}

func (t *pgTx) GetStakerByController(ctx context.Context, controllerID string) (*domain.Staker, error) {
	return getStaker(ctx, t.tx,
		"SELECT id, stash_id, controller_id, payee_id, payee_type FROM stakers WHERE controller_id = $1 ORDER BY id LIMIT 1",
		controllerID)
}

func (t *pgTx) HasBond(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := t.tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM bonds WHERE id = $1)", id).Scan(&exists); err != nil {
		return false, fmt.Errorf("bond lookup failed: %w", err)
	}
	return exists, nil
}

func (t *pgTx) SaveAccounts(ctx context.Context, accounts ...*domain.Account) error {
	batch := &pgx.Batch{}
	for _, a := range accounts {
		batch.Queue(
			`INSERT INTO accounts (id, active_bond) VALUES ($1, $2::numeric)
			 ON CONFLICT (id) DO UPDATE SET active_bond = EXCLUDED.active_bond`,
			a.ID, a.ActiveBond.Dec())
	}
	return t.send(ctx, batch, "account upsert")
}

func (t *pgTx) SaveStaker(ctx context.Context, s *domain.Staker) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO stakers (id, stash_id, controller_id, payee_id, payee_type) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET controller_id = EXCLUDED.controller_id,
		     payee_id = EXCLUDED.payee_id, payee_type = EXCLUDED.payee_type`,
		s.ID, s.StashID, s.ControllerID, s.PayeeID, string(s.PayeeType))
	if err != nil {
		return fmt.Errorf("staker upsert failed: %w", err)
	}
	return nil
}

func (t *pgTx) SaveBonds(ctx context.Context, bonds ...*domain.Bond) error {
	batch := &pgx.Batch{}
	for _, b := range bonds {
		var hash *string
		if b.ExtrinsicHash != "" {
			hash = &b.ExtrinsicHash
		}
		batch.Queue(
			`INSERT INTO bonds (id, timestamp, block_number, extrinsic_hash, account_id, candidate_id, amount, total, type, success)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10)
			 ON CONFLICT (id) DO UPDATE SET total = EXCLUDED.total, success = EXCLUDED.success`,
			b.ID, b.Timestamp, int64(b.BlockNumber), hash, b.AccountID, b.CandidateID,
			b.Amount.Dec(), b.Total.Dec(), string(b.Type), b.Success)
	}
	return t.send(ctx, batch, "bond upsert")
}

func (t *pgTx) SetCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO indexer_status (id, height, hash, updated_at) VALUES (1, $1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET height = EXCLUDED.height, hash = EXCLUDED.hash, updated_at = EXCLUDED.updated_at`,
		int64(cp.Height), cp.Hash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("checkpoint update failed: %w", err)
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func (t *pgTx) send(ctx context.Context, batch *pgx.Batch, what string) error {
	if batch.Len() == 0 {
		return nil
	}
	br := t.tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("%s failed: %w", what, err)
		}
	}
	return br.Close()
}
