package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/stakeledger/internal/chainstate"
)

// SnapshotAccessor serves historical storage values from storage_snapshots.
// The row with the greatest height not above the requested one wins.
type SnapshotAccessor struct {
	store *Store
}

func (s *Store) Snapshots() *SnapshotAccessor {
	return &SnapshotAccessor{store: s}
}

func (a *SnapshotAccessor) Get(ctx context.Context, height uint64, item, key string) (json.RawMessage, bool, error) {
	var value string
	err := a.store.Db.QueryRow(ctx,
		`SELECT value::text FROM storage_snapshots
		 WHERE item = $2 AND key = $3 AND height <= $1
		 ORDER BY height DESC LIMIT 1`,
		int64(height), item, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("snapshot query failed: %w", err)
	}
	if chainstate.Removed(json.RawMessage(value)) {
		return nil, false, nil
	}
	return json.RawMessage(value), true, nil
}
