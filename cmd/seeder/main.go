package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/punchamoorthee/stakeledger/internal/config"
	"github.com/punchamoorthee/stakeledger/internal/models"
	"github.com/punchamoorthee/stakeledger/internal/store"
)

func main() {
	app := cli.NewApp()
	app.Name = "seeder"
	app.Usage = "bulk load genesis accounts and storage snapshots"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "path to a YAML config file"},
		cli.StringFlag{Name: "genesis", Usage: "JSON lines of genesis accounts"},
		cli.StringFlag{Name: "snapshots", Usage: "JSON lines of storage snapshots"},
	}
	app.Action = seed
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Fatal:", err)
		os.Exit(1)
	}
}

func seed(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()

	// schema first so a fresh database can be seeded before the indexer ever ran
	st, err := store.NewStore(ctx, cfg.DBSource)
	if err != nil {
		return err
	}
	err = st.Migrate(ctx)
	st.Close()
	if err != nil {
		return err
	}

	conn, err := pgx.Connect(ctx, cfg.DBSource)
	if err != nil {
		return errors.Wrap(err, "unable to connect to database")
	}
	defer conn.Close(ctx)

	logger.Info("seeding database")

	if path := c.String("genesis"); path != "" {
		var rows [][]any
		err := readLines(path, func(a models.GenesisAccount) error {
			bond, err := uint256.FromDecimal(a.ActiveBond)
			if err != nil {
				return errors.Wrapf(err, "account %s", a.ID)
			}
			rows = append(rows, []any{a.ID, pgtype.Numeric{Int: bond.ToBig(), Valid: true}})
			return nil
		})
		if err != nil {
			return err
		}
		if err := copyInto(ctx, conn, logger, "accounts", []string{"id", "active_bond"}, rows); err != nil {
			return err
		}
	}

	if path := c.String("snapshots"); path != "" {
		var rows [][]any
		err := readLines(path, func(s models.Snapshot) error {
			rows = append(rows, []any{int64(s.Height), s.Item, s.Key, string(s.Value)})
			return nil
		})
		if err != nil {
			return err
		}
		if err := copyInto(ctx, conn, logger, "storage_snapshots", []string{"height", "item", "key", "value"}, rows); err != nil {
			return err
		}
	}
	return nil
}

// copyInto bulk inserts rows unless the table already holds data.
func copyInto(ctx context.Context, conn *pgx.Conn, logger *zap.Logger, table string, columns []string, rows [][]any) error {
	var count int
	if err := conn.QueryRow(ctx, "SELECT COUNT(*) FROM "+pgx.Identifier{table}.Sanitize()).Scan(&count); err != nil {
		return errors.Wrapf(err, "count %s", table)
	}
	if count > 0 {
		logger.Info("table already seeded, skipping", zap.String("table", table), zap.Int("rows", count))
		return nil
	}

	n, err := conn.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return errors.Wrapf(err, "bulk insert into %s", table)
	}
	logger.Info("seeded", zap.String("table", table), zap.Int64("rows", n))
	return nil
}

func readLines[T any](path string, fn func(T) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open input")
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	for {
		var v T
		if err := dec.Decode(&v); err == io.EOF {
			return nil
		} else if err != nil {
			return errors.Wrapf(err, "decode %s", path)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
}
