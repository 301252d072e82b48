package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/punchamoorthee/stakeledger/internal/identity"
	"github.com/punchamoorthee/stakeledger/internal/synth"
)

func main() {
	app := cli.NewApp()
	app.Name = "streamgen"
	app.Usage = "write a synthetic staking stream and its storage snapshots"
	app.Flags = []cli.Flag{
		cli.IntFlag{Name: "blocks", Value: 10000, Usage: "number of blocks"},
		cli.IntFlag{Name: "stakers", Value: 1000, Usage: "distinct stakers"},
		cli.IntFlag{Name: "collators", Value: 50, Usage: "distinct collators"},
		cli.IntFlag{Name: "delegators", Value: 1000, Usage: "distinct delegators"},
		cli.StringFlag{Name: "workload", Value: synth.WorkloadUniform, Usage: "workload type: uniform | hotspot"},
		cli.Uint64Flag{Name: "seed", Value: 1, Usage: "random seed"},
		cli.IntFlag{Name: "ss58-prefix", Value: 42, Usage: "SS58 prefix used for snapshot keys"},
		cli.BoolFlag{Name: "legacy-state", Usage: "write CollatorState instead of top/bottom delegations"},
		cli.StringFlag{Name: "out", Value: "blocks.jsonl", Usage: "block stream output"},
		cli.StringFlag{Name: "snapshots", Value: "snapshots.jsonl", Usage: "storage snapshot output"},
	}
	app.Action = generate
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Fatal:", err)
		os.Exit(1)
	}
}

func generate(c *cli.Context) error {
	ids, err := identity.NewCodec(uint16(c.Int("ss58-prefix")))
	if err != nil {
		return err
	}
	g, err := synth.NewGenerator(synth.Options{
		Stakers:     c.Int("stakers"),
		Collators:   c.Int("collators"),
		Delegators:  c.Int("delegators"),
		Workload:    c.String("workload"),
		Seed:        c.Uint64("seed"),
		LegacyState: c.Bool("legacy-state"),
	}, ids)
	if err != nil {
		return err
	}

	blocksOut, err := create(c.String("out"))
	if err != nil {
		return err
	}
	defer blocksOut.close()
	snapsOut, err := create(c.String("snapshots"))
	if err != nil {
		return err
	}
	defer snapsOut.close()

	start := time.Now()
	var records, snapshots int
	for i := 0; i < c.Int("blocks"); i++ {
		block, snaps := g.Next()
		if err := blocksOut.enc.Encode(block); err != nil {
			return errors.Wrap(err, "write block")
		}
		for _, s := range snaps {
			if err := snapsOut.enc.Encode(s); err != nil {
				return errors.Wrap(err, "write snapshot")
			}
		}
		records += len(block.Records)
		snapshots += len(snaps)
	}
	if err := blocksOut.flush(); err != nil {
		return err
	}
	if err := snapsOut.flush(); err != nil {
		return err
	}

	results := map[string]interface{}{
		"workload":     c.String("workload"),
		"duration_sec": time.Since(start).Seconds(),
		"blocks":       c.Int("blocks"),
		"records":      records,
		"snapshots":    snapshots,
		"delegators":   len(g.Expected()),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

type output struct {
	f   *os.File
	w   *bufio.Writer
	enc *json.Encoder
}

func create(path string) (*output, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	w := bufio.NewWriter(f)
	return &output{f: f, w: w, enc: json.NewEncoder(w)}, nil
}

func (o *output) flush() error {
	if err := o.w.Flush(); err != nil {
		return errors.Wrapf(err, "flush %s", o.f.Name())
	}
	return nil
}

func (o *output) close() { o.f.Close() }
