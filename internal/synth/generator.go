// Package synth generates a deterministic staking block stream together with
// the storage snapshots the indexer needs to resolve backers.
package synth

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/punchamoorthee/stakeledger/internal/chainstate"
	"github.com/punchamoorthee/stakeledger/internal/codec"
	"github.com/punchamoorthee/stakeledger/internal/models"
)

const (
	WorkloadUniform = "uniform"
	WorkloadHotspot = "hotspot"

	topSize   = 4
	blockTime = 12 * time.Second
)

var ErrUnknownWorkload = errors.New("unknown workload")

var payeeKinds = []string{"Staked", "Stash", "Controller", "Account", "None"}

// IDEncoder renders raw account bytes as identities.
type IDEncoder interface {
	Encode(raw []byte) string
}

type Options struct {
	Stakers    int
	Collators  int
	Delegators int
	Workload   string
	Seed       uint64
	// LegacyState writes the old single CollatorState item instead of the
	// split top/bottom delegation items.
	LegacyState bool
	Start       time.Time
}

// Generator produces blocks in chain order starting at height 1.
type Generator struct {
	opts   Options
	rng    *rand.Rand
	ids    IDEncoder
	height uint64

	bonded      []bool
	left        map[int]bool
	delegations []map[int]*uint256.Int
	expected    map[string]*uint256.Int
}

func NewGenerator(opts Options, ids IDEncoder) (*Generator, error) {
	if opts.Workload != WorkloadUniform && opts.Workload != WorkloadHotspot {
		return nil, errors.Wrapf(ErrUnknownWorkload, "%q", opts.Workload)
	}
	if opts.Stakers <= 0 || opts.Collators <= 0 || opts.Delegators <= 0 {
		return nil, errors.New("stakers, collators and delegators must be positive")
	}
	if opts.Start.IsZero() {
		opts.Start = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	g := &Generator{
		opts:        opts,
		rng:         rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x5bd1e995)),
		ids:         ids,
		bonded:      make([]bool, opts.Stakers),
		delegations: make([]map[int]*uint256.Int, opts.Collators),
		expected:    make(map[string]*uint256.Int),
	}
	for i := range g.delegations {
		g.delegations[i] = make(map[int]*uint256.Int)
	}
	return g, nil
}

// Next returns the next block and the snapshots its records read.
func (g *Generator) Next() (models.Block, []models.Snapshot) {
	g.height++
	block := models.Block{
		Height:    g.height,
		Hash:      fmt.Sprintf("0x%064x", g.height),
		Timestamp: g.opts.Start.Add(time.Duration(g.height) * blockTime),
	}
	g.left = make(map[int]bool)

	var snapshots []models.Snapshot
	n := 1 + g.rng.IntN(4)
	for i := 0; i < n; i++ {
		extrinsic := fmt.Sprintf("%d-%06d", g.height, i)
		switch roll := g.rng.Float64(); {
		case roll < 0.40:
			block.Records = append(block.Records, g.nomination(extrinsic))
		case roll < 0.65:
			block.Records = append(block.Records, g.bondOrSetPayee(extrinsic))
		case roll < 0.85:
			block.Records = append(block.Records, g.setPayeeOrBond(extrinsic))
		default:
			recs, snaps := g.collatorLeft(extrinsic)
			block.Records = append(block.Records, recs...)
			snapshots = append(snapshots, snaps...)
		}
	}
	for i := range block.Records {
		block.Records[i].ID = fmt.Sprintf("%d-%d", g.height, i)
	}
	return block, snapshots
}

// Expected is the active bond each delegator should end up with once every
// generated block has been indexed.
func (g *Generator) Expected() map[string]*uint256.Int {
	out := make(map[string]*uint256.Int, len(g.expected))
	for id, v := range g.expected {
		out[id] = v.Clone()
	}
	return out
}

func (g *Generator) collator() int {
	if g.opts.Workload == WorkloadHotspot && g.rng.Float64() < 0.90 {
		return 0
	}
	return g.rng.IntN(g.opts.Collators)
}

func (g *Generator) nomination(extrinsic string) models.Record {
	c, d := g.collator(), g.rng.IntN(g.opts.Delegators)
	amount := uint256.NewInt(1 + g.rng.Uint64N(1000))

	if cur, ok := g.delegations[c][d]; ok {
		cur.Add(cur, amount)
	} else {
		g.delegations[c][d] = amount.Clone()
	}
	id := g.ids.Encode(hexutil.MustDecode(delegatorKey(d)))
	g.expected[id] = new(uint256.Int).Add(g.balance(id), amount)

	return models.Record{
		ExtrinsicID: extrinsic,
		Name:        codec.KindNomination,
		Version:     "v900",
		Payload:     mustJSON([]string{delegatorKey(d), amount.Dec(), collatorKey(c)}),
		Success:     true,
	}
}

func (g *Generator) balance(id string) *uint256.Int {
	if v, ok := g.expected[id]; ok {
		return v
	}
	return new(uint256.Int)
}

func (g *Generator) bondOrSetPayee(extrinsic string) models.Record {
	for _, s := range g.rng.Perm(g.opts.Stakers) {
		if !g.bonded[s] {
			return g.bond(extrinsic, s)
		}
	}
	return g.setPayee(extrinsic, g.rng.IntN(g.opts.Stakers))
}

func (g *Generator) setPayeeOrBond(extrinsic string) models.Record {
	s := g.rng.IntN(g.opts.Stakers)
	if !g.bonded[s] {
		return g.bond(extrinsic, s)
	}
	return g.setPayee(extrinsic, s)
}

func (g *Generator) payee(s int) map[string]string {
	kind := payeeKinds[g.rng.IntN(len(payeeKinds))]
	if kind == "Account" {
		return map[string]string{"kind": kind, "value": payeeKey(s)}
	}
	return map[string]string{"kind": kind}
}

func (g *Generator) bond(extrinsic string, s int) models.Record {
	g.bonded[s] = true
	return models.Record{
		ExtrinsicID:   extrinsic,
		ExtrinsicHash: fmt.Sprintf("0x%064x", g.height<<16|uint64(s)),
		Name:          codec.KindBond,
		Version:       "v9110",
		Payload: mustJSON(map[string]any{
			"controller": map[string]string{"kind": "Id", "value": controllerKey(s)},
			"value":      fmt.Sprint(1 + g.rng.Uint64N(1_000_000)),
			"payee":      g.payee(s),
		}),
		Origin:  signedBy(stashKey(s)),
		Success: true,
	}
}

func (g *Generator) setPayee(extrinsic string, s int) models.Record {
	return models.Record{
		ExtrinsicID: extrinsic,
		Name:        codec.KindSetPayee,
		Version:     "v9110",
		Payload:     mustJSON(map[string]any{"payee": g.payee(s)}),
		Origin:      signedBy(controllerKey(s)),
		Success:     true,
	}
}

type delegation struct {
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

func (g *Generator) collatorLeft(extrinsic string) ([]models.Record, []models.Snapshot) {
	c := g.collator()
	// both departures would read the same previous-height snapshot
	if g.left[c] {
		return []models.Record{g.nomination(extrinsic)}, nil
	}
	g.left[c] = true
	candidate := g.ids.Encode(hexutil.MustDecode(collatorKey(c)))

	delegators := make([]int, 0, len(g.delegations[c]))
	for d := range g.delegations[c] {
		delegators = append(delegators, d)
	}
	slices.Sort(delegators)

	list := make([]delegation, len(delegators))
	for i, d := range delegators {
		list[i] = delegation{Owner: delegatorKey(d), Amount: g.delegations[c][d].Dec()}
	}
	top, bottom := list[:min(topSize, len(list))], list[min(topSize, len(list)):]

	for _, d := range delegators {
		id := g.ids.Encode(hexutil.MustDecode(delegatorKey(d)))
		g.expected[id] = new(uint256.Int).Sub(g.balance(id), g.delegations[c][d])
	}
	g.delegations[c] = make(map[int]*uint256.Int)

	// written even when empty so a later departure never sees an older list
	at := g.height - 1
	var snapshots []models.Snapshot
	if g.opts.LegacyState {
		snapshots = append(snapshots, models.Snapshot{Height: at, Item: chainstate.ItemCollatorState, Key: candidate,
			Value: mustJSON(map[string][]delegation{"topNominators": top, "bottomNominators": bottom})})
	} else {
		snapshots = append(snapshots,
			models.Snapshot{Height: at, Item: chainstate.ItemTopDelegations, Key: candidate,
				Value: mustJSON(map[string][]delegation{"delegations": top})},
			models.Snapshot{Height: at, Item: chainstate.ItemBottomDelegations, Key: candidate,
				Value: mustJSON(map[string][]delegation{"delegations": bottom})})
	}

	amount := fmt.Sprint(1 + g.rng.Uint64N(100_000))
	records := []models.Record{{
		ExtrinsicID: extrinsic,
		Name:        codec.KindCollatorLeft,
		Version:     "v49",
		Payload:     mustJSON([]string{collatorKey(c), amount}),
		Success:     true,
	}}
	if g.rng.Float64() < 0.3 {
		records = append(records, models.Record{
			ExtrinsicID: extrinsic,
			Name:        codec.KindCollatorLeftCollator,
			Version:     "v1001",
			Payload:     mustJSON([]string{collatorKey(c), amount, "0"}),
			Success:     true,
		})
	}
	return records, snapshots
}

func stashKey(i int) string      { return fmt.Sprintf("0x01%062x", i) }
func controllerKey(i int) string { return fmt.Sprintf("0x02%062x", i) }
func payeeKey(i int) string      { return fmt.Sprintf("0x03%062x", i) }
func collatorKey(i int) string   { return fmt.Sprintf("0x0c%038x", i) }
func delegatorKey(i int) string  { return fmt.Sprintf("0x0d%038x", i) }

func signedBy(key string) json.RawMessage {
	return mustJSON(map[string]any{
		"kind":  "system",
		"value": map[string]string{"kind": "Signed", "value": key},
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
