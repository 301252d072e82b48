package synth

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/punchamoorthee/stakeledger/internal/chainstate"
	"github.com/punchamoorthee/stakeledger/internal/codec"
	"github.com/punchamoorthee/stakeledger/internal/identity"
	"github.com/punchamoorthee/stakeledger/internal/models"
	"github.com/punchamoorthee/stakeledger/internal/processor"
	"github.com/punchamoorthee/stakeledger/internal/service"
	"github.com/punchamoorthee/stakeledger/internal/store"
)

func newGenerator(t *testing.T, opts Options) (*Generator, *identity.Codec) {
	t.Helper()
	ids, err := identity.NewCodec(42)
	require.NoError(t, err)
	g, err := NewGenerator(opts, ids)
	require.NoError(t, err)
	return g, ids
}

func defaultOptions() Options {
	return Options{Stakers: 20, Collators: 5, Delegators: 30, Workload: WorkloadUniform, Seed: 7}
}

func TestGeneratorIsDeterministic(t *testing.T) {
	a, _ := newGenerator(t, defaultOptions())
	b, _ := newGenerator(t, defaultOptions())
	for i := 0; i < 50; i++ {
		ba, sa := a.Next()
		bb, sb := b.Next()
		require.Equal(t, ba, bb)
		require.Equal(t, sa, sb)
		assert.Equal(t, uint64(i+1), ba.Height)
	}
}

func TestGeneratorRejectsBadOptions(t *testing.T) {
	ids, err := identity.NewCodec(42)
	require.NoError(t, err)

	opts := defaultOptions()
	opts.Workload = "zipf"
	_, err = NewGenerator(opts, ids)
	assert.ErrorIs(t, err, ErrUnknownWorkload)

	opts = defaultOptions()
	opts.Collators = 0
	_, err = NewGenerator(opts, ids)
	assert.Error(t, err)
}

func TestGeneratorHotspot(t *testing.T) {
	opts := defaultOptions()
	opts.Workload = WorkloadHotspot
	g, ids := newGenerator(t, opts)

	hot := ids.Encode(hexutil.MustDecode(collatorKey(0)))
	var total, onHot int
	for i := 0; i < 200; i++ {
		block, _ := g.Next()
		for _, rec := range block.Records {
			if rec.Name != codec.KindNomination {
				continue
			}
			ev, err := codec.DecodeNomination(rec)
			require.NoError(t, err)
			total++
			if ids.Encode(ev.Candidate) == hot {
				onHot++
			}
		}
	}
	require.NotZero(t, total)
	assert.Greater(t, float64(onHot)/float64(total), 0.8)
}

// index replays the generated stream through the processor.
func index(t *testing.T, opts Options, blocks int) (*Generator, *store.Memory) {
	t.Helper()
	g, ids := newGenerator(t, opts)
	mem := store.NewMemory()
	state := chainstate.NewMemoryAccessor()
	proc := processor.New(mem, service.NewStakingService(ids, service.StakedAsStash), chainstate.NewResolver(state, ids), ids, zap.NewNop())

	ctx := context.Background()
	for i := 0; i < blocks; i++ {
		block, snapshots := g.Next()
		putAll(state, snapshots)
		require.NoError(t, proc.ProcessBlock(ctx, block), "height %d", block.Height)
	}
	return g, mem
}

func putAll(state *chainstate.MemoryAccessor, snapshots []models.Snapshot) {
	for _, s := range snapshots {
		state.Put(s.Height, s.Item, s.Key, s.Value)
	}
}

func TestGeneratedStreamMatchesExpectedBonds(t *testing.T) {
	for name, legacy := range map[string]bool{"split": false, "legacy": true} {
		t.Run(name, func(t *testing.T) {
			opts := defaultOptions()
			opts.LegacyState = legacy
			g, mem := index(t, opts, 300)

			expected := g.Expected()
			require.NotEmpty(t, expected)
			for id, want := range expected {
				a, err := mem.GetAccount(context.Background(), id)
				require.NoError(t, err)
				require.NotNil(t, a, id)
				assert.Equal(t, want.Dec(), a.ActiveBond.Dec(), id)
			}
		})
	}
}
