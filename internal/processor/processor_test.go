package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/punchamoorthee/stakeledger/internal/chainstate"
	"github.com/punchamoorthee/stakeledger/internal/codec"
	"github.com/punchamoorthee/stakeledger/internal/domain"
	"github.com/punchamoorthee/stakeledger/internal/identity"
	"github.com/punchamoorthee/stakeledger/internal/models"
	"github.com/punchamoorthee/stakeledger/internal/service"
	"github.com/punchamoorthee/stakeledger/internal/store"
	"github.com/punchamoorthee/stakeledger/internal/stream"
)

const (
	stashHex      = "0xd43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"
	controllerHex = "0x8eaf04151687736326c9fea17e25fc5287613693c912909cb226aa4794f26a48"
	payeeHex      = "0x90b5ab205c6974c9ea841be688864633dc9ca8a357843eeacf2314649965fe22"

	collatorHex = "0x1111111111111111111111111111111111111111"
	backer1Hex  = "0x2222222222222222222222222222222222222222"
	backer2Hex  = "0x3333333333333333333333333333333333333333"
)

type fixture struct {
	mem   *store.Memory
	state *chainstate.MemoryAccessor
	ids   *identity.Codec
	proc  *Processor
}

func newFixture(t *testing.T, mode service.StakedPayeeMode) *fixture {
	t.Helper()
	ids, err := identity.NewCodec(42)
	require.NoError(t, err)

	mem := store.NewMemory()
	state := chainstate.NewMemoryAccessor()
	proc := New(mem, service.NewStakingService(ids, mode), chainstate.NewResolver(state, ids), ids, zap.NewNop())
	return &fixture{mem: mem, state: state, ids: ids, proc: proc}
}

func (f *fixture) id(hex string) string {
	return f.ids.Encode(hexutil.MustDecode(hex))
}

func signed(hex string) json.RawMessage {
	return json.RawMessage(`{"kind":"system","value":{"kind":"Signed","value":"` + hex + `"}}`)
}

func block(height uint64, records ...models.Record) models.Block {
	return models.Block{
		Height:    height,
		Hash:      fmt.Sprintf("0x%064x", height),
		Timestamp: time.Unix(int64(height)*12, 0).UTC(),
		Records:   records,
	}
}

func bondRecord(id, version, payee string) models.Record {
	controller := `"` + controllerHex + `"`
	if version != "v0" {
		controller = `{"kind":"Id","value":"` + controllerHex + `"}`
	}
	return models.Record{
		ID:            id,
		ExtrinsicID:   id,
		ExtrinsicHash: "0xfeed",
		Name:          codec.KindBond,
		Version:       version,
		Payload:       json.RawMessage(`{"controller":` + controller + `,"value":"1000","payee":` + payee + `}`),
		Origin:        signed(stashHex),
		Success:       true,
	}
}

func setPayeeRecord(id, payee string) models.Record {
	return models.Record{
		ID:          id,
		ExtrinsicID: id,
		Name:        codec.KindSetPayee,
		Version:     "v9110",
		Payload:     json.RawMessage(`{"payee":` + payee + `}`),
		Origin:      signed(controllerHex),
		Success:     true,
	}
}

func collatorLeftRecord(id, extrinsic string) models.Record {
	return models.Record{
		ID:          id,
		ExtrinsicID: extrinsic,
		Name:        codec.KindCollatorLeft,
		Version:     "v49",
		Payload:     json.RawMessage(`["` + collatorHex + `","5000"]`),
		Success:     true,
	}
}

func nominationRecord(id, delegator, amount string) models.Record {
	return models.Record{
		ID:      id,
		Name:    codec.KindNomination,
		Version: "v900",
		Payload: json.RawMessage(`["` + delegator + `","` + amount + `","` + collatorHex + `"]`),
		Success: true,
	}
}

func (f *fixture) account(t *testing.T, id string) *domain.Account {
	t.Helper()
	a, err := f.mem.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (f *fixture) putBackers(height uint64) {
	candidate := f.id(collatorHex)
	f.state.Put(height, chainstate.ItemTopDelegations, candidate,
		json.RawMessage(`{"delegations":[{"owner":"`+backer1Hex+`","amount":"100"}]}`))
	f.state.Put(height, chainstate.ItemBottomDelegations, candidate,
		json.RawMessage(`{"delegations":[{"owner":"`+backer2Hex+`","amount":"50"}]}`))
}

func TestScenarioBondThenChangePayee(t *testing.T) {
	f := newFixture(t, service.StakedAsStash)
	ctx := context.Background()

	require.NoError(t, f.proc.ProcessBlock(ctx, block(1, bondRecord("1-1", "v28", `{"kind":"Stash"}`))))

	stash, controller, payee := f.id(stashHex), f.id(controllerHex), f.id(payeeHex)
	staker, err := f.mem.GetStaker(ctx, stash)
	require.NoError(t, err)
	require.NotNil(t, staker)
	assert.Equal(t, controller, staker.ControllerID)
	assert.Equal(t, domain.PayeeStash, staker.PayeeType)
	assert.Equal(t, stash, *staker.PayeeID)

	b, ok := f.mem.Bond("1-1")
	require.True(t, ok)
	assert.Equal(t, domain.BondTypeBond, b.Type)
	assert.Equal(t, stash, b.AccountID)
	assert.Equal(t, uint64(1000), b.Amount.Uint64())
	assert.Equal(t, "0xfeed", b.ExtrinsicHash)
	assert.True(t, b.Success)

	assert.Nil(t, f.account(t, payee))
	require.NoError(t, f.proc.ProcessBlock(ctx, block(2, setPayeeRecord("2-1", `{"kind":"Account","value":"`+payeeHex+`"}`))))

	staker, err = f.mem.GetStaker(ctx, stash)
	require.NoError(t, err)
	assert.Equal(t, domain.PayeeAccount, staker.PayeeType)
	assert.Equal(t, payee, *staker.PayeeID)
	assert.NotNil(t, f.account(t, payee))

	cp, err := f.mem.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cp.Height)
}

func TestScenarioCollatorLeft(t *testing.T) {
	f := newFixture(t, service.StakedAsStash)
	ctx := context.Background()

	require.NoError(t, f.proc.ProcessBlock(ctx, block(5, nominationRecord("5-1", backer1Hex, "100"))))
	assert.Equal(t, uint64(100), f.account(t, f.id(backer1Hex)).ActiveBond.Uint64())

	f.putBackers(9)
	require.NoError(t, f.proc.ProcessBlock(ctx, block(10, collatorLeftRecord("10-4", "10-000002"))))

	assert.True(t, f.account(t, f.id(backer1Hex)).ActiveBond.IsZero())
	assert.True(t, f.account(t, f.id(backer2Hex)).ActiveBond.IsZero())

	own, ok := f.mem.Bond("10-4")
	require.True(t, ok)
	assert.Equal(t, domain.BondTypeUnbond, own.Type)
	assert.Equal(t, f.id(collatorHex), own.AccountID)
	assert.Equal(t, uint64(5000), own.Amount.Uint64())

	for i, backer := range []string{backer1Hex, backer2Hex} {
		b, ok := f.mem.Bond(fmt.Sprintf("10-4-%04d", i))
		require.True(t, ok, i)
		assert.Equal(t, f.id(backer), b.AccountID)
		assert.Equal(t, f.id(collatorHex), *b.CandidateID)
		assert.True(t, b.Total.IsZero())
	}
	assert.Equal(t, 4, f.mem.BondCount())
}

func TestCollatorLeftReadsPreviousBlockState(t *testing.T) {
	f := newFixture(t, service.StakedAsStash)
	// state at the event's own height must not be used
	f.putBackers(10)

	require.NoError(t, f.proc.ProcessBlock(context.Background(), block(10, collatorLeftRecord("10-4", "10-000002"))))
	assert.Equal(t, 1, f.mem.BondCount())
}

func collatorLeftCollatorRecord(id, extrinsic string) models.Record {
	return models.Record{
		ID:          id,
		ExtrinsicID: extrinsic,
		Name:        codec.KindCollatorLeftCollator,
		Version:     "v1001",
		Payload:     json.RawMessage(`["` + collatorHex + `","5000","70"]`),
		Success:     true,
	}
}

func TestCollatorLeftAccountedOnceWithRefinedRecord(t *testing.T) {
	f := newFixture(t, service.StakedAsStash)
	ctx := context.Background()

	require.NoError(t, f.proc.ProcessBlock(ctx, block(5, nominationRecord("5-1", backer1Hex, "300"))))
	f.putBackers(9)
	require.NoError(t, f.proc.ProcessBlock(ctx, block(10,
		collatorLeftRecord("10-4", "10-000002"),
		collatorLeftCollatorRecord("10-5", "10-000002"))))

	_, ok := f.mem.Bond("10-4")
	assert.False(t, ok, "legacy record must be skipped")
	_, ok = f.mem.Bond("10-4-0000")
	assert.False(t, ok)

	own, ok := f.mem.Bond("10-5")
	require.True(t, ok)
	assert.Equal(t, domain.BondTypeUnbond, own.Type)
	assert.Equal(t, f.id(collatorHex), own.AccountID)
	assert.Equal(t, uint64(5000), own.Amount.Uint64())
	assert.Equal(t, uint64(70), own.Total.Uint64())

	for i, backer := range []string{backer1Hex, backer2Hex} {
		b, ok := f.mem.Bond(fmt.Sprintf("10-5-%04d", i))
		require.True(t, ok, i)
		assert.Equal(t, f.id(backer), b.AccountID)
		assert.Equal(t, f.id(collatorHex), *b.CandidateID)
	}
	// nomination, own unbond, two backer unbonds
	assert.Equal(t, 4, f.mem.BondCount())
	assert.Equal(t, uint64(200), f.account(t, f.id(backer1Hex)).ActiveBond.Uint64())
}

func TestCollatorLeftRefinedRecordAlone(t *testing.T) {
	f := newFixture(t, service.StakedAsStash)
	f.putBackers(9)

	require.NoError(t, f.proc.ProcessBlock(context.Background(), block(10, collatorLeftCollatorRecord("10-5", "10-000002"))))
	assert.Equal(t, 3, f.mem.BondCount())
}

func TestCollatorLeftReadsLatestStateBelowHeight(t *testing.T) {
	f := newFixture(t, service.StakedAsStash)
	ctx := context.Background()

	require.NoError(t, f.proc.ProcessBlock(ctx, block(5, nominationRecord("5-1", backer1Hex, "100"))))
	// state last written at 7, nothing at 9
	f.putBackers(7)
	require.NoError(t, f.proc.ProcessBlock(ctx, block(10, collatorLeftRecord("10-4", "10-000002"))))

	assert.True(t, f.account(t, f.id(backer1Hex)).ActiveBond.IsZero())
	assert.Equal(t, 4, f.mem.BondCount())
}

func TestUnknownVersionRollsBackBlock(t *testing.T) {
	f := newFixture(t, service.StakedAsStash)
	ctx := context.Background()

	bad := bondRecord("3-2", "v9999", `{"kind":"Stash"}`)
	err := f.proc.ProcessBlock(ctx, block(3, bondRecord("3-1", "v0", `{"kind":"Stash"}`), bad))
	require.Error(t, err)
	assert.True(t, codec.IsUnknownVersion(err))

	assert.Equal(t, 0, f.mem.BondCount())
	assert.Nil(t, f.account(t, f.id(stashHex)))
	cp, err := f.mem.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, cp)

	// the writer lock was released by the rollback
	require.NoError(t, f.proc.ProcessBlock(ctx, block(3, bondRecord("3-1", "v0", `{"kind":"Stash"}`))))
}

func TestChangePayeeWithoutBondFails(t *testing.T) {
	f := newFixture(t, service.StakedAsStash)
	err := f.proc.ProcessBlock(context.Background(), block(1, setPayeeRecord("1-1", `{"kind":"Stash"}`)))
	assert.ErrorIs(t, err, service.ErrMissingStakingInfo)
}

func TestStakedPayeeCompatibilityMode(t *testing.T) {
	ctx := context.Background()
	for mode, want := range map[service.StakedPayeeMode]domain.PayeeType{
		service.StakedAsStash:      domain.PayeeStaked,
		service.StakedAsController: domain.PayeeController,
	} {
		f := newFixture(t, mode)
		require.NoError(t, f.proc.ProcessBlock(ctx, block(1, bondRecord("1-1", "v0", `{"kind":"Controller"}`))))
		require.NoError(t, f.proc.ProcessBlock(ctx, block(2, setPayeeRecord("2-1", `{"kind":"Staked"}`))))

		staker, err := f.mem.GetStaker(ctx, f.id(stashHex))
		require.NoError(t, err)
		assert.Equal(t, want, staker.PayeeType)
	}
}

func TestIgnoresUnhandledKinds(t *testing.T) {
	f := newFixture(t, service.StakedAsStash)
	other := models.Record{ID: "1-1", Name: "Balances.Transfer", Version: "v1", Payload: json.RawMessage(`{}`)}
	require.NoError(t, f.proc.ProcessBlock(context.Background(), block(1, other)))
	assert.Equal(t, 0, f.mem.BondCount())
}

func streamOf(t *testing.T, blocks ...models.Block) stream.Source {
	t.Helper()
	var sb strings.Builder
	for _, b := range blocks {
		line, err := json.Marshal(b)
		require.NoError(t, err)
		sb.Write(line)
		sb.WriteByte('\n')
	}
	return stream.NewJSONLines(strings.NewReader(sb.String()))
}

func TestRunReplayIsIdempotent(t *testing.T) {
	f := newFixture(t, service.StakedAsStash)
	ctx := context.Background()
	f.putBackers(9)

	blocks := []models.Block{
		block(5, nominationRecord("5-1", backer1Hex, "300")),
		block(10, collatorLeftRecord("10-4", "10-000002")),
	}
	require.NoError(t, f.proc.Run(ctx, streamOf(t, blocks...)))
	require.NoError(t, f.proc.Run(ctx, streamOf(t, blocks...)))

	assert.Equal(t, uint64(200), f.account(t, f.id(backer1Hex)).ActiveBond.Uint64())
	assert.Equal(t, 4, f.mem.BondCount())

	// the same block applied again below the checkpoint guard
	require.NoError(t, f.proc.ProcessBlock(ctx, blocks[1]))
	assert.Equal(t, uint64(200), f.account(t, f.id(backer1Hex)).ActiveBond.Uint64())
	assert.Equal(t, 4, f.mem.BondCount())
}

func TestRunStopsAtFirstError(t *testing.T) {
	f := newFixture(t, service.StakedAsStash)
	ctx := context.Background()

	err := f.proc.Run(ctx, streamOf(t,
		block(1, bondRecord("1-1", "v0", `{"kind":"Stash"}`)),
		block(2, setPayeeRecord("2-1", `{"kind":"Treasury"}`)),
		block(3, nominationRecord("3-1", backer1Hex, "1")),
	))
	assert.ErrorIs(t, err, domain.ErrUnknownDestination)

	cp, err := f.mem.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cp.Height)
	assert.Nil(t, f.account(t, f.id(backer1Hex)))
}
