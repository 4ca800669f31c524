package stackhandler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/broker"
	"execution-core/internal/events"
	"execution-core/internal/historic"
	"execution-core/internal/monitor"
	"execution-core/internal/order"
	"execution-core/internal/trade"
	"execution-core/pkg/db"
	"execution-core/pkg/instruments"
	"execution-core/pkg/venue"
	"execution-core/pkg/venue/paper"
)

type fixedSessions struct{ s venue.Session }

func (f fixedSessions) Acquire(ctx context.Context, account string) (venue.Session, error) {
	return f.s, nil
}

func (fixedSessions) Report(string, error) {}

type fixture struct {
	h       *Handler
	venue   *paper.Venue
	history *historic.Store
	cfg     *instruments.Config
	gw      *broker.Gateway
	bus     *events.Bus
}

func newFixture(t *testing.T, manualFills bool) fixture {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))

	cfg, err := instruments.New(
		instruments.Instrument{Code: "GOLD", Symbol: "GC", Exchange: "COMEX", Currency: "USD", Multiplier: "100", PriceContract: "202406", ForwardContract: "202408"},
	)
	require.NoError(t, err)

	pc := paper.DefaultConfig()
	pc.ManualFills = manualFills
	v := paper.New(pc, nil)
	v.ListContract(venue.Contract{ID: "gc-jun", Symbol: "GC", Exchange: "COMEX", Currency: "USD", Multiplier: "100", LastTradeDate: "20240626"}, 2300)
	v.ListContract(venue.Contract{ID: "gc-aug", Symbol: "GC", Exchange: "COMEX", Currency: "USD", Multiplier: "100", LastTradeDate: "20240828"}, 2320)

	sessions := fixedSessions{s: venue.Session{Venue: v, Account: "DU1", ClientID: 101}}
	gw := broker.NewGateway(sessions, broker.NewContractResolver(cfg, 0, nil), venue.NewPacer("history", 0, 0, nil), broker.Options{Account: "DU1", Timeout: time.Second}, nil)

	history := historic.NewStore(database)
	bus := events.NewBus()
	h := New(database, NewStacks(database, history, nil), gw, &RollSelector{Instruments: cfg, Positions: gw, Account: "DU1"}, bus, nil)
	return fixture{h: h, venue: v, history: history, cfg: cfg, gw: gw, bus: bus}
}

func (f fixture) putInstrument(t *testing.T, qty int64) int64 {
	t.Helper()
	o, err := order.NewInstrumentOrder("trend", "GOLD", qty, order.TypeMarket)
	require.NoError(t, err)
	id, err := f.h.PutInstrumentOrder(context.Background(), o, false)
	require.NoError(t, err)
	return id
}

// spawnOne puts an instrument order and returns it with its single child.
func (f fixture) spawnOne(t *testing.T, qty int64) (int64, int64) {
	t.Helper()
	id := f.putInstrument(t, qty)
	kids, err := f.h.SpawnContractOrders(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, kids, 1)
	return id, kids[0]
}

func TestSpawnIsIdempotent(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	spawned, unsub := f.bus.Subscribe(events.EventOrderSpawned, 4)
	defer unsub()

	id := f.putInstrument(t, 3)
	first, err := f.h.SpawnContractOrders(ctx, id)
	require.NoError(t, err)
	require.Len(t, first, 1)
	again, err := f.h.SpawnContractOrders(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	co, err := f.h.Stacks().Contracts.Get(ctx, first[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"20240600"}, co.ContractDates)
	assert.Equal(t, trade.NewQuantity(3), co.Trade)
	assert.Equal(t, id, co.ParentID)

	all, err := f.h.Stacks().Contracts.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	select {
	case ev := <-spawned:
		assert.Equal(t, first[0], ev.(events.OrderEvent).OrderID)
	default:
		t.Fatal("no spawn event")
	}
}

func TestExecuteFillAndComplete(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	instrumentID, contractID := f.spawnOne(t, 3)

	brokerID, err := f.h.ExecuteContractOrder(ctx, contractID, "market-algo")
	require.NoError(t, err)

	bo, err := f.h.Stacks().Brokers.Get(ctx, brokerID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusSubmitted, bo.Status)
	assert.NotEmpty(t, bo.BrokerPermID)
	assert.Equal(t, "DU1", bo.Account)
	assert.Equal(t, contractID, bo.ParentID)

	require.ErrorIs(t, f.h.CompleteOrderFamily(ctx, instrumentID, false), ErrNotComplete)

	require.NoError(t, f.h.PollBrokerFill(ctx, brokerID))
	bo, err = f.h.Stacks().Brokers.Get(ctx, brokerID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusFilled, bo.Status)
	require.NotNil(t, bo.FillPrice)
	assert.Equal(t, 2300.0, *bo.FillPrice)
	require.Len(t, bo.Commission, 1)
	assert.Equal(t, "6.75", bo.Commission[0].Value.String())

	co, err := f.h.Stacks().Contracts.Get(ctx, contractID)
	require.NoError(t, err)
	assert.Equal(t, trade.NewQuantity(3), co.Fill)
	assert.True(t, co.Locked)
	io, err := f.h.Stacks().Instruments.Get(ctx, instrumentID)
	require.NoError(t, err)
	assert.Equal(t, trade.NewQuantity(3), io.Fill)
	require.NotNil(t, io.FillPrice)
	assert.Equal(t, 2300.0, *io.FillPrice)

	n, err := f.h.CompleteFinishedOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	active, err := f.h.Stacks().Instruments.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	archived, err := f.history.Get(ctx, order.TierBroker, brokerID)
	require.NoError(t, err)
	assert.False(t, archived.Common().Active)
}

func TestPartialFillsAccumulate(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	instrumentID, contractID := f.spawnOne(t, 5)

	brokerID, err := f.h.ExecuteContractOrder(ctx, contractID, "algo")
	require.NoError(t, err)
	bo, err := f.h.Stacks().Brokers.Get(ctx, brokerID)
	require.NoError(t, err)

	require.NoError(t, f.venue.Fill(bo.BrokerPermID, 3, nil))
	require.NoError(t, f.h.PollBrokerFill(ctx, brokerID))
	require.NoError(t, f.venue.Fill(bo.BrokerPermID, 2, nil))
	require.NoError(t, f.h.PollBrokerFill(ctx, brokerID))

	io, err := f.h.Stacks().Instruments.Get(ctx, instrumentID)
	require.NoError(t, err)
	assert.Equal(t, trade.NewQuantity(5), io.Fill)

	err = f.h.UpdateBrokerFill(ctx, brokerID, trade.NewQuantity(1), nil, time.Now(), nil)
	require.ErrorIs(t, err, order.ErrInvalidFillQuantity)
	co, err := f.h.Stacks().Contracts.Get(ctx, contractID)
	require.NoError(t, err)
	assert.Equal(t, trade.NewQuantity(5), co.Fill)
}

func TestTwoBrokerChildrenSumFills(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	instrumentID, contractID := f.spawnOne(t, 5)

	first, err := f.h.ExecuteContractOrder(ctx, contractID, "algo")
	require.NoError(t, err)
	bo, err := f.h.Stacks().Brokers.Get(ctx, first)
	require.NoError(t, err)
	require.NoError(t, f.venue.Fill(bo.BrokerPermID, 3, nil))
	require.NoError(t, f.h.PollBrokerFill(ctx, first))
	require.NoError(t, f.h.CancelBrokerOrder(ctx, first))

	second, err := f.h.ExecuteContractOrder(ctx, contractID, "algo")
	require.NoError(t, err)
	bo, err = f.h.Stacks().Brokers.Get(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, trade.NewQuantity(2), bo.Trade)
	require.NoError(t, f.venue.Fill(bo.BrokerPermID, 2, nil))
	require.NoError(t, f.h.PollBrokerFill(ctx, second))

	co, err := f.h.Stacks().Contracts.Get(ctx, contractID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{first, second}, co.Children())
	assert.Equal(t, trade.NewQuantity(5), co.Fill)
	io, err := f.h.Stacks().Instruments.Get(ctx, instrumentID)
	require.NoError(t, err)
	assert.Equal(t, trade.NewQuantity(5), io.Fill)
	require.NoError(t, f.h.CompleteOrderFamily(ctx, instrumentID, false))
}

func TestPollArchivesOrderCancelledAtVenue(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	cancelled, unsub := f.bus.Subscribe(events.EventOrderCancelled, 4)
	defer unsub()
	instrumentID, contractID := f.spawnOne(t, 3)

	brokerID, err := f.h.ExecuteContractOrder(ctx, contractID, "algo")
	require.NoError(t, err)
	bo, err := f.h.Stacks().Brokers.Get(ctx, brokerID)
	require.NoError(t, err)
	require.NoError(t, f.venue.Fill(bo.BrokerPermID, 1, nil))
	require.NoError(t, f.venue.CancelOrder(ctx, venue.OrderHandle{PermID: bo.BrokerPermID}))

	require.NoError(t, f.h.PollBrokerFill(ctx, brokerID))

	bo, err = f.h.Stacks().Brokers.Get(ctx, brokerID)
	require.NoError(t, err)
	assert.False(t, bo.Active)
	assert.Equal(t, order.StatusCancelled, bo.Status)
	assert.Equal(t, trade.NewQuantity(1), bo.Fill)

	co, err := f.h.Stacks().Contracts.Get(ctx, contractID)
	require.NoError(t, err)
	assert.Equal(t, trade.NewQuantity(1), co.Fill)
	assert.False(t, co.Locked)
	assert.Empty(t, co.Controller)

	select {
	case ev := <-cancelled:
		assert.Equal(t, "cancelled at venue", ev.(events.OrderEvent).Message)
	default:
		t.Fatal("no cancel event")
	}

	working, err := f.h.WorkingBrokerOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, working)

	next, err := f.h.ExecuteContractOrder(ctx, contractID, "algo")
	require.NoError(t, err)
	nb, err := f.h.Stacks().Brokers.Get(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, trade.NewQuantity(2), nb.Trade)
	require.NoError(t, f.h.CancelBrokerOrder(ctx, next))
	require.NoError(t, f.h.CompleteOrderFamily(ctx, instrumentID, true))
}

func TestCancelOrderAlreadyCancelledAtVenue(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	instrumentID, contractID := f.spawnOne(t, 2)

	brokerID, err := f.h.ExecuteContractOrder(ctx, contractID, "algo")
	require.NoError(t, err)
	bo, err := f.h.Stacks().Brokers.Get(ctx, brokerID)
	require.NoError(t, err)
	require.NoError(t, f.venue.CancelOrder(ctx, venue.OrderHandle{PermID: bo.BrokerPermID}))

	require.NoError(t, f.h.CancelBrokerOrder(ctx, brokerID))

	bo, err = f.h.Stacks().Brokers.Get(ctx, brokerID)
	require.NoError(t, err)
	assert.False(t, bo.Active)
	assert.Equal(t, order.StatusCancelled, bo.Status)
	co, err := f.h.Stacks().Contracts.Get(ctx, contractID)
	require.NoError(t, err)
	assert.False(t, co.Locked)
	require.NoError(t, f.h.CompleteOrderFamily(ctx, instrumentID, true))
}

func TestCancelOrderFilledBeforePoll(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	instrumentID, contractID := f.spawnOne(t, 3)

	brokerID, err := f.h.ExecuteContractOrder(ctx, contractID, "algo")
	require.NoError(t, err)
	bo, err := f.h.Stacks().Brokers.Get(ctx, brokerID)
	require.NoError(t, err)
	require.NoError(t, f.venue.Fill(bo.BrokerPermID, 3, nil))

	require.NoError(t, f.h.CancelBrokerOrder(ctx, brokerID))

	bo, err = f.h.Stacks().Brokers.Get(ctx, brokerID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusFilled, bo.Status)
	assert.Equal(t, trade.NewQuantity(3), bo.Fill)
	io, err := f.h.Stacks().Instruments.Get(ctx, instrumentID)
	require.NoError(t, err)
	assert.Equal(t, trade.NewQuantity(3), io.Fill)
	require.NoError(t, f.h.CompleteOrderFamily(ctx, instrumentID, false))
}

func TestFillCountedOncePerTier(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	before := monitor.Default.GetSnapshot()
	instrumentID := f.putInstrument(t, 2)
	assert.Equal(t, before.OrdersPut+1, monitor.Default.GetSnapshot().OrdersPut)

	kids, err := f.h.SpawnContractOrders(ctx, instrumentID)
	require.NoError(t, err)
	brokerID, err := f.h.ExecuteContractOrder(ctx, kids[0], "algo")
	require.NoError(t, err)

	before = monitor.Default.GetSnapshot()
	require.NoError(t, f.h.PollBrokerFill(ctx, brokerID))
	// contract and instrument
	assert.Equal(t, before.FillsApplied+2, monitor.Default.GetSnapshot().FillsApplied)
}

func TestExecuteTwiceIsRefused(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, contractID := f.spawnOne(t, 2)

	_, err := f.h.ExecuteContractOrder(ctx, contractID, "algo")
	require.NoError(t, err)
	_, err = f.h.ExecuteContractOrder(ctx, contractID, "other")
	require.ErrorIs(t, err, order.ErrLockedOrder)
}

func TestSubmitFailureReleasesContract(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	_, contractID := f.spawnOne(t, 2)

	f.venue.FailNext("SubmitOrder", venue.ErrVenueRejected)
	brokerID, err := f.h.ExecuteContractOrder(ctx, contractID, "algo")
	require.ErrorIs(t, err, venue.ErrVenueRejected)

	bo, err := f.h.Stacks().Brokers.Get(ctx, brokerID)
	require.NoError(t, err)
	assert.False(t, bo.Active)
	assert.Equal(t, order.StatusUnsubmitted, bo.Status)

	co, err := f.h.Stacks().Contracts.Get(ctx, contractID)
	require.NoError(t, err)
	assert.False(t, co.Locked)
	assert.Empty(t, co.Controller)

	_, err = f.h.ExecuteContractOrder(ctx, contractID, "algo")
	require.NoError(t, err)
}

func TestCancelKeepsPartialFill(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	instrumentID, contractID := f.spawnOne(t, 3)

	brokerID, err := f.h.ExecuteContractOrder(ctx, contractID, "algo")
	require.NoError(t, err)
	bo, err := f.h.Stacks().Brokers.Get(ctx, brokerID)
	require.NoError(t, err)
	require.NoError(t, f.venue.Fill(bo.BrokerPermID, 1, nil))

	require.ErrorIs(t, f.h.CompleteOrderFamily(ctx, instrumentID, true), ErrChildWorking)
	require.NoError(t, f.h.CancelBrokerOrder(ctx, brokerID))

	bo, err = f.h.Stacks().Brokers.Get(ctx, brokerID)
	require.NoError(t, err)
	assert.False(t, bo.Active)
	assert.Equal(t, order.StatusCancelled, bo.Status)
	assert.Equal(t, trade.NewQuantity(1), bo.Fill)

	co, err := f.h.Stacks().Contracts.Get(ctx, contractID)
	require.NoError(t, err)
	assert.Equal(t, trade.NewQuantity(1), co.Fill)
	assert.False(t, co.Locked)
	assert.Empty(t, co.Controller)

	next, err := f.h.ExecuteContractOrder(ctx, contractID, "algo")
	require.NoError(t, err)
	nb, err := f.h.Stacks().Brokers.Get(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, trade.NewQuantity(2), nb.Trade)

	require.NoError(t, f.h.CancelBrokerOrder(ctx, next))
	require.NoError(t, f.h.CompleteOrderFamily(ctx, instrumentID, true))
}

func TestManualFill(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	instrumentID, contractID := f.spawnOne(t, 3)

	_, err := f.h.ManualFill(ctx, contractID, trade.NewQuantity(4), 2310)
	require.ErrorIs(t, err, order.ErrInvalidFillQuantity)

	brokerID, err := f.h.ManualFill(ctx, contractID, trade.NewQuantity(2), 2310)
	require.NoError(t, err)
	bo, err := f.h.Stacks().Brokers.Get(ctx, brokerID)
	require.NoError(t, err)
	assert.True(t, bo.ManualFill)
	assert.Equal(t, order.StatusFilled, bo.Status)

	io, err := f.h.Stacks().Instruments.Get(ctx, instrumentID)
	require.NoError(t, err)
	assert.Equal(t, trade.NewQuantity(2), io.Fill)
	require.NotNil(t, io.FillPrice)
	assert.Equal(t, 2310.0, *io.FillPrice)
}

func TestRollSpreadExecutesAndSplits(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	r := NewRoller(f.h, f.cfg, f.gw, "DU1")

	_, _, err := r.CreateRollOrders(ctx, "GOLD", 0, true)
	require.ErrorIs(t, err, ErrNothingToExecute)

	parentID, kids, err := r.CreateRollOrders(ctx, "GOLD", 4, true)
	require.NoError(t, err)
	require.Len(t, kids, 1)

	parent, err := f.h.Stacks().Instruments.Get(ctx, parentID)
	require.NoError(t, err)
	assert.True(t, parent.RollOrder)
	assert.True(t, parent.IsZeroTrade())

	spread, err := f.h.Stacks().Contracts.Get(ctx, kids[0])
	require.NoError(t, err)
	assert.Equal(t, trade.NewQuantity(-4, 4), spread.Trade)

	brokerID, err := f.h.ExecuteContractOrder(ctx, kids[0], "algo")
	require.NoError(t, err)
	require.NoError(t, f.h.PollBrokerFill(ctx, brokerID))

	spread, err = f.h.Stacks().Contracts.Get(ctx, kids[0])
	require.NoError(t, err)
	assert.Equal(t, trade.NewQuantity(-4, 4), spread.Fill)
	parent, err = f.h.Stacks().Instruments.Get(ctx, parentID)
	require.NoError(t, err)
	assert.True(t, parent.Fill.IsZero())

	require.NoError(t, f.h.CompleteOrderFamily(ctx, parentID, false))
	require.NoError(t, r.FinishRoll("GOLD", "202410"))
	in, err := f.cfg.Get("GOLD")
	require.NoError(t, err)
	assert.Equal(t, "20240800", in.PriceContract)
	assert.Equal(t, instruments.RollNone, in.RollState)
}

func TestRollAlongsideStrategyOrder(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	r := NewRoller(f.h, f.cfg, f.gw, "DU1")
	f.spawnOne(t, 2)

	parentID, kids, err := r.CreateRollOrders(ctx, "GOLD", 4, false)
	require.NoError(t, err)
	require.Len(t, kids, 2)

	parent, err := f.h.Stacks().Instruments.Get(ctx, parentID)
	require.NoError(t, err)
	assert.Equal(t, RollStrategy, parent.Strategy)
	for _, id := range kids {
		co, err := f.h.Stacks().Contracts.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, RollStrategy, co.Strategy)
	}

	_, _, err = r.CreateRollOrders(ctx, "GOLD", 4, false)
	require.ErrorIs(t, err, order.ErrDuplicateOrder)
}

func TestSplitSpreadOrder(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	r := NewRoller(f.h, f.cfg, f.gw, "DU1")

	parentID, kids, err := r.CreateRollOrders(ctx, "GOLD", 2, true)
	require.NoError(t, err)

	legs, err := f.h.SplitSpreadOrder(ctx, kids[0])
	require.NoError(t, err)
	require.Len(t, legs, 2)

	original, err := f.h.Stacks().Contracts.Get(ctx, kids[0])
	require.NoError(t, err)
	assert.False(t, original.Active)

	first, err := f.h.Stacks().Contracts.Get(ctx, legs[0])
	require.NoError(t, err)
	assert.Equal(t, trade.NewQuantity(-2), first.Trade)
	assert.Equal(t, kids[0], first.SplitFrom)
	assert.True(t, first.RollOrder)

	parent, err := f.h.Stacks().Instruments.Get(ctx, parentID)
	require.NoError(t, err)
	assert.ElementsMatch(t, append(kids, legs...), parent.Children())

	_, err = f.h.SplitSpreadOrder(ctx, legs[0])
	require.Error(t, err)
}
