package paper

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/pkg/venue"
)

func newVenue(t *testing.T, cfg Config) *Venue {
	t.Helper()
	v := New(cfg, nil)
	v.ListContract(venue.Contract{ID: "1001", Symbol: "GC", Exchange: "COMEX", Currency: "USD", Multiplier: "100", LastTradeDate: "20240626"}, 2300)
	v.ListContract(venue.Contract{ID: "1002", Symbol: "GC", Exchange: "COMEX", Currency: "USD", Multiplier: "100", LastTradeDate: "20240828"}, 2320)
	return v
}

func TestResolveByMonth(t *testing.T) {
	v := newVenue(t, DefaultConfig())
	got, err := v.ResolveContract(context.Background(), venue.ContractSpec{Symbol: "GC", Exchange: "COMEX", ContractMonth: "202406"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1001", got[0].ID)

	got, err = v.ResolveContract(context.Background(), venue.ContractSpec{Symbol: "GC", ContractMonth: "202407"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMarketOrderFillsImmediately(t *testing.T) {
	v := newVenue(t, DefaultConfig())
	v.SetClientID(101)
	ctx := context.Background()

	h, err := v.SubmitOrder(ctx, venue.OrderRequest{Contract: venue.Contract{ID: "1001"}, Quantity: 2, Type: venue.OrderTypeMarket, Account: "DU1"})
	require.NoError(t, err)
	assert.Equal(t, 101, h.ClientID)
	assert.Equal(t, "Filled", h.Status)

	execs, err := v.Executions(ctx, h)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, int64(2), execs[0].Quantity)
	assert.True(t, execs[0].Commission.Equal(decimal.RequireFromString("4.5")))

	pos, err := v.Positions(ctx, "DU1")
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, int64(2), pos[0].Quantity)
}

func TestComboFillsEveryLeg(t *testing.T) {
	v := newVenue(t, DefaultConfig())
	ctx := context.Background()

	h, err := v.SubmitOrder(ctx, venue.OrderRequest{
		Legs:     []venue.ComboLeg{{ContractID: "1001", Ratio: -1}, {ContractID: "1002", Ratio: 1}},
		Quantity: 3,
		Type:     venue.OrderTypeMarket,
		Account:  "DU1",
	})
	require.NoError(t, err)
	execs, err := v.Executions(ctx, h)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, int64(-3), execs[0].Quantity)
	assert.Equal(t, int64(3), execs[1].Quantity)
}

func TestManualFillsAndCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ManualFills = true
	v := newVenue(t, cfg)
	ctx := context.Background()

	h, err := v.SubmitOrder(ctx, venue.OrderRequest{Contract: venue.Contract{ID: "1001"}, Quantity: -5, Type: venue.OrderTypeMarket, Account: "DU1"})
	require.NoError(t, err)
	assert.Equal(t, "Submitted", h.Status)

	require.Error(t, v.Fill(h.PermID, 2, nil), "wrong sign")
	require.NoError(t, v.Fill(h.PermID, -2, nil))
	require.Error(t, v.Fill(h.PermID, -4, nil), "more than remaining")

	open, err := v.OpenOrders(ctx, "DU1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, int64(-2), open[0].Filled)

	require.NoError(t, v.CancelOrder(ctx, h))
	require.ErrorIs(t, v.CancelOrder(ctx, h), venue.ErrVenueRejected)
	open, err = v.OpenOrders(ctx, "DU1")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestLimitOrderWaitsForMark(t *testing.T) {
	v := newVenue(t, DefaultConfig())
	ctx := context.Background()
	limit := 2290.0

	h, err := v.SubmitOrder(ctx, venue.OrderRequest{Contract: venue.Contract{ID: "1001"}, Quantity: 1, Type: venue.OrderTypeLimit, LimitPrice: &limit})
	require.NoError(t, err)
	assert.Equal(t, "Submitted", h.Status)

	_, err = v.SubmitOrder(ctx, venue.OrderRequest{Contract: venue.Contract{ID: "1001"}, Quantity: 1, Type: venue.OrderTypeLimit})
	require.ErrorIs(t, err, venue.ErrVenueRejected)
	_, err = v.SubmitOrder(ctx, venue.OrderRequest{Contract: venue.Contract{ID: "9999"}, Quantity: 1, Type: venue.OrderTypeMarket})
	require.ErrorIs(t, err, venue.ErrVenueRejected)
}

func TestFailureInjection(t *testing.T) {
	v := newVenue(t, DefaultConfig())
	boom := errors.New("socket closed")
	v.FailNext("Positions", boom)

	_, err := v.Positions(context.Background(), "DU1")
	require.ErrorIs(t, err, boom)
	_, err = v.Positions(context.Background(), "DU1")
	require.NoError(t, err)
}

func TestAccountSummaryTracksCash(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CommissionPerContract = decimal.Zero
	v := newVenue(t, cfg)
	ctx := context.Background()

	_, err := v.SubmitOrder(ctx, venue.OrderRequest{Contract: venue.Contract{ID: "1001"}, Quantity: 1, Type: venue.OrderTypeMarket, Account: "DU1"})
	require.NoError(t, err)

	vals, err := v.AccountSummary(ctx, "DU1")
	require.NoError(t, err)
	require.Len(t, vals, 2)
	assert.True(t, vals[0].Value.Equal(decimal.NewFromInt(1_000_000-230_000)), vals[0].Value.String())
	assert.True(t, vals[1].Value.Equal(decimal.NewFromInt(1_000_000)), vals[1].Value.String())
}
