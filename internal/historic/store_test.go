package historic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/order"
	"execution-core/internal/trade"
	"execution-core/pkg/db"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	return NewStore(database)
}

func TestArchiveAndLookup(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	o, err := order.NewContractOrder("trend", "GOLD", []string{"202406"}, trade.NewQuantity(2), order.TypeMarket)
	require.NoError(t, err)
	require.NoError(t, o.SetOrderID(5))
	p := 2301.5
	require.NoError(t, o.SetFill(trade.NewQuantity(2), &p, time.Now()))
	o.Deactivate()

	require.NoError(t, s.Archive(ctx, o))
	require.Error(t, s.Archive(ctx, o), "order ids are archived once")

	got, err := s.Get(ctx, order.TierContract, 5)
	require.NoError(t, err)
	assert.Equal(t, o.Key(), got.Key())
	assert.False(t, got.Common().Active)

	_, err = s.Get(ctx, order.TierContract, 6)
	require.ErrorIs(t, err, order.ErrMissingOrder)

	list, err := s.List(ctx, order.TierContract, Scope{Strategy: "trend", Instrument: "GOLD", Contract: "20240600"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	fills, err := s.Fills(ctx, order.TierContract, Scope{Strategy: "trend", Instrument: "GOLD"})
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, int64(2), fills[0].Qty)
	assert.Equal(t, 2301.5, fills[0].Price)
}
