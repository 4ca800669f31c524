package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/events"
	"execution-core/pkg/db"
)

func newJournal(t *testing.T, maxSize int, interval time.Duration) *Journal {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	j := NewJournal(database, maxSize, interval, nil)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalFlushesWhenFull(t *testing.T) {
	j := newJournal(t, 2, time.Hour)

	j.Record(events.OrderEvent{Type: events.EventOrderPut, Tier: "instrument", OrderID: 1, Key: "trend/GOLD"})
	assert.Equal(t, 1, j.Pending())
	j.Record(events.OrderEvent{Type: events.EventOrderSpawned, Tier: "instrument", OrderID: 1, Key: "trend/GOLD"})
	assert.Equal(t, 0, j.Pending())

	m := j.GetMetrics()
	assert.Equal(t, uint64(2), m.TotalWrites)
	assert.Equal(t, uint64(1), m.TotalBatches)
	assert.Equal(t, 2, m.LastBatchSize)
}

func TestJournalEventsIncludeBuffered(t *testing.T) {
	j := newJournal(t, 100, time.Hour)
	ctx := context.Background()

	price := 2301.5
	j.Record(events.OrderEvent{Type: events.EventOrderPut, Tier: "contract", OrderID: 3, Key: "trend/GOLD/20240600", Trade: []int64{2}})
	j.Record(events.OrderEvent{Type: events.EventOrderFilled, Tier: "contract", OrderID: 3, Key: "trend/GOLD/20240600", Fill: []int64{2}, Price: &price})
	j.Record(events.OrderEvent{Type: events.EventOrderPut, Tier: "contract", OrderID: 4, Key: "carry/GOLD/20240600"})

	got, err := j.Events(ctx, Filter{Tier: "contract", OrderID: 3})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, events.EventOrderFilled, got[0].Type)
	require.NotNil(t, got[0].Price)
	assert.Equal(t, price, *got[0].Price)
	assert.Equal(t, []int64{2}, got[0].Fill)

	fills, err := j.Events(ctx, Filter{Type: events.EventOrderFilled})
	require.NoError(t, err)
	assert.Len(t, fills, 1)
}

func TestJournalFollowsBus(t *testing.T) {
	j := newJournal(t, 100, 10*time.Millisecond)
	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	j.Follow(ctx, bus)
	bus.Publish(events.EventOrderSubmitted, events.OrderEvent{Type: events.EventOrderSubmitted, Tier: "broker", OrderID: 9, Key: "trend/GOLD/20240600"})

	require.Eventually(t, func() bool {
		got, err := j.Events(ctx, Filter{Tier: "broker"})
		return err == nil && len(got) == 1
	}, time.Second, 10*time.Millisecond)
}
