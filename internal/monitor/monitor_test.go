package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"execution-core/internal/events"
)

type captureSink struct {
	mu   sync.Mutex
	msgs []string
}

func (c *captureSink) Send(m string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestMonitorForwardsVenueErrors(t *testing.T) {
	bus := events.NewBus()
	sink := &captureSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := &Monitor{Bus: bus, Sink: sink, Log: zap.NewNop()}
	m.Start(ctx)

	bus.Publish(events.EventOrderFilled, events.OrderEvent{Type: events.EventOrderFilled})
	bus.Publish(events.EventVenueError, events.OrderEvent{Type: events.EventVenueError, Tier: "broker", OrderID: 3, Message: "timeout"})

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 10*time.Millisecond)
	assert.Contains(t, sink.msgs[0], "broker order 3")
}

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{5, 1, 3, 2} {
		h.Record(v)
	}
	s := h.Stats()
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 3.0, s.Max)
	assert.InDelta(t, 2.0, s.Avg, 1e-9)
}
