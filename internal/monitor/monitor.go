package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"execution-core/internal/events"
)

// Monitor watches failure events and forwards them to an alert sink.
type Monitor struct {
	Bus  *events.Bus
	Sink AlertSink
	Log  *zap.Logger
}

// Start consumes rejection and venue error events until ctx ends.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil {
		if m.Log != nil {
			m.Log.Warn("monitor not fully configured; skipping")
		}
		return
	}
	stream, unsub := m.Bus.SubscribeMany([]events.Event{events.EventVenueError, events.EventOrderRejected}, 50)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				if err := m.Sink.Send(formatAlert(msg)); err != nil && m.Log != nil {
					m.Log.Warn("alert delivery failed", zap.Error(err))
				}
			}
		}
	}()
}

func formatAlert(msg any) string {
	stamp := "[" + time.Now().UTC().Format(time.RFC3339) + "] "
	switch t := msg.(type) {
	case events.OrderEvent:
		return stamp + fmt.Sprintf("%s %s order %d (%s): %s", t.Type, t.Tier, t.OrderID, t.Key, t.Message)
	case string:
		return stamp + t
	default:
		return stamp + "alert triggered"
	}
}
