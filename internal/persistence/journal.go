// Package persistence journals order lifecycle events to the database.
package persistence

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"execution-core/internal/events"
	"execution-core/pkg/db"
)

// JournalMetrics provides statistics about batch writes.
type JournalMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// Journal buffers order events and writes them in batches. Events are
// written in the order they were recorded.
type Journal struct {
	db          *db.Database
	log         *zap.Logger
	buffer      []events.OrderEvent
	mu          sync.Mutex
	flushMu     sync.Mutex
	maxSize     int
	flushIntval time.Duration
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup

	totalWrites  atomic.Uint64
	totalBatches atomic.Uint64
	totalErrors  atomic.Uint64
	lastMu       sync.Mutex
	lastSize     int
	lastFlush    time.Time
}

// NewJournal creates a journal and starts its flush loop.
// maxSize: events buffered before an immediate flush
// interval: time-based flush interval
func NewJournal(database *db.Database, maxSize int, interval time.Duration, log *zap.Logger) *Journal {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}

	j := &Journal{
		db:          database,
		log:         log.Named("journal"),
		buffer:      make([]events.OrderEvent, 0, maxSize),
		maxSize:     maxSize,
		flushIntval: interval,
		done:        make(chan struct{}),
	}

	j.wg.Add(1)
	go j.backgroundFlush()

	return j
}

// Follow records every streamed order topic until ctx ends.
func (j *Journal) Follow(ctx context.Context, bus *events.Bus) {
	if bus == nil {
		return
	}
	stream, unsub := bus.SubscribeMany(events.AllOrderEvents, 256)
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case <-j.done:
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				if ev, ok := msg.(events.OrderEvent); ok {
					j.Record(ev)
				}
			}
		}
	}()
}

// Record adds one event to the batch.
func (j *Journal) Record(ev events.OrderEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	j.mu.Lock()
	j.buffer = append(j.buffer, ev)
	shouldFlush := len(j.buffer) >= j.maxSize
	j.mu.Unlock()

	if shouldFlush {
		if err := j.Flush(context.Background()); err != nil {
			j.log.Warn("flush on full buffer failed", zap.Error(err))
		}
	}
}

// Flush immediately writes all buffered events.
func (j *Journal) Flush(ctx context.Context) error {
	j.flushMu.Lock()
	defer j.flushMu.Unlock()

	j.mu.Lock()
	if len(j.buffer) == 0 {
		j.mu.Unlock()
		return nil
	}
	batch := j.buffer
	j.buffer = make([]events.OrderEvent, 0, j.maxSize)
	j.mu.Unlock()

	return j.write(ctx, batch)
}

func (j *Journal) write(ctx context.Context, batch []events.OrderEvent) error {
	rows := make([]db.OrderEventRow, 0, len(batch))
	for _, ev := range batch {
		body, err := json.Marshal(ev)
		if err != nil {
			j.totalErrors.Add(1)
			return err
		}
		rows = append(rows, db.OrderEventRow{
			Type:       string(ev.Type),
			Tier:       ev.Tier,
			OrderID:    ev.OrderID,
			ParentID:   ev.ParentID,
			Key:        ev.Key,
			Status:     ev.Status,
			Message:    ev.Message,
			Body:       body,
			OccurredAt: ev.At,
		})
	}

	j.totalWrites.Add(uint64(len(rows)))
	j.totalBatches.Add(1)
	j.lastMu.Lock()
	j.lastSize = len(rows)
	j.lastFlush = time.Now()
	j.lastMu.Unlock()

	err := j.db.RunInTx(ctx, func(ctx context.Context) error {
		return j.db.InsertOrderEvents(ctx, rows)
	})
	if err != nil {
		j.totalErrors.Add(1)
		j.log.Error("batch write failed", zap.Int("events", len(rows)), zap.Error(err))
		return err
	}
	j.log.Debug("flushed events", zap.Int("events", len(rows)))
	return nil
}

func (j *Journal) backgroundFlush() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := j.Flush(context.Background()); err != nil {
				j.log.Warn("background flush failed", zap.Error(err))
			}
		case <-j.done:
			if err := j.Flush(context.Background()); err != nil {
				j.log.Warn("final flush failed", zap.Error(err))
			}
			return
		}
	}
}

// Filter selects journaled events.
type Filter struct {
	Tier    string
	OrderID int64
	Type    events.Event
	Since   time.Time
	Limit   int
}

// Events returns journaled events, newest first. Buffered events are
// flushed first so the answer includes them.
func (j *Journal) Events(ctx context.Context, f Filter) ([]events.OrderEvent, error) {
	if err := j.Flush(ctx); err != nil {
		return nil, err
	}
	rows, err := j.db.ListOrderEvents(ctx, db.OrderEventFilter{
		Tier:    f.Tier,
		OrderID: f.OrderID,
		Type:    string(f.Type),
		Since:   f.Since,
		Limit:   f.Limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]events.OrderEvent, 0, len(rows))
	for _, r := range rows {
		var ev events.OrderEvent
		if err := json.Unmarshal(r.Body, &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// Pending returns the number of buffered events.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.buffer)
}

// GetMetrics returns the current batch statistics.
func (j *Journal) GetMetrics() JournalMetrics {
	j.lastMu.Lock()
	defer j.lastMu.Unlock()
	return JournalMetrics{
		TotalWrites:   j.totalWrites.Load(),
		TotalBatches:  j.totalBatches.Load(),
		TotalErrors:   j.totalErrors.Load(),
		LastBatchSize: j.lastSize,
		LastFlushTime: j.lastFlush,
	}
}

// Close stops the flush loop after a final flush.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() { close(j.done) })
	j.wg.Wait()
	return nil
}
