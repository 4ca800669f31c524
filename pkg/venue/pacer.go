package venue

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Clock is the time source a Pacer waits on.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock uses the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Pacer spaces rate-limited calls so the venue's "calls per window" budget is
// never exceeded. Waiting is the only effect; calls are never dropped.
type Pacer struct {
	name     string
	interval time.Duration
	lim      *rate.Limiter
	clock    Clock
	log      *zap.Logger

	// OnWait, if set, is told about every wait.
	OnWait func(time.Duration)
}

// NewPacer allows calls per window, evenly spaced. calls <= 0 disables
// pacing.
func NewPacer(name string, calls int, window time.Duration, log *zap.Logger) *Pacer {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pacer{name: name, clock: RealClock{}, log: log}
	if calls > 0 && window > 0 {
		p.interval = window / time.Duration(calls)
		p.lim = rate.NewLimiter(rate.Every(p.interval), 1)
	}
	return p
}

// WithClock swaps the time source.
func (p *Pacer) WithClock(c Clock) *Pacer {
	p.clock = c
	return p
}

// Interval is the minimum spacing between calls.
func (p *Pacer) Interval() time.Duration { return p.interval }

// Wait blocks until the next call may go out, or ctx ends.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.lim == nil {
		return nil
	}
	now := p.clock.Now()
	r := p.lim.ReserveN(now, 1)
	if !r.OK() {
		return nil
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}

	p.log.Warn("pacing: waiting before venue call",
		zap.String("pacer", p.name),
		zap.Duration("wait", delay),
		zap.Duration("interval", p.interval))
	if p.OnWait != nil {
		p.OnWait(delay)
	}

	select {
	case <-ctx.Done():
		r.CancelAt(p.clock.Now())
		return ctx.Err()
	case <-p.clock.After(delay):
		return nil
	}
}

// Delay reports how long a call made now would wait, without reserving.
func (p *Pacer) Delay() time.Duration {
	if p == nil || p.lim == nil {
		return 0
	}
	now := p.clock.Now()
	r := p.lim.ReserveN(now, 1)
	defer r.CancelAt(now)
	return r.DelayFrom(now)
}
