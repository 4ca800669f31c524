package venue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	waits  []time.Duration
	closed bool
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)
	if !c.closed {
		c.now = c.now.Add(d)
		ch <- c.now
	}
	return ch
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestPacerWaitsRemainderOfInterval(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	clock := &fakeClock{now: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)}
	p := NewPacer("historical", 6, time.Minute, zap.New(core)).WithClock(clock)
	require.Equal(t, 10*time.Second, p.Interval())

	var observed []time.Duration
	p.OnWait = func(d time.Duration) { observed = append(observed, d) }

	require.NoError(t, p.Wait(context.Background()))
	assert.Empty(t, clock.waits, "first call goes straight out")

	clock.advance(2 * time.Second)
	require.NoError(t, p.Wait(context.Background()))
	require.Len(t, clock.waits, 1)
	assert.InDelta(t, float64(8*time.Second), float64(clock.waits[0]), float64(50*time.Millisecond))
	assert.Equal(t, clock.waits, observed)
	assert.Equal(t, 1, logs.FilterMessage("pacing: waiting before venue call").Len())
}

func TestPacerRealClock(t *testing.T) {
	p := NewPacer("orders", 1, 80*time.Millisecond, nil)
	require.NoError(t, p.Wait(context.Background()))
	start := time.Now()
	require.NoError(t, p.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestPacerHonoursContext(t *testing.T) {
	clock := &fakeClock{now: time.Now(), closed: true}
	p := NewPacer("historical", 1, time.Hour, nil).WithClock(clock)
	require.NoError(t, p.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.Wait(ctx), context.Canceled)
}

func TestPacerDisabled(t *testing.T) {
	p := NewPacer("none", 0, time.Second, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Wait(context.Background()))
	}
	assert.Zero(t, p.Delay())
}

func TestCallConvertsTimeout(t *testing.T) {
	_, err := Call(context.Background(), 10*time.Millisecond, "slow", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	require.ErrorIs(t, err, ErrVenueTimeout)

	_, err = Call(context.Background(), time.Second, "rejected", func(ctx context.Context) (int, error) {
		return 0, ErrVenueRejected
	})
	require.ErrorIs(t, err, ErrVenueRejected)
	require.NotErrorIs(t, err, ErrVenueTimeout)
}
