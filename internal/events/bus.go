package events

import (
	"sync"
	"sync/atomic"
)

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Event][]chan any
	dropped atomic.Uint64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan any)}
}

// Subscribe registers a listener for an event and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	return b.SubscribeMany([]Event{e}, buffer)
}

// SubscribeMany delivers several topics on one channel.
func (b *Bus) SubscribeMany(topics []Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	for _, e := range topics {
		b.subs[e] = append(b.subs[e], ch)
	}

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, e := range topics {
				subs := b.subs[e]
				for i, c := range subs {
					if c == ch {
						b.subs[e] = append(subs[:i], subs[i+1:]...)
						break
					}
				}
			}
			close(ch)
		})
	}

	return ch, unsub
}

// Publish fans the payload out without blocking; slow subscribers miss it.
func (b *Bus) Publish(e Event, payload any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped counts deliveries skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }
