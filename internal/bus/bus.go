// Package bus carries all cross-component traffic: the fan-out Bus for
// market data and pipeline events, and the FIFO signal queues consumed by
// the execution manager. Components never call each other directly.
package bus

import (
	"sync"
	"sync/atomic"
)

// Topic enumerates the fan-out channels inside the pipeline.
type Topic string

const (
	TopicMarketData   Topic = "market_data"
	TopicAuditEntry   Topic = "audit.entry"
	TopicOrderPlaced  Topic = "order.placed"
	TopicOrderFailed  Topic = "order.failed"
	TopicGateRejected Topic = "gauntlet.rejected"
	TopicKillSwitch   Topic = "risk.kill_switch"
)

// Bus is a lightweight pub/sub broker using channels. Publish never blocks:
// a subscriber that falls behind its buffer loses messages (counted) rather
// than stalling the publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Topic][]chan any
	dropped atomic.Uint64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]chan any)}
}

// Subscribe registers a listener for a topic and returns the channel and an
// unsubscribe function. The channel is closed on unsubscribe.
func (b *Bus) Subscribe(t Topic, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[t] = append(b.subs[t], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[t]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[t] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// Publish fans the payload out to subscribers without blocking.
func (b *Bus) Publish(t Topic, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[t] {
		select {
		case ch <- payload:
		default:
			// slow subscriber; drop rather than stall the publisher
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of messages lost to slow subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount reports active subscribers for a topic.
func (b *Bus) SubscriberCount(t Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[t])
}
