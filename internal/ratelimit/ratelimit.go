// Package ratelimit implements the decaying token bucket used to model
// exchange request quotas: the counter rises with each accepted request and
// decays continuously with wall-clock time. Requests are accepted only while
// counter+cost stays at or under capacity.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Kraken starter-tier defaults.
const (
	DefaultCapacity  = 20.0
	DefaultDecayRate = 0.5 // points per second
)

// maxPoll bounds each sleep inside WaitForToken so cancellation is observed
// promptly even when the computed wait is long.
const maxPoll = 100 * time.Millisecond

// Bucket is a decaying token bucket. One instance per exchange/API key;
// safe for concurrent use.
type Bucket struct {
	mu         sync.Mutex
	capacity   float64
	decayRate  float64
	counter    float64
	lastUpdate time.Time

	now func() time.Time // overridable for tests
}

// State is a point-in-time view of the bucket, for metrics and the ops API.
type State struct {
	Counter   float64 `json:"counter"`
	Capacity  float64 `json:"capacity"`
	DecayRate float64 `json:"decay_rate"`
}

// NewBucket builds a bucket; non-positive arguments take the Kraken defaults.
func NewBucket(capacity, decayRate float64) *Bucket {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if decayRate <= 0 {
		decayRate = DefaultDecayRate
	}
	b := &Bucket{
		capacity:  capacity,
		decayRate: decayRate,
		now:       time.Now,
	}
	b.lastUpdate = b.now()
	return b
}

// Consume decays the counter for the elapsed wall-clock time, then accepts
// the request iff counter+cost fits under capacity. Decay and accept happen
// in one critical section.
func (b *Bucket) Consume(cost float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.decayLocked()
	if b.counter+cost <= b.capacity {
		b.counter += cost
		return true
	}
	return false
}

// WaitForToken blocks until Consume(cost) succeeds or ctx is cancelled.
// Between attempts it sleeps the time the counter needs to decay below
// capacity, capped at maxPoll. A cost above capacity can never be served.
func (b *Bucket) WaitForToken(ctx context.Context, cost float64) error {
	if cost > b.capacity {
		return fmt.Errorf("cost %.2f exceeds bucket capacity %.2f", cost, b.capacity)
	}

	for {
		if b.Consume(cost) {
			return nil
		}

		b.mu.Lock()
		needed := b.counter + cost - b.capacity
		b.mu.Unlock()

		wait := time.Duration(needed / b.decayRate * float64(time.Second))
		if wait < 0 {
			wait = 0
		}
		if wait > maxPoll {
			wait = maxPoll
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Snapshot returns the decayed current state.
func (b *Bucket) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decayLocked()
	return State{Counter: b.counter, Capacity: b.capacity, DecayRate: b.decayRate}
}

// decayLocked applies elapsed decay. Caller holds b.mu.
func (b *Bucket) decayLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastUpdate).Seconds()
	if elapsed > 0 {
		b.counter -= elapsed * b.decayRate
		if b.counter < 0 {
			b.counter = 0
		}
	}
	b.lastUpdate = now
}
