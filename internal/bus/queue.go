package bus

import (
	"context"
	"errors"
	"sync"

	"signal-core/internal/trade"
)

var (
	// ErrQueueFull is returned when a bounded queue cannot accept a signal.
	ErrQueueFull = errors.New("signal queue full")
	// ErrQueueClosed is returned when publishing to a closed queue.
	ErrQueueClosed = errors.New("signal queue closed")
)

// Queue is the FIFO conduit between strategy agents (producers) and the
// execution manager (single consumer). Implementations preserve publish
// order for a single producer.
type Queue interface {
	// Publish appends a signal without blocking. A full queue returns
	// ErrQueueFull; the producer decides whether to drop or re-emit.
	Publish(sig trade.Signal) error
	// Chan exposes the consume side. The channel closes when the queue does.
	Chan() <-chan trade.Signal
	// MarkComplete acknowledges a dequeued signal once processing ends.
	// Durable queues strike it from the redelivery log; memory queues no-op.
	MarkComplete(sig trade.Signal)
	// Drain consumes signals until the context is cancelled or the queue
	// is closed and empty, invoking handler for each.
	Drain(ctx context.Context, handler func(trade.Signal))
	// Len reports the number of buffered signals.
	Len() int
	// Close stops the queue. Pending signals remain readable from Chan.
	Close()
}

// MemoryQueue is the in-process Queue used for live runs on a single host.
type MemoryQueue struct {
	ch     chan trade.Signal
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a bounded in-memory queue.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 100
	}
	return &MemoryQueue{ch: make(chan trade.Signal, size)}
}

// Publish appends a signal. It never blocks the producer.
func (q *MemoryQueue) Publish(sig trade.Signal) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- sig:
		return nil
	default:
		return ErrQueueFull
	}
}

// Chan returns the consume channel.
func (q *MemoryQueue) Chan() <-chan trade.Signal {
	return q.ch
}

// MarkComplete is a no-op; a memory queue keeps no delivery log.
func (q *MemoryQueue) MarkComplete(trade.Signal) {}

// Len reports the number of buffered signals.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Drain consumes signals until ctx is done or the queue closes.
func (q *MemoryQueue) Drain(ctx context.Context, handler func(trade.Signal)) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-q.ch:
			if !ok {
				return
			}
			handler(sig)
		}
	}
}

// Close marks the queue closed. Publishing afterwards fails; buffered
// signals stay readable.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
