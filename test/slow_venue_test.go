package main

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"signal-core/internal/audit"
	"signal-core/internal/bus"
	"signal-core/internal/execution"
	"signal-core/internal/trade"
	"signal-core/pkg/db"
	"signal-core/pkg/exchange/common"
)

// TestSlowVenueTimesOut runs a submission into a gateway slower than the
// submit deadline. The reservation must come back, the order row must be
// marked failed, and the signal id stays burned: at-most-once means a
// failed submission is re-emitted under a new id, never retried blind.
func TestSlowVenueTimesOut(t *testing.T) {
	p := newPipeline(t, func(o *pipelineOpts) {
		o.paper.LatencyMinMs = 300
		o.paper.LatencyMaxMs = 400
		o.exec.SubmitTimeout = 50 * time.Millisecond
	})
	p.tick(time.Now().UTC(), 50000, 49999, 50001, 5)

	failures, unsub := p.events.Subscribe(bus.TopicOrderFailed, 4)
	defer unsub()

	sig := trade.NewSignal("manual", p.symbol, trade.SideBuy, 0.002)
	sig.Price = 50010
	sig.AssetClass = trade.AssetCrypto
	if err := p.queue.Publish(sig); err != nil {
		t.Fatalf("Failed to publish signal: %v", err)
	}

	msg := awaitEvent(t, failures, "order failure event")
	ev, ok := msg.(execution.FailureEvent)
	if !ok {
		t.Fatalf("Event payload = %T, want execution.FailureEvent", msg)
	}
	if !strings.Contains(ev.Reason, "context deadline exceeded") {
		t.Errorf("Failure reason = %q, want a deadline error", ev.Reason)
	}

	if got := p.acct.Available(); math.Abs(got-10_000) > 1e-9 {
		t.Errorf("Available after release = %v, want the full 10000", got)
	}
	if got := p.paper.Snapshot().Cash; got != 10_000 {
		t.Errorf("Venue cash = %v, want untouched 10000", got)
	}

	var status string
	err := p.store.DB.QueryRowContext(context.Background(),
		`SELECT status FROM orders WHERE signal_id = ?`, sig.SignalID).Scan(&status)
	if err != nil {
		t.Fatalf("Failed to read order row: %v", err)
	}
	if status != string(db.OrderStatusFailed) {
		t.Errorf("Order status = %q, want FAILED", status)
	}

	// Redelivering the failed signal must not produce a second attempt.
	if err := p.queue.Publish(sig); err != nil {
		t.Fatalf("Failed to republish signal: %v", err)
	}
	waitFor(t, "duplicate to be audited", func() bool {
		rows := p.audits(db.AuditFilter{
			Action:   audit.ActionDuplicateIgnored,
			SignalID: sig.SignalID,
		})
		return len(rows) == 1
	})
	if got := p.countOrders(); got != 1 {
		t.Errorf("Orders after redelivery = %d, want 1", got)
	}
}

// TestSlowVenueWithinTimeout checks that gateway latency alone does not
// break the path as long as it stays inside the submit deadline.
func TestSlowVenueWithinTimeout(t *testing.T) {
	p := newPipeline(t, func(o *pipelineOpts) {
		o.paper.LatencyMinMs = 10
		o.paper.LatencyMaxMs = 30
	})
	p.tick(time.Now().UTC(), 50000, 49999, 50001, 5)

	placed, unsub := p.events.Subscribe(bus.TopicOrderPlaced, 4)
	defer unsub()

	sig := trade.NewSignal("manual", p.symbol, trade.SideBuy, 0.002)
	sig.Price = 50010
	sig.AssetClass = trade.AssetCrypto
	if err := p.queue.Publish(sig); err != nil {
		t.Fatalf("Failed to publish signal: %v", err)
	}

	msg := awaitEvent(t, placed, "order placed event")
	ev, ok := msg.(execution.OrderEvent)
	if !ok {
		t.Fatalf("Event payload = %T, want execution.OrderEvent", msg)
	}
	if ev.Result.Status != common.OrderStatusFilled {
		t.Errorf("Result status = %q, want FILLED", ev.Result.Status)
	}
}
