// Package audit records every pipeline decision to an append-only
// trail. Writes are asynchronous and best-effort: a full buffer or a
// failing sink diverts entries to the process logger, never blocking
// or crashing the signal path.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"signal-core/internal/bus"
	"signal-core/pkg/db"
	"signal-core/pkg/hostid"
)

// Severity levels.
const (
	LevelInfo     = "INFO"
	LevelWarning  = "WARNING"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

// Actions recorded by the pipeline, one per decision point.
const (
	ActionSignalReceived    = "signal_received"
	ActionSignalInvalid     = "signal_invalid"
	ActionDuplicateIgnored  = "duplicate ignored"
	ActionDeflected         = "deflected"
	ActionGateApproved      = "gauntlet_approved"
	ActionGateRejected      = "gauntlet_rejected"
	ActionAbortedHighSpread = "aborted_high_spread"
	ActionOrderPlaced       = "order_placed"
	ActionOrderFailed       = "order_failed"
	ActionOrderDryRun       = "order_dry_run"
	ActionStopPlaced        = "stop_placed"
	ActionStopFailed        = "stop_failed"
	ActionKillSwitchTrip    = "kill_switch_trip"
	ActionKillSwitchReset   = "kill_switch_reset"
	ActionConsumerHalted    = "consumer_halted"
	ActionConsumerResumed   = "consumer_resumed"
	ActionReconcileSweep    = "reconcile_sweep"
)

// Entry is one audit trail record before persistence. LogID and Time
// are stamped by the trail when left zero; Level defaults to INFO.
type Entry struct {
	LogID      string         `json:"log_id"`
	Time       time.Time      `json:"timestamp"`
	Component  string         `json:"component"`
	Level      string         `json:"level"`
	Action     string         `json:"action"`
	SignalID   string         `json:"signal_id,omitempty"`
	Symbol     string         `json:"symbol,omitempty"`
	StrategyID string         `json:"strategy_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// Store is the persistence surface the trail writes to.
type Store interface {
	InsertAudit(ctx context.Context, row db.AuditRow) error
	QueryAudit(ctx context.Context, f db.AuditFilter) ([]db.AuditRow, error)
}

// Trail is the async audit writer. Every entry is stamped with the
// process session id and host fingerprint.
type Trail struct {
	store   Store
	bus     *bus.Bus
	log     zerolog.Logger
	session string
	host    string

	ch      chan Entry
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	written atomic.Uint64
	dropped atomic.Uint64
}

// New starts the trail's writer goroutine. The bus may be nil when no
// live subscribers are wanted (tests, tools).
func New(store Store, b *bus.Bus, logger zerolog.Logger, buffer int) *Trail {
	if buffer <= 0 {
		buffer = 256
	}
	logger = logger.With().Str("component", "audit").Logger()

	host, err := hostid.ID()
	if err != nil {
		logger.Warn().Err(err).Msg("machine id unavailable")
		host = "unknown"
	}

	t := &Trail{
		store:   store,
		bus:     b,
		log:     logger,
		session: uuid.NewString(),
		host:    host,
		ch:      make(chan Entry, buffer),
	}
	t.wg.Add(1)
	go t.writer()
	return t
}

// Record enqueues an entry. It never blocks: when the buffer is full
// or the trail is closed the entry goes to the process logger instead.
func (t *Trail) Record(e Entry) {
	if e.LogID == "" {
		e.LogID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}
	if t.bus != nil {
		t.bus.Publish(bus.TopicAuditEntry, e)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		t.fallback(e, "audit trail closed")
		return
	}
	select {
	case t.ch <- e:
	default:
		t.dropped.Add(1)
		t.fallback(e, "audit buffer full")
	}
}

// Query searches the persisted trail.
func (t *Trail) Query(ctx context.Context, f db.AuditFilter) ([]db.AuditRow, error) {
	return t.store.QueryAudit(ctx, f)
}

// Session returns the process session id stamped on entries.
func (t *Trail) Session() string { return t.session }

// Host returns the machine fingerprint stamped on entries.
func (t *Trail) Host() string { return t.host }

// Written returns the count of entries persisted to the store.
func (t *Trail) Written() uint64 { return t.written.Load() }

// Dropped returns the count of entries diverted to the logger because
// the buffer was full.
func (t *Trail) Dropped() uint64 { return t.dropped.Load() }

// Close flushes buffered entries and stops the writer.
func (t *Trail) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.ch)
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *Trail) writer() {
	defer t.wg.Done()
	for e := range t.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := t.store.InsertAudit(ctx, t.toRow(e))
		cancel()
		if err != nil {
			t.fallback(e, "audit sink unavailable")
			continue
		}
		t.written.Add(1)
	}
}

// fallback writes the entry to the process logger so it is never lost
// silently.
func (t *Trail) fallback(e Entry, why string) {
	ev := t.log.Warn()
	if e.Level == LevelError || e.Level == LevelCritical {
		ev = t.log.Error()
	}
	ev = ev.Time("ts", e.Time).
		Str("audit_component", e.Component).
		Str("level", e.Level).
		Str("action", e.Action)
	if e.SignalID != "" {
		ev = ev.Str("signal_id", e.SignalID)
	}
	if e.Symbol != "" {
		ev = ev.Str("symbol", e.Symbol)
	}
	if e.StrategyID != "" {
		ev = ev.Str("strategy_id", e.StrategyID)
	}
	if len(e.Details) > 0 {
		ev = ev.Interface("details", e.Details)
	}
	ev.Msg(why)
}

func (t *Trail) toRow(e Entry) db.AuditRow {
	details := "{}"
	if len(e.Details) > 0 {
		if data, err := json.Marshal(e.Details); err == nil {
			details = string(data)
		}
	}
	return db.AuditRow{
		LogID:      e.LogID,
		Timestamp:  e.Time,
		Component:  e.Component,
		Level:      e.Level,
		Action:     e.Action,
		SignalID:   e.SignalID,
		Symbol:     e.Symbol,
		StrategyID: e.StrategyID,
		Details:    details,
		SessionID:  t.session,
		HostID:     t.host,
	}
}
