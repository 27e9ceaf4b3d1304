package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-core/internal/audit"
	"signal-core/internal/bus"
	"signal-core/internal/execution"
	"signal-core/internal/risk"
)

const eventBuffer = 64

// Watcher bridges the bus to the notifiers: gate rejections, kill-switch
// trips and CRITICAL audit entries become alerts, everything else stays
// in the log.
type Watcher struct {
	events  *bus.Bus
	targets []Notifier
	log     zerolog.Logger
	wg      sync.WaitGroup
}

func NewWatcher(events *bus.Bus, logger zerolog.Logger, targets ...Notifier) *Watcher {
	return &Watcher{
		events:  events,
		targets: targets,
		log:     logger.With().Str("component", "notify").Logger(),
	}
}

// Start subscribes and launches the forwarding goroutine. It returns
// immediately; call Wait after cancelling ctx for a clean drain.
func (w *Watcher) Start(ctx context.Context) {
	if w.events == nil || len(w.targets) == 0 {
		w.log.Warn().Msg("notify watcher not fully configured; not starting")
		return
	}

	rejections, unsubRej := w.events.Subscribe(bus.TopicGateRejected, eventBuffer)
	trips, unsubTrip := w.events.Subscribe(bus.TopicKillSwitch, eventBuffer)
	entries, unsubAudit := w.events.Subscribe(bus.TopicAuditEntry, eventBuffer)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer unsubRej()
		defer unsubTrip()
		defer unsubAudit()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-rejections:
				if !ok {
					return
				}
				w.onRejection(ctx, msg)
			case msg, ok := <-trips:
				if !ok {
					return
				}
				w.onKillSwitch(ctx, msg)
			case msg, ok := <-entries:
				if !ok {
					return
				}
				w.onAuditEntry(ctx, msg)
			}
		}
	}()
}

// Wait blocks until the forwarding goroutine has exited.
func (w *Watcher) Wait() { w.wg.Wait() }

func (w *Watcher) onRejection(ctx context.Context, msg any) {
	ev, ok := msg.(execution.RejectionEvent)
	if !ok {
		return
	}
	gate := ev.Gate
	if gate == "" {
		gate = "pipeline"
	}
	w.dispatch(ctx, Event{
		Kind:     KindGateRejected,
		Title:    fmt.Sprintf("signal rejected by %s", gate),
		Body:     ev.Reason,
		SignalID: ev.Signal.SignalID,
		Symbol:   ev.Signal.Symbol,
		Details: map[string]any{
			"gate":        ev.Gate,
			"strategy_id": ev.Signal.StrategyID,
			"side":        string(ev.Signal.Side),
		},
	})
}

func (w *Watcher) onKillSwitch(ctx context.Context, msg any) {
	ev, ok := msg.(risk.KillSwitchEvent)
	if !ok {
		return
	}
	w.dispatch(ctx, Event{
		Kind:  KindKillSwitch,
		Title: "kill switch tripped, execution halted",
		Body:  ev.Reason,
		Time:  ev.Time,
	})
}

func (w *Watcher) onAuditEntry(ctx context.Context, msg any) {
	e, ok := msg.(audit.Entry)
	if !ok || e.Level != audit.LevelCritical {
		return
	}
	// Trips arrive on their own topic; skip the mirrored audit entry.
	if e.Action == audit.ActionKillSwitchTrip {
		return
	}
	body := ""
	if r, ok := e.Details["reason"].(string); ok {
		body = r
	}
	w.dispatch(ctx, Event{
		Kind:     KindCritical,
		Title:    e.Action,
		Body:     body,
		SignalID: e.SignalID,
		Symbol:   e.Symbol,
		Time:     e.Time,
		Details:  e.Details,
	})
}

func (w *Watcher) dispatch(ctx context.Context, ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	for _, t := range w.targets {
		t.Notify(ctx, ev)
	}
}
