package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"signal-core/internal/account"
	"signal-core/internal/agent"
	"signal-core/internal/audit"
	"signal-core/internal/bus"
	"signal-core/internal/execution"
	"signal-core/internal/monitor"
	"signal-core/internal/reconcile"
	"signal-core/internal/risk"
	"signal-core/pkg/db"
)

// Impl implements Service by composing the live pipeline components.
// Every field is optional: a nil component answers with an error (for
// commands) or an empty snapshot (for queries), so a paper rig wired
// without, say, an account manager still serves the rest of the API.
type Impl struct {
	risk     *risk.Engine
	exec     *execution.Manager
	queue    bus.Queue
	queueCap int
	agents   *agent.Runner
	acct     *account.Manager
	store    *db.Database
	trail    *audit.Trail
	metrics  *monitor.Metrics
	sweeper  *reconcile.Sweeper
	meta     Meta
	log      zerolog.Logger
}

// Config collects the components the facade aggregates.
type Config struct {
	Risk          *risk.Engine
	Execution     *execution.Manager
	Queue         bus.Queue
	QueueCapacity int
	Agents        *agent.Runner
	Account       *account.Manager
	Store         *db.Database
	Trail         *audit.Trail
	Metrics       *monitor.Metrics
	Sweeper       *reconcile.Sweeper
	Meta          Meta
}

func NewImpl(cfg Config, logger zerolog.Logger) *Impl {
	return &Impl{
		risk:     cfg.Risk,
		exec:     cfg.Execution,
		queue:    cfg.Queue,
		queueCap: cfg.QueueCapacity,
		agents:   cfg.Agents,
		acct:     cfg.Account,
		store:    cfg.Store,
		trail:    cfg.Trail,
		metrics:  cfg.Metrics,
		sweeper:  cfg.Sweeper,
		meta:     cfg.Meta,
		log:      logger.With().Str("component", "engine").Logger(),
	}
}

var _ Service = (*Impl)(nil)

// --- System ---

func (e *Impl) SystemStatus(ctx context.Context) SystemStatus {
	st := SystemStatus{
		Meta:       e.meta,
		ServerTime: time.Now().UTC(),
		Execution:  e.ExecutionStatus(ctx),
		Queue:      e.QueueStats(ctx),
	}
	if !e.meta.StartedAt.IsZero() {
		st.Uptime = time.Since(e.meta.StartedAt).Round(time.Second).String()
	}
	if e.risk != nil {
		s := e.risk.Snapshot()
		st.Risk = &s
	}
	if e.acct != nil {
		a := e.acct.Get()
		st.Account = &a
	}
	if e.agents != nil {
		st.Agents = e.agents.Status()
	}
	if e.sweeper != nil {
		st.Reconcile = e.sweeper.LastReport()
	}
	return st
}

// --- Risk ---

func (e *Impl) RiskState(ctx context.Context) (risk.State, error) {
	if e.risk == nil {
		return risk.State{}, fmt.Errorf("risk engine not available")
	}
	return e.risk.Snapshot(), nil
}

// ResetKillSwitch starts a fresh risk session. This is the only way a
// tripped switch clears; the engine never un-trips mid-session.
func (e *Impl) ResetKillSwitch(ctx context.Context) error {
	if e.risk == nil {
		return fmt.Errorf("risk engine not available")
	}
	before := e.risk.Snapshot()
	e.risk.ResetSession()
	if e.metrics != nil {
		e.metrics.SetKillSwitch(false)
	}
	if e.trail != nil {
		e.trail.Record(audit.Entry{
			Component: "engine",
			Level:     audit.LevelWarning,
			Action:    audit.ActionKillSwitchReset,
			Details: map[string]any{
				"was_tripped":     before.KillSwitch,
				"previous_reason": before.KillReason,
				"previous_pnl":    before.DailyPnL,
			},
		})
	}
	e.log.Warn().Bool("was_tripped", before.KillSwitch).Msg("risk session reset by operator")
	return nil
}

// --- Execution ---

func (e *Impl) ExecutionStatus(ctx context.Context) ExecutionStatus {
	if e.exec == nil {
		return ExecutionStatus{}
	}
	halted, reason := e.exec.Halted()
	return ExecutionStatus{Halted: halted, Reason: reason}
}

// ResumeExecution restarts a halted consumer and reports whether it was
// actually halted.
func (e *Impl) ResumeExecution(ctx context.Context) (bool, error) {
	if e.exec == nil {
		return false, fmt.Errorf("execution manager not available")
	}
	return e.exec.Resume(), nil
}

func (e *Impl) QueueStats(ctx context.Context) QueueStats {
	qs := QueueStats{Capacity: e.queueCap}
	if e.queue != nil {
		qs.Depth = e.queue.Len()
	}
	if e.trail != nil {
		qs.AuditWritten = e.trail.Written()
		qs.AuditDropped = e.trail.Dropped()
	}
	if e.metrics != nil {
		qs.Latency = e.metrics.ExecLatency.Stats()
	}
	return qs
}

// --- Agents ---

func (e *Impl) ListAgents(ctx context.Context) ([]agent.AgentStatus, error) {
	if e.agents == nil {
		return nil, fmt.Errorf("agent runner not available")
	}
	return e.agents.Status(), nil
}

func (e *Impl) PauseAgent(ctx context.Context, id string) error {
	if e.agents == nil {
		return fmt.Errorf("agent runner not available")
	}
	return e.agents.Pause(id)
}

func (e *Impl) ResumeAgent(ctx context.Context, id string) error {
	if e.agents == nil {
		return fmt.Errorf("agent runner not available")
	}
	return e.agents.Resume(id)
}

// --- Ledger views ---

func (e *Impl) Positions(ctx context.Context) ([]db.Position, error) {
	if e.store == nil {
		return nil, fmt.Errorf("database not available")
	}
	return e.store.ListPositions(ctx)
}

func (e *Impl) OpenOrders(ctx context.Context) ([]db.Order, error) {
	if e.store == nil {
		return nil, fmt.Errorf("database not available")
	}
	return e.store.ListOpenOrders(ctx)
}

func (e *Impl) Account(ctx context.Context) (account.Snapshot, error) {
	if e.acct == nil {
		return account.Snapshot{}, fmt.Errorf("account manager not available")
	}
	return e.acct.Get(), nil
}

// --- Audit ---

func (e *Impl) QueryAudit(ctx context.Context, f db.AuditFilter) ([]db.AuditRow, error) {
	if e.trail == nil {
		return nil, fmt.Errorf("audit trail not available")
	}
	return e.trail.Query(ctx, f)
}

// --- Reconciliation ---

func (e *Impl) ReconcileReport(ctx context.Context) *reconcile.Report {
	if e.sweeper == nil {
		return nil
	}
	return e.sweeper.LastReport()
}

// RunSweep triggers an immediate drift check, outside the periodic cadence.
func (e *Impl) RunSweep(ctx context.Context) (*reconcile.Report, error) {
	if e.sweeper == nil {
		return nil, fmt.Errorf("reconcile sweeper not available")
	}
	return e.sweeper.Sweep(ctx)
}
