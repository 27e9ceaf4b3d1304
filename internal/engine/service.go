// Package engine is the facade between the pipeline internals and the
// ops API. Handlers talk to the Service interface only; the wiring of
// risk engine, execution consumer, queue, agents and stores stays here.
package engine

import (
	"context"

	"signal-core/internal/account"
	"signal-core/internal/agent"
	"signal-core/internal/reconcile"
	"signal-core/internal/risk"
	"signal-core/pkg/db"
)

// Service is the operations surface consumed by the API layer.
type Service interface {
	// System
	SystemStatus(ctx context.Context) SystemStatus

	// Risk
	RiskState(ctx context.Context) (risk.State, error)
	ResetKillSwitch(ctx context.Context) error

	// Execution
	ExecutionStatus(ctx context.Context) ExecutionStatus
	ResumeExecution(ctx context.Context) (bool, error)
	QueueStats(ctx context.Context) QueueStats

	// Agents
	ListAgents(ctx context.Context) ([]agent.AgentStatus, error)
	PauseAgent(ctx context.Context, id string) error
	ResumeAgent(ctx context.Context, id string) error

	// Ledger views
	Positions(ctx context.Context) ([]db.Position, error)
	OpenOrders(ctx context.Context) ([]db.Order, error)
	Account(ctx context.Context) (account.Snapshot, error)

	// Audit
	QueryAudit(ctx context.Context, f db.AuditFilter) ([]db.AuditRow, error)

	// Reconciliation
	ReconcileReport(ctx context.Context) *reconcile.Report
	RunSweep(ctx context.Context) (*reconcile.Report, error)
}
