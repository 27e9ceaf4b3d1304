package engine

import (
	"time"

	"signal-core/internal/account"
	"signal-core/internal/agent"
	"signal-core/internal/monitor"
	"signal-core/internal/reconcile"
	"signal-core/internal/risk"
)

// Meta is the static identity of a running pipeline, set once at boot.
type Meta struct {
	Mode      string    `json:"mode"`
	DryRun    bool      `json:"dry_run"`
	Venue     string    `json:"venue"`
	Symbols   []string  `json:"symbols"`
	MockFeed  bool      `json:"mock_feed"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}

// ExecutionStatus reports the consumer's halt state.
type ExecutionStatus struct {
	Halted bool   `json:"halted"`
	Reason string `json:"reason,omitempty"`
}

// QueueStats is the queue plus audit-writer health snapshot.
type QueueStats struct {
	Depth        int                  `json:"depth"`
	Capacity     int                  `json:"capacity"`
	AuditWritten uint64               `json:"audit_written"`
	AuditDropped uint64               `json:"audit_dropped"`
	Latency      monitor.LatencyStats `json:"latency_ms"`
}

// SystemStatus is the aggregate snapshot behind GET /api/system/status.
// Optional components that were not wired report as null.
type SystemStatus struct {
	Meta
	ServerTime time.Time           `json:"server_time"`
	Uptime     string              `json:"uptime"`
	Execution  ExecutionStatus     `json:"execution"`
	Queue      QueueStats          `json:"queue"`
	Risk       *risk.State         `json:"risk,omitempty"`
	Account    *account.Snapshot   `json:"account,omitempty"`
	Agents     []agent.AgentStatus `json:"agents,omitempty"`
	Reconcile  *reconcile.Report   `json:"reconcile,omitempty"`
}
