// Package agent hosts the strategy agents that produce trade signals.
// Agents are tick-driven state machines: market data flows in from the
// bus, signals flow out through the queue, and the Runner keeps each
// agent on its own goroutine so a slow strategy cannot stall the rest.
// Agents never talk to the execution side directly.
package agent

import (
	"encoding/json"

	"signal-core/internal/trade"
)

// Agent is a single trading strategy instance. Implementations are not
// safe for concurrent use; the Runner serializes all calls per agent.
type Agent interface {
	// ID is the stable instance identifier signals are attributed to.
	ID() string
	// Name is a human-readable label for logs and the status API.
	Name() string
	// OnTick digests one market observation and returns any signals it
	// produced. An error skips the tick, not the agent.
	OnTick(md trade.MarketData) ([]trade.Signal, error)
	// GetState snapshots internal state for persistence across restarts.
	GetState() (json.RawMessage, error)
	// SetState restores a snapshot produced by GetState.
	SetState(data json.RawMessage) error
}
