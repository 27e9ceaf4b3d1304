package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-core/internal/bus"
	"signal-core/internal/trade"
	"signal-core/pkg/db"
)

// tickBuffer is the per-agent market data subscription depth. A stalled
// agent loses ticks beyond this rather than stalling the feed.
const tickBuffer = 256

// AgentStatus is the runtime view of one agent for the status API.
type AgentStatus struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Paused bool   `json:"paused"`
}

// Runner drives a set of agents: each gets its own market data
// subscription and goroutine, and every signal an agent emits is
// published to the execution queue. State is restored from the store on
// Start and persisted when the agent's loop winds down.
type Runner struct {
	events *bus.Bus
	queue  bus.Queue
	store  *db.Database // optional; nil disables state persistence
	log    zerolog.Logger

	mu      sync.RWMutex
	agents  []Agent
	paused  map[string]bool
	started bool

	wg sync.WaitGroup
}

// NewRunner creates a runner publishing to the given queue. store may be
// nil when state persistence is not wanted (tests, backtests).
func NewRunner(events *bus.Bus, queue bus.Queue, store *db.Database, logger zerolog.Logger) *Runner {
	return &Runner{
		events: events,
		queue:  queue,
		store:  store,
		paused: make(map[string]bool),
		log:    logger.With().Str("component", "agent").Logger(),
	}
}

// Add registers an agent. Must be called before Start.
func (r *Runner) Add(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = append(r.agents, a)
}

// Start restores persisted state and launches one goroutine per agent.
// It returns immediately; cancel ctx and call Wait to shut down.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	agents := make([]Agent, len(r.agents))
	copy(agents, r.agents)
	r.mu.Unlock()

	for _, a := range agents {
		r.restoreState(ctx, a)
		ticks, unsub := r.events.Subscribe(bus.TopicMarketData, tickBuffer)
		r.wg.Add(1)
		go r.run(ctx, a, ticks, unsub)
	}
	r.log.Info().Int("agents", len(agents)).Msg("agent runner started")
}

// Wait blocks until every agent loop has exited and saved its state.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context, a Agent, ticks <-chan any, unsub func()) {
	defer r.wg.Done()
	defer r.saveState(a)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ticks:
			if !ok {
				return
			}
			md, ok := msg.(trade.MarketData)
			if !ok {
				continue
			}
			if r.isPaused(a.ID()) {
				continue
			}
			r.dispatch(a, md)
		}
	}
}

func (r *Runner) dispatch(a Agent, md trade.MarketData) {
	sigs, err := a.OnTick(md)
	if err != nil {
		r.log.Error().Err(err).Str("agent", a.ID()).Str("symbol", md.Symbol).Msg("agent tick failed")
		return
	}
	for _, sig := range sigs {
		sig.StrategyID = a.ID()
		if err := r.queue.Publish(sig); err != nil {
			r.log.Warn().Err(err).
				Str("agent", a.ID()).
				Str("signal_id", sig.SignalID).
				Msg("signal dropped")
			continue
		}
		r.log.Info().
			Str("agent", a.ID()).
			Str("signal_id", sig.SignalID).
			Str("symbol", sig.Symbol).
			Str("side", string(sig.Side)).
			Float64("amount", sig.Amount).
			Msg("signal published")
	}
}

// Pause stops forwarding ticks to the agent. Its goroutine keeps
// draining the subscription so no backlog builds up.
func (r *Runner) Pause(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.has(id) {
		return fmt.Errorf("unknown agent %q", id)
	}
	r.paused[id] = true
	return nil
}

// Resume lifts a pause.
func (r *Runner) Resume(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.has(id) {
		return fmt.Errorf("unknown agent %q", id)
	}
	delete(r.paused, id)
	return nil
}

// Status reports each agent's id, name and pause flag in add order.
func (r *Runner) Status() []AgentStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentStatus, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, AgentStatus{ID: a.ID(), Name: a.Name(), Paused: r.paused[a.ID()]})
	}
	return out
}

func (r *Runner) has(id string) bool {
	for _, a := range r.agents {
		if a.ID() == id {
			return true
		}
	}
	return false
}

func (r *Runner) isPaused(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused[id]
}

func (r *Runner) restoreState(ctx context.Context, a Agent) {
	if r.store == nil {
		return
	}
	state, err := r.store.LoadAgentState(ctx, a.ID())
	if errors.Is(err, db.ErrNotFound) {
		return
	}
	if err != nil {
		r.log.Warn().Err(err).Str("agent", a.ID()).Msg("load agent state failed")
		return
	}
	if err := a.SetState(json.RawMessage(state)); err != nil {
		r.log.Warn().Err(err).Str("agent", a.ID()).Msg("restore agent state failed")
		return
	}
	r.log.Info().Str("agent", a.ID()).Msg("agent state restored")
}

// saveState runs during shutdown, after the run ctx is cancelled, so it
// uses its own deadline.
func (r *Runner) saveState(a Agent) {
	if r.store == nil {
		return
	}
	state, err := a.GetState()
	if err != nil {
		r.log.Error().Err(err).Str("agent", a.ID()).Msg("snapshot agent state failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.SaveAgentState(ctx, a.ID(), string(state)); err != nil {
		r.log.Error().Err(err).Str("agent", a.ID()).Msg("save agent state failed")
		return
	}
	r.log.Debug().Str("agent", a.ID()).Msg("agent state saved")
}
