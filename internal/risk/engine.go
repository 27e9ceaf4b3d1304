// Package risk tracks the trading session: daily P&L, win/loss streaks,
// dynamic risk sizing and the one-way kill switch.
package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-core/pkg/db"
)

// Store persists the daily risk row. *db.Database satisfies it.
type Store interface {
	GetRiskDay(ctx context.Context, date string) (*db.RiskDay, error)
	UpsertRiskDay(ctx context.Context, r db.RiskDay) error
}

// KillSwitchEvent is the bus payload announcing a tripped switch.
type KillSwitchEvent struct {
	Reason string    `json:"reason"`
	Time   time.Time `json:"time"`
}

// Engine is the per-session risk state machine: ACTIVE until the kill
// switch trips, then KILLED until the next session reset. All methods are
// safe for concurrent use.
type Engine struct {
	mu    sync.RWMutex
	cfg   Config
	store Store
	log   zerolog.Logger
	now   func() time.Time

	date              string
	dailyPnL          float64
	trades            int
	wins              int
	losses            int
	consecutiveWins   int
	consecutiveLosses int
	startingEquity    float64
	killSwitch        bool
	killReason        string

	// OnKillSwitch, when set, is invoked once at trip time. It must not
	// block; wiring typically publishes a bus event and a notification.
	OnKillSwitch func(reason string)
}

// NewEngine creates a risk engine and restores today's row from the store,
// so a mid-session restart does not forget the day's P&L or a tripped
// switch.
func NewEngine(store Store, cfg Config, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		cfg:   cfg,
		store: store,
		log:   logger.With().Str("component", "risk").Logger(),
		now:   time.Now,
	}
	e.date = e.today()

	if store != nil {
		row, err := store.GetRiskDay(context.Background(), e.date)
		switch {
		case errors.Is(err, db.ErrNotFound):
			// fresh day
		case err != nil:
			return nil, fmt.Errorf("load risk day: %w", err)
		default:
			e.dailyPnL = row.DailyPnL
			e.trades = row.Trades
			e.wins = row.Wins
			e.losses = row.Losses
			e.consecutiveWins = row.ConsecutiveWins
			e.consecutiveLosses = row.ConsecutiveLosses
			e.startingEquity = row.StartingEquity
			e.killSwitch = row.KillSwitch
			if e.killSwitch {
				e.killReason = "restored from persisted session state"
			}
		}
	}

	e.log.Info().
		Float64("base_risk_pct", cfg.BaseRiskPct).
		Float64("max_daily_loss", cfg.MaxDailyLoss).
		Bool("kill_switch", e.killSwitch).
		Msg("risk engine initialized")

	return e, nil
}

// NewInMemory creates a risk engine without persistence.
func NewInMemory(cfg Config) *Engine {
	e := &Engine{cfg: cfg, log: zerolog.Nop(), now: time.Now}
	e.date = e.today()
	return e
}

func (e *Engine) today() string {
	return e.now().UTC().Format("2006-01-02")
}

// rolloverLocked starts a fresh session when the UTC date has changed.
// Caller holds e.mu.
func (e *Engine) rolloverLocked() {
	today := e.today()
	if today == e.date {
		return
	}
	e.log.Info().
		Str("prev_date", e.date).
		Float64("prev_pnl", e.dailyPnL).
		Int("prev_trades", e.trades).
		Msg("new trading session, resetting daily risk state")

	e.date = today
	e.dailyPnL = 0
	e.trades = 0
	e.wins = 0
	e.losses = 0
	e.consecutiveWins = 0
	e.consecutiveLosses = 0
	e.startingEquity = 0
	e.killSwitch = false
	e.killReason = ""
}

// UpdatePnL folds one realized trade result into the session: accumulates
// daily P&L, updates streaks (a win zeroes the loss streak immediately, and
// vice versa) and evaluates the kill switch.
func (e *Engine) UpdatePnL(realized float64) error {
	e.mu.Lock()
	e.rolloverLocked()

	e.dailyPnL += realized
	e.trades++
	switch {
	case realized > 0:
		e.wins++
		e.consecutiveWins++
		e.consecutiveLosses = 0
	case realized < 0:
		e.losses++
		e.consecutiveLosses++
		e.consecutiveWins = 0
	}
	// zero-PnL closes touch neither streak

	var tripped bool
	var reason string
	if !e.killSwitch {
		if e.dailyPnL <= -e.cfg.MaxDailyLoss {
			tripped = true
			reason = fmt.Sprintf("daily loss %.2f breached limit %.2f", e.dailyPnL, e.cfg.MaxDailyLoss)
		} else if e.dailyPnL < 0 && e.startingEquity > 0 &&
			math.Abs(e.dailyPnL)/e.startingEquity >= e.cfg.EquityDrawdownPct {
			tripped = true
			reason = fmt.Sprintf("daily loss %.2f is %.1f%% of starting equity %.2f",
				e.dailyPnL, math.Abs(e.dailyPnL)/e.startingEquity*100, e.startingEquity)
		}
		if tripped {
			e.killSwitch = true
			e.killReason = reason
		}
	}
	row := e.rowLocked()
	hook := e.OnKillSwitch
	e.mu.Unlock()

	if tripped {
		e.log.Error().Str("reason", reason).Msg("KILL SWITCH tripped, halting all trade execution")
		if hook != nil {
			hook(reason)
		}
	}
	return e.persist(row)
}

// DynamicRiskPct returns the per-trade risk fraction after streak scaling.
func (e *Engine) DynamicRiskPct() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.riskPctLocked()
}

func (e *Engine) riskPctLocked() float64 {
	switch {
	case e.consecutiveWins >= e.cfg.WinStreakTrigger:
		return e.cfg.BaseRiskPct * e.cfg.WinMultiplier
	case e.consecutiveLosses >= e.cfg.LossStreakTrigger:
		return e.cfg.BaseRiskPct * e.cfg.LossMultiplier
	default:
		return e.cfg.BaseRiskPct
	}
}

// PositionSize returns the unit count for a trade risking the dynamic
// fraction of equity between entry and stop. The first call of a session
// latches startingEquity for the drawdown threshold. Returns 0 when the
// stop does not protect the entry.
func (e *Engine) PositionSize(equity, entry, stop float64) float64 {
	e.mu.Lock()
	e.rolloverLocked()
	if e.startingEquity == 0 && equity > 0 {
		e.startingEquity = equity
		e.log.Info().Float64("starting_equity", equity).Msg("starting equity latched for session")
	}
	riskPct := e.riskPctLocked()
	row := e.rowLocked()
	e.mu.Unlock()

	// ignore persistence failures here; the next UpdatePnL retries the row
	_ = e.persist(row)

	if entry <= stop {
		return 0
	}
	return equity * riskPct / (entry - stop)
}

// TradeAllowed reports whether execution may proceed. False whenever the
// kill switch is set; nothing short of a session reset clears it.
func (e *Engine) TradeAllowed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()
	return !e.killSwitch
}

// ResetSession forces a fresh session immediately (operator daily reset).
func (e *Engine) ResetSession() {
	e.mu.Lock()
	e.date = "" // force rollover
	e.rolloverLocked()
	row := e.rowLocked()
	e.mu.Unlock()
	_ = e.persist(row)
}

// Snapshot returns the current session state.
func (e *Engine) Snapshot() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return State{
		Date:              e.date,
		DailyPnL:          e.dailyPnL,
		Trades:            e.trades,
		Wins:              e.wins,
		Losses:            e.losses,
		ConsecutiveWins:   e.consecutiveWins,
		ConsecutiveLosses: e.consecutiveLosses,
		StartingEquity:    e.startingEquity,
		RiskPct:           e.riskPctLocked(),
		KillSwitch:        e.killSwitch,
		KillReason:        e.killReason,
	}
}

// DailyPnL returns the session's accumulated realized P&L.
func (e *Engine) DailyPnL() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dailyPnL
}

func (e *Engine) rowLocked() db.RiskDay {
	return db.RiskDay{
		Date:              e.date,
		DailyPnL:          e.dailyPnL,
		Trades:            e.trades,
		Wins:              e.wins,
		Losses:            e.losses,
		ConsecutiveWins:   e.consecutiveWins,
		ConsecutiveLosses: e.consecutiveLosses,
		StartingEquity:    e.startingEquity,
		KillSwitch:        e.killSwitch,
	}
}

func (e *Engine) persist(row db.RiskDay) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.UpsertRiskDay(context.Background(), row); err != nil {
		e.log.Error().Err(err).Msg("failed to persist risk day")
		return fmt.Errorf("persist risk day: %w", err)
	}
	return nil
}
