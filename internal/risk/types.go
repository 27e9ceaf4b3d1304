package risk

// Config defines the session risk parameters.
type Config struct {
	// BaseRiskPct is the fraction of equity risked per trade before streak
	// scaling (0.01 = 1%).
	BaseRiskPct float64 `json:"base_risk_pct"`

	// Kill switch thresholds.
	MaxDailyLoss      float64 `json:"max_daily_loss"`      // absolute currency amount
	EquityDrawdownPct float64 `json:"equity_drawdown_pct"` // fraction of starting equity

	// Streak scaling.
	WinStreakTrigger  int     `json:"win_streak_trigger"`
	WinMultiplier     float64 `json:"win_multiplier"`
	LossStreakTrigger int     `json:"loss_streak_trigger"`
	LossMultiplier    float64 `json:"loss_multiplier"`
}

// DefaultConfig returns the standard session risk parameters.
func DefaultConfig() Config {
	return Config{
		BaseRiskPct:       0.01,
		MaxDailyLoss:      500.0,
		EquityDrawdownPct: 0.05,
		WinStreakTrigger:  3,
		WinMultiplier:     1.5,
		LossStreakTrigger: 2,
		LossMultiplier:    0.5,
	}
}

// State is a point-in-time snapshot of the engine for the ops API.
type State struct {
	Date              string  `json:"date"`
	DailyPnL          float64 `json:"daily_pnl"`
	Trades            int     `json:"trades"`
	Wins              int     `json:"wins"`
	Losses            int     `json:"losses"`
	ConsecutiveWins   int     `json:"consecutive_wins"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	StartingEquity    float64 `json:"starting_equity"`
	RiskPct           float64 `json:"risk_pct"`
	KillSwitch        bool    `json:"kill_switch"`
	KillReason        string  `json:"kill_reason,omitempty"`
}
