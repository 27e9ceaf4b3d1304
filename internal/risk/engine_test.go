package risk

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"signal-core/pkg/db"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func TestDynamicRiskStreakScaling(t *testing.T) {
	e := NewInMemory(DefaultConfig())
	base := DefaultConfig().BaseRiskPct

	if got := e.DynamicRiskPct(); got != base {
		t.Fatalf("initial risk = %v, want %v", got, base)
	}

	t.Run("three wins scale up", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			if err := e.UpdatePnL(50); err != nil {
				t.Fatalf("UpdatePnL: %v", err)
			}
		}
		if got, want := e.DynamicRiskPct(), base*1.5; got != want {
			t.Errorf("risk after 3 wins = %v, want %v", got, want)
		}
	})

	t.Run("two losses scale down", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			if err := e.UpdatePnL(-10); err != nil {
				t.Fatalf("UpdatePnL: %v", err)
			}
		}
		if got, want := e.DynamicRiskPct(), base*0.5; got != want {
			t.Errorf("risk after 2 losses = %v, want %v", got, want)
		}
	})

	t.Run("single win resets loss streak immediately", func(t *testing.T) {
		if err := e.UpdatePnL(5); err != nil {
			t.Fatalf("UpdatePnL: %v", err)
		}
		s := e.Snapshot()
		if s.ConsecutiveLosses != 0 {
			t.Errorf("consecutive losses = %d, want 0", s.ConsecutiveLosses)
		}
		if s.ConsecutiveWins != 1 {
			t.Errorf("consecutive wins = %d, want 1", s.ConsecutiveWins)
		}
		if got := e.DynamicRiskPct(); got != base {
			t.Errorf("risk after streak reset = %v, want base %v", got, base)
		}
	})
}

func TestZeroPnLTouchesNeitherStreak(t *testing.T) {
	e := NewInMemory(DefaultConfig())
	if err := e.UpdatePnL(100); err != nil {
		t.Fatalf("UpdatePnL: %v", err)
	}
	if err := e.UpdatePnL(0); err != nil {
		t.Fatalf("UpdatePnL: %v", err)
	}
	s := e.Snapshot()
	if s.ConsecutiveWins != 1 || s.ConsecutiveLosses != 0 {
		t.Errorf("streaks after flat trade = %d/%d, want 1/0", s.ConsecutiveWins, s.ConsecutiveLosses)
	}
	if s.Trades != 2 {
		t.Errorf("trades = %d, want 2", s.Trades)
	}
}

func TestKillSwitchOnDailyLossLimit(t *testing.T) {
	e := NewInMemory(DefaultConfig()) // MaxDailyLoss 500

	if !e.TradeAllowed() {
		t.Fatal("fresh session should allow trading")
	}

	var hookReason string
	e.OnKillSwitch = func(reason string) { hookReason = reason }

	if err := e.UpdatePnL(-500); err != nil {
		t.Fatalf("UpdatePnL: %v", err)
	}
	if e.TradeAllowed() {
		t.Error("kill switch should block trading after limit breach")
	}
	if hookReason == "" {
		t.Error("OnKillSwitch hook not invoked")
	}

	t.Run("recovery does not clear the latch", func(t *testing.T) {
		if err := e.UpdatePnL(2000); err != nil {
			t.Fatalf("UpdatePnL: %v", err)
		}
		if e.DailyPnL() <= 0 {
			t.Fatalf("daily pnl should have recovered, got %v", e.DailyPnL())
		}
		if e.TradeAllowed() {
			t.Error("kill switch cleared by recovery; must stay latched for the session")
		}
	})

	t.Run("hook fires only once", func(t *testing.T) {
		hookReason = ""
		if err := e.UpdatePnL(-5000); err != nil {
			t.Fatalf("UpdatePnL: %v", err)
		}
		if hookReason != "" {
			t.Error("OnKillSwitch invoked again while already tripped")
		}
	})
}

func TestKillSwitchOnEquityDrawdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDailyLoss = 100000 // keep the absolute limit out of the way
	e := NewInMemory(cfg)

	// latch starting equity
	e.PositionSize(8000, 110, 100)

	if err := e.UpdatePnL(-400); err != nil { // exactly 5% of 8000
		t.Fatalf("UpdatePnL: %v", err)
	}
	if e.TradeAllowed() {
		t.Error("5%% equity drawdown should trip the kill switch")
	}
}

func TestPositionSize(t *testing.T) {
	e := NewInMemory(DefaultConfig())

	t.Run("risk formula", func(t *testing.T) {
		// 1% of 10000 = 100 at risk over a 10-point stop distance
		if got := e.PositionSize(10000, 110, 100); got != 10 {
			t.Errorf("PositionSize = %v, want 10", got)
		}
	})

	t.Run("entry at or below stop yields zero", func(t *testing.T) {
		if got := e.PositionSize(10000, 100, 100); got != 0 {
			t.Errorf("PositionSize with entry==stop = %v, want 0", got)
		}
		if got := e.PositionSize(10000, 95, 100); got != 0 {
			t.Errorf("PositionSize with entry<stop = %v, want 0", got)
		}
	})

	t.Run("starting equity latched on first call only", func(t *testing.T) {
		s := e.Snapshot()
		if s.StartingEquity != 10000 {
			t.Errorf("starting equity = %v, want 10000 from first sizing call", s.StartingEquity)
		}
		e.PositionSize(9000, 110, 100)
		if got := e.Snapshot().StartingEquity; got != 10000 {
			t.Errorf("starting equity re-latched to %v", got)
		}
	})
}

func TestEnginePersistsAndRestores(t *testing.T) {
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	e1, err := NewEngine(database, DefaultConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	e1.PositionSize(10000, 110, 100)
	if err := e1.UpdatePnL(-600); err != nil {
		t.Fatalf("UpdatePnL: %v", err)
	}
	if e1.TradeAllowed() {
		t.Fatal("expected kill switch tripped")
	}

	// a restarted process sees the same session state
	e2, err := NewEngine(database, DefaultConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewEngine (restart): %v", err)
	}
	if e2.TradeAllowed() {
		t.Error("restarted engine lost the tripped kill switch")
	}
	s := e2.Snapshot()
	if s.DailyPnL != -600 {
		t.Errorf("restored daily pnl = %v, want -600", s.DailyPnL)
	}
	if s.StartingEquity != 10000 {
		t.Errorf("restored starting equity = %v, want 10000", s.StartingEquity)
	}
}

func TestSessionRollover(t *testing.T) {
	e := NewInMemory(DefaultConfig())

	day1 := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return day1 }
	e.date = e.today()

	if err := e.UpdatePnL(-500); err != nil {
		t.Fatalf("UpdatePnL: %v", err)
	}
	if e.TradeAllowed() {
		t.Fatal("kill switch should be tripped on day 1")
	}

	// next UTC day clears the session automatically
	e.now = func() time.Time { return day1.Add(24 * time.Hour) }
	if !e.TradeAllowed() {
		t.Error("new session should clear the kill switch")
	}
	s := e.Snapshot()
	if s.DailyPnL != 0 || s.Trades != 0 {
		t.Errorf("daily counters not reset: %+v", s)
	}
}

func TestResetSession(t *testing.T) {
	e := NewInMemory(DefaultConfig())
	if err := e.UpdatePnL(-9999); err != nil {
		t.Fatalf("UpdatePnL: %v", err)
	}
	if e.TradeAllowed() {
		t.Fatal("expected tripped switch")
	}
	e.ResetSession()
	if !e.TradeAllowed() {
		t.Error("ResetSession should clear the kill switch")
	}
}
