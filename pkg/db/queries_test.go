package db

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func TestMigrationsAreIdempotent(t *testing.T) {
	database := newTestDB(t)
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("second ApplyMigrations failed: %v", err)
	}
}

func TestOrderLifecycle(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	order := Order{
		ID:          "order-1",
		SignalID:    "sig-1",
		AgentID:     "breakout-btc",
		Symbol:      "BTC/USD",
		Side:        "BUY",
		OrderType:   "MARKET",
		Price:       50000,
		Qty:         0.1,
		Status:      OrderStatusNew,
		Fingerprint: "BTC/USD|0.1|50000",
		CreatedAt:   time.Now(),
	}
	if err := database.CreateOrder(ctx, order); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	t.Run("open orders include pending", func(t *testing.T) {
		open, err := database.ListOpenOrders(ctx)
		if err != nil {
			t.Fatalf("ListOpenOrders: %v", err)
		}
		if len(open) != 1 || open[0].ID != "order-1" {
			t.Errorf("expected order-1 open, got %+v", open)
		}
	})

	t.Run("fill closes the order", func(t *testing.T) {
		if err := database.UpdateOrderFill(ctx, "order-1", OrderStatusFilled, 0.1, "EX-77"); err != nil {
			t.Fatalf("UpdateOrderFill: %v", err)
		}
		open, err := database.ListOpenOrders(ctx)
		if err != nil {
			t.Fatalf("ListOpenOrders: %v", err)
		}
		if len(open) != 0 {
			t.Errorf("expected no open orders, got %d", len(open))
		}
	})
}

func TestPositionUpsertRoundTrip(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	p := Position{Symbol: "ETH/USD", Qty: 2, AvgPrice: 2500, RealizedPnL: 150, DayQty: 2, UpdatedAt: time.Now()}
	if err := database.UpsertPosition(ctx, p); err != nil {
		t.Fatalf("UpsertPosition: %v", err)
	}

	p.Qty = 1
	p.RealizedPnL = 1150
	if err := database.UpsertPosition(ctx, p); err != nil {
		t.Fatalf("UpsertPosition overwrite: %v", err)
	}

	positions, err := database.ListPositions(ctx)
	if err != nil {
		t.Fatalf("ListPositions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	got := positions[0]
	if got.Qty != 1 || got.AvgPrice != 2500 || got.RealizedPnL != 1150 || got.DayQty != 2 {
		t.Errorf("position = %+v", got)
	}
}

func TestRiskDayRoundTrip(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	t.Run("missing day returns ErrNotFound", func(t *testing.T) {
		_, err := database.GetRiskDay(ctx, "2025-01-02")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	day := RiskDay{
		Date:              "2025-01-02",
		DailyPnL:          -120.5,
		Trades:            7,
		Wins:              3,
		Losses:            4,
		ConsecutiveWins:   0,
		ConsecutiveLosses: 2,
		StartingEquity:    10000,
		KillSwitch:        false,
	}
	if err := database.UpsertRiskDay(ctx, day); err != nil {
		t.Fatalf("UpsertRiskDay: %v", err)
	}

	t.Run("round trips all fields", func(t *testing.T) {
		got, err := database.GetRiskDay(ctx, "2025-01-02")
		if err != nil {
			t.Fatalf("GetRiskDay: %v", err)
		}
		if *got != day {
			t.Errorf("got %+v, want %+v", *got, day)
		}
	})

	t.Run("upsert overwrites", func(t *testing.T) {
		day.KillSwitch = true
		day.DailyPnL = -600
		if err := database.UpsertRiskDay(ctx, day); err != nil {
			t.Fatalf("UpsertRiskDay: %v", err)
		}
		got, err := database.GetRiskDay(ctx, "2025-01-02")
		if err != nil {
			t.Fatalf("GetRiskDay: %v", err)
		}
		if !got.KillSwitch || got.DailyPnL != -600 {
			t.Errorf("overwrite not applied: %+v", *got)
		}
	})
}

func TestAuditQueryFilters(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	rows := []AuditRow{
		{LogID: "a-1", Timestamp: time.Now(), Component: "execution", Level: "INFO", Action: "order_placed", SignalID: "sig-1", Symbol: "BTC/USD"},
		{LogID: "a-2", Timestamp: time.Now(), Component: "execution", Level: "ERROR", Action: "order_failed", SignalID: "sig-2", Symbol: "ETH/USD", Details: `{"reason":"insufficient funds"}`},
		{LogID: "a-3", Timestamp: time.Now(), Component: "gauntlet", Level: "WARNING", Action: "gauntlet_rejected", SignalID: "sig-3", Symbol: "BTC/USD", StrategyID: "breakout-btc"},
		{LogID: "a-4", Timestamp: time.Now(), Component: "execution", Level: "INFO", Action: "order_placed", SignalID: "sig-4", Symbol: "BTC/USD"},
	}
	for _, r := range rows {
		if err := database.InsertAudit(ctx, r); err != nil {
			t.Fatalf("InsertAudit: %v", err)
		}
	}

	t.Run("filter by action", func(t *testing.T) {
		got, err := database.QueryAudit(ctx, AuditFilter{Action: "order_placed"})
		if err != nil {
			t.Fatalf("QueryAudit: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("expected 2 rows, got %d", len(got))
		}
	})

	t.Run("filter by component and level", func(t *testing.T) {
		got, err := database.QueryAudit(ctx, AuditFilter{Component: "execution", Level: "ERROR"})
		if err != nil {
			t.Fatalf("QueryAudit: %v", err)
		}
		if len(got) != 1 || got[0].SignalID != "sig-2" {
			t.Errorf("unexpected rows: %+v", got)
		}
	})

	t.Run("filter by signal id keeps details", func(t *testing.T) {
		got, err := database.QueryAudit(ctx, AuditFilter{SignalID: "sig-2"})
		if err != nil {
			t.Fatalf("QueryAudit: %v", err)
		}
		if len(got) != 1 || got[0].Details != `{"reason":"insufficient funds"}` {
			t.Errorf("unexpected rows: %+v", got)
		}
	})

	t.Run("strategy attribution round trips", func(t *testing.T) {
		got, err := database.QueryAudit(ctx, AuditFilter{Component: "gauntlet"})
		if err != nil {
			t.Fatalf("QueryAudit: %v", err)
		}
		if len(got) != 1 || got[0].StrategyID != "breakout-btc" {
			t.Errorf("unexpected rows: %+v", got)
		}
	})

	t.Run("newest first with limit", func(t *testing.T) {
		got, err := database.QueryAudit(ctx, AuditFilter{Limit: 1})
		if err != nil {
			t.Fatalf("QueryAudit: %v", err)
		}
		if len(got) != 1 || got[0].SignalID != "sig-4" {
			t.Errorf("expected newest row sig-4, got %+v", got)
		}
	})
}

func TestLoadProcessedSignals(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	for _, o := range []Order{
		{ID: "o1", SignalID: "sig-1", Symbol: "BTC/USD", Side: "BUY", OrderType: "MARKET", Price: 100, Qty: 1, Status: OrderStatusFilled, Fingerprint: "BTC/USD|1|100", CreatedAt: time.Now()},
		{ID: "o2", SignalID: "sig-2", Symbol: "ETH/USD", Side: "SELL", OrderType: "MARKET", Price: 200, Qty: 2, Status: OrderStatusFailed, Fingerprint: "ETH/USD|2|200", CreatedAt: time.Now()},
	} {
		if err := database.CreateOrder(ctx, o); err != nil {
			t.Fatalf("CreateOrder: %v", err)
		}
	}

	got, err := database.LoadProcessedSignals(ctx, 10)
	if err != nil {
		t.Fatalf("LoadProcessedSignals: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 processed signals, got %d", len(got))
	}
	seen := map[string]string{}
	for _, p := range got {
		seen[p.SignalID] = p.Fingerprint
	}
	if seen["sig-1"] != "BTC/USD|1|100" || seen["sig-2"] != "ETH/USD|2|200" {
		t.Errorf("fingerprints not round tripped: %v", seen)
	}
}

func TestAgentStateRoundTrip(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	if _, err := database.LoadAgentState(ctx, "agent-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing state")
	}

	if err := database.SaveAgentState(ctx, "agent-1", `{"last_high":123.4}`); err != nil {
		t.Fatalf("SaveAgentState: %v", err)
	}
	state, err := database.LoadAgentState(ctx, "agent-1")
	if err != nil {
		t.Fatalf("LoadAgentState: %v", err)
	}
	if state != `{"last_high":123.4}` {
		t.Errorf("state = %q", state)
	}

	// overwrite
	if err := database.SaveAgentState(ctx, "agent-1", `{"last_high":200}`); err != nil {
		t.Fatalf("SaveAgentState: %v", err)
	}
	state, _ = database.LoadAgentState(ctx, "agent-1")
	if state != `{"last_high":200}` {
		t.Errorf("state after overwrite = %q", state)
	}
}
