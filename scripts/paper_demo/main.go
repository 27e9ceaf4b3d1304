package main

import (
	"context"
	"log"
	"time"

	"github.com/rs/zerolog"

	"signal-core/internal/account"
	"signal-core/internal/audit"
	"signal-core/internal/bus"
	"signal-core/internal/execution"
	"signal-core/internal/gauntlet"
	"signal-core/internal/ledger"
	"signal-core/internal/monitor"
	"signal-core/internal/ratelimit"
	"signal-core/internal/risk"
	"signal-core/internal/trade"
	"signal-core/pkg/db"
	"signal-core/pkg/exchange/common"
	"signal-core/pkg/exchange/paper"
)

// paper_demo runs a few order flows through the real pipeline against the
// simulated venue and an in-memory store. Nothing external is touched.
//
// Usage (from the module root):
//
//	go run ./scripts/paper_demo
//
// It will:
//  1. Submit a BUY that clears the gauntlet and fills on the paper book.
//  2. Redeliver the same signal to show the idempotency ledger at work.
//  3. Fire a burst past the rate-limit bucket to show deflection.
func main() {
	log.Println("=== paper demo starting ===")

	logger := zerolog.Nop()
	ctx := context.Background()

	store, err := db.New(":memory:")
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if err := db.ApplyMigrations(store); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	events := bus.NewBus()
	metrics := monitor.NewMetrics()
	trail := audit.New(store, events, logger, 256)
	defer trail.Close()

	riskEng, err := risk.NewEngine(store, risk.Config{
		BaseRiskPct:  0.01,
		MaxDailyLoss: 500,
	}, logger)
	if err != nil {
		log.Fatalf("risk engine: %v", err)
	}

	book := ledger.New(store, logger)
	if err := book.Load(ctx); err != nil {
		log.Fatalf("ledger: %v", err)
	}

	venue := paper.New(paper.Config{
		Currency:     "USD",
		StartBalance: 10_000,
		FeeRate:      0.0026,
	}, logger)

	acct := account.New(venue, "USD", time.Hour, logger)
	if err := acct.Sync(ctx); err != nil {
		log.Fatalf("account sync: %v", err)
	}

	tracker := gauntlet.NewTracker(5, 20, 20)
	gates := gauntlet.New(gauntlet.DefaultConfig(), riskEng, book, tracker, nil, logger)

	queue := bus.NewMemoryQueue(64)
	execCfg := execution.DefaultConfig()
	execCfg.Venue = venue.Name()
	mgr, err := execution.New(execCfg, execution.Deps{
		Queue:    queue,
		Events:   events,
		Gateway:  venue,
		Bucket:   ratelimit.NewBucket(3, 0.01),
		Gauntlet: gates,
		Risk:     riskEng,
		Ledger:   book,
		Account:  acct,
		Store:    store,
		Trail:    trail,
		Metrics:  metrics,
	}, logger)
	if err != nil {
		log.Fatalf("execution manager: %v", err)
	}

	// Seed the stats and the simulated book with one observation.
	md := trade.MarketData{
		Symbol:    "BTC/USD",
		Price:     50000,
		Bid:       49999,
		Ask:       50001,
		Volume:    5,
		Timestamp: time.Now().UTC(),
		Source:    "demo",
	}
	tracker.OnTick(md)
	venue.SetQuote(common.Quote{Symbol: md.Symbol, Bid: md.Bid, Ask: md.Ask, Last: md.Price, Time: md.Timestamp})

	log.Println("[SCENARIO 1] BUY through the full gate chain")
	sig := trade.NewSignal("demo", "BTC/USD", trade.SideBuy, 0.002)
	sig.Price = 50010
	sig.AssetClass = trade.AssetCrypto
	if err := mgr.Handle(ctx, sig); err != nil {
		log.Fatalf("handle: %v", err)
	}
	st := venue.Snapshot()
	log.Printf("  venue cash %.2f, positions %d", st.Cash, len(st.Positions))

	log.Println("[SCENARIO 2] Same signal redelivered")
	if err := mgr.Handle(ctx, sig); err != nil {
		log.Fatalf("handle duplicate: %v", err)
	}
	if again := venue.Snapshot(); again.Cash == st.Cash {
		log.Println("  ignored; venue cash untouched")
	}

	log.Println("[SCENARIO 3] Burst of 8 against a bucket of 3")
	for i := 0; i < 8; i++ {
		s := trade.NewSignal("demo", "BTC/USD", trade.SideBuy, 0.001)
		s.Price = 50010 + float64(i)
		s.AssetClass = trade.AssetCrypto
		if err := mgr.Handle(ctx, s); err != nil {
			log.Fatalf("handle burst %d: %v", i, err)
		}
	}

	trail.Close() // flush buffered audit rows before counting
	placed, _ := store.QueryAudit(ctx, db.AuditFilter{Action: audit.ActionOrderPlaced})
	deflected, _ := store.QueryAudit(ctx, db.AuditFilter{Action: audit.ActionDeflected})
	log.Printf("  placed %d, deflected %d", len(placed), len(deflected))

	final := venue.Snapshot()
	snap := acct.Get()
	log.Printf("final: venue cash %.2f fees %.4f | account total %.2f available %.2f",
		final.Cash, final.FeesPaid, snap.Total, snap.Available)
	log.Println("=== paper demo finished ===")
}
