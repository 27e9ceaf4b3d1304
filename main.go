package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"signal-core/internal/account"
	"signal-core/internal/agent"
	"signal-core/internal/api"
	"signal-core/internal/audit"
	"signal-core/internal/bus"
	"signal-core/internal/engine"
	"signal-core/internal/execution"
	"signal-core/internal/gauntlet"
	"signal-core/internal/ledger"
	"signal-core/internal/market"
	"signal-core/internal/monitor"
	"signal-core/internal/notify"
	"signal-core/internal/ratelimit"
	"signal-core/internal/reconcile"
	"signal-core/internal/risk"
	"signal-core/internal/trade"
	"signal-core/pkg/advisory"
	"signal-core/pkg/cache"
	"signal-core/pkg/config"
	"signal-core/pkg/db"
	"signal-core/pkg/exchange/common"
	"signal-core/pkg/exchange/kraken"
	"signal-core/pkg/exchange/paper"
)

func main() {
	logger := newLogger("info")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load configuration")
	}
	logger = newLogger(cfg.LogLevel)

	version := os.Getenv("APP_VERSION")
	if version == "" {
		version = "v0.4-dev"
	}

	logger.Info().
		Str("mode", cfg.Mode).
		Bool("dry_run", cfg.DryRun).
		Bool("mock_feed", cfg.UseMockFeed).
		Strs("symbols", cfg.Symbols).
		Str("version", version).
		Msg("signal pipeline starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	store, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer store.Close()
	if err := db.ApplyMigrations(store); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}

	events := bus.NewBus()
	metrics := monitor.NewMetrics()
	quotes := cache.NewQuoteCache()

	trail := audit.New(store, events, logger, cfg.AuditBuffer)
	defer trail.Close()

	// Session risk engine. The trip hook mirrors the event onto the bus
	// for subscribers and into the trail for the permanent record.
	riskEng, err := risk.NewEngine(store, risk.Config{
		BaseRiskPct:       cfg.RiskBasePct,
		MaxDailyLoss:      cfg.MaxDailyLoss,
		EquityDrawdownPct: cfg.EquityDrawdownPct,
		WinStreakTrigger:  cfg.WinStreakTrigger,
		WinMultiplier:     cfg.WinMultiplier,
		LossStreakTrigger: cfg.LossStreakTrigger,
		LossMultiplier:    cfg.LossMultiplier,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("risk engine init")
	}
	riskEng.OnKillSwitch = func(reason string) {
		trail.Record(audit.Entry{
			Component: "risk",
			Level:     audit.LevelCritical,
			Action:    audit.ActionKillSwitchTrip,
			Details:   map[string]any{"reason": reason},
		})
		events.Publish(bus.TopicKillSwitch, risk.KillSwitchEvent{Reason: reason, Time: time.Now()})
	}

	// Position ledger seeded from the store
	book := ledger.New(store, logger)
	if err := book.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("load position ledger")
	}

	// Venue gateway. Real order flow needs both keys turned: MODE=live and
	// DRY_RUN=false. Either one alone keeps everything on the paper venue.
	var (
		gateway  common.Gateway
		paperGw  *paper.Gateway
		krakenGw *kraken.Client
	)
	if cfg.Live() && !cfg.DryRun {
		if cfg.KrakenAPIKey == "" || cfg.KrakenAPISecret == "" {
			logger.Fatal().Msg("live mode requires KRAKEN_API_KEY and KRAKEN_API_SECRET")
		}
		krakenGw = kraken.New(kraken.Config{APIKey: cfg.KrakenAPIKey, APISecret: cfg.KrakenAPISecret})
		gateway = krakenGw
	} else {
		if cfg.Live() {
			logger.Warn().Msg("DRY_RUN holds live mode on the paper venue; set DRY_RUN=false to arm")
		}
		paperGw = paper.New(paper.Config{
			Currency:     cfg.Currency,
			StartBalance: cfg.InitialBalance,
			FeeRate:      cfg.PaperFeeRate,
			SlippageBps:  cfg.PaperSlippageBps,
		}, logger)
		gateway = paperGw
	}

	// Cash book; equity marks open positions at the latest cached price.
	acct := account.New(gateway, cfg.Currency, time.Duration(cfg.BalanceSyncSec)*time.Second, logger)
	acct.SetMarkFunc(func() float64 {
		var sum float64
		for _, p := range book.Positions() {
			if last, ok := quotes.Last(p.Symbol); ok {
				sum += p.Qty * last
			}
		}
		return sum
	})
	acct.Start(ctx)

	// Gate chain with rolling market statistics
	tracker := gauntlet.NewTracker(5, 20, 20)
	var facts gauntlet.FactChecker
	if cfg.FactCheckURL != "" {
		facts = advisory.New(advisory.Config{BaseURL: cfg.FactCheckURL, APIKey: cfg.FactCheckAPIKey}, logger)
	}
	gauntletCfg := gauntlet.DefaultConfig()
	gauntletCfg.DrawdownLimit = cfg.GauntletDrawdownLimit
	gauntletCfg.ExposureCapPct = cfg.GauntletExposureCap
	gauntletCfg.BasePositionSize = cfg.GauntletBasePosition
	gauntletCfg.PositionCeiling = cfg.GauntletPositionCeiling
	gauntletCfg.MaxSpread = cfg.GauntletMaxSpread
	gauntletCfg.MinAvgVolume = cfg.GauntletMinVolume
	gauntletCfg.ATRMultiple = cfg.GauntletATRMultiple
	gates := gauntlet.New(gauntletCfg, riskEng, book, tracker, facts, logger)

	// Signal queue and its single consumer. QUEUE_WAL_DIR turns on the
	// durable variant; a WAL that cannot be opened degrades to the memory
	// queue rather than keeping the pipeline down.
	var queue bus.Queue
	if cfg.QueueWALDir != "" {
		durable, err := bus.NewDurableQueue(cfg.QueueWALDir, cfg.QueueSize, logger)
		if err != nil {
			logger.Warn().Err(err).Str("dir", cfg.QueueWALDir).
				Msg("durable queue unavailable, using memory queue")
			queue = bus.NewMemoryQueue(cfg.QueueSize)
		} else {
			replayed, err := durable.Recover()
			if err != nil {
				logger.Warn().Err(err).Msg("queue WAL replay incomplete")
			}
			if replayed > 0 {
				logger.Info().Int("signals", replayed).Msg("replayed pending signals from WAL")
			}
			queue = durable
		}
	} else {
		queue = bus.NewMemoryQueue(cfg.QueueSize)
	}
	defer queue.Close()

	execCfg := execution.DefaultConfig()
	execCfg.Venue = gateway.Name()
	execCfg.DryRun = cfg.DryRun
	execCfg.OrderCost = cfg.OrderCost
	execCfg.MaxSpreadPct = cfg.MaxSpreadPct
	execCfg.AuthFailLimit = cfg.AuthFailLimit
	execCfg.SubmitTimeout = time.Duration(cfg.SubmitTimeoutSec) * time.Second
	exec, err := execution.New(execCfg, execution.Deps{
		Queue:    queue,
		Events:   events,
		Gateway:  gateway,
		Bucket:   ratelimit.NewBucket(cfg.BucketCapacity, cfg.BucketDecay),
		Gauntlet: gates,
		Risk:     riskEng,
		Ledger:   book,
		Account:  acct,
		Store:    store,
		Trail:    trail,
		Metrics:  metrics,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("execution manager init")
	}
	go exec.Run(ctx)

	// Trading agents from agents.yaml, mirrored into the store
	runner := agent.NewRunner(events, queue, store, logger)
	agentCfgs, err := agent.LoadConfig(cfg.AgentsFile)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.AgentsFile).Msg("no agent definitions loaded")
	} else {
		if err := agent.SyncToDB(ctx, store, agentCfgs); err != nil {
			logger.Warn().Err(err).Msg("agent sync to store failed")
		}
		active, err := agent.BuildActive(agentCfgs)
		if err != nil {
			logger.Fatal().Err(err).Msg("agent configuration invalid")
		}
		for _, a := range active {
			runner.Add(a)
		}
	}
	runner.Start(ctx)

	// Market data: live websocket feed or the synthetic walk
	if cfg.UseMockFeed {
		mock := market.MockFeed{
			Events:     events,
			Symbols:    cfg.Symbols,
			StartPrice: cfg.MockStartPrice,
			Interval:   time.Duration(cfg.MockTickMs) * time.Millisecond,
			Cache:      quotes,
			Tracker:    tracker,
			Metrics:    metrics,
			Log:        logger,
		}
		mock.Start(ctx)
	} else {
		feed := market.Feed{
			Stream:    kraken.NewStreamClient(logger),
			Events:    events,
			Symbols:   cfg.Symbols,
			Cache:     quotes,
			Tracker:   tracker,
			Metrics:   metrics,
			Log:       logger,
			Reconnect: time.Duration(cfg.FeedReconnectSec) * time.Second,
		}
		feed.Start(ctx)

		// Seed the rolling stats from REST history so the first signals
		// are not rejected for missing context. Public endpoint, no keys.
		hist := krakenGw
		if hist == nil {
			hist = kraken.New(kraken.Config{})
		}
		if err := market.WarmUp(ctx, hist, tracker, cfg.Symbols, 1, logger); err != nil {
			logger.Warn().Err(err).Msg("stats warm-up incomplete, starting cold")
		}
	}

	// The paper venue marks its book from the same ticks everyone sees.
	if paperGw != nil {
		ticks, unsub := events.Subscribe(bus.TopicMarketData, 100)
		go func() {
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-ticks:
					if md, ok := msg.(trade.MarketData); ok {
						paperGw.SetQuote(common.Quote{
							Symbol: md.Symbol,
							Bid:    md.Bid,
							Ask:    md.Ask,
							Last:   md.Price,
							Volume: md.Volume,
							Time:   md.Timestamp,
						})
					}
				}
			}
		}()
	}

	// Alert fan-out: webhook when configured, structured log otherwise
	var target notify.Notifier
	if cfg.AlertWebhookURL != "" {
		target = notify.NewWebhook(cfg.AlertWebhookURL, 0, logger)
	} else {
		target = notify.NewLog(logger)
	}
	watcher := notify.NewWatcher(events, logger, target)
	watcher.Start(ctx)

	// Drift detection between the venue and the local order ledger. The
	// periodic sweep only runs against the real venue; paper fills are
	// booked synchronously and cannot drift.
	sweeper := reconcile.NewSweeper(gateway, store, trail, metrics,
		time.Duration(cfg.ReconcileIntervalSec)*time.Second, logger)
	if krakenGw != nil {
		sweeper.Start(ctx)
	}

	// Ops facade and API
	eng := engine.NewImpl(engine.Config{
		Risk:          riskEng,
		Execution:     exec,
		Queue:         queue,
		QueueCapacity: cfg.QueueSize,
		Agents:        runner,
		Account:       acct,
		Store:         store,
		Trail:         trail,
		Metrics:       metrics,
		Sweeper:       sweeper,
		Meta: engine.Meta{
			Mode:      cfg.Mode,
			DryRun:    cfg.DryRun,
			Venue:     gateway.Name(),
			Symbols:   cfg.Symbols,
			MockFeed:  cfg.UseMockFeed,
			Version:   version,
			StartedAt: time.Now(),
		},
	}, logger)

	server := api.NewServer(api.Config{
		Engine:    eng,
		Events:    events,
		Store:     store,
		Metrics:   metrics,
		Quotes:    quotes,
		JWTSecret: cfg.JWTSecret,
	}, logger)

	logger.Info().Str("addr", ":"+cfg.Port).Msg("ops API listening")
	if err := server.Run(ctx, ":"+cfg.Port); err != nil {
		logger.Error().Err(err).Msg("api server stopped")
	}

	// Drain the background workers before the store closes under them.
	stop()
	runner.Wait()
	sweeper.Wait()
	watcher.Wait()
	logger.Info().Msg("signal pipeline stopped")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(lvl)
}
