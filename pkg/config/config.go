package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the signal pipeline.
type Config struct {
	Port string

	// Run mode
	Mode   string // "paper" (default) or "live"
	DryRun bool   // record fills locally, never submit to the venue

	// Market data
	Symbols          []string
	UseMockFeed      bool
	MockStartPrice   float64
	MockTickMs       int
	FeedReconnectSec int

	// Kraken credentials (live mode)
	KrakenAPIKey    string
	KrakenAPISecret string

	// Database
	DBPath string

	// Signal queue
	QueueSize   int
	QueueWALDir string // non-empty enables the durable queue

	// Submission throttle (decaying token bucket)
	BucketCapacity float64
	BucketDecay    float64 // tokens restored per second
	OrderCost      float64 // tokens consumed per submission

	// Execution
	MaxSpreadPct     float64
	AuthFailLimit    int
	SubmitTimeoutSec int

	// Gauntlet thresholds
	GauntletDrawdownLimit   float64
	GauntletExposureCap     float64
	GauntletBasePosition    float64
	GauntletPositionCeiling float64
	GauntletMaxSpread       float64
	GauntletMinVolume       float64
	GauntletATRMultiple     float64

	// Session risk
	RiskBasePct       float64
	MaxDailyLoss      float64
	EquityDrawdownPct float64
	WinStreakTrigger  int
	WinMultiplier     float64
	LossStreakTrigger int
	LossMultiplier    float64

	// Account
	InitialBalance float64
	Currency       string
	BalanceSyncSec int

	// Paper venue simulation
	PaperFeeRate     float64 // decimal (e.g. 0.0026 = 26 bps)
	PaperSlippageBps float64

	// Reconciliation
	ReconcileIntervalSec int

	// Alerts
	AlertWebhookURL string

	// Fact-check provider
	FactCheckURL    string
	FactCheckAPIKey string

	// Agent definitions
	AgentsFile string

	// Audit trail
	AuditBuffer int

	// Auth
	JWTSecret string

	// Logging
	LogLevel string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                    getEnv("PORT", "8080"),
		Mode:                    strings.ToLower(getEnv("MODE", "paper")),
		DryRun:                  getEnv("DRY_RUN", "true") == "true",
		Symbols:                 splitAndTrim(getEnv("SYMBOLS", "BTC/USD,ETH/USD")),
		UseMockFeed:             getEnv("USE_MOCK_FEED", "true") == "true",
		MockStartPrice:          getEnvFloat("MOCK_START_PRICE", 50000),
		MockTickMs:              getEnvInt("MOCK_TICK_MS", 500),
		FeedReconnectSec:        getEnvInt("FEED_RECONNECT_SEC", 5),
		KrakenAPIKey:            os.Getenv("KRAKEN_API_KEY"),
		KrakenAPISecret:         os.Getenv("KRAKEN_API_SECRET"),
		DBPath:                  getEnv("DB_PATH", "./data/pipeline.db"),
		QueueSize:               getEnvInt("QUEUE_SIZE", 1000),
		QueueWALDir:             getEnv("QUEUE_WAL_DIR", ""),
		BucketCapacity:          getEnvFloat("ORDER_BUCKET_CAPACITY", 20),
		BucketDecay:             getEnvFloat("ORDER_BUCKET_DECAY", 0.5),
		OrderCost:               getEnvFloat("ORDER_COST", 1),
		MaxSpreadPct:            getEnvFloat("MAX_SPREAD_PCT", 0.005),
		AuthFailLimit:           getEnvInt("AUTH_FAIL_LIMIT", 3),
		SubmitTimeoutSec:        getEnvInt("SUBMIT_TIMEOUT_SEC", 30),
		GauntletDrawdownLimit:   getEnvFloat("GAUNTLET_DRAWDOWN_LIMIT", 1000),
		GauntletExposureCap:     getEnvFloat("GAUNTLET_EXPOSURE_CAP", 0.05),
		GauntletBasePosition:    getEnvFloat("GAUNTLET_BASE_POSITION", 250),
		GauntletPositionCeiling: getEnvFloat("GAUNTLET_POSITION_CEILING", 3000),
		GauntletMaxSpread:       getEnvFloat("GAUNTLET_MAX_SPREAD", 0.005),
		GauntletMinVolume:       getEnvFloat("GAUNTLET_MIN_VOLUME", 500000),
		GauntletATRMultiple:     getEnvFloat("GAUNTLET_ATR_MULTIPLE", 1.5),
		RiskBasePct:             getEnvFloat("RISK_BASE_PCT", 0.01),
		MaxDailyLoss:            getEnvFloat("MAX_DAILY_LOSS", 500),
		EquityDrawdownPct:       getEnvFloat("EQUITY_DRAWDOWN_PCT", 0.05),
		WinStreakTrigger:        getEnvInt("WIN_STREAK_TRIGGER", 3),
		WinMultiplier:           getEnvFloat("WIN_STREAK_MULTIPLIER", 1.5),
		LossStreakTrigger:       getEnvInt("LOSS_STREAK_TRIGGER", 2),
		LossMultiplier:          getEnvFloat("LOSS_STREAK_MULTIPLIER", 0.5),
		InitialBalance:          getEnvFloat("INITIAL_BALANCE", 10000),
		Currency:                getEnv("ACCOUNT_CURRENCY", "USD"),
		BalanceSyncSec:          getEnvInt("BALANCE_SYNC_SEC", 30),
		PaperFeeRate:            getEnvFloat("PAPER_FEE_RATE", 0.0026),
		PaperSlippageBps:        getEnvFloat("PAPER_SLIPPAGE_BPS", 2),
		ReconcileIntervalSec:    getEnvInt("RECONCILE_INTERVAL_SEC", 60),
		AlertWebhookURL:         getEnv("ALERT_WEBHOOK_URL", ""),
		FactCheckURL:            getEnv("FACTCHECK_URL", ""),
		FactCheckAPIKey:         os.Getenv("FACTCHECK_API_KEY"),
		AgentsFile:              getEnv("AGENTS_FILE", "./agents.yaml"),
		AuditBuffer:             getEnvInt("AUDIT_BUFFER", 1024),
		JWTSecret:               getEnv("JWT_SECRET", "dev-secret"),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
	}, nil
}

// Live reports whether the pipeline should talk to the real venue.
func (c *Config) Live() bool {
	return c.Mode == "live"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
