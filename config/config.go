package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/adapters/logger" // Import the logger package for LogLevel
	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/eventbus"
	"cryptoSentinelBot/internal/exits"
	"cryptoSentinelBot/internal/ids"
	"cryptoSentinelBot/internal/risk"
	"cryptoSentinelBot/internal/strategy"
)

// Trading modes.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Config holds all application configuration.
type Config struct {
	// Venue
	Mode              string // paper or live
	APIKey            string
	SecretKey         string
	IsTestnet         bool
	PaperFeeRate      decimal.Decimal
	PaperQuoteBalance decimal.Decimal

	// Trading
	Symbol           string // BASE/QUOTE, e.g. BTC/USDT
	TradeQuoteAmount decimal.Decimal
	SessionID        string

	// Orchestrator loops
	EvalInterval      time.Duration
	ExitsInterval     time.Duration
	WatchdogInterval  time.Duration
	ReconcileInterval time.Duration
	DrainTimeout      time.Duration

	// Safety
	DeadMansTimeout time.Duration // 0 disables
	LockTTL         time.Duration

	// Watchdog SLA
	WatchdogWindow          time.Duration
	WatchdogPauseErrorRate  float64
	WatchdogPauseLatency    time.Duration
	WatchdogResumeErrorRate float64
	WatchdogResumeLatency   time.Duration

	// Execution
	IdempotencyTTL     time.Duration
	IdempotencyBackend string // sqlite or memory
	MaxSlippagePct     decimal.Decimal
	SettlementTimeout  time.Duration

	Bus      eventbus.Config
	Risk     risk.Config
	Exits    exits.Config
	Strategy strategy.Config

	// Database
	DBPath string

	// Logging
	LogLevel  logger.LogLevel // Use the LogLevel type from the logger adapter
	LogFormat string          // text or json

	// Metrics listen address; empty disables the endpoint.
	MetricsAddr string
}

// IsLive reports whether orders go to the real venue.
func (c *Config) IsLive() bool {
	return c.Mode == ModeLive
}

// LoadConfig loads configuration from environment variables and the given
// .env files (".env" when none are given).
func LoadConfig(files ...string) (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load(files...)

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Venue
	cfg.Mode = strings.ToLower(getEnv("MODE", ModePaper))
	if cfg.Mode != ModePaper && cfg.Mode != ModeLive {
		errs = append(errs, fmt.Sprintf("MODE must be %q or %q, got %q", ModePaper, ModeLive, cfg.Mode))
	}
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	if cfg.IsLive() {
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set in live mode")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set in live mode")
		}
	}

	cfg.PaperFeeRate, err = getEnvAsDecimalRequired("PAPER_FEE_RATE", "0.001")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PAPER_FEE_RATE: %v", err))
	} else if cfg.PaperFeeRate.IsNegative() || cfg.PaperFeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, "PAPER_FEE_RATE must be in [0, 1)")
	}
	cfg.PaperQuoteBalance, err = getEnvAsDecimalRequired("PAPER_QUOTE_BALANCE", "10000")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PAPER_QUOTE_BALANCE: %v", err))
	} else if cfg.PaperQuoteBalance.IsNegative() {
		errs = append(errs, "PAPER_QUOTE_BALANCE cannot be negative")
	}

	// Trading
	cfg.Symbol = strings.ToUpper(getEnv("SYMBOL", "BTC/USDT"))
	if _, _, err := domain.SplitSymbol(cfg.Symbol); err != nil {
		errs = append(errs, fmt.Sprintf("invalid SYMBOL: %v", err))
	}
	cfg.TradeQuoteAmount, err = getEnvAsDecimalRequired("TRADE_QUOTE_AMOUNT", "50")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TRADE_QUOTE_AMOUNT: %v", err))
	} else if !cfg.TradeQuoteAmount.IsPositive() {
		errs = append(errs, "TRADE_QUOTE_AMOUNT must be positive")
	}
	cfg.SessionID = getEnv("SESSION_ID", ids.NewSessionID())

	// Orchestrator loops
	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"EVAL_INTERVAL", 60 * time.Second, &cfg.EvalInterval},
		{"EXITS_INTERVAL", 5 * time.Second, &cfg.ExitsInterval},
		{"WATCHDOG_INTERVAL", 15 * time.Second, &cfg.WatchdogInterval},
		{"RECONCILE_INTERVAL", 60 * time.Second, &cfg.ReconcileInterval},
		{"DRAIN_TIMEOUT", 5 * time.Second, &cfg.DrainTimeout},
		{"WATCHDOG_WINDOW", 5 * time.Minute, &cfg.WatchdogWindow},
		{"WATCHDOG_PAUSE_LATENCY", 2 * time.Second, &cfg.WatchdogPauseLatency},
		{"WATCHDOG_RESUME_LATENCY", time.Second, &cfg.WatchdogResumeLatency},
		{"IDEMPOTENCY_TTL", 60 * time.Second, &cfg.IdempotencyTTL},
		{"SETTLEMENT_TIMEOUT", 300 * time.Second, &cfg.SettlementTimeout},
		{"LOCK_TTL", 60 * time.Second, &cfg.LockTTL},
	}
	for _, d := range durations {
		*d.dst, err = getEnvAsDurationRequired(d.key, d.def)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", d.key, err))
		} else if *d.dst <= 0 {
			errs = append(errs, d.key+" must be positive")
		}
	}
	if cfg.LockTTL <= cfg.WatchdogInterval {
		errs = append(errs, "LOCK_TTL must exceed WATCHDOG_INTERVAL, the lease is refreshed by the watchdog")
	}

	cfg.DeadMansTimeout, err = getEnvAsDurationRequired("DMS_TIMEOUT", 120*time.Second)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DMS_TIMEOUT: %v", err))
	} else if cfg.DeadMansTimeout < 0 {
		errs = append(errs, "DMS_TIMEOUT must not be negative")
	} else if cfg.DeadMansTimeout > 0 && cfg.DeadMansTimeout <= cfg.EvalInterval {
		errs = append(errs, "DMS_TIMEOUT must exceed EVAL_INTERVAL or be 0 to disable")
	}

	// Watchdog SLA
	cfg.WatchdogPauseErrorRate, err = getEnvAsFloatRequired("WATCHDOG_PAUSE_ERROR_RATE", 0.5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid WATCHDOG_PAUSE_ERROR_RATE: %v", err))
	}
	cfg.WatchdogResumeErrorRate, err = getEnvAsFloatRequired("WATCHDOG_RESUME_ERROR_RATE", 0.2)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid WATCHDOG_RESUME_ERROR_RATE: %v", err))
	}
	if cfg.WatchdogResumeErrorRate > cfg.WatchdogPauseErrorRate || cfg.WatchdogPauseErrorRate > 1 || cfg.WatchdogResumeErrorRate < 0 {
		errs = append(errs, "watchdog error rates must satisfy 0 <= resume <= pause <= 1")
	}
	if cfg.WatchdogResumeLatency > cfg.WatchdogPauseLatency {
		errs = append(errs, "WATCHDOG_RESUME_LATENCY must not exceed WATCHDOG_PAUSE_LATENCY")
	}

	// Execution
	cfg.MaxSlippagePct, err = getEnvAsDecimalRequired("MAX_SLIPPAGE_PCT", "0.5")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_SLIPPAGE_PCT: %v", err))
	} else if cfg.MaxSlippagePct.IsNegative() {
		errs = append(errs, "MAX_SLIPPAGE_PCT cannot be negative")
	}

	cfg.IdempotencyBackend = strings.ToLower(getEnv("IDEMPOTENCY_BACKEND", "sqlite"))
	if cfg.IdempotencyBackend != "sqlite" && cfg.IdempotencyBackend != "memory" {
		errs = append(errs, "IDEMPOTENCY_BACKEND must be sqlite or memory")
	}

	// Bus
	cfg.Bus.MaxAttempts = getEnvAsInt("BUS_MAX_ATTEMPTS", 3)
	cfg.Bus.Concurrency = getEnvAsInt("BUS_CONCURRENCY", 32)
	cfg.Bus.DedupWindow = getEnvAsInt("BUS_DEDUP_WINDOW", 0)
	if cfg.Bus.MaxAttempts <= 0 || cfg.Bus.Concurrency <= 0 || cfg.Bus.DedupWindow < 0 {
		errs = append(errs, "BUS_MAX_ATTEMPTS and BUS_CONCURRENCY must be positive, BUS_DEDUP_WINDOW cannot be negative")
	}

	errs = append(errs, loadRisk(&cfg.Risk)...)
	errs = append(errs, loadExits(&cfg.Exits)...)
	errs = append(errs, loadStrategy(&cfg.Strategy, cfg.TradeQuoteAmount)...)

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/sentinel.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "text"))
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, "LOG_FORMAT must be text or json")
	}

	cfg.MetricsAddr = getEnvAllowEmpty("METRICS_ADDR", ":9108")

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// loadRisk reads the RISK_* keys. A zero value disables the matching rule.
func loadRisk(rc *risk.Config) []string {
	var errs []string
	def := risk.DefaultConfig()
	*rc = def

	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"RISK_MAX_ORDERS_PER_DAY", def.MaxOrdersPerDay, &rc.MaxOrdersPerDay},
		{"RISK_MAX_ORDERS_5M", def.MaxOrders5m, &rc.MaxOrders5m},
		{"RISK_LOSS_STREAK_LIMIT", def.LossStreakLimit, &rc.LossStreakLimit},
	}
	for _, i := range ints {
		v, err := getEnvAsIntRequired(i.key, i.def)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", i.key, err))
			continue
		}
		if v < 0 {
			errs = append(errs, i.key+" cannot be negative")
		}
		*i.dst = v
	}

	decs := []struct {
		key string
		def decimal.Decimal
		dst *decimal.Decimal
	}{
		{"RISK_MAX_TURNOVER_PER_DAY", def.MaxTurnoverPerDay, &rc.MaxTurnoverPerDay},
		{"RISK_MAX_TURNOVER_5M", def.MaxTurnover5m, &rc.MaxTurnover5m},
		{"RISK_MAX_SPREAD_PCT", def.MaxSpreadPct, &rc.MaxSpreadPct},
		{"RISK_DAILY_LOSS_LIMIT", def.DailyLossLimit, &rc.DailyLossLimit},
		{"RISK_MAX_DRAWDOWN_PCT", def.MaxDrawdownPct, &rc.MaxDrawdownPct},
		{"RISK_EQUITY_BASE", def.EquityBase, &rc.EquityBase},
	}
	for _, d := range decs {
		v, err := getEnvAsDecimalRequired(d.key, d.def.String())
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", d.key, err))
			continue
		}
		if v.IsNegative() {
			errs = append(errs, d.key+" cannot be negative")
		}
		*d.dst = v
	}

	cooldown, err := getEnvAsDurationRequired("RISK_COOLDOWN", def.Cooldown)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RISK_COOLDOWN: %v", err))
	} else if cooldown < 0 {
		errs = append(errs, "RISK_COOLDOWN cannot be negative")
	}
	rc.Cooldown = cooldown

	rc.Groups = risk.ParseGroups(getEnv("RISK_CORRELATION_GROUPS", ""))
	if path := getEnv("RISK_CORRELATION_GROUPS_FILE", ""); path != "" {
		groups, err := risk.LoadGroupsFile(path)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid RISK_CORRELATION_GROUPS_FILE: %v", err))
		} else {
			rc.Groups = append(rc.Groups, groups...)
		}
	}
	return errs
}

func loadExits(ec *exits.Config) []string {
	var errs []string
	def := exits.DefaultConfig()
	*ec = def

	var err error
	ec.TickInterval, err = getEnvAsDurationRequired("EXITS_TICK_INTERVAL", def.TickInterval)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid EXITS_TICK_INTERVAL: %v", err))
	}
	ec.Timeframe = getEnv("EXITS_TIMEFRAME", def.Timeframe)
	ec.Bars = getEnvAsInt("EXITS_BARS", def.Bars)
	if ec.Bars < 2 {
		errs = append(errs, "EXITS_BARS must be at least 2")
	}
	ec.Breakeven = getEnvAsBool("EXITS_BREAKEVEN", def.Breakeven)

	decs := []struct {
		key string
		def decimal.Decimal
		dst *decimal.Decimal
	}{
		{"EXITS_K1", def.K1, &ec.K1},
		{"EXITS_K2", def.K2, &ec.K2},
		{"EXITS_K3", def.K3, &ec.K3},
		{"EXITS_TP1_PCT", def.TP1Pct, &ec.TP1Pct},
	}
	for _, d := range decs {
		v, err := getEnvAsDecimalRequired(d.key, d.def.String())
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", d.key, err))
			continue
		}
		if !v.IsPositive() {
			errs = append(errs, d.key+" must be positive")
		}
		*d.dst = v
	}
	if ec.K1.GreaterThanOrEqual(ec.K2) {
		errs = append(errs, "EXITS_K1 must be less than EXITS_K2")
	}
	if ec.TP1Pct.GreaterThan(decimal.NewFromInt(100)) {
		errs = append(errs, "EXITS_TP1_PCT cannot exceed 100")
	}
	return errs
}

func loadStrategy(sc *strategy.Config, quote decimal.Decimal) []string {
	var errs []string

	sc.Timeframe = getEnv("STRATEGY_TIMEFRAME", "15m")
	sc.ShortTermMAPeriod = getEnvAsInt("STRATEGY_SHORT_MA_PERIOD", 20)
	sc.LongTermMAPeriod = getEnvAsInt("STRATEGY_LONG_MA_PERIOD", 50)
	sc.EMAPeriod = getEnvAsInt("STRATEGY_EMA_PERIOD", 20)
	sc.RSIPeriod = getEnvAsInt("STRATEGY_RSI_PERIOD", 14)
	sc.QuoteAmount = quote

	overbought, err := getEnvAsDecimalRequired("STRATEGY_RSI_OVERBOUGHT", "70")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STRATEGY_RSI_OVERBOUGHT: %v", err))
	}
	sc.RSIOverbought = overbought

	// Validate strategy periods
	if sc.ShortTermMAPeriod <= 0 || sc.LongTermMAPeriod <= 0 || sc.EMAPeriod <= 0 || sc.RSIPeriod <= 0 {
		errs = append(errs, "strategy periods (MA, EMA, RSI) must be positive")
	}
	if sc.ShortTermMAPeriod >= sc.LongTermMAPeriod {
		errs = append(errs, "STRATEGY_SHORT_MA_PERIOD must be less than STRATEGY_LONG_MA_PERIOD")
	}
	if !sc.RSIOverbought.IsPositive() || sc.RSIOverbought.GreaterThan(decimal.NewFromInt(100)) {
		errs = append(errs, "STRATEGY_RSI_OVERBOUGHT must be between 0 and 100")
	}
	return errs
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAllowEmpty returns defaultValue only when key is unset, so an
// explicitly empty value can switch a feature off.
func getEnvAllowEmpty(key, defaultValue string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsDecimalRequired(key, defaultValue string) (decimal.Decimal, error) {
	valueStr := getEnv(key, defaultValue)
	value, err := decimal.NewFromString(strings.TrimSpace(valueStr))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsDurationRequired(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
