// Package config loads HOPE's runtime configuration from the
// environment (spec §6), following the teacher's typed getEnv* helper
// idiom.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Mode selects the exchange base URL and whether orders are actually
// submitted (spec §6).
type Mode string

const (
	ModeDry     Mode = "DRY"
	ModeTestnet Mode = "TESTNET"
	ModeLive    Mode = "LIVE"
)

// Config is HOPE's full runtime configuration, sourced from
// environment variables with the defaults spec §6 specifies.
type Config struct {
	Mode Mode

	Symbols []string

	MaxDailyLossUSD   decimal.Decimal
	MaxOpenPositions  int
	MinDailyVolumeUSD decimal.Decimal

	SignalTTL       time.Duration
	PriceStaleAfter time.Duration
	WatchdogTick    time.Duration
	ReconcilePeriod time.Duration
	HeartbeatPeriod time.Duration

	ExchangeKey     string
	ExchangeSecret  string
	ExchangeBaseURL string
	ExchangeWSURL   string

	AccountBalanceUSD decimal.Decimal
	BaseSizePct       decimal.Decimal
	MinSizeUSD        decimal.Decimal
	MaxSizeUSD        decimal.Decimal
	MaxExposureUSD    decimal.Decimal
	KTP               decimal.Decimal
	KSL               decimal.Decimal
	FloorTPPct        decimal.Decimal
	DefaultTimeoutSec int

	StalePricePanic time.Duration
	APISilencePanic time.Duration
	ProcessRatePerSec float64
	ExecutorConcurrency int
	MaxDailyTrades      int
	SymbolCooldown      time.Duration

	HTTPAddr              string
	EventLogDir           string
	StoragePath           string
	AllowlistSnapshotPath string
	RiskSnapshotPath      string
}

// Load reads Config from the environment, applying spec §6 defaults,
// and validates mode-dependent required fields.
func Load() (*Config, error) {
	cfg := &Config{
		Mode: Mode(getEnv("MODE", string(ModeDry))),

		Symbols: splitCSV(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT")),

		MaxDailyLossUSD:   getEnvDecimal("MAX_DAILY_LOSS_USD", decimal.NewFromInt(15)),
		MaxOpenPositions:  getEnvInt("MAX_OPEN_POSITIONS", 2),
		MinDailyVolumeUSD: getEnvDecimal("MIN_DAILY_VOLUME_USD", decimal.NewFromInt(5_000_000)),

		SignalTTL:       getEnvDuration("SIGNAL_TTL_SEC", 30*time.Second),
		PriceStaleAfter: getEnvDuration("PRICE_STALE_SEC", 10*time.Second),
		WatchdogTick:    getEnvDuration("WATCHDOG_TICK_SEC", 1*time.Second),
		ReconcilePeriod: getEnvDuration("RECONCILE_PERIOD_SEC", 60*time.Second),
		HeartbeatPeriod: getEnvDuration("HEARTBEAT_PERIOD_SEC", 30*time.Second),

		ExchangeKey:     os.Getenv("EXCHANGE_KEY"),
		ExchangeSecret:  os.Getenv("EXCHANGE_SECRET"),
		ExchangeBaseURL: getEnv("EXCHANGE_BASE_URL", "https://api.binance.com"),
		ExchangeWSURL:   getEnv("EXCHANGE_WS_URL", "wss://stream.binance.com:9443/ws"),

		AccountBalanceUSD: getEnvDecimal("ACCOUNT_BALANCE_USD", decimal.NewFromInt(1000)),
		BaseSizePct:       getEnvDecimal("BASE_SIZE_PCT", decimal.RequireFromString("0.02")),
		MinSizeUSD:        getEnvDecimal("MIN_SIZE_USD", decimal.NewFromInt(10)),
		MaxSizeUSD:        getEnvDecimal("MAX_SIZE_USD", decimal.NewFromInt(200)),
		MaxExposureUSD:    getEnvDecimal("MAX_EXPOSURE_USD", decimal.NewFromInt(500)),
		KTP:               getEnvDecimal("K_TP", decimal.RequireFromString("2.0")),
		KSL:               getEnvDecimal("K_SL", decimal.RequireFromString("1.0")),
		FloorTPPct:        getEnvDecimal("FLOOR_TP_PCT", decimal.RequireFromString("0.5")),
		DefaultTimeoutSec: getEnvInt("DEFAULT_TIMEOUT_SEC", 4*60*60),

		StalePricePanic:     getEnvDuration("STALE_PRICE_PANIC_SEC", 30*time.Second),
		APISilencePanic:     getEnvDuration("API_SILENCE_PANIC_SEC", 60*time.Second),
		ProcessRatePerSec:   getEnvFloat("PROCESS_RATE_PER_SEC", 10),
		ExecutorConcurrency: getEnvInt("EXECUTOR_CONCURRENCY", 4),
		MaxDailyTrades:      getEnvInt("MAX_DAILY_TRADES", 20),
		SymbolCooldown:      getEnvDuration("SYMBOL_COOLDOWN_SEC", 5*time.Minute),

		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		EventLogDir:           getEnv("EVENT_LOG_DIR", "data/events"),
		StoragePath:           getEnv("STORAGE_PATH", "data/hope.db"),
		AllowlistSnapshotPath: getEnv("ALLOWLIST_SNAPSHOT_PATH", "state/allowlist.json"),
		RiskSnapshotPath:      getEnv("RISK_SNAPSHOT_PATH", "state/risk.json"),
	}

	switch cfg.Mode {
	case ModeDry, ModeTestnet, ModeLive:
	default:
		return nil, fmt.Errorf("MODE must be one of DRY, TESTNET, LIVE, got %q", cfg.Mode)
	}

	if cfg.Mode != ModeDry {
		if cfg.ExchangeKey == "" || cfg.ExchangeSecret == "" {
			return nil, fmt.Errorf("EXCHANGE_KEY and EXCHANGE_SECRET are required in %s mode", cfg.Mode)
		}
	}

	return cfg, nil
}

// getEnvDuration parses SIGNAL_TTL_SEC-style whole-second env vars
// (spec §6 names every duration knob with a _SEC suffix).
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
