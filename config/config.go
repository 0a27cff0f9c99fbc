package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"

	"cryptoSignalBot/internal/adapters/logger"
)

// Config holds all application configuration.
type Config struct {
	// Binance API. Keys are optional; only public endpoints are used.
	APIKey    string
	SecretKey string
	IsTestnet bool
	ProxyURL  string

	// Market data
	KlineInterval string // e.g. "15m"; DebugMode overrides to "1m"
	DebugMode     bool
	HistoryLimit  int // Klines fetched to seed indicators on (re)connect

	// Indicators
	EMAPeriod int
	ATRPeriod int

	// Detection
	Rules             []string // Rule names, comma-separated in env
	BandRatio         float64
	ReversalBandRatio float64
	ATRBandMult       float64
	Cooldown          time.Duration

	// Outcome tracking
	Horizons        string // Comma-separated durations, e.g. "1h,4h,24h"
	OutcomeInterval time.Duration

	// Symbol universe
	MinQuoteVolume  float64
	RankFrom        int
	RankTo          int
	UniverseRefresh time.Duration

	// Collector tuning
	QueueSize   int
	RetryBudget int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration

	// Storage
	DataDir string
	DBPath  string

	// Alerts
	AlertBell bool

	// Logging
	LogLevel zapcore.Level
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", false)
	cfg.ProxyURL = getEnv("PROXY_URL", "")

	// Market data
	cfg.KlineInterval = getEnv("KLINE_INTERVAL", "15m")
	cfg.DebugMode = getEnvAsBool("DEBUG_MODE", false)
	if cfg.DebugMode {
		cfg.KlineInterval = "1m"
	}
	cfg.HistoryLimit = getEnvAsInt("HISTORY_LIMIT", 200)
	if cfg.HistoryLimit <= 0 {
		errs = append(errs, "HISTORY_LIMIT must be positive")
	}

	// Indicators
	cfg.EMAPeriod = getEnvAsInt("EMA_PERIOD", 60)
	cfg.ATRPeriod = getEnvAsInt("ATR_PERIOD", 14)
	if cfg.EMAPeriod <= 0 || cfg.ATRPeriod <= 0 {
		errs = append(errs, "EMA_PERIOD and ATR_PERIOD must be positive")
	}
	if cfg.HistoryLimit <= cfg.EMAPeriod || cfg.HistoryLimit <= cfg.ATRPeriod {
		errs = append(errs, "HISTORY_LIMIT must exceed the indicator periods")
	}

	// Detection
	rulesStr := getEnv("RULES", "long-ema-band,short-ema-band")
	for _, name := range strings.Split(rulesStr, ",") {
		if name = strings.TrimSpace(name); name != "" {
			cfg.Rules = append(cfg.Rules, name)
		}
	}
	if len(cfg.Rules) == 0 {
		errs = append(errs, "RULES must name at least one rule")
	}
	cfg.BandRatio = getEnvAsFloat("BAND_RATIO", 1.0618)
	cfg.ReversalBandRatio = getEnvAsFloat("REVERSAL_BAND_RATIO", 1.04382)
	cfg.ATRBandMult = getEnvAsFloat("ATR_BAND_MULT", 1.0)
	if cfg.BandRatio <= 1.0 || cfg.ReversalBandRatio <= 1.0 {
		errs = append(errs, "BAND_RATIO and REVERSAL_BAND_RATIO must be greater than 1.0")
	}
	if cfg.ATRBandMult <= 0 {
		errs = append(errs, "ATR_BAND_MULT must be positive")
	}

	var err error
	cfg.Cooldown, err = getEnvAsDuration("COOLDOWN", 15*time.Minute)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid COOLDOWN: %v", err))
	} else if cfg.Cooldown <= 0 {
		errs = append(errs, "COOLDOWN must be positive")
	}

	// Outcome tracking
	cfg.Horizons = getEnv("HORIZONS", "1h,4h,24h")
	cfg.OutcomeInterval, err = getEnvAsDuration("OUTCOME_INTERVAL", time.Minute)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid OUTCOME_INTERVAL: %v", err))
	}

	// Symbol universe
	cfg.MinQuoteVolume = getEnvAsFloat("MIN_QUOTE_VOLUME", 10_000_000)
	cfg.RankFrom = getEnvAsInt("SYMBOLS_FROM", 1)
	cfg.RankTo = getEnvAsInt("SYMBOLS_TO", 80)
	if cfg.RankFrom < 1 || cfg.RankTo <= cfg.RankFrom {
		errs = append(errs, "SYMBOLS_FROM must be >= 1 and less than SYMBOLS_TO")
	}
	cfg.UniverseRefresh, err = getEnvAsDuration("UNIVERSE_REFRESH", time.Hour)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid UNIVERSE_REFRESH: %v", err))
	}

	// Collector tuning
	cfg.QueueSize = getEnvAsInt("QUEUE_SIZE", 16)
	cfg.RetryBudget = getEnvAsInt("RETRY_BUDGET", 5)
	cfg.MinBackoff, err = getEnvAsDuration("BACKOFF_MIN", time.Second)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BACKOFF_MIN: %v", err))
	}
	cfg.MaxBackoff, err = getEnvAsDuration("BACKOFF_MAX", time.Minute)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BACKOFF_MAX: %v", err))
	}
	if cfg.QueueSize <= 0 || cfg.RetryBudget <= 0 {
		errs = append(errs, "QUEUE_SIZE and RETRY_BUDGET must be positive")
	}
	if cfg.MinBackoff > cfg.MaxBackoff {
		errs = append(errs, "BACKOFF_MIN must not exceed BACKOFF_MAX")
	}

	// Storage
	cfg.DataDir = getEnv("DATA_DIR", "./signal_data")
	cfg.DBPath = getEnv("DB_PATH", "./data/klines.db")
	if cfg.DataDir == "" {
		errs = append(errs, "DATA_DIR must be set")
	}

	// Alerts
	cfg.AlertBell = getEnvAsBool("ALERT_BELL", true)

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
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

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
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
