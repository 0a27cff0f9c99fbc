// fetch_klines downloads historical klines into the local SQLite store for
// offline rule studies.
package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/adapters/binanceclient"
	"cryptoSignalBot/internal/adapters/logger"
	"cryptoSignalBot/internal/adapters/sqlite"
)

func main() {
	symbolsFlag := flag.String("symbols", "ETHUSDT", "comma-separated symbols to fetch")
	intervalFlag := flag.String("interval", "", "kline interval (defaults to KLINE_INTERVAL)")
	daysFlag := flag.Int("days", 90, "how many days back to fetch")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	// 3. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		ProxyURL:   cfg.ProxyURL,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	// 4. Initialize Kline Repository
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize kline repository")
		log.Fatalf("FATAL: Failed to initialize kline repository: %v", err)
	}
	defer repo.Close()

	interval := *intervalFlag
	if interval == "" {
		interval = cfg.KlineInterval
	}
	end := time.Now()
	start := end.AddDate(0, 0, -*daysFlag)

	ctx := context.Background()
	for _, symbol := range strings.Split(*symbolsFlag, ",") {
		symbol = strings.TrimSpace(symbol)
		if symbol == "" {
			continue
		}
		appLogger.Info(ctx, "Fetching klines", map[string]interface{}{
			"symbol": symbol, "interval": interval, "from": start, "to": end,
		})
		klines, err := binanceClient.GetKlinesRange(ctx, symbol, interval, start, end)
		if err != nil {
			appLogger.Error(ctx, err, "Error fetching klines", map[string]interface{}{"symbol": symbol})
			log.Fatalf("Error fetching klines for %s: %v", symbol, err)
		}
		inserted, err := repo.InsertKlines(ctx, klines)
		if err != nil {
			appLogger.Error(ctx, err, "Error storing klines", map[string]interface{}{"symbol": symbol})
			log.Fatalf("Error storing klines for %s: %v", symbol, err)
		}
		appLogger.Info(ctx, "Stored klines", map[string]interface{}{
			"symbol": symbol, "fetched": len(klines), "new": inserted,
		})
	}
}
