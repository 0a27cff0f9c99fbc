package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/adapters/binanceclient"
	"cryptoSignalBot/internal/adapters/jsonstore"
	"cryptoSignalBot/internal/adapters/logger"
	"cryptoSignalBot/internal/app"
	"cryptoSignalBot/internal/signalstore"
	"cryptoSignalBot/internal/symbols"
)

func main() {
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
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Signal Repository (JSON day files)
	repo, err := jsonstore.New(cfg.DataDir, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize signal repository")
		log.Fatalf("FATAL: Failed to initialize signal repository: %v", err)
	}
	appLogger.Info(context.Background(), "Signal repository initialized", map[string]interface{}{"dataDir": cfg.DataDir})

	// 4. Initialize Exchange Client (Binance Adapter)
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
	appLogger.Info(context.Background(), "Binance client initialized")

	// 5. Initialize Signal Record Store
	store, err := signalstore.New(signalstore.Config{
		Repo:   repo,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize signal store")
		log.Fatalf("FATAL: Failed to initialize signal store: %v", err)
	}

	// 6. Initialize Symbol Provider
	provider, err := symbols.New(binanceClient, appLogger, symbols.Config{
		QuoteAsset:     "USDT",
		MinQuoteVolume: cfg.MinQuoteVolume,
		RankFrom:       cfg.RankFrom,
		RankTo:         cfg.RankTo,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize symbol provider")
		log.Fatalf("FATAL: Failed to initialize symbol provider: %v", err)
	}

	// 7. Initialize Application Service
	signalService, err := app.NewSignalService(cfg, appLogger, binanceClient, store, repo, provider)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize signal service")
		log.Fatalf("FATAL: Failed to initialize signal service: %v", err)
	}
	appLogger.Info(context.Background(), "Signal service initialized")

	// 8. Start the Service
	if err := signalService.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Signal service exited with error")
		log.Fatalf("FATAL: Signal service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
