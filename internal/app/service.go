// Package app wires the collector, indicator engines, detectors, signal
// store and outcome analyzer into one running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/alert"
	"cryptoSignalBot/internal/collector"
	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/outcome"
	"cryptoSignalBot/internal/ports"
	"cryptoSignalBot/internal/signalstore"
	"cryptoSignalBot/internal/strategy"
	"cryptoSignalBot/internal/strategy/indicators"
	"cryptoSignalBot/internal/strategy/rules"
)

// SignalService orchestrates the monitoring pipeline: one engine+detector
// pair per tracked symbol, fed by the collector, feeding the signal store.
type SignalService struct {
	cfg      *config.Config
	logger   ports.Logger
	client   ports.MarketDataClient
	store    *signalstore.Store
	repo     ports.SignalRepository
	provider ports.SymbolProvider

	ruleSet  []rules.Rule
	interval time.Duration

	mu        sync.Mutex
	pipelines map[string]*pipeline

	coll       *collector.Collector
	analyzer   *outcome.Analyzer
	dispatcher *alert.Dispatcher
}

// pipeline is the per-symbol processing state. It is only touched from that
// symbol's collector goroutine, except for detector freezing.
type pipeline struct {
	engine   *indicators.Engine
	detector *strategy.Detector
}

// NewSignalService creates the application service and builds the rule set.
func NewSignalService(
	cfg *config.Config,
	logger ports.Logger,
	client ports.MarketDataClient,
	store *signalstore.Store,
	repo ports.SignalRepository,
	provider ports.SymbolProvider,
) (*SignalService, error) {
	if cfg == nil || logger == nil || client == nil || store == nil || repo == nil || provider == nil {
		return nil, fmt.Errorf("missing required dependencies for SignalService")
	}

	interval, err := domain.IntervalDuration(cfg.KlineInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid kline interval: %w", err)
	}

	ruleSet, err := rules.Build(cfg.Rules, rules.Params{
		BandRatio:         cfg.BandRatio,
		ReversalBandRatio: cfg.ReversalBandRatio,
		ATRBandMult:       cfg.ATRBandMult,
	})
	if err != nil {
		return nil, fmt.Errorf("building rule set: %w", err)
	}

	horizons, err := outcome.ParseHorizons(cfg.Horizons)
	if err != nil {
		return nil, fmt.Errorf("parsing horizons: %w", err)
	}

	s := &SignalService{
		cfg:       cfg,
		logger:    logger,
		client:    client,
		store:     store,
		repo:      repo,
		provider:  provider,
		ruleSet:   ruleSet,
		interval:  interval,
		pipelines: make(map[string]*pipeline),
	}

	s.coll, err = collector.New(collector.Config{
		Client:       client,
		Logger:       logger,
		Interval:     cfg.KlineInterval,
		HistoryLimit: cfg.HistoryLimit,
		QueueSize:    cfg.QueueSize,
		RetryBudget:  cfg.RetryBudget,
		MinBackoff:   cfg.MinBackoff,
		MaxBackoff:   cfg.MaxBackoff,
		OnSeed:       s.handleSeed,
		OnKline:      s.handleKline,
		OnState:      s.handleTaskState,
	})
	if err != nil {
		return nil, fmt.Errorf("building collector: %w", err)
	}

	s.analyzer, err = outcome.New(outcome.Config{
		Store:    store,
		Prices:   client,
		Logger:   logger,
		Horizons: horizons,
		Interval: cfg.OutcomeInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("building outcome analyzer: %w", err)
	}

	s.dispatcher = alert.New(os.Stdout, logger, cfg.AlertBell)

	return s, nil
}

// Start runs the service until the context is cancelled or a signal arrives.
func (s *SignalService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting Signal Service...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	// 1. Check exchange connectivity
	if err := s.client.Ping(ctx); err != nil {
		s.logger.Error(ctx, err, "Exchange unreachable at startup")
		return fmt.Errorf("exchange connectivity check failed: %w", err)
	}

	// 2. Recover today's records and archive older day files
	recovered, err := s.store.Recover(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to recover persisted records")
		return fmt.Errorf("record recovery failed: %w", err)
	}
	s.logger.Info(ctx, "Recovered persisted records", map[string]interface{}{"count": recovered})

	archived, err := s.repo.ArchiveBefore(ctx, time.Now().UTC())
	if err != nil {
		// Archiving keeps the data directory tidy; a failure is not fatal.
		s.logger.Warn(ctx, "Failed to archive old day files", map[string]interface{}{"error": err.Error()})
	} else if archived > 0 {
		s.logger.Info(ctx, "Archived old day files", map[string]interface{}{"count": archived})
	}

	// 3. Initial symbol universe
	if err := s.refreshUniverse(ctx); err != nil {
		s.logger.Error(ctx, err, "Initial symbol universe refresh failed")
		return fmt.Errorf("initial universe refresh failed: %w", err)
	}

	// 4. Background loops
	go s.analyzer.Run(ctx)
	go s.dispatcher.Run(ctx, s.store.Subscribe())
	go s.universeLoop(ctx)

	s.logger.Info(ctx, "Signal Service started", map[string]interface{}{
		"interval": s.cfg.KlineInterval, "rules": s.cfg.Rules, "symbols": s.coll.Count(),
	})

	<-ctx.Done()
	s.logger.Info(ctx, "Shutting down Signal Service...")
	s.coll.Stop()
	s.logger.Info(ctx, "Signal Service stopped")
	return nil
}

// universeLoop periodically re-selects the tracked symbol set.
func (s *SignalService) universeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.UniverseRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.refreshUniverse(ctx); err != nil {
				// Keep monitoring the previous set until the next attempt.
				s.logger.Warn(ctx, "Symbol universe refresh failed, keeping current set", map[string]interface{}{"error": err.Error()})
			}
		case <-ctx.Done():
			return
		}
	}
}

// refreshUniverse merges the ranked universe with symbols that still have
// open records, so outcome-relevant symbols are never dropped mid-flight.
func (s *SignalService) refreshUniverse(ctx context.Context) error {
	selected, err := s.provider.Refresh(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(selected))
	for _, symbol := range selected {
		seen[symbol] = struct{}{}
	}
	for _, symbol := range s.store.ActiveSymbols() {
		if _, ok := seen[symbol]; !ok {
			selected = append(selected, symbol)
		}
	}
	s.coll.UpdateSymbols(ctx, selected)
	s.prunePipelines(seen)
	return nil
}

// prunePipelines drops pipelines for symbols no longer tracked, keeping ones
// that stayed because of open records.
func (s *SignalService) prunePipelines(tracked map[string]struct{}) {
	active := make(map[string]struct{})
	for _, symbol := range s.store.ActiveSymbols() {
		active[symbol] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for symbol := range s.pipelines {
		if _, keep := tracked[symbol]; keep {
			continue
		}
		if _, keep := active[symbol]; keep {
			continue
		}
		delete(s.pipelines, symbol)
	}
}

// getPipeline returns the per-symbol pipeline, creating it on first use.
func (s *SignalService) getPipeline(symbol string) (*pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pipelines[symbol]; ok {
		return p, nil
	}
	engine, err := indicators.NewEngine(symbol, s.interval, s.cfg.EMAPeriod, s.cfg.ATRPeriod)
	if err != nil {
		return nil, err
	}
	p := &pipeline{
		engine: engine,
		detector: strategy.NewDetector(strategy.Config{
			Symbol:   symbol,
			Rules:    s.ruleSet,
			Cooldown: s.cfg.Cooldown,
			Open:     s.store,
			Logger:   s.logger,
		}),
	}
	s.pipelines[symbol] = p
	return p, nil
}

// handleSeed replays fresh history into the symbol's engine. Runs on the
// symbol's collector goroutine.
func (s *SignalService) handleSeed(ctx context.Context, symbol string, history []*domain.Kline) {
	p, err := s.getPipeline(symbol)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to build pipeline for symbol", map[string]interface{}{"symbol": symbol})
		return
	}
	if _, err := p.engine.Seed(history); err != nil {
		s.logger.Error(ctx, err, "Failed to seed indicators", map[string]interface{}{"symbol": symbol, "klines": len(history)})
		return
	}
	s.logger.Debug(ctx, "Indicators seeded", map[string]interface{}{"symbol": symbol, "klines": len(history), "ready": p.engine.Ready()})
}

// handleKline applies one closed kline and runs detection. Runs on the
// symbol's collector goroutine.
func (s *SignalService) handleKline(ctx context.Context, k *domain.Kline) {
	p, err := s.getPipeline(k.Symbol)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to build pipeline for symbol", map[string]interface{}{"symbol": k.Symbol})
		return
	}

	snap, err := p.engine.Update(k)
	if errors.Is(err, indicators.ErrNonContiguous) {
		// A dropped kline left a hole. Refetch history and replay.
		s.logger.Warn(ctx, "Kline gap detected, reseeding indicators", map[string]interface{}{
			"symbol": k.Symbol, "open_time": k.OpenTime,
		})
		history, fetchErr := s.client.GetKlines(ctx, k.Symbol, s.cfg.KlineInterval, s.cfg.HistoryLimit)
		if fetchErr != nil {
			s.logger.Error(ctx, fetchErr, "Failed to refetch history after gap", map[string]interface{}{"symbol": k.Symbol})
			return
		}
		for len(history) > 0 && !history[len(history)-1].IsFinal {
			history = history[:len(history)-1]
		}
		snap, err = p.engine.Seed(history)
	}
	if err != nil {
		s.logger.Error(ctx, err, "Failed to update indicators", map[string]interface{}{"symbol": k.Symbol})
		return
	}
	if !snap.Ready {
		return
	}

	for _, ev := range p.detector.OnSnapshot(ctx, snap) {
		rec, created, err := s.store.OnSignal(ctx, ev)
		if err != nil {
			s.logger.Error(ctx, err, "Failed to record signal", map[string]interface{}{
				"symbol": ev.Symbol, "kind": ev.Kind,
			})
			continue
		}
		if created {
			s.logger.Info(ctx, "Signal detected", map[string]interface{}{
				"symbol": rec.Symbol, "kind": rec.Kind, "side": rec.Side, "entry": rec.EntryPrice,
			})
		}
	}
}

// handleTaskState freezes detection while a symbol's feed is degraded and
// thaws it when streaming resumes.
func (s *SignalService) handleTaskState(symbol string, state collector.TaskState) {
	s.mu.Lock()
	p, ok := s.pipelines[symbol]
	s.mu.Unlock()
	if !ok {
		return
	}
	switch state {
	case collector.StateDegraded:
		p.detector.SetFrozen(true)
	case collector.StateStreaming:
		p.detector.SetFrozen(false)
	}
}
