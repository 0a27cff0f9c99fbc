// Package symbols selects the tracked symbol universe from exchange-wide
// 24-hour statistics: liquid USDT perpetuals ranked by daily gain.
package symbols

import (
	"context"
	"fmt"
	"sort"

	"cryptoSignalBot/internal/ports"
)

const symbolStatusTrading = "TRADING"

// Provider implements ports.SymbolProvider. Each Refresh rebuilds the
// universe from live exchange data.
type Provider struct {
	client ports.MarketDataClient
	logger ports.Logger
	cfg    Config
}

// Config bounds the selection. RankFrom/RankTo select a half-open slice of
// the gainers ranking, 1-based: RankFrom 1, RankTo 80 keeps ranks 1..79.
type Config struct {
	QuoteAsset     string  // e.g. "USDT"
	MinQuoteVolume float64 // 24h quote volume floor
	RankFrom       int
	RankTo         int
}

func New(client ports.MarketDataClient, logger ports.Logger, cfg Config) (*Provider, error) {
	if client == nil || logger == nil {
		return nil, fmt.Errorf("symbols provider: client and logger are required: %w", ports.ErrConfigurationError)
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.RankFrom < 1 {
		cfg.RankFrom = 1
	}
	if cfg.RankTo <= cfg.RankFrom {
		return nil, fmt.Errorf("symbols provider: rank range [%d, %d) is empty: %w", cfg.RankFrom, cfg.RankTo, ports.ErrConfigurationError)
	}
	return &Provider{client: client, logger: logger, cfg: cfg}, nil
}

// Refresh returns the current universe, strongest gainer first.
func (p *Provider) Refresh(ctx context.Context) ([]string, error) {
	infos, err := p.client.GetExchangeSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("symbol refresh failed: %w", err)
	}
	tradable := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		if info.Status == symbolStatusTrading && info.QuoteAsset == p.cfg.QuoteAsset {
			tradable[info.Symbol] = struct{}{}
		}
	}

	stats, err := p.client.Get24hStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("symbol refresh failed: %w", err)
	}
	candidates := make([]ports.SymbolStats, 0, len(stats))
	for _, st := range stats {
		if _, ok := tradable[st.Symbol]; !ok {
			continue
		}
		if st.QuoteVolume < p.cfg.MinQuoteVolume {
			continue
		}
		candidates = append(candidates, st)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].PriceChangePct > candidates[j].PriceChangePct
	})

	from := p.cfg.RankFrom - 1
	to := p.cfg.RankTo - 1
	if from > len(candidates) {
		from = len(candidates)
	}
	if to > len(candidates) {
		to = len(candidates)
	}
	out := make([]string, 0, to-from)
	for _, st := range candidates[from:to] {
		out = append(out, st.Symbol)
	}

	p.logger.Info(ctx, "symbol universe refreshed", map[string]interface{}{
		"candidates": len(candidates), "selected": len(out),
	})
	return out, nil
}
