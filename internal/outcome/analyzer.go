// Package outcome scores open signal records by sampling the mark price at
// fixed horizons after detection.
package outcome

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

// Horizon is one sampling point: its label is stored on the outcome sample,
// its offset is measured from detection time.
type Horizon struct {
	Label string
	After time.Duration
}

// ParseHorizons parses a comma-separated duration list such as "1h,4h,24h".
// The tokens become the stored labels.
func ParseHorizons(csv string) ([]Horizon, error) {
	var out []Horizon
	for _, token := range strings.Split(csv, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		d, err := time.ParseDuration(token)
		if err != nil {
			return nil, fmt.Errorf("invalid horizon %q: %w: %w", token, ports.ErrConfigurationError, err)
		}
		out = append(out, Horizon{Label: token, After: d})
	}
	return out, nil
}

// MarkPriceSource is the slice of the exchange surface the analyzer needs.
type MarkPriceSource interface {
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)
}

// RecordStore is the slice of the signal store the analyzer needs.
type RecordStore interface {
	OpenRecords() []*domain.SignalRecord
	ApplyOutcome(ctx context.Context, id string, sample domain.OutcomeSample, closeRecord bool) error
}

// Analyzer periodically walks open records and appends one outcome sample per
// elapsed horizon. Sampling the final horizon closes the record.
type Analyzer struct {
	store    RecordStore
	prices   MarkPriceSource
	logger   ports.Logger
	horizons []Horizon // ascending by offset
	interval time.Duration
	now      func() time.Time
}

// Config carries analyzer dependencies. Horizons must be ascending and
// non-empty; Interval defaults to one minute.
type Config struct {
	Store    RecordStore
	Prices   MarkPriceSource
	Logger   ports.Logger
	Horizons []Horizon
	Interval time.Duration
	Now      func() time.Time
}

func New(cfg Config) (*Analyzer, error) {
	if cfg.Store == nil || cfg.Prices == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("outcome analyzer: store, prices and logger are required: %w", ports.ErrConfigurationError)
	}
	if len(cfg.Horizons) == 0 {
		return nil, fmt.Errorf("outcome analyzer: at least one horizon is required: %w", ports.ErrConfigurationError)
	}
	for i, h := range cfg.Horizons {
		if h.After <= 0 {
			return nil, fmt.Errorf("outcome analyzer: horizon %q must be positive: %w", h.Label, ports.ErrConfigurationError)
		}
		if i > 0 && h.After <= cfg.Horizons[i-1].After {
			return nil, fmt.Errorf("outcome analyzer: horizons must be strictly ascending: %w", ports.ErrConfigurationError)
		}
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Analyzer{
		store:    cfg.Store,
		prices:   cfg.Prices,
		logger:   cfg.Logger,
		horizons: cfg.Horizons,
		interval: interval,
		now:      now,
	}, nil
}

// Run samples on a fixed ticker until the context is cancelled.
func (a *Analyzer) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.Pass(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Pass performs one sampling sweep. A failure on one record is logged and
// does not stop the sweep; the missed horizon is retried on the next pass.
func (a *Analyzer) Pass(ctx context.Context) {
	now := a.now()
	priceCache := make(map[string]float64)

	for _, rec := range a.store.OpenRecords() {
		elapsed := now.Sub(rec.DetectedAt)
		for i, horizon := range a.horizons {
			if elapsed < horizon.After {
				break
			}
			if rec.HasOutcome(horizon.Label) {
				continue
			}

			price, ok := priceCache[rec.Symbol]
			if !ok {
				var err error
				price, err = a.prices.GetMarkPrice(ctx, rec.Symbol)
				if err != nil {
					a.logger.Warn(ctx, "mark price unavailable, outcome sample deferred", map[string]interface{}{
						"symbol": rec.Symbol, "record_id": rec.ID, "error": err.Error(),
					})
					break
				}
				priceCache[rec.Symbol] = price
			}

			sample := domain.OutcomeSample{
				Horizon:   horizon.Label,
				SampledAt: now,
				Price:     price,
				PctChange: pctChange(rec.EntryPrice, price),
			}
			closeRecord := i == len(a.horizons)-1
			if err := a.store.ApplyOutcome(ctx, rec.ID, sample, closeRecord); err != nil {
				a.logger.Error(ctx, err, "failed to apply outcome sample", map[string]interface{}{
					"symbol": rec.Symbol, "record_id": rec.ID, "horizon": sample.Horizon,
				})
				break
			}
			a.logger.Info(ctx, "outcome sampled", map[string]interface{}{
				"symbol": rec.Symbol, "record_id": rec.ID, "horizon": sample.Horizon,
				"pct_change": sample.PctChange, "closed": closeRecord,
			})
			rec.Outcomes = append(rec.Outcomes, sample)
		}
	}
}

func pctChange(entry, price float64) float64 {
	if entry == 0 {
		return 0
	}
	return (price - entry) / entry
}
