package indicators

import (
	"errors"
	"fmt"
	"time"

	"cryptoSignalBot/internal/domain"
)

// ErrNonContiguous is returned by Update when a kline is not the immediate
// successor of the last one seen. The caller must re-seed from fresh history
// instead of continuing incrementally, to avoid compounding drift.
var ErrNonContiguous = errors.New("kline is not contiguous with previous state")

// Engine maintains up-to-date EMA and ATR for a single symbol. It is owned by
// one symbol's processing goroutine and performs no I/O and no locking.
type Engine struct {
	symbol   string
	interval time.Duration
	ema      *EMA
	atr      *ATR
	lastOpen time.Time
}

// NewEngine creates an engine for one symbol at a fixed timeframe.
func NewEngine(symbol string, interval time.Duration, emaPeriod, atrPeriod int) (*Engine, error) {
	if emaPeriod <= 0 || atrPeriod <= 0 {
		return nil, fmt.Errorf("indicator periods must be positive (ema=%d, atr=%d)", emaPeriod, atrPeriod)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	return &Engine{
		symbol:   symbol,
		interval: interval,
		ema:      NewEMA(emaPeriod),
		atr:      NewATR(atrPeriod),
	}, nil
}

// Update applies the next closed kline and returns an immutable snapshot.
// The kline must be the immediate successor of the last seen open time;
// otherwise ErrNonContiguous is returned and the state is left untouched.
func (e *Engine) Update(k *domain.Kline) (domain.IndicatorSnapshot, error) {
	if !k.IsFinal {
		return domain.IndicatorSnapshot{}, fmt.Errorf("kline %s@%s is not closed", k.Symbol, k.OpenTime)
	}
	if !e.lastOpen.IsZero() {
		expected := e.lastOpen.Add(e.interval)
		if !k.OpenTime.Equal(expected) {
			return domain.IndicatorSnapshot{}, fmt.Errorf("%w: expected open_time %s, got %s",
				ErrNonContiguous, expected, k.OpenTime)
		}
	}

	e.ema.Update(k.Close)
	e.atr.Update(k.High, k.Low, k.Close)
	e.lastOpen = k.OpenTime

	return e.snapshot(k), nil
}

// Seed resets the engine and replays a historical window, returning the
// snapshot after the final kline. Klines must be in open_time order.
func (e *Engine) Seed(history []*domain.Kline) (domain.IndicatorSnapshot, error) {
	e.ema.Reset()
	e.atr.Reset()
	e.lastOpen = time.Time{}

	var snap domain.IndicatorSnapshot
	var err error
	for _, k := range history {
		snap, err = e.Update(k)
		if err != nil {
			return domain.IndicatorSnapshot{}, fmt.Errorf("seeding %s: %w", e.symbol, err)
		}
	}
	return snap, nil
}

// LastOpenTime returns the open time of the last applied kline, zero if none.
func (e *Engine) LastOpenTime() time.Time { return e.lastOpen }

// Ready reports whether both indicators have a full seed period behind them.
func (e *Engine) Ready() bool { return e.ema.Ready() && e.atr.Ready() }

func (e *Engine) snapshot(k *domain.Kline) domain.IndicatorSnapshot {
	return domain.IndicatorSnapshot{
		Symbol:   e.symbol,
		OpenTime: k.OpenTime,
		Open:     k.Open,
		Close:    k.Close,
		EMA:      e.ema.Value(),
		ATR:      e.atr.Value(),
		Ready:    e.Ready(),
	}
}
