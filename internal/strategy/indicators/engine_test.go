package indicators

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"cryptoSignalBot/internal/domain"
)

const tolerance = 1e-9

func syntheticKlines(n int, interval time.Duration) []*domain.Kline {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(42))
	klines := make([]*domain.Kline, 0, n)
	price := 100.0
	for i := 0; i < n; i++ {
		open := price
		price += rng.Float64()*4 - 2
		high := math.Max(open, price) + rng.Float64()
		low := math.Min(open, price) - rng.Float64()
		klines = append(klines, &domain.Kline{
			OpenTime:  start.Add(time.Duration(i) * interval),
			CloseTime: start.Add(time.Duration(i+1) * interval),
			Symbol:    "BTCUSDT",
			Interval:  "15m",
			Open:      open,
			High:      high,
			Low:       low,
			Close:     price,
			Volume:    1000,
			IsFinal:   true,
		})
	}
	return klines
}

// batchEMA recomputes an EMA from full history, the non-incremental way.
func batchEMA(closes []float64, period int) float64 {
	alpha := 2.0 / float64(period+1)
	sum := 0.0
	for _, c := range closes[:period] {
		sum += c
	}
	ema := sum / float64(period)
	for _, c := range closes[period:] {
		ema = c*alpha + ema*(1-alpha)
	}
	return ema
}

// batchATR recomputes Wilder's ATR from full history.
func batchATR(klines []*domain.Kline, period int) float64 {
	trs := make([]float64, 0, len(klines)-1)
	for i := 1; i < len(klines); i++ {
		h, l, pc := klines[i].High, klines[i].Low, klines[i-1].Close
		tr := math.Max(h-l, math.Max(math.Abs(h-pc), math.Abs(l-pc)))
		trs = append(trs, tr)
	}
	sum := 0.0
	for _, tr := range trs[:period] {
		sum += tr
	}
	atr := sum / float64(period)
	for _, tr := range trs[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr
}

func TestEngine_IncrementalMatchesBatchRecompute(t *testing.T) {
	const emaPeriod, atrPeriod = 20, 14
	klines := syntheticKlines(120, 15*time.Minute)

	eng, err := NewEngine("BTCUSDT", 15*time.Minute, emaPeriod, atrPeriod)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	var snap domain.IndicatorSnapshot
	for _, k := range klines {
		snap, err = eng.Update(k)
		if err != nil {
			t.Fatalf("Update(%s): %v", k.OpenTime, err)
		}
	}

	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}
	wantEMA := batchEMA(closes, emaPeriod)
	wantATR := batchATR(klines, atrPeriod)

	if math.Abs(snap.EMA-wantEMA) > tolerance {
		t.Errorf("EMA mismatch: incremental %v, batch %v", snap.EMA, wantEMA)
	}
	if math.Abs(snap.ATR-wantATR) > tolerance {
		t.Errorf("ATR mismatch: incremental %v, batch %v", snap.ATR, wantATR)
	}
	if !snap.Ready {
		t.Error("snapshot should be ready after a full seed period")
	}
}

func TestEngine_NotReadyBeforeSeedPeriod(t *testing.T) {
	klines := syntheticKlines(10, 15*time.Minute)
	eng, _ := NewEngine("BTCUSDT", 15*time.Minute, 20, 14)

	for _, k := range klines {
		snap, err := eng.Update(k)
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if snap.Ready {
			t.Fatalf("snapshot at %s should not be ready with only %d klines", k.OpenTime, len(klines))
		}
	}
}

func TestEngine_GapTriggersError(t *testing.T) {
	klines := syntheticKlines(30, 15*time.Minute)
	eng, _ := NewEngine("BTCUSDT", 15*time.Minute, 5, 5)

	for _, k := range klines[:10] {
		if _, err := eng.Update(k); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	// Skip one bar: klines[11] instead of klines[10].
	_, err := eng.Update(klines[11])
	if !errors.Is(err, ErrNonContiguous) {
		t.Fatalf("expected ErrNonContiguous, got %v", err)
	}

	// State must be untouched: the expected successor still applies cleanly.
	if _, err := eng.Update(klines[10]); err != nil {
		t.Fatalf("engine state corrupted after gap rejection: %v", err)
	}
}

func TestEngine_SeedReplaysHistory(t *testing.T) {
	klines := syntheticKlines(60, 15*time.Minute)

	incremental, _ := NewEngine("BTCUSDT", 15*time.Minute, 20, 14)
	var want domain.IndicatorSnapshot
	for _, k := range klines {
		want, _ = incremental.Update(k)
	}

	seeded, _ := NewEngine("BTCUSDT", 15*time.Minute, 20, 14)
	got, err := seeded.Seed(klines)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}

	if math.Abs(got.EMA-want.EMA) > tolerance || math.Abs(got.ATR-want.ATR) > tolerance {
		t.Errorf("seeded snapshot %+v differs from incremental %+v", got, want)
	}
	if !seeded.LastOpenTime().Equal(klines[len(klines)-1].OpenTime) {
		t.Errorf("LastOpenTime = %s, want %s", seeded.LastOpenTime(), klines[len(klines)-1].OpenTime)
	}
}

func TestEngine_RejectsUnclosedKline(t *testing.T) {
	klines := syntheticKlines(2, 15*time.Minute)
	eng, _ := NewEngine("BTCUSDT", 15*time.Minute, 5, 5)

	klines[0].IsFinal = false
	if _, err := eng.Update(klines[0]); err == nil {
		t.Fatal("expected error for in-progress kline")
	}
}
