package outcome

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoSignalBot/internal/domain"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type fakeStore struct {
	records []*domain.SignalRecord
	applied []appliedSample
	failOn  string // record ID whose ApplyOutcome fails
}

type appliedSample struct {
	id     string
	sample domain.OutcomeSample
	closed bool
}

func (s *fakeStore) OpenRecords() []*domain.SignalRecord {
	out := make([]*domain.SignalRecord, 0, len(s.records))
	for _, r := range s.records {
		if r.IsOpen() {
			out = append(out, r.Clone())
		}
	}
	return out
}

func (s *fakeStore) ApplyOutcome(ctx context.Context, id string, sample domain.OutcomeSample, closeRecord bool) error {
	if id == s.failOn {
		return errors.New("persist failed")
	}
	s.applied = append(s.applied, appliedSample{id: id, sample: sample, closed: closeRecord})
	for _, r := range s.records {
		if r.ID == id {
			r.Outcomes = append(r.Outcomes, sample)
			if closeRecord {
				r.Status = domain.StatusClosed
			}
		}
	}
	return nil
}

type fakePrices struct {
	prices map[string]float64
	fail   map[string]bool
	calls  int
}

func (p *fakePrices) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	p.calls++
	if p.fail[symbol] {
		return 0, errors.New("exchange unavailable")
	}
	return p.prices[symbol], nil
}

func openRecord(id, symbol string, detectedAt time.Time, entry float64) *domain.SignalRecord {
	return &domain.SignalRecord{
		ID:         id,
		Symbol:     symbol,
		Kind:       "long-ema-band",
		Side:       domain.SideLong,
		DetectedAt: detectedAt,
		EntryPrice: entry,
		Status:     domain.StatusOpen,
	}
}

func newAnalyzer(t *testing.T, store *fakeStore, prices *fakePrices, at time.Time) *Analyzer {
	t.Helper()
	horizons, err := ParseHorizons("1h,4h,24h")
	require.NoError(t, err)
	a, err := New(Config{
		Store:    store,
		Prices:   prices,
		Logger:   nopLogger{},
		Horizons: horizons,
		Now:      func() time.Time { return at },
	})
	require.NoError(t, err)
	return a
}

func TestParseHorizons(t *testing.T) {
	horizons, err := ParseHorizons("1h, 4h,24h")
	require.NoError(t, err)
	require.Len(t, horizons, 3)
	assert.Equal(t, "4h", horizons[1].Label)
	assert.Equal(t, 4*time.Hour, horizons[1].After)

	_, err = ParseHorizons("1h,nope")
	assert.Error(t, err)
}

func TestPass_SamplesElapsedHorizonsOnly(t *testing.T) {
	detected := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{records: []*domain.SignalRecord{openRecord("r1", "ETHUSDT", detected, 2000)}}
	prices := &fakePrices{prices: map[string]float64{"ETHUSDT": 2100}}

	// 30 minutes in: nothing due yet.
	a := newAnalyzer(t, store, prices, detected.Add(30*time.Minute))
	a.Pass(context.Background())
	assert.Empty(t, store.applied)
	assert.Zero(t, prices.calls, "no price fetch when nothing is due")

	// 5 hours in: 1h and 4h are due, sampled in one pass with one fetch.
	a = newAnalyzer(t, store, prices, detected.Add(5*time.Hour))
	a.Pass(context.Background())
	require.Len(t, store.applied, 2)
	assert.Equal(t, "1h", store.applied[0].sample.Horizon)
	assert.Equal(t, "4h", store.applied[1].sample.Horizon)
	assert.False(t, store.applied[0].closed)
	assert.False(t, store.applied[1].closed)
	assert.InDelta(t, 0.05, store.applied[0].sample.PctChange, 1e-12)
	assert.Equal(t, 1, prices.calls)

	// A repeat pass at the same time samples nothing new.
	a.Pass(context.Background())
	assert.Len(t, store.applied, 2)
}

func TestPass_FinalHorizonClosesRecord(t *testing.T) {
	detected := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{records: []*domain.SignalRecord{openRecord("r1", "ETHUSDT", detected, 2000)}}
	prices := &fakePrices{prices: map[string]float64{"ETHUSDT": 1900}}

	a := newAnalyzer(t, store, prices, detected.Add(25*time.Hour))
	a.Pass(context.Background())

	require.Len(t, store.applied, 3)
	last := store.applied[2]
	assert.Equal(t, "24h", last.sample.Horizon)
	assert.True(t, last.closed)
	assert.Equal(t, domain.StatusClosed, store.records[0].Status)

	// Closed records are no longer swept.
	a.Pass(context.Background())
	assert.Len(t, store.applied, 3)
}

func TestPass_PriceFailureIsIsolated(t *testing.T) {
	detected := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{records: []*domain.SignalRecord{
		openRecord("r1", "ETHUSDT", detected, 2000),
		openRecord("r2", "BTCUSDT", detected, 60000),
	}}
	prices := &fakePrices{
		prices: map[string]float64{"BTCUSDT": 61000},
		fail:   map[string]bool{"ETHUSDT": true},
	}

	a := newAnalyzer(t, store, prices, detected.Add(2*time.Hour))
	a.Pass(context.Background())

	require.Len(t, store.applied, 1)
	assert.Equal(t, "r2", store.applied[0].id)

	// The failed symbol is retried on the next sweep.
	prices.fail["ETHUSDT"] = false
	prices.prices["ETHUSDT"] = 2050
	a.Pass(context.Background())
	assert.Len(t, store.applied, 2)
}

func TestPass_ApplyFailureDefersHorizon(t *testing.T) {
	detected := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		records: []*domain.SignalRecord{openRecord("r1", "ETHUSDT", detected, 2000)},
		failOn:  "r1",
	}
	prices := &fakePrices{prices: map[string]float64{"ETHUSDT": 2100}}

	a := newAnalyzer(t, store, prices, detected.Add(2*time.Hour))
	a.Pass(context.Background())
	assert.Empty(t, store.applied)

	store.failOn = ""
	a.Pass(context.Background())
	assert.Len(t, store.applied, 1)
}

func TestNew_RejectsUnorderedHorizons(t *testing.T) {
	_, err := New(Config{
		Store:  &fakeStore{},
		Prices: &fakePrices{},
		Logger: nopLogger{},
		Horizons: []Horizon{
			{Label: "4h", After: 4 * time.Hour},
			{Label: "1h", After: time.Hour},
		},
	})
	assert.Error(t, err)
}
