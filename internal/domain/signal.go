package domain

import "time"

// SignalKind identifies which detection rule produced a signal. Kinds are
// rule names, e.g. "long-ema-band".
type SignalKind string

// PositionSide is the direction a signal suggests.
type PositionSide string

const (
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// RecordStatus represents the lifecycle state of a persisted signal record.
type RecordStatus string

const (
	StatusOpen   RecordStatus = "OPEN"
	StatusClosed RecordStatus = "CLOSED"
)

// IndicatorSnapshot is an immutable view of per-symbol indicator state after
// one closed kline has been applied.
type IndicatorSnapshot struct {
	Symbol   string
	OpenTime time.Time // Open time of the kline that produced this snapshot
	Open     float64
	Close    float64
	EMA      float64
	ATR      float64
	Ready    bool // False until both indicators have seen a full period
}

// SignalEvent is a transient detection result. It is produced by the signal
// detector and consumed exactly once by the signal record store.
type SignalEvent struct {
	Symbol   string
	Kind     SignalKind
	Side     PositionSide
	Time     time.Time
	Snapshot IndicatorSnapshot
}

// OutcomeSample is one scheduled observation of an open record's performance.
type OutcomeSample struct {
	Horizon   string    `json:"horizon"` // e.g. "1h", "4h", "24h"
	SampledAt time.Time `json:"sampled_at"`
	Price     float64   `json:"price"`      // Mark price at sampling time
	PctChange float64   `json:"pct_change"` // (price - entry) / entry
}

// SignalRecord is the persisted unit of signal history. It is created on
// first detection of a (symbol, kind) pair and mutated only by the outcome
// analyzer appending samples; records are never deleted, only CLOSED.
type SignalRecord struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Kind       SignalKind      `json:"kind"`
	Side       PositionSide    `json:"side"`
	DetectedAt time.Time       `json:"detected_at"`
	EntryPrice float64         `json:"entry_price"`
	Status     RecordStatus    `json:"status"`
	Outcomes   []OutcomeSample `json:"outcome_samples"`
}

// IsOpen reports whether the record is still awaiting outcome samples.
func (r *SignalRecord) IsOpen() bool { return r.Status == StatusOpen }

// HasOutcome reports whether the given horizon has already been sampled.
func (r *SignalRecord) HasOutcome(horizon string) bool {
	for _, o := range r.Outcomes {
		if o.Horizon == horizon {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can hand records across goroutines
// without aliasing the store's internal state.
func (r *SignalRecord) Clone() *SignalRecord {
	cp := *r
	cp.Outcomes = make([]OutcomeSample, len(r.Outcomes))
	copy(cp.Outcomes, r.Outcomes)
	return &cp
}
