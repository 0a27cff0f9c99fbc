package indicators

import "math"

// ATR maintains Wilder's average true range incrementally.
// The first ATR value is a simple average of the first period true ranges;
// subsequent values use Wilder smoothing: atr = ((period-1)*atr + tr) / period.
type ATR struct {
	period    int
	current   float64
	trCount   int
	trSum     float64
	prevClose float64
	seen      bool // true once the first kline (TR baseline) has been observed
}

// NewATR creates an ATR with the given period.
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

// Update feeds the next closed kline's high, low, and close.
func (a *ATR) Update(high, low, close float64) {
	if !a.seen {
		// First kline only establishes the previous close; true range needs
		// a prior candle.
		a.prevClose = close
		a.seen = true
		return
	}

	tr := math.Max(high-low, math.Max(math.Abs(high-a.prevClose), math.Abs(low-a.prevClose)))
	a.prevClose = close
	a.trCount++

	if a.trCount <= a.period {
		a.trSum += tr
		if a.trCount == a.period {
			a.current = a.trSum / float64(a.period)
		}
		return
	}
	a.current = (a.current*float64(a.period-1) + tr) / float64(a.period)
}

// Value returns the current ATR, or 0 before the seed period completes.
func (a *ATR) Value() float64 { return a.current }

// Ready reports whether a full seed period of true ranges has been observed.
func (a *ATR) Ready() bool { return a.trCount >= a.period }

// Reset clears all state for re-seeding.
func (a *ATR) Reset() {
	a.current = 0
	a.trCount = 0
	a.trSum = 0
	a.prevClose = 0
	a.seen = false
}
