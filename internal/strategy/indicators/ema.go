package indicators

// EMA maintains an exponential moving average incrementally.
// O(1) per update; seeded from a simple average over the first period closes.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates an EMA with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

// Update feeds the next closing price.
func (e *EMA) Update(close float64) {
	e.count++
	if e.count <= e.period {
		e.sum += close
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}
	e.current = close*e.multiplier + e.current*(1-e.multiplier)
}

// Value returns the current EMA, or 0 before the seed period completes.
func (e *EMA) Value() float64 { return e.current }

// Ready reports whether a full seed period has been observed.
func (e *EMA) Ready() bool { return e.count >= e.period }

// Reset clears all state for re-seeding.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
	e.sum = 0
}
