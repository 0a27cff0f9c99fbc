package rules

import "cryptoSignalBot/internal/domain"

// emaBandRule fires on a candle in the trend direction whose open sits inside
// a narrow band next to the EMA: for longs the open must be above the EMA but
// no further than EMA*ratio; shorts mirror it below. The intent is catching
// continuation entries that pull back close to the moving average.
type emaBandRule struct {
	side  domain.PositionSide
	ratio float64
}

func (r *emaBandRule) Name() domain.SignalKind {
	if r.side == domain.SideLong {
		return "long-ema-band"
	}
	return "short-ema-band"
}

func (r *emaBandRule) Side() domain.PositionSide { return r.side }

func (r *emaBandRule) MinHistory() int { return 1 }

func (r *emaBandRule) Evaluate(history []domain.IndicatorSnapshot) bool {
	latest := history[len(history)-1]
	if !latest.Ready || latest.EMA <= 0 {
		return false
	}
	if r.side == domain.SideLong {
		bullish := latest.Close > latest.Open
		return bullish && latest.Open > latest.EMA && latest.Open <= latest.EMA*r.ratio
	}
	bearish := latest.Close < latest.Open
	return bearish && latest.Open < latest.EMA && latest.Open >= latest.EMA/r.ratio
}

// reversalBandRule fires on a color flip near the EMA: a red candle followed
// by a green one opening just above the EMA (longs), or the mirror (shorts).
type reversalBandRule struct {
	side  domain.PositionSide
	ratio float64
}

func (r *reversalBandRule) Name() domain.SignalKind {
	if r.side == domain.SideLong {
		return "long-reversal-band"
	}
	return "short-reversal-band"
}

func (r *reversalBandRule) Side() domain.PositionSide { return r.side }

func (r *reversalBandRule) MinHistory() int { return 2 }

func (r *reversalBandRule) Evaluate(history []domain.IndicatorSnapshot) bool {
	if len(history) < 2 {
		return false
	}
	latest := history[len(history)-1]
	prev := history[len(history)-2]
	if !latest.Ready || latest.EMA <= 0 {
		return false
	}
	if r.side == domain.SideLong {
		flip := latest.Close > latest.Open && prev.Close < prev.Open
		return flip && latest.Open > latest.EMA && latest.Open <= latest.EMA*r.ratio
	}
	flip := latest.Close < latest.Open && prev.Close > prev.Open
	return flip && latest.Open < latest.EMA && latest.Open >= latest.EMA/r.ratio
}
