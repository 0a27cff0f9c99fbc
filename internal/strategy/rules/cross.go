package rules

import "cryptoSignalBot/internal/domain"

// atrBandCrossRule fires when the close crosses from at-or-below to above the
// upper volatility band EMA + mult*ATR between the two most recent bars.
// Edge-triggered: both bars above the band is not a crossing.
type atrBandCrossRule struct {
	mult float64
}

func (r *atrBandCrossRule) Name() domain.SignalKind { return "ema-cross-up" }

func (r *atrBandCrossRule) Side() domain.PositionSide { return domain.SideLong }

func (r *atrBandCrossRule) MinHistory() int { return 2 }

func (r *atrBandCrossRule) Evaluate(history []domain.IndicatorSnapshot) bool {
	if len(history) < 2 {
		return false
	}
	latest := history[len(history)-1]
	prev := history[len(history)-2]
	if !latest.Ready || !prev.Ready {
		return false
	}
	prevBand := prev.EMA + r.mult*prev.ATR
	band := latest.EMA + r.mult*latest.ATR
	return prev.Close <= prevBand && latest.Close > band
}
