// Package rules defines the pluggable signal conditions evaluated by the
// detector. Each rule inspects a short trailing window of indicator snapshots
// and reports whether its condition holds on the latest one. New signal
// definitions are added here and registered by name; the detector state
// machine never changes.
package rules

import (
	"fmt"
	"sort"
	"strings"

	"cryptoSignalBot/internal/domain"
)

// Rule is one signal condition. Evaluate receives snapshots in open_time
// order, oldest first; the last element is the most recent closed bar.
// Implementations must be stateless so one instance can serve many symbols.
type Rule interface {
	Name() domain.SignalKind
	Side() domain.PositionSide
	// MinHistory is the number of trailing snapshots Evaluate needs.
	MinHistory() int
	Evaluate(history []domain.IndicatorSnapshot) bool
}

// Params carries the tunables shared by the built-in rules.
type Params struct {
	// BandRatio bounds how far above (below) the EMA a long (short) entry
	// candle may open. The default 1.0618 is a golden-ratio band.
	BandRatio float64
	// ReversalBandRatio is the tighter band used by the reversal rules.
	ReversalBandRatio float64
	// ATRBandMult scales the ATR offset for the crossing rules.
	ATRBandMult float64
}

// DefaultParams returns the rule tunables used when configuration omits them.
func DefaultParams() Params {
	return Params{
		BandRatio:         1.0618,
		ReversalBandRatio: 1.04382,
		ATRBandMult:       1.0,
	}
}

type factory func(p Params) Rule

var registry = map[string]factory{
	"long-ema-band":       func(p Params) Rule { return &emaBandRule{side: domain.SideLong, ratio: p.BandRatio} },
	"short-ema-band":      func(p Params) Rule { return &emaBandRule{side: domain.SideShort, ratio: p.BandRatio} },
	"long-reversal-band":  func(p Params) Rule { return &reversalBandRule{side: domain.SideLong, ratio: p.ReversalBandRatio} },
	"short-reversal-band": func(p Params) Rule { return &reversalBandRule{side: domain.SideShort, ratio: p.ReversalBandRatio} },
	"ema-cross-up":        func(p Params) Rule { return &atrBandCrossRule{mult: p.ATRBandMult} },
}

// Names lists all registered rule names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build instantiates the named rules with the given parameters.
// Unknown names are an error listing what is available.
func Build(names []string, p Params) ([]Rule, error) {
	if p.BandRatio <= 1 || p.ReversalBandRatio <= 1 {
		return nil, fmt.Errorf("band ratios must be greater than 1 (got %v, %v)", p.BandRatio, p.ReversalBandRatio)
	}
	built := make([]Rule, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		f, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown rule %q (available: %s)", name, strings.Join(Names(), ", "))
		}
		built = append(built, f(p))
	}
	if len(built) == 0 {
		return nil, fmt.Errorf("no rules configured")
	}
	return built, nil
}
