// Package strategy evaluates indicator snapshots against a configured rule
// set and emits signal events through a per-(symbol, kind) state machine.
package strategy

import (
	"context"
	"time"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
	"cryptoSignalBot/internal/strategy/rules"
)

// RuleState is the per-(symbol, kind) arming state.
type RuleState string

const (
	// StateArmed means the rule may fire on the next matching snapshot.
	StateArmed RuleState = "ARMED"
	// StateTriggered is the instant between emission and entering cooldown.
	StateTriggered RuleState = "TRIGGERED"
	// StateCooldown suppresses re-emission until the cooldown elapses and the
	// corresponding record is no longer open.
	StateCooldown RuleState = "COOLDOWN"
)

// OpenChecker reports whether an OPEN record exists for a (symbol, kind).
// The signal record store satisfies this.
type OpenChecker interface {
	HasOpen(symbol string, kind domain.SignalKind) bool
}

// Detector runs the rule set for one symbol. It is owned by that symbol's
// processing goroutine; the only cross-goroutine member is the frozen flag,
// which the collector's status callback toggles, so it is set through
// SetFrozen and read through a small critical section in OnSnapshot.
type Detector struct {
	symbol    string
	rules     []rules.Rule
	cooldown  time.Duration
	openCheck OpenChecker
	logger    ports.Logger
	now       func() time.Time

	window  []domain.IndicatorSnapshot
	winSize int
	states  map[domain.SignalKind]*kindState

	frozen   chan bool // buffered size-1 mailbox for freeze toggles
	isFrozen bool
}

type kindState struct {
	state   RuleState
	firedAt time.Time
}

// Config holds detector construction parameters.
type Config struct {
	Symbol   string
	Rules    []rules.Rule
	Cooldown time.Duration
	Open     OpenChecker
	Logger   ports.Logger
	Now      func() time.Time // defaults to time.Now
}

// NewDetector creates a detector for one symbol.
func NewDetector(cfg Config) *Detector {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	winSize := 2
	for _, r := range cfg.Rules {
		if r.MinHistory() > winSize {
			winSize = r.MinHistory()
		}
	}
	states := make(map[domain.SignalKind]*kindState, len(cfg.Rules))
	for _, r := range cfg.Rules {
		states[r.Name()] = &kindState{state: StateArmed}
	}
	return &Detector{
		symbol:    cfg.Symbol,
		rules:     cfg.Rules,
		cooldown:  cfg.Cooldown,
		openCheck: cfg.Open,
		logger:    cfg.Logger,
		now:       now,
		winSize:   winSize,
		states:    states,
		frozen:    make(chan bool, 1),
	}
}

// SetFrozen freezes or thaws the state machine. A frozen detector makes no
// transitions at all, so a degraded symbol resumes exactly where it paused.
// Safe to call from another goroutine; the change applies on the next snapshot.
func (d *Detector) SetFrozen(frozen bool) {
	select {
	case <-d.frozen:
	default:
	}
	d.frozen <- frozen
}

// OnSnapshot feeds the next indicator snapshot and returns any signal events
// it produced. At most one event per rule kind is emitted per snapshot.
func (d *Detector) OnSnapshot(ctx context.Context, snap domain.IndicatorSnapshot) []domain.SignalEvent {
	select {
	case f := <-d.frozen:
		d.isFrozen = f
	default:
	}
	if d.isFrozen {
		return nil
	}

	d.window = append(d.window, snap)
	if len(d.window) > d.winSize {
		d.window = d.window[len(d.window)-d.winSize:]
	}

	now := d.now()
	var events []domain.SignalEvent

	for _, rule := range d.rules {
		kind := rule.Name()
		ks := d.states[kind]

		switch ks.state {
		case StateCooldown:
			if now.Sub(ks.firedAt) < d.cooldown {
				continue
			}
			if d.openCheck != nil && d.openCheck.HasOpen(d.symbol, kind) {
				continue
			}
			ks.state = StateArmed
			d.logger.Debug(ctx, "Signal rule re-armed", map[string]interface{}{
				"symbol": d.symbol, "kind": kind,
			})
			// Evaluation resumes on the next snapshot; re-arming and firing
			// on the same bar would defeat the cooldown.

		case StateArmed:
			if len(d.window) < rule.MinHistory() || !rule.Evaluate(d.window) {
				continue
			}
			ks.state = StateTriggered
			events = append(events, domain.SignalEvent{
				Symbol:   d.symbol,
				Kind:     kind,
				Side:     rule.Side(),
				Time:     snap.OpenTime,
				Snapshot: snap,
			})
			ks.state = StateCooldown
			ks.firedAt = now
			d.logger.Info(ctx, "Signal rule triggered", map[string]interface{}{
				"symbol": d.symbol, "kind": kind, "close": snap.Close, "ema": snap.EMA,
			})
		}
	}

	return events
}

// State returns the current arming state for a kind, for status reporting.
func (d *Detector) State(kind domain.SignalKind) RuleState {
	if ks, ok := d.states[kind]; ok {
		return ks.state
	}
	return ""
}
