// Package alert surfaces freshly created signal records to the operator.
package alert

import (
	"context"
	"fmt"
	"io"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

// Dispatcher consumes created records from the store's subscription channel
// and writes one line per signal, with a terminal bell.
type Dispatcher struct {
	out    io.Writer
	logger ports.Logger
	bell   bool
}

func New(out io.Writer, logger ports.Logger, bell bool) *Dispatcher {
	return &Dispatcher{out: out, logger: logger, bell: bell}
}

// Run drains the channel until it closes or the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context, records <-chan *domain.SignalRecord) {
	for {
		select {
		case rec, ok := <-records:
			if !ok {
				return
			}
			d.announce(ctx, rec)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) announce(ctx context.Context, rec *domain.SignalRecord) {
	ring := ""
	if d.bell {
		ring = "\a"
	}
	line := fmt.Sprintf("%s>>> %s %s %s @ %.8g (%s)\n",
		ring, rec.DetectedAt.Format("15:04:05"), rec.Symbol, rec.Kind, rec.EntryPrice, rec.Side)
	if _, err := io.WriteString(d.out, line); err != nil {
		d.logger.Error(ctx, err, "failed to write alert", map[string]interface{}{"record_id": rec.ID})
	}
}
