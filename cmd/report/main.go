// report summarizes persisted signal records: per (kind, horizon) sample
// counts, win rates and average moves across current and archived day files.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"text/tabwriter"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/adapters/jsonstore"
	"cryptoSignalBot/internal/adapters/logger"
	"cryptoSignalBot/internal/domain"
)

// bucket aggregates outcome samples for one (kind, horizon) pair.
type bucket struct {
	kind    domain.SignalKind
	horizon string
	samples int
	wins    int
	sumPct  float64
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	repo, err := jsonstore.New(cfg.DataDir, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to open signal repository: %v", err)
	}

	records, err := repo.LoadAll(context.Background())
	if err != nil {
		log.Fatalf("FATAL: Failed to load signal records: %v", err)
	}
	if len(records) == 0 {
		fmt.Println("No signal records found in", cfg.DataDir)
		return
	}

	buckets := make(map[string]*bucket)
	open := 0
	for _, rec := range records {
		if rec.IsOpen() {
			open++
		}
		for _, sample := range rec.Outcomes {
			key := string(rec.Kind) + "|" + sample.Horizon
			b, ok := buckets[key]
			if !ok {
				b = &bucket{kind: rec.Kind, horizon: sample.Horizon}
				buckets[key] = b
			}
			b.samples++
			if won(rec.Side, sample.PctChange) {
				b.wins++
			}
			b.sumPct += directedPct(rec.Side, sample.PctChange)
		}
	}

	fmt.Printf("Records: %d total, %d still open\n\n", len(records), open)

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Kind\tHorizon\tSamples\tWinRate\tAvgMove\t")
	for _, k := range keys {
		b := buckets[k]
		winRate := float64(b.wins) / float64(b.samples) * 100
		avgMove := b.sumPct / float64(b.samples) * 100
		fmt.Fprintf(w, "%s\t%s\t%d\t%.1f%%\t%+.2f%%\t\n", b.kind, b.horizon, b.samples, winRate, avgMove)
	}
	w.Flush()
}

// won reports whether the sampled move favored the signal's side.
func won(side domain.PositionSide, pctChange float64) bool {
	if side == domain.SideShort {
		return pctChange < 0
	}
	return pctChange > 0
}

// directedPct flips short moves so positive always means "signal was right".
func directedPct(side domain.PositionSide, pctChange float64) float64 {
	if side == domain.SideShort {
		return -pctChange
	}
	return pctChange
}
