package ports

import (
	"context"
	"time"

	"cryptoSignalBot/internal/domain"
)

// SignalRepository persists signal records. Implementations must keep the
// backing store valid after every write: a crash mid-write may never leave a
// half-written document behind.
type SignalRepository interface {
	// Save upserts one record into the day file matching its detection date
	// and flushes to disk atomically.
	Save(ctx context.Context, rec *domain.SignalRecord) error
	// LoadDay loads all records detected on the given day, keyed by record ID.
	// A missing day file is not an error; an empty map is returned.
	LoadDay(ctx context.Context, day time.Time) (map[string]*domain.SignalRecord, error)
	// LoadAll loads every persisted record, current and archived.
	LoadAll(ctx context.Context) (map[string]*domain.SignalRecord, error)
	// ArchiveBefore moves day files older than the given day into the history
	// directory and reports how many files were moved.
	ArchiveBefore(ctx context.Context, day time.Time) (int, error)
}

// KlineRepository stores historical klines for offline study and backtests.
type KlineRepository interface {
	// InsertKlines bulk-inserts klines, ignoring duplicates on (symbol, interval, open_time).
	InsertKlines(ctx context.Context, klines []*domain.Kline) (int, error)
	// FindRange returns klines for a symbol+interval within [start, end), in open_time order.
	FindRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error)
	// Close releases the underlying database handle.
	Close() error
}
