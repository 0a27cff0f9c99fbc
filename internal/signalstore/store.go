// Package signalstore keeps the in-memory working set of signal records and
// mirrors every mutation to a ports.SignalRepository. It is the single owner
// of the at-most-one-OPEN-per-(symbol, kind) invariant.
package signalstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

const op = "signalstore"

// subscriberBuffer bounds each subscriber channel. A slow consumer loses
// notifications rather than blocking detection.
const subscriberBuffer = 16

// Store serializes all record mutations behind one mutex. Reads hand out
// clones, never internal pointers.
type Store struct {
	repo   ports.SignalRepository
	logger ports.Logger

	mu      sync.Mutex
	records map[string]*domain.SignalRecord // keyed by record ID
	open    map[string]string               // "symbol|kind" -> open record ID
	order   []string                        // record IDs in creation order
	subs    []chan *domain.SignalRecord
}

// Config carries the store's dependencies. Repo and Logger are required.
type Config struct {
	Repo   ports.SignalRepository
	Logger ports.Logger
}

func New(cfg Config) (*Store, error) {
	if cfg.Repo == nil {
		return nil, fmt.Errorf("%s: repository is required: %w", op, ports.ErrInvalidRequest)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%s: logger is required: %w", op, ports.ErrInvalidRequest)
	}
	return &Store{
		repo:    cfg.Repo,
		logger:  cfg.Logger,
		records: make(map[string]*domain.SignalRecord),
		open:    make(map[string]string),
	}, nil
}

func openKey(symbol string, kind domain.SignalKind) string {
	return symbol + "|" + string(kind)
}

// Recover loads every persisted record, live and archived, so a restart
// resumes outcome tracking. A record detected shortly before midnight is
// still OPEN the next day; loading a single day file would strand it.
func (s *Store) Recover(ctx context.Context) (int, error) {
	loaded, err := s.repo.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s recover failed: %w", op, err)
	}
	recs := make([]*domain.SignalRecord, 0, len(loaded))
	for _, rec := range loaded {
		recs = append(recs, rec)
	}
	// Oldest first so duplicate repair deterministically keeps the earliest.
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].DetectedAt.Equal(recs[j].DetectedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].DetectedAt.Before(recs[j].DetectedAt)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, found := range recs {
		if _, exists := s.records[found.ID]; exists {
			continue
		}
		rec := found.Clone()
		s.records[rec.ID] = rec
		s.order = append(s.order, rec.ID)
		n++
		if !rec.IsOpen() {
			continue
		}
		key := openKey(rec.Symbol, rec.Kind)
		if prev, dup := s.open[key]; dup {
			// Two OPEN records for one pair means the persisted state was
			// produced by a buggy writer. Keep the first, close the second,
			// and write the repair back so the day file agrees.
			s.logger.Warn(ctx, "recovered duplicate open record, closing", map[string]interface{}{
				"symbol": rec.Symbol, "kind": rec.Kind, "kept": prev, "closed": rec.ID,
			})
			rec.Status = domain.StatusClosed
			if err := s.repo.Save(ctx, rec); err != nil {
				s.logger.Error(ctx, err, "failed to persist duplicate repair", map[string]interface{}{
					"record_id": rec.ID,
				})
			}
			continue
		}
		s.open[key] = rec.ID
	}
	return n, nil
}

// OnSignal handles one detection event. If the (symbol, kind) pair already
// has an OPEN record the event is suppressed and the existing record is
// returned with created=false; otherwise a new OPEN record is created,
// persisted and fanned out to subscribers.
func (s *Store) OnSignal(ctx context.Context, ev domain.SignalEvent) (*domain.SignalRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := openKey(ev.Symbol, ev.Kind)
	if id, exists := s.open[key]; exists {
		// The detector re-arms only when no record is open, so landing here
		// means an upstream gate failed. Suppress, but say so.
		existing := s.records[id]
		s.logger.Warn(ctx, "signal suppressed, record already open", map[string]interface{}{
			"symbol": ev.Symbol, "kind": ev.Kind, "record_id": id,
		})
		return existing.Clone(), false, nil
	}

	rec := &domain.SignalRecord{
		ID:         uuid.New().String(),
		Symbol:     ev.Symbol,
		Kind:       ev.Kind,
		Side:       ev.Side,
		DetectedAt: ev.Time,
		EntryPrice: ev.Snapshot.Close,
		Status:     domain.StatusOpen,
	}
	if err := s.repo.Save(ctx, rec); err != nil {
		// Memory state is not touched on a failed persist so a retry of the
		// same event can still create the record.
		return nil, false, fmt.Errorf("%s persist failed: %w: %w", op, ports.ErrStoreWrite, err)
	}

	s.records[rec.ID] = rec
	s.open[key] = rec.ID
	s.order = append(s.order, rec.ID)
	s.notify(rec)

	s.logger.Info(ctx, "signal record created", map[string]interface{}{
		"symbol": rec.Symbol, "kind": rec.Kind, "side": rec.Side,
		"record_id": rec.ID, "entry_price": rec.EntryPrice,
	})
	return rec.Clone(), true, nil
}

// HasOpen reports whether an OPEN record exists for the pair. It satisfies
// strategy.OpenChecker.
func (s *Store) HasOpen(symbol string, kind domain.SignalKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.open[openKey(symbol, kind)]
	return ok
}

// OpenRecords returns clones of all OPEN records in creation order.
func (s *Store) OpenRecords() []*domain.SignalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.SignalRecord, 0, len(s.open))
	for _, id := range s.order {
		rec := s.records[id]
		if rec.IsOpen() {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// ActiveSymbols returns the symbols of OPEN records, most recently detected
// first, without duplicates.
func (s *Store) ActiveSymbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for i := len(s.order) - 1; i >= 0; i-- {
		rec := s.records[s.order[i]]
		if !rec.IsOpen() {
			continue
		}
		if _, dup := seen[rec.Symbol]; dup {
			continue
		}
		seen[rec.Symbol] = struct{}{}
		out = append(out, rec.Symbol)
	}
	return out
}

// ApplyOutcome appends one outcome sample to a record and optionally closes
// it. A horizon that was already sampled is ignored. The mutation is
// persisted before memory is updated.
func (s *Store) ApplyOutcome(ctx context.Context, id string, sample domain.OutcomeSample, closeRecord bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%s: record %s: %w", op, id, ports.ErrNotFound)
	}
	if rec.HasOutcome(sample.Horizon) {
		return nil
	}

	updated := rec.Clone()
	updated.Outcomes = append(updated.Outcomes, sample)
	if closeRecord {
		updated.Status = domain.StatusClosed
	}
	if err := s.repo.Save(ctx, updated); err != nil {
		return fmt.Errorf("%s persist failed: %w: %w", op, ports.ErrStoreWrite, err)
	}

	rec.Outcomes = updated.Outcomes
	if closeRecord {
		rec.Status = domain.StatusClosed
		delete(s.open, openKey(rec.Symbol, rec.Kind))
	}
	return nil
}

// Subscribe returns a channel receiving a clone of every record created from
// now on. The channel is buffered; a full buffer drops the notification.
func (s *Store) Subscribe() <-chan *domain.SignalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan *domain.SignalRecord, subscriberBuffer)
	s.subs = append(s.subs, ch)
	return ch
}

// notify requires s.mu held.
func (s *Store) notify(rec *domain.SignalRecord) {
	for _, ch := range s.subs {
		select {
		case ch <- rec.Clone():
		default:
		}
	}
}
