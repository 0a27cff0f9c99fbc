// Package jsonstore implements ports.SignalRepository on top of one JSON
// document per UTC day. Files live flat in the data directory; archived days
// are moved into a history/ subdirectory.
package jsonstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

const (
	op         = "jsonstore"
	dayLayout  = "2006-01-02"
	historyDir = "history"
	fileMode   = 0o644
	dirMode    = 0o755
)

// Store writes each day's records as a map keyed by record ID. All writes go
// through a temp file and rename so readers never see a torn document.
type Store struct {
	dir    string
	logger ports.Logger

	mu sync.Mutex
}

func New(dir string, logger ports.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%s: data directory is required: %w", op, ports.ErrConfigurationError)
	}
	if logger == nil {
		return nil, fmt.Errorf("%s: logger is required: %w", op, ports.ErrConfigurationError)
	}
	if err := os.MkdirAll(filepath.Join(dir, historyDir), dirMode); err != nil {
		return nil, fmt.Errorf("%s: create data directory failed: %w: %w", op, ports.ErrStoreWrite, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) dayPath(day time.Time) string {
	return filepath.Join(s.dir, day.UTC().Format(dayLayout)+".json")
}

// Save upserts the record into the day file matching its detection date.
func (s *Store) Save(ctx context.Context, rec *domain.SignalRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%s: record with ID is required: %w", op, ports.ErrInvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.dayPath(rec.DetectedAt)
	day, err := readDayFile(path)
	if err != nil {
		return err
	}
	day[rec.ID] = rec.Clone()
	return writeDayFile(path, day)
}

// LoadDay loads the given day's records. A missing file yields an empty map.
func (s *Store) LoadDay(ctx context.Context, day time.Time) (map[string]*domain.SignalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readDayFile(s.dayPath(day))
}

// LoadAll merges every day file, current and archived. Records are keyed by
// ID, so a record archived and re-saved wins by last read; day files are read
// in name order with history first.
func (s *Store) LoadAll(ctx context.Context) (map[string]*domain.SignalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var paths []string
	for _, dir := range []string{filepath.Join(s.dir, historyDir), s.dir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("%s: read directory %s failed: %w: %w", op, dir, ports.ErrStoreLoad, err)
		}
		var names []string
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			paths = append(paths, filepath.Join(dir, name))
		}
	}

	out := make(map[string]*domain.SignalRecord)
	for _, path := range paths {
		day, err := readDayFile(path)
		if err != nil {
			return nil, err
		}
		for id, rec := range day {
			out[id] = rec
		}
	}
	return out, nil
}

// ArchiveBefore moves day files strictly older than the given day into
// history/ and reports how many were moved. A file still holding an OPEN
// record is left in place until its records are closed.
func (s *Store) ArchiveBefore(ctx context.Context, day time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := day.UTC().Format(dayLayout)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("%s: read directory failed: %w: %w", op, ports.ErrStoreLoad, err)
	}

	moved := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		stamp := strings.TrimSuffix(name, ".json")
		if _, err := time.Parse(dayLayout, stamp); err != nil {
			continue
		}
		if stamp >= cutoff {
			continue
		}
		src := filepath.Join(s.dir, name)
		day, err := readDayFile(src)
		if err != nil {
			return moved, err
		}
		if hasOpenRecord(day) {
			continue
		}
		dst := filepath.Join(s.dir, historyDir, name)
		if err := os.Rename(src, dst); err != nil {
			return moved, fmt.Errorf("%s: archive %s failed: %w: %w", op, name, ports.ErrStoreWrite, err)
		}
		s.logger.Info(ctx, "day file archived", map[string]interface{}{"file": name})
		moved++
	}
	return moved, nil
}

func hasOpenRecord(day map[string]*domain.SignalRecord) bool {
	for _, rec := range day {
		if rec.IsOpen() {
			return true
		}
	}
	return false
}

func readDayFile(path string) (map[string]*domain.SignalRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*domain.SignalRecord), nil
		}
		return nil, fmt.Errorf("%s: read %s failed: %w: %w", op, filepath.Base(path), ports.ErrStoreLoad, err)
	}
	out := make(map[string]*domain.SignalRecord)
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%s: decode %s failed: %w: %w", op, filepath.Base(path), ports.ErrStoreLoad, err)
	}
	return out, nil
}

func writeDayFile(path string, day map[string]*domain.SignalRecord) error {
	data, err := json.MarshalIndent(day, "", "  ")
	if err != nil {
		return fmt.Errorf("%s: encode %s failed: %w: %w", op, filepath.Base(path), ports.ErrStoreWrite, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%s: create temp file failed: %w: %w", op, ports.ErrStoreWrite, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%s: write temp file failed: %w: %w", op, ports.ErrStoreWrite, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%s: close temp file failed: %w: %w", op, ports.ErrStoreWrite, err)
	}
	if err := os.Chmod(tmpPath, fileMode); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%s: chmod temp file failed: %w: %w", op, ports.ErrStoreWrite, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%s: rename temp file failed: %w: %w", op, ports.ErrStoreWrite, err)
	}
	return nil
}
