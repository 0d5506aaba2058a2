package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	pipeerrs "github.com/sifangyu/weipc/internal/core/errors"
	"github.com/sifangyu/weipc/internal/platform/observability"
	"github.com/sifangyu/weipc/internal/platform/worker"
)

// ScheduleType distinguishes a schedule entry that fires every day
// from one that fires only on explicitly named weekdays.
type ScheduleType string

const (
	Daily  ScheduleType = "daily"
	Weekly ScheduleType = "weekly"
)

// Entry is one persisted scheduled trigger: invoke Step at Time every
// day (Daily) or on the listed Days (Weekly). Entries are immutable
// once added; the only mutation is deletion.
type Entry struct {
	ID           string                 `json:"id"`
	Step         string                 `json:"type"`
	ScheduleType ScheduleType           `json:"schedule_type"`
	Days         []time.Weekday         `json:"days,omitempty"`
	Time         string                 `json:"time"`
	Params       map[string]interface{} `json:"params,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// dueOn reports whether the entry should fire on weekday d.
func (e Entry) dueOn(d time.Weekday) bool {
	if e.ScheduleType == Daily {
		return true
	}

	for _, day := range e.Days {
		if day == d {
			return true
		}
	}

	return false
}

// Store persists the list of schedule entries as JSON, atomically
// rewriting the file on every add/delete, matching the progress
// journal's temp-file+rename convention.
type Store struct {
	path string

	mu      sync.Mutex
	entries []Entry
}

// OpenStore loads path (or starts empty, if absent).
func OpenStore(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}

		return nil, fmt.Errorf("%w: read schedule store %s: %w", pipeerrs.ErrConfig, path, err)
	}

	if err := json.Unmarshal(data, &s.entries); err != nil {
		return nil, fmt.Errorf("%w: parse schedule store %s: %w", pipeerrs.ErrConfig, path, err)
	}

	return s, nil
}

// List returns a copy of every persisted entry.
func (s *Store) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)

	return out
}

// Add appends a new entry and persists the store.
func (s *Store) Add(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, e)

	if err := s.saveLocked(); err != nil {
		return err
	}

	observability.ScheduleEntriesTotal.Set(float64(len(s.entries)))

	return nil
}

// Delete removes the entry with the given id, if present.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.entries[:0]

	for _, e := range s.entries {
		if e.ID != id {
			out = append(out, e)
		}
	}

	s.entries = out

	if err := s.saveLocked(); err != nil {
		return err
	}

	observability.ScheduleEntriesTotal.Set(float64(len(s.entries)))

	return nil
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal schedule store: %w", pipeerrs.ErrConfig, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create schedule store dir: %w", pipeerrs.ErrConfig, err)
	}

	tmp, err := os.CreateTemp(dir, ".schedule-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp schedule file: %w", pipeerrs.ErrConfig, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return fmt.Errorf("%w: write temp schedule file: %w", pipeerrs.ErrConfig, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: close temp schedule file: %w", pipeerrs.ErrConfig, err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: rename temp schedule file: %w", pipeerrs.ErrConfig, err)
	}

	return nil
}

// Trigger invokes the workflow engine for one fired entry.
type Trigger func(entry Entry)

// Scheduler reinstates every persisted entry into an in-memory ticker
// loop on start, firing Trigger once per minute for any entry whose
// Time matches the current minute and whose Days (or Daily) matches
// today, with a per-entry last-fired guard so a slow trigger can't
// double-fire within the same minute.
type Scheduler struct {
	store   *Store
	trigger Trigger
	logger  zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	lastFire map[string]string
}

// NewScheduler constructs a Scheduler over store, invoking trigger for
// each entry that comes due.
func NewScheduler(store *Store, trigger Trigger, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		trigger:  trigger,
		logger:   logger,
		now:      time.Now,
		lastFire: map[string]string{},
	}
}

// checkMinute examines every entry and fires the due ones, keyed to
// avoid firing the same entry twice within one clock minute.
func (s *Scheduler) checkMinute() {
	now := s.now()

	hhmm := now.Format("15:04")
	dayKey := now.Format("2006-01-02") + " " + hhmm

	for _, e := range s.store.List() {
		normalized, err := NormalizeTimeHM(e.Time)
		if err != nil {
			s.logger.Warn().Str("entry_id", e.ID).Err(err).Msg("schedule entry has invalid time, skipping")
			continue
		}

		if normalized != hhmm || !e.dueOn(now.Weekday()) {
			continue
		}

		s.mu.Lock()
		already := s.lastFire[e.ID] == dayKey
		s.lastFire[e.ID] = dayKey
		s.mu.Unlock()

		if already {
			continue
		}

		s.logger.Info().Str("entry_id", e.ID).Str("step", e.Step).Msg("schedule entry due, triggering")
		observability.ScheduleTriggersFired.WithLabelValues(e.Step).Inc()
		s.trigger(e)
	}
}

const tickInterval = 30 * time.Second

// Run drives the scheduler until ctx is cancelled, matching the
// teacher's single-ticker worker loop shape.
func (s *Scheduler) Run(ctx context.Context) error {
	return worker.SingleTickerLoop(ctx, worker.SingleTickerConfig{
		Name:       "schedule",
		Interval:   tickInterval,
		RunOnStart: true,
		OnTick: func(ctx context.Context) {
			s.checkMinute()
		},
		Logger: &s.logger,
	})
}
