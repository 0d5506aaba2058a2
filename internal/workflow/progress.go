// Package workflow is the pipeline's three-step engine: link_crawl,
// content_crawl, forum_publish run in fixed order, gated by a Status
// Checker, retried per step, and checkpointed to a resumable
// Execution Record. Ported from the original automation's
// WorkflowManager/StatusChecker/ProgressTracker split.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	pipeerrs "github.com/sifangyu/weipc/internal/core/errors"
)

// StepStatus is one step's lifecycle state within an execution.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// ExecutionStatus is the overall run's lifecycle state.
type ExecutionStatus string

const (
	ExecutionRunning     ExecutionStatus = "running"
	ExecutionCompleted   ExecutionStatus = "completed"
	ExecutionFailed      ExecutionStatus = "failed"
	ExecutionInterrupted ExecutionStatus = "interrupted"
)

// StepRecord is one step's entry in the Execution Record, matching
// progress_tracker.py's per-step dict.
type StepRecord struct {
	Status    StepStatus     `json:"status"`
	StartTime *time.Time     `json:"start_time,omitempty"`
	EndTime   *time.Time     `json:"end_time,omitempty"`
	DurationS float64        `json:"duration,omitempty"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// LogEntry is one line of the execution's rolling log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Step      string    `json:"step,omitempty"`
}

// Summary tallies step outcomes for an execution.
type Summary struct {
	TotalSteps     int `json:"total_steps"`
	CompletedSteps int `json:"completed_steps"`
	FailedSteps    int `json:"failed_steps"`
	SkippedSteps   int `json:"skipped_steps"`
}

const maxLogEntries = 1000
const trimmedLogEntries = 500

// Record is the Execution Record: the durable, resumable snapshot of
// one workflow run, matching progress_tracker.py's JSON shape.
type Record struct {
	ExecutionID    string                `json:"execution_id"`
	StartTime      time.Time             `json:"start_time"`
	EndTime        *time.Time            `json:"end_time,omitempty"`
	Status         ExecutionStatus       `json:"status"`
	CurrentStep    string                `json:"current_step,omitempty"`
	Steps          map[string]StepRecord `json:"steps"`
	Summary        Summary               `json:"summary"`
	Logs           []LogEntry            `json:"logs"`
	TotalDurationS float64               `json:"total_duration,omitempty"`
}

// Tracker owns the on-disk Execution Record for the currently active
// execution, atomically rewriting the file on every transition.
type Tracker struct {
	dir string

	mu      sync.Mutex
	current *Record
}

// NewTracker constructs a Tracker that persists records under dir.
func NewTracker(dir string) (*Tracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create progress dir %s: %w", pipeerrs.ErrConfig, dir, err)
	}

	return &Tracker{dir: dir}, nil
}

// StartExecution begins a new Execution Record. If id is empty, one is
// derived from the current time, matching the original's
// "%Y%m%d_%H%M%S" execution id.
func (t *Tracker) StartExecution(id string, now time.Time) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id == "" {
		id = now.Format("20060102_150405")
	}

	t.current = &Record{
		ExecutionID: id,
		StartTime:   now,
		Status:      ExecutionRunning,
		Steps:       map[string]StepRecord{},
	}

	return id, t.saveLocked()
}

// LoadExecution reads an existing Execution Record for resume.
func (t *Tracker) LoadExecution(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.recordPath(id))
	if err != nil {
		return fmt.Errorf("%w: load execution %s: %w", pipeerrs.ErrNotFound, id, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("%w: parse execution record %s: %w", pipeerrs.ErrConfig, id, err)
	}

	t.current = &rec

	return nil
}

// UpdateStepStatus transitions step's status, stamping start/end times
// and updating the summary counters, matching update_step_status.
func (t *Tracker) UpdateStepStatus(step string, status StepStatus, now time.Time, opts ...StepOption) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return fmt.Errorf("%w: no active execution", pipeerrs.ErrInvalidInput)
	}

	rec, existed := t.current.Steps[step]
	if !existed {
		rec = StepRecord{Status: StepPending}
		t.current.Summary.TotalSteps++
	}

	oldStatus := rec.Status
	rec.Status = status

	switch {
	case status == StepRunning && oldStatus == StepPending:
		startedAt := now
		rec.StartTime = &startedAt
		t.current.CurrentStep = step
	case status == StepCompleted || status == StepFailed || status == StepSkipped:
		endedAt := now
		rec.EndTime = &endedAt

		if rec.StartTime != nil {
			rec.DurationS = now.Sub(*rec.StartTime).Seconds()
		}

		if oldStatus != status {
			switch status {
			case StepCompleted:
				t.current.Summary.CompletedSteps++
			case StepFailed:
				t.current.Summary.FailedSteps++
			case StepSkipped:
				t.current.Summary.SkippedSteps++
			}
		}
	}

	for _, opt := range opts {
		opt(&rec)
	}

	t.current.Steps[step] = rec
	t.addLogLocked(now, "info", step, fmt.Sprintf("step %s: %s", step, status))

	return t.saveLocked()
}

// StepOption customizes a StepRecord transition, mirroring
// update_step_status's **kwargs.
type StepOption func(*StepRecord)

// WithMessage attaches a human-readable outcome message.
func WithMessage(msg string) StepOption { return func(r *StepRecord) { r.Message = msg } }

// WithError attaches a failure detail.
func WithError(err error) StepOption {
	return func(r *StepRecord) {
		if err != nil {
			r.Error = err.Error()
		}
	}
}

// WithDetails attaches step-specific detail fields (pending counts,
// per-account breakdowns, and so on).
func WithDetails(details map[string]any) StepOption {
	return func(r *StepRecord) { r.Details = details }
}

// AddLog appends a log line to the active execution, trimming the
// oldest entries once the log grows past maxLogEntries.
func (t *Tracker) AddLog(now time.Time, level, step, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return nil
	}

	t.addLogLocked(now, level, step, message)

	return t.saveLocked()
}

func (t *Tracker) addLogLocked(now time.Time, level, step, message string) {
	t.current.Logs = append(t.current.Logs, LogEntry{Timestamp: now, Level: level, Message: message, Step: step})

	if len(t.current.Logs) > maxLogEntries {
		t.current.Logs = append([]LogEntry(nil), t.current.Logs[len(t.current.Logs)-trimmedLogEntries:]...)
	}
}

// FinishExecution marks the active execution terminal and computes its
// total duration. An interrupted execution keeps its current step so
// Resume continues from it.
func (t *Tracker) FinishExecution(status ExecutionStatus, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return nil
	}

	endedAt := now
	t.current.EndTime = &endedAt
	t.current.Status = status
	if status != ExecutionInterrupted {
		t.current.CurrentStep = ""
	}
	t.current.TotalDurationS = now.Sub(t.current.StartTime).Seconds()

	return t.saveLocked()
}

// Progress returns a copy of the active Execution Record.
func (t *Tracker) Progress() *Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return nil
	}

	cp := *t.current

	return &cp
}

// ResumableExecution summarizes one not-yet-finished execution found
// on disk, matching get_resumable_executions.
type ResumableExecution struct {
	ExecutionID string    `json:"execution_id"`
	StartTime   time.Time `json:"start_time"`
	CurrentStep string    `json:"current_step,omitempty"`
}

// ResumableExecutions scans the progress directory for executions
// still marked "running", newest first.
func (t *Tracker) ResumableExecutions() ([]ResumableExecution, error) {
	entries, err := filepath.Glob(filepath.Join(t.dir, "progress_*.json"))
	if err != nil {
		return nil, fmt.Errorf("%w: glob progress directory: %w", pipeerrs.ErrConfig, err)
	}

	var out []ResumableExecution

	for _, path := range entries {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}

		if rec.Status == ExecutionRunning {
			out = append(out, ResumableExecution{
				ExecutionID: rec.ExecutionID,
				StartTime:   rec.StartTime,
				CurrentStep: rec.CurrentStep,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })

	return out, nil
}

func (t *Tracker) recordPath(id string) string {
	return filepath.Join(t.dir, fmt.Sprintf("progress_%s.json", id))
}

func (t *Tracker) saveLocked() error {
	data, err := json.MarshalIndent(t.current, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal execution record: %w", pipeerrs.ErrConfig, err)
	}

	tmp, err := os.CreateTemp(t.dir, ".progress-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp progress file: %w", pipeerrs.ErrConfig, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return fmt.Errorf("%w: write temp progress file: %w", pipeerrs.ErrConfig, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: close temp progress file: %w", pipeerrs.ErrConfig, err)
	}

	if err := os.Rename(tmpPath, t.recordPath(t.current.ExecutionID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: rename temp progress file: %w", pipeerrs.ErrConfig, err)
	}

	return nil
}
