package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Status is the lifecycle state of one target within a run.
type Status string

const (
	Enqueued  Status = "enqueued"
	Running   Status = "running"
	Passed    Status = "passed"
	Failed    Status = "failed"
	Errored   Status = "errored"
	Cancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case Passed, Failed, Errored, Cancelled:
		return true
	}
	return false
}

var (
	// ErrRunStarted is returned by Enqueue once any target has begun.
	ErrRunStarted = errors.New("run already started")
	// ErrDuplicate is returned when a target is enqueued twice.
	ErrDuplicate = errors.New("target already enqueued")
	// ErrUnknownTarget is returned for targets that were never enqueued.
	ErrUnknownTarget = errors.New("unknown target")
	// ErrInvalidTransition is returned when the current status forbids the change.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidOutcome is returned when Complete is given a non-outcome status.
	ErrInvalidOutcome = errors.New("invalid outcome")
)

// Target identifies a test target.
type Target struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Entry tracks one target within a run.
type Entry struct {
	Target   Target        `json:"target"`
	Status   Status        `json:"status"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
	Message  string        `json:"message,omitempty"`
}

// Counts holds the number of entries per status.
type Counts map[Status]int

// Snapshot is a point-in-time copy of a run.
type Snapshot struct {
	RunID   string  `json:"run_id"`
	Entries []Entry `json:"entries"`
	Counts  Counts  `json:"counts"`
}

// Tracker holds the per-target state of a single run. Only the run loop
// writes to it; the mutex lets sinks read concurrently.
type Tracker struct {
	mu      sync.Mutex
	runID   string
	order   []string
	entries map[string]*Entry
	started bool
	now     func() time.Time
}

// NewTracker creates an empty Tracker for the run identified by runID.
func NewTracker(runID string) *Tracker {
	return &Tracker{
		runID:   runID,
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// RunID returns the run identifier.
func (t *Tracker) RunID() string {
	return t.runID
}

// Enqueue adds target in the Enqueued state.
func (t *Tracker) Enqueue(target Target) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return fmt.Errorf("enqueue %s: %w", target.ID, ErrRunStarted)
	}
	if _, ok := t.entries[target.ID]; ok {
		return fmt.Errorf("enqueue %s: %w", target.ID, ErrDuplicate)
	}
	t.entries[target.ID] = &Entry{Target: target, Status: Enqueued}
	t.order = append(t.order, target.ID)
	return nil
}

// Begin moves id from Enqueued to Running and records its start time.
func (t *Tracker) Begin(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.transition(id, Enqueued, Running)
	if err != nil {
		return err
	}
	t.started = true
	e.Start = t.now()
	return nil
}

// Complete moves id from Running to outcome, which must be Passed, Failed
// or Errored.
func (t *Tracker) Complete(id string, outcome Status, duration time.Duration, message string) error {
	switch outcome {
	case Passed, Failed, Errored:
	default:
		return fmt.Errorf("complete %s as %s: %w", id, outcome, ErrInvalidOutcome)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.transition(id, Running, outcome)
	if err != nil {
		return err
	}
	e.Duration = duration
	e.Message = message
	return nil
}

// CancelRemaining moves every Enqueued entry to Cancelled and returns the
// affected targets in enqueue order.
func (t *Tracker) CancelRemaining() []Target {
	t.mu.Lock()
	defer t.mu.Unlock()

	var cancelled []Target
	for _, id := range t.order {
		e := t.entries[id]
		if e.Status == Enqueued {
			e.Status = Cancelled
			cancelled = append(cancelled, e.Target)
		}
	}
	return cancelled
}

// transition must be called with t.mu held.
func (t *Tracker) transition(id string, from, to Status) (*Entry, error) {
	e, ok := t.entries[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownTarget)
	}
	if e.Status != from {
		return nil, fmt.Errorf("%s: %s -> %s: %w", id, e.Status, to, ErrInvalidTransition)
	}
	e.Status = to
	return e, nil
}

// Get returns a copy of the entry for id.
func (t *Tracker) Get(id string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Pending returns the Enqueued targets in enqueue order.
func (t *Tracker) Pending() []Target {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pending []Target
	for _, id := range t.order {
		if e := t.entries[id]; e.Status == Enqueued {
			pending = append(pending, e.Target)
		}
	}
	return pending
}

// Entries returns copies of all entries in enqueue order.
func (t *Tracker) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.entriesLocked()
}

func (t *Tracker) entriesLocked() []Entry {
	out := make([]Entry, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.entries[id])
	}
	return out
}

// Counts returns the number of entries per status.
func (t *Tracker) Counts() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.countsLocked()
}

func (t *Tracker) countsLocked() Counts {
	c := make(Counts)
	for _, e := range t.entries {
		c[e.Status]++
	}
	return c
}

// Snapshot returns a copy of the whole run.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Snapshot{
		RunID:   t.runID,
		Entries: t.entriesLocked(),
		Counts:  t.countsLocked(),
	}
}

// Save writes the current snapshot as indented JSON to path.
func (t *Tracker) Save(path string) error {
	return t.Snapshot().Save(path)
}

// Save writes s as indented JSON to path.
func (s Snapshot) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create results directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write results file %s: %w", path, err)
	}

	return nil
}

// LoadSnapshot reads a snapshot previously written by Save.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read results file %s: %w", path, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse results file %s: %w", path, err)
	}
	return &snap, nil
}
