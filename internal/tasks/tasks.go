// Package tasks implements the background task supervisor: a single
// logical scheduler per process running one poller goroutine per task, with
// per-task state serialization behind a mutex-protected map.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetctl/fleetctl/internal/clock"
	"github.com/fleetctl/fleetctl/internal/events"
	"github.com/fleetctl/fleetctl/internal/metrics"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending Status = "Pending"
	StatusRunning Status = "Running"
	StatusPaused  Status = "Paused"
	StatusComplete Status = "Complete"
	StatusError   Status = "Error"
	StatusCancelled Status = "Cancelled"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task is a poll-driven unit of background work.
type Task struct {
	ID        string
	Kind      string
	ServiceID string
	Status    Status
	Progress  int
	Error     string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CheckResult is what a Checker reports each poll.
type CheckResult struct {
	Completed bool
	Progress  int
	Error     string
	Metadata  map[string]any
}

// Checker polls external state for one task and reports its result. It
// receives the current Task record (read-only) and must not block longer
// than pollInterval.
type Checker func(ctx context.Context, t Task) (CheckResult, error)

// Spec describes a task to register.
type Spec struct {
	Kind         string
	ServiceID    string
	PollInterval time.Duration
	Checker      Checker
	OnComplete   func(Task)
}

const defaultPollInterval = 5 * time.Second

type taskEntry struct {
	mu     sync.Mutex
	task   Task
	spec   Spec
	pause  chan bool
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor runs and tracks all background tasks for the process.
type Supervisor struct {
	clk clock.Clock
	bus *events.Bus

	mu      sync.Mutex
	entries map[string]*taskEntry
}

// New creates an empty Supervisor.
func New(clk clock.Clock, bus *events.Bus) *Supervisor {
	return &Supervisor{clk: clk, bus: bus, entries: make(map[string]*taskEntry)}
}

// Register creates a new Task in Pending status and returns its ID. It does
// not start polling; call Start to begin.
func (s *Supervisor) Register(spec Spec) string {
	id := uuid.NewString()
	now := s.clk.Now()
	e := &taskEntry{
		task: Task{
			ID:        id,
			Kind:      spec.Kind,
			ServiceID: spec.ServiceID,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
		spec:  spec,
		pause: make(chan bool, 1),
	}
	s.mu.Lock()
	s.entries[id] = e
	s.mu.Unlock()
	return id
}

// Start begins polling a registered task in its own goroutine.
func (s *Supervisor) Start(taskID string) bool {
	e := s.get(taskID)
	if e == nil {
		return false
	}
	e.mu.Lock()
	if e.task.Status == StatusRunning {
		e.mu.Unlock()
		return true
	}
	if e.task.Status == StatusPending {
		metrics.TasksActive.WithLabelValues(e.task.Kind).Inc()
	}
	e.task.Status = StatusRunning
	e.task.UpdatedAt = s.clk.Now()
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	snapshot := e.task
	e.mu.Unlock()

	s.publish(snapshot)
	go s.poll(ctx, e)
	return true
}

// publish mirrors runOnce's event-emission shape for transitions that don't
// go through a poll cycle (Start/Pause/Resume/Cancel), so every status
// change in the Started, (Progress)*, (Paused, Resumed)*, Terminal sequence
// reaches subscribers.
func (s *Supervisor) publish(t Task) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Type:      events.TaskStateChanged,
		ServiceID: t.ServiceID,
		Payload:   t,
		Timestamp: t.UpdatedAt,
	})
}

func (s *Supervisor) poll(ctx context.Context, e *taskEntry) {
	defer close(e.done)

	interval := e.spec.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	paused := false
	for {
		if !paused {
			s.runOnce(ctx, e)
			e.mu.Lock()
			terminal := e.task.Status.Terminal()
			e.mu.Unlock()
			if terminal {
				return
			}
		}
		select {
		case p := <-e.pause:
			paused = p
		case <-s.clk.After(interval):
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, e *taskEntry) {
	e.mu.Lock()
	current := e.task
	e.mu.Unlock()

	result, err := e.spec.Checker(ctx, current)

	e.mu.Lock()
	if e.task.Status.Terminal() {
		// Cancelled while the checker was in flight; the terminal state wins.
		e.mu.Unlock()
		return
	}
	now := s.clk.Now()
	e.task.UpdatedAt = now
	switch {
	case err != nil:
		e.task.Status = StatusError
		e.task.Error = err.Error()
	case result.Error != "":
		e.task.Status = StatusError
		e.task.Error = result.Error
	case result.Completed:
		e.task.Status = StatusComplete
		e.task.Progress = 100
		e.task.Metadata = result.Metadata
	default:
		e.task.Status = StatusRunning
		e.task.Progress = result.Progress
		e.task.Metadata = result.Metadata
	}
	snapshot := e.task
	e.mu.Unlock()

	if snapshot.Status.Terminal() {
		metrics.TasksActive.WithLabelValues(snapshot.Kind).Dec()
		metrics.TasksCompletedTotal.WithLabelValues(snapshot.Kind, string(snapshot.Status)).Inc()
	}

	s.publish(snapshot)
	if snapshot.Status == StatusComplete && e.spec.OnComplete != nil {
		e.spec.OnComplete(snapshot)
	}
}

// Pause suspends polling for a running task without cancelling it.
func (s *Supervisor) Pause(taskID string) bool {
	e := s.get(taskID)
	if e == nil {
		return false
	}
	e.mu.Lock()
	if e.task.Status != StatusRunning {
		e.mu.Unlock()
		return false
	}
	e.task.Status = StatusPaused
	e.task.UpdatedAt = s.clk.Now()
	snapshot := e.task
	e.mu.Unlock()
	select {
	case e.pause <- true:
	default:
	}
	s.publish(snapshot)
	return true
}

// Resume continues polling a paused task.
func (s *Supervisor) Resume(taskID string) bool {
	e := s.get(taskID)
	if e == nil {
		return false
	}
	e.mu.Lock()
	if e.task.Status != StatusPaused {
		e.mu.Unlock()
		return false
	}
	e.task.Status = StatusRunning
	e.task.UpdatedAt = s.clk.Now()
	snapshot := e.task
	e.mu.Unlock()
	select {
	case e.pause <- false:
	default:
	}
	s.publish(snapshot)
	return true
}

// Cancel stops a task's poller permanently.
func (s *Supervisor) Cancel(taskID string) bool {
	e := s.get(taskID)
	if e == nil {
		return false
	}
	e.mu.Lock()
	if e.task.Status.Terminal() {
		e.mu.Unlock()
		return false
	}
	wasStarted := e.task.Status == StatusRunning || e.task.Status == StatusPaused
	e.task.Status = StatusCancelled
	e.task.UpdatedAt = s.clk.Now()
	cancel := e.cancel
	snapshot := e.task
	e.mu.Unlock()
	if wasStarted {
		metrics.TasksActive.WithLabelValues(snapshot.Kind).Dec()
	}
	metrics.TasksCompletedTotal.WithLabelValues(snapshot.Kind, string(snapshot.Status)).Inc()
	s.publish(snapshot)
	if cancel != nil {
		cancel()
	}
	return true
}

// Filter narrows List results.
type Filter struct {
	Kind      string
	ServiceID string
	Status    Status
}

// List returns tasks matching filter; zero-value fields are wildcards.
func (s *Supervisor) List(f Filter) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.entries))
	for _, e := range s.entries {
		e.mu.Lock()
		t := e.task
		e.mu.Unlock()
		if f.Kind != "" && t.Kind != f.Kind {
			continue
		}
		if f.ServiceID != "" && t.ServiceID != f.ServiceID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Get returns a single task by ID.
func (s *Supervisor) Get(taskID string) (Task, bool) {
	e := s.get(taskID)
	if e == nil {
		return Task{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task, true
}

// Cleanup removes terminal tasks last updated before olderThan, returning
// the count removed.
func (s *Supervisor) Cleanup(olderThan time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		e.mu.Lock()
		terminal := e.task.Status.Terminal()
		updated := e.task.UpdatedAt
		e.mu.Unlock()
		if terminal && updated.Before(olderThan) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

func (s *Supervisor) get(taskID string) *taskEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[taskID]
}
