package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetctl/fleetctl/internal/events"
)

// mockClock implements clock.Clock for testing with an instantly-firing After.
type mockClock struct{ now time.Time }

func newMockClock(t time.Time) *mockClock { return &mockClock{now: t} }
func (c *mockClock) Now() time.Time       { return c.now }
func (c *mockClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.now = c.now.Add(d)
	ch <- c.now
	return ch
}
func (c *mockClock) Since(t time.Time) time.Duration { return c.now.Sub(t) }

func TestRegisterStartCompletes(t *testing.T) {
	clk := newMockClock(time.Now())
	s := New(clk, nil)

	done := make(chan struct{})
	id := s.Register(Spec{
		Kind:         "Test",
		PollInterval: time.Millisecond,
		Checker: func(ctx context.Context, _ Task) (CheckResult, error) {
			return CheckResult{Completed: true, Progress: 100}, nil
		},
		OnComplete: func(_ Task) { close(done) },
	})

	require.True(t, s.Start(id))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never completed")
	}

	task, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusComplete, task.Status)
	assert.Equal(t, 100, task.Progress)
}

func TestCancelStopsPolling(t *testing.T) {
	clk := newMockClock(time.Now())
	s := New(clk, nil)

	calls := make(chan struct{}, 100)
	id := s.Register(Spec{
		Kind:         "Test",
		PollInterval: time.Millisecond,
		Checker: func(ctx context.Context, _ Task) (CheckResult, error) {
			select {
			case calls <- struct{}{}:
			default:
			}
			return CheckResult{Completed: false, Progress: 1}, nil
		},
	})
	require.True(t, s.Start(id))

	<-calls
	require.True(t, s.Cancel(id))

	task, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, task.Status)
}

func TestListFilters(t *testing.T) {
	clk := newMockClock(time.Now())
	s := New(clk, nil)

	id1 := s.Register(Spec{Kind: "NodeSync", ServiceID: "a", Checker: noopChecker})
	id2 := s.Register(Spec{Kind: "Backup", ServiceID: "b", Checker: noopChecker})
	_ = id1
	_ = id2

	nodeSyncTasks := s.List(Filter{Kind: "NodeSync"})
	require.Len(t, nodeSyncTasks, 1)
	assert.Equal(t, "a", nodeSyncTasks[0].ServiceID)
}

func TestCleanupRemovesOldTerminalTasks(t *testing.T) {
	clk := newMockClock(time.Now())
	s := New(clk, nil)

	id := s.Register(Spec{Kind: "Test", Checker: noopChecker})
	s.Cancel(id)

	removed := s.Cleanup(clk.Now().Add(time.Hour))
	assert.Equal(t, 1, removed)

	_, ok := s.Get(id)
	assert.False(t, ok)
}

func noopChecker(ctx context.Context, _ Task) (CheckResult, error) {
	return CheckResult{Completed: false}, nil
}

// TestStatusTransitionsPublishEvents verifies every status transition
// reachable outside a poll cycle (Start, Pause, Resume, Cancel) publishes a
// TaskStateChanged event. No transition may be silently invisible to
// subscribers (Broadcaster, AlertEngine).
func TestStatusTransitionsPublishEvents(t *testing.T) {
	clk := newMockClock(time.Now())
	bus := events.New()
	s := New(clk, bus)

	ch, cancel := bus.Subscribe()
	defer cancel()

	blocked := make(chan struct{})
	id := s.Register(Spec{
		Kind:         "Test",
		PollInterval: time.Hour, // never fires again within the test
		Checker: func(ctx context.Context, _ Task) (CheckResult, error) {
			<-blocked
			return CheckResult{Completed: false, Progress: 1}, nil
		},
	})

	nextStatus := func() Status {
		select {
		case evt := <-ch:
			require.Equal(t, events.TaskStateChanged, evt.Type)
			task, ok := evt.Payload.(Task)
			require.True(t, ok)
			return task.Status
		case <-time.After(time.Second):
			t.Fatal("expected a TaskStateChanged event")
			return ""
		}
	}

	require.True(t, s.Start(id))
	assert.Equal(t, StatusRunning, nextStatus(), "Start must publish before the poller's first checker call completes")

	require.True(t, s.Pause(id))
	assert.Equal(t, StatusPaused, nextStatus())

	require.True(t, s.Resume(id))
	assert.Equal(t, StatusRunning, nextStatus())

	require.True(t, s.Cancel(id))
	assert.Equal(t, StatusCancelled, nextStatus())

	close(blocked)
}
