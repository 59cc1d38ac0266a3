package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetctl/fleetctl/internal/catalog"
	"github.com/fleetctl/fleetctl/internal/events"
	"github.com/fleetctl/fleetctl/internal/monitor"
	"github.com/fleetctl/fleetctl/internal/resources"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time                        { return c.now }
func (c fakeClock) After(d time.Duration) <-chan time.Time { ch := make(chan time.Time, 1); ch <- c.now.Add(d); return ch }
func (c fakeClock) Since(t time.Time) time.Duration        { return c.now.Sub(t) }

// newSubscribedClient builds a client subscribed to sub without going
// through Register, so handleEvent's enqueue can be observed without a real
// websocket connection.
func newSubscribedClient(sub string) *client {
	return &client{
		send:         make(chan Message, 4),
		subs:         map[string]bool{sub: true},
		lastServices: make(map[catalog.ServiceID]serviceSnapshot),
		lastSent:     make(map[string]Message),
	}
}

func TestServicesChangedDetectsStateDiff(t *testing.T) {
	prev := map[catalog.ServiceID]serviceSnapshot{
		"kaspa-node": {State: "running", Health: monitor.HealthHealthy},
	}
	next := map[catalog.ServiceID]serviceSnapshot{
		"kaspa-node": {State: "running", Health: monitor.HealthUnhealthy},
	}
	assert.True(t, servicesChanged(prev, next))
}

func TestServicesChangedNoDiff(t *testing.T) {
	snap := map[catalog.ServiceID]serviceSnapshot{
		"kaspa-node": {State: "running", Health: monitor.HealthHealthy},
	}
	assert.False(t, servicesChanged(snap, snap))
}

func TestServicesChangedNewService(t *testing.T) {
	prev := map[catalog.ServiceID]serviceSnapshot{}
	next := map[catalog.ServiceID]serviceSnapshot{
		"kaspa-node": {State: "running", Health: monitor.HealthHealthy},
	}
	assert.True(t, servicesChanged(prev, next))
}

func TestResourcesChangedNilPrev(t *testing.T) {
	assert.True(t, resourcesChanged(nil, resources.Sample{CPUPct: 10}))
}

func TestResourcesChangedBelowThreshold(t *testing.T) {
	prev := &resources.Sample{CPUPct: 10, MemPct: 50, DiskPct: 60}
	next := resources.Sample{CPUPct: 12, MemPct: 51, DiskPct: 61}
	assert.False(t, resourcesChanged(prev, next))
}

func TestResourcesChangedAboveThreshold(t *testing.T) {
	prev := &resources.Sample{CPUPct: 10, MemPct: 50, DiskPct: 60}
	next := resources.Sample{CPUPct: 16, MemPct: 50, DiskPct: 60}
	assert.True(t, resourcesChanged(prev, next))
}

func TestHandleEventForwardsTaskStateChanged(t *testing.T) {
	b := &Broadcaster{clk: fakeClock{now: time.Now()}, clients: map[*client]bool{}}
	c := newSubscribedClient(SubTasks)
	b.clients[c] = true

	b.handleEvent(events.Event{Type: events.TaskStateChanged, Payload: map[string]string{"taskId": "t1", "status": "Cancelled"}})

	select {
	case m := <-c.send:
		assert.Equal(t, SubTasks, m.Subscription)
		assert.Equal(t, "task:status", m.Type)
	default:
		t.Fatal("expected a message to be enqueued for the tasks subscription")
	}
}

func TestHandleEventForwardsUpdatePipelineEvents(t *testing.T) {
	b := &Broadcaster{clk: fakeClock{now: time.Now()}, clients: map[*client]bool{}}
	c := newSubscribedClient(SubUpdates)
	b.clients[c] = true

	for _, evt := range []events.Name{
		events.UpdateStarted, events.UpdateProgress, events.UpdateServiceDone,
		events.UpdateCompleted, events.UpdateFailed,
	} {
		b.handleEvent(events.Event{Type: evt, Payload: "phase:" + string(evt)})
		select {
		case m := <-c.send:
			require.Equal(t, SubUpdates, m.Subscription)
			assert.Equal(t, string(evt), m.Type)
		default:
			t.Fatalf("expected %s to be forwarded to the updates subscription", evt)
		}
	}
}
