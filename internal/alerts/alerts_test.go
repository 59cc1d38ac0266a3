package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetctl/fleetctl/internal/catalog"
	"github.com/fleetctl/fleetctl/internal/events"
	"github.com/fleetctl/fleetctl/internal/monitor"
	"github.com/fleetctl/fleetctl/internal/nodesync"
	"github.com/fleetctl/fleetctl/internal/resources"
)

type mockClock struct{ now time.Time }

func (c *mockClock) Now() time.Time                        { return c.now }
func (c *mockClock) After(d time.Duration) <-chan time.Time { ch := make(chan time.Time, 1); ch <- c.now.Add(d); return ch }
func (c *mockClock) Since(t time.Time) time.Duration        { return c.now.Sub(t) }

func newTestEngine() *Engine {
	return New(DefaultConfig(), nil, nil, &mockClock{now: time.Now()}, nil)
}

// testCatalog declares one critical and one non-critical service so
// severity-by-criticality can be asserted against a real catalog lookup.
func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	services := []catalog.ServiceDefinition{
		{ServiceID: "kaspa-node", OwningProfileID: "kaspa-node", Critical: true, Tier: 1},
		{ServiceID: "kaspa-explorer", OwningProfileID: "kaspa-explorer-bundle", Critical: false, Tier: 2},
	}
	profiles := []catalog.Profile{
		{ProfileID: "kaspa-node", Services: []catalog.ServiceID{"kaspa-node"}, StartupOrder: 1},
		{ProfileID: "kaspa-explorer-bundle", Services: []catalog.ServiceID{"kaspa-explorer"}, StartupOrder: 2},
	}
	cat, err := catalog.Load(profiles, services, nil)
	require.NoError(t, err)
	return cat
}

func TestServiceFailureAndRecovery(t *testing.T) {
	e := newTestEngine()

	e.EvaluateService(monitor.Observation{ServiceID: catalog.ServiceID("kaspa-node"), Health: monitor.HealthUnhealthy})
	active := e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, KindServiceFailure, active[0].Kind)

	e.EvaluateService(monitor.Observation{ServiceID: catalog.ServiceID("kaspa-node"), Health: monitor.HealthHealthy})
	assert.Empty(t, e.Active())

	history := e.History()
	require.Len(t, history, 2)
	assert.Equal(t, KindServiceRecovery, history[1].Kind)
}

func TestServiceFailureSeverityByCriticality(t *testing.T) {
	cat := testCatalog(t)
	e := New(DefaultConfig(), cat, nil, &mockClock{now: time.Now()}, nil)

	e.EvaluateService(monitor.Observation{ServiceID: catalog.ServiceID("kaspa-node"), Health: monitor.HealthUnhealthy})
	active := e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, SeverityCritical, active[0].Severity, "catalog-critical service must raise Critical")
	e.EvaluateService(monitor.Observation{ServiceID: catalog.ServiceID("kaspa-node"), Health: monitor.HealthHealthy})

	e.EvaluateService(monitor.Observation{ServiceID: catalog.ServiceID("kaspa-explorer"), Health: monitor.HealthUnhealthy})
	active = e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, SeverityWarning, active[0].Severity, "non-critical service must raise Warning, not Critical")
}

func TestSyncLossIsCriticalAndRecoveryIsInfo(t *testing.T) {
	e := newTestEngine()

	e.evaluateSync(events.Event{Type: events.SyncProgress, Payload: nodesync.Status{IsSynced: false, NetworkName: "mainnet"}})
	active := e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, KindSyncLost, active[0].Kind)
	assert.Equal(t, SeverityCritical, active[0].Severity, "loss of chain sync must raise Critical")

	e.evaluateSync(events.Event{Type: events.SyncCaughtUp, Payload: nodesync.Status{IsSynced: true, NetworkName: "mainnet"}})
	assert.Empty(t, e.Active())

	history := e.History()
	require.Len(t, history, 2)
	assert.Equal(t, KindSyncRecovered, history[1].Kind)
	assert.Equal(t, SeverityInfo, history[1].Severity)
}

func TestResourceThresholdCrossing(t *testing.T) {
	e := newTestEngine()

	e.EvaluateResources(resources.Sample{CPUPct: 50})
	assert.Empty(t, e.Active())

	e.EvaluateResources(resources.Sample{CPUPct: 85})
	active := e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, SeverityWarning, active[0].Severity)

	e.EvaluateResources(resources.Sample{CPUPct: 95})
	active = e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, SeverityCritical, active[0].Severity, "escalation to critical should update severity")

	e.EvaluateResources(resources.Sample{CPUPct: 10})
	assert.Empty(t, e.Active(), "dropping back below warn should clear the alert")
}

func TestDuplicateEvaluationDoesNotDuplicateHistory(t *testing.T) {
	e := newTestEngine()

	e.EvaluateResources(resources.Sample{DiskPct: 96})
	e.EvaluateResources(resources.Sample{DiskPct: 97})
	e.EvaluateResources(resources.Sample{DiskPct: 98})

	assert.Len(t, e.Active(), 1)
	assert.Len(t, e.History(), 1)
}

func TestAcknowledge(t *testing.T) {
	e := newTestEngine()
	e.EvaluateResources(resources.Sample{MemPct: 99})
	active := e.Active()
	require.Len(t, active, 1)

	assert.True(t, e.Acknowledge(active[0].ID))
	assert.True(t, e.Active()[0].Acknowledged)
	assert.False(t, e.Acknowledge("unknown-id"))
}
