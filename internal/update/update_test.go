package update

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetctl/fleetctl/internal/backup"
	"github.com/fleetctl/fleetctl/internal/catalog"
	"github.com/fleetctl/fleetctl/internal/configstore"
	"github.com/fleetctl/fleetctl/internal/monitor"
	"github.com/fleetctl/fleetctl/internal/window"
)

type fakeAdapter struct {
	downErr, upErr, restartErr error
	ups, downs, restarts       [][]string
}

func (f *fakeAdapter) Up(_ context.Context, ids []string) error {
	f.ups = append(f.ups, ids)
	return f.upErr
}
func (f *fakeAdapter) Down(_ context.Context, ids []string, _ int) error {
	f.downs = append(f.downs, ids)
	return f.downErr
}
func (f *fakeAdapter) Restart(_ context.Context, ids []string) error {
	f.restarts = append(f.restarts, ids)
	return f.restartErr
}

type fakeMonitor struct {
	healthy map[catalog.ServiceID]bool
}

func (f *fakeMonitor) Observe(id catalog.ServiceID) (monitor.Observation, bool) {
	if f.healthy[id] {
		return monitor.Observation{ServiceID: id, Health: monitor.HealthHealthy}, true
	}
	return monitor.Observation{}, false
}

type mockClock struct{ now time.Time }

func (c *mockClock) Now() time.Time { return c.now }
func (c *mockClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now.Add(d)
	return ch
}
func (c *mockClock) Since(t time.Time) time.Duration { return c.now.Sub(t) }

func setupPipeline(t *testing.T) (*Pipeline, *fakeAdapter, *fakeMonitor, string) {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)

	dir := t.TempDir()
	composePath := filepath.Join(dir, "compose.yaml")
	require.NoError(t, os.WriteFile(composePath, []byte("services:\n  kaspa-node:\n    image: kaspanet/kaspad:v1.0.0\n"), 0o644))
	compose, err := configstore.ReadComposeFile(composePath)
	require.NoError(t, err)

	clk := &mockClock{now: time.Now()}
	backups := backup.New(filepath.Join(dir, "snapshots"), nil, clk)

	adapter := &fakeAdapter{}
	mon := &fakeMonitor{healthy: make(map[catalog.ServiceID]bool)}

	p := New(cat, adapter, mon, backups, compose, nil).WithClock(clk, 30*time.Millisecond)
	return p, adapter, mon, composePath
}

func TestUpdateSucceeds(t *testing.T) {
	p, adapter, mon, _ := setupPipeline(t)
	mon.healthy["kaspa-node"] = true

	results, err := p.Run(context.Background(), []Target{{ServiceID: "kaspa-node", TargetVersion: "v1.1.0"}}, Flags{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Done", results[0].Status)
	assert.Equal(t, "v1.0.0", results[0].FromVersion)
	assert.Len(t, adapter.downs, 1)
	assert.Len(t, adapter.ups, 1)

	img, _ := p.compose.Image("kaspa-node")
	assert.Equal(t, "kaspanet/kaspad:v1.1.0", img)
}

func TestUpdateRollsBackOnUnhealthy(t *testing.T) {
	p, _, mon, _ := setupPipeline(t)
	mon.healthy["kaspa-node"] = false // never becomes healthy

	_, err := p.Run(context.Background(), []Target{{ServiceID: "kaspa-node", TargetVersion: "v1.1.0"}}, Flags{})
	require.Error(t, err)

	img, _ := p.compose.Image("kaspa-node")
	assert.Equal(t, "kaspanet/kaspad:v1.0.0", img, "image tag should be rolled back")
}

func TestAutomaticUpdateDeferredOutsideWindow(t *testing.T) {
	p, adapter, mon, _ := setupPipeline(t)
	mon.healthy["kaspa-node"] = true
	w, err := window.Parse("02:00-03:00")
	require.NoError(t, err)
	p.WithMaintenanceWindow(w)
	p.clk = &mockClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}

	_, err = p.Run(context.Background(), []Target{{ServiceID: "kaspa-node", TargetVersion: "v1.1.0"}}, Flags{Automatic: true})
	require.Error(t, err)
	assert.Empty(t, adapter.downs, "pipeline should not touch the container outside the window")
}

func TestOperatorUpdateIgnoresWindow(t *testing.T) {
	p, _, mon, _ := setupPipeline(t)
	mon.healthy["kaspa-node"] = true
	w, err := window.Parse("02:00-03:00")
	require.NoError(t, err)
	p.WithMaintenanceWindow(w)
	p.clk = &mockClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}

	results, err := p.Run(context.Background(), []Target{{ServiceID: "kaspa-node", TargetVersion: "v1.1.0"}}, Flags{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Done", results[0].Status)
}
