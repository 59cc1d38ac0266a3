package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsRegistered(t *testing.T) {
	// Initialise vector label combinations so they appear in Gather output.
	UpdatesTotal.WithLabelValues("success")
	RPCErrorsTotal.WithLabelValues("timeout")
	ServicesHealthy.WithLabelValues("kaspa-node")
	TasksActive.WithLabelValues("NodeSync")
	TasksCompletedTotal.WithLabelValues("NodeSync", "Completed")
	RestoresTotal.WithLabelValues("success")
	AlertsRaisedTotal.WithLabelValues("ServiceFailure")

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	expected := map[string]bool{
		"fleetctl_services_total":            false,
		"fleetctl_services_healthy":           false,
		"fleetctl_monitor_cycle_duration_seconds": false,
		"fleetctl_monitor_cycles_total":       false,
		"fleetctl_tasks_active":               false,
		"fleetctl_tasks_completed_total":      false,
		"fleetctl_updates_total":              false,
		"fleetctl_update_duration_seconds":    false,
		"fleetctl_alerts_active":              false,
		"fleetctl_alerts_raised_total":        false,
		"fleetctl_sync_progress_pct":          false,
		"fleetctl_rpc_errors_total":           false,
		"fleetctl_backups_total":              false,
		"fleetctl_restores_total":             false,
		"fleetctl_websocket_clients":          false,
	}

	for _, mf := range mfs {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}

	for name, found := range expected {
		if !found {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestCounterIncrements(t *testing.T) {
	MonitorCyclesTotal.Add(1)
	BackupsTotal.Add(1)
	UpdatesTotal.WithLabelValues("success").Inc()
	UpdatesTotal.WithLabelValues("failed").Inc()
}

func TestGaugeSets(t *testing.T) {
	ServicesTotal.Set(10)
	AlertsActive.Set(2)
	SyncProgressPct.Set(87.5)
	WebsocketClients.Set(3)
}
