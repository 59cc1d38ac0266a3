package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ServicesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleetctl_services_total",
		Help: "Total number of services declared in the catalog.",
	})
	ServicesHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleetctl_services_healthy",
		Help: "Per-service health, 1 when Healthy, 0 otherwise.",
	}, []string{"service_id"})
	MonitorCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetctl_monitor_cycle_duration_seconds",
		Help:    "Duration of ServiceMonitor observation cycles.",
		Buckets: prometheus.DefBuckets,
	})
	MonitorCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetctl_monitor_cycles_total",
		Help: "Total number of ServiceMonitor observation cycles run.",
	})

	TasksActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleetctl_tasks_active",
		Help: "Number of non-terminal tasks by kind.",
	}, []string{"kind"})
	TasksCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetctl_tasks_completed_total",
		Help: "Total number of tasks reaching a terminal state, by kind and outcome.",
	}, []string{"kind", "status"})

	UpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetctl_updates_total",
		Help: "Total number of service update attempts by outcome.",
	}, []string{"status"})
	UpdateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetctl_update_duration_seconds",
		Help:    "Duration of UpdatePipeline runs.",
		Buckets: prometheus.DefBuckets,
	})

	AlertsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleetctl_alerts_active",
		Help: "Number of currently active alerts.",
	})
	AlertsRaisedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetctl_alerts_raised_total",
		Help: "Total number of alerts raised, by kind.",
	}, []string{"kind"})

	SyncProgressPct = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleetctl_sync_progress_pct",
		Help: "Chain sync progress percentage of the default node.",
	})
	RPCErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetctl_rpc_errors_total",
		Help: "Total number of node RPC errors by kind.",
	}, []string{"kind"})

	BackupsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetctl_backups_total",
		Help: "Total number of configuration snapshots created.",
	})
	RestoresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetctl_restores_total",
		Help: "Total number of snapshot restores by outcome.",
	}, []string{"status"})

	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleetctl_websocket_clients",
		Help: "Number of connected broadcaster WebSocket clients.",
	})
)
