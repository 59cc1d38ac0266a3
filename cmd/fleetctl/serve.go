package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/fleetctl/fleetctl/internal/alerts"
	"github.com/fleetctl/fleetctl/internal/auth"
	"github.com/fleetctl/fleetctl/internal/backup"
	"github.com/fleetctl/fleetctl/internal/broadcast"
	"github.com/fleetctl/fleetctl/internal/catalog"
	"github.com/fleetctl/fleetctl/internal/clock"
	"github.com/fleetctl/fleetctl/internal/config"
	"github.com/fleetctl/fleetctl/internal/configstore"
	"github.com/fleetctl/fleetctl/internal/containers"
	"github.com/fleetctl/fleetctl/internal/events"
	"github.com/fleetctl/fleetctl/internal/logging"
	"github.com/fleetctl/fleetctl/internal/metrics"
	"github.com/fleetctl/fleetctl/internal/monitor"
	"github.com/fleetctl/fleetctl/internal/nodesync"
	"github.com/fleetctl/fleetctl/internal/resources"
	"github.com/fleetctl/fleetctl/internal/tasks"
	"github.com/fleetctl/fleetctl/internal/tokens"
	"github.com/fleetctl/fleetctl/internal/update"
	"github.com/fleetctl/fleetctl/internal/updatequeue"
	"github.com/fleetctl/fleetctl/internal/validate"
	"github.com/fleetctl/fleetctl/internal/web"
)

// newServeCmd builds the long-running server command: it wires every CORE
// subsystem and runs the dashboard and wizard HTTP controllers until
// terminated. This is the process fleetctl's own client subcommands
// (start/stop/status/logs/reconfigure/restart) talk to over HTTP.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard and wizard controllers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := logging.New(cfg.LogJSON)
	clk := clock.Real{}

	cat, err := catalog.Default()
	if err != nil {
		return err
	}
	distinct := make(map[catalog.ServiceID]bool)
	for _, p := range cat.ListProfiles() {
		for _, sid := range p.Services {
			distinct[sid] = true
		}
	}
	metrics.ServicesTotal.Set(float64(len(distinct)))

	docker, err := containers.NewDockerClient(cfg.DockerSock)
	if err != nil {
		return err
	}
	defer docker.Close()
	adapter := containers.New(docker)

	bus := events.New()

	mon := monitor.New(cat, adapter, bus, clk, log.Named("monitor"))
	sampler := resources.New("/", 5*time.Second, clk, bus)
	sync := nodesync.New(cfg.KaspaNodeRPCURL(), "getBlockDagInfo", clk, bus)
	supervisor := tasks.New(clk, bus)
	tokenStore := tokens.New(clk)
	alertCfg := alerts.DefaultConfig()
	alertEngine := alerts.New(alertCfg, cat, bus, clk, log.Named("alerts"))

	compose, err := configstore.ReadComposeFile(cfg.ComposeFilePath())
	if err != nil {
		return err
	}

	artifacts := []backup.Artifact{
		{LogicalName: "env", Path: cfg.EnvFilePath(), Required: true},
		{LogicalName: "compose", Path: cfg.ComposeFilePath(), Required: true},
		{LogicalName: "compose-override", Path: cfg.ComposeOverridePath(), Required: false},
		{LogicalName: "install-state", Path: cfg.InstallStatePath(), Required: false},
	}
	backups := backup.New(cfg.BackupsDir(), artifacts, clk)

	updatePipeline := update.New(cat, adapter, mon, backups, compose, bus)
	maintenanceWindow, err := cfg.ParsedMaintenanceWindow()
	if err != nil {
		return err
	}
	updatePipeline.WithMaintenanceWindow(maintenanceWindow)
	broadcaster := broadcast.New(cat, mon, sampler, bus, clk, log.Named("broadcast"))

	queueStore, err := updatequeue.OpenStore(cfg.UpdateQueueDBPath())
	if err != nil {
		return err
	}
	defer queueStore.Close()
	updateQueue, err := updatequeue.NewFromStore(queueStore)
	if err != nil {
		return err
	}

	operatorGate, err := auth.LoadGate(cfg.OperatorPasswordHashPath())
	if err != nil {
		return err
	}

	hostSnapshot := func(ctx context.Context) validate.HostConstraints {
		sample, err := sampler.Read(ctx)
		if err != nil {
			return validate.HostConstraints{}
		}
		return validate.HostConstraints{
			AvailableRAMgb:  (100 - sample.MemPct) / 100 * hostTotalRAMGbEstimate,
			AvailableDiskGb: (100 - sample.DiskPct) / 100 * hostTotalDiskGbEstimate,
		}
	}

	deps := web.Dependencies{
		Catalog:      cat,
		Containers:   adapter,
		Monitor:      mon,
		Sync:         sync,
		Tasks:        supervisor,
		Backups:      backups,
		Update:       updatePipeline,
		Tokens:       tokenStore,
		Bus:          bus,
		Broadcaster:  broadcaster,
		Alerts:       alertEngine,
		Resources:    sampler,
		UpdateQueue:  updateQueue,
		Config:       cfg,
		Log:          log,
		Auth:         operatorGate,
		HostSnapshot: hostSnapshot,
	}

	dashboard := web.NewServer(deps)
	wizard := web.NewWizardServer(deps)

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		if err := mon.Run(ctx); err != nil {
			log.Error("service monitor exited with error", "error", err)
		}
	}()
	go sampler.Run(ctx, nil)
	go broadcaster.Run(stop)
	go alertEngine.Run(stop)
	go tokenStore.Run(stop, time.Minute)

	resumeBackgroundTasks(cfg, sync, supervisor, clk, log)
	go persistBackgroundTasks(ctx, cfg, supervisor, bus, log)
	go superviseInitialSync(ctx, cat, sync, supervisor, clk, log)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@hourly", func() {
		if removed := supervisor.Cleanup(clk.Now().Add(-24 * time.Hour)); removed > 0 {
			log.Info("garbage-collected terminal tasks", "count", removed)
		}
	}); err != nil {
		return err
	}
	if _, err := scheduler.AddFunc("@daily", func() {
		removed, err := backups.Retention(cfg.BackupRetentionCount)
		if err != nil {
			log.Error("backup retention sweep failed", "error", err)
			return
		}
		if removed > 0 {
			log.Info("backup retention sweep removed old snapshots", "count", removed)
		}
	}); err != nil {
		return err
	}
	if cfg.MetricsTextfilePath != "" {
		if _, err := scheduler.AddFunc("@every 1m", func() {
			if err := metrics.WriteTextfile(cfg.MetricsTextfilePath); err != nil {
				log.Warn("metrics textfile write failed", "error", err)
			}
		}); err != nil {
			return err
		}
	}
	if cfg.AutoApplyUpdates {
		if _, err := scheduler.AddFunc("@hourly", func() {
			autoApplyQueuedUpdates(ctx, updateQueue, updatePipeline, log)
		}); err != nil {
			return err
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	errCh := make(chan error, 2)
	go func() {
		addr := net.JoinHostPort(cfg.DashboardHost, cfg.DashboardPort)
		if err := dashboard.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		addr := net.JoinHostPort(cfg.WizardHost, cfg.WizardPort)
		if err := wizard.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error("controller exited with error", "error", err)
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = dashboard.Shutdown(shutCtx)
	_ = wizard.Shutdown(shutCtx)
	return nil
}

// resumeBackgroundTasks re-registers non-terminal node-sync tasks recorded
// in the persisted wizard state, so a controller restart mid-sync picks the
// monitoring back up instead of orphaning the operation. Terminal records
// stay in the document untouched as read-only history.
func resumeBackgroundTasks(cfg *config.Config, sync *nodesync.Manager, supervisor *tasks.Supervisor, clk clock.Clock, log *logging.Logger) {
	state, err := configstore.ReadWizardState(cfg.WizardStatePath())
	if err != nil {
		log.Warn("read wizard state failed, background tasks not resumed", "error", err)
		return
	}
	resumed := 0
	for _, rec := range state.BackgroundTasks {
		if tasks.Status(rec.Status).Terminal() || rec.Kind != tasks.KindNodeSync {
			continue
		}
		spec := tasks.NodeSyncSpec(rec.ServiceID, sync, clk, true, nil)
		id := supervisor.Register(spec)
		supervisor.Start(id)
		resumed++
	}
	if resumed > 0 {
		log.Info("resumed background sync tasks from wizard state", "count", resumed)
	}
}

// persistBackgroundTasks mirrors every task-state transition into the
// wizard-state document, keeping the on-disk background-tasks list current
// for the next restart's resumeBackgroundTasks pass.
func persistBackgroundTasks(ctx context.Context, cfg *config.Config, supervisor *tasks.Supervisor, bus *events.Bus, log *logging.Logger) {
	ch, cancel := bus.Subscribe()
	defer cancel()
	path := cfg.WizardStatePath()
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if evt.Type != events.TaskStateChanged {
				continue
			}
			state, err := configstore.ReadWizardState(path)
			if err != nil {
				log.Warn("read wizard state for task persistence failed", "error", err)
				continue
			}
			live := supervisor.List(tasks.Filter{})
			liveIDs := make(map[string]bool, len(live))
			for _, t := range live {
				liveIDs[t.ID] = true
			}
			// Terminal records the supervisor no longer holds stay as history.
			kept := state.BackgroundTasks[:0]
			for _, rec := range state.BackgroundTasks {
				if tasks.Status(rec.Status).Terminal() && !liveIDs[rec.ID] {
					kept = append(kept, rec)
				}
			}
			state.BackgroundTasks = kept
			for _, t := range live {
				state.BackgroundTasks = append(state.BackgroundTasks, configstore.BackgroundTaskRecord{
					ID:        t.ID,
					Kind:      t.Kind,
					ServiceID: t.ServiceID,
					Status:    string(t.Status),
					Progress:  t.Progress,
					UpdatedAt: t.UpdatedAt,
				})
			}
			if err := configstore.WriteWizardState(path, state); err != nil {
				log.Warn("persist wizard state failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// superviseInitialSync probes the configured node's sync status once at
// startup and, if it comes back syncing with a Background-recommended
// strategy, registers a NodeSyncSpec task for every node-category service so
// the dashboard's task list surfaces sync progress instead of leaving the
// service blocked on it.
func superviseInitialSync(ctx context.Context, cat *catalog.Catalog, sync *nodesync.Manager, supervisor *tasks.Supervisor, clk clock.Clock, log *logging.Logger) {
	status, err := sync.Probe(ctx)
	if err != nil {
		log.Error("initial sync probe failed", "error", err)
		return
	}
	if status.IsSynced {
		return
	}
	if nodesync.RecommendStrategy(status.ETASec) != nodesync.StrategyBackground {
		return
	}
	for _, p := range cat.ListProfiles() {
		if p.Category != catalog.CategoryNode {
			continue
		}
		for _, sid := range p.Services {
			spec := tasks.NodeSyncSpec(string(sid), sync, clk, true, nil)
			id := supervisor.Register(spec)
			supervisor.Start(id)
		}
	}
}

// autoApplyQueuedUpdates drives every registry-detected pending update
// through the pipeline with Flags.Automatic set, so the maintenance-window
// gate in internal/update applies; AUTO_APPLY_UPDATES opts a deployment
// into this instead of requiring an operator to click apply on the
// dashboard for every webhook-detected image push.
func autoApplyQueuedUpdates(ctx context.Context, queue *updatequeue.Queue, pipeline *update.Pipeline, log *logging.Logger) {
	pending := queue.List()
	if len(pending) == 0 {
		return
	}
	targets := make([]update.Target, len(pending))
	for i, p := range pending {
		targets[i] = update.Target{ServiceID: p.ServiceID, TargetVersion: p.TargetVersion}
	}
	results, err := pipeline.Run(ctx, targets, update.Flags{CreateBackup: true, Automatic: true})
	if err != nil {
		log.Warn("automatic update sweep deferred or failed", "error", err)
		return
	}
	for _, r := range results {
		if r.Status == "Done" {
			queue.Remove(r.ServiceID)
		}
	}
}

// hostTotalRAMGbEstimate and hostTotalDiskGbEstimate scale gopsutil's
// used-percentage samples into the absolute gigabyte figures
// DependencyValidator's HostConstraints wants. These stand in for a real
// capacity probe (gopsutil reports percentages, not fixed totals without a
// second syscall per host) until a deployment supplies its own override.
const (
	hostTotalRAMGbEstimate  = 16.0
	hostTotalDiskGbEstimate = 500.0
)
