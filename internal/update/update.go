// Package update implements the update pipeline: an optional pre-update
// snapshot for the run, then a per-service stop, rewrite-image-tag, start,
// await-health sequence with per-service rollback, run sequentially across a
// multi-service batch.
package update

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fleetctl/fleetctl/internal/backup"
	"github.com/fleetctl/fleetctl/internal/catalog"
	"github.com/fleetctl/fleetctl/internal/clock"
	"github.com/fleetctl/fleetctl/internal/configstore"
	"github.com/fleetctl/fleetctl/internal/events"
	"github.com/fleetctl/fleetctl/internal/ferrors"
	"github.com/fleetctl/fleetctl/internal/metrics"
	"github.com/fleetctl/fleetctl/internal/monitor"
	"github.com/fleetctl/fleetctl/internal/window"
)

const defaultHealthDeadline = 120 * time.Second

// Target is one service's requested version bump.
type Target struct {
	ServiceID     catalog.ServiceID
	TargetVersion string
}

// Flags controls pipeline behavior.
type Flags struct {
	CreateBackup         bool
	BreakingAcknowledged bool
	// Automatic marks a run as registry-triggered rather than
	// operator-initiated; only automatic runs are gated by the pipeline's
	// maintenance window. An operator applying an update by hand always
	// proceeds immediately regardless of the window.
	Automatic bool
}

// ServiceResult records what happened to one service in a run.
type ServiceResult struct {
	ServiceID    catalog.ServiceID
	FromVersion  string
	ToVersion    string
	Status       string // Done, Failed, RolledBack
	Error        string
}

// ContainerAdapter is the subset of containers.Adapter the pipeline drives.
// Implemented by *containers.Adapter in production and by fakes in tests.
type ContainerAdapter interface {
	Up(ctx context.Context, containerIDsInOrder []string) error
	Down(ctx context.Context, containerIDsInOrder []string, timeoutSec int) error
	Restart(ctx context.Context, containerIDs []string) error
}

// HealthObserver is the subset of monitor.Monitor the pipeline polls while
// awaiting post-update health.
type HealthObserver interface {
	Observe(id catalog.ServiceID) (monitor.Observation, bool)
}

// Pipeline executes update and reconfigure operations.
type Pipeline struct {
	cat            *catalog.Catalog
	adapter        ContainerAdapter
	monitor        HealthObserver
	backups        *backup.Manager
	compose        *configstore.ComposeFile
	bus            *events.Bus
	clk            clock.Clock
	healthDeadline time.Duration
	window         *window.Window
}

// WithMaintenanceWindow restricts automatic (registry-triggered) updates to
// the given window; operator-initiated runs are never gated by it. A nil
// window (the default) leaves automatic updates unrestricted.
func (p *Pipeline) WithMaintenanceWindow(w *window.Window) *Pipeline {
	p.window = w
	return p
}

// New builds a Pipeline wired to its collaborators.
func New(cat *catalog.Catalog, adapter ContainerAdapter, mon HealthObserver, backups *backup.Manager, compose *configstore.ComposeFile, bus *events.Bus) *Pipeline {
	return &Pipeline{
		cat: cat, adapter: adapter, monitor: mon, backups: backups, compose: compose, bus: bus,
		clk:            clock.Real{},
		healthDeadline: defaultHealthDeadline,
	}
}

// WithClock overrides the pipeline's clock and health-await deadline, used
// by tests to avoid real wall-clock waits.
func (p *Pipeline) WithClock(clk clock.Clock, healthDeadline time.Duration) *Pipeline {
	p.clk = clk
	p.healthDeadline = healthDeadline
	return p
}

// Run executes targets sequentially: each service is stopped, its image
// tag rewritten, restarted, and health-awaited before the next begins.
func (p *Pipeline) Run(ctx context.Context, targets []Target, flags Flags) ([]ServiceResult, error) {
	if flags.Automatic && !p.window.IsOpen(p.clk.Now()) {
		return nil, ferrors.New(ferrors.KindValidation, "automatic update deferred: outside the configured maintenance window")
	}

	if flags.CreateBackup {
		if _, err := p.backups.Create("pre-update", nil); err != nil {
			return nil, ferrors.Wrap(ferrors.KindSnapshotFailed, "pre-update snapshot", err)
		}
	}

	p.publish(events.UpdateStarted, "", targets)

	runStart := p.clk.Now()
	defer func() {
		metrics.UpdateDuration.Observe(p.clk.Now().Sub(runStart).Seconds())
	}()

	var results []ServiceResult
	for _, t := range targets {
		res := p.updateOne(ctx, t)
		results = append(results, res)
		switch res.Status {
		case "Done":
			metrics.UpdatesTotal.WithLabelValues("success").Inc()
		case "RolledBack":
			metrics.UpdatesTotal.WithLabelValues("rollback").Inc()
		default:
			metrics.UpdatesTotal.WithLabelValues("failed").Inc()
		}
		p.publish(events.UpdateServiceDone, string(t.ServiceID), res)
		if res.Status == "Failed" || res.Status == "RolledBack" {
			p.publish(events.UpdateFailed, string(t.ServiceID), res)
			return results, ferrors.New(ferrors.KindUpdateFailed, fmt.Sprintf("update of %s failed, remaining services aborted", t.ServiceID))
		}
	}

	p.publish(events.UpdateCompleted, "", results)
	return results, nil
}

func (p *Pipeline) updateOne(ctx context.Context, t Target) ServiceResult {
	svc, ok := p.cat.GetService(t.ServiceID)
	if !ok {
		return ServiceResult{ServiceID: t.ServiceID, Status: "Failed", Error: "unknown service"}
	}

	image, _ := p.compose.Image(svc.ContainerName)
	fromVersion := image
	if idx := strings.LastIndex(image, ":"); idx > strings.LastIndex(image, "/") {
		fromVersion = image[idx+1:]
	}

	p.publish(events.UpdateProgress, string(t.ServiceID), "stopping")
	if err := p.adapter.Down(ctx, []string{svc.ContainerName}, 30); err != nil {
		return ServiceResult{ServiceID: t.ServiceID, FromVersion: fromVersion, Status: "Failed", Error: err.Error()}
	}

	p.publish(events.UpdateProgress, string(t.ServiceID), "rewriting image tag")
	if err := p.compose.SetImageTag(svc.ContainerName, t.TargetVersion); err != nil {
		return ServiceResult{ServiceID: t.ServiceID, FromVersion: fromVersion, Status: "Failed", Error: err.Error()}
	}
	if err := p.compose.Write(); err != nil {
		return ServiceResult{ServiceID: t.ServiceID, FromVersion: fromVersion, Status: "Failed", Error: err.Error()}
	}

	p.publish(events.UpdateProgress, string(t.ServiceID), "starting")
	if err := p.adapter.Up(ctx, []string{svc.ContainerName}); err != nil {
		return p.rollback(ctx, svc, fromVersion, t.TargetVersion, err)
	}

	if err := p.awaitHealthyWithin(ctx, t.ServiceID, p.healthDeadline); err != nil {
		return p.rollback(ctx, svc, fromVersion, t.TargetVersion, err)
	}

	return ServiceResult{ServiceID: t.ServiceID, FromVersion: fromVersion, ToVersion: t.TargetVersion, Status: "Done"}
}

// rollback rewrites the image tag to its prior value, restarts, and
// re-awaits health, aborting processing of remaining services regardless
// of whether the rollback itself succeeds.
func (p *Pipeline) rollback(ctx context.Context, svc catalog.ServiceDefinition, priorTag, attemptedTag string, cause error) ServiceResult {
	result := ServiceResult{ServiceID: svc.ServiceID, FromVersion: priorTag, ToVersion: attemptedTag, Status: "Failed", Error: cause.Error()}

	if err := p.compose.SetImageTag(svc.ContainerName, priorTag); err != nil {
		result.Error = fmt.Sprintf("%v; rollback also failed: %v", cause, err)
		return result
	}
	if err := p.compose.Write(); err != nil {
		result.Error = fmt.Sprintf("%v; rollback write failed: %v", cause, err)
		return result
	}
	if err := p.adapter.Restart(ctx, []string{svc.ContainerName}); err != nil {
		result.Error = fmt.Sprintf("%v; rollback restart failed: %v", cause, err)
		return result
	}
	if err := p.awaitHealthyWithin(ctx, svc.ServiceID, p.healthDeadline); err != nil {
		result.Error = fmt.Sprintf("%v; service unhealthy after rollback: %v", cause, err)
		return result
	}
	result.Status = "RolledBack"
	return result
}

func (p *Pipeline) awaitHealthyWithin(ctx context.Context, id catalog.ServiceID, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		obs, ok := p.monitor.Observe(id)
		if ok && obs.Health == monitor.HealthHealthy {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ferrors.New(ferrors.KindStartupDeadlineExceeded, fmt.Sprintf("service %s did not become healthy after update", id))
		}
	}
}

func (p *Pipeline) publish(t events.Name, serviceID string, payload any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.Event{Type: t, ServiceID: serviceID, Payload: payload, Timestamp: time.Now()})
}

// Reconfigure rewrites the environment file with the given key changes and
// restarts every service whose declared config keys intersect the changed
// set, following the same structure as Run but over an env-file rewrite
// instead of an image-tag rewrite.
func (p *Pipeline) Reconfigure(ctx context.Context, env *configstore.EnvFile, envPath string, changes map[string]string, affectedServices []catalog.ServiceDefinition) error {
	for k, v := range changes {
		env.Set(k, v)
	}
	if err := configstore.WriteEnvFile(envPath, env); err != nil {
		return ferrors.Wrap(ferrors.KindInternal, "write environment file", err)
	}

	p.publish(events.ConfigChanged, "", changes)

	names := make([]string, 0, len(affectedServices))
	for _, s := range affectedServices {
		names = append(names, s.ContainerName)
	}
	if err := p.adapter.Restart(ctx, names); err != nil {
		return ferrors.Wrap(ferrors.KindRuntimeUnavailable, "restart affected services", err)
	}
	for _, s := range affectedServices {
		if err := p.awaitHealthyWithin(ctx, s.ServiceID, p.healthDeadline); err != nil {
			return err
		}
	}
	return nil
}
