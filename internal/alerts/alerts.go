// Package alerts turns configurable resource thresholds plus
// service-health transitions into deduplicated, acknowledgeable alerts with
// bounded history. Raised and resolved alerts publish onto the shared event
// bus; clients observe them through the "alerts" WebSocket subscription
// rather than a side-channel notifier chain.
package alerts

import (
	"sync"
	"time"

	"github.com/fleetctl/fleetctl/internal/catalog"
	"github.com/fleetctl/fleetctl/internal/clock"
	"github.com/fleetctl/fleetctl/internal/events"
	"github.com/fleetctl/fleetctl/internal/logging"
	"github.com/fleetctl/fleetctl/internal/metrics"
	"github.com/fleetctl/fleetctl/internal/monitor"
	"github.com/fleetctl/fleetctl/internal/nodesync"
	"github.com/fleetctl/fleetctl/internal/resources"
)

// Kind identifies what triggered an alert.
type Kind string

const (
	KindServiceFailure     Kind = "ServiceFailure"
	KindServiceRecovery    Kind = "ServiceRecovery"
	KindResourceThreshold  Kind = "ResourceThreshold"
	KindResourceRecovery   Kind = "ResourceRecovery"
	KindSyncLost           Kind = "SyncLost"
	KindSyncRecovered      Kind = "SyncRecovered"
)

// Severity ranks an alert's urgency.
type Severity string

const (
	SeverityWarning  Severity = "Warning"
	SeverityCritical Severity = "Critical"
	SeverityInfo     Severity = "Info"
)

// Resource identifies which sampled metric a ResourceThreshold alert concerns.
type Resource string

const (
	ResourceCPU     Resource = "cpu"
	ResourceMemory  Resource = "memory"
	ResourceDisk    Resource = "disk"
	ResourceLoadAvg Resource = "loadAvg"
)

// Thresholds are the warn/critical boundaries for one resource. LoadAvg
// only has a critical level.
type Thresholds struct {
	Warn, Crit float64
}

// Config holds the engine's configurable thresholds.
type Config struct {
	CPU     Thresholds
	Memory  Thresholds
	Disk    Thresholds
	LoadAvg Thresholds // Warn unused
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		CPU:     Thresholds{Warn: 80, Crit: 90},
		Memory:  Thresholds{Warn: 85, Crit: 90},
		Disk:    Thresholds{Warn: 85, Crit: 95},
		LoadAvg: Thresholds{Crit: 10},
	}
}

// Alert is a single raised condition.
type Alert struct {
	ID           string
	Kind         Kind
	Severity     Severity
	SubjectKey   string // e.g. serviceId, or resource name
	Message      string
	RaisedAt     time.Time
	ResolvedAt   *time.Time
	Acknowledged bool
}

const maxHistory = 500

// Engine evaluates incoming service and resource events against Config and
// maintains active/historical alerts, publishing transitions onto the bus.
type Engine struct {
	cfg Config
	cat *catalog.Catalog
	clk clock.Clock
	bus *events.Bus
	log *logging.Logger

	mu       sync.Mutex
	active   map[string]*Alert // keyed by kind+subjectKey
	history  []Alert
	resState map[Resource]bool // true = currently above warn/crit
	svcState map[catalog.ServiceID]bool
	syncDown bool
}

// New builds an Engine with the given config, publishing raised/resolved
// alerts onto bus. cat is consulted to decide ServiceFailure severity
// (Critical for a service the catalog marks Critical, Warning otherwise).
func New(cfg Config, cat *catalog.Catalog, bus *events.Bus, clk clock.Clock, log *logging.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		cat:      cat,
		clk:      clk,
		bus:      bus,
		log:      log,
		active:   make(map[string]*Alert),
		resState: make(map[Resource]bool),
		svcState: make(map[catalog.ServiceID]bool),
	}
}

// Run consumes bus events until stop is closed, evaluating service-health
// transitions as they arrive.
func (e *Engine) Run(stop <-chan struct{}) {
	ch, cancel := e.bus.Subscribe()
	defer cancel()
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if evt.Type == events.ServiceStateChanged {
				if obs, ok := evt.Payload.(monitor.Observation); ok {
					e.EvaluateService(obs)
				}
			}
			if evt.Type == events.SyncProgress || evt.Type == events.SyncCaughtUp {
				e.evaluateSync(evt)
			}
			if evt.Type == events.ResourceSample {
				if sample, ok := evt.Payload.(resources.Sample); ok {
					e.EvaluateResources(sample)
				}
			}
		case <-stop:
			return
		}
	}
}

// EvaluateService raises ServiceFailure/clears it as ServiceRecovery based
// on health transitions.
func (e *Engine) EvaluateService(obs monitor.Observation) {
	failing := obs.Health == monitor.HealthUnhealthy

	e.mu.Lock()
	was := e.svcState[obs.ServiceID]
	e.svcState[obs.ServiceID] = failing
	e.mu.Unlock()

	key := "service:" + string(obs.ServiceID)
	switch {
	case failing && !was:
		e.raise(key, KindServiceFailure, e.serviceFailureSeverity(obs.ServiceID), string(obs.ServiceID), "service "+string(obs.ServiceID)+" became unhealthy")
	case !failing && was:
		e.resolve(key, KindServiceRecovery, string(obs.ServiceID), "service "+string(obs.ServiceID)+" recovered")
	}
}

// serviceFailureSeverity looks up the catalog's Critical flag for a
// service: Critical severity if the service is marked critical, else
// Warning. A nil catalog or unknown service degrades to Warning.
func (e *Engine) serviceFailureSeverity(id catalog.ServiceID) Severity {
	if e.cat == nil {
		return SeverityWarning
	}
	def, ok := e.cat.GetService(id)
	if !ok || !def.Critical {
		return SeverityWarning
	}
	return SeverityCritical
}

func (e *Engine) evaluateSync(evt events.Event) {
	status, ok := evt.Payload.(nodesync.Status)
	if !ok {
		return
	}
	lost := !status.IsSynced

	e.mu.Lock()
	was := e.syncDown
	e.syncDown = lost
	e.mu.Unlock()

	switch {
	case lost && !was:
		e.raise("sync", KindSyncLost, SeverityCritical, status.NetworkName, "chain sync lost for "+status.NetworkName)
	case !lost && was:
		e.resolve("sync", KindSyncRecovered, status.NetworkName, "chain sync recovered for "+status.NetworkName)
	}
}

// EvaluateResources checks one resource sample against configured
// thresholds, raising/clearing ResourceThreshold alerts per metric.
func (e *Engine) EvaluateResources(sample resources.Sample) {
	e.check(ResourceCPU, sample.CPUPct, e.cfg.CPU)
	e.check(ResourceMemory, sample.MemPct, e.cfg.Memory)
	e.check(ResourceDisk, sample.DiskPct, e.cfg.Disk)
	e.check(ResourceLoadAvg, sample.Load1, e.cfg.LoadAvg)
}

func (e *Engine) check(res Resource, value float64, t Thresholds) {
	severity := SeverityInfo
	above := false
	switch {
	case t.Crit > 0 && value >= t.Crit:
		severity, above = SeverityCritical, true
	case t.Warn > 0 && value >= t.Warn:
		severity, above = SeverityWarning, true
	}

	key := "resource:" + string(res)

	e.mu.Lock()
	was := e.resState[res]
	e.resState[res] = above
	e.mu.Unlock()

	switch {
	case above && !was:
		e.raise(key, KindResourceThreshold, severity, string(res), string(res)+" crossed threshold")
	case above && was:
		// severity may have escalated warn->crit; re-raise with new severity
		e.mu.Lock()
		existing, ok := e.active[key]
		e.mu.Unlock()
		if ok && existing.Severity != severity {
			e.raise(key, KindResourceThreshold, severity, string(res), string(res)+" threshold severity changed")
		}
	case !above && was:
		e.resolve(key, KindResourceRecovery, string(res), string(res)+" back within thresholds")
	}
}

func (e *Engine) raise(key string, kind Kind, sev Severity, subject, message string) {
	alert := &Alert{
		ID:         key + ":" + e.clk.Now().Format(time.RFC3339Nano),
		Kind:       kind,
		Severity:   sev,
		SubjectKey: subject,
		Message:    message,
		RaisedAt:   e.clk.Now(),
	}

	e.mu.Lock()
	e.active[key] = alert
	e.appendHistory(*alert)
	activeCount := len(e.active)
	e.mu.Unlock()

	metrics.AlertsRaisedTotal.WithLabelValues(string(kind)).Inc()
	metrics.AlertsActive.Set(float64(activeCount))
	e.publish(events.AlertRaised, *alert)
}

func (e *Engine) resolve(key string, kind Kind, subject, message string) {
	e.mu.Lock()
	existing, ok := e.active[key]
	if ok {
		delete(e.active, key)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	now := e.clk.Now()
	resolved := Alert{
		ID:         existing.ID,
		Kind:       kind,
		Severity:   SeverityInfo,
		SubjectKey: subject,
		Message:    message,
		RaisedAt:   existing.RaisedAt,
		ResolvedAt: &now,
	}

	e.mu.Lock()
	e.appendHistory(resolved)
	activeCount := len(e.active)
	e.mu.Unlock()

	metrics.AlertsActive.Set(float64(activeCount))
	e.publish(events.AlertResolved, resolved)
}

// appendHistory must be called with e.mu held.
func (e *Engine) appendHistory(a Alert) {
	e.history = append(e.history, a)
	if len(e.history) > maxHistory {
		e.history = e.history[len(e.history)-maxHistory:]
	}
}

func (e *Engine) publish(t events.Name, a Alert) {
	if e.bus != nil {
		e.bus.Publish(events.Event{Type: t, Payload: a, Timestamp: e.clk.Now()})
	}
}

// Active returns all currently-active alerts.
func (e *Engine) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, *a)
	}
	return out
}

// History returns the bounded alert history, oldest first.
func (e *Engine) History() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Alert, len(e.history))
	copy(out, e.history)
	return out
}

// Acknowledge marks an active alert as acknowledged.
func (e *Engine) Acknowledge(alertID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range e.active {
		if a.ID == alertID {
			a.Acknowledged = true
			return true
		}
	}
	return false
}
