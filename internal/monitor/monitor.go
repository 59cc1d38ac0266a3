// Package monitor implements the service monitor: the periodic
// health-observation cycle and the dependency-aware start/stop/restart
// operations built on top of the container adapter and the declared
// dependency graph.
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fleetctl/fleetctl/internal/catalog"
	"github.com/fleetctl/fleetctl/internal/clock"
	"github.com/fleetctl/fleetctl/internal/containers"
	"github.com/fleetctl/fleetctl/internal/depgraph"
	"github.com/fleetctl/fleetctl/internal/events"
	"github.com/fleetctl/fleetctl/internal/ferrors"
	"github.com/fleetctl/fleetctl/internal/logging"
	"github.com/fleetctl/fleetctl/internal/metrics"
)

// Health is the classified health state of a service.
type Health string

const (
	HealthHealthy   Health = "Healthy"
	HealthUnhealthy Health = "Unhealthy"
	HealthUnknown   Health = "Unknown"
)

// Observation is a single service's state at one monitoring cycle.
type Observation struct {
	ServiceID catalog.ServiceID
	State     string // runtime container state: running, exited, ...
	Health    Health
	StartedAt time.Time
}

const (
	defaultCheckInterval  = 5 * time.Second
	defaultProbeTimeout   = 5 * time.Second
	defaultRetryAttempts  = 3
	defaultStartupDeadline = 120 * time.Second
)

// Monitor runs the periodic observation cycle and exposes dependency-aware
// lifecycle operations over a catalog-described fleet.
type Monitor struct {
	cat      *catalog.Catalog
	adapter  *containers.Adapter
	bus      *events.Bus
	clk      clock.Clock
	log      *logging.Logger
	client   *http.Client

	checkInterval   time.Duration
	probeTimeout    time.Duration
	retryAttempts   int
	startupDeadline time.Duration

	mu            sync.Mutex
	observations  map[catalog.ServiceID]Observation
	consecutiveFails map[catalog.ServiceID]int
}

// New builds a Monitor with default intervals; override the fields before
// calling Run.
func New(cat *catalog.Catalog, adapter *containers.Adapter, bus *events.Bus, clk clock.Clock, log *logging.Logger) *Monitor {
	return &Monitor{
		cat:              cat,
		adapter:          adapter,
		bus:              bus,
		clk:              clk,
		log:              log,
		client:           &http.Client{},
		checkInterval:    defaultCheckInterval,
		probeTimeout:     defaultProbeTimeout,
		retryAttempts:    defaultRetryAttempts,
		startupDeadline:  defaultStartupDeadline,
		observations:     make(map[catalog.ServiceID]Observation),
		consecutiveFails: make(map[catalog.ServiceID]int),
	}
}

// Run executes one observation cycle every checkInterval until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.cycle(ctx)
	for {
		select {
		case <-m.clk.After(m.checkInterval):
			m.cycle(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *Monitor) cycle(ctx context.Context) {
	cycleStart := m.clk.Now()
	defer func() {
		metrics.MonitorCyclesTotal.Inc()
		metrics.MonitorCycleDuration.Observe(m.clk.Now().Sub(cycleStart).Seconds())
	}()

	running, err := m.adapter.ListRunning(ctx, m.cat)
	if err != nil {
		m.log.Warn("observation cycle: list containers failed", "error", err)
		return
	}
	byService := make(map[catalog.ServiceID]containers.RunningService, len(running))
	for _, r := range running {
		if r.ServiceID != "" {
			byService[r.ServiceID] = r
		}
	}

	for _, svc := range allServices(m.cat) {
		running, ok := byService[svc.ServiceID]
		state := "absent"
		var startedAt time.Time
		if ok {
			state = running.State
			startedAt = running.StartedAt
		}

		health := m.probe(ctx, svc, state)
		obs := Observation{
			ServiceID: svc.ServiceID,
			State:     state,
			Health:    health,
			StartedAt: startedAt,
		}
		prev, current := m.recordObservation(svc.ServiceID, obs)

		healthy := 0.0
		if current.Health == HealthHealthy {
			healthy = 1
		}
		metrics.ServicesHealthy.WithLabelValues(string(svc.ServiceID)).Set(healthy)

		if prev == nil || prev.Health != current.Health {
			m.bus.Publish(events.Event{
				Type:      events.ServiceStateChanged,
				ServiceID: string(svc.ServiceID),
				Payload:   current,
				Timestamp: m.clk.Now(),
			})
		}
	}
}

// recordObservation applies the retry-before-transition rule: a service
// must fail retryAttempts consecutive cycles before flipping from Healthy
// to Unhealthy; recovery is immediate on first success. It returns the
// previous observation (nil if none) and the observation as recorded, which
// may still read Healthy inside the retry window.
func (m *Monitor) recordObservation(id catalog.ServiceID, obs Observation) (*Observation, Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prevObs, had := m.observations[id]
	var prevPtr *Observation
	if had {
		cp := prevObs
		prevPtr = &cp
	}

	if obs.Health == HealthHealthy {
		m.consecutiveFails[id] = 0
		m.observations[id] = obs
		return prevPtr, obs
	}

	if !had || prevObs.Health != HealthHealthy {
		m.observations[id] = obs
		return prevPtr, obs
	}

	m.consecutiveFails[id]++
	if m.consecutiveFails[id] < m.retryAttempts {
		// Not enough consecutive failures yet; report as still healthy.
		obs.Health = HealthHealthy
		m.observations[id] = obs
		return prevPtr, obs
	}
	m.observations[id] = obs
	return prevPtr, obs
}

// Observe returns the last-known observation for a service.
func (m *Monitor) Observe(id catalog.ServiceID) (Observation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.observations[id]
	return o, ok
}

// AllObservations returns a snapshot of every service's last-known
// observation, used by Broadcaster to build initial_data snapshots.
func (m *Monitor) AllObservations() map[catalog.ServiceID]Observation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[catalog.ServiceID]Observation, len(m.observations))
	for k, v := range m.observations {
		out[k] = v
	}
	return out
}

func allServices(cat *catalog.Catalog) []catalog.ServiceDefinition {
	var out []catalog.ServiceDefinition
	for _, p := range cat.ListProfiles() {
		for _, sid := range p.Services {
			if s, ok := cat.GetService(sid); ok {
				out = append(out, s)
			}
		}
	}
	return dedupServices(out)
}

func dedupServices(in []catalog.ServiceDefinition) []catalog.ServiceDefinition {
	seen := make(map[catalog.ServiceID]bool, len(in))
	out := make([]catalog.ServiceDefinition, 0, len(in))
	for _, s := range in {
		if seen[s.ServiceID] {
			continue
		}
		seen[s.ServiceID] = true
		out = append(out, s)
	}
	return out
}

// probe executes the declared health check with a bounded timeout. Absent
// probes fall back to runtime state.
func (m *Monitor) probe(ctx context.Context, svc catalog.ServiceDefinition, runtimeState string) Health {
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	switch svc.HealthProbe.Kind {
	case catalog.ProbeHTTP:
		return m.probeHTTP(ctx, svc)
	case catalog.ProbeJSONRPC:
		return m.probeJSONRPC(ctx, svc)
	case catalog.ProbeTCP:
		return m.probeTCP(ctx, svc)
	default:
		if runtimeState == "running" {
			return HealthHealthy
		}
		if runtimeState == "absent" {
			return HealthUnknown
		}
		return HealthUnhealthy
	}
}

func (m *Monitor) probeHTTP(ctx context.Context, svc catalog.ServiceDefinition) Health {
	url := fmt.Sprintf("http://localhost:%d%s", svc.HealthProbe.Port, svc.HealthProbe.Path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return HealthUnhealthy
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return HealthUnhealthy
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return HealthHealthy
	}
	return HealthUnhealthy
}

func (m *Monitor) probeJSONRPC(ctx context.Context, svc catalog.ServiceDefinition) Health {
	url := fmt.Sprintf("http://localhost:%d", svc.HealthProbe.Port)
	body := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  svc.HealthProbe.Method,
		"params":  []any{},
	}
	payload, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return HealthUnhealthy
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.client.Do(req)
	if err != nil {
		return HealthUnhealthy
	}
	defer resp.Body.Close()

	var envelope struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return HealthUnhealthy
	}
	if envelope.Error != nil {
		return HealthUnhealthy
	}
	return HealthHealthy
}

func (m *Monitor) probeTCP(ctx context.Context, svc catalog.ServiceDefinition) Health {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("localhost:%d", svc.HealthProbe.Port))
	if err != nil {
		return HealthUnhealthy
	}
	_ = conn.Close()
	return HealthHealthy
}

// PrerequisiteNotReadyError reports that a dependency outside the start set
// is not Healthy.
type PrerequisiteNotReadyError struct {
	Service      catalog.ServiceID
	Prerequisite catalog.ServiceID
}

func (e *PrerequisiteNotReadyError) Error() string {
	return fmt.Sprintf("service %s requires %s to be healthy first", e.Service, e.Prerequisite)
}

// DependentsRunningError reports healthy dependents blocking a stop.
type DependentsRunningError struct {
	Dependents []catalog.ServiceID
}

func (e *DependentsRunningError) Error() string {
	return fmt.Sprintf("%d healthy dependents still running", len(e.Dependents))
}

// Start takes the services of the given profiles as the start set,
// verifies prerequisites outside the set are already Healthy, then starts
// services in topological order, waiting for each to become Healthy before
// proceeding to the next.
func (m *Monitor) Start(ctx context.Context, profileIDs []string) error {
	selected, err := m.servicesForProfiles(profileIDs)
	if err != nil {
		return err
	}
	selectedSet := make(map[catalog.ServiceID]bool, len(selected))
	for _, s := range selected {
		selectedSet[s.ServiceID] = true
	}

	for _, s := range selected {
		for _, dep := range s.DeclaredDependencies {
			if selectedSet[dep] {
				continue
			}
			obs, ok := m.Observe(dep)
			if !ok || obs.Health != HealthHealthy {
				return &PrerequisiteNotReadyError{Service: s.ServiceID, Prerequisite: dep}
			}
		}
	}

	g := depgraph.Build(selected)
	order, err := g.Sort()
	if err != nil {
		return err
	}

	byID := make(map[catalog.ServiceID]catalog.ServiceDefinition, len(selected))
	for _, s := range selected {
		byID[s.ServiceID] = s
	}

	for _, sid := range order {
		svc := byID[sid]
		if err := m.adapter.Up(ctx, []string{svc.ContainerName}); err != nil {
			return err
		}
		if err := m.awaitHealthy(ctx, svc.ServiceID); err != nil {
			return ferrors.New(ferrors.KindPartialStart, fmt.Sprintf("service %s did not become healthy", sid)).WithDetails(order)
		}
	}
	return nil
}

func (m *Monitor) awaitHealthy(ctx context.Context, id catalog.ServiceID) error {
	deadline := m.clk.Now().Add(m.startupDeadline)
	for {
		obs, ok := m.Observe(id)
		if ok && obs.Health == HealthHealthy {
			return nil
		}
		if m.clk.Now().After(deadline) {
			return ferrors.New(ferrors.KindStartupDeadlineExceeded, fmt.Sprintf("service %s startup deadline exceeded", id))
		}
		select {
		case <-m.clk.After(time.Second):
			m.cycle(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop stops the services belonging to profileIDs in reverse topological
// order, refusing if any currently-Healthy dependent outside the set
// depends on a member.
func (m *Monitor) Stop(ctx context.Context, profileIDs []string) error {
	selected, err := m.servicesForProfiles(profileIDs)
	if err != nil {
		return err
	}
	selectedSet := make(map[catalog.ServiceID]bool, len(selected))
	for _, s := range selected {
		selectedSet[s.ServiceID] = true
	}

	full := depgraph.Build(allServices(m.cat))
	var offenders []catalog.ServiceID
	for _, s := range selected {
		for _, dependent := range full.Dependents(s.ServiceID) {
			if selectedSet[dependent] {
				continue
			}
			obs, ok := m.Observe(dependent)
			if ok && obs.Health == HealthHealthy {
				offenders = append(offenders, dependent)
			}
		}
	}
	if len(offenders) > 0 {
		return &DependentsRunningError{Dependents: offenders}
	}

	g := depgraph.Build(selected)
	order, err := g.Sort()
	if err != nil {
		return err
	}
	byID := make(map[catalog.ServiceID]catalog.ServiceDefinition, len(selected))
	for _, s := range selected {
		byID[s.ServiceID] = s
	}
	for i := len(order) - 1; i >= 0; i-- {
		svc := byID[order[i]]
		if err := m.adapter.Down(ctx, []string{svc.ContainerName}, 10); err != nil {
			return err
		}
	}
	return nil
}

// Restart validates the set would be stoppable, then performs stop+start
// on it.
func (m *Monitor) Restart(ctx context.Context, serviceIDs []catalog.ServiceID) error {
	profileIDs := profilesOwning(m.cat, serviceIDs)
	if err := m.Stop(ctx, profileIDs); err != nil {
		return err
	}
	return m.Start(ctx, profileIDs)
}

func profilesOwning(cat *catalog.Catalog, ids []catalog.ServiceID) []string {
	set := make(map[string]bool)
	for _, id := range ids {
		if s, ok := cat.GetService(id); ok {
			set[s.OwningProfileID] = true
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}

func (m *Monitor) servicesForProfiles(profileIDs []string) ([]catalog.ServiceDefinition, error) {
	seen := make(map[catalog.ServiceID]bool)
	var out []catalog.ServiceDefinition
	for _, pid := range profileIDs {
		p, ok := m.cat.GetProfile(pid)
		if !ok {
			continue
		}
		for _, sid := range p.Services {
			if seen[sid] {
				continue
			}
			seen[sid] = true
			if s, ok := m.cat.GetService(sid); ok {
				out = append(out, s)
			}
		}
	}
	return out, nil
}
