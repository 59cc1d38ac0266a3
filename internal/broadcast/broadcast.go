// Package broadcast fans services/resources/sync/alerts state out to
// WebSocket clients, subscription by subscription. It subscribes to the
// internal/events bus and applies cadence, change-detection, and dedup
// rules before writing to each connection through its own writer goroutine
// and buffered send channel.
package broadcast

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetctl/fleetctl/internal/catalog"
	"github.com/fleetctl/fleetctl/internal/clock"
	"github.com/fleetctl/fleetctl/internal/events"
	"github.com/fleetctl/fleetctl/internal/logging"
	"github.com/fleetctl/fleetctl/internal/metrics"
	"github.com/fleetctl/fleetctl/internal/monitor"
	"github.com/fleetctl/fleetctl/internal/resources"
)

// Subscription names clients attach to.
const (
	SubServices  = "updates:services"
	SubResources = "updates:resources"
	SubSync      = "sync:*"
	SubAlerts    = "alerts"
	SubTasks     = "tasks"
	SubUpdates   = "updates:pipeline"
)

const (
	servicesCadence       = 5 * time.Second
	resourcesCadence      = 5 * time.Second
	resourcesSlowCadence  = 20 * time.Second
	resourceDeltaPct      = 5.0
)

// Message is the envelope written to every client.
type Message struct {
	Type         string    `json:"type"`
	Subscription string    `json:"subscription"`
	Data         any       `json:"data"`
	Timestamp    time.Time `json:"ts"`
}

// serviceSnapshot is the per-serviceId shape used for change detection.
type serviceSnapshot struct {
	State  string
	Health monitor.Health
}

// client holds one connected subscriber's state.
type client struct {
	mu            sync.Mutex
	conn          *websocket.Conn
	send          chan Message
	subs          map[string]bool
	backgrounded  bool
	lastServices  map[catalog.ServiceID]serviceSnapshot
	lastResources *resources.Sample
	lastSent      map[string]Message
}

// Broadcaster fans out EventBus activity plus periodic resource/service
// snapshots to connected WebSocket clients, subscription by subscription.
type Broadcaster struct {
	cat     *catalog.Catalog
	mon     *monitor.Monitor
	sampler *resources.Sampler
	bus     *events.Bus
	clk     clock.Clock
	log     *logging.Logger

	mu      sync.Mutex
	clients map[*client]bool
}

// New builds a Broadcaster wired to its collaborators.
func New(cat *catalog.Catalog, mon *monitor.Monitor, sampler *resources.Sampler, bus *events.Bus, clk clock.Clock, log *logging.Logger) *Broadcaster {
	return &Broadcaster{
		cat: cat, mon: mon, sampler: sampler, bus: bus, clk: clk, log: log,
		clients: make(map[*client]bool),
	}
}

// Register adds a newly-upgraded connection, starts its writer goroutine,
// and sends it an initial_data snapshot for each subscription it opens
// with. subs may be empty; the client can subscribe later via incoming
// control messages handled by the caller (the web layer).
func (b *Broadcaster) Register(conn *websocket.Conn, initialSubs []string) *client {
	c := &client{
		conn:         conn,
		send:         make(chan Message, 64),
		subs:         make(map[string]bool),
		lastServices: make(map[catalog.ServiceID]serviceSnapshot),
		lastSent:     make(map[string]Message),
	}
	for _, s := range initialSubs {
		c.subs[s] = true
	}

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()
	metrics.WebsocketClients.Inc()

	go b.writeLoop(c)

	for s := range c.subs {
		if snap := b.initialSnapshot(s); snap != nil {
			c.enqueue(Message{Type: "initial_data", Subscription: s, Data: snap, Timestamp: b.clk.Now()})
		}
	}
	return c
}

// Unregister removes a client and stops its writer goroutine.
func (b *Broadcaster) Unregister(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clients[c] {
		delete(b.clients, c)
		close(c.send)
		metrics.WebsocketClients.Dec()
	}
}

// Subscribe adds a subscription to an already-registered client, sending it
// an immediate initial_data snapshot.
func (b *Broadcaster) Subscribe(c *client, sub string) {
	c.mu.Lock()
	c.subs[sub] = true
	c.mu.Unlock()
	if snap := b.initialSnapshot(sub); snap != nil {
		c.enqueue(Message{Type: "initial_data", Subscription: sub, Data: snap, Timestamp: b.clk.Now()})
	}
}

// Unsubscribe removes a subscription from a client.
func (b *Broadcaster) Unsubscribe(c *client, sub string) {
	c.mu.Lock()
	delete(c.subs, sub)
	c.mu.Unlock()
}

// SetBackgrounded records whether a client's UI reports itself
// backgrounded, used to widen the resources cadence.
func (b *Broadcaster) SetBackgrounded(c *client, backgrounded bool) {
	c.mu.Lock()
	c.backgrounded = backgrounded
	c.mu.Unlock()
}

// Send enqueues one ad-hoc message for a registered client, serialized
// through the same writer goroutine as subscription traffic (gorilla
// connections allow only one concurrent writer). Used by the web layer for
// request/response control frames.
func (b *Broadcaster) Send(c *client, m Message) {
	c.enqueue(m)
}

func (c *client) enqueue(m Message) {
	select {
	case c.send <- m:
	default:
	}
}

func (b *Broadcaster) writeLoop(c *client) {
	for m := range c.send {
		data, err := json.Marshal(m)
		if err != nil {
			continue
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			b.Unregister(c)
			return
		}
	}
}

func (b *Broadcaster) initialSnapshot(sub string) any {
	switch sub {
	case SubServices:
		return b.servicesSnapshot()
	case SubResources:
		if b.sampler == nil {
			return nil
		}
		// best-effort: the periodic cycle fills lastResources on tick; a
		// brand-new client gets the next cadence tick instead of a blocking
		// synchronous sample here.
		return nil
	default:
		return nil
	}
}

func (b *Broadcaster) servicesSnapshot() map[catalog.ServiceID]serviceSnapshot {
	obs := b.mon.AllObservations()
	out := make(map[catalog.ServiceID]serviceSnapshot, len(obs))
	for id, o := range obs {
		out[id] = serviceSnapshot{State: o.State, Health: o.Health}
	}
	return out
}

// Run drives the event-subscription fan-out and the periodic cadences
// until stop is closed.
func (b *Broadcaster) Run(stop <-chan struct{}) {
	ch, cancel := b.bus.Subscribe()
	defer cancel()

	servicesTicker := b.clk.After(servicesCadence)
	resourcesTicker := b.clk.After(resourcesCadence)

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			b.handleEvent(evt)
		case <-servicesTicker:
			b.emitServices()
			servicesTicker = b.clk.After(servicesCadence)
		case <-resourcesTicker:
			b.emitResources()
			resourcesTicker = b.clk.After(b.resourcesInterval())
		case <-stop:
			return
		}
	}
}

func (b *Broadcaster) resourcesInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.clients) == 0 {
		return resourcesSlowCadence
	}
	for c := range b.clients {
		c.mu.Lock()
		bg := c.backgrounded
		c.mu.Unlock()
		if !bg {
			return resourcesCadence
		}
	}
	return resourcesSlowCadence
}

func (b *Broadcaster) handleEvent(evt events.Event) {
	switch evt.Type {
	case events.ServiceStateChanged:
		b.emitServices()
	case events.AlertRaised, events.AlertResolved:
		b.broadcastTo(SubAlerts, "alert", evt.Payload)
	case events.SyncProgress:
		b.broadcastTo(SubSync, "sync:progress", evt.Payload)
	case events.SyncCaughtUp:
		b.broadcastTo(SubSync, "node:ready", evt.Payload)
	case events.TaskStateChanged:
		b.broadcastTo(SubTasks, "task:status", evt.Payload)
	case events.UpdateStarted, events.UpdateProgress, events.UpdateServiceDone, events.UpdateCompleted, events.UpdateFailed:
		b.broadcastTo(SubUpdates, string(evt.Type), evt.Payload)
	}
}

// emitServices recomputes and pushes the services snapshot to each
// subscribed client, applying per-client change detection and dedup.
func (b *Broadcaster) emitServices() {
	snap := b.servicesSnapshot()
	m := Message{Type: "services", Subscription: SubServices, Data: snap, Timestamp: b.clk.Now()}

	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		c.mu.Lock()
		subscribed := c.subs[SubServices]
		changed := subscribed && servicesChanged(c.lastServices, snap)
		if subscribed {
			c.lastServices = snap
		}
		c.mu.Unlock()
		if !subscribed || !changed {
			continue
		}
		b.sendIfChanged(c, SubServices, m)
	}
}

func servicesChanged(prev, next map[catalog.ServiceID]serviceSnapshot) bool {
	if len(prev) != len(next) {
		return true
	}
	for id, n := range next {
		p, ok := prev[id]
		if !ok || p != n {
			return true
		}
	}
	return false
}

func (b *Broadcaster) emitResources() {
	if b.sampler == nil {
		return
	}
	sample, err := b.sampler.Read(context.Background())
	if err != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		c.mu.Lock()
		subscribed := c.subs[SubResources]
		changed := subscribed && resourcesChanged(c.lastResources, sample)
		if subscribed {
			c.lastResources = &sample
		}
		c.mu.Unlock()
		if !subscribed || !changed {
			continue
		}
		m := Message{Type: "resources", Subscription: SubResources, Data: sample, Timestamp: b.clk.Now()}
		b.sendIfChanged(c, SubResources, m)
	}
}

// resourcesChanged reports a >=5 percentage-point delta on any of
// cpu/mem/disk, or no prior sample at all.
func resourcesChanged(prev *resources.Sample, next resources.Sample) bool {
	if prev == nil {
		return true
	}
	if math.Abs(prev.CPUPct-next.CPUPct) >= resourceDeltaPct {
		return true
	}
	if math.Abs(prev.MemPct-next.MemPct) >= resourceDeltaPct {
		return true
	}
	if math.Abs(prev.DiskPct-next.DiskPct) >= resourceDeltaPct {
		return true
	}
	return false
}

// broadcastTo sends an arbitrary payload to every client subscribed to sub,
// deduped against the last message sent on that subscription.
func (b *Broadcaster) broadcastTo(sub, msgType string, payload any) {
	m := Message{Type: msgType, Subscription: sub, Data: payload, Timestamp: b.clk.Now()}

	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		c.mu.Lock()
		subscribed := c.subs[sub]
		c.mu.Unlock()
		if subscribed {
			b.sendIfChanged(c, sub, m)
		}
	}
}

// sendIfChanged dedups identical consecutive messages per subscription
// (comparing marshaled payload, since Data may be a non-comparable type).
func (b *Broadcaster) sendIfChanged(c *client, sub string, m Message) {
	data, err := json.Marshal(m.Data)
	if err != nil {
		return
	}
	c.mu.Lock()
	last, ok := c.lastSent[sub]
	c.mu.Unlock()
	if ok {
		if lastData, err := json.Marshal(last.Data); err == nil && string(lastData) == string(data) {
			return
		}
	}
	c.mu.Lock()
	c.lastSent[sub] = m
	c.mu.Unlock()
	c.enqueue(m)
}
