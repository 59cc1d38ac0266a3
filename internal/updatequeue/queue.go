// Package updatequeue tracks services with a known newer image version:
// an in-memory pending-update map keyed by service, persisted through an
// optional BoltDB store. Entries are populated from registry push
// notifications (internal/webhook) and drained when an update run applies
// or the operator skips them through the dashboard API.
package updatequeue

import (
	"sync"
	"time"

	"github.com/fleetctl/fleetctl/internal/catalog"
)

// PendingUpdate is one service with a detected newer image available.
type PendingUpdate struct {
	ServiceID      catalog.ServiceID
	ContainerName  string
	CurrentImage   string
	TargetVersion  string
	Source         string // registry that reported the push, e.g. "dockerhub", "ghcr"
	DetectedAt     time.Time
	IgnoredVersion string // set when the operator chose to ignore this specific version
}

// Queue is a thread-safe map of pending updates keyed by service.
type Queue struct {
	mu    sync.Mutex
	items map[catalog.ServiceID]PendingUpdate
	store *Store // nil unless built via NewFromStore
}

// New builds an empty, unpersisted Queue.
func New() *Queue {
	return &Queue{items: make(map[catalog.ServiceID]PendingUpdate)}
}

// persist writes the current contents to the backing store, if any. Must be
// called with q.mu held.
func (q *Queue) persist() {
	if q.store == nil {
		return
	}
	items := make([]PendingUpdate, 0, len(q.items))
	for _, p := range q.items {
		items = append(items, p)
	}
	_ = q.store.Save(items)
}

// List returns all pending updates in no particular order. An entry whose
// target version the operator ignored is not pending and is left out.
func (q *Queue) List() []PendingUpdate {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]PendingUpdate, 0, len(q.items))
	for _, p := range q.items {
		if p.IgnoredVersion == p.TargetVersion {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Get returns the pending update for a service, if any. An entry whose
// target version the operator ignored is reported as absent.
func (q *Queue) Get(id catalog.ServiceID) (PendingUpdate, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.items[id]
	if ok && p.IgnoredVersion == p.TargetVersion {
		return PendingUpdate{}, false
	}
	return p, ok
}

// Add inserts or replaces a pending update. A version matching the
// entry's IgnoredVersion is skipped so a re-announced push of a version the
// operator already dismissed doesn't resurface it.
func (q *Queue) Add(p PendingUpdate) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if existing, ok := q.items[p.ServiceID]; ok && existing.IgnoredVersion == p.TargetVersion {
		return
	}
	q.items[p.ServiceID] = p
	q.persist()
}

// Remove drops a service's pending update, e.g. after it has been applied or
// rejected.
func (q *Queue) Remove(id catalog.ServiceID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, id)
	q.persist()
}

// Ignore marks a specific version as dismissed for a service without
// removing a differently-versioned future entry.
func (q *Queue) Ignore(id catalog.ServiceID, version string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.items[id]
	if !ok {
		return
	}
	p.IgnoredVersion = version
	q.items[id] = p
	q.persist()
}
