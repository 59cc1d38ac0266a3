// Package depgraph provides a directed-acyclic-graph abstraction over
// catalog.ServiceID used by both selection validation and the monitor's
// ordered start/stop operations.
package depgraph

import (
	"fmt"
	"sort"

	"github.com/fleetctl/fleetctl/internal/catalog"
)

// CircularDependencyError is raised when Sort finds a cycle.
type CircularDependencyError struct {
	Remaining []catalog.ServiceID
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected among %d services", len(e.Remaining))
}

// Graph is a directed acyclic graph over ServiceIDs: an edge A->B means
// "A depends on B". Built fresh per call from a selection of services, since
// the full catalog graph never changes at runtime.
type Graph struct {
	adj map[catalog.ServiceID][]catalog.ServiceID // service -> what it depends on
	all map[catalog.ServiceID]bool
}

// Build constructs a Graph restricted to the given services; dependency
// edges to services outside the set are dropped. The caller must verify
// such out-of-set dependencies are already satisfied before starting.
func Build(services []catalog.ServiceDefinition) *Graph {
	g := &Graph{
		adj: make(map[catalog.ServiceID][]catalog.ServiceID),
		all: make(map[catalog.ServiceID]bool, len(services)),
	}
	for _, s := range services {
		g.all[s.ServiceID] = true
	}
	for _, s := range services {
		for _, dep := range s.DeclaredDependencies {
			if g.all[dep] {
				g.adj[s.ServiceID] = append(g.adj[s.ServiceID], dep)
			}
		}
	}
	return g
}

// Sort returns services in topological order (dependencies first) using
// Kahn's algorithm with deterministic tie-breaking by ServiceID.
func (g *Graph) Sort() ([]catalog.ServiceID, error) {
	indegree := make(map[catalog.ServiceID]int, len(g.all))
	reverse := make(map[catalog.ServiceID][]catalog.ServiceID)

	for name := range g.all {
		indegree[name] = 0
	}
	for name, deps := range g.adj {
		for _, dep := range deps {
			indegree[name]++
			reverse[dep] = append(reverse[dep], name)
		}
	}

	var queue []catalog.ServiceID
	for name, deg := range indegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	sortIDs(queue)

	var result []catalog.ServiceID
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		dependents := reverse[node]
		sortIDs(dependents)
		for _, dep := range dependents {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(result) != len(g.all) {
		remaining := make([]catalog.ServiceID, 0, len(g.all)-len(result))
		done := make(map[catalog.ServiceID]bool, len(result))
		for _, r := range result {
			done[r] = true
		}
		for name := range g.all {
			if !done[name] {
				remaining = append(remaining, name)
			}
		}
		sortIDs(remaining)
		return result, &CircularDependencyError{Remaining: remaining}
	}

	return result, nil
}

// Dependents returns services that depend on the given service (reverse edges).
func (g *Graph) Dependents(id catalog.ServiceID) []catalog.ServiceID {
	var result []catalog.ServiceID
	for svc, deps := range g.adj {
		for _, dep := range deps {
			if dep == id {
				result = append(result, svc)
				break
			}
		}
	}
	sortIDs(result)
	return result
}

// Dependencies returns what the given service depends on, within this graph.
func (g *Graph) Dependencies(id catalog.ServiceID) []catalog.ServiceID {
	deps := g.adj[id]
	if deps == nil {
		return nil
	}
	out := make([]catalog.ServiceID, len(deps))
	copy(out, deps)
	sortIDs(out)
	return out
}

func sortIDs(ids []catalog.ServiceID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
