package depgraph

import (
	"testing"

	"github.com/fleetctl/fleetctl/internal/catalog"
)

func svc(id string, deps ...string) catalog.ServiceDefinition {
	var d []catalog.ServiceID
	for _, dep := range deps {
		d = append(d, catalog.ServiceID(dep))
	}
	return catalog.ServiceDefinition{ServiceID: catalog.ServiceID(id), DeclaredDependencies: d}
}

func TestLinearChainSorted(t *testing.T) {
	g := Build([]catalog.ServiceDefinition{
		svc("proxy", "app"),
		svc("app", "db"),
		svc("db"),
	})

	order, err := g.Sort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	idx := make(map[catalog.ServiceID]int)
	for i, name := range order {
		idx[name] = i
	}
	if idx["db"] >= idx["app"] {
		t.Errorf("db should come before app: %v", order)
	}
	if idx["app"] >= idx["proxy"] {
		t.Errorf("app should come before proxy: %v", order)
	}
}

func TestDiamondDependency(t *testing.T) {
	g := Build([]catalog.ServiceDefinition{
		svc("top", "left", "right"),
		svc("left", "bottom"),
		svc("right", "bottom"),
		svc("bottom"),
	})

	order, err := g.Sort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	idx := make(map[catalog.ServiceID]int)
	for i, name := range order {
		idx[name] = i
	}
	if idx["bottom"] >= idx["left"] || idx["bottom"] >= idx["right"] {
		t.Errorf("bottom should come first: %v", order)
	}
	if idx["left"] >= idx["top"] || idx["right"] >= idx["top"] {
		t.Errorf("top should come last: %v", order)
	}
}

func TestCycleDetected(t *testing.T) {
	g := Build([]catalog.ServiceDefinition{
		svc("a", "b"),
		svc("b", "a"),
	})
	_, err := g.Sort()
	if err == nil {
		t.Fatal("expected circular dependency error")
	}
	var cycleErr *CircularDependencyError
	if ce, ok := err.(*CircularDependencyError); ok {
		cycleErr = ce
	}
	if cycleErr == nil {
		t.Fatalf("expected *CircularDependencyError, got %T", err)
	}
	if len(cycleErr.Remaining) != 2 {
		t.Errorf("expected both nodes stuck in the cycle, got %v", cycleErr.Remaining)
	}
}

func TestDependentsAndDependencies(t *testing.T) {
	g := Build([]catalog.ServiceDefinition{
		svc("indexer", "node", "db"),
		svc("node"),
		svc("db"),
	})

	deps := g.Dependencies("indexer")
	if len(deps) != 2 || deps[0] != "db" || deps[1] != "node" {
		t.Errorf("unexpected dependencies: %v", deps)
	}

	dependents := g.Dependents("node")
	if len(dependents) != 1 || dependents[0] != "indexer" {
		t.Errorf("unexpected dependents: %v", dependents)
	}
}
