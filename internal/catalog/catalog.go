// Package catalog holds the static, loaded-once declaration of deployable
// profiles and the services they bundle. It is immutable after Load and
// carries no business logic beyond lookup and alias resolution — validation
// and resource accounting live in internal/validate.
package catalog

import "fmt"

// Category classifies a profile's role in the fleet.
type Category string

const (
	CategoryNode        Category = "node"
	CategoryApplication Category = "application"
	CategoryIndexer     Category = "indexer"
	CategoryMining      Category = "mining"
	CategoryStorage     Category = "storage"
)

// ProbeKind identifies the health-check transport a service declares.
type ProbeKind string

const (
	ProbeHTTP    ProbeKind = "http"
	ProbeJSONRPC ProbeKind = "jsonrpc"
	ProbeTCP     ProbeKind = "tcp"
	ProbeNone    ProbeKind = "none"
)

// HealthProbe describes how ServiceMonitor should check a service's health.
type HealthProbe struct {
	Kind   ProbeKind
	Path   string // HTTP only
	Port   int
	Method string // JSONRPC only, no-arg method name
}

// ResourceFootprint is the declared minimum/recommended resource cost of a service.
type ResourceFootprint struct {
	MinRAMgb  float64
	RecRAMgb  float64
	MinDiskGb float64
	MinCPU    float64
}

// ServiceID identifies a ServiceDefinition within the catalog.
type ServiceID string

// ServiceDefinition is a single deployable container's declaration.
type ServiceDefinition struct {
	ServiceID           ServiceID
	ContainerName        string
	OwningProfileID      string
	HealthProbe          HealthProbe
	Critical             bool
	DeclaredDependencies []ServiceID
	ResourceFootprint    ResourceFootprint
	DefaultPorts         map[string]int
	ImageRef             string // repository:tag

	// Tier is the service's intrinsic earliest startup phase (1..3), used by
	// DependencyValidator as the floor for its computed startupOrder: a
	// service's final phase is max(Tier, the phase of its dependencies),
	// which lets a shared dependency (e.g. a database) surface later than
	// its owning profile's own coarse StartupOrder would suggest.
	Tier int
}

// Profile is a named bundle of services deployed together.
type Profile struct {
	ProfileID      string
	DisplayName    string
	Category       Category
	Services       []ServiceID
	ConfigKeys     map[string]struct{}
	Prerequisites  []string // any-of satisfaction
	Conflicts      []string
	StartupOrder   int // 1..3
	SharedServices map[ServiceID]struct{}
}

// InvalidError reports a catalog that fails to load because of dangling
// references or cyclic declarations.
type InvalidError struct {
	Reason string
}

func (e *InvalidError) Error() string { return "catalog invalid: " + e.Reason }

// Catalog is the immutable, loaded registry of profiles and services.
type Catalog struct {
	profiles map[string]Profile
	services map[ServiceID]ServiceDefinition
	aliases  map[string]string // legacy profileId -> current profileId
}

// Load builds a Catalog from declared profiles and services, validating
// referential integrity. It never mutates its inputs.
func Load(profiles []Profile, services []ServiceDefinition, aliases map[string]string) (*Catalog, error) {
	c := &Catalog{
		profiles: make(map[string]Profile, len(profiles)),
		services: make(map[ServiceID]ServiceDefinition, len(services)),
		aliases:  make(map[string]string, len(aliases)),
	}

	for _, s := range services {
		if _, dup := c.services[s.ServiceID]; dup {
			return nil, &InvalidError{Reason: fmt.Sprintf("duplicate service %q", s.ServiceID)}
		}
		c.services[s.ServiceID] = s
	}

	for _, p := range profiles {
		if _, dup := c.profiles[p.ProfileID]; dup {
			return nil, &InvalidError{Reason: fmt.Sprintf("duplicate profile %q", p.ProfileID)}
		}
		for _, sid := range p.Services {
			if _, ok := c.services[sid]; !ok {
				return nil, &InvalidError{Reason: fmt.Sprintf("profile %q references unknown service %q", p.ProfileID, sid)}
			}
		}
		c.profiles[p.ProfileID] = p
	}

	for _, s := range services {
		for _, dep := range s.DeclaredDependencies {
			if _, ok := c.services[dep]; !ok {
				return nil, &InvalidError{Reason: fmt.Sprintf("service %q declares dependency on unknown service %q", s.ServiceID, dep)}
			}
		}
	}

	for alias, target := range aliases {
		if _, ok := c.profiles[target]; !ok {
			return nil, &InvalidError{Reason: fmt.Sprintf("alias %q points to unknown profile %q", alias, target)}
		}
		c.aliases[alias] = target
	}

	if err := c.checkConflictSymmetry(); err != nil {
		return nil, err
	}
	if err := c.checkServiceCycles(); err != nil {
		return nil, err
	}

	return c, nil
}

// checkConflictSymmetry enforces that conflicts are declared consistently:
// if A conflicts with B, nothing requires A to also be named in B's list,
// but a profile must never conflict with itself.
func (c *Catalog) checkConflictSymmetry() error {
	for id, p := range c.profiles {
		for _, conflictID := range p.Conflicts {
			if conflictID == id {
				return &InvalidError{Reason: fmt.Sprintf("profile %q conflicts with itself", id)}
			}
			if _, ok := c.profiles[conflictID]; !ok {
				return &InvalidError{Reason: fmt.Sprintf("profile %q conflicts with unknown profile %q", id, conflictID)}
			}
		}
		for _, reqSet := range [][]string{p.Prerequisites} {
			for _, req := range reqSet {
				if _, ok := c.profiles[req]; !ok {
					return &InvalidError{Reason: fmt.Sprintf("profile %q requires unknown profile %q", id, req)}
				}
			}
		}
	}
	return nil
}

// checkServiceCycles runs Kahn's algorithm over the full declared-dependency
// graph; a cycle at load time is a catalog authoring bug, not a runtime error.
func (c *Catalog) checkServiceCycles() error {
	indegree := make(map[ServiceID]int, len(c.services))
	adj := make(map[ServiceID][]ServiceID, len(c.services))
	for id := range c.services {
		indegree[id] = 0
	}
	for id, svc := range c.services {
		for _, dep := range svc.DeclaredDependencies {
			adj[dep] = append(adj[dep], id)
			indegree[id]++
		}
	}
	var queue []ServiceID
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited++
		for _, dependent := range adj[n] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}
	if visited != len(c.services) {
		return &InvalidError{Reason: "circular service dependency detected"}
	}
	return nil
}

// resolveAlias follows the alias map to the current profile ID, or returns
// the input unchanged if it isn't an alias.
func (c *Catalog) resolveAlias(id string) string {
	if target, ok := c.aliases[id]; ok {
		return target
	}
	return id
}

// GetProfile looks up a profile by ID, transparently following legacy aliases.
func (c *Catalog) GetProfile(id string) (Profile, bool) {
	p, ok := c.profiles[c.resolveAlias(id)]
	return p, ok
}

// GetService looks up a service by ID.
func (c *Catalog) GetService(id ServiceID) (ServiceDefinition, bool) {
	s, ok := c.services[id]
	return s, ok
}

// ListProfiles returns all profiles, in no particular order. Callers that
// need determinism should sort by ProfileID.
func (c *Catalog) ListProfiles() []Profile {
	out := make([]Profile, 0, len(c.profiles))
	for _, p := range c.profiles {
		out = append(out, p)
	}
	return out
}

// FindByContainer returns the ServiceDefinition whose ContainerName matches,
// falling back to a ServiceID match for services that never overrode it.
func (c *Catalog) FindByContainer(name string) (ServiceDefinition, bool) {
	for _, s := range c.services {
		if s.ContainerName == name {
			return s, true
		}
	}
	if s, ok := c.services[ServiceID(name)]; ok {
		return s, true
	}
	return ServiceDefinition{}, false
}

// FindByImageRepo returns the ServiceDefinition whose declared image
// reference's repository portion (the part before the tag) matches repo,
// used to map an inbound registry webhook's image name back to a service.
func (c *Catalog) FindByImageRepo(repo string) (ServiceDefinition, bool) {
	for _, s := range c.services {
		ref := s.ImageRef
		if idx := lastColon(ref); idx >= 0 {
			ref = ref[:idx]
		}
		if ref == repo {
			return s, true
		}
	}
	return ServiceDefinition{}, false
}

// lastColon finds the tag-separating colon in an image reference, ignoring
// any colon that's part of a registry host:port prefix.
func lastColon(ref string) int {
	slash := -1
	for i, c := range ref {
		if c == '/' {
			slash = i
		}
	}
	for i := len(ref) - 1; i > slash; i-- {
		if ref[i] == ':' {
			return i
		}
	}
	return -1
}
