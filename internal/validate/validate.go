// Package validate implements DependencyValidator: a pure function over a
// profile selection that reports prerequisite/conflict errors, informational
// warnings, deduplicated combined resource accounting, and a phased startup
// order. It holds no state and performs no I/O.
package validate

import (
	"sort"

	"github.com/fleetctl/fleetctl/internal/catalog"
	"github.com/fleetctl/fleetctl/internal/depgraph"
)

// ErrorKind identifies a validation failure class.
type ErrorKind string

const (
	ErrMissingPrerequisite ErrorKind = "MissingPrerequisite"
	ErrConflict            ErrorKind = "Conflict"
)

// ValidationError is a structured selection error.
type ValidationError struct {
	Kind          ErrorKind
	Subject       string   // the profileId the error concerns
	RequiresAnyOf []string `json:"requiresAnyOf,omitempty"`
	ConflictsWith string   `json:"conflictsWith,omitempty"`
}

// WarningKind identifies an informational selection warning.
type WarningKind string

const (
	WarnBelowRecommendedRAM      WarningKind = "BelowRecommendedRAM"
	WarnBelowRecommendedDisk     WarningKind = "BelowRecommendedDisk"
	WarnDockerMemoryBelowRequired WarningKind = "DockerMemoryBelowRequired"
	WarnSharedResourcesUsed      WarningKind = "SharedResourcesUsed"
)

// Warning is an informational, non-blocking finding.
type Warning struct {
	Kind    WarningKind
	Subject string
	Detail  string
}

// CombinedResources is the deduplicated resource footprint of a selection.
type CombinedResources struct {
	MinRAMgb  float64
	RecRAMgb  float64
	MinDiskGb float64
	MinCPU    float64
	// PerService breaks the total down by service, with shared services
	// appearing exactly once regardless of how many profiles pull them in.
	PerService map[catalog.ServiceID]catalog.ResourceFootprint
}

// Phase is one startup wave: services within it are already topologically
// ordered by declared dependency.
type Phase struct {
	Number   int
	Services []catalog.ServiceID
}

// Result is the full output of Validate.
type Result struct {
	Valid        bool
	Errors       []ValidationError
	Warnings     []Warning
	Combined     CombinedResources
	StartupOrder []Phase
}

// HostConstraints describes the machine the fleet would run on, used to
// raise resource warnings. A zero-value HostConstraints skips those checks.
type HostConstraints struct {
	AvailableRAMgb       float64
	AvailableDiskGb      float64
	DockerMemoryLimitGb  float64 // 0 means unknown/unset
}

// Validate checks a profile selection against the catalog and computes
// combined resources and startup ordering. It never mutates the catalog.
func Validate(cat *catalog.Catalog, selection []string, host HostConstraints) Result {
	res := Result{Valid: true}

	selected := make(map[string]bool, len(selection))
	var resolved []catalog.Profile
	for _, id := range selection {
		p, ok := cat.GetProfile(id)
		if !ok {
			continue // unknown profile IDs are a caller-side schema error, not DependencyValidator's concern
		}
		selected[p.ProfileID] = true
		resolved = append(resolved, p)
	}

	// Prerequisite and conflict checks.
	for _, p := range resolved {
		if len(p.Prerequisites) > 0 {
			satisfied := false
			for _, req := range p.Prerequisites {
				if selected[req] {
					satisfied = true
					break
				}
			}
			if !satisfied {
				res.Errors = append(res.Errors, ValidationError{
					Kind:          ErrMissingPrerequisite,
					Subject:       p.ProfileID,
					RequiresAnyOf: append([]string(nil), p.Prerequisites...),
				})
			}
		}
		for _, conflict := range p.Conflicts {
			if selected[conflict] {
				res.Errors = append(res.Errors, ValidationError{
					Kind:          ErrConflict,
					Subject:       p.ProfileID,
					ConflictsWith: conflict,
				})
			}
		}
	}
	if len(res.Errors) > 0 {
		res.Valid = false
	}

	// Deduplicated combined resources: union of services across all selected
	// profiles, each counted exactly once regardless of how many profiles
	// reference it.
	serviceSet := make(map[catalog.ServiceID]bool)
	sharedUsed := false
	var serviceDefs []catalog.ServiceDefinition
	for _, p := range resolved {
		for _, sid := range p.Services {
			if _, isShared := p.SharedServices[sid]; isShared {
				sharedUsed = true
			}
			if serviceSet[sid] {
				continue
			}
			serviceSet[sid] = true
			if def, ok := cat.GetService(sid); ok {
				serviceDefs = append(serviceDefs, def)
			}
		}
	}

	res.Combined.PerService = make(map[catalog.ServiceID]catalog.ResourceFootprint, len(serviceDefs))
	for _, def := range serviceDefs {
		res.Combined.MinRAMgb += def.ResourceFootprint.MinRAMgb
		res.Combined.RecRAMgb += def.ResourceFootprint.RecRAMgb
		res.Combined.MinDiskGb += def.ResourceFootprint.MinDiskGb
		res.Combined.MinCPU += def.ResourceFootprint.MinCPU
		res.Combined.PerService[def.ServiceID] = def.ResourceFootprint
	}

	if sharedUsed {
		res.Warnings = append(res.Warnings, Warning{
			Kind:   WarnSharedResourcesUsed,
			Detail: "one or more shared services (reverse proxy, dashboard, time-series database) are reused across selected profiles and counted once",
		})
	}
	if host.AvailableRAMgb > 0 && host.AvailableRAMgb < res.Combined.RecRAMgb {
		res.Warnings = append(res.Warnings, Warning{Kind: WarnBelowRecommendedRAM, Detail: "available RAM is below the recommended total"})
	}
	if host.AvailableDiskGb > 0 && host.AvailableDiskGb < res.Combined.MinDiskGb {
		res.Warnings = append(res.Warnings, Warning{Kind: WarnBelowRecommendedDisk, Detail: "available disk is below the minimum total"})
	}
	if host.DockerMemoryLimitGb > 0 && host.DockerMemoryLimitGb < res.Combined.MinRAMgb {
		res.Warnings = append(res.Warnings, Warning{Kind: WarnDockerMemoryBelowRequired, Detail: "Docker's configured memory limit is below the minimum required"})
	}

	// Startup order: phase(s) = max(s.Tier, phase of every dependency),
	// guaranteeing no service starts in a phase lower than a service it
	// depends on (testable property #2), then topologically sorted within
	// each phase via depgraph.
	g := depgraph.Build(serviceDefs)
	order, err := g.Sort()
	if err == nil {
		phaseOf := make(map[catalog.ServiceID]int, len(serviceDefs))
		byID := make(map[catalog.ServiceID]catalog.ServiceDefinition, len(serviceDefs))
		for _, def := range serviceDefs {
			byID[def.ServiceID] = def
		}
		for _, sid := range order {
			def := byID[sid]
			phase := def.Tier
			if phase < 1 {
				phase = 1
			}
			for _, dep := range g.Dependencies(sid) {
				if depPhase := phaseOf[dep]; depPhase > phase {
					phase = depPhase
				}
			}
			if phase > 3 {
				phase = 3
			}
			phaseOf[sid] = phase
		}

		buckets := make(map[int][]catalog.ServiceID)
		for _, sid := range order {
			p := phaseOf[sid]
			buckets[p] = append(buckets[p], sid)
		}
		phases := make([]int, 0, len(buckets))
		for p := range buckets {
			phases = append(phases, p)
		}
		sort.Ints(phases)
		for _, p := range phases {
			res.StartupOrder = append(res.StartupOrder, Phase{Number: p, Services: buckets[p]})
		}
	}

	return res
}
