package catalog

// Default builds the built-in profile/service catalog for a Kaspa-flavoured
// fleet: a node, its mining stratum, an explorer bundle (database + indexer +
// frontend), and the shared services every bundle reuses (reverse proxy,
// dashboard, time-series database). Ports and images are illustrative —
// operators override them via ConfigStore, not by editing the catalog.
func Default() (*Catalog, error) {
	services := []ServiceDefinition{
		{
			ServiceID:     "kaspa-node",
			ContainerName: "kaspa-node",
			OwningProfileID: "kaspa-node",
			HealthProbe:   HealthProbe{Kind: ProbeJSONRPC, Port: 16110, Method: "getInfo"},
			Critical:      true,
			ResourceFootprint: ResourceFootprint{MinRAMgb: 4, RecRAMgb: 8, MinDiskGb: 100, MinCPU: 2},
			DefaultPorts:  map[string]int{"p2p": 16111, "rpc": 16110},
			ImageRef:      "kaspanet/kaspad:latest",
			Tier:          1,
		},
		{
			ServiceID:     "kaspa-archive-node",
			ContainerName: "kaspa-archive-node",
			OwningProfileID: "kaspa-archive-node",
			HealthProbe:   HealthProbe{Kind: ProbeJSONRPC, Port: 16110, Method: "getInfo"},
			Critical:      true,
			ResourceFootprint: ResourceFootprint{MinRAMgb: 8, RecRAMgb: 16, MinDiskGb: 500, MinCPU: 4},
			DefaultPorts:  map[string]int{"p2p": 16111, "rpc": 16110},
			ImageRef:      "kaspanet/kaspad:latest",
			Tier:          1,
		},
		{
			ServiceID:            "simply-kaspa-indexer",
			ContainerName:        "simply-kaspa-indexer",
			OwningProfileID:      "kaspa-explorer-bundle",
			HealthProbe:          HealthProbe{Kind: ProbeHTTP, Path: "/health", Port: 8090},
			Critical:             false,
			DeclaredDependencies: []ServiceID{"kaspa-node", "timescaledb"},
			ResourceFootprint:    ResourceFootprint{MinRAMgb: 2, RecRAMgb: 4, MinDiskGb: 50, MinCPU: 1},
			ImageRef:             "supertypo/simply-kaspa-indexer:latest",
			Tier:          2,
		},
		{
			ServiceID:            "kaspa-explorer",
			ContainerName:        "kaspa-explorer",
			OwningProfileID:      "kaspa-explorer-bundle",
			HealthProbe:          HealthProbe{Kind: ProbeHTTP, Path: "/", Port: 8080},
			Critical:             false,
			DeclaredDependencies: []ServiceID{"simply-kaspa-indexer"},
			ResourceFootprint:    ResourceFootprint{MinRAMgb: 1, RecRAMgb: 2, MinDiskGb: 1, MinCPU: 1},
			ImageRef:             "supertypo/kaspa-explorer:latest",
			Tier:          3,
		},
		{
			ServiceID:            "kaspa-stratum",
			ContainerName:        "kaspa-stratum",
			OwningProfileID:      "mining",
			HealthProbe:          HealthProbe{Kind: ProbeTCP, Port: 5555},
			Critical:             false,
			DeclaredDependencies: []ServiceID{"kaspa-node"},
			ResourceFootprint:    ResourceFootprint{MinRAMgb: 0.5, RecRAMgb: 1, MinDiskGb: 1, MinCPU: 1},
			ImageRef:             "onemorebsmith/kaspa-stratum-bridge:latest",
			Tier:          2,
		},
		{
			ServiceID:     "timescaledb",
			ContainerName: "timescaledb",
			OwningProfileID: "kaspa-explorer-bundle",
			HealthProbe:   HealthProbe{Kind: ProbeTCP, Port: 5432},
			Critical:      true,
			ResourceFootprint: ResourceFootprint{MinRAMgb: 2, RecRAMgb: 4, MinDiskGb: 50, MinCPU: 1},
			ImageRef:      "timescale/timescaledb:latest-pg16",
			Tier:          2,
		},
		{
			ServiceID:     "nginx",
			ContainerName: "nginx",
			OwningProfileID: "kaspa-node",
			HealthProbe:   HealthProbe{Kind: ProbeHTTP, Path: "/healthz", Port: 80},
			Critical:      true,
			ResourceFootprint: ResourceFootprint{MinRAMgb: 0.1, RecRAMgb: 0.1, MinDiskGb: 0.1, MinCPU: 1},
			ImageRef:      "nginx:stable",
			Tier:          1,
		},
		{
			ServiceID:     "dashboard",
			ContainerName: "dashboard",
			OwningProfileID: "kaspa-node",
			HealthProbe:   HealthProbe{Kind: ProbeHTTP, Path: "/api/status", Port: 3000},
			Critical:      true,
			ResourceFootprint: ResourceFootprint{MinRAMgb: 0.5, RecRAMgb: 1, MinDiskGb: 1, MinCPU: 1},
			ImageRef:      "kaspa-aio/dashboard:latest",
			Tier:          1,
		},
	}

	shared := map[ServiceID]struct{}{
		"dashboard":   {},
		"nginx":       {},
		"timescaledb": {},
	}

	profiles := []Profile{
		{
			ProfileID:      "kaspa-node",
			DisplayName:    "Kaspa Node",
			Category:       CategoryNode,
			Services:       []ServiceID{"kaspa-node", "dashboard", "nginx"},
			ConfigKeys:     set("KASPA_NODE_HOST", "KASPA_NODE_PORT"),
			StartupOrder:   1,
			SharedServices: shared,
		},
		{
			ProfileID:      "kaspa-archive-node",
			DisplayName:    "Kaspa Archive Node",
			Category:       CategoryNode,
			Services:       []ServiceID{"kaspa-archive-node", "dashboard", "nginx"},
			ConfigKeys:     set("KASPA_NODE_HOST", "KASPA_NODE_PORT"),
			Conflicts:      []string{"kaspa-node"},
			StartupOrder:   1,
			SharedServices: shared,
		},
		{
			ProfileID:      "mining",
			DisplayName:    "Mining (Stratum Bridge)",
			Category:       CategoryMining,
			Services:       []ServiceID{"kaspa-stratum"},
			ConfigKeys:     set("STRATUM_PORT"),
			Prerequisites:  []string{"kaspa-node", "kaspa-archive-node"},
			StartupOrder:   2,
			SharedServices: shared,
		},
		{
			ProfileID:      "kaspa-explorer-bundle",
			DisplayName:    "Kaspa Explorer",
			Category:       CategoryApplication,
			Services:       []ServiceID{"timescaledb", "simply-kaspa-indexer", "kaspa-explorer", "dashboard", "nginx"},
			ConfigKeys:     set("EXPLORER_PUBLIC_URL"),
			Prerequisites:  []string{"kaspa-node", "kaspa-archive-node"},
			StartupOrder:   3,
			SharedServices: shared,
		},
	}

	aliases := map[string]string{
		"kaspa-explorer": "kaspa-explorer-bundle", // pre-2.0 profile id
	}

	return Load(profiles, services, aliases)
}

func set(keys ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return m
}
