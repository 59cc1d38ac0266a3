package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalServices() []ServiceDefinition {
	return []ServiceDefinition{
		{ServiceID: "node", ContainerName: "node-container", OwningProfileID: "node", ImageRef: "example/node:1.0.0", Tier: 1},
		{ServiceID: "indexer", ContainerName: "indexer", OwningProfileID: "indexer", DeclaredDependencies: []ServiceID{"node"}, ImageRef: "example/indexer:2.1", Tier: 2},
	}
}

func minimalProfiles() []Profile {
	return []Profile{
		{ProfileID: "node", DisplayName: "Node", Category: CategoryNode, Services: []ServiceID{"node"}, StartupOrder: 1},
		{ProfileID: "indexer", DisplayName: "Indexer", Category: CategoryIndexer, Services: []ServiceID{"indexer"}, Prerequisites: []string{"node"}, StartupOrder: 2},
	}
}

func TestLoadValidCatalog(t *testing.T) {
	c, err := Load(minimalProfiles(), minimalServices(), nil)
	require.NoError(t, err)

	p, ok := c.GetProfile("node")
	require.True(t, ok)
	assert.Equal(t, "Node", p.DisplayName)

	s, ok := c.GetService("indexer")
	require.True(t, ok)
	assert.Equal(t, []ServiceID{"node"}, s.DeclaredDependencies)
}

func TestLoadRejectsDuplicateService(t *testing.T) {
	services := append(minimalServices(), ServiceDefinition{ServiceID: "node"})
	_, err := Load(minimalProfiles(), services, nil)
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Reason, "duplicate service")
}

func TestLoadRejectsDanglingServiceReference(t *testing.T) {
	profiles := append(minimalProfiles(), Profile{ProfileID: "broken", Services: []ServiceID{"nope"}})
	_, err := Load(profiles, minimalServices(), nil)
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Reason, "unknown service")
}

func TestLoadRejectsDanglingDependency(t *testing.T) {
	services := minimalServices()
	services[1].DeclaredDependencies = []ServiceID{"ghost"}
	_, err := Load(minimalProfiles(), services, nil)
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Reason, "unknown service")
}

func TestLoadRejectsSelfConflict(t *testing.T) {
	profiles := minimalProfiles()
	profiles[0].Conflicts = []string{"node"}
	_, err := Load(profiles, minimalServices(), nil)
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Reason, "conflicts with itself")
}

func TestLoadRejectsDependencyCycle(t *testing.T) {
	services := minimalServices()
	services[0].DeclaredDependencies = []ServiceID{"indexer"}
	_, err := Load(minimalProfiles(), services, nil)
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Reason, "circular")
}

func TestLoadRejectsAliasToUnknownProfile(t *testing.T) {
	_, err := Load(minimalProfiles(), minimalServices(), map[string]string{"old-name": "nowhere"})
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Reason, "unknown profile")
}

func TestGetProfileFollowsAlias(t *testing.T) {
	c, err := Load(minimalProfiles(), minimalServices(), map[string]string{"legacy-node": "node"})
	require.NoError(t, err)

	p, ok := c.GetProfile("legacy-node")
	require.True(t, ok)
	assert.Equal(t, "node", p.ProfileID)
}

func TestFindByContainer(t *testing.T) {
	c, err := Load(minimalProfiles(), minimalServices(), nil)
	require.NoError(t, err)

	s, ok := c.FindByContainer("node-container")
	require.True(t, ok)
	assert.Equal(t, ServiceID("node"), s.ServiceID)

	// Falls back to ServiceID match when no ContainerName matches.
	s, ok = c.FindByContainer("indexer")
	require.True(t, ok)
	assert.Equal(t, ServiceID("indexer"), s.ServiceID)

	_, ok = c.FindByContainer("unknown")
	assert.False(t, ok)
}

func TestFindByImageRepo(t *testing.T) {
	services := minimalServices()
	services[0].ImageRef = "registry.example.com:5000/example/node:1.0.0"
	c, err := Load(minimalProfiles(), services, nil)
	require.NoError(t, err)

	s, ok := c.FindByImageRepo("registry.example.com:5000/example/node")
	require.True(t, ok)
	assert.Equal(t, ServiceID("node"), s.ServiceID)

	s, ok = c.FindByImageRepo("example/indexer")
	require.True(t, ok)
	assert.Equal(t, ServiceID("indexer"), s.ServiceID)

	_, ok = c.FindByImageRepo("example/node:1.0.0")
	assert.False(t, ok, "lookup is by repository, not full reference")
}

func TestDefaultCatalogLoads(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	assert.Len(t, c.ListProfiles(), 4)

	// The pre-2.0 explorer profile id still resolves.
	p, ok := c.GetProfile("kaspa-explorer")
	require.True(t, ok)
	assert.Equal(t, "kaspa-explorer-bundle", p.ProfileID)

	node, ok := c.GetService("kaspa-node")
	require.True(t, ok)
	assert.True(t, node.Critical)
	assert.Equal(t, ProbeJSONRPC, node.HealthProbe.Kind)
}
