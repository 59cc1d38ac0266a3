package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetctl/fleetctl/internal/catalog"
)

func TestValidate_CombinedResourcesDedup(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)

	res := Validate(cat, []string{"kaspa-node", "kaspa-explorer-bundle"}, HostConstraints{})

	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)

	// Shared services (dashboard, nginx) must appear exactly once.
	_, hasDashboard := res.Combined.PerService["dashboard"]
	_, hasNginx := res.Combined.PerService["nginx"]
	assert.True(t, hasDashboard)
	assert.True(t, hasNginx)

	expectedRAM := 4.0 /* kaspa-node */ + 0.5 /* dashboard */ + 0.1 /* nginx */ +
		2.0 /* timescaledb */ + 2.0 /* indexer */ + 1.0 /* explorer */
	assert.InDelta(t, expectedRAM, res.Combined.MinRAMgb, 0.0001)

	phaseOf := make(map[catalog.ServiceID]int)
	for _, phase := range res.StartupOrder {
		for _, sid := range phase.Services {
			phaseOf[sid] = phase.Number
		}
	}
	assert.Equal(t, 1, phaseOf["kaspa-node"])
	assert.Equal(t, 2, phaseOf["timescaledb"])
	assert.Equal(t, 2, phaseOf["simply-kaspa-indexer"])
	assert.Equal(t, 3, phaseOf["kaspa-explorer"])
}

func TestValidate_MissingPrerequisite(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)

	res := Validate(cat, []string{"mining"}, HostConstraints{})

	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, ErrMissingPrerequisite, res.Errors[0].Kind)
	assert.Equal(t, "mining", res.Errors[0].Subject)
	assert.ElementsMatch(t, []string{"kaspa-node", "kaspa-archive-node"}, res.Errors[0].RequiresAnyOf)
}

func TestValidate_Conflict(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)

	res := Validate(cat, []string{"kaspa-node", "kaspa-archive-node"}, HostConstraints{})

	assert.False(t, res.Valid)
	found := false
	for _, e := range res.Errors {
		if e.Kind == ErrConflict {
			found = true
		}
	}
	assert.True(t, found, "expected a Conflict error")
}

func TestValidate_ResourceWarnings(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)

	res := Validate(cat, []string{"kaspa-node"}, HostConstraints{AvailableRAMgb: 1, AvailableDiskGb: 1})

	var kinds []WarningKind
	for _, w := range res.Warnings {
		kinds = append(kinds, w.Kind)
	}
	assert.Contains(t, kinds, WarnBelowRecommendedRAM)
	assert.Contains(t, kinds, WarnBelowRecommendedDisk)
}

func TestValidate_UnknownProfileIgnored(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)

	res := Validate(cat, []string{"does-not-exist"}, HostConstraints{})
	assert.True(t, res.Valid)
	assert.Empty(t, res.StartupOrder)
}
