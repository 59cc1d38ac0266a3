package configstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWizardStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wizard-state.json")

	st := WizardState{
		CurrentStep: 4,
		Phase:       "sync",
		BackgroundTasks: []BackgroundTaskRecord{
			{ID: "t-1", Kind: "NodeSync", ServiceID: "kaspa-node", Status: "Running", Progress: 42, UpdatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		},
		SyncOperations: []SyncOperationRecord{
			{ServiceID: "kaspa-node", Strategy: "Background", StartedAt: time.Date(2025, 6, 1, 11, 58, 0, 0, time.UTC)},
		},
	}
	require.NoError(t, WriteWizardState(path, st))

	reread, err := ReadWizardState(path)
	require.NoError(t, err)
	assert.Equal(t, st, reread)
}

func TestReadWizardStateMissingIsZero(t *testing.T) {
	st, err := ReadWizardState(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Zero(t, st.CurrentStep)
	assert.Empty(t, st.BackgroundTasks)
}
