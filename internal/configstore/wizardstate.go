package configstore

import (
	"encoding/json"
	"os"
	"time"
)

// BackgroundTaskRecord is one supervised task's persisted snapshot inside
// the wizard-state document. Non-terminal records are re-registered and
// restarted by the controller on the next boot; terminal records survive as
// read-only history.
type BackgroundTaskRecord struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	ServiceID string    `json:"serviceId"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SyncOperationRecord tracks one node's chosen sync strategy across
// controller restarts, so a Background sync survives a wizard reboot and a
// Skip choice isn't re-asked.
type SyncOperationRecord struct {
	ServiceID string    `json:"serviceId"`
	Strategy  string    `json:"strategy"`
	StartedAt time.Time `json:"startedAt"`
}

// WizardState is the persisted wizard-state document: where the operator
// left off, plus the background tasks and sync operations the controller
// must pick back up after a restart.
type WizardState struct {
	CurrentStep     int                    `json:"currentStep"`
	Phase           string                 `json:"phase"`
	BackgroundTasks []BackgroundTaskRecord `json:"backgroundTasks"`
	SyncOperations  []SyncOperationRecord  `json:"syncOperations"`
}

// ReadWizardState loads path; a missing file returns a zero-value state.
func ReadWizardState(path string) (WizardState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return WizardState{}, nil
		}
		return WizardState{}, err
	}
	var st WizardState
	if err := json.Unmarshal(data, &st); err != nil {
		return WizardState{}, err
	}
	return st, nil
}

// WriteWizardState serializes and atomically writes st to path.
func WriteWizardState(path string, st WizardState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(path, data, 0o644)
}
