package configstore

import (
	"encoding/json"
	"os"
	"time"
)

// ServiceState is one service's recorded install-time status.
type ServiceState struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

// InstallState is the persisted installation-state document: a small JSON
// record of what's been deployed and when.
type InstallState struct {
	Version        string         `json:"version"`
	InstalledAt    time.Time      `json:"installedAt"`
	ActiveProfiles []string       `json:"activeProfiles"`
	Services       []ServiceState `json:"services"`
}

// ReadInstallState loads path; a missing file returns a zero-value state.
func ReadInstallState(path string) (InstallState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return InstallState{}, nil
		}
		return InstallState{}, err
	}
	var st InstallState
	if err := json.Unmarshal(data, &st); err != nil {
		return InstallState{}, err
	}
	return st, nil
}

// WriteInstallState serializes and atomically writes st to path.
func WriteInstallState(path string, st InstallState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(path, data, 0o644)
}
