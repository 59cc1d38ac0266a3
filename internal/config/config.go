// Package config loads fleet runtime configuration from the environment.
// Mutable fields (the broadcast cadence settings) are protected by an RWMutex
// and must be accessed via getter/setter methods, since HTTP handlers can
// adjust them while other goroutines read them. The broadcaster does not read
// these fields: its cadences are fixed constants in internal/broadcast.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/fleetctl/fleetctl/internal/window"
)

// Config holds fleet configuration sourced from the environment described in
// the controller's external interface: WIZARD_HOST/PORT for the setup and
// reconfiguration surface, a separate dashboard bind address for day-to-day
// operation, PROJECT_ROOT for all declarative and backup artifacts on disk,
// and the default chain node RPC target.
type Config struct {
	// Docker connection
	DockerSock string

	// Filesystem root containing .env, docker-compose.yml, installation
	// state, and the backups directory.
	ProjectRoot string

	// Dashboard controller bind address.
	DashboardHost string
	DashboardPort string

	// Wizard controller bind address.
	WizardHost    string
	WizardPort    string
	WizardVersion string

	// Default chain node RPC target used when no profile override applies.
	KaspaNodeHost string
	KaspaNodePort string

	// Logging & metrics
	LogJSON        bool
	MetricsEnabled bool

	// MetricsTextfilePath, when set, is written periodically in Prometheus
	// exposition format for node_exporter's textfile collector.
	MetricsTextfilePath string

	// BackupRetentionCount bounds how many snapshots BackupManager keeps.
	BackupRetentionCount int

	// MaintenanceWindow restricts when registry-triggered automatic updates
	// may apply (internal/window expression syntax); empty means unrestricted.
	MaintenanceWindow string

	// AutoApplyUpdates, when true, lets the periodic sweep apply queued
	// registry-detected updates on its own inside MaintenanceWindow instead
	// of waiting for an operator to click apply on the dashboard.
	AutoApplyUpdates bool

	// mu protects the mutable runtime fields below, adjustable through the
	// dashboard's config endpoint without a restart.
	mu                  sync.RWMutex
	updateIntervalMs    int
	hiddenTabIntervalMs int
}

// NewTestConfig creates a Config with sensible defaults for testing.
func NewTestConfig() *Config {
	return &Config{
		DockerSock:           "/var/run/docker.sock",
		ProjectRoot:          "/opt/kaspa-aio",
		DashboardHost:        "0.0.0.0",
		DashboardPort:        "3000",
		WizardHost:           "0.0.0.0",
		WizardPort:           "3001",
		WizardVersion:        "dev",
		KaspaNodeHost:        "localhost",
		KaspaNodePort:        "16110",
		LogJSON:              true,
		BackupRetentionCount: 10,
		updateIntervalMs:     5000,
		hiddenTabIntervalMs:  30000,
		MaintenanceWindow:    "",
		AutoApplyUpdates:     false,
	}
}

// Load reads all configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		DockerSock:           envStr("DOCKER_SOCK", "/var/run/docker.sock"),
		ProjectRoot:          envStr("PROJECT_ROOT", "/opt/kaspa-aio"),
		DashboardHost:        envStr("DASHBOARD_HOST", "0.0.0.0"),
		DashboardPort:        envStr("DASHBOARD_PORT", "3000"),
		WizardHost:           envStr("WIZARD_HOST", "0.0.0.0"),
		WizardPort:           envStr("WIZARD_PORT", "3001"),
		WizardVersion:        envStr("WIZARD_VERSION", "dev"),
		KaspaNodeHost:        envStr("KASPA_NODE_HOST", "localhost"),
		KaspaNodePort:        envStr("KASPA_NODE_PORT", "16110"),
		LogJSON:              envBool("LOG_JSON", true),
		MetricsEnabled:       envBool("METRICS_ENABLED", false),
		MetricsTextfilePath:  envStr("METRICS_TEXTFILE_PATH", ""),
		BackupRetentionCount: envInt("BACKUP_RETENTION_COUNT", 10),
		updateIntervalMs:     envInt("UPDATE_INTERVAL_MS", 5000),
		hiddenTabIntervalMs:  envInt("HIDDEN_TAB_INTERVAL_MS", 30000),
		MaintenanceWindow:    envStr("UPDATE_MAINTENANCE_WINDOW", ""),
		AutoApplyUpdates:     envBool("AUTO_APPLY_UPDATES", false),
	}
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	c.mu.RLock()
	ui := c.updateIntervalMs
	ht := c.hiddenTabIntervalMs
	c.mu.RUnlock()

	var errs []error
	if ui <= 0 {
		errs = append(errs, fmt.Errorf("UPDATE_INTERVAL_MS must be > 0, got %d", ui))
	}
	if ht <= 0 {
		errs = append(errs, fmt.Errorf("HIDDEN_TAB_INTERVAL_MS must be > 0, got %d", ht))
	}
	if c.DashboardPort == "" {
		errs = append(errs, errors.New("DASHBOARD_PORT must not be empty"))
	}
	if c.WizardPort == "" {
		errs = append(errs, errors.New("WIZARD_PORT must not be empty"))
	}
	if c.DashboardHost == c.WizardHost && c.DashboardPort == c.WizardPort {
		errs = append(errs, errors.New("dashboard and wizard controllers cannot share a bind address"))
	}
	if c.BackupRetentionCount < 0 {
		errs = append(errs, fmt.Errorf("BACKUP_RETENTION_COUNT must be >= 0, got %d", c.BackupRetentionCount))
	}
	if !filepath.IsAbs(c.ProjectRoot) {
		errs = append(errs, fmt.Errorf("PROJECT_ROOT must be an absolute path, got %q", c.ProjectRoot))
	}
	if _, err := window.Parse(c.MaintenanceWindow); err != nil {
		errs = append(errs, fmt.Errorf("UPDATE_MAINTENANCE_WINDOW: %w", err))
	}
	return errors.Join(errs...)
}

// Values returns all configuration as a string map for display.
func (c *Config) Values() map[string]string {
	c.mu.RLock()
	ui := c.updateIntervalMs
	ht := c.hiddenTabIntervalMs
	c.mu.RUnlock()

	return map[string]string{
		"DOCKER_SOCK":               c.DockerSock,
		"PROJECT_ROOT":              c.ProjectRoot,
		"DASHBOARD_HOST":            c.DashboardHost,
		"DASHBOARD_PORT":            c.DashboardPort,
		"WIZARD_HOST":               c.WizardHost,
		"WIZARD_PORT":               c.WizardPort,
		"WIZARD_VERSION":            c.WizardVersion,
		"KASPA_NODE_HOST":           c.KaspaNodeHost,
		"KASPA_NODE_PORT":           c.KaspaNodePort,
		"LOG_JSON":                  strconv.FormatBool(c.LogJSON),
		"METRICS_ENABLED":           strconv.FormatBool(c.MetricsEnabled),
		"METRICS_TEXTFILE_PATH":     c.MetricsTextfilePath,
		"BACKUP_RETENTION_COUNT":    strconv.Itoa(c.BackupRetentionCount),
		"UPDATE_INTERVAL_MS":        strconv.Itoa(ui),
		"HIDDEN_TAB_INTERVAL_MS":    strconv.Itoa(ht),
		"UPDATE_MAINTENANCE_WINDOW": c.MaintenanceWindow,
		"AUTO_APPLY_UPDATES":        strconv.FormatBool(c.AutoApplyUpdates),
	}
}

// EnvFilePath returns the path to the live .env artifact under ProjectRoot.
func (c *Config) EnvFilePath() string {
	return filepath.Join(c.ProjectRoot, ".env")
}

// ComposeFilePath returns the path to the live docker-compose.yml artifact.
func (c *Config) ComposeFilePath() string {
	return filepath.Join(c.ProjectRoot, "docker-compose.yml")
}

// ComposeOverridePath returns the path to the docker-compose.override.yml artifact.
func (c *Config) ComposeOverridePath() string {
	return filepath.Join(c.ProjectRoot, "docker-compose.override.yml")
}

// InstallStatePath returns the path to the installation-state.json artifact.
func (c *Config) InstallStatePath() string {
	return filepath.Join(c.ProjectRoot, ".kaspa-aio", "installation-state.json")
}

// WizardStatePath returns the path to the wizard-state.json artifact.
func (c *Config) WizardStatePath() string {
	return filepath.Join(c.ProjectRoot, ".kaspa-aio", "wizard-state.json")
}

// BackupsDir returns the directory holding configuration snapshots.
func (c *Config) BackupsDir() string {
	return filepath.Join(c.ProjectRoot, ".kaspa-backups")
}

// UpdateQueueDBPath returns the path to the persisted pending-updates store.
func (c *Config) UpdateQueueDBPath() string {
	return filepath.Join(c.ProjectRoot, ".kaspa-aio", "update-queue.db")
}

// OperatorPasswordHashPath returns the path to the persisted operator
// password hash gating the wizard controller.
func (c *Config) OperatorPasswordHashPath() string {
	return filepath.Join(c.ProjectRoot, ".kaspa-aio", "operator-password.hash")
}

// KaspaNodeRPCURL builds the JSON-RPC URL for the default local node.
func (c *Config) KaspaNodeRPCURL() string {
	return fmt.Sprintf("http://%s:%s", c.KaspaNodeHost, c.KaspaNodePort)
}

// ParsedMaintenanceWindow parses MaintenanceWindow, returning nil (always
// open) if it's empty. Validate already rejects a malformed expression, so
// callers that run after a successful Validate can ignore the error.
func (c *Config) ParsedMaintenanceWindow() (*window.Window, error) {
	return window.Parse(c.MaintenanceWindow)
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// UpdateIntervalMs returns the current foreground broadcast cadence in
// milliseconds (thread-safe).
func (c *Config) UpdateIntervalMs() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updateIntervalMs
}

// SetUpdateIntervalMs updates the foreground broadcast cadence at runtime.
func (c *Config) SetUpdateIntervalMs(ms int) {
	c.mu.Lock()
	c.updateIntervalMs = ms
	c.mu.Unlock()
}

// HiddenTabIntervalMs returns the current backgrounded broadcast cadence in
// milliseconds (thread-safe).
func (c *Config) HiddenTabIntervalMs() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hiddenTabIntervalMs
}

// SetHiddenTabIntervalMs updates the backgrounded broadcast cadence at runtime.
func (c *Config) SetHiddenTabIntervalMs(ms int) {
	c.mu.Lock()
	c.hiddenTabIntervalMs = ms
	c.mu.Unlock()
}
