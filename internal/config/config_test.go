package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsetFleetEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DOCKER_SOCK", "PROJECT_ROOT", "DASHBOARD_HOST", "DASHBOARD_PORT",
		"WIZARD_HOST", "WIZARD_PORT", "WIZARD_VERSION", "KASPA_NODE_HOST",
		"KASPA_NODE_PORT", "LOG_JSON", "METRICS_ENABLED", "BACKUP_RETENTION_COUNT",
		"UPDATE_INTERVAL_MS", "HIDDEN_TAB_INTERVAL_MS",
	} {
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	unsetFleetEnv(t)

	cfg := Load()
	assert.Equal(t, "/var/run/docker.sock", cfg.DockerSock)
	assert.Equal(t, "/opt/kaspa-aio", cfg.ProjectRoot)
	assert.Equal(t, "3000", cfg.DashboardPort)
	assert.Equal(t, "3001", cfg.WizardPort)
	assert.Equal(t, 5000, cfg.UpdateIntervalMs())
	assert.Equal(t, 30000, cfg.HiddenTabIntervalMs())
	assert.True(t, cfg.LogJSON)
}

func TestLoadFromEnv(t *testing.T) {
	unsetFleetEnv(t)
	t.Setenv("PROJECT_ROOT", "/srv/fleet")
	t.Setenv("DASHBOARD_PORT", "8000")
	t.Setenv("UPDATE_INTERVAL_MS", "2500")
	t.Setenv("LOG_JSON", "false")

	cfg := Load()
	assert.Equal(t, "/srv/fleet", cfg.ProjectRoot)
	assert.Equal(t, "8000", cfg.DashboardPort)
	assert.Equal(t, 2500, cfg.UpdateIntervalMs())
	assert.False(t, cfg.LogJSON)
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, NewTestConfig().Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"zero update interval":         func(c *Config) { c.SetUpdateIntervalMs(0) },
		"negative hidden tab interval": func(c *Config) { c.SetHiddenTabIntervalMs(-1) },
		"empty dashboard port":         func(c *Config) { c.DashboardPort = "" },
		"colliding bind addresses":     func(c *Config) { c.WizardHost = c.DashboardHost; c.WizardPort = c.DashboardPort },
		"relative project root":        func(c *Config) { c.ProjectRoot = "relative/path" },
		"malformed maintenance window": func(c *Config) { c.MaintenanceWindow = "nonsense" },
	}
	for name, corrupt := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := NewTestConfig()
			corrupt(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValuesReportsRuntimeFields(t *testing.T) {
	cfg := NewTestConfig()
	cfg.SetUpdateIntervalMs(1234)

	values := cfg.Values()
	assert.Equal(t, "1234", values["UPDATE_INTERVAL_MS"])
	assert.Equal(t, cfg.ProjectRoot, values["PROJECT_ROOT"])
}

func TestArtifactPaths(t *testing.T) {
	cfg := NewTestConfig()
	cfg.ProjectRoot = "/opt/kaspa-aio"

	assert.Equal(t, "/opt/kaspa-aio/.env", cfg.EnvFilePath())
	assert.Equal(t, "/opt/kaspa-aio/.kaspa-aio/installation-state.json", cfg.InstallStatePath())
	assert.Equal(t, "/opt/kaspa-aio/.kaspa-aio/wizard-state.json", cfg.WizardStatePath())
	assert.Equal(t, "/opt/kaspa-aio/.kaspa-backups", cfg.BackupsDir())
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("FLEETCTL_TEST_STR", "custom")
	assert.Equal(t, "custom", envStr("FLEETCTL_TEST_STR", "default"))
	assert.Equal(t, "fallback", envStr("FLEETCTL_TEST_ABSENT", "fallback"))

	t.Setenv("FLEETCTL_TEST_INT", "42")
	assert.Equal(t, 42, envInt("FLEETCTL_TEST_INT", 0))
	t.Setenv("FLEETCTL_TEST_INT", "notanumber")
	assert.Equal(t, 99, envInt("FLEETCTL_TEST_INT", 99), "parse failure falls back to default")

	t.Setenv("FLEETCTL_TEST_BOOL", "true")
	assert.True(t, envBool("FLEETCTL_TEST_BOOL", false))
	t.Setenv("FLEETCTL_TEST_BOOL", "invalid")
	assert.True(t, envBool("FLEETCTL_TEST_BOOL", true), "parse failure falls back to default")
}
