package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "ilp", cfg.Solver.Backend)
	assert.Equal(t, 8, cfg.Cluster.NumDevices)
	assert.Equal(t, 30*time.Second, cfg.Solver.ILP.TimeLimit)
}

func TestLoadWithMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "ilp", cfg.Solver.Backend)
}

func TestLoadFromEnvOverridesBackend(t *testing.T) {
	os.Setenv("PLANNER_SOLVER_BACKEND", "greedy")
	defer os.Unsetenv("PLANNER_SOLVER_BACKEND")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "greedy", cfg.Solver.Backend)
}

func TestValidateRejectsZeroDevices(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cluster.NumDevices = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Solver.Backend = "quantum"
	assert.Error(t, cfg.Validate())
}

func TestValidateExtendedRejectsNonDivisibleDeviceCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cluster.NumDevices = 7
	cfg.Cluster.NumDevicesPerNode = 4
	err := cfg.ValidateExtended()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "num_devices_per_node")
}

func TestValidateExtendedRejectsBadLoggingLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "verbose"
	err := cfg.ValidateExtended()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Solver.Backend = "search"

	tmp := t.TempDir() + "/plannerctl.yaml"
	require.NoError(t, cfg.Save(tmp))

	loaded, err := Load(tmp)
	require.NoError(t, err)
	assert.Equal(t, "search", loaded.Solver.Backend)
}
