package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limiquantix/consolidator/internal/consolidation"
	"github.com/limiquantix/consolidator/internal/domain"
	"github.com/limiquantix/consolidator/internal/scheduler"
)

const testConfig = `
consolidation:
  interval: 30s
  secure_selection: first_pm
  release_policy: none
scheduler:
  placement_strategy: pack
simulation:
  tick: 10
  max_ticks: 100
fleet:
  machines:
    - id: pm-1
      capacities: {processing_power: 8, memory: 16384}
      initial_state: RUNNING
      power_watts: 250
    - id: pm-sec
      capacities: {processing_power: 16, memory: 32768}
      secure_enclave: true
workload:
  requests:
    - tenant: acme
      type: {name: database}
      resources: {processing_power: 1.5, memory: 2048}
      supports_secure_enclaves: true
      start_time: 0
      duration: 600
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "logging:\n  level: debug\n"))
	require.NoError(t, err)

	assert.True(t, cfg.Consolidation.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Consolidation.Interval)
	assert.Equal(t, time.Minute, cfg.Consolidation.PassTimeout)
	assert.Equal(t, consolidation.DefaultConfig(), cfg.Consolidation.Engine)
	assert.Equal(t, scheduler.StrategyFirstFit, cfg.Scheduler.PlacementStrategy)
	assert.True(t, cfg.Scheduler.PowerOnWhenFull)
	assert.InDelta(t, 60.0, cfg.Simulation.Tick, 1e-9)
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, []string{"GET", "POST", "OPTIONS"}, cfg.CORS.AllowedMethods)
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Consolidation.Interval)
	assert.Equal(t, consolidation.SecureSelectionFirstPM, cfg.Consolidation.Engine.SecureSelection)
	assert.Equal(t, consolidation.ReleaseNone, cfg.Consolidation.Engine.ReleasePolicy)
	assert.Equal(t, scheduler.StrategyPack, cfg.Scheduler.PlacementStrategy)
	assert.Equal(t, 100, cfg.Simulation.MaxTicks)

	require.Len(t, cfg.Fleet.Machines, 2)
	assert.Equal(t, domain.MachineSpec{
		ID:           "pm-1",
		Capacities:   domain.NewResources(8, 16384),
		InitialState: domain.PowerStateRunning,
		PowerWatts:   250,
	}, cfg.Fleet.Machines[0])
	assert.True(t, cfg.Fleet.Machines[1].SecureEnclave)

	require.Len(t, cfg.Workload.Requests, 1)
	req := cfg.Workload.Requests[0]
	assert.Equal(t, "acme", req.Tenant)
	assert.Equal(t, "database", req.Type.Name)
	assert.Equal(t, domain.NewResources(1.5, 2048), req.Resources)
	assert.True(t, req.SupportsSecureEnclaves)
	assert.InDelta(t, 600.0, req.Duration, 1e-9)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CONSOLIDATOR_LOGGING_FORMAT", "console")

	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoad_InvalidPolicy(t *testing.T) {
	_, err := Load(writeConfig(t, "consolidation:\n  release_policy: always\n"))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestDatabaseConfig_URL(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Port: 5432, Name: "journal", User: "u", Password: "p", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/journal?sslmode=disable", cfg.URL())
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=journal sslmode=disable", cfg.DSN())
}
