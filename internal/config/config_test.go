package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Orchestrator.TickInterval)
	assert.Equal(t, 8, cfg.Orchestrator.Parallelism)
	assert.Equal(t, 6*time.Hour, cfg.Orchestrator.LockTTL)
	assert.Equal(t, 3, cfg.Orchestrator.MaxVerifyAttempts)
	assert.True(t, cfg.Orchestrator.RequireArtifact)
	assert.Equal(t, "phasegate/", cfg.GitHub.BranchPrefix)
	assert.Equal(t, "*/5 * * * *", cfg.Sweeper.Cron)
	assert.Equal(t, 8081, cfg.HTTP.OrchestratorPort)
	assert.Equal(t, 8080, cfg.HTTP.APIPort)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phasegate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
orchestrator:
  tick_interval: 2s
  batch_size: 5
github:
  branch_prefix: bots/
`), 0o600))

	t.Setenv("PHASEGATE_ORCHESTRATOR_BATCH_SIZE", "7")
	t.Setenv("PHASEGATE_ORCHESTRATOR_CLOSE_PARENT_TICKET", "true")
	t.Setenv("PHASEGATE_PREFLIGHT_MIN_RATE_LIMIT", "50")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Orchestrator.TickInterval)
	assert.Equal(t, 7, cfg.Orchestrator.BatchSize)
	assert.True(t, cfg.Orchestrator.CloseParentTicket)
	assert.Equal(t, "bots/", cfg.GitHub.BranchPrefix)
	assert.Equal(t, 50, cfg.Preflight.MinRateLimit)
}

func TestLoad_LegacyEnv(t *testing.T) {
	t.Setenv("DB_URL", "postgresql://u:p@db:5432/x")
	t.Setenv("ORCH_PORT", "9001")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgresql://u:p@db:5432/x", cfg.Database.URL)
	assert.Equal(t, 9001, cfg.HTTP.OrchestratorPort)

	// префиксная переменная важнее
	t.Setenv("PHASEGATE_HTTP_ORCHESTRATOR_PORT", "9002")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 9002, cfg.HTTP.OrchestratorPort)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("PHASEGATE_ORCHESTRATOR_PARALLELISM", "0")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parallelism")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "orchestrator.tick_interval", envKey("PHASEGATE_ORCHESTRATOR_TICK_INTERVAL"))
	assert.Equal(t, "github.token", envKey("PHASEGATE_GITHUB_TOKEN"))
	assert.Equal(t, "debug", envKey("PHASEGATE_DEBUG"))
}
