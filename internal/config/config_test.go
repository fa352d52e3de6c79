package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 5, cfg.Engine.Workers)
	assert.Equal(t, 30, cfg.Engine.QueueDepth)
	assert.Equal(t, 30*time.Second, cfg.Engine.StepTimeout)
	assert.Equal(t, int64(10), cfg.Resilience.Agent.MaxConcurrent)
	assert.Equal(t, 500*time.Millisecond, cfg.Resilience.Agent.MaxWait)
	assert.Equal(t, "workflow_events", cfg.Events.NotifyChannel)
	assert.Equal(t, "host=localhost port=5432 user=postgres password= dbname=orchestrator sslmode=disable", cfg.DSN())
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
  tls_hostnames: [localhost, 127.0.0.1]
store:
  driver: memory
engine:
  workers: 2
  retry_max_delay: 5s
resilience:
  agent:
    rate_per_second: 5
`), 0o644))
	t.Setenv("ORCHESTRATOR_ENGINE_WORKERS", "8")
	t.Setenv("ORCHESTRATOR_DB_HOST", "db.internal")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"localhost", "127.0.0.1"}, cfg.Server.TLSHostnames)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 5*time.Second, cfg.Engine.RetryMaxDelay)
	assert.Equal(t, 5.0, cfg.Resilience.Agent.RatePerSecond)
	assert.Equal(t, "db.internal", cfg.DB.Host)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "driver.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: sqlite\n"), 0o644))
	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "sqlite")

	path = filepath.Join(dir, "workers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  workers: 0\n"), 0o644))
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "engine.workers")

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
