package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gxo-labs/ruleflow/internal/config"
)

func TestLoadSettings_Defaults(t *testing.T) {
	s, err := config.LoadSettings("")
	require.NoError(t, err)

	assert.Equal(t, "INFO", s.Log.Level)
	assert.Equal(t, ":8080", s.HTTP.Addr)
	assert.Equal(t, 30*time.Second, s.Engine.StepTimeout)
	assert.Equal(t, "lenient", s.Engine.DependencyMode)
	assert.False(t, s.ExecLog.Enabled())
	assert.Contains(t, s.Engine.RedactedKeywords, "password")
}

func TestLoadSettings_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ruleflow.yaml")
	content := `
log:
  level: DEBUG
  format: json
catalog:
  path: /etc/ruleflow/catalog.yaml
  watch: true
execlog:
  driver: sqlite
  dsn: file:exec.db
engine:
  step_timeout: 5s
  worker_pool_size: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("RULEFLOW_HTTP_ADDR", ":9999")
	t.Setenv("RULEFLOW_ENGINE_DEPENDENCY_MODE", "strict")

	s, err := config.LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", s.Log.Level)
	assert.Equal(t, "json", s.Log.Format)
	assert.True(t, s.Catalog.Watch)
	assert.Equal(t, "/etc/ruleflow/catalog.yaml", s.Catalog.Path)
	assert.Equal(t, config.DBSettings{Driver: "sqlite", DSN: "file:exec.db"}, s.ExecLog)
	assert.Equal(t, 5*time.Second, s.Engine.StepTimeout)
	assert.Equal(t, 4, s.Engine.WorkerPoolSize)
	assert.Equal(t, ":9999", s.HTTP.Addr)
	assert.Equal(t, "strict", s.Engine.DependencyMode)
}

func TestLoadSettings_Invalid(t *testing.T) {
	t.Setenv("RULEFLOW_EXECLOG_DRIVER", "mysql")
	t.Setenv("RULEFLOW_ENGINE_DEPENDENCY_MODE", "eventual")

	_, err := config.LoadSettings("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execlog.driver must be")
	assert.Contains(t, err.Error(), "execlog.dsn is required")
	assert.Contains(t, err.Error(), "engine.dependency_mode")
}

func TestLoadSettings_MissingFile(t *testing.T) {
	_, err := config.LoadSettings(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
