package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: 9090
  read_timeout: 5s
reports:
  definitions_dir: /etc/reports
  cache_backend: sqlite
  cleanup_interval: 1m
storage:
  backend: local
  local_dir: /var/exports
scheduler:
  enabled: true
  schedules:
    - id: nightly-sales
      report_code: sales
      cron: "0 2 * * *"
      timezone: Europe/Berlin
      format: csv
      enabled: true
      params:
        year: 2025
telemetry:
  endpoint: localhost:4318
  insecure: true
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "file", cfg.Reports.DefinitionSource)
	assert.Equal(t, "memory", cfg.Reports.CacheBackend)
	assert.False(t, cfg.Database.Enabled())
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.GetServerAddr())
}

func TestLoadConfig_YAMLFile(t *testing.T) {
	cfg, err := LoadConfig(writeFile(t, "config.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	// untouched keys keep their defaults
	assert.Equal(t, 2*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, "/etc/reports", cfg.Reports.DefinitionsDir)
	assert.Equal(t, "sqlite", cfg.Reports.CacheBackend)
	assert.Equal(t, time.Minute, cfg.Reports.CleanupInterval)
	assert.Equal(t, "local", cfg.Storage.Backend)

	require.Len(t, cfg.Scheduler.Schedules, 1)
	s := cfg.Scheduler.Schedules[0]
	assert.Equal(t, "nightly-sales", s.ID)
	assert.Equal(t, "Europe/Berlin", s.Timezone)
	assert.True(t, s.Enabled)
	assert.EqualValues(t, 2025, s.Params["year"])

	assert.Equal(t, "localhost:4318", cfg.Telemetry.Endpoint)
	assert.True(t, cfg.Telemetry.Insecure)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("DATABASE_HOST", "db.internal")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("REPORTS_DEFINITION_SOURCE", "both")
	t.Setenv("REPORTS_WATCH_DEFINITIONS", "true")
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("STORAGE_BUCKET", "reports")

	cfg, err := LoadConfig(writeFile(t, "config.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.True(t, cfg.Database.Enabled())
	assert.Equal(t, "s3cret", cfg.Security.JWTSecret)
	assert.Equal(t, "both", cfg.Reports.DefinitionSource)
	assert.True(t, cfg.Reports.WatchDefinitions)
	assert.Equal(t, "s3", cfg.Storage.Backend)
	assert.Contains(t, cfg.Database.GetDatabaseURL(), "@db.internal:5432/")
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed yaml", "server: [unclosed"},
		{"unknown cache backend", "reports:\n  cache_backend: redis\n"},
		{"database source without host", "reports:\n  definition_source: database\n"},
		{"s3 without bucket", "storage:\n  backend: s3\n"},
		{"schedule without id", "scheduler:\n  schedules:\n    - report_code: sales\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, "config.yaml", tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoggingConfig_NewLogger(t *testing.T) {
	logger, err := LoggingConfig{Level: "debug", Development: true}.NewLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	_, err = LoggingConfig{Level: "loud"}.NewLogger()
	assert.Error(t, err)
}
