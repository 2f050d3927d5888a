package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddress)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 70.0, cfg.Healing.AutoFixThreshold)
	assert.Equal(t, 2.0, cfg.Heartbeat.GapThresholdMinutes)
	assert.Equal(t, time.Minute, cfg.Heartbeat.Interval)
}

func TestLoadYAMLAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: pgx
  dsn: postgres://heal@localhost/heal
healing:
  autoFixThreshold: 80
  reviewPaths: ["infra/**"]
jobs:
  - name: nightly-scan
    schedule: "@daily"
    enabled: true
    expectedDuration: 20m
    diagnostics: [content-rules]
`)
	t.Setenv("MIRADOR_HEAL_HEARTBEAT_INTERVAL", "30s")
	t.Setenv("MIRADOR_HEAL_OPERATOR_TOKEN", "0123456789abcdef0123")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, 80.0, cfg.Healing.AutoFixThreshold)
	assert.Equal(t, 30*time.Second, cfg.Heartbeat.Interval)
	require.Len(t, cfg.Jobs, 1)
	assert.Equal(t, 20*time.Minute, cfg.Jobs[0].ExpectedDuration)
	require.Len(t, cfg.Auth.Operators, 1)
	assert.Equal(t, "operator", cfg.Auth.Operators[0].ID)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"threshold": "healing:\n  autoFixThreshold: 170\n",
		"driver":    "database:\n  driver: oracle\n",
		"github":    "contentHost:\n  kind: github\n  owner: ''\n",
		"duplicate": "jobs:\n  - name: a\n  - name: a\n",
		"token":     "auth:\n  operators:\n    - id: ops\n      token: short\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "not found")
}
