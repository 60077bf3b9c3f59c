package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wolfcal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /var/lib/wolfcal/wolfcal.db
remote:
  base_url: https://calendar.example.com
  token: initial-token
  refresh_url: https://auth.example.com/token
  refresh_token: long-lived
scheduler:
  enabled: true
  interval: "@every 10m"
server:
  host: 0.0.0.0
  port: 9090
logging:
  level: debug
  format: json
accounts:
  - id: work
  - id: personal
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/wolfcal/wolfcal.db", cfg.Database.Path)
	require.Equal(t, "https://calendar.example.com", cfg.Remote.BaseURL)
	require.Equal(t, "@every 10m", cfg.Scheduler.Interval)
	require.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, []string{"work", "personal"}, cfg.AccountIDs())
}

func TestLoad_DefaultsApply(t *testing.T) {
	path := writeConfig(t, `
remote:
  base_url: https://calendar.example.com
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "wolfcal.db", cfg.Database.Path)
	require.True(t, cfg.Scheduler.Enabled)
	require.Equal(t, "@every 5m", cfg.Scheduler.Interval)
	require.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_MissingFileUsesEnv(t *testing.T) {
	t.Setenv("WOLFCAL_REMOTE_BASE_URL", "https://calendar.example.com")
	t.Setenv("WOLFCAL_DATABASE_PATH", "/tmp/env.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, "https://calendar.example.com", cfg.Remote.BaseURL)
	require.Equal(t, "/tmp/env.db", cfg.Database.Path)
}

func TestLoad_RequiresBaseURL(t *testing.T) {
	path := writeConfig(t, `
database:
  path: wolfcal.db
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeConfig(t, "{not yaml: [")
	_, err := Load(path)
	require.Error(t, err)
}
