package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("QUIZ_TEST_SET", "from-env")

	assert.Equal(t, "a from-env b", expandEnv("a ${QUIZ_TEST_SET} b"))
	assert.Equal(t, "from-env", expandEnv("${QUIZ_TEST_SET:fallback}"))
	assert.Equal(t, "fallback", expandEnv("${QUIZ_TEST_UNSET_VAR:fallback}"))
	assert.Equal(t, "", expandEnv("${QUIZ_TEST_UNSET_VAR:}"))
	assert.Equal(t, "${QUIZ_TEST_UNSET_VAR}", expandEnv("${QUIZ_TEST_UNSET_VAR}"))
}

func TestLoadFrom_MergesEnvFileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
backend:
  base_url: ${QUIZ_TEST_BACKEND:http://backend/api}
poller:
  interval: 3s
`)
	writeFile(t, dir, "config.staging.yaml", `
poller:
  soft_deadline: 90s
`)
	t.Setenv("APP_ENV", "staging")

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, "http://backend/api", cfg.Backend.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Poller.Interval)
	assert.Equal(t, 90*time.Second, cfg.Poller.SoftDeadline)
	assert.Equal(t, 5*time.Second, cfg.Poller.CancelTimeout)
	assert.Equal(t, 8080, cfg.Server.HTTP.Port)
	assert.Equal(t, int64(20<<20), cfg.Backend.MaxUploadBytes)
	assert.Equal(t, 2*time.Hour, cfg.Wizard.SessionTTL)
}

func TestLoadFrom_MissingBaseFile(t *testing.T) {
	_, err := LoadFrom(t.TempDir())
	assert.Error(t, err)
}

func TestLoadFrom_PrefixedEnvOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "poller:\n  interval: 3s\n")
	t.Setenv("APP_ENV", "test")
	t.Setenv("QUIZ_POLLER_INTERVAL", "7s")
	t.Setenv("QUIZ_WIZARD_MAX_SESSIONS", "12")

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, cfg.Poller.Interval)
	assert.Equal(t, 12, cfg.Wizard.MaxSessions)
}

func TestLoadFrom_RejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
backend:
  base_url: not-a-url
poller:
  interval: 5s
  soft_deadline: 1s
`)
	t.Setenv("APP_ENV", "test")

	_, err := LoadFrom(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.base_url")
	assert.Contains(t, err.Error(), "poller.soft_deadline")
}

func TestAddr(t *testing.T) {
	assert.Equal(t, "0.0.0.0:8080", HTTPServerConfig{Host: "0.0.0.0", Port: 8080}.Addr())
	assert.Equal(t, "[::1]:6379", RedisConfig{Host: "::1", Port: 6379}.Addr())
}
