package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"CARDDAV_SERVER",
		"ICLOUD_EMAIL",
		"ICLOUD_APP_SPECIFIC_PASSWORD",
		"CARDDAV_TIMEOUT",
		"CARDDAV_SEARCH_CONCURRENCY",
		"LOG_LEVEL",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestLoad_defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, &Config{
		Server:            "https://contacts.icloud.com",
		Timeout:           30 * time.Second,
		SearchConcurrency: 4,
		LogLevel:          "info",
	}, cfg)
}

func TestLoad_env(t *testing.T) {
	clearEnv(t)
	t.Setenv("CARDDAV_SERVER", "https://dav.example.com/")
	t.Setenv("ICLOUD_EMAIL", "jane@example.com")
	t.Setenv("ICLOUD_APP_SPECIFIC_PASSWORD", "abcd-efgh-ijkl-mnop")
	t.Setenv("CARDDAV_TIMEOUT", "5s")
	t.Setenv("CARDDAV_SEARCH_CONCURRENCY", "8")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, &Config{
		Server:            "https://dav.example.com/",
		Email:             "jane@example.com",
		Password:          "abcd-efgh-ijkl-mnop",
		Timeout:           5 * time.Second,
		SearchConcurrency: 8,
		LogLevel:          "debug",
	}, cfg)
}

func TestLoad_file(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "carddav.yml")
	require.NoError(t, os.WriteFile(path, []byte("server: https://dav.example.com/\nemail: jane@example.com\ntimeout: 45s\n"), 0o600))
	t.Setenv("ICLOUD_EMAIL", "john@example.com")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://dav.example.com/", cfg.Server)
	assert.Equal(t, "john@example.com", cfg.Email)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
	assert.Equal(t, 4, cfg.SearchConcurrency)
}

func TestLoad_invalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("CARDDAV_SEARCH_CONCURRENCY", "0")
	_, err := Load("")
	assert.Error(t, err)

	clearEnv(t)
	t.Setenv("CARDDAV_TIMEOUT", "soon")
	_, err = Load("")
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestUsage(t *testing.T) {
	assert.Contains(t, Usage(), "ICLOUD_APP_SPECIFIC_PASSWORD")
}
