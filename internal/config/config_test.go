package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 5*time.Second, cfg.StorageTimeout)
	require.Equal(t, 3, cfg.MaxRetries)
	require.Empty(t, cfg.PGDSN)
	require.Equal(t, []string{"*"}, cfg.Origins())
	require.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FLOWLEDGER_STORAGE_TIMEOUT", "250ms")
	t.Setenv("FLOWLEDGER_MAX_RETRIES", "7")
	t.Setenv("FLOWLEDGER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("FLOWLEDGER_APP_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)
	lc := cfg.Ledger()
	require.Equal(t, 250*time.Millisecond, lc.StorageTimeout)
	require.Equal(t, 7, lc.MaxRetries)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Origins())
	require.True(t, cfg.IsProduction())
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("FLOWLEDGER_STORAGE_TIMEOUT", "0s")
	t.Setenv("FLOWLEDGER_LOG_FORMAT", "xml")
	_, err := Load()
	require.ErrorContains(t, err, "STORAGE_TIMEOUT")
	require.ErrorContains(t, err, "LOG_FORMAT")

	t.Setenv("FLOWLEDGER_MAX_RETRIES", "many")
	_, err = Load()
	require.Error(t, err)
}
