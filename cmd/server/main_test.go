package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_FailsOnMissingConfig(t *testing.T) {
	for _, key := range []string{
		"EVALUATOR_ROOT", "VENV_ROOT", "WATCHER_URL", "AUTH_ALLOWED_KEYS",
	} {
		t.Setenv(key, "")
	}

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnBadAllowedKey(t *testing.T) {
	t.Setenv("EVALUATOR_ROOT", t.TempDir())
	t.Setenv("VENV_ROOT", t.TempDir())
	t.Setenv("WATCHER_URL", "http://localhost:9999/events")
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("AUTH_ALLOWED_KEYS", "not-hex-at-all")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build verifier")
}

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}
