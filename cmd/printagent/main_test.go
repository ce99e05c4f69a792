package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRun_Version(t *testing.T) {
	assert.NoError(t, run([]string{"--version"}))
}

func TestRun_HashPassword(t *testing.T) {
	assert.NoError(t, run([]string{"hash-password", "long-enough"}))
	assert.Error(t, run([]string{"hash-password", "short"}))
	assert.Error(t, run([]string{"hash-password", "a", "b"}))
}

func TestRun_Serial(t *testing.T) {
	t.Setenv("PRINTAGENT_SERIAL", "")
	path := writeConfig(t, "device:\n  serial: kiosk-7\nlogging:\n  level: error\n")

	assert.NoError(t, run([]string{"-c", path, "serial"}))
}

func TestRun_RejectsInvalidConfig(t *testing.T) {
	t.Setenv("PRINTAGENT_API_URL", "")
	path := writeConfig(t, "printer:\n  name: Zebra\nlogging:\n  level: error\n")

	err := run([]string{"-c", path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestRun_UnknownCommand(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: error\n")

	err := run([]string{"-c", path, "frobnicate"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frobnicate")

	assert.Error(t, run([]string{"-c", path, "serial", "extra"}))
}

func TestRun_OptionsNeedsPrinter(t *testing.T) {
	t.Setenv("PRINTAGENT_PRINTER", "")
	path := writeConfig(t, "logging:\n  level: error\n")

	assert.Error(t, run([]string{"-c", path, "options"}))
}

func TestWaitForDispatch_SurvivesStatusAPIFailure(t *testing.T) {
	dispatchErr := make(chan error, 1)
	serverErr := make(chan error, 1)
	serverErr <- errors.New("listen tcp :8080: bind: address already in use")

	done := make(chan error, 1)
	go func() {
		done <- waitForDispatch(zerolog.Nop(), dispatchErr, serverErr)
	}()

	select {
	case err := <-done:
		t.Fatalf("returned after status API failure: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, serverErr)

	dispatchErr <- nil
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("did not return after dispatcher stopped")
	}
}

func TestWaitForDispatch_ReturnsDispatcherError(t *testing.T) {
	dispatchErr := make(chan error, 1)
	boom := errors.New("boom")
	dispatchErr <- boom

	assert.ErrorIs(t, waitForDispatch(zerolog.Nop(), dispatchErr, make(chan error)), boom)
}
