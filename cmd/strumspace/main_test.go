package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/strumspace/internal/config"
	"github.com/dreamware/strumspace/internal/coordinator"
	"github.com/dreamware/strumspace/internal/service"
	"github.com/dreamware/strumspace/internal/stub"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{config.EnvListen, config.EnvInterpreterURL, config.EnvTrackerURL,
		config.EnvRedisAddr, config.EnvLogLevel, config.EnvChordTable} {
		t.Setenv(k, "")
	}
}

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		configPath = ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3")
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "strumspace version 1.2.3\n", out)
}

func TestChordsCommands(t *testing.T) {
	clearEnv(t)

	out, err := execute(t, "chords", "list", "--difficulty", "advanced", "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "g/b")
	assert.Contains(t, out, "TOTAL")

	out, err = execute(t, "chords", "show", "B minor", "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "STRING")

	out, err = execute(t, "chords", "progression", "d", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"key": "D"`)

	_, err = execute(t, "chords", "show", "h13", "-o", "table")
	assert.Error(t, err)
}

func TestChordsCommandUsesConfiguredTable(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	tablePath := filepath.Join(dir, "chords.yaml")
	require.NoError(t, os.WriteFile(tablePath, []byte(`chords:
  - id: x
    name: X
    displayName: X Chord
    difficulty: beginner
    positions:
      - {string: 1, fret: 1, finger: 1}
`), 0o600))
	cfgPath := filepath.Join(dir, "strumspace.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf("chordTable: %s\n", tablePath)), 0o600))

	out, err := execute(t, "--config", cfgPath, "chords", "list", "--difficulty", "", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"displayName": "X Chord"`)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitCodeConfig, exitCode(config.ValidationErrors{{Field: "listen", Message: "required"}}))
	assert.Equal(t, ExitCodeConfig, exitCode(fmt.Errorf("load: %w", os.ErrNotExist)))
	assert.Equal(t, ExitCodeError, exitCode(fmt.Errorf("boom")))
}

func TestNewAppRegistersConfiguredServices(t *testing.T) {
	cfg := config.Default()
	cfg.Services.Tracker.URL = "http://cv.internal:5000"

	a, err := newApp(cfg)
	require.NoError(t, err)

	d, err := a.orch.Registry().Get(service.Tracker)
	require.NoError(t, err)
	assert.Equal(t, "http://cv.internal:5000", d.Address)
	assert.Equal(t, service.HealthUnknown, d.Health)
	assert.Equal(t, []string{"guitar_detection", "ar_overlay", "real_time_tracking"}, d.Capabilities)

	_, err = a.orch.Registry().Get(service.Interpreter)
	assert.NoError(t, err)
}

func TestNewAppBadChordTable(t *testing.T) {
	cfg := config.Default()
	cfg.ChordTable = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := newApp(cfg)
	assert.Error(t, err)
}

// TestAppRunProbesAndStops starts the whole process against two stubs and
// checks that the initial probe marks them healthy and that cancellation
// shuts everything down.
func TestAppRunProbesAndStops(t *testing.T) {
	interp := httptest.NewServer(stub.New(service.Interpreter, nil, 0).Handler())
	defer interp.Close()
	tracker := httptest.NewServer(stub.New(service.Tracker, nil, 0).Handler())
	defer tracker.Close()

	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"
	cfg.Services.Interpreter.URL = interp.URL
	cfg.Services.Tracker.URL = tracker.URL

	a, err := newApp(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	require.Eventually(t, func() bool {
		return a.orch.SystemStatus().Overall == coordinator.OverallExcellent
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestStatusCommand(t *testing.T) {
	a, err := newApp(config.Default())
	require.NoError(t, err)
	ts := httptest.NewServer(a.server)
	defer ts.Close()

	out, err := execute(t, "status", "--server", ts.URL, "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "Overall: critical")
	assert.Contains(t, out, "interpreter")
	assert.Contains(t, out, "unknown")

	_, err = execute(t, "status", "--server", "http://127.0.0.1:1", "--timeout", "500ms")
	assert.ErrorIs(t, err, service.ErrRemoteUnavailable)
}

func TestRunStubServesAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runStub(ctx, &stubOptions{name: "tracker", listen: "127.0.0.1:0", mode: "ok"})
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stub did not stop")
	}

	err := runStub(context.Background(), &stubOptions{name: "tracker", listen: "127.0.0.1:0", mode: "sideways"})
	assert.True(t, err != nil && strings.Contains(err.Error(), "unknown mode"))
}
