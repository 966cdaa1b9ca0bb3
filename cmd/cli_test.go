package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nkthebass/XenoCPUUtility-legacy/config"
	"github.com/nkthebass/XenoCPUUtility-legacy/systeminfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHardware() systeminfo.Static {
	return systeminfo.Static{
		Cores:   2,
		Memory:  1 << 30,
		Modules: []systeminfo.Module{{GenerationCode: 0x1A, SpeedMHz: 3200, Locator: "DIMM0", Size: "8 GB"}},
	}
}

func testSocket(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "xeno")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "ctl.sock")
}

func executeCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeApp(t, &app{hw: testHardware()}, append([]string{"--log-file", "-"}, args...)...)
}

func executeApp(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(a)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := a.execute(ctx, root)
	return out.String(), err
}

func TestConfigInitWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	stdout, err := executeCLI(t, "config", "init", "--path", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Wrote "+path)

	cfg, err := config.Load(config.NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	_, err = executeCLI(t, "config", "init", "--path", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = executeCLI(t, "config", "init", "--path", path, "--force")
	assert.NoError(t, err)
}

func TestConfigShowLayersFlagsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"threads": 3, "ram_type": "DDR2"}`), 0o644))

	stdout, err := executeCLI(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, stdout, "threads = 3")
	assert.Contains(t, stdout, "ram_type = 'DDR2'")
	assert.Contains(t, stdout, "# from "+path)

	stdout, err = executeCLI(t, "--config", path, "--socket", "/tmp/other.sock", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, stdout, "socket = '/tmp/other.sock'")
}

func TestInvalidConfigIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ram_type": "DDR7"}`), 0o644))

	_, err := executeCLI(t, "--config", path, "info")
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestBenchSingle(t *testing.T) {
	stdout, err := executeCLI(t, "bench", "single", "--duration", "150ms", "--runs", "2")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Single-Core: ")
	assert.Contains(t, stdout, "(Run 1/2)")
	assert.Contains(t, stdout, "(Run 2/2)")
	assert.Contains(t, stdout, "Completed 2 run(s)")
}

func TestBenchMultiSession(t *testing.T) {
	stdout, err := executeCLI(t, "--socket", testSocket(t), "bench", "multi", "--duration", "150ms", "--session")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Multi-Core: ")
	assert.Contains(t, stdout, "Completed 1 run(s)")
}

func TestStressHeavyWithDuration(t *testing.T) {
	stdout, err := executeCLI(t, "--socket", testSocket(t), "stress", "heavy", "--duration", "150ms", "--threads", "2")
	require.NoError(t, err)
	assert.Contains(t, stdout, "mode=cpu-heavy")
	assert.Contains(t, stdout, "workers=2")
}

func TestStressRAMWithDuration(t *testing.T) {
	stdout, err := executeCLI(t, "--socket", testSocket(t),
		"stress", "ram", "--duration", "200ms", "--threads", "1", "--ram-type", "DDR5", "--ram-budget", "32MB", "--pass-throttle", "1ms")
	require.NoError(t, err)
	assert.Contains(t, stdout, "profile=DDR5")
	assert.Contains(t, stdout, "errors=0")
}

func TestCtlWithoutSession(t *testing.T) {
	_, err := executeCLI(t, "--socket", testSocket(t), "ctl", "status", "--timeout", "100ms")
	assert.ErrorContains(t, err, "failed to connect")
}

func TestCtlStopsRunningStress(t *testing.T) {
	sock := testSocket(t)

	done := make(chan error, 1)
	var stressOut string
	go func() {
		out, err := executeCLI(t, "--socket", sock, "stress", "instability", "--threads", "2", "--grace-period", "500ms")
		stressOut = out
		done <- err
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(sock)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	stdout, err := executeCLI(t, "--socket", sock, "ctl", "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "state=running")

	_, err = executeCLI(t, "--socket", sock, "ctl", "stop")
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
		assert.Contains(t, stressOut, "state=idle")
	case <-time.After(10 * time.Second):
		t.Fatal("stress session did not end after ctl stop")
	}
}

func TestInfo(t *testing.T) {
	stdout, err := executeCLI(t, "info", "--debug")
	require.NoError(t, err)
	assert.Contains(t, stdout, "RAM Profile: DDR4")
	assert.Contains(t, stdout, "RAM Plan: 256.00MB in 1 buffers")
}

func TestLogClosedWhenCommandFails(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "stress.log")
	a := &app{hw: testHardware()}

	_, err := executeApp(t, a, "--log-file", logFile, "--socket", testSocket(t), "ctl", "status", "--timeout", "100ms")
	require.Error(t, err)
	assert.Nil(t, a.logger, "logger left open after a failed command")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Connection attempt failed")
}

func TestRunByModeName(t *testing.T) {
	stdout, err := executeCLI(t, "--socket", testSocket(t), "run", "single-score", "--duration", "150ms", "--threads", "1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "mode=single-score")
	assert.Contains(t, stdout, "single-core score")

	_, err = executeCLI(t, "--socket", testSocket(t), "run", "gpu")
	assert.ErrorContains(t, err, "unknown mode")
}
