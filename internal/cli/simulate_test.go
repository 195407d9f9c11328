package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "../harness/testdata/scenarios"

func runSimulateCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"simulate"}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestSimulate_BundledScenariosPass(t *testing.T) {
	out, err := runSimulateCmd(t, scenariosDir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ seven_failures_expel")
	assert.Contains(t, out, "✓ force_retry_completes")
	assert.Contains(t, out, "✓ offline_create_sync")
	assert.Contains(t, out, "Simulation Summary: 3 passed, 0 failed, 3 total")
}

func TestSimulate_FilterJSON(t *testing.T) {
	out, err := runSimulateCmd(t, scenariosDir, "--filter", "offline_*", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   SimulateResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "offline_create_sync", resp.Data.Scenarios[0].Name)
	assert.True(t, resp.Data.Scenarios[0].Pass)
}

func TestSimulate_UpdateThenMismatch(t *testing.T) {
	dir := t.TempDir()
	scenarios := filepath.Join(dir, "scenarios")
	require.NoError(t, os.MkdirAll(scenarios, 0o755))
	src, err := os.ReadFile(filepath.Join(scenariosDir, "force_retry_completes.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(scenarios, "force_retry_completes.yaml"), src, 0o644))

	_, err = runSimulateCmd(t, scenarios, "--update")
	require.NoError(t, err)

	golden := filepath.Join(dir, "golden", "force_retry_completes.golden")
	written, err := os.ReadFile(golden)
	require.NoError(t, err)
	want, err := os.ReadFile("../harness/testdata/golden/force_retry_completes.golden")
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))

	require.NoError(t, os.WriteFile(golden, []byte("{}\n"), 0o644))
	out, err := runSimulateCmd(t, scenarios)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ force_retry_completes")
	assert.Contains(t, out, "trace does not match golden file")
}

func TestSimulate_MissingPath(t *testing.T) {
	_, err := runSimulateCmd(t, filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSimulate_BadScenarioFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: broken\n"), 0o644))

	out, err := runSimulateCmd(t, path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "load scenario")
}
