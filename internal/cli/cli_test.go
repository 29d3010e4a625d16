package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--db", db}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommands_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "cli.db")
	changes := filepath.Join(dir, "changes.json")
	require.NoError(t, os.WriteFile(changes, []byte(`{"variant_b":[{"op":"hide","path":"fields.2"}]}`), 0o644))

	out, err := run(t, db, "create", "contact", "--variants", "Control,Short form", "--changes", changes, "--start")
	require.NoError(t, err)
	assert.Contains(t, out, "Created test 1")
	assert.Contains(t, out, "variant_b: Short form, 1 changes")
	assert.Contains(t, out, "Test is running.")

	out, err = run(t, db, "list", "--form", "contact")
	require.NoError(t, err)
	assert.Contains(t, out, "RUNNING")

	out, err = run(t, db, "results", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "TEST: 1")
	assert.Contains(t, out, "Not enough data")

	_, err = run(t, db, "delete", "1", "--yes")
	assert.ErrorContains(t, err, "running")

	_, err = run(t, db, "start", "1")
	assert.Error(t, err, "running tests cannot be started again")

	out, err = run(t, db, "export", "1", "--format", "json", "--daily=false")
	require.NoError(t, err)
	var exported jsonExport
	require.NoError(t, json.Unmarshal([]byte(out), &exported))
	assert.Empty(t, exported.Events)

	out, err = run(t, db, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "No running tests with auto-end enabled.")

	out, err = run(t, db, "complete", "1", "--variant", "variant_b", "--auto=false")
	require.NoError(t, err)
	assert.Contains(t, out, "winner variant_b")

	out, err = run(t, db, "delete", "1", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted test 1")

	out, err = run(t, db, "list", "--form", "")
	require.NoError(t, err)
	assert.Contains(t, out, "No tests yet.")
}

func TestCommands_InvalidArgs(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")

	_, err := run(t, db, "results", "abc")
	assert.ErrorContains(t, err, "invalid test id")

	_, err = run(t, db, "pause", "42")
	assert.ErrorContains(t, err, "not found")

	_, err = run(t, db, "export", "1", "--format", "xml")
	assert.ErrorContains(t, err, "invalid format")
}

func TestParseVariants(t *testing.T) {
	configs, err := parseVariants("", "", "")
	require.NoError(t, err)
	assert.Nil(t, configs)

	configs, err = parseVariants(" A , B ,C", "2,1,1", "")
	require.NoError(t, err)
	require.Len(t, configs, 3)
	assert.Equal(t, "variant_a", configs[0].ID)
	assert.True(t, configs[0].IsControl)
	assert.Equal(t, "B", configs[1].Name)
	assert.Equal(t, 2.0, configs[0].Weight)

	_, err = parseVariants("A", "", "")
	assert.ErrorContains(t, err, "at least 2")

	_, err = parseVariants("A,B", "1", "")
	assert.ErrorContains(t, err, "weights")

	_, err = parseVariants("", "1,1", "")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "changes.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"variant_z":[]}`), 0o644))
	_, err = parseVariants("A,B", "", path)
	assert.ErrorContains(t, err, "unknown variant")
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "12,345", formatNumber(12345))
	assert.Equal(t, "1,234,567", formatNumber(1234567))
}
