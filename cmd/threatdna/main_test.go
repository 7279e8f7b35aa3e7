package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nshruti113/threatdna/internal/export"
)

const traffic = "src_ip,dst_ip,timestamp,country,dst_port,bytes_in,bytes_out\n" +
	"203.0.113.10,10.0.0.2,2024-03-11T10:05:00Z,US,8080,5,5\n" +
	"10.0.0.1,10.0.0.2,2024-03-11T10:00:00Z,IN,443,100,200\n" +
	"10.0.0.1,10.0.0.2,bad-time,IN,443,100,200\n"

func TestRun_WritesOutputs(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "traffic.csv")
	require.NoError(t, os.WriteFile(input, []byte(traffic), 0o644))
	out := filepath.Join(dir, "out")

	var stderr bytes.Buffer
	code := run([]string{"-input", input, "-out", out, "-workers", "2"}, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	f, err := os.Open(filepath.Join(out, "alerts.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := export.ReadAlerts(f)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	patterns, err := os.ReadFile(filepath.Join(out, "patterns.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(patterns), "Behaviour,DNA,Count\n"))

	records, err := os.ReadFile(filepath.Join(out, "records.csv"))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(records)), "\n"), 3)
}

func TestRun_MissingInputWritesNothing(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")

	var stderr bytes.Buffer
	code := run([]string{"-input", filepath.Join(dir, "missing.csv"), "-out", out}, &stderr)
	assert.Equal(t, exitFailure, code)
	assert.NoDirExists(t, out)
}

func TestRun_FailedOutputWritesNothing(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "traffic.csv")
	require.NoError(t, os.WriteFile(input, []byte(traffic), 0o644))
	out := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(filepath.Join(out, "records.csv", "keep"), 0o755))

	var stderr bytes.Buffer
	code := run([]string{"-input", input, "-out", out}, &stderr)
	assert.Equal(t, exitFailure, code)
	assert.NoFileExists(t, filepath.Join(out, "alerts.csv"))
	assert.NoFileExists(t, filepath.Join(out, "patterns.csv"))

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRun_Usage(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, exitUsage, run(nil, &stderr))
	assert.Contains(t, stderr.String(), "-input is required")

	stderr.Reset()
	assert.Equal(t, exitUsage, run([]string{"-input", "x.csv", "-config", "/nonexistent/threatdna.yaml"}, &stderr))
}
