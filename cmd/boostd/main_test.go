package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boostd/boostd/internal/buildinfo"
	boosttest "github.com/boostd/boostd/internal/testing"
)

// writeDaemonConfig writes definitions and a config that keeps every path
// under a short temp dir.
func writeDaemonConfig(t *testing.T, extra string) string {
	t.Helper()
	temp, err := os.MkdirTemp("", "boostd")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(temp) })

	resources, boosts := boosttest.WriteConfig(t, temp)
	configPath := filepath.Join(temp, "config.yaml")
	content := "run_dir: " + filepath.Join(temp, "run") + "\n" +
		"data_dir: " + filepath.Join(temp, "data") + "\n" +
		"resources_path: " + resources + "\n" +
		"boosts_dir: " + boosts + "\n" +
		"node_root: " + filepath.Join(temp, "nodes") + "\n" +
		extra
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	return configPath
}

func TestCheckCommand(t *testing.T) {
	configPath := writeDaemonConfig(t, "")
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"check", "--config", configPath}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "ok: 6 resources, 13 commands")
}

func TestCheckCommandReportsBadDefinitions(t *testing.T) {
	configPath := writeDaemonConfig(t, "")
	boosts := filepath.Join(filepath.Dir(configPath), "boosts.d")
	require.NoError(t, os.WriteFile(filepath.Join(boosts, "50-bad.yaml"), []byte(`
category: perf
actions:
  - id: 150
    name: bad
    steps:
      - duration_ms: 10
        settings:
          - {resource: nope, value: 1}
`), 0o644))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"check", "--config", configPath}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "unknown resource")
	assert.Empty(t, stdout.String())
}

func TestConfigLoadFailure(t *testing.T) {
	t.Run("missing config", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		missing := filepath.Join(t.TempDir(), "nonexistent", "config.yaml")
		code := run(context.Background(), []string{"--config", missing}, &stdout, &stderr)
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr.String(), "read config")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0o644))
		var stdout, stderr bytes.Buffer
		code := run(context.Background(), []string{"--config", configPath}, &stdout, &stderr)
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr.String(), "parse config")
	})

	t.Run("bad log level", func(t *testing.T) {
		configPath := writeDaemonConfig(t, "log_level: loud\n")
		var stdout, stderr bytes.Buffer
		code := run(context.Background(), []string{"--config", configPath}, &stdout, &stderr)
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr.String(), "log_level")
	})
}

func TestDaemonStopsWithContext(t *testing.T) {
	configPath := writeDaemonConfig(t, "report_sink: log\njournal: false\nlog_format: console\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer
	code := run(ctx, []string{"--config", configPath, "--dry-run"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stderr.String(), "starting boostd")
	_, err := os.Stat(filepath.Join(filepath.Dir(configPath), "run", "boostd.sock"))
	assert.True(t, os.IsNotExist(err), "socket should be removed")
}

func TestVersionOutput(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--version"}, &stdout, &stderr)
	require.Equal(t, 0, code)
	assert.Equal(t, buildinfo.String()+"\n", stdout.String())
}
