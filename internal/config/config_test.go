package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
run_dir: `+filepath.Join(dir, "run")+`
data_dir: `+filepath.Join(dir, "data")+`
resources_path: /opt/boostd/resources.yaml
boost_paths: [/opt/boostd/perf.yaml, /opt/boostd/thermal.yaml]
node_root: `+dir+`
dry_run: true
metrics_listen: 127.0.0.1:9464
log_level: DEBUG
log_format: console
report_sink: log
journal: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.ConfigPath)
	assert.Equal(t, filepath.Join(dir, "run", "boostd.sock"), cfg.SocketPath)
	assert.Equal(t, filepath.Join(dir, "data", "boostd.db"), cfg.DBPath)
	assert.Equal(t, "/opt/boostd/resources.yaml", cfg.ResourcesPath)
	assert.Equal(t, []string{"/opt/boostd/perf.yaml", "/opt/boostd/thermal.yaml"}, cfg.BoostPaths)
	assert.Equal(t, "/etc/boostd/boosts.d", cfg.BoostsDir)
	assert.Equal(t, dir, cfg.NodeRoot)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, ReportSinkLog, cfg.ReportSink)
	assert.False(t, cfg.Journal)
	assert.False(t, cfg.NeedsDB())
}

func TestLoadExplicitPathsWin(t *testing.T) {
	path := writeConfig(t, `
run_dir: /tmp/run
socket_path: /tmp/custom.sock
data_dir: /tmp/data
db_path: /tmp/other.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.sock", cfg.SocketPath)
	assert.Equal(t, "/tmp/other.db", cfg.DBPath)
}

func TestLoadFailures(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing", "config.yaml"))
	assert.ErrorContains(t, err, "read config")

	_, err = Load(writeConfig(t, "invalid: yaml: content: ["))
	assert.ErrorContains(t, err, "parse config")

	_, err = Load(writeConfig(t, "report_sink: kafka\n"))
	assert.ErrorContains(t, err, "report_sink")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing run dir", func(c *Config) { c.RunDir = "" }, "run_dir"},
		{"missing socket", func(c *Config) { c.SocketPath = "" }, "socket_path"},
		{"missing resources", func(c *Config) { c.ResourcesPath = "" }, "resources_path"},
		{"no boost source", func(c *Config) { c.BoostsDir = "" }, "boosts_dir"},
		{"missing node root", func(c *Config) { c.NodeRoot = "" }, "node_root"},
		{"db needed", func(c *Config) { c.DBPath = "" }, "db_path"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "log_level"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"metrics not host port", func(c *Config) { c.MetricsListen = "9464" }, "host:port"},
		{"metrics not loopback", func(c *Config) { c.MetricsListen = "0.0.0.0:9464" }, "localhost-only"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %s error, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateAcceptsExplicitBoostPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BoostsDir = ""
	cfg.BoostPaths = []string{"/etc/boostd/perf.yaml"}
	cfg.Journal = false
	cfg.ReportSink = ReportSinkLog
	cfg.DBPath = ""
	cfg.MetricsListen = "localhost:9464"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}
