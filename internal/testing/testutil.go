// Package testing provides shared fixtures and helpers for boostd tests.
//
// The fixture definitions describe a small device: a cpufreq min/max pair,
// a boost switch, a GPU devfreq governor and two externally reported hints,
// plus perf, power and thermal bundles that exercise every dispatch path.
package testing

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boostd/boostd/internal/perfconfig"
)

// FixedTime is a fixed timestamp for deterministic tests.
var FixedTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// Resource ids and cmd ids defined by the fixtures.
const (
	CPUMinFreq  = 1000
	CPUMaxFreq  = 1001
	CPUBoost    = 1002
	GPUGovernor = 2000
	SchedHint   = 10000
	FrameHint   = 10001

	CmdAppLaunch     = 100
	CmdAppLaunchGame = 101
	CmdScrollHold    = 102
	CmdThermalScroll = 103
	CmdTouchBoost    = 104
	CmdVideoLaunch   = 105
	CmdGameHold      = 106
	CmdDupLevels     = 107
	CmdThermalLevels = 200
	CmdThermalCap    = 201
	CmdThermalDup    = 202
	CmdPowerSave     = 300
	CmdPowerHold     = 301
)

// Node paths written by the fixture resources.
const (
	CPUMinPath     = "/sys/devices/system/cpu/cpufreq/policy0/scaling_min_freq"
	CPUMaxPath     = "/sys/devices/system/cpu/cpufreq/policy0/scaling_max_freq"
	CPUBoostPath   = "/sys/devices/system/cpu/cpufreq/boost"
	GPUGovPath     = "/sys/class/devfreq/gpu/governor"
	GPUMinFreqPath = "/sys/class/devfreq/gpu/min_freq"
)

// Resources is the fixture resource definition file.
const Resources = `
resources:
  - id: 1000
    name: cpu_min_freq
    default: 500
    available: [300, 500, 800, 1200, 1500]
    node: /sys/devices/system/cpu/cpufreq/policy0/scaling_min_freq
    pair: 1001
  - id: 1001
    name: cpu_max_freq
    default: 2000000
    max_value: true
    node: /sys/devices/system/cpu/cpufreq/policy0/scaling_max_freq
    pair: 1000
  - id: 1002
    name: cpu_boost
    default: 0
    available: [0, 1]
    node: /sys/devices/system/cpu/cpufreq/boost
  - id: 2000
    name: gpu_governor
    default: 0
    governor:
      paths: [/sys/class/devfreq/gpu/governor, /sys/class/devfreq/gpu/min_freq]
      levels:
        0: [simple_ondemand, "100000000"]
        1: [simple_ondemand, "400000000"]
        2: [performance, "800000000"]
  - id: 10000
    name: sched_hint
    default: 0
    persist: report
  - id: 10001
    name: frame_hint
    default: 0
    persist: report
`

// PerfBoosts is the fixture perf bundle file.
const PerfBoosts = `
category: perf
actions:
  - id: 100
    name: app_launch
    steps:
      - duration_ms: 3000
        settings:
          - {resource: cpu_min_freq, value: 1200}
          - {resource: gpu_governor, value: 2}
          - {resource: sched_hint, value: 3}
    mode_overrides:
      - {mode: game, cmd: 101}
      - {mode: video, cmd: 105}
  - id: 101
    name: app_launch_game
    steps:
      - duration_ms: 3000
        settings:
          - {resource: cpu_min_freq, value: 1500}
  - id: 102
    name: scroll_hold
    steps:
      - duration_ms: 0
        settings:
          - {resource: cpu_min_freq, value: 800}
    mode_overrides:
      - {mode: game, cmd: 101}
  - id: 103
    name: thermal_scroll
    steps:
      - duration_ms: 2000
        thermal_trigger: 200
        settings:
          - {resource: cpu_min_freq, value: 800}
  - id: 104
    name: touch_boost
    steps:
      - duration_ms: 500
        settings:
          - {resource: cpu_min_freq, value: 800}
      - duration_ms: 1500
        settings:
          - {resource: cpu_boost, value: 1}
  - id: 105
    name: video_launch
    steps:
      - duration_ms: 3000
        settings:
          - {resource: cpu_min_freq, value: 800}
  - id: 106
    name: game_hold
    steps:
      - duration_ms: 0
        thermal_trigger: 200
        settings:
          - {resource: cpu_min_freq, value: 1200}
  - id: 107
    name: dup_levels
    steps:
      - duration_ms: 2000
        thermal_trigger: 202
        settings:
          - {resource: cpu_min_freq, value: 800}
`

// PowerBoosts is the fixture power bundle file.
const PowerBoosts = `
category: power
actions:
  - id: 300
    name: power_save
    steps:
      - duration_ms: 5000
        settings:
          - {resource: cpu_max_freq, value: 1000000}
  - id: 301
    name: power_hold
    steps:
      - duration_ms: 0
        settings:
          - {resource: cpu_max_freq, value: 1200000}
`

// ThermalBoosts is the fixture thermal bundle file.
const ThermalBoosts = `
category: thermal
actions:
  - id: 200
    name: thermal_levels
    steps:
      - {thermal_level: 1, settings: [{resource: cpu_max_freq, value: 1800000}]}
      - {thermal_level: 2, settings: [{resource: cpu_max_freq, value: 1600000}]}
      - {thermal_level: 3, settings: [{resource: cpu_max_freq, value: 1400000}]}
      - {thermal_level: 5, settings: [{resource: cpu_max_freq, value: 1000000}]}
  - id: 201
    name: thermal_cap
    steps:
      - duration_ms: 5000
        settings:
          - {resource: cpu_max_freq, value: 1200000}
  - id: 202
    name: thermal_dup
    steps:
      - {thermal_level: 2, settings: [{resource: cpu_max_freq, value: 1700000}]}
      - {thermal_level: 2, settings: [{resource: cpu_max_freq, value: 1600000}]}
      - {thermal_level: 4, settings: [{resource: cpu_max_freq, value: 1000000}]}
`

// Model parses the fixture definitions.
func Model(t testing.TB) *perfconfig.Model {
	t.Helper()
	m, err := perfconfig.Parse([]byte(Resources), []byte(PerfBoosts), []byte(PowerBoosts), []byte(ThermalBoosts))
	require.NoError(t, err, "fixture config must parse")
	return m
}

// WriteConfig writes the fixture definitions into dir and returns the
// resources path and the boosts directory.
func WriteConfig(t testing.TB, dir string) (string, string) {
	t.Helper()
	resources := filepath.Join(dir, "resources.yaml")
	require.NoError(t, os.WriteFile(resources, []byte(Resources), 0o644))
	boosts := filepath.Join(dir, "boosts.d")
	require.NoError(t, os.MkdirAll(boosts, 0o755))
	files := map[string]string{
		"10-perf.yaml":    PerfBoosts,
		"20-power.yaml":   PowerBoosts,
		"30-thermal.yaml": ThermalBoosts,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(boosts, name), []byte(content), 0o644))
	}
	return resources, boosts
}

// AssertJSONEqual asserts that two values marshal to semantically equal
// JSON, ignoring key order and whitespace.
func AssertJSONEqual(t *testing.T, want, got any, msgAndArgs ...interface{}) {
	t.Helper()
	wantBytes, err := json.Marshal(want)
	require.NoError(t, err, "failed to marshal 'want' to JSON")
	gotBytes, err := json.Marshal(got)
	require.NoError(t, err, "failed to marshal 'got' to JSON")

	var wantAny, gotAny any
	require.NoError(t, json.Unmarshal(wantBytes, &wantAny), "failed to unmarshal 'want'")
	require.NoError(t, json.Unmarshal(gotBytes, &gotAny), "failed to unmarshal 'got'")

	assert.Equal(t, wantAny, gotAny, msgAndArgs...)
}

// TempFile creates a file with content in the test's temp dir.
func TempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "testfile")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644), "failed to write temp file")
	return path
}
