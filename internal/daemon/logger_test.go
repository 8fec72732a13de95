package daemon

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevels(t *testing.T) {
	cases := []struct {
		level     string
		wantInfo  bool
		wantDebug bool
	}{
		{level: "debug", wantInfo: true, wantDebug: true},
		{level: "info", wantInfo: true},
		{level: "warn"},
		{level: "error"},
	}
	for _, tc := range cases {
		t.Run(tc.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := NewLogger(&buf, tc.level, "json")
			require.NoError(t, err)

			logger.Info("info line")
			logger.V(1).Info("debug line")
			out := buf.String()
			assert.Equal(t, tc.wantInfo, strings.Contains(out, "info line"), out)
			assert.Equal(t, tc.wantDebug, strings.Contains(out, "debug line"), out)
		})
	}
}

func TestNewLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "info", "json")
	require.NoError(t, err)

	logger.WithName("engine").Info("node write failed", "resource", 1000)
	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line), buf.String())
	assert.Equal(t, "node write failed", line["msg"])
	assert.Equal(t, "engine", line["logger"])
	assert.EqualValues(t, 1000, line["resource"])
}

func TestNewLoggerConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "info", "console")
	require.NoError(t, err)
	logger.Info("listening", "unix", "/run/boostd/boostd.sock")
	assert.Contains(t, buf.String(), "listening")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())), "console output should not be json")
}

func TestNewLoggerRejectsUnknownValues(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewLogger(&buf, "trace", "json")
	require.Error(t, err)
	_, err = NewLogger(&buf, "info", "xml")
	require.Error(t, err)
}
