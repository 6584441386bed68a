package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := SetupWithOptions(Options{Service: "stakingd", Env: "test", Output: &buf})
	defer closer.Close()

	logger.Info("ledger ready", slog.String("jwt_secret", "hunter2"), slog.Int("stakers", 3))

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "ledger ready", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "stakingd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, RedactedValue, line["jwt_secret"])
	require.EqualValues(t, 3, line["stakers"])
	require.Contains(t, line, "timestamp")
}

func TestSetupHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := SetupWithOptions(Options{Service: "stakingd", Level: "warn", Output: &buf})
	defer closer.Close()

	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.Contains(t, buf.String(), "kept")
}

func TestSetupRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stakingd.log")
	var buf bytes.Buffer
	logger, closer := SetupWithOptions(Options{Service: "stakingd", File: path, MaxSizeMB: 1, Output: &buf})
	logger.Info("to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "to file")
	require.Contains(t, buf.String(), "to file")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestMaskValue(t *testing.T) {
	require.Equal(t, "", MaskValue(""))
	require.Equal(t, RedactedValue, MaskValue("x"))
	require.True(t, IsSensitive("Authorization"))
	require.False(t, IsSensitive("account"))
}
