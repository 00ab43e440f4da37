package logger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.log")
	l, err := New(Config{Level: "debug", Format: "json", OutputFile: path}, "txnode")
	require.NoError(t, err)

	l.Debug("session opened")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"session opened"`)
	require.Contains(t, string(data), `"role":"txnode"`)
}

func TestNew_BadLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.log")
	l, err := New(Config{Level: "chatty", OutputFile: path}, "authority")
	require.NoError(t, err)
	l.Debug("hidden")
	l.Info("shown")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "hidden")
	require.Contains(t, string(data), "shown")
}

func TestNew_UnwritablePath(t *testing.T) {
	_, err := New(Config{OutputFile: filepath.Join(t.TempDir(), "missing", "x.log")}, "txnode")
	require.Error(t, err)
}

func TestNew_FleetFieldsAndDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.log")
	l, err := New(Config{Format: "json", OutputFile: path}, "txnode", zap.Int("node", 3))
	require.NoError(t, err)
	l.Info("slept", zap.Duration("took", 250*time.Millisecond))
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"node":3`)
	require.Contains(t, string(data), `"took":250`)
}

func TestNew_Discard(t *testing.T) {
	l, err := New(Config{OutputFile: "discard"}, "txnode")
	require.NoError(t, err)
	l.Info("dropped")
	require.NoError(t, l.Sync())
}
