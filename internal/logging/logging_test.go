package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ConsoleLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := New(Options{Level: slog.LevelInfo, Console: &buf})
	defer closer.Close()

	logger.Debug("hidden detail")
	logger.Info("module finished", "module", "market")

	out := buf.String()
	assert.NotContains(t, out, "hidden detail")
	assert.Contains(t, out, "module finished")
	assert.Contains(t, out, "market")
}

func TestNew_FileRecordsDebug(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "mediate.log")

	logger, closer := New(Options{Level: slog.LevelWarn, Console: &buf, File: path, MaxSizeMB: 1})
	logger.With("run_id", "r1").Debug("dispatching", "round", 1)
	logger.Warn("synthesis failed")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"msg":"dispatching"`)
	assert.Contains(t, string(raw), `"run_id":"r1"`)
	assert.Contains(t, string(raw), `"msg":"synthesis failed"`)

	assert.NotContains(t, buf.String(), "dispatching")
	assert.Contains(t, buf.String(), "synthesis failed")
}

func TestTee_Enabled(t *testing.T) {
	warn := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	debug := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelDebug})

	assert.True(t, tee{warn, debug}.Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, tee{warn}.Enabled(context.Background(), slog.LevelInfo))
}
