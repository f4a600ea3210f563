package asynclog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpenWritesDatedFile(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(LevelDebug, dir, ".log", 64)
	require.NoError(t, err)

	l.Log(LevelInfo, "hello %s", "world")
	require.NoError(t, l.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	require.Contains(t, string(data), "hello world")
}

func TestLogBelowLevelDropped(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(LevelWarn, dir, ".log", 64)
	require.NoError(t, err)

	l.Log(LevelDebug, "should not appear")
	l.Log(LevelError, "should appear")
	require.NoError(t, l.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	require.NotContains(t, string(data), "should not appear")
	require.Contains(t, string(data), "should appear")
}

func TestRollIfNeededSameDayNoRoll(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(LevelDebug, dir, ".log", 64)
	require.NoError(t, err)
	defer l.Close()

	f1 := l.file
	require.NoError(t, l.rollIfNeeded(time.Now()))
	require.Equal(t, f1, l.file)
}
