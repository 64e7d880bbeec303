package exportlog_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/posterforge/posterforge/internal/exportlog"
)

func TestJobLogWritesBothFiles(t *testing.T) {
	dir := t.TempDir()
	m := exportlog.NewManager(dir, 1<<20, 10<<20)

	jlog := m.ForJob("abc-123")
	jlog.Info("posterpack written", map[string]string{"item": "Heat"})
	jlog.Warn("background missing", nil)
	jlog.Close()

	jobData, err := os.ReadFile(filepath.Join(dir, "job-abc-123.log"))
	require.NoError(t, err)
	assert.Contains(t, string(jobData), "[INFO] posterpack written")
	assert.Contains(t, string(jobData), `"item":"Heat"`)
	assert.Contains(t, string(jobData), "[WARN] background missing")

	combined, err := os.ReadFile(filepath.Join(dir, "combined.log"))
	require.NoError(t, err)
	assert.Contains(t, string(combined), "posterpack written")
}

func TestSinkMirrorsEveryLine(t *testing.T) {
	m := exportlog.NewManager(t.TempDir(), 1<<20, 10<<20)
	jlog := m.ForJob("sink-test")
	defer jlog.Close()

	var lines []string
	jlog.SetSink(func(line string) { lines = append(lines, line) })

	jlog.Info("one", nil)
	jlog.Error("two", nil)

	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[INFO] one")
	assert.Contains(t, lines[1], "[ERROR] two")
}

func TestCombinedLogRotatesPastThreshold(t *testing.T) {
	dir := t.TempDir()
	m := exportlog.NewManager(dir, 256, 1<<20)

	jlog := m.ForJob("rotate-test")
	defer jlog.Close()
	for i := 0; i < 20; i++ {
		jlog.Info(strings.Repeat("x", 64), nil)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	rotated := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "combined-") {
			rotated++
		}
	}
	assert.Greater(t, rotated, 0, "expected at least one rotated combined log")
}

func TestRetentionPrunesOldestUnprotected(t *testing.T) {
	dir := t.TempDir()

	// Pre-existing finished-job logs, oldest first.
	stale := filepath.Join(dir, "job-finished.log")
	require.NoError(t, os.WriteFile(stale, []byte(strings.Repeat("a", 600)), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	m := exportlog.NewManager(dir, 1<<20, 700)
	jlog := m.ForJob("active")
	defer jlog.Close()

	for i := 0; i < 10; i++ {
		jlog.Info(strings.Repeat("b", 64), nil)
	}

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale job log should have been pruned")
	_, err = os.Stat(filepath.Join(dir, "job-active.log"))
	assert.NoError(t, err, "the active job's log must never be pruned")
}

func TestRetentionCeilingHoldsOnceJobsClose(t *testing.T) {
	dir := t.TempDir()
	m := exportlog.NewManager(dir, 256, 2048)

	for _, id := range []string{"a", "b"} {
		jlog := m.ForJob(id)
		for i := 0; i < 50; i++ {
			jlog.Info(strings.Repeat("x", 64), nil)
		}
		jlog.Close()
	}

	// One more write triggers pruning with nothing protected but the writer.
	final := m.ForJob("c")
	final.Info("done", nil)
	final.Close()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var total int64
	for _, e := range entries {
		info, err := e.Info()
		require.NoError(t, err)
		total += info.Size()
	}
	assert.LessOrEqual(t, total, int64(2048),
		"directory must be back under the retention ceiling once old job files are prunable")
}

func TestActiveJobFileSurvivesAggressivePruning(t *testing.T) {
	dir := t.TempDir()
	// Retention ceiling far below what one job writes.
	m := exportlog.NewManager(dir, 1<<20, 128)

	jlog := m.ForJob("survivor")
	for i := 0; i < 50; i++ {
		jlog.Info(strings.Repeat("c", 64), nil)
	}

	_, err := os.Stat(filepath.Join(dir, "job-survivor.log"))
	assert.NoError(t, err)
	jlog.Close()
}
