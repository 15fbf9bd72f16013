package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kobomanager/internal/library"
	"kobomanager/internal/transfer"
)

func TestWriter_Save(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	writer := NewWriter(dir)

	run := &RunReport{
		StartedAt:  time.Now().Add(-time.Minute),
		FinishedAt: time.Now(),
		Scan:       &library.ScanStats{Added: 3, Missing: 1},
		Transfer:   &transfer.Stats{Transferred: 2, SkippedDirectories: 1},
		MarkedRead: 1,
	}

	path, err := writer.Save(run)
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	assert.Equal(t, run.ID+".json", filepath.Base(path))

	// The directory is created on first use.
	_, err = os.Stat(dir)
	assert.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded RunReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, run.ID, decoded.ID)
	assert.Equal(t, 3, decoded.Scan.Added)
	assert.Equal(t, 2, decoded.Transfer.Transferred)
	assert.Equal(t, 1, decoded.MarkedRead)
	assert.Empty(t, decoded.Error)
}

func TestWriter_Save_UniqueFilenames(t *testing.T) {
	writer := NewWriter(t.TempDir())

	first, err := writer.Save(&RunReport{})
	require.NoError(t, err)
	second, err := writer.Save(&RunReport{})
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestWriter_Prune(t *testing.T) {
	dir := t.TempDir()
	writer := NewWriter(dir)

	_, err := writer.Save(&RunReport{})
	require.NoError(t, err)

	stale := time.Now().AddDate(0, 0, -30)
	old := filepath.Join(dir, "old-report.json")
	require.NoError(t, os.WriteFile(old, []byte("{}"), 0644))
	require.NoError(t, os.Chtimes(old, stale, stale))

	// Stray non-report files survive pruning regardless of age.
	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("keep"), 0644))
	require.NoError(t, os.Chtimes(notes, stale, stale))

	removed, err := writer.Prune(7)
	require.NoError(t, err)

	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, old)
	assert.FileExists(t, notes)
}

func TestWriter_Prune_Disabled(t *testing.T) {
	dir := t.TempDir()
	writer := NewWriter(dir)

	stale := time.Now().AddDate(0, 0, -30)
	old := filepath.Join(dir, "old-report.json")
	require.NoError(t, os.WriteFile(old, []byte("{}"), 0644))
	require.NoError(t, os.Chtimes(old, stale, stale))

	removed, err := writer.Prune(0)
	require.NoError(t, err)

	assert.Zero(t, removed)
	assert.FileExists(t, old)
}

func TestWriter_Prune_MissingDirectory(t *testing.T) {
	writer := NewWriter(filepath.Join(t.TempDir(), "never-created"))

	removed, err := writer.Prune(7)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
