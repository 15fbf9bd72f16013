package report

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"kobomanager/internal/library"
	"kobomanager/internal/transfer"
)

// RunReport captures the outcome of one synchronization run.
type RunReport struct {
	ID         string             `json:"id"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Scan       *library.ScanStats `json:"scan,omitempty"`
	Transfer   *transfer.Stats    `json:"transfer,omitempty"`
	MarkedRead int                `json:"marked_read"`
	Library    *library.Stats     `json:"library,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Writer persists run reports as JSON files, one file per run.
type Writer struct {
	Dir string
}

func NewWriter(dir string) *Writer {
	return &Writer{
		Dir: dir,
	}
}

// Save assigns the run a UUID4 identifier when it has none, then writes
// the report to <id>.json and returns the full path.
func (w *Writer) Save(run *RunReport) (string, error) {
	if err := w.ensureDir(); err != nil {
		return "", fmt.Errorf("failed to ensure report directory: %w", err)
	}

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	filename := fmt.Sprintf("%s.json", run.ID)
	path := filepath.Join(w.Dir, filename)

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report to JSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}

	log.Printf("Saved run report: %s", path)
	return path, nil
}

// Prune removes report files older than the retention window. Zero or
// negative retention keeps everything.
func (w *Writer) Prune(retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read report directory: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(w.Dir, entry.Name())); err != nil {
				log.Printf("Failed to remove old report %s: %v", entry.Name(), err)
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		log.Printf("Pruned %d old reports from %s", removed, w.Dir)
	}
	return removed, nil
}

// ensureDir creates the report directory if it doesn't exist
func (w *Writer) ensureDir() error {
	if _, err := os.Stat(w.Dir); os.IsNotExist(err) {
		if err := os.MkdirAll(w.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	return nil
}
