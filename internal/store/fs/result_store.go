// Package fs persists completed batches as JSON files on disk.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/complyscan/site-analyser/internal/analysis"
)

// Config captures the parameters for the filesystem result store.
type Config struct {
	// Dir is the directory where batch files are written.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// ResultStore writes one batch_<job_id>.json file per completed batch.
type ResultStore struct {
	dir string
}

// New creates a filesystem-backed ResultStore, creating the directory if
// needed.
func New(cfg Config) (*ResultStore, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("results directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create results directory: %w", err)
	}
	return &ResultStore{dir: cfg.Dir}, nil
}

// SaveBatch serializes the batch, results included, to an indented JSON file.
func (s *ResultStore) SaveBatch(_ context.Context, batch analysis.BatchResult) error {
	if batch.JobID == "" {
		return fmt.Errorf("batch job id is required")
	}
	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	path := filepath.Join(s.dir, fmt.Sprintf("batch_%s.json", batch.JobID))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write batch file: %w", err)
	}
	return nil
}

// Path returns the file path a batch would be written to.
func (s *ResultStore) Path(jobID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("batch_%s.json", jobID))
}
