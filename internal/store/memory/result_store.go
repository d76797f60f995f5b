// Package memory keeps completed batches in memory for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/complyscan/site-analyser/internal/analysis"
)

// ResultStore retains batches in a map keyed by job ID.
type ResultStore struct {
	mu      sync.RWMutex
	batches map[string]analysis.BatchResult
}

// New creates an empty in-memory result store.
func New() *ResultStore {
	return &ResultStore{batches: make(map[string]analysis.BatchResult)}
}

// SaveBatch stores the batch, replacing any previous run with the same job ID.
func (s *ResultStore) SaveBatch(_ context.Context, batch analysis.BatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batch.JobID] = batch
	return nil
}

// Batch returns a stored batch by job ID.
func (s *ResultStore) Batch(jobID string) (analysis.BatchResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[jobID]
	return batch, ok
}

// Len reports how many batches are stored.
func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.batches)
}
