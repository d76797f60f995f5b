package sinks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/complyscan/site-analyser/internal/progress"
)

// BatchState is the coarse lifecycle of a tracked batch.
type BatchState string

// Supported batch states.
const (
	BatchRunning BatchState = "running"
	BatchDone    BatchState = "done"
)

// BatchStatus is the read model served by the status API.
type BatchStatus struct {
	JobID       string     `json:"job_id"`
	State       BatchState `json:"state"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Total       int        `json:"total"`
	Succeeded   int        `json:"succeeded"`
	Partial     int        `json:"partial"`
	Failed      int        `json:"failed"`
	URLsDone    int        `json:"urls_done"`
	Retries     int        `json:"retries"`
}

// StatusStore keeps an in-memory view of batch progress, fed by progress
// events and queried by the status API. It is safe for concurrent use.
type StatusStore struct {
	mu      sync.RWMutex
	batches map[string]*BatchStatus
}

// NewStatusStore constructs an empty StatusStore.
func NewStatusStore() *StatusStore {
	return &StatusStore{batches: make(map[string]*BatchStatus)}
}

// Consume folds the event batch into the in-memory view.
func (s *StatusStore) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.apply(evt)
	}
	return nil
}

func (s *StatusStore) apply(evt progress.Event) {
	id := evt.JobUUID().String()
	st := s.batches[id]
	if st == nil {
		st = &BatchStatus{JobID: id, State: BatchRunning, StartedAt: evt.TS}
		s.batches[id] = st
	}
	switch evt.Kind {
	case progress.KindBatchStart:
		st.StartedAt = evt.TS
		st.Total = evt.Total
	case progress.KindURLDone:
		st.URLsDone++
		switch evt.Status {
		case "success":
			st.Succeeded++
		case "partial":
			st.Partial++
		case "failed":
			st.Failed++
		}
	case progress.KindStageRetry:
		st.Retries++
	case progress.KindBatchDone:
		ts := evt.TS
		st.State = BatchDone
		st.CompletedAt = &ts
		st.Total = evt.Total
		st.Succeeded = evt.Succeeded
		st.Partial = evt.Partial
		st.Failed = evt.Failed
	}
}

// Get returns the status of one batch by job ID.
func (s *StatusStore) Get(jobID string) (BatchStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.batches[jobID]
	if !ok {
		return BatchStatus{}, false
	}
	return *st, true
}

// List returns all tracked batches ordered by start time, newest first.
func (s *StatusStore) List() []BatchStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]BatchStatus, 0, len(s.batches))
	for _, st := range s.batches {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *StatusStore) Close(context.Context) error {
	return nil
}
