package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind denotes the type of milestone represented by an Event.
type Kind string

// Supported progress kinds.
const (
	KindBatchStart Kind = "BATCH_START"
	KindBatchDone  Kind = "BATCH_DONE"
	KindURLDone    Kind = "URL_DONE"
	KindStageRetry Kind = "STAGE_RETRY"
)

// Event captures one milestone of batch analysis progress.
type Event struct {
	// JobID uniquely identifies a batch run using the 16-byte UUID form.
	JobID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Kind denotes which lifecycle milestone occurred.
	Kind Kind
	// URL is the analysed page for URL_DONE and STAGE_RETRY events.
	URL string
	// Stage names the pipeline stage for STAGE_RETRY events.
	Stage string
	// Status carries the final analysis status for URL_DONE events
	// (success, partial or failed).
	Status string
	// Attempt is the retry attempt number for STAGE_RETRY events.
	Attempt int
	// Dur captures wall time for URL completions and batch completions.
	Dur time.Duration
	// Total, Succeeded, Partial and Failed summarize BATCH_DONE events.
	Total     int
	Succeeded int
	Partial   int
	Failed    int
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == [16]byte{} {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindBatchStart, KindBatchDone:
	case KindURLDone:
		if e.URL == "" {
			return errors.New("url done requires url")
		}
		if e.Status == "" {
			return errors.New("url done requires status")
		}
	case KindStageRetry:
		if e.URL == "" {
			return errors.New("stage retry requires url")
		}
		if e.Stage == "" {
			return errors.New("stage retry requires stage")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// JobUUID converts the binary job ID to uuid.UUID for stores and labels.
func (e Event) JobUUID() uuid.UUID {
	return uuid.UUID(e.JobID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
