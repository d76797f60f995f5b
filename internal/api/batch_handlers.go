package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/complyscan/site-analyser/internal/progress/sinks"
)

const (
	defaultBatchLimit = 50
	maxBatchLimit     = 500
)

// BatchStatusReader is the read side of the progress status store.
type BatchStatusReader interface {
	Get(jobID string) (sinks.BatchStatus, bool)
	List() []sinks.BatchStatus
}

// BatchHandler exposes read-only batch progress endpoints.
type BatchHandler struct {
	status BatchStatusReader
	logger *zap.Logger
}

// NewBatchHandler wires the status reader and logger.
func NewBatchHandler(status BatchStatusReader, logger *zap.Logger) *BatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchHandler{status: status, logger: logger}
}

// ListBatches handles GET /v1/batches?state=&limit=&offset=. It returns a JSON
// object {"batches": [...]} on success, 400 for invalid filters, or 503 when
// no status store is wired.
func (h *BatchHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		writeError(w, http.StatusServiceUnavailable, "batch status store unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultBatchLimit, maxBatchLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var state *sinks.BatchState
	if raw := strings.TrimSpace(r.URL.Query().Get("state")); raw != "" {
		parsed, parseErr := parseState(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		state = &parsed
	}

	batches := h.status.List()
	if state != nil {
		filtered := batches[:0]
		for _, b := range batches {
			if b.State == *state {
				filtered = append(filtered, b)
			}
		}
		batches = filtered
	}
	batches = pageOf(batches, limit, offset)

	writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
}

// GetBatch handles GET /v1/batches/{job_id}. It returns {"batch": {...}} on
// success, 400 for malformed IDs, 404 when the batch is unknown, or 503 when
// no status store is wired.
func (h *BatchHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		writeError(w, http.StatusServiceUnavailable, "batch status store unavailable")
		return
	}
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	batch, ok := h.status.Get(jobID.String())
	if !ok {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch": batch})
}

func parseJobID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "job_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("job_id is required")
	}
	jobID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid job_id")
	}
	return jobID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseState(input string) (sinks.BatchState, error) {
	switch strings.ToLower(input) {
	case "running":
		return sinks.BatchRunning, nil
	case "done", "completed":
		return sinks.BatchDone, nil
	default:
		return "", errors.New("invalid state")
	}
}

func pageOf(batches []sinks.BatchStatus, limit, offset int) []sinks.BatchStatus {
	if offset >= len(batches) {
		return []sinks.BatchStatus{}
	}
	batches = batches[offset:]
	if limit < len(batches) {
		batches = batches[:limit]
	}
	return batches
}
