// Package analysis defines the core result types shared across the
// site-analyser pipeline.
package analysis

import (
	"net/http"
	"time"
)

// Status represents the terminal quality of a single URL analysis.
type Status string

// Status values; escalation is one-directional (see Result.Escalate).
const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// rank orders statuses from best to worst for escalation checks.
func (s Status) rank() int {
	switch s {
	case StatusSuccess:
		return 0
	case StatusPartial:
		return 1
	case StatusFailed:
		return 2
	default:
		return 2
	}
}

// Certificate captures the outcome of the certificate check for one URL.
type Certificate struct {
	HasTLS          bool   `json:"has_tls"`
	Valid           bool   `json:"valid"`
	Issuer          string `json:"issuer,omitempty"`
	DaysUntilExpiry *int   `json:"days_until_expiry,omitempty"`
	Error           string `json:"error,omitempty"`
}

// ExpiringSoon reports whether a valid certificate expires within the
// given number of days.
func (c Certificate) ExpiringSoon(days int) bool {
	if !c.Valid || c.DaysUntilExpiry == nil {
		return false
	}
	return *c.DaysUntilExpiry <= days
}

// BotProtection records the verdict of the bot-protection scorer.
type BotProtection struct {
	Detected   bool     `json:"detected"`
	Category   string   `json:"category,omitempty"`
	Indicators []string `json:"indicators"`
	Confidence float64  `json:"confidence"`
}

// Result is the per-URL analysis record. It is owned exclusively by the
// goroutine running the stage chain for its URL until handed to the
// orchestrator for aggregation.
type Result struct {
	URL       string    `json:"url"`
	FinalURL  string    `json:"final_url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`

	Reachable    bool   `json:"reachable"`
	LoadTimeMs   *int64 `json:"load_time_ms,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	HTML          string `json:"html_content,omitempty"`
	Title         string `json:"title,omitempty"`
	ScreenshotURI string `json:"screenshot_uri,omitempty"`

	Certificate   *Certificate  `json:"certificate,omitempty"`
	BotProtection BotProtection `json:"bot_protection"`

	StageDurationsMs map[string]int64  `json:"stage_durations_ms"`
	RetryCounts      map[string]int    `json:"retry_counts"`
	StageVersions    map[string]string `json:"stage_versions,omitempty"`
}

// NewResult initializes a Result in the SUCCESS state, ready for the chain.
func NewResult(url string, now time.Time) *Result {
	return &Result{
		URL:              url,
		Timestamp:        now,
		Status:           StatusSuccess,
		BotProtection:    BotProtection{Indicators: []string{}},
		StageDurationsMs: make(map[string]int64),
		RetryCounts:      make(map[string]int),
		StageVersions:    make(map[string]string),
	}
}

// Escalate moves the status toward a worse state. Transitions that would
// improve the status are ignored, keeping escalation one-directional.
func (r *Result) Escalate(to Status) {
	if to.rank() > r.Status.rank() {
		r.Status = to
	}
}

// RecordStage accumulates duration and the attempt count for one stage run.
// Durations accumulate across retries of the same stage.
func (r *Result) RecordStage(name string, attempts int, d time.Duration) {
	r.StageDurationsMs[name] += d.Milliseconds()
	r.RetryCounts[name] += attempts
}

// BatchResult aggregates one orchestrator run. It is mutated only by the
// orchestrator and is read-only once CompletedAt is set.
type BatchResult struct {
	JobID       string    `json:"job_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Total       int       `json:"total"`
	Succeeded   int       `json:"succeeded"`
	Partial     int       `json:"partial"`
	Failed      int       `json:"failed"`
	Results     []Result  `json:"results"`
}

// FetchResult is returned by a Fetcher collaborator. A fetch that completes
// but finds the site unreachable reports that as data (Reachable=false plus
// Error text), not as a Go error; only transport-level breakage is an error.
type FetchResult struct {
	FinalURL   string
	StatusCode int
	Headers    http.Header
	HTML       string
	Title      string
	Screenshot []byte
	LoadTime   time.Duration
	Reachable  bool
	Error      string
}
