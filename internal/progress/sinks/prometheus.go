package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/complyscan/site-analyser/internal/progress"
)

// PrometheusSink exports batch analysis metrics via Prometheus. It owns all
// collectors for batches started/completed/running, per-URL outcomes, and
// stage retry counts.
type PrometheusSink struct {
	batchesStarted   prometheus.Counter
	batchesCompleted prometheus.Counter
	batchesRunning   prometheus.Gauge
	batchRuntime     prometheus.Histogram

	urlsAnalysed *prometheus.CounterVec
	urlDuration  *prometheus.HistogramVec
	stageRetries *prometheus.CounterVec

	tracker *batchTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		batchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analyser_batches_started_total",
			Help: "Total batches that have started.",
		}),
		batchesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analyser_batches_completed_total",
			Help: "Total batches completed.",
		}),
		batchesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analyser_batches_running",
			Help: "Current number of running batches.",
		}),
		batchRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "analyser_batch_runtime_seconds",
			Help:    "Wall time per completed batch.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		urlsAnalysed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyser_urls_analysed_total",
			Help: "URL analyses completed, partitioned by final status.",
		}, []string{"status"}),
		urlDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "analyser_url_analysis_duration_seconds",
			Help:    "Per-URL analysis duration partitioned by final status.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"status"}),
		stageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyser_stage_retries_total",
			Help: "Stage retry attempts partitioned by stage name.",
		}, []string{"stage"}),
		tracker: newBatchTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.batchesStarted,
		s.batchesCompleted,
		s.batchesRunning,
		s.batchRuntime,
		s.urlsAnalysed,
		s.urlDuration,
		s.stageRetries,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Kind {
	case progress.KindBatchStart:
		s.batchesStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.batchesRunning.Inc()
		}
	case progress.KindBatchDone:
		s.batchesCompleted.Inc()
		if evt.Dur > 0 {
			s.batchRuntime.Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.JobID) {
			s.batchesRunning.Dec()
		}
	case progress.KindURLDone:
		s.urlsAnalysed.WithLabelValues(evt.Status).Inc()
		if evt.Dur > 0 {
			s.urlDuration.WithLabelValues(evt.Status).Observe(evt.Dur.Seconds())
		}
	case progress.KindStageRetry:
		s.stageRetries.WithLabelValues(evt.Stage).Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type batchTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newBatchTracker() *batchTracker {
	return &batchTracker{running: make(map[[16]byte]struct{})}
}

func (t *batchTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *batchTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
