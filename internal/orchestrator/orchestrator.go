// Package orchestrator fans a batch of URLs out over a bounded pool of
// analysis chains and aggregates the per-URL results.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/complyscan/site-analyser/internal/analysis"
	"github.com/complyscan/site-analyser/internal/progress"
)

// Analyzer runs the full stage chain for one URL. *pipeline.Chain satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, url string) *analysis.Result
}

// Config controls Orchestrator behavior.
type Config struct {
	// Topic names the completion-event destination; publishing is skipped
	// when empty.
	Topic string
}

// Orchestrator owns one batch run: fan-out, collection, summary, and the
// persistence hand-off. Results preserve input order regardless of
// completion order.
type Orchestrator struct {
	chain     Analyzer
	store     analysis.ResultStore
	publisher analysis.Publisher
	emitter   progress.Emitter
	ids       analysis.IDGenerator
	clock     analysis.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Orchestrator. Store, publisher and emitter are optional;
// nil disables the corresponding hand-off.
func New(
	chain Analyzer,
	store analysis.ResultStore,
	publisher analysis.Publisher,
	emitter progress.Emitter,
	ids analysis.IDGenerator,
	clock analysis.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		chain:     chain,
		store:     store,
		publisher: publisher,
		emitter:   emitter,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run analyses every URL with at most concurrency chains in flight and
// returns the aggregated batch. The returned results hold one entry per
// input URL, in input order; a URL whose chain panics is converted into a
// failed result instead of aborting the batch. Persistence errors are
// returned alongside the completed batch so callers never lose results.
func (o *Orchestrator) Run(ctx context.Context, urls []string, concurrency int) (analysis.BatchResult, error) {
	if concurrency < 1 {
		return analysis.BatchResult{}, fmt.Errorf("concurrency must be at least 1, got %d", concurrency)
	}

	jobID, err := o.ids.NewID()
	if err != nil {
		return analysis.BatchResult{}, fmt.Errorf("generate job id: %w", err)
	}
	startedAt := o.clock.Now().UTC()

	o.logger.Info("batch started",
		zap.String("job_id", jobID),
		zap.Int("urls", len(urls)),
		zap.Int("concurrency", concurrency),
	)
	o.emit(progress.Event{
		JobID: eventJobID(jobID),
		TS:    startedAt,
		Kind:  progress.KindBatchStart,
		Total: len(urls),
	})

	results := make([]analysis.Result, len(urls))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, url := range urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = o.analyzeURL(ctx, jobID, url)
		}(i, url)
	}
	wg.Wait()

	batch := analysis.BatchResult{
		JobID:     jobID,
		StartedAt: startedAt,
		Total:     len(urls),
		Results:   results,
	}
	for _, res := range results {
		switch res.Status {
		case analysis.StatusSuccess:
			batch.Succeeded++
		case analysis.StatusPartial:
			batch.Partial++
		case analysis.StatusFailed:
			batch.Failed++
		}
	}
	batch.CompletedAt = o.clock.Now().UTC()

	o.logger.Info("batch completed",
		zap.String("job_id", jobID),
		zap.Int("total", batch.Total),
		zap.Int("succeeded", batch.Succeeded),
		zap.Int("partial", batch.Partial),
		zap.Int("failed", batch.Failed),
		zap.Duration("dur", batch.CompletedAt.Sub(batch.StartedAt)),
	)
	o.emit(progress.Event{
		JobID:     eventJobID(jobID),
		TS:        batch.CompletedAt,
		Kind:      progress.KindBatchDone,
		Dur:       batch.CompletedAt.Sub(batch.StartedAt),
		Total:     batch.Total,
		Succeeded: batch.Succeeded,
		Partial:   batch.Partial,
		Failed:    batch.Failed,
	})

	o.publishCompletion(ctx, batch)

	if o.store != nil {
		if err := o.store.SaveBatch(ctx, batch); err != nil {
			return batch, fmt.Errorf("save batch %s: %w", jobID, err)
		}
	}
	return batch, nil
}

// analyzeURL shields the batch from a panicking chain; the recovered panic
// becomes a failed result carrying the panic text.
func (o *Orchestrator) analyzeURL(ctx context.Context, jobID, url string) (res analysis.Result) {
	start := o.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("analysis panicked",
				zap.String("job_id", jobID),
				zap.String("url", url),
				zap.Any("panic", r),
			)
			failed := analysis.NewResult(url, start)
			failed.Escalate(analysis.StatusFailed)
			failed.ErrorMessage = fmt.Sprintf("unexpected error: %v", r)
			res = *failed
		}
		for stage, attempts := range res.RetryCounts {
			if attempts <= 1 {
				continue
			}
			o.emit(progress.Event{
				JobID:   eventJobID(jobID),
				TS:      o.clock.Now().UTC(),
				Kind:    progress.KindStageRetry,
				URL:     url,
				Stage:   stage,
				Attempt: attempts,
			})
		}
		o.emit(progress.Event{
			JobID:  eventJobID(jobID),
			TS:     o.clock.Now().UTC(),
			Kind:   progress.KindURLDone,
			URL:    url,
			Status: string(res.Status),
			Dur:    o.clock.Now().Sub(start),
		})
	}()
	return *o.chain.Analyze(ctx, url)
}

func (o *Orchestrator) publishCompletion(ctx context.Context, batch analysis.BatchResult) {
	if o.publisher == nil || o.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"job_id":       batch.JobID,
		"started_at":   batch.StartedAt.Format(time.RFC3339),
		"completed_at": batch.CompletedAt.Format(time.RFC3339),
		"total":        batch.Total,
		"succeeded":    batch.Succeeded,
		"partial":      batch.Partial,
		"failed":       batch.Failed,
	}
	if _, err := o.publisher.Publish(ctx, o.cfg.Topic, payload); err != nil {
		o.logger.Warn("publish batch completion failed",
			zap.String("job_id", batch.JobID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.emitter == nil {
		return
	}
	o.emitter.Emit(evt)
}

// eventJobID converts a job ID into the binary event form; non-UUID IDs map
// to the zero value and are dropped by event validation.
func eventJobID(jobID string) [16]byte {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return [16]byte{}
	}
	return progress.UUIDToBytes(id)
}
