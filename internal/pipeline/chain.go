package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/complyscan/site-analyser/internal/analysis"
)

// Chain executes the ordered stages for one URL, each behind the shared
// retry policy. Stages never run in parallel within a chain; a Chain itself
// is safe for concurrent Analyze calls on different URLs.
type Chain struct {
	stages []Stage
	policy analysis.RetryPolicy
	clock  analysis.Clock
	logger *zap.Logger
}

// NewChain assembles a Chain from an ordered stage list. The participant set
// is fixed at construction time.
func NewChain(stages []Stage, policy analysis.RetryPolicy, clock analysis.Clock, logger *zap.Logger) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		stages: stages,
		policy: policy,
		clock:  clock,
		logger: logger,
	}
}

// Analyze runs every stage for the URL and returns the finished result.
// The returned Result is exclusively owned by the caller.
func (c *Chain) Analyze(ctx context.Context, url string) *analysis.Result {
	res := analysis.NewResult(url, c.clock.Now())
	st := &State{Result: res}

	for _, stage := range c.stages {
		var outcome Outcome
		start := time.Now()
		attempts, err := analysis.Retry(ctx, c.logger, c.policy, stage.Name(), url,
			func(ctx context.Context) error {
				var runErr error
				outcome, runErr = stage.Run(ctx, st)
				return runErr
			})
		elapsed := time.Since(start)

		if err != nil {
			res.RecordStage(stage.Name(), attempts, elapsed)
			res.StageVersions[stage.Name()] = stage.Version()
			// The first error explains the status; later stage failures
			// must not clobber it.
			if res.ErrorMessage == "" {
				res.ErrorMessage = err.Error()
			}
			if stage.Name() == StageFetch {
				// Primary capture failed: nothing downstream can run.
				res.Escalate(analysis.StatusFailed)
				break
			}
			res.Escalate(analysis.StatusPartial)
			continue
		}

		if outcome == OutcomeSkipped {
			c.logger.Debug("stage skipped",
				zap.String("stage", stage.Name()),
				zap.String("url", url),
			)
			continue
		}

		res.RecordStage(stage.Name(), attempts, elapsed)
		res.StageVersions[stage.Name()] = stage.Version()
	}
	return res
}
