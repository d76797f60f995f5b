package analysis

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy is immutable, shared read-only configuration for every stage
// invocation in a batch.
type RetryPolicy struct {
	MaxAttempts       int
	Delay             time.Duration
	BackoffMultiplier float64
}

// DefaultRetryPolicy mirrors the service defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		Delay:             2 * time.Second,
		BackoffMultiplier: 1.0,
	}
}

// Validate enforces the invariants callers rely on.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.Delay < 0 {
		return fmt.Errorf("retry delay must be >= 0")
	}
	if p.BackoffMultiplier < 0 {
		return fmt.Errorf("retry backoff multiplier must be >= 0")
	}
	return nil
}

// backoff returns the sleep before the attempt following the given one.
// Attempts are 1-based: the wait after attempt n is Delay * mult^(n-1).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BackoffMultiplier <= 0 || p.BackoffMultiplier == 1.0 {
		return p.Delay
	}
	scaled := float64(p.Delay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if scaled > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(scaled)
}

// StageError tags a stage failure with the attempt count actually used.
type StageError struct {
	Stage    string
	Attempts int
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v (after %d attempts)", e.Stage, e.Err, e.Attempts)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Retry invokes fn up to MaxAttempts times, sleeping the policy backoff
// between failures. It retries unconditionally on any error and returns the
// last error observed, wrapped in a StageError, along with the number of
// attempts consumed. One structured log event is emitted per attempt; this
// is the only place retries are visible.
func Retry(
	ctx context.Context,
	logger *zap.Logger,
	policy RetryPolicy,
	stage string,
	url string,
	fn func(ctx context.Context) error,
) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := 0
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		attempts = attempt
		err := fn(ctx)
		if err == nil {
			logger.Debug("stage attempt succeeded",
				zap.String("stage", stage),
				zap.String("url", url),
				zap.Int("attempt", attempt),
			)
			return attempts, nil
		}
		lastErr = err
		if attempt == policy.MaxAttempts {
			logger.Error("stage failed on final attempt",
				zap.String("stage", stage),
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			break
		}
		logger.Warn("stage attempt failed, retrying",
			zap.String("stage", stage),
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if err := sleep(ctx, policy.backoff(attempt)); err != nil {
			return attempts, &StageError{Stage: stage, Attempts: attempts, Err: err}
		}
	}
	return attempts, &StageError{Stage: stage, Attempts: attempts, Err: lastErr}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("retry wait canceled: %w", ctx.Err())
	}
}
