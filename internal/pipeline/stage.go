// Package pipeline runs the fixed chain of inspection stages for one URL.
package pipeline

import (
	"context"

	"github.com/complyscan/site-analyser/internal/analysis"
)

// Stage names in chain order.
const (
	StageFetch         = "fetch"
	StageCertificate   = "certificate"
	StageBotProtection = "bot_protection"
	StageScreenshot    = "screenshot"
)

// Outcome distinguishes a stage that ran from one that was not applicable.
// Skips record no duration, no retry count, and never affect status.
type Outcome int

// Stage outcomes.
const (
	OutcomeApplied Outcome = iota
	OutcomeSkipped
)

// State is the per-URL scratch threaded through the chain. Result carries
// everything that survives the run; Screenshot holds raw bytes between the
// fetch and screenshot stages without ending up in serialized output.
type State struct {
	Result     *analysis.Result
	Screenshot []byte
}

// Stage is one discrete inspection step. Implementations must be safe for
// concurrent use: chains for different URLs share stage instances.
type Stage interface {
	Name() string
	Version() string
	Run(ctx context.Context, st *State) (Outcome, error)
}
