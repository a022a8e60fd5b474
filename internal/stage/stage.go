// Package stage implements the tiered research stages that propose
// ownership candidates. Stages are ordered cheapest-first by the
// pipeline; each either returns a candidate, reports ErrNoEvidence to
// fall through, or fails.
package stage

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/brandtrace/ownership-cli/internal/model"
)

// ErrNoEvidence is a stage's honest report that it found nothing usable.
// It is deterministic: the pipeline falls through to the next stage and
// never retries the same one.
var ErrNoEvidence = eris.New("stage: no usable evidence")

// ResearchStage is one tier of the fallback ladder.
type ResearchStage interface {
	// Name identifies the stage in traces and logs.
	Name() string
	// Method is the research method stamped on candidates this stage produces.
	Method() model.ResearchMethod
	// Run attempts to produce an ownership candidate for the query.
	Run(ctx context.Context, q model.OwnershipQuery) (*model.OwnershipCandidate, error)
}
