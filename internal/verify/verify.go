// Package verify runs an independent re-check of a candidate against a
// second research backend and converts its judgment into a bounded
// confidence delta.
package verify

import (
	"context"

	"github.com/brandtrace/ownership-cli/internal/model"
)

// Verifier re-checks a candidate produced by an inference stage.
type Verifier interface {
	Verify(ctx context.Context, q model.OwnershipQuery, cand *model.OwnershipCandidate) (*model.VerificationOutcome, error)
}

// DeltaBounds clamps verifier deltas to policy limits. Confirmation is
// worth at most Max; contradiction at most Min. The asymmetry is
// deliberate: agreement between two fallible systems is weak evidence,
// disagreement is strong.
type DeltaBounds struct {
	Min int // most negative allowed delta
	Max int // most positive allowed delta
}

// DefaultDeltaBounds is the standard [-30, +15] policy.
func DefaultDeltaBounds() DeltaBounds {
	return DeltaBounds{Min: -30, Max: 15}
}

// Clamp forces delta into the bounds.
func (b DeltaBounds) Clamp(delta int) int {
	if delta < b.Min {
		return b.Min
	}
	if delta > b.Max {
		return b.Max
	}
	return delta
}
