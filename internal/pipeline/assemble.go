package pipeline

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/brandtrace/ownership-cli/internal/model"
)

// assemble merges a winning candidate and its verification outcome into
// the final result. The merge is deterministic: same inputs, same output
// (modulo the resolved-at timestamp).
func assemble(q model.OwnershipQuery, cand *model.OwnershipCandidate, outcome model.VerificationOutcome) (*model.OwnershipResult, error) {
	ultimate := cand.UltimateOwner()
	if ultimate == nil {
		// Candidates are validated on the way in, so reaching here means
		// a stage broke its contract.
		return nil, eris.New("pipeline: candidate has no ultimate owner")
	}

	score := clampScore(cand.Confidence + outcome.ConfidenceDelta)

	return &model.OwnershipResult{
		QueryID:              q.QueryID,
		FinancialBeneficiary: ultimate.Name,
		BeneficiaryCountry:   ultimate.Country,
		ConfidenceScore:      score,
		ConfidenceLabel:      model.BucketConfidence(score),
		OwnershipChain:       cand.Chain,
		ResultType:           cand.Method,
		VerificationStatus:   outcome.Status,
		Sources:              mergeSources(cand.Sources, outcome.Evidence),
		Reasoning:            cand.Reasoning,
		ResolvedAt:           time.Now().UTC(),
	}, nil
}

// insufficientEvidence is the terminal result when every stage came up
// empty. It is a normal result state, not an error.
func insufficientEvidence(q model.OwnershipQuery) *model.OwnershipResult {
	return &model.OwnershipResult{
		QueryID:            q.QueryID,
		ConfidenceScore:    0,
		ConfidenceLabel:    model.LabelUnknown,
		ResultType:         model.MethodInsufficientEvidence,
		VerificationStatus: model.VerificationSkipped,
		ResolvedAt:         time.Now().UTC(),
	}
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// mergeSources appends verification evidence to the candidate's sources,
// dropping duplicate URLs. Candidate sources come first so their tiers
// win on collision.
func mergeSources(primary, extra []model.Source) []model.Source {
	if len(extra) == 0 {
		return primary
	}
	seen := make(map[string]bool, len(primary))
	merged := make([]model.Source, 0, len(primary)+len(extra))
	for _, s := range primary {
		if s.URL != "" && seen[s.URL] {
			continue
		}
		seen[s.URL] = true
		merged = append(merged, s)
	}
	for _, s := range extra {
		if s.URL == "" || seen[s.URL] {
			continue
		}
		seen[s.URL] = true
		merged = append(merged, s)
	}
	return merged
}
