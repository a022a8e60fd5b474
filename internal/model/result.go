package model

import (
	"time"

	"github.com/brandtrace/ownership-cli/internal/trace"
)

// VerificationStatus is the outcome class of an independent re-check.
type VerificationStatus string

const (
	VerificationConfirmed    VerificationStatus = "confirmed"
	VerificationContradicted VerificationStatus = "contradicted"
	VerificationInconclusive VerificationStatus = "inconclusive"
	VerificationSkipped      VerificationStatus = "skipped"
)

// VerificationOutcome is the verifier's judgment on a candidate.
// ConfidenceDelta is signed and bounded by policy: confirming evidence
// nudges confidence up modestly, contradicting evidence can collapse it.
type VerificationOutcome struct {
	Status          VerificationStatus `json:"status"`
	ConfidenceDelta int                `json:"confidence_delta"`
	Evidence        []Source           `json:"evidence,omitempty"`
	Notes           string             `json:"notes,omitempty"`
}

// SkippedVerification returns the outcome used when verification did not run.
func SkippedVerification() VerificationOutcome {
	return VerificationOutcome{Status: VerificationSkipped}
}

// ConfidenceLabel buckets a 0-100 score into a human-facing label.
type ConfidenceLabel string

const (
	LabelHighlyLikely ConfidenceLabel = "highly_likely"
	LabelLikely       ConfidenceLabel = "likely"
	LabelUnconfirmed  ConfidenceLabel = "unconfirmed"
	LabelUnknown      ConfidenceLabel = "unknown"
)

// BucketConfidence maps a confidence score to its label. Buckets are
// monotonic: a higher score never yields a lower label.
func BucketConfidence(score int) ConfidenceLabel {
	switch {
	case score >= 80:
		return LabelHighlyLikely
	case score >= 50:
		return LabelLikely
	case score >= 20:
		return LabelUnconfirmed
	default:
		return LabelUnknown
	}
}

// OwnershipResult is the canonical, immutable output of one resolution.
type OwnershipResult struct {
	QueryID              string             `json:"query_id"`
	FinancialBeneficiary string             `json:"financial_beneficiary"`
	BeneficiaryCountry   string             `json:"beneficiary_country,omitempty"`
	ConfidenceScore      int                `json:"confidence_score"`
	ConfidenceLabel      ConfidenceLabel    `json:"confidence_label"`
	OwnershipChain       []OwnershipEntity  `json:"ownership_chain,omitempty"`
	ResultType           ResearchMethod     `json:"result_type"`
	VerificationStatus   VerificationStatus `json:"verification_status"`
	Sources              []Source           `json:"sources,omitempty"`
	Reasoning            string             `json:"reasoning,omitempty"`
	ResolvedAt           time.Time          `json:"resolved_at"`
}

// Resolution is one persisted resolution record: the query, its result,
// and the execution trace, as stored by the caller after assembly.
type Resolution struct {
	ID        string                `json:"id"`
	Query     OwnershipQuery        `json:"query"`
	Result    *OwnershipResult      `json:"result,omitempty"`
	Trace     *trace.ExecutionTrace `json:"trace,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}
