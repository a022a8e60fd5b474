package stage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandtrace/ownership-cli/internal/model"
	"github.com/brandtrace/ownership-cli/internal/resilience"
)

func TestParseCandidate(t *testing.T) {
	raw := `{
		"ultimate_owner": "Nestle S.A.",
		"chain": [
			{"name": "Nescafe", "role": "brand", "country": ""},
			{"name": "Nestle S.A.", "role": "ultimate_owner", "country": "CH"}
		],
		"confidence": 92,
		"reasoning": "well-documented ownership",
		"sources": [{"url": "https://www.sec.gov/some-filing", "snippet": "..."}]
	}`

	cand, err := parseCandidate(raw, model.MethodPrimaryInference)
	require.NoError(t, err)

	assert.Equal(t, 92, cand.Confidence)
	assert.Equal(t, model.MethodPrimaryInference, cand.Method)
	require.Len(t, cand.Chain, 2)
	assert.Equal(t, "Nestle S.A.", cand.UltimateOwner().Name)
	assert.Equal(t, "CH", cand.UltimateOwner().Country)
	require.Len(t, cand.Sources, 1)
	assert.Equal(t, 1, cand.Sources[0].Tier)
}

func TestParseCandidateStripsCodeFences(t *testing.T) {
	raw := "```json\n{\"ultimate_owner\": \"Mars Inc\", \"chain\": [], \"confidence\": 70, \"reasoning\": \"\"}\n```"

	cand, err := parseCandidate(raw, model.MethodWebSearchInference)
	require.NoError(t, err)

	// The owner was missing from the chain, so the terminal link is
	// synthesized.
	assert.Equal(t, "Mars Inc", cand.UltimateOwner().Name)
	assert.Equal(t, 70, cand.Confidence)
}

func TestParseCandidateUnknownOwnerIsNoEvidence(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"explicit unknown", `{"ultimate_owner": "unknown", "confidence": 0}`},
		{"empty owner", `{"ultimate_owner": "", "confidence": 50}`},
		{"zero confidence", `{"ultimate_owner": "Acme", "confidence": 0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseCandidate(tt.raw, model.MethodPrimaryInference)
			assert.ErrorIs(t, err, ErrNoEvidence)
		})
	}
}

func TestParseCandidateMalformedJSONIsDeterministic(t *testing.T) {
	_, err := parseCandidate("I think it's probably Unilever?", model.MethodPrimaryInference)
	require.Error(t, err)
	assert.True(t, resilience.IsDeterministic(err))
	assert.False(t, errors.Is(err, ErrNoEvidence))
}

func TestParseCandidateClampsConfidence(t *testing.T) {
	cand, err := parseCandidate(`{"ultimate_owner": "Acme", "confidence": 140}`, model.MethodPrimaryInference)
	require.NoError(t, err)
	assert.Equal(t, 100, cand.Confidence)
}

func TestParseCandidateUnknownRoleBecomesIntermediate(t *testing.T) {
	raw := `{
		"ultimate_owner": "Top Co",
		"chain": [
			{"name": "Mid Holdings", "role": "subsidiary"},
			{"name": "Top Co", "role": "ultimate_owner"}
		],
		"confidence": 60
	}`

	cand, err := parseCandidate(raw, model.MethodPrimaryInference)
	require.NoError(t, err)
	assert.Equal(t, model.RoleIntermediate, cand.Chain[0].Role)
}

func TestTierForURL(t *testing.T) {
	tests := []struct {
		url  string
		want int
	}{
		{"https://www.sec.gov/cgi-bin/browse-edgar", 1},
		{"https://find-and-update.companieshouse.gov.uk/company/123", 1},
		{"https://www.reuters.com/markets/deal", 2},
		{"https://investor.nestle.com/reports", 2},
		{"https://en.wikipedia.org/wiki/Nestle", 3},
		{"https://opencorporates.com/companies/ch/123", 3},
		{"https://some-random-blog.example.com/post", 4},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tierForURL(tt.url), tt.url)
	}
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a": 1}`, `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"surrounding prose", `Here is the answer: {"a": 1} hope that helps`, `{"a": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.in))
		})
	}
}
