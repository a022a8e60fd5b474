package stage

import (
	"encoding/json"
	"strings"

	"github.com/brandtrace/ownership-cli/internal/model"
	"github.com/brandtrace/ownership-cli/internal/resilience"
)

// candidateJSON is the JSON shape both LLM stages are prompted to emit.
type candidateJSON struct {
	Owner      string `json:"ultimate_owner"`
	Chain      []struct {
		Name    string `json:"name"`
		Role    string `json:"role"`
		Country string `json:"country"`
	} `json:"chain"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
	Sources    []struct {
		URL     string `json:"url"`
		Snippet string `json:"snippet"`
	} `json:"sources"`
}

// parseCandidate converts LLM response text into a validated candidate.
// A response that admits ignorance (empty owner or zero confidence)
// becomes ErrNoEvidence; malformed JSON is a deterministic failure since
// re-sending the same prompt yields the same shape.
func parseCandidate(text string, method model.ResearchMethod) (*model.OwnershipCandidate, error) {
	cleaned := cleanJSON(text)

	var raw candidateJSON
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, resilience.NewDeterministicError(err, "stage: malformed candidate JSON")
	}

	if raw.Owner == "" || strings.EqualFold(raw.Owner, "unknown") || raw.Confidence <= 0 {
		return nil, ErrNoEvidence
	}

	cand := &model.OwnershipCandidate{
		Confidence: clampConfidence(raw.Confidence),
		Method:     method,
		Reasoning:  raw.Reasoning,
	}

	for _, e := range raw.Chain {
		if e.Name == "" {
			continue
		}
		role := model.EntityRole(e.Role)
		switch role {
		case model.RoleBrand, model.RoleIntermediate, model.RoleUltimateOwner:
		default:
			role = model.RoleIntermediate
		}
		cand.Chain = append(cand.Chain, model.OwnershipEntity{
			Name:       e.Name,
			Role:       role,
			Country:    e.Country,
			IsUltimate: role == model.RoleUltimateOwner && strings.EqualFold(e.Name, raw.Owner),
		})
	}

	// An LLM that names an owner but omits it from the chain still gets a
	// usable candidate: synthesize the terminal link.
	if cand.UltimateOwner() == nil {
		cand.Chain = append(cand.Chain, model.OwnershipEntity{
			Name:       raw.Owner,
			Role:       model.RoleUltimateOwner,
			IsUltimate: true,
		})
	}

	for _, s := range raw.Sources {
		if s.URL == "" {
			continue
		}
		cand.Sources = append(cand.Sources, model.Source{
			URL:     s.URL,
			Tier:    tierForURL(s.URL),
			Snippet: s.Snippet,
		})
	}

	if err := cand.Validate(); err != nil {
		return nil, resilience.NewDeterministicError(err, "stage: invalid candidate")
	}

	return cand, nil
}

func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// tierForURL assigns a source authority tier from the URL's domain.
// Tier 1: regulators and corporate registries. Tier 2: the companies'
// own sites and major financial press. Tier 3: general reference.
// Tier 4: everything else.
func tierForURL(rawURL string) int {
	u := strings.ToLower(rawURL)

	tier1 := []string{"sec.gov", "companieshouse.gov.uk", "edgar", "annualreports.com"}
	for _, d := range tier1 {
		if strings.Contains(u, d) {
			return 1
		}
	}

	tier2 := []string{"bloomberg.com", "reuters.com", "ft.com", "wsj.com", "investor.", "corporate."}
	for _, d := range tier2 {
		if strings.Contains(u, d) {
			return 2
		}
	}

	tier3 := []string{"wikipedia.org", "crunchbase.com", "opencorporates.com"}
	for _, d := range tier3 {
		if strings.Contains(u, d) {
			return 3
		}
	}

	return 4
}

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
