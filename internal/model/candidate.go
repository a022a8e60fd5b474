package model

import "github.com/rotisserie/eris"

// ResearchMethod identifies which research path produced a candidate.
type ResearchMethod string

const (
	MethodStaticMapping        ResearchMethod = "static_mapping"
	MethodCache                ResearchMethod = "cache"
	MethodPrimaryInference     ResearchMethod = "primary_inference"
	MethodWebSearchInference   ResearchMethod = "web_search_inference"
	MethodInsufficientEvidence ResearchMethod = "insufficient_evidence"
)

// PreTrusted reports whether candidates from this method bypass
// verification (deterministic lookups, replayed cache entries).
func (m ResearchMethod) PreTrusted() bool {
	return m == MethodStaticMapping || m == MethodCache
}

// EntityRole positions an entity within an ownership chain.
type EntityRole string

const (
	RoleBrand         EntityRole = "brand"
	RoleIntermediate  EntityRole = "intermediate"
	RoleUltimateOwner EntityRole = "ultimate_owner"
)

// OwnershipEntity is one link in the brand-to-owner chain.
type OwnershipEntity struct {
	Name       string     `json:"name"`
	Role       EntityRole `json:"role"`
	Country    string     `json:"country,omitempty"`
	IsUltimate bool       `json:"is_ultimate"`
}

// Source is one piece of supporting evidence. Tier ranks authority from
// 1 (primary/regulatory) to 4 (weak/unverified) and is a tie-break
// signal only; it never feeds confidence arithmetic directly.
type Source struct {
	URL     string `json:"url"`
	Tier    int    `json:"tier"`
	Snippet string `json:"snippet,omitempty"`
}

// OwnershipCandidate is a research stage's proposed answer.
type OwnershipCandidate struct {
	Chain      []OwnershipEntity `json:"chain"`
	Confidence int               `json:"confidence"`
	Sources    []Source          `json:"sources,omitempty"`
	Method     ResearchMethod    `json:"method"`
	Reasoning  string            `json:"reasoning,omitempty"`
}

// Validate enforces the chain invariants: a candidate must carry a
// non-empty chain with exactly one ultimate owner, and confidence in
// [0,100].
func (c *OwnershipCandidate) Validate() error {
	if len(c.Chain) == 0 {
		return eris.New("model: candidate has empty ownership chain")
	}
	ultimates := 0
	for _, e := range c.Chain {
		if e.Name == "" {
			return eris.New("model: chain entity has empty name")
		}
		if e.IsUltimate {
			ultimates++
		}
	}
	if ultimates != 1 {
		return eris.Errorf("model: chain must mark exactly one ultimate owner, got %d", ultimates)
	}
	if c.Confidence < 0 || c.Confidence > 100 {
		return eris.Errorf("model: confidence %d outside [0,100]", c.Confidence)
	}
	return nil
}

// UltimateOwner returns the entity marked is_ultimate, or nil.
func (c *OwnershipCandidate) UltimateOwner() *OwnershipEntity {
	for i := range c.Chain {
		if c.Chain[i].IsUltimate {
			return &c.Chain[i]
		}
	}
	return nil
}
