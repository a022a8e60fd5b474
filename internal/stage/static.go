package stage

import (
	"context"

	"go.uber.org/zap"

	"github.com/brandtrace/ownership-cli/internal/mapping"
	"github.com/brandtrace/ownership-cli/internal/model"
)

// StaticStage answers from the curated brand mapping registry. Hits are
// pre-trusted: they skip verification entirely.
type StaticStage struct {
	registry   *mapping.Registry
	confidence int
}

// NewStaticStage creates the mapping lookup stage. confidence is the
// score assigned to every hit; the registry is curated, so it is high
// but never 100.
func NewStaticStage(registry *mapping.Registry, confidence int) *StaticStage {
	return &StaticStage{registry: registry, confidence: confidence}
}

func (s *StaticStage) Name() string { return "static_mapping" }

func (s *StaticStage) Method() model.ResearchMethod { return model.MethodStaticMapping }

func (s *StaticStage) Run(ctx context.Context, q model.OwnershipQuery) (*model.OwnershipCandidate, error) {
	if q.Brand == "" {
		return nil, ErrNoEvidence
	}

	m, ok := s.registry.Lookup(q.Brand)
	if !ok {
		return nil, ErrNoEvidence
	}

	zap.L().Debug("static mapping hit",
		zap.String("query_id", q.QueryID),
		zap.String("brand", q.Brand),
		zap.String("owner", m.Owner),
	)

	chain := []model.OwnershipEntity{
		{Name: m.Brand, Role: model.RoleBrand},
	}
	for _, mid := range m.Chain {
		chain = append(chain, model.OwnershipEntity{Name: mid, Role: model.RoleIntermediate})
	}
	chain = append(chain, model.OwnershipEntity{
		Name:       m.Owner,
		Role:       model.RoleUltimateOwner,
		Country:    m.Country,
		IsUltimate: true,
	})

	confidence := s.confidence
	if m.Confidence > 0 {
		confidence = m.Confidence
	}

	cand := &model.OwnershipCandidate{
		Chain:      chain,
		Confidence: confidence,
		Method:     model.MethodStaticMapping,
		Reasoning:  "curated brand mapping",
	}
	if m.SourceURL != "" {
		cand.Sources = []model.Source{{URL: m.SourceURL, Tier: tierForURL(m.SourceURL)}}
	}

	return cand, nil
}
