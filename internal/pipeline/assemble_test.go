package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandtrace/ownership-cli/internal/model"
	"github.com/brandtrace/ownership-cli/internal/trace"
	"github.com/brandtrace/ownership-cli/pkg/openfoodfacts"
)

func TestAssembleMergesDelta(t *testing.T) {
	tests := []struct {
		name       string
		confidence int
		delta      int
		wantScore  int
		wantLabel  model.ConfidenceLabel
	}{
		{"confirmed boost", 75, 10, 85, model.LabelHighlyLikely},
		{"contradiction collapse", 70, -30, 40, model.LabelUnconfirmed},
		{"clamped at zero", 10, -30, 0, model.LabelUnknown},
		{"clamped at hundred", 95, 15, 100, model.LabelHighlyLikely},
		{"no delta", 55, 0, 55, model.LabelLikely},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := model.NewQuery("Brand", "", "", nil)
			require.NoError(t, err)

			cand := candidateFor("Owner Co", tt.confidence, model.MethodPrimaryInference)
			outcome := model.VerificationOutcome{
				Status:          model.VerificationConfirmed,
				ConfidenceDelta: tt.delta,
			}

			result, err := assemble(q, cand, outcome)
			require.NoError(t, err)

			assert.Equal(t, tt.wantScore, result.ConfidenceScore)
			assert.Equal(t, tt.wantLabel, result.ConfidenceLabel)
			assert.Equal(t, "Owner Co", result.FinancialBeneficiary)
			assert.Equal(t, "CH", result.BeneficiaryCountry)
			assert.Equal(t, q.QueryID, result.QueryID)
		})
	}
}

func TestAssembleFailsWithoutUltimateOwner(t *testing.T) {
	q, err := model.NewQuery("Brand", "", "", nil)
	require.NoError(t, err)

	cand := &model.OwnershipCandidate{
		Chain:      []model.OwnershipEntity{{Name: "Brand", Role: model.RoleBrand}},
		Confidence: 80,
	}

	_, err = assemble(q, cand, model.SkippedVerification())
	assert.Error(t, err)
}

func TestMergeSourcesDeduplicates(t *testing.T) {
	primary := []model.Source{
		{URL: "https://sec.gov/filing", Tier: 1},
		{URL: "https://example.com/a", Tier: 4},
	}
	extra := []model.Source{
		{URL: "https://sec.gov/filing", Tier: 3}, // duplicate, primary tier wins
		{URL: "https://reuters.com/article", Tier: 3},
		{URL: "", Tier: 3}, // dropped
	}

	merged := mergeSources(primary, extra)

	require.Len(t, merged, 3)
	assert.Equal(t, "https://sec.gov/filing", merged[0].URL)
	assert.Equal(t, 1, merged[0].Tier)
	assert.Equal(t, "https://reuters.com/article", merged[2].URL)
}

type fakeIdentity struct {
	product *openfoodfacts.Product
	err     error
}

func (f *fakeIdentity) GetProduct(context.Context, string) (*openfoodfacts.Product, error) {
	return f.product, f.err
}

func TestEnrichIdentityFillsBrand(t *testing.T) {
	p := New(testResolverConfig(), Deps{
		Store: newMemStore(),
		Identity: &fakeIdentity{product: &openfoodfacts.Product{
			Barcode:     "3017620422003",
			ProductName: "Nutella",
			Brands:      []string{"Ferrero"},
			Countries:   "France,Germany",
		}},
	})

	q, err := model.NewQuery("", "", "3017620422003", nil)
	require.NoError(t, err)

	rec := trace.NewRecorder(q.QueryID, nil)
	enriched := p.enrichIdentity(context.Background(), rec, q)

	assert.Equal(t, "Ferrero", enriched.Brand)
	assert.Equal(t, "Nutella", enriched.ProductName)
	assert.Equal(t, "France,Germany", enriched.Hints["countries_sold"])
	assert.Equal(t, 1, rec.Len())
}

func TestEnrichIdentityNotFoundIsNonFatal(t *testing.T) {
	p := New(testResolverConfig(), Deps{
		Store:    newMemStore(),
		Identity: &fakeIdentity{err: openfoodfacts.ErrProductNotFound},
	})

	q, err := model.NewQuery("", "", "000000000000", nil)
	require.NoError(t, err)

	rec := trace.NewRecorder(q.QueryID, nil)
	enriched := p.enrichIdentity(context.Background(), rec, q)

	assert.Empty(t, enriched.Brand)
	assert.Equal(t, q.Barcode, enriched.Barcode)
	assert.Equal(t, 1, rec.Len())
}

func TestEnrichIdentitySkippedWhenBrandKnown(t *testing.T) {
	id := &fakeIdentity{product: &openfoodfacts.Product{Brands: []string{"ShouldNotBeUsed"}}}
	p := New(testResolverConfig(), Deps{Store: newMemStore(), Identity: id})

	q, err := model.NewQuery("KnownBrand", "", "123", nil)
	require.NoError(t, err)

	rec := trace.NewRecorder(q.QueryID, nil)
	enriched := p.enrichIdentity(context.Background(), rec, q)

	assert.Equal(t, "KnownBrand", enriched.Brand)
	assert.Equal(t, 0, rec.Len())
}
