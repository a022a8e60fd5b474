package stage

import (
	"context"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandtrace/ownership-cli/internal/model"
	"github.com/brandtrace/ownership-cli/pkg/anthropic"
)

// fakeAnthropicClient returns scripted responses and records requests.
type fakeAnthropicClient struct {
	response string
	err      error
	requests []anthropic.MessageRequest
}

func (f *fakeAnthropicClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: f.response}},
	}, nil
}

func TestInferenceStageRun(t *testing.T) {
	client := &fakeAnthropicClient{
		response: `{"ultimate_owner": "Ferrero Group", "chain": [{"name": "Nutella", "role": "brand"}, {"name": "Ferrero Group", "role": "ultimate_owner", "country": "IT"}], "confidence": 85, "reasoning": "well known"}`,
	}
	s := NewInferenceStage(client, "test-model")

	q, err := model.NewQuery("Nutella", "", "", map[string]string{"country": "DE"})
	require.NoError(t, err)

	cand, err := s.Run(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, "Ferrero Group", cand.UltimateOwner().Name)
	assert.Equal(t, 85, cand.Confidence)
	assert.Equal(t, model.MethodPrimaryInference, cand.Method)

	// The prompt carries the query identity and hints.
	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, "test-model", req.Model)
	require.Len(t, req.Messages, 1)
	assert.Contains(t, req.Messages[0].Content, "Brand: Nutella")
	assert.Contains(t, req.Messages[0].Content, "Hint (country): DE")
	require.Len(t, req.System, 1)
	require.NotNil(t, req.System[0].CacheControl)
}

func TestInferenceStageAdmitsIgnorance(t *testing.T) {
	client := &fakeAnthropicClient{
		response: `{"ultimate_owner": "unknown", "chain": [], "confidence": 0, "reasoning": "never heard of it"}`,
	}
	s := NewInferenceStage(client, "test-model")

	q, err := model.NewQuery("Totally Obscure Brand", "", "", nil)
	require.NoError(t, err)

	_, err = s.Run(context.Background(), q)
	assert.ErrorIs(t, err, ErrNoEvidence)
}

func TestInferenceStageClientError(t *testing.T) {
	client := &fakeAnthropicClient{err: eris.New("api unavailable")}
	s := NewInferenceStage(client, "test-model")

	q, err := model.NewQuery("Nutella", "", "", nil)
	require.NoError(t, err)

	_, err = s.Run(context.Background(), q)
	assert.Error(t, err)
}

func TestFormatSubjectDeterministicHintOrder(t *testing.T) {
	q, err := model.NewQuery("Brand", "Product", "123", map[string]string{
		"zeta":  "z",
		"alpha": "a",
		"mid":   "m",
	})
	require.NoError(t, err)

	first := FormatSubject(q)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, FormatSubject(q))
	}

	assert.Contains(t, first, "Brand: Brand\n")
	assert.Contains(t, first, "Product: Product\n")
	assert.Contains(t, first, "Barcode: 123\n")
	// Hints render in sorted key order.
	prev := -1
	for _, line := range []string{"Hint (alpha)", "Hint (mid)", "Hint (zeta)"} {
		idx := strings.Index(first, line)
		require.GreaterOrEqual(t, idx, 0, line)
		assert.Greater(t, idx, prev)
		prev = idx
	}
}
