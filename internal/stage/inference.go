package stage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/brandtrace/ownership-cli/internal/model"
	"github.com/brandtrace/ownership-cli/pkg/anthropic"
)

const inferenceSystemText = `You are a corporate ownership analyst. Given a consumer brand or product, identify the ultimate corporate owner: the topmost parent company, traced through any intermediate holding companies.

Answer only from knowledge you are confident about. If you do not reliably know who owns the brand, say so by returning "ultimate_owner": "unknown" with confidence 0. Never guess.

Return a valid JSON object:
{"ultimate_owner": "<company name or unknown>", "chain": [{"name": "<entity>", "role": "brand|intermediate|ultimate_owner", "country": "<ISO country or empty>"}], "confidence": <0-100>, "reasoning": "<brief explanation>", "sources": []}`

const inferencePromptTmpl = `Identify the ultimate corporate owner of the following product.

%s
Trace the full ownership chain from the brand up through any holding companies to the ultimate parent. Confidence reflects how certain you are of the CURRENT ownership; recent divestitures and acquisitions you are unsure about must lower it.`

// InferenceStage asks the primary LLM for ownership from its own
// knowledge, with no external lookups.
type InferenceStage struct {
	client anthropic.Client
	model  string
}

// NewInferenceStage creates the primary inference stage.
func NewInferenceStage(client anthropic.Client, model string) *InferenceStage {
	return &InferenceStage{client: client, model: model}
}

func (s *InferenceStage) Name() string { return "primary_inference" }

func (s *InferenceStage) Method() model.ResearchMethod { return model.MethodPrimaryInference }

func (s *InferenceStage) Run(ctx context.Context, q model.OwnershipQuery) (*model.OwnershipCandidate, error) {
	resp, err := s.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.model,
		MaxTokens: 1024,
		System: []anthropic.SystemBlock{
			{Text: inferenceSystemText, CacheControl: &anthropic.CacheControl{TTL: "5m"}},
		},
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(inferencePromptTmpl, FormatSubject(q))},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "stage: primary inference")
	}
	resp.Usage.LogCost(s.model, s.Name())

	return parseCandidate(resp.Text(), model.MethodPrimaryInference)
}

// FormatSubject renders the query identity lines shared by both LLM
// stage prompts.
func FormatSubject(q model.OwnershipQuery) string {
	var b strings.Builder
	if q.Brand != "" {
		fmt.Fprintf(&b, "Brand: %s\n", q.Brand)
	}
	if q.ProductName != "" {
		fmt.Fprintf(&b, "Product: %s\n", q.ProductName)
	}
	if q.Barcode != "" {
		fmt.Fprintf(&b, "Barcode: %s\n", q.Barcode)
	}
	keys := make([]string, 0, len(q.Hints))
	for k := range q.Hints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "Hint (%s): %s\n", k, q.Hints[k])
	}
	return b.String()
}
