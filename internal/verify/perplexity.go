package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brandtrace/ownership-cli/internal/model"
	"github.com/brandtrace/ownership-cli/internal/resilience"
	"github.com/brandtrace/ownership-cli/pkg/perplexity"
)

const verifySystemText = `You are a fact checker for corporate ownership claims. You will be given a claim that a brand is ultimately owned by a specific company. Check the claim against current, citable information.

Return a valid JSON object:
{"verdict": "confirmed|contradicted|inconclusive", "delta": <integer>, "notes": "<brief explanation>"}

Verdict rules:
- "confirmed": current sources agree the named company is the ultimate owner. delta 5 to 15 based on source quality.
- "contradicted": sources show a different current owner, or the claimed owner divested the brand. delta -15 to -30 based on how decisive the sources are.
- "inconclusive": sources neither confirm nor refute. delta between -5 and 0.`

const verifyPromptTmpl = `Claim: the brand %q%s is ultimately owned by %q.
Claimed ownership chain: %s

Is this claim correct as of today? Cite current sources.`

// PerplexityVerifier re-checks candidates through Perplexity's
// search-grounded completions.
type PerplexityVerifier struct {
	client perplexity.Client
	model  string
	bounds DeltaBounds
}

// NewPerplexityVerifier creates the verification backend wrapper.
func NewPerplexityVerifier(client perplexity.Client, model string, bounds DeltaBounds) *PerplexityVerifier {
	return &PerplexityVerifier{client: client, model: model, bounds: bounds}
}

// verdictJSON is the JSON shape the verifier prompt requests.
type verdictJSON struct {
	Verdict string `json:"verdict"`
	Delta   int    `json:"delta"`
	Notes   string `json:"notes"`
}

func (v *PerplexityVerifier) Verify(ctx context.Context, q model.OwnershipQuery, cand *model.OwnershipCandidate) (*model.VerificationOutcome, error) {
	owner := cand.UltimateOwner()
	if owner == nil {
		return nil, resilience.NewDeterministicError(eris.New("candidate has no ultimate owner"), "verify: invalid candidate")
	}

	product := ""
	if q.ProductName != "" {
		product = fmt.Sprintf(" (product %q)", q.ProductName)
	}
	brand := q.Brand
	if brand == "" {
		brand = q.Subject()
	}

	resp, err := v.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Model: v.model,
		Messages: []perplexity.Message{
			{Role: "system", Content: verifySystemText},
			{Role: "user", Content: fmt.Sprintf(verifyPromptTmpl, brand, product, owner.Name, formatChain(cand.Chain))},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "verify: perplexity")
	}
	if len(resp.Choices) == 0 {
		return nil, resilience.NewDeterministicError(eris.New("empty choices"), "verify: empty response")
	}

	outcome, err := parseVerdict(resp.Choices[0].Message.Content, v.bounds)
	if err != nil {
		return nil, err
	}

	// Perplexity's citations become evidence on the outcome.
	for _, c := range resp.Citations {
		outcome.Evidence = append(outcome.Evidence, model.Source{URL: c, Tier: 3})
	}

	zap.L().Debug("verification verdict",
		zap.String("query_id", q.QueryID),
		zap.String("owner", owner.Name),
		zap.String("status", string(outcome.Status)),
		zap.Int("delta", outcome.ConfidenceDelta),
	)

	return outcome, nil
}

// parseVerdict converts the raw completion into a bounded outcome.
// Malformed verdicts are deterministic failures.
func parseVerdict(text string, bounds DeltaBounds) (*model.VerificationOutcome, error) {
	cleaned := cleanJSON(text)

	var raw verdictJSON
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, resilience.NewDeterministicError(err, "verify: malformed verdict JSON")
	}

	var status model.VerificationStatus
	switch strings.ToLower(raw.Verdict) {
	case "confirmed":
		status = model.VerificationConfirmed
		if raw.Delta < 0 {
			raw.Delta = 0
		}
	case "contradicted":
		status = model.VerificationContradicted
		if raw.Delta > 0 {
			raw.Delta = -raw.Delta
		}
	case "inconclusive":
		status = model.VerificationInconclusive
	default:
		return nil, resilience.NewDeterministicError(
			eris.Errorf("unknown verdict %q", raw.Verdict), "verify: malformed verdict")
	}

	return &model.VerificationOutcome{
		Status:          status,
		ConfidenceDelta: bounds.Clamp(raw.Delta),
		Notes:           raw.Notes,
	}, nil
}

func formatChain(chain []model.OwnershipEntity) string {
	names := make([]string, len(chain))
	for i, e := range chain {
		names[i] = e.Name
	}
	return strings.Join(names, " > ")
}

// cleanJSON extracts a JSON object from text that may carry markdown
// fences or prose around it.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

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

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
