package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/brandtrace/ownership-cli/internal/model"
	"github.com/brandtrace/ownership-cli/internal/trace"
	"github.com/brandtrace/ownership-cli/pkg/openfoodfacts"
)

// enrichIdentity fills in the brand and product name for barcode-only
// queries via the product database. Enrichment failure is non-fatal:
// research stages can still work from the raw barcode.
func (p *Pipeline) enrichIdentity(ctx context.Context, rec *trace.Recorder, q model.OwnershipQuery) model.OwnershipQuery {
	if p.identity == nil || q.Barcode == "" || q.Brand != "" {
		return q
	}

	lookupCtx, cancel := context.WithTimeout(ctx, identityTimeout)
	defer cancel()

	start := time.Now()
	product, err := p.identity.GetProduct(lookupCtx, q.Barcode)

	record := trace.StageRecord{
		StageName:   "identity_lookup",
		Duration:    time.Since(start),
		InputDigest: trace.Digest(q.Barcode),
	}
	if err != nil {
		switch {
		case errors.Is(err, openfoodfacts.ErrProductNotFound):
			record.Status = trace.StageFailure
			record.Error = "barcode not found"
		case errors.Is(err, context.DeadlineExceeded):
			record.Status = trace.StageTimeout
			record.Error = err.Error()
		default:
			record.Status = trace.StageFailure
			record.Error = err.Error()
		}
		rec.Append(record)
		zap.L().Warn("identity lookup failed",
			zap.String("query_id", q.QueryID),
			zap.String("barcode", q.Barcode),
			zap.Error(err),
		)
		return q
	}

	record.Status = trace.StageSuccess
	record.OutputDigest = trace.Digest(product.PrimaryBrand())
	rec.Append(record)

	enriched := q
	enriched.Brand = product.PrimaryBrand()
	if enriched.ProductName == "" {
		enriched.ProductName = product.ProductName
	}
	if product.Countries != "" {
		hints := make(map[string]string, len(q.Hints)+1)
		for k, v := range q.Hints {
			hints[k] = v
		}
		hints["countries_sold"] = product.Countries
		enriched.Hints = hints
	}

	zap.L().Info("identity enriched from barcode",
		zap.String("query_id", q.QueryID),
		zap.String("barcode", q.Barcode),
		zap.String("brand", enriched.Brand),
	)
	return enriched
}
