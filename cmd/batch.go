package main

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brandtrace/ownership-cli/internal/model"
	"github.com/brandtrace/ownership-cli/internal/resilience"
	"github.com/brandtrace/ownership-cli/internal/trace"
)

var (
	batchCSV        string
	batchLimit      int
	batchOutput     string
	batchDeadLetter string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Resolve ownership for a CSV of brands and products",
	Long: `Reads queries from a CSV with a header row containing any of the
columns: brand, product, barcode. Each row becomes one resolution.
Rows that end in insufficient_evidence are written to the dead-letter
file for later replay.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		queries, err := parseQueryCSV(batchCSV)
		if err != nil {
			return err
		}
		if batchLimit > 0 && len(queries) > batchLimit {
			queries = queries[:batchLimit]
		}
		if len(queries) == 0 {
			zap.L().Info("no queries in csv")
			return nil
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("processing batch",
			zap.Int("queries", len(queries)),
			zap.Int("concurrency", cfg.Batch.MaxConcurrent),
		)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Batch.MaxConcurrent)

		var mu sync.Mutex
		var results []*model.Resolution
		var deadLetters []resilience.DeadLetter
		var resolved, unresolved atomic.Int64

		for _, q := range queries {
			g.Go(func() error {
				log := zap.L().With(zap.String("subject", q.Subject()))

				res := env.Pipeline.Resolve(gctx, q)

				if res.Result.ResultType == model.MethodInsufficientEvidence {
					unresolved.Add(1)
					log.Warn("query unresolved")
					mu.Lock()
					deadLetters = append(deadLetters, deadLetterFor(q, res))
					mu.Unlock()
				} else {
					resolved.Add(1)
					log.Info("query resolved",
						zap.String("beneficiary", res.Result.FinancialBeneficiary),
						zap.Int("confidence", res.Result.ConfidenceScore),
					)
				}

				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		zap.L().Info("batch complete",
			zap.Int("total", len(queries)),
			zap.Int64("resolved", resolved.Load()),
			zap.Int64("unresolved", unresolved.Load()),
		)

		if batchDeadLetter != "" && len(deadLetters) > 0 {
			if err := writeDeadLetters(batchDeadLetter, deadLetters); err != nil {
				return err
			}
			zap.L().Info("dead letters written",
				zap.String("path", batchDeadLetter),
				zap.Int("count", len(deadLetters)),
			)
		}

		return writeBatchResults(batchOutput, results)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchCSV, "csv", "", "path to query CSV (required)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max queries to process (0 = all)")
	batchCmd.Flags().StringVar(&batchOutput, "output", "", "write results JSON to file (default: stdout)")
	batchCmd.Flags().StringVar(&batchDeadLetter, "dead-letter", "dead-letters.json", "write unresolved queries here for replay")
	_ = batchCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(batchCmd)
}

// parseQueryCSV reads queries from a CSV with a header row. Column
// matching is case-insensitive; unknown columns become hints.
func parseQueryCSV(path string) ([]model.OwnershipQuery, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "batch: open csv")
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrap(err, "batch: read csv header")
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	var queries []model.OwnershipQuery
	line := 1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "batch: read csv line %d", line+1)
		}
		line++

		var brand, product, barcode string
		hints := map[string]string{}
		for i, val := range row {
			if i >= len(header) {
				break
			}
			val = strings.TrimSpace(val)
			if val == "" {
				continue
			}
			switch header[i] {
			case "brand":
				brand = val
			case "product", "product_name":
				product = val
			case "barcode", "ean", "upc":
				barcode = val
			default:
				hints[header[i]] = val
			}
		}
		if len(hints) == 0 {
			hints = nil
		}

		q, err := model.NewQuery(brand, product, barcode, hints)
		if err != nil {
			zap.L().Warn("skipping csv row without identity", zap.Int("line", line))
			continue
		}
		queries = append(queries, q)
	}
	return queries, nil
}

// deadLetterFor builds a replayable record for an unresolved query. The
// error class comes from the trace: a timed-out stage means a retry
// might succeed, anything else is permanent.
func deadLetterFor(q model.OwnershipQuery, res *model.Resolution) resilience.DeadLetter {
	class := "permanent"
	errMsg := "insufficient evidence"
	if res.Trace != nil {
		for _, s := range res.Trace.Stages {
			if s.Status == trace.StageTimeout || s.Status == trace.StageSkipped {
				class = "transient"
				errMsg = s.StageName + ": " + string(s.Status)
				break
			}
		}
	}
	now := time.Now().UTC()
	return resilience.DeadLetter{
		ID:           uuid.New().String(),
		Query:        q,
		Error:        errMsg,
		ErrorClass:   class,
		RetryCount:   0,
		MaxRetries:   3,
		CreatedAt:    now,
		LastFailedAt: now,
	}
}

func writeDeadLetters(path string, letters []resilience.DeadLetter) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "batch: create dead-letter file")
	}
	defer f.Close() //nolint:errcheck

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(letters), "batch: write dead letters")
}

func writeBatchResults(path string, results []*model.Resolution) error {
	var w *os.File
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return eris.Wrap(err, "batch: create output file")
		}
		defer f.Close() //nolint:errcheck
		w = f
	} else {
		w = os.Stdout
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
