package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brandtrace/ownership-cli/internal/model"
)

var (
	resolveBrand    string
	resolveProduct  string
	resolveBarcode  string
	resolveHints    map[string]string
	resolveTrace    bool
	resolveVerify   bool
	resolveDeadline time.Duration
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve the ultimate owner for a single brand or product",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		q, err := model.NewQuery(resolveBrand, resolveProduct, resolveBarcode, resolveHints)
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("verify") {
			cfg.Resolver.VerifyEnabled = resolveVerify
		}
		if resolveDeadline > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, resolveDeadline)
			defer cancel()
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res := env.Pipeline.Resolve(ctx, q)

		zap.L().Info("resolution complete",
			zap.String("subject", q.Subject()),
			zap.String("beneficiary", res.Result.FinancialBeneficiary),
			zap.Int("confidence", res.Result.ConfidenceScore),
			zap.String("label", string(res.Result.ConfidenceLabel)),
			zap.String("method", string(res.Result.ResultType)),
		)

		out := any(res.Result)
		if resolveTrace {
			out = res
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveBrand, "brand", "", "brand name")
	resolveCmd.Flags().StringVar(&resolveProduct, "product", "", "product name")
	resolveCmd.Flags().StringVar(&resolveBarcode, "barcode", "", "product barcode (EAN/UPC)")
	resolveCmd.Flags().StringToStringVar(&resolveHints, "hint", nil, "extra context as key=value (e.g. country=DE)")
	resolveCmd.Flags().BoolVar(&resolveTrace, "trace", false, "include the execution trace in the output")
	resolveCmd.Flags().BoolVar(&resolveVerify, "verify", true, "run the verification pass on inferred candidates")
	resolveCmd.Flags().DurationVar(&resolveDeadline, "deadline", 0, "overall deadline for the resolution (0 = none)")
	rootCmd.AddCommand(resolveCmd)
}
