package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/brandtrace/ownership-cli/internal/model"
	"github.com/brandtrace/ownership-cli/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect resolution history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List past resolutions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		brand, _ := cmd.Flags().GetString("brand")
		limit, _ := cmd.Flags().GetInt("limit")

		resolutions, err := st.ListResolutions(ctx, store.ResolutionFilter{
			Brand: brand,
			Limit: limit,
		})
		if err != nil {
			return eris.Wrap(err, "history list")
		}
		if len(resolutions) == 0 {
			fmt.Fprintln(os.Stderr, "No resolutions found.")
			return nil
		}

		formatResolutionsList(os.Stdout, resolutions)
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <resolution-id>",
	Short: "Show a resolution with its full execution trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		res, err := st.GetResolution(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "history show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	historyListCmd.Flags().String("brand", "", "filter by brand")
	historyListCmd.Flags().Int("limit", 50, "max number of resolutions to display")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}

func formatResolutionsList(out io.Writer, resolutions []model.Resolution) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSUBJECT\tBENEFICIARY\tCONF\tLABEL\tMETHOD\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-------\t-----------\t----\t-----\t------\t-------")

	for _, r := range resolutions {
		beneficiary, conf, label, method := "", 0, "", ""
		if r.Result != nil {
			beneficiary = r.Result.FinancialBeneficiary
			conf = r.Result.ConfidenceScore
			label = string(r.Result.ConfidenceLabel)
			method = string(r.Result.ResultType)
		}

		subject := r.Query.Subject()
		if len(subject) > 30 {
			subject = subject[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			truncateID(r.ID),
			subject,
			beneficiary,
			conf,
			label,
			method,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
