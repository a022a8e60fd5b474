package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brandtrace/ownership-cli/internal/mapping"
	"github.com/brandtrace/ownership-cli/pkg/notion"
)

var mappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "Manage the curated brand-to-owner mapping registry",
}

// -- mappings import --

var mappingsImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import brand mappings from a YAML file into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mappings, err := mapping.LoadFromFile(args[0])
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if err := st.UpsertMappings(ctx, mappings); err != nil {
			return eris.Wrap(err, "mappings import")
		}

		zap.L().Info("mappings imported",
			zap.String("file", args[0]),
			zap.Int("count", len(mappings)),
		)
		return nil
	},
}

// -- mappings sync --

var mappingsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync brand mappings from the Notion registry into the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Notion.Token == "" || cfg.Notion.MappingDB == "" {
			return eris.New("notion token and mapping database ID are required (OWNERCLI_NOTION_TOKEN, OWNERCLI_NOTION_MAPPING_DB)")
		}

		notionClient := notion.NewClient(cfg.Notion.Token)
		mappings, err := mapping.LoadFromNotion(ctx, notionClient, cfg.Notion.MappingDB)
		if err != nil {
			return eris.Wrap(err, "mappings sync")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if err := st.UpsertMappings(ctx, mappings); err != nil {
			return eris.Wrap(err, "mappings sync upsert")
		}

		zap.L().Info("mappings synced from notion", zap.Int("count", len(mappings)))
		return nil
	},
}

// -- mappings list --

var mappingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List brand mappings in the store",
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

		mappings, err := st.ListMappings(ctx)
		if err != nil {
			return eris.Wrap(err, "mappings list")
		}
		if len(mappings) == 0 {
			fmt.Fprintln(os.Stderr, "No mappings found.")
			return nil
		}

		formatMappingsList(os.Stdout, mappings)
		return nil
	},
}

// -- mappings export --

var mappingsExportCmd = &cobra.Command{
	Use:   "export <file.yaml>",
	Short: "Export brand mappings from the store to a YAML file",
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

		mappings, err := st.ListMappings(ctx)
		if err != nil {
			return eris.Wrap(err, "mappings export")
		}

		if err := mapping.SaveToFile(args[0], mappings); err != nil {
			return err
		}

		zap.L().Info("mappings exported",
			zap.String("file", args[0]),
			zap.Int("count", len(mappings)),
		)
		return nil
	},
}

func init() {
	mappingsCmd.AddCommand(mappingsImportCmd)
	mappingsCmd.AddCommand(mappingsSyncCmd)
	mappingsCmd.AddCommand(mappingsListCmd)
	mappingsCmd.AddCommand(mappingsExportCmd)
	rootCmd.AddCommand(mappingsCmd)
}

func formatMappingsList(out io.Writer, mappings []mapping.Mapping) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "BRAND\tOWNER\tCHAIN\tSOURCE")
	_, _ = fmt.Fprintln(w, "-----\t-----\t-----\t------")
	for _, m := range mappings {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			m.Brand,
			m.Owner,
			strings.Join(m.Chain, " > "),
			m.SourceURL,
		)
	}
	_ = w.Flush()
}
