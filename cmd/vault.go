package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/hunter-cli/internal/model"
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Inspect the cross-run enrichment vault",
}

var vaultListCmd = &cobra.Command{
	Use:   "list",
	Short: "List vault entries",
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

		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		entries, err := st.ListVault(ctx, limit, offset)
		if err != nil {
			return eris.Wrap(err, "vault list")
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Vault is empty.")
			return nil
		}

		formatVaultList(os.Stdout, entries)
		return nil
	},
}

var vaultShowCmd = &cobra.Command{
	Use:   "show <business-id>",
	Short: "Show one vault entry",
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

		entry, err := st.GetEnrichment(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "vault show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entry)
	},
}

func init() {
	vaultListCmd.Flags().Int("limit", 100, "max number of entries to display")
	vaultListCmd.Flags().Int("offset", 0, "entries to skip")

	vaultCmd.AddCommand(vaultListCmd)
	vaultCmd.AddCommand(vaultShowCmd)
	rootCmd.AddCommand(vaultCmd)
}

func formatVaultList(out io.Writer, entries []model.Enrichment) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "BUSINESS_ID\tSTATUS\tSITE\tTECH\tATTEMPTS\tFETCHED")
	_, _ = fmt.Fprintln(w, "-----------\t------\t----\t----\t--------\t-------")

	for _, e := range entries {
		site := e.SiteURL
		if len(site) > 40 {
			site = site[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			e.BusinessID,
			e.LastStatus,
			site,
			e.TechScore,
			e.Attempts,
			e.FetchedAt.Format(time.DateTime),
		)
	}
	_ = w.Flush()
}
