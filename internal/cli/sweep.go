package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	sweepLimit  int
	sweepDryRun bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Re-processes raw transmissions left pending by a failed attempt",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		limit := sweepLimit
		if limit <= 0 {
			limit = cfg.Ingest.SweepBatch
		}

		if sweepDryRun {
			records, err := a.ingest.Retryable(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROTOCOL\tATTEMPTS\tEXTRA")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", rec.ID, rec.Protocol, rec.Attempts, rec.Extra)
			}
			return w.Flush()
		}

		n, err := a.ingest.Sweep(cmd.Context(), limit)
		fmt.Fprintf(cmd.OutOrStdout(), "retried %d transmissions\n", n)
		return err
	},
}

func init() {
	sweepCmd.Flags().IntVar(&sweepLimit, "limit", 0, "maximum transmissions to retry (default ingest.sweep_batch)")
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "list the transmissions without retrying them")
	rootCmd.AddCommand(sweepCmd)
}
