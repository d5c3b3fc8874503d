package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var fencecheckCmd = &cobra.Command{
	Use:   "fencecheck",
	Short: "Runs one geofence check pass over the new location fixes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.checker.Run(cmd.Context())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	rootCmd.AddCommand(fencecheckCmd)
}
