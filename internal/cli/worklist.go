package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JVLegend/iausp-prontuario/internal/sigh"
)

func newWorklistCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "worklist",
		Short: "Load the SIGH exports and print worklist statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stats, err := sigh.Load(a.cfg.Paths.Data, a.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dir=%s files=%d failed_files=%d rows=%d duplicates=%d empty_ids=%d unique=%d\n",
				a.cfg.Paths.Data, stats.Files, stats.FailedFiles, stats.Rows, stats.DuplicateRows, stats.EmptyIDs, stats.Unique)
			return nil
		},
	}
}
