package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JVLegend/iausp-prontuario/internal/checkpoint"
)

func newStatusCommand(a *app) *cobra.Command {
	var failures int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print checkpoint counts and the most recent failures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			state := checkpoint.NewStore(a.cfg.Paths.Checkpoint, a.logger).Load()
			sum := state.Summary()

			fmt.Fprintf(out, "checkpoint=%s\n", a.cfg.Paths.Checkpoint)
			fmt.Fprintf(out, "processed=%d failed_attempts=%d open_failures=%d\n",
				sum.Processed, sum.FailedAttempts, sum.OpenFailures)
			if !sum.StartedAt.IsZero() {
				fmt.Fprintf(out, "started=%s\n", sum.StartedAt.Format("2006-01-02 15:04:05"))
			}
			if !sum.LastUpdatedAt.IsZero() {
				fmt.Fprintf(out, "last_update=%s\n", sum.LastUpdatedAt.Format("2006-01-02 15:04:05"))
			}

			recent := state.Failed
			if failures >= 0 && len(recent) > failures {
				recent = recent[len(recent)-failures:]
			}
			for _, r := range recent {
				fmt.Fprintf(out, "failure matricula=%s at=%s reason=%q\n",
					r.Identifier, r.Timestamp.Format("2006-01-02 15:04:05"), r.Reason)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&failures, "failures", 10, "number of recent failures to list")
	return cmd
}
