// Package cli wires configuration, logging and the batch runner into
// the prontuario command.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/JVLegend/iausp-prontuario/internal/config"
)

// app carries what PersistentPreRunE loads for every subcommand.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger

	openSession sessionFactory
}

// NewRootCommand builds the command tree. Running the root command
// without a subcommand starts an interactive capture batch.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{openSession: openBrowserSession})
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "prontuario",
		Short:         "Capture patient demographics from the PEP portal for the SIGH worklist.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = NewLogger(cfg.Log, cmd.ErrOrStderr())
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBatch(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "config/config.yaml", "path to config file (missing file uses defaults and environment)")

	root.AddCommand(newStatusCommand(a), newWorklistCommand(a))
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
