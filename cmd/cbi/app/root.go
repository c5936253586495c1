package app

import (
	"github.com/spf13/cobra"
)

// NewCbiCommand creates the root command for the cbi tool.
func NewCbiCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cbi",
		Short: "Static analysis and instrumentation for directed greybox fuzzing.",
		Long: `cbi prepares a compiled program for directed greybox fuzzing: given a
set of suspected-vulnerable source locations, it computes per-block distances
to them, identifies the branches that diverge away from them, and rewrites
the program so a fuzzer can measure how close each execution gets.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewInstrumentCommand())
	cmd.AddCommand(NewInspectCommand())

	return cmd
}
