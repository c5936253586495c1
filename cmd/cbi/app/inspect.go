package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjy-dev/cbi/internal/config"
	"github.com/zjy-dev/cbi/internal/inspect"
	"github.com/zjy-dev/cbi/internal/logger"
)

// NewInspectCommand creates the "inspect" subcommand.
func NewInspectCommand() *cobra.Command {
	var withICFG bool

	cmd := &cobra.Command{
		Use:   "inspect <input.bc> <output.json>",
		Short: "Emit function and basic-block metadata as JSON.",
		Long: `Emit the function, basic-block and line-range metadata of a module as a
JSON report for external tooling.

Examples:
  # Dump the function metadata
  cbi inspect prog.bc prog.json

  # Include the inter-procedural CFG edges
  cbi inspect prog.bc prog.json --icfg`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger.Init(cfg.LogLevel)

			return inspect.Run(args[0], args[1], withICFG)
		},
	}

	cmd.Flags().BoolVar(&withICFG, "icfg", false, "Include inter-procedural CFG edges")

	return cmd
}
