package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjy-dev/cbi/internal/analysis"
	"github.com/zjy-dev/cbi/internal/artifact"
	"github.com/zjy-dev/cbi/internal/config"
	"github.com/zjy-dev/cbi/internal/instrum"
	"github.com/zjy-dev/cbi/internal/ir"
	"github.com/zjy-dev/cbi/internal/logger"
	"github.com/zjy-dev/cbi/internal/target"
)

// NewInstrumentCommand creates the "instrument" subcommand.
func NewInstrumentCommand() *cobra.Command {
	var (
		targetsFile string
		outDir      string
	)

	cmd := &cobra.Command{
		Use:   "instrument <input.bc>",
		Short: "Analyze target distances and instrument the module.",
		Long: `Analyze the distance of every basic block to the target locations and
rewrite the module with shared-memory instrumentation.

This command:
  1. Resolves the target CSV rows to IR instructions
  2. Computes function- and block-level distances to the target set
  3. Identifies critical branches diverging away from the targets
  4. Records comparable branch conditions
  5. Inserts the shared-memory updates and emits the artefact files

Artefacts written to the output directory:
  distance.txt        per-block distance and critical index
  functions.txt       instrumented function index
  targets.txt         target index with vulnerability scores
  condition_info.txt  recorded branch conditions
  dm.csv              critical-to-target distance matrix
  <input>.ci.bc       rewritten module

Examples:
  # Instrument prog.bc for the targets in vulns.csv
  cbi instrument prog.bc --targets vulns.csv

  # Write the artefacts somewhere else
  cbi instrument prog.bc --targets vulns.csv --out-dir build/cbi`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if !cmd.Flags().Changed("out-dir") {
				outDir = cfg.OutDir
			}

			logger.Init(cfg.LogLevel)
			return runInstrument(args[0], targetsFile, outDir)
		},
	}

	cmd.Flags().StringVar(&targetsFile, "targets", "", "Target locations CSV file (required)")
	cmd.Flags().StringVar(&outDir, "out-dir", ".", "Directory for the emitted artefacts")
	cmd.MarkFlagRequired("targets")

	return cmd
}

func runInstrument(inputPath, targetsFile, outDir string) error {
	logger.Info("Loading module %s", inputPath)
	mod, err := ir.Load(inputPath)
	if err != nil {
		return err
	}
	ir.AssignBlockIDs(mod)

	logger.Info("Loading targets from %s", targetsFile)
	targets, err := target.LoadFile(targetsFile)
	if err != nil {
		return err
	}
	logger.Info("Loaded %d target locations", len(targets))

	infos, err := target.Resolve(mod, targets)
	if err != nil {
		return err
	}
	logger.Info("Resolved %d target blocks", len(infos))

	logger.Info("Calculating vanilla distances...")
	state, err := analysis.Run(mod, infos)
	if err != nil {
		return err
	}
	logger.Info("Distances known for %d blocks, %d critical sources, %d conditions",
		state.NumAll, state.NumCritical, len(state.Conds))

	logger.Info("Instrumenting...")
	counts := instrum.Rewrite(state)
	logger.Info("Instrumented %d blocks, %d critical edges, %d conditions",
		counts.Blocks, counts.CriticalEdges, counts.Conds)

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	writer := artifact.Writer{OutDir: outDir}
	if err := writer.WriteAll(state); err != nil {
		return err
	}
	outModule, err := writer.WriteModule(state, inputPath)
	if err != nil {
		return err
	}
	logger.Info("Rewritten module saved to %s", outModule)

	return nil
}
