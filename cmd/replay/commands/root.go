package commands

import (
	"github.com/spf13/cobra"

	"github.com/ACodePorter/marketreplay/pkg/config"
	"github.com/ACodePorter/marketreplay/pkg/logger"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "replay",
	Short: "Market replay - walk-forward backtesting harness",
	Long: `Market replay harness

Replays historical price series through prediction models and
rule-based strategies, simulating trades and tracking account
state bar by bar.

Examples:
  go run ./cmd/replay run --csv data/bars.csv --models trailing
  go run ./cmd/replay signals --csv data/bars.csv --params strategy.yaml
  go run ./cmd/replay serve`,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfigAndLogger builds the shared config and logger for a command.
func loadConfigAndLogger() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, logger.New(cfg), nil
}
