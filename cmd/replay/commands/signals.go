package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ACodePorter/marketreplay/internal/market"
	"github.com/ACodePorter/marketreplay/internal/strategy"
)

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "Evaluate the deviation-threshold strategy over a series",
	Long: `Runs the deviation-threshold tranche strategy over a CSV price
series and prints the triggered signals.

Examples:
  go run ./cmd/replay signals --csv data/bars.csv
  go run ./cmd/replay signals --csv data/bars.csv --params strategy.yaml --all`,
	RunE: runSignals,
}

var (
	signalsCSV    string
	signalsParams string
	signalsAll    bool
)

func init() {
	rootCmd.AddCommand(signalsCmd)

	signalsCmd.Flags().StringVar(&signalsCSV, "csv", "", "CSV file with OHLCV bars (required)")
	signalsCmd.Flags().StringVar(&signalsParams, "params", "", "strategy parameter YAML (default: built-in defaults)")
	signalsCmd.Flags().BoolVar(&signalsAll, "all", false, "print every bar, not only triggered signals")
	signalsCmd.MarkFlagRequired("csv")
}

func runSignals(cmd *cobra.Command, args []string) error {
	_, log, err := loadConfigAndLogger()
	if err != nil {
		return err
	}

	params := strategy.DefaultParams()
	if signalsParams != "" {
		loaded, _, err := strategy.LoadParams(signalsParams)
		if err != nil {
			return fmt.Errorf("failed to load strategy params: %w", err)
		}
		params = loaded
	}

	series, err := market.LoadCSV(signalsCSV)
	if err != nil {
		return err
	}
	if series.Empty() {
		fmt.Println("No bars in the input file.")
		return nil
	}

	hash, err := params.Hash()
	if err != nil {
		return err
	}
	fmt.Printf("Evaluating %d bars (params %s)\n\n", series.Len(), hash[:12])

	dev := strategy.NewDeviation(params, log)
	points := dev.Run(series)

	var buys, sells int
	for _, pt := range points {
		switch pt.Signal {
		case strategy.SignalBuy:
			buys++
		case strategy.SignalSell:
			sells++
		}
		if !signalsAll && pt.Signal == strategy.SignalHold {
			continue
		}
		ma := "-"
		if pt.MA != nil {
			ma = fmt.Sprintf("%.2f", *pt.MA)
		}
		fmt.Printf("%s  close=%-10.2f ma=%-10s dev=%+.4f  %-4s  pos=%.4f  %s\n",
			pt.Date.Format("2006-01-02"), pt.Close, ma, pt.Deviation,
			pt.Signal, pt.CumulativePosition, pt.Reason)
	}

	fmt.Printf("\n%d bars, %d tranche buys, %d tranche sells\n", len(points), buys, sells)
	if len(points) > 0 {
		last := points[len(points)-1]
		fmt.Printf("final suggested exposure: %.4f\n", dev.SuggestPositionSize(last))
	}
	return nil
}
