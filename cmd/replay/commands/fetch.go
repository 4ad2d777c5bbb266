package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/ACodePorter/marketreplay/pkg/database"
	"github.com/ACodePorter/marketreplay/pkg/httputil"

	"github.com/ACodePorter/marketreplay/internal/market"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch daily bars from the chart endpoint into the database",
	Long: `Downloads daily OHLCV bars for a symbol from the configured chart
endpoint (CHART_BASE_URL) and upserts them into the database.

With --resume the range starts the day after the latest stored bar.

Examples:
  go run ./cmd/replay fetch --symbol 005930 --from 2023-01-01
  go run ./cmd/replay fetch --symbol 005930 --resume`,
	RunE: runFetch,
}

var (
	fetchSymbol string
	fetchFrom   string
	fetchTo     string
	fetchResume bool
)

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVar(&fetchSymbol, "symbol", "", "symbol to fetch (required)")
	fetchCmd.Flags().StringVar(&fetchFrom, "from", "", "start date (YYYY-MM-DD)")
	fetchCmd.Flags().StringVar(&fetchTo, "to", "", "end date (YYYY-MM-DD, default: today)")
	fetchCmd.Flags().BoolVar(&fetchResume, "resume", false, "continue from the latest stored bar")
	fetchCmd.MarkFlagRequired("symbol")
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if cfg.ChartBaseURL == "" {
		return fmt.Errorf("CHART_BASE_URL is not configured")
	}
	ctx := cmd.Context()

	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	repo := market.NewRepository(db.Pool)

	from, err := parseDateFlag(fetchFrom, time.Time{})
	if err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}
	to, err := parseDateFlag(fetchTo, time.Now())
	if err != nil {
		return fmt.Errorf("invalid --to: %w", err)
	}

	if fetchResume {
		latest, err := repo.GetLatestDate(ctx, fetchSymbol)
		switch {
		case err == nil:
			from = latest.AddDate(0, 0, 1)
		case errors.Is(err, pgx.ErrNoRows):
			// Nothing stored yet, keep the requested range.
		default:
			return fmt.Errorf("failed to read latest stored date: %w", err)
		}
	}
	if !to.After(from) {
		fmt.Println("Already up to date.")
		return nil
	}

	// The public chart endpoint throttles aggressive clients.
	httpClient := httputil.New(log).WithRateLimit(5, 1)
	chart := market.NewChartClient(cfg.ChartBaseURL, httpClient, log)

	bars, err := chart.FetchBars(ctx, fetchSymbol, from, to)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}
	if len(bars) == 0 {
		fmt.Println("No bars returned for the requested range.")
		return nil
	}

	if err := repo.SaveBatch(ctx, bars); err != nil {
		return fmt.Errorf("failed to store bars: %w", err)
	}

	fmt.Printf("Stored %d bars for %s (%s ~ %s)\n",
		len(bars), fetchSymbol,
		bars[0].Date.Format("2006-01-02"), bars[len(bars)-1].Date.Format("2006-01-02"))
	return nil
}
