package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ACodePorter/marketreplay/pkg/database"
	"github.com/ACodePorter/marketreplay/pkg/httputil"
	"github.com/ACodePorter/marketreplay/pkg/redis"

	"github.com/ACodePorter/marketreplay/internal/engine"
	"github.com/ACodePorter/marketreplay/internal/market"
	"github.com/ACodePorter/marketreplay/internal/predictor"
	"github.com/ACodePorter/marketreplay/internal/runstore"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation over a price series",
	Long: `Replays a price series through one or more prediction models,
simulating an independent account per model.

The series comes from a CSV file (--csv) or from the database
(--symbol with --from/--to).

Examples:
  go run ./cmd/replay run --csv data/bars.csv --models trailing
  go run ./cmd/replay run --symbol 005930 --from 2023-01-01 --models trailing,deepseek
  go run ./cmd/replay run --csv data/bars.csv --models trailing --commission 0.0015 --slippage 0.001`,
	RunE: runSimulation,
}

var (
	runCSV        string
	runSymbol     string
	runFrom       string
	runTo         string
	runModels     []string
	runCapital    float64
	runWindow     int
	runCommission float64
	runSlippage   float64
	runBuyThresh  float64
	runSellThresh float64
	runStopLoss   float64
	runTakeProfit float64
	runSave       bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	defaults := engine.DefaultConfig()
	runCmd.Flags().StringVar(&runCSV, "csv", "", "CSV file with OHLCV bars")
	runCmd.Flags().StringVar(&runSymbol, "symbol", "", "symbol to load from the database")
	runCmd.Flags().StringVar(&runFrom, "from", "", "start date (YYYY-MM-DD)")
	runCmd.Flags().StringVar(&runTo, "to", "", "end date (YYYY-MM-DD, default: today)")
	runCmd.Flags().StringSliceVar(&runModels, "models", []string{"trailing"}, "models to evaluate")
	runCmd.Flags().Float64Var(&runCapital, "capital", defaults.InitialCapital, "initial capital per model")
	runCmd.Flags().IntVar(&runWindow, "window", defaults.Window, "history window in bars")
	runCmd.Flags().Float64Var(&runCommission, "commission", defaults.Commission, "commission rate")
	runCmd.Flags().Float64Var(&runSlippage, "slippage", defaults.Slippage, "slippage rate")
	runCmd.Flags().Float64Var(&runBuyThresh, "buy-threshold", defaults.BuyThreshold, "predicted change to enter")
	runCmd.Flags().Float64Var(&runSellThresh, "sell-threshold", defaults.SellThreshold, "predicted change to exit")
	runCmd.Flags().Float64Var(&runStopLoss, "stop-loss", defaults.StopLossPct, "stop loss fraction")
	runCmd.Flags().Float64Var(&runTakeProfit, "take-profit", defaults.TakeProfitPct, "take profit fraction")
	runCmd.Flags().BoolVar(&runSave, "save", false, "persist the result to the database")
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var db *database.DB
	if runCSV == "" || runSave {
		db, err = database.New(cfg)
		if err != nil {
			return fmt.Errorf("database required for this invocation: %w", err)
		}
		defer db.Close()
	}

	series, err := loadRunSeries(ctx, db)
	if err != nil {
		return err
	}
	if series.Empty() {
		fmt.Println("No tradable data for the requested range.")
		return nil
	}

	engCfg := engine.DefaultConfig()
	engCfg.Symbol = runSymbol
	engCfg.InitialCapital = runCapital
	engCfg.Window = runWindow
	engCfg.Commission = runCommission
	engCfg.Slippage = runSlippage
	engCfg.BuyThreshold = runBuyThresh
	engCfg.SellThreshold = runSellThresh
	engCfg.StopLossPct = runStopLoss
	engCfg.TakeProfitPct = runTakeProfit

	redisClient, err := redis.New(cfg)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, prediction cache disabled")
	}
	var cache *redis.Cache
	if redisClient != nil {
		defer redisClient.Close()
		cache = redis.NewCache(redisClient, "replay")
	}

	recorder := predictor.NewCallRecorder()
	predictors := make(map[string]predictor.Predictor, len(runModels))
	for _, model := range runModels {
		httpClient := httputil.NewWithTimeout(log, cfg.Predictor.Timeout).DisableRetry()
		p := predictor.New(model, predictor.Options{
			Window:    engCfg.Window,
			MaxTrades: engCfg.MaxTrades,
			Service:   cfg.Predictor,
		}, httpClient, recorder, log)
		// Remote predictions are cached per (model, symbol, bar) so
		// re-running a range does not re-bill identical calls.
		if _, remote := p.(*predictor.Remote); remote && cache != nil && redisClient.Enabled() {
			p = predictor.NewCached(p, cache, model, log)
		}
		predictors[model] = p
	}

	fmt.Printf("Replaying %d bars for %q with models: %s\n",
		series.Len(), displaySymbol(series), strings.Join(runModels, ", "))

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("simulating"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	eng := engine.New(predictors, engCfg, log).WithProgress(func(done, total int) {
		bar.ChangeMax(total)
		bar.Set(done)
	})

	started := time.Now()
	result, runErr := eng.Run(ctx, series)
	bar.Finish()

	if result != nil {
		printResult(result, engCfg.InitialCapital, time.Since(started))

		if runSave && db != nil {
			store := runstore.NewRepository(db.Pool)
			if err := store.SaveResult(ctx, result, "", recorder.Records()); err != nil {
				return fmt.Errorf("failed to persist run: %w", err)
			}
			fmt.Printf("Saved run %s\n", result.RunID)
		}
	}
	return runErr
}

func loadRunSeries(ctx context.Context, db *database.DB) (*market.Series, error) {
	if runCSV != "" {
		return market.LoadCSV(runCSV)
	}
	if runSymbol == "" {
		return nil, fmt.Errorf("either --csv or --symbol is required")
	}

	from, err := parseDateFlag(runFrom, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("invalid --from: %w", err)
	}
	to, err := parseDateFlag(runTo, time.Now())
	if err != nil {
		return nil, fmt.Errorf("invalid --to: %w", err)
	}

	repo := market.NewRepository(db.Pool)
	return repo.GetBySymbolAndDateRange(ctx, runSymbol, from, to)
}

func displaySymbol(series *market.Series) string {
	if runSymbol != "" {
		return runSymbol
	}
	if s := series.Symbol(); s != "" {
		return s
	}
	return "series"
}
