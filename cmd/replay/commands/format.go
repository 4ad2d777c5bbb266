package commands

import (
	"fmt"
	"sort"
	"time"

	"github.com/ACodePorter/marketreplay/internal/engine"
)

func parseDateFlag(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	return time.Parse("2006-01-02", s)
}

// printResult renders the per-model metrics and trade summary.
func printResult(result *engine.Result, initialCapital float64, elapsed time.Duration) {
	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════")
	fmt.Printf("  Run %s\n", result.RunID)
	fmt.Println("───────────────────────────────────────────────────────────")
	fmt.Printf("  Records   : %d\n", len(result.Records))
	fmt.Printf("  Elapsed   : %.2fs\n", elapsed.Seconds())
	if result.Failed {
		fmt.Printf("  Status    : FAILED (%s)\n", result.FailureReason)
	} else {
		fmt.Printf("  Status    : completed\n")
	}
	fmt.Println("───────────────────────────────────────────────────────────")

	models := make([]string, 0, len(result.Metrics))
	for name := range result.Metrics {
		models = append(models, name)
	}
	sort.Strings(models)

	for _, name := range models {
		m := result.Metrics[name]
		account := result.Accounts[name]

		fmt.Printf("  %s\n", name)
		fmt.Printf("    total return : %8.4f%%\n", m.TotalReturn*100)
		fmt.Printf("    max drawdown : %8.4f%%\n", m.MaxDrawdown*100)
		fmt.Printf("    sharpe ratio : %8.4f\n", m.SharpeRatio)
		if stats, ok := result.TradeStats[name]; ok && stats.TotalTrades > 0 {
			fmt.Printf("    win rate     : %8.4f%% (%d/%d)\n",
				stats.WinRate*100, stats.WinningTrades, stats.TotalTrades)
			fmt.Printf("    avg win/loss : %.2f / %.2f\n", stats.AvgWin, stats.AvgLoss)
			if stats.ProfitFactor > 0 {
				fmt.Printf("    profit factor: %8.4f\n", stats.ProfitFactor)
			}
		}
		if account != nil {
			fmt.Printf("    trades       : %d\n", len(account.Trades))
			fmt.Printf("    final equity : %.2f (from %.2f)\n",
				finalEquity(account, initialCapital), initialCapital)
		}
	}
	fmt.Println("═══════════════════════════════════════════════════════════")
}

func finalEquity(account *engine.Account, initialCapital float64) float64 {
	if n := len(account.EquityHistory); n > 0 {
		return account.EquityHistory[n-1].Equity
	}
	return initialCapital
}
