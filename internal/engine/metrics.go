package engine

import "math"

// TotalReturn is the fractional gain of the final equity over the
// starting capital. Zero for an empty curve or non-positive capital.
func TotalReturn(equity []float64, initialCapital float64) float64 {
	if len(equity) == 0 || initialCapital <= 0 {
		return 0
	}
	return equity[len(equity)-1]/initialCapital - 1
}

// MaxDrawdown is the most negative fractional decline from the running
// equity peak. Zero or negative; zero for an empty curve.
func MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	runningMax := equity[0]
	worst := 0.0
	for _, e := range equity {
		if e > runningMax {
			runningMax = e
		}
		dd := (e - runningMax) / runningMax
		if dd < worst {
			worst = dd
		}
	}
	return worst
}

// SharpeRatio is mean(returns)/std(returns)*sqrt(n) over simple period
// returns, with population standard deviation. No risk-free rate, no
// annualization beyond the sample-count scaling. Zero when the curve
// has fewer than two points or the returns have zero variance.
func SharpeRatio(equity []float64) float64 {
	if len(equity) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		returns = append(returns, (equity[i]-equity[i-1])/equity[i-1])
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(float64(len(returns)))
}

// ComputeTradeStats derives win/loss statistics from the closed trades
// of one account. Only sells carry realized P&L; buys are ignored.
// Zero-P&L exits count toward totals but are neither wins nor losses.
func ComputeTradeStats(trades []Trade) TradeStats {
	var stats TradeStats
	var sumWin, sumLoss float64

	for _, t := range trades {
		if t.Action != ActionSell {
			continue
		}
		stats.TotalTrades++
		switch {
		case t.PnL > 0:
			stats.WinningTrades++
			sumWin += t.PnL
		case t.PnL < 0:
			stats.LosingTrades++
			sumLoss += -t.PnL
		}
	}

	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	}
	if stats.WinningTrades > 0 {
		stats.AvgWin = sumWin / float64(stats.WinningTrades)
	}
	if stats.LosingTrades > 0 {
		stats.AvgLoss = -sumLoss / float64(stats.LosingTrades)
	}
	if sumLoss > 0 {
		stats.ProfitFactor = sumWin / sumLoss
	}
	return stats
}

// ComputeMetrics bundles the three summary statistics for one curve.
func ComputeMetrics(curve []EquityPoint, initialCapital float64) Metrics {
	equity := make([]float64, len(curve))
	for i, p := range curve {
		equity[i] = p.Equity
	}
	return Metrics{
		TotalReturn: TotalReturn(equity, initialCapital),
		MaxDrawdown: MaxDrawdown(equity),
		SharpeRatio: SharpeRatio(equity),
	}
}
