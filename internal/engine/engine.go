package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ACodePorter/marketreplay/pkg/logger"

	"github.com/ACodePorter/marketreplay/internal/market"
	"github.com/ACodePorter/marketreplay/internal/predictor"
)

// ProgressFunc reports completed decision steps out of the run total.
type ProgressFunc func(done, total int)

// Engine replays a price series through one or more predictors,
// simulating an independent account per predictor.
//
// The walk-forward loop is sequential within a model (each bar's state
// depends on the prior bar) but models share nothing, so each model
// runs on its own goroutine. Record order in the result is
// deterministic regardless of scheduling: bar-major, model names
// sorted.
type Engine struct {
	predictors map[string]predictor.Predictor
	config     Config
	logger     *logger.Logger
	progress   ProgressFunc
}

func New(predictors map[string]predictor.Predictor, cfg Config, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{
		predictors: predictors,
		config:     cfg,
		logger:     log.WithComponent("engine"),
	}
}

// WithProgress registers a progress callback. It may be called from
// multiple goroutines; done is monotonic across the whole run.
func (e *Engine) WithProgress(fn ProgressFunc) *Engine {
	e.progress = fn
	return e
}

type modelOutcome struct {
	name    string
	records []Record
	account *Account
	err     error
}

// Run executes the simulation over the series. An empty or too-short
// series yields an empty result with no error. A predictor failure
// cancels the remaining models at their next bar boundary; everything
// produced up to that point is retained in the returned result, which
// is marked failed, and the error is returned as well.
func (e *Engine) Run(ctx context.Context, series *market.Series) (*Result, error) {
	cfg := e.config.normalized()

	symbol := cfg.Symbol
	if symbol == "" && series != nil {
		symbol = series.Symbol()
	}

	result := &Result{
		RunID:        uuid.NewString(),
		Symbol:       symbol,
		Records:      make([]Record, 0),
		Metrics:      make(map[string]Metrics),
		TradeStats:   make(map[string]TradeStats),
		EquityCurves: make(map[string][]EquityPoint),
		Accounts:     make(map[string]*Account),
		StartedAt:    time.Now().UTC(),
	}

	names := make([]string, 0, len(e.predictors))
	for name := range e.predictors {
		names = append(names, name)
	}
	sort.Strings(names)

	barCount := series.Len()
	steps := barCount - 1 - cfg.Window
	if steps < 0 {
		steps = 0
	}

	e.logger.WithFields(map[string]interface{}{
		"run_id":          result.RunID,
		"symbol":          symbol,
		"bars":            barCount,
		"window":          cfg.Window,
		"initial_capital": cfg.InitialCapital,
		"models":          names,
	}).Info("Starting simulation run")

	if series == nil || series.Empty() {
		e.logger.Warn("Price series is empty, returning empty result")
		result.FinishedAt = time.Now().UTC()
		return result, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var done int64
	total := steps * len(names)

	outcomes := make([]modelOutcome, len(names))
	var wg sync.WaitGroup
	for idx, name := range names {
		wg.Add(1)
		go func(idx int, name string, p predictor.Predictor) {
			defer wg.Done()
			records, account, err := e.runModel(runCtx, name, p, series, symbol, cfg, &done, total)
			if err != nil {
				cancel()
			}
			outcomes[idx] = modelOutcome{name: name, records: records, account: account, err: err}
		}(idx, name, e.predictors[name])
	}
	wg.Wait()

	// Deterministic merge: bar-major, models in sorted name order. A
	// model that failed early simply contributes fewer steps.
	maxSteps := 0
	for _, o := range outcomes {
		if len(o.records) > maxSteps {
			maxSteps = len(o.records)
		}
	}
	for step := 0; step < maxSteps; step++ {
		for _, o := range outcomes {
			if step < len(o.records) {
				result.Records = append(result.Records, o.records[step])
			}
		}
	}

	// Prefer the originating failure over a sibling's cancellation error.
	var firstErr, cancelErr error
	for _, o := range outcomes {
		result.Accounts[o.name] = o.account
		result.EquityCurves[o.name] = o.account.EquityHistory
		result.Metrics[o.name] = ComputeMetrics(o.account.EquityHistory, cfg.InitialCapital)
		result.TradeStats[o.name] = ComputeTradeStats(o.account.Trades)

		if o.err == nil {
			continue
		}
		if errors.Is(o.err, context.Canceled) {
			if cancelErr == nil {
				cancelErr = fmt.Errorf("model %s: %w", o.name, o.err)
			}
			continue
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("model %s: %w", o.name, o.err)
		}
	}
	if firstErr == nil {
		firstErr = cancelErr
	}

	result.FinishedAt = time.Now().UTC()

	if firstErr != nil {
		result.Failed = true
		result.FailureReason = firstErr.Error()
		e.logger.WithError(firstErr).WithField("run_id", result.RunID).Error("Simulation run failed")
		return result, firstErr
	}

	e.logger.WithFields(map[string]interface{}{
		"run_id":  result.RunID,
		"records": len(result.Records),
	}).Info("Simulation run completed")
	return result, nil
}

// runModel walks one model's account through the series.
func (e *Engine) runModel(
	ctx context.Context,
	name string,
	p predictor.Predictor,
	series *market.Series,
	symbol string,
	cfg Config,
	done *int64,
	total int,
) ([]Record, *Account, error) {
	account := NewAccount(cfg.InitialCapital)
	bars := series.Bars()
	records := make([]Record, 0)

	// The last bar is never decision-tested: its next bar would be out
	// of range.
	for i := cfg.Window; i <= len(bars)-2; i++ {
		select {
		case <-ctx.Done():
			return records, account, ctx.Err()
		default:
		}

		current := bars[i]
		next := bars[i+1]
		currentPrice := current.Close
		nextPrice := next.Close
		timestamp := next.Date

		history := series.Head(i + 1)
		pctx := predictor.Context{
			Symbol:        symbol,
			BuyThreshold:  cfg.BuyThreshold,
			SellThreshold: cfg.SellThreshold,
			StopLossPct:   cfg.StopLossPct,
			TakeProfitPct: cfg.TakeProfitPct,
			Window:        cfg.Window,
			Cash:          account.Cash,
			Position:      account.Position,
			EntryPrice:    account.EntryPrice,
			CumulativePnL: account.CumulativePnL,
			RecentTrades:  recentTrades(account.Trades, cfg.MaxTrades),
			Timestamp:     timestamp,
		}

		predicted, err := p.PredictNextPrice(ctx, history, pctx)
		if err != nil {
			return records, account, fmt.Errorf("prediction at bar %s failed: %w",
				current.Date.Format("2006-01-02"), err)
		}

		var change float64
		if currentPrice > 0 {
			change = (predicted - currentPrice) / currentPrice
		}

		action := ActionHold
		pnl := 0.0
		reason := "hold"

		// Risk bounds first: a position past its stop-loss or
		// take-profit closes unconditionally before any new signal is
		// considered for this bar.
		if account.Position > 0 && account.EntryPrice > 0 {
			drawdown := (currentPrice - account.EntryPrice) / account.EntryPrice
			if drawdown <= -cfg.StopLossPct {
				action = ActionSell
				reason = fmt.Sprintf("stop_loss_%.4f", drawdown)
			} else if drawdown >= cfg.TakeProfitPct {
				action = ActionSell
				reason = fmt.Sprintf("take_profit_%.4f", drawdown)
			}
		}

		if action == ActionHold {
			if change >= cfg.BuyThreshold && account.Position == 0 {
				action = ActionBuy
				reason = fmt.Sprintf("buy_signal_change_%.4f", change)
			} else if change <= cfg.SellThreshold && account.Position > 0 {
				action = ActionSell
				reason = fmt.Sprintf("sell_signal_change_%.4f", change)
			}
		}

		switch {
		case action == ActionBuy && account.Position == 0 && currentPrice > 0:
			executionPrice := currentPrice * (1 + cfg.Slippage)
			if executionPrice <= 0 {
				executionPrice = currentPrice
			}
			var quantity float64
			if cfg.Commission > 0 {
				quantity = account.Cash / (executionPrice * (1 + cfg.Commission))
			} else {
				quantity = account.Cash / executionPrice
			}
			tradeValue := executionPrice * quantity
			var buyCommission float64
			if cfg.Commission > 0 {
				buyCommission = tradeValue * cfg.Commission
			}
			account.Cash -= tradeValue + buyCommission
			account.Position = quantity
			account.EntryPrice = executionPrice
			account.PendingCommission = buyCommission
			account.Trades = append(account.Trades, Trade{
				Timestamp: timestamp,
				Action:    ActionBuy,
				Price:     executionPrice,
				Quantity:  quantity,
				PnL:       0,
			})
			e.logger.WithFields(map[string]interface{}{
				"model":    name,
				"date":     timestamp.Format("2006-01-02"),
				"price":    executionPrice,
				"quantity": quantity,
				"cash":     account.Cash,
			}).Debug("Executed buy")

		case action == ActionSell && account.Position > 0 && currentPrice > 0:
			quantity := account.Position
			executionPrice := currentPrice * (1 - cfg.Slippage)
			if executionPrice <= 0 {
				executionPrice = currentPrice
			}
			revenue := quantity * executionPrice
			var sellCommission float64
			if cfg.Commission > 0 {
				sellCommission = revenue * cfg.Commission
			}
			cost := quantity * account.EntryPrice
			tradePnL := revenue - (sellCommission + account.PendingCommission) - cost
			account.Cash += revenue - sellCommission
			account.Position = 0
			account.EntryPrice = 0
			account.PendingCommission = 0
			pnl = tradePnL
			account.CumulativePnL += tradePnL
			account.Trades = append(account.Trades, Trade{
				Timestamp: timestamp,
				Action:    ActionSell,
				Price:     executionPrice,
				Quantity:  quantity,
				PnL:       tradePnL,
			})
			e.logger.WithFields(map[string]interface{}{
				"model":          name,
				"date":           timestamp.Format("2006-01-02"),
				"price":          executionPrice,
				"quantity":       quantity,
				"pnl":            tradePnL,
				"cumulative_pnl": account.CumulativePnL,
			}).Debug("Executed sell")
		}

		// Mark to market one step ahead: the decision's effect is
		// observed at the next bar's close.
		equity := account.Equity(nextPrice)
		account.EquityHistory = append(account.EquityHistory, EquityPoint{
			Date:   timestamp,
			Equity: equity,
		})

		records = append(records, Record{
			ModelType:      name,
			Symbol:         symbol,
			Timestamp:      timestamp,
			PredictedPrice: predicted,
			ActualPrice:    nextPrice,
			Action:         action,
			Position:       account.Position,
			PnL:            pnl,
			CumulativePnL:  account.CumulativePnL,
			Equity:         equity,
			TriggerReason:  reason,
		})

		if e.progress != nil {
			e.progress(int(atomic.AddInt64(done, 1)), total)
		}
	}

	return records, account, nil
}

func recentTrades(trades []Trade, max int) []predictor.TradeSnapshot {
	if max > 0 && len(trades) > max {
		trades = trades[len(trades)-max:]
	}
	out := make([]predictor.TradeSnapshot, len(trades))
	for i, t := range trades {
		out[i] = predictor.TradeSnapshot{
			Timestamp: t.Timestamp,
			Action:    t.Action,
			Price:     t.Price,
			Quantity:  t.Quantity,
			PnL:       t.PnL,
		}
	}
	return out
}
