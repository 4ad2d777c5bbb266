package engine

import (
	"time"
)

// Trade actions. Records additionally use ActionHold for bars with no
// execution.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"
)

// Trade is one executed order, appended at execution time and immutable
// afterward. PnL is zero for buys; realized P&L lands on the closing sell.
type Trade struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	PnL       float64   `json:"pnl"`
}

// EquityPoint is one mark-to-market sample of account value.
type EquityPoint struct {
	Date   time.Time `json:"date"`
	Equity float64   `json:"equity"`
}

// Account is the mutable state of one model's simulated account. It is
// owned exclusively by the goroutine evaluating that model; the
// invariant `position == 0 <=> entry_price == 0` holds between bars.
//
// Buy-side commission is not charged against cash at entry beyond
// reducing the purchasable quantity; it is carried in PendingCommission
// and netted into realized P&L when the position closes. Changing this
// accounting changes every downstream number, so it stays as is.
type Account struct {
	Cash              float64       `json:"cash"`
	Position          float64       `json:"position"`
	EntryPrice        float64       `json:"entry_price"`
	CumulativePnL     float64       `json:"cumulative_pnl"`
	PendingCommission float64       `json:"pending_commission"`
	Trades            []Trade       `json:"trades"`
	EquityHistory     []EquityPoint `json:"equity_history"`
}

func NewAccount(initialCapital float64) *Account {
	return &Account{
		Cash:          initialCapital,
		Trades:        make([]Trade, 0),
		EquityHistory: make([]EquityPoint, 0),
	}
}

// Equity returns the mark-to-market account value at the given price.
func (a *Account) Equity(price float64) float64 {
	return a.Cash + a.Position*price
}

// Record is the per-bar, per-model simulation output row.
type Record struct {
	ModelType      string    `json:"model_type"`
	Symbol         string    `json:"symbol"`
	Timestamp      time.Time `json:"timestamp"`
	PredictedPrice float64   `json:"predicted_price"`
	ActualPrice    float64   `json:"actual_price"`
	Action         string    `json:"action"`
	Position       float64   `json:"position"`
	PnL            float64   `json:"pnl"`
	CumulativePnL  float64   `json:"cumulative_pnl"`
	Equity         float64   `json:"equity"`
	TriggerReason  string    `json:"trigger_reason"`
}

// Metrics summarizes one equity curve.
type Metrics struct {
	TotalReturn float64 `json:"total_return"`
	MaxDrawdown float64 `json:"max_drawdown"`
	SharpeRatio float64 `json:"sharpe_ratio"`
}

// TradeStats summarizes the closed trades of one model. Diagnostic
// only; the equity-curve metrics remain the authoritative numbers.
type TradeStats struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`
	ProfitFactor  float64 `json:"profit_factor"`
}

// Result is the complete output bundle of one simulation run. A failed
// run still carries everything produced before the failure point.
type Result struct {
	RunID         string                   `json:"run_id"`
	Symbol        string                   `json:"symbol"`
	Records       []Record                 `json:"records"`
	Metrics       map[string]Metrics       `json:"metrics"`
	TradeStats    map[string]TradeStats    `json:"trade_stats"`
	EquityCurves  map[string][]EquityPoint `json:"equity_curves"`
	Accounts      map[string]*Account      `json:"accounts"`
	Failed        bool                     `json:"failed"`
	FailureReason string                   `json:"failure_reason,omitempty"`
	StartedAt     time.Time                `json:"started_at"`
	FinishedAt    time.Time                `json:"finished_at"`
}
