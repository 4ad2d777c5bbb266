package predictor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ACodePorter/marketreplay/pkg/config"
	"github.com/ACodePorter/marketreplay/pkg/httputil"
	"github.com/ACodePorter/marketreplay/pkg/logger"

	"github.com/ACodePorter/marketreplay/internal/market"
)

// Predictor produces a point forecast for the next close given price
// history up to the current bar and a snapshot of the trading account.
type Predictor interface {
	PredictNextPrice(ctx context.Context, history *market.Series, pctx Context) (float64, error)
}

// TradeSnapshot is a trade as seen by a predictor prompt. It mirrors the
// engine's trade record without importing the engine package.
type TradeSnapshot struct {
	Timestamp time.Time
	Action    string
	Price     float64
	Quantity  float64
	PnL       float64
}

// Context carries the account and parameter snapshot for one prediction.
type Context struct {
	Symbol        string
	BuyThreshold  float64
	SellThreshold float64
	StopLossPct   float64
	TakeProfitPct float64
	Window        int
	Cash          float64
	Position      float64
	EntryPrice    float64
	CumulativePnL float64
	RecentTrades  []TradeSnapshot
	Timestamp     time.Time
}

// Options configures a predictor instance.
type Options struct {
	// Window is the number of trailing bars fed to the model.
	Window int
	// MaxTrades caps the trade history embedded in a remote prompt.
	MaxTrades int
	// Frequency names the bar interval for the prompt, e.g. "1d".
	Frequency string
	// SystemPrompt overrides the default system instruction when non-empty.
	SystemPrompt string
	// Service holds the remote service credentials and endpoint.
	Service config.PredictorConfig
}

// ErrorKind classifies remote prediction failures.
type ErrorKind string

const (
	ErrKindConfig         ErrorKind = "config"
	ErrKindNetwork        ErrorKind = "network"
	ErrKindHTTPStatus     ErrorKind = "http_status"
	ErrKindParseJSON      ErrorKind = "parse_json"
	ErrKindResponseFormat ErrorKind = "response_format"
	ErrKindNoNumber       ErrorKind = "no_number"
	ErrKindParseNumber    ErrorKind = "parse_number"
)

// CallError is a typed remote prediction failure. Kind distinguishes
// configuration problems (fail fast, nothing to retry) from transient
// transport errors and malformed responses.
type CallError struct {
	Kind    ErrorKind
	Model   string
	Message string
	Err     error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("predictor %s: %s: %s: %v", e.Model, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("predictor %s: %s: %s", e.Model, e.Kind, e.Message)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// New builds a predictor for a model identifier. Identifiers naming a
// remote provider get the remote variant; everything else, including the
// explicit "trailing" type, gets the deterministic trailing average.
func New(modelType string, opts Options, httpClient *httputil.Client, recorder *CallRecorder, log *logger.Logger) Predictor {
	switch strings.ToLower(modelType) {
	case "remote", "deepseek", "llm":
		return NewRemote(modelType, opts, httpClient, recorder, log)
	default:
		return NewTrailingAverage(modelType, opts.Window, log)
	}
}
