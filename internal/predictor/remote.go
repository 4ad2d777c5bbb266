package predictor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ACodePorter/marketreplay/pkg/httputil"
	"github.com/ACodePorter/marketreplay/pkg/logger"

	"github.com/ACodePorter/marketreplay/internal/market"
)

const defaultSystemPrompt = "You are a quantitative price forecasting assistant. " +
	"Given recent OHLCV bars and the current account state, estimate the next bar's closing price. " +
	"Respond with a single number only. No units, no explanation, no extra text."

// numberRe extracts the first numeric token from a model reply,
// tolerating sign, decimals and scientific notation.
var numberRe = regexp.MustCompile(`[-+]?\d*\.?\d+(?:[eE][-+]?\d+)?`)

// Remote asks an OpenAI-compatible chat completions endpoint for the
// next close. Every attempt is appended to the shared CallRecorder.
// Calls are never retried here: a failed prediction fails the run.
type Remote struct {
	name     string
	opts     Options
	http     *httputil.Client
	recorder *CallRecorder
	fallback *TrailingAverage
	logger   *logger.Logger
}

func NewRemote(name string, opts Options, httpClient *httputil.Client, recorder *CallRecorder, log *logger.Logger) *Remote {
	if log == nil {
		log = logger.NewNop()
	}
	if httpClient == nil {
		timeout := opts.Service.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = httputil.NewWithTimeout(log, timeout).DisableRetry()
	}
	window := opts.Window
	if window <= 0 {
		window = 1
	}
	return &Remote{
		name:     name,
		opts:     opts,
		http:     httpClient,
		recorder: recorder,
		fallback: NewTrailingAverage(name, window, log),
		logger:   log.WithComponent("predictor.remote"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (r *Remote) PredictNextPrice(ctx context.Context, history *market.Series, pctx Context) (float64, error) {
	if history == nil || history.Empty() {
		r.logger.WithField("symbol", pctx.Symbol).Warn("No history available, falling back to trailing average")
		return r.fallback.PredictNextPrice(ctx, history, pctx)
	}

	systemPrompt := r.opts.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	prompt := r.buildPrompt(history, pctx)

	rec := CallRecord{
		Timestamp:    time.Now().UTC(),
		Model:        r.name,
		SystemPrompt: systemPrompt,
		Prompt:       prompt,
	}

	value, err := r.call(ctx, systemPrompt, prompt, &rec)
	if err != nil {
		if ce, ok := err.(*CallError); ok {
			rec.ErrorKind = string(ce.Kind)
			rec.ErrorMessage = ce.Message
		} else {
			rec.ErrorMessage = err.Error()
		}
		r.recorder.Append(rec)
		return 0, err
	}

	rec.Success = true
	rec.ParsedValue = value
	r.recorder.Append(rec)
	return value, nil
}

func (r *Remote) call(ctx context.Context, systemPrompt, prompt string, rec *CallRecord) (float64, error) {
	if r.opts.Service.APIKey == "" {
		return 0, &CallError{Kind: ErrKindConfig, Model: r.name, Message: "API key is not configured"}
	}

	payload := chatRequest{
		Model: r.opts.Service.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: r.opts.Service.Temperature,
	}

	url := strings.TrimRight(r.opts.Service.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{
		"Authorization": "Bearer " + r.opts.Service.APIKey,
	}

	resp, err := r.http.PostJSON(ctx, url, payload, headers)
	if err != nil {
		return 0, &CallError{Kind: ErrKindNetwork, Model: r.name, Message: "chat completions request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, &CallError{Kind: ErrKindNetwork, Model: r.name, Message: "failed to read response body", Err: err}
	}
	rec.RawResponse = string(body)

	if resp.StatusCode != http.StatusOK {
		return 0, &CallError{
			Kind:    ErrKindHTTPStatus,
			Model:   r.name,
			Message: fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, &CallError{Kind: ErrKindParseJSON, Model: r.name, Message: "invalid JSON response", Err: err}
	}

	if len(parsed.Choices) == 0 {
		return 0, &CallError{Kind: ErrKindResponseFormat, Model: r.name, Message: "response contains no choices"}
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return 0, &CallError{Kind: ErrKindResponseFormat, Model: r.name, Message: "response message content is empty"}
	}

	match := numberRe.FindString(content)
	if match == "" {
		return 0, &CallError{Kind: ErrKindNoNumber, Model: r.name, Message: "no numeric value in response: " + truncate(content, 120)}
	}

	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, &CallError{Kind: ErrKindParseNumber, Model: r.name, Message: "cannot parse numeric token " + match, Err: err}
	}
	return value, nil
}

// buildPrompt renders the trailing bars, account snapshot and recent
// trades into the user message.
func (r *Remote) buildPrompt(history *market.Series, pctx Context) string {
	var b strings.Builder

	frequency := r.opts.Frequency
	if frequency == "" {
		frequency = "1d"
	}

	fmt.Fprintf(&b, "Symbol: %s (bar interval %s)\n", pctx.Symbol, frequency)
	fmt.Fprintf(&b, "Strategy parameters: buy_threshold=%.6f sell_threshold=%.6f stop_loss=%.4f take_profit=%.4f\n\n",
		pctx.BuyThreshold, pctx.SellThreshold, pctx.StopLossPct, pctx.TakeProfitPct)

	window := r.opts.Window
	if window <= 0 {
		window = 1
	}
	bars := history.Tail(window)
	fmt.Fprintf(&b, "Last %d bars (date, open, high, low, close, volume):\n", len(bars))
	for _, bar := range bars {
		fmt.Fprintf(&b, "%s, %.4f, %.4f, %.4f, %.4f, %.0f\n",
			bar.Date.Format("2006-01-02"), bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	}

	b.WriteString("\nAccount state:\n")
	fmt.Fprintf(&b, "cash=%.2f position=%.6f entry_price=%.4f cumulative_pnl=%.2f\n",
		pctx.Cash, pctx.Position, pctx.EntryPrice, pctx.CumulativePnL)

	trades := pctx.RecentTrades
	maxTrades := r.opts.MaxTrades
	if maxTrades > 0 && len(trades) > maxTrades {
		trades = trades[len(trades)-maxTrades:]
	}
	if len(trades) > 0 {
		fmt.Fprintf(&b, "\nLast %d trades (date, action, price, quantity, pnl):\n", len(trades))
		for _, t := range trades {
			fmt.Fprintf(&b, "%s, %s, %.4f, %.6f, %.2f\n",
				t.Timestamp.Format("2006-01-02"), t.Action, t.Price, t.Quantity, t.PnL)
		}
	}

	b.WriteString("\nEstimate the closing price of the next bar. Reply with a single number only.")
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
