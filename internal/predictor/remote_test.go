package predictor

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ACodePorter/marketreplay/pkg/config"
	"github.com/ACodePorter/marketreplay/pkg/httputil"
	"github.com/ACodePorter/marketreplay/pkg/logger"

	"github.com/ACodePorter/marketreplay/internal/market"
)

func chatReply(content string) string {
	return `{"choices":[{"message":{"role":"assistant","content":` + mustJSON(content) + `}}]}`
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func newTestRemote(t *testing.T, baseURL string, opts Options) (*Remote, *CallRecorder) {
	t.Helper()
	if opts.Window == 0 {
		opts.Window = 5
	}
	if opts.Service.Model == "" {
		opts.Service = config.PredictorConfig{
			APIKey:      "test-key",
			BaseURL:     baseURL,
			Model:       "deepseek-chat",
			Temperature: 0.1,
			Timeout:     5 * time.Second,
		}
	}
	opts.Service.BaseURL = baseURL
	recorder := NewCallRecorder()
	client := httputil.NewWithTimeout(logger.NewNop(), 5*time.Second).DisableRetry()
	return NewRemote("deepseek", opts, client, recorder, logger.NewNop()), recorder
}

func TestRemotePredictSuccess(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatReply("The price will be around 123.45")))
	}))
	defer server.Close()

	p, recorder := newTestRemote(t, server.URL, Options{})
	history := market.NewSeries(barsFromCloses([]float64{100, 101, 102}))

	got, err := p.PredictNextPrice(context.Background(), history, Context{Symbol: "TEST"})
	if err != nil {
		t.Fatalf("PredictNextPrice() error = %v", err)
	}
	if math.Abs(got-123.45) > 1e-9 {
		t.Errorf("PredictNextPrice() = %v, want 123.45", got)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization header = %q, want Bearer test-key", gotAuth)
	}
	if gotReq.Model != "deepseek-chat" {
		t.Errorf("request model = %q, want deepseek-chat", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" || gotReq.Messages[1].Role != "user" {
		t.Fatalf("unexpected messages: %+v", gotReq.Messages)
	}
	if !strings.Contains(gotReq.Messages[1].Content, "Symbol: TEST") {
		t.Errorf("prompt missing symbol line:\n%s", gotReq.Messages[1].Content)
	}

	records := recorder.Records()
	if len(records) != 1 {
		t.Fatalf("recorder has %d records, want 1", len(records))
	}
	if !records[0].Success || records[0].ParsedValue != 123.45 {
		t.Errorf("record = %+v, want success with parsed value 123.45", records[0])
	}
}

func TestRemotePredictErrors(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantKind ErrorKind
	}{
		{
			name: "http status error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "rate limited", http.StatusTooManyRequests)
			},
			wantKind: ErrKindHTTPStatus,
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not json at all"))
			},
			wantKind: ErrKindParseJSON,
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"choices":[]}`))
			},
			wantKind: ErrKindResponseFormat,
		},
		{
			name: "empty content",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(chatReply("   ")))
			},
			wantKind: ErrKindResponseFormat,
		},
		{
			name: "no numeric token",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(chatReply("I cannot estimate the price.")))
			},
			wantKind: ErrKindNoNumber,
		},
	}

	history := market.NewSeries(barsFromCloses([]float64{100, 101, 102}))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			p, recorder := newTestRemote(t, server.URL, Options{})
			_, err := p.PredictNextPrice(context.Background(), history, Context{Symbol: "TEST"})
			if err == nil {
				t.Fatal("PredictNextPrice() error = nil, want CallError")
			}

			var ce *CallError
			if !errors.As(err, &ce) {
				t.Fatalf("error %v is not a *CallError", err)
			}
			if ce.Kind != tt.wantKind {
				t.Errorf("error kind = %s, want %s", ce.Kind, tt.wantKind)
			}

			records := recorder.Records()
			if len(records) != 1 {
				t.Fatalf("recorder has %d records, want 1", len(records))
			}
			if records[0].Success {
				t.Error("failed call recorded as success")
			}
			if records[0].ErrorKind != string(tt.wantKind) {
				t.Errorf("record error kind = %s, want %s", records[0].ErrorKind, tt.wantKind)
			}
		})
	}
}

func TestRemotePredictMissingAPIKey(t *testing.T) {
	opts := Options{
		Window: 5,
		Service: config.PredictorConfig{
			BaseURL: "http://localhost:0",
			Model:   "deepseek-chat",
		},
	}
	recorder := NewCallRecorder()
	p := NewRemote("deepseek", opts, httputil.NewWithTimeout(logger.NewNop(), time.Second).DisableRetry(), recorder, logger.NewNop())

	history := market.NewSeries(barsFromCloses([]float64{100}))
	_, err := p.PredictNextPrice(context.Background(), history, Context{Symbol: "TEST"})

	var ce *CallError
	if !errors.As(err, &ce) || ce.Kind != ErrKindConfig {
		t.Fatalf("error = %v, want CallError with kind %s", err, ErrKindConfig)
	}
	if recorder.Len() != 1 {
		t.Errorf("recorder has %d records, want 1", recorder.Len())
	}
}

func TestRemotePredictNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // closed server forces a connection error

	p, _ := newTestRemote(t, server.URL, Options{})
	history := market.NewSeries(barsFromCloses([]float64{100}))

	_, err := p.PredictNextPrice(context.Background(), history, Context{Symbol: "TEST"})
	var ce *CallError
	if !errors.As(err, &ce) || ce.Kind != ErrKindNetwork {
		t.Fatalf("error = %v, want CallError with kind %s", err, ErrKindNetwork)
	}
}

func TestRemotePredictEmptyHistoryFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("remote endpoint must not be called for empty history")
	}))
	defer server.Close()

	p, recorder := newTestRemote(t, server.URL, Options{})

	got, err := p.PredictNextPrice(context.Background(), market.NewSeries(nil), Context{Symbol: "TEST"})
	if err != nil {
		t.Fatalf("PredictNextPrice() error = %v", err)
	}
	if got != 0.0 {
		t.Errorf("fallback prediction = %v, want 0.0", got)
	}
	if recorder.Len() != 0 {
		t.Errorf("recorder has %d records, want 0 (no remote call made)", recorder.Len())
	}
}

func TestRemotePromptContents(t *testing.T) {
	p, _ := newTestRemote(t, "http://localhost:0", Options{Window: 2, MaxTrades: 1})

	history := market.NewSeries(barsFromCloses([]float64{100, 110, 120}))
	pctx := Context{
		Symbol:        "TEST",
		BuyThreshold:  0.002,
		SellThreshold: -0.002,
		Cash:          5000,
		Position:      1.5,
		EntryPrice:    98,
		CumulativePnL: 42,
		RecentTrades: []TradeSnapshot{
			{Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Action: "BUY", Price: 95, Quantity: 2, PnL: 0},
			{Timestamp: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), Action: "SELL", Price: 98, Quantity: 2, PnL: 6},
		},
	}

	prompt := p.buildPrompt(history, pctx)

	if !strings.Contains(prompt, "Last 2 bars") {
		t.Errorf("prompt does not limit bars to window:\n%s", prompt)
	}
	if strings.Contains(prompt, "2024-01-01") {
		t.Errorf("prompt includes bar outside window:\n%s", prompt)
	}
	if !strings.Contains(prompt, "cash=5000.00") {
		t.Errorf("prompt missing account state:\n%s", prompt)
	}
	// MaxTrades=1 keeps only the most recent trade.
	if !strings.Contains(prompt, "SELL") || strings.Contains(prompt, "BUY") {
		t.Errorf("prompt does not cap trades at MaxTrades:\n%s", prompt)
	}
	if !strings.Contains(prompt, "single number") {
		t.Errorf("prompt missing output instruction:\n%s", prompt)
	}
}

func TestCallRecorderConcurrentAppend(t *testing.T) {
	recorder := NewCallRecorder()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				recorder.Append(CallRecord{Model: "m", Success: true})
			}
		}()
	}
	wg.Wait()

	if recorder.Len() != 1000 {
		t.Errorf("recorder has %d records, want 1000", recorder.Len())
	}
}

func TestNumberRegex(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"123.45", "123.45"},
		{"The answer is 123.45 KRW", "123.45"},
		{"-0.5", "-0.5"},
		{"+42", "+42"},
		{".75", ".75"},
		{"1.2e3", "1.2e3"},
		{"6.02E+23", "6.02E+23"},
		{"no digits here", ""},
	}

	for _, tt := range tests {
		if got := numberRe.FindString(tt.input); got != tt.want {
			t.Errorf("numberRe.FindString(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
