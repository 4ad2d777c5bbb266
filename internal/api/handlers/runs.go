package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ACodePorter/marketreplay/pkg/config"
	"github.com/ACodePorter/marketreplay/pkg/httputil"
	"github.com/ACodePorter/marketreplay/pkg/logger"

	"github.com/ACodePorter/marketreplay/internal/engine"
	"github.com/ACodePorter/marketreplay/internal/market"
	"github.com/ACodePorter/marketreplay/internal/predictor"
	"github.com/ACodePorter/marketreplay/internal/runner"
	"github.com/ACodePorter/marketreplay/internal/runstore"
)

// RunsHandler serves simulation run endpoints.
type RunsHandler struct {
	manager    *runner.Manager
	marketRepo *market.Repository // optional; nil without a database
	store      *runstore.Repository
	cfg        *config.Config
	logger     *logger.Logger
}

func NewRunsHandler(
	manager *runner.Manager,
	marketRepo *market.Repository,
	store *runstore.Repository,
	cfg *config.Config,
	log *logger.Logger,
) *RunsHandler {
	return &RunsHandler{
		manager:    manager,
		marketRepo: marketRepo,
		store:      store,
		cfg:        cfg,
		logger:     log,
	}
}

// CreateRunRequest describes a simulation to launch. The series comes
// from a CSV file when csv_path is set, otherwise from the database for
// (symbol, start, end).
type CreateRunRequest struct {
	Symbol         string   `json:"symbol"`
	CSVPath        string   `json:"csv_path,omitempty"`
	Start          string   `json:"start,omitempty"` // YYYY-MM-DD
	End            string   `json:"end,omitempty"`
	Models         []string `json:"models"`
	InitialCapital float64  `json:"initial_capital,omitempty"`
	Window         int      `json:"window,omitempty"`
	Commission     float64  `json:"commission,omitempty"`
	Slippage       float64  `json:"slippage,omitempty"`
	BuyThreshold   *float64 `json:"buy_threshold,omitempty"`
	SellThreshold  *float64 `json:"sell_threshold,omitempty"`
	StopLossPct    *float64 `json:"stop_loss_pct,omitempty"`
	TakeProfitPct  *float64 `json:"take_profit_pct,omitempty"`
}

// CreateRunResponse acknowledges an accepted run.
type CreateRunResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// Create launches a simulation run asynchronously.
// POST /api/runs
func (h *RunsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Models) == 0 {
		respondError(w, http.StatusBadRequest, "at least one model is required")
		return
	}

	series, err := h.loadSeries(r, req)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to load price series")
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := h.engineConfig(req)
	recorder := predictor.NewCallRecorder()
	predictors := make(map[string]predictor.Predictor, len(req.Models))
	for _, model := range req.Models {
		httpClient := httputil.NewWithTimeout(h.logger, h.cfg.Predictor.Timeout).DisableRetry()
		predictors[model] = predictor.New(model, predictor.Options{
			Window:    cfg.Window,
			MaxTrades: cfg.MaxTrades,
			Service:   h.cfg.Predictor,
		}, httpClient, recorder, h.logger)
	}

	eng := engine.New(predictors, cfg, h.logger)

	// The run outlives the HTTP request, so it gets a detached context.
	run := h.manager.Launch(context.Background(), cfg.Symbol, func(ctx context.Context, progress engine.ProgressFunc) (*engine.Result, error) {
		if progress != nil {
			eng.WithProgress(progress)
		}
		result, err := eng.Run(ctx, series)
		if result != nil && h.store != nil {
			if saveErr := h.store.SaveResult(ctx, result, "", recorder.Records()); saveErr != nil {
				h.logger.WithError(saveErr).WithField("run_id", result.RunID).Error("Failed to persist run")
			}
		}
		return result, err
	})

	respondJSON(w, http.StatusAccepted, CreateRunResponse{RunID: run.ID, Status: string(run.Status)})
}

// List returns all known runs, newest first.
// GET /api/runs
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.manager.List())
}

// RunDetail is the full view of one run, including the result bundle
// once the run has finished.
type RunDetail struct {
	runner.Run
	Records      []engine.Record                 `json:"records,omitempty"`
	Metrics      map[string]engine.Metrics       `json:"metrics,omitempty"`
	TradeStats   map[string]engine.TradeStats    `json:"trade_stats,omitempty"`
	EquityCurves map[string][]engine.EquityPoint `json:"equity_curves,omitempty"`
}

// Get returns one run with its result when available.
// GET /api/runs/{id}
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	run, ok := h.manager.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}

	detail := RunDetail{Run: run}
	if run.Result != nil {
		detail.Records = run.Result.Records
		detail.Metrics = run.Result.Metrics
		detail.TradeStats = run.Result.TradeStats
		detail.EquityCurves = run.Result.EquityCurves
	}
	respondJSON(w, http.StatusOK, detail)
}

func (h *RunsHandler) loadSeries(r *http.Request, req CreateRunRequest) (*market.Series, error) {
	if req.CSVPath != "" {
		return market.LoadCSV(req.CSVPath)
	}

	if h.marketRepo == nil {
		return nil, fmt.Errorf("no csv_path given and no database configured")
	}
	if req.Symbol == "" {
		return nil, fmt.Errorf("symbol is required when loading from the database")
	}

	from, err := parseDate(req.Start, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("invalid start date: %w", err)
	}
	to, err := parseDate(req.End, time.Now())
	if err != nil {
		return nil, fmt.Errorf("invalid end date: %w", err)
	}
	return h.marketRepo.GetBySymbolAndDateRange(r.Context(), req.Symbol, from, to)
}

func (h *RunsHandler) engineConfig(req CreateRunRequest) engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Symbol = req.Symbol
	if req.InitialCapital > 0 {
		cfg.InitialCapital = req.InitialCapital
	}
	if req.Window > 0 {
		cfg.Window = req.Window
	}
	if req.Commission > 0 {
		cfg.Commission = req.Commission
	}
	if req.Slippage > 0 {
		cfg.Slippage = req.Slippage
	}
	if req.BuyThreshold != nil {
		cfg.BuyThreshold = *req.BuyThreshold
	}
	if req.SellThreshold != nil {
		cfg.SellThreshold = *req.SellThreshold
	}
	if req.StopLossPct != nil {
		cfg.StopLossPct = *req.StopLossPct
	}
	if req.TakeProfitPct != nil {
		cfg.TakeProfitPct = *req.TakeProfitPct
	}
	return cfg
}

func parseDate(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	return time.Parse("2006-01-02", s)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
