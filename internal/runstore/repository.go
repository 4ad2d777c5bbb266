package runstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ACodePorter/marketreplay/internal/engine"
	"github.com/ACodePorter/marketreplay/internal/predictor"
)

// RunSummary is the persisted header of one simulation run.
type RunSummary struct {
	RunID         string    `json:"run_id"`
	Symbol        string    `json:"symbol"`
	ParamsHash    string    `json:"params_hash,omitempty"`
	Failed        bool      `json:"failed"`
	FailureReason string    `json:"failure_reason,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Repository persists finished run bundles. Writes happen after the
// simulation completes, never interleaved with the loop.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SaveResult stores the run header, per-bar records, trades, per-model
// metrics and the predictor call log in one transaction.
func (r *Repository) SaveResult(ctx context.Context, result *engine.Result, paramsHash string, calls []predictor.CallRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO replay.runs (run_id, symbol, params_hash, failed, failure_reason, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, result.RunID, result.Symbol, paramsHash, result.Failed, result.FailureReason, result.StartedAt, result.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, rec := range result.Records {
		_, err = tx.Exec(ctx, `
			INSERT INTO replay.records
				(run_id, model_type, symbol, ts, predicted_price, actual_price,
				 action, position, pnl, cumulative_pnl, equity, trigger_reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, result.RunID, rec.ModelType, rec.Symbol, rec.Timestamp, rec.PredictedPrice, rec.ActualPrice,
			rec.Action, rec.Position, rec.PnL, rec.CumulativePnL, rec.Equity, rec.TriggerReason)
		if err != nil {
			return fmt.Errorf("failed to insert record: %w", err)
		}
	}

	for model, account := range result.Accounts {
		for _, trade := range account.Trades {
			_, err = tx.Exec(ctx, `
				INSERT INTO replay.trades (run_id, model_type, ts, action, price, quantity, pnl)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, result.RunID, model, trade.Timestamp, trade.Action, trade.Price, trade.Quantity, trade.PnL)
			if err != nil {
				return fmt.Errorf("failed to insert trade: %w", err)
			}
		}
	}

	for model, m := range result.Metrics {
		_, err = tx.Exec(ctx, `
			INSERT INTO replay.metrics (run_id, model_type, total_return, max_drawdown, sharpe_ratio)
			VALUES ($1, $2, $3, $4, $5)
		`, result.RunID, model, m.TotalReturn, m.MaxDrawdown, m.SharpeRatio)
		if err != nil {
			return fmt.Errorf("failed to insert metrics: %w", err)
		}
	}

	for _, call := range calls {
		_, err = tx.Exec(ctx, `
			INSERT INTO replay.predictor_calls
				(run_id, model_type, ts, prompt, raw_response, parsed_value, success, error_kind, error_message)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, result.RunID, call.Model, call.Timestamp, call.Prompt, call.RawResponse,
			call.ParsedValue, call.Success, call.ErrorKind, call.ErrorMessage)
		if err != nil {
			return fmt.Errorf("failed to insert predictor call: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetRun retrieves the run header. pgx.ErrNoRows passes through so the
// caller can distinguish missing from broken.
func (r *Repository) GetRun(ctx context.Context, runID string) (*RunSummary, error) {
	query := `
		SELECT run_id, symbol, params_hash, failed, failure_reason, started_at, finished_at
		FROM replay.runs
		WHERE run_id = $1
	`

	var s RunSummary
	err := r.pool.QueryRow(ctx, query, runID).Scan(
		&s.RunID, &s.Symbol, &s.ParamsHash, &s.Failed, &s.FailureReason, &s.StartedAt, &s.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListRuns returns the most recent run headers, newest first.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]*RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT run_id, symbol, params_hash, failed, failure_reason, started_at, finished_at
		FROM replay.runs
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*RunSummary
	for rows.Next() {
		var s RunSummary
		if err := rows.Scan(&s.RunID, &s.Symbol, &s.ParamsHash, &s.Failed, &s.FailureReason, &s.StartedAt, &s.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, &s)
	}
	return runs, rows.Err()
}

// GetRecords retrieves the per-bar records of a run in bar order.
func (r *Repository) GetRecords(ctx context.Context, runID string) ([]engine.Record, error) {
	query := `
		SELECT model_type, symbol, ts, predicted_price, actual_price,
		       action, position, pnl, cumulative_pnl, equity, trigger_reason
		FROM replay.records
		WHERE run_id = $1
		ORDER BY ts ASC, model_type ASC
	`

	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []engine.Record
	for rows.Next() {
		var rec engine.Record
		if err := rows.Scan(&rec.ModelType, &rec.Symbol, &rec.Timestamp, &rec.PredictedPrice, &rec.ActualPrice,
			&rec.Action, &rec.Position, &rec.PnL, &rec.CumulativePnL, &rec.Equity, &rec.TriggerReason); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetMetrics retrieves the per-model metrics of a run.
func (r *Repository) GetMetrics(ctx context.Context, runID string) (map[string]engine.Metrics, error) {
	query := `
		SELECT model_type, total_return, max_drawdown, sharpe_ratio
		FROM replay.metrics
		WHERE run_id = $1
	`

	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	metrics := make(map[string]engine.Metrics)
	for rows.Next() {
		var model string
		var m engine.Metrics
		if err := rows.Scan(&model, &m.TotalReturn, &m.MaxDrawdown, &m.SharpeRatio); err != nil {
			return nil, err
		}
		metrics[model] = m
	}
	return metrics, rows.Err()
}

// Prune deletes runs that finished more than retentionDays ago, along
// with their dependent rows. Returns the number of runs removed.
func (r *Repository) Prune(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"replay.records", "replay.trades", "replay.metrics", "replay.predictor_calls"} {
		_, err = tx.Exec(ctx, fmt.Sprintf(`
			DELETE FROM %s
			WHERE run_id IN (SELECT run_id FROM replay.runs WHERE finished_at < $1)
		`, table), cutoff)
		if err != nil {
			return 0, fmt.Errorf("failed to prune %s: %w", table, err)
		}
	}

	tag, err := tx.Exec(ctx, `DELETE FROM replay.runs WHERE finished_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// IsNotFound reports whether err is the no-rows sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
