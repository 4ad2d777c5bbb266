package market

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores and retrieves daily bars in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new bar repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetBySymbolAndDateRange retrieves bars for a symbol within a date range,
// ordered by trade date ascending. No rows is an empty series, not an
// error: "no tradable data" is an expected outcome for some ranges.
func (r *Repository) GetBySymbolAndDateRange(ctx context.Context, symbol string, from, to time.Time) (*Series, error) {
	query := `
		SELECT symbol, trade_date, open, high, low, close, volume
		FROM data.daily_bars
		WHERE symbol = $1 AND trade_date BETWEEN $2 AND $3
		ORDER BY trade_date ASC
	`

	rows, err := r.pool.Query(ctx, query, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	var bars []Bar
	for rows.Next() {
		var b Bar
		if err := rows.Scan(&b.Symbol, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bars: %w", err)
	}

	return NewSeries(bars), nil
}

// GetLatestDate returns the most recent stored trade date for a symbol.
// pgx.ErrNoRows when the symbol has no bars.
func (r *Repository) GetLatestDate(ctx context.Context, symbol string) (time.Time, error) {
	query := `
		SELECT trade_date
		FROM data.daily_bars
		WHERE symbol = $1
		ORDER BY trade_date DESC
		LIMIT 1
	`

	var date time.Time
	if err := r.pool.QueryRow(ctx, query, symbol).Scan(&date); err != nil {
		return time.Time{}, err
	}
	return date, nil
}

// SaveBatch upserts bars in a single transaction.
func (r *Repository) SaveBatch(ctx context.Context, bars []Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO data.daily_bars (symbol, trade_date, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol, trade_date) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`

	for _, b := range bars {
		if _, err := tx.Exec(ctx, query, b.Symbol, b.Date, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return fmt.Errorf("insert bar %s %s: %w", b.Symbol, b.Date.Format("2006-01-02"), err)
		}
	}

	return tx.Commit(ctx)
}
