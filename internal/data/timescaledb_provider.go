package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/ridopark/quantlab/pkg/feed"
	"github.com/ridopark/quantlab/pkg/strategy"
)

const barColumns = `symbol, timestamp, open, high, low, close, volume, timeframe`

// TimescaleDBProvider provides historical data from TimescaleDB
type TimescaleDBProvider struct {
	db *sql.DB
}

// NewTimescaleDBProvider opens and pings the database
func NewTimescaleDBProvider(ctx context.Context, connectionString string) (*TimescaleDBProvider, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &TimescaleDBProvider{
		db: db,
	}, nil
}

// GetBars retrieves OHLCV bars in [start, end), oldest first
func (p *TimescaleDBProvider) GetBars(ctx context.Context, symbol string, timeframe string, start time.Time, end time.Time) ([]strategy.BarData, error) {
	query := `
		SELECT ` + barColumns + `
		FROM ohlcv_data
		WHERE symbol = $1 AND timeframe = $2 AND timestamp >= $3 AND timestamp < $4
		ORDER BY timestamp ASC
	`

	rows, err := p.db.QueryContext(ctx, query, symbol, timeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query ohlcv_data: %w", err)
	}
	defer rows.Close()

	bars := make([]strategy.BarData, 0)
	for rows.Next() {
		bar, err := scanBar(rows)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return bars, nil
}

// Close closes the database connection
func (p *TimescaleDBProvider) Close() error {
	return p.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBar(row rowScanner) (strategy.BarData, error) {
	var bar strategy.BarData
	err := row.Scan(
		&bar.Symbol,
		&bar.Timestamp,
		&bar.Open,
		&bar.High,
		&bar.Low,
		&bar.Close,
		&bar.Volume,
		&bar.Timeframe,
	)
	if err != nil {
		return bar, fmt.Errorf("failed to scan row: %w", err)
	}
	return bar, nil
}

// Verify that TimescaleDBProvider implements the HistoricalDataProvider interface
var _ feed.HistoricalDataProvider = (*TimescaleDBProvider)(nil)
