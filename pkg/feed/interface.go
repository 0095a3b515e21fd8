package feed

import (
	"context"
	"errors"
	"time"

	"github.com/ridopark/quantlab/pkg/strategy"
)

// ErrNoData is returned when a provider has no bars for the requested range
var ErrNoData = errors.New("no data available")

// DataFeed streams bars of several symbols in time order
type DataFeed interface {
	// Initialize loads the data. It must be called before GetNextBar.
	Initialize(ctx context.Context) error

	// GetNextBar returns the next bar, or nil once the feed is exhausted
	GetNextBar() (*strategy.BarData, error)

	HasMoreData() bool

	Close() error
}

// HistoricalDataProvider defines the interface for historical data sources
type HistoricalDataProvider interface {
	// GetBars retrieves historical OHLCV data for [start, end), oldest first
	GetBars(ctx context.Context, symbol string, timeframe string, start time.Time, end time.Time) ([]strategy.BarData, error)
}
