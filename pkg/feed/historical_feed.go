package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/ridopark/quantlab/pkg/strategy"
)

// HistoricalFeed replays provider bars for a fixed set of symbols. Each
// symbol's series is kept separately and merged on read; bars sharing a
// timestamp come out in symbol order.
type HistoricalFeed struct {
	provider  HistoricalDataProvider
	symbols   []string
	timeframe string
	start     time.Time
	end       time.Time

	series      [][]strategy.BarData // one series per symbol, oldest first
	cursors     []int
	initialized bool
}

// NewHistoricalFeed creates a feed over [start, end)
func NewHistoricalFeed(provider HistoricalDataProvider, symbols []string, timeframe string, start, end time.Time) *HistoricalFeed {
	return &HistoricalFeed{
		provider:  provider,
		symbols:   symbols,
		timeframe: timeframe,
		start:     start,
		end:       end,
	}
}

// Initialize loads every symbol once
func (hf *HistoricalFeed) Initialize(ctx context.Context) error {
	if hf.initialized {
		return nil
	}

	hf.series = make([][]strategy.BarData, len(hf.symbols))
	hf.cursors = make([]int, len(hf.symbols))
	for i, symbol := range hf.symbols {
		bars, err := hf.provider.GetBars(ctx, symbol, hf.timeframe, hf.start, hf.end)
		if err != nil {
			return fmt.Errorf("failed to load data for symbol %s: %w", symbol, err)
		}
		for j := 1; j < len(bars); j++ {
			if bars[j].Timestamp.Before(bars[j-1].Timestamp) {
				return fmt.Errorf("provider returned %s bars out of order at %s", symbol, bars[j].Timestamp)
			}
		}
		hf.series[i] = bars
	}

	hf.initialized = true
	return nil
}

// GetNextBar returns the earliest unread bar across all symbols
func (hf *HistoricalFeed) GetNextBar() (*strategy.BarData, error) {
	if !hf.initialized {
		return nil, fmt.Errorf("historical feed not initialized")
	}

	next := -1
	for i, bars := range hf.series {
		if hf.cursors[i] >= len(bars) {
			continue
		}
		if next < 0 || bars[hf.cursors[i]].Timestamp.Before(hf.series[next][hf.cursors[next]].Timestamp) {
			next = i
		}
	}
	if next < 0 {
		return nil, nil
	}

	bar := hf.series[next][hf.cursors[next]]
	hf.cursors[next]++
	return &bar, nil
}

// HasMoreData reports unread bars. Before Initialize it optimistically returns true.
func (hf *HistoricalFeed) HasMoreData() bool {
	if !hf.initialized {
		return true
	}
	for i, bars := range hf.series {
		if hf.cursors[i] < len(bars) {
			return true
		}
	}
	return false
}

// Rewind replays the loaded bars from the beginning
func (hf *HistoricalFeed) Rewind() {
	for i := range hf.cursors {
		hf.cursors[i] = 0
	}
}

// Close is a no-op; the bars live in memory
func (hf *HistoricalFeed) Close() error {
	return nil
}

// TotalBars returns the number of loaded bars
func (hf *HistoricalFeed) TotalBars() int {
	total := 0
	for _, bars := range hf.series {
		total += len(bars)
	}
	return total
}
