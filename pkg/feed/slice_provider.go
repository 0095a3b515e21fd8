package feed

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ridopark/quantlab/pkg/strategy"
)

// SliceProvider serves bars held in memory. The CSV loader and tests build on it.
type SliceProvider struct {
	bars map[string][]strategy.BarData // symbol -> bars, oldest first
}

// NewSliceProvider creates a provider from bars of any symbols in any order
func NewSliceProvider(bars []strategy.BarData) *SliceProvider {
	p := &SliceProvider{bars: make(map[string][]strategy.BarData)}
	for _, bar := range bars {
		p.bars[bar.Symbol] = append(p.bars[bar.Symbol], bar)
	}
	for symbol := range p.bars {
		series := p.bars[symbol]
		sort.SliceStable(series, func(i, j int) bool {
			return series[i].Timestamp.Before(series[j].Timestamp)
		})
	}
	return p
}

// GetBars returns the bars of symbol within [start, end). The timeframe is
// only checked against bars that carry one.
func (p *SliceProvider) GetBars(ctx context.Context, symbol string, timeframe string, start time.Time, end time.Time) ([]strategy.BarData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	series, ok := p.bars[symbol]
	if !ok {
		return nil, fmt.Errorf("symbol %s: %w", symbol, ErrNoData)
	}

	out := make([]strategy.BarData, 0)
	for _, bar := range series {
		if bar.Timestamp.Before(start) || !bar.Timestamp.Before(end) {
			continue
		}
		if bar.Timeframe != "" && timeframe != "" && bar.Timeframe != timeframe {
			continue
		}
		out = append(out, bar)
	}
	return out, nil
}

// Symbols returns the symbols held by the provider
func (p *SliceProvider) Symbols() []string {
	symbols := make([]string, 0, len(p.bars))
	for symbol := range p.bars {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Verify that SliceProvider implements the HistoricalDataProvider interface
var _ HistoricalDataProvider = (*SliceProvider)(nil)
