package data

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ridopark/quantlab/pkg/feed"
	"github.com/ridopark/quantlab/pkg/strategy"
)

var timestampLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05-07:00",
}

// CSVProvider serves bars from <dir>/<SYMBOL>.csv files. Each file is read
// once and kept in memory.
type CSVProvider struct {
	dir       string
	timeframe string

	mu     sync.Mutex
	loaded map[string]*feed.SliceProvider
}

// NewCSVProvider creates a provider over dir. Bars read from disk are tagged
// with timeframe.
func NewCSVProvider(dir, timeframe string) (*CSVProvider, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("csv directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("csv directory %s is not a directory", dir)
	}
	return &CSVProvider{
		dir:       dir,
		timeframe: timeframe,
		loaded:    make(map[string]*feed.SliceProvider),
	}, nil
}

// GetBars returns the bars of symbol within [start, end)
func (p *CSVProvider) GetBars(ctx context.Context, symbol string, timeframe string, start time.Time, end time.Time) ([]strategy.BarData, error) {
	provider, err := p.load(symbol)
	if err != nil {
		return nil, err
	}
	return provider.GetBars(ctx, symbol, timeframe, start, end)
}

func (p *CSVProvider) load(symbol string) (*feed.SliceProvider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if provider, ok := p.loaded[symbol]; ok {
		return provider, nil
	}

	path := filepath.Join(p.dir, symbol+".csv")
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no csv file for %s: %w", symbol, feed.ErrNoData)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	bars, err := ReadBarsCSV(f, symbol, p.timeframe)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	provider := feed.NewSliceProvider(bars)
	p.loaded[symbol] = provider
	return provider, nil
}

// ReadBarsCSV parses OHLCV rows. Columns are found by header name
// (case-insensitive): date or timestamp, open, high, low, close and an
// optional volume. Extra columns such as "Adj Close" are ignored.
func ReadBarsCSV(r io.Reader, symbol, timeframe string) ([]strategy.BarData, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.New("csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIdx := make(map[string]int, len(header))
	for idx, col := range header {
		colIdx[strings.ToLower(strings.TrimSpace(col))] = idx
	}

	timestampIdx, ok := colIdx["date"]
	if !ok {
		if timestampIdx, ok = colIdx["timestamp"]; !ok {
			return nil, errors.New("missing date or timestamp column")
		}
	}
	for _, col := range []string{"open", "high", "low", "close"} {
		if _, ok := colIdx[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}
	volumeIdx, hasVolume := colIdx["volume"]

	bars := make([]strategy.BarData, 0)
	for row := 2; ; row++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}

		field := func(idx int) string {
			if idx >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[idx])
		}

		ts, err := parseTimestamp(field(timestampIdx))
		if err != nil {
			return nil, fmt.Errorf("row %d timestamp: %w", row, err)
		}

		bar := strategy.BarData{Symbol: symbol, Timestamp: ts, Timeframe: timeframe}
		prices := []struct {
			col string
			dst *float64
		}{
			{"open", &bar.Open},
			{"high", &bar.High},
			{"low", &bar.Low},
			{"close", &bar.Close},
		}
		for _, price := range prices {
			if *price.dst, err = strconv.ParseFloat(field(colIdx[price.col]), 64); err != nil {
				return nil, fmt.Errorf("row %d %s: %w", row, price.col, err)
			}
		}
		if hasVolume && field(volumeIdx) != "" {
			if bar.Volume, err = strconv.ParseFloat(field(volumeIdx), 64); err != nil {
				return nil, fmt.Errorf("row %d volume: %w", row, err)
			}
		}

		bars = append(bars, bar)
	}

	return bars, nil
}

func parseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// Verify that CSVProvider implements the HistoricalDataProvider interface
var _ feed.HistoricalDataProvider = (*CSVProvider)(nil)
