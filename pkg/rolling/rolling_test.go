package rolling

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ridopark/quantlab/pkg/feed"
	"github.com/ridopark/quantlab/pkg/strategy"
	"github.com/ridopark/quantlab/pkg/strategy/examples"
)

func dailyBars(symbol string, start, end time.Time, skip func(time.Time) bool) []strategy.BarData {
	bars := make([]strategy.BarData, 0)
	price := 100.0
	for ts := start; ts.Before(end); ts = ts.AddDate(0, 0, 1) {
		price++
		if skip != nil && skip(ts) {
			continue
		}
		bars = append(bars, strategy.BarData{
			Symbol: symbol, Timestamp: ts, Timeframe: "1d",
			Open: price, High: price, Low: price, Close: price,
		})
	}
	return bars
}

var (
	year2020 = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	year2021 = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
)

func newRunner(t *testing.T, bars []strategy.BarData) *Runner {
	t.Helper()
	config := DefaultConfig()
	config.Symbols = []string{"SPY"}
	config.Start = year2020
	config.End = year2021

	runner, err := NewRunner(feed.NewSliceProvider(bars), examples.NewBuyAndHoldFactory(strategy.DefaultPercentSizer()), config)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	return runner
}

func TestWindowsAreConsecutiveAndFitTheRange(t *testing.T) {
	runner := newRunner(t, nil)
	windows := runner.Windows()
	if len(windows) != 4 {
		t.Fatalf("expected 4 windows, got %d", len(windows))
	}
	for i, w := range windows {
		if i > 0 && !w.Start.Equal(windows[i-1].End) {
			t.Fatalf("window %d does not start where the previous ended", i)
		}
		if w.End.After(year2021) {
			t.Fatalf("window %d ends after the range: %s", i, w.End)
		}
	}
	if !windows[1].Start.Equal(time.Date(2020, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected second window start %s", windows[1].Start)
	}
}

func TestWindowsDropPartialTail(t *testing.T) {
	config := DefaultConfig()
	config.Symbols = []string{"SPY"}
	config.Start = year2020
	config.End = time.Date(2020, 12, 15, 0, 0, 0, 0, time.UTC)

	runner, err := NewRunner(feed.NewSliceProvider(nil), examples.NewBuyAndHoldFactory(strategy.DefaultPercentSizer()), config)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	if n := len(runner.Windows()); n != 3 {
		t.Fatalf("expected 3 full windows, got %d", n)
	}
}

func TestRunBacktestsEveryWindow(t *testing.T) {
	runner := newRunner(t, dailyBars("SPY", year2020, year2021, nil))

	results, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}

	wantBars := []int{91, 91, 92, 92}
	for i, r := range results {
		if r.Bars != wantBars[i] {
			t.Fatalf("window %d: expected %d bars, got %d", i, wantBars[i], r.Bars)
		}
		if r.Trades != 1 {
			t.Fatalf("window %d: a fresh buy-and-hold should trade once, got %d", i, r.Trades)
		}
		if r.ReturnPct <= 0 {
			t.Fatalf("window %d: rising prices should give a positive return, got %f", i, r.ReturnPct)
		}
	}
}

func TestRunSkipsWindowsWithoutEnoughBars(t *testing.T) {
	// Drop weekends from the second quarter so it falls under 90 bars
	skip := func(ts time.Time) bool {
		weekend := ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday
		return weekend && ts.Month() >= time.April && ts.Month() <= time.June
	}
	runner := newRunner(t, dailyBars("SPY", year2020, year2021, skip))

	results, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Start.Month() == time.April {
			t.Fatalf("the sparse window should have been skipped")
		}
	}
}

func TestRunStopsWhenCancelled(t *testing.T) {
	runner := newRunner(t, dailyBars("SPY", year2020, year2021, nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := runner.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestNewRunnerValidation(t *testing.T) {
	factory := examples.NewBuyAndHoldFactory(strategy.DefaultPercentSizer())
	provider := feed.NewSliceProvider(nil)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no symbols", func(c *Config) { c.Symbols = nil }},
		{"zero months", func(c *Config) { c.WindowMonths = 0 }},
		{"end before start", func(c *Config) { c.End = c.Start.AddDate(0, 0, -1) }},
		{"negative min bars", func(c *Config) { c.MinBars = -1 }},
		{"no capital", func(c *Config) { c.Backtest.InitialCapital = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			config.Symbols = []string{"SPY"}
			config.Start = year2020
			config.End = year2021
			tt.mutate(&config)
			if _, err := NewRunner(provider, factory, config); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func resultsWithReturns(returns ...float64) []WindowResult {
	out := make([]WindowResult, len(returns))
	for i, r := range returns {
		out[i] = WindowResult{ReturnPct: r}
	}
	return out
}

func TestSummarize(t *testing.T) {
	stats := Summarize(resultsWithReturns(4, 1, 3, 2))

	check := func(name string, got, want float64) {
		t.Helper()
		if math.Abs(got-want) > 1e-9 {
			t.Fatalf("%s: expected %f, got %f", name, want, got)
		}
	}
	if stats.Windows != 4 {
		t.Fatalf("expected 4 windows, got %d", stats.Windows)
	}
	check("mean", stats.Mean, 2.5)
	check("median", stats.Median, 2.5)
	check("std", stats.StdDev, math.Sqrt(1.25))
	check("min", stats.Min, 1)
	check("max", stats.Max, 4)
	check("sharpe", stats.Sharpe, 2.5/math.Sqrt(1.25))

	odd := Summarize(resultsWithReturns(5, -1, 2))
	check("odd median", odd.Median, 2)
}

func TestSummarizeDegenerate(t *testing.T) {
	flat := Summarize(resultsWithReturns(1.5, 1.5, 1.5))
	if flat.StdDev != 0 {
		t.Fatalf("expected zero std, got %f", flat.StdDev)
	}
	if !math.IsNaN(flat.Sharpe) {
		t.Fatalf("expected NaN sharpe for constant returns, got %f", flat.Sharpe)
	}

	empty := Summarize(nil)
	if empty.Windows != 0 || !math.IsNaN(empty.Mean) {
		t.Fatalf("expected empty stats, got %+v", empty)
	}

	if !strings.Contains(flat.String(), "Windows:        3") {
		t.Fatalf("unexpected summary:\n%s", flat.String())
	}
}

func TestHistogramBins(t *testing.T) {
	bins := HistogramBins(resultsWithReturns(1, 2, 3, 4), 3)
	if len(bins) != 3 {
		t.Fatalf("expected 3 bins, got %d", len(bins))
	}
	want := []int{1, 1, 2}
	total := 0
	for i, b := range bins {
		if b.Count != want[i] {
			t.Fatalf("bin %d: expected %d, got %d", i, want[i], b.Count)
		}
		total += b.Count
	}
	if total != 4 {
		t.Fatalf("histogram lost values: %d", total)
	}

	flat := HistogramBins(resultsWithReturns(2, 2), 5)
	if len(flat) != 1 || flat[0].Count != 2 {
		t.Fatalf("expected a single bin for equal returns, got %+v", flat)
	}

	text := Histogram(resultsWithReturns(1, 2, 3, 4), 3)
	if strings.Count(text, "\n") != 4 || !strings.Contains(text, "##") {
		t.Fatalf("unexpected histogram:\n%s", text)
	}
}

func TestStatsJSONWritesNaNAsNull(t *testing.T) {
	b, err := json.Marshal(Summarize(resultsWithReturns(2, 2)))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["sharpe"] != nil {
		t.Fatalf("expected null sharpe, got %v", decoded["sharpe"])
	}
	if decoded["mean_return_pct"] != 2.0 || decoded["windows"] != 2.0 {
		t.Fatalf("unexpected json %s", b)
	}
}
