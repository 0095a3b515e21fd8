package examples

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/ridopark/quantlab/pkg/backtester"
	"github.com/ridopark/quantlab/pkg/feed"
	"github.com/ridopark/quantlab/pkg/kalman"
	"github.com/ridopark/quantlab/pkg/strategy"
)

func trendBars(symbol string) []strategy.BarData {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]strategy.BarData, 0, 60)
	for i := 0; i < 60; i++ {
		price := 100 + float64(i)
		if i >= 30 {
			price = 129 - float64(i-29)
		}
		bars = append(bars, strategy.BarData{
			Symbol: symbol, Timestamp: start.AddDate(0, 0, i),
			Open: price, High: price, Low: price, Close: price, Timeframe: "1d",
		})
	}
	return bars
}

func runBacktest(t *testing.T, s strategy.Strategy, bars []strategy.BarData, symbols []string) *backtester.Results {
	t.Helper()
	provider := feed.NewSliceProvider(bars)
	start := bars[0].Timestamp
	f := feed.NewHistoricalFeed(provider, symbols, "1d", start, start.AddDate(1, 0, 0))

	engine := backtester.NewEngine(s, f, backtester.DefaultConfig())
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("backtest failed: %v", err)
	}
	return engine.GetResults()
}

func TestAdaptiveKalmanTradesTrendReversal(t *testing.T) {
	s, err := NewAdaptiveKalmanStrategy([]string{"BTC"}, DefaultAdaptiveKalmanConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results := runBacktest(t, s, trendBars("BTC"), []string{"BTC"})

	if len(results.Trades) != 3 {
		t.Fatalf("expected entry, close and reversal fills, got %d: %+v", len(results.Trades), results.Trades)
	}

	entry, closing, reversal := results.Trades[0], results.Trades[1], results.Trades[2]
	if entry.Side != strategy.OrderSideBuy || entry.Reason != "velocity_long" || entry.Price != 121 {
		t.Fatalf("expected long entry at the first ready bar (121), got %+v", entry)
	}
	if closing.Side != strategy.OrderSideSell || closing.Reason != "close_long" || closing.Quantity != entry.Quantity {
		t.Fatalf("expected long to be closed in full, got %+v", closing)
	}
	if !closing.Closing || closing.RealizedPL <= 0 {
		t.Fatalf("closing the uptrend long should realize a profit, got %+v", closing)
	}
	if reversal.Side != strategy.OrderSideSell || reversal.Reason != "velocity_short" {
		t.Fatalf("expected short entry, got %+v", reversal)
	}

	pos := results.Portfolio.Positions["BTC"]
	if pos == nil || pos.Quantity >= 0 {
		t.Fatalf("expected an open short at the end, got %+v", pos)
	}
	if results.FinalCapital <= results.InitialCapital {
		t.Fatalf("trend-following both legs should be profitable, got %.2f", results.FinalCapital)
	}
}

func TestAdaptiveKalmanRecordsSeries(t *testing.T) {
	s, err := NewAdaptiveKalmanStrategy([]string{"BTC"}, DefaultAdaptiveKalmanConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runBacktest(t, s, trendBars("BTC"), []string{"BTC"})

	series := s.Series("BTC")
	if len(series) != 60 {
		t.Fatalf("expected one estimate per bar, got %d", len(series))
	}
	for i, point := range series {
		if i < 21 && point.Estimate.Ready {
			t.Fatalf("bar %d: estimate ready before warm-up completed", i+1)
		}
		if i >= 21 && !point.Estimate.Ready {
			t.Fatalf("bar %d: expected ready estimate", i+1)
		}
	}
	if s.Series("ETH") != nil {
		t.Fatal("unknown symbol should have no series")
	}
}

func TestAdaptiveKalmanFiltersAreIndependent(t *testing.T) {
	bars := trendBars("BTC")
	flat := trendBars("ETH")
	for i := range flat {
		flat[i].Close = 50
	}

	s, err := NewAdaptiveKalmanStrategy([]string{"ETH", "BTC"}, DefaultAdaptiveKalmanConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runBacktest(t, s, append(bars, flat...), []string{"BTC", "ETH"})

	btc := s.Filter("BTC").State()
	eth := s.Filter("ETH").State()
	if eth.Level != 50 || eth.Velocity != 0 {
		t.Fatalf("flat instrument should stay at 50 with zero velocity, got %+v", eth)
	}
	if btc.Velocity >= 0 {
		t.Fatalf("trending instrument should end with negative velocity, got %v", btc.Velocity)
	}
}

func TestNewAdaptiveKalmanStrategyValidation(t *testing.T) {
	if _, err := NewAdaptiveKalmanStrategy(nil, DefaultAdaptiveKalmanConfig()); err == nil {
		t.Fatal("expected error without symbols")
	}

	cfg := DefaultAdaptiveKalmanConfig()
	cfg.Filter.VolatilityWindow = -1
	if _, err := NewAdaptiveKalmanStrategy([]string{"BTC"}, cfg); err == nil {
		t.Fatal("expected error for negative window")
	}

	cfg = DefaultAdaptiveKalmanConfig()
	cfg.Sizer.Percent = 150
	if _, err := NewAdaptiveKalmanStrategy([]string{"BTC"}, cfg); err == nil {
		t.Fatal("expected error for sizer above 100%")
	}
}

func TestBuyAndHoldBuysOnce(t *testing.T) {
	s := NewBuyAndHoldStrategy([]string{"BTC"}, strategy.DefaultPercentSizer())
	results := runBacktest(t, s, trendBars("BTC"), []string{"BTC"})

	if len(results.Trades) != 1 {
		t.Fatalf("expected a single buy, got %d trades", len(results.Trades))
	}
	if results.Trades[0].Price != 100 {
		t.Fatalf("expected buy at first close, got %v", results.Trades[0].Price)
	}
}

func TestFactoriesBuildFreshStrategies(t *testing.T) {
	factory := NewAdaptiveKalmanFactory(DefaultAdaptiveKalmanConfig())
	a, err := factory([]string{"BTC"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := factory([]string{"BTC"})
	if a == b {
		t.Fatal("factory must return distinct instances")
	}
	if a.(*AdaptiveKalmanStrategy).Filter("BTC") == b.(*AdaptiveKalmanStrategy).Filter("BTC") {
		t.Fatal("strategies must not share filters")
	}
	if a.GetParameters()["vol_period"] != kalman.DefaultConfig().VolatilityWindow {
		t.Fatalf("unexpected parameters %+v", a.GetParameters())
	}
}

func TestWriteSeriesCSV(t *testing.T) {
	s, err := NewAdaptiveKalmanStrategy([]string{"BTC"}, DefaultAdaptiveKalmanConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runBacktest(t, s, trendBars("BTC"), []string{"BTC"})

	var buf bytes.Buffer
	if err := s.WriteSeriesCSV(&buf, "BTC"); err != nil {
		t.Fatalf("WriteSeriesCSV failed: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid csv: %v", err)
	}
	if len(rows) != 61 {
		t.Fatalf("expected header plus 60 rows, got %d", len(rows))
	}
	if rows[0][0] != "timestamp" || rows[0][8] != "signal" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][2] != "false" || rows[1][3] != "" || rows[1][8] != "NONE" {
		t.Fatalf("warm-up row should be empty: %v", rows[1])
	}
	if rows[22][2] != "true" || rows[22][3] == "" || rows[22][8] != "LONG" {
		t.Fatalf("first ready row should carry a long estimate: %v", rows[22])
	}

	if err := s.WriteSeriesCSV(&buf, "ETH"); err == nil {
		t.Fatal("expected an error for an unknown symbol")
	}
}
