package backtester

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/ridopark/quantlab/pkg/feed"
	"github.com/ridopark/quantlab/pkg/strategy"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func bar(symbol string, n int, close float64) strategy.BarData {
	return strategy.BarData{
		Symbol: symbol, Timestamp: day(n),
		Open: close, High: close + 1, Low: close - 1, Close: close,
		Timeframe: "1d",
	}
}

func TestPortfolioLongRoundTrip(t *testing.T) {
	p := NewPortfolio(1000, false)

	buy := &strategy.TradeEvent{ID: "1", Symbol: "BTC", Side: strategy.OrderSideBuy, Quantity: 5, Price: 100, Commission: 1}
	if err := p.ExecuteTrade(buy); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.GetCash() != 499 {
		t.Fatalf("expected cash 499, got %v", p.GetCash())
	}
	if buy.Closing {
		t.Fatal("opening trade marked as closing")
	}

	sell := &strategy.TradeEvent{ID: "2", Symbol: "BTC", Side: strategy.OrderSideSell, Quantity: 5, Price: 120, Commission: 1}
	if err := p.ExecuteTrade(sell); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sell.Closing || sell.RealizedPL != 100 {
		t.Fatalf("expected closing trade with P&L 100, got %+v", sell)
	}
	if p.GetPosition("BTC") != nil {
		t.Fatal("flat position should be removed")
	}
	if p.GetCash() != 1098 {
		t.Fatalf("expected cash 1098, got %v", p.GetCash())
	}
}

func TestPortfolioShortAndReverse(t *testing.T) {
	p := NewPortfolio(1000, true)

	short := &strategy.TradeEvent{Symbol: "ETH", Side: strategy.OrderSideSell, Quantity: 4, Price: 50}
	if err := p.ExecuteTrade(short); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos := p.GetPosition("ETH")
	if pos == nil || pos.Quantity != -4 || pos.AvgPrice != 50 {
		t.Fatalf("unexpected short position %+v", pos)
	}

	p.UpdateMarketValues(map[string]strategy.BarData{"ETH": {Symbol: "ETH", Close: 40}})
	if p.GetTotalValue() != 1040 {
		t.Fatalf("expected value 1040 with short in profit, got %v", p.GetTotalValue())
	}

	// Cover 4 and go long 2
	reverse := &strategy.TradeEvent{Symbol: "ETH", Side: strategy.OrderSideBuy, Quantity: 6, Price: 40}
	if err := p.ExecuteTrade(reverse); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reverse.RealizedPL != 40 || !reverse.Closing {
		t.Fatalf("expected realized 40 on cover, got %+v", reverse)
	}
	pos = p.GetPosition("ETH")
	if pos == nil || pos.Quantity != 2 || pos.AvgPrice != 40 {
		t.Fatalf("unexpected reversed position %+v", pos)
	}
	if p.GetRealizedPL() != 40 {
		t.Fatalf("expected portfolio realized 40, got %v", p.GetRealizedPL())
	}
}

func TestPortfolioCanAfford(t *testing.T) {
	p := NewPortfolio(1000, false)
	buy := strategy.Order{Symbol: "BTC", Side: strategy.OrderSideBuy, Quantity: 10}
	if !p.CanAfford(buy, 99, 0) {
		t.Fatal("990 should be affordable with 1000 cash")
	}
	if p.CanAfford(buy, 101, 0) {
		t.Fatal("1010 should not be affordable with 1000 cash")
	}

	sell := strategy.Order{Symbol: "BTC", Side: strategy.OrderSideSell, Quantity: 1}
	if p.CanAfford(sell, 100, 0) {
		t.Fatal("short sale must be rejected when shorting is disabled")
	}
	if !NewPortfolio(1000, true).CanAfford(sell, 100, 0) {
		t.Fatal("short sale must be accepted when shorting is enabled")
	}
}

func TestBrokerExecution(t *testing.T) {
	b := NewBroker(DefaultCommissionConfig(), 0.01, 0.002)
	current := bar("BTC", 0, 100)

	trade, err := b.ExecuteOrder(strategy.Order{ID: "o1", Symbol: "BTC", Side: strategy.OrderSideBuy, Type: strategy.OrderTypeMarket, Quantity: 10}, current)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trade.Price != 100 || trade.ID != "TRD_1" {
		t.Fatalf("unexpected fill %+v", trade)
	}
	if math.Abs(trade.Commission-1) > 1e-12 {
		t.Fatalf("expected 0.1%% commission of 1000, got %v", trade.Commission)
	}
	if math.Abs(trade.Slippage-2) > 1e-12 {
		t.Fatalf("expected slippage capped at 0.2%% (2), got %v", trade.Slippage)
	}

	limit := strategy.Order{Symbol: "BTC", Side: strategy.OrderSideBuy, Type: strategy.OrderTypeLimit, Quantity: 1, Price: 98}
	if _, err := b.ExecuteOrder(limit, current); err == nil {
		t.Fatal("limit below bar low must not fill")
	}
	limit.Price = 99.5
	if trade, err := b.ExecuteOrder(limit, current); err != nil || trade.Price != 99.5 {
		t.Fatalf("limit inside bar range should fill at limit, got %+v %v", trade, err)
	}

	if _, err := b.ExecuteOrder(strategy.Order{Symbol: "ETH", Type: strategy.OrderTypeMarket, Quantity: 1}, current); err == nil {
		t.Fatal("expected symbol mismatch error")
	}
	if _, err := b.ExecuteOrder(strategy.Order{Symbol: "BTC", Type: strategy.OrderTypeMarket, Quantity: 0}, current); err == nil {
		t.Fatal("expected invalid quantity error")
	}
}

func TestCommissionTypes(t *testing.T) {
	tests := []struct {
		cfg  CommissionConfig
		want float64
	}{
		{CommissionConfig{Type: CommissionPercentage, Rate: 0.001}, 2},
		{CommissionConfig{Type: CommissionFixed, Rate: 4.95}, 4.95},
		{CommissionConfig{Type: CommissionPerShare, Rate: 0.01}, 0.2},
		{CommissionConfig{Type: CommissionPerShare, Rate: 0.01, Minimum: 1}, 1},
	}
	for _, tt := range tests {
		if got := tt.cfg.CalculateCommission(20, 2000); math.Abs(got-tt.want) > 1e-12 {
			t.Fatalf("%s commission = %v, want %v", tt.cfg.Type, got, tt.want)
		}
	}

	if _, err := NewCommissionConfig("tiered", 0.1); err == nil {
		t.Fatal("expected error for unknown commission type")
	}
}

// scriptedStrategy places predefined orders on given bar indexes
type scriptedStrategy struct {
	*strategy.BaseStrategy
	step     int
	script   map[int][]strategy.Order
	seen     []strategy.DataPoint
	trades   []strategy.TradeEvent
	lastBars int
}

func newScripted(script map[int][]strategy.Order) *scriptedStrategy {
	return &scriptedStrategy{BaseStrategy: strategy.NewBaseStrategy("Scripted", nil), script: script}
}

func (s *scriptedStrategy) OnDataPoint(ctx strategy.Context, dp strategy.DataPoint) ([]strategy.Order, error) {
	s.seen = append(s.seen, dp)
	bars, err := ctx.GetBars("BTC", 0)
	if err == nil {
		s.lastBars = len(bars)
	}
	orders := s.script[s.step]
	s.step++
	return orders, nil
}

func (s *scriptedStrategy) OnTrade(ctx strategy.Context, trade strategy.TradeEvent) error {
	s.trades = append(s.trades, trade)
	return nil
}

func runEngine(t *testing.T, s strategy.Strategy, bars []strategy.BarData, symbols []string, cfg Config) *Engine {
	t.Helper()
	provider := feed.NewSliceProvider(bars)
	f := feed.NewHistoricalFeed(provider, symbols, "1d", day(0), day(100))
	engine := NewEngine(s, f, cfg)
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("backtest failed: %v", err)
	}
	return engine
}

func TestEngineRoundTrip(t *testing.T) {
	s := newScripted(map[int][]strategy.Order{
		0: {{ID: "b", Symbol: "BTC", Side: strategy.OrderSideBuy, Type: strategy.OrderTypeMarket, Quantity: 10}},
		2: {{ID: "s", Symbol: "BTC", Side: strategy.OrderSideSell, Type: strategy.OrderTypeMarket, Quantity: 10}},
	})
	bars := []strategy.BarData{bar("BTC", 0, 100), bar("BTC", 1, 105), bar("BTC", 2, 110), bar("BTC", 3, 90)}

	cfg := DefaultConfig()
	cfg.InitialCapital = 10000
	cfg.Commission = &CommissionConfig{Type: CommissionFixed, Rate: 1}
	engine := runEngine(t, s, bars, []string{"BTC"}, cfg)
	results := engine.GetResults()

	if len(results.Trades) != 2 || len(s.trades) != 2 {
		t.Fatalf("expected 2 trades, got %d (strategy saw %d)", len(results.Trades), len(s.trades))
	}
	if results.FinalCapital != 10098 {
		t.Fatalf("expected final capital 10098, got %v", results.FinalCapital)
	}
	if len(results.EquityCurve) != 4 || results.Bars != 4 {
		t.Fatalf("expected 4 equity points and bars, got %d/%d", len(results.EquityCurve), results.Bars)
	}
	if results.Metrics.ClosedTrades != 1 || results.Metrics.WinningTrades != 1 {
		t.Fatalf("unexpected metrics %+v", results.Metrics)
	}
	if math.Abs(results.Metrics.LargestWin-99) > 1e-9 {
		t.Fatalf("expected net win 99, got %v", results.Metrics.LargestWin)
	}
	if s.lastBars != 4 {
		t.Fatalf("context should expose full history, got %d bars", s.lastBars)
	}
	if !results.StartDate.Equal(day(0)) || !results.EndDate.Equal(day(3)) {
		t.Fatalf("unexpected date range %v - %v", results.StartDate, results.EndDate)
	}
}

func TestEngineGroupsBarsByTimestamp(t *testing.T) {
	s := newScripted(nil)
	bars := []strategy.BarData{
		bar("BTC", 0, 100), bar("ETH", 0, 10),
		bar("BTC", 1, 101), bar("ETH", 1, 11),
		bar("ETH", 2, 12),
	}
	runEngine(t, s, bars, []string{"BTC", "ETH"}, DefaultConfig())

	if len(s.seen) != 3 {
		t.Fatalf("expected 3 datapoints, got %d", len(s.seen))
	}
	if len(s.seen[0].Bars) != 2 || len(s.seen[1].Bars) != 2 || len(s.seen[2].Bars) != 1 {
		t.Fatalf("unexpected grouping: %d %d %d", len(s.seen[0].Bars), len(s.seen[1].Bars), len(s.seen[2].Bars))
	}
}

func TestEngineRejectsUnaffordableOrders(t *testing.T) {
	s := newScripted(map[int][]strategy.Order{
		0: {{ID: "b", Symbol: "BTC", Side: strategy.OrderSideBuy, Type: strategy.OrderTypeMarket, Quantity: 1000}},
	})
	cfg := DefaultConfig()
	cfg.InitialCapital = 1000
	engine := runEngine(t, s, []strategy.BarData{bar("BTC", 0, 100), bar("BTC", 1, 100)}, []string{"BTC"}, cfg)

	if n := len(engine.GetResults().Trades); n != 0 {
		t.Fatalf("expected order to be rejected, got %d trades", n)
	}
}

func TestEngineNoData(t *testing.T) {
	provider := feed.NewSliceProvider([]strategy.BarData{bar("BTC", 50, 1)})
	f := feed.NewHistoricalFeed(provider, []string{"BTC"}, "1d", day(0), day(10))
	err := NewEngine(newScripted(nil), f, DefaultConfig()).Run(context.Background())
	if !errors.Is(err, feed.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestEngineHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := feed.NewSliceProvider([]strategy.BarData{bar("BTC", 0, 1), bar("BTC", 1, 2)})
	f := feed.NewHistoricalFeed(provider, []string{"BTC"}, "1d", day(0), day(10))
	err := NewEngine(newScripted(nil), f, DefaultConfig()).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestResultsTailRiskAndJSON(t *testing.T) {
	r := &Results{
		StrategyName:   "x",
		InitialCapital: 100,
		EquityCurve: []EquityPoint{
			{day(0), 100}, {day(1), 110}, {day(2), 99}, {day(3), 104}, {day(4), 104},
		},
	}
	r.CalculateMetrics()

	if r.Metrics.VaR95 <= 0 || r.Metrics.ExpectedShortfall < r.Metrics.VaR95 {
		t.Fatalf("unexpected tail risk VaR=%v ES=%v", r.Metrics.VaR95, r.Metrics.ExpectedShortfall)
	}
	if r.Metrics.SortinoRatio == 0 || r.Metrics.SharpeRatio == 0 {
		t.Fatalf("expected non-zero ratios, got %+v", r.Metrics)
	}

	var buf bytes.Buffer
	if err := r.WriteJSON(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded["strategy_name"] != "x" {
		t.Fatalf("unexpected json %s", buf.String())
	}
}
