package backtester

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ridopark/quantlab/pkg/strategy"
)

// maxHistory bounds the bars kept per symbol for GetBars
const maxHistory = 1000

// StrategyContext implements the strategy.Context interface for backtesting
type StrategyContext struct {
	engine  *Engine
	history map[string][]strategy.BarData
	logger  zerolog.Logger
}

// NewStrategyContext creates a new strategy context
func NewStrategyContext(engine *Engine) *StrategyContext {
	return &StrategyContext{
		engine:  engine,
		history: make(map[string][]strategy.BarData),
		logger:  engine.logger.With().Str("strategy", engine.strategy.GetName()).Logger(),
	}
}

// GetPortfolio returns the current portfolio state
func (sc *StrategyContext) GetPortfolio() *strategy.Portfolio {
	return sc.engine.portfolio.ToStrategyPortfolio()
}

// GetPosition returns the position for a symbol
func (sc *StrategyContext) GetPosition(symbol string) *strategy.Position {
	position := sc.engine.portfolio.GetPosition(symbol)
	if position == nil {
		return nil
	}
	copied := *position
	return &copied
}

// GetCash returns the current cash balance
func (sc *StrategyContext) GetCash() float64 {
	return sc.engine.portfolio.GetCash()
}

// GetBars returns up to limit of the most recent bars for a symbol, oldest first
func (sc *StrategyContext) GetBars(symbol string, limit int) ([]strategy.BarData, error) {
	bars, ok := sc.history[symbol]
	if !ok || len(bars) == 0 {
		return nil, fmt.Errorf("no bars recorded for symbol %s", symbol)
	}
	if limit <= 0 || limit > len(bars) {
		limit = len(bars)
	}

	out := make([]strategy.BarData, limit)
	copy(out, bars[len(bars)-limit:])
	return out, nil
}

// Log logs a message with the given level and fields
func (sc *StrategyContext) Log(level string, message string, fields map[string]interface{}) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	sc.logger.WithLevel(lvl).Fields(fields).Msg(message)
}

// UpdatePriceHistory records the bars of a datapoint
func (sc *StrategyContext) UpdatePriceHistory(dataPoint strategy.DataPoint) {
	for symbol, bar := range dataPoint.Bars {
		bars := append(sc.history[symbol], bar)
		if len(bars) > maxHistory {
			bars = bars[len(bars)-maxHistory:]
		}
		sc.history[symbol] = bars
	}
}
