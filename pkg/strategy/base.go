package strategy

import (
	"fmt"
	"sync/atomic"
	"time"
)

// BaseStrategy carries the name, parameters and symbols of a strategy and
// hands out its order IDs. Concrete strategies embed it and override hooks.
type BaseStrategy struct {
	name       string
	parameters map[string]interface{}
	symbols    []string
	orderSeq   atomic.Int64
}

// NewBaseStrategy creates a base strategy without symbols
func NewBaseStrategy(name string, parameters map[string]interface{}) *BaseStrategy {
	return &BaseStrategy{
		name:       name,
		parameters: parameters,
		symbols:    []string{},
	}
}

// GetName returns the strategy name
func (s *BaseStrategy) GetName() string {
	return s.name
}

// GetParameters returns the strategy parameters
func (s *BaseStrategy) GetParameters() map[string]interface{} {
	return s.parameters
}

// SetSymbols sets the symbols this strategy will trade
func (s *BaseStrategy) SetSymbols(symbols []string) {
	s.symbols = symbols
}

// GetSymbols returns the symbols this strategy trades
func (s *BaseStrategy) GetSymbols() []string {
	return s.symbols
}

// CreateMarketOrder creates a market order stamped with the bar time
func (s *BaseStrategy) CreateMarketOrder(symbol string, side OrderSide, quantity float64, ts time.Time, reason string) Order {
	return Order{
		ID:        s.nextOrderID(),
		Symbol:    symbol,
		Side:      side,
		Type:      OrderTypeMarket,
		Quantity:  quantity,
		Timestamp: ts,
		Strategy:  s.name,
		Reason:    reason,
	}
}

// CreateLimitOrder creates a limit order stamped with the bar time
func (s *BaseStrategy) CreateLimitOrder(symbol string, side OrderSide, quantity, price float64, ts time.Time, reason string) Order {
	order := s.CreateMarketOrder(symbol, side, quantity, ts, reason)
	order.Type = OrderTypeLimit
	order.Price = price
	return order
}

// Initialize logs the strategy and its symbols
func (s *BaseStrategy) Initialize(ctx Context) error {
	ctx.Log("info", "Strategy initialized", map[string]interface{}{
		"strategy": s.name,
		"symbols":  s.symbols,
	})
	return nil
}

// OnDataPoint places no orders
func (s *BaseStrategy) OnDataPoint(ctx Context, dataPoint DataPoint) ([]Order, error) {
	return []Order{}, nil
}

// OnTrade logs the fill at debug level
func (s *BaseStrategy) OnTrade(ctx Context, trade TradeEvent) error {
	ctx.Log("debug", "Trade executed", map[string]interface{}{
		"strategy": s.name,
		"symbol":   trade.Symbol,
		"side":     trade.Side,
		"quantity": trade.Quantity,
		"price":    trade.Price,
		"reason":   trade.Reason,
	})
	return nil
}

// Cleanup logs the end of the run
func (s *BaseStrategy) Cleanup(ctx Context) error {
	ctx.Log("info", "Strategy cleanup", map[string]interface{}{
		"strategy": s.name,
	})
	return nil
}

// Order IDs are sequential per strategy so repeated runs produce identical ledgers
func (s *BaseStrategy) nextOrderID() string {
	return fmt.Sprintf("ORD_%s_%d", s.name, s.orderSeq.Add(1))
}
