package strategy

import (
	"time"
)

// BarData represents OHLCV data for a single time period
type BarData struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timeframe string    `json:"timeframe"`
}

// DataPoint represents market data for all symbols at a specific timestamp
type DataPoint struct {
	Timestamp time.Time
	Bars      map[string]BarData // symbol -> bar data
}

// OrderSide represents the side of an order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the type of order
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

// Order represents a trading order
type Order struct {
	ID        string
	Symbol    string
	Side      OrderSide
	Type      OrderType
	Quantity  float64
	Price     float64 // For limit orders
	StopPrice float64 // For stop orders
	Timestamp time.Time
	Strategy  string
	Reason    string
}

// TradeEvent represents a completed trade
type TradeEvent struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	Symbol     string    `json:"symbol"`
	Side       OrderSide `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Timestamp  time.Time `json:"timestamp"`
	Commission float64   `json:"commission"`
	Slippage   float64   `json:"slippage"`    // Slippage cost
	RealizedPL float64   `json:"realized_pl"` // Gross P&L realized by the closing part of this trade
	Closing    bool      `json:"closing"`     // True if the trade reduced or closed an existing position
	Strategy   string    `json:"strategy"`
	Reason     string    `json:"reason"`
}

// Position represents a current position in a symbol. Negative quantities are short.
type Position struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	AvgPrice     float64 `json:"avg_price"`
	MarketValue  float64 `json:"market_value"`
	UnrealizedPL float64 `json:"unrealized_pl"`
	RealizedPL   float64 `json:"realized_pl"`
}

// IsLong reports whether the position holds a positive quantity
func (p *Position) IsLong() bool {
	return p != nil && p.Quantity > 0
}

// IsShort reports whether the position holds a negative quantity
func (p *Position) IsShort() bool {
	return p != nil && p.Quantity < 0
}

// Portfolio represents the current portfolio state
type Portfolio struct {
	Cash       float64              `json:"cash"`
	TotalValue float64              `json:"total_value"`
	Positions  map[string]*Position `json:"positions"`
	TotalPL    float64              `json:"total_pl"`
	Trades     []TradeEvent         `json:"trades"`
}

// Context provides strategy access to market data and portfolio state
type Context interface {
	// Portfolio access
	GetPortfolio() *Portfolio
	GetPosition(symbol string) *Position
	GetCash() float64

	// GetBars returns up to limit of the most recent bars seen for symbol, oldest first.
	// A limit of 0 returns everything retained.
	GetBars(symbol string, limit int) ([]BarData, error)

	// Logging
	Log(level string, message string, fields map[string]interface{})
}

// Strategy defines the interface that all trading strategies must implement
type Strategy interface {
	// Initialize is called once before the strategy starts
	Initialize(ctx Context) error

	// OnDataPoint is called for each new datapoint of market data
	// Returns a slice of orders to be executed
	OnDataPoint(ctx Context, datapoint DataPoint) ([]Order, error)

	// OnTrade is called when a trade is executed
	OnTrade(ctx Context, trade TradeEvent) error

	// Cleanup is called when the strategy is shutting down
	Cleanup(ctx Context) error

	// GetName returns the strategy name
	GetName() string

	// GetParameters returns the strategy parameters
	GetParameters() map[string]interface{}
}

// Factory builds a fresh strategy instance. Rolling runs need one per window.
type Factory func(symbols []string) (Strategy, error)
