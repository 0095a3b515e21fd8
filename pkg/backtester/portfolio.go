package backtester

import (
	"fmt"
	"math"
	"time"

	"github.com/ridopark/quantlab/pkg/strategy"
)

// Portfolio manages positions, cash, and P&L tracking
type Portfolio struct {
	cash        float64
	initialCash float64
	positions   map[string]*strategy.Position
	trades      []strategy.TradeEvent
	totalValue  float64
	realizedPL  float64
	allowShort  bool

	// Performance tracking
	maxDrawdown     float64
	currentDrawdown float64
	peakValue       float64
}

// EquityPoint represents equity at a point in time
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// NewPortfolio creates a new portfolio with the given initial capital
func NewPortfolio(initialCapital float64, allowShort bool) *Portfolio {
	return &Portfolio{
		cash:        initialCapital,
		initialCash: initialCapital,
		positions:   make(map[string]*strategy.Position),
		trades:      make([]strategy.TradeEvent, 0),
		totalValue:  initialCapital,
		allowShort:  allowShort,
		peakValue:   initialCapital,
	}
}

// GetCash returns the current cash balance
func (p *Portfolio) GetCash() float64 {
	return p.cash
}

// GetPosition returns the position for a symbol, or nil if no position exists
func (p *Portfolio) GetPosition(symbol string) *strategy.Position {
	return p.positions[symbol]
}

// GetTrades returns all trades
func (p *Portfolio) GetTrades() []strategy.TradeEvent {
	return p.trades
}

// GetTotalValue returns the total portfolio value
func (p *Portfolio) GetTotalValue() float64 {
	return p.totalValue
}

// GetRealizedPL returns the gross P&L realized across all closed quantity
func (p *Portfolio) GetRealizedPL() float64 {
	return p.realizedPL
}

// GetTotalReturn returns the total return as a percentage
func (p *Portfolio) GetTotalReturn() float64 {
	return (p.totalValue - p.initialCash) / p.initialCash * 100
}

// CanAfford checks whether an order can be accepted at price. Buys that open
// or add to a long must be covered by cash; sells beyond the held quantity
// need short selling enabled.
func (p *Portfolio) CanAfford(order strategy.Order, price float64, fees float64) bool {
	position := p.positions[order.Symbol]
	held := 0.0
	if position != nil {
		held = position.Quantity
	}

	if order.Side == strategy.OrderSideBuy {
		opening := order.Quantity
		if held < 0 {
			opening = math.Max(0, order.Quantity+held)
		}
		if opening == 0 {
			return true
		}
		return p.cash >= order.Quantity*price+fees
	}

	if p.allowShort {
		return true
	}
	return held >= order.Quantity
}

// ExecuteTrade applies a fill to the portfolio. It records the realized P&L
// of any closed quantity on the trade before storing it.
func (p *Portfolio) ExecuteTrade(trade *strategy.TradeEvent) error {
	if trade.Quantity <= 0 {
		return fmt.Errorf("trade %s has non-positive quantity %f", trade.ID, trade.Quantity)
	}

	symbol := trade.Symbol

	// Get or create position
	position, exists := p.positions[symbol]
	if !exists {
		position = &strategy.Position{Symbol: symbol}
		p.positions[symbol] = position
	}

	tradeValue := trade.Quantity * trade.Price
	totalFees := trade.Commission + trade.Slippage

	if trade.Side == strategy.OrderSideBuy {
		p.cash -= tradeValue + totalFees
		if position.Quantity >= 0 {
			// Adding to long position or opening new long position
			newQuantity := position.Quantity + trade.Quantity
			position.AvgPrice = (position.AvgPrice*position.Quantity + trade.Price*trade.Quantity) / newQuantity
			position.Quantity = newQuantity
		} else {
			// Covering short position, reversing into a long with any remainder
			covered := math.Min(trade.Quantity, -position.Quantity)
			trade.RealizedPL = (position.AvgPrice - trade.Price) * covered
			trade.Closing = true
			position.Quantity += covered

			if remainder := trade.Quantity - covered; remainder > 0 {
				position.Quantity = remainder
				position.AvgPrice = trade.Price
			}
		}
	} else { // SELL
		p.cash += tradeValue - totalFees
		if position.Quantity <= 0 {
			// Adding to short position or opening new short position
			held := -position.Quantity
			newShort := held + trade.Quantity
			position.AvgPrice = (position.AvgPrice*held + trade.Price*trade.Quantity) / newShort
			position.Quantity = -newShort
		} else {
			// Selling long position, reversing into a short with any remainder
			sold := math.Min(trade.Quantity, position.Quantity)
			trade.RealizedPL = (trade.Price - position.AvgPrice) * sold
			trade.Closing = true
			position.Quantity -= sold

			if remainder := trade.Quantity - sold; remainder > 0 {
				position.Quantity = -remainder
				position.AvgPrice = trade.Price
			}
		}
	}

	position.RealizedPL += trade.RealizedPL
	p.realizedPL += trade.RealizedPL
	p.markPosition(position, trade.Price)

	// Remove position if quantity is zero
	if position.Quantity == 0 {
		delete(p.positions, symbol)
	}

	// Add trade to history
	p.trades = append(p.trades, *trade)

	return nil
}

// UpdateMarketValues marks positions to the given bars and refreshes drawdown
func (p *Portfolio) UpdateMarketValues(barData map[string]strategy.BarData) {
	totalMarketValue := 0.0

	for symbol, position := range p.positions {
		if bar, exists := barData[symbol]; exists {
			p.markPosition(position, bar.Close)
		}
		totalMarketValue += position.MarketValue
	}

	p.totalValue = p.cash + totalMarketValue

	// Update drawdown tracking
	if p.totalValue > p.peakValue {
		p.peakValue = p.totalValue
		p.currentDrawdown = 0
	} else if p.peakValue > 0 {
		p.currentDrawdown = (p.peakValue - p.totalValue) / p.peakValue
		if p.currentDrawdown > p.maxDrawdown {
			p.maxDrawdown = p.currentDrawdown
		}
	}
}

// GetMaxDrawdown returns the maximum drawdown as a fraction of peak value
func (p *Portfolio) GetMaxDrawdown() float64 {
	return p.maxDrawdown
}

// GetCurrentDrawdown returns the current drawdown
func (p *Portfolio) GetCurrentDrawdown() float64 {
	return p.currentDrawdown
}

// ToStrategyPortfolio converts to strategy.Portfolio format
func (p *Portfolio) ToStrategyPortfolio() *strategy.Portfolio {
	totalPL := p.realizedPL
	positions := make(map[string]*strategy.Position, len(p.positions))
	for symbol, position := range p.positions {
		totalPL += position.UnrealizedPL
		copied := *position
		positions[symbol] = &copied
	}

	return &strategy.Portfolio{
		Cash:       p.cash,
		TotalValue: p.totalValue,
		Positions:  positions,
		TotalPL:    totalPL,
		Trades:     p.trades,
	}
}

func (p *Portfolio) markPosition(position *strategy.Position, price float64) {
	position.MarketValue = position.Quantity * price
	switch {
	case position.Quantity > 0:
		position.UnrealizedPL = (price - position.AvgPrice) * position.Quantity
	case position.Quantity < 0:
		position.UnrealizedPL = (position.AvgPrice - price) * -position.Quantity
	default:
		position.UnrealizedPL = 0
	}
}
