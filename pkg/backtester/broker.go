package backtester

import (
	"fmt"
	"math"

	"github.com/ridopark/quantlab/pkg/strategy"
)

// Broker simulates order execution for backtesting
type Broker struct {
	commission  *CommissionConfig
	slippage    float64 // Fraction of trade value
	maxSlippage float64 // Cap on slippage fraction, 0 means uncapped
	tradeSeq    int64
}

// NewBroker creates a new simulated broker
func NewBroker(commission *CommissionConfig, slippage, maxSlippage float64) *Broker {
	return &Broker{
		commission:  commission,
		slippage:    slippage,
		maxSlippage: maxSlippage,
	}
}

// ExecuteOrder executes an order against the current bar and returns a trade event
func (b *Broker) ExecuteOrder(order strategy.Order, currentBar strategy.BarData) (*strategy.TradeEvent, error) {
	if order.Quantity <= 0 || math.IsNaN(order.Quantity) {
		return nil, fmt.Errorf("invalid order quantity %f for %s", order.Quantity, order.Symbol)
	}
	if order.Symbol != currentBar.Symbol {
		return nil, fmt.Errorf("order symbol %s does not match bar symbol %s", order.Symbol, currentBar.Symbol)
	}

	var fillPrice float64

	switch order.Type {
	case strategy.OrderTypeMarket:
		fillPrice = currentBar.Close

	case strategy.OrderTypeLimit:
		if !b.CanExecuteOrder(order, currentBar) {
			return nil, fmt.Errorf("limit %s order not filled at %f (bar range %f-%f)", order.Side, order.Price, currentBar.Low, currentBar.High)
		}
		fillPrice = order.Price

	case strategy.OrderTypeStop:
		if !b.CanExecuteOrder(order, currentBar) {
			return nil, fmt.Errorf("stop %s order not triggered at %f (bar range %f-%f)", order.Side, order.StopPrice, currentBar.Low, currentBar.High)
		}
		fillPrice = order.StopPrice

	default:
		return nil, fmt.Errorf("unsupported order type: %s", order.Type)
	}

	tradeValue := order.Quantity * fillPrice
	b.tradeSeq++

	trade := &strategy.TradeEvent{
		ID:         fmt.Sprintf("TRD_%d", b.tradeSeq),
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   order.Quantity,
		Price:      fillPrice,
		Timestamp:  currentBar.Timestamp,
		Commission: b.commission.CalculateCommission(order.Quantity, tradeValue),
		Slippage:   tradeValue * b.slippageRate(),
		Strategy:   order.Strategy,
		Reason:     order.Reason,
	}

	return trade, nil
}

// CanExecuteOrder checks if an order can be executed at the current bar
func (b *Broker) CanExecuteOrder(order strategy.Order, currentBar strategy.BarData) bool {
	switch order.Type {
	case strategy.OrderTypeMarket:
		return true

	case strategy.OrderTypeLimit:
		if order.Side == strategy.OrderSideBuy {
			return currentBar.Low <= order.Price
		}
		return currentBar.High >= order.Price

	case strategy.OrderTypeStop:
		if order.Side == strategy.OrderSideBuy {
			return currentBar.High >= order.StopPrice
		}
		return currentBar.Low <= order.StopPrice

	default:
		return false
	}
}

func (b *Broker) slippageRate() float64 {
	if b.maxSlippage > 0 && b.slippage > b.maxSlippage {
		return b.maxSlippage
	}
	return b.slippage
}
