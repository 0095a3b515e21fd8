package examples

import (
	"github.com/ridopark/quantlab/pkg/strategy"
)

// BuyAndHoldStrategy buys every symbol once and holds. Used as a benchmark.
type BuyAndHoldStrategy struct {
	*strategy.BaseStrategy
	hasBought map[string]bool
	sizer     strategy.PercentSizer
}

// NewBuyAndHoldStrategy creates a new buy-and-hold strategy
func NewBuyAndHoldStrategy(symbols []string, sizer strategy.PercentSizer) *BuyAndHoldStrategy {
	params := map[string]interface{}{
		"symbols": symbols,
		"percent": sizer.Percent,
	}

	base := strategy.NewBaseStrategy("BuyAndHold", params)
	base.SetSymbols(symbols)

	return &BuyAndHoldStrategy{
		BaseStrategy: base,
		hasBought:    make(map[string]bool),
		sizer:        sizer,
	}
}

// NewBuyAndHoldFactory returns a factory for rolling runs
func NewBuyAndHoldFactory(sizer strategy.PercentSizer) strategy.Factory {
	return func(symbols []string) (strategy.Strategy, error) {
		return NewBuyAndHoldStrategy(symbols, sizer), nil
	}
}

// OnDataPoint buys each symbol the first time it has a bar
func (s *BuyAndHoldStrategy) OnDataPoint(ctx strategy.Context, dataPoint strategy.DataPoint) ([]strategy.Order, error) {
	orders := make([]strategy.Order, 0)

	portfolio := ctx.GetPortfolio()
	perSymbol := portfolio.TotalValue / float64(len(s.GetSymbols()))

	for _, symbol := range s.GetSymbols() {
		bar, ok := dataPoint.Bars[symbol]
		if !ok || s.hasBought[symbol] {
			continue
		}

		quantity := s.sizer.Size(perSymbol, bar.Close)
		if quantity <= 0 {
			continue
		}

		orders = append(orders, s.CreateMarketOrder(symbol, strategy.OrderSideBuy, quantity, bar.Timestamp, "buy_and_hold"))
		s.hasBought[symbol] = true

		ctx.Log("debug", "Buying shares", map[string]interface{}{
			"symbol":   symbol,
			"quantity": quantity,
			"price":    bar.Close,
		})
	}

	return orders, nil
}
