package backtester

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ridopark/quantlab/pkg/feed"
	"github.com/ridopark/quantlab/pkg/logging"
	"github.com/ridopark/quantlab/pkg/strategy"
)

// Engine coordinates the backtest execution
type Engine struct {
	strategy  strategy.Strategy
	feed      feed.DataFeed
	broker    *Broker
	portfolio *Portfolio
	results   *Results
	queue     *EventQueue
	ctx       *StrategyContext
	logger    zerolog.Logger

	current strategy.DataPoint
	pending *strategy.BarData
}

// NewEngine creates a new backtesting engine
func NewEngine(s strategy.Strategy, f feed.DataFeed, config Config) *Engine {
	if config.Commission == nil {
		config.Commission = DefaultCommissionConfig()
	}

	results := &Results{
		StrategyName:   s.GetName(),
		InitialCapital: config.InitialCapital,
		Trades:         make([]strategy.TradeEvent, 0),
		EquityCurve:    make([]EquityPoint, 0),
	}

	engine := &Engine{
		strategy:  s,
		feed:      f,
		broker:    NewBroker(config.Commission, config.SlippageRate, config.MaxSlippage),
		portfolio: NewPortfolio(config.InitialCapital, config.AllowShort),
		results:   results,
		queue:     NewEventQueue(),
		logger:    logging.GetLogger("backtester"),
	}

	// Create context after engine is initialized
	engine.ctx = NewStrategyContext(engine)

	return engine
}

// Run executes the backtest
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Debug().Str("strategy", e.strategy.GetName()).Msg("Starting backtest execution")

	// Initialize strategy
	if err := e.strategy.Initialize(e.ctx); err != nil {
		return fmt.Errorf("failed to initialize strategy: %w", err)
	}

	// Initialize data feed
	if err := e.feed.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize data feed: %w", err)
	}
	defer e.feed.Close()

	if !e.feed.HasMoreData() {
		return fmt.Errorf("%w for the specified date range and symbols", feed.ErrNoData)
	}

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("backtest interrupted: %w", err)
		}

		dataPoint, ok, err := e.nextDataPoint()
		if err != nil {
			return fmt.Errorf("error reading market data: %w", err)
		}
		if !ok {
			break
		}

		e.results.Bars += len(dataPoint.Bars)
		e.queue.Push(MarketEvent{DataPoint: dataPoint})
		e.processEvents()

		// Record equity point after all fills for this timestamp
		e.portfolio.UpdateMarketValues(dataPoint.Bars)
		e.results.EquityCurve = append(e.results.EquityCurve, EquityPoint{
			Timestamp: dataPoint.Timestamp,
			Value:     e.portfolio.GetTotalValue(),
		})
	}

	e.logger.Debug().Int("bars_processed", e.results.Bars).Msg("Backtest completed")

	// Cleanup strategy
	if err := e.strategy.Cleanup(e.ctx); err != nil {
		e.logger.Error().Err(err).Msg("Strategy cleanup error")
	}

	e.finalize()
	return nil
}

// GetResults returns the backtest results
func (e *Engine) GetResults() *Results {
	return e.results
}

// GetPortfolio returns the simulated portfolio
func (e *Engine) GetPortfolio() *Portfolio {
	return e.portfolio
}

func (e *Engine) processEvents() {
	for !e.queue.IsEmpty() {
		switch ev := e.queue.Pop().(type) {
		case MarketEvent:
			e.current = ev.DataPoint
			e.ctx.UpdatePriceHistory(ev.DataPoint)
			e.portfolio.UpdateMarketValues(ev.DataPoint.Bars)

			orders, err := e.strategy.OnDataPoint(e.ctx, ev.DataPoint)
			if err != nil {
				e.logger.Error().Err(err).Time("timestamp", ev.DataPoint.Timestamp).Msg("Strategy error on datapoint")
				continue
			}
			for _, order := range orders {
				e.queue.Push(OrderEvent{Order: order})
			}

		case OrderEvent:
			bar, ok := e.current.Bars[ev.Order.Symbol]
			if !ok {
				e.logger.Error().Str("symbol", ev.Order.Symbol).Msg("Order for symbol without a bar at this timestamp")
				continue
			}

			trade, err := e.broker.ExecuteOrder(ev.Order, bar)
			if err != nil {
				e.logger.Error().Err(err).Str("order_id", ev.Order.ID).Msg("Order execution failed")
				continue
			}
			if !e.portfolio.CanAfford(ev.Order, trade.Price, trade.Commission+trade.Slippage) {
				e.logger.Warn().
					Str("order_id", ev.Order.ID).
					Str("symbol", ev.Order.Symbol).
					Float64("quantity", ev.Order.Quantity).
					Float64("cash", e.portfolio.GetCash()).
					Msg("Order rejected: insufficient funds")
				continue
			}
			// Apply the fill before any order queued behind this one
			e.queue.PushFront(FillEvent{Trade: *trade})

		case FillEvent:
			trade := ev.Trade
			if err := e.portfolio.ExecuteTrade(&trade); err != nil {
				e.logger.Error().Err(err).Str("trade_id", trade.ID).Msg("Failed to apply trade")
				continue
			}

			// Notify strategy of trade
			if err := e.strategy.OnTrade(e.ctx, trade); err != nil {
				e.logger.Error().Err(err).Msg("Strategy error on trade")
			}

			e.results.Trades = append(e.results.Trades, trade)
		}
	}
}

// nextDataPoint groups consecutive bars that share a timestamp
func (e *Engine) nextDataPoint() (strategy.DataPoint, bool, error) {
	first := e.pending
	e.pending = nil

	if first == nil {
		bar, err := e.feed.GetNextBar()
		if err != nil {
			return strategy.DataPoint{}, false, err
		}
		if bar == nil {
			return strategy.DataPoint{}, false, nil
		}
		first = bar
	}

	dataPoint := strategy.DataPoint{
		Timestamp: first.Timestamp,
		Bars:      map[string]strategy.BarData{first.Symbol: *first},
	}

	for e.feed.HasMoreData() {
		bar, err := e.feed.GetNextBar()
		if err != nil {
			return strategy.DataPoint{}, false, err
		}
		if bar == nil {
			break
		}
		if !bar.Timestamp.Equal(dataPoint.Timestamp) {
			e.pending = bar
			break
		}
		dataPoint.Bars[bar.Symbol] = *bar
	}

	return dataPoint, true, nil
}

func (e *Engine) finalize() {
	if len(e.results.EquityCurve) > 0 {
		e.results.StartDate = e.results.EquityCurve[0].Timestamp
		e.results.EndDate = e.results.EquityCurve[len(e.results.EquityCurve)-1].Timestamp
	}

	e.results.FinalCapital = e.portfolio.GetTotalValue()
	e.results.TotalReturn = e.portfolio.GetTotalReturn()
	e.results.TotalPL = e.results.FinalCapital - e.results.InitialCapital
	e.results.MaxDrawdown = e.portfolio.GetMaxDrawdown()
	e.results.Portfolio = e.portfolio.ToStrategyPortfolio()

	// Calculate performance metrics
	e.results.CalculateMetrics()
}
