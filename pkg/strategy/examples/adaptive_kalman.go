package examples

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ridopark/quantlab/pkg/indicators"
	"github.com/ridopark/quantlab/pkg/kalman"
	"github.com/ridopark/quantlab/pkg/strategy"
)

// AdaptiveKalmanConfig configures the adaptive Kalman trend strategy
type AdaptiveKalmanConfig struct {
	Filter         kalman.Config         `yaml:"filter"`
	VolatilityKind indicators.StdDevKind `yaml:"volatility_kind"`
	Sizer          strategy.PercentSizer `yaml:"sizer"`
	PrintLog       bool                  `yaml:"print_log"`
}

// DefaultAdaptiveKalmanConfig returns the research defaults
func DefaultAdaptiveKalmanConfig() AdaptiveKalmanConfig {
	return AdaptiveKalmanConfig{
		Filter:         kalman.DefaultConfig(),
		VolatilityKind: indicators.StdDevPopulation,
		Sizer:          strategy.DefaultPercentSizer(),
	}
}

// EstimatePoint is one recorded filter output
type EstimatePoint struct {
	Timestamp time.Time
	Close     float64
	Estimate  kalman.Estimate
}

type kalmanInstrument struct {
	filter     *kalman.AdaptiveFilter
	volatility *indicators.Volatility
	series     []EstimatePoint
}

// AdaptiveKalmanStrategy trades the sign of the filtered price velocity:
// long while it is positive, short while it is negative, reversing on a flip.
type AdaptiveKalmanStrategy struct {
	*strategy.BaseStrategy
	config      AdaptiveKalmanConfig
	instruments map[string]*kalmanInstrument
}

// NewAdaptiveKalmanStrategy creates one filter per symbol
func NewAdaptiveKalmanStrategy(symbols []string, config AdaptiveKalmanConfig) (*AdaptiveKalmanStrategy, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("adaptive kalman strategy needs at least one symbol")
	}
	if config.Sizer.Percent <= 0 || config.Sizer.Percent > 100 {
		return nil, fmt.Errorf("sizer percent must be in (0, 100], got %v", config.Sizer.Percent)
	}

	instruments := make(map[string]*kalmanInstrument, len(symbols))
	for _, symbol := range symbols {
		filter, err := kalman.New(config.Filter)
		if err != nil {
			return nil, fmt.Errorf("symbol %s: %w", symbol, err)
		}
		vol, err := indicators.NewVolatility(config.Filter.VolatilityWindow, config.VolatilityKind)
		if err != nil {
			return nil, fmt.Errorf("symbol %s: %w", symbol, err)
		}
		instruments[symbol] = &kalmanInstrument{filter: filter, volatility: vol}
	}

	base := strategy.NewBaseStrategy("AdaptiveKalman", map[string]interface{}{
		"vol_period":     config.Filter.VolatilityWindow,
		"delta":          config.Filter.BaseProcessNoise,
		"R_base":         config.Filter.BaseMeasurementNoise,
		"R_scale":        config.Filter.MeasurementNoiseVolScale,
		"Q_scale_factor": config.Filter.ProcessNoiseVolScale,
		"initial_cov":    config.Filter.InitialCovarianceScale,
		"vol_kind":       string(config.VolatilityKind),
		"percent":        config.Sizer.Percent,
	})

	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	base.SetSymbols(sorted)

	return &AdaptiveKalmanStrategy{
		BaseStrategy: base,
		config:       config,
		instruments:  instruments,
	}, nil
}

// NewAdaptiveKalmanFactory returns a factory for rolling runs
func NewAdaptiveKalmanFactory(config AdaptiveKalmanConfig) strategy.Factory {
	return func(symbols []string) (strategy.Strategy, error) {
		return NewAdaptiveKalmanStrategy(symbols, config)
	}
}

// OnDataPoint feeds each symbol's close to its filter and trades the velocity sign
func (s *AdaptiveKalmanStrategy) OnDataPoint(ctx strategy.Context, dataPoint strategy.DataPoint) ([]strategy.Order, error) {
	orders := make([]strategy.Order, 0)

	for _, symbol := range s.GetSymbols() {
		bar, ok := dataPoint.Bars[symbol]
		if !ok {
			continue
		}
		inst := s.instruments[symbol]

		wasReady := inst.filter.Ready()
		est := inst.filter.Observe(bar.Close, inst.volatility.Update(bar.Close))
		inst.series = append(inst.series, EstimatePoint{Timestamp: bar.Timestamp, Close: bar.Close, Estimate: est})

		if !wasReady && inst.filter.Ready() {
			ctx.Log("info", "Kalman filter initialized", map[string]interface{}{
				"symbol":    symbol,
				"price":     bar.Close,
				"timestamp": bar.Timestamp,
			})
		}
		if !est.Ready {
			continue
		}

		orders = append(orders, s.ordersForSignal(ctx, bar, est)...)
	}

	return orders, nil
}

func (s *AdaptiveKalmanStrategy) ordersForSignal(ctx strategy.Context, bar strategy.BarData, est kalman.Estimate) []strategy.Order {
	signal := est.Signal()
	if signal == kalman.SignalNone {
		return nil
	}

	position := ctx.GetPosition(bar.Symbol)
	var orders []strategy.Order

	switch {
	case position.IsLong() && signal == kalman.SignalShort:
		s.logTrade(ctx, "CLOSE LONG & SELL SHORT", bar, est)
		orders = append(orders, s.CreateMarketOrder(bar.Symbol, strategy.OrderSideSell, position.Quantity, bar.Timestamp, "close_long"))
	case position.IsShort() && signal == kalman.SignalLong:
		s.logTrade(ctx, "CLOSE SHORT & BUY LONG", bar, est)
		orders = append(orders, s.CreateMarketOrder(bar.Symbol, strategy.OrderSideBuy, -position.Quantity, bar.Timestamp, "close_short"))
	case position.IsLong() || position.IsShort():
		// Already positioned with the signal
		return nil
	default:
		if signal == kalman.SignalLong {
			s.logTrade(ctx, "BUY", bar, est)
		} else {
			s.logTrade(ctx, "SELL SHORT", bar, est)
		}
	}

	quantity := s.config.Sizer.Size(s.allocatableEquity(ctx), bar.Close)
	if quantity <= 0 {
		return orders
	}

	if signal == kalman.SignalLong {
		orders = append(orders, s.CreateMarketOrder(bar.Symbol, strategy.OrderSideBuy, quantity, bar.Timestamp, "velocity_long"))
	} else {
		orders = append(orders, s.CreateMarketOrder(bar.Symbol, strategy.OrderSideSell, quantity, bar.Timestamp, "velocity_short"))
	}
	return orders
}

// allocatableEquity splits portfolio value evenly across the traded symbols
func (s *AdaptiveKalmanStrategy) allocatableEquity(ctx strategy.Context) float64 {
	portfolio := ctx.GetPortfolio()
	if portfolio == nil {
		return 0
	}
	equity := portfolio.TotalValue
	if math.IsNaN(equity) || equity <= 0 {
		return 0
	}
	return equity / float64(len(s.GetSymbols()))
}

func (s *AdaptiveKalmanStrategy) logTrade(ctx strategy.Context, action string, bar strategy.BarData, est kalman.Estimate) {
	level := "debug"
	if s.config.PrintLog {
		level = "info"
	}
	ctx.Log(level, action, map[string]interface{}{
		"symbol":    bar.Symbol,
		"timestamp": bar.Timestamp,
		"price":     bar.Close,
		"velocity":  est.Velocity,
		"level":     est.Level,
	})
}

// Cleanup reports the ending portfolio value
func (s *AdaptiveKalmanStrategy) Cleanup(ctx strategy.Context) error {
	value := 0.0
	if portfolio := ctx.GetPortfolio(); portfolio != nil {
		value = portfolio.TotalValue
	}
	ctx.Log("info", "Ending portfolio value", map[string]interface{}{
		"strategy": s.GetName(),
		"value":    value,
	})
	return nil
}

// Series returns the recorded filter outputs for a symbol, one per bar
func (s *AdaptiveKalmanStrategy) Series(symbol string) []EstimatePoint {
	inst, ok := s.instruments[symbol]
	if !ok {
		return nil
	}
	return inst.series
}

// Filter exposes the estimator of a symbol
func (s *AdaptiveKalmanStrategy) Filter(symbol string) *kalman.AdaptiveFilter {
	inst, ok := s.instruments[symbol]
	if !ok {
		return nil
	}
	return inst.filter
}
