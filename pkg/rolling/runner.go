package rolling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ridopark/quantlab/pkg/backtester"
	"github.com/ridopark/quantlab/pkg/feed"
	"github.com/ridopark/quantlab/pkg/logging"
	"github.com/ridopark/quantlab/pkg/strategy"
)

// Config describes a rolling (walk-forward) backtest
type Config struct {
	Symbols      []string
	Timeframe    string
	Start        time.Time
	End          time.Time
	WindowMonths int
	MinBars      int
	Backtest     backtester.Config
}

// DefaultConfig returns 3-month windows needing at least 90 bars
func DefaultConfig() Config {
	return Config{
		Timeframe:    "1d",
		WindowMonths: 3,
		MinBars:      90,
		Backtest:     backtester.DefaultConfig(),
	}
}

// Window is a half-open interval [Start, End)
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowResult is the outcome of one window's backtest
type WindowResult struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Bars       int       `json:"bars"`
	Trades     int       `json:"trades"`
	FinalValue float64   `json:"final_value"`
	ReturnPct  float64   `json:"return_pct"`
}

// Runner runs a fresh strategy over consecutive non-overlapping windows
type Runner struct {
	provider feed.HistoricalDataProvider
	factory  strategy.Factory
	config   Config
	logger   zerolog.Logger
}

// NewRunner validates the configuration and creates a runner
func NewRunner(provider feed.HistoricalDataProvider, factory strategy.Factory, config Config) (*Runner, error) {
	if len(config.Symbols) == 0 {
		return nil, fmt.Errorf("rolling backtest needs at least one symbol")
	}
	if config.WindowMonths < 1 {
		return nil, fmt.Errorf("window length must be at least one month, got %d", config.WindowMonths)
	}
	if !config.End.After(config.Start) {
		return nil, fmt.Errorf("end %s must be after start %s", config.End.Format("2006-01-02"), config.Start.Format("2006-01-02"))
	}
	if config.MinBars < 0 {
		return nil, fmt.Errorf("minimum bars must be non-negative, got %d", config.MinBars)
	}
	if config.Backtest.InitialCapital <= 0 {
		return nil, fmt.Errorf("initial capital must be positive, got %f", config.Backtest.InitialCapital)
	}

	return &Runner{
		provider: provider,
		factory:  factory,
		config:   config,
		logger:   logging.GetLogger("rolling"),
	}, nil
}

// Windows lists the windows that fit entirely inside [Start, End]
func (r *Runner) Windows() []Window {
	var windows []Window
	current := r.config.Start
	for {
		end := current.AddDate(0, r.config.WindowMonths, 0)
		if end.After(r.config.End) {
			break
		}
		windows = append(windows, Window{Start: current, End: end})
		current = end
	}
	return windows
}

// Run backtests each window in order. Windows without enough data are skipped.
func (r *Runner) Run(ctx context.Context) ([]WindowResult, error) {
	results := make([]WindowResult, 0)

	for _, window := range r.Windows() {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("rolling backtest interrupted: %w", err)
		}

		logger := r.logger.With().
			Str("start", window.Start.Format("2006-01-02")).
			Str("end", window.End.Format("2006-01-02")).
			Logger()

		result, err := r.runWindow(ctx, window)
		if errors.Is(err, errNotEnoughData) {
			logger.Warn().Err(err).Msg("Skipping window")
			continue
		}
		if err != nil {
			return results, fmt.Errorf("window %s: %w", window.Start.Format("2006-01-02"), err)
		}

		logger.Info().
			Float64("return_pct", result.ReturnPct).
			Float64("final_value", result.FinalValue).
			Int("trades", result.Trades).
			Msg("Window completed")
		results = append(results, result)
	}

	return results, nil
}

var errNotEnoughData = errors.New("not enough data")

func (r *Runner) runWindow(ctx context.Context, window Window) (WindowResult, error) {
	loaded := make([]strategy.BarData, 0)
	for _, symbol := range r.config.Symbols {
		bars, err := r.provider.GetBars(ctx, symbol, r.config.Timeframe, window.Start, window.End)
		if err != nil && !errors.Is(err, feed.ErrNoData) {
			return WindowResult{}, fmt.Errorf("failed to load %s: %w", symbol, err)
		}
		if len(bars) < r.config.MinBars || len(bars) == 0 {
			return WindowResult{}, fmt.Errorf("%w: %s has %d bars, need %d", errNotEnoughData, symbol, len(bars), r.config.MinBars)
		}
		loaded = append(loaded, bars...)
	}

	s, err := r.factory(r.config.Symbols)
	if err != nil {
		return WindowResult{}, fmt.Errorf("failed to create strategy: %w", err)
	}

	f := feed.NewHistoricalFeed(feed.NewSliceProvider(loaded), r.config.Symbols, r.config.Timeframe, window.Start, window.End)
	engine := backtester.NewEngine(s, f, r.config.Backtest)
	if err := engine.Run(ctx); err != nil {
		return WindowResult{}, err
	}

	res := engine.GetResults()
	return WindowResult{
		Start:      window.Start,
		End:        window.End,
		Bars:       res.Bars,
		Trades:     len(res.Trades),
		FinalValue: res.FinalCapital,
		ReturnPct:  res.TotalReturn,
	}, nil
}
