package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ridopark/quantlab/internal/config"
	"github.com/ridopark/quantlab/internal/data"
	"github.com/ridopark/quantlab/pkg/backtester"
	"github.com/ridopark/quantlab/pkg/feed"
	"github.com/ridopark/quantlab/pkg/logging"
	"github.com/ridopark/quantlab/pkg/rolling"
	"github.com/ridopark/quantlab/pkg/strategy"
	"github.com/ridopark/quantlab/pkg/strategy/examples"
)

func main() {
	// Load environment variables from .env file
	envErr := config.LoadDotEnv()

	// Command line flags
	var (
		symbolsFlag    = flag.String("symbols", "SPY", "Symbols to backtest (comma-separated, e.g., SPY,QQQ)")
		strategyFlag   = flag.String("strategy", "adaptive_kalman", "Strategy to use (adaptive_kalman, buy_and_hold)")
		startDate      = flag.String("start", "2018-01-01", "Start date (YYYY-MM-DD)")
		endDate        = flag.String("end", "2023-12-31", "End date (YYYY-MM-DD)")
		initialCapital = flag.Float64("capital", 100000.0, "Initial capital")
		timeframe      = flag.String("timeframe", "1d", "Timeframe (1m, 5m, 15m, 1h, 1d)")
		mode           = flag.String("mode", "single", "Run mode: single or rolling")
		windowMonths   = flag.Int("window-months", 3, "Rolling window length in months")
		minBars        = flag.Int("min-bars", 90, "Skip rolling windows with fewer bars")
		source         = flag.String("source", "postgres", "Data source: postgres or csv")
		csvDir         = flag.String("csv-dir", "data", "Directory holding <SYMBOL>.csv files")
		configPath     = flag.String("config", "", "YAML run configuration")
		outputPath     = flag.String("output", "", "Write results as JSON to this file")
		seriesPath     = flag.String("series", "", "Write the first symbol's filter estimates as CSV (adaptive_kalman, single mode)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags given on the command line win over the file and environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "capital":
			cfg.Backtest.InitialCapital = *initialCapital
		case "window-months":
			cfg.Rolling.WindowMonths = *windowMonths
		case "min-bars":
			cfg.Rolling.MinBars = *minBars
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logCloser := logging.Initialize(cfg.Logging)
	defer logCloser.Close()

	logger := logging.GetLogger("main")

	// Log environment loading status
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("Could not load .env file, using system environment variables")
	} else {
		logger.Debug().Msg("Successfully loaded .env file")
	}

	logger.Info().Msg("Quantlab Backtester")
	logger.Info().Msg("===================")

	start, err := time.Parse("2006-01-02", *startDate)
	if err != nil {
		logger.Fatal().Err(err).Str("start_date", *startDate).Msg("Invalid start date")
	}

	end, err := time.Parse("2006-01-02", *endDate)
	if err != nil {
		logger.Fatal().Err(err).Str("end_date", *endDate).Msg("Invalid end date")
	}
	end = end.AddDate(0, 0, 1) // include the whole end date

	symbols := parseSymbols(*symbolsFlag)
	if len(symbols) == 0 {
		logger.Fatal().Msg("No symbols given")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, closeProvider, err := openProvider(ctx, logger, cfg, *source, *csvDir, *timeframe)
	if err != nil {
		logger.Fatal().Err(err).Str("source", *source).Msg("Failed to create data provider")
	}
	defer closeProvider()

	var factory strategy.Factory
	switch *strategyFlag {
	case "adaptive_kalman":
		factory = examples.NewAdaptiveKalmanFactory(cfg.Strategy)
	case "buy_and_hold":
		factory = examples.NewBuyAndHoldFactory(cfg.Strategy.Sizer)
	default:
		logger.Fatal().Str("strategy", *strategyFlag).Msg("Unknown strategy. Available strategies: adaptive_kalman, buy_and_hold")
	}

	logger.Info().
		Strs("symbols", symbols).
		Str("start_date", *startDate).
		Str("end_date", *endDate).
		Str("strategy", *strategyFlag).
		Str("mode", *mode).
		Float64("initial_capital", cfg.Backtest.InitialCapital).
		Str("commission_type", string(cfg.Backtest.Commission.Type)).
		Float64("commission_rate", cfg.Backtest.Commission.Rate).
		Float64("slippage_rate", cfg.Backtest.SlippageRate).
		Msg("Running backtest")

	switch *mode {
	case "single":
		err = runSingle(ctx, logger, provider, factory, cfg, symbols, *timeframe, start, end, *outputPath, *seriesPath)
	case "rolling":
		err = runRolling(ctx, logger, provider, factory, cfg, symbols, *timeframe, start, end, *outputPath)
	default:
		logger.Fatal().Str("mode", *mode).Msg("Unknown mode. Available modes: single, rolling")
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("Backtest failed")
	}
}

func runSingle(ctx context.Context, logger zerolog.Logger, provider feed.HistoricalDataProvider, factory strategy.Factory,
	cfg *config.Config, symbols []string, timeframe string, start, end time.Time, outputPath, seriesPath string) error {

	s, err := factory(symbols)
	if err != nil {
		return fmt.Errorf("failed to create strategy: %w", err)
	}

	dataFeed := feed.NewHistoricalFeed(provider, symbols, timeframe, start, end)
	engine := backtester.NewEngine(s, dataFeed, cfg.Backtest)
	if err := engine.Run(ctx); err != nil {
		return err
	}

	results := engine.GetResults()
	logger.Info().Msg("\n" + results.Summary())

	if outputPath != "" {
		if err := writeFile(outputPath, func(f *os.File) error { return results.WriteJSON(f) }); err != nil {
			return err
		}
		logger.Info().Str("path", outputPath).Msg("Results written")
	}

	if seriesPath != "" {
		kalmanStrategy, ok := s.(*examples.AdaptiveKalmanStrategy)
		if !ok {
			logger.Warn().Str("strategy", s.GetName()).Msg("Strategy records no filter series, skipping export")
			return nil
		}
		if err := writeFile(seriesPath, func(f *os.File) error { return kalmanStrategy.WriteSeriesCSV(f, symbols[0]) }); err != nil {
			return err
		}
		logger.Info().Str("path", seriesPath).Str("symbol", symbols[0]).Msg("Filter series written")
	}
	return nil
}

func runRolling(ctx context.Context, logger zerolog.Logger, provider feed.HistoricalDataProvider, factory strategy.Factory,
	cfg *config.Config, symbols []string, timeframe string, start, end time.Time, outputPath string) error {

	rollingConfig := rolling.Config{
		Symbols:      symbols,
		Timeframe:    timeframe,
		Start:        start,
		End:          end,
		WindowMonths: cfg.Rolling.WindowMonths,
		MinBars:      cfg.Rolling.MinBars,
		Backtest:     cfg.Backtest,
	}

	runner, err := rolling.NewRunner(provider, factory, rollingConfig)
	if err != nil {
		return err
	}

	results, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return fmt.Errorf("no window had at least %d bars: %w", cfg.Rolling.MinBars, feed.ErrNoData)
	}

	stats := rolling.Summarize(results)
	logger.Info().Msg("\n" + stats.String())
	logger.Info().Msg("\n" + rolling.Histogram(results, cfg.Rolling.HistogramBins))

	if outputPath != "" {
		report := struct {
			Windows []rolling.WindowResult `json:"windows"`
			Stats   rolling.Stats          `json:"stats"`
		}{results, stats}

		if err := writeFile(outputPath, func(f *os.File) error {
			enc := json.NewEncoder(f)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}); err != nil {
			return err
		}
		logger.Info().Str("path", outputPath).Msg("Rolling results written")
	}
	return nil
}

func openProvider(ctx context.Context, logger zerolog.Logger, cfg *config.Config, source, csvDir, timeframe string) (feed.HistoricalDataProvider, func(), error) {
	switch source {
	case "postgres":
		logger.Debug().
			Str("db_host", cfg.Database.Host).
			Str("db_port", cfg.Database.Port).
			Str("db_user", cfg.Database.User).
			Str("db_name", cfg.Database.Name).
			Msg("Database configuration loaded")

		logger.Info().Msg("Connecting to database...")
		provider, err := data.NewTimescaleDBProvider(ctx, cfg.Database.ConnString())
		if err != nil {
			return nil, nil, err
		}
		return provider, func() {
			if err := provider.Close(); err != nil {
				logger.Warn().Err(err).Msg("Failed to close database connection")
			}
		}, nil
	case "csv":
		provider, err := data.NewCSVProvider(csvDir, timeframe)
		if err != nil {
			return nil, nil, err
		}
		return provider, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown data source %q (available: postgres, csv)", source)
	}
}

func parseSymbols(input string) []string {
	symbols := make([]string, 0)
	for _, symbol := range strings.Split(input, ",") {
		if symbol = strings.TrimSpace(symbol); symbol != "" {
			symbols = append(symbols, symbol)
		}
	}
	return symbols
}

func writeFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
