package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/ridopark/quantlab/internal/config"
	"github.com/ridopark/quantlab/internal/data"
	"github.com/ridopark/quantlab/pkg/indicators"
	"github.com/ridopark/quantlab/pkg/kalman"
)

// Prints the volatility feed and filter estimate for every bar of a price
// series, either from a CSV file or a built-in up/down trend.
func main() {
	var (
		csvPath    = flag.String("csv", "", "OHLCV csv file (default: built-in trend series)")
		configPath = flag.String("config", "", "YAML run configuration for the filter parameters")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	prices := trendPrices()
	if *csvPath != "" {
		f, err := os.Open(*csvPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", *csvPath, err)
			os.Exit(1)
		}
		bars, err := data.ReadBarsCSV(f, "TRACE", "")
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", *csvPath, err)
			os.Exit(1)
		}
		prices = make([]float64, len(bars))
		for i, bar := range bars {
			prices[i] = bar.Close
		}
	}

	filterConfig := cfg.Strategy.Filter
	filter, err := kalman.New(filterConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid filter configuration: %v\n", err)
		os.Exit(1)
	}
	volatility, err := indicators.NewVolatility(filterConfig.VolatilityWindow, cfg.Strategy.VolatilityKind)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid volatility configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Filter: %+v\n", filterConfig)
	fmt.Printf("Volatility: %s std dev of log returns\n\n", cfg.Strategy.VolatilityKind)
	fmt.Printf("%5s %10s %10s %10s %10s %10s %10s %6s\n", "bar", "close", "vol", "level", "velocity", "R", "Q_level", "signal")

	flips := 0
	last := kalman.SignalNone
	for i, price := range prices {
		vol := volatility.Update(price)
		est := filter.Observe(price, vol)

		if !est.Ready {
			fmt.Printf("%5d %10.4f %10s %10s\n", i+1, price, formatMissing(vol), "warming up")
			continue
		}

		signal := est.Signal()
		if last != kalman.SignalNone && signal != kalman.SignalNone && signal != last {
			flips++
		}
		if signal != kalman.SignalNone {
			last = signal
		}

		fmt.Printf("%5d %10.4f %10s %10.4f %10.4f %10.6f %10.2e %6s\n",
			i+1, price, formatMissing(vol), est.Level, est.Velocity, est.MeasurementNoise, est.ProcessNoiseLevel, signal)
	}

	fmt.Printf("\n%d bars, %d direction changes\n", len(prices), flips)
}

func formatMissing(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.6f", v)
}

// trendPrices rises by one for 30 bars, then falls by one for 30 bars
func trendPrices() []float64 {
	prices := make([]float64, 0, 60)
	for i := 0; i < 60; i++ {
		if i < 30 {
			prices = append(prices, 100+float64(i))
		} else {
			prices = append(prices, 129-float64(i-29))
		}
	}
	return prices
}
