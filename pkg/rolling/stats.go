package rolling

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarizes the per-window returns of a rolling backtest.
// StdDev is the population standard deviation.
type Stats struct {
	Windows int
	Mean    float64
	Median  float64
	StdDev  float64
	Min     float64
	Max     float64
	Sharpe  float64
}

// MarshalJSON writes undefined values (NaN) as null
func (s Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"windows":           s.Windows,
		"mean_return_pct":   jsonFloat(s.Mean),
		"median_return_pct": jsonFloat(s.Median),
		"std_return_pct":    jsonFloat(s.StdDev),
		"min_return_pct":    jsonFloat(s.Min),
		"max_return_pct":    jsonFloat(s.Max),
		"sharpe":            jsonFloat(s.Sharpe),
	})
}

func jsonFloat(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// Returns extracts the window returns in percent
func Returns(results []WindowResult) []float64 {
	returns := make([]float64, len(results))
	for i, r := range results {
		returns[i] = r.ReturnPct
	}
	return returns
}

// Summarize computes summary statistics. Sharpe is mean over standard
// deviation and is NaN when every window returned the same.
func Summarize(results []WindowResult) Stats {
	if len(results) == 0 {
		nan := math.NaN()
		return Stats{Mean: nan, Median: nan, StdDev: nan, Min: nan, Max: nan, Sharpe: nan}
	}

	returns := Returns(results)
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	mean := stat.Mean(returns, nil)
	std := math.Sqrt(math.Max(stat.PopVariance(returns, nil), 0))

	sharpe := math.NaN()
	if std > 0 {
		sharpe = mean / std
	}

	return Stats{
		Windows: len(results),
		Mean:    mean,
		Median:  median(sorted),
		StdDev:  std,
		Min:     floats.Min(returns),
		Max:     floats.Max(returns),
		Sharpe:  sharpe,
	}
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func (s Stats) String() string {
	var sb strings.Builder
	sb.WriteString("=== ROLLING BACKTEST STATISTICS ===\n")
	sb.WriteString(fmt.Sprintf("Windows:        %d\n", s.Windows))
	sb.WriteString(fmt.Sprintf("Mean Return:    %.2f%%\n", s.Mean))
	sb.WriteString(fmt.Sprintf("Median Return:  %.2f%%\n", s.Median))
	sb.WriteString(fmt.Sprintf("Std Dev:        %.2f%%\n", s.StdDev))
	sb.WriteString(fmt.Sprintf("Min Return:     %.2f%%\n", s.Min))
	sb.WriteString(fmt.Sprintf("Max Return:     %.2f%%\n", s.Max))
	sb.WriteString(fmt.Sprintf("Sharpe Ratio:   %.2f\n", s.Sharpe))
	return sb.String()
}

// Bin is one bucket of a return histogram covering [Low, High)
type Bin struct {
	Low   float64
	High  float64
	Count int
}

// HistogramBins buckets the window returns into equal-width bins spanning
// the observed range. All returns land in a single bin when they are equal.
func HistogramBins(results []WindowResult, bins int) []Bin {
	if len(results) == 0 || bins < 1 {
		return nil
	}

	sorted := Returns(results)
	sort.Float64s(sorted)
	lo, hi := sorted[0], sorted[len(sorted)-1]
	if lo == hi {
		return []Bin{{Low: lo, High: hi, Count: len(sorted)}}
	}

	dividers := floats.Span(make([]float64, bins+1), lo, hi)
	// stat.Histogram needs the largest value strictly below the last divider.
	dividers[bins] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, dividers, sorted, nil)

	out := make([]Bin, bins)
	for i := range out {
		out[i] = Bin{Low: dividers[i], High: dividers[i+1], Count: int(counts[i])}
	}
	return out
}

// Histogram renders the return distribution as text, one row per bin
func Histogram(results []WindowResult, bins int) string {
	buckets := HistogramBins(results, bins)
	if len(buckets) == 0 {
		return "no windows\n"
	}

	peak := 0
	for _, b := range buckets {
		if b.Count > peak {
			peak = b.Count
		}
	}

	const width = 40
	var sb strings.Builder
	sb.WriteString("Distribution of Returns (%)\n")
	for _, b := range buckets {
		bar := 0
		if peak > 0 {
			bar = b.Count * width / peak
		}
		sb.WriteString(fmt.Sprintf("%8.2f .. %8.2f | %-*s %d\n", b.Low, b.High, width, strings.Repeat("#", bar), b.Count))
	}
	return sb.String()
}
