package backtester

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/ridopark/quantlab/pkg/strategy"
)

// Results contains the results of a backtest
type Results struct {
	StrategyName   string                `json:"strategy_name"`
	StartDate      time.Time             `json:"start_date"`
	EndDate        time.Time             `json:"end_date"`
	Bars           int                   `json:"bars"`
	InitialCapital float64               `json:"initial_capital"`
	FinalCapital   float64               `json:"final_capital"`
	TotalReturn    float64               `json:"total_return"`
	TotalPL        float64               `json:"total_pl"`
	MaxDrawdown    float64               `json:"max_drawdown"`
	Trades         []strategy.TradeEvent `json:"trades"`
	EquityCurve    []EquityPoint         `json:"equity_curve"`
	Portfolio      *strategy.Portfolio   `json:"portfolio"`

	// Performance Metrics
	Metrics *PerformanceMetrics `json:"metrics"`
}

// PerformanceMetrics contains detailed performance analysis
type PerformanceMetrics struct {
	TotalTrades       int     `json:"total_trades"`
	ClosedTrades      int     `json:"closed_trades"`
	WinningTrades     int     `json:"winning_trades"`
	LosingTrades      int     `json:"losing_trades"`
	WinRate           float64 `json:"win_rate"`
	AvgWin            float64 `json:"avg_win"`
	AvgLoss           float64 `json:"avg_loss"`
	LargestWin        float64 `json:"largest_win"`
	LargestLoss       float64 `json:"largest_loss"`
	ProfitFactor      float64 `json:"profit_factor"`
	TotalFees         float64 `json:"total_fees"`
	SharpeRatio       float64 `json:"sharpe_ratio"`
	SortinoRatio      float64 `json:"sortino_ratio"`
	MaxDrawdown       float64 `json:"max_drawdown"`
	MaxDrawdownPct    float64 `json:"max_drawdown_pct"`
	CalmarRatio       float64 `json:"calmar_ratio"`
	VaR95             float64 `json:"var_95"`
	ExpectedShortfall float64 `json:"expected_shortfall"`
}

// CalculateMetrics calculates performance metrics for the results
func (r *Results) CalculateMetrics() {
	r.Metrics = &PerformanceMetrics{
		TotalTrades:    len(r.Trades),
		MaxDrawdown:    r.MaxDrawdown,
		MaxDrawdownPct: r.MaxDrawdown * 100,
	}

	var totalWins, totalLosses float64

	// Each closing fill is one round trip, net of its own fees
	for _, trade := range r.Trades {
		fees := trade.Commission + trade.Slippage
		r.Metrics.TotalFees += fees
		if !trade.Closing {
			continue
		}

		r.Metrics.ClosedTrades++
		pl := trade.RealizedPL - fees

		if pl > 0 {
			r.Metrics.WinningTrades++
			totalWins += pl
			r.Metrics.LargestWin = math.Max(r.Metrics.LargestWin, pl)
		} else if pl < 0 {
			r.Metrics.LosingTrades++
			totalLosses += pl
			r.Metrics.LargestLoss = math.Min(r.Metrics.LargestLoss, pl)
		}
	}

	if r.Metrics.ClosedTrades > 0 {
		r.Metrics.WinRate = float64(r.Metrics.WinningTrades) / float64(r.Metrics.ClosedTrades) * 100
	}
	if r.Metrics.WinningTrades > 0 {
		r.Metrics.AvgWin = totalWins / float64(r.Metrics.WinningTrades)
	}
	if r.Metrics.LosingTrades > 0 {
		r.Metrics.AvgLoss = totalLosses / float64(r.Metrics.LosingTrades)
	}
	if totalLosses != 0 {
		r.Metrics.ProfitFactor = totalWins / (-totalLosses)
	}

	// Calmar Ratio (total return over max drawdown, not annualized)
	if r.MaxDrawdown > 0 {
		r.Metrics.CalmarRatio = r.TotalReturn / (r.MaxDrawdown * 100)
	}

	returns := r.periodReturns()
	if len(returns) > 1 {
		r.Metrics.SharpeRatio = calculateSharpeRatio(returns)
		r.Metrics.SortinoRatio = calculateSortinoRatio(returns)
		r.Metrics.VaR95, r.Metrics.ExpectedShortfall = calculateTailRisk(returns, 0.05)
	}
}

func (r *Results) periodReturns() []float64 {
	if len(r.EquityCurve) < 2 {
		return nil
	}

	returns := make([]float64, 0, len(r.EquityCurve)-1)
	for i := 1; i < len(r.EquityCurve); i++ {
		prev := r.EquityCurve[i-1].Value
		if prev <= 0 {
			continue
		}
		returns = append(returns, (r.EquityCurve[i].Value-prev)/prev)
	}
	return returns
}

// calculateSharpeRatio calculates the per-period Sharpe ratio (risk-free rate of 0)
func calculateSharpeRatio(returns []float64) float64 {
	mean, stdDev := stat.MeanStdDev(returns, nil)
	if stdDev <= 0 || math.IsNaN(stdDev) {
		return 0
	}
	return mean / stdDev
}

// calculateSortinoRatio calculates the per-period Sortino ratio
func calculateSortinoRatio(returns []float64) float64 {
	mean := stat.Mean(returns, nil)

	sumDownside := 0.0
	for _, ret := range returns {
		if ret < 0 {
			sumDownside += ret * ret
		}
	}

	downsideDeviation := math.Sqrt(sumDownside / float64(len(returns)))
	if downsideDeviation <= 0 {
		return 0 // No downside
	}
	return mean / downsideDeviation
}

// calculateTailRisk returns historical VaR and expected shortfall at level alpha,
// both reported as positive losses
func calculateTailRisk(returns []float64, alpha float64) (float64, float64) {
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	q := stat.Quantile(alpha, stat.Empirical, sorted, nil)

	sum, n := 0.0, 0
	for _, ret := range sorted {
		if ret > q {
			break
		}
		sum += ret
		n++
	}

	es := q
	if n > 0 {
		es = sum / float64(n)
	}
	return math.Max(0, -q), math.Max(0, -es)
}

// WriteJSON writes the full results, including trades and equity curve
func (r *Results) WriteJSON(w io.Writer) error {
	if r.Metrics == nil {
		r.CalculateMetrics()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return nil
}

// Summary returns a human-readable summary of the results
func (r *Results) Summary() string {
	if r.Metrics == nil {
		r.CalculateMetrics()
	}

	summary := fmt.Sprintf(`
Backtest Results for %s
=======================
Period: %s to %s (%d bars)
Initial Capital: $%.2f
Final Capital: $%.2f
Total Return: %.2f%%
Total P&L: $%.2f
Max Drawdown: %.2f%%

Trade Statistics:
- Total Fills: %d
- Closed Trades: %d
- Winning Trades: %d (%.1f%%)
- Losing Trades: %d
- Average Win: $%.2f
- Average Loss: $%.2f
- Largest Win: $%.2f
- Largest Loss: $%.2f
- Profit Factor: %.2f
- Fees Paid: $%.2f

Risk Metrics:
- Sharpe Ratio: %.2f
- Sortino Ratio: %.2f
- Calmar Ratio: %.2f
- VaR 95%%: %.2f%%
- Expected Shortfall: %.2f%%
`,
		r.StrategyName,
		r.StartDate.Format("2006-01-02"),
		r.EndDate.Format("2006-01-02"),
		r.Bars,
		r.InitialCapital,
		r.FinalCapital,
		r.TotalReturn,
		r.TotalPL,
		r.Metrics.MaxDrawdownPct,
		r.Metrics.TotalTrades,
		r.Metrics.ClosedTrades,
		r.Metrics.WinningTrades,
		r.Metrics.WinRate,
		r.Metrics.LosingTrades,
		r.Metrics.AvgWin,
		r.Metrics.AvgLoss,
		r.Metrics.LargestWin,
		r.Metrics.LargestLoss,
		r.Metrics.ProfitFactor,
		r.Metrics.TotalFees,
		r.Metrics.SharpeRatio,
		r.Metrics.SortinoRatio,
		r.Metrics.CalmarRatio,
		r.Metrics.VaR95*100,
		r.Metrics.ExpectedShortfall*100,
	)

	return summary
}
