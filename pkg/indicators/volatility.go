package indicators

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/ridopark/quantlab/pkg/kalman"
)

// StdDevKind selects the standard deviation estimator
type StdDevKind string

const (
	// StdDevPopulation divides by n. This is what the default filter noise was calibrated with.
	StdDevPopulation StdDevKind = "population"

	// StdDevSample divides by n-1
	StdDevSample StdDevKind = "sample"
)

// LogReturns turns a price stream into one-period log returns
type LogReturns struct {
	prev    float64
	hasPrev bool
}

// Update returns log(price/prev). The first price, and any price following an
// unusable one, yields no return.
func (lr *LogReturns) Update(price float64) (float64, bool) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		lr.hasPrev = false
		return 0, false
	}

	if !lr.hasPrev {
		lr.prev = price
		lr.hasPrev = true
		return 0, false
	}

	ret := math.Log(price / lr.prev)
	lr.prev = price
	return ret, true
}

// RollingStdDev is the standard deviation over the last window samples
type RollingStdDev struct {
	window int
	kind   StdDevKind
	buf    []float64
	next   int
	full   bool
}

// NewRollingStdDev creates a rolling standard deviation over window samples
func NewRollingStdDev(window int, kind StdDevKind) (*RollingStdDev, error) {
	switch kind {
	case StdDevPopulation:
		if window < 1 {
			return nil, fmt.Errorf("population std dev window must be at least 1, got %d", window)
		}
	case StdDevSample:
		if window < 2 {
			return nil, fmt.Errorf("sample std dev window must be at least 2, got %d", window)
		}
	default:
		return nil, fmt.Errorf("unknown std dev kind %q", kind)
	}

	return &RollingStdDev{
		window: window,
		kind:   kind,
		buf:    make([]float64, window),
	}, nil
}

// Update adds a sample and returns the deviation once the window is full
func (r *RollingStdDev) Update(x float64) (float64, bool) {
	r.buf[r.next] = x
	r.next = (r.next + 1) % r.window
	if r.next == 0 {
		r.full = true
	}

	if !r.full {
		return 0, false
	}
	return r.Value(), true
}

// Value returns the deviation of the current window, NaN while filling
func (r *RollingStdDev) Value() float64 {
	if !r.full {
		return math.NaN()
	}
	variance := stat.PopVariance(r.buf, nil)
	if r.kind == StdDevSample {
		variance = stat.Variance(r.buf, nil)
	}
	// The compensated sum can dip just below zero for constant input
	return math.Sqrt(math.Max(variance, 0))
}

// Window returns the window length
func (r *RollingStdDev) Window() int {
	return r.window
}

// Volatility is the rolling standard deviation of one-period log returns.
// It is the input the adaptive filter expects alongside each price.
type Volatility struct {
	returns LogReturns
	stddev  *RollingStdDev
}

// NewVolatility creates a volatility feed over window log returns
func NewVolatility(window int, kind StdDevKind) (*Volatility, error) {
	stddev, err := NewRollingStdDev(window, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to create volatility indicator: %w", err)
	}
	return &Volatility{stddev: stddev}, nil
}

// Update consumes a price and returns the current volatility, or
// kalman.Missing until window returns have been seen
func (v *Volatility) Update(price float64) float64 {
	ret, ok := v.returns.Update(price)
	if !ok {
		return kalman.Missing
	}

	vol, ok := v.stddev.Update(ret)
	if !ok {
		return kalman.Missing
	}
	return vol
}
