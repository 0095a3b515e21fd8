package kalman

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// minVolatility floors the volatility input so the noise model stays positive
const minVolatility = 1e-8

// FilterState is a snapshot of the filter internals
type FilterState struct {
	Initialized      bool
	Level            float64
	Velocity         float64
	Covariance       *mat.SymDense
	ProcessNoise     *mat.DiagDense
	MeasurementNoise float64
}

// AdaptiveFilter tracks price level and velocity with a constant-velocity
// Kalman filter whose noise model follows realized volatility.
//
// An AdaptiveFilter is not safe for concurrent use. Separate instances share
// nothing and may run on separate goroutines.
type AdaptiveFilter struct {
	config Config

	level       float64
	velocity    float64
	covariance  *mat.Dense
	initialized bool

	// Noise used by the next predict step. Adapted after each predict.
	processNoise     *mat.DiagDense
	measurementNoise float64

	transition *mat.Dense
	identity   *mat.DiagDense
}

// New creates a filter in the uninitialized state
func New(config Config) (*AdaptiveFilter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	identity := mat.NewDiagDense(2, []float64{1, 1})
	covariance := mat.NewDense(2, 2, nil)
	covariance.Scale(config.InitialCovarianceScale, identity)

	return &AdaptiveFilter{
		config:           config,
		covariance:       covariance,
		processNoise:     mat.NewDiagDense(2, []float64{config.BaseProcessNoise, config.BaseProcessNoise}),
		measurementNoise: config.BaseMeasurementNoise,
		transition:       mat.NewDense(2, 2, []float64{1, 1, 0, 1}),
		identity:         identity,
	}, nil
}

// Config returns the parameters the filter was built with
func (f *AdaptiveFilter) Config() Config {
	return f.config
}

// Ready reports whether the warm-up has completed
func (f *AdaptiveFilter) Ready() bool {
	return f.initialized
}

// Observe feeds one price and the matching rolling volatility of log returns.
// Pass Missing (or any NaN) while the volatility window is still filling.
//
// The call that first sees a volatility value seeds the state and still
// returns a not-ready estimate. After that a missing volatility or a
// non-finite price yields a not-ready estimate and leaves the state untouched.
func (f *AdaptiveFilter) Observe(price, volatility float64) Estimate {
	volMissing := !isFinite(volatility)

	if !f.initialized {
		if !volMissing && isFinite(price) {
			f.reset(price)
		}
		return NotReady()
	}

	if volMissing || !isFinite(price) {
		return NotReady()
	}

	// Predict with the noise adapted on the previous cycle
	level := f.level + f.velocity
	velocity := f.velocity

	var predicted mat.Dense
	predicted.Product(f.transition, f.covariance, f.transition.T())
	predicted.Add(&predicted, f.processNoise)

	f.adaptNoise(volatility)

	// Update with H = [1 0]
	innovation := price - level
	s := predicted.At(0, 0) + f.measurementNoise
	k0 := predicted.At(0, 0) / s
	k1 := predicted.At(1, 0) / s

	f.level = level + k0*innovation
	f.velocity = velocity + k1*innovation

	var ikh mat.Dense
	ikh.Sub(f.identity, mat.NewDense(2, 2, []float64{k0, 0, k1, 0}))
	f.covariance.Mul(&ikh, &predicted)
	f.symmetrize()

	return Estimate{
		Ready:                true,
		Level:                f.level,
		Velocity:             f.velocity,
		MeasurementNoise:     f.measurementNoise,
		ProcessNoiseLevel:    f.processNoise.At(0, 0),
		ProcessNoiseVelocity: f.processNoise.At(1, 1),
	}
}

// State returns a copy of the current filter internals
func (f *AdaptiveFilter) State() FilterState {
	return FilterState{
		Initialized: f.initialized,
		Level:       f.level,
		Velocity:    f.velocity,
		Covariance: mat.NewSymDense(2, []float64{
			f.covariance.At(0, 0), f.covariance.At(0, 1),
			f.covariance.At(1, 0), f.covariance.At(1, 1),
		}),
		ProcessNoise:     mat.NewDiagDense(2, []float64{f.processNoise.At(0, 0), f.processNoise.At(1, 1)}),
		MeasurementNoise: f.measurementNoise,
	}
}

func (f *AdaptiveFilter) reset(price float64) {
	f.level = price
	f.velocity = 0
	f.covariance.Scale(f.config.InitialCovarianceScale, f.identity)
	f.initialized = true
}

func (f *AdaptiveFilter) adaptNoise(volatility float64) {
	v := math.Max(volatility, minVolatility)
	f.measurementNoise = f.config.BaseMeasurementNoise * (1 + f.config.MeasurementNoiseVolScale*v)

	q := f.config.BaseProcessNoise * (1 + f.config.ProcessNoiseVolScale*v*v)
	f.processNoise.SetDiag(0, q)
	f.processNoise.SetDiag(1, q)
}

// symmetrize removes the rounding asymmetry the (I - KH)P form accumulates
func (f *AdaptiveFilter) symmetrize() {
	off := (f.covariance.At(0, 1) + f.covariance.At(1, 0)) / 2
	f.covariance.Set(0, 1, off)
	f.covariance.Set(1, 0, off)
}
