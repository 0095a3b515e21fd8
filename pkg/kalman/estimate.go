package kalman

import "math"

// Missing marks a volatility sample that is not available yet
var Missing = math.NaN()

// Signal is the trading direction implied by the estimated velocity
type Signal int

const (
	SignalNone  Signal = 0
	SignalLong  Signal = 1
	SignalShort Signal = -1
)

func (s Signal) String() string {
	switch s {
	case SignalLong:
		return "LONG"
	case SignalShort:
		return "SHORT"
	default:
		return "NONE"
	}
}

// Estimate is the output of one Observe call. Only Ready estimates carry values.
type Estimate struct {
	Ready                bool
	Level                float64
	Velocity             float64
	MeasurementNoise     float64 // R
	ProcessNoiseLevel    float64 // Q[0][0]
	ProcessNoiseVelocity float64 // Q[1][1]
}

// NotReady is returned while the filter is warming up or the inputs are missing
func NotReady() Estimate {
	return Estimate{
		Level:                math.NaN(),
		Velocity:             math.NaN(),
		MeasurementNoise:     math.NaN(),
		ProcessNoiseLevel:    math.NaN(),
		ProcessNoiseVelocity: math.NaN(),
	}
}

// Signal maps the velocity sign to a trading direction
func (e Estimate) Signal() Signal {
	if !e.Ready {
		return SignalNone
	}
	switch {
	case e.Velocity > 0:
		return SignalLong
	case e.Velocity < 0:
		return SignalShort
	default:
		return SignalNone
	}
}
