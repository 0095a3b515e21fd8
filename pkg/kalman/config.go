package kalman

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is returned when a filter is constructed with unusable parameters
var ErrInvalidConfig = errors.New("invalid kalman filter configuration")

// Config holds the immutable parameters of an adaptive filter
type Config struct {
	// VolatilityWindow is the number of log returns the volatility feed is computed over
	VolatilityWindow int `yaml:"volatility_window" json:"volatility_window"`

	BaseMeasurementNoise     float64 `yaml:"base_measurement_noise" json:"base_measurement_noise"`
	MeasurementNoiseVolScale float64 `yaml:"measurement_noise_vol_scale" json:"measurement_noise_vol_scale"`
	BaseProcessNoise         float64 `yaml:"base_process_noise" json:"base_process_noise"`
	ProcessNoiseVolScale     float64 `yaml:"process_noise_vol_scale" json:"process_noise_vol_scale"`
	InitialCovarianceScale   float64 `yaml:"initial_covariance_scale" json:"initial_covariance_scale"`
}

// DefaultConfig returns the parameters the strategy was calibrated with
func DefaultConfig() Config {
	return Config{
		VolatilityWindow:         20,
		BaseMeasurementNoise:     0.1,
		MeasurementNoiseVolScale: 1.0,
		BaseProcessNoise:         1e-4,
		ProcessNoiseVolScale:     0.5,
		InitialCovarianceScale:   1.0,
	}
}

// Validate reports the first unusable parameter
func (c Config) Validate() error {
	if c.VolatilityWindow < 1 {
		return fmt.Errorf("%w: volatility window must be at least 1, got %d", ErrInvalidConfig, c.VolatilityWindow)
	}

	positive := []struct {
		name  string
		value float64
	}{
		{"base measurement noise", c.BaseMeasurementNoise},
		{"base process noise", c.BaseProcessNoise},
		{"initial covariance scale", c.InitialCovarianceScale},
	}
	for _, p := range positive {
		if !isFinite(p.value) || p.value <= 0 {
			return fmt.Errorf("%w: %s must be positive and finite, got %v", ErrInvalidConfig, p.name, p.value)
		}
	}

	nonNegative := []struct {
		name  string
		value float64
	}{
		{"measurement noise volatility scale", c.MeasurementNoiseVolScale},
		{"process noise volatility scale", c.ProcessNoiseVolScale},
	}
	for _, p := range nonNegative {
		if !isFinite(p.value) || p.value < 0 {
			return fmt.Errorf("%w: %s must be non-negative and finite, got %v", ErrInvalidConfig, p.name, p.value)
		}
	}

	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
