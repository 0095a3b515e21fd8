package strategy

import (
	"math"
)

// PercentSizer sizes new positions as a share of available cash
type PercentSizer struct {
	Percent         float64 `yaml:"percent"`          // 0-100
	AllowFractional bool    `yaml:"allow_fractional"` // Whether to allow fractional units
}

// DefaultPercentSizer commits 95% of cash, fractional units allowed
func DefaultPercentSizer() PercentSizer {
	return PercentSizer{
		Percent:         95,
		AllowFractional: true,
	}
}

// Size returns the quantity to open at price with the given cash.
// It returns 0 when nothing can be bought.
func (ps PercentSizer) Size(cash, price float64) float64 {
	if cash <= 0 || price <= 0 || ps.Percent <= 0 {
		return 0
	}

	quantity := cash * ps.Percent / 100 / price
	if !ps.AllowFractional {
		quantity = math.Floor(quantity)
	}
	if quantity <= 0 || math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		return 0
	}
	return quantity
}
