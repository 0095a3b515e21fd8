package backtester

import "fmt"

// CommissionType selects how commissions are charged
type CommissionType string

const (
	CommissionPercentage CommissionType = "percentage" // Rate is a fraction of trade value
	CommissionFixed      CommissionType = "fixed"      // Rate is a flat fee per trade
	CommissionPerShare   CommissionType = "per_share"  // Rate is charged per unit traded
)

// CommissionConfig describes the broker's fee schedule
type CommissionConfig struct {
	Type    CommissionType `yaml:"type"`
	Rate    float64        `yaml:"rate"`
	Minimum float64        `yaml:"minimum"`
}

// DefaultCommissionConfig charges 0.1% of trade value
func DefaultCommissionConfig() *CommissionConfig {
	return &CommissionConfig{
		Type: CommissionPercentage,
		Rate: 0.001,
	}
}

// NewCommissionConfig validates and builds a fee schedule
func NewCommissionConfig(commissionType string, rate float64) (*CommissionConfig, error) {
	cfg := &CommissionConfig{Type: CommissionType(commissionType), Rate: rate}
	switch cfg.Type {
	case CommissionPercentage, CommissionFixed, CommissionPerShare:
	default:
		return nil, fmt.Errorf("unsupported commission type: %s", commissionType)
	}
	if rate < 0 {
		return nil, fmt.Errorf("commission rate must be non-negative, got %f", rate)
	}
	return cfg, nil
}

// CalculateCommission returns the fee for a fill of quantity units worth tradeValue
func (c *CommissionConfig) CalculateCommission(quantity, tradeValue float64) float64 {
	if c == nil {
		return 0
	}

	var fee float64
	switch c.Type {
	case CommissionFixed:
		fee = c.Rate
	case CommissionPerShare:
		fee = quantity * c.Rate
	default:
		fee = tradeValue * c.Rate
	}

	if fee < c.Minimum {
		fee = c.Minimum
	}
	return fee
}
