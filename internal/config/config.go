package config

// Run configuration for the backtester.
//
// Values are layered: defaults, then the YAML file (if any), then the
// environment. A .env file is loaded into the environment first.
//
// Example YAML:
//
//	strategy:
//	  filter:
//	    volatility_window: 20
//	    base_measurement_noise: 0.1
//	    measurement_noise_vol_scale: 1.0
//	    base_process_noise: 0.0001
//	    process_noise_vol_scale: 0.5
//	    initial_covariance_scale: 1.0
//	  volatility_kind: population
//	  sizer:
//	    percent: 95
//	    allow_fractional: true
//	  print_log: false
//	backtest:
//	  initial_capital: 100000
//	  commission: {type: percentage, rate: 0.001}
//	  allow_short: true
//	rolling:
//	  window_months: 3
//	  min_bars: 90
//	  histogram_bins: 10
//	logging:
//	  level: info
//	  pretty: true

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ridopark/quantlab/pkg/backtester"
	"github.com/ridopark/quantlab/pkg/indicators"
	"github.com/ridopark/quantlab/pkg/logging"
	"github.com/ridopark/quantlab/pkg/strategy/examples"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Config is the full run configuration
type Config struct {
	Strategy examples.AdaptiveKalmanConfig `yaml:"strategy"`
	Backtest backtester.Config             `yaml:"backtest"`
	Rolling  RollingConfig                 `yaml:"rolling"`
	Logging  logging.Config                `yaml:"logging"`
	Database DatabaseConfig                `yaml:"database"`
}

// RollingConfig holds walk-forward settings
type RollingConfig struct {
	WindowMonths  int `yaml:"window_months"`
	MinBars       int `yaml:"min_bars"`
	HistogramBins int `yaml:"histogram_bins"`
}

// DatabaseConfig holds the TimescaleDB connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConnString renders a lib/pq keyword/value connection string
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// Default returns the research defaults
func Default() Config {
	return Config{
		Strategy: examples.DefaultAdaptiveKalmanConfig(),
		Backtest: backtester.DefaultConfig(),
		Rolling: RollingConfig{
			WindowMonths:  3,
			MinBars:       90,
			HistogramBins: 10,
		},
		Logging: logging.DefaultConfig(),
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    "5432",
			User:    "postgres",
			Name:    "trading_data",
			SSLMode: "disable",
		},
	}
}

// LoadDotEnv loads .env files into the process environment. Variables that
// are already set win.
func LoadDotEnv(filenames ...string) error {
	return godotenv.Load(filenames...)
}

// Load reads the YAML file at path over the defaults, applies the environment
// and validates. An empty path skips the file.
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	c.ApplyEnv()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ApplyEnv overrides settings from environment variables
func (c *Config) ApplyEnv() {
	c.Logging.Level = logging.LogLevel(getEnv("LOG_LEVEL", string(c.Logging.Level)))
	c.Logging.Pretty = getEnvBool("LOG_PRETTY", c.Logging.Pretty)
	c.Logging.EnableFile = getEnvBool("LOG_TO_FILE", c.Logging.EnableFile)
	c.Logging.LogDir = getEnv("LOG_DIR", c.Logging.LogDir)
	c.Logging.LogFileName = getEnv("LOG_FILE", c.Logging.LogFileName)
	c.Logging.MaxSizeMB = getEnvInt("LOG_MAX_SIZE_MB", c.Logging.MaxSizeMB)

	c.Database.Host = getEnv("POSTGRES_HOST", c.Database.Host)
	c.Database.Port = getEnv("POSTGRES_PORT", c.Database.Port)
	c.Database.User = getEnv("POSTGRES_USER", c.Database.User)
	c.Database.Password = getEnv("POSTGRES_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("POSTGRES_DB", c.Database.Name)
	c.Database.SSLMode = getEnv("POSTGRES_SSLMODE", c.Database.SSLMode)

	if c.Backtest.Commission == nil {
		c.Backtest.Commission = backtester.DefaultCommissionConfig()
	}
	c.Backtest.Commission.Type = backtester.CommissionType(getEnv("COMMISSION_TYPE", string(c.Backtest.Commission.Type)))
	c.Backtest.Commission.Rate = getEnvFloat("COMMISSION_RATE", c.Backtest.Commission.Rate)
	c.Backtest.SlippageRate = getEnvFloat("SLIPPAGE_RATE", c.Backtest.SlippageRate)
	c.Backtest.MaxSlippage = getEnvFloat("MAX_SLIPPAGE", c.Backtest.MaxSlippage)

	c.Rolling.WindowMonths = getEnvInt("ROLLING_WINDOW_MONTHS", c.Rolling.WindowMonths)
	c.Rolling.MinBars = getEnvInt("ROLLING_MIN_BARS", c.Rolling.MinBars)
}

// Validate checks every section and fills harmless blanks
func (c *Config) Validate() error {
	if err := c.Strategy.Filter.Validate(); err != nil {
		return fmt.Errorf("%w: strategy.filter: %v", ErrInvalid, err)
	}
	switch c.Strategy.VolatilityKind {
	case "":
		c.Strategy.VolatilityKind = indicators.StdDevPopulation
	case indicators.StdDevPopulation, indicators.StdDevSample:
	default:
		return fmt.Errorf("%w: strategy.volatility_kind %q (allowed: population|sample)", ErrInvalid, c.Strategy.VolatilityKind)
	}
	if c.Strategy.Sizer.Percent <= 0 || c.Strategy.Sizer.Percent > 100 {
		return fmt.Errorf("%w: strategy.sizer.percent must be in (0, 100], got %v", ErrInvalid, c.Strategy.Sizer.Percent)
	}

	if c.Backtest.InitialCapital <= 0 {
		return fmt.Errorf("%w: backtest.initial_capital must be positive", ErrInvalid)
	}
	if c.Backtest.Commission == nil {
		c.Backtest.Commission = backtester.DefaultCommissionConfig()
	}
	if c.Backtest.Commission.Type == "" {
		c.Backtest.Commission.Type = backtester.CommissionPercentage
	}
	if _, err := backtester.NewCommissionConfig(string(c.Backtest.Commission.Type), c.Backtest.Commission.Rate); err != nil {
		return fmt.Errorf("%w: backtest.commission: %v", ErrInvalid, err)
	}
	if c.Backtest.SlippageRate < 0 || c.Backtest.MaxSlippage < 0 {
		return fmt.Errorf("%w: backtest slippage must be non-negative", ErrInvalid)
	}

	if c.Rolling.WindowMonths < 1 {
		return fmt.Errorf("%w: rolling.window_months must be at least 1", ErrInvalid)
	}
	if c.Rolling.MinBars < 0 {
		return fmt.Errorf("%w: rolling.min_bars must be non-negative", ErrInvalid)
	}
	if c.Rolling.HistogramBins < 1 {
		c.Rolling.HistogramBins = 10
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
