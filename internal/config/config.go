package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrMissingParameter is returned when a required parameter is absent.
	// Required parameters have no defaults.
	ErrMissingParameter = errors.New("missing required parameter")
	// ErrInvalidParameter is returned when a parameter is present but unusable.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Rebalance frequencies.
const (
	Daily     = "daily"
	Weekly    = "weekly"
	Monthly   = "monthly"
	Quarterly = "quarterly"
	Yearly    = "yearly"
)

// Price data storage modes.
const (
	ModeRead = "read"
	ModeSave = "save"
	ModeLive = "live"
)

// Config holds all configuration for the application. It is loaded once and
// handed to constructors; nothing reads configuration globally.
type Config struct {
	Backtest Backtest `mapstructure:"backtest"`
	Strategy Strategy `mapstructure:"strategy"`
	Data     Data     `mapstructure:"data"`
	Binance  Binance  `mapstructure:"binance"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Backtest holds the configuration for the simulation itself.
type Backtest struct {
	InitialCapital float64 `mapstructure:"initial_capital"`
	CommissionRate float64 `mapstructure:"commission_rate"`
	SlippageRate   float64 `mapstructure:"slippage_rate"`
	RebalanceFreq  string  `mapstructure:"rebalance_freq"`
	CashBuffer     float64 `mapstructure:"cash_buffer"`
	DebugDir       string  `mapstructure:"debug_dir"`
	Parallelism    int     `mapstructure:"parallelism"`
	Persist        bool    `mapstructure:"persist"`
}

// Strategy holds the signal generator selection and its parameters.
type Strategy struct {
	Name           string             `mapstructure:"name"`
	ExecutionDelay int                `mapstructure:"execution_delay"`
	SignalFile     string             `mapstructure:"signal_file"`
	Weights        map[string]float64 `mapstructure:"weights"`
	Params         map[string]Param   `mapstructure:"params"`
}

// Data holds the configuration for the price feed.
type Data struct {
	Tickers     []string `mapstructure:"tickers"`
	Quote       string   `mapstructure:"quote"`
	StartDate   string   `mapstructure:"start_date"`
	EndDate     string   `mapstructure:"end_date"`
	Mode        string   `mapstructure:"mode"`
	CacheFile   string   `mapstructure:"cache_file"`
	ForwardFill bool     `mapstructure:"forward_fill"`
}

// Binance holds the configuration for the Binance market data API.
type Binance struct {
	BaseURL        string  `mapstructure:"base_url"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	Timeout        int     `mapstructure:"timeout"`
}

// Server holds the configuration for the results web server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string   `mapstructure:"level"`
	Format string   `mapstructure:"format"`
	Output []string `mapstructure:"output"`
}

var required = []string{
	"backtest.initial_capital",
	"backtest.commission_rate",
	"backtest.slippage_rate",
	"backtest.rebalance_freq",
	"strategy.name",
	"strategy.execution_delay",
	"data.tickers",
	"data.start_date",
}

// LoadConfig reads config.yml from path. Environment variables override
// file values, e.g. BACKTEST_INITIAL_CAPITAL.
func LoadConfig(path string) (Config, error) {
	var config Config
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// defaults only for optional settings
	v.SetDefault("backtest.cash_buffer", 0)
	v.SetDefault("backtest.parallelism", 4)
	v.SetDefault("data.mode", ModeRead)
	v.SetDefault("data.quote", "USDT")
	v.SetDefault("data.forward_fill", true)
	v.SetDefault("binance.base_url", "https://api.binance.com")
	v.SetDefault("binance.rate_limit", 20)      // requests per second
	v.SetDefault("binance.rate_limit_burst", 5) // burst size
	v.SetDefault("binance.timeout", 10)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.output", []string{"stderr"})
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.dsn", "backtest.db")

	if err := v.ReadInConfig(); err != nil {
		return config, fmt.Errorf("failed to read config: %w", err)
	}
	for _, key := range required {
		if !v.IsSet(key) {
			return config, fmt.Errorf("%w: %s", ErrMissingParameter, key)
		}
	}
	if err := v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// Validate checks values that must hold before any simulation date runs.
func (c Config) Validate() error {
	if err := c.Backtest.Validate(); err != nil {
		return err
	}
	if c.Strategy.Name == "" {
		return fmt.Errorf("%w: strategy.name", ErrMissingParameter)
	}
	if c.Strategy.ExecutionDelay < 0 {
		return invalid("strategy.execution_delay", "must not be negative")
	}
	if len(c.Data.Tickers) == 0 {
		return fmt.Errorf("%w: data.tickers", ErrMissingParameter)
	}
	switch c.Data.Mode {
	case ModeRead, ModeSave, ModeLive:
	default:
		return invalid("data.mode", fmt.Sprintf("unknown mode %q", c.Data.Mode))
	}
	if (c.Data.Mode == ModeRead || c.Data.Mode == ModeSave) && c.Data.CacheFile == "" {
		return fmt.Errorf("%w: data.cache_file (mode %s)", ErrMissingParameter, c.Data.Mode)
	}
	for name, p := range c.Strategy.Params {
		if err := p.validate(name); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the simulation settings.
func (b Backtest) Validate() error {
	switch {
	case b.InitialCapital <= 0:
		return invalid("backtest.initial_capital", "must be positive")
	case b.CommissionRate < 0 || b.CommissionRate >= 1:
		return invalid("backtest.commission_rate", "must be in [0, 1)")
	case b.SlippageRate < 0 || b.SlippageRate >= 1:
		return invalid("backtest.slippage_rate", "must be in [0, 1)")
	case b.CashBuffer < 0 || b.CashBuffer >= 1:
		return invalid("backtest.cash_buffer", "must be in [0, 1)")
	case b.Parallelism < 0:
		return invalid("backtest.parallelism", "must not be negative")
	}
	switch b.RebalanceFreq {
	case Daily, Weekly, Monthly, Quarterly, Yearly:
		return nil
	case "":
		return fmt.Errorf("%w: backtest.rebalance_freq", ErrMissingParameter)
	default:
		return invalid("backtest.rebalance_freq", fmt.Sprintf("unknown frequency %q", b.RebalanceFreq))
	}
}

func invalid(key, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidParameter, key, reason)
}
