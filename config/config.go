// Package config handles application configuration management using Viper
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// Defaults for paths and the most load-bearing knobs.
const (
	DefaultConfigPath  = "./trailflow.yaml"
	DefaultStoragePath = "./trailflow.db"
	DefaultRevenuePath = "./revenue.csv"
)

// Config is the full session configuration, loadable from a YAML file
// with TRAILFLOW_-prefixed environment overrides.
type Config struct {
	Symbol string `mapstructure:"symbol"`

	// Multiplier widens each buy beyond the exchange minimum order.
	Multiplier float64 `mapstructure:"multiplier"`

	Profit   ProfitConfig   `mapstructure:"profit"`
	Distance DistanceConfig `mapstructure:"distance"`
	Buy      BuyConfig      `mapstructure:"buy"`
	Spike    SpikeConfig    `mapstructure:"spike"`

	Rebalance   RebalanceConfig   `mapstructure:"rebalance"`
	Optimizer   OptimizerConfig   `mapstructure:"optimizer"`
	Compounding CompoundingConfig `mapstructure:"compounding"`
	Funds       FundsConfig       `mapstructure:"funds"`

	Exchange ExchangeConfig `mapstructure:"exchange"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`

	Timers TimersConfig `mapstructure:"timers"`
}

type ProfitConfig struct {
	// Percentage is the minimum gain before a lot becomes sellable.
	Percentage float64 `mapstructure:"percentage"`
}

type DistanceConfig struct {
	// Method selects the trigger distance calculation: Fixed, Spot,
	// Wave, ATR, EMA or Adaptive.
	Method string `mapstructure:"method"`
	// Percentage is the base trigger price distance.
	Percentage float64 `mapstructure:"percentage"`

	WaveTimeframe  string  `mapstructure:"wave_timeframe"`
	WaveMultiplier float64 `mapstructure:"wave_multiplier"`
	WaveMinimum    bool    `mapstructure:"wave_minimum"`
	WavePeaks      bool    `mapstructure:"wave_peaks"`

	ATRInterval string `mapstructure:"atr_interval"`

	PricesLimit int `mapstructure:"prices_limit"`
}

type BuyConfig struct {
	Indicators IndicatorsGateConfig `mapstructure:"indicators"`
	Spread     SpreadGateConfig     `mapstructure:"spread"`
	Orderbook  OrderbookGateConfig  `mapstructure:"orderbook"`
	Trade      TradeGateConfig      `mapstructure:"trade"`
	PriceLimit PriceLimitGateConfig `mapstructure:"pricelimit"`
}

type IndicatorsGateConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Intervals []string `mapstructure:"intervals"`
	Minimum   float64  `mapstructure:"minimum"`
	Maximum   float64  `mapstructure:"maximum"`
	Average   bool     `mapstructure:"average"`
	Limit     int      `mapstructure:"limit"`
}

type SpreadGateConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	Distance float64 `mapstructure:"distance"`
}

type OrderbookGateConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Minimum   float64 `mapstructure:"minimum"`
	Maximum   float64 `mapstructure:"maximum"`
	Timeframe string  `mapstructure:"timeframe"`
	Limit     int     `mapstructure:"limit"`
}

type TradeGateConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Minimum float64 `mapstructure:"minimum"`
	Maximum float64 `mapstructure:"maximum"`
	Limit   int     `mapstructure:"limit"`
}

type PriceLimitGateConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	MaxBuy  float64 `mapstructure:"max_buy"`
}

type SpikeConfig struct {
	// Margin is the tolerated trigger divergence before an order is
	// treated as spiked.
	Margin float64 `mapstructure:"margin"`
}

type RebalanceConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Margin  float64 `mapstructure:"margin"`
}

type OptimizerConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Interval      string   `mapstructure:"interval"`
	MinAge        string   `mapstructure:"min_age"`
	Scaler        float64  `mapstructure:"scaler"`
	AdjMin        float64  `mapstructure:"adj_min"`
	AdjMax        float64  `mapstructure:"adj_max"`
	SpreadEnabled bool     `mapstructure:"spread_enabled"`
	Sides         []string `mapstructure:"sides"`
}

type CompoundingConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Start   float64 `mapstructure:"start"`
}

type FundsConfig struct {
	// MinEquity halts the session when the account value in quote
	// terms drops below it. Zero disables the check.
	MinEquity float64 `mapstructure:"min_equity"`
}

type ExchangeConfig struct {
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	UseTestnet bool   `mapstructure:"use_testnet"`
}

type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	Users   []int  `mapstructure:"users"`
}

type StorageConfig struct {
	// Backend selects the lot ledger store: buntdb or sqlite.
	Backend     string `mapstructure:"backend"`
	Path        string `mapstructure:"path"`
	RevenuePath string `mapstructure:"revenue_path"`
}

type TimersConfig struct {
	// StuckCheck is how often a live order is rechecked without a
	// trigger cross.
	StuckCheck string `mapstructure:"stuck_check"`
	// FeedStall is the silence on the tick stream that triggers a
	// websocket resubscription.
	FeedStall string `mapstructure:"feed_stall"`
	// InfoRefresh is how often instrument data is refreshed.
	InfoRefresh string `mapstructure:"info_refresh"`
	// OptimizerRun is the pause between optimizer passes.
	OptimizerRun string `mapstructure:"optimizer_run"`
	// BalanceCheck is how often the account equity is valued.
	BalanceCheck string `mapstructure:"balance_check"`
}

// Load reads the configuration file and applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRAILFLOW")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if cfg.Symbol == "" {
		return nil, fmt.Errorf("symbol must be configured")
	}
	if cfg.Profit.Percentage <= 0 || cfg.Distance.Percentage <= 0 {
		return nil, fmt.Errorf("profit and distance percentages must be positive")
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("multiplier", 1.0)
	v.SetDefault("profit.percentage", 0.5)
	v.SetDefault("distance.method", "Fixed")
	v.SetDefault("distance.percentage", 0.2)
	v.SetDefault("distance.wave_timeframe", "1m")
	v.SetDefault("distance.wave_multiplier", 1.0)
	v.SetDefault("distance.atr_interval", "1m")
	v.SetDefault("distance.prices_limit", 250)
	v.SetDefault("buy.indicators.intervals", []string{"1m"})
	v.SetDefault("buy.indicators.minimum", -1.0)
	v.SetDefault("buy.indicators.maximum", 0.0)
	v.SetDefault("buy.indicators.limit", 250)
	v.SetDefault("buy.spread.enabled", true)
	v.SetDefault("buy.spread.distance", 0.2)
	v.SetDefault("buy.orderbook.minimum", 0.0)
	v.SetDefault("buy.orderbook.maximum", 100.0)
	v.SetDefault("buy.orderbook.timeframe", "10s")
	v.SetDefault("buy.orderbook.limit", 100)
	v.SetDefault("buy.trade.minimum", 0.0)
	v.SetDefault("buy.trade.maximum", 100.0)
	v.SetDefault("buy.trade.limit", 100)
	v.SetDefault("spike.margin", 10.0)
	v.SetDefault("rebalance.margin", 10.0)
	v.SetDefault("optimizer.interval", "1m")
	v.SetDefault("optimizer.min_age", "1h")
	v.SetDefault("optimizer.scaler", 1.0)
	v.SetDefault("optimizer.adj_min", -50.0)
	v.SetDefault("optimizer.adj_max", 50.0)
	v.SetDefault("optimizer.sides", []string{"Buy", "Sell"})
	v.SetDefault("storage.backend", "buntdb")
	v.SetDefault("storage.path", DefaultStoragePath)
	v.SetDefault("storage.revenue_path", DefaultRevenuePath)
	v.SetDefault("timers.stuck_check", "2m")
	v.SetDefault("timers.feed_stall", "1m")
	v.SetDefault("timers.info_refresh", "1h")
	v.SetDefault("timers.optimizer_run", "15m")
	v.SetDefault("timers.balance_check", "1h")
}

// Duration parses a human duration like "90s", "15m" or "1h30m",
// falling back to the given default when empty or invalid.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := str2duration.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
