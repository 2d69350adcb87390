// Package config defines all configuration for the trading bot. Config
// is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via TRADEBOT_* environment variables.
//
// Grounded on 0xtitan6-polymarket-mm's internal/config/config.go (viper
// YAML-file load + AutomaticEnv prefix override, mapstructure-tagged
// nested sections, Validate() for required-field/range checks)
// generalized from market-making wallet/strategy/risk sections to the
// spec's broker/time-slot/strategy-weight/sizing sections.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kisquant/tradebot/tradingday"
)

// Config is the top-level configuration. Maps directly to the YAML
// file structure.
type Config struct {
	Broker    BrokerConfig     `mapstructure:"broker"`
	TimeSlots []TimeSlotConfig `mapstructure:"time_slots"`
	Sizing    SizingConfig     `mapstructure:"sizing"`
	Discovery DiscoveryConfig  `mapstructure:"discovery"`
	Telegram  TelegramConfig   `mapstructure:"telegram"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Store     StoreConfig      `mapstructure:"store"`
}

// BrokerConfig holds the KIS broker REST/WS endpoints and credentials.
// AppKey/AppSecret/AccountNo are sensitive and normally supplied via
// env vars rather than checked into the YAML file.
type BrokerConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	WSURL        string `mapstructure:"ws_url"`
	AppKey       string `mapstructure:"app_key"`
	AppSecret    string `mapstructure:"app_secret"`
	AccountNo    string `mapstructure:"account_no"`
	Paper        bool   `mapstructure:"paper"`
	RatePerSec   int    `mapstructure:"rate_per_sec"`
}

// StrategyWeightConfig is one strategy's participation weight inside a
// time slot.
type StrategyWeightConfig struct {
	StrategyTag string  `mapstructure:"strategy_tag"`
	Weight      float64 `mapstructure:"weight"`
}

// TimeSlotConfig is a disjoint wall-clock interval of the trading day,
// expressed as HH:MM strings in the YAML file. Load keeps them as strings;
// ParseTimeOfDay turns them into time.Time time-of-day values (cmd/tradebot
// does so when it builds the scheduler's slots).
type TimeSlotConfig struct {
	Name                string                 `mapstructure:"name"`
	Start               string                 `mapstructure:"start"`
	End                 string                 `mapstructure:"end"`
	PreparationOffsetMin int                   `mapstructure:"preparation_offset_min"`
	Primary             []StrategyWeightConfig `mapstructure:"primary"`
	Secondary           []StrategyWeightConfig `mapstructure:"secondary"`
}

// SizingConfig holds position-sizing settings (spec §4.8). Load reads
// them and Validate checks base_ratio and min_invest_krw; cmd/tradebot
// does not copy them into executor.Sizing, so the Trade Executor sizes
// with its built-in defaults whatever these fields say.
type SizingConfig struct {
	BaseRatio      float64 `mapstructure:"base_ratio"`
	MaxRatio       float64 `mapstructure:"max_ratio"`
	CapKRW         int64   `mapstructure:"cap_krw"`
	MinInvestKRW   int64   `mapstructure:"min_invest_krw"`
	SafetyDiscount float64 `mapstructure:"safety_discount"`
}

// DiscoveryConfig holds Candidate Discovery filter settings (spec §4.5).
// Load reads them; cmd/tradebot does not copy them into discovery.Filters,
// so discovery filters with its built-in defaults.
type DiscoveryConfig struct {
	MaxOneDayMovePct float64 `mapstructure:"max_one_day_move_pct"`
	MinVolumeRatio   float64 `mapstructure:"min_volume_ratio"`
}

// TelegramConfig holds the optional Telegram notifier's credentials.
// Both fields empty means notify falls back to LogNotifier.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig sets where journal/ML data is persisted.
type StoreConfig struct {
	DSN    string `mapstructure:"dsn"`
	Driver string `mapstructure:"driver"` // "sqlite" or "postgres"
}

// Load reads config from a YAML file with TRADEBOT_* env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRADEBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := v.GetString("broker.app_key"); key != "" {
		cfg.Broker.AppKey = key
	}
	if secret := v.GetString("broker.app_secret"); secret != "" {
		cfg.Broker.AppSecret = secret
	}
	if acct := v.GetString("broker.account_no"); acct != "" {
		cfg.Broker.AccountNo = acct
	}
	if tok := v.GetString("telegram.bot_token"); tok != "" {
		cfg.Telegram.BotToken = tok
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Broker.BaseURL == "" {
		return fmt.Errorf("broker.base_url is required")
	}
	if c.Broker.WSURL == "" {
		return fmt.Errorf("broker.ws_url is required")
	}
	if c.Broker.AppKey == "" || c.Broker.AppSecret == "" {
		return fmt.Errorf("broker.app_key and broker.app_secret are required (set TRADEBOT_BROKER_APP_KEY/APP_SECRET)")
	}
	if c.Broker.AccountNo == "" {
		return fmt.Errorf("broker.account_no is required")
	}
	if c.Broker.RatePerSec <= 0 {
		return fmt.Errorf("broker.rate_per_sec must be > 0")
	}
	if len(c.TimeSlots) == 0 {
		return fmt.Errorf("at least one time_slots entry is required")
	}
	for _, s := range c.TimeSlots {
		if s.Name == "" || s.Start == "" || s.End == "" {
			return fmt.Errorf("time_slots entries require name, start, and end")
		}
	}
	if c.Sizing.BaseRatio <= 0 || c.Sizing.BaseRatio > 1 {
		return fmt.Errorf("sizing.base_ratio must be in (0,1]")
	}
	if c.Sizing.MinInvestKRW <= 0 {
		return fmt.Errorf("sizing.min_invest_krw must be > 0")
	}
	return nil
}

// ParseTimeOfDay parses an "HH:MM" string as a wall-clock time in
// tradingday.MarketTZ, anchored to the zero date, matching how
// types.TimeSlot ignores the date component.
func ParseTimeOfDay(hhmm string) (time.Time, error) {
	return time.ParseInLocation("15:04", hhmm, tradingday.MarketTZ)
}
