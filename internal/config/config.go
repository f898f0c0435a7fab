package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"currency-exchange-bot/internal/currency"
	"currency-exchange-bot/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. EXCHANGEBOT_TELEGRAM_TOKEN.
const EnvPrefix = "EXCHANGEBOT"

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Currencies CurrenciesConfig `mapstructure:"currencies"`
	Rates      RatesConfig      `mapstructure:"rates"`
	Offices    OfficesConfig    `mapstructure:"offices"`
	Session    SessionConfig    `mapstructure:"session"`
	Throttle   ThrottleConfig   `mapstructure:"throttle"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Workers    WorkersConfig    `mapstructure:"workers"`
	Chart      ChartConfig      `mapstructure:"chart"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// TelegramConfig 描述 Telegram Bot API 连接参数。
type TelegramConfig struct {
	Token          string        `mapstructure:"token"`
	APIEndpoint    string        `mapstructure:"api_endpoint"`
	Debug          bool          `mapstructure:"debug"`
	UpdatesTimeout int           `mapstructure:"updates_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CurrenciesConfig lists the allow-list and the currencies used for quotes.
type CurrenciesConfig struct {
	Allowed []string `mapstructure:"allowed"`
	Base    string   `mapstructure:"base"`
	Quote   string   `mapstructure:"quote"`
}

// RatesConfig covers the central-bank rate source.
type RatesConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	TTL            time.Duration `mapstructure:"ttl"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// OfficesConfig covers the exchange-office source.
type OfficesConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Region         string        `mapstructure:"region"`
	TTL            time.Duration `mapstructure:"ttl"`
	Limit          int           `mapstructure:"limit"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// SessionConfig controls conversion sessions. Zero IdleTimeout keeps sessions until consumed.
type SessionConfig struct {
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// ThrottleConfig sets the global and per-command gates.
type ThrottleConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	HeavyInterval time.Duration `mapstructure:"heavy_interval"`
	IdleEviction  time.Duration `mapstructure:"idle_eviction"`
}

// JobConfig governs one background loop.
type JobConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Align    bool          `mapstructure:"align"`
	Offset   time.Duration `mapstructure:"offset"`
}

// SchedulerConfig groups the three background loops.
type SchedulerConfig struct {
	Broadcast       JobConfig     `mapstructure:"broadcast"`
	Alerts          JobConfig     `mapstructure:"alerts"`
	Refresh         JobConfig     `mapstructure:"refresh"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// WorkersConfig sizes the interaction and heavy pools.
type WorkersConfig struct {
	Interactions int `mapstructure:"interactions"`
	Heavy        int `mapstructure:"heavy"`
}

// ChartConfig sets chart window and rendering.
type ChartConfig struct {
	Days      int `mapstructure:"days"`
	Width     int `mapstructure:"width"`
	Height    int `mapstructure:"height"`
	MaxPoints int `mapstructure:"max_points"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. Empty DSN disables the archive.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Retention       time.Duration `mapstructure:"retention"`
}

// MetricsConfig exposes /metrics and /health.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// I18nConfig selects the message catalogue.
type I18nConfig struct {
	Dir  string `mapstructure:"dir"`
	Lang string `mapstructure:"lang"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotEnv 读取工作目录下的 .env；文件不存在时忽略，已有环境变量不会被覆盖。
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "exchangebot")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// AutomaticEnv only sees keys viper already knows about.
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.api_endpoint", "")
	v.SetDefault("telegram.debug", false)
	v.SetDefault("telegram.updates_timeout", 60)
	v.SetDefault("telegram.request_timeout", "70s")

	v.SetDefault("currencies.allowed", []string{"USD", "EUR", "JPY", "TRY", "RUB"})
	v.SetDefault("currencies.base", "RUB")
	v.SetDefault("currencies.quote", "USD")

	v.SetDefault("rates.base_url", "https://www.cbr-xml-daily.ru")
	v.SetDefault("rates.ttl", "5m")
	v.SetDefault("rates.request_timeout", "10s")
	v.SetDefault("rates.user_agent", "")

	v.SetDefault("offices.base_url", "")
	v.SetDefault("offices.region", "moscow")
	v.SetDefault("offices.ttl", "30m")
	v.SetDefault("offices.limit", 50)
	v.SetDefault("offices.request_timeout", "15s")
	v.SetDefault("offices.user_agent", "")

	v.SetDefault("session.idle_timeout", "0s")

	v.SetDefault("throttle.interval", "1s")
	v.SetDefault("throttle.heavy_interval", "10s")
	v.SetDefault("throttle.idle_eviction", "1h")

	v.SetDefault("scheduler.broadcast.enabled", true)
	v.SetDefault("scheduler.broadcast.interval", "24h")
	v.SetDefault("scheduler.broadcast.align", true)
	v.SetDefault("scheduler.broadcast.offset", "9h")
	v.SetDefault("scheduler.alerts.enabled", true)
	v.SetDefault("scheduler.alerts.interval", "1m")
	v.SetDefault("scheduler.alerts.align", false)
	v.SetDefault("scheduler.refresh.enabled", true)
	v.SetDefault("scheduler.refresh.interval", "10m")
	v.SetDefault("scheduler.refresh.align", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x45584342))

	v.SetDefault("workers.interactions", 32)
	v.SetDefault("workers.heavy", 4)

	v.SetDefault("chart.days", 7)
	v.SetDefault("chart.width", 1024)
	v.SetDefault("chart.height", 512)
	v.SetDefault("chart.max_points", 400)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.retention", "0s")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("i18n.dir", "locales")
	v.SetDefault("i18n.lang", "en")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	allowed, err := c.AllowedSet()
	if err != nil {
		return fmt.Errorf("currencies.allowed: %w", err)
	}
	if !allowed.Contains(currency.Code(strings.ToUpper(c.Currencies.Base))) {
		return fmt.Errorf("currencies.base %q must be one of %s", c.Currencies.Base, allowed)
	}
	if !allowed.Contains(currency.Code(strings.ToUpper(c.Currencies.Quote))) {
		return fmt.Errorf("currencies.quote %q must be one of %s", c.Currencies.Quote, allowed)
	}
	if c.Rates.TTL <= 0 {
		return fmt.Errorf("rates.ttl must be greater than zero")
	}
	if c.Offices.TTL <= 0 {
		return fmt.Errorf("offices.ttl must be greater than zero")
	}
	if c.Session.IdleTimeout < 0 {
		return fmt.Errorf("session.idle_timeout cannot be negative")
	}
	if c.Throttle.Interval < 0 || c.Throttle.HeavyInterval < 0 {
		return fmt.Errorf("throttle intervals cannot be negative")
	}
	for name, job := range map[string]JobConfig{
		"broadcast": c.Scheduler.Broadcast,
		"alerts":    c.Scheduler.Alerts,
		"refresh":   c.Scheduler.Refresh,
	} {
		if job.Enabled && job.Interval <= 0 {
			return fmt.Errorf("scheduler.%s.interval must be greater than zero", name)
		}
	}
	if c.Workers.Interactions <= 0 || c.Workers.Heavy <= 0 {
		return fmt.Errorf("workers sizes must be greater than zero")
	}
	if c.Chart.Days < 2 {
		return fmt.Errorf("chart.days must be at least 2")
	}
	if c.Chart.MaxPoints < 2 {
		return fmt.Errorf("chart.max_points must be at least 2")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr 必须配置")
	}
	return nil
}

// ValidateBot adds the checks only the long-running bot needs.
func (c *Config) ValidateBot() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token 必须配置")
	}
	return nil
}

// AllowedSet parses the currency allow-list.
func (c *Config) AllowedSet() (currency.Set, error) {
	return currency.NewSet(c.Currencies.Allowed)
}

// BaseCode returns the rate table's base currency.
func (c *Config) BaseCode() currency.Code {
	return currency.Code(strings.ToUpper(c.Currencies.Base))
}

// QuoteCode returns the currency quick quotes are read in.
func (c *Config) QuoteCode() currency.Code {
	return currency.Code(strings.ToUpper(c.Currencies.Quote))
}

// ResolveDays returns either the CLI override or the config default.
func (c *Config) ResolveDays(override int) int {
	if override > 0 {
		return override
	}
	return c.Chart.Days
}
