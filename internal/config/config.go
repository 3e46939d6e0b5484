package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"vesrates/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Retention RetentionConfig `mapstructure:"retention"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Events    EventsConfig    `mapstructure:"events"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. The pool never
// prepares statements, so it is safe behind a transaction-mode pooler.
type DatabaseConfig struct {
	DSN              string        `mapstructure:"dsn"`
	MaxConns         int           `mapstructure:"max_conns"`
	MinConns         int           `mapstructure:"min_conns"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime  time.Duration `mapstructure:"conn_max_idle_time"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	MigrateOnStart   bool          `mapstructure:"migrate_on_start"`
}

// SchedulerConfig governs refresh and housekeeping cadence.
type SchedulerConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RefreshOnStart  bool          `mapstructure:"refresh_on_start"`
	CleanupHour     int           `mapstructure:"cleanup_hour"`
	Timezone        string        `mapstructure:"timezone"`
	Grace           time.Duration `mapstructure:"grace"`
}

// SourcesConfig covers every upstream quotation source.
type SourcesConfig struct {
	Timeout     time.Duration     `mapstructure:"timeout"`
	UserAgent   string            `mapstructure:"user_agent"`
	BandMin     float64           `mapstructure:"band_min"`
	BandMax     float64           `mapstructure:"band_max"`
	Disabled    []string          `mapstructure:"disabled"`
	BCV         BCVConfig         `mapstructure:"bcv"`
	Binance     BinanceConfig     `mapstructure:"binance"`
	Italcambios ItalcambiosConfig `mapstructure:"italcambios"`
	Feeds       []FeedConfig      `mapstructure:"feeds"`
}

// BCVConfig configures the official-rate scraper.
type BCVConfig struct {
	URLs               []string `mapstructure:"urls"`
	InsecureSkipVerify bool     `mapstructure:"insecure_skip_verify"`
}

// BinanceConfig configures the P2P order-book query.
type BinanceConfig struct {
	URL           string   `mapstructure:"url"`
	Fiat          string   `mapstructure:"fiat"`
	Asset         string   `mapstructure:"asset"`
	Rows          int      `mapstructure:"rows"`
	TransAmount   float64  `mapstructure:"trans_amount"`
	PayTypes      []string `mapstructure:"pay_types"`
	PublisherType string   `mapstructure:"publisher_type"`
}

// ItalcambiosConfig configures the fiat-house scraper.
type ItalcambiosConfig struct {
	URL string `mapstructure:"url"`
}

// FeedConfig declares an extra exchange served by a flat JSON endpoint.
type FeedConfig struct {
	Code            string        `mapstructure:"code"`
	Name            string        `mapstructure:"name"`
	Category        string        `mapstructure:"category"`
	Description     string        `mapstructure:"description"`
	URL             string        `mapstructure:"url"`
	Source          string        `mapstructure:"source"`
	Active          bool          `mapstructure:"active"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// ReconcileConfig tunes change detection.
type ReconcileConfig struct {
	Tolerance float64 `mapstructure:"tolerance"`
}

// RetentionConfig sets housekeeping windows in days.
type RetentionConfig struct {
	HistoryDays int `mapstructure:"history_days"`
	APILogDays  int `mapstructure:"api_log_days"`
}

// CacheConfig configures the redis read-through cache.
type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	Prefix     string        `mapstructure:"prefix"`
	CurrentTTL time.Duration `mapstructure:"current_ttl"`
	LatestTTL  time.Duration `mapstructure:"latest_ttl"`
}

// EventsConfig configures rate-change publication on kafka.
type EventsConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AlertingConfig defines operational notification routing.
type AlertingConfig struct {
	Enabled   bool           `mapstructure:"enabled"`
	OnFailure bool           `mapstructure:"on_failure"`
	OnCleanup bool           `mapstructure:"on_cleanup"`
	Telegram  TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot sink.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr              string        `mapstructure:"addr"`
	Mode              string        `mapstructure:"mode"`
	CORSOrigins       []string      `mapstructure:"cors_origins"`
	RequestsPerMinute int64         `mapstructure:"requests_per_minute"`
	LogRequests       bool          `mapstructure:"log_requests"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// MetricsConfig toggles prometheus instrumentation.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("VESRATES")
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

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
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
	v.SetDefault("app.name", "vesrates")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.conn_max_idle_time", "5m")
	v.SetDefault("database.statement_timeout", "30s")
	v.SetDefault("database.migrate_on_start", false)

	v.SetDefault("scheduler.refresh_interval", "60m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.refresh_on_start", true)
	v.SetDefault("scheduler.cleanup_hour", 2)
	v.SetDefault("scheduler.timezone", "America/Caracas")
	v.SetDefault("scheduler.grace", "1h")

	v.SetDefault("sources.timeout", "30s")
	v.SetDefault("sources.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("sources.band_min", 0.1)
	v.SetDefault("sources.band_max", 1000.0)
	v.SetDefault("sources.bcv.urls", []string{"http://www.bcv.org.ve/", "https://www.bcv.org.ve/"})
	v.SetDefault("sources.bcv.insecure_skip_verify", true)
	v.SetDefault("sources.binance.url", "https://p2p.binance.com/bapi/c2c/v2/friendly/c2c/adv/search")
	v.SetDefault("sources.binance.fiat", "VES")
	v.SetDefault("sources.binance.asset", "USDT")
	v.SetDefault("sources.binance.rows", 10)
	v.SetDefault("sources.binance.trans_amount", 500.0)
	v.SetDefault("sources.binance.pay_types", []string{"PagoMovil"})
	v.SetDefault("sources.binance.publisher_type", "merchant")
	v.SetDefault("sources.italcambios.url", "https://www.italcambio.com/")

	v.SetDefault("reconcile.tolerance", 0.0001)

	v.SetDefault("retention.history_days", 90)
	v.SetDefault("retention.api_log_days", 30)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.prefix", "vesrates")
	v.SetDefault("cache.current_ttl", "10m")
	v.SetDefault("cache.latest_ttl", "5m")

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.brokers", []string{})
	v.SetDefault("events.topic", "vesrates.rate-changed")
	v.SetDefault("events.write_timeout", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.on_failure", true)
	v.SetDefault("alerting.on_cleanup", true)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("http.addr", ":8000")
	v.SetDefault("http.mode", "release")
	v.SetDefault("http.cors_origins", []string{"*"})
	v.SetDefault("http.requests_per_minute", 60)
	v.SetDefault("http.log_requests", false)
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "vesrates")

	v.SetDefault("export.max_data_points", 100000)
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
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.RefreshInterval <= 0 {
		return fmt.Errorf("scheduler.refresh_interval must be greater than zero")
	}
	if c.Scheduler.CleanupHour < 0 || c.Scheduler.CleanupHour > 23 {
		return fmt.Errorf("scheduler.cleanup_hour must be within 0..23")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	if c.Sources.Timeout <= 0 {
		return fmt.Errorf("sources.timeout must be greater than zero")
	}
	if c.Sources.BandMin <= 0 || c.Sources.BandMax <= c.Sources.BandMin {
		return fmt.Errorf("sources.band_min must be positive and below sources.band_max")
	}
	if c.Reconcile.Tolerance < 0 {
		return fmt.Errorf("reconcile.tolerance cannot be negative")
	}
	if c.Database.MaxConns > 0 && c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns cannot exceed database.max_conns")
	}
	if c.Retention.HistoryDays <= 0 || c.Retention.APILogDays <= 0 {
		return fmt.Errorf("retention windows must be greater than zero")
	}
	for i, feed := range c.Sources.Feeds {
		if feed.Code == "" || feed.URL == "" {
			return fmt.Errorf("sources.feeds[%d]: code and url are required", i)
		}
	}
	if c.Events.Enabled && len(c.Events.Brokers) == 0 {
		return fmt.Errorf("events.brokers must be set when events are enabled")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// IsDisabled reports whether an exchange code is listed in sources.disabled.
func (c *Config) IsDisabled(code string) bool {
	for _, d := range c.Sources.Disabled {
		if strings.EqualFold(strings.TrimSpace(d), code) {
			return true
		}
	}
	return false
}
