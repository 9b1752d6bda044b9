package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"quantbot-core/internal/domain"
	"quantbot-core/internal/logger"
)

type Config struct {
	Log      logger.Config  `mapstructure:"log"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Poll     PollConfig     `mapstructure:"poll"`
	Candles  CandlesConfig  `mapstructure:"candles"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Backtest BacktestConfig `mapstructure:"backtest"`
	HTTP     HTTPConfig     `mapstructure:"http"`
}

type FeedConfig struct {
	URL               string        `mapstructure:"url"`
	APIKey            string        `mapstructure:"api_key"`
	Topic             string        `mapstructure:"topic"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type PollConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Interval   time.Duration `mapstructure:"interval"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type CandlesConfig struct {
	Source     string        `mapstructure:"source"` // http | clickhouse
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Interval   string        `mapstructure:"interval"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type MonitorConfig struct {
	CandleWindow        int           `mapstructure:"candle_window"`
	DefaultRefresh      time.Duration `mapstructure:"default_refresh"`
	FastRefresh         time.Duration `mapstructure:"fast_refresh"`
	ProximityThreshold  float64       `mapstructure:"proximity_threshold"`
	SignalBucket        time.Duration `mapstructure:"signal_bucket"`
	SummaryInterval     time.Duration `mapstructure:"summary_interval"`
	SummaryWindow       time.Duration `mapstructure:"summary_window"`
	ResubscribeInterval time.Duration `mapstructure:"resubscribe_interval"`
	ResubscribeMinGap   time.Duration `mapstructure:"resubscribe_min_gap"`
	IOTimeout           time.Duration `mapstructure:"io_timeout"`
}

type NotifyConfig struct {
	Kind     string         `mapstructure:"kind"` // log | telegram | webhook
	Telegram TelegramConfig `mapstructure:"telegram"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
}

type TelegramConfig struct {
	Token   string `mapstructure:"token"`
	APIBase string `mapstructure:"api_base"`
}

type WebhookConfig struct {
	URL string `mapstructure:"url"`
}

type StorageConfig struct {
	PostgresDSN   string      `mapstructure:"postgres_dsn"`
	ClickhouseDSN string      `mapstructure:"clickhouse_dsn"`
	Redis         RedisConfig `mapstructure:"redis"`
	SQLitePath    string      `mapstructure:"sqlite_path"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type BacktestConfig struct {
	Strategy           string  `mapstructure:"strategy"`
	Interval           string  `mapstructure:"interval"`
	StopLoss           float64 `mapstructure:"stop_loss"`
	Trailing           float64 `mapstructure:"trailing"`
	TrailingActivation float64 `mapstructure:"trailing_activation"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// Default returns a config with every default applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		panic(fmt.Sprintf("unmarshal defaults: %v", err))
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)

	v.SetDefault("feed.url", "wss://public-api.birdeye.so/socket")
	v.SetDefault("feed.topic", "price-update")
	v.SetDefault("feed.max_attempts", 10)
	v.SetDefault("feed.reconnect_delay", time.Second)
	v.SetDefault("feed.max_reconnect_delay", 30*time.Second)
	v.SetDefault("feed.ping_interval", 30*time.Second)
	v.SetDefault("feed.read_timeout", 60*time.Second)
	v.SetDefault("feed.write_timeout", 10*time.Second)

	v.SetDefault("poll.base_url", "https://public-api.birdeye.so")
	v.SetDefault("poll.interval", time.Minute)
	v.SetDefault("poll.timeout", 10*time.Second)
	v.SetDefault("poll.max_retries", 3)

	v.SetDefault("candles.source", "http")
	v.SetDefault("candles.base_url", "https://public-api.birdeye.so")
	v.SetDefault("candles.interval", "5m")
	v.SetDefault("candles.timeout", 15*time.Second)
	v.SetDefault("candles.max_retries", 3)

	v.SetDefault("monitor.candle_window", 120)
	v.SetDefault("monitor.default_refresh", 30*time.Minute)
	v.SetDefault("monitor.fast_refresh", 5*time.Minute)
	v.SetDefault("monitor.proximity_threshold", 0.2)
	v.SetDefault("monitor.signal_bucket", time.Hour)
	v.SetDefault("monitor.summary_interval", time.Hour)
	v.SetDefault("monitor.summary_window", 24*time.Hour)
	v.SetDefault("monitor.resubscribe_interval", 10*time.Minute)
	v.SetDefault("monitor.resubscribe_min_gap", 5*time.Minute)
	v.SetDefault("monitor.io_timeout", 10*time.Second)

	v.SetDefault("notify.kind", "log")
	v.SetDefault("notify.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("storage.redis.ttl", 24*time.Hour)

	v.SetDefault("backtest.strategy", "balanced")
	v.SetDefault("backtest.interval", "5m")
	v.SetDefault("backtest.stop_loss", -0.3)

	v.SetDefault("http.addr", ":8080")
}

// Load reads configs/config.yaml (or path when non-empty), applies QUANTBOT_*
// environment overrides and expands ${ENV} references in secret fields.
// Without an explicit path a missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
		v.SetConfigName("config")
	}
	v.SetEnvPrefix("QUANTBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Feed.APIKey = envSub(cfg.Feed.APIKey)
	cfg.Poll.APIKey = envSub(cfg.Poll.APIKey)
	cfg.Candles.APIKey = envSub(cfg.Candles.APIKey)
	cfg.Notify.Telegram.Token = envSub(cfg.Notify.Telegram.Token)
	cfg.Notify.Webhook.URL = envSub(cfg.Notify.Webhook.URL)
	cfg.Storage.PostgresDSN = envSub(cfg.Storage.PostgresDSN)
	cfg.Storage.ClickhouseDSN = envSub(cfg.Storage.ClickhouseDSN)
	cfg.Storage.Redis.Password = envSub(cfg.Storage.Redis.Password)

	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{(\w+)\}`)

func envSub(val string) string {
	if val == "" {
		return ""
	}
	return envRef.ReplaceAllStringFunc(val, func(match string) string {
		envKey := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(envKey)
	})
}

// Validate checks the fields every command depends on.
func (c *Config) Validate() error {
	if c.Feed.MaxAttempts <= 0 {
		return fmt.Errorf("feed.max_attempts must be positive")
	}
	if c.Feed.ReconnectDelay <= 0 || c.Feed.MaxReconnectDelay < c.Feed.ReconnectDelay {
		return fmt.Errorf("feed.max_reconnect_delay must be >= feed.reconnect_delay > 0")
	}
	if c.Monitor.CandleWindow < 52 {
		return fmt.Errorf("monitor.candle_window must be at least 52")
	}
	if c.Monitor.FastRefresh <= 0 || c.Monitor.DefaultRefresh < c.Monitor.FastRefresh {
		return fmt.Errorf("monitor.default_refresh must be >= monitor.fast_refresh > 0")
	}
	if c.Monitor.ProximityThreshold <= 0 || c.Monitor.ProximityThreshold >= 1 {
		return fmt.Errorf("monitor.proximity_threshold must be between 0 and 1")
	}
	if c.Monitor.SignalBucket < time.Second {
		return fmt.Errorf("monitor.signal_bucket must be at least 1s")
	}
	if domain.IntervalSeconds(c.Candles.Interval) == 0 {
		return fmt.Errorf("candles.interval %q is not supported", c.Candles.Interval)
	}
	if domain.IntervalSeconds(c.Backtest.Interval) == 0 {
		return fmt.Errorf("backtest.interval %q is not supported", c.Backtest.Interval)
	}
	switch c.Candles.Source {
	case "http", "clickhouse":
	default:
		return fmt.Errorf("candles.source must be http or clickhouse")
	}
	switch c.Notify.Kind {
	case "log":
	case "telegram":
		if c.Notify.Telegram.Token == "" {
			return fmt.Errorf("notify.telegram.token is required")
		}
	case "webhook":
		if c.Notify.Webhook.URL == "" {
			return fmt.Errorf("notify.webhook.url is required")
		}
	default:
		return fmt.Errorf("notify.kind must be log, telegram or webhook")
	}
	return nil
}

// StopLossConfig returns the backtest stop-loss config.
func (b BacktestConfig) StopLossConfig() domain.StopLossConfig {
	return domain.StopLossConfig{
		Initial:            b.StopLoss,
		Trailing:           b.Trailing,
		TrailingActivation: b.TrailingActivation,
	}
}
