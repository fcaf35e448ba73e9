package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"quant-telegram/internal/notifier"
	"quant-telegram/internal/price"
	"quant-telegram/internal/telegram"
	"quant-telegram/internal/throttle"
	"quant-telegram/internal/types"
)

// ConfigError reports an invalid or missing setting.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

// Throttle holds the per-category minimum intervals in seconds. Emergency
// is accepted for compatibility but ignored: emergencies are never throttled.
type Throttle struct {
	PriceAlert     float64 `mapstructure:"price_alert"`
	PositionUpdate float64 `mapstructure:"position_update"`
	SystemAlert    float64 `mapstructure:"system_alert"`
	Emergency      float64 `mapstructure:"emergency"`
}

type Watch struct {
	Coins           string  `mapstructure:"coins"`
	ThresholdPct    float64 `mapstructure:"threshold_pct"`
	IntervalSeconds int     `mapstructure:"interval_seconds"`
}

// Settings is the complete configuration of the notifier binary.
type Settings struct {
	TelegramBotToken      string   `mapstructure:"telegram_bot_token"`
	TelegramChatID        string   `mapstructure:"telegram_chat_id"`
	TelegramThreadID      int      `mapstructure:"telegram_thread_id"`
	ParseMode             string   `mapstructure:"parse_mode"`
	DisableWebPagePreview bool     `mapstructure:"disable_web_page_preview"`
	Throttle              Throttle `mapstructure:"throttle"`
	BatchFlushInterval    float64  `mapstructure:"batch_flush_interval_seconds"`
	MaxBatchSize          int      `mapstructure:"max_batch_size"`
	MaxFlushRetries       int      `mapstructure:"max_flush_retries"`
	SendRatePerSecond     float64  `mapstructure:"send_rate_per_second"`
	Debug                 bool     `mapstructure:"debug"`
	DryRun                bool     `mapstructure:"dry_run"`
	Lang                  string   `mapstructure:"lang"`
	MetricsPort           int      `mapstructure:"metrics_port"`
	DBPath                string   `mapstructure:"db_path"`
	APIProKey             string   `mapstructure:"api_pro_key"`
	Watch                 Watch    `mapstructure:"watch"`
}

var envBindings = map[string]string{
	"telegram_bot_token":           "TELEGRAM_BOT_TOKEN",
	"telegram_chat_id":             "TELEGRAM_CHAT_ID",
	"telegram_thread_id":           "TELEGRAM_THREAD_ID",
	"parse_mode":                   "PARSE_MODE",
	"disable_web_page_preview":     "DISABLE_WEB_PAGE_PREVIEW",
	"throttle.price_alert":         "THROTTLE_PRICE_ALERT",
	"throttle.position_update":     "THROTTLE_POSITION_UPDATE",
	"throttle.system_alert":        "THROTTLE_SYSTEM_ALERT",
	"throttle.emergency":           "THROTTLE_EMERGENCY",
	"batch_flush_interval_seconds": "BATCH_FLUSH_INTERVAL",
	"max_batch_size":               "MAX_BATCH_SIZE",
	"max_flush_retries":            "MAX_FLUSH_RETRIES",
	"send_rate_per_second":         "SEND_RATE_PER_SECOND",
	"debug":                        "DEBUG",
	"dry_run":                      "DRY_RUN",
	"lang":                         "LANG",
	"metrics_port":                 "METRICS_PORT",
	"db_path":                      "DB_PATH",
	"api_pro_key":                  "API_PRO_KEY",
	"watch.coins":                  "WATCH_COINS",
	"watch.threshold_pct":          "WATCH_THRESHOLD_PCT",
	"watch.interval_seconds":       "WATCH_INTERVAL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram_bot_token", "")
	v.SetDefault("telegram_chat_id", "")
	v.SetDefault("telegram_thread_id", 0)
	v.SetDefault("parse_mode", "HTML")
	v.SetDefault("disable_web_page_preview", true)
	v.SetDefault("throttle.price_alert", 60)
	v.SetDefault("throttle.position_update", 30)
	v.SetDefault("throttle.system_alert", 120)
	v.SetDefault("throttle.emergency", 0)
	v.SetDefault("batch_flush_interval_seconds", 5)
	v.SetDefault("max_batch_size", 50)
	v.SetDefault("max_flush_retries", 3)
	v.SetDefault("send_rate_per_second", 20)
	v.SetDefault("debug", false)
	v.SetDefault("dry_run", false)
	v.SetDefault("lang", "en")
	v.SetDefault("metrics_port", 9090)
	v.SetDefault("db_path", "data/notifier.db")
	v.SetDefault("api_pro_key", "")
	v.SetDefault("watch.coins", "")
	v.SetDefault("watch.threshold_pct", 2.0)
	v.SetDefault("watch.interval_seconds", 30)
}

// Load reads the settings from the environment.
func Load() (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, errors.Wrapf(err, "could not bind %s", env)
		}
	}
	return decode(v)
}

// FromMap reads the settings from an explicit mapping. Nested keys may be
// given either as maps or in dotted form ("throttle.price_alert").
func FromMap(values map[string]interface{}) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	for key, value := range values {
		v.Set(strings.ToLower(key), value)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.Wrap(err, "could not decode config")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the settings that cannot have a sensible default. A dry
// run only logs messages and needs no Telegram credentials.
func (s *Settings) Validate() error {
	if !s.DryRun {
		if strings.TrimSpace(s.TelegramBotToken) == "" {
			return &ConfigError{Key: "telegram_bot_token", Reason: "is required"}
		}
		if strings.TrimSpace(s.TelegramChatID) == "" {
			return &ConfigError{Key: "telegram_chat_id", Reason: "is required"}
		}
	}

	for key, value := range map[string]float64{
		"throttle.price_alert":         s.Throttle.PriceAlert,
		"throttle.position_update":     s.Throttle.PositionUpdate,
		"throttle.system_alert":        s.Throttle.SystemAlert,
		"throttle.emergency":           s.Throttle.Emergency,
		"batch_flush_interval_seconds": s.BatchFlushInterval,
		"send_rate_per_second":         s.SendRatePerSecond,
		"watch.threshold_pct":          s.Watch.ThresholdPct,
	} {
		if value < 0 {
			return &ConfigError{Key: key, Reason: "must not be negative"}
		}
	}
	if s.MaxBatchSize < 0 {
		return &ConfigError{Key: "max_batch_size", Reason: "must not be negative"}
	}
	if s.MaxFlushRetries < 0 {
		return &ConfigError{Key: "max_flush_retries", Reason: "must not be negative"}
	}
	if s.Watch.IntervalSeconds < 0 {
		return &ConfigError{Key: "watch.interval_seconds", Reason: "must not be negative"}
	}
	return nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// Notifier returns the dispatcher configuration.
func (s *Settings) Notifier() notifier.Config {
	return notifier.Config{
		Intervals: map[types.Category]time.Duration{
			types.PriceAlert:     seconds(s.Throttle.PriceAlert),
			types.PositionUpdate: seconds(s.Throttle.PositionUpdate),
			types.SystemAlert:    seconds(s.Throttle.SystemAlert),
		},
		FlushInterval: seconds(s.BatchFlushInterval),
		RatePerSecond: s.SendRatePerSecond,
		ParseMode:     s.ParseMode,
		Throttle: throttle.Config{
			MaxBatchSize:    s.MaxBatchSize,
			MaxFlushRetries: s.MaxFlushRetries,
		},
	}
}

func (s *Settings) Bot() telegram.BotConfig {
	return telegram.BotConfig{
		Token:                 s.TelegramBotToken,
		ChatID:                s.TelegramChatID,
		ThreadID:              s.TelegramThreadID,
		ParseMode:             s.ParseMode,
		DisableWebPagePreview: s.DisableWebPagePreview,
		Debug:                 s.Debug,
		UpdatesTimeout:        60,
	}
}

// Watcher returns the price watcher configuration. Coins is a comma
// separated list of CoinPaprika ids.
func (s *Settings) Watcher() price.Config {
	var coins []string
	for _, c := range strings.Split(s.Watch.Coins, ",") {
		if c = strings.TrimSpace(c); c != "" {
			coins = append(coins, c)
		}
	}
	return price.Config{
		Coins:        coins,
		ThresholdPct: s.Watch.ThresholdPct,
		Interval:     time.Duration(s.Watch.IntervalSeconds) * time.Second,
	}
}
