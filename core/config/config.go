package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot related settings that are common for all bots.
// Nested under the "telegram" prefix, so BOT_TOKEN resolves as TELEGRAM_BOT_TOKEN.
type TelegramConfig struct {
	Token string `yaml:"token" envconfig:"BOT_TOKEN"`
	// ChannelID is the announcement channel: "@name" or a numeric chat id.
	ChannelID string `yaml:"channel_id" envconfig:"CHANNEL_ID"`
	AdminID   int64  `yaml:"admin_id" envconfig:"ADMIN_ID"`
	RunMode   string `yaml:"run_mode" envconfig:"RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

// SenderConfig tunes the asynchronous outbound dispatcher.
type SenderConfig struct {
	QueueSize      int `yaml:"queue_size"`
	Workers        int `yaml:"workers"`
	MaxRetries     int `yaml:"max_retries"`
	RetryBackoffMS int `yaml:"retry_backoff_ms"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
	// UpdateInlineQuery identifies inline query updates for rate limit exclusions.
	UpdateInlineQuery = "inline_query"
)

// RateLimitConfig holds settings for rate limiting.
// ExcludeUpdates accepts update types to bypass limiting:
// - "callback": Telegram callback button presses
// - "message": standard text messages
// - "inline_query": inline query updates
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// Config aggregates the configuration that belongs to the reusable core.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Sender    SenderConfig    `yaml:"sender"`
}

// Decode reads the YAML file at path into out, then applies environment
// variables on top. A missing file is fine for env-only deployments.
func Decode(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, out); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := envconfig.Process("", out); err != nil {
		return fmt.Errorf("config: env: %w", err)
	}
	return nil
}

// Normalize validates the core settings and canonicalizes the run mode and
// rate limit exclusions. All problems are reported together.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil config")
	}
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	tg := &cfg.Telegram
	tg.Token = strings.TrimSpace(tg.Token)
	tg.ChannelID = strings.TrimSpace(tg.ChannelID)
	check(tg.Token != "", "telegram token is required (TELEGRAM_BOT_TOKEN)")
	check(tg.ChannelID != "", "telegram channel id is required (TELEGRAM_CHANNEL_ID)")

	switch mode := runModeAlias(tg.RunMode); mode {
	case RunModeWebhook:
		wh := cfg.Webhook
		check(strings.TrimSpace(wh.URL) != "", "webhook.url is required in webhook mode")
		check(strings.TrimSpace(wh.Listen) != "", "webhook.listen is required in webhook mode")
		check(wh.Port > 0, "webhook.port must be > 0 in webhook mode")
		tg.RunMode = mode
	case RunModeLongpoll:
		check(tg.LongPollTimeoutSeconds >= 0, "telegram.longpoll_timeout_seconds must be >= 0")
		tg.RunMode = mode
	default:
		check(false, "invalid telegram.run_mode %q; allowed: webhook, longpoll", tg.RunMode)
	}

	excludes := cfg.RateLimit.ExcludeUpdates[:0]
	for _, v := range cfg.RateLimit.ExcludeUpdates {
		switch kind := strings.ToLower(strings.TrimSpace(v)); kind {
		case "":
		case UpdateCallback, UpdateMessage, UpdateInlineQuery:
			excludes = append(excludes, kind)
		default:
			check(false, "invalid rate_limit.exclude_updates value %q; allowed: callback, message, inline_query", v)
		}
	}
	cfg.RateLimit.ExcludeUpdates = excludes

	check(cfg.Sender.MaxRetries >= 0, "sender.max_retries must be >= 0")
	return errors.Join(errs...)
}

// runModeAlias maps "" and "polling" to longpoll.
func runModeAlias(raw string) string {
	switch mode := strings.ToLower(strings.TrimSpace(raw)); mode {
	case "", "polling":
		return RunModeLongpoll
	default:
		return mode
	}
}
