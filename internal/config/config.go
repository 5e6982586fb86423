package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv      = "PROACTIVE_INSIGHTS_CONFIG"
	databaseDSNEnv     = "DATABASE_DSN"
	databaseDriverEnv  = "DATABASE_DRIVER"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv  = "TELEGRAM_CHAT_ID"
	slackTokenEnv      = "SLACK_BOT_TOKEN"
	slackChannelEnv    = "SLACK_CHANNEL"
	logLevelEnv        = "LOG_LEVEL"
	defaultSQLitePath  = "data/insights.db"
	defaultHTTPAddress = ":8089"
)

// Config holds every tunable of the engine and its collaborators.
type Config struct {
	Logging               LoggingConfig           `yaml:"logging"`
	Database              DatabaseConfig          `yaml:"database"`
	HTTP                  HTTPConfig              `yaml:"http"`
	SessionID             string                  `yaml:"session_id"`
	PollIntervalsMs       map[string]int64        `yaml:"poll_intervals_ms"`
	StalenessThresholdsMs map[string]int64        `yaml:"staleness_thresholds_ms"`
	UrgencyThresholds     UrgencyThresholdsConfig `yaml:"urgency_thresholds"`
	Delivery              DeliveryConfig          `yaml:"delivery"`
	Feedback              FeedbackConfig          `yaml:"feedback"`
	Patterns              PatternsConfig          `yaml:"patterns"`
	Notifications         NotificationConfig      `yaml:"notifications"`
	Events                EventsConfig            `yaml:"events"`
	Generator             GeneratorConfig         `yaml:"generator"`
	Sources               []SourceConfig          `yaml:"sources"`
	Keywords              map[string][]string     `yaml:"keywords"`
	Extra                 map[string]yaml.Node    `yaml:",inline"`
}

// LoggingConfig selects slog level and handler format (text or json).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig selects the SQL driver. An empty DSN with driver sqlite uses a local file.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// HTTPConfig configures the hook and query API.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// UrgencyThresholdsConfig holds the tunable tier boundaries.
type UrgencyThresholdsConfig struct {
	High     float64 `yaml:"high"`
	Critical float64 `yaml:"critical"`
}

// DeliveryConfig tunes focus detection, push rate limiting and batching.
type DeliveryConfig struct {
	FocusDetectionWindowMs int64  `yaml:"focus_detection_window_ms"`
	MinCalls               int    `yaml:"min_calls"`
	BatchWindowMs          int64  `yaml:"batch_window_ms"`
	DuplicateWindowMs      int64  `yaml:"duplicate_window_ms"`
	BatchMaxSize           int    `yaml:"batch_max_size"`
	DigestCron             string `yaml:"digest_cron"`
}

// FeedbackConfig tunes the learning loop.
type FeedbackConfig struct {
	ActionWindowMs        int64   `yaml:"action_window_ms"`
	RateIncreasePerAct    float64 `yaml:"rate_increase_per_act"`
	RateDecreasePerIgnore float64 `yaml:"rate_decrease_per_ignore"`
	MinObservations       int     `yaml:"min_observations"`
	LowValueThreshold     float64 `yaml:"low_value_threshold"`
	SweepIntervalMs       int64   `yaml:"sweep_interval_ms"`
	LowValuePolicy        string  `yaml:"low_value_policy"`
	AckPattern            string  `yaml:"ack_pattern"`
}

// PatternsConfig tunes pattern promotion.
type PatternsConfig struct {
	MinObservations int     `yaml:"min_observations"`
	MinActionRate   float64 `yaml:"min_action_rate"`
	HistoryDays     int     `yaml:"history_days"`
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`
}

// TelegramConfig wires the high-attention push channel.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	APIBase  string `yaml:"api_base"`
}

// SlackConfig wires the secondary-attention channel and batch digests.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// EventsConfig enables lifecycle event streaming.
type EventsConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
}

// KafkaConfig is disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// GeneratorConfig configures candidate generation.
type GeneratorConfig struct {
	Rules   []RuleConfig      `yaml:"rules"`
	Remote  RemoteConfig      `yaml:"remote"`
	Options map[string]string `yaml:"options"`
}

// RuleConfig turns a payload condition into a candidate insight.
type RuleConfig struct {
	Source     string  `yaml:"source"`
	Field      string  `yaml:"field"`
	Op         string  `yaml:"op"`
	Value      string  `yaml:"value"`
	Type       string  `yaml:"type"`
	Title      string  `yaml:"title"`
	Body       string  `yaml:"body"`
	Impact     float64 `yaml:"impact"`
	Confidence float64 `yaml:"confidence"`
	TTLMs      int64   `yaml:"ttl_ms"`
	Actionable *bool   `yaml:"actionable"`
}

// RemoteConfig points at an external inference service that proposes insights.
type RemoteConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// SourceConfig declares one polled data source.
type SourceConfig struct {
	ID             string            `yaml:"id"`
	Kind           string            `yaml:"kind"`
	URL            string            `yaml:"url"`
	PollIntervalMs int64             `yaml:"poll_interval_ms"`
	FreshnessMs    int64             `yaml:"freshness_ms"`
	Headers        map[string]string `yaml:"headers"`
	Options        map[string]string `yaml:"options"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
// An unreadable or malformed file is logged and the defaults are kept.
func Load() Config {
	path := os.Getenv(configPathEnv)
	cfg, err := LoadFile(path)
	if err != nil {
		slog.Warn("config: falling back to defaults", "path", path, "error", err)
		cfg = defaultConfig()
		cfg.applyEnvOverrides()
	}
	return cfg
}

// LoadFile merges the YAML file at path onto the defaults. An empty path
// yields the defaults with environment overrides.
func LoadFile(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
		for key := range fileCfg.Extra {
			slog.Warn("config: unknown option ignored", "option", key)
		}
		cfg = mergeConfig(cfg, fileCfg)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = strings.ToLower(v)
	}
	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
	if v := os.Getenv(slackTokenEnv); v != "" {
		c.Notifications.Slack.BotToken = v
	}
	if v := os.Getenv(slackChannelEnv); v != "" {
		c.Notifications.Slack.Channel = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.Database.Driver != "" {
		base.Database.Driver = strings.ToLower(override.Database.Driver)
	}
	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}
	if override.HTTP.Addr != "" {
		base.HTTP.Addr = override.HTTP.Addr
	}
	if override.SessionID != "" {
		base.SessionID = override.SessionID
	}

	for id, ms := range override.PollIntervalsMs {
		base.PollIntervalsMs[id] = ms
	}
	for id, ms := range override.StalenessThresholdsMs {
		base.StalenessThresholdsMs[id] = ms
	}

	if override.UrgencyThresholds.High != 0 {
		base.UrgencyThresholds.High = override.UrgencyThresholds.High
	}
	if override.UrgencyThresholds.Critical != 0 {
		base.UrgencyThresholds.Critical = override.UrgencyThresholds.Critical
	}

	d := override.Delivery
	if d.FocusDetectionWindowMs != 0 {
		base.Delivery.FocusDetectionWindowMs = d.FocusDetectionWindowMs
	}
	if d.MinCalls != 0 {
		base.Delivery.MinCalls = d.MinCalls
	}
	if d.BatchWindowMs != 0 {
		base.Delivery.BatchWindowMs = d.BatchWindowMs
	}
	if d.DuplicateWindowMs != 0 {
		base.Delivery.DuplicateWindowMs = d.DuplicateWindowMs
	}
	if d.BatchMaxSize != 0 {
		base.Delivery.BatchMaxSize = d.BatchMaxSize
	}
	if d.DigestCron != "" {
		base.Delivery.DigestCron = d.DigestCron
	}

	f := override.Feedback
	if f.ActionWindowMs != 0 {
		base.Feedback.ActionWindowMs = f.ActionWindowMs
	}
	if f.RateIncreasePerAct != 0 {
		base.Feedback.RateIncreasePerAct = f.RateIncreasePerAct
	}
	if f.RateDecreasePerIgnore != 0 {
		base.Feedback.RateDecreasePerIgnore = f.RateDecreasePerIgnore
	}
	if f.MinObservations != 0 {
		base.Feedback.MinObservations = f.MinObservations
	}
	if f.LowValueThreshold != 0 {
		base.Feedback.LowValueThreshold = f.LowValueThreshold
	}
	if f.SweepIntervalMs != 0 {
		base.Feedback.SweepIntervalMs = f.SweepIntervalMs
	}
	if f.LowValuePolicy != "" {
		base.Feedback.LowValuePolicy = f.LowValuePolicy
	}
	if f.AckPattern != "" {
		base.Feedback.AckPattern = f.AckPattern
	}

	if override.Patterns.MinObservations != 0 {
		base.Patterns.MinObservations = override.Patterns.MinObservations
	}
	if override.Patterns.MinActionRate != 0 {
		base.Patterns.MinActionRate = override.Patterns.MinActionRate
	}
	if override.Patterns.HistoryDays != 0 {
		base.Patterns.HistoryDays = override.Patterns.HistoryDays
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}
	if override.Notifications.Telegram.APIBase != "" {
		base.Notifications.Telegram.APIBase = override.Notifications.Telegram.APIBase
	}
	if override.Notifications.Slack.BotToken != "" {
		base.Notifications.Slack.BotToken = override.Notifications.Slack.BotToken
	}
	if override.Notifications.Slack.Channel != "" {
		base.Notifications.Slack.Channel = override.Notifications.Slack.Channel
	}

	if len(override.Events.Kafka.Brokers) > 0 {
		base.Events.Kafka.Brokers = override.Events.Kafka.Brokers
	}
	if override.Events.Kafka.Topic != "" {
		base.Events.Kafka.Topic = override.Events.Kafka.Topic
	}

	if len(override.Generator.Rules) > 0 {
		base.Generator.Rules = override.Generator.Rules
	}
	if override.Generator.Remote.URL != "" {
		base.Generator.Remote = override.Generator.Remote
	}
	for k, v := range override.Generator.Options {
		base.Generator.Options[k] = v
	}

	if len(override.Sources) > 0 {
		base.Sources = override.Sources
	}
	for source, words := range override.Keywords {
		base.Keywords[source] = words
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Logging:               LoggingConfig{Level: "info", Format: "text"},
		Database:              DatabaseConfig{Driver: "sqlite", DSN: defaultSQLitePath},
		HTTP:                  HTTPConfig{Addr: defaultHTTPAddress},
		SessionID:             "default",
		PollIntervalsMs:       map[string]int64{},
		StalenessThresholdsMs: map[string]int64{},
		UrgencyThresholds:     UrgencyThresholdsConfig{High: 0.60, Critical: 0.80},
		Delivery: DeliveryConfig{
			FocusDetectionWindowMs: 90_000,
			MinCalls:               3,
			BatchWindowMs:          300_000,
			DuplicateWindowMs:      300_000,
			BatchMaxSize:           10,
		},
		Feedback: FeedbackConfig{
			ActionWindowMs:        600_000,
			RateIncreasePerAct:    0.10,
			RateDecreasePerIgnore: 0.05,
			MinObservations:       20,
			LowValueThreshold:     0.10,
			SweepIntervalMs:       600_000,
			LowValuePolicy:        "report",
		},
		Patterns:  PatternsConfig{MinObservations: 3, MinActionRate: 0.30, HistoryDays: 30},
		Events:    EventsConfig{Kafka: KafkaConfig{Topic: "proactive-insights"}},
		Generator: GeneratorConfig{Options: map[string]string{}},
		Keywords:  map[string][]string{},
	}
}

// Millis converts a millisecond option to a duration.
func Millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// PollInterval resolves the effective interval of a source: the
// poll_intervals_ms entry wins over the source's own setting.
func (c Config) PollInterval(src SourceConfig) time.Duration {
	if ms, ok := c.PollIntervalsMs[src.ID]; ok {
		return Millis(ms)
	}
	return Millis(src.PollIntervalMs)
}

// Staleness returns the per-source freshness overrides as durations.
func (c Config) Staleness() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.StalenessThresholdsMs))
	for id, ms := range c.StalenessThresholdsMs {
		if ms > 0 {
			out[id] = Millis(ms)
		}
	}
	return out
}
