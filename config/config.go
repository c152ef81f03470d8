package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	AlertEngine AlertEngineConfig `yaml:"alertengine"`
}

// AlertEngineConfig is the project configuration.
type AlertEngineConfig struct {
	Engine   EngineConfig    `yaml:"engine"`
	Schedule ScheduleConfig  `yaml:"schedule"`
	Rules    RulesConfig     `yaml:"rules"`
	Source   SourceConfig    `yaml:"source"`
	Ingest   IngestConfig    `yaml:"ingest"`
	Channels []ChannelConfig `yaml:"channels"`
	Journal  JournalConfig   `yaml:"journal"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// EngineConfig holds the alert manager options.
type EngineConfig struct {
	DefaultChannels          []string `yaml:"default_channels"`
	EscalationTimeoutMinutes int      `yaml:"escalation_timeout_minutes"`
	MaxAlertsPerHour         int      `yaml:"max_alerts_per_hour"`
	AnomalyDetectionEnabled  bool     `yaml:"anomaly_detection_enabled"`
	AnomalySensitivity       float64  `yaml:"anomaly_sensitivity"`
	AnomalyMethod            string   `yaml:"anomaly_method"` // zscore|iqr|seasonal
	SeasonalPeriod           int      `yaml:"seasonal_period"`
	AnomalyMinScore          float64  `yaml:"anomaly_min_score"`
	AutoResolve              bool     `yaml:"auto_resolve"`
	NotifyOnResolve          bool     `yaml:"notify_on_resolve"`
	DashboardURL             string   `yaml:"dashboard_url"`
}

// ScheduleConfig controls periodic tasks.
type ScheduleConfig struct {
	RuleInterval       time.Duration  `yaml:"rule_interval"`
	EscalationInterval time.Duration  `yaml:"escalation_interval"`
	RunOnStart         bool           `yaml:"run_on_start"`
	Streams            []StreamConfig `yaml:"streams"`
}

// StreamConfig is one metric watched by anomaly detection.
type StreamConfig struct {
	Metric   string        `yaml:"metric"`
	Interval time.Duration `yaml:"interval"`
	Lookback time.Duration `yaml:"lookback"`
}

// RulesConfig points at the rule file.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// SourceConfig selects the metric source.
type SourceConfig struct {
	Mode  string      `yaml:"mode"` // redis
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig controls Redis metric access.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	Retention time.Duration `yaml:"retention"`
}

// IngestConfig controls the Redis list consumer feeding the metric store.
type IngestConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Key           string        `yaml:"key"`
	Workers       int           `yaml:"workers"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BlockTimeout  time.Duration `yaml:"block_timeout"`
}

// ChannelConfig configures one notification channel.
type ChannelConfig struct {
	ID      string           `yaml:"id"`
	Type    string           `yaml:"type"` // email|chat|webhook
	Email   EmailConfig      `yaml:"email"`
	Chat    ChatConfig       `yaml:"chat"`
	Webhook HTTPOutputConfig `yaml:"webhook"`
}

// EmailConfig config for SMTP delivery.
type EmailConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// ChatConfig config for chat incoming webhooks.
type ChatConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Channel    string        `yaml:"channel"`
	Username   string        `yaml:"username"`
	IconEmoji  string        `yaml:"icon_emoji"`
	Timeout    time.Duration `yaml:"timeout"`
}

// HTTPOutputConfig config for remote HTTP delivery.
type HTTPOutputConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// JournalConfig controls lifecycle event output.
type JournalConfig struct {
	Enabled       bool                  `yaml:"enabled"`
	QueueSize     int                   `yaml:"queue_size"`
	BatchSize     int                   `yaml:"batch_size"`
	FlushInterval time.Duration         `yaml:"flush_interval"`
	Outputs       []JournalOutputConfig `yaml:"outputs"`
}

// JournalOutputConfig configures one event sink.
type JournalOutputConfig struct {
	Mode       string                 `yaml:"mode"` // file|clickhouse|nats
	File       FileOutputConfig       `yaml:"file"`
	ClickHouse ClickHouseOutputConfig `yaml:"clickhouse"`
	NATS       NATSOutputConfig       `yaml:"nats"`
}

// ClickHouseOutputConfig config for ClickHouse HTTP JSONEachRow writes.
type ClickHouseOutputConfig struct {
	URL      string        `yaml:"url"`
	Database string        `yaml:"database"`
	Table    string        `yaml:"table"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// NATSOutputConfig config for NATS publishing.
type NATSOutputConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// FileOutputConfig config for local JSON output.
type FileOutputConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
