package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
alertengine:
  engine:
    default_channels: [ops-mail]
    escalation_timeout_minutes: 30
    max_alerts_per_hour: 20
    anomaly_detection_enabled: true
    anomaly_sensitivity: 0.7
    anomaly_method: seasonal
  schedule:
    rule_interval: 30s
    streams:
      - metric: queue_depth
  channels:
    - id: ops-mail
      type: email
      email:
        host: smtp.example.com
        from: alerts@example.com
        to: [ops@example.com]
    - id: ops-chat
      type: chat
      chat:
        webhook_url: https://chat.example.com/hook
  journal:
    enabled: true
    outputs:
      - mode: file
      - mode: clickhouse
        clickhouse:
          url: http://clickhouse:8123
`

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alertengine.yml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}

	e := cfg.AlertEngine.Engine
	if e.EscalationTimeout() != 30*time.Minute || e.MaxAlertsPerHour != 20 || !e.AnomalyDetectionEnabled {
		t.Fatalf("engine options not loaded: %+v", e)
	}
	if e.SeasonalPeriod != 24 {
		t.Fatalf("expected default seasonal period, got %d", e.SeasonalPeriod)
	}

	s := cfg.AlertEngine.Schedule
	if s.RuleInterval != 30*time.Second || s.EscalationInterval != 5*time.Minute {
		t.Fatalf("unexpected intervals: %+v", s)
	}
	if s.Streams[0].Interval != 5*time.Minute || s.Streams[0].Lookback != 24*time.Hour {
		t.Fatalf("stream defaults not applied: %+v", s.Streams[0])
	}

	outs := cfg.AlertEngine.Journal.Outputs
	if outs[0].File.Path != "output/alert_events.jsonl" || outs[1].ClickHouse.Table != "alert_events" {
		t.Fatalf("journal defaults not applied: %+v", outs)
	}
	if cfg.AlertEngine.Source.Redis.Addr != "127.0.0.1:6379" {
		t.Fatalf("redis default not applied")
	}
}

func TestValidateRejectsOutOfRangeOptions(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.AlertEngine.Engine.AnomalySensitivity = 1
	cfg.AlertEngine.Engine.MaxAlertsPerHour = -1
	cfg.AlertEngine.Engine.EscalationTimeoutMinutes = -5
	cfg.AlertEngine.Engine.DefaultChannels = []string{"missing"}
	cfg.AlertEngine.Channels = []ChannelConfig{{ID: "a"}, {ID: "a"}}

	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"anomaly_sensitivity", "max_alerts_per_hour", "escalation_timeout_minutes", "unknown channel \"missing\"", "duplicate id"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestIngestDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	in := cfg.AlertEngine.Ingest
	if in.Enabled {
		t.Fatal("ingest should be off unless enabled")
	}
	if in.Key != "alertengine:ingest" || in.Workers != 4 || in.BatchSize != 500 {
		t.Fatalf("unexpected ingest defaults: %+v", in)
	}
	if in.FlushInterval != time.Second || in.BlockTimeout != 5*time.Second {
		t.Fatalf("unexpected ingest timings: %+v", in)
	}
}
