package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ApplyDefaults fills unset options.
func ApplyDefaults(cfg *Config) {
	e := &cfg.AlertEngine.Engine
	if e.EscalationTimeoutMinutes == 0 {
		e.EscalationTimeoutMinutes = 60
	}
	if e.MaxAlertsPerHour == 0 {
		e.MaxAlertsPerHour = 100
	}
	if e.AnomalySensitivity == 0 {
		e.AnomalySensitivity = 0.5
	}
	if e.AnomalyMethod == "" {
		e.AnomalyMethod = "zscore"
	}
	if e.SeasonalPeriod == 0 {
		e.SeasonalPeriod = 24
	}

	s := &cfg.AlertEngine.Schedule
	if s.RuleInterval <= 0 {
		s.RuleInterval = time.Minute
	}
	if s.EscalationInterval <= 0 {
		s.EscalationInterval = 5 * time.Minute
	}
	for i := range s.Streams {
		if s.Streams[i].Interval <= 0 {
			s.Streams[i].Interval = 5 * time.Minute
		}
		if s.Streams[i].Lookback <= 0 {
			s.Streams[i].Lookback = 24 * time.Hour
		}
	}

	if cfg.AlertEngine.Rules.Path == "" {
		cfg.AlertEngine.Rules.Path = "rules.yml"
	}

	src := &cfg.AlertEngine.Source
	if src.Mode == "" {
		src.Mode = "redis"
	}
	if src.Redis.Addr == "" {
		src.Redis.Addr = "127.0.0.1:6379"
	}
	if src.Redis.KeyPrefix == "" {
		src.Redis.KeyPrefix = "alertengine:metrics"
	}

	in := &cfg.AlertEngine.Ingest
	if in.Key == "" {
		in.Key = "alertengine:ingest"
	}
	if in.Workers <= 0 {
		in.Workers = 4
	}
	if in.BatchSize <= 0 {
		in.BatchSize = 500
	}
	if in.FlushInterval <= 0 {
		in.FlushInterval = time.Second
	}
	if in.BlockTimeout <= 0 {
		in.BlockTimeout = 5 * time.Second
	}

	j := &cfg.AlertEngine.Journal
	if j.BatchSize <= 0 {
		j.BatchSize = 200
	}
	if j.FlushInterval <= 0 {
		j.FlushInterval = 2 * time.Second
	}
	for i := range j.Outputs {
		out := &j.Outputs[i]
		if out.Mode == "" {
			out.Mode = "file"
		}
		if out.Mode == "file" && out.File.Path == "" {
			out.File.Path = "output/alert_events.jsonl"
		}
		if out.Mode == "clickhouse" {
			if out.ClickHouse.Database == "" {
				out.ClickHouse.Database = "alertengine"
			}
			if out.ClickHouse.Table == "" {
				out.ClickHouse.Table = "alert_events"
			}
		}
	}

	if cfg.AlertEngine.Metrics.Listen == "" {
		cfg.AlertEngine.Metrics.Listen = ":9464"
	}
	if cfg.AlertEngine.Metrics.Path == "" {
		cfg.AlertEngine.Metrics.Path = "/metrics"
	}

	if cfg.AlertEngine.Logging.Level == "" {
		cfg.AlertEngine.Logging.Level = "info"
	}
}

// Validate checks option ranges and cross references.
func Validate(cfg *Config) error {
	var errs []error
	e := cfg.AlertEngine.Engine

	if e.EscalationTimeoutMinutes <= 0 {
		errs = append(errs, fmt.Errorf("engine.escalation_timeout_minutes must be > 0, got %d", e.EscalationTimeoutMinutes))
	}
	if e.MaxAlertsPerHour <= 0 {
		errs = append(errs, fmt.Errorf("engine.max_alerts_per_hour must be > 0, got %d", e.MaxAlertsPerHour))
	}
	if e.AnomalySensitivity <= 0 || e.AnomalySensitivity >= 1 {
		errs = append(errs, fmt.Errorf("engine.anomaly_sensitivity must be in (0,1), got %g", e.AnomalySensitivity))
	}
	switch e.AnomalyMethod {
	case "zscore", "iqr", "seasonal":
	default:
		errs = append(errs, fmt.Errorf("engine.anomaly_method %q is not one of zscore, iqr, seasonal", e.AnomalyMethod))
	}
	if e.SeasonalPeriod < 2 {
		errs = append(errs, fmt.Errorf("engine.seasonal_period must be >= 2, got %d", e.SeasonalPeriod))
	}
	if e.AnomalyMinScore < 0 || e.AnomalyMinScore > 1 {
		errs = append(errs, fmt.Errorf("engine.anomaly_min_score must be in [0,1], got %g", e.AnomalyMinScore))
	}

	ids := make(map[string]struct{}, len(cfg.AlertEngine.Channels))
	for i, ch := range cfg.AlertEngine.Channels {
		if strings.TrimSpace(ch.ID) == "" {
			errs = append(errs, fmt.Errorf("channels[%d]: id is required", i))
			continue
		}
		if _, dup := ids[ch.ID]; dup {
			errs = append(errs, fmt.Errorf("channels[%d]: duplicate id %q", i, ch.ID))
		}
		ids[ch.ID] = struct{}{}
	}
	for _, id := range e.DefaultChannels {
		if _, ok := ids[id]; !ok {
			errs = append(errs, fmt.Errorf("engine.default_channels references unknown channel %q", id))
		}
	}

	for i, st := range cfg.AlertEngine.Schedule.Streams {
		if strings.TrimSpace(st.Metric) == "" {
			errs = append(errs, fmt.Errorf("schedule.streams[%d]: metric is required", i))
		}
	}
	if cfg.AlertEngine.Source.Mode != "redis" {
		errs = append(errs, fmt.Errorf("source.mode %q is not supported", cfg.AlertEngine.Source.Mode))
	}
	for i, out := range cfg.AlertEngine.Journal.Outputs {
		switch out.Mode {
		case "file", "clickhouse", "nats":
		default:
			errs = append(errs, fmt.Errorf("journal.outputs[%d]: unknown mode %q", i, out.Mode))
		}
	}

	return errors.Join(errs...)
}

// EscalationTimeout returns the timeout as a duration.
func (e EngineConfig) EscalationTimeout() time.Duration {
	return time.Duration(e.EscalationTimeoutMinutes) * time.Minute
}
