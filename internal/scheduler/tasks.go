package scheduler

import (
	"context"
	"time"

	"alertengine/internal/logger"
	"alertengine/internal/source"
	"alertengine/pkg/models"
)

// Engine is the subset of the alert manager the periodic tasks drive.
type Engine interface {
	EvaluateRules(ctx context.Context, rules []models.AlertRule) []*models.Alert
	ProcessAnomalyDetection(ctx context.Context, metricName string, samples []models.MetricSample) []models.AnomalyResult
	EscalateUnacknowledged(ctx context.Context) int
}

// Stream is one metric watched by a periodic anomaly pass.
type Stream struct {
	Metric   string
	Interval time.Duration
	Lookback time.Duration
}

// RuleTask evaluates the rules returned by load on every run.
func RuleTask(interval time.Duration, engine Engine, load func() []models.AlertRule) Task {
	return Task{
		Name:     "rules",
		Interval: interval,
		Run: func(ctx context.Context) {
			created := engine.EvaluateRules(ctx, load())
			if len(created) > 0 {
				logger.Infof("Rule evaluation created %d alerts", len(created))
			}
		},
	}
}

// EscalationTask runs the unacknowledged-alert sweep.
func EscalationTask(interval time.Duration, engine Engine) Task {
	return Task{
		Name:     "escalation",
		Interval: interval,
		Run: func(ctx context.Context) {
			if n := engine.EscalateUnacknowledged(ctx); n > 0 {
				logger.Infof("Escalation sweep escalated %d alerts", n)
			}
		},
	}
}

// AnomalyTask fetches the stream's trailing window and hands it to the engine.
// A failed fetch skips the run.
func AnomalyTask(stream Stream, engine Engine, src source.Source, now func() time.Time) Task {
	if now == nil {
		now = time.Now
	}
	if stream.Lookback <= 0 {
		stream.Lookback = 24 * time.Hour
	}
	return Task{
		Name:     "anomaly:" + stream.Metric,
		Interval: stream.Interval,
		Run: func(ctx context.Context) {
			end := now()
			samples, err := src.Series(ctx, stream.Metric, end.Add(-stream.Lookback), end)
			if err != nil {
				logger.Warnf("Anomaly pass for %s skipped: %v", stream.Metric, err)
				return
			}
			results := engine.ProcessAnomalyDetection(ctx, stream.Metric, samples)
			logger.Debugf("Anomaly pass for %s: %d samples, %d anomalies", stream.Metric, len(samples), len(results))
		},
	}
}
