package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"alertengine/internal/anomaly"
	"alertengine/internal/logger"
	"alertengine/internal/rules"
	"alertengine/internal/source"
	"alertengine/internal/telemetry"
	"alertengine/pkg/models"
)

// Config controls alert manager behavior.
type Config struct {
	DefaultChannels         []string
	EscalationTimeout       time.Duration
	MaxAlertsPerHour        int
	AnomalyDetectionEnabled bool
	Anomaly                 anomaly.Config
	// AnomalyMinScore is the lowest anomaly score that raises an alert.
	AnomalyMinScore float64
	// AutoResolve closes a rule's open alert once its condition no longer holds.
	AutoResolve bool
	// NotifyOnResolve sends a resolution notice on the alert's channels.
	NotifyOnResolve bool
}

// Notifier delivers notifications and reports one record per channel.
type Notifier interface {
	Dispatch(ctx context.Context, channelIDs []string, kind string, alert *models.Alert, reason string) []models.DeliveryRecord
}

// EventSink receives lifecycle events. Publish must not block.
type EventSink interface {
	Publish(event models.AlertEvent)
}

// Option customizes a Manager.
type Option func(*Manager)

// WithMetrics records engine metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithEventSink publishes lifecycle events.
func WithEventSink(sink EventSink) Option {
	return func(mgr *Manager) { mgr.events = sink }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) { mgr.now = now }
}

// Manager owns the alert store and drives rule evaluation, anomaly
// processing, lifecycle transitions and escalation.
type Manager struct {
	cfg      Config
	store    *Store
	detector *anomaly.Detector
	source   source.Source
	notifier Notifier
	events   EventSink
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

// NewManager creates a manager with an empty store.
func NewManager(cfg Config, src source.Source, notifier Notifier, opts ...Option) *Manager {
	if cfg.EscalationTimeout <= 0 {
		cfg.EscalationTimeout = 60 * time.Minute
	}
	if cfg.MaxAlertsPerHour <= 0 {
		cfg.MaxAlertsPerHour = 100
	}

	m := &Manager{
		cfg:      cfg,
		source:   src,
		notifier: notifier,
		tracer:   otel.Tracer("alertengine/alerts"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.detector = anomaly.NewDetector(cfg.Anomaly)
	m.store = NewStore(cfg.MaxAlertsPerHour, m.now)
	return m
}

// Store exposes the lifecycle store for reads.
func (m *Manager) Store() *Store {
	return m.store
}

// CheckRateLimit reports whether another alert may be dispatched this hour.
func (m *Manager) CheckRateLimit() bool {
	return m.store.Limiter().Check()
}

// EvaluateRules evaluates enabled rules in order and returns the alerts
// created. Rules whose metric cannot be read, or whose condition is unknown,
// are logged and skipped.
func (m *Manager) EvaluateRules(ctx context.Context, ruleSet []models.AlertRule) []*models.Alert {
	ctx, span := m.tracer.Start(ctx, "alerts.evaluate_rules")
	defer span.End()

	var created []*models.Alert
	evaluated := 0
	for i := range ruleSet {
		if ctx.Err() != nil {
			logger.Warnf("Rule evaluation interrupted after %d rules: %v", evaluated, ctx.Err())
			break
		}
		rule := &ruleSet[i]
		if !rule.Enabled {
			continue
		}
		if !rules.ValidCondition(rule.Condition) {
			logger.Warnf("Rule %s has invalid condition %q, treating as disabled", rule.ID, rule.Condition)
			m.metrics.EvaluationError("invalid_condition")
			continue
		}

		value, err := m.source.CurrentValue(ctx, rule.MetricName)
		if err != nil {
			if errors.Is(err, source.ErrMetricUnavailable) {
				logger.Warnf("Rule %s skipped: %v", rule.ID, err)
			} else {
				logger.Errorf("Rule %s skipped: metric %s lookup failed: %v", rule.ID, rule.MetricName, err)
			}
			m.metrics.EvaluationError("metric_unavailable")
			continue
		}
		evaluated++

		triggered, err := rules.Evaluate(rule, value)
		if err != nil {
			logger.Warnf("Rule %s skipped: %v", rule.ID, err)
			m.metrics.EvaluationError("invalid_condition")
			continue
		}
		if !triggered {
			if m.cfg.AutoResolve {
				m.autoResolve(ctx, models.DedupKey{RuleID: rule.ID, Target: rule.AffectedTarget()}, value)
			}
			continue
		}

		if a := m.raise(ctx, m.alertFromRule(rule, value), m.channelsFor(rule.Channels)); a != nil {
			created = append(created, a)
		}
	}

	span.SetAttributes(
		attribute.Int("rules", len(ruleSet)),
		attribute.Int("evaluated", evaluated),
		attribute.Int("created", len(created)),
	)
	return created
}

// ProcessAnomalyDetection runs the detector over samples and raises an
// alert for each result scoring at least AnomalyMinScore. All detected
// results are returned.
func (m *Manager) ProcessAnomalyDetection(ctx context.Context, metricName string, samples []models.MetricSample) []models.AnomalyResult {
	if !m.cfg.AnomalyDetectionEnabled {
		return nil
	}
	ctx, span := m.tracer.Start(ctx, "alerts.process_anomaly_detection")
	defer span.End()

	results := m.detector.Detect(samples)
	for i := range results {
		results[i].MetricName = metricName
	}
	method := m.detector.Config().Method
	m.metrics.AnomaliesDetected(method, len(results))
	span.SetAttributes(
		attribute.String("metric", metricName),
		attribute.String("method", method),
		attribute.Int("samples", len(samples)),
		attribute.Int("anomalies", len(results)),
	)

	var qualifying []models.AnomalyResult
	for _, r := range results {
		if r.AnomalyScore >= m.cfg.AnomalyMinScore {
			qualifying = append(qualifying, r)
		}
	}
	// Passes overlap in time; a sample already offered is not a new trigger.
	fresh := m.store.claimAnomalies(metricName, qualifying)
	if skipped := len(qualifying) - len(fresh); skipped > 0 {
		logger.Debugf("Skipped %d anomalies in %s already seen by an earlier pass", skipped, metricName)
	}

	channels := m.channelsFor(nil)
	for _, r := range fresh {
		m.raise(ctx, m.alertFromAnomaly(r), channels)
	}
	return results
}

// Acknowledge moves an ACTIVE alert to ACKNOWLEDGED.
func (m *Manager) Acknowledge(id, user string) error {
	a, err := m.store.acknowledge(id, user, m.now().UTC())
	if err != nil {
		logger.Warnf("Acknowledge %s by %s rejected: %v", id, user, err)
		return err
	}
	logger.Infof("Alert %s acknowledged by %s", id, user)
	m.metrics.Transition(string(models.StatusAcknowledged), false)
	m.publish(models.NewAlertEvent(models.EventAcknowledged, *a.AcknowledgedAt, a))
	return nil
}

// Resolve moves an ACTIVE or ACKNOWLEDGED alert to RESOLVED and appends notes.
func (m *Manager) Resolve(ctx context.Context, id, notes string) error {
	a, err := m.store.resolve(id, notes, m.now().UTC())
	if err != nil {
		logger.Warnf("Resolve %s rejected: %v", id, err)
		return err
	}
	logger.Infof("Alert %s resolved", id)
	m.afterResolve(ctx, a, notes)
	return nil
}

// EscalateUnacknowledged sends one escalation notification for every ACTIVE
// alert older than the escalation timeout and returns how many were
// escalated. Status is left unchanged.
func (m *Manager) EscalateUnacknowledged(ctx context.Context) int {
	ctx, span := m.tracer.Start(ctx, "alerts.escalate_unacknowledged")
	defer span.End()

	now := m.now().UTC()
	due := m.store.markEscalations(now.Add(-m.cfg.EscalationTimeout), now)
	for _, a := range due {
		age := now.Sub(a.TriggeredAt).Truncate(time.Minute)
		reason := fmt.Sprintf("unacknowledged for %s (escalation #%d)", age, a.EscalationCount)
		logger.Warnf("Escalating alert %s: %s", a.ID, reason)

		m.metrics.Escalated()
		m.publish(models.NewAlertEvent(models.EventEscalated, now, a))
		m.deliver(ctx, a, models.KindEscalation, reason)
	}
	span.SetAttributes(attribute.Int("escalated", len(due)))
	return len(due)
}

// Get returns a copy of one alert.
func (m *Manager) Get(id string) (*models.Alert, error) {
	return m.store.Get(id)
}

// List returns copies of alerts in creation order, optionally filtered by status.
func (m *Manager) List(statuses ...models.Status) []*models.Alert {
	return m.store.List(statuses...)
}

// raise runs the dedup and rate-limit gate and, if admitted, dispatches the
// alert. It returns the stored alert with its delivery history, or nil.
func (m *Manager) raise(ctx context.Context, candidate *models.Alert, channels []string) *models.Alert {
	candidate.Channels = channels

	outcome, stored := m.store.admit(candidate)
	switch outcome {
	case suppressedDedup:
		logger.Debugf("Trigger for %s/%s suppressed: alert %s still %s", candidate.RuleID, candidate.AffectedTarget, stored.ID, stored.Status)
		m.metrics.AlertSuppressed(telemetry.ReasonDedup)
		return nil
	case suppressedRateLimit:
		logger.Warnf("Trigger for %s/%s suppressed: %d alerts dispatched in the last hour", candidate.RuleID, candidate.AffectedTarget, m.cfg.MaxAlertsPerHour)
		m.metrics.AlertSuppressed(telemetry.ReasonRateLimit)
		ev := models.NewAlertEvent(models.EventSuppressed, candidate.TriggeredAt, candidate)
		ev.AlertID = ""
		ev.Detail = telemetry.ReasonRateLimit
		m.publish(ev)
		return nil
	}

	logger.Infof("Alert %s created: %s (%s, %s=%g)", stored.ID, stored.Title, stored.Severity, stored.MetricName, stored.MetricValue)
	m.metrics.AlertCreated(stored.Source, string(stored.Severity))
	m.publish(models.NewAlertEvent(models.EventCreated, stored.TriggeredAt, stored))

	stored.Deliveries = m.deliver(ctx, stored, models.KindAlert, "")
	return stored
}

func (m *Manager) deliver(ctx context.Context, a *models.Alert, kind, reason string) []models.DeliveryRecord {
	if m.notifier == nil || len(a.Channels) == 0 {
		return nil
	}
	// Deliveries run to completion even if the caller is shutting down.
	recs := m.notifier.Dispatch(context.WithoutCancel(ctx), a.Channels, kind, a, reason)
	m.store.appendDeliveries(a.ID, recs)
	for _, rec := range recs {
		ev := models.NewAlertEvent(models.EventDelivery, rec.AttemptedAt, a)
		ev.Channel = rec.Channel
		ev.Kind = rec.Kind
		ev.Success = rec.Success
		ev.Detail = rec.Error
		m.publish(ev)
	}
	return recs
}

func (m *Manager) autoResolve(ctx context.Context, key models.DedupKey, value float64) {
	a, ok := m.store.resolveKey(key, fmt.Sprintf("auto-resolved: condition cleared at value %g", value), m.now().UTC())
	if !ok {
		return
	}
	logger.Infof("Alert %s auto-resolved", a.ID)
	m.afterResolve(ctx, a, "")
}

func (m *Manager) afterResolve(ctx context.Context, a *models.Alert, reason string) {
	m.metrics.Transition(string(models.StatusResolved), true)
	m.publish(models.NewAlertEvent(models.EventResolved, *a.ResolvedAt, a))
	if m.cfg.NotifyOnResolve {
		m.deliver(ctx, a, models.KindResolution, reason)
	}
}

func (m *Manager) publish(ev models.AlertEvent) {
	if m.events == nil {
		return
	}
	m.events.Publish(ev)
}

func (m *Manager) channelsFor(ruleChannels []string) []string {
	if len(ruleChannels) > 0 {
		return append([]string(nil), ruleChannels...)
	}
	return append([]string(nil), m.cfg.DefaultChannels...)
}

func (m *Manager) alertFromRule(rule *models.AlertRule, value float64) *models.Alert {
	severity := rule.Severity
	if severity == "" {
		severity = models.SeverityMedium
	}
	desc := rule.Description
	if desc == "" {
		desc = fmt.Sprintf("%s is %g, %s %g", rule.MetricName, value, conditionPhrase(rule.Condition), rule.Threshold)
	}
	return &models.Alert{
		ID:             uuid.NewString(),
		RuleID:         rule.ID,
		Source:         models.SourceRule,
		Title:          rule.Name,
		Description:    desc,
		Severity:       severity,
		MetricName:     rule.MetricName,
		MetricValue:    value,
		ThresholdValue: rule.Threshold,
		AffectedTarget: rule.AffectedTarget(),
		TriggeredAt:    m.now().UTC(),
		Status:         models.StatusActive,
	}
}

func (m *Manager) alertFromAnomaly(r models.AnomalyResult) *models.Alert {
	threshold := r.ExpectedHigh
	if r.Value < r.ExpectedLow {
		threshold = r.ExpectedLow
	}
	return &models.Alert{
		ID:     uuid.NewString(),
		Source: models.SourceAnomaly,
		Title:  fmt.Sprintf("Anomaly detected in %s", r.MetricName),
		Description: fmt.Sprintf("%s value %g at %s outside expected range [%g, %g] (%s, score %.2f)",
			r.MetricName, r.Value, r.Timestamp.UTC().Format(time.RFC3339), r.ExpectedLow, r.ExpectedHigh, r.Method, r.AnomalyScore),
		Severity:       r.Severity,
		MetricName:     r.MetricName,
		MetricValue:    r.Value,
		ThresholdValue: threshold,
		AffectedTarget: r.MetricName,
		TriggeredAt:    m.now().UTC(),
		Status:         models.StatusActive,
	}
}

func conditionPhrase(c models.Condition) string {
	switch c {
	case models.ConditionGreaterThan:
		return "above threshold"
	case models.ConditionLessThan:
		return "below threshold"
	case models.ConditionEquals:
		return "equal to threshold"
	default:
		return string(c)
	}
}
