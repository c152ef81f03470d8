package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertengine/internal/notify"
	"alertengine/internal/source"
	"alertengine/pkg/models"
)

type fakeSource struct {
	mu     sync.Mutex
	values map[string]float64
	calls  map[string]int
}

func newFakeSource(values map[string]float64) *fakeSource {
	return &fakeSource{values: values, calls: map[string]int{}}
}

func (f *fakeSource) set(metric string, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[metric] = v
}

func (f *fakeSource) CurrentValue(_ context.Context, metric string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[metric]++
	v, ok := f.values[metric]
	if !ok {
		return 0, fmt.Errorf("%w: %s", source.ErrMetricUnavailable, metric)
	}
	return v, nil
}

func (f *fakeSource) Series(context.Context, string, time.Time, time.Time) ([]models.MetricSample, error) {
	return nil, nil
}

type dispatch struct {
	channels []string
	kind     string
	alertID  string
	reason   string
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []dispatch
	fails map[string]bool
}

func (f *fakeNotifier) Dispatch(_ context.Context, channelIDs []string, kind string, a *models.Alert, reason string) []models.DeliveryRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, dispatch{channels: channelIDs, kind: kind, alertID: a.ID, reason: reason})
	recs := make([]models.DeliveryRecord, 0, len(channelIDs))
	for _, ch := range channelIDs {
		rec := models.DeliveryRecord{AlertID: a.ID, Channel: ch, Kind: kind, Success: !f.fails[ch]}
		if f.fails[ch] {
			rec.Error = "unreachable"
		}
		recs = append(recs, rec)
	}
	return recs
}

func (f *fakeNotifier) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, d := range f.sent {
		out = append(out, d.kind)
	}
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.AlertEvent
}

func (r *recordingSink) Publish(ev models.AlertEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	mgr      *Manager
	src      *fakeSource
	notifier *fakeNotifier
	sink     *recordingSink
	clock    *testClock
}

func newHarness(cfg Config, values map[string]float64) *harness {
	h := &harness{
		src:      newFakeSource(values),
		notifier: &fakeNotifier{fails: map[string]bool{}},
		sink:     &recordingSink{},
		clock:    &testClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)},
	}
	if cfg.DefaultChannels == nil {
		cfg.DefaultChannels = []string{"ops-mail"}
	}
	h.mgr = NewManager(cfg, h.src, h.notifier, WithClock(h.clock.now), WithEventSink(h.sink))
	return h
}

func errorRateRule() models.AlertRule {
	return models.AlertRule{
		ID:         "high-error-rate",
		Name:       "High error rate",
		MetricName: "error_rate",
		Condition:  models.ConditionGreaterThan,
		Threshold:  0.05,
		Severity:   models.SeverityHigh,
		Channels:   []string{"ops-chat", "ops-hook"},
		Enabled:    true,
	}
}

func TestEvaluateRulesCreatesAndDispatches(t *testing.T) {
	h := newHarness(Config{}, map[string]float64{"error_rate": 0.07, "latency": 120})
	latency := models.AlertRule{ID: "slow", Name: "Slow", MetricName: "latency", Condition: models.ConditionGreaterThan, Threshold: 100, Enabled: true}

	created := h.mgr.EvaluateRules(context.Background(), []models.AlertRule{errorRateRule(), latency})
	require.Len(t, created, 2)

	first := created[0]
	assert.Equal(t, "high-error-rate", first.RuleID)
	assert.Equal(t, models.StatusActive, first.Status)
	assert.Equal(t, models.SeverityHigh, first.Severity)
	assert.Equal(t, 0.07, first.MetricValue)
	assert.Equal(t, 0.05, first.ThresholdValue)
	assert.Equal(t, "error_rate", first.AffectedTarget)
	assert.Equal(t, models.SourceRule, first.Source)
	assert.NotEmpty(t, first.ID)
	require.Len(t, first.Deliveries, 2)

	second := created[1]
	assert.Equal(t, models.SeverityMedium, second.Severity)
	assert.Equal(t, []string{"ops-mail"}, second.Channels)

	require.Len(t, h.notifier.sent, 2)
	assert.Equal(t, first.ID, h.notifier.sent[0].alertID)
	assert.Equal(t, []string{"ops-chat", "ops-hook"}, h.notifier.sent[0].channels)
	assert.Equal(t, second.ID, h.notifier.sent[1].alertID)
	assert.Contains(t, h.sink.types(), models.EventCreated)
}

func TestEvaluateRulesNotTriggered(t *testing.T) {
	h := newHarness(Config{}, map[string]float64{"error_rate": 0.05})
	assert.Empty(t, h.mgr.EvaluateRules(context.Background(), []models.AlertRule{errorRateRule()}))
	assert.Empty(t, h.notifier.sent)
}

func TestDedupSuppressesSecondTriggerWhileOpen(t *testing.T) {
	h := newHarness(Config{}, map[string]float64{"error_rate": 0.07})
	ctx := context.Background()
	ruleSet := []models.AlertRule{errorRateRule()}

	first := h.mgr.EvaluateRules(ctx, ruleSet)
	require.Len(t, first, 1)
	assert.Empty(t, h.mgr.EvaluateRules(ctx, ruleSet))

	require.NoError(t, h.mgr.Acknowledge(first[0].ID, "alice"))
	assert.Empty(t, h.mgr.EvaluateRules(ctx, ruleSet), "acknowledged alert still holds the dedup key")
	assert.Len(t, h.mgr.List(), 1)

	require.NoError(t, h.mgr.Resolve(ctx, first[0].ID, "fixed"))
	again := h.mgr.EvaluateRules(ctx, ruleSet)
	require.Len(t, again, 1)
	assert.NotEqual(t, first[0].ID, again[0].ID)
	assert.Len(t, h.mgr.List(), 2)
}

func TestDedupIsPerTarget(t *testing.T) {
	h := newHarness(Config{}, map[string]float64{"error_rate": 0.07})
	a := errorRateRule()
	a.Target = "checkout"
	b := errorRateRule()
	b.Target = "search"

	created := h.mgr.EvaluateRules(context.Background(), []models.AlertRule{a, b, a})
	require.Len(t, created, 2)
	assert.Equal(t, "checkout", created[0].AffectedTarget)
	assert.Equal(t, "search", created[1].AffectedTarget)
}

func TestConcurrentEvaluationCreatesOneAlert(t *testing.T) {
	h := newHarness(Config{}, map[string]float64{"error_rate": 0.07})
	ruleSet := []models.AlertRule{errorRateRule()}

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := len(h.mgr.EvaluateRules(context.Background(), ruleSet))
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, total)
	assert.Len(t, h.mgr.List(models.StatusActive), 1)
}

func TestUnavailableMetricDoesNotAbortOtherRules(t *testing.T) {
	h := newHarness(Config{}, map[string]float64{"error_rate": 0.07})
	missing := models.AlertRule{ID: "cpu", Name: "CPU", MetricName: "cpu", Condition: models.ConditionGreaterThan, Threshold: 0.9, Enabled: true}

	created := h.mgr.EvaluateRules(context.Background(), []models.AlertRule{missing, errorRateRule()})
	require.Len(t, created, 1)
	assert.Equal(t, "high-error-rate", created[0].RuleID)
}

func TestDisabledAndInvalidRulesAreSkipped(t *testing.T) {
	h := newHarness(Config{}, map[string]float64{"error_rate": 0.07, "x": 1})
	disabled := errorRateRule()
	disabled.Enabled = false
	invalid := models.AlertRule{ID: "bad", MetricName: "x", Condition: "around", Threshold: 1, Enabled: true}

	assert.Empty(t, h.mgr.EvaluateRules(context.Background(), []models.AlertRule{disabled, invalid}))
	assert.Zero(t, h.src.calls["error_rate"])
	assert.Zero(t, h.src.calls["x"])
}

func TestRateLimitSuppressesAndRecovers(t *testing.T) {
	h := newHarness(Config{MaxAlertsPerHour: 2}, map[string]float64{"error_rate": 0.07})
	ctx := context.Background()
	var ruleSet []models.AlertRule
	for _, target := range []string{"a", "b", "c"} {
		r := errorRateRule()
		r.Target = target
		ruleSet = append(ruleSet, r)
	}

	assert.True(t, h.mgr.CheckRateLimit())
	created := h.mgr.EvaluateRules(ctx, ruleSet)
	require.Len(t, created, 2)
	assert.False(t, h.mgr.CheckRateLimit())
	assert.Contains(t, h.sink.types(), models.EventSuppressed)

	h.clock.advance(61 * time.Minute)
	assert.True(t, h.mgr.CheckRateLimit())
	created = h.mgr.EvaluateRules(ctx, ruleSet)
	require.Len(t, created, 1)
	assert.Equal(t, "c", created[0].AffectedTarget)
}

func TestAcknowledgeLifecycle(t *testing.T) {
	h := newHarness(Config{}, map[string]float64{"error_rate": 0.07})
	ctx := context.Background()
	a := h.mgr.EvaluateRules(ctx, []models.AlertRule{errorRateRule()})[0]

	require.NoError(t, h.mgr.Acknowledge(a.ID, "alice"))
	got, err := h.mgr.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAcknowledged, got.Status)
	assert.Equal(t, "alice", got.AcknowledgedBy)
	require.NotNil(t, got.AcknowledgedAt)
	assert.True(t, got.AcknowledgedAt.Equal(h.clock.now()))

	err = h.mgr.Acknowledge(a.ID, "bob")
	assert.True(t, errors.Is(err, ErrInvalidAlertTransition))
	got, _ = h.mgr.Get(a.ID)
	assert.Equal(t, "alice", got.AcknowledgedBy, "failed transition must not mutate")

	require.NoError(t, h.mgr.Resolve(ctx, a.ID, "rolled back deploy"))
	err = h.mgr.Acknowledge(a.ID, "carol")
	assert.True(t, errors.Is(err, ErrInvalidAlertTransition))
	assert.True(t, errors.Is(h.mgr.Resolve(ctx, a.ID, "again"), ErrInvalidAlertTransition))

	got, _ = h.mgr.Get(a.ID)
	assert.Equal(t, "rolled back deploy", got.ResolutionNotes)
	assert.True(t, errors.Is(h.mgr.Acknowledge("nope", "x"), ErrAlertNotFound))
}

func TestResolveFromActiveStampsTime(t *testing.T) {
	h := newHarness(Config{}, map[string]float64{"error_rate": 0.07})
	ctx := context.Background()
	a := h.mgr.EvaluateRules(ctx, []models.AlertRule{errorRateRule()})[0]

	h.clock.advance(5 * time.Minute)
	require.NoError(t, h.mgr.Resolve(ctx, a.ID, "  transient spike  "))
	got, _ := h.mgr.Get(a.ID)
	assert.Equal(t, models.StatusResolved, got.Status)
	assert.Equal(t, "transient spike", got.ResolutionNotes)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, got.ResolvedAt.Equal(h.clock.now()))
	assert.Nil(t, got.AcknowledgedAt)
}

func TestEscalationOncePerSweepWithoutStatusChange(t *testing.T) {
	h := newHarness(Config{EscalationTimeout: 60 * time.Minute}, map[string]float64{"error_rate": 0.07})
	ctx := context.Background()
	open := h.mgr.EvaluateRules(ctx, []models.AlertRule{errorRateRule()})[0]

	resolvedRule := errorRateRule()
	resolvedRule.Target = "other"
	closed := h.mgr.EvaluateRules(ctx, []models.AlertRule{resolvedRule})[0]
	require.NoError(t, h.mgr.Resolve(ctx, closed.ID, "done"))

	assert.Zero(t, h.mgr.EscalateUnacknowledged(ctx), "nothing is old enough yet")

	h.clock.advance(2 * time.Hour)
	assert.Equal(t, 1, h.mgr.EscalateUnacknowledged(ctx))
	assert.Equal(t, 1, h.mgr.EscalateUnacknowledged(ctx))

	got, _ := h.mgr.Get(open.ID)
	assert.Equal(t, models.StatusActive, got.Status)
	assert.Equal(t, 2, got.EscalationCount)
	require.NotNil(t, got.LastEscalatedAt)

	var escalations []dispatch
	for _, d := range h.notifier.sent {
		if d.kind == models.KindEscalation {
			escalations = append(escalations, d)
		}
	}
	require.Len(t, escalations, 2)
	for _, d := range escalations {
		assert.Equal(t, open.ID, d.alertID)
		assert.Contains(t, d.reason, "unacknowledged for 2h0m0s")
	}

	closedGot, _ := h.mgr.Get(closed.ID)
	assert.Zero(t, closedGot.EscalationCount)

	require.NoError(t, h.mgr.Acknowledge(open.ID, "alice"))
	assert.Zero(t, h.mgr.EscalateUnacknowledged(ctx))
}

func TestDeliveryFailuresAreRecordedNotFatal(t *testing.T) {
	h := newHarness(Config{}, map[string]float64{"error_rate": 0.07})
	h.notifier.fails["ops-chat"] = true

	created := h.mgr.EvaluateRules(context.Background(), []models.AlertRule{errorRateRule()})
	require.Len(t, created, 1)

	got, _ := h.mgr.Get(created[0].ID)
	require.Len(t, got.Deliveries, 2)
	assert.False(t, got.Deliveries[0].Success)
	assert.True(t, got.Deliveries[1].Success)
	assert.Equal(t, 1, got.DeliveryFailures())
	assert.Equal(t, models.StatusActive, got.Status)
}

func TestDispatchThroughRealChannelsKeepsGoing(t *testing.T) {
	src := newFakeSource(map[string]float64{"error_rate": 0.07})
	d := notify.NewDispatcher(nil, "", nil)
	mgr := NewManager(Config{}, src, d)

	created := mgr.EvaluateRules(context.Background(), []models.AlertRule{errorRateRule()})
	require.Len(t, created, 1)
	require.Len(t, created[0].Deliveries, 2)
	for _, rec := range created[0].Deliveries {
		assert.False(t, rec.Success)
		assert.NotEmpty(t, rec.Error)
	}
}

func TestProcessAnomalyDetection(t *testing.T) {
	h := newHarness(Config{AnomalyDetectionEnabled: true}, nil)
	base := h.clock.now().Add(-time.Hour)
	var samples []models.MetricSample
	for i, v := range []float64{1, 2, 3, 4, 5, 100} {
		samples = append(samples, models.MetricSample{Timestamp: base.Add(time.Duration(i) * time.Minute), Value: v})
	}

	results := h.mgr.ProcessAnomalyDetection(context.Background(), "queue_depth", samples)
	require.Len(t, results, 1)
	assert.Equal(t, "queue_depth", results[0].MetricName)

	open := h.mgr.List(models.StatusActive)
	require.Len(t, open, 1)
	a := open[0]
	assert.Empty(t, a.RuleID)
	assert.Equal(t, models.SourceAnomaly, a.Source)
	assert.Equal(t, "queue_depth", a.AffectedTarget)
	assert.Equal(t, 100.0, a.MetricValue)
	assert.Equal(t, results[0].ExpectedHigh, a.ThresholdValue)
	assert.Equal(t, []string{"ops-mail"}, a.Channels)

	h.mgr.ProcessAnomalyDetection(context.Background(), "queue_depth", samples)
	assert.Len(t, h.mgr.List(), 1, "open anomaly alert deduplicates")
}

func TestResolvedAnomalyNotRaisedAgainFromSameWindow(t *testing.T) {
	h := newHarness(Config{AnomalyDetectionEnabled: true}, nil)
	ctx := context.Background()
	base := h.clock.now().Add(-time.Hour)
	var samples []models.MetricSample
	for i, v := range []float64{1, 2, 3, 4, 5, 100} {
		samples = append(samples, models.MetricSample{Timestamp: base.Add(time.Duration(i) * time.Minute), Value: v})
	}

	h.mgr.ProcessAnomalyDetection(ctx, "queue_depth", samples)
	open := h.mgr.List(models.StatusActive)
	require.Len(t, open, 1)
	require.NoError(t, h.mgr.Resolve(ctx, open[0].ID, "drained by hand"))

	h.clock.advance(5 * time.Minute)
	results := h.mgr.ProcessAnomalyDetection(ctx, "queue_depth", samples)
	assert.Len(t, results, 1, "detection still reports the old spike")
	assert.Len(t, h.mgr.List(), 1)
	assert.Empty(t, h.mgr.List(models.StatusActive))
	assert.Equal(t, []string{models.KindAlert}, h.notifier.kinds())

	// A newer spike in the next window is a new trigger.
	h.clock.advance(5 * time.Minute)
	later := append(append([]models.MetricSample(nil), samples[:5]...),
		models.MetricSample{Timestamp: base.Add(10 * time.Minute), Value: 100})
	h.mgr.ProcessAnomalyDetection(ctx, "queue_depth", later)
	assert.Len(t, h.mgr.List(models.StatusActive), 1)
	assert.Len(t, h.mgr.List(), 2)
}

func TestAnomalyMinScoreAndDisabled(t *testing.T) {
	samples := []models.MetricSample{{Value: 1}, {Value: 2}, {Value: 3}, {Value: 4}, {Value: 5}, {Value: 100}}

	h := newHarness(Config{AnomalyDetectionEnabled: true, AnomalyMinScore: 0.5}, nil)
	assert.Len(t, h.mgr.ProcessAnomalyDetection(context.Background(), "m", samples), 1)
	assert.Empty(t, h.mgr.List(), "low score result must not raise an alert")

	off := newHarness(Config{}, nil)
	assert.Nil(t, off.mgr.ProcessAnomalyDetection(context.Background(), "m", samples))
	assert.Nil(t, off.mgr.ProcessAnomalyDetection(context.Background(), "m", nil))
}

func TestAutoResolveWhenConditionClears(t *testing.T) {
	h := newHarness(Config{AutoResolve: true, NotifyOnResolve: true}, map[string]float64{"error_rate": 0.07})
	ctx := context.Background()
	ruleSet := []models.AlertRule{errorRateRule()}
	a := h.mgr.EvaluateRules(ctx, ruleSet)[0]

	h.src.set("error_rate", 0.01)
	assert.Empty(t, h.mgr.EvaluateRules(ctx, ruleSet))

	got, _ := h.mgr.Get(a.ID)
	assert.Equal(t, models.StatusResolved, got.Status)
	assert.Contains(t, got.ResolutionNotes, "auto-resolved")
	assert.Equal(t, []string{models.KindAlert, models.KindResolution}, h.notifier.kinds())
	assert.Contains(t, h.sink.types(), models.EventResolved)
}

func TestCancelledContextStopsEvaluation(t *testing.T) {
	h := newHarness(Config{}, map[string]float64{"error_rate": 0.07})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, h.mgr.EvaluateRules(ctx, []models.AlertRule{errorRateRule()}))
}
