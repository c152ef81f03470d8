package models

import "time"

// Alert sources.
const (
	SourceRule    = "rule"
	SourceAnomaly = "anomaly"
)

// Notification kinds.
const (
	KindAlert      = "alert"
	KindEscalation = "escalation"
	KindResolution = "resolution"
)

// Alert is one triggered condition and its lifecycle.
type Alert struct {
	ID              string     `json:"id"`
	RuleID          string     `json:"rule_id,omitempty"`
	Source          string     `json:"source"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Severity        Severity   `json:"severity"`
	MetricName      string     `json:"metric_name"`
	MetricValue     float64    `json:"metric_value"`
	ThresholdValue  float64    `json:"threshold_value"`
	AffectedTarget  string     `json:"affected_target"`
	Channels        []string   `json:"channels,omitempty"`
	TriggeredAt     time.Time  `json:"triggered_at"`
	Status          Status     `json:"status"`
	AcknowledgedBy  string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`
	EscalationCount int        `json:"escalation_count"`
	LastEscalatedAt *time.Time `json:"last_escalated_at,omitempty"`

	Deliveries []DeliveryRecord `json:"-"`
}

// DeliveryRecord is one attempt to deliver a notification on one channel.
type DeliveryRecord struct {
	AlertID     string    `json:"alert_id"`
	Channel     string    `json:"channel"`
	Kind        string    `json:"kind"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// DedupKey is the (rule_id, affected_target) pair bounding open alerts.
type DedupKey struct {
	RuleID string
	Target string
}

// Key returns the alert's dedup key.
func (a *Alert) Key() DedupKey {
	return DedupKey{RuleID: a.RuleID, Target: a.AffectedTarget}
}

// DeliveryFailures counts failed delivery attempts.
func (a *Alert) DeliveryFailures() int {
	n := 0
	for _, d := range a.Deliveries {
		if !d.Success {
			n++
		}
	}
	return n
}

// Clone returns a deep copy safe to hand out of the store.
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	out := *a
	out.AcknowledgedAt = cloneTime(a.AcknowledgedAt)
	out.ResolvedAt = cloneTime(a.ResolvedAt)
	out.LastEscalatedAt = cloneTime(a.LastEscalatedAt)
	if a.Channels != nil {
		out.Channels = append([]string(nil), a.Channels...)
	}
	if a.Deliveries != nil {
		out.Deliveries = append([]DeliveryRecord(nil), a.Deliveries...)
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
