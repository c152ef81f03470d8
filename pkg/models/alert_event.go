package models

import "time"

// Lifecycle event types published to the journal.
const (
	EventCreated      = "created"
	EventAcknowledged = "acknowledged"
	EventResolved     = "resolved"
	EventEscalated    = "escalated"
	EventSuppressed   = "suppressed"
	EventDelivery     = "delivery"
)

// AlertEvent is a flat lifecycle record for dashboards and storage.
type AlertEvent struct {
	Timestamp      time.Time `json:"ts"`
	Type           string    `json:"type"`
	AlertID        string    `json:"alert_id,omitempty"`
	RuleID         string    `json:"rule_id,omitempty"`
	MetricName     string    `json:"metric_name,omitempty"`
	AffectedTarget string    `json:"affected_target,omitempty"`
	Severity       Severity  `json:"severity,omitempty"`
	Status         Status    `json:"status,omitempty"`
	MetricValue    float64   `json:"metric_value"`
	ThresholdValue float64   `json:"threshold_value"`
	Channel        string    `json:"channel,omitempty"`
	Kind           string    `json:"kind,omitempty"`
	Success        bool      `json:"success,omitempty"`
	Detail         string    `json:"detail,omitempty"`
}

// NewAlertEvent snapshots the alert into an event of the given type.
func NewAlertEvent(typ string, at time.Time, a *Alert) AlertEvent {
	return AlertEvent{
		Timestamp:      at,
		Type:           typ,
		AlertID:        a.ID,
		RuleID:         a.RuleID,
		MetricName:     a.MetricName,
		AffectedTarget: a.AffectedTarget,
		Severity:       a.Severity,
		Status:         a.Status,
		MetricValue:    a.MetricValue,
		ThresholdValue: a.ThresholdValue,
	}
}
