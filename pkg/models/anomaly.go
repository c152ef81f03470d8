package models

import "time"

// AnomalyResult is one flagged sample.
type AnomalyResult struct {
	MetricName   string    `json:"metric_name,omitempty"`
	Method       string    `json:"method"`
	Timestamp    time.Time `json:"ts"`
	Value        float64   `json:"value"`
	ExpectedLow  float64   `json:"expected_low"`
	ExpectedHigh float64   `json:"expected_high"`
	AnomalyScore float64   `json:"anomaly_score"`
	Severity     Severity  `json:"severity"`
}

// ExpectedRange returns the bounds the value was expected to fall in.
func (r AnomalyResult) ExpectedRange() (float64, float64) {
	return r.ExpectedLow, r.ExpectedHigh
}
