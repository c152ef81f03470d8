package models

import "time"

// MetricSample is one observation produced by a metric source.
type MetricSample struct {
	Timestamp  time.Time         `json:"ts"`
	Value      float64           `json:"value"`
	Dimensions map[string]string `json:"dimensions,omitempty"`
}

// SampleValues returns the values of samples in order.
func SampleValues(samples []MetricSample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}

// MetricPoint is a sample tagged with its metric name, as pushed onto the
// ingest queue.
type MetricPoint struct {
	Metric string `json:"metric"`
	MetricSample
}
