package models

import "time"

// MetricPoint is one sampled value in a metric's ring buffer.
type MetricPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// MetricSnapshot maps metric name to its latest value, taken on one
// collection tick.
type MetricSnapshot struct {
	Timestamp time.Time          `json:"timestamp"`
	Source    string             `json:"source"`
	Values    map[string]float64 `json:"values"`
}
