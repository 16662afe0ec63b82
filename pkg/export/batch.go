package export

import (
	"time"

	"github.com/google/uuid"

	"github.com/observa/pulse/pkg/events"
)

// MetricSample is one observed value of a named metric.
type MetricSample struct {
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// HealthCheck is the reported status of one named check.
type HealthCheck struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checked_at,omitzero"`
}

// Alert is an unacknowledged alert supplied by the diagnostics collaborator.
type Alert struct {
	ID       string    `json:"id"`
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
	RaisedAt time.Time `json:"raised_at,omitzero"`
}

// MetricsSource supplies the metric snapshot included in each batch: metric
// name to ordered samples.
type MetricsSource interface {
	Snapshot() map[string][]MetricSample
}

// DiagnosticsSource supplies optional diagnostics, health checks, and
// unacknowledged alerts.
type DiagnosticsSource interface {
	Diagnostics() map[string]any
	HealthChecks() []HealthCheck
	UnacknowledgedAlerts() []Alert
}

// EventSource supplies bounded recent events and traces. The event store
// satisfies this.
type EventSource interface {
	RecentEvents(limit int, filter *events.EventFilter) []*events.DebugEvent
	RecentTraces(limit int) []*events.RequestTrace
}

// Batch is an immutable snapshot assembled once per export attempt.
type Batch struct {
	ID          string                    `json:"id"`
	Destination string                    `json:"destination"`
	Timestamp   time.Time                 `json:"timestamp"`
	Metrics     map[string][]MetricSample `json:"metrics,omitempty"`
	Events      []*events.DebugEvent      `json:"events,omitempty"`
	Traces      []*events.RequestTrace    `json:"traces,omitempty"`
	Diagnostics map[string]any            `json:"diagnostics,omitempty"`
	Health      []HealthCheck             `json:"health,omitempty"`
	Alerts      []Alert                   `json:"alerts,omitempty"`
}

// RecordCount is the number of individual records the batch carries.
func (b *Batch) RecordCount() int {
	n := len(b.Events) + len(b.Traces) + len(b.Health) + len(b.Alerts)
	for _, samples := range b.Metrics {
		n += len(samples)
	}
	return n
}

func newBatch(destination string) *Batch {
	return &Batch{
		ID:          uuid.New().String(),
		Destination: destination,
		Timestamp:   time.Now(),
	}
}
