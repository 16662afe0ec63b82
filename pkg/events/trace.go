package events

import "time"

// SpanStatus is the lifecycle state of a span.
type SpanStatus string

const (
	SpanActive    SpanStatus = "active"
	SpanCompleted SpanStatus = "completed"
	SpanError     SpanStatus = "error"
)

// SpanLog is a timestamped log entry attached to a span.
type SpanLog struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
}

// Span is a single timed operation within a trace. Tags stay mutable until
// the span finishes; the finish transition happens exactly once and is
// terminal.
type Span struct {
	ID           string         `json:"id"`
	ParentSpanID string         `json:"parent_span_id,omitempty"`
	Operation    string         `json:"operation"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      time.Time      `json:"end_time,omitzero"`
	Duration     time.Duration  `json:"duration,omitempty"`
	Tags         map[string]any `json:"tags,omitempty"`
	Logs         []SpanLog      `json:"logs,omitempty"`
	Status       SpanStatus     `json:"status"`
	Error        string         `json:"error,omitempty"`
}

// TraceMetadata describes the request a trace belongs to.
type TraceMetadata struct {
	Customer   string `json:"customer,omitempty"`
	Service    string `json:"service,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
	Method     string `json:"method,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	RemoteAddr string `json:"remote_addr,omitempty"`
}

// RequestTrace is an ordered collection of spans for one logical request.
// Spans are kept in start order; parent/child relations are id references,
// never ownership pointers.
type RequestTrace struct {
	ID           string        `json:"id"`
	ParentSpanID string        `json:"parent_span_id,omitempty"`
	Spans        []*Span       `json:"spans"`
	Metadata     TraceMetadata `json:"metadata"`
	StartTime    time.Time     `json:"start_time"`
}

// latestSpanStart is the start time of the most recently started span, or the
// trace's own start time when no spans exist yet. Retention and recency
// ordering both key off this value.
func (t *RequestTrace) latestSpanStart() time.Time {
	latest := t.StartTime
	for _, span := range t.Spans {
		if span.StartTime.After(latest) {
			latest = span.StartTime
		}
	}
	return latest
}

func (t *RequestTrace) findSpan(spanID string) *Span {
	for _, span := range t.Spans {
		if span.ID == spanID {
			return span
		}
	}
	return nil
}

// status partitions a trace by inspecting its spans: error wins over active,
// active wins over completed. A trace with no spans yet counts as active.
func (t *RequestTrace) status() SpanStatus {
	if len(t.Spans) == 0 {
		return SpanActive
	}
	status := SpanCompleted
	for _, span := range t.Spans {
		switch span.Status {
		case SpanError:
			return SpanError
		case SpanActive:
			status = SpanActive
		}
	}
	return status
}
