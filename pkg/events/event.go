package events

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Level is the severity of a debug event.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Sentinel markers substituted for payload values that cannot be carried
// through the pipeline as structured data.
const (
	MarkerFunction       = "[function]"
	MarkerUnserializable = "[unserializable]"
)

// maxSanitizeDepth caps payload recursion. Values nested deeper than this
// (including cyclic structures, which would otherwise recurse forever) are
// replaced by MarkerUnserializable.
const maxSanitizeDepth = 8

// DebugEvent is a single structured observability event. Events are immutable
// after ingestion; the payload is sanitized exactly once when the event is
// created.
type DebugEvent struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Level     Level             `json:"level"`
	Category  string            `json:"category"`
	Message   string            `json:"message"`
	Data      any               `json:"data,omitempty"`
	Source    string            `json:"source,omitempty"`
	TraceID   string            `json:"trace_id,omitempty"`
	SpanID    string            `json:"span_id,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
}

// EventOptions carries the optional fields of an ingested event.
type EventOptions struct {
	Data    any
	Source  string
	TraceID string
	SpanID  string
	Context map[string]string
}

func newEvent(level Level, category, message string, opts EventOptions) *DebugEvent {
	return &DebugEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Level:     level,
		Category:  category,
		Message:   message,
		Data:      Sanitize(opts.Data),
		Source:    opts.Source,
		TraceID:   opts.TraceID,
		SpanID:    opts.SpanID,
		Context:   opts.Context,
	}
}

// SearchText returns the case-folded composite text used by keyword filters
// and free-text search: message, category, source, and the serialized payload.
func (e *DebugEvent) SearchText() string {
	var b strings.Builder
	b.WriteString(e.Message)
	b.WriteByte(' ')
	b.WriteString(e.Category)
	b.WriteByte(' ')
	b.WriteString(e.Source)
	if e.Data != nil {
		if raw, err := json.Marshal(e.Data); err == nil {
			b.WriteByte(' ')
			b.Write(raw)
		}
	}
	return strings.ToLower(b.String())
}

// Sanitize normalizes an arbitrary payload into the closed set of shapes the
// pipeline carries: primitives, maps, slices, reduced errors, and sentinel
// markers. Functions become MarkerFunction, errors are reduced to their
// message, and anything that fails JSON serialization becomes
// MarkerUnserializable.
func Sanitize(v any) any {
	return sanitize(v, 0)
}

func sanitize(v any, depth int) any {
	if v == nil {
		return nil
	}
	if depth > maxSanitizeDepth {
		return MarkerUnserializable
	}

	if err, ok := v.(error); ok {
		return map[string]any{
			"name":    fmt.Sprintf("%T", err),
			"message": err.Error(),
		}
	}

	switch val := v.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, time.Time, time.Duration:
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = sanitize(elem, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = sanitize(elem, depth+1)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func:
		return MarkerFunction
	case reflect.Chan, reflect.UnsafePointer:
		return MarkerUnserializable
	}

	// Anything else must survive a serialization round trip to be kept.
	if _, err := json.Marshal(v); err != nil {
		return MarkerUnserializable
	}
	return v
}
