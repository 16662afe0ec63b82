package export

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Content types used by the transform matrix.
const (
	contentTypeText = "text/plain; charset=utf-8"
	contentTypeJSON = "application/json"
)

// transformFor resolves the transform for a destination. The matrix is keyed
// by destination type; webhook and custom destinations use their own
// transform when supplied, else the generic format-keyed transform.
func transformFor(dest *Destination) TransformFunc {
	switch dest.Type {
	case TypePrometheus:
		return transformPrometheus
	case TypeGrafana:
		return transformGrafana
	case TypeDataDog:
		return transformDataDog
	case TypeNewRelic:
		return transformNewRelic
	default:
		if dest.Transform != nil {
			return dest.Transform
		}
		return formatTransform(dest.Format)
	}
}

func formatTransform(format Format) TransformFunc {
	switch format {
	case FormatPrometheus:
		return transformPrometheus
	case FormatStatsD:
		return transformStatsD
	case FormatOpenTelemetry:
		return transformOpenTelemetry
	default:
		return transformJSON
	}
}

// transformJSON ships the whole batch as-is.
func transformJSON(batch *Batch) ([]byte, string, error) {
	raw, err := json.Marshal(batch)
	if err != nil {
		return nil, "", fmt.Errorf("marshal batch: %w", err)
	}
	return raw, contentTypeJSON, nil
}

// transformPrometheus renders exposition text lines:
//
//	metric_name{label="value",...} value timestampMillis
//
// Output is deterministic: metric names and label keys are sorted, so
// identical batches yield byte-identical payloads.
func transformPrometheus(batch *Batch) ([]byte, string, error) {
	var b strings.Builder
	for _, name := range sortedMetricNames(batch.Metrics) {
		promName := sanitizeMetricName(name)
		for _, sample := range batch.Metrics[name] {
			b.WriteString(promName)
			if len(sample.Labels) > 0 {
				b.WriteByte('{')
				for i, k := range sortedKeys(sample.Labels) {
					if i > 0 {
						b.WriteByte(',')
					}
					fmt.Fprintf(&b, "%s=%q", sanitizeMetricName(k), sample.Labels[k])
				}
				b.WriteByte('}')
			}
			fmt.Fprintf(&b, " %v %d\n", sample.Value, sample.Timestamp.UnixMilli())
		}
	}
	return []byte(b.String()), contentTypeText, nil
}

// transformStatsD renders DogStatsD-style gauge lines:
//
//	name:value|g|#tag:value,...
func transformStatsD(batch *Batch) ([]byte, string, error) {
	var b strings.Builder
	for _, name := range sortedMetricNames(batch.Metrics) {
		for _, sample := range batch.Metrics[name] {
			fmt.Fprintf(&b, "%s:%v|g", sanitizeMetricName(name), sample.Value)
			if len(sample.Labels) > 0 {
				b.WriteString("|#")
				for i, k := range sortedKeys(sample.Labels) {
					if i > 0 {
						b.WriteByte(',')
					}
					fmt.Fprintf(&b, "%s:%s", k, sample.Labels[k])
				}
			}
			b.WriteByte('\n')
		}
	}
	return []byte(b.String()), contentTypeText, nil
}

// transformOpenTelemetry renders the OTLP-shaped resource/scope/metric JSON
// structure with one gauge data point per sample and nanosecond timestamps.
func transformOpenTelemetry(batch *Batch) ([]byte, string, error) {
	metrics := make([]map[string]any, 0, len(batch.Metrics))
	for _, name := range sortedMetricNames(batch.Metrics) {
		points := make([]map[string]any, 0, len(batch.Metrics[name]))
		for _, sample := range batch.Metrics[name] {
			point := map[string]any{
				"asDouble":     sample.Value,
				"timeUnixNano": sample.Timestamp.UnixNano(),
			}
			if len(sample.Labels) > 0 {
				attrs := make([]map[string]any, 0, len(sample.Labels))
				for _, k := range sortedKeys(sample.Labels) {
					attrs = append(attrs, map[string]any{
						"key":   k,
						"value": map[string]any{"stringValue": sample.Labels[k]},
					})
				}
				point["attributes"] = attrs
			}
			points = append(points, point)
		}
		metrics = append(metrics, map[string]any{
			"name":  name,
			"gauge": map[string]any{"dataPoints": points},
		})
	}

	doc := map[string]any{
		"resourceMetrics": []map[string]any{{
			"resource": map[string]any{
				"attributes": []map[string]any{{
					"key":   "service.name",
					"value": map[string]any{"stringValue": "pulse"},
				}},
			},
			"scopeMetrics": []map[string]any{{
				"scope":   map[string]any{"name": "pulse-exporter"},
				"metrics": metrics,
			}},
		}},
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, "", fmt.Errorf("marshal otlp document: %w", err)
	}
	return raw, contentTypeJSON, nil
}

// transformDataDog renders the v1 series payload plus an events array derived
// from the batch's debug events.
func transformDataDog(batch *Batch) ([]byte, string, error) {
	series := make([]map[string]any, 0, len(batch.Metrics))
	for _, name := range sortedMetricNames(batch.Metrics) {
		points := make([][2]float64, 0, len(batch.Metrics[name]))
		var tags []string
		for _, sample := range batch.Metrics[name] {
			points = append(points, [2]float64{float64(sample.Timestamp.Unix()), sample.Value})
			if tags == nil && len(sample.Labels) > 0 {
				for _, k := range sortedKeys(sample.Labels) {
					tags = append(tags, k+":"+sample.Labels[k])
				}
			}
		}
		entry := map[string]any{
			"metric": name,
			"points": points,
			"type":   "gauge",
		}
		if len(tags) > 0 {
			entry["tags"] = tags
		}
		series = append(series, entry)
	}

	ddEvents := make([]map[string]any, 0, len(batch.Events))
	for _, event := range batch.Events {
		ddEvents = append(ddEvents, map[string]any{
			"title":         string(event.Level) + ": " + event.Category,
			"text":          event.Message,
			"alert_type":    datadogAlertType(string(event.Level)),
			"priority":      datadogPriority(string(event.Level)),
			"date_happened": event.Timestamp.Unix(),
		})
	}

	raw, err := json.Marshal(map[string]any{
		"series": series,
		"events": ddEvents,
	})
	if err != nil {
		return nil, "", fmt.Errorf("marshal datadog payload: %w", err)
	}
	return raw, contentTypeJSON, nil
}

func datadogAlertType(level string) string {
	switch level {
	case "error":
		return "error"
	case "warn":
		return "warning"
	default:
		return "info"
	}
}

func datadogPriority(level string) string {
	switch level {
	case "error", "warn":
		return "normal"
	default:
		return "low"
	}
}

// transformNewRelic renders the metric API payload: a single-element array
// with a common block and a metrics array.
func transformNewRelic(batch *Batch) ([]byte, string, error) {
	metrics := make([]map[string]any, 0, len(batch.Metrics))
	for _, name := range sortedMetricNames(batch.Metrics) {
		for _, sample := range batch.Metrics[name] {
			entry := map[string]any{
				"name":      name,
				"type":      "gauge",
				"value":     sample.Value,
				"timestamp": sample.Timestamp.UnixMilli(),
			}
			if len(sample.Labels) > 0 {
				attrs := make(map[string]any, len(sample.Labels))
				for k, v := range sample.Labels {
					attrs[k] = v
				}
				entry["attributes"] = attrs
			}
			metrics = append(metrics, entry)
		}
	}

	doc := []map[string]any{{
		"common": map[string]any{
			"timestamp": batch.Timestamp.UnixMilli(),
			"attributes": map[string]any{
				"service.name":     "pulse",
				"telemetry.source": "pulse-exporter",
			},
		},
		"metrics": metrics,
	}}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, "", fmt.Errorf("marshal newrelic payload: %w", err)
	}
	return raw, contentTypeJSON, nil
}

// transformGrafana renders the target/datapoints array, one entry per metric
// name with [value, timestampMillis] pairs.
func transformGrafana(batch *Batch) ([]byte, string, error) {
	targets := make([]map[string]any, 0, len(batch.Metrics))
	for _, name := range sortedMetricNames(batch.Metrics) {
		points := make([][2]float64, 0, len(batch.Metrics[name]))
		for _, sample := range batch.Metrics[name] {
			points = append(points, [2]float64{sample.Value, float64(sample.Timestamp.UnixMilli())})
		}
		targets = append(targets, map[string]any{
			"target":     name,
			"datapoints": points,
		})
	}

	raw, err := json.Marshal(targets)
	if err != nil {
		return nil, "", fmt.Errorf("marshal grafana payload: %w", err)
	}
	return raw, contentTypeJSON, nil
}

func sortedMetricNames(metrics map[string][]MetricSample) []string {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sanitizeMetricName maps arbitrary metric names onto the conservative
// [a-zA-Z0-9_:] exposition charset.
func sanitizeMetricName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == ':':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
