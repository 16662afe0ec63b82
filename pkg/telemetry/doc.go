// Package telemetry wires the process-wide OpenTelemetry tracer provider.
//
// It centralises OTLP exporter setup and applies service resource attributes
// so the exporter's own delivery spans can be correlated with the telemetry
// it ships.
package telemetry
