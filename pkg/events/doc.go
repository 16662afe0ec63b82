// Package events owns the in-process observability log: a bounded ring of
// structured debug events and the map of active request traces with their
// spans.
//
// The store favours resilience over strictness. Ingestion never fails, span
// operations on unknown traces or spans degrade to no-ops, and payloads that
// cannot be serialized are replaced by sentinel markers so instrumentation
// code can never crash its caller.
package events
