// Package export batches telemetry (metrics, events, traces, diagnostics)
// and pushes it to configured external observability back ends.
//
// Each destination carries its own wire format, authentication, and delivery
// limits. Failed batches enter a retry queue with exponential backoff and are
// dropped, with a terminal signal, once the destination's retry budget is
// exhausted. At-least-once delivery with bounded retries is the contract;
// exactly-once is explicitly not.
package export
