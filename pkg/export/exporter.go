package export

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SignalKind classifies exporter lifecycle signals.
type SignalKind string

const (
	// SignalRetryDropped fires exactly once when a batch exhausts its retry
	// budget and is dropped.
	SignalRetryDropped SignalKind = "retry-dropped"

	SignalTestSuccess SignalKind = "test-success"
	SignalTestFailure SignalKind = "test-failure"
)

// Signal reports an exporter lifecycle event.
type Signal struct {
	Kind        SignalKind
	Destination string
	BatchID     string
	Err         error
}

// SignalFunc receives exporter signals. It may be called from scheduler
// goroutines and must be safe for concurrent use.
type SignalFunc func(Signal)

// ResultFunc observes every recorded export result. The pipeline's
// self-metrics hang off this hook.
type ResultFunc func(ExportResult)

// Config drives the exporter's schedulers and batch bounds.
type Config struct {
	// FlushInterval is how often the scheduled batch export runs ExportAll.
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`

	// RetryInterval is how often the retry queue is polled. It is shorter
	// than FlushInterval; each tick processes at most one queued batch.
	RetryInterval time.Duration `yaml:"retry_interval" json:"retry_interval"`

	// EventLimit and TraceLimit bound the store slices included per batch.
	EventLimit int `yaml:"event_limit" json:"event_limit"`
	TraceLimit int `yaml:"trace_limit" json:"trace_limit"`
}

// DefaultConfig returns the exporter defaults.
func DefaultConfig() Config {
	return Config{
		FlushInterval: time.Minute,
		RetryInterval: 10 * time.Second,
		EventLimit:    100,
		TraceLimit:    20,
	}
}

// Exporter assembles telemetry batches and ships them to configured
// destinations.
type Exporter struct {
	mu           sync.RWMutex
	destinations map[string]*Destination

	config      Config
	source      EventSource
	metrics     MetricsSource
	diagnostics DiagnosticsSource

	deliverer *deliverer
	stats     *ledger
	queue     *retryQueue

	signal   SignalFunc
	onResult ResultFunc
	logger   *slog.Logger
	tracer   trace.Tracer

	stopCh  chan struct{}
	stopped sync.Once
	running bool
}

// New creates an exporter reading events and traces from source. The metrics
// and diagnostics collaborators are optional.
func New(config Config, source EventSource, logger *slog.Logger) *Exporter {
	defaults := DefaultConfig()
	if config.FlushInterval <= 0 {
		config.FlushInterval = defaults.FlushInterval
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = defaults.RetryInterval
	}
	if config.EventLimit <= 0 {
		config.EventLimit = defaults.EventLimit
	}
	if config.TraceLimit <= 0 {
		config.TraceLimit = defaults.TraceLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		destinations: make(map[string]*Destination),
		config:       config,
		source:       source,
		deliverer:    newDeliverer(nil),
		stats:        newLedger(),
		queue:        newRetryQueue(),
		logger:       logger,
		tracer:       otel.Tracer("pulse.exporter"),
		stopCh:       make(chan struct{}),
	}
}

// SetHTTPClient replaces the delivery client. Mainly for tests.
func (e *Exporter) SetHTTPClient(client *http.Client) {
	e.deliverer = newDeliverer(client)
}

// SetMetricsSource wires in the metrics snapshot collaborator.
func (e *Exporter) SetMetricsSource(src MetricsSource) {
	e.metrics = src
}

// SetDiagnosticsSource wires in the diagnostics collaborator.
func (e *Exporter) SetDiagnosticsSource(src DiagnosticsSource) {
	e.diagnostics = src
}

// SetSignalFunc installs the lifecycle signal sink.
func (e *Exporter) SetSignalFunc(fn SignalFunc) {
	e.signal = fn
}

// SetResultFunc installs the per-result observer.
func (e *Exporter) SetResultFunc(fn ResultFunc) {
	e.onResult = fn
}

// AddDestination validates and registers a destination, replacing any
// existing destination with the same name.
func (e *Exporter) AddDestination(dest *Destination) error {
	if err := dest.Validate(); err != nil {
		return err
	}
	dest.applyDefaults()

	e.mu.Lock()
	e.destinations[dest.Name] = dest
	e.mu.Unlock()

	e.logger.Info("destination added",
		"destination", dest.Name,
		"type", string(dest.Type),
		"enabled", dest.Enabled,
	)
	return nil
}

// RemoveDestination deletes a destination. It reports whether the name was
// known.
func (e *Exporter) RemoveDestination(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.destinations[name]; !ok {
		return false
	}
	delete(e.destinations, name)
	return true
}

// UpdateDestination replaces the configuration of an existing destination.
// Updating an unknown destination is a no-op reported as false.
func (e *Exporter) UpdateDestination(name string, dest *Destination) bool {
	if dest.Validate() != nil {
		return false
	}
	dest.applyDefaults()

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.destinations[name]; !ok {
		return false
	}
	delete(e.destinations, name)
	e.destinations[dest.Name] = dest
	return true
}

// SetEnabled toggles a destination. It reports whether the name was known.
func (e *Exporter) SetEnabled(name string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	dest, ok := e.destinations[name]
	if !ok {
		return false
	}
	dest.Enabled = enabled
	return true
}

// Destination looks up a destination by name.
func (e *Exporter) Destination(name string) (*Destination, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	dest, ok := e.destinations[name]
	return dest, ok
}

// Destinations returns all destinations sorted by name.
func (e *Exporter) Destinations() []*Destination {
	e.mu.RLock()
	out := make([]*Destination, 0, len(e.destinations))
	for _, dest := range e.destinations {
		out = append(out, dest)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stats returns a copy of the cumulative export ledger.
func (e *Exporter) Stats() Stats {
	return e.stats.snapshot()
}

// ResetStats zeroes the ledger.
func (e *Exporter) ResetStats() {
	e.stats.reset()
}

// QueueDepth is the number of batches awaiting retry.
func (e *Exporter) QueueDepth() int {
	return e.queue.depth()
}

// assemble builds an immutable batch for one destination from the event
// store and the collaborators.
func (e *Exporter) assemble(dest *Destination) *Batch {
	batch := newBatch(dest.Name)

	if e.metrics != nil {
		batch.Metrics = e.metrics.Snapshot()
	}
	if e.source != nil {
		limit := e.config.EventLimit
		if dest.BatchSize > 0 && dest.BatchSize < limit {
			limit = dest.BatchSize
		}
		batch.Events = e.source.RecentEvents(limit, nil)
		batch.Traces = e.source.RecentTraces(e.config.TraceLimit)
	}
	if e.diagnostics != nil {
		batch.Diagnostics = e.diagnostics.Diagnostics()
		batch.Health = e.diagnostics.HealthChecks()
		batch.Alerts = e.diagnostics.UnacknowledgedAlerts()
	}
	return batch
}

// attempt transforms and delivers one batch, recording the outcome in the
// cumulative ledger.
func (e *Exporter) attempt(ctx context.Context, dest *Destination, batch *Batch) ExportResult {
	ctx, span := e.tracer.Start(ctx, "export.deliver", trace.WithAttributes(
		attribute.String("destination.name", dest.Name),
		attribute.String("destination.type", string(dest.Type)),
		attribute.Int("batch.records", batch.RecordCount()),
	))
	defer span.End()

	start := time.Now()
	result := ExportResult{
		Destination: dest.Name,
		Records:     batch.RecordCount(),
		Timestamp:   start,
	}

	payload, contentType, err := transformFor(dest)(batch)
	if err == nil {
		err = e.deliverer.deliver(ctx, dest, payload, contentType)
	}

	result.Duration = time.Since(start)
	if err != nil {
		result.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("export failed",
			"destination", dest.Name,
			"batch_id", batch.ID,
			"error", err,
		)
	} else {
		result.Success = true
	}

	e.stats.record(result)
	if e.onResult != nil {
		e.onResult(result)
	}
	return result
}

// Export assembles and ships one batch to a named destination. An unknown
// destination yields a failed result without touching the ledger.
func (e *Exporter) Export(ctx context.Context, name string) ExportResult {
	dest, ok := e.Destination(name)
	if !ok {
		return ExportResult{
			Destination: name,
			Timestamp:   time.Now(),
			Err:         &DestinationNotFoundError{Name: name},
		}
	}
	return e.attempt(ctx, dest, e.assemble(dest))
}

// ExportAll ships one batch to every enabled destination, isolating failures
// per destination. Disabled destinations are skipped entirely, not
// attempted-then-filtered. Failed batches enter the retry queue.
func (e *Exporter) ExportAll(ctx context.Context) []ExportResult {
	e.mu.RLock()
	enabled := make([]*Destination, 0, len(e.destinations))
	for _, dest := range e.destinations {
		if dest.Enabled {
			enabled = append(enabled, dest)
		}
	}
	e.mu.RUnlock()

	sort.Slice(enabled, func(i, j int) bool { return enabled[i].Name < enabled[j].Name })

	results := make([]ExportResult, 0, len(enabled))
	for _, dest := range enabled {
		batch := e.assemble(dest)
		result := e.attempt(ctx, dest, batch)
		if !result.Success {
			e.queue.enqueue(&queuedBatch{
				batch:       batch,
				nextAttempt: time.Now().Add(backoffDelay(0)),
			})
		}
		results = append(results, result)
	}
	return results
}

// ProcessRetryQueue redelivers at most one due batch. On failure the batch
// is re-enqueued with exponentially increasing delay until the destination's
// retry budget is exhausted, at which point it is dropped and the terminal
// retry-dropped signal fires exactly once.
func (e *Exporter) ProcessRetryQueue(ctx context.Context) {
	item := e.queue.popDue(time.Now())
	if item == nil {
		return
	}

	dest, ok := e.Destination(item.batch.Destination)
	if !ok {
		// Destination removed while the batch waited; nothing to deliver to.
		e.drop(item, &DestinationNotFoundError{Name: item.batch.Destination})
		return
	}

	result := e.attempt(ctx, dest, item.batch)
	if result.Success {
		return
	}

	next := item.retryCount + 1
	if next >= dest.RetryAttempts {
		e.drop(item, result.Err)
		return
	}
	item.retryCount = next
	item.nextAttempt = time.Now().Add(backoffDelay(next))
	e.queue.enqueue(item)
}

func (e *Exporter) drop(item *queuedBatch, err error) {
	e.logger.Error("batch dropped after retries",
		"destination", item.batch.Destination,
		"batch_id", item.batch.ID,
		"retries", item.retryCount,
		"error", err,
	)
	if e.signal != nil {
		e.signal(Signal{
			Kind:        SignalRetryDropped,
			Destination: item.batch.Destination,
			BatchID:     item.batch.ID,
			Err:         err,
		})
	}
}

// TestDestination ships a minimal single-metric batch through the regular
// transform and delivery path and reports the outcome via test signals. Test
// traffic is excluded from the cumulative ledger.
func (e *Exporter) TestDestination(ctx context.Context, name string) error {
	dest, ok := e.Destination(name)
	if !ok {
		return &DestinationNotFoundError{Name: name}
	}

	batch := newBatch(dest.Name)
	batch.Metrics = map[string][]MetricSample{
		"pulse.test": {{Value: 1, Timestamp: batch.Timestamp}},
	}

	payload, contentType, err := transformFor(dest)(batch)
	if err == nil {
		err = e.deliverer.deliver(ctx, dest, payload, contentType)
	}

	if err != nil {
		if e.signal != nil {
			e.signal(Signal{Kind: SignalTestFailure, Destination: dest.Name, BatchID: batch.ID, Err: err})
		}
		return err
	}
	if e.signal != nil {
		e.signal(Signal{Kind: SignalTestSuccess, Destination: dest.Name, BatchID: batch.ID})
	}
	return nil
}

// Start launches the flush and retry schedulers.
func (e *Exporter) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	go func() {
		flush := time.NewTicker(e.config.FlushInterval)
		retry := time.NewTicker(e.config.RetryInterval)
		defer flush.Stop()
		defer retry.Stop()

		for {
			select {
			case <-flush.C:
				e.ExportAll(context.Background())
			case <-retry.C:
				e.ProcessRetryQueue(context.Background())
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop cancels the schedulers. Safe to call more than once.
func (e *Exporter) Stop() {
	e.stopped.Do(func() { close(e.stopCh) })
}
