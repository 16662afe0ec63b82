// Package pipeline assembles the event store, the fan-out registry, the
// system sampler, and the exporter into one runnable unit with an HTTP
// surface.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/observa/pulse/pkg/config"
	"github.com/observa/pulse/pkg/events"
	"github.com/observa/pulse/pkg/export"
	"github.com/observa/pulse/pkg/stream"
)

// Health is a point-in-time liveness snapshot of the pipeline.
type Health struct {
	Status        string        `json:"status"`
	Uptime        time.Duration `json:"uptime"`
	Events        int           `json:"events"`
	Traces        int           `json:"traces"`
	Subscriptions int           `json:"subscriptions"`
	Streams       int           `json:"streams"`
	RetryQueue    int           `json:"retry_queue"`
	Destinations  int           `json:"destinations"`
}

// Pipeline owns the component graph and its lifecycle.
type Pipeline struct {
	config  *config.Config
	logger  *slog.Logger
	metrics *Metrics

	store    *events.Store
	registry *stream.Registry
	sampler  *events.SystemSampler
	exporter *export.Exporter

	server  *http.Server
	started time.Time
	stopped sync.Once
}

// New wires the component graph from configuration. Destinations from the
// config file are registered with the exporter.
func New(cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		config:  cfg,
		logger:  logger,
		metrics: NewMetrics(),
	}

	p.store = events.NewStore(cfg.Store, logger)
	p.registry = stream.NewRegistry(stream.DefaultRegistryConfig(), logger)
	p.sampler = events.NewSystemSampler(p.store, cfg.Sampler, logger)
	p.exporter = export.New(cfg.Exporter, p.store, logger)

	// Every ingested event fans out to the registry and feeds the ingest
	// counters.
	p.store.SetFanout(func(event *events.DebugEvent) {
		p.metrics.RecordIngest(string(event.Level))
		p.registry.Dispatch(event)
	})
	p.store.SetEvictionFunc(func(*events.DebugEvent) {
		p.metrics.RecordEviction()
	})

	p.registry.SetSignalFunc(func(sig stream.ErrorSignal) {
		p.metrics.RecordFanoutError(string(sig.Kind))
		p.metrics.UpdateConnections(p.registry.ActiveSubscriptions(), p.registry.ActiveStreams())
	})

	p.sampler.SetConnectionCounter(p.registry)

	p.exporter.SetMetricsSource(&registrySource{registry: p.metrics})
	p.exporter.SetResultFunc(func(result export.ExportResult) {
		p.metrics.RecordExport(result.Destination, result.Success, result.Duration)
		p.metrics.UpdateRetryQueueDepth(p.exporter.QueueDepth())
	})
	p.exporter.SetSignalFunc(func(sig export.Signal) {
		if sig.Kind == export.SignalRetryDropped {
			p.metrics.RecordRetryDrop(sig.Destination)
			p.metrics.UpdateRetryQueueDepth(p.exporter.QueueDepth())
		}
	})

	for _, dest := range cfg.Destinations {
		if err := p.exporter.AddDestination(dest); err != nil {
			return nil, fmt.Errorf("register destination: %w", err)
		}
	}

	p.server = &http.Server{
		Addr:              cfg.Listen,
		Handler:           p.metrics.Middleware(p.routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return p, nil
}

// Store exposes the event store for embedding callers.
func (p *Pipeline) Store() *events.Store { return p.store }

// Registry exposes the fan-out registry.
func (p *Pipeline) Registry() *stream.Registry { return p.registry }

// Exporter exposes the telemetry exporter.
func (p *Pipeline) Exporter() *export.Exporter { return p.exporter }

// Metrics exposes the pipeline's self-metrics.
func (p *Pipeline) Metrics() *Metrics { return p.metrics }

// Start launches the component schedulers and the HTTP listener. The returned
// channel yields the listener error if it terminates on its own.
func (p *Pipeline) Start(ctx context.Context) <-chan error {
	p.started = time.Now()

	p.store.Start()
	p.sampler.Start()
	p.exporter.Start()

	p.logger.Info("pipeline started",
		"listen", p.config.Listen,
		"destinations", len(p.exporter.Destinations()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := p.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	return errCh
}

// Stop shuts the pipeline down: listener first so no new consumers arrive,
// then the schedulers, then the registry's live connections.
func (p *Pipeline) Stop(ctx context.Context) error {
	var err error
	p.stopped.Do(func() {
		err = p.server.Shutdown(ctx)

		p.exporter.Stop()
		p.sampler.Stop()
		p.store.Stop()
		p.registry.Close()

		p.logger.Info("pipeline stopped")
	})
	return err
}

// Health reports the current pipeline state.
func (p *Pipeline) Health() Health {
	return Health{
		Status:        "ok",
		Uptime:        time.Since(p.started),
		Events:        p.store.EventCount(),
		Traces:        p.store.TraceCount(),
		Subscriptions: p.registry.ActiveSubscriptions(),
		Streams:       p.registry.ActiveStreams(),
		RetryQueue:    p.exporter.QueueDepth(),
		Destinations:  len(p.exporter.Destinations()),
	}
}

// ReloadDestinations replaces the exporter's destination set with the given
// one. Destinations absent from the new set are removed.
func (p *Pipeline) ReloadDestinations(destinations []*export.Destination) error {
	keep := make(map[string]struct{}, len(destinations))
	for _, dest := range destinations {
		if err := p.exporter.AddDestination(dest); err != nil {
			return fmt.Errorf("reload destination: %w", err)
		}
		keep[dest.Name] = struct{}{}
	}

	for _, existing := range p.exporter.Destinations() {
		if _, ok := keep[existing.Name]; !ok {
			p.exporter.RemoveDestination(existing.Name)
		}
	}

	p.logger.Info("destinations reloaded", "count", len(destinations))
	return nil
}

// registrySource adapts the pipeline's Prometheus registry into the
// exporter's metrics snapshot interface so batches carry self-metrics.
type registrySource struct {
	registry *Metrics
}

func (rs *registrySource) Snapshot() map[string][]export.MetricSample {
	families, err := rs.registry.Registry().Gather()
	if err != nil {
		return nil
	}

	now := time.Now()
	out := make(map[string][]export.MetricSample, len(families))
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			value, ok := scalarValue(family.GetType(), metric)
			if !ok {
				continue
			}

			labels := make(map[string]string, len(metric.GetLabel()))
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}

			out[family.GetName()] = append(out[family.GetName()], export.MetricSample{
				Value:     value,
				Timestamp: now,
				Labels:    labels,
			})
		}
	}
	return out
}

// scalarValue extracts the single numeric value of counter and gauge
// families. Histograms and summaries are not representable as one sample.
func scalarValue(kind dto.MetricType, metric *dto.Metric) (float64, bool) {
	switch kind {
	case dto.MetricType_COUNTER:
		return metric.GetCounter().GetValue(), true
	case dto.MetricType_GAUGE:
		return metric.GetGauge().GetValue(), true
	case dto.MetricType_UNTYPED:
		return metric.GetUntyped().GetValue(), true
	default:
		return 0, false
	}
}
