package events

import (
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// ConnectionCounter reports live consumer counts. The subscription registry
// implements it.
type ConnectionCounter interface {
	ActiveSubscriptions() int
	ActiveStreams() int
}

// GaugeSource supplies externally owned point-in-time gauges (cache hit
// rates, rate-limit occupancy, circuit states) for inclusion in a snapshot.
type GaugeSource func() map[string]float64

// SystemSnapshot is a point-in-time view of process and pipeline health.
type SystemSnapshot struct {
	Timestamp     time.Time          `json:"timestamp"`
	Goroutines    int                `json:"goroutines"`
	HeapAllocMB   float64            `json:"heap_alloc_mb"`
	HeapObjects   uint64             `json:"heap_objects"`
	Subscriptions int                `json:"subscriptions"`
	Streams       int                `json:"streams"`
	BufferedEvents int               `json:"buffered_events"`
	ActiveTraces  int                `json:"active_traces"`
	EventsPerSec  float64            `json:"events_per_sec"`
	ErrorRate     float64            `json:"error_rate"`
	Gauges        map[string]float64 `json:"gauges,omitempty"`
}

// SamplerConfig drives the system-state sampler.
type SamplerConfig struct {
	// Interval is how often a snapshot is computed and published.
	Interval time.Duration `yaml:"interval" json:"interval"`

	// Window is the trailing event window used for rate derivation.
	Window time.Duration `yaml:"window" json:"window"`
}

// DefaultSamplerConfig returns the sampler defaults.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Interval: 30 * time.Second,
		Window:   time.Minute,
	}
}

// SystemSampler periodically computes a SystemSnapshot and publishes it back
// into the store as a debug event, category "system".
type SystemSampler struct {
	store       *Store
	config      SamplerConfig
	connections ConnectionCounter
	gauges      GaugeSource
	logger      *slog.Logger

	stopCh  chan struct{}
	stopped sync.Once
	running bool
	mu      sync.Mutex
}

// NewSystemSampler creates a sampler bound to the store.
func NewSystemSampler(store *Store, config SamplerConfig, logger *slog.Logger) *SystemSampler {
	if config.Interval <= 0 {
		config.Interval = DefaultSamplerConfig().Interval
	}
	if config.Window <= 0 {
		config.Window = DefaultSamplerConfig().Window
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemSampler{
		store:  store,
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// SetConnectionCounter wires in the registry's live counts.
func (sm *SystemSampler) SetConnectionCounter(c ConnectionCounter) {
	sm.connections = c
}

// SetGaugeSource wires in externally supplied gauges.
func (sm *SystemSampler) SetGaugeSource(g GaugeSource) {
	sm.gauges = g
}

// Snapshot computes the current system state.
func (sm *SystemSampler) Snapshot() SystemSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	now := time.Now()
	total, errors := sm.store.eventsSince(now.Add(-sm.config.Window))

	snap := SystemSnapshot{
		Timestamp:      now,
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocMB:    float64(mem.HeapAlloc) / (1024 * 1024),
		HeapObjects:    mem.HeapObjects,
		BufferedEvents: sm.store.EventCount(),
		ActiveTraces:   sm.store.TraceCount(),
		EventsPerSec:   float64(total) / sm.config.Window.Seconds(),
	}
	if total > 0 {
		snap.ErrorRate = float64(errors) / float64(total)
	}
	if sm.connections != nil {
		snap.Subscriptions = sm.connections.ActiveSubscriptions()
		snap.Streams = sm.connections.ActiveStreams()
	}
	if sm.gauges != nil {
		snap.Gauges = sm.gauges()
	}
	return snap
}

// Publish computes a snapshot and ingests it as an event.
func (sm *SystemSampler) Publish() SystemSnapshot {
	snap := sm.Snapshot()
	sm.store.Ingest(LevelDebug, "system", "system state snapshot", EventOptions{
		Data:   snap,
		Source: "sampler",
	})
	return snap
}

// Start launches the sampling ticker.
func (sm *SystemSampler) Start() {
	sm.mu.Lock()
	if sm.running {
		sm.mu.Unlock()
		return
	}
	sm.running = true
	sm.mu.Unlock()

	go func() {
		ticker := time.NewTicker(sm.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sm.Publish()
			case <-sm.stopCh:
				return
			}
		}
	}()
}

// Stop cancels the sampling ticker. Safe to call more than once.
func (sm *SystemSampler) Stop() {
	sm.stopped.Do(func() { close(sm.stopCh) })
}
