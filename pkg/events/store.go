package events

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StoreConfig bounds the store's in-memory footprint.
type StoreConfig struct {
	// MaxEvents is the event log capacity; the oldest event is dropped first.
	MaxEvents int `yaml:"max_events" json:"max_events"`

	// MaxTraces caps the number of retained traces.
	MaxTraces int `yaml:"max_traces" json:"max_traces"`

	// TraceRetention is how long a trace may sit idle (no new span starts)
	// before the sweep removes it.
	TraceRetention time.Duration `yaml:"trace_retention" json:"trace_retention"`

	// SweepInterval is how often the retention sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// DefaultStoreConfig returns the store defaults.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		MaxEvents:      1000,
		MaxTraces:      500,
		TraceRetention: 30 * time.Minute,
		SweepInterval:  time.Minute,
	}
}

// FanoutFunc is invoked synchronously, in arrival order, for every ingested
// event. The subscription registry hangs off this hook.
type FanoutFunc func(*DebugEvent)

// EvictionFunc observes events dropped by capacity eviction.
type EvictionFunc func(*DebugEvent)

// Stats aggregates the store contents.
type Stats struct {
	Events EventStats `json:"events"`
	Traces TraceStats `json:"traces"`
}

// EventStats counts buffered events by dimension.
type EventStats struct {
	Total      int            `json:"total"`
	ByLevel    map[Level]int  `json:"by_level"`
	ByCategory map[string]int `json:"by_category"`
	BySource   map[string]int `json:"by_source"`
}

// TraceStats partitions retained traces by status.
type TraceStats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Errored   int `json:"errored"`
}

// Store owns the bounded event log and the trace map. All mutations go
// through its methods; callers never write to returned values.
type Store struct {
	mu     sync.RWMutex
	ring   *eventRing
	traces map[string]*RequestTrace
	config StoreConfig
	logger *slog.Logger

	// ingestMu serializes ingestion so fan-out observes strict arrival order
	// without holding the store lock across subscriber callbacks.
	ingestMu sync.Mutex
	fanout   FanoutFunc
	onEvict  EvictionFunc

	stopCh  chan struct{}
	stopped sync.Once
	running bool
}

// NewStore creates a store with the given configuration.
func NewStore(config StoreConfig, logger *slog.Logger) *Store {
	if config.MaxEvents <= 0 {
		config.MaxEvents = DefaultStoreConfig().MaxEvents
	}
	if config.MaxTraces <= 0 {
		config.MaxTraces = DefaultStoreConfig().MaxTraces
	}
	if config.TraceRetention <= 0 {
		config.TraceRetention = DefaultStoreConfig().TraceRetention
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultStoreConfig().SweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		ring:   newEventRing(config.MaxEvents),
		traces: make(map[string]*RequestTrace),
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// SetFanout installs the synchronous per-event hook. Must be set before
// producers start ingesting.
func (s *Store) SetFanout(fn FanoutFunc) {
	s.fanout = fn
}

// SetEvictionFunc installs the eviction observer.
func (s *Store) SetEvictionFunc(fn EvictionFunc) {
	s.onEvict = fn
}

// Ingest sanitizes and appends an event, evicting the oldest entry when the
// log is full, then fans the event out to subscribers. It never fails.
func (s *Store) Ingest(level Level, category, message string, opts EventOptions) *DebugEvent {
	event := newEvent(level, category, message, opts)

	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	s.mu.Lock()
	evicted := s.ring.add(event)
	s.mu.Unlock()

	if evicted != nil && s.onEvict != nil {
		s.onEvict(evicted)
	}
	if s.fanout != nil {
		s.fanout(event)
	}
	return event
}

// StartTrace creates and indexes a trace. A duplicate id overwrites the
// previous trace; unique ids are the caller's responsibility.
func (s *Store) StartTrace(traceID string, meta TraceMetadata) *RequestTrace {
	trace := &RequestTrace{
		ID:        traceID,
		Metadata:  meta,
		StartTime: time.Now(),
	}
	s.mu.Lock()
	s.traces[traceID] = trace
	s.mu.Unlock()
	return trace
}

// StartSpan appends a new active span to the trace and returns its id. It is
// the one store operation that fails loudly: an unknown trace indicates a
// lifecycle bug in the caller.
func (s *Store) StartSpan(traceID, operation, parentSpanID string, tags map[string]any) (string, error) {
	span := &Span{
		ID:           uuid.New().String(),
		ParentSpanID: parentSpanID,
		Operation:    operation,
		StartTime:    time.Now(),
		Tags:         sanitizeTags(tags),
		Status:       SpanActive,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	trace, ok := s.traces[traceID]
	if !ok {
		return "", &TraceNotFoundError{TraceID: traceID}
	}
	trace.Spans = append(trace.Spans, span)
	return span.ID, nil
}

// FinishSpan transitions a span to completed, or to error when spanErr is
// non-nil, merging finalTags into the span's tags. Unknown traces or spans
// and already-finished spans are silent no-ops; a terminal span is never
// re-opened.
func (s *Store) FinishSpan(traceID, spanID string, spanErr error, finalTags map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trace, ok := s.traces[traceID]
	if !ok {
		return
	}
	span := trace.findSpan(spanID)
	if span == nil || span.Status != SpanActive {
		return
	}

	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if span.Duration < 0 {
		span.Duration = 0
	}
	if span.Tags == nil && len(finalTags) > 0 {
		span.Tags = make(map[string]any, len(finalTags))
	}
	for k, v := range sanitizeTags(finalTags) {
		span.Tags[k] = v
	}
	if spanErr != nil {
		span.Status = SpanError
		span.Error = spanErr.Error()
	} else {
		span.Status = SpanCompleted
	}
}

// LogToSpan appends a timestamped log entry to a span. Append-only: it is
// accepted even after the span has finished, and unknown traces or spans are
// silent no-ops.
func (s *Store) LogToSpan(traceID, spanID, message string, data any) {
	entry := SpanLog{
		Timestamp: time.Now(),
		Message:   message,
		Data:      Sanitize(data),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	trace, ok := s.traces[traceID]
	if !ok {
		return
	}
	span := trace.findSpan(spanID)
	if span == nil {
		return
	}
	span.Logs = append(span.Logs, entry)
}

// RecentEvents returns up to limit events, most recent first, optionally
// narrowed by a filter. A limit of zero or less means no limit.
func (s *Store) RecentEvents(limit int, filter *EventFilter) []*DebugEvent {
	s.mu.RLock()
	all := s.ring.snapshot()
	s.mu.RUnlock()

	out := make([]*DebugEvent, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if filter.Matches(all[i]) {
			out = append(out, all[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out
}

// RecentTraces returns up to limit traces ordered by their latest span start
// time, most recent first.
func (s *Store) RecentTraces(limit int) []*RequestTrace {
	s.mu.RLock()
	out := make([]*RequestTrace, 0, len(s.traces))
	for _, trace := range s.traces {
		out = append(out, trace)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].latestSpanStart().After(out[j].latestSpanStart())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SearchEvents performs a case-insensitive substring search over each event's
// message, category, source, and serialized payload, optionally narrowed by a
// filter. Results are most recent first.
func (s *Store) SearchEvents(query string, filter *EventFilter) []*DebugEvent {
	needle := strings.ToLower(query)

	s.mu.RLock()
	all := s.ring.snapshot()
	s.mu.RUnlock()

	var out []*DebugEvent
	for i := len(all) - 1; i >= 0; i-- {
		event := all[i]
		if !strings.Contains(event.SearchText(), needle) {
			continue
		}
		if filter.Matches(event) {
			out = append(out, event)
		}
	}
	return out
}

// GetEvent looks up a buffered event by id.
func (s *Store) GetEvent(id string) *DebugEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ring.byID(id)
}

// GetTrace looks up a retained trace by id.
func (s *Store) GetTrace(id string) *RequestTrace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.traces[id]
}

// EventCount returns the number of buffered events.
func (s *Store) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ring.len()
}

// TraceCount returns the number of retained traces.
func (s *Store) TraceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.traces)
}

// Statistics aggregates counts across the event log and trace map.
func (s *Store) Statistics() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Events: EventStats{
			ByLevel:    make(map[Level]int),
			ByCategory: make(map[string]int),
			BySource:   make(map[string]int),
		},
	}
	for _, event := range s.ring.snapshot() {
		stats.Events.Total++
		stats.Events.ByLevel[event.Level]++
		if event.Category != "" {
			stats.Events.ByCategory[event.Category]++
		}
		if event.Source != "" {
			stats.Events.BySource[event.Source]++
		}
	}
	for _, trace := range s.traces {
		stats.Traces.Total++
		switch trace.status() {
		case SpanError:
			stats.Traces.Errored++
		case SpanActive:
			stats.Traces.Active++
		default:
			stats.Traces.Completed++
		}
	}
	return stats
}

// eventsSince supports the sampler's derived rate metrics.
func (s *Store) eventsSince(cutoff time.Time) (total, errors int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ring.countSince(cutoff)
}

// SweepTraces removes traces whose latest span start is older than the
// retention window, then enforces MaxTraces by dropping the globally oldest
// traces. It returns the number removed.
func (s *Store) SweepTraces() int {
	cutoff := time.Now().Add(-s.config.TraceRetention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, trace := range s.traces {
		if trace.latestSpanStart().Before(cutoff) {
			delete(s.traces, id)
			removed++
		}
	}

	if excess := len(s.traces) - s.config.MaxTraces; excess > 0 {
		ordered := make([]*RequestTrace, 0, len(s.traces))
		for _, trace := range s.traces {
			ordered = append(ordered, trace)
		}
		sort.Slice(ordered, func(i, j int) bool {
			return ordered[i].latestSpanStart().Before(ordered[j].latestSpanStart())
		})
		for _, trace := range ordered[:excess] {
			delete(s.traces, trace.ID)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("trace sweep completed", "removed", removed, "remaining", len(s.traces))
	}
	return removed
}

// Start launches the retention sweep ticker.
func (s *Store) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.SweepTraces()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop cancels the retention sweep. Safe to call more than once.
func (s *Store) Stop() {
	s.stopped.Do(func() { close(s.stopCh) })
}

func sanitizeTags(tags map[string]any) map[string]any {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]any, len(tags))
	for k, v := range tags {
		out[k] = Sanitize(v)
	}
	return out
}
