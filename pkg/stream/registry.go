package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/observa/pulse/pkg/events"
)

// StreamKind identifies the transport behind a streaming connection.
type StreamKind string

const (
	KindWebSocket StreamKind = "websocket"
	KindSSE       StreamKind = "sse"
	KindWebhook   StreamKind = "webhook"
)

// SignalKind distinguishes the consumer class an error signal refers to.
type SignalKind string

const (
	SignalSubscription SignalKind = "subscription"
	SignalStream       SignalKind = "stream"
)

// ErrorSignal reports a consumer failure observed during fan-out.
type ErrorSignal struct {
	Kind    SignalKind
	ID      string
	Err     error
	EventID string
}

// SignalFunc receives consumer failure signals. It may be called from
// fan-out goroutines and must be safe for concurrent use.
type SignalFunc func(ErrorSignal)

// Callback receives matching events on an in-process subscription.
type Callback func(*events.DebugEvent)

// Subscription is a live in-process consumer: a filter plus a callback.
type Subscription struct {
	ID      string
	Filter  *events.EventFilter
	Active  bool
	Created time.Time

	callback Callback
}

// StreamConn is the async send/close capability of a streaming transport.
type StreamConn interface {
	Send(ctx context.Context, event *events.DebugEvent) error
	Close() error
}

// StreamInfo describes a registered streaming connection.
type StreamInfo struct {
	ID           string
	Kind         StreamKind
	URL          string
	Filter       *events.EventFilter
	LastActivity time.Time
	Active       bool
}

type streamRecord struct {
	info StreamInfo
	conn StreamConn
}

// RegistryConfig bounds fan-out behaviour.
type RegistryConfig struct {
	// SendTimeout caps each asynchronous stream send.
	SendTimeout time.Duration `yaml:"send_timeout" json:"send_timeout"`
}

// DefaultRegistryConfig returns the registry defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{SendTimeout: 5 * time.Second}
}

// Registry owns the subscription set and the streaming connection set and
// performs filter matching and fan-out on every ingested event.
type Registry struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription
	streams map[string]*streamRecord
	config  RegistryConfig
	signal  SignalFunc
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(config RegistryConfig, logger *slog.Logger) *Registry {
	if config.SendTimeout <= 0 {
		config.SendTimeout = DefaultRegistryConfig().SendTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		subs:    make(map[string]*Subscription),
		streams: make(map[string]*streamRecord),
		config:  config,
		logger:  logger,
	}
}

// SetSignalFunc installs the consumer-failure signal sink.
func (r *Registry) SetSignalFunc(fn SignalFunc) {
	r.signal = fn
}

// Subscribe registers an in-process subscription and returns its id.
func (r *Registry) Subscribe(filter *events.EventFilter, cb Callback) string {
	sub := &Subscription{
		ID:       uuid.New().String(),
		Filter:   filter,
		Active:   true,
		Created:  time.Now(),
		callback: cb,
	}
	r.mu.Lock()
	r.subs[sub.ID] = sub
	r.mu.Unlock()

	r.logger.Debug("subscription added", "subscription_id", sub.ID)
	return sub.ID
}

// Unsubscribe removes a subscription. It reports whether the id was known.
func (r *Registry) Unsubscribe(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return false
	}
	delete(r.subs, id)
	return true
}

// AddStream registers a streaming connection and returns its id.
func (r *Registry) AddStream(kind StreamKind, url string, filter *events.EventFilter, conn StreamConn) string {
	rec := &streamRecord{
		info: StreamInfo{
			ID:           uuid.New().String(),
			Kind:         kind,
			URL:          url,
			Filter:       filter,
			LastActivity: time.Now(),
			Active:       true,
		},
		conn: conn,
	}
	r.mu.Lock()
	r.streams[rec.info.ID] = rec
	r.mu.Unlock()

	r.logger.Debug("stream added", "stream_id", rec.info.ID, "kind", string(kind))
	return rec.info.ID
}

// RemoveStream closes the connection and removes it from the registry. It
// reports whether the id was known. Close is always attempted first so the
// transport can release its resources.
func (r *Registry) RemoveStream(id string) bool {
	r.mu.Lock()
	rec, ok := r.streams[id]
	if ok {
		delete(r.streams, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	if err := rec.conn.Close(); err != nil {
		r.logger.Warn("stream close failed", "stream_id", id, "error", err)
	}
	return true
}

// Dispatch fans one event out to every matching consumer. Subscription
// callbacks run synchronously in registration-independent order with panics
// contained; stream sends are dispatched concurrently and never block the
// caller. Dispatch is installed as the store's fan-out hook.
func (r *Registry) Dispatch(event *events.DebugEvent) {
	r.mu.RLock()
	subs := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		if sub.Active && sub.Filter.Matches(event) {
			subs = append(subs, sub)
		}
	}
	recs := make([]*streamRecord, 0, len(r.streams))
	for _, rec := range r.streams {
		if rec.info.Active && rec.info.Filter.Matches(event) {
			recs = append(recs, rec)
		}
	}
	r.mu.RUnlock()

	for _, sub := range subs {
		r.invoke(sub, event)
	}
	for _, rec := range recs {
		go r.send(rec, event)
	}
}

func (r *Registry) invoke(sub *Subscription, event *events.DebugEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.emit(ErrorSignal{
				Kind:    SignalSubscription,
				ID:      sub.ID,
				Err:     fmt.Errorf("subscription callback panic: %v", rec),
				EventID: event.ID,
			})
		}
	}()
	sub.callback(event)
}

func (r *Registry) send(rec *streamRecord, event *events.DebugEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.SendTimeout)
	defer cancel()

	err := rec.conn.Send(ctx, event)

	r.mu.Lock()
	if err != nil {
		// Self-healing: a failed connection stops receiving events. The
		// caller still owns removal, which releases the transport.
		rec.info.Active = false
	} else {
		rec.info.LastActivity = time.Now()
	}
	r.mu.Unlock()

	if err != nil {
		r.emit(ErrorSignal{
			Kind:    SignalStream,
			ID:      rec.info.ID,
			Err:     err,
			EventID: event.ID,
		})
	}
}

func (r *Registry) emit(sig ErrorSignal) {
	r.logger.Warn("consumer failure",
		"kind", string(sig.Kind),
		"consumer_id", sig.ID,
		"error", sig.Err,
	)
	if r.signal != nil {
		r.signal(sig)
	}
}

// ActiveSubscriptions returns the number of active subscriptions.
func (r *Registry) ActiveSubscriptions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, sub := range r.subs {
		if sub.Active {
			n++
		}
	}
	return n
}

// ActiveStreams returns the number of active streaming connections.
func (r *Registry) ActiveStreams() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.streams {
		if rec.info.Active {
			n++
		}
	}
	return n
}

// Streams returns a snapshot of all registered streaming connections.
func (r *Registry) Streams() []StreamInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StreamInfo, 0, len(r.streams))
	for _, rec := range r.streams {
		out = append(out, rec.info)
	}
	return out
}

// StreamInfo returns the state of one streaming connection.
func (r *Registry) StreamInfo(id string) (StreamInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.streams[id]
	if !ok {
		return StreamInfo{}, false
	}
	return rec.info, true
}

// Close shuts down every streaming connection and clears the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	recs := make([]*streamRecord, 0, len(r.streams))
	for _, rec := range r.streams {
		recs = append(recs, rec)
	}
	r.streams = make(map[string]*streamRecord)
	r.subs = make(map[string]*Subscription)
	r.mu.Unlock()

	for _, rec := range recs {
		if err := rec.conn.Close(); err != nil {
			r.logger.Warn("stream close failed", "stream_id", rec.info.ID, "error", err)
		}
	}
}
