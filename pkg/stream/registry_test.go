package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observa/pulse/pkg/events"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   []*events.DebugEvent
	err    error
	closed bool
}

func (f *fakeConn) Send(ctx context.Context, event *events.DebugEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, event)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testEvent(level events.Level, category string) *events.DebugEvent {
	return &events.DebugEvent{
		ID:        "evt-1",
		Timestamp: time.Now(),
		Level:     level,
		Category:  category,
		Message:   "test event",
	}
}

func TestDispatchMatchingSubscriptions(t *testing.T) {
	reg := NewRegistry(RegistryConfig{}, nil)

	var dnsEvents, allEvents []string
	reg.Subscribe(&events.EventFilter{Categories: []string{"dns"}}, func(e *events.DebugEvent) {
		dnsEvents = append(dnsEvents, e.Category)
	})
	reg.Subscribe(nil, func(e *events.DebugEvent) {
		allEvents = append(allEvents, e.Category)
	})

	reg.Dispatch(testEvent(events.LevelInfo, "dns"))
	reg.Dispatch(testEvent(events.LevelInfo, "tls"))

	assert.Equal(t, []string{"dns"}, dnsEvents)
	assert.Equal(t, []string{"dns", "tls"}, allEvents)
}

func TestDispatchIsolatesPanickingCallback(t *testing.T) {
	reg := NewRegistry(RegistryConfig{}, nil)

	var signals []ErrorSignal
	reg.SetSignalFunc(func(sig ErrorSignal) {
		signals = append(signals, sig)
	})

	panickyID := reg.Subscribe(nil, func(e *events.DebugEvent) {
		panic("subscriber bug")
	})
	calm := 0
	reg.Subscribe(nil, func(e *events.DebugEvent) { calm++ })

	// Must not panic through Dispatch, and the healthy subscriber still runs.
	reg.Dispatch(testEvent(events.LevelInfo, "test"))

	assert.Equal(t, 1, calm)
	require.Len(t, signals, 1)
	assert.Equal(t, SignalSubscription, signals[0].Kind)
	assert.Equal(t, panickyID, signals[0].ID)
	assert.ErrorContains(t, signals[0].Err, "subscriber bug")
}

func TestStreamSendFailureDeactivates(t *testing.T) {
	reg := NewRegistry(RegistryConfig{}, nil)

	var mu sync.Mutex
	var signals []ErrorSignal
	reg.SetSignalFunc(func(sig ErrorSignal) {
		mu.Lock()
		defer mu.Unlock()
		signals = append(signals, sig)
	})

	conn := &fakeConn{err: errors.New("connection reset")}
	id := reg.AddStream(KindWebSocket, "", nil, conn)

	reg.Dispatch(testEvent(events.LevelInfo, "test"))

	require.Eventually(t, func() bool {
		info, ok := reg.StreamInfo(id)
		return ok && !info.Active
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, signals, 1)
	assert.Equal(t, SignalStream, signals[0].Kind)
	assert.Equal(t, id, signals[0].ID)

	// Deactivated, but still registered until explicitly removed.
	assert.Equal(t, 0, reg.ActiveStreams())
	assert.Len(t, reg.Streams(), 1)
}

func TestInactiveStreamSkipped(t *testing.T) {
	reg := NewRegistry(RegistryConfig{}, nil)

	conn := &fakeConn{err: errors.New("broken")}
	id := reg.AddStream(KindSSE, "", nil, conn)

	reg.Dispatch(testEvent(events.LevelInfo, "test"))
	require.Eventually(t, func() bool {
		info, _ := reg.StreamInfo(id)
		return !info.Active
	}, time.Second, 5*time.Millisecond)

	// Sends stop once deactivated; no retry by the registry.
	conn.mu.Lock()
	conn.err = nil
	conn.mu.Unlock()
	reg.Dispatch(testEvent(events.LevelInfo, "test"))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, conn.sentCount())
}

func TestStreamFilterApplied(t *testing.T) {
	reg := NewRegistry(RegistryConfig{}, nil)

	conn := &fakeConn{}
	reg.AddStream(KindWebhook, "http://example.test", &events.EventFilter{
		Levels: []events.Level{events.LevelError},
	}, conn)

	reg.Dispatch(testEvent(events.LevelInfo, "test"))
	reg.Dispatch(testEvent(events.LevelError, "test"))

	require.Eventually(t, func() bool {
		return conn.sentCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRemoveStreamClosesConnection(t *testing.T) {
	reg := NewRegistry(RegistryConfig{}, nil)

	conn := &fakeConn{}
	id := reg.AddStream(KindSSE, "", nil, conn)

	assert.True(t, reg.RemoveStream(id))
	assert.True(t, conn.closed)
	assert.False(t, reg.RemoveStream(id))
	assert.Empty(t, reg.Streams())
}

func TestUnsubscribe(t *testing.T) {
	reg := NewRegistry(RegistryConfig{}, nil)

	calls := 0
	id := reg.Subscribe(nil, func(e *events.DebugEvent) { calls++ })

	assert.Equal(t, 1, reg.ActiveSubscriptions())
	assert.True(t, reg.Unsubscribe(id))
	assert.False(t, reg.Unsubscribe(id))
	assert.Equal(t, 0, reg.ActiveSubscriptions())

	reg.Dispatch(testEvent(events.LevelInfo, "test"))
	assert.Equal(t, 0, calls)
}

func TestCloseShutsDownStreams(t *testing.T) {
	reg := NewRegistry(RegistryConfig{}, nil)

	a, b := &fakeConn{}, &fakeConn{}
	reg.AddStream(KindSSE, "", nil, a)
	reg.AddStream(KindWebhook, "http://example.test", nil, b)

	reg.Close()

	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Equal(t, 0, reg.ActiveStreams())
	assert.Equal(t, 0, reg.ActiveSubscriptions())
}
