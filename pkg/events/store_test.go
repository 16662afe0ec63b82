package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, config StoreConfig) *Store {
	t.Helper()
	store := NewStore(config, nil)
	t.Cleanup(store.Stop)
	return store
}

func TestIngestRetainsMostRecent(t *testing.T) {
	store := newTestStore(t, StoreConfig{MaxEvents: 5})

	for i := 0; i < 12; i++ {
		store.Ingest(LevelInfo, "test", fmt.Sprintf("message %d", i), EventOptions{})
	}

	recent := store.RecentEvents(0, nil)
	require.Len(t, recent, 5)

	// Most recent first.
	assert.Equal(t, "message 11", recent[0].Message)
	assert.Equal(t, "message 7", recent[4].Message)
}

func TestStatisticsByLevel(t *testing.T) {
	store := newTestStore(t, StoreConfig{})

	store.Ingest(LevelInfo, "a", "one", EventOptions{})
	store.Ingest(LevelError, "a", "two", EventOptions{})
	store.Ingest(LevelError, "b", "three", EventOptions{Source: "worker"})

	stats := store.Statistics()
	assert.Equal(t, 3, stats.Events.Total)
	assert.Equal(t, 1, stats.Events.ByLevel[LevelInfo])
	assert.Equal(t, 2, stats.Events.ByLevel[LevelError])
	assert.Equal(t, 2, stats.Events.ByCategory["a"])
	assert.Equal(t, 1, stats.Events.BySource["worker"])
}

func TestIngestFanoutOrder(t *testing.T) {
	store := newTestStore(t, StoreConfig{})

	var seen []string
	store.SetFanout(func(e *DebugEvent) {
		seen = append(seen, e.Message)
	})

	store.Ingest(LevelInfo, "t", "first", EventOptions{})
	store.Ingest(LevelInfo, "t", "second", EventOptions{})
	store.Ingest(LevelInfo, "t", "third", EventOptions{})

	assert.Equal(t, []string{"first", "second", "third"}, seen)
}

func TestEvictionHookObservesOldest(t *testing.T) {
	store := newTestStore(t, StoreConfig{MaxEvents: 2})

	var evicted []string
	store.SetEvictionFunc(func(e *DebugEvent) {
		evicted = append(evicted, e.Message)
	})

	store.Ingest(LevelInfo, "t", "a", EventOptions{})
	store.Ingest(LevelInfo, "t", "b", EventOptions{})
	store.Ingest(LevelInfo, "t", "c", EventOptions{})
	store.Ingest(LevelInfo, "t", "d", EventOptions{})

	assert.Equal(t, []string{"a", "b"}, evicted)
}

func TestSearchEvents(t *testing.T) {
	store := newTestStore(t, StoreConfig{})

	store.Ingest(LevelInfo, "dns", "zone transfer complete", EventOptions{})
	store.Ingest(LevelWarn, "tls", "certificate expiring", EventOptions{
		Data: map[string]any{"cn": "shop.example.com"},
	})
	store.Ingest(LevelError, "dns", "zone transfer failed", EventOptions{})

	assert.Len(t, store.SearchEvents("ZONE TRANSFER", nil), 2)
	assert.Len(t, store.SearchEvents("shop.example", nil), 1)
	assert.Empty(t, store.SearchEvents("no such text", nil))

	// Filter further narrows search results.
	failed := store.SearchEvents("zone", &EventFilter{Levels: []Level{LevelError}})
	require.Len(t, failed, 1)
	assert.Equal(t, "zone transfer failed", failed[0].Message)
}

func TestRecentEventsFiltered(t *testing.T) {
	store := newTestStore(t, StoreConfig{})

	store.Ingest(LevelInfo, "cache", "warm", EventOptions{})
	store.Ingest(LevelError, "cache", "miss storm", EventOptions{})
	store.Ingest(LevelInfo, "net", "connected", EventOptions{})

	out := store.RecentEvents(10, &EventFilter{Categories: []string{"cache"}})
	require.Len(t, out, 2)
	assert.Equal(t, "miss storm", out[0].Message)
}

func TestGetEventByID(t *testing.T) {
	store := newTestStore(t, StoreConfig{})

	event := store.Ingest(LevelInfo, "t", "lookup me", EventOptions{})
	require.NotNil(t, store.GetEvent(event.ID))
	assert.Nil(t, store.GetEvent("missing"))
}

func TestRecentTracesOrdering(t *testing.T) {
	store := newTestStore(t, StoreConfig{})

	store.StartTrace("t-old", TraceMetadata{})
	_, err := store.StartSpan("t-old", "op", "", nil)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	store.StartTrace("t-new", TraceMetadata{})
	_, err = store.StartSpan("t-new", "op", "", nil)
	require.NoError(t, err)

	traces := store.RecentTraces(0)
	require.Len(t, traces, 2)
	assert.Equal(t, "t-new", traces[0].ID)
	assert.Equal(t, "t-old", traces[1].ID)

	limited := store.RecentTraces(1)
	require.Len(t, limited, 1)
	assert.Equal(t, "t-new", limited[0].ID)
}

func TestSweepTracesRetention(t *testing.T) {
	store := newTestStore(t, StoreConfig{
		TraceRetention: 30 * time.Millisecond,
		SweepInterval:  time.Hour, // sweep manually
	})

	store.StartTrace("stale", TraceMetadata{})
	_, err := store.StartSpan("stale", "op", "", nil)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	store.StartTrace("fresh", TraceMetadata{})
	_, err = store.StartSpan("fresh", "op", "", nil)
	require.NoError(t, err)

	removed := store.SweepTraces()
	assert.Equal(t, 1, removed)
	assert.Nil(t, store.GetTrace("stale"))
	assert.NotNil(t, store.GetTrace("fresh"))
}

func TestSweepTracesCapacity(t *testing.T) {
	store := newTestStore(t, StoreConfig{
		MaxTraces:     2,
		SweepInterval: time.Hour,
	})

	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("trace-%d", i)
		store.StartTrace(id, TraceMetadata{})
		_, err := store.StartSpan(id, "op", "", nil)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	removed := store.SweepTraces()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 2, store.TraceCount())

	// The globally oldest traces were dropped.
	assert.Nil(t, store.GetTrace("trace-0"))
	assert.Nil(t, store.GetTrace("trace-1"))
	assert.NotNil(t, store.GetTrace("trace-2"))
	assert.NotNil(t, store.GetTrace("trace-3"))
}

func TestTraceStatistics(t *testing.T) {
	store := newTestStore(t, StoreConfig{})

	store.StartTrace("active", TraceMetadata{})
	_, err := store.StartSpan("active", "op", "", nil)
	require.NoError(t, err)

	store.StartTrace("done", TraceMetadata{})
	doneSpan, err := store.StartSpan("done", "op", "", nil)
	require.NoError(t, err)
	store.FinishSpan("done", doneSpan, nil, nil)

	store.StartTrace("failed", TraceMetadata{})
	failedSpan, err := store.StartSpan("failed", "op", "", nil)
	require.NoError(t, err)
	store.FinishSpan("failed", failedSpan, fmt.Errorf("boom"), nil)

	stats := store.Statistics()
	assert.Equal(t, 3, stats.Traces.Total)
	assert.Equal(t, 1, stats.Traces.Active)
	assert.Equal(t, 1, stats.Traces.Completed)
	assert.Equal(t, 1, stats.Traces.Errored)
}
