package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observa/pulse/pkg/events"
)

func TestSSEStreamFrameFormat(t *testing.T) {
	var buf bytes.Buffer
	s := NewSSEStream(&buf, nil)

	event := testEvent(events.LevelWarn, "cache")
	require.NoError(t, s.Send(context.Background(), event))

	frame := buf.String()
	lines := strings.Split(strings.TrimRight(frame, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "event: telemetry", lines[0])
	assert.Equal(t, "id: "+event.ID, lines[1])
	require.True(t, strings.HasPrefix(lines[2], "data: "))
	assert.True(t, strings.HasSuffix(frame, "\n\n"))

	var decoded events.DebugEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[2], "data: ")), &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, events.LevelWarn, decoded.Level)
}

func TestSSEStreamSendAfterClose(t *testing.T) {
	var buf bytes.Buffer
	closed := 0
	s := NewSSEStream(&buf, func() { closed++ })

	require.NoError(t, s.Close())
	require.NoError(t, s.Close()) // close hook runs once
	assert.Equal(t, 1, closed)

	err := s.Send(context.Background(), testEvent(events.LevelInfo, "t"))
	assert.Error(t, err)
}

func TestWebhookStreamPosts(t *testing.T) {
	var got events.DebugEvent
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	wh := NewWebhookStream(srv.URL, map[string]string{"Authorization": "Bearer tok"}, srv.Client())
	event := testEvent(events.LevelError, "alerts")
	require.NoError(t, wh.Send(context.Background(), event))

	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, "Bearer tok", auth)
	assert.NoError(t, wh.Close())
}

func TestWebhookStreamNon2xxIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhookStream(srv.URL, nil, srv.Client())
	err := wh.Send(context.Background(), testEvent(events.LevelInfo, "t"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
