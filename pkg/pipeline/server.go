package pipeline

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/observa/pulse/pkg/events"
	"github.com/observa/pulse/pkg/stream"
)

// routes builds the HTTP surface. The metrics middleware wraps the whole mux
// in New.
func (p *Pipeline) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", p.handleHealth)
	mux.Handle("GET /metrics", p.metrics.Handler())
	mux.HandleFunc("GET /events", p.handleEvents)
	mux.HandleFunc("GET /events/stream", p.handleEventStream)
	mux.HandleFunc("GET /traces", p.handleTraces)
	mux.HandleFunc("GET /stats", p.handleStats)
	return mux
}

func (p *Pipeline) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, p.Health())
}

// handleEvents returns recent events, most recent first. Query parameters:
// limit, q (substring search), and the filter parameters understood by
// filterFromQuery.
func (p *Pipeline) handleEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := filterFromQuery(query)

	limit := 100
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	var matched []*events.DebugEvent
	if q := query.Get("q"); q != "" {
		matched = p.store.SearchEvents(q, filter)
		if len(matched) > limit {
			matched = matched[:limit]
		}
	} else {
		matched = p.store.RecentEvents(limit, filter)
	}

	writeJSON(w, http.StatusOK, matched)
}

// handleEventStream attaches an SSE stream to the registry. The connection
// lives until the client goes away.
func (p *Pipeline) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	filter := filterFromQuery(r.URL.Query())
	conn := stream.NewSSEStream(w, nil)
	id := p.registry.AddStream(stream.KindSSE, r.RemoteAddr, filter, conn)
	p.metrics.UpdateConnections(p.registry.ActiveSubscriptions(), p.registry.ActiveStreams())

	<-r.Context().Done()

	p.registry.RemoveStream(id)
	p.metrics.UpdateConnections(p.registry.ActiveSubscriptions(), p.registry.ActiveStreams())
}

func (p *Pipeline) handleTraces(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, p.store.RecentTraces(limit))
}

func (p *Pipeline) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"store":  p.store.Statistics(),
		"export": p.exporter.Stats(),
	})
}

// filterFromQuery builds an event filter from levels, categories, sources,
// trace_ids, and keywords query parameters, each a comma-separated list.
// An empty query yields a nil filter, which matches everything.
func filterFromQuery(query url.Values) *events.EventFilter {
	split := func(key string) []string {
		raw := query.Get(key)
		if raw == "" {
			return nil
		}
		parts := strings.Split(raw, ",")
		out := parts[:0]
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}

	filter := &events.EventFilter{
		Categories: split("categories"),
		Sources:    split("sources"),
		TraceIDs:   split("trace_ids"),
		Keywords:   split("keywords"),
	}
	for _, raw := range split("levels") {
		filter.Levels = append(filter.Levels, events.Level(raw))
	}

	if len(filter.Levels) == 0 && len(filter.Categories) == 0 && len(filter.Sources) == 0 &&
		len(filter.TraceIDs) == 0 && len(filter.Keywords) == 0 {
		return nil
	}
	return filter
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
