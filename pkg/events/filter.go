package events

import "strings"

// EventFilter narrows the set of events a subscriber or query observes.
//
// Every populated non-keyword dimension must match (set membership), so the
// dimensions combine with AND. Keywords are the one OR dimension: the filter
// matches if the event's searchable text contains any keyword. An empty or
// nil filter matches every event.
type EventFilter struct {
	Levels     []Level  `json:"levels,omitempty" yaml:"levels,omitempty"`
	Categories []string `json:"categories,omitempty" yaml:"categories,omitempty"`
	Sources    []string `json:"sources,omitempty" yaml:"sources,omitempty"`
	TraceIDs   []string `json:"trace_ids,omitempty" yaml:"trace_ids,omitempty"`
	Keywords   []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}

// Matches reports whether the event passes the filter.
func (f *EventFilter) Matches(event *DebugEvent) bool {
	if f == nil || event == nil {
		return event != nil
	}

	if len(f.Levels) > 0 && !containsLevel(f.Levels, event.Level) {
		return false
	}
	if len(f.Categories) > 0 && !containsString(f.Categories, event.Category) {
		return false
	}
	if len(f.Sources) > 0 && !containsString(f.Sources, event.Source) {
		return false
	}
	if len(f.TraceIDs) > 0 && !containsString(f.TraceIDs, event.TraceID) {
		return false
	}

	if len(f.Keywords) > 0 {
		text := event.SearchText()
		for _, kw := range f.Keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				return true
			}
		}
		return false
	}

	return true
}

func containsLevel(set []Level, v Level) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
