package events

import "time"

// eventRing is a fixed-size circular buffer of debug events with
// oldest-first eviction. It is not safe for concurrent use; the owning Store
// serializes access.
type eventRing struct {
	events   []*DebugEvent
	head     int // index of oldest element
	tail     int // index where the next element is inserted
	size     int
	capacity int
}

func newEventRing(capacity int) *eventRing {
	if capacity <= 0 {
		capacity = 1000
	}
	return &eventRing{
		events:   make([]*DebugEvent, capacity),
		capacity: capacity,
	}
}

// add inserts an event, evicting the oldest when full. It returns the evicted
// event, or nil when there was room.
func (r *eventRing) add(event *DebugEvent) *DebugEvent {
	var evicted *DebugEvent
	if r.size == r.capacity {
		evicted = r.events[r.head]
		r.head = (r.head + 1) % r.capacity
	} else {
		r.size++
	}
	r.events[r.tail] = event
	r.tail = (r.tail + 1) % r.capacity
	return evicted
}

// snapshot returns the buffered events in order from oldest to newest.
func (r *eventRing) snapshot() []*DebugEvent {
	out := make([]*DebugEvent, 0, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head + i) % r.capacity
		if r.events[idx] != nil {
			out = append(out, r.events[idx])
		}
	}
	return out
}

func (r *eventRing) len() int { return r.size }

func (r *eventRing) byID(id string) *DebugEvent {
	for i := 0; i < r.size; i++ {
		idx := (r.head + i) % r.capacity
		if r.events[idx] != nil && r.events[idx].ID == id {
			return r.events[idx]
		}
	}
	return nil
}

// countSince returns how many buffered events carry a timestamp at or after
// the cutoff, and how many of those are errors. The sampler uses this to
// derive rate metrics over its trailing window.
func (r *eventRing) countSince(cutoff time.Time) (total, errors int) {
	for i := r.size - 1; i >= 0; i-- {
		idx := (r.head + i) % r.capacity
		event := r.events[idx]
		if event == nil || event.Timestamp.Before(cutoff) {
			break
		}
		total++
		if event.Level == LevelError {
			errors++
		}
	}
	return total, errors
}
