package events

import (
	"errors"
	"fmt"
)

// ErrTraceNotFound indicates a span was started against an unknown trace.
// This is the one loud failure in the store: it points at a trace lifecycle
// bug in the caller, not at telemetry plumbing.
var ErrTraceNotFound = errors.New("trace not found")

// TraceNotFoundError carries the offending trace identifier.
type TraceNotFoundError struct {
	TraceID string
}

func (e *TraceNotFoundError) Error() string {
	return fmt.Sprintf("trace not found: %s", e.TraceID)
}

func (e *TraceNotFoundError) Is(target error) bool {
	return target == ErrTraceNotFound
}

// IsTraceNotFound checks whether the error indicates an unknown trace.
func IsTraceNotFound(err error) bool {
	return errors.Is(err, ErrTraceNotFound)
}
