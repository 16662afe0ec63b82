package export

import (
	"errors"
	"fmt"
)

// ErrDestinationNotFound indicates an operation referenced an unregistered
// destination.
var ErrDestinationNotFound = errors.New("destination not found")

// DestinationNotFoundError carries the offending destination name.
type DestinationNotFoundError struct {
	Name string
}

func (e *DestinationNotFoundError) Error() string {
	return fmt.Sprintf("destination not found: %s", e.Name)
}

func (e *DestinationNotFoundError) Is(target error) bool {
	return target == ErrDestinationNotFound
}

// IsDestinationNotFound checks whether the error indicates an unknown
// destination.
func IsDestinationNotFound(err error) bool {
	return errors.Is(err, ErrDestinationNotFound)
}
