package pool

import (
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrPoolTimeout   = errors.New("pool: acquire timeout")
	ErrPoolDraining  = errors.New("pool: draining")
	ErrNotCheckedOut = errors.New("pool: resource is not checked out")
)

// TimeoutError is returned when Acquire could not get a slot within AcquireTimeout
type TimeoutError struct {
	Pool    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("pool %s: acquire timed out after %s", e.Pool, e.Timeout)
}

// Is lets errors.Is match ErrPoolTimeout
func (e *TimeoutError) Is(target error) bool {
	return target == ErrPoolTimeout
}
