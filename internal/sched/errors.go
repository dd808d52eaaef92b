package sched

import "errors"

// Construction errors. Callers wrap these with the offending field, so use errors.Is.
var (
	ErrNilWork       = errors.New("work item is nil")
	ErrNilClock      = errors.New("clock is nil")
	ErrNegativeDelay = errors.New("delay must be >= 0")
	ErrUnknownPhase  = errors.New("unknown phase")
	ErrUnknownUnit   = errors.New("unknown delay unit")
)
