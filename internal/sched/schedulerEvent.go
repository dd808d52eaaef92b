// internal/sched/schedulerEvent.go

package sched

import (
	"time"
)

// StatusKind represents the type of primitive or clock event
type StatusKind int

const (
	StatusIdle StatusKind = iota
	StatusArmed
	StatusCoalesced
	StatusFire
	StatusStopped
	StatusCancelled
	StatusTick
)

// StatusEvent is emitted every tick (by the Scheduler) or on primitive state changes
type StatusEvent struct {
	Time        time.Time
	Kind        StatusKind
	Tick        int64
	Call        string // primitive name, empty for ticks
	Invocations int64  // invocations of Call so far, including this one for StatusFire
}

// Observer receives StatusEvents. It is called synchronously on the goroutine
// that caused the event, must not block and must not call back into the
// primitive that emitted it.
type Observer func(StatusEvent)

func (sk StatusKind) String() string {
	switch sk {
	case StatusIdle:
		return "Idle"
	case StatusArmed:
		return "Armed"
	case StatusCoalesced:
		return "Coalesced"
	case StatusFire:
		return "Fire"
	case StatusStopped:
		return "Stopped"
	case StatusCancelled:
		return "Cancelled"
	case StatusTick:
		return "Tick"
	default:
		return "Unknown"
	}
}
