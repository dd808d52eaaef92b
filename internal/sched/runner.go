package sched

import (
	"time"
)

// Runner runs its work once per trigger window. Triggers that arrive while a
// wait or the work item is in flight are coalesced into it.
type Runner struct {
	call *deferredCall
}

// NewRunner builds a Runner from an arbitrary delay policy. Only the first
// delay of spec is used.
func NewRunner(clock Clock, work Work, spec DelaySpec, opts ...Option) (*Runner, error) {
	call, err := newDeferredCall(clock, work, spec, opts)
	if err != nil {
		return nil, err
	}
	return &Runner{call: call}, nil
}

// NewTickRunner runs work delayTicks ticks after a trigger.
func NewTickRunner(clock Clock, work Work, delayTicks int, opts ...Option) (*Runner, error) {
	return NewRunner(clock, work, TickDelay(delayTicks, 0), opts...)
}

// NewDurationRunner runs work once delay of clock time has passed after a trigger.
func NewDurationRunner(clock Clock, work Work, delay time.Duration, opts ...Option) (*Runner, error) {
	return NewRunner(clock, work, DurationDelay(delay, 0, false), opts...)
}

// Trigger requests one execution after the configured delay. It is a no-op
// while a previous trigger is pending or after cancellation.
func (r *Runner) Trigger() {
	if !r.call.begin() {
		return
	}
	r.call.wait(true, r.fire)
}

func (r *Runner) fire() {
	r.call.invoke(nil)
}

// State reports the runner's lifecycle state.
func (r *Runner) State() CallState { return r.call.State() }

// Invocations returns how many times the work item has been started.
func (r *Runner) Invocations() int64 { return r.call.Invocations() }
