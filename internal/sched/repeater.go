package sched

import (
	"sync"
	"time"
)

// Repeater invokes its work repeatedly while armed: first delay, invoke,
// interval delay, invoke, and so on. The armed flag is only consulted after a
// wait resolves, so disarming never aborts a wait in flight.
type Repeater struct {
	call *deferredCall

	mu    sync.Mutex
	armed bool
}

// NewRepeater builds a Repeater from an arbitrary delay policy.
func NewRepeater(clock Clock, work Work, spec DelaySpec, opts ...Option) (*Repeater, error) {
	call, err := newDeferredCall(clock, work, spec, opts)
	if err != nil {
		return nil, err
	}
	return &Repeater{call: call}, nil
}

// NewTickRepeater waits firstTicks before the first invocation and
// intervalTicks between invocations.
func NewTickRepeater(clock Clock, work Work, firstTicks, intervalTicks int, opts ...Option) (*Repeater, error) {
	return NewRepeater(clock, work, TickDelay(firstTicks, intervalTicks), opts...)
}

// NewDurationRepeater is NewTickRepeater measured in clock time.
func NewDurationRepeater(clock Clock, work Work, first, interval time.Duration, opts ...Option) (*Repeater, error) {
	return NewRepeater(clock, work, DurationDelay(first, interval, false), opts...)
}

// Armed reports the last value passed to SetArmed.
func (r *Repeater) Armed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.armed
}

// SetArmed records v. A false to true transition starts a new loop from the
// first delay unless one is still in flight or the repeater is cancelled.
func (r *Repeater) SetArmed(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.armed == v {
		return
	}
	r.armed = v
	if !v || !r.call.begin() {
		return
	}
	r.call.wait(true, r.resolve)
}

// resolve runs on every resolved wait of the loop. The armed check and the
// stop happen under r.mu so a concurrent SetArmed(true) cannot be lost.
func (r *Repeater) resolve() {
	r.mu.Lock()
	if !r.armed {
		r.call.stop()
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.call.invoke(func() bool {
		return r.call.rewait(r.resolve)
	})
}

// State reports the repeater's lifecycle state.
func (r *Repeater) State() CallState { return r.call.State() }

// Invocations returns how many times the work item has been started.
func (r *Repeater) Invocations() int64 { return r.call.Invocations() }
