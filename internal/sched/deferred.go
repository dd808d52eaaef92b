// internal/sched/deferred.go

package sched

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CallState is the lifecycle state of a primitive.
type CallState int

const (
	StateIdle      CallState = iota // no wait in flight
	StateWaiting                    // one wait registered with the clock
	StateExecuting                  // work item running
	StateTerminal                   // cancellation observed; permanent
)

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateWaiting:
		return "Waiting"
	case StateExecuting:
		return "Executing"
	case StateTerminal:
		return "Terminal"
	default:
		return "Unknown"
	}
}

// transitions lists every legal state change.
var transitions = map[CallState][]CallState{
	StateIdle:      {StateWaiting, StateTerminal},
	StateWaiting:   {StateExecuting, StateIdle, StateTerminal},
	StateExecuting: {StateIdle, StateWaiting, StateTerminal},
	StateTerminal:  nil,
}

func canTransition(from, to CallState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// deferredCall owns one work item, its delay policy and cancellation handle,
// and guarantees at most one wait is in flight at any time.
type deferredCall struct {
	clock Clock
	work  Work
	delay DelaySpec
	opts  options
	log   zerolog.Logger

	mu          sync.Mutex
	state       CallState
	invocations int64
}

func newDeferredCall(clock Clock, work Work, delay DelaySpec, opts []Option) (*deferredCall, error) {
	if clock == nil {
		return nil, ErrNilClock
	}
	if work == nil {
		return nil, ErrNilWork
	}
	o := buildOptions(opts)
	if o.ignore && delay.Unit == UnitDuration {
		delay.IgnoreTimeScale = true
	}
	if err := delay.Validate(); err != nil {
		return nil, err
	}
	if !o.phase.valid() {
		return nil, fmt.Errorf("phase %d: %w", o.phase, ErrUnknownPhase)
	}
	return &deferredCall{
		clock: clock,
		work:  work,
		delay: delay,
		opts:  o,
		log:   o.log.With().Str("call", o.name).Str("unit", delay.Unit.String()).Logger(),
	}, nil
}

func (c *deferredCall) cancelled() bool { return c.opts.ctx.Err() != nil }

// set moves the call to a new state. Must hold c.mu.
func (c *deferredCall) set(to CallState) {
	if !canTransition(c.state, to) {
		panic(fmt.Sprintf("sched: illegal transition %s -> %s for %q", c.state, to, c.opts.name))
	}
	c.state = to
}

func (c *deferredCall) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *deferredCall) Invocations() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invocations
}

// begin accepts a trigger if the call is idle and not cancelled. It returns
// false when the trigger was coalesced into an in-flight wait or the call is
// terminal.
func (c *deferredCall) begin() bool {
	st, n, accepted, cancelled := c.tryBegin()
	switch {
	case accepted:
		c.log.Debug().Msg("armed")
		c.emit(StatusArmed, n)
		return true
	case cancelled:
		c.log.Debug().Int64("invocations", n).Msg("cancelled")
		c.emit(StatusCancelled, n)
	case (st == StateWaiting || st == StateExecuting) && !c.cancelled():
		c.log.Debug().Str("state", st.String()).Msg("trigger coalesced")
		c.emit(StatusCoalesced, n)
	}
	return false
}

// tryBegin moves an idle, live call to Waiting. cancelled reports that this
// attempt moved the call to Terminal; a running invocation is left to settle
// itself when it returns.
func (c *deferredCall) tryBegin() (st CallState, n int64, accepted, cancelled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state == StateTerminal:
	case c.cancelled():
		if c.state != StateExecuting {
			c.set(StateTerminal)
			cancelled = true
		}
	case c.state == StateIdle:
		c.set(StateWaiting)
		accepted = true
	}
	return c.state, c.invocations, accepted, cancelled
}

// wait registers the next wait with the clock. on runs once the wait
// resolves with the handle still live; otherwise the call goes terminal.
func (c *deferredCall) wait(first bool, on func()) {
	c.delay.Wait(first).schedule(c.clock, c.opts.ctx, c.opts.phase, func(resolved bool) {
		if !resolved || c.cancelled() {
			c.terminate()
			return
		}
		on()
	})
}

// settleCancelled moves a waiting or executing call to Terminal once the
// handle is cancelled. It reports whether the transition happened here. Must
// hold c.mu.
func (c *deferredCall) settleCancelled() bool {
	if c.state == StateTerminal || c.state == StateIdle || !c.cancelled() {
		return false
	}
	c.set(StateTerminal)
	return true
}

func (c *deferredCall) terminate() {
	c.mu.Lock()
	moved := c.state != StateTerminal
	if moved {
		c.set(StateTerminal)
	}
	n := c.invocations
	c.mu.Unlock()
	if !moved {
		return
	}
	c.log.Debug().Int64("invocations", n).Msg("cancelled")
	c.emit(StatusCancelled, n)
}

// stop returns a waiting call to idle without invoking. A call that is no
// longer waiting is left alone.
func (c *deferredCall) stop() {
	kind, n, ok := c.tryStop()
	if !ok {
		return
	}
	c.log.Debug().Int64("invocations", n).Str("event", kind.String()).Msg("stopped")
	c.emit(kind, n)
}

func (c *deferredCall) tryStop() (StatusKind, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateWaiting {
		return StatusIdle, c.invocations, false
	}
	if c.settleCancelled() {
		return StatusCancelled, c.invocations, true
	}
	c.set(StateIdle)
	return StatusStopped, c.invocations, true
}

// claim moves a waiting, live call to Executing. It returns false when the
// state changed under the resolving wait (e.g. a concurrent cancel and
// Trigger already made it Terminal) or the handle is cancelled.
func (c *deferredCall) claim() (n int64, ok, cancelled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateWaiting {
		return c.invocations, false, false
	}
	if c.settleCancelled() {
		return c.invocations, false, true
	}
	c.set(StateExecuting)
	c.invocations++
	return c.invocations, true, false
}

// invoke runs the work item once. After work returns, next (if any) is
// called while still Executing and reports whether it moved the call into a
// new wait. Otherwise, or if work panics, the call returns to idle, or to
// Terminal if the handle was cancelled meanwhile.
func (c *deferredCall) invoke(next func() bool) {
	n, ok, cancelled := c.claim()
	if !ok {
		if cancelled {
			c.log.Debug().Int64("invocations", n).Msg("cancelled")
			c.emit(StatusCancelled, n)
		}
		return
	}
	c.emit(StatusFire, n)

	rearmed := false
	defer func() {
		if rearmed {
			return
		}
		if c.release() {
			c.emit(StatusCancelled, c.Invocations())
		}
	}()

	c.work()
	if next != nil {
		rearmed = next()
	}
}

// release ends an invocation and reports whether it ended in Terminal.
func (c *deferredCall) release() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateExecuting {
		return false
	}
	if c.settleCancelled() {
		return true
	}
	c.set(StateIdle)
	return false
}

// rewait moves an executing call straight into its next wait. It returns
// false when the handle is already cancelled so invoke settles the call.
func (c *deferredCall) rewait(on func()) bool {
	if !c.toWaiting() {
		return false
	}
	c.wait(false, on)
	return true
}

func (c *deferredCall) toWaiting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateExecuting || c.cancelled() {
		return false
	}
	c.set(StateWaiting)
	return true
}

func (c *deferredCall) emit(kind StatusKind, invocations int64) {
	if c.opts.observer == nil {
		return
	}
	ev := StatusEvent{
		Time:        time.Now(),
		Kind:        kind,
		Call:        c.opts.name,
		Invocations: invocations,
	}
	if tc, ok := c.clock.(interface{ Count() int64 }); ok {
		ev.Tick = tc.Count()
	}
	c.opts.observer(ev)
}
