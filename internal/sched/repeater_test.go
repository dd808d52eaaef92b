package sched

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newTickRepeater(t *testing.T, first, interval int, opts ...Option) (*TickClock, *Repeater, *int) {
	t.Helper()
	c := NewTickClock()
	calls := new(int)
	r, err := NewTickRepeater(c, func() { *calls++ }, first, interval, opts...)
	if err != nil {
		t.Fatalf("NewTickRepeater error: %v", err)
	}
	return c, r, calls
}

func TestRepeaterIdleUntilArmed(t *testing.T) {
	t.Parallel()
	c, r, calls := newTickRepeater(t, 1, 0)
	c.Step(step)
	if r.Armed() || *calls != 0 {
		t.Fatalf("Armed = %v, calls = %d, want false, 0", r.Armed(), *calls)
	}
}

func TestRepeaterZeroIntervalRunsEveryTick(t *testing.T) {
	t.Parallel()
	c, r, calls := newTickRepeater(t, 1, 0)
	r.SetArmed(true)
	for i := 1; i <= 3; i++ {
		c.Step(step)
		if *calls != i {
			t.Fatalf("after %d steps calls = %d, want %d", i, *calls, i)
		}
	}
}

func TestRepeaterInvocationSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct{ first, interval int }{
		{1, 1}, {1, 3}, {5, 1}, {2, 4}, {3, 3}, {0, 2}, {4, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(fmt.Sprintf("f%d_i%d", tt.first, tt.interval), func(t *testing.T) {
			c, r, calls := newTickRepeater(t, tt.first, tt.interval)
			r.SetArmed(true)

			// zero delays still take one tick
			f, i := max(tt.first, 1), max(tt.interval, 1)
			for n := 1; n <= f+4*i; n++ {
				c.Step(step)
				want := 0
				if n >= f {
					want = 1 + (n-f)/i
				}
				if *calls != want {
					t.Fatalf("after %d steps calls = %d, want %d", n, *calls, want)
				}
			}
		})
	}
}

func TestRepeaterDisarmBeforeFirstWait(t *testing.T) {
	t.Parallel()
	c, r, calls := newTickRepeater(t, 1, 0)
	r.SetArmed(true)
	r.SetArmed(false)
	c.Advance(2, step)
	if r.Armed() || *calls != 0 {
		t.Fatalf("Armed = %v, calls = %d, want false, 0", r.Armed(), *calls)
	}
	if r.State() != StateIdle {
		t.Fatalf("State = %v, want Idle", r.State())
	}
}

func TestRepeaterDisarmStopsAndRearmResumes(t *testing.T) {
	t.Parallel()
	c, r, calls := newTickRepeater(t, 1, 0)
	r.SetArmed(true)
	c.Advance(3, step)
	r.SetArmed(false)
	c.Step(step)
	if *calls != 3 {
		t.Fatalf("calls after disarm = %d, want 3", *calls)
	}
	r.SetArmed(true)
	c.Step(step)
	if !r.Armed() || *calls != 4 {
		t.Fatalf("Armed = %v, calls = %d, want true, 4", r.Armed(), *calls)
	}
}

func TestRepeaterRearmRestartsFromFirstDelay(t *testing.T) {
	t.Parallel()
	c, r, calls := newTickRepeater(t, 2, 1)
	r.SetArmed(true)
	c.Advance(3, step) // fires at ticks 2 and 3
	r.SetArmed(false)
	c.Step(step) // loop observes disarm at tick 4
	if *calls != 2 {
		t.Fatalf("calls = %d, want 2", *calls)
	}

	r.SetArmed(true)
	c.Step(step)
	if *calls != 2 {
		t.Fatalf("fired one tick after re-arm, want first delay of 2")
	}
	c.Step(step)
	if *calls != 3 {
		t.Fatalf("calls = %d, want 3", *calls)
	}
}

func TestRepeaterToggleCollapsesToOneLoop(t *testing.T) {
	t.Parallel()
	c, r, calls := newTickRepeater(t, 1, 0)
	r.SetArmed(true)
	r.SetArmed(false)
	r.SetArmed(true)
	r.SetArmed(false)
	r.SetArmed(true)
	c.Step(step)
	if !r.Armed() || *calls != 1 {
		t.Fatalf("Armed = %v, calls = %d, want true, 1", r.Armed(), *calls)
	}
	c.Advance(2, step)
	if *calls != 3 {
		t.Fatalf("calls = %d, want 3 (single loop)", *calls)
	}
}

func TestRepeaterSameValueIsNoop(t *testing.T) {
	t.Parallel()
	var kinds []StatusKind
	c, r, calls := newTickRepeater(t, 1, 0, WithObserver(func(ev StatusEvent) { kinds = append(kinds, ev.Kind) }))
	r.SetArmed(true)
	r.SetArmed(true)
	r.SetArmed(true)
	c.Step(step)
	if *calls != 1 {
		t.Fatalf("calls = %d, want 1", *calls)
	}
	if len(kinds) != 2 || kinds[0] != StatusArmed || kinds[1] != StatusFire {
		t.Fatalf("kinds = %v, want [Armed Fire]", kinds)
	}
}

func TestRepeaterCancelImmediately(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	c, r, calls := newTickRepeater(t, 1, 0, WithContext(ctx))
	r.SetArmed(true)
	cancel()
	c.Advance(2, step)
	if !r.Armed() || *calls != 0 {
		t.Fatalf("Armed = %v, calls = %d, want true, 0", r.Armed(), *calls)
	}
	if r.State() != StateTerminal {
		t.Fatalf("State = %v, want Terminal", r.State())
	}
}

func TestRepeaterAlreadyCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	c, r, calls := newTickRepeater(t, 1, 0, WithContext(ctx))
	cancel()
	r.SetArmed(true)
	c.Advance(2, step)
	if !r.Armed() || *calls != 0 {
		t.Fatalf("Armed = %v, calls = %d, want true, 0", r.Armed(), *calls)
	}
}

func TestRepeaterCancelFreezesCount(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	c, r, calls := newTickRepeater(t, 1, 0, WithContext(ctx))
	r.SetArmed(true)
	c.Advance(3, step)
	cancel()
	if *calls != 3 {
		t.Fatalf("calls at cancel = %d, want 3", *calls)
	}
	c.Advance(2, step)
	if *calls != 3 {
		t.Fatalf("calls after cancel = %d, want 3", *calls)
	}

	r.SetArmed(false)
	r.SetArmed(true)
	c.Advance(3, step)
	if !r.Armed() || *calls != 3 {
		t.Fatalf("Armed = %v, calls = %d, want true, 3", r.Armed(), *calls)
	}
	if r.State() != StateTerminal {
		t.Fatalf("State = %v, want Terminal", r.State())
	}
}

func TestRepeaterDisarmFromWork(t *testing.T) {
	t.Parallel()
	c := NewTickClock()
	calls := 0
	var r *Repeater
	r, _ = NewTickRepeater(c, func() {
		calls++
		if calls == 2 {
			r.SetArmed(false)
		}
	}, 1, 1)
	r.SetArmed(true)
	c.Advance(6, step)
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if r.State() != StateIdle {
		t.Fatalf("State = %v, want Idle", r.State())
	}
}

func TestRepeaterPanicEndsLoop(t *testing.T) {
	t.Parallel()
	c := NewTickClock()
	calls := 0
	r, _ := NewTickRepeater(c, func() {
		calls++
		if calls == 1 {
			panic("first run fails")
		}
	}, 1, 1)
	r.SetArmed(true)
	if v := stepRecover(c); v == nil {
		t.Fatalf("panic was swallowed")
	}
	if r.State() != StateIdle {
		t.Fatalf("State = %v, want Idle", r.State())
	}
	c.Advance(3, step)
	if calls != 1 {
		t.Fatalf("loop kept running after panic: calls = %d", calls)
	}

	r.SetArmed(false)
	r.SetArmed(true)
	c.Step(step)
	if calls != 2 {
		t.Fatalf("calls after re-arm = %d, want 2", calls)
	}
}

func TestRepeaterStaleWaitAfterCancel(t *testing.T) {
	t.Parallel()
	for _, armed := range []bool{true, false} {
		ctx, cancel := context.WithCancel(context.Background())
		var kinds []StatusKind
		c, r, calls := newTickRepeater(t, 1, 1,
			WithContext(ctx),
			WithObserver(func(ev StatusEvent) { kinds = append(kinds, ev.Kind) }))
		r.SetArmed(true)
		cancel()
		r.SetArmed(false)
		r.SetArmed(true)
		r.SetArmed(armed)
		if r.State() != StateTerminal {
			t.Fatalf("armed=%v: State = %v, want Terminal", armed, r.State())
		}

		// the first wait resolves after the call already settled
		r.resolve()
		c.Advance(2, step)
		if *calls != 0 || r.Invocations() != 0 {
			t.Fatalf("armed=%v: calls = %d, Invocations = %d, want 0, 0", armed, *calls, r.Invocations())
		}
		if r.State() != StateTerminal {
			t.Fatalf("armed=%v: State = %v, want Terminal", armed, r.State())
		}
		if len(kinds) != 2 || kinds[0] != StatusArmed || kinds[1] != StatusCancelled {
			t.Fatalf("armed=%v: kinds = %v, want [Armed Cancelled]", armed, kinds)
		}
	}
}

func TestRepeaterCancelFromWorkIsTerminal(t *testing.T) {
	t.Parallel()
	c := NewTickClock()
	ctx, cancel := context.WithCancel(context.Background())
	cancelled := 0
	calls := 0
	r, _ := NewTickRepeater(c, func() {
		calls++
		if calls == 2 {
			cancel()
		}
	}, 1, 1, WithContext(ctx), WithObserver(func(ev StatusEvent) {
		if ev.Kind == StatusCancelled {
			cancelled++
		}
	}))
	r.SetArmed(true)
	c.Advance(5, step)
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if r.State() != StateTerminal {
		t.Fatalf("State = %v, want Terminal", r.State())
	}
	if cancelled != 1 {
		t.Fatalf("Cancelled events = %d, want 1", cancelled)
	}
}

func TestDurationRepeaterScaled(t *testing.T) {
	t.Parallel()
	c := NewTickClock()
	c.SetTimeScale(0.5)
	calls := 0
	r, err := NewDurationRepeater(c, func() { calls++ }, 500*time.Millisecond, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("NewDurationRepeater error: %v", err)
	}
	r.SetArmed(true)

	// 10ms of wall time per step; scaled delays double in wall time
	c.Advance(99, step)
	if calls != 0 {
		t.Fatalf("calls at 0.99s = %d, want 0", calls)
	}
	c.Step(step)
	if calls != 1 {
		t.Fatalf("calls at 1.0s = %d, want 1", calls)
	}
	c.Advance(39, step)
	if calls != 2 {
		t.Fatalf("calls at 1.39s = %d, want 2", calls)
	}
	c.Step(step)
	if calls != 3 {
		t.Fatalf("calls at 1.4s = %d, want 3", calls)
	}
}

func TestDurationRepeaterIgnoreTimeScale(t *testing.T) {
	t.Parallel()
	c := NewTickClock()
	c.SetTimeScale(0.5)
	calls := 0
	r, _ := NewDurationRepeater(c, func() { calls++ }, 500*time.Millisecond, 100*time.Millisecond, IgnoreTimeScale())
	r.SetArmed(true)
	c.Advance(50, step)
	if calls != 1 {
		t.Fatalf("calls at 0.5s = %d, want 1", calls)
	}
	c.Advance(20, step)
	if calls != 3 {
		t.Fatalf("calls at 0.7s = %d, want 3", calls)
	}
}

func TestCanTransition(t *testing.T) {
	t.Parallel()
	legal := [][2]CallState{
		{StateIdle, StateWaiting},
		{StateWaiting, StateExecuting},
		{StateExecuting, StateWaiting},
		{StateExecuting, StateIdle},
		{StateWaiting, StateTerminal},
		{StateExecuting, StateTerminal},
	}
	for _, p := range legal {
		if !canTransition(p[0], p[1]) {
			t.Fatalf("%v -> %v rejected", p[0], p[1])
		}
	}
	illegal := [][2]CallState{
		{StateIdle, StateExecuting},
		{StateTerminal, StateIdle},
		{StateTerminal, StateWaiting},
		{StateWaiting, StateWaiting},
	}
	for _, p := range illegal {
		if canTransition(p[0], p[1]) {
			t.Fatalf("%v -> %v accepted", p[0], p[1])
		}
	}
}
