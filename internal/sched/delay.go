// internal/sched/delay.go

package sched

import (
	"context"
	"fmt"
	"time"
)

// Unit selects how a delay is measured.
type Unit int

const (
	UnitTicks Unit = iota
	UnitDuration
)

func (u Unit) String() string {
	switch u {
	case UnitTicks:
		return "ticks"
	case UnitDuration:
		return "duration"
	default:
		return "unknown"
	}
}

// DelaySpec is the delay policy of a primitive. The first wait of a run uses
// the First* value, every later wait uses the Interval* value.
type DelaySpec struct {
	Unit Unit

	FirstTicks    int
	IntervalTicks int

	First           time.Duration
	Interval        time.Duration
	IgnoreTimeScale bool // duration unit only
}

// TickDelay builds a tick-count delay policy.
func TickDelay(first, interval int) DelaySpec {
	return DelaySpec{Unit: UnitTicks, FirstTicks: first, IntervalTicks: interval}
}

// DurationDelay builds an elapsed-time delay policy.
func DurationDelay(first, interval time.Duration, ignoreTimeScale bool) DelaySpec {
	return DelaySpec{
		Unit:            UnitDuration,
		First:           first,
		Interval:        interval,
		IgnoreTimeScale: ignoreTimeScale,
	}
}

// Validate rejects negative delays and unknown units.
func (d DelaySpec) Validate() error {
	switch d.Unit {
	case UnitTicks:
		if d.FirstTicks < 0 {
			return fmt.Errorf("first delay %d ticks: %w", d.FirstTicks, ErrNegativeDelay)
		}
		if d.IntervalTicks < 0 {
			return fmt.Errorf("interval delay %d ticks: %w", d.IntervalTicks, ErrNegativeDelay)
		}
	case UnitDuration:
		if d.First < 0 {
			return fmt.Errorf("first delay %v: %w", d.First, ErrNegativeDelay)
		}
		if d.Interval < 0 {
			return fmt.Errorf("interval delay %v: %w", d.Interval, ErrNegativeDelay)
		}
	default:
		return fmt.Errorf("unit %d: %w", d.Unit, ErrUnknownUnit)
	}
	return nil
}

// Wait is a single wait descriptor produced by a DelaySpec.
type Wait struct {
	Unit            Unit
	Ticks           int
	Duration        time.Duration
	IgnoreTimeScale bool
}

// Wait returns the descriptor for the first wait of a run or for an interval wait.
func (d DelaySpec) Wait(first bool) Wait {
	w := Wait{Unit: d.Unit, IgnoreTimeScale: d.IgnoreTimeScale}
	switch d.Unit {
	case UnitTicks:
		w.Ticks = d.IntervalTicks
		if first {
			w.Ticks = d.FirstTicks
		}
	case UnitDuration:
		w.Duration = d.Interval
		if first {
			w.Duration = d.First
		}
	}
	return w
}

// schedule registers the wait with the clock.
func (w Wait) schedule(c Clock, ctx context.Context, phase Phase, fn func(resolved bool)) {
	if w.Unit == UnitDuration {
		c.WaitDuration(ctx, w.Duration, w.IgnoreTimeScale, phase, fn)
		return
	}
	c.WaitTicks(ctx, w.Ticks, phase, fn)
}
