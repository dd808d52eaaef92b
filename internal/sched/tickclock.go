// internal/sched/tickclock.go

package sched

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/trees/redblacktree"
)

// Phase is an ordering bucket inside a single tick. Waits registered at a
// lower phase resolve before waits at a higher phase within the same tick.
type Phase int

const (
	PhaseInitialization Phase = iota
	PhaseEarlyUpdate
	PhaseFixedUpdate
	PhasePreUpdate
	PhaseUpdate
	PhasePreLateUpdate
	PhasePostLateUpdate
	PhaseTimeUpdate
)

// DefaultPhase is used when a primitive is built without WithPhase.
const DefaultPhase = PhasePreUpdate

var phaseNames = [...]string{
	PhaseInitialization: "initialization",
	PhaseEarlyUpdate:    "early_update",
	PhaseFixedUpdate:    "fixed_update",
	PhasePreUpdate:      "pre_update",
	PhaseUpdate:         "update",
	PhasePreLateUpdate:  "pre_late_update",
	PhasePostLateUpdate: "post_late_update",
	PhaseTimeUpdate:     "time_update",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

func (p Phase) valid() bool { return p >= 0 && int(p) < len(phaseNames) }

// ParsePhase maps a config name (e.g. "pre_update", "PreUpdate") to a Phase.
// An empty string yields DefaultPhase.
func ParsePhase(s string) (Phase, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	if norm == "" {
		return DefaultPhase, nil
	}
	for i, name := range phaseNames {
		if norm == name || norm == strings.ReplaceAll(name, "_", "") {
			return Phase(i), nil
		}
	}
	return 0, fmt.Errorf("%q: %w", s, ErrUnknownPhase)
}

// Clock is the tick source a primitive waits on.
//
// fn is called exactly once: with true when the wait elapses, or with false on
// the first tick at which ctx is observed cancelled. fn is never called from
// inside WaitTicks/WaitDuration themselves, so a zero delay still resolves on
// the next tick.
type Clock interface {
	WaitTicks(ctx context.Context, count int, phase Phase, fn func(resolved bool))
	WaitDuration(ctx context.Context, d time.Duration, ignoreTimeScale bool, phase Phase, fn func(resolved bool))
}

// waiter is one registered wait.
type waiter struct {
	ctx   context.Context
	unit  Unit
	since int64 // tick the wait was registered at
	fn    func(resolved bool)

	due int64 // ticks: resolve once count >= due

	need        time.Duration // duration: resolve once elapsed >= need
	elapsed     time.Duration
	ignoreScale bool
}

// TickClock counts ticks and resolves waits when Step is called. Nothing
// advances on its own; a host loop (see Scheduler) or a test drives it.
type TickClock struct {
	count atomic.Int64

	mu       sync.Mutex
	seq      uint64
	waits    *redblacktree.Tree // nodeKey -> *waiter
	scale    float64
	scaled   time.Duration
	unscaled time.Duration
}

// NewTickClock creates a clock at tick 0 with a time scale of 1.
func NewTickClock() *TickClock {
	return &TickClock{
		waits: redblacktree.NewWith(cmp),
		scale: 1,
	}
}

// Count returns the current tick count atomically.
func (c *TickClock) Count() int64 {
	return c.count.Load()
}

// SetTimeScale sets the multiplier applied to step deltas for waits that do
// not ignore time scale. Negative values are clamped to 0 (paused).
func (c *TickClock) SetTimeScale(scale float64) {
	if scale < 0 {
		scale = 0
	}
	c.mu.Lock()
	c.scale = scale
	c.mu.Unlock()
}

// TimeScale returns the current multiplier.
func (c *TickClock) TimeScale() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scale
}

// Elapsed returns the total time advanced so far, scaled or unscaled.
func (c *TickClock) Elapsed(ignoreTimeScale bool) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ignoreTimeScale {
		return c.unscaled
	}
	return c.scaled
}

// Pending returns the number of unresolved waits.
func (c *TickClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waits.Size()
}

// WaitTicks resolves after count ticks; zero behaves like one.
func (c *TickClock) WaitTicks(ctx context.Context, count int, phase Phase, fn func(resolved bool)) {
	if count < 1 {
		count = 1
	}
	c.add(phase, &waiter{ctx: ctx, unit: UnitTicks, fn: fn}, func(w *waiter) {
		w.due = w.since + int64(count)
	})
}

// WaitDuration resolves once d of time has been stepped after the current
// tick. Unless ignoreTimeScale is set, each step contributes delta*scale.
func (c *TickClock) WaitDuration(ctx context.Context, d time.Duration, ignoreTimeScale bool, phase Phase, fn func(resolved bool)) {
	if d < 0 {
		d = 0
	}
	c.add(phase, &waiter{ctx: ctx, unit: UnitDuration, need: d, ignoreScale: ignoreTimeScale, fn: fn}, nil)
}

func (c *TickClock) add(phase Phase, w *waiter, init func(*waiter)) {
	if w.ctx == nil {
		w.ctx = context.Background()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	w.since = c.count.Load()
	if init != nil {
		init(w)
	}
	c.seq++
	c.waits.Put(nodeKey{phase: phase, seq: c.seq}, w)
}

// resolution is a wait that became due during a step.
type resolution struct {
	key      nodeKey
	fn       func(resolved bool)
	resolved bool
}

// Step advances the clock by one tick of the given wall-clock delta and runs
// the callbacks of every wait that became due, in phase then registration
// order. Callbacks run on the caller's goroutine without the clock lock held.
//
// If a callback panics, waits not yet resolved in this step stay queued and
// resolve on the next step.
func (c *TickClock) Step(delta time.Duration) {
	if delta < 0 {
		delta = 0
	}

	c.mu.Lock()
	tick := c.count.Add(1)
	scaled := time.Duration(float64(delta) * c.scale)
	c.unscaled += delta
	c.scaled += scaled

	var ready []resolution
	it := c.waits.Iterator()
	for it.Next() {
		key := it.Key().(nodeKey)
		w := it.Value().(*waiter)
		if w.since >= tick {
			continue
		}
		if w.ctx.Err() != nil {
			ready = append(ready, resolution{key: key, fn: w.fn})
			continue
		}
		switch w.unit {
		case UnitTicks:
			if tick >= w.due {
				ready = append(ready, resolution{key: key, fn: w.fn, resolved: true})
			}
		case UnitDuration:
			if w.ignoreScale {
				w.elapsed += delta
			} else {
				w.elapsed += scaled
			}
			if w.elapsed >= w.need {
				ready = append(ready, resolution{key: key, fn: w.fn, resolved: true})
			}
		}
	}
	c.mu.Unlock()

	for _, r := range ready {
		c.mu.Lock()
		c.waits.Remove(r.key)
		c.mu.Unlock()
		r.fn(r.resolved)
	}
}

// Advance steps the clock n times with the same delta.
func (c *TickClock) Advance(n int, delta time.Duration) {
	for i := 0; i < n; i++ {
		c.Step(delta)
	}
}

// nodeKey orders waits by phase, then by registration.
type nodeKey struct {
	phase Phase
	seq   uint64
}

// cmp implements the Comparator for the wait tree.
func cmp(a, b any) int {
	ka, kb := a.(nodeKey), b.(nodeKey)
	switch {
	case ka.phase < kb.phase:
		return -1
	case ka.phase > kb.phase:
		return 1
	case ka.seq < kb.seq:
		return -1
	case ka.seq > kb.seq:
		return 1
	default:
		return 0
	}
}
