// internal/sched/scheduler.go

package sched

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Call is the introspection surface shared by Runner and Repeater.
type Call interface {
	State() CallState
	Invocations() int64
}

// Triggerable is a call started by a one-shot request.
type Triggerable interface {
	Call
	Trigger()
}

// Activatable is a call that runs for as long as it is armed.
type Activatable interface {
	Call
	Armed() bool
	SetArmed(v bool)
}

var (
	_ Triggerable = (*Runner)(nil)
	_ Activatable = (*Repeater)(nil)
)

// Scheduler hosts a TickClock, drives it from a wall-clock ticker and streams
// the status events of the primitives built through it.
type Scheduler struct {
	// Scheduler-related
	mu       sync.Mutex       // protects calls and the closed flag
	clock    *TickClock       // clock every primitive built here waits on
	interval time.Duration    // wall-clock period between ticks
	calls    map[string]Call  // registered primitives by name
	statusCh chan StatusEvent // channel for status events
	closed   bool             // statusCh has been closed
	dropped  int64            // events dropped because statusCh was full

	// logging-related
	log       zerolog.Logger
	heartbeat *rate.Limiter // throttles tick logs
	csvFile   *os.File
	csvWriter *csv.Writer
}

// New creates a new Scheduler instance with the given configuration. cfg is
// taken as is: a zero TimeScale pauses every scaled duration wait, so callers
// should start from DefaultConfig or Load.
func New(cfg Config, log zerolog.Logger) *Scheduler {
	clock := NewTickClock()
	clock.SetTimeScale(cfg.TimeScale)

	interval := cfg.TickInterval()
	if interval <= 0 {
		interval = DefaultConfig().TickInterval()
	}

	return &Scheduler{
		clock:     clock,
		interval:  interval,
		calls:     make(map[string]Call),
		statusCh:  make(chan StatusEvent, 256), // buffered channel for status events
		log:       log,
		heartbeat: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Clock exposes the underlying clock, e.g. to adjust its time scale.
func (s *Scheduler) Clock() *TickClock { return s.clock }

// EnableCSVLogging opens the given file path for CSV logging of events.
// Must be called before Run().
func (s *Scheduler) EnableCSVLogging(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)

	// write header
	w.Write([]string{"timestamp", "tick", "event", "call", "invocations"})
	w.Flush()
	s.csvFile = f
	s.csvWriter = w
	return nil
}

// StatusChannel exposes read-only stream (optional consumers).
func (s *Scheduler) StatusChannel() <-chan StatusEvent { return s.statusCh }

// NewRunner builds a named Runner on the scheduler's clock.
func (s *Scheduler) NewRunner(name string, spec DelaySpec, work Work, opts ...Option) (*Runner, error) {
	r, err := NewRunner(s.clock, work, spec, s.callOptions(name, opts)...)
	if err != nil {
		return nil, fmt.Errorf("runner %q: %w", name, err)
	}
	if err := s.register(name, r); err != nil {
		return nil, err
	}
	return r, nil
}

// NewRepeater builds a named Repeater on the scheduler's clock.
func (s *Scheduler) NewRepeater(name string, spec DelaySpec, work Work, opts ...Option) (*Repeater, error) {
	r, err := NewRepeater(s.clock, work, spec, s.callOptions(name, opts)...)
	if err != nil {
		return nil, fmt.Errorf("repeater %q: %w", name, err)
	}
	if err := s.register(name, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Build creates the primitive described by cc. The result is a Triggerable
// (*Runner) or an Activatable (*Repeater).
func (s *Scheduler) Build(cc CallConfig, work Work, opts ...Option) (Call, error) {
	spec, err := cc.Spec()
	if err != nil {
		return nil, err
	}
	phase, err := ParsePhase(cc.Phase)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithPhase(phase)}, opts...)

	if strings.EqualFold(strings.TrimSpace(cc.Kind), KindRepeater) {
		return s.NewRepeater(cc.Name, spec, work, opts...)
	}
	return s.NewRunner(cc.Name, spec, work, opts...)
}

// Invocations returns the invocation count of a registered primitive.
func (s *Scheduler) Invocations(name string) (int64, error) {
	s.mu.Lock()
	c, ok := s.calls[name]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("no such call %q", name)
	}
	return c.Invocations(), nil
}

func (s *Scheduler) callOptions(name string, opts []Option) []Option {
	base := []Option{
		WithName(name),
		WithObserver(s.publish),
		WithLogger(s.log),
	}
	return append(base, opts...)
}

func (s *Scheduler) register(name string, c Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.calls[name]; dup {
		return fmt.Errorf("call %q already exists", name)
	}
	s.calls[name] = c
	return nil
}

// publish forwards an event to statusCh without ever blocking the clock.
func (s *Scheduler) publish(ev StatusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.statusCh <- ev:
	default:
		s.dropped++
	}
}

// Run drives the clock until ctx is done and logs every status event.
func (s *Scheduler) Run(ctx context.Context) error {
	// start loop
	go s.loop(ctx)

	// consume events
	for ev := range s.statusCh {
		s.handleEvent(ev)
	}

	if s.csvFile != nil {
		s.csvWriter.Flush()
		s.csvFile.Close()
	}

	s.mu.Lock()
	dropped := s.dropped
	s.mu.Unlock()
	s.log.Info().
		Int64("ticks", s.clock.Count()).
		Int64("dropped_events", dropped).
		Msg("scheduler stopped")
	return nil
}

// loop steps the clock once per interval with the measured wall-clock delta.
func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		s.mu.Lock()
		s.closed = true
		close(s.statusCh)
		s.mu.Unlock()
	}()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.clock.Step(now.Sub(last))
			last = now
			s.publish(StatusEvent{
				Time: now,
				Kind: StatusTick,
				Tick: s.clock.Count(),
			})
		}
	}
}

func (s *Scheduler) handleEvent(ev StatusEvent) {
	// tick events occur every interval; only log a throttled heartbeat
	// for the brevity of output.
	if ev.Kind == StatusTick {
		if s.heartbeat.Allow() {
			s.log.Debug().
				Int64("tick", ev.Tick).
				Int("pending_waits", s.clock.Pending()).
				Dur("elapsed", s.clock.Elapsed(false)).
				Msg("tick")
		}
		return
	}

	s.log.Info().
		Int64("tick", ev.Tick).
		Str("event", ev.Kind.String()).
		Str("call", ev.Call).
		Int64("invocations", ev.Invocations).
		Msg("status")

	// CSV output
	if s.csvWriter != nil {
		rec := []string{
			ev.Time.Format(time.RFC3339Nano),
			strconv.FormatInt(ev.Tick, 10),
			ev.Kind.String(),
			ev.Call,
			strconv.FormatInt(ev.Invocations, 10),
		}
		s.csvWriter.Write(rec)
		s.csvWriter.Flush()
	}
}
