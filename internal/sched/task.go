package sched

import (
	"context"

	"github.com/rs/zerolog"
)

// Work is the unit of work a primitive defers. It takes no arguments and is
// expected to run to completion without blocking on the clock.
type Work func()

// options collects construction parameters shared by every primitive.
type options struct {
	name     string
	phase    Phase
	ctx      context.Context
	ignore   bool
	observer Observer
	log      zerolog.Logger
}

func defaultOptions() options {
	return options{
		phase: DefaultPhase,
		ctx:   context.Background(),
		log:   zerolog.Nop(),
	}
}

// Option configures a primitive at construction time.
type Option func(*options)

// WithName labels the primitive in status events and logs.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithPhase selects the tick phase the primitive's waits resolve in.
func WithPhase(p Phase) Option {
	return func(o *options) { o.phase = p }
}

// WithContext sets the cancellation handle. Once ctx is done the primitive
// never invokes its work again.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}

// IgnoreTimeScale makes duration waits count unscaled time. It has no effect
// on tick-based primitives.
func IgnoreTimeScale() Option {
	return func(o *options) { o.ignore = true }
}

// WithObserver installs a status event sink.
func WithObserver(fn Observer) Option {
	return func(o *options) { o.observer = fn }
}

// WithLogger sets the debug logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
