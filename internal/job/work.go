package job

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Counter is a work item that counts its invocations.
type Counter struct {
	n atomic.Int64
}

// Work returns the func to hand to a primitive.
func (c *Counter) Work() func() {
	return func() { c.n.Add(1) }
}

// Count returns the number of invocations so far.
func (c *Counter) Count() int64 { return c.n.Load() }

// Logging returns a work item that logs name and a running invocation count.
func Logging(log zerolog.Logger, name string) func() {
	var n atomic.Int64
	return func() {
		log.Info().Str("call", name).Int64("run", n.Add(1)).Msg("work")
	}
}

// Chain runs each work item in order.
func Chain(works ...func()) func() {
	return func() {
		for _, w := range works {
			if w != nil {
				w()
			}
		}
	}
}
