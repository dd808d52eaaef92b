package job

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestCounter(t *testing.T) {
	t.Parallel()
	var c Counter
	w := c.Work()
	for i := 0; i < 3; i++ {
		w()
	}
	if got := c.Count(); got != 3 {
		t.Fatalf("Count = %d, want 3", got)
	}
}

func TestLoggingWritesRunNumber(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := Logging(zerolog.New(&buf), "blink")
	w()
	w()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], `"call":"blink"`) || !strings.Contains(lines[1], `"run":2`) {
		t.Fatalf("unexpected log line: %s", lines[1])
	}
}

func TestChainRunsInOrderAndSkipsNil(t *testing.T) {
	t.Parallel()
	var order []int
	w := Chain(
		func() { order = append(order, 1) },
		nil,
		func() { order = append(order, 2) },
	)
	w()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order = %v, want [1 2]", order)
	}
}
