package channel

import (
	"sync/atomic"

	"github.com/roach88/replicant/internal/ir"
)

// Clock assigns strictly increasing watermarks.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first Next() returns 0.
func NewClock() *Clock {
	return NewClockAt(ir.NoWatermark)
}

// NewClockAt creates a clock positioned at last; the first Next() returns
// last+1. Used to resume a log whose earlier entries were compacted away.
func NewClockAt(last ir.Watermark) *Clock {
	c := &Clock{}
	c.seq.Store(int64(last))
	return c
}

// Next returns the next watermark and advances the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() ir.Watermark {
	return ir.Watermark(c.seq.Add(1))
}

// Current returns the last assigned watermark without advancing.
func (c *Clock) Current() ir.Watermark {
	return ir.Watermark(c.seq.Load())
}
