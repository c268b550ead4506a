package engine

import "sync/atomic"

// Clock is the monotonic logical clock stamping events and ledger rows.
//
// Every event enqueued to the loop gets a strictly increasing Seq, and the
// session ledger uses the same clock as its sequencer, so ledger rows and
// events share one ordering. Wall-clock time is never used for ordering.
//
// Thread-safety: Clock is safe for concurrent use; the render goroutine
// stamps tile events while the loop stamps its own.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at start, used to continue an
// existing ledger.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
