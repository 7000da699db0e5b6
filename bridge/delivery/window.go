// Package delivery holds the time-windowed buffers between asynchronous bus
// callbacks and the synchronous stepping loop.
//
// Inbound messages are inserted with their bus timestamp. Each step the
// session drains everything stamped at or before the current time, newest
// value per key, and writes it into the FMU. Outbound payloads produced by
// a step accumulate in an Outbox until they are flushed to the bus.
package delivery

import (
	"fmt"
	"sync/atomic"
)

// Window is the stepping position: the current simulation time and the time
// of the next step boundary.
type Window struct {
	Now  float64
	Next float64
}

func (w Window) String() string {
	return fmt.Sprintf("[now=%g next=%g]", w.Now, w.Next)
}

// WindowRef publishes the stepping loop's window to callback goroutines.
// The stepping loop is the only writer.
type WindowRef struct {
	p atomic.Pointer[Window]
}

// NewWindowRef returns a WindowRef holding w.
func NewWindowRef(w Window) *WindowRef {
	r := &WindowRef{}
	r.Store(w)
	return r
}

// Store publishes w.
func (r *WindowRef) Store(w Window) {
	r.p.Store(&w)
}

// Load returns the most recently published window.
func (r *WindowRef) Load() Window {
	if w := r.p.Load(); w != nil {
		return *w
	}
	return Window{}
}
