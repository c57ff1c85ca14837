// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package hlc implements the Hybrid Logical Clock outlined in "Logical
// Physical Clocks and Consistent Snapshots in Globally Distributed
// Databases", available online at http://www.cse.buffalo.edu/tech-reports/2014-04.pdf.
package hlc

import (
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/kvcc/pkg/util/syncutil"
)

// Clock is a hybrid logical clock. Objects of this type model a causally
// ordered timeline of events observed locally and via incoming messages.
// Calls to Now() return a timestamp strictly greater than any timestamp
// previously returned or observed, so readings act intuitively as
// happened-before relations even across nodes with skewed physical clocks.
//
// All methods are thread safe.
type Clock struct {
	physicalClock func() int64

	// maxOffset is the maximal tolerated physical clock offset between
	// members of the cluster. A reading from another node's clock that
	// leads the local physical clock by more than maxOffset indicates a
	// broken clock and must not be silently absorbed; doing so would let
	// the node serve reads that violate external consistency.
	maxOffset time.Duration

	mu struct {
		syncutil.Mutex

		// timestamp is the current HLC time. Its wall time never regresses
		// and is always at least as large as every physical clock reading
		// handed out so far.
		timestamp Timestamp
	}
}

// UntrustworthyRemoteWallTimeError is returned when an observed timestamp
// leads the local physical clock by more than the configured maximum clock
// offset. It is a node-level fatal condition rather than a per-request
// failure; the caller is expected to stop serving.
type UntrustworthyRemoteWallTimeError struct {
	Observed, Local int64 // nanos
	MaxOffset       time.Duration
}

// Error implements the error interface.
func (e *UntrustworthyRemoteWallTimeError) Error() string {
	return errors.Newf(
		"remote wall time %d is too far ahead of local wall time %d (maximum offset %s) to be trustworthy",
		e.Observed, e.Local, e.MaxOffset).Error()
}

// NewClock creates a new hybrid logical clock associated with the given
// physical clock. The maxOffset is the tolerated clock skew between nodes;
// a zero maxOffset disables the skew check entirely.
func NewClock(physicalClock func() int64, maxOffset time.Duration) *Clock {
	return &Clock{
		physicalClock: physicalClock,
		maxOffset:     maxOffset,
	}
}

// UnixNano returns the local machine's physical nanosecond unix epoch
// timestamp as a convenience to create a HLC via
// NewClock(hlc.UnixNano, ...).
func UnixNano() int64 {
	return time.Now().UnixNano()
}

// MaxOffset returns the maximal tolerated clock offset.
func (c *Clock) MaxOffset() time.Duration {
	return c.maxOffset
}

// PhysicalNow returns the local wall time. It corresponds to the physical
// clock's notion of the present, ignoring the logical component.
func (c *Clock) PhysicalNow() int64 {
	return c.physicalClock()
}

// PhysicalTime returns a time.Time struct using the local wall time.
func (c *Clock) PhysicalTime() time.Time {
	return time.Unix(0, c.PhysicalNow())
}

// Now returns a timestamp associated with an event from the local machine
// that may be sent to other members of the distributed network. The
// returned timestamp is strictly greater than every previous result of
// Now() or timestamp passed to Update().
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	if physicalClock := c.physicalClock(); c.mu.timestamp.WallTime >= physicalClock {
		// The wall time is ahead, so the logical clock ticks.
		c.mu.timestamp.Logical++
	} else {
		// Use the physical clock, and reset the logical one.
		c.mu.timestamp.WallTime = physicalClock
		c.mu.timestamp.Logical = 0
	}
	return c.mu.timestamp
}

// Update takes a hybrid timestamp, usually originating from an event
// received from another member of a distributed system. The clock is
// advanced to at least the provided timestamp; the local physical clock
// is not consulted. Update does not enforce the maximum clock offset, see
// UpdateAndCheckMaxOffset for that.
func (c *Clock) Update(rt Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mu.timestamp.Forward(rt)
}

// UpdateAndCheckMaxOffset is like Update, but also returns an
// UntrustworthyRemoteWallTimeError when the remote wall time leads the
// local physical clock by more than the maximum clock offset. In that
// case the clock is not updated; the caller must treat the condition as
// fatal for the node.
func (c *Clock) UpdateAndCheckMaxOffset(rt Timestamp) error {
	physicalClock := c.physicalClock()
	if c.maxOffset > 0 && rt.WallTime > physicalClock+c.maxOffset.Nanoseconds() {
		return &UntrustworthyRemoteWallTimeError{
			Observed:  rt.WallTime,
			Local:     physicalClock,
			MaxOffset: c.maxOffset,
		}
	}
	c.Update(rt)
	return nil
}

// ManualClock is a convenience type to facilitate creating a hybrid logical
// clock whose physical clock is manually controlled. ManualClock is
// thread safe.
type ManualClock struct {
	nanos int64
}

// NewManualClock returns a new instance, initialized with the specified
// wall time.
func NewManualClock(nanos int64) *ManualClock {
	if nanos == 0 {
		panic("zero clock is forbidden")
	}
	return &ManualClock{nanos: nanos}
}

// UnixNano returns the underlying manual clock's timestamp.
func (m *ManualClock) UnixNano() int64 {
	return atomic.LoadInt64(&m.nanos)
}

// Increment atomically increments the manual clock's timestamp.
func (m *ManualClock) Increment(incr int64) {
	atomic.AddInt64(&m.nanos, incr)
}

// Set atomically sets the manual clock's timestamp.
func (m *ManualClock) Set(nanos int64) {
	atomic.StoreInt64(&m.nanos, nanos)
}
