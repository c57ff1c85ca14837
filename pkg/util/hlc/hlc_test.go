// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package hlc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func makeTS(walltime int64, logical int32) Timestamp {
	return Timestamp{WallTime: walltime, Logical: logical}
}

func TestTimestampOrdering(t *testing.T) {
	a := makeTS(1, 0)
	b := makeTS(1, 1)
	c := makeTS(2, 0)

	require.True(t, a.Less(b))
	require.True(t, b.Less(c))
	require.False(t, c.Less(a))
	require.True(t, a.LessEq(a))
	require.True(t, a.EqOrdering(a))
	require.False(t, a.EqOrdering(b))
}

func TestTimestampNextPrev(t *testing.T) {
	ts := makeTS(5, 3)
	require.Equal(t, makeTS(5, 4), ts.Next())
	require.Equal(t, makeTS(5, 2), ts.Prev())
	require.Equal(t, ts, ts.Next().Prev())

	// Prev rolls the logical component over into the wall time.
	require.Equal(t, int64(4), makeTS(5, 0).Prev().WallTime)
}

func TestTimestampForwardBackward(t *testing.T) {
	ts := makeTS(5, 0)
	require.False(t, ts.Forward(makeTS(4, 99)))
	require.True(t, ts.Forward(makeTS(5, 1)))
	require.Equal(t, makeTS(5, 1), ts)

	ts.Backward(makeTS(6, 0))
	require.Equal(t, makeTS(5, 1), ts)
	ts.Backward(makeTS(2, 0))
	require.Equal(t, makeTS(2, 0), ts)
}

// TestClockMonotonicity verifies that readings never regress, even when the
// physical clock stands still or jumps backwards.
func TestClockMonotonicity(t *testing.T) {
	m := NewManualClock(100)
	c := NewClock(m.UnixNano, 0)

	prev := c.Now()
	for i := 0; i < 5; i++ {
		ts := c.Now()
		require.True(t, prev.Less(ts))
		prev = ts
	}
	require.EqualValues(t, 100, prev.WallTime)

	// A backwards physical jump keeps the HLC on its logical track.
	m.Set(50)
	ts := c.Now()
	require.True(t, prev.Less(ts))
	require.EqualValues(t, 100, ts.WallTime)

	// Once the physical clock leads again, the wall time takes over and the
	// logical component resets.
	m.Set(200)
	ts = c.Now()
	require.Equal(t, makeTS(200, 0), ts)
}

func TestClockUpdate(t *testing.T) {
	m := NewManualClock(100)
	c := NewClock(m.UnixNano, 0)

	c.Update(makeTS(300, 7))
	require.Equal(t, makeTS(300, 8), c.Now())

	// Stale remote readings do not move the clock backwards.
	c.Update(makeTS(200, 0))
	require.True(t, makeTS(300, 8).Less(c.Now()))
}

func TestClockMaxOffsetCheck(t *testing.T) {
	m := NewManualClock(100)
	c := NewClock(m.UnixNano, time.Nanosecond*50)

	require.NoError(t, c.UpdateAndCheckMaxOffset(makeTS(140, 0)))

	err := c.UpdateAndCheckMaxOffset(makeTS(1000, 0))
	var offsetErr *UntrustworthyRemoteWallTimeError
	require.ErrorAs(t, err, &offsetErr)
	require.EqualValues(t, 1000, offsetErr.Observed)
	// The rejected reading must not have been absorbed.
	require.True(t, c.Now().WallTime < 1000)
}
