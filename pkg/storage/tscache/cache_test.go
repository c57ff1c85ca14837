// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package tscache

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cockroachdb/kvcc/pkg/roachpb"
	"github.com/cockroachdb/kvcc/pkg/util/hlc"
)

const maxClockOffset = 250 * time.Millisecond

func testCache() (*Cache, *hlc.ManualClock, *hlc.Clock) {
	manual := hlc.NewManualClock(1)
	clock := hlc.NewClock(manual.UnixNano, maxClockOffset)
	return New(clock), manual, clock
}

func TestTimestampCacheLowWater(t *testing.T) {
	tc, _, _ := testCache()

	// The low water mark is the initial clock reading plus max offset.
	lowWater := tc.LowWater()
	require.Equal(t, maxClockOffset.Nanoseconds()+1, lowWater.WallTime)

	// A miss returns the low water mark for both reads and writes.
	rTS, wTS := tc.GetMax(roachpb.Key("a"), nil, uuid.Nil)
	require.Equal(t, lowWater, rTS)
	require.Equal(t, lowWater, wTS)

	// Adding at or below the low water mark is a no-op.
	tc.Add(roachpb.Key("a"), nil, lowWater, uuid.Nil, true)
	require.Equal(t, 0, tc.Len())
}

func TestTimestampCacheReadVsWrite(t *testing.T) {
	tc, manual, clock := testCache()
	manual.Increment(maxClockOffset.Nanoseconds() + 1)

	readTS := clock.Now()
	tc.Add(roachpb.Key("a"), nil, readTS, uuid.Nil, true)
	writeTS := clock.Now()
	tc.Add(roachpb.Key("a"), nil, writeTS, uuid.Nil, false)

	rTS, wTS := tc.GetMax(roachpb.Key("a"), nil, uuid.Nil)
	require.Equal(t, readTS, rTS)
	require.Equal(t, writeTS, wTS)
}

func TestTimestampCacheSpans(t *testing.T) {
	tc, manual, clock := testCache()
	manual.Increment(maxClockOffset.Nanoseconds() + 1)

	ts := clock.Now()
	tc.Add(roachpb.Key("b"), roachpb.Key("d"), ts, uuid.Nil, true)

	lowWater := tc.LowWater()
	for _, c := range []struct {
		start, end string
		hit        bool
	}{
		{"a", "", false},
		{"b", "", true},
		{"c", "", true},
		{"d", "", false},
		{"a", "b", false},
		{"a", "c", true},
		{"c", "z", true},
		{"d", "z", false},
	} {
		var end roachpb.Key
		if c.end != "" {
			end = roachpb.Key(c.end)
		}
		rTS, _ := tc.GetMax(roachpb.Key(c.start), end, uuid.Nil)
		if c.hit {
			require.Equalf(t, ts, rTS, "%s-%s", c.start, c.end)
		} else {
			require.Equalf(t, lowWater, rTS, "%s-%s", c.start, c.end)
		}
	}
}

func TestTimestampCacheOwnTxnExcluded(t *testing.T) {
	tc, manual, clock := testCache()
	manual.Increment(maxClockOffset.Nanoseconds() + 1)

	txnID := uuid.New()
	ts := clock.Now()
	tc.Add(roachpb.Key("a"), nil, ts, txnID, true)

	// The same transaction does not see its own entry.
	rTS, _ := tc.GetMax(roachpb.Key("a"), nil, txnID)
	require.Equal(t, tc.LowWater(), rTS)

	// Other transactions and non-transactional readers do.
	rTS, _ = tc.GetMax(roachpb.Key("a"), nil, uuid.New())
	require.Equal(t, ts, rTS)
	rTS, _ = tc.GetMax(roachpb.Key("a"), nil, uuid.Nil)
	require.Equal(t, ts, rTS)
}

func TestTimestampCacheEviction(t *testing.T) {
	tc, manual, clock := testCache()
	manual.Increment(maxClockOffset.Nanoseconds() + 1)

	aTS := clock.Now()
	tc.Add(roachpb.Key("a"), nil, aTS, uuid.Nil, true)
	require.Equal(t, 1, tc.Len())

	// Advance beyond the retention window; the next add evicts "a" and
	// ratchets the low water mark to its timestamp.
	manual.Increment(MinRetentionWindow.Nanoseconds() + 1)
	bTS := clock.Now()
	tc.Add(roachpb.Key("b"), nil, bTS, uuid.Nil, true)
	require.Equal(t, 1, tc.Len())

	rTS, _ := tc.GetMax(roachpb.Key("a"), nil, uuid.Nil)
	require.Equal(t, aTS, rTS)
	require.Equal(t, aTS, tc.LowWater())
}

func TestTimestampCacheSetLowWater(t *testing.T) {
	tc, manual, clock := testCache()
	manual.Increment(maxClockOffset.Nanoseconds() + 1)

	ts := clock.Now()
	tc.Add(roachpb.Key("a"), nil, ts, uuid.Nil, true)

	newLowWater := ts
	newLowWater.WallTime += 100
	tc.SetLowWater(newLowWater)

	rTS, wTS := tc.GetMax(roachpb.Key("a"), nil, uuid.Nil)
	require.Equal(t, newLowWater, rTS)
	require.Equal(t, newLowWater, wTS)

	// The low water mark only ratchets forward.
	tc.SetLowWater(ts)
	require.Equal(t, newLowWater, tc.LowWater())
}

func TestTimestampCacheClear(t *testing.T) {
	tc, manual, clock := testCache()
	manual.Increment(maxClockOffset.Nanoseconds() + 1)

	tc.Add(roachpb.Key("a"), nil, clock.Now(), uuid.Nil, true)
	require.Equal(t, 1, tc.Len())

	tc.Clear()
	require.Equal(t, 0, tc.Len())

	// The fresh low water mark covers the previous entry.
	rTS, _ := tc.GetMax(roachpb.Key("a"), nil, uuid.Nil)
	require.Equal(t, tc.LowWater(), rTS)
}
