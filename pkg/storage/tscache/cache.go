// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package tscache provides the timestamp cache: an interval tree over key
// spans recording the maximum timestamp at which each span was read or
// written. Consulting it before a write is what prevents a write from
// invalidating a read that has already been served.
package tscache

import (
	"bytes"
	"container/list"
	"time"

	"github.com/biogo/store/interval"
	"github.com/google/uuid"

	"github.com/cockroachdb/kvcc/pkg/roachpb"
	"github.com/cockroachdb/kvcc/pkg/util/hlc"
	"github.com/cockroachdb/kvcc/pkg/util/syncutil"
)

// MinRetentionWindow specifies the minimum duration to hold entries in the
// cache before allowing eviction. After this window expires, transactions
// writing to this node with timestamps lagging by more than the window will
// necessarily have to advance their commit timestamp.
const MinRetentionWindow = 10 * time.Second

// cacheKey implements interval.Comparable.
type cacheKey roachpb.Key

// Compare implements the interval.Comparable interface.
func (ck cacheKey) Compare(b interval.Comparable) int {
	return bytes.Compare(ck, b.(cacheKey))
}

// cacheEntry is an interval tree element recording one read or write over a
// span of keys.
type cacheEntry struct {
	id         uintptr
	start, end interval.Comparable
	timestamp  hlc.Timestamp
	// txnID is uuid.Nil for non-transactional operations. A transaction
	// never pushes itself: entries left by a transaction are invisible to
	// lookups on behalf of the same transaction.
	txnID     uuid.UUID
	readCache bool
}

var _ interval.Interface = (*cacheEntry)(nil)

// Overlap implements the interval.Overlapper interface.
func (e *cacheEntry) Overlap(r interval.Range) bool {
	return e.start.Compare(r.End()) < 0 && r.Start().Compare(e.end) < 0
}

// Start implements the interval.Range interface.
func (e *cacheEntry) Start() interval.Comparable { return e.start }

// End implements the interval.Range interface.
func (e *cacheEntry) End() interval.Comparable { return e.end }

// ID implements the interval.Interface interface.
func (e *cacheEntry) ID() uintptr { return e.id }

// NewMutable implements the interval.Interface interface.
func (e *cacheEntry) NewMutable() interval.Mutable {
	return &mutableRange{start: e.start, end: e.end}
}

type mutableRange struct {
	start, end interval.Comparable
}

func (m *mutableRange) Start() interval.Comparable     { return m.start }
func (m *mutableRange) End() interval.Comparable       { return m.end }
func (m *mutableRange) SetStart(c interval.Comparable) { m.start = c }
func (m *mutableRange) SetEnd(c interval.Comparable)   { m.end = c }

// query is a bare range used for lookups.
type query struct {
	start, end interval.Comparable
}

func (q query) Start() interval.Comparable { return q.start }
func (q query) End() interval.Comparable   { return q.end }

// Overlap implements the interval.Overlapper interface.
func (q query) Overlap(r interval.Range) bool {
	return q.start.Compare(r.End()) < 0 && r.Start().Compare(q.end) < 0
}

// A Cache maintains an interval tree FIFO cache of keys or key ranges and
// the timestamps at which they were most recently read or written.
//
// The cache also maintains a low-water mark which is the most recently
// evicted entry's timestamp. This value always ratchets with monotonic
// increases. The low water mark is initialized to the current system time
// plus the maximum clock offset, which covers reads this node may have
// served before a restart.
type Cache struct {
	clock *hlc.Clock

	mu struct {
		syncutil.Mutex
		tree *interval.Tree
		// fifo holds *cacheEntry in insertion order for eviction.
		fifo             *list.List
		lowWater, latest hlc.Timestamp
		nextID           uintptr
	}
}

// New returns a new timestamp cache with the supplied hybrid clock.
func New(clock *hlc.Clock) *Cache {
	tc := &Cache{clock: clock}
	tc.mu.tree = &interval.Tree{}
	tc.mu.fifo = list.New()
	tc.clearLocked()
	return tc
}

// Clear clears the cache and resets the low water mark.
func (tc *Cache) Clear() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.clearLocked()
}

func (tc *Cache) clearLocked() {
	tc.mu.tree = &interval.Tree{}
	tc.mu.fifo.Init()
	lowWater := tc.clock.Now()
	lowWater.WallTime += tc.clock.MaxOffset().Nanoseconds()
	tc.mu.lowWater = lowWater
	tc.mu.latest = lowWater
}

// LowWater returns the cache's low water mark.
func (tc *Cache) LowWater() hlc.Timestamp {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.mu.lowWater
}

// SetLowWater ratchets the low water mark to the given timestamp, used when
// a lease is acquired: the new holder cannot know which reads its
// predecessor served, so every key is treated as read at the lease start.
func (tc *Cache) SetLowWater(ts hlc.Timestamp) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.mu.lowWater.Forward(ts)
	tc.mu.latest.Forward(ts)
}

// Add the specified timestamp to the cache as covering the range of keys
// from start to end. If end is nil, the range covers the start key only.
// txnID is uuid.Nil for no transaction. readCache specifies whether the
// command adding this timestamp was read-only or not.
func (tc *Cache) Add(
	start, end roachpb.Key, timestamp hlc.Timestamp, txnID uuid.UUID, readCache bool,
) {
	if len(end) == 0 {
		end = start.Next()
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.mu.latest.Forward(timestamp)
	// Only add to the cache if the timestamp is more recent than the low
	// water mark.
	if !tc.mu.lowWater.Less(timestamp) {
		return
	}
	tc.mu.nextID++
	entry := &cacheEntry{
		id:        tc.mu.nextID,
		start:     cacheKey(start),
		end:       cacheKey(end),
		timestamp: timestamp,
		txnID:     txnID,
		readCache: readCache,
	}
	if err := tc.mu.tree.Insert(entry, false); err != nil {
		// Insert only fails on an inverted range, which the end-key fixup
		// above rules out.
		panic(err)
	}
	tc.mu.fifo.PushBack(entry)
	tc.evictLocked()
}

// evictLocked removes entries that have aged out of the retention window,
// ratcheting the low water mark to each evictee's timestamp.
func (tc *Cache) evictLocked() {
	edge := tc.mu.latest
	edge.WallTime -= MinRetentionWindow.Nanoseconds()
	for {
		front := tc.mu.fifo.Front()
		if front == nil {
			return
		}
		entry := front.Value.(*cacheEntry)
		if edge.Less(entry.timestamp) {
			return
		}
		tc.mu.lowWater.Forward(entry.timestamp)
		if err := tc.mu.tree.Delete(entry, false); err != nil {
			panic(err)
		}
		tc.mu.fifo.Remove(front)
	}
}

// GetMax returns the maximum read and write timestamps which overlap the
// interval spanning from start to end. Cached timestamps matching the
// specified txnID are not considered. If no part of the specified range is
// overlapped by timestamps in the cache, the low water timestamp is
// returned for both read and write timestamps.
func (tc *Cache) GetMax(start, end roachpb.Key, txnID uuid.UUID) (hlc.Timestamp, hlc.Timestamp) {
	if len(end) == 0 {
		end = start.Next()
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()

	maxR := tc.mu.lowWater
	maxW := tc.mu.lowWater
	tc.mu.tree.DoMatching(func(i interval.Interface) bool {
		ce := i.(*cacheEntry)
		if ce.txnID == uuid.Nil || txnID == uuid.Nil || ce.txnID != txnID {
			if ce.readCache {
				maxR.Forward(ce.timestamp)
			} else {
				maxW.Forward(ce.timestamp)
			}
		}
		return false
	}, query{start: cacheKey(start), end: cacheKey(end)})
	return maxR, maxW
}

// Len returns the total number of read and write intervals in the cache.
func (tc *Cache) Len() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.mu.tree.Len()
}
