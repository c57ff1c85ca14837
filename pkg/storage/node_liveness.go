// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package storage

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/cockroachdb/kvcc/pkg/roachpb"
	"github.com/cockroachdb/kvcc/pkg/util/hlc"
	"github.com/cockroachdb/kvcc/pkg/util/log"
	"github.com/cockroachdb/kvcc/pkg/util/syncutil"
)

// Liveness holds the liveness record of a single node: an epoch and the
// expiration of its most recent heartbeat. Epoch-based range leases are
// valid exactly while the holder's record carries the lease's epoch.
type Liveness struct {
	NodeID     roachpb.NodeID
	Epoch      int64
	Expiration hlc.Timestamp
}

// IsLive returns whether the node is considered live at the given time.
func (l Liveness) IsLive(now hlc.Timestamp) bool {
	return now.Less(l.Expiration)
}

// ErrEpochIncremented is returned when incrementing an epoch fails because
// the record was still live.
var ErrEpochIncremented = errors.New("liveness record is live; cannot increment epoch")

// NodeLiveness tracks liveness records for the nodes of the cluster. In a
// full deployment the records live in a replicated system range; here they
// are held by the store and shared by all its replicas.
type NodeLiveness struct {
	clock            *hlc.Clock
	livenessDuration time.Duration

	mu struct {
		syncutil.Mutex
		records map[roachpb.NodeID]Liveness
	}
}

// NewNodeLiveness returns a new instance of NodeLiveness.
func NewNodeLiveness(clock *hlc.Clock, livenessDuration time.Duration) *NodeLiveness {
	nl := &NodeLiveness{clock: clock, livenessDuration: livenessDuration}
	nl.mu.records = make(map[roachpb.NodeID]Liveness)
	return nl
}

// Heartbeat extends the liveness record of the given node, creating it at
// epoch 1 if it does not exist.
func (nl *NodeLiveness) Heartbeat(ctx context.Context, nodeID roachpb.NodeID) Liveness {
	nl.mu.Lock()
	defer nl.mu.Unlock()
	rec, ok := nl.mu.records[nodeID]
	if !ok {
		rec = Liveness{NodeID: nodeID, Epoch: 1}
	}
	exp := nl.clock.Now()
	exp.WallTime += nl.livenessDuration.Nanoseconds()
	rec.Expiration.Forward(exp)
	nl.mu.records[nodeID] = rec
	return rec
}

// GetLiveness returns the liveness record for the specified node.
func (nl *NodeLiveness) GetLiveness(nodeID roachpb.NodeID) (Liveness, bool) {
	nl.mu.Lock()
	defer nl.mu.Unlock()
	rec, ok := nl.mu.records[nodeID]
	return rec, ok
}

// IsLive returns whether the specified node is live at the current time.
func (nl *NodeLiveness) IsLive(nodeID roachpb.NodeID) bool {
	rec, ok := nl.GetLiveness(nodeID)
	return ok && rec.IsLive(nl.clock.Now())
}

// IncrementEpoch invalidates every epoch-based lease held under the
// record's current epoch. The record must be expired; incrementing the
// epoch of a live node would steal its leases out from under it.
func (nl *NodeLiveness) IncrementEpoch(ctx context.Context, nodeID roachpb.NodeID) (Liveness, error) {
	nl.mu.Lock()
	defer nl.mu.Unlock()
	rec, ok := nl.mu.records[nodeID]
	if !ok {
		return Liveness{}, errors.Errorf("no liveness record for %s", nodeID)
	}
	if rec.IsLive(nl.clock.Now()) {
		return Liveness{}, ErrEpochIncremented
	}
	rec.Epoch++
	nl.mu.records[nodeID] = rec
	log.Infof(ctx, "incremented liveness epoch of %s to %d", nodeID, rec.Epoch)
	return rec, nil
}
