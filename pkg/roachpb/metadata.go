// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package roachpb

import (
	"fmt"

	"github.com/cockroachdb/redact"
)

// NodeID is a custom type for a cockroach node ID. (not a raw int32)
type NodeID int32

// String implements the fmt.Stringer interface.
func (n NodeID) String() string {
	return fmt.Sprintf("n%d", int32(n))
}

// SafeValue implements the redact.SafeValue interface.
func (NodeID) SafeValue() {}

// StoreID is a custom type for a cockroach store ID.
type StoreID int32

// String implements the fmt.Stringer interface.
func (s StoreID) String() string {
	return fmt.Sprintf("s%d", int32(s))
}

// SafeValue implements the redact.SafeValue interface.
func (StoreID) SafeValue() {}

// RangeID is a unique ID associated to a Raft consensus group.
type RangeID int64

// String implements the fmt.Stringer interface.
func (r RangeID) String() string {
	return fmt.Sprintf("r%d", int64(r))
}

// SafeValue implements the redact.SafeValue interface.
func (RangeID) SafeValue() {}

// ReplicaID is a custom type for a range replica ID.
type ReplicaID int32

// String implements the fmt.Stringer interface.
func (r ReplicaID) String() string {
	return fmt.Sprintf("%d", int32(r))
}

// SafeValue implements the redact.SafeValue interface.
func (ReplicaID) SafeValue() {}

// ReplicaDescriptor identifies one replica of a range: the node and store
// holding a copy of the data, plus the replica's ID within the range.
type ReplicaDescriptor struct {
	NodeID    NodeID
	StoreID   StoreID
	ReplicaID ReplicaID
}

// String implements the fmt.Stringer interface.
func (r ReplicaDescriptor) String() string {
	return redact.StringWithoutMarkers(r)
}

// SafeFormat implements the redact.SafeFormatter interface.
func (r ReplicaDescriptor) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("(%s,%s):%s", r.NodeID, r.StoreID, r.ReplicaID)
}

// RangeDescriptor is the value stored in a range metadata key. A range is
// described using an inclusive start key and an exclusive end key.
type RangeDescriptor struct {
	RangeID  RangeID
	StartKey Key
	EndKey   Key
	// Replicas is the set of nodes/stores on which replicas of this range
	// are stored.
	Replicas []ReplicaDescriptor
	// NextReplicaID is a counter used to generate replica IDs.
	NextReplicaID ReplicaID
}

// ContainsKey returns whether this RangeDescriptor contains the specified key.
func (r *RangeDescriptor) ContainsKey(key Key) bool {
	return key.Compare(r.StartKey) >= 0 && key.Compare(r.EndKey) < 0
}

// ContainsKeyRange returns whether this RangeDescriptor contains the specified
// key range from start (inclusive) to end (exclusive). If end is empty, the
// range is treated as a single key.
func (r *RangeDescriptor) ContainsKeyRange(start, end Key) bool {
	if len(end) == 0 {
		return r.ContainsKey(start)
	}
	return start.Compare(r.StartKey) >= 0 && end.Compare(r.EndKey) <= 0
}

// GetReplicaDescriptor returns the replica which matches the specified store
// ID.
func (r *RangeDescriptor) GetReplicaDescriptor(storeID StoreID) (ReplicaDescriptor, bool) {
	for _, repDesc := range r.Replicas {
		if repDesc.StoreID == storeID {
			return repDesc, true
		}
	}
	return ReplicaDescriptor{}, false
}

// IsInitialized returns false if this descriptor represents an uninitialized
// range.
func (r *RangeDescriptor) IsInitialized() bool {
	return len(r.EndKey) != 0
}

// String implements the fmt.Stringer interface.
func (r *RangeDescriptor) String() string {
	return fmt.Sprintf("%s [%s, %s)", r.RangeID, r.StartKey, r.EndKey)
}
