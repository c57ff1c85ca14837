// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package roachpb

import "fmt"

// SplitTrigger carries the updated left and right hand side descriptors of
// a range split. Committing the transaction that carries it installs both
// descriptors atomically.
type SplitTrigger struct {
	LeftDesc  RangeDescriptor
	RightDesc RangeDescriptor
}

// MergeTrigger subsumes the right hand range into the left hand range when
// the merge transaction commits.
type MergeTrigger struct {
	LeftDesc  RangeDescriptor
	RightDesc RangeDescriptor
}

// ReplicaChangeType specifies the direction of a replica change.
type ReplicaChangeType int32

const (
	// ADD_REPLICA adds a new replica to the range.
	ADD_REPLICA ReplicaChangeType = iota
	// REMOVE_REPLICA removes an existing replica from the range.
	REMOVE_REPLICA
)

// String implements the fmt.Stringer interface.
func (t ReplicaChangeType) String() string {
	switch t {
	case ADD_REPLICA:
		return "ADD_REPLICA"
	case REMOVE_REPLICA:
		return "REMOVE_REPLICA"
	default:
		return fmt.Sprintf("ReplicaChangeType(%d)", int32(t))
	}
}

// ChangeReplicasTrigger installs an updated replica set when the
// replica-change transaction commits.
type ChangeReplicasTrigger struct {
	ChangeType      ReplicaChangeType
	Replica         ReplicaDescriptor
	UpdatedReplicas []ReplicaDescriptor
	NextReplicaID   ReplicaID
}

// ModifiedSpanTrigger indicates that a specific span has been modified and
// that dependent caches should be invalidated when the transaction commits.
type ModifiedSpanTrigger struct {
	Span Span
}

// InternalCommitTrigger carries exactly one side effect to run atomically
// with a transaction commit. The variant is fixed at construction; the zero
// value carries no trigger.
type InternalCommitTrigger struct {
	split          *SplitTrigger
	merge          *MergeTrigger
	changeReplicas *ChangeReplicasTrigger
	modifiedSpan   *ModifiedSpanTrigger
}

// NewSplitTrigger returns a commit trigger carrying a split.
func NewSplitTrigger(t SplitTrigger) *InternalCommitTrigger {
	return &InternalCommitTrigger{split: &t}
}

// NewMergeTrigger returns a commit trigger carrying a merge.
func NewMergeTrigger(t MergeTrigger) *InternalCommitTrigger {
	return &InternalCommitTrigger{merge: &t}
}

// NewChangeReplicasTrigger returns a commit trigger carrying a replica
// change.
func NewChangeReplicasTrigger(t ChangeReplicasTrigger) *InternalCommitTrigger {
	return &InternalCommitTrigger{changeReplicas: &t}
}

// NewModifiedSpanTrigger returns a commit trigger carrying a modified span
// notification.
func NewModifiedSpanTrigger(t ModifiedSpanTrigger) *InternalCommitTrigger {
	return &InternalCommitTrigger{modifiedSpan: &t}
}

// GetSplitTrigger returns the split variant, or nil.
func (ct *InternalCommitTrigger) GetSplitTrigger() *SplitTrigger {
	if ct == nil {
		return nil
	}
	return ct.split
}

// GetMergeTrigger returns the merge variant, or nil.
func (ct *InternalCommitTrigger) GetMergeTrigger() *MergeTrigger {
	if ct == nil {
		return nil
	}
	return ct.merge
}

// GetChangeReplicasTrigger returns the replica-change variant, or nil.
func (ct *InternalCommitTrigger) GetChangeReplicasTrigger() *ChangeReplicasTrigger {
	if ct == nil {
		return nil
	}
	return ct.changeReplicas
}

// GetModifiedSpanTrigger returns the modified-span variant, or nil.
func (ct *InternalCommitTrigger) GetModifiedSpanTrigger() *ModifiedSpanTrigger {
	if ct == nil {
		return nil
	}
	return ct.modifiedSpan
}
