// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package storage

import (
	"context"
	"fmt"

	"github.com/cockroachdb/kvcc/pkg/roachpb"
	"github.com/cockroachdb/kvcc/pkg/util/hlc"
	"github.com/cockroachdb/kvcc/pkg/util/log"
)

// LeaseState describes the state of a lease at a point in time.
type LeaseState int

const (
	// LeaseState_ERROR indicates the lease can't be used or acquired.
	LeaseState_ERROR LeaseState = iota
	// LeaseState_VALID indicates the lease can be used.
	LeaseState_VALID
	// LeaseState_STASIS indicates the lease has not expired, but can't be
	// used because it is close to expiration. A value written under it
	// could be missed by a reader on another node whose clock runs ahead.
	LeaseState_STASIS
	// LeaseState_EXPIRED indicates the lease can't be used and a new lease
	// may be acquired by anyone.
	LeaseState_EXPIRED
	// LeaseState_PROSCRIBED indicates the lease's proposed timestamp is
	// earlier than allowed: it was proposed before a lease transfer fenced
	// the range, so it must not be used.
	LeaseState_PROSCRIBED
)

// String implements the fmt.Stringer interface.
func (s LeaseState) String() string {
	switch s {
	case LeaseState_ERROR:
		return "ERROR"
	case LeaseState_VALID:
		return "VALID"
	case LeaseState_STASIS:
		return "STASIS"
	case LeaseState_EXPIRED:
		return "EXPIRED"
	case LeaseState_PROSCRIBED:
		return "PROSCRIBED"
	default:
		return fmt.Sprintf("LeaseState(%d)", int(s))
	}
}

// LeaseStatus holds the lease state, the timestamp at which the state is
// accurate, the lease and, for epoch-based leases, the liveness record the
// state was derived from.
type LeaseStatus struct {
	Lease     roachpb.Lease
	Timestamp hlc.Timestamp
	State     LeaseState
	Liveness  *Liveness
}

// leaseStatus returns lease status. If the lease is epoch-based, the
// liveness field will be set to the liveness used to compute its state.
//
// The following diagram presents a lease's lifetime:
//
//	 proposed     start         stasis     expiration
//	    |-----------|--------------|------------|
//	PROSCRIBED?   VALID          STASIS      EXPIRED
func (r *Replica) leaseStatus(
	lease roachpb.Lease, timestamp, minProposedTS hlc.Timestamp,
) LeaseStatus {
	status := LeaseStatus{Lease: lease, Timestamp: timestamp}
	var expiration hlc.Timestamp
	switch lease.Type() {
	case roachpb.LeaseExpiration:
		expiration = lease.GetExpiration()
	case roachpb.LeaseEpoch:
		l, ok := r.store.liveness.GetLiveness(lease.Replica.NodeID)
		if !ok {
			status.State = LeaseState_ERROR
			return status
		}
		status.Liveness = &l
		if l.Epoch > *lease.Epoch {
			status.State = LeaseState_EXPIRED
			return status
		}
		if l.Epoch < *lease.Epoch {
			// The lease names an epoch the liveness record never reached.
			status.State = LeaseState_ERROR
			return status
		}
		expiration = l.Expiration
	default:
		status.State = LeaseState_EXPIRED
		return status
	}

	maxOffset := r.store.Clock().MaxOffset()
	stasis := expiration
	stasis.WallTime -= maxOffset.Nanoseconds()
	switch {
	case !timestamp.Less(expiration):
		status.State = LeaseState_EXPIRED
	case !timestamp.Less(stasis):
		status.State = LeaseState_STASIS
	case lease.ProposedTS != nil && lease.ProposedTS.Less(minProposedTS):
		status.State = LeaseState_PROSCRIBED
	default:
		status.State = LeaseState_VALID
	}
	return status
}

// GetLease returns the current lease.
func (r *Replica) GetLease() roachpb.Lease {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mu.lease
}

// LeaseStatusAt returns the lease status as of the given timestamp.
func (r *Replica) LeaseStatusAt(timestamp hlc.Timestamp) LeaseStatus {
	r.mu.RLock()
	lease, minProposedTS := r.mu.lease, r.mu.minLeaseProposedTS
	r.mu.RUnlock()
	return r.leaseStatus(lease, timestamp, minProposedTS)
}

func newNotLeaseHolderError(
	lease roachpb.Lease, fromReplica roachpb.ReplicaDescriptor, rangeID roachpb.RangeID,
) error {
	err := &roachpb.NotLeaseHolderError{Replica: fromReplica, RangeID: rangeID}
	if !lease.Empty() {
		l := lease
		err.LeaseHolder = &l.Replica
		err.Lease = &l
	}
	return err
}

// redirectOnOrAcquireLease checks whether this replica holds a usable
// lease, acquiring or extending one if possible and redirecting the caller
// to the lease holder otherwise.
func (r *Replica) redirectOnOrAcquireLease(ctx context.Context) error {
	repDesc, err := r.ReplicaDescriptor()
	if err != nil {
		return err
	}
	now := r.store.Clock().Now()

	r.mu.RLock()
	lease, minProposedTS := r.mu.lease, r.mu.minLeaseProposedTS
	r.mu.RUnlock()
	status := r.leaseStatus(lease, now, minProposedTS)
	owned := lease.OwnedBy(r.store.StoreID())

	switch status.State {
	case LeaseState_VALID:
		if owned {
			return nil
		}
		return newNotLeaseHolderError(lease, repDesc, r.RangeID)
	case LeaseState_STASIS, LeaseState_PROSCRIBED:
		if !owned {
			return newNotLeaseHolderError(lease, repDesc, r.RangeID)
		}
		return r.acquireLease(ctx, repDesc, now)
	default:
		// EXPIRED or ERROR: up for grabs.
		return r.acquireLease(ctx, repDesc, now)
	}
}

// acquireLease proposes a lease for this replica starting now and applies
// it.
func (r *Replica) acquireLease(
	ctx context.Context, repDesc roachpb.ReplicaDescriptor, now hlc.Timestamp,
) error {
	proposed := now
	newLease := roachpb.Lease{
		Start:      now,
		Replica:    repDesc,
		ProposedTS: &proposed,
	}
	if r.store.cfg.EnableEpochLeases {
		liveness := r.store.liveness.Heartbeat(ctx, repDesc.NodeID)
		epoch := liveness.Epoch
		newLease.Epoch = &epoch
	} else {
		exp := now
		exp.WallTime += r.store.cfg.LeaseDuration.Nanoseconds()
		newLease.Expiration = &exp
	}
	if err := r.RequestLease(ctx, newLease); err != nil {
		return err
	}
	return nil
}

// RequestLease applies the requested lease to the range after validating it
// against the current lease. A lease whose start precedes the effective
// expiration of a different holder's lease is rejected: two leaseholders
// with overlapping terms could both serve reads.
func (r *Replica) RequestLease(ctx context.Context, reqLease roachpb.Lease) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.mu.lease
	isExtension := !prev.Empty() && prev.Replica.StoreID == reqLease.Replica.StoreID

	if !prev.Empty() && !isExtension {
		prevExp := r.effectiveExpiration(prev)
		if reqLease.Start.Less(prevExp) {
			r.store.metrics.LeaseRequestError.Inc(1)
			return &roachpb.LeaseRejectedError{
				Requested: reqLease,
				Existing:  prev,
				Message:   "requested lease overlaps previous lease",
			}
		}
	}

	if isExtension {
		if prev.Type() == roachpb.LeaseExpiration && reqLease.Type() == roachpb.LeaseExpiration {
			if reqLease.GetExpiration().Less(prev.GetExpiration()) {
				r.store.metrics.LeaseRequestError.Inc(1)
				return &roachpb.LeaseRejectedError{
					Requested: reqLease,
					Existing:  prev,
					Message:   "extension moves expiration backward",
				}
			}
			// An extension preserves the original start, and with it the
			// lease's claim over the timestamp cache low water mark.
			reqLease.Start = prev.Start
		}
		reqLease.Sequence = prev.Sequence
	} else {
		reqLease.Sequence = prev.Sequence + 1
		// A new holder cannot know which reads the predecessor served, so
		// every key counts as read at the lease start.
		r.tsCache.SetLowWater(reqLease.Start)
	}

	r.mu.lease = reqLease
	r.store.metrics.LeaseRequestSuccess.Inc(1)
	if log.V(1) {
		log.Infof(ctx, "new range lease %s following %s", reqLease, prev)
	}
	return nil
}

// effectiveExpiration returns the timestamp at which the lease stops being
// valid, consulting node liveness for epoch-based leases.
func (r *Replica) effectiveExpiration(lease roachpb.Lease) hlc.Timestamp {
	switch lease.Type() {
	case roachpb.LeaseExpiration:
		return lease.GetExpiration()
	case roachpb.LeaseEpoch:
		l, ok := r.store.liveness.GetLiveness(lease.Replica.NodeID)
		if ok && l.Epoch == *lease.Epoch {
			return l.Expiration
		}
		return lease.Start
	default:
		return hlc.Timestamp{}
	}
}

// TransferLease hands the lease to the target replica. The outgoing holder
// fences its own in-flight lease extensions by forwarding the minimum
// acceptable proposal timestamp: an extension proposed before the transfer
// lands in the PROSCRIBED state instead of resurrecting the old lease.
func (r *Replica) TransferLease(ctx context.Context, target roachpb.ReplicaDescriptor) error {
	ctx = r.AnnotateCtx(ctx)
	repDesc, err := r.ReplicaDescriptor()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.mu.lease
	if !prev.OwnedBy(r.store.StoreID()) {
		return newNotLeaseHolderError(prev, repDesc, r.RangeID)
	}

	now := r.store.Clock().Now()
	r.mu.minLeaseProposedTS.Forward(now)

	proposed := now
	exp := now
	exp.WallTime += r.store.cfg.LeaseDuration.Nanoseconds()
	newLease := roachpb.Lease{
		Start:      now,
		Expiration: &exp,
		Replica:    target,
		ProposedTS: &proposed,
		Sequence:   prev.Sequence + 1,
	}
	r.mu.lease = newLease
	r.tsCache.SetLowWater(now)
	r.store.metrics.LeaseTransferCount.Inc(1)
	log.Infof(ctx, "transferred lease to %s", target)
	return nil
}
