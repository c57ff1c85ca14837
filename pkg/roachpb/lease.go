// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package roachpb

import (
	"fmt"

	"github.com/cockroachdb/redact"

	"github.com/cockroachdb/kvcc/pkg/util/hlc"
)

// LeaseType describes the type of a range lease.
type LeaseType int

const (
	// LeaseNone specifies no lease, to be used as a default value.
	LeaseNone LeaseType = iota
	// LeaseExpiration allows range operations while the wall clock is
	// within the expiration timestamp.
	LeaseExpiration
	// LeaseEpoch allows range operations while the node liveness epoch
	// is equal to the lease epoch.
	LeaseEpoch
)

// String implements the fmt.Stringer interface.
func (t LeaseType) String() string {
	switch t {
	case LeaseNone:
		return "none"
	case LeaseExpiration:
		return "expiration"
	case LeaseEpoch:
		return "epoch"
	default:
		return fmt.Sprintf("LeaseType(%d)", int(t))
	}
}

// SafeValue implements the redact.SafeValue interface.
func (LeaseType) SafeValue() {}

// Lease contains information about range leases, including the expiration
// and lease holder. Exactly one of Expiration and Epoch is set on a
// non-empty lease; both are pointers so that "absent" is distinguishable
// from a zero value.
type Lease struct {
	// Start is a timestamp at which the lease begins. This value must be
	// greater than the last lease expiration or the lease request is
	// considered invalid.
	Start hlc.Timestamp
	// Expiration is a timestamp at which the lease expires. This means that
	// a new lease can be granted for a later timestamp. Set only on
	// expiration-based leases.
	Expiration *hlc.Timestamp
	// Replica is the replica which the lease belongs to.
	Replica ReplicaDescriptor
	// ProposedTS is the time that the lease was proposed, used after lease
	// transfers to fence requests proposed under the prior holder.
	ProposedTS *hlc.Timestamp
	// Epoch is the liveness epoch of the lease holder. The lease is valid
	// exactly while the holder's liveness record carries this epoch. Set
	// only on epoch-based leases.
	Epoch *int64
	// Sequence is incremented whenever the effective lease holder changes.
	// Extensions by the same holder reuse the predecessor's sequence.
	Sequence int64
}

// Type returns the lease type.
func (l Lease) Type() LeaseType {
	if l.Epoch != nil {
		return LeaseEpoch
	}
	if l.Expiration != nil {
		return LeaseExpiration
	}
	return LeaseNone
}

// GetExpiration returns the lease expiration or the zero timestamp if the
// lease is epoch-based.
func (l Lease) GetExpiration() hlc.Timestamp {
	if l.Expiration == nil {
		return hlc.Timestamp{}
	}
	return *l.Expiration
}

// OwnedBy returns whether the given store is the lease owner.
func (l Lease) OwnedBy(storeID StoreID) bool {
	return l.Replica.StoreID == storeID
}

// Empty returns true for the empty lease.
func (l Lease) Empty() bool {
	return l == (Lease{})
}

// Equivalent determines whether ol is considered the same lease for the
// purposes of matching leases when executing a command: the holder must
// match, and an epoch lease must carry the same epoch. Expiration-based
// lease extensions by the same holder are equivalent.
func (l Lease) Equivalent(ol Lease) bool {
	if l.Replica.StoreID != ol.Replica.StoreID {
		return false
	}
	if l.Type() != ol.Type() {
		return false
	}
	if l.Type() == LeaseEpoch {
		return *l.Epoch == *ol.Epoch
	}
	return true
}

// String implements the fmt.Stringer interface.
func (l Lease) String() string {
	return redact.StringWithoutMarkers(l)
}

// SafeFormat implements the redact.SafeFormatter interface.
func (l Lease) SafeFormat(w redact.SafePrinter, _ rune) {
	if l.Empty() {
		w.SafeString("<empty>")
		return
	}
	if l.Epoch != nil {
		w.Printf("repl=%s seq=%d start=%s epo=%d", l.Replica, l.Sequence, l.Start, *l.Epoch)
	} else {
		w.Printf("repl=%s seq=%d start=%s exp=%s", l.Replica, l.Sequence, l.Start, l.Expiration)
	}
	if l.ProposedTS != nil {
		w.Printf(" pro=%s", *l.ProposedTS)
	}
}
