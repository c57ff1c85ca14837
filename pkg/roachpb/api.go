// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package roachpb

import (
	"fmt"

	"github.com/cockroachdb/kvcc/pkg/util/hlc"
)

// PushTxnType determines what a PushTxn operation does to the pushee.
type PushTxnType int32

const (
	// PUSH_TIMESTAMP moves the pushee's provisional commit timestamp above
	// the pusher's read timestamp, letting a read proceed beneath an intent.
	PUSH_TIMESTAMP PushTxnType = iota
	// PUSH_ABORT aborts the pushee, letting a write displace its intents.
	PUSH_ABORT
	// PUSH_TOUCH checks whether the pushee is abandoned without forcing a
	// conflict resolution; it only succeeds against abandoned or finalized
	// transactions.
	PUSH_TOUCH
	// PUSH_QUERY reads the pushee's current record without changing it.
	PUSH_QUERY
)

// String implements the fmt.Stringer interface.
func (pt PushTxnType) String() string {
	switch pt {
	case PUSH_TIMESTAMP:
		return "PUSH_TIMESTAMP"
	case PUSH_ABORT:
		return "PUSH_ABORT"
	case PUSH_TOUCH:
		return "PUSH_TOUCH"
	case PUSH_QUERY:
		return "PUSH_QUERY"
	default:
		return fmt.Sprintf("PushTxnType(%d)", int32(pt))
	}
}

// PushTxnRequest asks the range holding the pushee's transaction record to
// resolve a conflict in the pusher's favor. Addressed to the pushee's
// anchor key.
type PushTxnRequest struct {
	// PusherTxn is the transaction on whose behalf the push runs. Nil for
	// non-transactional pushers, which push at minimum priority.
	PusherTxn *Transaction
	// PusheeTxn is the intent's transaction metadata.
	PusheeTxn TxnMeta
	// PushTo is the timestamp just above which the pushee's timestamp must
	// move for a PUSH_TIMESTAMP to satisfy the pusher.
	PushTo hlc.Timestamp
	// Now is the clock reading used to judge heartbeat staleness.
	Now hlc.Timestamp
	// PushType selects the conflict resolution wanted.
	PushType PushTxnType
}

// PusherPriority returns the effective priority of the pusher.
func (r *PushTxnRequest) PusherPriority() int32 {
	if r.PusherTxn != nil {
		return r.PusherTxn.Meta.Priority
	}
	return MinTxnPriority
}

// PusherTimestamp returns the timestamp used on the pusher's side of
// priority ties.
func (r *PushTxnRequest) PusherTimestamp() hlc.Timestamp {
	if r.PusherTxn != nil {
		return r.PusherTxn.OrigTimestamp
	}
	return r.PushTo
}
