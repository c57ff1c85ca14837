// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package roachpb

import (
	"bytes"
	"fmt"
	"math"
	"math/rand"

	"github.com/cockroachdb/redact"
	"github.com/google/uuid"

	"github.com/cockroachdb/kvcc/pkg/util/hlc"
)

// TransactionStatus specifies possible states for a transaction.
type TransactionStatus int32

const (
	// PENDING is the default state for a new transaction. Transactions move
	// from PENDING to one of the other states via calls to EndTransaction
	// or (in the case of ABORTED) a successful abort push.
	PENDING TransactionStatus = iota
	// COMMITTED is the state for a transaction which has been committed.
	// This is a terminal state.
	COMMITTED
	// ABORTED is the state for a transaction which has been aborted. This
	// is a terminal state.
	ABORTED
)

// String implements the fmt.Stringer interface.
func (ts TransactionStatus) String() string {
	switch ts {
	case PENDING:
		return "PENDING"
	case COMMITTED:
		return "COMMITTED"
	case ABORTED:
		return "ABORTED"
	default:
		return fmt.Sprintf("TransactionStatus(%d)", int32(ts))
	}
}

// SafeValue implements the redact.SafeValue interface.
func (TransactionStatus) SafeValue() {}

// IsFinalized returns true if the transaction status is in a finalized
// state. A finalized transaction can never transition to a different state.
func (ts TransactionStatus) IsFinalized() bool {
	return ts == COMMITTED || ts == ABORTED
}

// IsolationType denotes the isolation level at which a transaction runs.
type IsolationType int32

const (
	// SERIALIZABLE isolation requires commit and provisional timestamps to
	// agree; a pushed serializable transaction must restart.
	SERIALIZABLE IsolationType = iota
	// SNAPSHOT isolation tolerates a commit timestamp above the read
	// timestamp at the cost of admitting write skew.
	SNAPSHOT
)

// String implements the fmt.Stringer interface.
func (i IsolationType) String() string {
	switch i {
	case SERIALIZABLE:
		return "SERIALIZABLE"
	case SNAPSHOT:
		return "SNAPSHOT"
	default:
		return fmt.Sprintf("IsolationType(%d)", int32(i))
	}
}

// SafeValue implements the redact.SafeValue interface.
func (IsolationType) SafeValue() {}

// Transaction priorities. User priorities are multipliers on the base
// random priority; the Min/Max constants pin a transaction to one end of
// every conflict.
const (
	// MinTxnPriority is the minimum assignable transaction priority.
	MinTxnPriority int32 = 0
	// MaxTxnPriority is the maximum assignable transaction priority; such a
	// transaction cannot be pushed aside by any other.
	MaxTxnPriority int32 = math.MaxInt32
)

// MakePriority generates a random priority value, biased by the
// specified userPriority. If userPriority=100, the random priority will
// be 100x more likely to be greater than if userPriority=1.
func MakePriority(userPriority float64) int32 {
	if userPriority == 0 {
		userPriority = 1
	} else if userPriority < 0 {
		// A negative user priority is fixed to its absolute value, used for
		// tests that need a deterministic priority.
		return int32(-userPriority)
	}
	val := userPriority * float64(rand.Int31())
	if val >= float64(MaxTxnPriority) {
		return MaxTxnPriority - 1
	}
	return int32(val)
}

// TxnMeta is the metadata of a Transaction record. It is the subset of the
// transaction state written into each intent, sufficient for a conflicting
// reader to locate the transaction record and reason about its provisional
// values.
type TxnMeta struct {
	// ID is the unique UUID for this transaction.
	ID uuid.UUID
	// Key is the anchor key of the transaction record.
	Key Key
	// Epoch is incremented on transaction restart; intents from prior
	// epochs are dead.
	Epoch int32
	// Timestamp is the provisional commit timestamp. Conflict resolution
	// can move it forward but never backward.
	Timestamp hlc.Timestamp
	// Priority arbitrates push conflicts.
	Priority int32
	// Sequence is incremented on each write within an epoch and stamped
	// into the intent, which makes replays of earlier writes detectable.
	Sequence int32
	// Isolation is the transaction's isolation level.
	Isolation IsolationType
}

// Short returns the truncated txn ID prefix used in log tags.
func (t TxnMeta) Short() string {
	return t.ID.String()[:8]
}

// Transaction is the full transaction record, anchored at Meta.Key. Only
// TxnMeta travels with intents; the remaining fields live in the record and
// in the client's copy of the transaction.
type Transaction struct {
	// Meta holds the fields shared with intents. It is deliberately a named
	// field so that record-only state cannot be confused with intent state.
	Meta TxnMeta
	// Name is a free-form debug name.
	Name string
	// Status is PENDING until the transaction finalizes.
	Status TransactionStatus
	// LastHeartbeat is the timestamp of the most recent coordinator
	// heartbeat. A record whose heartbeat is stale may be pushed by anyone.
	LastHeartbeat hlc.Timestamp
	// OrigTimestamp is the timestamp at which reads are performed. It is
	// fixed at transaction start and survives pushes of Meta.Timestamp.
	OrigTimestamp hlc.Timestamp
	// MaxTimestamp is the upper bound of the uncertainty interval. Values
	// in (OrigTimestamp, MaxTimestamp] force an uncertainty restart unless
	// an observed timestamp rules them out.
	MaxTimestamp hlc.Timestamp
	// ObservedTimestamps records the first clock reading taken from each
	// node the transaction visited, which shrinks MaxTimestamp on revisits.
	ObservedTimestamps map[NodeID]hlc.Timestamp
	// Writing is set once the transaction record has been laid down.
	Writing bool
	// WriteTooOld is set when a write was bumped above a newer committed
	// value; a serializable transaction must refresh or restart at commit.
	WriteTooOld bool
	// Intents are the spans provisionally written by the transaction,
	// resolved when the record finalizes.
	Intents []Span
}

// NewTransaction creates a new transaction. The transaction anchor key is
// the given base key, the provisional commit timestamp and the read
// timestamp are both set to now, and the uncertainty limit is now plus the
// clock's maximum offset.
func NewTransaction(
	name string, baseKey Key, userPriority float64, isolation IsolationType,
	now hlc.Timestamp, maxOffsetNanos int64,
) *Transaction {
	max := now
	max.WallTime += maxOffsetNanos
	return &Transaction{
		Meta: TxnMeta{
			ID:        uuid.New(),
			Key:       baseKey,
			Timestamp: now,
			Priority:  MakePriority(userPriority),
			Isolation: isolation,
		},
		Name:          name,
		Status:        PENDING,
		LastHeartbeat: now,
		OrigTimestamp: now,
		MaxTimestamp:  max,
	}
}

// Clone creates a deep copy of the given transaction.
func (t Transaction) Clone() Transaction {
	t.Meta.Key = append(Key(nil), t.Meta.Key...)
	if t.ObservedTimestamps != nil {
		obs := make(map[NodeID]hlc.Timestamp, len(t.ObservedTimestamps))
		for k, v := range t.ObservedTimestamps {
			obs[k] = v
		}
		t.ObservedTimestamps = obs
	}
	t.Intents = append([]Span(nil), t.Intents...)
	return t
}

// Restart reconfigures a transaction for restart. The epoch is incremented
// for an in-place restart. The timestamp of the transaction on restart is
// set to the maximum of the transaction's timestamp and the specified
// timestamp. The transaction's priority is upgraded to the maximum of its
// current priority and the specified upgradePriority.
func (t *Transaction) Restart(userPriority float64, upgradePriority int32, timestamp hlc.Timestamp) {
	t.Meta.Epoch++
	if t.Meta.Timestamp.Less(timestamp) {
		t.Meta.Timestamp = timestamp
	}
	t.OrigTimestamp = t.Meta.Timestamp
	// Upgrade priority to the maximum of the current transaction's
	// priority, the pusher's priority and a random priority.
	t.UpgradePriority(MakePriority(userPriority))
	t.UpgradePriority(upgradePriority)
	t.WriteTooOld = false
	t.Meta.Sequence = 0
	t.Intents = nil
}

// Update ratchets priority, timestamps and status from the supplied
// transaction into this transaction, as determined by the supplied
// transaction's record state. The IDs must match; a mismatched update is a
// no-op.
func (t *Transaction) Update(o *Transaction) {
	if o == nil || t.Meta.ID != o.Meta.ID {
		return
	}
	if t.Status == PENDING {
		t.Status = o.Status
	}
	if o.Meta.Epoch > t.Meta.Epoch {
		t.Meta.Epoch = o.Meta.Epoch
	}
	t.Meta.Timestamp.Forward(o.Meta.Timestamp)
	t.LastHeartbeat.Forward(o.LastHeartbeat)
	t.OrigTimestamp.Forward(o.OrigTimestamp)
	t.MaxTimestamp.Forward(o.MaxTimestamp)
	t.UpgradePriority(o.Meta.Priority)
	if o.Writing {
		t.Writing = true
	}
	if o.WriteTooOld {
		t.WriteTooOld = true
	}
	for node, ts := range o.ObservedTimestamps {
		t.UpdateObservedTimestamp(node, ts)
	}
	if len(o.Intents) > 0 {
		t.Intents = append([]Span(nil), o.Intents...)
	}
}

// UpgradePriority sets transaction priority to the maximum of current
// priority and the specified minPriority.
func (t *Transaction) UpgradePriority(minPriority int32) {
	if minPriority > t.Meta.Priority {
		t.Meta.Priority = minPriority
	}
}

// UpdateObservedTimestamp stores a timestamp off the clock of the given
// node, keeping the smallest one seen. Only the first reading matters: the
// transaction can be certain no value on that node was written at a higher
// timestamp before its first visit.
func (t *Transaction) UpdateObservedTimestamp(nodeID NodeID, maxTS hlc.Timestamp) {
	if t.ObservedTimestamps == nil {
		t.ObservedTimestamps = make(map[NodeID]hlc.Timestamp)
	}
	if ts, ok := t.ObservedTimestamps[nodeID]; !ok || maxTS.Less(ts) {
		t.ObservedTimestamps[nodeID] = maxTS
	}
}

// GetObservedTimestamp returns the timestamp observed on the given node,
// if any.
func (t *Transaction) GetObservedTimestamp(nodeID NodeID) (hlc.Timestamp, bool) {
	ts, ok := t.ObservedTimestamps[nodeID]
	return ts, ok
}

// IsInitialized returns true if the transaction has been initialized.
func (t *Transaction) IsInitialized() bool {
	return t != nil && t.Meta.ID != uuid.Nil
}

// String implements the fmt.Stringer interface.
func (t Transaction) String() string {
	return redact.StringWithoutMarkers(t)
}

// SafeFormat implements the redact.SafeFormatter interface.
func (t Transaction) SafeFormat(w redact.SafePrinter, _ rune) {
	if t.Name != "" {
		w.Printf("%q ", redact.Safe(t.Name))
	}
	w.Printf("id=%s key=%s pri=%d epo=%d iso=%s stat=%s ts=%s orig=%s max=%s wto=%t seq=%d",
		redact.Safe(t.Meta.Short()), t.Meta.Key, t.Meta.Priority, t.Meta.Epoch,
		t.Meta.Isolation, t.Status, t.Meta.Timestamp, t.OrigTimestamp,
		t.MaxTimestamp, t.WriteTooOld, t.Meta.Sequence)
}

// TxnIDCompare breaks full priority/timestamp ties between two
// transactions deterministically, ordering by the byte comparison of the
// transaction IDs.
func TxnIDCompare(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

// Intent is a write intent: the span it covers, the metadata of the
// transaction that wrote it and the status to resolve it to.
type Intent struct {
	// Span is deliberately a named field; an intent is about a span, it is
	// not itself one.
	Span   Span
	Txn    TxnMeta
	Status TransactionStatus
}

// MakeIntent builds an intent for the given span and transaction.
func MakeIntent(txn TxnMeta, span Span) Intent {
	return Intent{Span: span, Txn: txn, Status: PENDING}
}

// AsIntents turns a slice of spans into intents of the given transaction.
func AsIntents(spans []Span, txn *Transaction) []Intent {
	ret := make([]Intent, len(spans))
	for i := range spans {
		ret[i] = Intent{Span: spans[i], Txn: txn.Meta, Status: txn.Status}
	}
	return ret
}

// AbortSpanEntry contains information about a transaction which has been
// aborted. It's written to a range's abort span if the range may have
// contained intents of the aborted txn.
type AbortSpanEntry struct {
	// Key is the key of the associated transaction.
	Key Key
	// Timestamp is the transaction's timestamp at abort.
	Timestamp hlc.Timestamp
	// Priority is the transaction's priority at abort; a restart of the
	// same transaction inherits at least this priority.
	Priority int32
}
