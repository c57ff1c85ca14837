// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package roachpb

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/cockroachdb/kvcc/pkg/util/hlc"
)

// TransactionRestart indicates how an error surfaced to a transaction
// should be handled by its coordinator.
type TransactionRestart int

const (
	// TransactionRestart_NONE (the default) is used for errors which have no
	// effect on the transaction state. That is, a transactional operation
	// which receives such an error may still commit.
	TransactionRestart_NONE TransactionRestart = iota
	// TransactionRestart_BACKOFF is for errors that can retried by restarting
	// the transaction after an exponential backoff.
	TransactionRestart_BACKOFF
	// TransactionRestart_IMMEDIATE is for errors that can be retried by
	// restarting the transaction immediately.
	TransactionRestart_IMMEDIATE
)

// transactionRestartError is an interface implemented by errors that cause
// a transaction to be restarted.
type transactionRestartError interface {
	canRestartTransaction() TransactionRestart
}

// TransactionRestartOf inspects the error chain and reports how the
// transaction should be restarted, or TransactionRestart_NONE if the error
// is not a transaction restart error.
func TransactionRestartOf(err error) TransactionRestart {
	var re transactionRestartError
	if errors.As(err, &re) {
		return re.canRestartTransaction()
	}
	return TransactionRestart_NONE
}

// NotLeaseHolderError is reported when an operation is attempted on a range
// whose lease is held elsewhere. The client should retry against the lease
// holder, if known.
type NotLeaseHolderError struct {
	// Replica is the replica that the request was sent to.
	Replica ReplicaDescriptor
	// LeaseHolder is the replica believed to hold the lease, if known.
	LeaseHolder *ReplicaDescriptor
	// Lease is the current lease, if the replica serving the request knows it.
	Lease   *Lease
	RangeID RangeID
	// CustomMsg, if set, replaces the generic rendering.
	CustomMsg string
}

// Error implements the error interface.
func (e *NotLeaseHolderError) Error() string {
	if e.CustomMsg != "" {
		return e.CustomMsg
	}
	if e.Lease != nil {
		return fmt.Sprintf("[NotLeaseHolderError] %s: replica %s not lease holder; current lease is %s",
			e.RangeID, e.Replica, e.Lease)
	}
	if e.LeaseHolder != nil {
		return fmt.Sprintf("[NotLeaseHolderError] %s: replica %s not lease holder; replica %s is",
			e.RangeID, e.Replica, *e.LeaseHolder)
	}
	return fmt.Sprintf("[NotLeaseHolderError] %s: replica %s not lease holder; lease holder unknown",
		e.RangeID, e.Replica)
}

// LeaseRejectedError indicates that the requested lease could not be
// granted, for example because its proposed start precedes the current
// lease's expiration.
type LeaseRejectedError struct {
	Message   string
	Requested Lease
	Existing  Lease
}

// Error implements the error interface.
func (e *LeaseRejectedError) Error() string {
	return fmt.Sprintf("cannot replace lease %s with %s: %s", e.Existing, e.Requested, e.Message)
}

// RangeNotFoundError indicates that the command was sent to a range which
// is not hosted on this store.
type RangeNotFoundError struct {
	RangeID RangeID
}

// Error implements the error interface.
func (e *RangeNotFoundError) Error() string {
	return fmt.Sprintf("range %d was not found", e.RangeID)
}

// RangeKeyMismatchError indicates that a command was sent to a range which
// did not contain the key(s) specified by the command.
type RangeKeyMismatchError struct {
	RequestStartKey Key
	RequestEndKey   Key
	Range           *RangeDescriptor
}

// Error implements the error interface.
func (e *RangeKeyMismatchError) Error() string {
	if e.Range != nil {
		return fmt.Sprintf("key range %s-%s outside of bounds of range %s",
			e.RequestStartKey, e.RequestEndKey, e.Range)
	}
	return fmt.Sprintf("key range %s-%s could not be located within a range on store",
		e.RequestStartKey, e.RequestEndKey)
}

// TransactionAbortedError indicates that the transaction was aborted by
// another concurrent transaction or found its own abort span entry. The
// client should retry with an increased priority under a new ID.
type TransactionAbortedError struct {
	// Priority the restarted transaction should run at, carried over from
	// the aborted attempt so that repeated aborts eventually win.
	Priority int32
}

// Error implements the error interface.
func (e *TransactionAbortedError) Error() string {
	return "txn aborted"
}

func (*TransactionAbortedError) canRestartTransaction() TransactionRestart {
	return TransactionRestart_BACKOFF
}

// TransactionPushError indicates that the transaction could not continue
// because it encountered a write intent from another transaction which it
// was unable to push.
type TransactionPushError struct {
	PusheeTxn Transaction
}

// Error implements the error interface.
func (e *TransactionPushError) Error() string {
	return fmt.Sprintf("failed to push %s", e.PusheeTxn)
}

func (*TransactionPushError) canRestartTransaction() TransactionRestart {
	return TransactionRestart_BACKOFF
}

// TransactionRetryReason specifies what caused a transaction retry.
type TransactionRetryReason int32

const (
	// RETRY_REASON_UNKNOWN is the default.
	RETRY_REASON_UNKNOWN TransactionRetryReason = iota
	// RETRY_WRITE_TOO_OLD is due to a provisional write being pushed above a
	// newer committed value.
	RETRY_WRITE_TOO_OLD
	// RETRY_SERIALIZABLE is due to a serializable commit finding its
	// timestamp pushed above its read timestamp.
	RETRY_SERIALIZABLE
	// RETRY_POSSIBLE_REPLAY is due to a suspected command replay, such as a
	// write at a sequence number the intent has already surpassed.
	RETRY_POSSIBLE_REPLAY
)

// String implements the fmt.Stringer interface.
func (r TransactionRetryReason) String() string {
	switch r {
	case RETRY_WRITE_TOO_OLD:
		return "RETRY_WRITE_TOO_OLD"
	case RETRY_SERIALIZABLE:
		return "RETRY_SERIALIZABLE"
	case RETRY_POSSIBLE_REPLAY:
		return "RETRY_POSSIBLE_REPLAY"
	default:
		return "RETRY_REASON_UNKNOWN"
	}
}

// TransactionRetryError indicates that the transaction must be retried at a
// higher timestamp, usually because its commit timestamp no longer matches
// its read timestamp.
type TransactionRetryError struct {
	Reason TransactionRetryReason
}

// Error implements the error interface.
func (e *TransactionRetryError) Error() string {
	return fmt.Sprintf("retry txn (%s)", e.Reason)
}

func (*TransactionRetryError) canRestartTransaction() TransactionRestart {
	return TransactionRestart_IMMEDIATE
}

// TransactionStatusError indicates that the transaction status is
// incompatible with the requested operation, such as a heartbeat of a
// committed record or a commit of an aborted one.
type TransactionStatusError struct {
	Msg string
}

// Error implements the error interface.
func (e *TransactionStatusError) Error() string {
	return e.Msg
}

// NewTransactionStatusError initializes a new TransactionStatusError.
func NewTransactionStatusError(msg string) *TransactionStatusError {
	return &TransactionStatusError{Msg: msg}
}

// WriteIntentError indicates that one or more write intents belonging to
// another transaction were encountered. The recommended course of action is
// to push the intent owners and retry.
type WriteIntentError struct {
	Intents []Intent
}

// Error implements the error interface.
func (e *WriteIntentError) Error() string {
	var buf []byte
	buf = append(buf, "conflicting intents on "...)
	for i := range e.Intents {
		if i > 0 {
			buf = append(buf, ", "...)
		}
		buf = append(buf, e.Intents[i].Span.String()...)
	}
	return string(buf)
}

// WriteTooOldError indicates that a write encountered a versioned value
// newer than its timestamp. The write succeeds at ActualTimestamp; a
// serializable transaction carrying the bump must retry at commit.
type WriteTooOldError struct {
	Timestamp       hlc.Timestamp
	ActualTimestamp hlc.Timestamp
}

// Error implements the error interface.
func (e *WriteTooOldError) Error() string {
	return fmt.Sprintf("WriteTooOldError: write at timestamp %s too old; wrote at %s",
		e.Timestamp, e.ActualTimestamp)
}

func (*WriteTooOldError) canRestartTransaction() TransactionRestart {
	return TransactionRestart_IMMEDIATE
}

// ReadWithinUncertaintyIntervalError indicates that a read at timestamp
// encountered a value written in the read's uncertainty interval. The read
// cannot tell whether its transaction began before or after the writer's,
// so it must retry above the value's timestamp.
type ReadWithinUncertaintyIntervalError struct {
	ReadTimestamp     hlc.Timestamp
	ExistingTimestamp hlc.Timestamp
	MaxTimestamp      hlc.Timestamp
}

// Error implements the error interface.
func (e *ReadWithinUncertaintyIntervalError) Error() string {
	return fmt.Sprintf("read at time %s encountered previous write with future timestamp %s within uncertainty interval",
		e.ReadTimestamp, e.ExistingTimestamp)
}

func (*ReadWithinUncertaintyIntervalError) canRestartTransaction() TransactionRestart {
	return TransactionRestart_IMMEDIATE
}

// ChecksumMismatchError indicates that a value failed its integrity check
// on decode. The bytes must not be returned to the caller.
type ChecksumMismatchError struct {
	Key      Key
	Expected uint32
	Actual   uint32
}

// Error implements the error interface.
func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("%s: invalid checksum %x, expected %x", e.Key, e.Actual, e.Expected)
}

// UntrackedTxnError is returned for operations addressing a transaction
// record that does not exist and cannot be created by the operation.
type UntrackedTxnError struct {
	TxnID uuid.UUID
}

// Error implements the error interface.
func (e *UntrackedTxnError) Error() string {
	return fmt.Sprintf("no transaction record for %s", e.TxnID)
}

var (
	_ transactionRestartError = (*TransactionAbortedError)(nil)
	_ transactionRestartError = (*TransactionPushError)(nil)
	_ transactionRestartError = (*TransactionRetryError)(nil)
	_ transactionRestartError = (*WriteTooOldError)(nil)
	_ transactionRestartError = (*ReadWithinUncertaintyIntervalError)(nil)
)
