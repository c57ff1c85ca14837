// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cockroachdb/kvcc/pkg/roachpb"
	"github.com/cockroachdb/kvcc/pkg/util/log"
)

// checkTxnAnchor verifies the transaction record operation is addressed to
// the range holding the transaction's anchor key.
func (r *Replica) checkTxnAnchor(key roachpb.Key) error {
	if !r.ContainsKey(key) {
		return &roachpb.RangeKeyMismatchError{RequestStartKey: key, Range: r.Desc()}
	}
	return nil
}

// HeartbeatTxn updates the transaction's last heartbeat timestamp,
// creating the record if this is the first heartbeat to arrive. The
// caller's transaction is refreshed from the record.
func (r *Replica) HeartbeatTxn(ctx context.Context, txn *roachpb.Transaction) error {
	ctx = r.AnnotateCtx(ctx)
	if err := r.redirectOnOrAcquireLease(ctx); err != nil {
		return err
	}
	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()
	if err := r.checkTxnAnchor(txn.Meta.Key); err != nil {
		return err
	}

	r.mu.Lock()
	record, ok := r.mu.txns[txn.Meta.ID]
	if !ok {
		clone := txn.Clone()
		record = &clone
		record.Status = roachpb.PENDING
		r.mu.txns[txn.Meta.ID] = record
	}
	r.mu.Unlock()

	if record.Status.IsFinalized() {
		return roachpb.NewTransactionStatusError(
			fmt.Sprintf("heartbeat for %s transaction", record.Status))
	}
	now := r.store.Clock().Now()
	record.LastHeartbeat.Forward(now)
	record.Update(txn)
	txn.Update(record)
	return nil
}

// EndTxn attempts to finalize the transaction: commit or abort the record,
// resolve the intents the transaction accumulated and run any commit
// trigger. A serializable transaction whose provisional timestamp no
// longer matches its read timestamp is returned for retry instead of
// committed.
func (r *Replica) EndTxn(
	ctx context.Context,
	txn *roachpb.Transaction,
	commit bool,
	trigger *roachpb.InternalCommitTrigger,
) error {
	ctx = r.AnnotateCtx(ctx)
	if err := r.redirectOnOrAcquireLease(ctx); err != nil {
		return err
	}
	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()
	if err := r.checkTxnAnchor(txn.Meta.Key); err != nil {
		return err
	}

	r.mu.Lock()
	record, ok := r.mu.txns[txn.Meta.ID]
	if !ok {
		if err := r.checkAbortSpan(ctx, txn); err != nil {
			r.mu.Unlock()
			return err
		}
		clone := txn.Clone()
		record = &clone
		r.mu.txns[txn.Meta.ID] = record
	}
	r.mu.Unlock()

	switch record.Status {
	case roachpb.COMMITTED:
		return roachpb.NewTransactionStatusError("already committed")
	case roachpb.ABORTED:
		// The transaction was aborted by a pusher while the client still
		// thought it was running.
		return &roachpb.TransactionAbortedError{Priority: record.Meta.Priority}
	}
	if record.Meta.Epoch > txn.Meta.Epoch {
		return roachpb.NewTransactionStatusError(
			fmt.Sprintf("epoch regression: %d < %d", txn.Meta.Epoch, record.Meta.Epoch))
	}
	record.Update(txn)

	if commit {
		// A serializable commit must happen at the timestamp its reads were
		// served at. If a push or a write-too-old bump moved the provisional
		// timestamp, the client has to refresh or restart.
		if txn.Meta.Isolation == roachpb.SERIALIZABLE &&
			(record.WriteTooOld || txn.OrigTimestamp.Less(record.Meta.Timestamp)) {
			r.store.metrics.TxnRetryCount.Inc(1)
			reason := roachpb.RETRY_SERIALIZABLE
			if record.WriteTooOld {
				reason = roachpb.RETRY_WRITE_TOO_OLD
			}
			return &roachpb.TransactionRetryError{Reason: reason}
		}
		record.Status = roachpb.COMMITTED
		r.store.metrics.TxnCommitCount.Inc(1)
	} else {
		record.Status = roachpb.ABORTED
		r.store.metrics.TxnAbortCount.Inc(1)
	}
	txn.Update(record)
	txn.Status = record.Status

	r.finalizeIntents(ctx, record, txn.Intents)

	if commit && trigger != nil {
		if err := r.store.applyCommitTrigger(ctx, r, trigger); err != nil {
			return err
		}
	}
	return nil
}

// finalizeIntents resolves the finalized transaction's intents: spans local
// to this range synchronously under the held command mutex, the rest
// asynchronously through the store's intent resolver.
func (r *Replica) finalizeIntents(
	ctx context.Context, record *roachpb.Transaction, spans []roachpb.Span,
) {
	if len(spans) == 0 {
		return
	}
	merged, _ := roachpb.MergeSpans(append([]roachpb.Span(nil), spans...))
	var external []roachpb.Intent
	for _, span := range merged {
		intent := roachpb.Intent{Span: span, Txn: record.Meta, Status: record.Status}
		if r.ContainsKey(span.Key) && (len(span.EndKey) == 0 || r.Desc().ContainsKeyRange(span.Key, span.EndKey)) {
			if err := r.resolveIntentLocked(ctx, intent); err != nil {
				log.Warningf(ctx, "failed to resolve local intent %s: %v", span, err)
			}
		} else {
			external = append(external, intent)
		}
	}
	if len(external) > 0 {
		r.store.intentResolver.ResolveAsync(ctx, external)
	}
}

// PushTxn resolves a conflict between the pusher and the transaction whose
// record is addressed. It can move the pushee's commit timestamp above the
// pusher's read timestamp (PUSH_TIMESTAMP), abort the pushee (PUSH_ABORT),
// probe for abandonment (PUSH_TOUCH) or read the record (PUSH_QUERY).
//
// The bias is in favor of the pushee: in-progress transactions only lose
// to pushers with higher priority. Ties go to the older transaction, and
// a remaining tie is broken by comparing transaction ID bytes, so that
// the outcome of a conflict is the same no matter which side pushes.
// Pushes of already finalized transactions succeed trivially, which makes
// pushing idempotent.
func (r *Replica) PushTxn(
	ctx context.Context, args roachpb.PushTxnRequest,
) (*roachpb.Transaction, error) {
	ctx = r.AnnotateCtx(ctx)
	if err := r.redirectOnOrAcquireLease(ctx); err != nil {
		return nil, err
	}
	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()
	if err := r.checkTxnAnchor(args.PusheeTxn.Key); err != nil {
		return nil, err
	}

	now := r.store.Clock().Now()
	now.Forward(args.Now)

	r.mu.Lock()
	record, ok := r.mu.txns[args.PusheeTxn.ID]
	r.mu.Unlock()

	if !ok {
		if args.PushType == roachpb.PUSH_QUERY {
			return nil, &roachpb.UntrackedTxnError{TxnID: args.PusheeTxn.ID}
		}
		// There is no record: the pushee has not managed to write one, or
		// it has already been garbage collected. Either way the pushee
		// cannot commit, so the push succeeds by laying down an aborted
		// record.
		record = &roachpb.Transaction{
			Meta:          args.PusheeTxn,
			Status:        roachpb.ABORTED,
			LastHeartbeat: now,
			OrigTimestamp: args.PusheeTxn.Timestamp,
		}
		r.mu.Lock()
		r.mu.txns[args.PusheeTxn.ID] = record
		r.mu.Unlock()
		r.store.metrics.PushSuccessCount.Inc(1)
		reply := record.Clone()
		return &reply, nil
	}

	if record.Status.IsFinalized() {
		reply := record.Clone()
		return &reply, nil
	}
	if args.PushType == roachpb.PUSH_QUERY {
		reply := record.Clone()
		return &reply, nil
	}

	abandoned := record.LastHeartbeat.WallTime+
		r.store.cfg.TxnAbandonmentThreshold().Nanoseconds() <= now.WallTime

	var pusherWins bool
	switch {
	case abandoned:
		pusherWins = true
	case args.PushType == roachpb.PUSH_TOUCH:
		// A touch never forces an in-progress transaction aside.
		pusherWins = false
	default:
		pusherWins = pusherWinsConflict(&args, record)
	}

	if !pusherWins {
		r.store.metrics.PushFailureCount.Inc(1)
		if log.V(1) {
			log.Infof(ctx, "failed to push %s", record)
		}
		return nil, &roachpb.TransactionPushError{PusheeTxn: record.Clone()}
	}

	switch args.PushType {
	case roachpb.PUSH_TIMESTAMP:
		record.Meta.Timestamp.Forward(args.PushTo.Next())
	default:
		// PUSH_ABORT, and PUSH_TOUCH of an abandoned transaction.
		record.Status = roachpb.ABORTED
		r.store.metrics.TxnAbortCount.Inc(1)
	}
	r.store.metrics.PushSuccessCount.Inc(1)
	reply := record.Clone()
	return &reply, nil
}

// pusherWinsConflict applies the priority rules to an in-progress pushee:
// strictly higher priority wins; at equal priorities the older transaction
// wins; at a full tie the larger transaction ID wins.
func pusherWinsConflict(args *roachpb.PushTxnRequest, pushee *roachpb.Transaction) bool {
	pusherPri := args.PusherPriority()
	pusheePri := pushee.Meta.Priority
	if pusherPri != pusheePri {
		return pusherPri > pusheePri
	}
	pusherTS := args.PusherTimestamp()
	pusheeTS := pushee.OrigTimestamp
	if !pusherTS.EqOrdering(pusheeTS) {
		return pusherTS.Less(pusheeTS)
	}
	if args.PusherTxn == nil {
		return false
	}
	return roachpb.TxnIDCompare(args.PusherTxn.Meta.ID, pushee.Meta.ID) > 0
}

// GetTxn returns a copy of the transaction record anchored at this range,
// if one exists.
func (r *Replica) GetTxn(txnID uuid.UUID) (*roachpb.Transaction, bool) {
	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.mu.txns[txnID]
	if !ok {
		return nil, false
	}
	reply := record.Clone()
	return &reply, true
}

// GCTxnRecord removes a finalized transaction record along with its abort
// span entry on this range. Records of in-progress transactions are left
// alone.
func (r *Replica) GCTxnRecord(ctx context.Context, txnID uuid.UUID) error {
	ctx = r.AnnotateCtx(ctx)
	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()

	r.mu.Lock()
	record, ok := r.mu.txns[txnID]
	if ok && !record.Status.IsFinalized() {
		r.mu.Unlock()
		return roachpb.NewTransactionStatusError("cannot gc in-progress transaction")
	}
	delete(r.mu.txns, txnID)
	r.mu.Unlock()

	return r.abortSpan.Del(ctx, r.store.Engine(), txnID)
}
