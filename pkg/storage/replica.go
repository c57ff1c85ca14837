// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package storage provides the per-range machinery of the store: replicas
// serving MVCC reads and writes under a range lease, transaction records
// and their push protocol, and the caches protecting serializability.
package storage

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"github.com/google/uuid"

	"github.com/cockroachdb/kvcc/pkg/roachpb"
	"github.com/cockroachdb/kvcc/pkg/storage/abortspan"
	"github.com/cockroachdb/kvcc/pkg/storage/engine"
	"github.com/cockroachdb/kvcc/pkg/storage/tscache"
	"github.com/cockroachdb/kvcc/pkg/util/hlc"
	"github.com/cockroachdb/kvcc/pkg/util/syncutil"
)

// A Replica is a contiguous keyrange with writes managed via a single
// serialization point. Commands acquire cmdMu for the duration of their
// evaluation and application, which gives each range one-at-a-time command
// semantics.
type Replica struct {
	RangeID roachpb.RangeID

	store     *Store
	abortSpan *abortspan.AbortSpan
	tsCache   *tscache.Cache

	// cmdMu serializes command application on the range.
	cmdMu syncutil.Mutex

	mu struct {
		syncutil.RWMutex
		desc  *roachpb.RangeDescriptor
		lease roachpb.Lease
		// minLeaseProposedTS is the minimum acceptable lease proposal time;
		// leases proposed before it are proscribed. Forwarded on lease
		// transfers to fence extensions still in flight under the old
		// holder.
		minLeaseProposedTS hlc.Timestamp
		// txns holds the transaction records anchored in this range.
		txns map[uuid.UUID]*roachpb.Transaction
	}
}

func newReplica(desc *roachpb.RangeDescriptor, store *Store) *Replica {
	r := &Replica{
		RangeID:   desc.RangeID,
		store:     store,
		abortSpan: abortspan.New(desc.RangeID),
		tsCache:   tscache.New(store.Clock()),
	}
	r.mu.desc = desc
	r.mu.txns = make(map[uuid.UUID]*roachpb.Transaction)
	return r
}

// AnnotateCtx attaches the range ID to the context for logging.
func (r *Replica) AnnotateCtx(ctx context.Context) context.Context {
	return logtags.AddTag(ctx, "r", r.RangeID)
}

// Desc returns the range's descriptor.
func (r *Replica) Desc() *roachpb.RangeDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mu.desc
}

func (r *Replica) setDesc(desc *roachpb.RangeDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mu.desc = desc
}

// ReplicaDescriptor returns this replica's descriptor within the range.
func (r *Replica) ReplicaDescriptor() (roachpb.ReplicaDescriptor, error) {
	desc := r.Desc()
	rd, ok := desc.GetReplicaDescriptor(r.store.StoreID())
	if !ok {
		return roachpb.ReplicaDescriptor{}, errors.Errorf(
			"store %s not found in descriptor of %s", r.store.StoreID(), desc)
	}
	return rd, nil
}

// ContainsKey returns whether this range contains the specified key.
func (r *Replica) ContainsKey(key roachpb.Key) bool {
	return r.Desc().ContainsKey(key)
}

func (r *Replica) checkKeyRange(start, end roachpb.Key) error {
	desc := r.Desc()
	if !desc.ContainsKeyRange(start, end) {
		return &roachpb.RangeKeyMismatchError{
			RequestStartKey: start,
			RequestEndKey:   end,
			Range:           desc,
		}
	}
	return nil
}

// checkAbortSpan rejects operations of a transaction whose intents were
// removed by an aborting pusher. Without this check the transaction could
// fail to read its own (removed) writes and proceed on stale data.
func (r *Replica) checkAbortSpan(ctx context.Context, txn *roachpb.Transaction) error {
	if txn == nil {
		return nil
	}
	entry, ok, err := r.abortSpan.Get(ctx, r.store.Engine(), txn.Meta.ID)
	if err != nil {
		return err
	}
	if ok {
		r.store.metrics.AbortSpanHits.Inc(1)
		return &roachpb.TransactionAbortedError{Priority: entry.Priority}
	}
	return nil
}

// recordObservedTimestamp takes a clock reading on behalf of the visiting
// transaction. The first reading taken on a node bounds the uncertainty
// window for every later read the transaction performs here.
func (r *Replica) recordObservedTimestamp(txn *roachpb.Transaction) {
	if txn != nil {
		txn.UpdateObservedTimestamp(r.store.NodeID(), r.store.Clock().Now())
	}
}

// limitTxnMaxTimestamp returns the transaction to use for MVCC access, with
// the uncertainty limit lowered to the timestamp this node's clock showed
// on the transaction's first visit. Values this node wrote after that
// observation necessarily carry higher timestamps, so they cannot be
// causally prior to the transaction.
func (r *Replica) limitTxnMaxTimestamp(txn *roachpb.Transaction) *roachpb.Transaction {
	if txn == nil {
		return nil
	}
	obsTS, ok := txn.GetObservedTimestamp(r.store.NodeID())
	if !ok || !obsTS.Less(txn.MaxTimestamp) {
		return txn
	}
	clone := txn.Clone()
	clone.MaxTimestamp = obsTS
	clone.MaxTimestamp.Forward(clone.OrigTimestamp)
	return &clone
}

func txnID(txn *roachpb.Transaction) uuid.UUID {
	if txn == nil {
		return uuid.Nil
	}
	return txn.Meta.ID
}

// Get returns the value at key visible at the given timestamp, pushing the
// read into the timestamp cache so no later write can slide beneath it.
func (r *Replica) Get(
	ctx context.Context,
	ts hlc.Timestamp,
	txn *roachpb.Transaction,
	key roachpb.Key,
	consistent bool,
) (*roachpb.Value, []roachpb.Intent, error) {
	ctx = r.AnnotateCtx(ctx)
	if err := r.redirectOnOrAcquireLease(ctx); err != nil {
		return nil, nil, err
	}
	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()

	if err := r.checkKeyRange(key, nil); err != nil {
		return nil, nil, err
	}
	if err := r.checkAbortSpan(ctx, txn); err != nil {
		return nil, nil, err
	}
	r.recordObservedTimestamp(txn)

	value, intents, err := engine.MVCCGet(
		ctx, r.store.Engine(), key, ts, consistent, r.limitTxnMaxTimestamp(txn))
	if err != nil {
		return nil, nil, err
	}
	r.tsCache.Add(key, nil, ts, txnID(txn), true)
	return value, intents, nil
}

// Scan returns up to max key-value pairs in [key, endKey) visible at the
// given timestamp.
func (r *Replica) Scan(
	ctx context.Context,
	ts hlc.Timestamp,
	txn *roachpb.Transaction,
	key, endKey roachpb.Key,
	max int64,
	consistent bool,
) ([]roachpb.KeyValue, []roachpb.Intent, error) {
	ctx = r.AnnotateCtx(ctx)
	if err := r.redirectOnOrAcquireLease(ctx); err != nil {
		return nil, nil, err
	}
	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()

	if err := r.checkKeyRange(key, endKey); err != nil {
		return nil, nil, err
	}
	if err := r.checkAbortSpan(ctx, txn); err != nil {
		return nil, nil, err
	}
	r.recordObservedTimestamp(txn)

	kvs, intents, err := engine.MVCCScan(
		ctx, r.store.Engine(), key, endKey, max, ts, consistent, r.limitTxnMaxTimestamp(txn))
	if err != nil {
		return nil, nil, err
	}
	r.tsCache.Add(key, endKey, ts, txnID(txn), true)
	return kvs, intents, nil
}

// applyTimestampCache moves the write timestamp above any read or write
// the cache has recorded over the key. A write below a served read would
// invalidate that read; a write at or below an existing write could
// reorder history.
func (r *Replica) applyTimestampCache(key roachpb.Key, txn *roachpb.Transaction, ts hlc.Timestamp) hlc.Timestamp {
	rTS, wTS := r.tsCache.GetMax(key, nil, txnID(txn))
	ts.Forward(rTS.Next())
	ts.Forward(wTS.Next())
	if txn != nil {
		txn.Meta.Timestamp.Forward(ts)
		return txn.Meta.Timestamp
	}
	return ts
}

// Put writes the value at key. Transactional puts lay a write intent at the
// transaction's provisional timestamp; the intent span is accumulated on
// the transaction for resolution at commit.
func (r *Replica) Put(
	ctx context.Context,
	ts hlc.Timestamp,
	txn *roachpb.Transaction,
	key roachpb.Key,
	value roachpb.Value,
) error {
	return r.writeKey(ctx, ts, txn, key, func(wts hlc.Timestamp, wtxn *roachpb.Transaction) error {
		return engine.MVCCPut(ctx, r.store.Engine(), key, wts, value, wtxn)
	})
}

// Delete writes a deletion tombstone at key.
func (r *Replica) Delete(
	ctx context.Context, ts hlc.Timestamp, txn *roachpb.Transaction, key roachpb.Key,
) error {
	return r.writeKey(ctx, ts, txn, key, func(wts hlc.Timestamp, wtxn *roachpb.Transaction) error {
		return engine.MVCCDelete(ctx, r.store.Engine(), key, wts, wtxn)
	})
}

func (r *Replica) writeKey(
	ctx context.Context,
	ts hlc.Timestamp,
	txn *roachpb.Transaction,
	key roachpb.Key,
	write func(hlc.Timestamp, *roachpb.Transaction) error,
) error {
	ctx = r.AnnotateCtx(ctx)
	if err := r.redirectOnOrAcquireLease(ctx); err != nil {
		return err
	}
	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()

	if err := r.checkKeyRange(key, nil); err != nil {
		return err
	}
	if err := r.checkAbortSpan(ctx, txn); err != nil {
		return err
	}
	r.recordObservedTimestamp(txn)

	if txn != nil {
		ts = txn.Meta.Timestamp
		txn.Meta.Sequence++
	}
	ts = r.applyTimestampCache(key, txn, ts)

	err := write(ts, txn)
	var wtoErr *roachpb.WriteTooOldError
	if errors.As(err, &wtoErr) {
		ts = wtoErr.ActualTimestamp
		if txn != nil {
			// The write went in above a newer committed value. The intent
			// carries the bumped timestamp; the transaction finds out at
			// commit whether it can live with it.
			txn.Meta.Timestamp.Forward(wtoErr.ActualTimestamp)
			txn.WriteTooOld = true
			err = nil
		}
	}
	if err != nil {
		if txn != nil {
			txn.Meta.Sequence--
		}
		return err
	}
	r.tsCache.Add(key, nil, ts, txnID(txn), false)
	if txn != nil {
		txn.Writing = true
		txn.Intents = append(txn.Intents, roachpb.Span{Key: key})
	}
	return nil
}

// ResolveIntent applies the outcome of the intent's transaction to the
// intent: committed intents become ordinary values, aborted intents are
// removed and the abort span poisoned, pushed intents move forward.
func (r *Replica) ResolveIntent(ctx context.Context, intent roachpb.Intent) error {
	ctx = r.AnnotateCtx(ctx)
	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()
	return r.resolveIntentLocked(ctx, intent)
}

func (r *Replica) resolveIntentLocked(ctx context.Context, intent roachpb.Intent) error {
	var err error
	if len(intent.Span.EndKey) == 0 {
		err = engine.MVCCResolveWriteIntent(ctx, r.store.Engine(), intent)
	} else {
		_, err = engine.MVCCResolveWriteIntentRange(ctx, r.store.Engine(), intent, 0)
	}
	if err != nil {
		return err
	}
	r.store.metrics.IntentResolutions.Inc(1)
	if intent.Status == roachpb.ABORTED {
		// Poison so the aborted transaction cannot miss its own removed
		// writes on a later visit to this range.
		entry := roachpb.AbortSpanEntry{
			Key:       intent.Txn.Key,
			Timestamp: intent.Txn.Timestamp,
			Priority:  intent.Txn.Priority,
		}
		return r.abortSpan.Put(ctx, r.store.Engine(), intent.Txn.ID, &entry)
	}
	return nil
}
