// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package intentresolver orchestrates conflict resolution around write
// intents: pushing the transactions that own them and applying the push
// outcome to the intents themselves.
package intentresolver

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cockroachdb/kvcc/pkg/roachpb"
	"github.com/cockroachdb/kvcc/pkg/util/hlc"
	"github.com/cockroachdb/kvcc/pkg/util/log"
)

// DB is the interface the resolver needs from the store: routing pushes to
// the range holding the pushee's record and intent resolutions to the
// ranges holding the intents.
type DB interface {
	PushTxn(ctx context.Context, args roachpb.PushTxnRequest) (*roachpb.Transaction, error)
	ResolveIntent(ctx context.Context, intent roachpb.Intent) error
	Clock() *hlc.Clock
}

// An IntentResolver pushes transactions on behalf of waiters blocked on
// their intents and resolves those intents with the push outcome.
// Asynchronous cleanup work is bounded by a task semaphore so that a flood
// of finalized transactions cannot monopolize the store.
type IntentResolver struct {
	db  DB
	sem *semaphore.Weighted

	everyAdmissionErr log.EveryN

	mu struct {
		sync.Mutex
		wg sync.WaitGroup
	}
}

// New creates an IntentResolver with the given task limit.
func New(db DB, taskLimit int64) *IntentResolver {
	return &IntentResolver{
		db:                db,
		sem:               semaphore.NewWeighted(taskLimit),
		everyAdmissionErr: log.Every(10 * time.Second),
	}
}

// ProcessWriteIntentError handles a WriteIntentError on behalf of the
// pusher: every intent's owner is pushed, and the intents are resolved
// according to the outcome. A push the pusher loses surfaces as a
// TransactionPushError, leaving the caller to back off and retry.
//
// pushType selects the resolution wanted: readers push timestamps so they
// can read beneath the moved intent, writers push for abort so they can
// displace it.
func (ir *IntentResolver) ProcessWriteIntentError(
	ctx context.Context,
	wiErr *roachpb.WriteIntentError,
	pusherTxn *roachpb.Transaction,
	readTS hlc.Timestamp,
	pushType roachpb.PushTxnType,
) error {
	now := ir.db.Clock().Now()
	for i := range wiErr.Intents {
		intent := wiErr.Intents[i]
		pushee, err := ir.db.PushTxn(ctx, roachpb.PushTxnRequest{
			PusherTxn: pusherTxn,
			PusheeTxn: intent.Txn,
			PushTo:    readTS,
			Now:       now,
			PushType:  pushType,
		})
		if err != nil {
			return err
		}
		resolved := intent
		resolved.Txn = pushee.Meta
		resolved.Status = pushee.Status
		if err := ir.db.ResolveIntent(ctx, resolved); err != nil {
			return err
		}
	}
	return nil
}

// ResolveIntents synchronously resolves the given intents.
func (ir *IntentResolver) ResolveIntents(ctx context.Context, intents []roachpb.Intent) error {
	for i := range intents {
		if err := ir.db.ResolveIntent(ctx, intents[i]); err != nil {
			return err
		}
	}
	return nil
}

// ResolveAsync resolves the given intents in a background task, bounded by
// the resolver's semaphore. Used for the non-local intents of a finalized
// transaction, which no caller is waiting on.
func (ir *IntentResolver) ResolveAsync(ctx context.Context, intents []roachpb.Intent) {
	if len(intents) == 0 {
		return
	}
	if err := ir.sem.Acquire(ctx, 1); err != nil {
		if ir.everyAdmissionErr.ShouldLog() {
			log.Warningf(ctx, "failed to start async intent resolution: %v", err)
		}
		return
	}
	ir.mu.Lock()
	ir.mu.wg.Add(1)
	ir.mu.Unlock()
	go func() {
		defer ir.sem.Release(1)
		defer ir.mu.wg.Done()
		if err := ir.ResolveIntents(ctx, intents); err != nil {
			log.Warningf(ctx, "failed to resolve intents: %v", err)
		}
	}()
}

// Drain blocks until all asynchronous resolutions started so far have
// finished. Intended for tests and orderly shutdown.
func (ir *IntentResolver) Drain() {
	ir.mu.Lock()
	wg := &ir.mu.wg
	ir.mu.Unlock()
	wg.Wait()
}
