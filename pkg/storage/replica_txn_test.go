// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package storage

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cockroachdb/kvcc/pkg/roachpb"
	"github.com/cockroachdb/kvcc/pkg/util/hlc"
)

func TestHeartbeatTxnCreatesRecord(t *testing.T) {
	_, r, manual := createTestReplica(t)
	ctx := context.Background()

	txn := newTestTxn(r, roachpb.Key("a"), 1)
	_, ok := r.GetTxn(txn.Meta.ID)
	require.False(t, ok)

	require.NoError(t, r.HeartbeatTxn(ctx, txn))
	record, ok := r.GetTxn(txn.Meta.ID)
	require.True(t, ok)
	require.Equal(t, roachpb.PENDING, record.Status)
	first := record.LastHeartbeat

	manual.Increment(1000)
	require.NoError(t, r.HeartbeatTxn(ctx, txn))
	record, _ = r.GetTxn(txn.Meta.ID)
	require.True(t, first.Less(record.LastHeartbeat))

	require.NoError(t, r.EndTxn(ctx, txn, true /* commit */, nil))
	err := r.HeartbeatTxn(ctx, txn)
	var statusErr *roachpb.TransactionStatusError
	require.True(t, errors.As(err, &statusErr))
}

func TestPushTxnPriorities(t *testing.T) {
	testCases := []struct {
		pusherPri, pusheePri int32
		pusherFirst          bool
		pushType             roachpb.PushTxnType
		expSuccess           bool
	}{
		// Higher priority wins in either direction.
		{10, 5, true, roachpb.PUSH_ABORT, true},
		{10, 5, false, roachpb.PUSH_ABORT, true},
		{5, 10, true, roachpb.PUSH_ABORT, false},
		{5, 10, false, roachpb.PUSH_ABORT, false},
		// Equal priorities: the older transaction wins.
		{5, 5, true, roachpb.PUSH_ABORT, true},
		{5, 5, false, roachpb.PUSH_ABORT, false},
		{10, 5, true, roachpb.PUSH_TIMESTAMP, true},
	}
	for i, tc := range testCases {
		s, r, _ := createTestReplica(t)
		ctx := context.Background()
		key := roachpb.Key("a")

		var pusher, pushee *roachpb.Transaction
		if tc.pusherFirst {
			pusher = newTestTxn(r, key, tc.pusherPri)
			pushee = newTestTxn(r, key, tc.pusheePri)
		} else {
			pushee = newTestTxn(r, key, tc.pusheePri)
			pusher = newTestTxn(r, key, tc.pusherPri)
		}
		require.NoError(t, r.HeartbeatTxn(ctx, pushee))

		pushTo := s.Clock().Now()
		reply, err := r.PushTxn(ctx, roachpb.PushTxnRequest{
			PusherTxn: pusher,
			PusheeTxn: pushee.Meta,
			PushTo:    pushTo,
			Now:       s.Clock().Now(),
			PushType:  tc.pushType,
		})
		if !tc.expSuccess {
			var pushErr *roachpb.TransactionPushError
			require.True(t, errors.As(err, &pushErr), "%d: expected push error, got %v", i, err)
			require.Equal(t, pushee.Meta.ID, pushErr.PusheeTxn.Meta.ID)
			continue
		}
		require.NoError(t, err, "%d", i)
		switch tc.pushType {
		case roachpb.PUSH_ABORT:
			require.Equal(t, roachpb.ABORTED, reply.Status, "%d", i)
		case roachpb.PUSH_TIMESTAMP:
			require.Equal(t, roachpb.PENDING, reply.Status, "%d", i)
			require.Equal(t, pushTo.Next(), reply.Meta.Timestamp, "%d", i)
		}
	}
}

// TestPushTxnTieBreakByID verifies that a full priority and timestamp tie is
// broken deterministically by the transaction IDs, so both sides of a
// conflict agree on the winner.
func TestPushTxnTieBreakByID(t *testing.T) {
	s, r, _ := createTestReplica(t)
	ctx := context.Background()
	key := roachpb.Key("a")

	a := newTestTxn(r, key, 5)
	b := newTestTxn(r, key, 5)
	b.OrigTimestamp = a.OrigTimestamp
	b.Meta.Timestamp = a.Meta.Timestamp
	require.NoError(t, r.HeartbeatTxn(ctx, a))
	require.NoError(t, r.HeartbeatTxn(ctx, b))

	push := func(pusher, pushee *roachpb.Transaction) bool {
		_, err := r.PushTxn(ctx, roachpb.PushTxnRequest{
			PusherTxn: pusher,
			PusheeTxn: pushee.Meta,
			PushTo:    s.Clock().Now(),
			Now:       s.Clock().Now(),
			PushType:  roachpb.PUSH_TIMESTAMP,
		})
		return err == nil
	}
	aWins := push(a, b)
	bWins := push(b, a)
	require.NotEqual(t, aWins, bWins)
	require.Equal(t, roachpb.TxnIDCompare(a.Meta.ID, b.Meta.ID) > 0, aWins)
}

// TestPushTxnAbandoned verifies that a transaction whose heartbeat has gone
// stale can be pushed by anyone, regardless of priority.
func TestPushTxnAbandoned(t *testing.T) {
	s, r, manual := createTestReplica(t)
	ctx := context.Background()
	key := roachpb.Key("a")

	pushee := newTestTxn(r, key, 100)
	require.NoError(t, r.HeartbeatTxn(ctx, pushee))

	manual.Increment(s.cfg.TxnAbandonmentThreshold().Nanoseconds() + 1)
	reply, err := r.PushTxn(ctx, roachpb.PushTxnRequest{
		PusheeTxn: pushee.Meta,
		PushTo:    s.Clock().Now(),
		Now:       s.Clock().Now(),
		PushType:  roachpb.PUSH_TOUCH,
	})
	require.NoError(t, err)
	require.Equal(t, roachpb.ABORTED, reply.Status)
}

func TestPushTxnTouchLive(t *testing.T) {
	s, r, _ := createTestReplica(t)
	ctx := context.Background()
	key := roachpb.Key("a")

	pusher := newTestTxn(r, key, 100)
	pushee := newTestTxn(r, key, 1)
	require.NoError(t, r.HeartbeatTxn(ctx, pushee))

	// A touch never displaces an in-progress transaction, even for a pusher
	// that would win the conflict outright.
	_, err := r.PushTxn(ctx, roachpb.PushTxnRequest{
		PusherTxn: pusher,
		PusheeTxn: pushee.Meta,
		PushTo:    s.Clock().Now(),
		Now:       s.Clock().Now(),
		PushType:  roachpb.PUSH_TOUCH,
	})
	var pushErr *roachpb.TransactionPushError
	require.True(t, errors.As(err, &pushErr))
}

func TestPushTxnQuery(t *testing.T) {
	s, r, _ := createTestReplica(t)
	ctx := context.Background()
	key := roachpb.Key("a")

	pushee := newTestTxn(r, key, 1)
	require.NoError(t, r.HeartbeatTxn(ctx, pushee))

	reply, err := r.PushTxn(ctx, roachpb.PushTxnRequest{
		PusheeTxn: pushee.Meta,
		Now:       s.Clock().Now(),
		PushType:  roachpb.PUSH_QUERY,
	})
	require.NoError(t, err)
	require.Equal(t, roachpb.PENDING, reply.Status)

	_, err = r.PushTxn(ctx, roachpb.PushTxnRequest{
		PusheeTxn: roachpb.TxnMeta{ID: uuid.New(), Key: key},
		Now:       s.Clock().Now(),
		PushType:  roachpb.PUSH_QUERY,
	})
	var untrackedErr *roachpb.UntrackedTxnError
	require.True(t, errors.As(err, &untrackedErr))
}

// TestPushTxnMissingRecord verifies that pushing a transaction with no
// record lays down an aborted record, preventing the pushee from committing
// later.
func TestPushTxnMissingRecord(t *testing.T) {
	s, r, _ := createTestReplica(t)
	ctx := context.Background()
	key := roachpb.Key("a")

	pushee := newTestTxn(r, key, 100)
	reply, err := r.PushTxn(ctx, roachpb.PushTxnRequest{
		PusheeTxn: pushee.Meta,
		PushTo:    s.Clock().Now(),
		Now:       s.Clock().Now(),
		PushType:  roachpb.PUSH_ABORT,
	})
	require.NoError(t, err)
	require.Equal(t, roachpb.ABORTED, reply.Status)

	err = r.HeartbeatTxn(ctx, pushee)
	var statusErr *roachpb.TransactionStatusError
	require.True(t, errors.As(err, &statusErr))

	err = r.EndTxn(ctx, pushee, true /* commit */, nil)
	var abortErr *roachpb.TransactionAbortedError
	require.True(t, errors.As(err, &abortErr))
}

func TestPushTxnFinalizedIdempotent(t *testing.T) {
	s, r, _ := createTestReplica(t)
	ctx := context.Background()
	key := roachpb.Key("a")

	pushee := newTestTxn(r, key, 100)
	require.NoError(t, r.HeartbeatTxn(ctx, pushee))
	require.NoError(t, r.EndTxn(ctx, pushee, true /* commit */, nil))

	for i := 0; i < 2; i++ {
		reply, err := r.PushTxn(ctx, roachpb.PushTxnRequest{
			PusheeTxn: pushee.Meta,
			PushTo:    s.Clock().Now(),
			Now:       s.Clock().Now(),
			PushType:  roachpb.PUSH_ABORT,
		})
		require.NoError(t, err)
		require.Equal(t, roachpb.COMMITTED, reply.Status)
	}
}

// TestPushTimestampSerializableRetry verifies that a serializable pushee
// cannot commit after its timestamp was pushed, while a snapshot pushee can.
func TestPushTimestampSerializableRetry(t *testing.T) {
	s, r, _ := createTestReplica(t)
	ctx := context.Background()

	push := func(pushee *roachpb.Transaction) {
		pusher := newTestTxn(r, pushee.Meta.Key, 100)
		_, err := r.PushTxn(ctx, roachpb.PushTxnRequest{
			PusherTxn: pusher,
			PusheeTxn: pushee.Meta,
			PushTo:    s.Clock().Now(),
			Now:       s.Clock().Now(),
			PushType:  roachpb.PUSH_TIMESTAMP,
		})
		require.NoError(t, err)
	}

	serializable := newTestTxn(r, roachpb.Key("a"), 1)
	require.NoError(t, r.HeartbeatTxn(ctx, serializable))
	push(serializable)
	err := r.EndTxn(ctx, serializable, true /* commit */, nil)
	var retryErr *roachpb.TransactionRetryError
	require.True(t, errors.As(err, &retryErr))
	require.Equal(t, roachpb.RETRY_SERIALIZABLE, retryErr.Reason)
	require.EqualValues(t, 1, s.Metrics().TxnRetryCount.Count())

	snapshot := roachpb.NewTransaction(
		"test", roachpb.Key("b"), -1, roachpb.SNAPSHOT, s.Clock().Now(),
		s.Clock().MaxOffset().Nanoseconds())
	require.NoError(t, r.HeartbeatTxn(ctx, snapshot))
	push(snapshot)
	require.NoError(t, r.EndTxn(ctx, snapshot, true /* commit */, nil))
	require.Equal(t, roachpb.COMMITTED, snapshot.Status)
}

func TestGCTxnRecord(t *testing.T) {
	s, r, _ := createTestReplica(t)
	ctx := context.Background()
	key := roachpb.Key("a")

	txn := newTestTxn(r, key, 1)
	require.NoError(t, r.HeartbeatTxn(ctx, txn))

	err := r.GCTxnRecord(ctx, txn.Meta.ID)
	var statusErr *roachpb.TransactionStatusError
	require.True(t, errors.As(err, &statusErr))

	require.NoError(t, r.Put(ctx, hlc.Timestamp{}, txn, key, strVal("v")))
	require.NoError(t, r.EndTxn(ctx, txn, false /* commit */, nil))
	_, ok, err := r.abortSpan.Get(ctx, s.Engine(), txn.Meta.ID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.GCTxnRecord(ctx, txn.Meta.Key, txn.Meta.ID))
	_, ok = r.GetTxn(txn.Meta.ID)
	require.False(t, ok)
	_, ok, err = r.abortSpan.Get(ctx, s.Engine(), txn.Meta.ID)
	require.NoError(t, err)
	require.False(t, ok)
}
