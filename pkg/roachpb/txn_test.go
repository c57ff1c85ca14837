// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package roachpb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cockroachdb/kvcc/pkg/util/hlc"
)

func makeTS(walltime int64, logical int32) hlc.Timestamp {
	return hlc.Timestamp{WallTime: walltime, Logical: logical}
}

func TestMakePriority(t *testing.T) {
	// A negative user priority fixes the txn priority for tests.
	require.Equal(t, int32(10), MakePriority(-10))

	// Verify that the base case is a non-negative priority.
	for i := 0; i < 10; i++ {
		require.GreaterOrEqual(t, MakePriority(1), int32(0))
	}
}

func TestTransactionStatusFinalized(t *testing.T) {
	require.False(t, PENDING.IsFinalized())
	require.True(t, COMMITTED.IsFinalized())
	require.True(t, ABORTED.IsFinalized())
}

func TestTransactionRestart(t *testing.T) {
	txn := NewTransaction("test", Key("a"), -10, SERIALIZABLE, makeTS(10, 0), 5)
	txn.Meta.Sequence = 4
	txn.WriteTooOld = true
	txn.Intents = []Span{{Key: Key("a")}}

	txn.Restart(-10, 25, makeTS(20, 1))
	require.Equal(t, int32(1), txn.Meta.Epoch)
	require.Equal(t, makeTS(20, 1), txn.Meta.Timestamp)
	require.Equal(t, txn.Meta.Timestamp, txn.OrigTimestamp)
	// Priority is ratcheted up to the pusher's.
	require.Equal(t, int32(25), txn.Meta.Priority)
	require.False(t, txn.WriteTooOld)
	require.Equal(t, int32(0), txn.Meta.Sequence)
	require.Nil(t, txn.Intents)

	// Restarting at a timestamp below the current one keeps the current one.
	txn.Restart(-10, 0, makeTS(5, 0))
	require.Equal(t, makeTS(20, 1), txn.Meta.Timestamp)
}

func TestTransactionUpdate(t *testing.T) {
	txn := NewTransaction("test", Key("a"), -10, SERIALIZABLE, makeTS(10, 0), 5)
	other := txn.Clone()
	other.Status = COMMITTED
	other.Meta.Epoch = 2
	other.Meta.Timestamp = makeTS(20, 0)
	other.Meta.Priority = 123
	other.Writing = true
	other.Intents = []Span{{Key: Key("a"), EndKey: Key("c")}}

	txn.Update(&other)
	require.Equal(t, COMMITTED, txn.Status)
	require.Equal(t, int32(2), txn.Meta.Epoch)
	require.Equal(t, makeTS(20, 0), txn.Meta.Timestamp)
	require.Equal(t, int32(123), txn.Meta.Priority)
	require.True(t, txn.Writing)
	require.Len(t, txn.Intents, 1)

	// Updates from an unrelated transaction are ignored.
	stranger := NewTransaction("other", Key("b"), -99, SERIALIZABLE, makeTS(99, 0), 5)
	stranger.Status = ABORTED
	txn.Update(stranger)
	require.Equal(t, COMMITTED, txn.Status)
}

func TestTransactionObservedTimestamps(t *testing.T) {
	txn := NewTransaction("test", Key("a"), -10, SERIALIZABLE, makeTS(10, 0), 5)

	_, ok := txn.GetObservedTimestamp(NodeID(1))
	require.False(t, ok)

	txn.UpdateObservedTimestamp(1, makeTS(15, 0))
	ts, ok := txn.GetObservedTimestamp(1)
	require.True(t, ok)
	require.Equal(t, makeTS(15, 0), ts)

	// Later (higher) observations do not replace the first.
	txn.UpdateObservedTimestamp(1, makeTS(20, 0))
	ts, _ = txn.GetObservedTimestamp(1)
	require.Equal(t, makeTS(15, 0), ts)

	// An earlier observation does.
	txn.UpdateObservedTimestamp(1, makeTS(12, 0))
	ts, _ = txn.GetObservedTimestamp(1)
	require.Equal(t, makeTS(12, 0), ts)
}

func TestTransactionClone(t *testing.T) {
	txn := NewTransaction("test", Key("a"), -10, SERIALIZABLE, makeTS(10, 0), 5)
	txn.UpdateObservedTimestamp(1, makeTS(15, 0))
	txn.Intents = []Span{{Key: Key("a")}}

	clone := txn.Clone()
	clone.ObservedTimestamps[2] = makeTS(20, 0)
	clone.Intents[0].Key = Key("z")

	_, ok := txn.GetObservedTimestamp(2)
	require.False(t, ok)
	require.Equal(t, Key("a"), txn.Intents[0].Key)
}

func TestTxnIDCompare(t *testing.T) {
	txnA := NewTransaction("a", Key("a"), -1, SERIALIZABLE, makeTS(10, 0), 5)
	txnB := NewTransaction("b", Key("b"), -1, SERIALIZABLE, makeTS(10, 0), 5)
	c := TxnIDCompare(txnA.Meta.ID, txnB.Meta.ID)
	require.Equal(t, -c, TxnIDCompare(txnB.Meta.ID, txnA.Meta.ID))
	require.Equal(t, 0, TxnIDCompare(txnA.Meta.ID, txnA.Meta.ID))
}

func TestLeaseType(t *testing.T) {
	var l Lease
	require.Equal(t, LeaseNone, l.Type())
	require.True(t, l.Empty())

	exp := makeTS(100, 0)
	l = Lease{Start: makeTS(1, 0), Expiration: &exp}
	require.Equal(t, LeaseExpiration, l.Type())
	require.Equal(t, exp, l.GetExpiration())

	epo := int64(3)
	l = Lease{Start: makeTS(1, 0), Epoch: &epo}
	require.Equal(t, LeaseEpoch, l.Type())
	require.Equal(t, hlc.Timestamp{}, l.GetExpiration())
}

func TestLeaseEquivalence(t *testing.T) {
	r1 := ReplicaDescriptor{NodeID: 1, StoreID: 1, ReplicaID: 1}
	r2 := ReplicaDescriptor{NodeID: 2, StoreID: 2, ReplicaID: 2}
	exp1, exp2 := makeTS(100, 0), makeTS(200, 0)
	epo1, epo1b, epo2 := int64(1), int64(1), int64(2)

	expire1 := Lease{Replica: r1, Start: makeTS(1, 0), Expiration: &exp1}
	expire2 := Lease{Replica: r1, Start: makeTS(1, 0), Expiration: &exp2}
	epoch1 := Lease{Replica: r1, Start: makeTS(1, 0), Epoch: &epo1}
	epoch1b := Lease{Replica: r1, Start: makeTS(1, 0), Epoch: &epo1b}
	epoch2 := Lease{Replica: r1, Start: makeTS(1, 0), Epoch: &epo2}
	otherHolder := Lease{Replica: r2, Start: makeTS(1, 0), Expiration: &exp1}

	// An extension by the same holder is equivalent.
	require.True(t, expire1.Equivalent(expire2))
	// An epoch lease matches itself at the same epoch only.
	require.True(t, epoch1.Equivalent(epoch1b))
	require.False(t, epoch1.Equivalent(epoch2))
	// Holder and type changes are never equivalent.
	require.False(t, expire1.Equivalent(otherHolder))
	require.False(t, expire1.Equivalent(epoch1))
}

func TestCommitTriggerUnion(t *testing.T) {
	var none *InternalCommitTrigger
	require.Nil(t, none.GetSplitTrigger())
	require.Nil(t, none.GetMergeTrigger())

	ct := NewSplitTrigger(SplitTrigger{
		LeftDesc:  RangeDescriptor{RangeID: 1},
		RightDesc: RangeDescriptor{RangeID: 2},
	})
	require.NotNil(t, ct.GetSplitTrigger())
	require.Nil(t, ct.GetMergeTrigger())
	require.Nil(t, ct.GetChangeReplicasTrigger())
	require.Nil(t, ct.GetModifiedSpanTrigger())
	require.Equal(t, RangeID(2), ct.GetSplitTrigger().RightDesc.RangeID)
}
