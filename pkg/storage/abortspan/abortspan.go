// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package abortspan tracks aborted transactions per range. A transaction
// whose intents were removed by a conflicting pusher may later return to
// the range unaware it was aborted; its abort span entry is what turns
// that stale read or write into a TransactionAbortedError.
package abortspan

import (
	"context"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/cockroachdb/kvcc/pkg/keys"
	"github.com/cockroachdb/kvcc/pkg/roachpb"
	"github.com/cockroachdb/kvcc/pkg/storage/engine"
	"github.com/cockroachdb/kvcc/pkg/util/hlc"
)

// An AbortSpan sets markers for aborted transactions to provide protection
// against an aborted but active transaction not reading values it wrote
// (due to its intents having been removed).
//
// The span is range-specific. It is updated when an intent for an aborted
// txn is cleared from a range, and is consulted before read commands are
// processed on a range.
type AbortSpan struct {
	rangeID roachpb.RangeID
}

// New returns a new AbortSpan. Every range replica maintains an AbortSpan,
// not just the lease holder.
func New(rangeID roachpb.RangeID) *AbortSpan {
	return &AbortSpan{rangeID: rangeID}
}

func (sc *AbortSpan) min() roachpb.Key {
	return keys.AbortSpanPrefix(sc.rangeID)
}

func (sc *AbortSpan) max() roachpb.Key {
	return sc.min().PrefixEnd()
}

// ClearData removes all persisted items stored in the span.
func (sc *AbortSpan) ClearData(e engine.ReadWriter) error {
	var clearKeys []engine.MVCCKey
	err := e.Iterate(engine.MakeMVCCMetadataKey(sc.min()), engine.MakeMVCCMetadataKey(sc.max()),
		func(kv engine.MVCCKeyValue) (bool, error) {
			clearKeys = append(clearKeys, kv.Key)
			return false, nil
		})
	if err != nil {
		return err
	}
	for _, key := range clearKeys {
		if err := e.Clear(key); err != nil {
			return err
		}
	}
	return nil
}

// Get looks up an abort span entry recorded for this transaction ID.
// Returns whether an abort record was found and any error.
func (sc *AbortSpan) Get(
	ctx context.Context, e engine.Reader, txnID uuid.UUID,
) (roachpb.AbortSpanEntry, bool, error) {
	key := engine.MakeMVCCMetadataKey(keys.AbortSpanKey(sc.rangeID, txnID))
	data, err := e.Get(key)
	if err != nil || data == nil {
		return roachpb.AbortSpanEntry{}, false, err
	}
	entry, err := decodeEntry(data)
	return entry, err == nil, err
}

// Put writes an entry for the specified transaction ID.
func (sc *AbortSpan) Put(
	ctx context.Context, e engine.ReadWriter, txnID uuid.UUID, entry *roachpb.AbortSpanEntry,
) error {
	key := engine.MakeMVCCMetadataKey(keys.AbortSpanKey(sc.rangeID, txnID))
	return e.Put(key, encodeEntry(entry))
}

// Del removes the abort span entry for the given transaction, called when
// the transaction record itself is garbage collected.
func (sc *AbortSpan) Del(ctx context.Context, e engine.ReadWriter, txnID uuid.UUID) error {
	return e.Clear(engine.MakeMVCCMetadataKey(keys.AbortSpanKey(sc.rangeID, txnID)))
}

// Iterate walks through the abort span, invoking the given callback for
// each unmarshaled entry with the transaction ID and the entry.
func (sc *AbortSpan) Iterate(
	ctx context.Context, e engine.Reader, f func(uuid.UUID, roachpb.AbortSpanEntry) error,
) error {
	return e.Iterate(engine.MakeMVCCMetadataKey(sc.min()), engine.MakeMVCCMetadataKey(sc.max()),
		func(kv engine.MVCCKeyValue) (bool, error) {
			txnID, err := keys.DecodeAbortSpanKey(sc.rangeID, kv.Key.Key)
			if err != nil {
				return false, err
			}
			entry, err := decodeEntry(kv.Value)
			if err != nil {
				return false, err
			}
			return false, f(txnID, entry)
		})
}

// CopyTo copies the abort span entries to the abort span for the given
// range, used when a range splits: both halves may carry intents of a
// transaction aborted before the split.
func (sc *AbortSpan) CopyTo(
	ctx context.Context, e engine.ReadWriter, destRangeID roachpb.RangeID,
) (int, error) {
	var count int
	dest := New(destRangeID)
	err := sc.Iterate(ctx, e, func(txnID uuid.UUID, entry roachpb.AbortSpanEntry) error {
		count++
		return dest.Put(ctx, e, txnID, &entry)
	})
	return count, err
}

func encodeEntry(entry *roachpb.AbortSpanEntry) []byte {
	buf := make([]byte, 0, 32)
	buf = binary.AppendUvarint(buf, uint64(len(entry.Key)))
	buf = append(buf, entry.Key...)
	buf = binary.AppendVarint(buf, entry.Timestamp.WallTime)
	buf = binary.AppendVarint(buf, int64(entry.Timestamp.Logical))
	buf = binary.AppendVarint(buf, int64(entry.Priority))
	return buf
}

func decodeEntry(data []byte) (roachpb.AbortSpanEntry, error) {
	var entry roachpb.AbortSpanEntry
	keyLen, n := binary.Uvarint(data)
	if n <= 0 || uint64(len(data)-n) < keyLen {
		return entry, errors.New("malformed abort span entry key")
	}
	data = data[n:]
	entry.Key = append(roachpb.Key(nil), data[:keyLen]...)
	data = data[keyLen:]

	wall, n := binary.Varint(data)
	if n <= 0 {
		return entry, errors.New("malformed abort span entry timestamp")
	}
	data = data[n:]
	logical, n := binary.Varint(data)
	if n <= 0 {
		return entry, errors.New("malformed abort span entry timestamp")
	}
	data = data[n:]
	pri, n := binary.Varint(data)
	if n <= 0 {
		return entry, errors.New("malformed abort span entry priority")
	}
	entry.Timestamp = hlc.Timestamp{WallTime: wall, Logical: int32(logical)}
	entry.Priority = int32(pri)
	return entry, nil
}
