// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package keys manages the construction of range-local keys: per-range
// bookkeeping records (abort span entries and the like) stored in the
// engine under a prefix that sorts outside the user keyspace.
package keys

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/cockroachdb/kvcc/pkg/roachpb"
)

var (
	// localRangeIDPrefix is the prefix identifying per-range data indexed
	// by range ID. The \x01 byte sorts before every user key.
	localRangeIDPrefix = roachpb.Key("\x01i")

	// localAbortSpanSuffix marks abort span entries within a range's local
	// keyspace.
	localAbortSpanSuffix = []byte("abc-")
)

// MakeRangeIDPrefix creates a range-local key prefix from rangeID.
func MakeRangeIDPrefix(rangeID roachpb.RangeID) roachpb.Key {
	key := append(roachpb.Key(nil), localRangeIDPrefix...)
	return binary.AppendUvarint(key, uint64(rangeID))
}

// AbortSpanPrefix returns the prefix under which the abort span entries of
// the given range live.
func AbortSpanPrefix(rangeID roachpb.RangeID) roachpb.Key {
	return append(MakeRangeIDPrefix(rangeID), localAbortSpanSuffix...)
}

// AbortSpanKey returns a range-local key by rangeID for an abort span
// entry, with detail specified by encoding the supplied transaction ID.
func AbortSpanKey(rangeID roachpb.RangeID, txnID uuid.UUID) roachpb.Key {
	return append(AbortSpanPrefix(rangeID), txnID[:]...)
}

// DecodeAbortSpanKey decodes the supplied abort span entry key of the given
// range, returning the transaction ID.
func DecodeAbortSpanKey(rangeID roachpb.RangeID, key roachpb.Key) (uuid.UUID, error) {
	prefix := AbortSpanPrefix(rangeID)
	if len(key) != len(prefix)+16 || !key[:len(prefix)].Equal(prefix) {
		return uuid.Nil, errors.Errorf("key %s is not an abort span key of range %s", key, rangeID)
	}
	var id uuid.UUID
	copy(id[:], key[len(prefix):])
	return id, nil
}
