// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package engine

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/cockroachdb/kvcc/pkg/roachpb"
	"github.com/cockroachdb/kvcc/pkg/util/hlc"
)

// MVCCMetadata is the unversioned record stored at the start of each key's
// version history. It names the timestamp of the most recent version and,
// while a transaction has a provisional write outstanding on the key, the
// intent's transaction metadata.
type MVCCMetadata struct {
	// Txn is set iff the most recent version is an intent.
	Txn *roachpb.TxnMeta
	// Timestamp is the timestamp of the most recent versioned value.
	Timestamp hlc.Timestamp
	// Deleted is true if the most recent version is a deletion tombstone.
	Deleted bool
}

// IsIntentOf returns true if the metadata carries an intent of the given
// transaction.
func (meta *MVCCMetadata) IsIntentOf(txn *roachpb.Transaction) bool {
	return meta.Txn != nil && txn != nil && meta.Txn.ID == txn.Meta.ID
}

const (
	metaFlagDeleted = 1 << 0
	metaFlagTxn     = 1 << 1
)

// encodeMVCCMetadata renders the metadata into the flat varint layout used
// for engine storage.
func encodeMVCCMetadata(meta *MVCCMetadata) []byte {
	var flags byte
	if meta.Deleted {
		flags |= metaFlagDeleted
	}
	if meta.Txn != nil {
		flags |= metaFlagTxn
	}
	buf := make([]byte, 0, 64)
	buf = append(buf, flags)
	buf = binary.AppendVarint(buf, meta.Timestamp.WallTime)
	buf = binary.AppendVarint(buf, int64(meta.Timestamp.Logical))
	if meta.Txn != nil {
		buf = append(buf, meta.Txn.ID[:]...)
		buf = binary.AppendUvarint(buf, uint64(len(meta.Txn.Key)))
		buf = append(buf, meta.Txn.Key...)
		buf = binary.AppendVarint(buf, int64(meta.Txn.Epoch))
		buf = binary.AppendVarint(buf, meta.Txn.Timestamp.WallTime)
		buf = binary.AppendVarint(buf, int64(meta.Txn.Timestamp.Logical))
		buf = binary.AppendVarint(buf, int64(meta.Txn.Priority))
		buf = binary.AppendVarint(buf, int64(meta.Txn.Sequence))
		buf = binary.AppendVarint(buf, int64(meta.Txn.Isolation))
	}
	return buf
}

// decodeMVCCMetadata is the inverse of encodeMVCCMetadata.
func decodeMVCCMetadata(data []byte) (MVCCMetadata, error) {
	var meta MVCCMetadata
	if len(data) == 0 {
		return meta, errors.New("empty MVCC metadata record")
	}
	flags := data[0]
	data = data[1:]
	meta.Deleted = flags&metaFlagDeleted != 0

	readVarint := func() (int64, error) {
		v, n := binary.Varint(data)
		if n <= 0 {
			return 0, errors.New("malformed MVCC metadata varint")
		}
		data = data[n:]
		return v, nil
	}

	wall, err := readVarint()
	if err != nil {
		return meta, err
	}
	logical, err := readVarint()
	if err != nil {
		return meta, err
	}
	meta.Timestamp = hlc.Timestamp{WallTime: wall, Logical: int32(logical)}

	if flags&metaFlagTxn == 0 {
		return meta, nil
	}
	if len(data) < 16 {
		return meta, errors.New("malformed MVCC metadata txn ID")
	}
	var txn roachpb.TxnMeta
	copy(txn.ID[:], data[:16])
	data = data[16:]
	keyLen, n := binary.Uvarint(data)
	if n <= 0 || uint64(len(data)-n) < keyLen {
		return meta, errors.New("malformed MVCC metadata txn key")
	}
	data = data[n:]
	txn.Key = append(roachpb.Key(nil), data[:keyLen]...)
	data = data[keyLen:]

	epoch, err := readVarint()
	if err != nil {
		return meta, err
	}
	txn.Epoch = int32(epoch)
	wall, err = readVarint()
	if err != nil {
		return meta, err
	}
	logical, err = readVarint()
	if err != nil {
		return meta, err
	}
	txn.Timestamp = hlc.Timestamp{WallTime: wall, Logical: int32(logical)}
	pri, err := readVarint()
	if err != nil {
		return meta, err
	}
	txn.Priority = int32(pri)
	seq, err := readVarint()
	if err != nil {
		return meta, err
	}
	txn.Sequence = int32(seq)
	iso, err := readVarint()
	if err != nil {
		return meta, err
	}
	txn.Isolation = roachpb.IsolationType(iso)

	meta.Txn = &txn
	return meta, nil
}
