// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package engine

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/cockroachdb/kvcc/pkg/roachpb"
	"github.com/cockroachdb/kvcc/pkg/util/hlc"
)

// getMetadata reads the metadata record for key, returning ok=false if the
// key has no versions at all.
func getMetadata(e Reader, key roachpb.Key) (MVCCMetadata, bool, error) {
	data, err := e.Get(MakeMVCCMetadataKey(key))
	if err != nil || data == nil {
		return MVCCMetadata{}, false, err
	}
	meta, err := decodeMVCCMetadata(data)
	if err != nil {
		return MVCCMetadata{}, false, err
	}
	return meta, true, nil
}

func putMetadata(w Writer, key roachpb.Key, meta *MVCCMetadata) error {
	return w.Put(MakeMVCCMetadataKey(key), encodeMVCCMetadata(meta))
}

// seekVersion returns the newest versioned value of key with a timestamp at
// or below ts.
func seekVersion(e Reader, key roachpb.Key, ts hlc.Timestamp) (MVCCKeyValue, bool, error) {
	var result MVCCKeyValue
	var found bool
	err := e.Iterate(MVCCKey{Key: key, Timestamp: ts}, MakeMVCCMetadataKey(key.Next()),
		func(kv MVCCKeyValue) (bool, error) {
			if kv.Key.Key.Equal(key) && kv.Key.IsValue() {
				result, found = kv, true
			}
			return true, nil
		})
	return result, found, err
}

// getVersionExact returns the versioned value of key at exactly ts.
func getVersionExact(e Reader, key roachpb.Key, ts hlc.Timestamp) ([]byte, bool, error) {
	kv, ok, err := seekVersion(e, key, ts)
	if err != nil || !ok || !kv.Key.Timestamp.EqOrdering(ts) {
		return nil, false, err
	}
	return kv.Value, true, nil
}

func versionedValue(key roachpb.Key, kv MVCCKeyValue) (*roachpb.Value, error) {
	if len(kv.Value) == 0 {
		// Deletion tombstone.
		return nil, nil
	}
	value := &roachpb.Value{RawBytes: kv.Value, Timestamp: kv.Key.Timestamp}
	if err := value.Verify(key); err != nil {
		return nil, err
	}
	return value, nil
}

// mvccGetInternal implements a get. On an intent conflict in inconsistent
// mode the intent is returned alongside the pre-intent value; in consistent
// mode a WriteIntentError is returned instead.
func mvccGetInternal(
	e Reader, key roachpb.Key, timestamp hlc.Timestamp, consistent bool, txn *roachpb.Transaction,
) (*roachpb.Value, *roachpb.Intent, error) {
	meta, ok, err := getMetadata(e, key)
	if err != nil || !ok {
		return nil, nil, err
	}

	checkUncertainty := txn != nil && timestamp.Less(txn.MaxTimestamp)

	// ignoreIntentTS, when set, is the timestamp of an intent version the
	// read must skip past.
	var ignoreIntentTS hlc.Timestamp
	var conflictingIntent *roachpb.Intent

	if meta.Txn != nil {
		own := txn != nil && meta.Txn.ID == txn.Meta.ID
		if own {
			switch {
			case txn.Meta.Epoch == meta.Txn.Epoch:
				// Read our own intent, regardless of the read timestamp.
				data, found, err := getVersionExact(e, key, meta.Timestamp)
				if err != nil {
					return nil, nil, err
				}
				if !found {
					return nil, nil, errors.Errorf("intent metadata for %s at %s without versioned value", key, meta.Timestamp)
				}
				v, err := versionedValue(key, MVCCKeyValue{
					Key: MVCCKey{Key: key, Timestamp: meta.Timestamp}, Value: data})
				return v, nil, err
			case txn.Meta.Epoch > meta.Txn.Epoch:
				// The intent is a leftover of a previous epoch; read beneath it.
				ignoreIntentTS = meta.Timestamp
			default:
				return nil, nil, errors.Errorf(
					"failed to read with epoch %d due to a write intent with epoch %d",
					txn.Meta.Epoch, meta.Txn.Epoch)
			}
		} else {
			// An intent only conflicts when the read would see it: at or
			// above the intent timestamp, or within the uncertainty window.
			conflicts := !timestamp.Less(meta.Timestamp) ||
				(checkUncertainty && !txn.MaxTimestamp.Less(meta.Timestamp))
			if conflicts {
				intent := roachpb.Intent{
					Span:   roachpb.Span{Key: key},
					Txn:    *meta.Txn,
					Status: roachpb.PENDING,
				}
				if consistent {
					return nil, nil, &roachpb.WriteIntentError{Intents: []roachpb.Intent{intent}}
				}
				conflictingIntent = &intent
				ignoreIntentTS = meta.Timestamp
			}
		}
	}

	if checkUncertainty {
		// Any committed version above the read timestamp but at or below the
		// uncertainty limit forces a retry above it.
		kv, found, err := seekVersion(e, key, txn.MaxTimestamp)
		if err != nil {
			return nil, conflictingIntent, err
		}
		if found && !ignoreIntentTS.IsEmpty() && kv.Key.Timestamp.EqOrdering(ignoreIntentTS) {
			kv, found, err = seekVersion(e, key, ignoreIntentTS.Prev())
			if err != nil {
				return nil, conflictingIntent, err
			}
		}
		if found && timestamp.Less(kv.Key.Timestamp) {
			return nil, conflictingIntent, &roachpb.ReadWithinUncertaintyIntervalError{
				ReadTimestamp:     timestamp,
				ExistingTimestamp: kv.Key.Timestamp,
				MaxTimestamp:      txn.MaxTimestamp,
			}
		}
	}

	readTS := timestamp
	if !ignoreIntentTS.IsEmpty() && !readTS.Less(ignoreIntentTS) {
		readTS = ignoreIntentTS.Prev()
	}
	kv, found, err := seekVersion(e, key, readTS)
	if err != nil || !found {
		return nil, conflictingIntent, err
	}
	v, err := versionedValue(key, kv)
	return v, conflictingIntent, err
}

// MVCCGet returns the value for the key specified in the request, while
// satisfying the given timestamp condition. The key may contain arbitrary
// bytes. If no value for the key exists or it has been deleted, returns
// nil for value.
//
// The values of multiple versions for the given key should be organized as
// follows to perform quick value lookups:
//
//	keyA : MVCCMetadata of keyA
//	keyA_Timestamp_n : value of version_n
//	keyA_Timestamp_n-1 : value of version_n-1
//	...
//	keyA_Timestamp_0 : value of version_0
//	keyB : MVCCMetadata of keyB
//
// In a consistent read an encountered conflicting intent results in a
// WriteIntentError; an inconsistent read instead returns the newest value
// beneath the intent along with the intent itself.
func MVCCGet(
	ctx context.Context,
	e Reader,
	key roachpb.Key,
	timestamp hlc.Timestamp,
	consistent bool,
	txn *roachpb.Transaction,
) (*roachpb.Value, []roachpb.Intent, error) {
	if len(key) == 0 {
		return nil, nil, errors.New("attempted access to empty key")
	}
	value, intent, err := mvccGetInternal(e, key, timestamp, consistent, txn)
	var intents []roachpb.Intent
	if intent != nil {
		intents = append(intents, *intent)
	}
	return value, intents, err
}

// MVCCPut sets the value for a specified key. It will save the value with
// different versions according to its timestamp and update the key metadata.
// The timestamp must be passed as a parameter; using the Timestamp field on
// the value results in an error.
//
// A WriteTooOldError is returned when the write is pushed above an existing
// newer version; the write still succeeds at the bumped timestamp carried
// in the error.
func MVCCPut(
	ctx context.Context,
	rw ReadWriter,
	key roachpb.Key,
	timestamp hlc.Timestamp,
	value roachpb.Value,
	txn *roachpb.Transaction,
) error {
	if !value.Timestamp.IsEmpty() {
		return errors.New("cannot have timestamp set in value")
	}
	return mvccPutInternal(ctx, rw, key, timestamp, value.RawBytes, txn)
}

// MVCCDelete marks the key deleted so that an MVCCGet of the key at or
// above the delete timestamp returns nil.
func MVCCDelete(
	ctx context.Context,
	rw ReadWriter,
	key roachpb.Key,
	timestamp hlc.Timestamp,
	txn *roachpb.Transaction,
) error {
	return mvccPutInternal(ctx, rw, key, timestamp, nil, txn)
}

func mvccPutInternal(
	ctx context.Context,
	rw ReadWriter,
	key roachpb.Key,
	timestamp hlc.Timestamp,
	rawBytes []byte,
	txn *roachpb.Transaction,
) error {
	if len(key) == 0 {
		return errors.New("attempted access to empty key")
	}

	meta, ok, err := getMetadata(rw, key)
	if err != nil {
		return err
	}

	writeTS := timestamp
	var wtoErr error

	if ok && meta.Txn != nil {
		if txn == nil || meta.Txn.ID != txn.Meta.ID {
			return &roachpb.WriteIntentError{Intents: []roachpb.Intent{{
				Span:   roachpb.Span{Key: key},
				Txn:    *meta.Txn,
				Status: roachpb.PENDING,
			}}}
		}
		// Writing on top of our own intent.
		if txn.Meta.Epoch < meta.Txn.Epoch {
			return &roachpb.TransactionRetryError{Reason: roachpb.RETRY_POSSIBLE_REPLAY}
		}
		if txn.Meta.Epoch == meta.Txn.Epoch && txn.Meta.Sequence <= meta.Txn.Sequence {
			// The intent was already written at this or a later sequence
			// number; this request is a replay.
			return &roachpb.TransactionRetryError{Reason: roachpb.RETRY_POSSIBLE_REPLAY}
		}
		// Replace the existing intent version.
		if err := rw.Clear(MVCCKey{Key: key, Timestamp: meta.Timestamp}); err != nil {
			return err
		}
	} else if ok && timestamp.LessEq(meta.Timestamp) {
		// The most recent version is newer than the write. The write is not
		// rejected: it goes in immediately above the existing version and
		// the error tells the transaction its timestamp was bumped.
		writeTS = meta.Timestamp.Next()
		wtoErr = &roachpb.WriteTooOldError{Timestamp: timestamp, ActualTimestamp: writeTS}
	}

	newMeta := MVCCMetadata{
		Timestamp: writeTS,
		Deleted:   rawBytes == nil,
	}
	if txn != nil {
		txnMeta := txn.Meta
		txnMeta.Timestamp = writeTS
		newMeta.Txn = &txnMeta
	}
	if err := putMetadata(rw, key, &newMeta); err != nil {
		return err
	}
	if err := rw.Put(MVCCKey{Key: key, Timestamp: writeTS}, rawBytes); err != nil {
		return err
	}
	return wtoErr
}

// MVCCScan scans the key range [key, endKey) in the provided engine up to
// some maximum number of results. Specify max=0 for unbounded scans.
//
// In consistent mode conflicting intents accumulate into a single
// WriteIntentError so that the caller can push all of the owners at once.
func MVCCScan(
	ctx context.Context,
	e Reader,
	key, endKey roachpb.Key,
	max int64,
	timestamp hlc.Timestamp,
	consistent bool,
	txn *roachpb.Transaction,
) ([]roachpb.KeyValue, []roachpb.Intent, error) {
	if len(endKey) == 0 {
		return nil, nil, errors.New("attempted scan with empty end key")
	}

	// Collect the distinct keys in the span off the metadata records.
	var keys []roachpb.Key
	err := e.Iterate(MakeMVCCMetadataKey(key), MakeMVCCMetadataKey(endKey),
		func(kv MVCCKeyValue) (bool, error) {
			if !kv.Key.IsValue() {
				keys = append(keys, kv.Key.Key)
			}
			return false, nil
		})
	if err != nil {
		return nil, nil, err
	}

	var res []roachpb.KeyValue
	var intents []roachpb.Intent
	for _, k := range keys {
		if max != 0 && int64(len(res)) >= max {
			break
		}
		value, intent, err := mvccGetInternal(e, k, timestamp, consistent, txn)
		if err != nil {
			var wiErr *roachpb.WriteIntentError
			if consistent && errors.As(err, &wiErr) {
				intents = append(intents, wiErr.Intents...)
				continue
			}
			return nil, nil, err
		}
		if intent != nil {
			intents = append(intents, *intent)
		}
		if value != nil {
			res = append(res, roachpb.KeyValue{Key: k, Value: *value})
		}
	}
	if consistent && len(intents) > 0 {
		return nil, nil, &roachpb.WriteIntentError{Intents: intents}
	}
	return res, intents, nil
}

// MVCCResolveWriteIntent either commits or aborts (rolls back) an extant
// write intent for a given txn according to commit parameter. Resolving an
// intent the engine no longer carries is a no-op, which makes resolution
// idempotent.
//
// Transaction epochs deserve a bit of explanation. The epoch for a
// transaction is incremented on transaction retries. A transaction retry
// is different from an abort. Retries can occur in SSI transactions when
// the commit timestamp is not equal to the proposed transaction timestamp.
// On a retry, the epoch is incremented instead of creating an entirely new
// transaction. This allows the intents that were written on previous runs
// to serve as locks which prevent concurrent reads from further incrementing
// the timestamp cache, making further transaction retries less likely.
func MVCCResolveWriteIntent(ctx context.Context, rw ReadWriter, intent roachpb.Intent) error {
	if len(intent.Span.Key) == 0 {
		return errors.New("attempted intent resolution on empty key")
	}
	return mvccResolveIntent(rw, intent.Span.Key, intent)
}

func mvccResolveIntent(rw ReadWriter, key roachpb.Key, intent roachpb.Intent) error {
	meta, ok, err := getMetadata(rw, key)
	if err != nil {
		return err
	}
	if !ok || meta.Txn == nil || meta.Txn.ID != intent.Txn.ID {
		return nil
	}

	commit := intent.Status == roachpb.COMMITTED && intent.Txn.Epoch == meta.Txn.Epoch
	pushed := intent.Status == roachpb.PENDING &&
		intent.Txn.Epoch == meta.Txn.Epoch &&
		meta.Txn.Timestamp.Less(intent.Txn.Timestamp)

	if commit || pushed {
		origTS := meta.Timestamp
		newTS := intent.Txn.Timestamp
		if !origTS.EqOrdering(newTS) {
			data, found, err := getVersionExact(rw, key, origTS)
			if err != nil {
				return err
			}
			if !found {
				return errors.Errorf("intent metadata for %s at %s without versioned value", key, origTS)
			}
			if err := rw.Clear(MVCCKey{Key: key, Timestamp: origTS}); err != nil {
				return err
			}
			if err := rw.Put(MVCCKey{Key: key, Timestamp: newTS}, data); err != nil {
				return err
			}
		}
		newMeta := MVCCMetadata{Timestamp: newTS, Deleted: meta.Deleted}
		if pushed {
			txnMeta := intent.Txn
			txnMeta.Timestamp = newTS
			newMeta.Txn = &txnMeta
		}
		return putMetadata(rw, key, &newMeta)
	}

	if intent.Status == roachpb.PENDING && intent.Txn.Epoch <= meta.Txn.Epoch {
		// A pending resolution with no timestamp change and no epoch advance
		// has nothing to do.
		return nil
	}

	// Aborted, or the intent belongs to a bygone epoch: remove the
	// provisional value and restore the key's previous state.
	if err := rw.Clear(MVCCKey{Key: key, Timestamp: meta.Timestamp}); err != nil {
		return err
	}
	kv, found, err := seekVersion(rw, key, hlc.MaxTimestamp)
	if err != nil {
		return err
	}
	if !found {
		return rw.Clear(MakeMVCCMetadataKey(key))
	}
	return putMetadata(rw, key, &MVCCMetadata{
		Timestamp: kv.Key.Timestamp,
		Deleted:   len(kv.Value) == 0,
	})
}

// MVCCResolveWriteIntentRange commits or aborts (rolls back) the range of
// write intents specified by start and end keys for a given txn. Returns
// the number of intents resolved; specify max=0 for no limit.
func MVCCResolveWriteIntentRange(
	ctx context.Context, rw ReadWriter, intent roachpb.Intent, max int64,
) (int64, error) {
	if len(intent.Span.EndKey) == 0 {
		return 0, errors.New("attempted intent range resolution with empty end key")
	}

	var keys []roachpb.Key
	err := rw.Iterate(
		MakeMVCCMetadataKey(intent.Span.Key), MakeMVCCMetadataKey(intent.Span.EndKey),
		func(kv MVCCKeyValue) (bool, error) {
			if kv.Key.IsValue() {
				return false, nil
			}
			meta, err := decodeMVCCMetadata(kv.Value)
			if err != nil {
				return false, err
			}
			if meta.Txn != nil && meta.Txn.ID == intent.Txn.ID {
				keys = append(keys, kv.Key.Key)
			}
			return max != 0 && int64(len(keys)) >= max, nil
		})
	if err != nil {
		return 0, err
	}

	var num int64
	for _, key := range keys {
		if err := mvccResolveIntent(rw, key, intent); err != nil {
			return num, err
		}
		num++
	}
	return num, nil
}
