// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package engine provides the low-level multi-version storage layer: a
// sorted key-value engine addressed by MVCCKey, and the MVCC operations
// (get, put, scan, delete, intent resolution) layered on top of it.
package engine

import (
	"github.com/cockroachdb/kvcc/pkg/roachpb"
	"github.com/cockroachdb/kvcc/pkg/util/hlc"
)

// MVCCKey is a versioned key. Storage sorts keys ascending and, within a
// key, timestamps descending, with the unversioned metadata record (zero
// timestamp) first. Thus a forward iteration over a key's records visits
// the metadata, then versions from newest to oldest.
type MVCCKey struct {
	Key       roachpb.Key
	Timestamp hlc.Timestamp
}

// MakeMVCCMetadataKey creates an unversioned MVCCKey from a roachpb.Key.
func MakeMVCCMetadataKey(key roachpb.Key) MVCCKey {
	return MVCCKey{Key: key}
}

// IsValue returns true iff the timestamp is non-zero, that is the key
// addresses a versioned value rather than the metadata record.
func (k MVCCKey) IsValue() bool {
	return !k.Timestamp.IsEmpty()
}

// Less compares two keys in storage order.
func (k MVCCKey) Less(l MVCCKey) bool {
	if c := k.Key.Compare(l.Key); c != 0 {
		return c < 0
	}
	if !k.IsValue() {
		return l.IsValue()
	} else if !l.IsValue() {
		return false
	}
	// Versions sort newest first.
	return l.Timestamp.Less(k.Timestamp)
}

// Equal returns whether two keys are identical.
func (k MVCCKey) Equal(l MVCCKey) bool {
	return k.Key.Equal(l.Key) && k.Timestamp.EqOrdering(l.Timestamp)
}

// String implements the fmt.Stringer interface.
func (k MVCCKey) String() string {
	if !k.IsValue() {
		return k.Key.String()
	}
	return k.Key.String() + "/" + k.Timestamp.String()
}

// MVCCKeyValue is a raw engine key-value pair.
type MVCCKeyValue struct {
	Key   MVCCKey
	Value []byte
}

// Reader is the read interface to the engine.
type Reader interface {
	// Get returns the value for the given key, nil otherwise.
	Get(key MVCCKey) ([]byte, error)
	// Iterate scans from start up to end keys, invoking f on each key-value
	// pair. The function can return true to stop iteration early.
	Iterate(start, end MVCCKey, f func(MVCCKeyValue) (stop bool, err error)) error
}

// Writer is the write interface to the engine.
type Writer interface {
	// Put sets the given key to the value provided.
	Put(key MVCCKey, value []byte) error
	// Clear removes the item from the db with the given key.
	Clear(key MVCCKey) error
}

// ReadWriter is the read/write interface to the engine.
type ReadWriter interface {
	Reader
	Writer
}

// Engine is the interface that wraps the core operations of a key/value
// store.
type Engine interface {
	ReadWriter
	// Close closes the engine, freeing up any outstanding resources.
	Close()
}
