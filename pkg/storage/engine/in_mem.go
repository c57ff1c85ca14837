// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package engine

import (
	"github.com/google/btree"

	"github.com/cockroachdb/kvcc/pkg/util/syncutil"
)

// item wraps an MVCCKeyValue for storage in the btree.
type item struct {
	MVCCKeyValue
}

func (i *item) Less(other btree.Item) bool {
	return i.Key.Less(other.(*item).Key)
}

// InMem is an in-memory engine backed by a btree, used for the range data
// of stores in tests and for ranges that have not been persisted.
type InMem struct {
	mu   syncutil.RWMutex
	tree *btree.BTree
}

var _ Engine = (*InMem)(nil)

// NewInMem allocates and returns a new, opened InMem engine.
func NewInMem() *InMem {
	return &InMem{tree: btree.New(32)}
}

// Get implements the Reader interface.
func (in *InMem) Get(key MVCCKey) ([]byte, error) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if it := in.tree.Get(&item{MVCCKeyValue{Key: key}}); it != nil {
		return it.(*item).Value, nil
	}
	return nil, nil
}

// Iterate implements the Reader interface.
func (in *InMem) Iterate(start, end MVCCKey, f func(MVCCKeyValue) (bool, error)) error {
	in.mu.RLock()
	defer in.mu.RUnlock()
	var err error
	in.tree.AscendRange(&item{MVCCKeyValue{Key: start}}, &item{MVCCKeyValue{Key: end}},
		func(it btree.Item) bool {
			var stop bool
			stop, err = f(it.(*item).MVCCKeyValue)
			return !stop && err == nil
		})
	return err
}

// Put implements the Writer interface. The value is copied so that the
// caller may reuse its buffer.
func (in *InMem) Put(key MVCCKey, value []byte) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.tree.ReplaceOrInsert(&item{MVCCKeyValue{
		Key:   key,
		Value: append([]byte(nil), value...),
	}})
	return nil
}

// Clear implements the Writer interface.
func (in *InMem) Clear(key MVCCKey) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.tree.Delete(&item{MVCCKeyValue{Key: key}})
	return nil
}

// Close implements the Engine interface.
func (in *InMem) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.tree = btree.New(32)
}
