// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package storage

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/cockroachdb/kvcc/pkg/roachpb"
	"github.com/cockroachdb/kvcc/pkg/storage/engine"
	"github.com/cockroachdb/kvcc/pkg/storage/intentresolver"
	"github.com/cockroachdb/kvcc/pkg/util/hlc"
	"github.com/cockroachdb/kvcc/pkg/util/log"
	"github.com/cockroachdb/kvcc/pkg/util/syncutil"
)

// A Store ties together a collection of range replicas sharing an engine,
// a clock and the node liveness table. It routes transaction pushes and
// intent resolutions to the replica holding the addressed keys.
type Store struct {
	cfg            StoreConfig
	engine         engine.Engine
	liveness       *NodeLiveness
	metrics        *StoreMetrics
	intentResolver *intentresolver.IntentResolver

	mu struct {
		syncutil.RWMutex
		replicas map[roachpb.RangeID]*Replica
	}
}

var _ intentresolver.DB = (*Store)(nil)

// NewStore returns a new instance of a store.
func NewStore(cfg StoreConfig, eng engine.Engine) *Store {
	cfg.SetDefaults()
	s := &Store{cfg: cfg, engine: eng}
	s.liveness = NewNodeLiveness(cfg.Clock, cfg.LivenessDuration)
	s.metrics = newStoreMetrics(cfg.Registry)
	s.intentResolver = intentresolver.New(s, cfg.IntentResolverConcurrency)
	s.mu.replicas = make(map[roachpb.RangeID]*Replica)
	return s
}

// Clock returns the store's clock.
func (s *Store) Clock() *hlc.Clock { return s.cfg.Clock }

// Engine returns the store's engine.
func (s *Store) Engine() engine.Engine { return s.engine }

// NodeID returns the ID of the node this store runs on.
func (s *Store) NodeID() roachpb.NodeID { return s.cfg.NodeID }

// StoreID returns the store's ID.
func (s *Store) StoreID() roachpb.StoreID { return s.cfg.StoreID }

// Metrics returns the store's metrics.
func (s *Store) Metrics() *StoreMetrics { return s.metrics }

// NodeLiveness returns the liveness table.
func (s *Store) NodeLiveness() *NodeLiveness { return s.liveness }

// IntentResolver returns the store's intent resolver.
func (s *Store) IntentResolver() *intentresolver.IntentResolver { return s.intentResolver }

// CreateReplica creates a replica for the given initialized descriptor and
// registers it with the store.
func (s *Store) CreateReplica(
	ctx context.Context, desc *roachpb.RangeDescriptor,
) (*Replica, error) {
	if !desc.IsInitialized() {
		return nil, errors.Errorf("cannot create replica of uninitialized %s", desc)
	}
	r := newReplica(desc, s)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mu.replicas[desc.RangeID]; ok {
		return nil, errors.Errorf("replica of %s already exists", desc)
	}
	newSpan := roachpb.Span{Key: desc.StartKey, EndKey: desc.EndKey}
	for _, existing := range s.mu.replicas {
		exDesc := existing.Desc()
		if newSpan.Overlaps(roachpb.Span{Key: exDesc.StartKey, EndKey: exDesc.EndKey}) {
			return nil, errors.Errorf("replica of %s overlaps existing %s", desc, exDesc)
		}
	}
	s.mu.replicas[desc.RangeID] = r
	s.metrics.ReplicaCount.Inc(1)
	return r, nil
}

// GetReplica fetches a replica by range ID. Returns an error if no replica
// is found.
func (s *Store) GetReplica(rangeID roachpb.RangeID) (*Replica, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.mu.replicas[rangeID]; ok {
		return r, nil
	}
	return nil, &roachpb.RangeNotFoundError{RangeID: rangeID}
}

// LookupReplica returns the replica containing the given key, or nil.
func (s *Store) LookupReplica(key roachpb.Key) *Replica {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.mu.replicas {
		if r.ContainsKey(key) {
			return r
		}
	}
	return nil
}

// removeReplicaLocked unregisters the replica.
func (s *Store) removeReplicaLocked(rangeID roachpb.RangeID) {
	if _, ok := s.mu.replicas[rangeID]; ok {
		delete(s.mu.replicas, rangeID)
		s.metrics.ReplicaCount.Dec(1)
	}
}

// PushTxn routes a push to the range holding the pushee's record. Part of
// the intentresolver.DB interface.
func (s *Store) PushTxn(
	ctx context.Context, args roachpb.PushTxnRequest,
) (*roachpb.Transaction, error) {
	r := s.LookupReplica(args.PusheeTxn.Key)
	if r == nil {
		return nil, &roachpb.RangeKeyMismatchError{RequestStartKey: args.PusheeTxn.Key}
	}
	return r.PushTxn(ctx, args)
}

// ResolveIntent routes an intent resolution to the replicas covering the
// intent's span, clipping ranged intents at range boundaries. Part of the
// intentresolver.DB interface.
func (s *Store) ResolveIntent(ctx context.Context, intent roachpb.Intent) error {
	if len(intent.Span.EndKey) == 0 {
		r := s.LookupReplica(intent.Span.Key)
		if r == nil {
			return &roachpb.RangeKeyMismatchError{RequestStartKey: intent.Span.Key}
		}
		return r.ResolveIntent(ctx, intent)
	}

	s.mu.RLock()
	var targets []*Replica
	for _, r := range s.mu.replicas {
		desc := r.Desc()
		if intent.Span.Overlaps(roachpb.Span{Key: desc.StartKey, EndKey: desc.EndKey}) {
			targets = append(targets, r)
		}
	}
	s.mu.RUnlock()

	for _, r := range targets {
		desc := r.Desc()
		clipped := intent
		if clipped.Span.Key.Compare(desc.StartKey) < 0 {
			clipped.Span.Key = desc.StartKey
		}
		if clipped.Span.EndKey.Compare(desc.EndKey) > 0 {
			clipped.Span.EndKey = desc.EndKey
		}
		if err := r.ResolveIntent(ctx, clipped); err != nil {
			return err
		}
	}
	return nil
}

// GCTxnRecord garbage collects a finalized transaction record via the
// range anchoring it.
func (s *Store) GCTxnRecord(ctx context.Context, anchorKey roachpb.Key, txnID uuid.UUID) error {
	r := s.LookupReplica(anchorKey)
	if r == nil {
		return &roachpb.RangeKeyMismatchError{RequestStartKey: anchorKey}
	}
	return r.GCTxnRecord(ctx, txnID)
}

// applyCommitTrigger runs the side effect carried by a committing
// transaction.
func (s *Store) applyCommitTrigger(
	ctx context.Context, r *Replica, trigger *roachpb.InternalCommitTrigger,
) error {
	switch {
	case trigger.GetSplitTrigger() != nil:
		return s.splitRange(ctx, r, trigger.GetSplitTrigger())
	case trigger.GetMergeTrigger() != nil:
		return s.mergeRange(ctx, r, trigger.GetMergeTrigger())
	case trigger.GetChangeReplicasTrigger() != nil:
		return s.changeReplicas(ctx, r, trigger.GetChangeReplicasTrigger())
	case trigger.GetModifiedSpanTrigger() != nil:
		span := trigger.GetModifiedSpanTrigger().Span
		// Later reads of the span must not be served from state cached
		// before the modification.
		r.tsCache.Add(span.Key, span.EndKey, s.Clock().Now(), uuid.Nil, false)
		return nil
	default:
		return nil
	}
}

// splitRange installs the two descriptors of a committed split: the left
// hand replica shrinks to its new bounds and a right hand replica is
// created. The right hand side inherits the abort span entries, since both
// halves may carry intents of transactions aborted before the split.
func (s *Store) splitRange(ctx context.Context, left *Replica, st *roachpb.SplitTrigger) error {
	right := newReplica(&st.RightDesc, s)
	if _, err := left.abortSpan.CopyTo(ctx, s.engine, st.RightDesc.RangeID); err != nil {
		return err
	}
	// The new right hand replica keeps serving under the lease the left
	// hand side held across the split.
	right.mu.Lock()
	right.mu.lease = left.GetLease()
	right.mu.Unlock()

	left.setDesc(&st.LeftDesc)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mu.replicas[st.RightDesc.RangeID]; ok {
		return errors.Errorf("replica of %s already exists", &st.RightDesc)
	}
	s.mu.replicas[st.RightDesc.RangeID] = right
	s.metrics.ReplicaCount.Inc(1)
	log.Infof(ctx, "split %s at %s creating %s", left.RangeID, st.LeftDesc.EndKey, right.RangeID)
	return nil
}

// mergeRange subsumes the right hand range into the left hand range.
func (s *Store) mergeRange(ctx context.Context, left *Replica, mt *roachpb.MergeTrigger) error {
	rightID := mt.RightDesc.RangeID
	right, err := s.GetReplica(rightID)
	if err != nil {
		return err
	}
	// The subsumed range's abort span entries move to the survivor.
	if _, err := right.abortSpan.CopyTo(ctx, s.engine, mt.LeftDesc.RangeID); err != nil {
		return err
	}
	left.setDesc(&mt.LeftDesc)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeReplicaLocked(rightID)
	log.Infof(ctx, "merged %s into %s", rightID, left.RangeID)
	return nil
}

// changeReplicas installs the updated replica set.
func (s *Store) changeReplicas(
	ctx context.Context, r *Replica, ct *roachpb.ChangeReplicasTrigger,
) error {
	old := r.Desc()
	desc := *old
	desc.Replicas = append([]roachpb.ReplicaDescriptor(nil), ct.UpdatedReplicas...)
	if ct.NextReplicaID != 0 {
		desc.NextReplicaID = ct.NextReplicaID
	}
	r.setDesc(&desc)
	log.Infof(ctx, "%s replicas: %s %s; now %d replicas",
		r.RangeID, ct.ChangeType, ct.Replica, len(desc.Replicas))
	return nil
}
