// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package storage

import (
	"time"

	"github.com/cockroachdb/kvcc/pkg/roachpb"
	"github.com/cockroachdb/kvcc/pkg/util/hlc"
	"github.com/cockroachdb/kvcc/pkg/util/metric"
)

const (
	// DefaultHeartbeatInterval is how often heartbeats are sent from the
	// transaction coordinator to a live transaction. A transaction whose
	// heartbeat is older than twice this interval is considered abandoned
	// and may be aborted by any pusher.
	DefaultHeartbeatInterval = 5 * time.Second

	// DefaultLeaseDuration is the duration of expiration-based range leases.
	DefaultLeaseDuration = 9 * time.Second

	// DefaultLivenessDuration is the validity window of a node liveness
	// heartbeat, which bounds epoch-based leases.
	DefaultLivenessDuration = 9 * time.Second
)

// A StoreConfig encompasses the auxiliary objects and configuration
// required to create a store.
type StoreConfig struct {
	Clock    *hlc.Clock
	NodeID   roachpb.NodeID
	StoreID  roachpb.StoreID
	Registry *metric.Registry

	// HeartbeatInterval governs transaction abandonment: records not
	// heartbeat within twice this interval may be pushed by anyone.
	HeartbeatInterval time.Duration
	// LeaseDuration is the term of expiration-based leases.
	LeaseDuration time.Duration
	// LivenessDuration is the term of a node liveness heartbeat.
	LivenessDuration time.Duration
	// EnableEpochLeases makes new leases epoch-based on node liveness
	// instead of expiration-based.
	EnableEpochLeases bool
	// IntentResolverConcurrency bounds asynchronous intent cleanup tasks.
	IntentResolverConcurrency int64
}

// SetDefaults initializes unset fields.
func (sc *StoreConfig) SetDefaults() {
	if sc.HeartbeatInterval == 0 {
		sc.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if sc.LeaseDuration == 0 {
		sc.LeaseDuration = DefaultLeaseDuration
	}
	if sc.LivenessDuration == 0 {
		sc.LivenessDuration = DefaultLivenessDuration
	}
	if sc.IntentResolverConcurrency == 0 {
		sc.IntentResolverConcurrency = 100
	}
	if sc.Registry == nil {
		sc.Registry = metric.NewRegistry()
	}
}

// TxnAbandonmentThreshold is the staleness of a transaction heartbeat
// beyond which the transaction counts as abandoned.
func (sc *StoreConfig) TxnAbandonmentThreshold() time.Duration {
	return 2 * sc.HeartbeatInterval
}
