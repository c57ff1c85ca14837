// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package storage

import "github.com/cockroachdb/kvcc/pkg/util/metric"

var (
	metaReplicaCount = metric.Metadata{
		Name: "replicas",
		Help: "Number of replicas hosted by the store"}
	metaLeaseRequestSuccess = metric.Metadata{
		Name: "leases.success",
		Help: "Number of successful lease requests"}
	metaLeaseRequestError = metric.Metadata{
		Name: "leases.error",
		Help: "Number of failed lease requests"}
	metaLeaseTransferCount = metric.Metadata{
		Name: "leases.transfers",
		Help: "Number of lease transfers"}
	metaTxnCommitCount = metric.Metadata{
		Name: "txn.commits",
		Help: "Number of committed transactions"}
	metaTxnAbortCount = metric.Metadata{
		Name: "txn.aborts",
		Help: "Number of aborted transactions"}
	metaTxnRetryCount = metric.Metadata{
		Name: "txn.retries",
		Help: "Number of transactions returned for retry at commit"}
	metaPushSuccessCount = metric.Metadata{
		Name: "txn.push.success",
		Help: "Number of pushes that succeeded against the pushee"}
	metaPushFailureCount = metric.Metadata{
		Name: "txn.push.failure",
		Help: "Number of pushes lost to a higher priority pushee"}
	metaIntentResolutions = metric.Metadata{
		Name: "intents.resolved",
		Help: "Number of intents resolved"}
	metaAbortSpanHits = metric.Metadata{
		Name: "abortspan.hits",
		Help: "Number of operations rejected by an abort span entry"}
)

// StoreMetrics is the set of metrics maintained by a store.
type StoreMetrics struct {
	ReplicaCount        *metric.Gauge
	LeaseRequestSuccess *metric.Counter
	LeaseRequestError   *metric.Counter
	LeaseTransferCount  *metric.Counter
	TxnCommitCount      *metric.Counter
	TxnAbortCount       *metric.Counter
	TxnRetryCount       *metric.Counter
	PushSuccessCount    *metric.Counter
	PushFailureCount    *metric.Counter
	IntentResolutions   *metric.Counter
	AbortSpanHits       *metric.Counter
}

func newStoreMetrics(registry *metric.Registry) *StoreMetrics {
	sm := &StoreMetrics{
		ReplicaCount:        metric.NewGauge(metaReplicaCount),
		LeaseRequestSuccess: metric.NewCounter(metaLeaseRequestSuccess),
		LeaseRequestError:   metric.NewCounter(metaLeaseRequestError),
		LeaseTransferCount:  metric.NewCounter(metaLeaseTransferCount),
		TxnCommitCount:      metric.NewCounter(metaTxnCommitCount),
		TxnAbortCount:       metric.NewCounter(metaTxnAbortCount),
		TxnRetryCount:       metric.NewCounter(metaTxnRetryCount),
		PushSuccessCount:    metric.NewCounter(metaPushSuccessCount),
		PushFailureCount:    metric.NewCounter(metaPushFailureCount),
		IntentResolutions:   metric.NewCounter(metaIntentResolutions),
		AbortSpanHits:       metric.NewCounter(metaAbortSpanHits),
	}
	registry.AddMetric(sm.ReplicaCount)
	registry.AddMetric(sm.LeaseRequestSuccess)
	registry.AddMetric(sm.LeaseRequestError)
	registry.AddMetric(sm.LeaseTransferCount)
	registry.AddMetric(sm.TxnCommitCount)
	registry.AddMetric(sm.TxnAbortCount)
	registry.AddMetric(sm.TxnRetryCount)
	registry.AddMetric(sm.PushSuccessCount)
	registry.AddMetric(sm.PushFailureCount)
	registry.AddMetric(sm.IntentResolutions)
	registry.AddMetric(sm.AbortSpanHits)
	return sm
}
