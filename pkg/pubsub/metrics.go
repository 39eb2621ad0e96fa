// Copyright (c) 2024 Contributors to the Eclipse Foundation
//
// See the NOTICE file(s) distributed with this work for additional
// information regarding copyright ownership.
//
// This program and the accompanying materials are made available under the
// terms of the Apache Software License 2.0 which is available at
// https://www.apache.org/licenses/LICENSE-2.0, or the MIT license
// which is available at https://opensource.org/licenses/MIT.
//
// SPDX-License-Identifier: Apache-2.0 OR MIT

package pubsub

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the Prometheus instrumentation surface for a single
// Publisher. Each Publisher owns its own set of label values (keyed by
// publisher id) against shared collectors, so creating many Publisher
// instances in the same process (as the test suite does) never
// triggers a duplicate-registration panic.
var (
	loanedSamples = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pubsub",
		Name:      "loaned_samples",
		Help:      "Samples currently loaned to user code but not yet sent or released.",
	}, []string{"publisher_id"})

	chunksDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pubsub",
		Name:      "chunks_delivered_total",
		Help:      "Chunks successfully enqueued into a subscriber connection.",
	}, []string{"publisher_id"})

	chunksDiscarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pubsub",
		Name:      "chunks_discarded_total",
		Help:      "Chunks dropped because a subscriber's ring had no room under DiscardSample.",
	}, []string{"publisher_id"})

	chunksDisplaced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pubsub",
		Name:      "chunks_displaced_total",
		Help:      "Chunks evicted from a subscriber's overflow-enabled ring by a newer delivery.",
	}, []string{"publisher_id"})

	chunksReclaimed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pubsub",
		Name:      "chunks_reclaimed_total",
		Help:      "Chunks returned from a subscriber connection and released back to the pool.",
	}, []string{"publisher_id"})

	historyEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pubsub",
		Name:      "history_evictions_total",
		Help:      "History buffer entries evicted to make room for a newer sample.",
	}, []string{"publisher_id"})

	reconcileFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pubsub",
		Name:      "reconcile_failures_total",
		Help:      "Subscriber connections that could not be created during reconciliation.",
	}, []string{"publisher_id"})

	connectedSubscribers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pubsub",
		Name:      "connected_subscribers",
		Help:      "Subscriber slots currently occupied.",
	}, []string{"publisher_id"})
)

func init() {
	prometheus.MustRegister(
		loanedSamples,
		chunksDelivered,
		chunksDiscarded,
		chunksDisplaced,
		chunksReclaimed,
		historyEvictions,
		reconcileFailures,
		connectedSubscribers,
	)
}
