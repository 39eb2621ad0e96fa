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

// Reconciler keeps a ConnectionTable in sync with the subscriber set
// reported by a SubscriberRegistry: creating connections for newly
// observed subscribers, tearing down connections whose subscriber has
// withdrawn or been replaced, and replaying retained history into
// every freshly created connection.
type Reconciler struct {
	publisherID PublisherID
	static      ServiceStaticConfig
	registry    SubscriberRegistry
	table       *ConnectionTable
	history     *HistoryBuffer
	degradation DegradationCallback
}

// NewReconciler wires a reconciler against its collaborators.
// degradation may be nil, in which case connection-creation failures
// are only logged.
func NewReconciler(publisherID PublisherID, static ServiceStaticConfig, registry SubscriberRegistry, table *ConnectionTable, history *HistoryBuffer, degradation DegradationCallback) *Reconciler {
	return &Reconciler{
		publisherID: publisherID,
		static:      static,
		registry:    registry,
		table:       table,
		history:     history,
		degradation: degradation,
	}
}

// Populate reconciles the connection table against the registry's
// current snapshot in one pass, regardless of whether the snapshot has
// changed since the last call. It is the first reconciliation a
// publisher runs at construction time, before it has a version cursor
// to compare against.
func (r *Reconciler) Populate() error {
	visited := make([]*SubscriberDetails, r.table.Capacity())
	r.registry.ForEach(func(slot int, details SubscriberDetails) {
		if slot < 0 || slot >= len(visited) {
			return
		}
		d := details
		visited[slot] = &d
	})

	for slot, details := range visited {
		if details == nil {
			r.table.Remove(slot)
			continue
		}

		existing := r.table.Get(slot)
		createConnection := existing == nil
		if existing != nil && existing.SubscriberID != details.SubscriberID {
			r.table.Remove(slot)
			createConnection = true
		}
		if !createConnection {
			continue
		}

		if err := r.table.Create(slot, r.publisherID, details.SubscriberID, details.BufferSize); err != nil {
			reconcileFailures.WithLabelValues(r.publisherID.String()).Inc()
			if failure := r.handleConnectionFailure(details.SubscriberID, err); failure != nil {
				return failure
			}
			continue
		}
		conn := r.table.Get(slot)
		if conn != nil && r.history != nil {
			r.history.ReplayInto(conn.Sender, func(offset ChunkOffset, err error) {
				log.Warn().
					Str("publisher_id", r.publisherID.String()).
					Str("subscriber_id", details.SubscriberID.String()).
					Uint64("offset", uint64(offset)).
					Err(err).
					Msg("failed to replay history sample to new subscriber")
			})
		}
	}
	connectedSubscribers.WithLabelValues(r.publisherID.String()).Set(float64(r.table.Count()))
	return nil
}

// handleConnectionFailure consults the degradation callback and
// returns a non-nil error only when the policy escalates to Fail,
// matching the way the connection-creation failure path aborts
// reconciliation early in the original algorithm.
func (r *Reconciler) handleConnectionFailure(subscriber SubscriberID, cause error) error {
	action := DegradationWarn
	if r.degradation != nil {
		action = r.degradation(r.static, r.publisherID, subscriber)
	}
	switch action {
	case DegradationIgnore:
		return nil
	case DegradationFail:
		return &ConnectionFailure{Subscriber: subscriber, Cause: cause}
	default:
		if defaultWarnThrottle.Allow(subscriber) {
			log.Warn().
				Str("publisher_id", r.publisherID.String()).
				Str("subscriber_id", subscriber.String()).
				Err(cause).
				Msg("unable to establish connection to new subscriber")
		}
		return nil
	}
}

// UpdateConnections reconciles only if the registry's version cursor
// has advanced since the last call, returning a ConnectionFailure when
// Populate fails and the degradation callback escalated to Fail.
func (r *Reconciler) UpdateConnections(cursor *RegistryCursor) error {
	if !r.registry.UpdateState(cursor) {
		return nil
	}
	return r.Populate()
}
