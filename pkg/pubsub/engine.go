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

import "context"

// DeliveryEngine drives the per-sample reclaim/deliver cycle against a
// ConnectionTable and chunk pool: reclaiming chunks subscribers have
// returned, then delivering a freshly sent chunk to every connection
// according to the configured UnableToDeliverStrategy.
type DeliveryEngine struct {
	publisherID PublisherID
	static      ServiceStaticConfig
	pool        *ReferenceCountedChunkPool
	table       *ConnectionTable
	payload     Layout
	strategy    UnableToDeliverStrategy
	degradation DegradationCallback
}

// NewDeliveryEngine wires an engine against its collaborators.
func NewDeliveryEngine(publisherID PublisherID, static ServiceStaticConfig, pool *ReferenceCountedChunkPool, table *ConnectionTable, payloadLayout Layout, strategy UnableToDeliverStrategy, degradation DegradationCallback) *DeliveryEngine {
	return &DeliveryEngine{
		publisherID: publisherID,
		static:      static,
		pool:        pool,
		table:       table,
		payload:     payloadLayout,
		strategy:    strategy,
		degradation: degradation,
	}
}

// Reclaim drains every connection's reclaim queue, releasing each
// returned chunk back through the pool. Called before every delivery
// and exposed for periodic housekeeping (a connection whose subscriber
// stopped reclaiming would otherwise only be drained on the next send).
func (e *DeliveryEngine) Reclaim() {
	e.table.ForEachConnected(func(_ int, conn *Connection) {
		for {
			offset, err := conn.Sender.Reclaim()
			if err != nil {
				log.Warn().
					Str("publisher_id", e.publisherID.String()).
					Str("subscriber_id", conn.SubscriberID.String()).
					Err(err).
					Msg("unable to reclaim samples from connection")
				return
			}
			if offset == nil {
				return
			}
			e.pool.Release(*offset, e.payload)
			chunksReclaimed.WithLabelValues(e.publisherID.String()).Inc()
		}
	})
}

// Deliver reclaims outstanding chunks, then hands offset to every
// connected subscriber per the configured delivery strategy. It
// returns the number of subscribers the chunk reached and, for Block
// strategy, can be canceled via ctx.
func (e *DeliveryEngine) Deliver(ctx context.Context, offset ChunkOffset) (int, error) {
	e.Reclaim()

	recipients := 0
	var firstFailure *ConnectionFailure
	e.table.ForEachConnected(func(_ int, conn *Connection) {
		var displaced *ChunkOffset
		var err error
		switch e.strategy {
		case UnableToDeliverStrategyBlock:
			err = conn.Sender.BlockingSend(ctx, offset)
		default:
			displaced, err = conn.Sender.TrySend(offset)
		}

		switch {
		case err == nil:
			e.pool.Borrow(offset)
			recipients++
			chunksDelivered.WithLabelValues(e.publisherID.String()).Inc()
			if displaced != nil {
				e.pool.Release(*displaced, e.payload)
				chunksDisplaced.WithLabelValues(e.publisherID.String()).Inc()
			}
		case err == SendErrorReceiveBufferFull || err == SendErrorUsedChunkListFull:
			chunksDiscarded.WithLabelValues(e.publisherID.String()).Inc()
		case err == SendErrorConnectionCorrupted:
			if failure := e.handleCorruption(conn.SubscriberID, err); failure != nil && firstFailure == nil {
				firstFailure = failure
			}
		default:
			if firstFailure == nil {
				firstFailure = &ConnectionFailure{Subscriber: conn.SubscriberID, Cause: err}
			}
		}
	})
	if firstFailure != nil {
		return recipients, &PublisherSendError{ConnErr: firstFailure}
	}
	return recipients, nil
}

func (e *DeliveryEngine) handleCorruption(subscriber SubscriberID, cause error) *ConnectionFailure {
	action := DegradationWarn
	if e.degradation != nil {
		action = e.degradation(e.static, e.publisherID, subscriber)
	}
	switch action {
	case DegradationIgnore:
		return nil
	case DegradationFail:
		return &ConnectionFailure{Subscriber: subscriber, Cause: cause}
	default:
		if defaultWarnThrottle.Allow(subscriber) {
			log.Error().
				Str("publisher_id", e.publisherID.String()).
				Str("subscriber_id", subscriber.String()).
				Err(cause).
				Msg("corrupted connection detected while delivering sample")
		}
		return nil
	}
}
