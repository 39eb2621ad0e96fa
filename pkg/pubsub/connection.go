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

// Sender is the publisher-facing half of the zero-copy connection,
// modeled as an interface so the reconciler and the send/reclaim
// engine never depend on a concrete ring implementation. RingSender in
// ring.go is this module's one concrete implementation.
type Sender interface {
	// TrySend enqueues offset without blocking. On an overflow-enabled
	// ring it may return the displaced offset instead of an error.
	TrySend(offset ChunkOffset) (displaced *ChunkOffset, err error)
	// BlockingSend enqueues offset, waiting for room if necessary.
	BlockingSend(ctx context.Context, offset ChunkOffset) error
	// Reclaim pops the next offset the subscriber has released, or
	// returns (nil, nil) when there is nothing to reclaim.
	Reclaim() (*ChunkOffset, error)
	// AcquireUsedOffsets invokes f for every offset this sender has
	// delivered but that has not yet been reclaimed — used when a
	// subscriber is removed so its outstanding chunks can still be
	// released without its cooperation.
	AcquireUsedOffsets(f func(ChunkOffset))
}

// ConnectionFactory builds the Sender half of a connection to a newly
// observed subscriber. bufferSize is the subscriber's own ring
// capacity, reported through the dynamic subscriber registry.
type ConnectionFactory func(publisher PublisherID, subscriber SubscriberID, bufferSize uint64) (Sender, error)

// Connection pairs a subscriber's identity with the Sender bound to it.
type Connection struct {
	SubscriberID SubscriberID
	Sender       Sender
}

// ConnectionTable is the fixed-capacity subscriber connection table:
// slot index is stable across reconciliations until the subscriber at
// that slot disconnects.
type ConnectionTable struct {
	slots   []*Connection
	factory ConnectionFactory
	pool    *ReferenceCountedChunkPool
	payload Layout
}

// NewConnectionTable allocates a table with capacity slots.
func NewConnectionTable(capacity uint64, factory ConnectionFactory, pool *ReferenceCountedChunkPool, payloadLayout Layout) *ConnectionTable {
	return &ConnectionTable{
		slots:   make([]*Connection, capacity),
		factory: factory,
		pool:    pool,
		payload: payloadLayout,
	}
}

// Capacity returns the number of slots in the table.
func (t *ConnectionTable) Capacity() int { return len(t.slots) }

// Get returns the connection at slot i, or nil if the slot is empty.
func (t *ConnectionTable) Get(i int) *Connection {
	if i < 0 || i >= len(t.slots) {
		return nil
	}
	return t.slots[i]
}

// Create opens slot i for subscriber sub with the given ring buffer
// size. The slot must be empty; callers (the reconciler) are
// responsible for calling Remove first if it is occupied by someone
// else.
func (t *ConnectionTable) Create(i int, pub PublisherID, sub SubscriberID, bufferSize uint64) error {
	if i < 0 || i >= len(t.slots) {
		return ErrSlotOutOfRange
	}
	sender, err := t.factory(pub, sub, bufferSize)
	if err != nil {
		return err
	}
	t.slots[i] = &Connection{SubscriberID: sub, Sender: sender}
	return nil
}

// Remove reclaims every chunk the departing subscriber held via
// AcquireUsedOffsets, releasing each back through the pool, then
// clears the slot. This must happen before the slot can be reused by a
// different subscriber, and it works even if the subscriber process
// has already died, since AcquireUsedOffsets only consults the
// sender's own bookkeeping.
func (t *ConnectionTable) Remove(i int) {
	if i < 0 || i >= len(t.slots) {
		return
	}
	conn := t.slots[i]
	if conn == nil {
		return
	}
	conn.Sender.AcquireUsedOffsets(func(offset ChunkOffset) {
		t.pool.Release(offset, t.payload)
	})
	t.slots[i] = nil
}

// ForEachConnected invokes f for every occupied slot, in slot order.
func (t *ConnectionTable) ForEachConnected(f func(i int, conn *Connection)) {
	for i, c := range t.slots {
		if c != nil {
			f(i, c)
		}
	}
}

// Count returns the number of occupied slots.
func (t *ConnectionTable) Count() int {
	n := 0
	for _, c := range t.slots {
		if c != nil {
			n++
		}
	}
	return n
}
