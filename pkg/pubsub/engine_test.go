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

import (
	"context"
	"errors"
	"testing"
)

func newTestEngine(t *testing.T, strategy UnableToDeliverStrategy, degradation DegradationCallback) (*DeliveryEngine, *ConnectionTable, *ReferenceCountedChunkPool, Layout) {
	t.Helper()
	pool, _, elemLayout := newTestPool(t, 8)
	// Overflow is a property of the subscriber's ring, orthogonal to the
	// delivery strategy: DiscardSample relies on a non-overflow ring so a
	// full ring fails with SendErrorReceiveBufferFull instead of
	// displacing the oldest entry.
	factory := DefaultConnectionFactory(false)
	table := NewConnectionTable(4, factory, pool, elemLayout)
	static := ServiceStaticConfig{}
	engine := NewDeliveryEngine(NewPublisherID(), static, pool, table, elemLayout, strategy, degradation)
	return engine, table, pool, elemLayout
}

func TestDeliveryEngineDeliverBorrowsPerRecipient(t *testing.T) {
	engine, table, pool, elemLayout := newTestEngine(t, UnableToDeliverStrategyDiscardSample, nil)
	bucketLayout, _ := SampleLayout(elemLayout, 1)

	if err := table.Create(0, NewPublisherID(), NewSubscriberID(), 4); err != nil {
		t.Fatalf("Create slot 0: %v", err)
	}
	if err := table.Create(1, NewPublisherID(), NewSubscriberID(), 4); err != nil {
		t.Fatalf("Create slot 1: %v", err)
	}

	ptr, err := pool.Allocate(bucketLayout)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	recipients, err := engine.Deliver(context.Background(), ptr.Offset)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if recipients != 2 {
		t.Fatalf("recipients = %d, want 2", recipients)
	}
	if got := pool.Count(ptr.Offset); got != 3 {
		t.Fatalf("refcount after delivering to 2 subscribers = %d, want 3 (1 own + 2 borrows)", got)
	}
}

func TestDeliveryEngineDiscardsWhenBufferFull(t *testing.T) {
	engine, table, pool, elemLayout := newTestEngine(t, UnableToDeliverStrategyDiscardSample, nil)
	bucketLayout, _ := SampleLayout(elemLayout, 1)

	if err := table.Create(0, NewPublisherID(), NewSubscriberID(), 1); err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, _ := pool.Allocate(bucketLayout)
	if _, err := engine.Deliver(context.Background(), first.Offset); err != nil {
		t.Fatalf("Deliver (1st): %v", err)
	}

	second, _ := pool.Allocate(bucketLayout)
	recipients, err := engine.Deliver(context.Background(), second.Offset)
	if err != nil {
		t.Fatalf("Deliver (2nd): %v", err)
	}
	if recipients != 0 {
		t.Fatalf("recipients = %d, want 0 (ring already full, no overflow)", recipients)
	}
	if got := pool.Count(second.Offset); got != 1 {
		t.Fatalf("discarded sample refcount = %d, want 1 (own reference only)", got)
	}
}

func TestDeliveryEngineReclaimReleasesReturnedChunks(t *testing.T) {
	engine, table, pool, elemLayout := newTestEngine(t, UnableToDeliverStrategyDiscardSample, nil)
	bucketLayout, _ := SampleLayout(elemLayout, 1)

	if err := table.Create(0, NewPublisherID(), NewSubscriberID(), 4); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ptr, _ := pool.Allocate(bucketLayout)
	if _, err := engine.Deliver(context.Background(), ptr.Offset); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	conn := table.Get(0)
	ringSender, ok := conn.Sender.(*RingSender)
	if !ok {
		t.Fatalf("expected a *RingSender, got %T", conn.Sender)
	}
	receiver := &RingReceiver{r: ringSender.r}
	offset, ok := receiver.Receive()
	if !ok || offset != ptr.Offset {
		t.Fatalf("Receive() = (%d, %v), want (%d, true)", offset, ok, ptr.Offset)
	}
	receiver.ReturnOffset(offset)

	engine.Reclaim()
	if got := pool.Count(ptr.Offset); got != 1 {
		t.Fatalf("refcount after reclaim = %d, want 1 (own reference only)", got)
	}
}

func TestDeliveryEngineCorruptionInvokesDegradationCallback(t *testing.T) {
	var invoked bool
	degradation := func(_ ServiceStaticConfig, _ PublisherID, _ SubscriberID) DegradationAction {
		invoked = true
		return DegradationFail
	}
	engine, table, pool, elemLayout := newTestEngine(t, UnableToDeliverStrategyDiscardSample, degradation)
	bucketLayout, _ := SampleLayout(elemLayout, 1)

	if err := table.Create(0, NewPublisherID(), NewSubscriberID(), 4); err != nil {
		t.Fatalf("Create: %v", err)
	}
	conn := table.Get(0)
	ringSender := conn.Sender.(*RingSender)
	receiver := &RingReceiver{r: ringSender.r}
	receiver.Corrupt()

	ptr, _ := pool.Allocate(bucketLayout)
	_, err := engine.Deliver(context.Background(), ptr.Offset)
	if err == nil {
		t.Fatalf("Deliver against a corrupted connection with Fail policy should return an error")
	}
	if !invoked {
		t.Fatalf("expected the degradation callback to be invoked")
	}
	var sendErr *PublisherSendError
	if !errors.As(err, &sendErr) || sendErr.ConnErr == nil {
		t.Fatalf("Deliver error = %v, want *PublisherSendError wrapping a *ConnectionFailure", err)
	}
}
