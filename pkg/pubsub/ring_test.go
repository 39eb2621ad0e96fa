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
	"testing"
	"time"
)

func TestRingTrySendReceiveFIFOOrder(t *testing.T) {
	sender, receiver := NewRingConnection(4, false)

	for i := ChunkOffset(0); i < 3; i++ {
		if _, err := sender.TrySend(i); err != nil {
			t.Fatalf("TrySend(%d): %v", i, err)
		}
	}

	for want := ChunkOffset(0); want < 3; want++ {
		got, ok := receiver.Receive()
		if !ok {
			t.Fatalf("Receive: ring unexpectedly empty before offset %d", want)
		}
		if got != want {
			t.Fatalf("Receive order broken: got %d, want %d", got, want)
		}
	}
	if _, ok := receiver.Receive(); ok {
		t.Fatalf("Receive should report empty after draining all sent offsets")
	}
}

func TestRingTrySendReceiveBufferFullWithoutOverflow(t *testing.T) {
	sender, _ := NewRingConnection(2, false)

	if _, err := sender.TrySend(1); err != nil {
		t.Fatalf("TrySend(1): %v", err)
	}
	if _, err := sender.TrySend(2); err != nil {
		t.Fatalf("TrySend(2): %v", err)
	}
	if _, err := sender.TrySend(3); err != SendErrorReceiveBufferFull {
		t.Fatalf("TrySend on a full non-overflow ring: err = %v, want SendErrorReceiveBufferFull", err)
	}
}

func TestRingTrySendDisplacesOldestUnderOverflow(t *testing.T) {
	sender, receiver := NewRingConnection(2, true)

	if _, err := sender.TrySend(1); err != nil {
		t.Fatalf("TrySend(1): %v", err)
	}
	if _, err := sender.TrySend(2); err != nil {
		t.Fatalf("TrySend(2): %v", err)
	}
	displaced, err := sender.TrySend(3)
	if err != nil {
		t.Fatalf("TrySend(3) on an overflow ring: %v", err)
	}
	if displaced == nil || *displaced != 1 {
		t.Fatalf("expected offset 1 to be displaced, got %v", displaced)
	}

	got, ok := receiver.Receive()
	if !ok || got != 2 {
		t.Fatalf("Receive() = (%d, %v), want (2, true)", got, ok)
	}
	got, ok = receiver.Receive()
	if !ok || got != 3 {
		t.Fatalf("Receive() = (%d, %v), want (3, true)", got, ok)
	}
}

func TestRingReclaimDrainsReturnedOffsets(t *testing.T) {
	sender, receiver := NewRingConnection(4, false)

	sender.TrySend(10)
	offset, _ := receiver.Receive()
	receiver.ReturnOffset(offset)

	got, err := sender.Reclaim()
	if err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	if got == nil || *got != 10 {
		t.Fatalf("Reclaim() = %v, want 10", got)
	}

	if got, _ := sender.Reclaim(); got != nil {
		t.Fatalf("Reclaim on an empty used-list should return nil, got %v", got)
	}
}

func TestRingAcquireUsedOffsetsCoversDeliveredAndReturned(t *testing.T) {
	sender, receiver := NewRingConnection(4, false)

	sender.TrySend(1)
	sender.TrySend(2)
	offset, _ := receiver.Receive()
	receiver.ReturnOffset(offset)

	seen := map[ChunkOffset]bool{}
	sender.AcquireUsedOffsets(func(o ChunkOffset) { seen[o] = true })

	if !seen[1] || !seen[2] {
		t.Fatalf("AcquireUsedOffsets missed entries, saw %v", seen)
	}
}

func TestRingBlockingSendUnblocksOnReceive(t *testing.T) {
	sender, receiver := NewRingConnection(1, false)
	sender.TrySend(1)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- sender.BlockingSend(ctx, 2)
	}()

	time.Sleep(10 * time.Millisecond)
	receiver.Receive()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("BlockingSend: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("BlockingSend did not unblock after room was freed")
	}
}

func TestRingCorruptFailsSubsequentSends(t *testing.T) {
	sender, receiver := NewRingConnection(2, false)
	receiver.Corrupt()

	if _, err := sender.TrySend(1); err != SendErrorConnectionCorrupted {
		t.Fatalf("TrySend after Corrupt: err = %v, want SendErrorConnectionCorrupted", err)
	}
}
