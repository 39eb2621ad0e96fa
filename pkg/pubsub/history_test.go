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

import "testing"

func TestHistoryBufferEvictsOldestOnOverflow(t *testing.T) {
	pool, _, elemLayout := newTestPool(t, 8)
	bucketLayout, _ := SampleLayout(elemLayout, 1)
	h := NewHistoryBuffer(NewPublisherID(), 2, pool, elemLayout)

	offsets := make([]ChunkOffset, 3)
	for i := range offsets {
		ptr, err := pool.Allocate(bucketLayout)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		offsets[i] = ptr.Offset
		h.Push(ptr.Offset)
		// Drop the loan's own reference, as Publisher.send does after
		// Push, so history's borrow is the only one left.
		pool.Release(ptr.Offset, elemLayout)
	}

	if h.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", h.Len())
	}
	// The oldest entry (offsets[0]) should have been released by the
	// eviction; its sole remaining reference was history's own borrow.
	if got := pool.Count(offsets[0]); got != 0 {
		t.Fatalf("evicted entry refcount = %d, want 0 (deallocated)", got)
	}
	if got := pool.Count(offsets[1]); got != 1 {
		t.Fatalf("retained entry refcount = %d, want 1", got)
	}
	if got := pool.Count(offsets[2]); got != 1 {
		t.Fatalf("retained entry refcount = %d, want 1", got)
	}
}

func TestHistoryBufferReplayIntoDeliversOldestFirst(t *testing.T) {
	pool, _, elemLayout := newTestPool(t, 8)
	bucketLayout, _ := SampleLayout(elemLayout, 1)
	h := NewHistoryBuffer(NewPublisherID(), 3, pool, elemLayout)

	var pushed []ChunkOffset
	for i := 0; i < 3; i++ {
		ptr, _ := pool.Allocate(bucketLayout)
		pushed = append(pushed, ptr.Offset)
		h.Push(ptr.Offset)
	}

	sender, receiver := NewRingConnection(8, false)
	h.ReplayInto(sender, func(offset ChunkOffset, err error) {
		t.Fatalf("unexpected replay error for offset %d: %v", offset, err)
	})

	for _, want := range pushed {
		got, ok := receiver.Receive()
		if !ok || got != want {
			t.Fatalf("replayed order broken: got (%d, %v), want %d", got, ok, want)
		}
	}
}

func TestHistoryBufferDisabledWhenCapacityZero(t *testing.T) {
	pool, _, elemLayout := newTestPool(t, 4)
	bucketLayout, _ := SampleLayout(elemLayout, 1)
	h := NewHistoryBuffer(NewPublisherID(), 0, pool, elemLayout)

	ptr, _ := pool.Allocate(bucketLayout)
	h.Push(ptr.Offset)

	if h.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 for a zero-capacity history", h.Len())
	}
	if got := pool.Count(ptr.Offset); got != 1 {
		t.Fatalf("refcount = %d, want 1 (history must not borrow when disabled)", got)
	}
}

func TestHistoryBufferClearReleasesEverything(t *testing.T) {
	pool, _, elemLayout := newTestPool(t, 4)
	bucketLayout, _ := SampleLayout(elemLayout, 1)
	h := NewHistoryBuffer(NewPublisherID(), 2, pool, elemLayout)

	var pushed []ChunkOffset
	for i := 0; i < 2; i++ {
		ptr, _ := pool.Allocate(bucketLayout)
		pushed = append(pushed, ptr.Offset)
		h.Push(ptr.Offset)
		// Drop the loan's own reference so history holds the only one.
		pool.Release(ptr.Offset, elemLayout)
	}

	h.Clear()
	for _, offset := range pushed {
		if got := pool.Count(offset); got != 0 {
			t.Fatalf("offset %d refcount after Clear = %d, want 0", offset, got)
		}
	}
	if h.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", h.Len())
	}
}
