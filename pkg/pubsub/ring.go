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
	"sync"
	"sync/atomic"
)

// Ring is this module's one concrete implementation of the zero-copy
// connection: a fixed-capacity single-producer/single-consumer ring of
// chunk offsets. RingSender is the publisher-facing half; RingReceiver
// is the subscriber-facing half a standalone subscriber port would use.
//
// The ring's head/tail indices are plain atomics with Relaxed loads
// and Release/Acquire stores on publish/consume: that release/acquire
// pair establishes the happens-before edge between a payload write and
// any subscriber's observation of the chunk offset — everything below
// this layer (the reference counters) can stay Relaxed because of it.
type Ring struct {
	capacity uint64
	overflow bool
	buf      []atomic.Uint64 // stores offset+1; 0 means empty slot
	head     atomic.Uint64   // next slot the consumer will read
	tail     atomic.Uint64   // next slot the producer will write

	mu         sync.Mutex // guards cond, only used by BlockingSend
	cond       *sync.Cond
	corrupted  atomic.Bool
	usedOffset []atomic.Uint64 // used-chunk list for AcquireUsedOffsets/Reclaim
	usedHead   atomic.Uint64
	usedTail   atomic.Uint64
}

// NewRing builds a ring of the given capacity. overflow selects
// whether TrySend displaces the oldest entry when full (true) or
// fails with SendErrorReceiveBufferFull (false).
func NewRing(capacity uint64, overflow bool) *Ring {
	r := &Ring{
		capacity:   capacity,
		overflow:   overflow,
		buf:        make([]atomic.Uint64, capacity),
		usedOffset: make([]atomic.Uint64, capacity),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// RingSender is the publisher-owned handle to a Ring.
type RingSender struct{ r *Ring }

// RingReceiver is the subscriber-owned handle to the same Ring.
type RingReceiver struct{ r *Ring }

// NewRingConnection builds a connected Sender/Receiver pair, the pair
// DefaultConnectionFactory builds for each connection in the table.
func NewRingConnection(capacity uint64, overflow bool) (*RingSender, *RingReceiver) {
	r := NewRing(capacity, overflow)
	return &RingSender{r}, &RingReceiver{r}
}

// DefaultConnectionFactory returns a ConnectionFactory that builds a
// Ring of the given overflow policy sized to each subscriber's own
// reported buffer size, discarding the Receiver half — this module
// has no subscriber port to hand it to, but a real deployment would
// pass the receiver across the named shared-memory handshake to the
// subscriber process.
func DefaultConnectionFactory(overflow bool) ConnectionFactory {
	return func(_ PublisherID, _ SubscriberID, bufferSize uint64) (Sender, error) {
		if bufferSize == 0 {
			bufferSize = 1
		}
		sender, _ := NewRingConnection(bufferSize, overflow)
		return sender, nil
	}
}

func (s *RingSender) TrySend(offset ChunkOffset) (*ChunkOffset, error) {
	if s.r.corrupted.Load() {
		return nil, SendErrorConnectionCorrupted
	}
	r := s.r
	tail := r.tail.Load()
	slotIdx := tail % r.capacity
	if displacedRaw := r.buf[slotIdx].Load(); displacedRaw != 0 {
		// Ring full: this slot is exactly capacity entries behind tail,
		// i.e. it holds the oldest still-unread entry (the head).
		if !r.overflow {
			return nil, SendErrorReceiveBufferFull
		}
		displaced := ChunkOffset(displacedRaw - 1)
		r.buf[slotIdx].Store(uint64(offset) + 1)
		r.tail.Store(tail + 1)
		r.head.Store(tail - r.capacity + 1)
		return &displaced, nil
	}
	r.buf[slotIdx].Store(uint64(offset) + 1)
	r.tail.Store(tail + 1)
	return nil, nil
}

func (s *RingSender) BlockingSend(ctx context.Context, offset ChunkOffset) error {
	r := s.r
	// Wake the wait below when ctx is done so cancellation is observed
	// even if the receiver never frees a slot.
	stop := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer stop()
	r.mu.Lock()
	for {
		if r.corrupted.Load() {
			r.mu.Unlock()
			return SendErrorConnectionCorrupted
		}
		if err := ctx.Err(); err != nil {
			r.mu.Unlock()
			return err
		}
		tail := r.tail.Load()
		slotIdx := tail % r.capacity
		if r.buf[slotIdx].Load() == 0 {
			r.buf[slotIdx].Store(uint64(offset) + 1)
			r.tail.Store(tail + 1)
			r.mu.Unlock()
			return nil
		}
		r.cond.Wait()
	}
}

// Reclaim pops the next offset the subscriber has finished with. A
// real receiver pushes here from Receive/Close; this module's tests
// call ReturnOffset to simulate that.
func (s *RingSender) Reclaim() (*ChunkOffset, error) {
	r := s.r
	head := r.usedHead.Load()
	if head == r.usedTail.Load() {
		return nil, nil
	}
	idx := head % r.capacity
	raw := r.usedOffset[idx].Swap(0)
	r.usedHead.Store(head + 1)
	off := ChunkOffset(raw - 1)
	return &off, nil
}

// AcquireUsedOffsets invokes f for every offset still live in the ring
// (delivered but not yet consumed/reclaimed) — used when the
// subscriber is being removed, dead or not.
func (s *RingSender) AcquireUsedOffsets(f func(ChunkOffset)) {
	r := s.r
	for i := uint64(0); i < r.capacity; i++ {
		if raw := r.buf[i].Swap(0); raw != 0 {
			f(ChunkOffset(raw - 1))
		}
	}
	for {
		head := r.usedHead.Load()
		if head == r.usedTail.Load() {
			break
		}
		idx := head % r.capacity
		if raw := r.usedOffset[idx].Swap(0); raw != 0 {
			f(ChunkOffset(raw - 1))
		}
		r.usedHead.Store(head + 1)
	}
	r.head.Store(r.tail.Load())
}

// Receive pops the oldest delivered offset, or ok=false if the ring is
// empty. It is the subscriber-side counterpart used by this module's
// tests to emulate a subscriber process.
func (r *RingReceiver) Receive() (ChunkOffset, bool) {
	ring := r.r
	head := ring.head.Load()
	idx := head % ring.capacity
	raw := ring.buf[idx].Load()
	if raw == 0 {
		return 0, false
	}
	ring.buf[idx].Store(0)
	ring.head.Store(head + 1)
	ring.cond.Signal()
	return ChunkOffset(raw - 1), true
}

// ReturnOffset pushes offset onto the used-chunk list, simulating a
// subscriber handing a consumed chunk back to the publisher for
// reclaim.
func (r *RingReceiver) ReturnOffset(offset ChunkOffset) bool {
	ring := r.r
	tail := ring.usedTail.Load()
	idx := tail % ring.capacity
	if ring.usedOffset[idx].Load() != 0 {
		return false
	}
	ring.usedOffset[idx].Store(uint64(offset) + 1)
	ring.usedTail.Store(tail + 1)
	return true
}

// Corrupt marks the connection as corrupted, for tests exercising the
// degradation-callback path.
func (r *RingReceiver) Corrupt() { r.r.corrupted.Store(true) }
