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

import "sync/atomic"

// ReferenceCountedChunkPool is the hard core of the publisher: one
// atomic counter per bucket in the data segment, plus the
// allocate/borrow/release primitives that keep it consistent under
// concurrent touches from reclaim paths triggered by (possibly dead)
// subscriber processes.
//
// Memory ordering is Relaxed throughout: the
// happens-before edge between a payload write and a subscriber's
// observation of the chunk is established by the zero-copy
// connection's own release/acquire pair on enqueue/dequeue, not by
// these counters.
type ReferenceCountedChunkPool struct {
	allocator   Allocator
	counters    []atomic.Uint64
	payloadSize uint64
	bucketIndex func(ChunkOffset) uint64
}

// NewReferenceCountedChunkPool wires a pool of bucketCount counters
// against allocator. index must map a chunk offset to the same bucket
// index the allocator itself carved the chunk from (BucketAllocator's
// BucketIndex, typically).
func NewReferenceCountedChunkPool(allocator Allocator, bucketCount uint64, index func(ChunkOffset) uint64) *ReferenceCountedChunkPool {
	return &ReferenceCountedChunkPool{
		allocator:   allocator,
		counters:    make([]atomic.Uint64, bucketCount),
		bucketIndex: index,
	}
}

// Allocate asks the allocator for a bucket of layout and transitions
// its counter 0 -> 1. Any other observed prior
// value means the allocator handed out a bucket that is still live —
// a fatal invariant violation, since it means two loans would alias
// the same memory.
func (p *ReferenceCountedChunkPool) Allocate(layout Layout) (ShmPointer, error) {
	ptr, err := p.allocator.Allocate(layout)
	if err != nil {
		return ShmPointer{}, err
	}
	idx := p.bucketIndex(ptr.Offset)
	if prev := p.counters[idx].Swap(1); prev != 0 {
		fatalInvariant("allocate: bucket %d already had refcount %d", idx, prev)
	}
	return ptr, nil
}

// Borrow increments the refcount of the chunk at offset. Used whenever
// a chunk is additionally retained — enqueued to a subscriber or
// pushed into history.
func (p *ReferenceCountedChunkPool) Borrow(offset ChunkOffset) {
	p.counters[p.bucketIndex(offset)].Add(1)
}

// Release decrements the refcount of the chunk at offset. When the
// count transitions 1 -> 0, the bucket is handed back to the
// allocator. Returns true if this call deallocated the bucket.
func (p *ReferenceCountedChunkPool) Release(offset ChunkOffset, payloadLayout Layout) bool {
	idx := p.bucketIndex(offset)
	prev := p.counters[idx].Add(^uint64(0)) + 1 // fetch_sub semantics: prev value before decrement
	if prev == 0 {
		fatalInvariant("release: bucket %d refcount underflowed", idx)
	}
	if prev == 1 {
		p.allocator.Deallocate(offset, payloadLayout)
		return true
	}
	return false
}

// Count returns the current refcount of the chunk at offset. Exposed
// for tests verifying reference-count invariants.
func (p *ReferenceCountedChunkPool) Count(offset ChunkOffset) uint64 {
	return p.counters[p.bucketIndex(offset)].Load()
}

// Sum returns the segment-wide sum of all reference counters, which
// must equal the count of outstanding (chunk, holder) edges.
func (p *ReferenceCountedChunkPool) Sum() uint64 {
	var total uint64
	for i := range p.counters {
		total += p.counters[i].Load()
	}
	return total
}
