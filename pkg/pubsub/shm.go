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
	"fmt"
	"sync/atomic"
)

// Segment is the named shared-memory segment factory a real deployment
// would provide, needed here as a concrete implementation so the
// publisher facade is runnable. Bytes returns the whole backing
// region; buckets are carved out of it by BucketAllocator.
type Segment interface {
	Name() string
	Bytes() []byte
	Close() error
}

// ShmPointer is what the allocator hands back on Allocate: the chunk's
// offset (the only thing meaningful across process boundaries) and a
// direct view of its bytes for local use.
type ShmPointer struct {
	Offset ChunkOffset
	Data   []byte
}

// AllocationError enumerates allocator failure modes. The Publisher
// reports any of them to the caller as PublisherLoanErrorOutOfMemory.
type AllocationError int

const (
	AllocationErrorOutOfMemory AllocationError = iota
	AllocationErrorSizeTooLarge
	AllocationErrorAlignmentFailure
)

func (e AllocationError) Error() string {
	switch e {
	case AllocationErrorOutOfMemory:
		return "allocation error: out of memory"
	case AllocationErrorSizeTooLarge:
		return "allocation error: size too large"
	case AllocationErrorAlignmentFailure:
		return "allocation error: alignment failure"
	default:
		return fmt.Sprintf("allocation error: unknown (%d)", int(e))
	}
}

// Allocator is the bucket-per-sample shared-memory allocator, modeled
// here as an interface with one concrete bucket-pool implementation.
type Allocator interface {
	Allocate(layout Layout) (ShmPointer, error)
	Deallocate(offset ChunkOffset, layout Layout)
}

// BucketAllocator is a fixed-capacity, equal-size-bucket allocator over
// a Segment: a pool-allocator-style, bucket-per-sample scheme. Free
// buckets are tracked with a Treiber-style lock-free stack of indices
// so Allocate/Deallocate need no mutex — consistent with the
// reference-counted chunk pool above it also being lock-free.
type BucketAllocator struct {
	segment      Segment
	bucketLayout Layout
	bucketCount  uint64
	baseOffset   uint64

	// free is a lock-free LIFO stack of free bucket indices, encoded as
	// (index+1) so 0 means "empty/end of stack". next[i] chains bucket i
	// to the bucket below it on the stack.
	free atomic.Uint64
	next []atomic.Uint64
}

// NewBucketAllocator carves bucketCount buckets of bucketLayout out of
// segment, aligned to bucketLayout.Align starting from the segment
// base, and primes the free stack with every bucket.
func NewBucketAllocator(segment Segment, bucketLayout Layout, bucketCount uint64) (*BucketAllocator, error) {
	buf := segment.Bytes()
	base := alignUp(0, bucketLayout.Align)
	needed := base + bucketLayout.Size*bucketCount
	if uint64(len(buf)) < needed {
		return nil, fmt.Errorf("pubsub: segment %q has %d bytes, need %d for %d buckets of %d", segment.Name(), len(buf), needed, bucketCount, bucketLayout.Size)
	}

	a := &BucketAllocator{
		segment:      segment,
		bucketLayout: bucketLayout,
		bucketCount:  bucketCount,
		baseOffset:   base,
		next:         make([]atomic.Uint64, bucketCount),
	}

	// Push buckets 0..bucketCount-1 onto the free stack in order so the
	// first Allocate call returns bucket 0, which keeps tests
	// deterministic.
	for i := bucketCount; i > 0; i-- {
		idx := i - 1
		a.pushFree(idx)
	}
	return a, nil
}

func (a *BucketAllocator) pushFree(idx uint64) {
	for {
		top := a.free.Load()
		a.next[idx].Store(top)
		if a.free.CompareAndSwap(top, idx+1) {
			return
		}
	}
}

func (a *BucketAllocator) popFree() (uint64, bool) {
	for {
		top := a.free.Load()
		if top == 0 {
			return 0, false
		}
		idx := top - 1
		nextTop := a.next[idx].Load()
		if a.free.CompareAndSwap(top, nextTop) {
			return idx, true
		}
	}
}

// Allocate returns a fresh bucket sized for layout. The bucket pool is
// fixed-size per service configuration, so Allocate never grows the
// segment; it only ever hands out one of the pre-carved buckets.
func (a *BucketAllocator) Allocate(layout Layout) (ShmPointer, error) {
	if layout.Size > a.bucketLayout.Size || layout.Align > a.bucketLayout.Align {
		return ShmPointer{}, AllocationErrorSizeTooLarge
	}
	idx, ok := a.popFree()
	if !ok {
		return ShmPointer{}, AllocationErrorOutOfMemory
	}
	offset := a.baseOffset + idx*a.bucketLayout.Size
	buf := a.segment.Bytes()
	return ShmPointer{
		Offset: ChunkOffset(offset),
		Data:   buf[offset : offset+a.bucketLayout.Size],
	}, nil
}

// Deallocate returns the bucket containing offset to the free stack.
// layout is accepted to match the collaborator contract (the real
// allocator would use it to validate the caller's bookkeeping) but is
// otherwise unused since every bucket in this pool is the same size.
func (a *BucketAllocator) Deallocate(offset ChunkOffset, _ Layout) {
	idx := (uint64(offset) - a.baseOffset) / a.bucketLayout.Size
	if idx >= a.bucketCount {
		fatalInvariant("deallocate: offset %d does not belong to this segment", offset)
	}
	a.pushFree(idx)
}

// BucketIndex returns the bucket index backing offset, used by
// ReferenceCountedChunkPool to index into its counters array.
func (a *BucketAllocator) BucketIndex(offset ChunkOffset) uint64 {
	return (uint64(offset) - a.baseOffset) / a.bucketLayout.Size
}

// BucketCount returns the number of buckets the allocator manages.
func (a *BucketAllocator) BucketCount() uint64 { return a.bucketCount }
