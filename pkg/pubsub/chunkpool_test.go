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

func newTestPool(t *testing.T, bucketCount uint64) (*ReferenceCountedChunkPool, *BucketAllocator, Layout) {
	t.Helper()
	elemLayout := Layout{Size: 8, Align: 8}
	bucketLayout, _ := SampleLayout(elemLayout, 1)
	seg, err := NewSegment(t.Name(), bucketCount*bucketLayout.Size)
	if err != nil {
		t.Fatalf("NewSegment: %v", err)
	}
	t.Cleanup(func() { seg.Close() })

	alloc, err := NewBucketAllocator(seg, bucketLayout, bucketCount)
	if err != nil {
		t.Fatalf("NewBucketAllocator: %v", err)
	}
	pool := NewReferenceCountedChunkPool(alloc, bucketCount, alloc.BucketIndex)
	return pool, alloc, elemLayout
}

func TestChunkPoolAllocateSetsRefcountToOne(t *testing.T) {
	pool, _, elemLayout := newTestPool(t, 4)
	bucketLayout, _ := SampleLayout(elemLayout, 1)

	ptr, err := pool.Allocate(bucketLayout)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got := pool.Count(ptr.Offset); got != 1 {
		t.Fatalf("refcount after allocate = %d, want 1", got)
	}
}

func TestChunkPoolBorrowReleaseRoundTrip(t *testing.T) {
	pool, _, elemLayout := newTestPool(t, 4)
	bucketLayout, _ := SampleLayout(elemLayout, 1)

	ptr, err := pool.Allocate(bucketLayout)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	pool.Borrow(ptr.Offset)
	pool.Borrow(ptr.Offset)
	if got := pool.Count(ptr.Offset); got != 3 {
		t.Fatalf("refcount after two borrows = %d, want 3", got)
	}

	if deallocated := pool.Release(ptr.Offset, elemLayout); deallocated {
		t.Fatalf("Release should not deallocate while refcount > 1")
	}
	if deallocated := pool.Release(ptr.Offset, elemLayout); deallocated {
		t.Fatalf("Release should not deallocate while refcount > 1")
	}
	if deallocated := pool.Release(ptr.Offset, elemLayout); !deallocated {
		t.Fatalf("Release should deallocate on the 1 -> 0 transition")
	}
}

func TestChunkPoolReuseAfterDeallocate(t *testing.T) {
	pool, _, elemLayout := newTestPool(t, 1)
	bucketLayout, _ := SampleLayout(elemLayout, 1)

	first, err := pool.Allocate(bucketLayout)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, err := pool.Allocate(bucketLayout); err == nil {
		t.Fatalf("expected OutOfMemory allocating a second bucket from a 1-bucket pool")
	}

	pool.Release(first.Offset, elemLayout)

	second, err := pool.Allocate(bucketLayout)
	if err != nil {
		t.Fatalf("Allocate after release: %v", err)
	}
	if second.Offset != first.Offset {
		t.Fatalf("expected the freed bucket to be reused, got offset %d want %d", second.Offset, first.Offset)
	}
	if got := pool.Count(second.Offset); got != 1 {
		t.Fatalf("refcount after re-allocate = %d, want 1", got)
	}
}

func TestChunkPoolSumReflectsOutstandingBorrows(t *testing.T) {
	pool, _, elemLayout := newTestPool(t, 4)
	bucketLayout, _ := SampleLayout(elemLayout, 1)

	a, _ := pool.Allocate(bucketLayout)
	b, _ := pool.Allocate(bucketLayout)
	pool.Borrow(a.Offset)

	if got, want := pool.Sum(), uint64(3); got != want {
		t.Fatalf("Sum() = %d, want %d", got, want)
	}

	pool.Release(a.Offset, elemLayout)
	pool.Release(a.Offset, elemLayout)
	pool.Release(b.Offset, elemLayout)

	if got, want := pool.Sum(), uint64(0); got != want {
		t.Fatalf("Sum() after full release = %d, want %d", got, want)
	}
}
