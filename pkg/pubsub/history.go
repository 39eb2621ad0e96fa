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

// HistoryBuffer is a bounded FIFO of chunk offsets a publisher retains
// so that a subscriber connecting after samples were already sent can
// still be replayed the most recent ones. Capacity zero disables
// history entirely.
//
// Every offset held here counts as one borrow against the chunk pool's
// reference counters: Push borrows the new entry and releases the
// evicted one, so the buffer's contribution to each chunk's refcount
// is always either 0 or 1.
type HistoryBuffer struct {
	publisherID PublisherID
	pool        *ReferenceCountedChunkPool
	payload     Layout
	ring        []ChunkOffset
	valid       []bool
	head        int
	count       int
}

// NewHistoryBuffer builds a history of the given capacity, backed by
// pool for the borrow/release bookkeeping on push and eviction.
func NewHistoryBuffer(publisherID PublisherID, capacity uint64, pool *ReferenceCountedChunkPool, payloadLayout Layout) *HistoryBuffer {
	return &HistoryBuffer{
		publisherID: publisherID,
		pool:        pool,
		payload:     payloadLayout,
		ring:        make([]ChunkOffset, capacity),
		valid:       make([]bool, capacity),
	}
}

// Capacity returns the configured history depth.
func (h *HistoryBuffer) Capacity() int { return len(h.ring) }

// Len returns the number of samples currently retained.
func (h *HistoryBuffer) Len() int { return h.count }

// Push retains offset, borrowing it from the pool. If the buffer is at
// capacity the oldest retained offset is released first.
func (h *HistoryBuffer) Push(offset ChunkOffset) {
	if len(h.ring) == 0 {
		return
	}
	h.pool.Borrow(offset)
	idx := (h.head + h.count) % len(h.ring)
	if h.valid[idx] {
		h.pool.Release(h.ring[idx], h.payload)
		h.head = (h.head + 1) % len(h.ring)
		historyEvictions.WithLabelValues(h.publisherID.String()).Inc()
	} else {
		h.count++
	}
	h.ring[idx] = offset
	h.valid[idx] = true
}

// ReplayInto delivers every retained offset, oldest first, to a newly
// connected subscriber's sender via TrySend — used by the connection
// reconciler immediately after a connection is created. Errors for
// individual entries are reported through onError rather than
// aborting the replay, since a new subscriber's ring may simply be
// smaller than the history depth.
func (h *HistoryBuffer) ReplayInto(sender Sender, onError func(ChunkOffset, error)) {
	for i := 0; i < h.count; i++ {
		idx := (h.head + i) % len(h.ring)
		if !h.valid[idx] {
			continue
		}
		offset := h.ring[idx]
		h.pool.Borrow(offset)
		if _, err := sender.TrySend(offset); err != nil {
			h.pool.Release(offset, h.payload)
			if onError != nil {
				onError(offset, err)
			}
		}
	}
}

// Clear releases every retained offset back to the pool and empties
// the buffer, used when the publisher tears down.
func (h *HistoryBuffer) Clear() {
	for i := 0; i < h.count; i++ {
		idx := (h.head + i) % len(h.ring)
		if h.valid[idx] {
			h.pool.Release(h.ring[idx], h.payload)
			h.valid[idx] = false
		}
	}
	h.head = 0
	h.count = 0
}
