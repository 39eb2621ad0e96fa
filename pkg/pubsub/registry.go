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

// SubscriberDetails is what the dynamic subscriber registry reports
// about each connected subscriber.
type SubscriberDetails struct {
	SubscriberID SubscriberID
	BufferSize   uint64
}

// PublisherDetails is what a publisher registers about itself in the
// service's dynamic registry.
type PublisherDetails struct {
	PublisherID     PublisherID
	NumberOfSamples uint64
	MaxSliceLen     uint64
}

// RegistryHandle identifies a publisher's registration so it can later
// be released on teardown.
type RegistryHandle struct{ index int }

// RegistryCursor is the version cursor the reconciler carries between
// calls to UpdateState to detect whether the observed subscriber set
// has changed since the cursor's last read.
type RegistryCursor struct {
	version uint64
}

// subscriberSlotEntry pairs a canonical slot index with the
// subscriber occupying it, mirroring SubscriberDetails's place in the
// registry's published snapshot.
type subscriberSlotEntry struct {
	slot    int
	details SubscriberDetails
}

// SubscriberRegistry is the lock-free MPMC container a real subscriber
// port would own, modeled here as an interface. AtomicSubscriberRegistry
// is this module's one concrete
// implementation, used by tests to simulate subscriber processes
// announcing and withdrawing themselves, and by the demo daemon as its
// in-process registry.
type SubscriberRegistry interface {
	// UpdateState refreshes cursor against the current snapshot and
	// reports whether the observed set changed since the cursor's last
	// read.
	UpdateState(cursor *RegistryCursor) bool
	// ForEach yields the subscriber set as published at the time of the
	// call, each tagged with its canonical slot index. It is not tied to
	// any cursor's last UpdateState call.
	ForEach(f func(slot int, details SubscriberDetails))
	// AddPublisherID registers a publisher, returning an error if the
	// registry has no free publisher slot.
	AddPublisherID(details PublisherDetails) (RegistryHandle, error)
	// ReleasePublisherHandle unregisters a previously added publisher.
	ReleasePublisherHandle(h RegistryHandle)
}

// AtomicSubscriberRegistry publishes its subscriber snapshot through a
// CAS loop over an atomic.Pointer, so readers (publishers reconciling)
// never block writers (subscribers attaching/detaching) and vice
// versa.
type AtomicSubscriberRegistry struct {
	capacitySubscribers int
	capacityPublishers  int

	version    atomic.Uint64
	snapshot   atomic.Pointer[[]subscriberSlotEntry]
	publishers atomic.Pointer[[]bool]
}

// NewAtomicSubscriberRegistry builds a registry sized for the service's
// declared max_subscribers / max_publishers.
func NewAtomicSubscriberRegistry(maxSubscribers, maxPublishers int) *AtomicSubscriberRegistry {
	r := &AtomicSubscriberRegistry{
		capacitySubscribers: maxSubscribers,
		capacityPublishers:  maxPublishers,
	}
	empty := []subscriberSlotEntry{}
	r.snapshot.Store(&empty)
	slots := make([]bool, maxPublishers)
	r.publishers.Store(&slots)
	return r
}

// Publish announces (or re-announces) a subscriber at its canonical
// slot. canonicalSlot is stable for the subscriber's lifetime — in a
// real deployment this is assigned by the subscriber port at
// connection time; here it is supplied by the caller (the tests).
func (r *AtomicSubscriberRegistry) Publish(canonicalSlot int, details SubscriberDetails) {
	for {
		old := r.snapshot.Load()
		next := make([]subscriberSlotEntry, 0, len(*old)+1)
		replaced := false
		for _, e := range *old {
			if e.slot == canonicalSlot {
				next = append(next, subscriberSlotEntry{slot: canonicalSlot, details: details})
				replaced = true
				continue
			}
			next = append(next, e)
		}
		if !replaced {
			next = append(next, subscriberSlotEntry{slot: canonicalSlot, details: details})
		}
		if r.snapshot.CompareAndSwap(old, &next) {
			r.version.Add(1)
			return
		}
	}
}

// Withdraw removes the subscriber at canonicalSlot, simulating
// disconnection (graceful or a crash the registry's liveness sweep
// has already detected).
func (r *AtomicSubscriberRegistry) Withdraw(canonicalSlot int) {
	for {
		old := r.snapshot.Load()
		next := make([]subscriberSlotEntry, 0, len(*old))
		found := false
		for _, e := range *old {
			if e.slot == canonicalSlot {
				found = true
				continue
			}
			next = append(next, e)
		}
		if !found {
			return
		}
		if r.snapshot.CompareAndSwap(old, &next) {
			r.version.Add(1)
			return
		}
	}
}

func (r *AtomicSubscriberRegistry) UpdateState(cursor *RegistryCursor) bool {
	current := r.version.Load()
	if current == cursor.version {
		return false
	}
	cursor.version = current
	return true
}

func (r *AtomicSubscriberRegistry) ForEach(f func(slot int, details SubscriberDetails)) {
	snap := *r.snapshot.Load()
	for _, e := range snap {
		f(e.slot, e.details)
	}
}

func (r *AtomicSubscriberRegistry) AddPublisherID(_ PublisherDetails) (RegistryHandle, error) {
	for {
		old := r.publishers.Load()
		idx := -1
		for i, used := range *old {
			if !used {
				idx = i
				break
			}
		}
		if idx < 0 {
			return RegistryHandle{}, ErrRegistryFull
		}
		next := make([]bool, len(*old))
		copy(next, *old)
		next[idx] = true
		if r.publishers.CompareAndSwap(old, &next) {
			return RegistryHandle{index: idx}, nil
		}
	}
}

func (r *AtomicSubscriberRegistry) ReleasePublisherHandle(h RegistryHandle) {
	for {
		old := r.publishers.Load()
		if h.index < 0 || h.index >= len(*old) {
			return
		}
		next := make([]bool, len(*old))
		copy(next, *old)
		next[h.index] = false
		if r.publishers.CompareAndSwap(old, &next) {
			return
		}
	}
}
