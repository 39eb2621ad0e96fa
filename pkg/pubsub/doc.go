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

// Package pubsub implements the publisher-side half of a zero-copy,
// shared-memory publish/subscribe transport for co-located processes.
//
// A Publisher loans a chunk of shared memory, the caller fills it in
// place, and Send hands the chunk's offset to every connected
// subscriber through lock-free single-producer/single-consumer rings.
// No payload byte is copied between the publisher and its subscribers;
// every recipient observes the same physical memory.
//
// The package does not implement a subscriber port, a C ABI, or
// cross-host transport. It owns the hard part: sample allocation,
// reference counting, history retention, dynamic subscriber discovery,
// and the send/reclaim protocol that keeps chunk lifetimes correct
// when subscriber processes can disappear without notice.
package pubsub
