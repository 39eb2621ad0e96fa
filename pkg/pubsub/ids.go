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
	"encoding/hex"

	"github.com/google/uuid"
)

// PublisherID is a process-wide unique identifier stamped into every
// sample header this publisher sends. It is immutable for the
// publisher's lifetime.
type PublisherID [16]byte

// NewPublisherID generates a fresh, effectively-unique PublisherID.
func NewPublisherID() PublisherID {
	return PublisherID(uuid.New())
}

// String renders the id as hex, the same debug style used throughout
// this package's other identifiers.
func (id PublisherID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the id is the zero value (never issued by
// NewPublisherID, used as a sentinel for "no publisher").
func (id PublisherID) IsZero() bool {
	return id == PublisherID{}
}

// SubscriberID is the subscriber-side counterpart of PublisherID.
// The publisher core never generates one; it only ever observes ids
// reported by the dynamic subscriber registry.
type SubscriberID [16]byte

// NewSubscriberID generates a fresh, effectively-unique SubscriberID.
// Exported for use by tests and fakes standing in for an
// out-of-process subscriber.
func NewSubscriberID() SubscriberID {
	return SubscriberID(uuid.New())
}

func (id SubscriberID) String() string {
	return hex.EncodeToString(id[:])
}

func (id SubscriberID) IsZero() bool {
	return id == SubscriberID{}
}
