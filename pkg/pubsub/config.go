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

import "fmt"

// UnableToDeliverStrategy selects what happens when a subscriber's
// ring has no room for a new chunk.
type UnableToDeliverStrategy int

const (
	// UnableToDeliverStrategyBlock waits for room (BlockingSend).
	UnableToDeliverStrategyBlock UnableToDeliverStrategy = iota
	// UnableToDeliverStrategyDiscardSample drops the sample for that
	// subscriber instead of blocking (TrySend).
	UnableToDeliverStrategyDiscardSample
)

func (s UnableToDeliverStrategy) String() string {
	switch s {
	case UnableToDeliverStrategyBlock:
		return "Block"
	case UnableToDeliverStrategyDiscardSample:
		return "DiscardSample"
	default:
		return fmt.Sprintf("UnableToDeliverStrategy(%d)", int(s))
	}
}

// DegradationAction is the policy a DegradationCallback selects when a
// per-subscriber fault occurs (connection-creation failure or a
// corrupted connection observed during delivery).
type DegradationAction int

const (
	DegradationIgnore DegradationAction = iota
	DegradationWarn
	DegradationFail
)

func (a DegradationAction) String() string {
	switch a {
	case DegradationIgnore:
		return "Ignore"
	case DegradationWarn:
		return "Warn"
	case DegradationFail:
		return "Fail"
	default:
		return fmt.Sprintf("DegradationAction(%d)", int(a))
	}
}

// DegradationCallback decides how to react to a per-subscriber fault.
// staticConfig is passed by value so a callback cannot mutate service
// state it does not own.
type DegradationCallback func(staticConfig ServiceStaticConfig, publisher PublisherID, subscriber SubscriberID) DegradationAction

// ServiceStaticConfig carries the service-level inputs every publisher
// and subscriber of the same service must agree on.
type ServiceStaticConfig struct {
	ServiceName          string
	HistorySize          uint64
	MaxPublishers        uint64
	MaxSubscribers       uint64
	SubscriberBufferSize uint64
	PayloadTypeName      string
	PayloadLayout        Layout
}

// PublisherConfig carries the options recognized at publisher creation.
type PublisherConfig struct {
	MaxLoanedSamples        uint64
	MaxSliceLen             uint64
	UnableToDeliverStrategy UnableToDeliverStrategy
	DegradationCallback     DegradationCallback
}

// RequiredAmountOfSamplesPerDataSegment computes the number of buckets
// the data segment's allocator must provide:
// max_loaned_samples + sum of subscriber buffer sizes + history_size,
// using maxSubscribers as the worst case before subscribers connect
// (their individual buffer sizes are only known once they are
// observed, so the segment is sized for the declared capacity up
// front — consistent with "no dynamic resizing after creation").
func RequiredAmountOfSamplesPerDataSegment(cfg PublisherConfig, svc ServiceStaticConfig) uint64 {
	n := cfg.MaxLoanedSamples + svc.HistorySize + svc.MaxSubscribers*svc.SubscriberBufferSize
	if n == 0 {
		return 1
	}
	return n
}
