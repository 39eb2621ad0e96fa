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
	"unsafe"
)

// SampleMut is a loaned chunk writable by the caller and not yet sent.
// It must end its life through exactly one of Send or Close.
type SampleMut struct {
	publisher *Publisher
	offset    ChunkOffset
	chunk     []byte // whole bucket: header + payload
	header    SampleHeader
	payload   []byte
	len       uint64 // element count, for slice samples
	sent      bool
}

// Header returns the sample header stamped at loan time.
func (s *SampleMut) Header() SampleHeader { return s.header }

// PayloadMut returns a mutable view of the payload region.
func (s *SampleMut) PayloadMut() []byte {
	if s.sent {
		return nil
	}
	return s.payload
}

// Write copies data into the start of the payload region.
func (s *SampleMut) Write(data []byte) {
	if payload := s.PayloadMut(); payload != nil {
		copy(payload, data)
	}
}

// PayloadMutAs reinterprets the payload as *T, for scalar samples
// loaned with a layout matching T's size and alignment. The returned
// pointer aliases shared memory directly: no copy occurs.
func PayloadMutAs[T any](s *SampleMut) *T {
	payload := s.PayloadMut()
	if payload == nil {
		return nil
	}
	return (*T)(unsafe.Pointer(&payload[0]))
}

// WritePayloadAs copies value into the sample's payload region via
// PayloadMutAs, a convenience wrapper for scalar sends.
func WritePayloadAs[T any](s *SampleMut, value T) {
	if dst := PayloadMutAs[T](s); dst != nil {
		*dst = value
	}
}

// Send hands the sample to the owning publisher's send/reclaim engine.
// The SampleMut must not be used again afterward, whether Send
// succeeds or fails.
func (s *SampleMut) Send(ctx context.Context) (int, error) {
	if s.sent {
		return 0, ErrSampleClosed
	}
	s.sent = true
	return s.publisher.send(ctx, s)
}

// Close abandons the loan without sending, releasing the chunk back to
// the pool. Implements io.Closer.
func (s *SampleMut) Close() error {
	if s.sent {
		return nil
	}
	s.sent = true
	s.publisher.returnLoanedSample(s.offset)
	return nil
}

// Sample is a received, immutable view of a sent chunk. This module
// does not implement a subscriber port; Sample is the view such a port
// would build around a chunk read through a RingReceiver.
type Sample struct {
	header  SampleHeader
	payload []byte
}

// NewSample wraps a decoded header and payload slice, as a standalone
// subscriber would after reading a delivered chunk offset out of
// shared memory.
func NewSample(header SampleHeader, payload []byte) Sample {
	return Sample{header: header, payload: payload}
}

// Header returns the sample's header.
func (s Sample) Header() SampleHeader { return s.header }

// Payload returns the read-only payload bytes.
func (s Sample) Payload() []byte { return s.payload }

// PayloadAs reinterprets the payload as *T without copying.
func PayloadAs[T any](s Sample) *T {
	if len(s.payload) == 0 {
		return nil
	}
	return (*T)(unsafe.Pointer(&s.payload[0]))
}
