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

import "encoding/binary"

// ChunkOffset is a byte offset from the base of the shared-memory data
// segment. Cross-process references never use raw pointers: the two
// processes do not share an address space, only the offset is
// meaningful on both sides.
type ChunkOffset uint64

// InvalidChunkOffset marks the absence of a chunk where a zero offset
// would otherwise be ambiguous with a legitimate first-bucket offset.
const InvalidChunkOffset ChunkOffset = ^ChunkOffset(0)

// Layout describes the size and alignment of a memory region, mirroring
// the (size, align) pair the wire header carries for the payload.
type Layout struct {
	Size  uint64
	Align uint64
}

// alignUp rounds size up to the next multiple of align. align must be
// a power of two.
func alignUp(size, align uint64) uint64 {
	if align == 0 {
		return size
	}
	return (size + align - 1) &^ (align - 1)
}

// headerWireSize is the on-wire size of SampleHeader before alignment
// padding: 16 bytes publisher id + 8 bytes payload size + 8 bytes
// payload align.
const headerWireSize = 16 + 8 + 8

// SampleHeader is the fixed-layout metadata stamped at the start of
// every chunk, written exactly once per loan before the chunk becomes
// observable to any subscriber.
type SampleHeader struct {
	PublisherID   PublisherID
	PayloadLayout Layout
}

// EncodeInto writes the header in little-endian wire format into dst,
// which must be at least headerWireSize bytes. The exact header size
// (including padding to the payload's alignment) is given by
// HeaderSize; it must agree between publisher and subscriber, which in
// this module means it is a pure function of payloadAlign.
func (h SampleHeader) EncodeInto(dst []byte) {
	copy(dst[0:16], h.PublisherID[:])
	binary.LittleEndian.PutUint64(dst[16:24], h.PayloadLayout.Size)
	binary.LittleEndian.PutUint64(dst[24:32], h.PayloadLayout.Align)
}

// DecodeHeader reads a SampleHeader previously written by EncodeInto.
func DecodeHeader(src []byte) SampleHeader {
	var h SampleHeader
	copy(h.PublisherID[:], src[0:16])
	h.PayloadLayout.Size = binary.LittleEndian.Uint64(src[16:24])
	h.PayloadLayout.Align = binary.LittleEndian.Uint64(src[24:32])
	return h
}

// HeaderSize returns the header size including padding up to
// payloadAlign, so that the payload pointer derived from the header
// always lands on an aligned boundary. It is a pure function of the
// payload's static type descriptor (here, just its alignment).
func HeaderSize(payloadAlign uint64) uint64 {
	return alignUp(headerWireSize, payloadAlign)
}

// SampleLayout computes the total chunk layout and the byte offset of
// the payload within the chunk, for n elements (n=1 for a scalar
// sample) of the given per-element layout. It is the sole place the
// scalar/slice distinction lives.
func SampleLayout(elemLayout Layout, n uint64) (chunk Layout, payloadOffset uint64) {
	payloadSize := elemLayout.Size * n
	headerSize := HeaderSize(elemLayout.Align)
	total := headerSize + payloadSize
	// The chunk itself must satisfy the payload's alignment so that a
	// bucket handed out by the allocator always places the payload on
	// a valid boundary.
	align := elemLayout.Align
	if align < 8 {
		align = 8
	}
	return Layout{Size: total, Align: align}, headerSize
}

// PayloadLayout returns the aggregate layout of n payload elements,
// independent of the header — this is the layout the allocator's
// Deallocate call must be given back.
func PayloadLayout(elemLayout Layout, n uint64) Layout {
	return Layout{Size: elemLayout.Size * n, Align: elemLayout.Align}
}
