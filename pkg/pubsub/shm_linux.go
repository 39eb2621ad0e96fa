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

//go:build linux

package pubsub

import (
	"fmt"
	"hash/fnv"

	"golang.org/x/sys/unix"
)

// sysvSegment is a Segment backed by a System V shared-memory region:
// a named region multiple processes can attach to independently.
type sysvSegment struct {
	name string
	id   int
	addr []byte
}

// dataSegmentName derives the segment name from the publisher id.
func dataSegmentName(publisherID PublisherID) string {
	return fmt.Sprintf("iox2-pub-%s", publisherID)
}

// shmKey turns a segment name into a deterministic System V IPC key so
// unrelated processes naming the same publisher id attach to the same
// region.
func shmKey(name string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return int(h.Sum32() & 0x7fffffff)
}

// NewSegment creates (or attaches to) a named shared-memory segment of
// at least size bytes.
func NewSegment(name string, size uint64) (Segment, error) {
	key := shmKey(name)
	id, err := unix.SysvShmGet(key, int(size), unix.IPC_CREAT|0o600)
	if err != nil {
		return nil, fmt.Errorf("pubsub: shmget %q: %w", name, err)
	}
	addr, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("pubsub: shmat %q: %w", name, err)
	}
	return &sysvSegment{name: name, id: id, addr: addr}, nil
}

func (s *sysvSegment) Name() string  { return s.name }
func (s *sysvSegment) Bytes() []byte { return s.addr }

func (s *sysvSegment) Close() error {
	if s.addr != nil {
		if err := unix.SysvShmDetach(s.addr); err != nil {
			return fmt.Errorf("pubsub: shmdt %q: %w", s.name, err)
		}
		s.addr = nil
	}
	_, err := unix.SysvShmCtl(s.id, unix.IPC_RMID, nil)
	if err != nil {
		return fmt.Errorf("pubsub: shmctl(IPC_RMID) %q: %w", s.name, err)
	}
	return nil
}
