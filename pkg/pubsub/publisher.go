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
	"sync"
	"sync/atomic"
)

// Publisher is the publisher-side port of a publish-subscribe service:
// it owns a data segment sized for its own loans, the service's
// history depth, and every subscriber's buffer size, and it keeps its
// connections to the dynamic subscriber set current as that set
// changes around it.
type Publisher struct {
	id     PublisherID
	static ServiceStaticConfig
	config PublisherConfig

	segment   Segment
	allocator *BucketAllocator
	pool      *ReferenceCountedChunkPool
	history   *HistoryBuffer
	table     *ConnectionTable
	reconcile *Reconciler
	engine    *DeliveryEngine
	registry  SubscriberRegistry
	regHandle RegistryHandle
	cursor    RegistryCursor

	loanCounter atomic.Uint64
	isActive    atomic.Bool

	mu     sync.Mutex
	closed bool
}

// NewPublisher builds the data segment and registers the publisher
// with the service's dynamic registry. It fails if the registry has
// no free publisher slot, or if the shared-memory segment cannot be
// created.
//
// The construction order mirrors the way a newly created publisher
// becomes visible to subscribers without a race: the connection table
// is populated against whatever subscribers already exist before the
// publisher registers itself, so a subscriber that connects concurrent
// with construction always observes either "publisher not yet
// registered" or "publisher registered with connections already
// reconciled", never a half-built publisher.
func NewPublisher(static ServiceStaticConfig, config PublisherConfig, registry SubscriberRegistry, factory ConnectionFactory) (*Publisher, error) {
	id := NewPublisherID()

	maxElements := config.MaxSliceLen
	if maxElements == 0 {
		maxElements = 1
	}
	bucketLayout, _ := SampleLayout(static.PayloadLayout, maxElements)

	bucketCount := RequiredAmountOfSamplesPerDataSegment(config, static)
	segment, err := NewSegment(dataSegmentName(id), bucketCount*bucketLayout.Size)
	if err != nil {
		return nil, WrapError("pubsub.NewPublisher", PublisherCreateErrorUnableToCreateDataSegment)
	}

	allocator, err := NewBucketAllocator(segment, bucketLayout, bucketCount)
	if err != nil {
		segment.Close()
		return nil, WrapError("pubsub.NewPublisher", PublisherCreateErrorUnableToCreateDataSegment)
	}
	pool := NewReferenceCountedChunkPool(allocator, bucketCount, allocator.BucketIndex)
	history := NewHistoryBuffer(id, static.HistorySize, pool, static.PayloadLayout)
	table := NewConnectionTable(static.MaxSubscribers, factory, pool, static.PayloadLayout)

	p := &Publisher{
		id:        id,
		static:    static,
		config:    config,
		segment:   segment,
		allocator: allocator,
		pool:      pool,
		history:   history,
		table:     table,
		registry:  registry,
	}
	p.reconcile = NewReconciler(id, static, registry, table, history, config.DegradationCallback)
	p.engine = NewDeliveryEngine(id, static, pool, table, static.PayloadLayout, config.UnableToDeliverStrategy, config.DegradationCallback)

	registry.UpdateState(&p.cursor)
	if err := p.reconcile.Populate(); err != nil {
		log.Warn().Str("publisher_id", id.String()).Err(err).
			Msg("initial connection reconciliation failed for at least one subscriber")
	}

	p.isActive.Store(true)

	handle, err := registry.AddPublisherID(PublisherDetails{
		PublisherID:     id,
		NumberOfSamples: config.MaxLoanedSamples,
		MaxSliceLen:     config.MaxSliceLen,
	})
	if err != nil {
		p.isActive.Store(false)
		segment.Close()
		return nil, WrapError("pubsub.NewPublisher", PublisherCreateErrorExceedsMaxSupportedPublishers)
	}
	p.regHandle = handle

	return p, nil
}

// ID returns the publisher's identity.
func (p *Publisher) ID() PublisherID { return p.id }

// UpdateConnections reconciles the connection table against the
// dynamic subscriber registry if its version cursor has advanced.
// Send calls this itself; exposed so long-running publishers can pick
// up new subscribers between sends.
func (p *Publisher) UpdateConnections() error {
	return p.reconcile.UpdateConnections(&p.cursor)
}

func (p *Publisher) loan(n uint64) (*SampleMut, error) {
	if p.config.MaxLoanedSamples != 0 && p.loanCounter.Load() >= p.config.MaxLoanedSamples {
		return nil, PublisherLoanErrorExceedsMaxLoanedChunks
	}

	elemLayout := p.static.PayloadLayout
	chunkLayout, payloadOffset := SampleLayout(elemLayout, n)
	ptr, err := p.pool.Allocate(chunkLayout)
	if err != nil {
		return nil, PublisherLoanErrorOutOfMemory
	}

	header := SampleHeader{PublisherID: p.id, PayloadLayout: PayloadLayout(elemLayout, n)}
	header.EncodeInto(ptr.Data[:payloadOffset])
	p.loanCounter.Add(1)
	loanedSamples.WithLabelValues(p.id.String()).Inc()

	return &SampleMut{
		publisher: p,
		offset:    ptr.Offset,
		chunk:     ptr.Data,
		header:    header,
		payload:   ptr.Data[payloadOffset:],
		len:       n,
	}, nil
}

// LoanUninit loans one scalar sample with unspecified (not
// zero-initialized) payload contents.
func (p *Publisher) LoanUninit() (*SampleMut, error) {
	return p.loan(1)
}

// Loan loans one scalar sample with its payload zeroed.
func (p *Publisher) Loan() (*SampleMut, error) {
	s, err := p.loan(1)
	if err != nil {
		return nil, err
	}
	for i := range s.payload {
		s.payload[i] = 0
	}
	return s, nil
}

// LoanSliceUninit loans a sample of n elements with unspecified
// payload contents. It fails with ExceedsMaxLoanSize if n exceeds the
// publisher's configured max_slice_len.
func (p *Publisher) LoanSliceUninit(n uint64) (*SampleMut, error) {
	if p.config.MaxSliceLen != 0 && n > p.config.MaxSliceLen {
		return nil, PublisherLoanErrorExceedsMaxLoanSize
	}
	return p.loan(n)
}

// LoanSlice loans a sample of n elements with its payload zeroed.
func (p *Publisher) LoanSlice(n uint64) (*SampleMut, error) {
	s, err := p.LoanSliceUninit(n)
	if err != nil {
		return nil, err
	}
	for i := range s.payload {
		s.payload[i] = 0
	}
	return s, nil
}

// SendCopy loans a scalar sample, copies data into its payload, and
// sends it — the one-shot convenience path for callers that already
// have the bytes to send rather than writing in place.
func (p *Publisher) SendCopy(ctx context.Context, data []byte) (int, error) {
	sample, err := p.LoanUninit()
	if err != nil {
		if loanErr, ok := err.(PublisherLoanError); ok {
			return 0, sendErrorFromLoan(loanErr)
		}
		return 0, err
	}
	sample.Write(data)
	return sample.Send(ctx)
}

// send is invoked by SampleMut.Send. It refuses to deliver once the
// publisher has begun teardown, otherwise reconciling connections,
// retaining history, and handing the chunk to the delivery engine in
// that order.
func (p *Publisher) send(ctx context.Context, s *SampleMut) (int, error) {
	if !p.isActive.Load() {
		p.releaseLoan(s.offset, PayloadLayout(p.static.PayloadLayout, s.len))
		return 0, errPublisherNoLongerExists
	}

	if err := p.UpdateConnections(); err != nil {
		p.releaseLoan(s.offset, PayloadLayout(p.static.PayloadLayout, s.len))
		if cf, ok := err.(*ConnectionFailure); ok {
			return 0, &PublisherSendError{ConnErr: cf}
		}
		return 0, WrapError("pubsub.Publisher.send", err)
	}

	p.history.Push(s.offset)
	recipients, err := p.engine.Deliver(ctx, s.offset)

	// The loan's own borrow is released here: history and delivery took
	// their own borrows above, so this always drops the allocate-time
	// refcount contribution regardless of how many recipients there were.
	p.releaseLoan(s.offset, PayloadLayout(p.static.PayloadLayout, s.len))

	return recipients, err
}

// returnLoanedSample releases a loaned-but-never-sent sample, called
// from SampleMut.Close.
func (p *Publisher) returnLoanedSample(offset ChunkOffset) {
	p.releaseLoan(offset, p.static.PayloadLayout)
}

func (p *Publisher) releaseLoan(offset ChunkOffset, layout Layout) {
	p.pool.Release(offset, layout)
	p.loanCounter.Add(^uint64(0))
	loanedSamples.WithLabelValues(p.id.String()).Dec()
}

// Close tears the publisher down: it stops accepting sends, releases
// retained history, and unregisters from the dynamic registry. It does
// not release samples the caller still holds loaned; those must be
// closed or sent first.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	p.isActive.Store(false)
	p.history.Clear()
	p.registry.ReleasePublisherHandle(p.regHandle)
	return p.segment.Close()
}
