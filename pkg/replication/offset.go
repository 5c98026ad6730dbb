// Copyright 2026 Fluxlog, Inc.

package replication

import (
	"context"
	"sync"
)

// OffsetPublisher is a single-writer, many-reader watch cell over an i64
// with change notification (C2). Leader and follower replica states each
// own one per LEO and one per HW; readers (pull sessions, produce-ack
// waiters, consumer fetch loops) observe changes without polling.
//
// There is no ordering guarantee across two different publishers: a reader
// watching both LEO and HW may observe either changing first.
type OffsetPublisher struct {
	mu     sync.Mutex
	value  int64
	waitCh chan struct{}
}

// NewOffsetPublisher creates a publisher seeded at initial.
func NewOffsetPublisher(initial int64) *OffsetPublisher {
	return &OffsetPublisher{value: initial, waitCh: make(chan struct{})}
}

// Update sets the value and wakes every waiter blocked in Listen/WaitAtLeast.
func (p *OffsetPublisher) Update(v int64) {
	p.mu.Lock()
	p.value = v
	old := p.waitCh
	p.waitCh = make(chan struct{})
	p.mu.Unlock()
	close(old)
}

// Current returns the latest published value.
func (p *OffsetPublisher) Current() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

// Listen blocks until the published value differs from last, then returns
// it. Calling Listen again with the value just returned gives the "lazy
// sequence of every distinct value observed after the call" semantics from
// the component contract: a slow reader skips intermediate values but
// always eventually observes the latest one, because Update always compares
// against the live value, never a queued backlog.
func (p *OffsetPublisher) Listen(ctx context.Context, last int64) (int64, error) {
	for {
		p.mu.Lock()
		v := p.value
		ch := p.waitCh
		p.mu.Unlock()

		if v != last {
			return v, nil
		}

		select {
		case <-ch:
			continue
		case <-ctx.Done():
			return v, ctx.Err()
		}
	}
}

// WaitAtLeast blocks until the published value is >= min, then returns it.
// This is the primitive a produce-ack waiter or a ReadCommitted consumer
// fetch builds on: "don't wake me until the high watermark has passed my
// offset of interest."
func (p *OffsetPublisher) WaitAtLeast(ctx context.Context, min int64) (int64, error) {
	for {
		p.mu.Lock()
		v := p.value
		ch := p.waitCh
		p.mu.Unlock()

		if v >= min {
			return v, nil
		}

		select {
		case <-ch:
			continue
		case <-ctx.Done():
			return v, ctx.Err()
		}
	}
}
