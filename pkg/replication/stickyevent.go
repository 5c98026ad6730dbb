// Copyright 2026 Fluxlog, Inc.

package replication

import "sync"

// StickyEvent is a latched, multi-consumer cancellation signal: once
// triggered it stays triggered, and every observer sees it on its next
// select/await. It generalizes the closed-channel shutdown idiom used
// throughout the teacher's ambient stack (grpcapi.GRPCServer.Stop's
// stopped-channel, throttle.Throttler's stopChan) into a reusable type so
// every long-lived task in this package (leader pull-handler, follower pull
// loop, controller) shares one cancellation discipline.
//
// Trigger is idempotent: calling it more than once is a no-op.
type StickyEvent struct {
	once sync.Once
	ch   chan struct{}
}

// NewStickyEvent returns a StickyEvent that has not fired.
func NewStickyEvent() *StickyEvent {
	return &StickyEvent{ch: make(chan struct{})}
}

// Trigger latches the event. Safe to call from any goroutine, any number of
// times.
func (e *StickyEvent) Trigger() {
	e.once.Do(func() { close(e.ch) })
}

// Done returns a channel that is closed once Trigger has been called. Every
// caller gets the same channel, so any number of consumers may select on it
// concurrently.
func (e *StickyEvent) Done() <-chan struct{} {
	return e.ch
}

// IsTriggered reports whether Trigger has already been called, without
// blocking.
func (e *StickyEvent) IsTriggered() bool {
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}
