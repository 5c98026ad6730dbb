// Copyright 2026 Fluxlog, Inc.

// Package producer implements the client-side partition producer: per
// partition batching with linger and size triggers, at-most-once or
// at-least-once delivery against the partition leader, and reconnect
// backoff (C7).
package producer

import (
	"time"

	"github.com/fluxlog/fluxlog/pkg/compression"
)

// DeliverySemantic selects what the producer guarantees about a sent batch.
type DeliverySemantic int

const (
	// AtLeastOnce retries failed sends under the retry policy; the broker
	// may observe duplicates.
	AtLeastOnce DeliverySemantic = iota
	// AtMostOnce sends once and never retries; a transport failure loses
	// the batch.
	AtMostOnce
)

func (d DeliverySemantic) String() string {
	if d == AtMostOnce {
		return "at-most-once"
	}
	return "at-least-once"
}

// RetryPolicy is an ordered, finite sequence of delays between produce
// attempts, bounded overall by Timeout. The first attempt is immediate;
// attempt N+1 waits Delays[N]. Exhausting Delays or Timeout surfaces
// ErrRetriesExhausted.
type RetryPolicy struct {
	Delays  []time.Duration
	Timeout time.Duration
}

// DefaultRetryPolicy doubles from 100ms and gives up after four retries or
// 30 seconds, whichever comes first.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Delays:  []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond},
		Timeout: 30 * time.Second,
	}
}

// BatchEvent describes one completed batch, passed to the optional
// finished callback.
type BatchEvent struct {
	CreatedAt  time.Time
	Topic      string
	Partition  int32
	Bytes      int
	RecordsLen int
	Elapsed    time.Duration
	Err        error
}

// Config tunes one topic producer.
type Config struct {
	// BatchSizeMax caps the accumulated payload bytes per batch; reaching
	// it triggers an immediate flush of that batch.
	BatchSizeMax int

	// Linger is the longest a record waits for the batch to fill before
	// the batch is sent anyway.
	Linger time.Duration

	// Timeout bounds each produce RPC.
	Timeout time.Duration

	Delivery    DeliverySemantic
	Retry       RetryPolicy
	Compression compression.Type

	// Isolation is carried on every produce request: "read_committed"
	// asks the leader to ack only once the batch is covered by the high
	// watermark; empty defaults to ack-on-append.
	Isolation string

	// Finished, if set, is invoked once per completed batch, after the
	// send (successful or not). Panics and errors inside the callback are
	// logged and never propagated.
	Finished func(BatchEvent)

	// Backoff parameterizes reconnect attempts toward the leader SPU.
	BackoffMin    time.Duration
	BackoffMax    time.Duration
	BackoffFactor float64
}

func (c *Config) withDefaults() {
	if c.BatchSizeMax <= 0 {
		c.BatchSizeMax = 16 * 1024
	}
	if c.Linger <= 0 {
		c.Linger = 100 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if len(c.Retry.Delays) == 0 && c.Retry.Timeout == 0 {
		c.Retry = DefaultRetryPolicy()
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = 100 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 10 * time.Second
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 2.0
	}
}
