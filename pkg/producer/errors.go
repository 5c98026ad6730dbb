// Copyright 2026 Fluxlog, Inc.

package producer

import "errors"

var (
	// ErrClosed is returned by Send/Flush after Close has been called.
	ErrClosed = errors.New("producer: closed")

	// ErrLeaderNotFound is returned when the partition registry has no
	// leader for the addressed partition. Under at-least-once delivery the
	// run loop refreshes metadata and retries before surfacing it.
	ErrLeaderNotFound = errors.New("producer: partition leader not found")

	// ErrRetriesExhausted is returned when every delay in the retry policy
	// has been consumed (or its timeout elapsed) without a successful send.
	ErrRetriesExhausted = errors.New("producer: retries exhausted")

	// ErrRecordTooLarge is returned by Send when a single record exceeds
	// the configured maximum batch size and can never be batched.
	ErrRecordTooLarge = errors.New("producer: record exceeds batch size max")
)
