// Copyright 2026 Fluxlog, Inc.

package consumer

import "errors"

var (
	// ErrOffsetManagementDisabled is returned by OffsetCommit/OffsetFlush
	// when the stream was built with the None strategy.
	ErrOffsetManagementDisabled = errors.New("consumer: offset management disabled")

	// ErrClosed is returned by Next after the stream has been closed.
	ErrClosed = errors.New("consumer: stream closed")

	// ErrNothingCommitted is returned by an explicit OffsetFlush before any
	// record has been committed; there is no offset to report.
	ErrNothingCommitted = errors.New("consumer: no committed offset to flush")
)

// ServerError is a flush rejection the cluster reported by code (for
// example spu_offline), propagated verbatim to the caller.
type ServerError struct {
	Code string
}

func (e *ServerError) Error() string { return "consumer: server error: " + e.Code }
