// Copyright 2026 Fluxlog, Inc.

// Package consumer implements the client consumer stream core: per
// partition record streams with pluggable offset management, a fair
// multi-partition merge, periodic background flush, and flush-on-close
// (C8).
package consumer

import (
	"context"
	"fmt"
	"time"
)

// OffsetManagement selects how a stream tracks and persists consumed
// offsets.
type OffsetManagement int

const (
	// OffsetNone disables offset tracking; commit and flush fail.
	OffsetNone OffsetManagement = iota
	// OffsetManual tracks the last-seen offset but commits only when the
	// caller asks, and persists only on explicit flush.
	OffsetManual
	// OffsetAuto commits on every yield and flushes periodically in the
	// background, plus once on close.
	OffsetAuto
)

func (m OffsetManagement) String() string {
	switch m {
	case OffsetManual:
		return "manual"
	case OffsetAuto:
		return "auto"
	default:
		return "none"
	}
}

// ParseOffsetManagement maps a config string to a strategy.
func ParseOffsetManagement(s string) (OffsetManagement, error) {
	switch s {
	case "", "none":
		return OffsetNone, nil
	case "manual":
		return OffsetManual, nil
	case "auto":
		return OffsetAuto, nil
	default:
		return OffsetNone, fmt.Errorf("consumer: unknown offset strategy %q", s)
	}
}

// Record is one message yielded by a stream.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
}

// RecordStream is the inner per-partition record source a stream wraps;
// pkg/rpcapi provides the fetch-backed implementation. Next blocks until a
// record is available or ctx is done.
type RecordStream interface {
	Next(ctx context.Context) (Record, error)
}

// FlushRequest is the stream-to-server message asking the cluster to
// persist a committed offset. Result receives the server's verdict: nil on
// ack, a ServerError (or transport error) otherwise.
type FlushRequest struct {
	Topic     string
	Partition int32
	Offset    int64
	Result    chan<- error
}

// Config tunes one partition stream's offset management.
type Config struct {
	Strategy OffsetManagement

	// FlushPeriod is how much time may pass between persisted flushes
	// under Auto.
	FlushPeriod time.Duration

	// FlusherCheckPeriod is how often the background task re-evaluates
	// whether FlushPeriod has elapsed.
	FlusherCheckPeriod time.Duration

	// FlushTimeout bounds each flush round trip.
	FlushTimeout time.Duration
}

func (c *Config) withDefaults() {
	if c.FlushPeriod <= 0 {
		c.FlushPeriod = 10 * time.Second
	}
	if c.FlusherCheckPeriod <= 0 {
		c.FlusherCheckPeriod = 100 * time.Millisecond
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 5 * time.Second
	}
}
