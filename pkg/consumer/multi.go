// Copyright 2026 Fluxlog, Inc.

package consumer

import (
	"context"
	"fmt"
	"sync"

	"github.com/fluxlog/fluxlog/pkg/replication"
)

// pumped is one prefetched record (or terminal error) from a partition.
type pumped struct {
	rec Record
	err error
}

// MultiPartitionStream merges N single-partition streams with a fair
// round-robin. Each partition has one pump goroutine holding at most one
// prefetched record; commit-on-yield happens only when the merge actually
// hands the record to the caller, so prefetching never commits an
// undelivered offset.
type MultiPartitionStream struct {
	streams []*SinglePartitionStream
	slots   []chan pumped
	notify  chan struct{}
	rr      int

	stop      *replication.StickyEvent
	cancel    context.CancelFunc
	pumpsDone sync.WaitGroup
	closeOnce sync.Once
}

// NewMultiPartitionStream starts one pump per stream and returns the
// merged view. The streams are owned by the merge from here on: Close
// closes them all.
func NewMultiPartitionStream(streams ...*SinglePartitionStream) *MultiPartitionStream {
	ctx, cancel := context.WithCancel(context.Background())

	m := &MultiPartitionStream{
		streams: streams,
		slots:   make([]chan pumped, len(streams)),
		notify:  make(chan struct{}, len(streams)),
		stop:    replication.NewStickyEvent(),
		cancel:  cancel,
	}

	for i, s := range streams {
		slot := make(chan pumped, 1)
		m.slots[i] = slot
		m.pumpsDone.Add(1)
		go m.pump(ctx, s, slot)
	}
	return m
}

// pump prefetches from one partition's inner stream, holding one record at
// a time until the merge takes it.
func (m *MultiPartitionStream) pump(ctx context.Context, s *SinglePartitionStream, slot chan pumped) {
	defer m.pumpsDone.Done()

	for {
		rec, err := s.inner.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			err = fmt.Errorf("partition %s/%d: %w", s.topic, s.partition, err)
		}

		select {
		case slot <- pumped{rec: rec, err: err}:
			m.wake()
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (m *MultiPartitionStream) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Next yields the next record across all partitions. Ready partitions are
// served strictly round-robin; when none is ready it blocks until a pump
// delivers.
func (m *MultiPartitionStream) Next(ctx context.Context) (Record, error) {
	if m.stop.IsTriggered() {
		return Record{}, ErrClosed
	}

	for {
		for i := 0; i < len(m.slots); i++ {
			idx := (m.rr + i) % len(m.slots)
			select {
			case item := <-m.slots[idx]:
				m.rr = idx + 1
				if item.err != nil {
					return Record{}, item.err
				}
				m.streams[idx].noteYield(item.rec)
				return item.rec, nil
			default:
			}
		}

		select {
		case <-m.notify:
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case <-m.stop.Done():
			return Record{}, ErrClosed
		}
	}
}

// OffsetCommit commits the last-seen offset on every partition; the first
// error short-circuits.
func (m *MultiPartitionStream) OffsetCommit() error {
	for _, s := range m.streams {
		if err := s.OffsetCommit(); err != nil {
			return err
		}
	}
	return nil
}

// OffsetFlush flushes every partition concurrently and joins. The first
// error observed is returned, but every flush runs to completion so the
// others' side effects are preserved.
func (m *MultiPartitionStream) OffsetFlush(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, len(m.streams))

	for i, s := range m.streams {
		wg.Add(1)
		go func(i int, s *SinglePartitionStream) {
			defer wg.Done()
			errs[i] = s.OffsetFlush(ctx)
		}(i, s)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Close stops the pumps and closes every partition stream (running each
// one's flush-on-close discipline). Idempotent.
func (m *MultiPartitionStream) Close() {
	m.closeOnce.Do(func() {
		m.stop.Trigger()
		m.cancel()
		m.pumpsDone.Wait()
		for _, s := range m.streams {
			s.Close()
		}
	})
}
