// Copyright 2026 Fluxlog, Inc.

package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluxlog/fluxlog/pkg/logger"
	"github.com/fluxlog/fluxlog/pkg/metrics"
	"github.com/fluxlog/fluxlog/pkg/replication"
)

// noOffset marks "nothing seen/committed/flushed yet".
const noOffset int64 = -1

// SinglePartitionStream wraps one partition's record stream with an offset
// management discipline selected at construction.
type SinglePartitionStream struct {
	topic     string
	partition int32
	inner     RecordStream
	cfg       Config
	toServer  chan<- FlushRequest
	logger    *logger.Logger

	mu            sync.Mutex
	lastSeen      int64
	committed     int64
	lastFlushed   int64
	lastFlushTime time.Time

	stop        *replication.StickyEvent
	flusherDone chan struct{}
}

// NewSinglePartitionStream wraps inner for (topic, partition). Flush
// requests are delivered on toServer; the surrounding client forwards them
// to the SPU. Under Auto a background flusher starts immediately.
func NewSinglePartitionStream(topic string, partition int32, inner RecordStream, toServer chan<- FlushRequest, cfg Config) *SinglePartitionStream {
	cfg.withDefaults()

	s := &SinglePartitionStream{
		topic:         topic,
		partition:     partition,
		inner:         inner,
		cfg:           cfg,
		toServer:      toServer,
		logger:        logger.Default().WithComponent("consumer").WithFields("topic", topic, "partition", partition),
		lastSeen:      noOffset,
		committed:     noOffset,
		lastFlushed:   noOffset,
		lastFlushTime: time.Now(),
		stop:          replication.NewStickyEvent(),
		flusherDone:   make(chan struct{}),
	}

	if cfg.Strategy == OffsetAuto {
		go s.flushLoop()
	} else {
		close(s.flusherDone)
	}
	return s
}

// Next yields the next record. Under Auto the record's offset is committed
// before Next returns, and a flush is attempted when FlushPeriod has
// already elapsed, so a slow consumer still persists progress on the
// delivery path.
func (s *SinglePartitionStream) Next(ctx context.Context) (Record, error) {
	if s.stop.IsTriggered() {
		return Record{}, ErrClosed
	}

	ctx, cancel := s.stoppableContext(ctx)
	defer cancel()

	rec, err := s.inner.Next(ctx)
	if err != nil {
		if s.stop.IsTriggered() {
			return Record{}, ErrClosed
		}
		return Record{}, err
	}

	s.noteYield(rec)
	return rec, nil
}

// noteYield records a delivered record: tracks last-seen, commits under
// Auto, and flushes on the delivery path when the period already elapsed.
// The multi-partition merge calls this at its own yield point so a
// prefetched record is never committed before the caller receives it.
func (s *SinglePartitionStream) noteYield(rec Record) {
	metrics.RecordConsumerRecord(s.topic, s.partition)

	s.mu.Lock()
	s.lastSeen = rec.Offset
	s.mu.Unlock()

	if s.cfg.Strategy != OffsetAuto {
		return
	}
	s.commit(rec.Offset)

	s.mu.Lock()
	due := time.Since(s.lastFlushTime) >= s.cfg.FlushPeriod
	s.mu.Unlock()
	if due {
		if err := s.tryFlush(); err != nil {
			s.logger.Warn("delivery-path flush failed", "error", err)
		}
	}
}

// commit advances the in-process committed offset. Committed offsets are
// monotonically non-decreasing per partition.
func (s *SinglePartitionStream) commit(offset int64) {
	s.mu.Lock()
	if offset > s.committed {
		s.committed = offset
		metrics.UpdateCommittedOffset(s.topic, s.partition, offset)
	}
	s.mu.Unlock()
}

// OffsetCommit marks the last-seen offset committed, in process only.
func (s *SinglePartitionStream) OffsetCommit() error {
	if s.cfg.Strategy == OffsetNone {
		return ErrOffsetManagementDisabled
	}

	s.mu.Lock()
	lastSeen := s.lastSeen
	s.mu.Unlock()
	if lastSeen == noOffset {
		return nil
	}
	s.commit(lastSeen)
	return nil
}

// OffsetFlush sends one flush request for the committed offset and awaits
// the server's ack, returning its error verbatim.
func (s *SinglePartitionStream) OffsetFlush(ctx context.Context) error {
	if s.cfg.Strategy == OffsetNone {
		return ErrOffsetManagementDisabled
	}

	s.mu.Lock()
	committed := s.committed
	s.mu.Unlock()
	if committed == noOffset {
		return ErrNothingCommitted
	}
	return s.sendFlush(ctx, committed)
}

// tryFlush is the auto-path flush: it skips when nothing new has been
// committed since the last successful flush, and refreshes lastFlushTime
// regardless of outcome so a failing server is retried on the next period
// rather than hammered every check.
func (s *SinglePartitionStream) tryFlush() error {
	s.mu.Lock()
	committed := s.committed
	alreadyFlushed := committed == s.lastFlushed
	s.lastFlushTime = time.Now()
	s.mu.Unlock()

	if committed == noOffset || alreadyFlushed {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushTimeout)
	defer cancel()
	return s.sendFlush(ctx, committed)
}

func (s *SinglePartitionStream) sendFlush(ctx context.Context, offset int64) error {
	start := time.Now()
	result := make(chan error, 1)

	select {
	case s.toServer <- FlushRequest{Topic: s.topic, Partition: s.partition, Offset: offset, Result: result}:
	case <-ctx.Done():
		return fmt.Errorf("consumer: flush request not accepted: %w", ctx.Err())
	}

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		err = fmt.Errorf("consumer: flush ack timed out: %w", ctx.Err())
	}

	metrics.RecordConsumerFlush(time.Since(start), err)
	if err == nil {
		s.mu.Lock()
		if offset > s.lastFlushed {
			s.lastFlushed = offset
		}
		s.lastFlushTime = time.Now()
		s.mu.Unlock()
	}
	return err
}

// flushLoop is the Auto background task: every FlusherCheckPeriod it
// checks whether FlushPeriod has elapsed and attempts a flush if so. The
// stop signal causes one final attempt and exit.
func (s *SinglePartitionStream) flushLoop() {
	defer close(s.flusherDone)

	ticker := time.NewTicker(s.cfg.FlusherCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			due := time.Since(s.lastFlushTime) >= s.cfg.FlushPeriod
			s.mu.Unlock()
			if due {
				if err := s.tryFlush(); err != nil {
					s.logger.Warn("periodic flush failed", "error", err)
				}
			}
		case <-s.stop.Done():
			if err := s.tryFlush(); err != nil {
				s.logger.Warn("final flush failed", "error", err)
			}
			return
		}
	}
}

// Close ends the stream. Under Auto it commits the last-seen offset, lets
// the background task perform one final best-effort flush, and waits for
// it to stop. The stop signal is idempotent; repeated Close calls are
// no-ops.
func (s *SinglePartitionStream) Close() {
	if s.cfg.Strategy == OffsetAuto && !s.stop.IsTriggered() {
		s.OffsetCommit()
	}
	s.stop.Trigger()
	<-s.flusherDone
}

// Committed returns the in-process committed offset, or -1 if none.
func (s *SinglePartitionStream) Committed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

// LastSeen returns the last yielded offset, or -1 if none.
func (s *SinglePartitionStream) LastSeen() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Topic and Partition identify the wrapped partition.
func (s *SinglePartitionStream) Topic() string    { return s.topic }
func (s *SinglePartitionStream) Partition() int32 { return s.partition }

// stoppableContext derives a context cancelled when either the parent is
// done or the stream is closed, so a blocked Next observes Close.
func (s *SinglePartitionStream) stoppableContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-s.stop.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
