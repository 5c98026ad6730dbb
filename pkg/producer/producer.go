// Copyright 2026 Fluxlog, Inc.

package producer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluxlog/fluxlog/pkg/logger"
	"github.com/fluxlog/fluxlog/pkg/metrics"
	"github.com/fluxlog/fluxlog/pkg/replication"
	"github.com/fluxlog/fluxlog/pkg/throttle"
)

// Producer batches records per partition for one topic and routes each
// flush to the current partition leaders. Four condition sources wake the
// run loop: shutdown, an explicit flush request, a batch reaching its size
// cap, and the first record of a new batch (which arms the linger timer).
type Producer struct {
	topic     string
	cfg       Config
	cluster   ClusterClient
	acc       *accumulator
	throttler *throttle.Throttler
	logger    *logger.Logger

	end         *replication.StickyEvent
	flushCh     chan chan error
	batchFullCh chan struct{}
	newBatchCh  chan struct{}
	done        chan struct{}

	errMu   sync.Mutex
	lastErr error
}

// New creates a producer for topic and starts its run loop. throttler may
// be nil to disable byte-rate limiting.
func New(topic string, cluster ClusterClient, cfg Config, throttler *throttle.Throttler) *Producer {
	cfg.withDefaults()

	p := &Producer{
		topic:       topic,
		cfg:         cfg,
		cluster:     cluster,
		acc:         newAccumulator(cfg.BatchSizeMax),
		throttler:   throttler,
		logger:      logger.Default().WithComponent("producer").WithFields("topic", topic),
		end:         replication.NewStickyEvent(),
		flushCh:     make(chan chan error),
		batchFullCh: make(chan struct{}, 1),
		newBatchCh:  make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	go p.run()
	return p
}

// Send queues one record for partition. It returns quickly: the record is
// accumulated and the run loop sends it when a flush trigger fires. A
// previous run-loop failure is surfaced here (and cleared), per the
// stored-last-error contract.
func (p *Producer) Send(ctx context.Context, partition int32, rec Record) error {
	if p.end.IsTriggered() {
		return ErrClosed
	}
	if err := p.takeLastError(); err != nil {
		return err
	}

	size := len(rec.Key) + len(rec.Value)
	if size > p.cfg.BatchSizeMax {
		return fmt.Errorf("%w: %d bytes > %d", ErrRecordTooLarge, size, p.cfg.BatchSizeMax)
	}

	if p.throttler != nil {
		if err := p.throttler.AllowProducer(ctx, size); err != nil {
			return err
		}
	}

	full, fresh := p.acc.push(partition, rec, time.Now())
	if full {
		signal(p.batchFullCh)
	}
	if fresh {
		signal(p.newBatchCh)
	}
	return nil
}

// Flush forces every accumulated batch out and waits for the sends to
// complete, returning the first error observed.
func (p *Producer) Flush(ctx context.Context) error {
	ack := make(chan error, 1)
	select {
	case p.flushCh <- ack:
	case <-p.end.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close signals shutdown, flushes whatever is pending, and waits for the
// run loop to exit. Safe to call more than once.
func (p *Producer) Close(ctx context.Context) error {
	p.end.Trigger()
	select {
	case <-p.done:
		return p.takeLastError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PendingRecords reports how many records are accumulated but unsent.
func (p *Producer) PendingRecords() int { return p.acc.pendingRecords() }

func (p *Producer) run() {
	defer close(p.done)

	for {
		var lingerC <-chan time.Time
		var lingerTimer *time.Timer
		if oldest, ok := p.acc.oldestCreatedAt(); ok {
			wait := p.cfg.Linger - time.Since(oldest)
			if wait < 0 {
				wait = 0
			}
			lingerTimer = time.NewTimer(wait)
			lingerC = lingerTimer.C
		}
		stopLinger := func() {
			if lingerTimer != nil {
				lingerTimer.Stop()
			}
		}

		select {
		case <-p.end.Done():
			stopLinger()
			if err := p.sendReady(true); err != nil {
				p.storeErr(err)
			}
			return

		case ack := <-p.flushCh:
			stopLinger()
			ack <- p.sendReady(true)

		case <-p.batchFullCh:
			stopLinger()
			if err := p.sendReady(false); err != nil {
				p.storeErr(err)
			}

		case <-p.newBatchCh:
			// Re-arm the linger timer against the new oldest batch.
			stopLinger()

		case <-lingerC:
			if err := p.sendReady(false); err != nil {
				p.storeErr(err)
			}
		}
	}
}

// sendReady drains every ready batch and sends one ProduceRequest per
// partition leader. The first error is returned after every group has been
// attempted, so one failing leader never blocks the others' side effects.
func (p *Producer) sendReady(force bool) error {
	batches := p.acc.drainReady(time.Now(), p.cfg.Linger, force)
	if len(batches) == 0 {
		return nil
	}

	groups := make(map[int32][]readyBatch)
	var firstErr error
	for _, b := range batches {
		leader, err := p.cluster.LeaderFor(p.topic, b.partition)
		if err != nil {
			err = fmt.Errorf("%w: %s/%d: %v", ErrLeaderNotFound, p.topic, b.partition, err)
			p.finish(b, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		groups[leader] = append(groups[leader], b)
	}

	for leader, group := range groups {
		if err := p.sendGroup(leader, group); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// sendGroup sends one leader's batches, applying the configured delivery
// semantic.
func (p *Producer) sendGroup(leader int32, group []readyBatch) error {
	req, err := p.buildRequest(group)
	if err != nil {
		p.finishAll(group, err)
		return err
	}

	if p.cfg.Delivery == AtMostOnce {
		err := p.attempt(leader, req)
		p.finishAll(group, err)
		if err != nil {
			p.logger.Warn("at-most-once send failed, batch dropped", "leader", leader, "error", err)
		}
		return err
	}

	err = p.attemptWithRetry(leader, group, req)
	p.finishAll(group, err)
	return err
}

// attemptWithRetry drives the at-least-once loop: each failure consumes
// the next delay from the policy, re-resolving leadership before the retry
// so a migrated partition converges on its new leader. The policy's
// Timeout bounds the whole sequence.
func (p *Producer) attemptWithRetry(leader int32, group []readyBatch, req ProduceRequest) error {
	deadline := time.Now().Add(p.cfg.Retry.Timeout)

	err := p.attempt(leader, req)
	if err == nil {
		return nil
	}

	for _, delay := range p.cfg.Retry.Delays {
		if time.Now().Add(delay).After(deadline) {
			break
		}
		if !p.sleep(delay) {
			break
		}

		metrics.RecordProducerRetry(p.topic)
		p.logger.Debug("retrying produce", "leader", leader, "delay", delay, "error", err)

		// Metadata lookup is always fresh; follow the partition if its
		// leadership moved between attempts.
		if current, lookupErr := p.cluster.LeaderFor(p.topic, group[0].partition); lookupErr == nil {
			leader = current
		}

		err = p.attempt(leader, req)
		if err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %v", ErrRetriesExhausted, err)
}

// attempt performs a single produce RPC against one leader.
func (p *Producer) attempt(leader int32, req ProduceRequest) error {
	client, err := p.cluster.ConnectSPU(leader)
	if err != nil {
		return fmt.Errorf("connect spu %d: %w", leader, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
	defer cancel()

	resp, err := client.Produce(ctx, req)
	if err != nil {
		return err
	}
	for _, result := range resp.Partitions {
		if err := result.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Producer) buildRequest(group []readyBatch) (ProduceRequest, error) {
	partitions := make([]PartitionProduce, 0, len(group))
	for _, b := range group {
		pp, err := PartitionProduce{
			Partition:   b.partition,
			Compression: p.cfg.Compression,
			Records:     b.records,
		}.Sealed()
		if err != nil {
			return ProduceRequest{}, err
		}
		partitions = append(partitions, pp)
	}

	return ProduceRequest{
		Isolation: p.cfg.Isolation,
		Timeout:   p.cfg.Timeout,
		Topics:    []TopicProduce{{Name: p.topic, Partitions: partitions}},
	}, nil
}

func (p *Producer) finishAll(group []readyBatch, err error) {
	for _, b := range group {
		p.finish(b, err)
	}
}

// finish records metrics for a completed batch and invokes the optional
// callback. Callback panics are logged, never propagated.
func (p *Producer) finish(b readyBatch, err error) {
	elapsed := time.Since(b.createdAt)
	if err == nil {
		metrics.RecordProducerBatch(p.topic, b.partition, len(b.records), int64(b.bytes), elapsed)
	}

	if p.cfg.Finished == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("batch callback panicked", "panic", r)
		}
	}()
	p.cfg.Finished(BatchEvent{
		CreatedAt:  b.createdAt,
		Topic:      p.topic,
		Partition:  b.partition,
		Bytes:      b.bytes,
		RecordsLen: len(b.records),
		Elapsed:    elapsed,
		Err:        err,
	})
}

// sleep waits out a retry delay, returning false if shutdown interrupted
// it.
func (p *Producer) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-p.end.Done():
		return false
	}
}

func (p *Producer) storeErr(err error) {
	if err == nil {
		return
	}
	p.errMu.Lock()
	if p.lastErr == nil {
		p.lastErr = err
	}
	p.errMu.Unlock()
	p.logger.Error("producer run loop error", "error", err)
}

func (p *Producer) takeLastError() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	err := p.lastErr
	p.lastErr = nil
	return err
}

// LastError returns (without clearing) the stored run-loop error.
func (p *Producer) LastError() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.lastErr
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
