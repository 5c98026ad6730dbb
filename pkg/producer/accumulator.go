// Copyright 2026 Fluxlog, Inc.

package producer

import (
	"sync"
	"time"
)

// pendingBatch is one accumulating batch for a partition.
type pendingBatch struct {
	createdAt time.Time
	records   []Record
	bytes     int
	full      bool
}

// readyBatch is a batch popped from the accumulator for sending.
type readyBatch struct {
	partition int32
	createdAt time.Time
	records   []Record
	bytes     int
}

// accumulator holds the per-partition FIFO deques of accumulating batches.
// The guard is held only for push and drain critical sections; sending
// happens outside it.
type accumulator struct {
	mu           sync.RWMutex
	batchSizeMax int
	queues       map[int32][]*pendingBatch
}

func newAccumulator(batchSizeMax int) *accumulator {
	return &accumulator{
		batchSizeMax: batchSizeMax,
		queues:       make(map[int32][]*pendingBatch),
	}
}

// push appends a record to the partition's open batch, starting a new one
// when the open batch is full or absent. It reports whether the record
// filled a batch and whether it started a new one, so the run loop can be
// woken through the matching condition source.
func (a *accumulator) push(partition int32, rec Record, now time.Time) (batchFull, newBatch bool) {
	size := len(rec.Key) + len(rec.Value)

	a.mu.Lock()
	defer a.mu.Unlock()

	queue := a.queues[partition]
	var open *pendingBatch
	if n := len(queue); n > 0 && !queue[n-1].full {
		open = queue[n-1]
	}

	if open == nil || (open.bytes > 0 && open.bytes+size > a.batchSizeMax) {
		if open != nil {
			open.full = true
		}
		open = &pendingBatch{createdAt: now}
		a.queues[partition] = append(queue, open)
		newBatch = true
	}

	open.records = append(open.records, rec)
	open.bytes += size
	if open.bytes >= a.batchSizeMax {
		open.full = true
		batchFull = true
	}
	return batchFull, newBatch
}

// drainReady pops, per partition and in FIFO order, every batch that is
// full, older than linger, or (with force) simply non-empty. Submission
// order within a partition is preserved because only a prefix of each
// queue is ever popped.
func (a *accumulator) drainReady(now time.Time, linger time.Duration, force bool) []readyBatch {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []readyBatch
	for partition, queue := range a.queues {
		idx := 0
		for idx < len(queue) {
			b := queue[idx]
			ready := force || b.full || now.Sub(b.createdAt) >= linger
			if !ready || len(b.records) == 0 {
				break
			}
			out = append(out, readyBatch{
				partition: partition,
				createdAt: b.createdAt,
				records:   b.records,
				bytes:     b.bytes,
			})
			idx++
		}
		if idx == len(queue) {
			delete(a.queues, partition)
		} else if idx > 0 {
			a.queues[partition] = queue[idx:]
		}
	}
	return out
}

// oldestCreatedAt returns the creation time of the oldest accumulating
// batch, used to arm the linger wakeup. ok is false when nothing is
// pending.
func (a *accumulator) oldestCreatedAt() (oldest time.Time, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, queue := range a.queues {
		for _, b := range queue {
			if len(b.records) == 0 {
				continue
			}
			if !ok || b.createdAt.Before(oldest) {
				oldest = b.createdAt
				ok = true
			}
		}
	}
	return oldest, ok
}

// pendingRecords counts records not yet drained, for diagnostics/tests.
func (a *accumulator) pendingRecords() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	total := 0
	for _, queue := range a.queues {
		for _, b := range queue {
			total += len(b.records)
		}
	}
	return total
}
