// Copyright 2026 Fluxlog, Inc.

package replication

import (
	"context"
	"fmt"
	"sync"
	"time"
	"weak"

	"go.uber.org/zap"

	"github.com/fluxlog/fluxlog/pkg/storage/log"
)

// LeaderReplica owns the log store for a partition on the leader SPU. It
// serializes appends, maintains LEO/HW, and recomputes the high watermark
// from the in-sync-replica set on every follower report (C4).
type LeaderReplica struct {
	cfg Config
	log *log.Store

	leo *OffsetPublisher
	hw  *OffsetPublisher

	// writeMu serializes write_record_set and update_follower: both mutate
	// leo/hw/followers, and the leader task is the single writer for this
	// replica's state (spec.md §5).
	writeMu sync.Mutex

	followers map[int32]*FollowerState

	statusMu      sync.Mutex
	statusPending *LRS
	statusCh      chan struct{}

	offsetPubsMu       sync.Mutex
	offsetPubs         []weak.Pointer[OffsetPublisher]
	offsetPubRegisters int

	logger *zap.Logger
}

// NewLeaderReplica installs a leader for cfg over store. Followers start in
// the Unknown state (LEO=-1); store.LEO() seeds the leader's own LEO (used
// during promotion, where the log already has data).
func NewLeaderReplica(cfg Config, store *log.Store, logger *zap.Logger) (*LeaderReplica, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	maxLagOffsets := cfg.MaxLagOffsets
	if maxLagOffsets <= 0 {
		maxLagOffsets = DefaultMaxLagOffsets
	}
	maxLagTime := cfg.MaxLagTime
	if maxLagTime <= 0 {
		maxLagTime = DefaultMaxLagTime
	}

	l := &LeaderReplica{
		cfg:       cfg,
		log:       store,
		leo:       NewOffsetPublisher(store.LEO()),
		hw:        NewOffsetPublisher(0),
		followers: make(map[int32]*FollowerState, len(cfg.Replicas)-1),
		statusCh:  make(chan struct{}, 1),
		logger:    logger.With(zap.String("replica", cfg.ID.String())),
	}

	for _, id := range cfg.FollowerIDs() {
		l.followers[id] = NewFollowerState(maxLagOffsets, maxLagTime)
	}

	return l, nil
}

// LEO returns the current log end offset.
func (l *LeaderReplica) LEO() int64 { return l.leo.Current() }

// HW returns the current high watermark.
func (l *LeaderReplica) HW() int64 { return l.hw.Current() }

// LEOPublisher / HWPublisher expose the underlying watch cells so transport
// handlers (the FollowerFetch long-poll, produce-ack waiters) can block on
// changes without the leader needing to know about sessions explicitly.
func (l *LeaderReplica) LEOPublisher() *OffsetPublisher { return l.leo }
func (l *LeaderReplica) HWPublisher() *OffsetPublisher  { return l.hw }

// WriteRecordSet appends a batch to the log, assigning base_offset =
// LEO_before, and advances LEO atomically with the append. It does not wait
// for the high watermark to advance; callers needing an ack wait on
// HWPublisher().WaitAtLeast.
func (l *LeaderReplica) WriteRecordSet(records []log.Record) (log.Batch, error) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	batch, err := l.log.Append(records)
	if err != nil {
		return log.Batch{}, fmt.Errorf("%w: %v", ErrLogIO, err)
	}

	l.leo.Update(batch.NextOffset())

	// The leader always counts toward its own LEO/ISR; recompute in case a
	// lone leader (no followers, or quorum already satisfied) can advance
	// immediately.
	l.recomputeHWLocked()

	return batch, nil
}

// UpdateFollower applies a follower's reported (leo, hw) — received on a
// FollowerFetch request — and recomputes the high watermark under the
// leader's single-writer discipline (I3).
func (l *LeaderReplica) UpdateFollower(followerID int32, leo, hw int64) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	fs, ok := l.followers[followerID]
	if !ok {
		return fmt.Errorf("%w: follower %d", ErrReplicaNotFound, followerID)
	}

	fs.Update(leo, hw, time.Now())
	l.recomputeHWLocked()
	return nil
}

// recomputeHWLocked implements I3: HW_new = max(HW_old, quorum_min(ISR))
// where ISR = {leader} ∪ {followers with in_sync=true}, and quorum_min is
// only defined (and the candidate used) when |ISR| >= MinInSyncReplicas.
// Must be called with writeMu held.
func (l *LeaderReplica) recomputeHWLocked() {
	now := time.Now()
	leaderLEO := l.leo.Current()

	isrSize := 1 // the leader
	minLEO := leaderLEO
	for _, fs := range l.followers {
		if fs.InSync(leaderLEO, now) {
			isrSize++
			if fs.LEO() < minLEO {
				minLEO = fs.LEO()
			}
		}
	}

	oldHW := l.hw.Current()
	newHW := oldHW
	if isrSize >= l.cfg.MinInSyncReplicas && minLEO > oldHW {
		newHW = minLEO
	}

	if newHW < oldHW {
		panic(fmt.Sprintf("replication: high watermark regressed for %s: %d -> %d", l.cfg.ID, oldHW, newHW))
	}
	if newHW > leaderLEO {
		panic(fmt.Sprintf("replication: high watermark %d exceeds LEO %d for %s", newHW, leaderLEO, l.cfg.ID))
	}

	if newHW != oldHW {
		l.hw.Update(newHW)
		l.enqueueStatusLocked(newHW, leaderLEO, now)
	}
}

// enqueueStatusLocked queues (replacing any unread snapshot) the latest LRS
// for the control plane. Must be called with writeMu held.
func (l *LeaderReplica) enqueueStatusLocked(hw, leo int64, now time.Time) {
	followers := make(map[int32]FollowerSnapshot, len(l.followers))
	for id, fs := range l.followers {
		followers[id] = fs.Snapshot(leo, now)
	}
	snapshot := LRS{ID: l.cfg.ID, LEO: leo, HW: hw, Followers: followers}

	l.statusMu.Lock()
	l.statusPending = &snapshot
	l.statusMu.Unlock()

	select {
	case l.statusCh <- struct{}{}:
	default:
	}
}

// NextStatusUpdate blocks until a status update is pending (or ctx is
// done), returning the latest snapshot. Multiple HW advances between calls
// coalesce into one delivery, per spec.md §4.3.
func (l *LeaderReplica) NextStatusUpdate(ctx context.Context) (LRS, error) {
	select {
	case <-l.statusCh:
	case <-ctx.Done():
		return LRS{}, ctx.Err()
	}

	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	if l.statusPending == nil {
		return LRS{}, nil
	}
	snapshot := *l.statusPending
	l.statusPending = nil
	return snapshot, nil
}

// ReadRecords returns the batches in [fromOffset, end) where end is LEO for
// ReadUncommitted or HW for ReadCommitted, bounded by maxBatches (0 =
// unlimited).
func (l *LeaderReplica) ReadRecords(fromOffset int64, maxBatches int, isolation Isolation) ([]log.Batch, error) {
	end := l.hw.Current()
	if isolation == ReadUncommitted {
		end = l.leo.Current()
	}
	if fromOffset > end {
		return nil, nil
	}
	return l.log.ReadRange(fromOffset, end, maxBatches), nil
}

// RegisterOffsetPublisher records a weak reference to a consumer-owned
// offset publisher, used by the control plane / diagnostics layer to watch
// this replica's HW without the leader holding a strong reference to every
// consumer that ever fetched from it (spec.md §9: bounded memory under
// consumer churn). Every CleanupFrequency registrations the set is
// compacted, dropping entries whose publisher has been released.
func (l *LeaderReplica) RegisterOffsetPublisher(p *OffsetPublisher) {
	l.offsetPubsMu.Lock()
	defer l.offsetPubsMu.Unlock()

	l.offsetPubs = append(l.offsetPubs, weak.Make(p))
	l.offsetPubRegisters++

	if l.offsetPubRegisters%CleanupFrequency == 0 {
		l.compactOffsetPubsLocked()
	}
}

// compactOffsetPubsLocked drops entries whose publisher has been garbage
// collected. Must be called with offsetPubsMu held.
func (l *LeaderReplica) compactOffsetPubsLocked() {
	live := l.offsetPubs[:0]
	for _, ref := range l.offsetPubs {
		if ref.Value() != nil {
			live = append(live, ref)
		}
	}
	l.offsetPubs = live
}

// LiveOffsetPublishers returns the currently-live set of registered
// publishers, for diagnostics and tests. It does not itself compact.
func (l *LeaderReplica) LiveOffsetPublishers() []*OffsetPublisher {
	l.offsetPubsMu.Lock()
	defer l.offsetPubsMu.Unlock()

	out := make([]*OffsetPublisher, 0, len(l.offsetPubs))
	for _, ref := range l.offsetPubs {
		if p := ref.Value(); p != nil {
			out = append(out, p)
		}
	}
	return out
}

// FollowersInfo returns a diagnostic snapshot of every follower's state.
func (l *LeaderReplica) FollowersInfo() map[int32]FollowerSnapshot {
	now := time.Now()
	leaderLEO := l.leo.Current()

	out := make(map[int32]FollowerSnapshot, len(l.followers))
	for id, fs := range l.followers {
		out[id] = fs.Snapshot(leaderLEO, now)
	}
	return out
}

// Config returns the replica's configuration.
func (l *LeaderReplica) Config() Config { return l.cfg }

// Log returns the underlying log store, used only during promotion to hand
// ownership of the file handle to the new leader state without reopening it.
func (l *LeaderReplica) Log() *log.Store { return l.log }
