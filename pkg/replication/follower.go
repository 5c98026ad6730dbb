// Copyright 2026 Fluxlog, Inc.

package replication

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fluxlog/fluxlog/pkg/storage/log"
)

// FollowerReplica pulls record batches from the leader and appends them
// locally, reporting its own progress on every request so the leader can
// recompute the ISR and high watermark (C5).
type FollowerReplica struct {
	cfg    Config
	selfID int32
	log    *log.Store
	client FollowerFetchClient

	leo *OffsetPublisher
	hw  *OffsetPublisher

	backoffMin, backoffMax time.Duration
	backoffFactor          float64
	maxWait                time.Duration

	stop   *StickyEvent
	logger *zap.Logger
}

// NewFollowerReplica builds a follower for cfg, pulling through client and
// appending into store. selfID must be one of cfg.FollowerIDs().
func NewFollowerReplica(cfg Config, selfID int32, store *log.Store, client FollowerFetchClient, logger *zap.Logger) *FollowerReplica {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &FollowerReplica{
		cfg:           cfg,
		selfID:        selfID,
		log:           store,
		client:        client,
		leo:           NewOffsetPublisher(store.LEO()),
		hw:            NewOffsetPublisher(0),
		backoffMin:    DefaultReconnectBackoffMin,
		backoffMax:    DefaultReconnectBackoffMax,
		backoffFactor: DefaultReconnectBackoffFactor,
		maxWait:       DefaultMaxIdlePullInterval,
		stop:          NewStickyEvent(),
		logger:        logger.With(zap.String("replica", cfg.ID.String()), zap.Int32("follower_id", selfID)),
	}
	if cfg.ReconnectBackoffMin > 0 {
		f.backoffMin = cfg.ReconnectBackoffMin
	}
	if cfg.ReconnectBackoffMax > 0 {
		f.backoffMax = cfg.ReconnectBackoffMax
	}
	if cfg.ReconnectBackoffFactor >= 1 {
		f.backoffFactor = cfg.ReconnectBackoffFactor
	}
	if cfg.MaxIdlePullInterval > 0 {
		f.maxWait = cfg.MaxIdlePullInterval
	}
	return f
}

// LEO returns the follower's own log end offset.
func (f *FollowerReplica) LEO() int64 { return f.leo.Current() }

// HW returns the high watermark as last reported by the leader, clipped to
// this follower's own LEO.
func (f *FollowerReplica) HW() int64 { return f.hw.Current() }

// LEOPublisher / HWPublisher expose the watch cells for local readers
// (fetch-from-follower requests honoring ReadUncommitted/ReadCommitted).
func (f *FollowerReplica) LEOPublisher() *OffsetPublisher { return f.leo }
func (f *FollowerReplica) HWPublisher() *OffsetPublisher  { return f.hw }

// Stop signals the pull loop to exit at its next opportunity.
func (f *FollowerReplica) Stop() { f.stop.Trigger() }

// Stopped reports whether Stop has been called.
func (f *FollowerReplica) Stopped() bool { return f.stop.IsTriggered() }

// Leader returns the leader SPU id this follower pulls from, as known from
// the control plane.
func (f *FollowerReplica) Leader() int32 { return f.cfg.LeaderID }

// Config returns the replica's configuration.
func (f *FollowerReplica) Config() Config { return f.cfg }

// Run drives the pull loop until ctx is cancelled or Stop is called: fetch,
// append, report, repeat. It implements the six-step loop from spec.md
// §4.4: request with current progress, append whatever comes back,
// truncate and retry on divergence, back off on transport errors, and wake
// promptly when the leader's long-poll has data instead of waiting out the
// full MaxWaitTime.
func (f *FollowerReplica) Run(ctx context.Context) error {
	backoff := f.backoffMin

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.stop.Done():
			return nil
		default:
		}

		resp, err := f.client.FetchFollower(ctx, FollowerFetchRequest{
			ReplicaID:   f.cfg.ID,
			FollowerID:  f.selfID,
			FetchOffset: f.log.LEO(),
			FollowerLEO: f.log.LEO(),
			FollowerHW:  f.hw.Current(),
			MaxWaitTime: f.maxWait,
		})
		if err != nil {
			f.logger.Warn("follower fetch failed, backing off", zap.Error(err), zap.Duration("backoff", backoff))
			if !f.sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, f.backoffFactor, f.backoffMax)
			continue
		}
		backoff = f.backoffMin

		if err := f.applyBatches(resp.Batches); err != nil {
			f.logger.Error("failed to apply replicated batches", zap.Error(err))
			return err
		}

		f.leo.Update(f.log.LEO())

		newHW := resp.LeaderHW
		if ownLEO := f.log.LEO(); newHW > ownLEO {
			newHW = ownLEO
		}
		if newHW > f.hw.Current() {
			f.hw.Update(newHW)
		}
	}
}

// applyBatches appends batches in order, detecting and repairing a single
// step of log divergence: if the leader's base offset does not match our
// LEO, we truncate to that offset and retry once (I4). A second mismatch
// indicates a bug in the leader's accounting and is returned as an error
// rather than looped on indefinitely.
func (f *FollowerReplica) applyBatches(batches []log.Batch) error {
	for _, b := range batches {
		if err := f.log.AppendAt(b.BaseOffset, b.Records); err != nil {
			if !log.IsBaseOffsetMismatch(err) {
				return err
			}
			f.logger.Warn("truncating on detected divergence", zap.Int64("to_offset", b.BaseOffset))
			f.log.Truncate(b.BaseOffset)
			if err := f.log.AppendAt(b.BaseOffset, b.Records); err != nil {
				return err
			}
		}
	}
	return nil
}

// sleep blocks for d or until ctx/stop fires, returning false if it did not
// complete the full sleep because of cancellation.
func (f *FollowerReplica) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-f.stop.Done():
		return false
	}
}

func nextBackoff(current time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		return max
	}
	if next <= 0 {
		return max
	}
	return next
}
