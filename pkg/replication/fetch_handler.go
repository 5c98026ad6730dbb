// Copyright 2026 Fluxlog, Inc.

package replication

import (
	"context"
	"time"
)

// ServeFollowerFetch services one follower pull request against a leader:
// record the follower's progress, long-poll for new data if the log has
// nothing past the follower's fetch offset, and return whatever batches are
// available in offset order.
//
// The long-poll blocks on the leader's LEO publisher, so the follower wakes
// immediately on new writes instead of waiting out MaxWaitTime. The wait is
// bounded by req.MaxWaitTime and by ctx; an empty response after the wait
// is the liveness refresh the pull loop expects.
func ServeFollowerFetch(ctx context.Context, leader *LeaderReplica, req FollowerFetchRequest) (FollowerFetchResponse, error) {
	if err := leader.UpdateFollower(req.FollowerID, req.FollowerLEO, req.FollowerHW); err != nil {
		return FollowerFetchResponse{}, err
	}

	batches, err := leader.ReadRecords(req.FetchOffset, 0, ReadUncommitted)
	if err != nil {
		return FollowerFetchResponse{}, err
	}

	// Long-poll only when there is nothing to tell the follower: no batches
	// past its fetch offset and no HW advance it has not yet seen. Waking on
	// either keeps HW propagation prompt instead of riding the idle timeout.
	if len(batches) == 0 && req.MaxWaitTime > 0 && leader.HW() <= req.FollowerHW {
		waitCtx, cancel := context.WithTimeout(ctx, req.MaxWaitTime)
		woke := make(chan struct{}, 2)
		go func() {
			leader.LEOPublisher().WaitAtLeast(waitCtx, req.FetchOffset+1)
			woke <- struct{}{}
		}()
		go func() {
			leader.HWPublisher().WaitAtLeast(waitCtx, req.FollowerHW+1)
			woke <- struct{}{}
		}()
		select {
		case <-woke:
		case <-waitCtx.Done():
		}
		cancel()

		batches, err = leader.ReadRecords(req.FetchOffset, 0, ReadUncommitted)
		if err != nil {
			return FollowerFetchResponse{}, err
		}
	}

	return FollowerFetchResponse{
		LeaderLEO: leader.LEO(),
		LeaderHW:  leader.HW(),
		Batches:   batches,
	}, nil
}

// WaitForHW blocks until the leader's high watermark reaches at least
// offset, or the timeout elapses. Returns the high watermark observed last.
// Produce handlers use this to implement acknowledged writes without the
// leader itself ever waiting inside write_record_set.
func WaitForHW(ctx context.Context, leader *LeaderReplica, offset int64, timeout time.Duration) (int64, error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return leader.HWPublisher().WaitAtLeast(waitCtx, offset)
}
