// Copyright 2026 Fluxlog, Inc.

package replication

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fluxlog/fluxlog/pkg/storage/log"
)

// leaderBackedClient adapts a LeaderReplica directly into a
// FollowerFetchClient, in-process, standing in for pkg/rpcapi in tests.
type leaderBackedClient struct {
	leader     *LeaderReplica
	followerID int32
}

func (c *leaderBackedClient) FetchFollower(ctx context.Context, req FollowerFetchRequest) (FollowerFetchResponse, error) {
	if err := c.leader.UpdateFollower(c.followerID, req.FollowerLEO, req.FollowerHW); err != nil {
		return FollowerFetchResponse{}, err
	}

	waitCtx := ctx
	if req.MaxWaitTime > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, req.MaxWaitTime)
		defer cancel()
	}
	_, _ = c.leader.LEOPublisher().WaitAtLeast(waitCtx, req.FetchOffset+1)

	batches, err := c.leader.ReadRecords(req.FetchOffset, 0, ReadUncommitted)
	if err != nil {
		return FollowerFetchResponse{}, err
	}
	return FollowerFetchResponse{LeaderLEO: c.leader.LEO(), LeaderHW: c.leader.HW(), Batches: batches}, nil
}

// flakyClient fails the first N calls before delegating.
type flakyClient struct {
	mu        sync.Mutex
	failsLeft int
	delegate  FollowerFetchClient
}

func (c *flakyClient) FetchFollower(ctx context.Context, req FollowerFetchRequest) (FollowerFetchResponse, error) {
	c.mu.Lock()
	if c.failsLeft > 0 {
		c.failsLeft--
		c.mu.Unlock()
		return FollowerFetchResponse{}, errors.New("transport unavailable")
	}
	c.mu.Unlock()
	return c.delegate.FetchFollower(ctx, req)
}

func newTestFollowerPair(t *testing.T, minISR int) (*LeaderReplica, *FollowerReplica) {
	t.Helper()
	cfg := Config{
		ID:                ID{Topic: "orders", Partition: 0},
		LeaderID:          1,
		Replicas:          []int32{1, 2},
		MinInSyncReplicas: minISR,
	}
	leader, err := NewLeaderReplica(cfg, log.NewStore(log.Config{}), nil)
	require.NoError(t, err)

	client := &leaderBackedClient{leader: leader, followerID: 2}
	follower := NewFollowerReplica(cfg, 2, log.NewStore(log.Config{}), client, nil)
	follower.maxWait = 50 * time.Millisecond
	return leader, follower
}

func TestFollowerReplicaSingleFetchApplies(t *testing.T) {
	leader, follower := newTestFollowerPair(t, 1)
	_, err := leader.WriteRecordSet([]log.Record{{Value: []byte("a")}, {Value: []byte("b")}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		follower.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return follower.LEO() == 2 }, time.Second, time.Millisecond)
	follower.Stop()
	<-done
}

func TestFollowerReplicaConvergesAndAdvancesLeaderHW(t *testing.T) {
	leader, follower := newTestFollowerPair(t, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go follower.Run(ctx)

	for i := 0; i < 5; i++ {
		_, err := leader.WriteRecordSet([]log.Record{{Value: []byte("x")}})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return leader.HW() == 5 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return follower.HW() == 5 }, time.Second, time.Millisecond)
	follower.Stop()
}

func TestFollowerReplicaBacksOffThenRecovers(t *testing.T) {
	cfg := Config{
		ID:                ID{Topic: "orders", Partition: 0},
		LeaderID:          1,
		Replicas:          []int32{1, 2},
		MinInSyncReplicas: 1,
	}
	leader, err := NewLeaderReplica(cfg, log.NewStore(log.Config{}), nil)
	require.NoError(t, err)
	_, err = leader.WriteRecordSet([]log.Record{{Value: []byte("a")}})
	require.NoError(t, err)

	client := &flakyClient{failsLeft: 3, delegate: &leaderBackedClient{leader: leader, followerID: 2}}
	follower := NewFollowerReplica(cfg, 2, log.NewStore(log.Config{}), client, nil)
	follower.backoffMin = time.Millisecond
	follower.backoffMax = 5 * time.Millisecond
	follower.maxWait = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go follower.Run(ctx)

	require.Eventually(t, func() bool { return follower.LEO() == 1 }, time.Second, time.Millisecond)
	follower.Stop()
}

func TestFollowerReplicaApplyBatchesTruncatesOnDivergence(t *testing.T) {
	cfg := Config{ID: ID{Topic: "t", Partition: 0}, LeaderID: 1, Replicas: []int32{1, 2}, MinInSyncReplicas: 1}
	store := log.NewStore(log.Config{})
	_, err := store.Append([]log.Record{{Value: []byte("stale")}})
	require.NoError(t, err)

	follower := NewFollowerReplica(cfg, 2, store, nil, nil)

	// Leader's authoritative batch at offset 0 differs from what we hold.
	err = follower.applyBatches([]log.Batch{{BaseOffset: 0, Records: []log.Record{{Value: []byte("authoritative")}}}})
	require.NoError(t, err)
	require.Equal(t, int64(1), store.LEO())

	got, err := store.Read(0)
	require.NoError(t, err)
	require.Equal(t, "authoritative", string(got.Records[0].Value))
}

func TestFollowerReplicaStopEndsRunPromptly(t *testing.T) {
	_, follower := newTestFollowerPair(t, 1)
	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- follower.Run(ctx) }()

	follower.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after Stop")
	}
}
