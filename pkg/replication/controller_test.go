// Copyright 2026 Fluxlog, Inc.

package replication

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fluxlog/fluxlog/pkg/storage/log"
)

// testCluster wires N in-process SPUs together: each has a registry and a
// controller, and followers dial leaders by looking the target SPU's
// registry up at call time. A fetch against an SPU that has not installed
// the leader yet fails like a refused connection, so out-of-sequence
// startup exercises the follower's reconnect backoff for real.
type testCluster struct {
	mu          sync.Mutex
	registries  map[int32]*Registry
	controllers map[int32]*Controller
}

func newTestCluster(t *testing.T, spuIDs ...int32) *testCluster {
	t.Helper()
	c := &testCluster{
		registries:  make(map[int32]*Registry),
		controllers: make(map[int32]*Controller),
	}

	for _, id := range spuIDs {
		registry := NewRegistry(id, nil)
		c.registries[id] = registry

		stores := StoreProviderFunc(func(ID) (*log.Store, error) {
			return log.NewStore(log.Config{}), nil
		})
		dialer := LeaderDialerFunc(func(leaderID int32, replica ID) (FollowerFetchClient, error) {
			return &clusterClient{cluster: c, leaderID: leaderID, followerID: id}, nil
		})
		c.controllers[id] = NewController(id, registry, stores, dialer, nil)
	}

	t.Cleanup(func() {
		for _, ctrl := range c.controllers {
			ctrl.Close()
		}
	})
	return c
}

func (c *testCluster) leader(spu int32, id ID) (*LeaderReplica, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.registries[spu]
	if !ok {
		return nil, false
	}
	return r.Leader(id)
}

// clusterClient resolves the leader on every call, so leader migration and
// late leader startup converge without redialing.
type clusterClient struct {
	cluster    *testCluster
	leaderID   int32
	followerID int32
}

func (c *clusterClient) FetchFollower(ctx context.Context, req FollowerFetchRequest) (FollowerFetchResponse, error) {
	leader, ok := c.cluster.leader(c.leaderID, req.ReplicaID)
	if !ok {
		return FollowerFetchResponse{}, fmt.Errorf("spu %d does not lead %s: %w", c.leaderID, req.ReplicaID, ErrReplicaNotFound)
	}
	return ServeFollowerFetch(ctx, leader, req)
}

func replicaCfg(topic string, partition int32, leaderID int32, replicas []int32, minISR int) Config {
	return Config{
		ID:                ID{Topic: topic, Partition: partition},
		LeaderID:          leaderID,
		Replicas:          replicas,
		MinInSyncReplicas: minISR,
	}
}

func TestControllerCreatesLeaderAndFollower(t *testing.T) {
	c := newTestCluster(t, 1, 2)
	ctx := context.Background()
	cfg := replicaCfg("orders", 0, 1, []int32{1, 2}, 2)

	require.NoError(t, c.controllers[1].Apply(ctx, UpdateReplicaRequest{Epoch: 1, Replicas: []Config{cfg}}))
	require.NoError(t, c.controllers[2].Apply(ctx, UpdateReplicaRequest{Epoch: 1, Replicas: []Config{cfg}}))

	_, isLeader := c.registries[1].Leader(cfg.ID)
	require.True(t, isLeader)
	_, isFollower := c.registries[2].Follower(cfg.ID)
	require.True(t, isFollower)
}

func TestControllerRemovesUnassignedReplica(t *testing.T) {
	c := newTestCluster(t, 1)
	ctx := context.Background()
	cfg := replicaCfg("orders", 0, 1, []int32{1}, 1)

	require.NoError(t, c.controllers[1].Apply(ctx, UpdateReplicaRequest{Epoch: 1, Replicas: []Config{cfg}}))
	_, ok := c.registries[1].Leader(cfg.ID)
	require.True(t, ok)

	require.NoError(t, c.controllers[1].Apply(ctx, UpdateReplicaRequest{Epoch: 2, Replicas: nil}))
	_, ok = c.registries[1].Leader(cfg.ID)
	require.False(t, ok)
	require.Empty(t, c.registries[1].IDs())
}

func TestControllerIgnoresStaleEpoch(t *testing.T) {
	c := newTestCluster(t, 1)
	ctx := context.Background()
	cfg := replicaCfg("orders", 0, 1, []int32{1}, 1)

	require.NoError(t, c.controllers[1].Apply(ctx, UpdateReplicaRequest{Epoch: 5, Replicas: []Config{cfg}}))
	require.NoError(t, c.controllers[1].Apply(ctx, UpdateReplicaRequest{Epoch: 3, Replicas: nil}))

	_, ok := c.registries[1].Leader(cfg.ID)
	require.True(t, ok, "stale epoch must not remove the replica")
}

func TestControllerPromotionHandsOverLog(t *testing.T) {
	c := newTestCluster(t, 1, 2)
	ctx := context.Background()
	cfg := replicaCfg("orders", 0, 1, []int32{1, 2}, 2)

	require.NoError(t, c.controllers[1].Apply(ctx, UpdateReplicaRequest{Epoch: 1, Replicas: []Config{cfg}}))
	require.NoError(t, c.controllers[2].Apply(ctx, UpdateReplicaRequest{Epoch: 1, Replicas: []Config{cfg}}))

	leader, ok := c.registries[1].Leader(cfg.ID)
	require.True(t, ok)
	_, err := leader.WriteRecordSet([]log.Record{{Value: []byte("a")}, {Value: []byte("b")}})
	require.NoError(t, err)

	follower, ok := c.registries[2].Follower(cfg.ID)
	require.True(t, ok)
	require.Eventually(t, func() bool { return follower.LEO() == 2 }, 5*time.Second, time.Millisecond)

	followerStore := follower.log

	// Control plane swaps leadership: SPU 2 leads, SPU 1 follows.
	swapped := replicaCfg("orders", 0, 2, []int32{1, 2}, 2)
	require.NoError(t, c.controllers[2].Apply(ctx, UpdateReplicaRequest{Epoch: 2, Replicas: []Config{swapped}}))
	require.NoError(t, c.controllers[1].Apply(ctx, UpdateReplicaRequest{Epoch: 2, Replicas: []Config{swapped}}))

	_, stillFollower := c.registries[2].Follower(cfg.ID)
	require.False(t, stillFollower, "follower state must be gone after promotion")

	promoted, ok := c.registries[2].Leader(cfg.ID)
	require.True(t, ok, "leader state must exist after promotion")
	require.Same(t, followerStore, promoted.Log(), "promotion must hand over the log without reopening")
	require.Equal(t, int64(2), promoted.LEO())

	_, nowFollower := c.registries[1].Follower(cfg.ID)
	require.True(t, nowFollower, "ex-leader must be demoted to follower")
}

func TestControllerSerializesSameReplicaUpdates(t *testing.T) {
	c := newTestCluster(t, 1, 2)
	ctx := context.Background()

	// Hammer the same replica with alternating roles; the per-entry lock
	// must keep every intermediate state internally consistent.
	for epoch := uint64(1); epoch <= 20; epoch++ {
		leaderID := int32(1)
		if epoch%2 == 0 {
			leaderID = 2
		}
		cfg := replicaCfg("orders", 0, leaderID, []int32{1, 2}, 2)
		require.NoError(t, c.controllers[1].Apply(ctx, UpdateReplicaRequest{Epoch: epoch, Replicas: []Config{cfg}}))
	}

	// Final epoch was even: SPU 1 follows.
	_, isFollower := c.registries[1].Follower(ID{Topic: "orders", Partition: 0})
	require.True(t, isFollower)
}

func TestAssignReplicasRoundRobin(t *testing.T) {
	configs, err := AssignReplicas("orders", 3, []int32{1, 2, 3}, 3, 2)
	require.NoError(t, err)
	require.NoError(t, ValidateAssignment(configs, "orders", 3))

	require.Equal(t, int32(1), configs[0].LeaderID)
	require.Equal(t, int32(2), configs[1].LeaderID)
	require.Equal(t, int32(3), configs[2].LeaderID)
	require.Equal(t, []int32{2, 3, 1}, configs[1].Replicas)
}

func TestAssignReplicasRejectsOversizedFactor(t *testing.T) {
	_, err := AssignReplicas("orders", 1, []int32{1}, 2, 1)
	require.Error(t, err)
}
