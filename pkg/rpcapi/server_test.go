// Copyright 2026 Fluxlog, Inc.

package rpcapi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxlog/fluxlog/pkg/compression"
	"github.com/fluxlog/fluxlog/pkg/producer"
	"github.com/fluxlog/fluxlog/pkg/replication"
	"github.com/fluxlog/fluxlog/pkg/storage/log"
)

func newLeaderServer(t *testing.T, topic string, minISR int) (*Server, *replication.LeaderReplica) {
	t.Helper()

	registry := replication.NewRegistry(1, nil)
	ctrl := replication.NewController(1, registry,
		replication.StoreProviderFunc(func(replication.ID) (*log.Store, error) {
			return log.NewStore(log.Config{}), nil
		}),
		replication.LeaderDialerFunc(func(int32, replication.ID) (replication.FollowerFetchClient, error) {
			return nil, nil
		}),
		nil)
	t.Cleanup(func() { ctrl.Close() })

	cfg := replication.Config{
		ID:                replication.ID{Topic: topic, Partition: 0},
		LeaderID:          1,
		Replicas:          []int32{1, 2},
		MinInSyncReplicas: minISR,
	}
	require.NoError(t, ctrl.Apply(context.Background(),
		replication.UpdateReplicaRequest{Epoch: 1, Replicas: []replication.Config{cfg}}))

	leader, ok := registry.Leader(cfg.ID)
	require.True(t, ok)
	return NewServer(registry), leader
}

func TestServerProduceAppendsToLeader(t *testing.T) {
	server, leader := newLeaderServer(t, "orders", 1)

	resp, err := server.Produce(context.Background(), &ProduceRequest{
		Topics: []producer.TopicProduce{{
			Name: "orders",
			Partitions: []producer.PartitionProduce{{
				Partition: 0,
				Records:   []producer.Record{{Value: []byte("a")}, {Value: []byte("b")}},
			}},
		}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Partitions, 1)
	assert.Empty(t, resp.Partitions[0].ErrorCode)
	assert.Equal(t, int64(0), resp.Partitions[0].BaseOffset)
	assert.Equal(t, int64(2), leader.LEO())
}

func TestServerProduceUnknownPartition(t *testing.T) {
	server, _ := newLeaderServer(t, "orders", 1)

	resp, err := server.Produce(context.Background(), &ProduceRequest{
		Topics: []producer.TopicProduce{{
			Name: "ghosts",
			Partitions: []producer.PartitionProduce{{
				Partition: 9,
				Records:   []producer.Record{{Value: []byte("a")}},
			}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, codeNotLeader, resp.Partitions[0].ErrorCode)
}

func TestServerProduceCompressedBatch(t *testing.T) {
	server, leader := newLeaderServer(t, "orders", 1)

	sealed, err := producer.PartitionProduce{
		Partition:   0,
		Compression: compression.LZ4,
		Records:     []producer.Record{{Key: []byte("k"), Value: []byte("compressed payload")}},
	}.Sealed()
	require.NoError(t, err)

	resp, err := server.Produce(context.Background(), &ProduceRequest{
		Topics: []producer.TopicProduce{{Name: "orders", Partitions: []producer.PartitionProduce{sealed}}},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Partitions[0].ErrorCode)

	batches, err := leader.ReadRecords(0, 0, replication.ReadCommitted)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "compressed payload", string(batches[0].Records[0].Value))
}

func TestServerFetchRespectsIsolation(t *testing.T) {
	server, leader := newLeaderServer(t, "orders", 2)

	_, err := leader.WriteRecordSet([]log.Record{{Value: []byte("a")}})
	require.NoError(t, err)

	// HW is 0: a committed read sees nothing, an uncommitted read sees the
	// batch.
	committed, err := server.Fetch(context.Background(), &FetchRequest{
		Topic: "orders", Partition: 0, Offset: 0, Isolation: "read_committed",
	})
	require.NoError(t, err)
	assert.Empty(t, committed.Batches)
	assert.Equal(t, int64(0), committed.HW)

	uncommitted, err := server.Fetch(context.Background(), &FetchRequest{
		Topic: "orders", Partition: 0, Offset: 0, Isolation: "read_uncommitted",
	})
	require.NoError(t, err)
	require.Len(t, uncommitted.Batches, 1)
	assert.Equal(t, int64(1), uncommitted.LEO)
}

func TestServerFetchLongPollWakesOnWrite(t *testing.T) {
	server, leader := newLeaderServer(t, "orders", 1)

	type result struct {
		resp *FetchResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := server.Fetch(context.Background(), &FetchRequest{
			Topic: "orders", Partition: 0, Offset: 0,
			Isolation: "read_committed", MaxWaitMs: 5000,
		})
		done <- result{resp, err}
	}()

	time.Sleep(50 * time.Millisecond)
	_, err := leader.WriteRecordSet([]log.Record{{Value: []byte("wake")}})
	require.NoError(t, err)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.Len(t, r.resp.Batches, 1, "long poll must wake on the write, not time out empty")
	case <-time.After(3 * time.Second):
		t.Fatal("long poll did not wake")
	}
}

func TestServerFollowerFetchUpdatesLeaderView(t *testing.T) {
	server, leader := newLeaderServer(t, "orders", 2)

	_, err := leader.WriteRecordSet([]log.Record{{Value: []byte("a")}, {Value: []byte("b")}})
	require.NoError(t, err)

	resp, err := server.FetchFollower(context.Background(), &FetchFollowerRequest{
		Topic: "orders", Partition: 0, FollowerID: 2,
		FetchOffset: 0, FollowerLEO: 0, FollowerHW: 0,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.ErrorCode)
	require.Len(t, resp.Batches, 1)
	assert.Equal(t, int64(2), resp.LeaderLEO)

	info := leader.FollowersInfo()
	assert.Equal(t, int64(0), info[2].LEO, "the follower's reported LEO must be recorded")
}

func TestServerFollowerFetchNotLeader(t *testing.T) {
	server, _ := newLeaderServer(t, "orders", 1)

	resp, err := server.FetchFollower(context.Background(), &FetchFollowerRequest{
		Topic: "elsewhere", Partition: 0, FollowerID: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, codeNotLeader, resp.ErrorCode)
}

func TestServerOffsetStoreRoundTrip(t *testing.T) {
	server, _ := newLeaderServer(t, "orders", 1)
	ctx := context.Background()

	missing, err := server.GetOffset(ctx, &GetOffsetRequest{ConsumerID: "c1", Topic: "orders", Partition: 0})
	require.NoError(t, err)
	assert.False(t, missing.Found)

	ack, err := server.FlushOffset(ctx, &FlushOffsetRequest{ConsumerID: "c1", Topic: "orders", Partition: 0, Offset: 7})
	require.NoError(t, err)
	assert.Empty(t, ack.ErrorCode)

	// A stale flush is absorbed; the stored offset never regresses.
	_, err = server.FlushOffset(ctx, &FlushOffsetRequest{ConsumerID: "c1", Topic: "orders", Partition: 0, Offset: 3})
	require.NoError(t, err)

	got, err := server.GetOffset(ctx, &GetOffsetRequest{ConsumerID: "c1", Topic: "orders", Partition: 0})
	require.NoError(t, err)
	require.True(t, got.Found)
	assert.Equal(t, int64(7), got.Offset)
}

func TestServerFlushOffsetRequiresConsumerID(t *testing.T) {
	server, _ := newLeaderServer(t, "orders", 1)

	ack, err := server.FlushOffset(context.Background(), &FlushOffsetRequest{Topic: "orders"})
	require.NoError(t, err)
	assert.Equal(t, codeBadRequest, ack.ErrorCode)
}

func TestServerProduceReadCommittedWaitsForQuorum(t *testing.T) {
	server, _ := newLeaderServer(t, "orders", 2)

	// With an unsatisfied quorum the HW never covers the write inside the
	// request timeout.
	resp, err := server.Produce(context.Background(), &ProduceRequest{
		Isolation: "read_committed",
		TimeoutMs: 50,
		Topics: []producer.TopicProduce{{
			Name: "orders",
			Partitions: []producer.PartitionProduce{{
				Partition: 0,
				Records:   []producer.Record{{Value: []byte("a")}},
			}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, codeTimedOut, resp.Partitions[0].ErrorCode)
}

func TestServerProduceReadCommittedAcksWhenQuorumSatisfied(t *testing.T) {
	server, _ := newLeaderServer(t, "orders", 1)

	resp, err := server.Produce(context.Background(), &ProduceRequest{
		Isolation: "read_committed",
		TimeoutMs: 1000,
		Topics: []producer.TopicProduce{{
			Name: "orders",
			Partitions: []producer.PartitionProduce{{
				Partition: 0,
				Records:   []producer.Record{{Value: []byte("a")}},
			}},
		}},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Partitions[0].ErrorCode, "a lone leader with min_in_sync=1 commits immediately")
}

func TestWireBatchConversionRoundTrip(t *testing.T) {
	in := []log.Batch{
		{BaseOffset: 0, Records: []log.Record{{Key: []byte("k"), Value: []byte("v"), Timestamp: 99}}},
		{BaseOffset: 1, Records: []log.Record{{Value: []byte("w")}}},
	}

	out := fromWireBatches(toWireBatches(in))
	require.Len(t, out, 2)
	assert.Equal(t, in[0].Records[0].Key, out[0].Records[0].Key)
	assert.Equal(t, int64(99), out[0].Records[0].Timestamp)
	assert.Equal(t, int64(1), out[1].BaseOffset)
}
