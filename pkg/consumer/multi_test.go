// Copyright 2026 Fluxlog, Inc.

package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiStreamRoundRobinMerge(t *testing.T) {
	server := newFlushRecorder()
	p0 := NewSinglePartitionStream("orders", 0, scripted("orders", 0, 0, 1), server.ch, manualCfg())
	p1 := NewSinglePartitionStream("orders", 1, scripted("orders", 1, 0, 1), server.ch, manualCfg())

	m := NewMultiPartitionStream(p0, p1)
	defer m.Close()

	// Let both pumps prefetch so the rotation is deterministic.
	time.Sleep(20 * time.Millisecond)

	partitions := make([]int32, 0, 4)
	for i := 0; i < 4; i++ {
		rec, err := m.Next(context.Background())
		require.NoError(t, err)
		partitions = append(partitions, rec.Partition)
	}

	assert.ElementsMatch(t, []int32{0, 0, 1, 1}, partitions)
	assert.NotEqual(t, partitions[0], partitions[1],
		"round-robin must alternate between ready partitions")
}

func TestMultiStreamPreservesPerPartitionOrder(t *testing.T) {
	server := newFlushRecorder()
	p0 := NewSinglePartitionStream("orders", 0, scripted("orders", 0, 0, 1, 2), server.ch, manualCfg())
	p1 := NewSinglePartitionStream("orders", 1, scripted("orders", 1, 0, 1, 2), server.ch, manualCfg())

	m := NewMultiPartitionStream(p0, p1)
	defer m.Close()

	next := map[int32]int64{0: 0, 1: 0}
	for i := 0; i < 6; i++ {
		rec, err := m.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, next[rec.Partition], rec.Offset, "offsets within a partition must stay ordered")
		next[rec.Partition]++
	}
}

func TestMultiStreamCommitAppliesToAll(t *testing.T) {
	server := newFlushRecorder()
	p0 := NewSinglePartitionStream("orders", 0, scripted("orders", 0, 0), server.ch, manualCfg())
	p1 := NewSinglePartitionStream("orders", 1, scripted("orders", 1, 0, 1), server.ch, manualCfg())

	m := NewMultiPartitionStream(p0, p1)
	defer m.Close()

	for i := 0; i < 3; i++ {
		_, err := m.Next(context.Background())
		require.NoError(t, err)
	}

	require.NoError(t, m.OffsetCommit())
	assert.Equal(t, int64(0), p0.Committed())
	assert.Equal(t, int64(1), p1.Committed())
}

func TestMultiStreamCommitShortCircuitsOnDisabled(t *testing.T) {
	server := newFlushRecorder()
	p0 := NewSinglePartitionStream("orders", 0, scripted("orders", 0), server.ch,
		Config{Strategy: OffsetNone})
	p1 := NewSinglePartitionStream("orders", 1, scripted("orders", 1), server.ch, manualCfg())

	m := NewMultiPartitionStream(p0, p1)
	defer m.Close()

	require.ErrorIs(t, m.OffsetCommit(), ErrOffsetManagementDisabled)
}

func TestMultiStreamFlushJoinsAllDespiteError(t *testing.T) {
	okServer := newFlushRecorder()
	nackServer := newFlushRecorder()
	nackServer.ackWith = &ServerError{Code: "spu_offline"}

	p0 := NewSinglePartitionStream("orders", 0, scripted("orders", 0, 0), nackServer.ch, manualCfg())
	p1 := NewSinglePartitionStream("orders", 1, scripted("orders", 1, 0), okServer.ch, manualCfg())

	m := NewMultiPartitionStream(p0, p1)
	defer m.Close()

	for i := 0; i < 2; i++ {
		_, err := m.Next(context.Background())
		require.NoError(t, err)
	}
	require.NoError(t, m.OffsetCommit())

	err := m.OffsetFlush(context.Background())
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)

	// The healthy partition's flush still ran to completion.
	assert.Equal(t, []int64{0}, okServer.seen())
}

// Scenario: two partitions under Auto with per-yield flushing. Yield
// offset 0 from p1 and offsets 0 then 1 from p2, then drop the
// multi-stream. p1's channel sees exactly one flush {0}; p2's channel sees
// exactly {0} then {1}, in commit-on-yield order.
func TestScenarioAutoFlushOnDropTwoPartitions(t *testing.T) {
	p1Server := newFlushRecorder()
	p2Server := newFlushRecorder()

	// FlushPeriod of 1ns makes the delivery path flush after every yield;
	// the background checker stays quiet.
	cfg := Config{
		Strategy:           OffsetAuto,
		FlushPeriod:        time.Nanosecond,
		FlusherCheckPeriod: time.Hour,
		FlushTimeout:       time.Second,
	}

	p1 := NewSinglePartitionStream("events", 1, scripted("events", 1, 0), p1Server.ch, cfg)
	p2 := NewSinglePartitionStream("events", 2, scripted("events", 2, 0, 1), p2Server.ch, cfg)

	m := NewMultiPartitionStream(p1, p2)

	yielded := map[int32][]int64{}
	for i := 0; i < 3; i++ {
		rec, err := m.Next(context.Background())
		require.NoError(t, err)
		yielded[rec.Partition] = append(yielded[rec.Partition], rec.Offset)
	}
	require.Equal(t, []int64{0}, yielded[1])
	require.Equal(t, []int64{0, 1}, yielded[2])

	m.Close()

	assert.Equal(t, []int64{0}, p1Server.seen(), "exactly one flush on p1")
	assert.Equal(t, []int64{0, 1}, p2Server.seen(), "p2 flushes in commit-on-yield order, no duplicate on drop")
}

// On drop, the server sees at least one flush whose offset equals the
// last-yielded offset.
func TestPropertyDropFlushesLastYielded(t *testing.T) {
	server := newFlushRecorder()
	s := NewSinglePartitionStream("events", 0, scripted("events", 0, 0, 1, 2, 3), server.ch, autoCfg())

	m := NewMultiPartitionStream(s)
	last := int64(-1)
	for i := 0; i < 4; i++ {
		rec, err := m.Next(context.Background())
		require.NoError(t, err)
		last = rec.Offset
	}
	m.Close()

	seen := server.seen()
	require.NotEmpty(t, seen)
	assert.Contains(t, seen, last)
}

func TestMultiStreamCloseIdempotent(t *testing.T) {
	server := newFlushRecorder()
	s := NewSinglePartitionStream("orders", 0, scripted("orders", 0, 0), server.ch, autoCfg())
	m := NewMultiPartitionStream(s)

	_, err := m.Next(context.Background())
	require.NoError(t, err)

	m.Close()
	m.Close()

	_, err = m.Next(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
