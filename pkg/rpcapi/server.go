// Copyright 2026 Fluxlog, Inc.

// Package rpcapi is the SPU's RPC surface: follower fetch, produce,
// consumer fetch, and managed-offset flush, served over gRPC with a JSON
// message codec, plus the matching clients.
package rpcapi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fluxlog/fluxlog/pkg/logger"
	"github.com/fluxlog/fluxlog/pkg/metrics"
	"github.com/fluxlog/fluxlog/pkg/producer"
	"github.com/fluxlog/fluxlog/pkg/replication"
	"github.com/fluxlog/fluxlog/pkg/storage/log"
)

// Server implements SPUServiceServer over the SPU's replica registry.
type Server struct {
	registry *replication.Registry
	logger   *logger.Logger

	offsetsMu sync.RWMutex
	offsets   map[string]int64 // consumer|topic|partition -> committed offset
}

// NewServer creates the RPC service over registry.
func NewServer(registry *replication.Registry) *Server {
	return &Server{
		registry: registry,
		logger:   logger.Default().WithComponent("rpc-api"),
		offsets:  make(map[string]int64),
	}
}

// FetchFollower services one follower pull request: record progress,
// long-poll for new data, return batches in offset order.
func (s *Server) FetchFollower(ctx context.Context, req *FetchFollowerRequest) (*FetchFollowerResponse, error) {
	id := replication.ID{Topic: req.Topic, Partition: req.Partition}
	leader, ok := s.registry.Leader(id)
	if !ok {
		return &FetchFollowerResponse{ErrorCode: codeNotLeader}, nil
	}

	resp, err := replication.ServeFollowerFetch(ctx, leader, replication.FollowerFetchRequest{
		ReplicaID:   id,
		FollowerID:  req.FollowerID,
		FetchOffset: req.FetchOffset,
		FollowerLEO: req.FollowerLEO,
		FollowerHW:  req.FollowerHW,
		MaxWaitTime: time.Duration(req.MaxWaitMs) * time.Millisecond,
	})
	if err != nil {
		if errors.Is(err, replication.ErrReplicaNotFound) {
			return &FetchFollowerResponse{ErrorCode: codeReplicaNotFound}, nil
		}
		return nil, err
	}

	metrics.RecordFollowerFetch(req.Topic, req.Partition)
	return &FetchFollowerResponse{
		LeaderLEO: resp.LeaderLEO,
		LeaderHW:  resp.LeaderHW,
		Batches:   toWireBatches(resp.Batches),
	}, nil
}

// Produce appends each partition's records on its local leader. Results
// are per partition; one failing partition never blocks the others. With
// read_committed isolation the response is held until each written batch
// is covered by the high watermark, bounded by the request timeout.
func (s *Server) Produce(ctx context.Context, req *ProduceRequest) (*ProduceResponse, error) {
	waitCommitted := req.Isolation == replication.ReadCommitted.String()
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond

	var resp ProduceResponse
	for _, topic := range req.Topics {
		for _, pp := range topic.Partitions {
			result := s.producePartition(topic.Name, pp)
			if waitCommitted && result.ErrorCode == "" {
				result = s.awaitCommitted(ctx, topic.Name, pp, result, timeout)
			}
			resp.Partitions = append(resp.Partitions, result)
		}
	}
	return &resp, nil
}

func (s *Server) awaitCommitted(ctx context.Context, topic string, pp producer.PartitionProduce, result ProducePartitionResponse, timeout time.Duration) ProducePartitionResponse {
	leader, ok := s.registry.Leader(replication.ID{Topic: topic, Partition: pp.Partition})
	if !ok {
		result.ErrorCode = codeNotLeader
		return result
	}
	if _, err := replication.WaitForHW(ctx, leader, leader.LEO(), timeout); err != nil {
		result.ErrorCode = codeTimedOut
	}
	return result
}

func (s *Server) producePartition(topic string, pp producer.PartitionProduce) ProducePartitionResponse {
	result := ProducePartitionResponse{Topic: topic, Partition: pp.Partition}

	opened, err := pp.Opened()
	if err != nil {
		s.logger.Warn("rejecting undecodable batch", "topic", topic, "partition", pp.Partition, "error", err)
		result.ErrorCode = codeBadRequest
		return result
	}

	leader, ok := s.registry.Leader(replication.ID{Topic: topic, Partition: pp.Partition})
	if !ok {
		result.ErrorCode = codeNotLeader
		return result
	}

	records := make([]log.Record, 0, len(opened.Records))
	now := time.Now().UnixMilli()
	for _, r := range opened.Records {
		records = append(records, log.Record{Key: r.Key, Value: r.Value, Timestamp: now})
	}

	batch, err := leader.WriteRecordSet(records)
	if err != nil {
		s.logger.Error("append failed", "topic", topic, "partition", pp.Partition, "error", err)
		result.ErrorCode = codeLogIO
		return result
	}
	result.BaseOffset = batch.BaseOffset
	return result
}

// Fetch services a consumer read with the requested isolation, long-polling
// until data is visible or the wait budget runs out.
func (s *Server) Fetch(ctx context.Context, req *FetchRequest) (*FetchResponse, error) {
	leader, ok := s.registry.Leader(replication.ID{Topic: req.Topic, Partition: req.Partition})
	if !ok {
		return &FetchResponse{ErrorCode: codeNotLeader}, nil
	}

	isolation := replication.ReadCommitted
	if req.Isolation == replication.ReadUncommitted.String() {
		isolation = replication.ReadUncommitted
	}

	batches, err := leader.ReadRecords(req.Offset, req.MaxBatches, isolation)
	if err != nil {
		return nil, err
	}

	if len(batches) == 0 && req.MaxWaitMs > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, time.Duration(req.MaxWaitMs)*time.Millisecond)
		watched := leader.HWPublisher()
		if isolation == replication.ReadUncommitted {
			watched = leader.LEOPublisher()
		}
		watched.WaitAtLeast(waitCtx, req.Offset+1)
		cancel()

		batches, err = leader.ReadRecords(req.Offset, req.MaxBatches, isolation)
		if err != nil {
			return nil, err
		}
	}

	return &FetchResponse{
		LEO:     leader.LEO(),
		HW:      leader.HW(),
		Batches: toWireBatches(batches),
	}, nil
}

// FlushOffset persists a consumer's committed offset. Stored offsets are
// monotonically non-decreasing; a stale flush is absorbed as a no-op ack.
func (s *Server) FlushOffset(ctx context.Context, req *FlushOffsetRequest) (*FlushOffsetResponse, error) {
	if req.ConsumerID == "" {
		return &FlushOffsetResponse{ErrorCode: codeBadRequest}, nil
	}

	key := offsetKey(req.ConsumerID, req.Topic, req.Partition)
	s.offsetsMu.Lock()
	if current, ok := s.offsets[key]; !ok || req.Offset > current {
		s.offsets[key] = req.Offset
	}
	s.offsetsMu.Unlock()

	return &FlushOffsetResponse{}, nil
}

// GetOffset reads back a stored committed offset.
func (s *Server) GetOffset(ctx context.Context, req *GetOffsetRequest) (*GetOffsetResponse, error) {
	s.offsetsMu.RLock()
	offset, ok := s.offsets[offsetKey(req.ConsumerID, req.Topic, req.Partition)]
	s.offsetsMu.RUnlock()

	if !ok {
		return &GetOffsetResponse{Found: false}, nil
	}
	return &GetOffsetResponse{Offset: offset, Found: true}, nil
}

func offsetKey(consumerID, topic string, partition int32) string {
	return fmt.Sprintf("%s|%s|%d", consumerID, topic, partition)
}
