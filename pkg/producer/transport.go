// Copyright 2026 Fluxlog, Inc.

package producer

import (
	"context"
	"time"

	"github.com/fluxlog/fluxlog/pkg/compression"
)

// Record is a single key/value message handed to Send.
type Record struct {
	Key   []byte
	Value []byte
}

// ProduceRequest is the message-level produce contract: one request per
// leader SPU, carrying every partition that leader owns among the batches
// being flushed. Isolation "read_committed" makes the leader hold the
// response until the written offsets are covered by the high watermark
// (bounded by Timeout); empty or "read_uncommitted" acks on append.
type ProduceRequest struct {
	Isolation string
	Timeout   time.Duration
	Topics    []TopicProduce
}

// TopicProduce groups the partitions of one topic within a request.
type TopicProduce struct {
	Name       string
	Partitions []PartitionProduce
}

// PartitionProduce is one partition's batch payload. Records are
// compressed as a unit when Compression != None; the leader stores what it
// receives and consumers decompress on fetch.
type PartitionProduce struct {
	Partition   int32
	Compression compression.Type
	Records     []Record

	// Payload is the compressed encoding of Records when Compression is
	// set; exactly one of Records/Payload is populated on the wire. See
	// Sealed/Opened.
	Payload []byte
}

// PartitionResult is the per-partition outcome in a produce response.
type PartitionResult struct {
	Topic      string
	Partition  int32
	BaseOffset int64
	ErrorCode  string
}

// Err maps a non-empty error code back to a Go error.
func (r PartitionResult) Err() error {
	if r.ErrorCode == "" {
		return nil
	}
	if r.ErrorCode == "leader_not_found" {
		return ErrLeaderNotFound
	}
	return &ServerError{Code: r.ErrorCode}
}

// ServerError is a produce rejection the broker reported by code.
type ServerError struct {
	Code string
}

func (e *ServerError) Error() string { return "producer: server error: " + e.Code }

// ProduceResponse carries one result per partition in the request.
type ProduceResponse struct {
	Partitions []PartitionResult
}

// SPUClient is a connection to one SPU. pkg/rpcapi provides the
// gRPC-backed implementation; tests use in-process fakes.
type SPUClient interface {
	Produce(ctx context.Context, req ProduceRequest) (ProduceResponse, error)
}

// ClusterClient resolves partition leadership and connects to SPUs. The
// leader lookup is consulted fresh on every flush, so leader migration
// converges without caller intervention.
type ClusterClient interface {
	LeaderFor(topic string, partition int32) (int32, error)
	ConnectSPU(spuID int32) (SPUClient, error)
}
