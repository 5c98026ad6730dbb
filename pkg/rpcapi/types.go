// Copyright 2026 Fluxlog, Inc.

package rpcapi

import (
	"context"

	"google.golang.org/grpc"

	"github.com/fluxlog/fluxlog/pkg/producer"
	"github.com/fluxlog/fluxlog/pkg/storage/log"
)

// Wire messages for the SPU service. Encoded by the JSON codec; []byte
// fields travel base64.

// WireRecord is one record inside a replicated or fetched batch.
type WireRecord struct {
	Key       []byte `json:"key,omitempty"`
	Value     []byte `json:"value"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// WireBatch mirrors log.Batch on the wire.
type WireBatch struct {
	BaseOffset int64        `json:"base_offset"`
	Records    []WireRecord `json:"records"`
}

func toWireBatches(batches []log.Batch) []WireBatch {
	out := make([]WireBatch, 0, len(batches))
	for _, b := range batches {
		records := make([]WireRecord, 0, len(b.Records))
		for _, r := range b.Records {
			records = append(records, WireRecord{Key: r.Key, Value: r.Value, Timestamp: r.Timestamp})
		}
		out = append(out, WireBatch{BaseOffset: b.BaseOffset, Records: records})
	}
	return out
}

func fromWireBatches(batches []WireBatch) []log.Batch {
	out := make([]log.Batch, 0, len(batches))
	for _, b := range batches {
		records := make([]log.Record, 0, len(b.Records))
		for _, r := range b.Records {
			records = append(records, log.Record{Key: r.Key, Value: r.Value, Timestamp: r.Timestamp})
		}
		out = append(out, log.Batch{BaseOffset: b.BaseOffset, Records: records})
	}
	return out
}

// FetchFollowerRequest is the follower pull request (C5 -> C4).
type FetchFollowerRequest struct {
	Topic       string `json:"topic"`
	Partition   int32  `json:"partition"`
	FollowerID  int32  `json:"follower_id"`
	FetchOffset int64  `json:"fetch_offset"`
	FollowerLEO int64  `json:"follower_leo"`
	FollowerHW  int64  `json:"follower_hw"`
	MaxWaitMs   int64  `json:"max_wait_ms"`
}

// FetchFollowerResponse carries the leader's progress and any batches from
// FetchOffset onward.
type FetchFollowerResponse struct {
	LeaderLEO int64       `json:"leader_leo"`
	LeaderHW  int64       `json:"leader_hw"`
	Batches   []WireBatch `json:"batches"`
	ErrorCode string      `json:"error_code,omitempty"`
}

// ProduceRequest is the producer's batch submission (C7 -> C4). The
// message-level shape is shared with pkg/producer; this wrapper only adds
// wire framing.
type ProduceRequest struct {
	Isolation string                  `json:"isolation,omitempty"`
	TimeoutMs int64                   `json:"timeout_ms"`
	Topics    []producer.TopicProduce `json:"topics"`
}

// ProducePartitionResponse is one partition's outcome.
type ProducePartitionResponse struct {
	Topic      string `json:"topic"`
	Partition  int32  `json:"partition"`
	BaseOffset int64  `json:"base_offset"`
	ErrorCode  string `json:"error_code,omitempty"`
}

// ProduceResponse carries one result per produced partition.
type ProduceResponse struct {
	Partitions []ProducePartitionResponse `json:"partitions"`
}

// FetchRequest is a consumer fetch against a leader replica.
type FetchRequest struct {
	Topic      string `json:"topic"`
	Partition  int32  `json:"partition"`
	Offset     int64  `json:"offset"`
	MaxBatches int    `json:"max_batches"`
	// Isolation is "read_committed" or "read_uncommitted".
	Isolation string `json:"isolation"`
	MaxWaitMs int64  `json:"max_wait_ms"`
}

// FetchResponse carries fetched batches plus the replica's progress.
type FetchResponse struct {
	LEO       int64       `json:"leo"`
	HW        int64       `json:"hw"`
	Batches   []WireBatch `json:"batches"`
	ErrorCode string      `json:"error_code,omitempty"`
}

// FlushOffsetRequest persists a consumer's committed offset on the
// cluster.
type FlushOffsetRequest struct {
	ConsumerID string `json:"consumer_id"`
	Topic      string `json:"topic"`
	Partition  int32  `json:"partition"`
	Offset     int64  `json:"offset"`
}

// FlushOffsetResponse acks (empty error code) or nacks a flush.
type FlushOffsetResponse struct {
	ErrorCode string `json:"error_code,omitempty"`
}

// GetOffsetRequest reads back a consumer's stored committed offset.
type GetOffsetRequest struct {
	ConsumerID string `json:"consumer_id"`
	Topic      string `json:"topic"`
	Partition  int32  `json:"partition"`
}

// GetOffsetResponse reports the stored offset; Found is false when the
// consumer never flushed this partition.
type GetOffsetResponse struct {
	Offset int64 `json:"offset"`
	Found  bool  `json:"found"`
}

// Error codes used in wire responses.
const (
	codeReplicaNotFound = "replica_not_found"
	codeNotLeader       = "not_leader"
	codeLogIO           = "log_io"
	codeBadRequest      = "bad_request"
	codeTimedOut        = "request_timed_out"
)

const serviceName = "fluxlog.spu.v1.SPUService"

// SPUServiceServer is the service contract registered on the gRPC server.
type SPUServiceServer interface {
	FetchFollower(ctx context.Context, req *FetchFollowerRequest) (*FetchFollowerResponse, error)
	Produce(ctx context.Context, req *ProduceRequest) (*ProduceResponse, error)
	Fetch(ctx context.Context, req *FetchRequest) (*FetchResponse, error)
	FlushOffset(ctx context.Context, req *FlushOffsetRequest) (*FlushOffsetResponse, error)
	GetOffset(ctx context.Context, req *GetOffsetRequest) (*GetOffsetResponse, error)
}

func unaryHandler[Req any, Resp any](method string, call func(SPUServiceServer, context.Context, *Req) (*Resp, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SPUServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(SPUServiceServer), ctx, req.(*Req))
		})
	}
}

// spuServiceDesc is the hand-rolled service descriptor; with plain-struct
// messages there is no generated code to provide it.
var spuServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SPUServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "FetchFollower",
			Handler: unaryHandler("FetchFollower", func(s SPUServiceServer, ctx context.Context, req *FetchFollowerRequest) (*FetchFollowerResponse, error) {
				return s.FetchFollower(ctx, req)
			}),
		},
		{
			MethodName: "Produce",
			Handler: unaryHandler("Produce", func(s SPUServiceServer, ctx context.Context, req *ProduceRequest) (*ProduceResponse, error) {
				return s.Produce(ctx, req)
			}),
		},
		{
			MethodName: "Fetch",
			Handler: unaryHandler("Fetch", func(s SPUServiceServer, ctx context.Context, req *FetchRequest) (*FetchResponse, error) {
				return s.Fetch(ctx, req)
			}),
		},
		{
			MethodName: "FlushOffset",
			Handler: unaryHandler("FlushOffset", func(s SPUServiceServer, ctx context.Context, req *FlushOffsetRequest) (*FlushOffsetResponse, error) {
				return s.FlushOffset(ctx, req)
			}),
		},
		{
			MethodName: "GetOffset",
			Handler: unaryHandler("GetOffset", func(s SPUServiceServer, ctx context.Context, req *GetOffsetRequest) (*GetOffsetResponse, error) {
				return s.GetOffset(ctx, req)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fluxlog/spu/v1/spu.json",
}
