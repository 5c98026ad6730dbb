// Copyright 2026 Fluxlog, Inc.

package rpcapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/fluxlog/fluxlog/pkg/consumer"
	"github.com/fluxlog/fluxlog/pkg/producer"
	"github.com/fluxlog/fluxlog/pkg/replication"
)

// Client is a connection to one SPU's RPC surface. It satisfies both
// replication.FollowerFetchClient (the follower pull path) and
// producer.SPUClient (the produce path).
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to an SPU at addr. The connection is lazy; transport
// errors surface on the first call, which is what the follower pull loop's
// backoff expects.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(jsonCodec{}),
			grpc.MaxCallRecvMsgSize(64*1024*1024),
			grpc.MaxCallSendMsgSize(64*1024*1024),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("rpcapi: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	return c.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, resp)
}

// FetchFollower implements replication.FollowerFetchClient.
func (c *Client) FetchFollower(ctx context.Context, req replication.FollowerFetchRequest) (replication.FollowerFetchResponse, error) {
	wireReq := &FetchFollowerRequest{
		Topic:       req.ReplicaID.Topic,
		Partition:   req.ReplicaID.Partition,
		FollowerID:  req.FollowerID,
		FetchOffset: req.FetchOffset,
		FollowerLEO: req.FollowerLEO,
		FollowerHW:  req.FollowerHW,
		MaxWaitMs:   req.MaxWaitTime.Milliseconds(),
	}

	var wireResp FetchFollowerResponse
	if err := c.invoke(ctx, "FetchFollower", wireReq, &wireResp); err != nil {
		return replication.FollowerFetchResponse{}, err
	}
	if wireResp.ErrorCode != "" {
		return replication.FollowerFetchResponse{}, fmt.Errorf("rpcapi: follower fetch rejected: %s", wireResp.ErrorCode)
	}

	return replication.FollowerFetchResponse{
		LeaderLEO: wireResp.LeaderLEO,
		LeaderHW:  wireResp.LeaderHW,
		Batches:   fromWireBatches(wireResp.Batches),
	}, nil
}

// Produce implements producer.SPUClient.
func (c *Client) Produce(ctx context.Context, req producer.ProduceRequest) (producer.ProduceResponse, error) {
	wireReq := &ProduceRequest{
		Isolation: req.Isolation,
		TimeoutMs: req.Timeout.Milliseconds(),
		Topics:    req.Topics,
	}

	var wireResp ProduceResponse
	if err := c.invoke(ctx, "Produce", wireReq, &wireResp); err != nil {
		return producer.ProduceResponse{}, err
	}

	out := producer.ProduceResponse{}
	for _, p := range wireResp.Partitions {
		out.Partitions = append(out.Partitions, producer.PartitionResult{
			Topic:      p.Topic,
			Partition:  p.Partition,
			BaseOffset: p.BaseOffset,
			ErrorCode:  p.ErrorCode,
		})
	}
	return out, nil
}

// Fetch performs one consumer fetch.
func (c *Client) Fetch(ctx context.Context, req *FetchRequest) (*FetchResponse, error) {
	var resp FetchResponse
	if err := c.invoke(ctx, "Fetch", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FlushOffset persists a committed offset on the SPU.
func (c *Client) FlushOffset(ctx context.Context, req *FlushOffsetRequest) error {
	var resp FlushOffsetResponse
	if err := c.invoke(ctx, "FlushOffset", req, &resp); err != nil {
		return err
	}
	if resp.ErrorCode != "" {
		return &consumer.ServerError{Code: resp.ErrorCode}
	}
	return nil
}

// GetOffset reads back a stored committed offset.
func (c *Client) GetOffset(ctx context.Context, req *GetOffsetRequest) (*GetOffsetResponse, error) {
	var resp GetOffsetResponse
	if err := c.invoke(ctx, "GetOffset", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pool caches one client per SPU, keyed by the peer map from config. It is
// the producer's ClusterClient and the controller's LeaderDialer for
// multi-SPU deployments.
type Pool struct {
	peers   map[int32]string
	leaders LeaderLookup

	mu      sync.Mutex
	clients map[int32]*Client
}

// LeaderLookup resolves the current leader SPU for a partition. The SPU
// process backs it with its replica configs; a richer deployment would ask
// the control plane.
type LeaderLookup func(topic string, partition int32) (int32, error)

// NewPool builds a pool over a static peer address map.
func NewPool(peers map[int32]string, leaders LeaderLookup) *Pool {
	return &Pool{
		peers:   peers,
		leaders: leaders,
		clients: make(map[int32]*Client),
	}
}

// LeaderFor implements producer.ClusterClient.
func (p *Pool) LeaderFor(topic string, partition int32) (int32, error) {
	return p.leaders(topic, partition)
}

// ConnectSPU implements producer.ClusterClient.
func (p *Pool) ConnectSPU(spuID int32) (producer.SPUClient, error) {
	return p.client(spuID)
}

// DialLeader implements replication.LeaderDialer.
func (p *Pool) DialLeader(leaderID int32, _ replication.ID) (replication.FollowerFetchClient, error) {
	return p.client(leaderID)
}

func (p *Pool) client(spuID int32) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[spuID]; ok {
		return c, nil
	}
	addr, ok := p.peers[spuID]
	if !ok {
		return nil, fmt.Errorf("rpcapi: unknown spu %d", spuID)
	}
	c, err := Dial(addr)
	if err != nil {
		return nil, err
	}
	p.clients[spuID] = c
	return c, nil
}

// Close closes every cached client.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for id, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.clients, id)
	}
	return firstErr
}

// PartitionStream adapts the Fetch RPC into a consumer.RecordStream: a
// long-polled, offset-tracking record source for one partition.
type PartitionStream struct {
	client    *Client
	topic     string
	partition int32
	isolation string
	maxWait   time.Duration

	next   int64
	buffer []consumer.Record
}

// NewPartitionStream starts reading topic/partition at startOffset with
// the given isolation ("read_committed" by default).
func NewPartitionStream(client *Client, topic string, partition int32, startOffset int64, isolation string) *PartitionStream {
	if isolation == "" {
		isolation = replication.ReadCommitted.String()
	}
	return &PartitionStream{
		client:    client,
		topic:     topic,
		partition: partition,
		isolation: isolation,
		maxWait:   5 * time.Second,
		next:      startOffset,
	}
}

// Next implements consumer.RecordStream.
func (s *PartitionStream) Next(ctx context.Context) (consumer.Record, error) {
	for {
		if len(s.buffer) > 0 {
			rec := s.buffer[0]
			s.buffer = s.buffer[1:]
			s.next = rec.Offset + 1
			return rec, nil
		}

		if err := ctx.Err(); err != nil {
			return consumer.Record{}, err
		}

		resp, err := s.client.Fetch(ctx, &FetchRequest{
			Topic:     s.topic,
			Partition: s.partition,
			Offset:    s.next,
			Isolation: s.isolation,
			MaxWaitMs: s.maxWait.Milliseconds(),
		})
		if err != nil {
			return consumer.Record{}, err
		}
		if resp.ErrorCode != "" {
			return consumer.Record{}, fmt.Errorf("rpcapi: fetch rejected: %s", resp.ErrorCode)
		}

		for _, b := range resp.Batches {
			for i, r := range b.Records {
				s.buffer = append(s.buffer, consumer.Record{
					Topic:     s.topic,
					Partition: s.partition,
					Offset:    b.BaseOffset + int64(i),
					Key:       r.Key,
					Value:     r.Value,
				})
			}
		}
	}
}

// RunFlushForwarder bridges a consumer stream's flush channel to the
// cluster: each FlushRequest becomes one FlushOffset RPC and the server's
// verdict is delivered on the request's Result channel. Runs until ctx is
// done or ch closes.
func RunFlushForwarder(ctx context.Context, client *Client, consumerID string, ch <-chan consumer.FlushRequest) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-ch:
			if !ok {
				return
			}
			err := client.FlushOffset(ctx, &FlushOffsetRequest{
				ConsumerID: consumerID,
				Topic:      req.Topic,
				Partition:  req.Partition,
				Offset:     req.Offset,
			})
			req.Result <- err
		}
	}
}
