// Copyright 2026 Fluxlog, Inc.

package replication

import (
	"context"
	"time"

	"github.com/fluxlog/fluxlog/pkg/storage/log"
)

// FollowerFetchRequest is what a FollowerReplica's pull loop sends the
// leader on every iteration: its own progress, and how long the leader may
// long-poll before responding empty.
type FollowerFetchRequest struct {
	ReplicaID   ID
	FollowerID  int32
	FetchOffset int64
	FollowerLEO int64
	FollowerHW  int64
	MaxWaitTime time.Duration
}

// FollowerFetchResponse is the leader's reply: its own LEO/HW, and any
// batches from FetchOffset up to LeaderLEO. Batches is empty when the
// long-poll timed out with nothing new to send.
type FollowerFetchResponse struct {
	LeaderLEO int64
	LeaderHW  int64
	Batches   []log.Batch
}

// FollowerFetchClient is the transport-level abstraction a FollowerReplica
// pulls through; pkg/rpcapi provides the gRPC-backed implementation, tests
// use an in-process fake wired directly to a LeaderReplica.
type FollowerFetchClient interface {
	FetchFollower(ctx context.Context, req FollowerFetchRequest) (FollowerFetchResponse, error)
}
