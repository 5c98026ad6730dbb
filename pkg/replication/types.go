// Copyright 2026 Fluxlog, Inc.

// Package replication implements the per-partition replication engine: the
// leader and follower replica state machines, the in-sync-replica quorum
// that drives the high watermark, and the controller that reconciles both
// against control-plane desired state.
package replication

import (
	"fmt"
	"time"
)

// ID identifies a single partition hosted as either a leader or a follower
// on one SPU. It is totally ordered by (Topic, Partition).
type ID struct {
	Topic     string
	Partition int32
}

func (r ID) String() string {
	return fmt.Sprintf("%s-%d", r.Topic, r.Partition)
}

// Less gives ID a total ordering, used by the admin API to list replicas in
// a stable order.
func (r ID) Less(other ID) bool {
	if r.Topic != other.Topic {
		return r.Topic < other.Topic
	}
	return r.Partition < other.Partition
}

// UnknownLEO is the sentinel meaning "this follower has not yet contacted
// the leader". It is deliberately a valid signed-integer value (rather than
// an Option/pointer) because HW computation already excludes any follower
// whose LEO is unknown via the in-sync-replica set; see FollowerState.
const UnknownLEO int64 = -1

// Config describes the replica's placement: who leads, who follows, and the
// quorum size required before the high watermark may advance. The tuning
// fields fall back to the package defaults when zero.
type Config struct {
	ID                ID
	LeaderID          int32
	Replicas          []int32 // ordered list of peer SPU ids, leader included
	MinInSyncReplicas int

	// Leader-side ISR thresholds.
	MaxLagOffsets int64
	MaxLagTime    time.Duration

	// Follower-side pull loop tuning.
	ReconnectBackoffMin    time.Duration
	ReconnectBackoffMax    time.Duration
	ReconnectBackoffFactor float64
	MaxIdlePullInterval    time.Duration
}

// Validate checks the structural invariants Config must hold before it can
// back a LeaderReplica or FollowerReplica: the leader must be a declared
// replica, and the quorum size must be satisfiable by the replica set.
func (c Config) Validate() error {
	if c.MinInSyncReplicas < 1 {
		return fmt.Errorf("replication: min_in_sync_replicas must be >= 1, got %d", c.MinInSyncReplicas)
	}
	found := false
	for _, id := range c.Replicas {
		if id == c.LeaderID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("replication: leader %d is not a member of replicas %v", c.LeaderID, c.Replicas)
	}
	if c.MinInSyncReplicas > len(c.Replicas) {
		return fmt.Errorf("replication: min_in_sync_replicas %d exceeds replica count %d", c.MinInSyncReplicas, len(c.Replicas))
	}
	return nil
}

// FollowerIDs returns Replicas minus LeaderID, in the order they were
// declared.
func (c Config) FollowerIDs() []int32 {
	out := make([]int32, 0, len(c.Replicas)-1)
	for _, id := range c.Replicas {
		if id != c.LeaderID {
			out = append(out, id)
		}
	}
	return out
}

// Isolation selects how far a reader may see into the log.
type Isolation int

const (
	// ReadCommitted exposes offsets up to the high watermark only.
	ReadCommitted Isolation = iota
	// ReadUncommitted exposes offsets up to the log end offset, including
	// batches not yet acknowledged by the ISR quorum.
	ReadUncommitted
)

func (i Isolation) String() string {
	if i == ReadUncommitted {
		return "read_uncommitted"
	}
	return "read_committed"
}

// LRS (leader replica status) is the snapshot the leader queues for the
// (out-of-scope) control plane whenever the high watermark advances.
type LRS struct {
	ID        ID
	LEO       int64
	HW        int64
	Followers map[int32]FollowerSnapshot
}

// FollowerSnapshot is the leader's view of one follower at a point in time.
type FollowerSnapshot struct {
	LEO            int64
	HW             int64
	InSync         bool
	LastContactAge time.Duration
}

// Replication timing/backoff constants (spec.md §4.2, §4.4).
const (
	// DefaultMaxLagOffsets bounds how far behind LEO a follower may be and
	// still count toward the ISR.
	DefaultMaxLagOffsets int64 = 4 * 1024 * 1024

	// DefaultMaxLagTime bounds how long since last contact a follower may
	// go and still count toward the ISR.
	DefaultMaxLagTime = 10 * time.Second

	// DefaultReconnectBackoffMin/Max/Factor parameterize the follower's
	// pull-loop dial backoff.
	DefaultReconnectBackoffMin    = 100 * time.Millisecond
	DefaultReconnectBackoffMax    = 10 * time.Second
	DefaultReconnectBackoffFactor = 2.0

	// DefaultMaxIdlePullInterval bounds how long the follower blocks on the
	// leader's long-poll notifier before refreshing liveness.
	DefaultMaxIdlePullInterval = 30 * time.Second

	// CleanupFrequency is how many register_offset_publisher calls elapse
	// between opportunistic compactions of stale weak references.
	CleanupFrequency = 10
)
